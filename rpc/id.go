package rpc

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
)

// ID is a JSON-RPC 2.0 request id, either a number or a string. IDs are comparable
// and can key correlation maps.
type ID struct {
	num   uint64
	str   string
	isStr bool
}

func NumberID(n uint64) ID {
	return ID{num: n}
}

func StringID(s string) ID {
	return ID{str: s, isStr: true}
}

func (id ID) IsString() bool {
	return id.isStr
}

func (id ID) Number() uint64 {
	return id.num
}

func (id ID) String() string {
	if id.isStr {
		return id.str
	}
	return strconv.FormatUint(id.num, 10)
}

func (id ID) MarshalJSON() ([]byte, error) {
	if id.isStr {
		return json.Marshal(id.str)
	}
	return []byte(strconv.FormatUint(id.num, 10)), nil
}

func (id *ID) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if len(data) == 0 {
		return errors.New("empty id")
	}

	if data[0] == '"' {
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return fmt.Errorf("invalid string id: %w", err)
		}
		*id = StringID(s)
		return nil
	}

	n, err := strconv.ParseUint(string(data), 10, 64)
	if err != nil {
		return fmt.Errorf("invalid numeric id %s: %w", data, err)
	}
	*id = NumberID(n)
	return nil
}
