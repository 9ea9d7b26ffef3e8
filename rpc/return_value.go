package rpc

import (
	"errors"
	"fmt"
	"strings"

	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ruteri/tee-signer-fabric/scale"
)

var (
	ErrMalformedFrame     = errors.New("malformed json-rpc frame")
	ErrInvalidReturnValue = errors.New("invalid rpc return value")
	ErrInvalidParams      = errors.New("invalid params")
	ErrRemote             = errors.New("remote returned json-rpc error")
)

// ReturnValue is the application-level result carried hex-encoded in the result field
// of every response envelope.
type ReturnValue struct {
	Value   []byte
	DoWatch bool
	Status  DirectRequestStatus
}

func OkValue(value []byte) ReturnValue {
	return ReturnValue{Value: value, Status: DirectRequestStatus{Kind: StatusOk}}
}

func ErrorValue(msg string) ReturnValue {
	return ReturnValue{Value: []byte(msg), Status: DirectRequestStatus{Kind: StatusError}}
}

func (rv ReturnValue) IsError() bool {
	return rv.Status.Kind == StatusError
}

// Encode returns the SCALE encoding: Vec<u8> value, bool do_watch, status enum.
func (rv ReturnValue) Encode() []byte {
	enc := scale.NewEncoder()
	enc.WriteBytes(rv.Value)
	enc.WriteBool(rv.DoWatch)
	rv.Status.encode(enc)
	return enc.Bytes()
}

// Hex returns the 0x-prefixed hex form used in the result field.
func (rv ReturnValue) Hex() string {
	return hexutil.Encode(rv.Encode())
}

func DecodeReturnValue(data []byte) (ReturnValue, error) {
	dec := scale.NewDecoder(data)

	value, err := dec.ReadBytes()
	if err != nil {
		return ReturnValue{}, fmt.Errorf("%w: value: %v", ErrInvalidReturnValue, err)
	}

	doWatch, err := dec.ReadBool()
	if err != nil {
		return ReturnValue{}, fmt.Errorf("%w: do_watch: %v", ErrInvalidReturnValue, err)
	}

	status, err := decodeDirectRequestStatus(dec)
	if err != nil {
		if errors.Is(err, ErrInvalidReturnValue) {
			return ReturnValue{}, err
		}
		return ReturnValue{}, fmt.Errorf("%w: status: %v", ErrInvalidReturnValue, err)
	}

	if err := dec.Finish(); err != nil {
		return ReturnValue{}, fmt.Errorf("%w: %v", ErrInvalidReturnValue, err)
	}

	// an empty value decodes as nil, matching OkValue(nil)
	if len(value) == 0 {
		value = nil
	}
	return ReturnValue{Value: value, DoWatch: doWatch, Status: status}, nil
}

// ReturnValueFromHex decodes a result field. The 0x prefix is optional.
func ReturnValueFromHex(s string) (ReturnValue, error) {
	raw, err := decodeHex(s)
	if err != nil {
		return ReturnValue{}, fmt.Errorf("%w: %v", ErrInvalidReturnValue, err)
	}
	return DecodeReturnValue(raw)
}

func decodeHex(s string) ([]byte, error) {
	if !strings.HasPrefix(s, "0x") && !strings.HasPrefix(s, "0X") {
		s = "0x" + s
	}
	return hexutil.Decode(s)
}
