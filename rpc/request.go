package rpc

import (
	"encoding/json"
	"fmt"

	"github.com/ethereum/go-ethereum/common/hexutil"
)

const (
	Version = "2.0"

	// MethodSubmitRequest carries a hex-encoded ceremony payload to a peer signer.
	MethodSubmitRequest = "bitacross_submitRequest"

	// MethodHealth is answered by every signer node with an Ok status.
	MethodHealth = "system_health"

	MethodSystemName    = "system_name"
	MethodSystemVersion = "system_version"
	// MethodRPCMethods lists the registered methods as "methods: [a, b]".
	MethodRPCMethods = "rpc_methods"

	// MethodGetScheduledEnclave returns the scheduled enclaves as a SCALE
	// Vec<(u64, [u8; 32])> ordered by block number.
	MethodGetScheduledEnclave = "state_getScheduledEnclave"
)

// Request is a JSON-RPC 2.0 request envelope, sent as one websocket text frame.
type Request struct {
	JSONRPC string   `json:"jsonrpc"`
	Method  string   `json:"method"`
	Params  []string `json:"params"`
	ID      ID       `json:"id"`
}

func NewRequest(id ID, method string, params ...string) *Request {
	if params == nil {
		params = []string{}
	}
	return &Request{
		JSONRPC: Version,
		Method:  method,
		Params:  params,
		ID:      id,
	}
}

// NewSubmitRequest wraps an opaque ceremony payload into a bitacross_submitRequest call.
func NewSubmitRequest(id ID, payload []byte) *Request {
	return NewRequest(id, MethodSubmitRequest, hexutil.Encode(payload))
}

// PayloadParam decodes the hex payload of a single-parameter request.
func (r *Request) PayloadParam() ([]byte, error) {
	if len(r.Params) != 1 {
		return nil, fmt.Errorf("%w: expected 1 param, got %d", ErrInvalidParams, len(r.Params))
	}
	payload, err := decodeHex(r.Params[0])
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidParams, err)
	}
	return payload, nil
}

func (r *Request) Marshal() ([]byte, error) {
	return json.Marshal(r)
}

// DecodeRequestFrame parses a text frame into a request envelope.
func DecodeRequestFrame(frame []byte) (*Request, error) {
	var req Request
	if err := json.Unmarshal(frame, &req); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedFrame, err)
	}
	if req.JSONRPC != Version {
		return nil, fmt.Errorf("%w: unsupported jsonrpc version %q", ErrMalformedFrame, req.JSONRPC)
	}
	if req.Method == "" {
		return nil, fmt.Errorf("%w: missing method", ErrMalformedFrame)
	}
	return &req, nil
}
