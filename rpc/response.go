package rpc

import (
	"encoding/json"
	"fmt"
)

// Envelope is the JSON-RPC 2.0 response envelope exchanged between signer nodes.
type Envelope struct {
	JSONRPC string       `json:"jsonrpc"`
	Result  string       `json:"result,omitempty"`
	Error   *ErrorObject `json:"error,omitempty"`
	ID      ID           `json:"id"`
}

// Standard JSON-RPC 2.0 error codes.
const (
	CodeParseError     = -32700
	CodeInvalidRequest = -32600
	CodeMethodNotFound = -32601
	CodeInvalidParams  = -32602
	CodeInternalError  = -32603
)

type ErrorObject struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

// Response is what a connection delivers to its response sink: the correlation id of
// the request and the decoded return value.
type Response struct {
	ID    ID
	Value ReturnValue
}

// EncodeResponseFrame produces the text frame a peer sends back for request id.
func EncodeResponseFrame(id ID, rv ReturnValue) ([]byte, error) {
	return json.Marshal(Envelope{
		JSONRPC: Version,
		Result:  rv.Hex(),
		ID:      id,
	})
}

// EncodeErrorFrame produces a JSON-RPC error response, used for frames that could not
// be dispatched at all.
func EncodeErrorFrame(id ID, code int, msg string) ([]byte, error) {
	return json.Marshal(Envelope{
		JSONRPC: Version,
		Error:   &ErrorObject{Code: code, Message: msg},
		ID:      id,
	})
}

// DecodeResponseFrame parses a response text frame and decodes its hex result.
func DecodeResponseFrame(frame []byte) (Response, error) {
	var env Envelope
	if err := json.Unmarshal(frame, &env); err != nil {
		return Response{}, fmt.Errorf("%w: %v", ErrMalformedFrame, err)
	}

	if env.Error != nil {
		return Response{ID: env.ID}, fmt.Errorf("%w: %d %s", ErrRemote, env.Error.Code, env.Error.Message)
	}

	rv, err := ReturnValueFromHex(env.Result)
	if err != nil {
		return Response{ID: env.ID}, err
	}

	return Response{ID: env.ID, Value: rv}, nil
}
