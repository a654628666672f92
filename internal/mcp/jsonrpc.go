package mcp

import (
	"encoding/json"
	"fmt"
)

const jsonrpcVersion = "2.0"

// Standard JSON-RPC error codes.
const (
	CodeParseError     = -32700
	CodeInvalidRequest = -32600
	CodeMethodNotFound = -32601
	CodeInvalidParams  = -32602
	CodeInternalError  = -32603
)

// Request is a JSON-RPC 2.0 request.
type Request struct {
	JSONRPC string `json:"jsonrpc"`
	ID      int64  `json:"id"`
	Method  string `json:"method"`
	Params  any    `json:"params,omitempty"`
}

// NewRequest builds a request with the given id.
func NewRequest(id int64, method string, params any) *Request {
	return &Request{JSONRPC: jsonrpcVersion, ID: id, Method: method, Params: params}
}

// Response is a JSON-RPC 2.0 response. Exactly one of Result or Error
// is set in a well-formed response.
type Response struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      int64           `json:"id"`
	Result  json.RawMessage `json:"result,omitempty"`
	Error   *RPCError       `json:"error,omitempty"`
}

// decodeResult unmarshals the result payload of resp into a T.
func decodeResult[T any](resp *Response) (T, error) {
	var out T
	if len(resp.Result) == 0 {
		return out, nil
	}
	if err := json.Unmarshal(resp.Result, &out); err != nil {
		return out, fmt.Errorf("decode result: %w", err)
	}
	return out, nil
}

// RPCError is a JSON-RPC 2.0 error object.
type RPCError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
	Data    any    `json:"data,omitempty"`
}

func (e *RPCError) Error() string {
	return fmt.Sprintf("jsonrpc error %d: %s", e.Code, e.Message)
}

// Notification is a JSON-RPC 2.0 notification (no id, no response).
type Notification struct {
	JSONRPC string `json:"jsonrpc"`
	Method  string `json:"method"`
	Params  any    `json:"params,omitempty"`
}

// NewNotification builds a notification.
func NewNotification(method string, params any) *Notification {
	return &Notification{JSONRPC: jsonrpcVersion, Method: method, Params: params}
}
