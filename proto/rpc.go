package proto

import "encoding/json"

const JSONRPCVersion = "2.0"

// Request is a JSON-RPC 2.0 call. Params is sent as null when nil.
type Request struct {
	JSONRPC string `json:"jsonrpc"`
	Method  string `json:"method"`
	Params  any    `json:"params"`
	ID      int64  `json:"id"`
}

func NewRequest(id int64, method string, params any) Request {
	return Request{JSONRPC: JSONRPCVersion, Method: method, Params: params, ID: id}
}

// Response is a JSON-RPC 2.0 answer. When Error is set the Result is ignored.
type Response struct {
	JSONRPC string          `json:"jsonrpc"`
	Result  json.RawMessage `json:"result"`
	Error   *RPCError       `json:"error"`
	ID      *int64          `json:"id"`
}

type RPCError struct {
	Code    int             `json:"code"`
	Message string          `json:"message"`
	Data    json.RawMessage `json:"data,omitempty"`
}
