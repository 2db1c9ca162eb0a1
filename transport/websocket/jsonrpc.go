package websocket

import (
	"encoding/json"

	"rpc-gateway/rpc"
)

const jsonrpcVersion = "2.0"

// Request JSON-RPC 2.0. ID ausente indica notificação (one-way).
type Request struct {
	JSONRPC string          `json:"jsonrpc"`
	Method  string          `json:"method"`
	Params  json.RawMessage `json:"params,omitempty"`
	ID      json.RawMessage `json:"id,omitempty"`
}

func (r Request) isNotification() bool {
	return len(r.ID) == 0 || string(r.ID) == "null"
}

// Response JSON-RPC 2.0.
type Response struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      json.RawMessage `json:"id"`
	Result  any             `json:"result,omitempty"`
	Error   *ErrorObject    `json:"error,omitempty"`
}

type ErrorObject struct {
	Code    int        `json:"code"`
	Message string     `json:"message"`
	Data    *ErrorData `json:"data,omitempty"`
}

// ErrorData carrega o código estável da Rejection e seus detalhes (ex.: Retry-After).
type ErrorData struct {
	Code    rpc.Code       `json:"code"`
	Details map[string]any `json:"details,omitempty"`
}

// Códigos JSON-RPC. Os negativos -32000..-32099 são de servidor.
const (
	CodeParseError       = -32700
	CodeInvalidRequest   = -32600
	CodeInternalError    = -32603
	CodePermissionDenied = -32003
	CodeTooManyRequests  = -32029
)

var nullID = json.RawMessage("null")

func jsonrpcCode(c rpc.Code) int {
	switch c {
	case rpc.CodePermissionDenied:
		return CodePermissionDenied
	case rpc.CodeTooManyRequests:
		return CodeTooManyRequests
	case rpc.CodeInvalidRequest:
		return CodeInvalidRequest
	default:
		return CodeInternalError
	}
}

// errorObject traduz err; o que não for Rejection vira o erro interno genérico.
func errorObject(err error) *ErrorObject {
	rej, ok := rpc.AsRejection(err)
	if !ok {
		rej = rpc.Internal()
	}
	return &ErrorObject{
		Code:    jsonrpcCode(rej.Code()),
		Message: rej.Message(),
		Data:    &ErrorData{Code: rej.Code(), Details: rej.Details()},
	}
}

func resultResponse(id json.RawMessage, result any) Response {
	return Response{JSONRPC: jsonrpcVersion, ID: id, Result: result}
}

func errorResponse(id json.RawMessage, err error) Response {
	if len(id) == 0 {
		id = nullID
	}
	return Response{JSONRPC: jsonrpcVersion, ID: id, Error: errorObject(err)}
}

// decodeParams aceita params posicionais (array) ou ausentes.
func decodeParams(raw json.RawMessage) ([]any, error) {
	if len(raw) == 0 || string(raw) == "null" {
		return nil, nil
	}
	var args []any
	if err := json.Unmarshal(raw, &args); err != nil {
		return nil, rpc.InvalidRequest("params must be a positional array")
	}
	return args, nil
}
