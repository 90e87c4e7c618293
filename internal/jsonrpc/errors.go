package jsonrpc

// ErrorCode is a JSON-RPC 2.0 error code.
type ErrorCode int

const (
	// ErrorCodeParseError indicates invalid JSON was received by the server.
	ErrorCodeParseError ErrorCode = -32700
	// ErrorCodeInvalidRequest indicates the JSON sent is not a valid Request object.
	ErrorCodeInvalidRequest ErrorCode = -32600
	// ErrorCodeMethodNotFound indicates the method does not exist / is not available.
	// Unknown tool names are reported with the same code.
	ErrorCodeMethodNotFound ErrorCode = -32601
	// ErrorCodeInvalidParams indicates invalid method parameters, including
	// tool arguments that fail schema validation and missing prompt arguments.
	ErrorCodeInvalidParams ErrorCode = -32602
	// ErrorCodeInternalError indicates an internal JSON-RPC error.
	ErrorCodeInternalError ErrorCode = -32603
)

// Application error codes (implementation-defined server error range).
const (
	ErrorCodeInvalidOwner        ErrorCode = -32001
	ErrorCodeSessionNotFound     ErrorCode = -32002
	ErrorCodeResourceNotFound    ErrorCode = -32003
	ErrorCodeResourceUnavailable ErrorCode = -32004
	ErrorCodePromptNotFound      ErrorCode = -32005
	ErrorCodeSessionInvalid      ErrorCode = -32006
	ErrorCodeBackendUnavailable  ErrorCode = -32010
)

// Error implements the error interface so handlers can return *Error directly.
func (e *Error) Error() string { return e.Message }
