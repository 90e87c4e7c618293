package engine

import (
	"errors"

	"github.com/climber-engine/mcp-server-go/backend"
	"github.com/climber-engine/mcp-server-go/internal/jsonrpc"
	"github.com/climber-engine/mcp-server-go/internal/sessioncore"
	"github.com/climber-engine/mcp-server-go/mcpservice"
	"github.com/climber-engine/mcp-server-go/sessions"
)

var (
	// ErrInvalidParams marks request parameters that could not be decoded
	// or are missing a required field.
	ErrInvalidParams = errors.New("invalid params")
	// ErrUnknownMethod is returned for a method or dispatch kind the engine
	// does not serve.
	ErrUnknownMethod = errors.New("method not found")
)

// Class groups errors by who is at fault, for transports that need a coarse
// status such as HTTP.
type Class int

const (
	ClassFailure Class = iota
	ClassNotFound
	ClassBadRequest
)

func (c Class) String() string {
	switch c {
	case ClassNotFound:
		return "not_found"
	case ClassBadRequest:
		return "bad_request"
	default:
		return "failure"
	}
}

// Classify maps err onto its Class. Unrecognized errors are failures.
func Classify(err error) Class {
	var rpcErr *jsonrpc.Error
	if errors.As(err, &rpcErr) {
		return classifyCode(rpcErr.Code)
	}
	switch {
	case err == nil:
		return ClassFailure
	case errors.Is(err, mcpservice.ErrResourceUnavailable),
		errors.Is(err, backend.ErrBackendUnavailable),
		errors.Is(err, sessions.ErrSessionInvalid),
		errors.Is(err, sessioncore.ErrInvalidOwner):
		return ClassFailure
	case errors.Is(err, sessions.ErrSessionNotFound),
		errors.Is(err, mcpservice.ErrToolNotFound),
		errors.Is(err, mcpservice.ErrResourceNotFound),
		errors.Is(err, mcpservice.ErrPromptNotFound),
		errors.Is(err, ErrUnknownMethod):
		return ClassNotFound
	case errors.Is(err, mcpservice.ErrInvalidArguments),
		errors.Is(err, mcpservice.ErrMissingArgument),
		errors.Is(err, backend.ErrUnknownProvider),
		errors.Is(err, ErrInvalidParams):
		return ClassBadRequest
	default:
		return ClassFailure
	}
}

// ToRPCError converts err into a JSON-RPC error object. Errors outside the
// known taxonomy are reported as internal errors without their text.
func ToRPCError(err error) *jsonrpc.Error {
	var rpcErr *jsonrpc.Error
	if errors.As(err, &rpcErr) {
		return rpcErr
	}
	code, ok := rpcCode(err)
	if !ok {
		return &jsonrpc.Error{Code: jsonrpc.ErrorCodeInternalError, Message: "internal error"}
	}
	out := &jsonrpc.Error{Code: code, Message: err.Error()}

	var argErr *mcpservice.ArgumentError
	var missing *mcpservice.MissingArgumentError
	switch {
	case errors.As(err, &argErr):
		out.Data = map[string]string{"field": argErr.Field, "reason": argErr.Reason}
	case errors.As(err, &missing):
		out.Data = map[string]string{"argument": missing.Argument}
	}
	return out
}

func rpcCode(err error) (jsonrpc.ErrorCode, bool) {
	switch {
	case err == nil:
		return 0, false
	// Wrapping errors first: their causes may carry other sentinels.
	case errors.Is(err, mcpservice.ErrResourceUnavailable):
		return jsonrpc.ErrorCodeResourceUnavailable, true
	case errors.Is(err, backend.ErrBackendUnavailable):
		return jsonrpc.ErrorCodeBackendUnavailable, true
	case errors.Is(err, sessioncore.ErrInvalidOwner):
		return jsonrpc.ErrorCodeInvalidOwner, true
	case errors.Is(err, sessions.ErrSessionNotFound):
		return jsonrpc.ErrorCodeSessionNotFound, true
	case errors.Is(err, sessions.ErrSessionInvalid):
		return jsonrpc.ErrorCodeSessionInvalid, true
	case errors.Is(err, mcpservice.ErrResourceNotFound):
		return jsonrpc.ErrorCodeResourceNotFound, true
	case errors.Is(err, mcpservice.ErrPromptNotFound):
		return jsonrpc.ErrorCodePromptNotFound, true
	case errors.Is(err, mcpservice.ErrToolNotFound), errors.Is(err, ErrUnknownMethod):
		return jsonrpc.ErrorCodeMethodNotFound, true
	case errors.Is(err, mcpservice.ErrInvalidArguments),
		errors.Is(err, mcpservice.ErrMissingArgument),
		errors.Is(err, backend.ErrUnknownProvider),
		errors.Is(err, ErrInvalidParams):
		return jsonrpc.ErrorCodeInvalidParams, true
	default:
		return 0, false
	}
}

func classifyCode(code jsonrpc.ErrorCode) Class {
	switch code {
	case jsonrpc.ErrorCodeMethodNotFound,
		jsonrpc.ErrorCodeSessionNotFound,
		jsonrpc.ErrorCodeResourceNotFound,
		jsonrpc.ErrorCodePromptNotFound:
		return ClassNotFound
	case jsonrpc.ErrorCodeInvalidParams,
		jsonrpc.ErrorCodeInvalidRequest,
		jsonrpc.ErrorCodeParseError:
		return ClassBadRequest
	default:
		return ClassFailure
	}
}
