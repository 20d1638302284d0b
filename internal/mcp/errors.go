// Package mcp exposes vibemcp operations as Model Context Protocol
// tools over stdio or streamable HTTP transports.
package mcp

import (
	"fmt"

	viberrors "github.com/vibemcp/vibemcp/internal/errors"
)

// Tool error codes. Standard JSON-RPC codes plus a custom range for
// conditions the protocol has no code for.
const (
	ErrCodeAuthDenied = -32001
	ErrCodeNotFound   = -32002
	ErrCodeConflict   = -32003

	ErrCodeInvalidParams = -32602
	ErrCodeInternalError = -32603
)

// ToolError is the structured error record returned across the protocol
// boundary. Kind is the stable machine-readable classification; Message
// is human-readable.
type ToolError struct {
	Code    int    `json:"code"`
	Kind    string `json:"kind"`
	Message string `json:"message"`
}

// Error implements the error interface.
func (e *ToolError) Error() string {
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

// MapError converts internal errors to structured tool errors. Internal
// details never cross the boundary: unclassified errors surface as a
// generic internal error.
func MapError(err error) *ToolError {
	if err == nil {
		return nil
	}

	kind := viberrors.KindOf(err)
	switch kind {
	case viberrors.KindInputInvalid:
		return &ToolError{Code: ErrCodeInvalidParams, Kind: string(kind), Message: err.Error()}
	case viberrors.KindAuthDenied:
		return &ToolError{Code: ErrCodeAuthDenied, Kind: string(kind), Message: err.Error()}
	case viberrors.KindNotFound:
		return &ToolError{Code: ErrCodeNotFound, Kind: string(kind), Message: err.Error()}
	case viberrors.KindConflict:
		return &ToolError{Code: ErrCodeConflict, Kind: string(kind), Message: err.Error()}
	default:
		return &ToolError{
			Code:    ErrCodeInternalError,
			Kind:    string(viberrors.KindInternal),
			Message: "internal server error",
		}
	}
}

// NewInvalidParamsError creates an invalid-parameters tool error with a
// custom message.
func NewInvalidParamsError(msg string) *ToolError {
	return &ToolError{
		Code:    ErrCodeInvalidParams,
		Kind:    string(viberrors.KindInputInvalid),
		Message: msg,
	}
}
