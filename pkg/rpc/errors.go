package rpc

import (
	"fmt"
)

// JSON-RPC 2.0 standard error codes.
const (
	// ParseError indicates invalid JSON was received.
	ParseError = -32700

	// InvalidRequest indicates the JSON sent is not a valid Request object.
	InvalidRequest = -32600

	// MethodNotFound indicates the method does not exist.
	MethodNotFound = -32601

	// InvalidParams indicates invalid method parameters.
	InvalidParams = -32602

	// InternalError indicates an internal JSON-RPC error.
	InternalError = -32603
)

// Server error codes.
const (
	// ProgramNotFound indicates no program matches the id or name.
	ProgramNotFound = -32001

	// ArrayNotFound indicates a named array does not exist.
	ArrayNotFound = -32002

	// ProgramRejected indicates the verifier rejected a program.
	ProgramRejected = -32003

	// KernelFault indicates a lane faulted during a launch.
	KernelFault = -32004

	// LaunchCanceled indicates the launch stopped before all groups ran.
	LaunchCanceled = -32005

	// NodeUnhealthy indicates the server is unhealthy.
	NodeUnhealthy = -32006
)

// Common error messages.
var (
	ErrParseError     = NewRPCError(ParseError, "Parse error")
	ErrInvalidRequest = NewRPCError(InvalidRequest, "Invalid Request")
	ErrMethodNotFound = NewRPCError(MethodNotFound, "Method not found")
	ErrInvalidParams  = NewRPCError(InvalidParams, "Invalid params")
	ErrInternalError  = NewRPCError(InternalError, "Internal error")
	ErrNodeUnhealthy  = NewRPCError(NodeUnhealthy, "Node is unhealthy")
)

// NewRPCError creates a new RPC error.
func NewRPCError(code int, message string) *RPCError {
	return &RPCError{
		Code:    code,
		Message: message,
	}
}

// NewRPCErrorWithData creates a new RPC error with additional data.
func NewRPCErrorWithData(code int, message string, data interface{}) *RPCError {
	return &RPCError{
		Code:    code,
		Message: message,
		Data:    data,
	}
}

// Error implements the error interface.
func (e *RPCError) Error() string {
	if e.Data != nil {
		return fmt.Sprintf("RPC error %d: %s (data: %v)", e.Code, e.Message, e.Data)
	}
	return fmt.Sprintf("RPC error %d: %s", e.Code, e.Message)
}

// InvalidParamsError creates an invalid params error with a custom message.
func InvalidParamsError(msg string) *RPCError {
	return NewRPCError(InvalidParams, msg)
}

// InvalidParamsErrorf creates an invalid params error with a formatted message.
func InvalidParamsErrorf(format string, args ...interface{}) *RPCError {
	return NewRPCError(InvalidParams, fmt.Sprintf(format, args...))
}

// InternalServerErrorf creates an internal server error with a formatted message.
func InternalServerErrorf(format string, args ...interface{}) *RPCError {
	return NewRPCError(InternalError, fmt.Sprintf(format, args...))
}

// ProgramNotFoundError creates an error for an unknown program reference.
func ProgramNotFoundError(ref string) *RPCError {
	return NewRPCErrorWithData(ProgramNotFound,
		fmt.Sprintf("Program not found: %s", ref),
		map[string]string{"program": ref})
}

// ArrayNotFoundError creates an error for an unknown array name.
func ArrayNotFoundError(name string) *RPCError {
	return NewRPCErrorWithData(ArrayNotFound,
		fmt.Sprintf("Array not found: %s", name),
		map[string]string{"array": name})
}

// ProgramRejectedError creates an error for a program the verifier refused.
func ProgramRejectedError(err error) *RPCError {
	return NewRPCError(ProgramRejected, fmt.Sprintf("Program rejected: %v", err))
}
