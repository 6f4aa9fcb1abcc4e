// Package rpcerr is rpchost's structured error type: it carries the closed
// Result code enumeration through normal Go error handling and converts to
// and from gRPC status errors so the dispatch pipeline and the retrying
// client can round-trip codes across the wire.
package rpcerr

import (
	"errors"
	"fmt"
	"runtime/debug"

	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"rpchost/pkg/rpcapi"
)

// Error is rpchost's error type: a rpcapi.ResultCode plus a human-readable
// message, an optional wrapped cause, and the stack trace captured at the
// point the Error was created.
type Error struct {
	Code    rpcapi.ResultCode
	Message string
	Cause   error
	Stack   string
}

func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("[%s] %s: %v", e.Code, e.Message, e.Cause)
	}
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

func (e *Error) Unwrap() error {
	return e.Cause
}

// GRPCStatus lets status.FromError recognize *Error directly.
func (e *Error) GRPCStatus() *status.Status {
	st := status.New(grpcCode(e.Code), e.Message)
	return st
}

// New creates an *Error with the given code and message.
func New(code rpcapi.ResultCode, message string) *Error {
	return &Error{Code: code, Message: message, Stack: captureStack()}
}

// Newf creates an *Error with a formatted message.
func Newf(code rpcapi.ResultCode, format string, args ...any) *Error {
	return &Error{Code: code, Message: fmt.Sprintf(format, args...), Stack: captureStack()}
}

// Wrap creates an *Error that wraps cause, attaching a code and message.
func Wrap(cause error, code rpcapi.ResultCode, message string) *Error {
	return &Error{Code: code, Message: message, Cause: cause, Stack: captureStack()}
}

func captureStack() string {
	return string(debug.Stack())
}

// Code extracts the ResultCode from err. Non-*Error values map to
// ErrorGeneric, matching the convention that any unclassified failure is a
// generic error rather than a protocol violation.
func Code(err error) rpcapi.ResultCode {
	var e *Error
	if errors.As(err, &e) {
		return e.Code
	}
	if err == nil {
		return rpcapi.OK
	}
	return rpcapi.ErrorGeneric
}

// Is reports whether err is an *Error carrying the given code.
func Is(err error, code rpcapi.ResultCode) bool {
	var e *Error
	if errors.As(err, &e) {
		return e.Code == code
	}
	return false
}

// Result turns err into a rpcapi.Result suitable for embedding in a response
// message. A nil err produces OKResult().
func Result(err error) rpcapi.Result {
	if err == nil {
		return rpcapi.OKResult()
	}
	var e *Error
	if errors.As(err, &e) {
		return rpcapi.ErrResultWithStack(e.Code, e.Message, e.Stack)
	}
	return rpcapi.ErrResult(rpcapi.ErrorGeneric, err.Error())
}

// FromResult turns a non-OK rpcapi.Result back into an error, or nil if the
// result is OK.
func FromResult(r rpcapi.Result) error {
	if r.IsOK() {
		return nil
	}
	return &Error{Code: r.Code, Message: r.Message, Stack: r.Stack}
}

// grpcCode maps a ResultCode onto the closest standard gRPC status code, for
// transports or middleware (otel, recovery interceptors, health checks) that
// only understand codes.Code.
func grpcCode(code rpcapi.ResultCode) codes.Code {
	switch code {
	case rpcapi.OK:
		return codes.OK
	case rpcapi.ErrorParamMissing, rpcapi.ErrorParamInvalid, rpcapi.ErrorModelInvalid:
		return codes.InvalidArgument
	case rpcapi.ErrorItemUnknown:
		return codes.NotFound
	case rpcapi.ErrorItemConflict:
		return codes.AlreadyExists
	case rpcapi.ErrorStateUnexpected:
		return codes.FailedPrecondition
	case rpcapi.ErrorStreamShutdown:
		return codes.Unavailable
	case rpcapi.ErrorAPIClientTooOld, rpcapi.ErrorAPIServerTooOld:
		return codes.Unimplemented
	case rpcapi.ErrorPortBusy:
		return codes.ResourceExhausted
	case rpcapi.ErrorProxyUnregistered:
		return codes.Unavailable
	case rpcapi.ErrorRPC:
		return codes.Unavailable
	default:
		return codes.Unknown
	}
}

// ToGRPC converts err into a gRPC error. When err is (or wraps) an *Error,
// its ResultCode is mapped onto the closest gRPC code by grpcCode; several
// ResultCodes share one gRPC code, so the exact ResultCode is not kept.
func ToGRPC(err error) error {
	if err == nil {
		return nil
	}
	var e *Error
	if errors.As(err, &e) {
		return e.GRPCStatus().Err()
	}
	if _, ok := status.FromError(err); ok {
		return err
	}
	return status.Error(codes.Unknown, err.Error())
}

// FromGRPC converts a gRPC error back into an *Error, best-effort mapping the
// status code back onto a ResultCode (codes.Unavailable -> ErrorRPC for
// transport-level failures). The retrying client does not use it: it wraps
// every failed call as ErrorRPC itself.
func FromGRPC(err error) *Error {
	if err == nil {
		return nil
	}
	st, ok := status.FromError(err)
	if !ok {
		return New(rpcapi.ErrorGeneric, err.Error())
	}
	var code rpcapi.ResultCode
	switch st.Code() {
	case codes.Unavailable:
		code = rpcapi.ErrorRPC
	case codes.InvalidArgument:
		code = rpcapi.ErrorParamInvalid
	case codes.NotFound:
		code = rpcapi.ErrorItemUnknown
	case codes.AlreadyExists:
		code = rpcapi.ErrorItemConflict
	case codes.FailedPrecondition:
		code = rpcapi.ErrorStateUnexpected
	case codes.Unimplemented:
		code = rpcapi.ErrorAPIServerTooOld
	default:
		code = rpcapi.ErrorGeneric
	}
	return New(code, st.Message())
}
