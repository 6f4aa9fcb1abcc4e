// Package rpcapi defines the wire message types shared by every service
// hosted by rpchost, plus the codec used to move them over a real
// grpc.Server/grpc.ClientConn without protobuf code generation.
package rpcapi

import "fmt"

// ResultCode is the closed outcome enumeration every RPC response carries in
// its embedded Result. Values at or above ErrorCustom are reserved for
// caller-defined codes; the framework never returns one of those itself.
type ResultCode int32

const (
	OK ResultCode = iota
	ErrorGeneric
	ErrorRPC
	ErrorParamMissing
	ErrorParamInvalid
	ErrorItemUnknown
	ErrorItemConflict
	ErrorModelInvalid
	ErrorStateUnexpected
	ErrorStreamShutdown
	ErrorStreamInterrupted
	ErrorAPIClientTooOld
	ErrorAPIServerTooOld
	ErrorPortBusy
	ErrorProxyUnregistered
	// ErrorCustom marks the start of the caller-defined code range.
	ErrorCustom ResultCode = 100
)

var codeNames = map[ResultCode]string{
	OK:                     "OK",
	ErrorGeneric:           "ERROR",
	ErrorRPC:               "ERROR_RPC",
	ErrorParamMissing:      "ERROR_PARAM_MISSING",
	ErrorParamInvalid:      "ERROR_PARAM_INVALID",
	ErrorItemUnknown:       "ERROR_ITEM_UNKNOWN",
	ErrorItemConflict:      "ERROR_ITEM_CONFLICT",
	ErrorModelInvalid:      "ERROR_MODEL_INVALID",
	ErrorStateUnexpected:   "ERROR_STATE_UNEXPECTED",
	ErrorStreamShutdown:    "ERROR_STREAM_SHUTDOWN",
	ErrorStreamInterrupted: "ERROR_STREAM_INTERRUPTED",
	ErrorAPIClientTooOld:   "ERROR_API_CLIENT_TOO_OLD",
	ErrorAPIServerTooOld:   "ERROR_API_SERVER_TOO_OLD",
	ErrorPortBusy:          "ERROR_PORT_BUSY",
	ErrorProxyUnregistered: "ERROR_PROXY_UNREGISTERED",
}

func (c ResultCode) String() string {
	if n, ok := codeNames[c]; ok {
		return n
	}
	if c >= ErrorCustom {
		return fmt.Sprintf("ERROR_CUSTOM(%d)", int32(c))
	}
	return fmt.Sprintf("UNKNOWN(%d)", int32(c))
}

// Result is embedded in every response message returned by a service hosted
// by rpchost. A zero-value Result is OK with no message, matching the
// convention that a missing Result on a decoded message means success. Stack
// carries the originating error's stack trace, if one was captured; it is
// empty on OK results and on errors that never went through rpcerr.
type Result struct {
	Code    ResultCode `json:"code"`
	Message string     `json:"message,omitempty"`
	Stack   string     `json:"stack,omitempty"`
}

// IsOK reports whether r represents a successful call outcome.
func (r Result) IsOK() bool {
	return r.Code == OK
}

func OKResult() Result {
	return Result{Code: OK}
}

func ErrResult(code ResultCode, msg string) Result {
	return Result{Code: code, Message: msg}
}

// ErrResultWithStack is ErrResult plus a captured stack trace, used by
// rpcerr when converting an *Error that captured one at creation time.
func ErrResultWithStack(code ResultCode, msg, stack string) Result {
	return Result{Code: code, Message: msg, Stack: stack}
}
