package remote

import (
	"errors"
	"fmt"
)

var (
	// ErrUnknownMethod is returned when a method is not in the descriptor table.
	ErrUnknownMethod = errors.New("unknown method")
	// ErrTransport matches every *TransportError.
	ErrTransport = errors.New("transport failure")
	// ErrRemoteFault matches every *RemoteFault.
	ErrRemoteFault = errors.New("remote fault")
	// ErrSessionExpired is returned when a snapshot belongs to a session that is gone.
	ErrSessionExpired = errors.New("session expired")
	// ErrCancelled is returned when the caller gave up.
	ErrCancelled = errors.New("cancelled")
	ErrEncode    = errors.New("argument encoding failed")
	ErrDecode    = errors.New("result decoding failed")
)

// FaultCode classifies a server-side fault.
type FaultCode string

const (
	FaultInvalidArgument    FaultCode = "InvalidArgument"
	FaultObjectNotFound     FaultCode = "ObjectNotFound"
	FaultNotImplemented     FaultCode = "NotImplemented"
	FaultNotSupported       FaultCode = "NotSupported"
	FaultIPRTError          FaultCode = "IPRTError"
	FaultInvalidSession     FaultCode = "InvalidSession"
	FaultInvalidObjectState FaultCode = "InvalidObjectState"
	FaultAccessDenied       FaultCode = "AccessDenied"
	FaultInternal           FaultCode = "Internal"
)

// RemoteFault is an error reported by the server. It is never cached.
type RemoteFault struct {
	Code    FaultCode `json:"code"`
	Message string    `json:"message"`
}

// Faultf builds a RemoteFault with a formatted message.
func Faultf(code FaultCode, format string, args ...any) *RemoteFault {
	return &RemoteFault{Code: code, Message: fmt.Sprintf(format, args...)}
}

func (f *RemoteFault) Error() string {
	if f.Code == "" {
		return f.Message
	}
	return fmt.Sprintf("%s (%s)", f.Message, f.Code)
}

func (f *RemoteFault) Is(target error) bool {
	return target == ErrRemoteFault
}

// IsFault reports whether err carries a RemoteFault with the given code.
func IsFault(err error, code FaultCode) bool {
	var fault *RemoteFault
	return errors.As(err, &fault) && fault.Code == code
}

// TransportError wraps an I/O failure of a single call.
type TransportError struct {
	Op  string
	Err error
}

func (e *TransportError) Error() string {
	return fmt.Sprintf("transport %s: %v", e.Op, e.Err)
}

func (e *TransportError) Unwrap() error { return e.Err }

func (e *TransportError) Is(target error) bool {
	return target == ErrTransport
}

type cancelledError struct {
	cause error
}

// Cancelled wraps a context error so it matches both ErrCancelled and the cause.
func Cancelled(cause error) error {
	if cause == nil {
		return ErrCancelled
	}
	return &cancelledError{cause: cause}
}

func (e *cancelledError) Error() string {
	return fmt.Sprintf("%v: %v", ErrCancelled, e.cause)
}

func (e *cancelledError) Unwrap() []error {
	return []error{ErrCancelled, e.cause}
}
