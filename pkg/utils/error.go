package utils

import (
	"errors"
	"fmt"

	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

var (
	ErrBadRequest          = errors.New("Bad request")
	ErrNotFound            = errors.New("Not found")
	ErrAlreadyExists       = errors.New("Already exists")
	ErrParse               = errors.New("Parse error")
	ErrUnavailable         = errors.New("Unavailable")
	ErrTerminated          = errors.New("Terminated")
	ErrResourceUnavailable = errors.New("Resource unavailable")
	ErrIncompatible        = errors.New("Incompatible")
	ErrInternal            = errors.New("Internal error")
)

type DetailedError interface {
	error
	Details() string
}

// Error is a classified error carrying the failing operation.
// errors.Is matches both the sentinel and the cause.
type Error struct {
	Sentinel error
	Op       string
	Message  string
	Cause    error
}

func (e *Error) Error() string {
	msg := e.Message
	if msg == "" {
		msg = e.Sentinel.Error()
	}
	if e.Op != "" {
		msg = e.Op + ": " + msg
	}
	if e.Cause != nil {
		msg = msg + ": " + e.Cause.Error()
	}
	return msg
}

func (e *Error) Unwrap() []error {
	if e.Cause == nil {
		return []error{e.Sentinel}
	}
	return []error{e.Sentinel, e.Cause}
}

func (e *Error) Details() string {
	if e.Cause == nil {
		return ""
	}
	return e.Cause.Error()
}

// NewError classifies cause under sentinel.
func NewError(sentinel error, op string, cause error) error {
	return &Error{Sentinel: sentinel, Op: op, Cause: cause}
}

// Errorf creates a classified error with a formatted message.
func Errorf(sentinel error, op, format string, args ...any) error {
	return &Error{Sentinel: sentinel, Op: op, Message: fmt.Sprintf(format, args...)}
}

var grpcCodes = []struct {
	err  error
	code codes.Code
}{
	{ErrBadRequest, codes.InvalidArgument},
	{ErrNotFound, codes.NotFound},
	{ErrAlreadyExists, codes.AlreadyExists},
	{ErrParse, codes.InvalidArgument},
	{ErrUnavailable, codes.Unavailable},
	{ErrTerminated, codes.FailedPrecondition},
	{ErrResourceUnavailable, codes.ResourceExhausted},
	{ErrIncompatible, codes.FailedPrecondition},
	{ErrInternal, codes.Internal},
}

// Convert errors to errors with grpc status codes
func GrpcError(err error) error {
	if err == nil {
		return nil
	}
	if _, ok := status.FromError(err); ok {
		return err
	}
	for _, entry := range grpcCodes {
		if errors.Is(err, entry.err) {
			return status.Error(entry.code, err.Error())
		}
	}
	return status.Error(codes.Unknown, err.Error())
}

// Convert grpc status errors back into sentinel errors.
// The status message is kept so that callers can log it.
func FromGrpcError(err error) error {
	if err == nil {
		return nil
	}
	st, ok := status.FromError(err)
	if !ok {
		return err
	}
	switch st.Code() {
	case codes.NotFound:
		return fmt.Errorf("%w: %s", ErrNotFound, st.Message())
	case codes.AlreadyExists:
		return fmt.Errorf("%w: %s", ErrAlreadyExists, st.Message())
	case codes.InvalidArgument:
		return fmt.Errorf("%w: %s", ErrBadRequest, st.Message())
	case codes.Unavailable, codes.DeadlineExceeded:
		return fmt.Errorf("%w: %s", ErrUnavailable, st.Message())
	case codes.ResourceExhausted:
		return fmt.Errorf("%w: %s", ErrResourceUnavailable, st.Message())
	case codes.FailedPrecondition:
		return fmt.Errorf("%w: %s", ErrTerminated, st.Message())
	}
	return err
}
