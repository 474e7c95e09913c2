package status

import (
	"errors"
	"fmt"
	"runtime"
	"strings"

	"github.com/chalvern/streamrpc/wire"
)

// RemoteError is what a call observes when the peer sent CallException or a
// stream observes when the peer sent StreamCancel: either a reconstructed
// typed error (when ClassName is registered) or a generic "deserialized
// exception" whose Error() equals the original ToStringRepr.
type RemoteError struct {
	Exc   *wire.SerializedException
	Cause error
}

func (e *RemoteError) Error() string {
	if e.Exc == nil {
		return "streamrpc: remote error"
	}
	return e.Exc.ToStringRepr
}

func (e *RemoteError) Unwrap() error { return e.Cause }

// ClassName reports the peer-side exception class, for callers that want to
// branch on it without a registered factory.
func (e *RemoteError) ClassName() string {
	if e.Exc == nil {
		return ""
	}
	return e.Exc.ClassName
}

// ExceptionFactory reconstructs a native error from a message, for a single
// registered exception class name.
type ExceptionFactory func(message string) error

var exceptionFactories = map[string]ExceptionFactory{}

// RegisterExceptionFactory registers factory for className, the way
// generated code would register the concrete error types a service can
// throw. The last registration for a given name wins, matching
// encoding.RegisterCodec's documented "not safe to race, last one wins"
// contract; call it at init time.
func RegisterExceptionFactory(className string, factory ExceptionFactory) {
	exceptionFactories[className] = factory
}

// ToSerializedException converts a Go error into the wire shape, walking
// Unwrap() for the cause chain and taking a best-effort single-frame
// stacktrace from the caller (Go does not carry a walkable stack on a plain
// error the way a JVM Throwable does).
func ToSerializedException(err error) *wire.SerializedException {
	if err == nil {
		return nil
	}
	se := &wire.SerializedException{
		ToStringRepr: err.Error(),
		Message:      err.Error(),
		ClassName:    classNameOf(err),
		Stacktrace:   bestEffortFrame(),
	}
	if u, ok := err.(interface{ Unwrap() error }); ok {
		if cause := u.Unwrap(); cause != nil {
			se.Cause = ToSerializedException(cause)
		}
	}
	return se
}

func classNameOf(err error) string {
	if s, ok := err.(*Status); ok {
		return "Status." + s.Code().String()
	}
	t := fmt.Sprintf("%T", err)
	return strings.TrimPrefix(t, "*")
}

func bestEffortFrame() []wire.StackFrame {
	pc, file, line, ok := runtime.Caller(3)
	if !ok {
		return nil
	}
	fn := runtime.FuncForPC(pc)
	name := "unknown"
	if fn != nil {
		name = fn.Name()
	}
	return []wire.StackFrame{{Class: name, Method: name, File: file, Line: line}}
}

// FromSerializedException reconstructs an error from the wire shape: a
// registered factory for se.ClassName if one exists, otherwise a
// *RemoteError whose Error() equals se.ToStringRepr. The cause chain is
// preserved recursively via RemoteError.Unwrap/a wrapped registered error.
func FromSerializedException(se *wire.SerializedException) error {
	if se == nil {
		return nil
	}
	var cause error
	if se.Cause != nil {
		cause = FromSerializedException(se.Cause)
	}
	if factory, ok := exceptionFactories[se.ClassName]; ok {
		err := factory(se.Message)
		if cause != nil {
			return &wrappedRemote{err: err, cause: cause, exc: se}
		}
		return err
	}
	return &RemoteError{Exc: se, Cause: cause}
}

type wrappedRemote struct {
	err   error
	cause error
	exc   *wire.SerializedException
}

func (w *wrappedRemote) Error() string { return w.exc.ToStringRepr }
func (w *wrappedRemote) Unwrap() error { return w.cause }

// As lets errors.As match target against the reconstructed typed error
// (w.err) for any target type, not just *error — delegating to the
// standard library's own matching instead of special-casing *error means
// a caller doing `var nf *NotFoundError; errors.As(err, &nf)` finds it
// here before errors.As falls through to Unwrap and continues into
// w.cause.
func (w *wrappedRemote) As(target interface{}) bool {
	return errors.As(w.err, target)
}
