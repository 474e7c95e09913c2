package status

import (
	"errors"
	"fmt"
)

// Status is an engine-local error carrying a Code, modeled on grpc-go's
// status.Status. It is used for transport/protocol/serialization failures
// the engines raise themselves; remote exceptions use
// SerializedException/FromSerializedException instead (exception.go).
type Status struct {
	code    Code
	message string
}

func (s *Status) Error() string {
	return fmt.Sprintf("rpc error: code = %s desc = %s", s.code, s.message)
}

// Code returns s's code.
func (s *Status) Code() Code { return s.code }

// Message returns s's message.
func (s *Status) Message() string { return s.message }

// New returns a new Status with the given code and message.
func New(c Code, msg string) *Status {
	return &Status{code: c, message: msg}
}

// Newf is New with fmt.Sprintf-formatted message.
func Newf(c Code, format string, a ...interface{}) *Status {
	return New(c, fmt.Sprintf(format, a...))
}

// Err returns s as an error, or nil if s is nil or OK.
func (s *Status) Err() error {
	if s == nil || s.code == OK {
		return nil
	}
	return s
}

// Errorf builds a Status with the given code and formatted message and
// returns it as an error, the way grpc-go's status.Errorf does.
func Errorf(c Code, format string, a ...interface{}) error {
	return Newf(c, format, a...).Err()
}

// FromError extracts a *Status from err if err is, or wraps, one; otherwise
// it returns a Status with code Unknown carrying err's message.
func FromError(err error) (*Status, bool) {
	if err == nil {
		return nil, true
	}
	var s *Status
	if errors.As(err, &s) {
		return s, true
	}
	return New(Unknown, err.Error()), false
}

// CodeOf returns the Code of err, or OK if err is nil, or Unknown if err does
// not carry a Status.
func CodeOf(err error) Code {
	if err == nil {
		return OK
	}
	s, ok := FromError(err)
	if !ok {
		return Unknown
	}
	return s.Code()
}
