// Package chaterr defines the error taxonomy shared by the chat client
// packages. Every error that reaches a user action is one of AuthError,
// ValidationError, NetworkError or ChannelError so the view layer can pick a
// notification without inspecting strings.
package chaterr

import (
	"errors"
	"fmt"
)

var (
	// ErrNoToken is returned when an authenticated call is attempted without
	// a stored token. It is always wrapped in an AuthError.
	ErrNoToken = errors.New("no auth token")

	// ErrChannelNotOpen is returned by a send on a channel that is not in the
	// open state. It is always wrapped in a ChannelError.
	ErrChannelNotOpen = errors.New("channel not open")

	// ErrGaveUp is reported when the stream exhausted its reconnect budget.
	ErrGaveUp = errors.New("reconnect attempts exhausted")
)

// AuthError reports a missing token, rejected credentials or a 401 response.
type AuthError struct {
	Op      string
	Message string
	Err     error
}

func (e *AuthError) Error() string {
	return format("auth", e.Op, e.Message, e.Err)
}

func (e *AuthError) Unwrap() error { return e.Err }

// ValidationError reports a required field that failed a client-side check
// before any network call was made.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	if e.Field == "" {
		return "validation: " + e.Message
	}
	return fmt.Sprintf("validation: %s: %s", e.Field, e.Message)
}

// NetworkError reports a transport failure or a non-2xx response other than 401.
// Status is zero for transport failures.
type NetworkError struct {
	Op      string
	Status  int
	Message string
	Err     error
}

func (e *NetworkError) Error() string {
	msg := e.Message
	if e.Status != 0 {
		if msg == "" {
			msg = fmt.Sprintf("status %d", e.Status)
		} else {
			msg = fmt.Sprintf("status %d: %s", e.Status, msg)
		}
	}
	return format("network", e.Op, msg, e.Err)
}

func (e *NetworkError) Unwrap() error { return e.Err }

// ChannelError reports a stream open or send failure.
type ChannelError struct {
	ChatID string
	Op     string
	Err    error
}

func (e *ChannelError) Error() string {
	op := e.Op
	if e.ChatID != "" {
		op = fmt.Sprintf("%s chat=%s", e.Op, e.ChatID)
	}
	return format("channel", op, "", e.Err)
}

func (e *ChannelError) Unwrap() error { return e.Err }

// NoToken builds the AuthError returned when op needs a token and none is stored.
func NoToken(op string) error {
	return &AuthError{Op: op, Err: ErrNoToken}
}

// Invalid builds a ValidationError.
func Invalid(field, message string) error {
	return &ValidationError{Field: field, Message: message}
}

// IsAuth reports whether err is or wraps an AuthError.
func IsAuth(err error) bool {
	var target *AuthError
	return errors.As(err, &target)
}

// IsValidation reports whether err is or wraps a ValidationError.
func IsValidation(err error) bool {
	var target *ValidationError
	return errors.As(err, &target)
}

// IsNetwork reports whether err is or wraps a NetworkError.
func IsNetwork(err error) bool {
	var target *NetworkError
	return errors.As(err, &target)
}

// IsChannel reports whether err is or wraps a ChannelError.
func IsChannel(err error) bool {
	var target *ChannelError
	return errors.As(err, &target)
}

// Kind returns a short label for the error class, used for notifications
// and metric labels.
func Kind(err error) string {
	switch {
	case err == nil:
		return ""
	case IsAuth(err):
		return "auth"
	case IsValidation(err):
		return "validation"
	case IsNetwork(err):
		return "network"
	case IsChannel(err):
		return "channel"
	default:
		return "internal"
	}
}

func format(kind, op, msg string, err error) string {
	s := kind
	if op != "" {
		s += ": " + op
	}
	if msg != "" {
		s += ": " + msg
	}
	if err != nil {
		s += ": " + err.Error()
	}
	return s
}
