// Package errors implements the classified error taxonomy used across
// fleetboot: Transient, Conflict, Invalid, Unauthorized, Forbidden,
// NotFound, RateLimited, Fatal. The lowest layer that can classify an
// error does so; higher layers may wrap for context but must not
// reclassify across categories.
package errors

import (
	"errors"
	"fmt"
)

// Code identifies an error category.
type Code string

const (
	Transient    Code = "transient"
	Conflict     Code = "conflict"
	Invalid      Code = "invalid"
	Unauthorized Code = "unauthorized"
	Forbidden    Code = "forbidden"
	NotFound     Code = "not_found"
	RateLimited  Code = "rate_limited"
	Fatal        Code = "fatal"
)

// Classified wraps an error with a taxonomy code and a symbolic reason
// (e.g. "cycle", "arch_mismatch") used to pick the user-visible message.
type Classified struct {
	Code    Code
	Reason  string
	Message string
	Err     error
}

func (e *Classified) Error() string {
	if e.Message != "" {
		return e.Message
	}
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Reason, e.Err)
	}
	return e.Reason
}

func (e *Classified) Unwrap() error { return e.Err }

// New creates a classified error with the given code and reason.
func New(code Code, reason, message string) *Classified {
	return &Classified{Code: code, Reason: reason, Message: message}
}

// Wrap classifies an existing error, preserving it for errors.Is/As.
func Wrap(code Code, reason string, err error) *Classified {
	return &Classified{Code: code, Reason: reason, Err: err}
}

// CodeOf returns the classified code of err, or "" if err carries none.
func CodeOf(err error) Code {
	var c *Classified
	if errors.As(err, &c) {
		return c.Code
	}
	return ""
}

// Is reports whether err is classified with the given code.
func Is(err error, code Code) bool {
	return CodeOf(err) == code
}
