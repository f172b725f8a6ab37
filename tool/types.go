// Package tool implements the tool registry: registration of named tool
// implementations, schema rendering for prompt injection, and dispatch of
// calls by name.
package tool

import (
	"fmt"
	"time"
)

// Status is the outcome tag of a tool invocation.
type Status string

const (
	StatusOK    Status = "ok"
	StatusError Status = "error"
)

// Result is what every tool invocation returns. Schema violations and
// handler panics both surface as Status: error, never as a Go error or
// exception escaping Invoke.
type Result struct {
	Payload      any    `json:"payload,omitempty"`
	Status       Status `json:"status"`
	ErrorMessage string `json:"error_message,omitempty"`
}

// Ok wraps payload in a successful Result.
func Ok(payload any) Result {
	return Result{Payload: payload, Status: StatusOK}
}

// Err wraps a message in a failed Result.
func Err(format string, args ...any) Result {
	return Result{Status: StatusError, ErrorMessage: fmt.Sprintf(format, args...)}
}

// RegistryError is raised for registration and lookup failures against the
// registry itself (not tool-invocation failures, which are always Result
// values).
type RegistryError struct {
	Component string
	Action    string
	Message   string
	Err       error
	At        time.Time
}

func (e *RegistryError) Error() string {
	if e.Err != nil {
		return e.Component + ": " + e.Action + ": " + e.Message + ": " + e.Err.Error()
	}
	return e.Component + ": " + e.Action + ": " + e.Message
}

func (e *RegistryError) Unwrap() error { return e.Err }
