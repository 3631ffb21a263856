package domain

import (
	"errors"
	"fmt"
)

// ErrNotFound is returned by stores when a session has no conversation.
var ErrNotFound = errors.New("not found")

// CompletionError reports a failed call to the language-model completion API.
// Network, auth and rate-limit failures all collapse into this one kind.
type CompletionError struct {
	Provider string
	Timeout  bool
	Cause    error
}

func (e *CompletionError) Error() string {
	if e.Timeout {
		return fmt.Sprintf("completion (%s) timed out: %v", e.Provider, e.Cause)
	}
	return fmt.Sprintf("completion (%s) failed: %v", e.Provider, e.Cause)
}

// Unwrap returns the underlying error.
func (e *CompletionError) Unwrap() error { return e.Cause }

// SynthesisError reports a failed text-to-speech conversion, remote or local.
type SynthesisError struct {
	Provider string
	Stage    string // "synthesize", "transcode" or "write"
	Cause    error
}

func (e *SynthesisError) Error() string {
	return fmt.Sprintf("synthesis (%s) %s failed: %v", e.Provider, e.Stage, e.Cause)
}

// Unwrap returns the underlying error.
func (e *SynthesisError) Unwrap() error { return e.Cause }

// ValidationError reports malformed externally supplied input.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	return e.Message
}

// NotFoundError reports a requested resource that does not exist.
type NotFoundError struct {
	Resource string
	Name     string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("%s %q not found", e.Resource, e.Name)
}

// Is lets errors.Is(err, ErrNotFound) match a NotFoundError.
func (e *NotFoundError) Is(target error) bool {
	return target == ErrNotFound
}

// ErrorKind names the category of a failure for logs and events.
type ErrorKind string

// Error kinds.
const (
	KindNone       ErrorKind = ""
	KindCompletion ErrorKind = "completion"
	KindSynthesis  ErrorKind = "synthesis"
	KindValidation ErrorKind = "validation"
	KindNotFound   ErrorKind = "not_found"
	KindInternal   ErrorKind = "internal"
)

// KindOf classifies err.
func KindOf(err error) ErrorKind {
	if err == nil {
		return KindNone
	}
	var (
		ce *CompletionError
		se *SynthesisError
		ve *ValidationError
	)
	switch {
	case errors.As(err, &ce):
		return KindCompletion
	case errors.As(err, &se):
		return KindSynthesis
	case errors.As(err, &ve):
		return KindValidation
	case errors.Is(err, ErrNotFound):
		return KindNotFound
	default:
		return KindInternal
	}
}
