package external

import "fmt"

// ErrorKind classifies completion failures.
type ErrorKind string

const (
	// ErrKindInvalidInput: missing key or empty selection, caught before any call.
	ErrKindInvalidInput ErrorKind = "invalid_input"
	// ErrKindSelectionTooLong: selection exceeds the configured word limit.
	ErrKindSelectionTooLong ErrorKind = "selection_too_long"
	// ErrKindUpstream: the endpoint answered with an error or a malformed body.
	ErrKindUpstream ErrorKind = "upstream"
	// ErrKindTransport: no response reached us.
	ErrKindTransport ErrorKind = "transport"
	// ErrKindTimeout: the per-call deadline fired.
	ErrKindTimeout ErrorKind = "timeout"
)

// GenericUpstreamMessage is used when the error envelope carries no message.
const GenericUpstreamMessage = "API request failed"

// CompletionError is returned by Client.Complete for every failure.
type CompletionError struct {
	Kind       ErrorKind
	Message    string // human-readable, safe to show in the popup
	StatusCode int    // HTTP status for ErrKindUpstream, else 0
	Err        error
}

func (e *CompletionError) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("completion %s (status %d): %s", e.Kind, e.StatusCode, e.Message)
	}
	return fmt.Sprintf("completion %s: %s", e.Kind, e.Message)
}

func (e *CompletionError) Unwrap() error { return e.Err }
