package llm

import (
	"errors"
	"fmt"
	"time"
)

// ErrStopped is the cancellation cause of a job stopped on request. It is
// not a failure.
var ErrStopped = errors.New("job stopped")

// ValidationError reports a request that cannot be executed as given.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	if e.Field == "" {
		return "invalid request: " + e.Reason
	}
	return fmt.Sprintf("invalid request (%s): %s", e.Field, e.Reason)
}

// TransportError reports a provider that could not be reached or that
// answered with a failure: non-2xx HTTP status, a CLI that failed to start,
// or a CLI that exited nonzero.
type TransportError struct {
	Provider string
	Status   int
	Body     string
	Err      error
}

func (e *TransportError) Error() string {
	switch {
	case e.Status != 0:
		return fmt.Sprintf("%s API error (%d): %s", e.Provider, e.Status, e.Body)
	case e.Err != nil && e.Body != "":
		return fmt.Sprintf("%s: %v: %s", e.Provider, e.Err, e.Body)
	case e.Err != nil:
		return fmt.Sprintf("%s: %v", e.Provider, e.Err)
	default:
		return fmt.Sprintf("%s: %s", e.Provider, e.Body)
	}
}

func (e *TransportError) Unwrap() error { return e.Err }

// ProviderError is an error event reported inside an otherwise healthy
// stream.
type ProviderError struct {
	Provider string
	Message  string
}

func (e *ProviderError) Error() string {
	return fmt.Sprintf("%s error: %s", e.Provider, e.Message)
}

// TimeoutError reports a request that exceeded its time limit.
type TimeoutError struct {
	Provider string
	After    time.Duration
}

func (e *TimeoutError) Error() string {
	if e.Provider == "" {
		return fmt.Sprintf("request timed out after %s", e.After)
	}
	return fmt.Sprintf("%s: request timed out after %s", e.Provider, e.After)
}

// IsStopped reports whether err is a deliberate stop.
func IsStopped(err error) bool {
	return errors.Is(err, ErrStopped)
}
