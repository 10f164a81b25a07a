package llm

import (
	"errors"
	"fmt"
	"net/http"
)

// SummaryFallback is returned by Summarize when no candidate model produced a summary.
const SummaryFallback = "Could not generate a summary.  The input may be too long, or there may be issues with the text-generation API."

var (
	// ErrAllCandidatesFailed is wrapped by Translate and Embed when every candidate was
	// skipped or failed.
	ErrAllCandidatesFailed = errors.New("all candidate models failed")
	// ErrEmptyOutput marks a call that succeeded but returned nothing usable.
	ErrEmptyOutput = errors.New("model returned empty output")
	// ErrRefusal marks a response in which the model declined the task.
	ErrRefusal = errors.New("model response indicates refusal")
)

// StatusError is a failed model call that carries an HTTP-like status code. Generators
// return it so the invoker can tell rate limiting apart from other failures.
type StatusError struct {
	Code int
	Err  error
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("model call failed with status %d: %v", e.Code, e.Err)
}

func (e *StatusError) Unwrap() error { return e.Err }

// IsRateLimited reports whether err is, or wraps, a 429 StatusError.
func IsRateLimited(err error) bool {
	var se *StatusError
	return errors.As(err, &se) && se.Code == http.StatusTooManyRequests
}
