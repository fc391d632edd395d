package activity

import (
	stderrors "errors"
	"fmt"
	"time"

	provision "github.com/goliatone/go-provision"
)

// Outcome classifies one attempt.
type Outcome string

const (
	OutcomeSuccess   Outcome = "success"
	OutcomeRetryable Outcome = "retryable_failure"
	OutcomeFatal     Outcome = "fatal_failure"
)

// Attempt records one invocation of an activity for diagnostics. Attempts
// live only on the returned error; they are never persisted.
type Attempt struct {
	Number    int
	StartedAt time.Time
	Outcome   Outcome
	Err       error
}

// Error is the terminal failure of one activity invocation: either a fatal
// classification or exhausted retries.
type Error struct {
	Name     string
	Fatal    bool
	Attempts int
	Trail    []Attempt
	Err      error
}

func (e *Error) Error() string {
	if e.Fatal {
		return fmt.Sprintf("activity %s failed fatally on attempt %d: %v", e.Name, e.Attempts, e.Err)
	}
	return fmt.Sprintf("activity %s exhausted %d attempts: %v", e.Name, e.Attempts, e.Err)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// AsError extracts the activity error from a wrapped chain.
func AsError(err error) (*Error, bool) {
	var ae *Error
	if stderrors.As(err, &ae) {
		return ae, true
	}
	return nil, false
}

// IsFatal reports whether err terminated an activity without retries.
func IsFatal(err error) bool {
	if ae, ok := AsError(err); ok {
		return ae.Fatal
	}
	return false
}

type fatalMark struct {
	err error
}

func (f fatalMark) Error() string { return f.err.Error() }
func (f fatalMark) Unwrap() error { return f.err }

// MarkFatal flags an error so the default retry predicate aborts instead
// of retrying. Collaborators use it for failures that will never heal.
func MarkFatal(err error) error {
	if err == nil {
		return nil
	}
	return fatalMark{err: err}
}

func isMarkedFatal(err error) bool {
	var fm fatalMark
	return stderrors.As(err, &fm)
}

// DefaultRetryPredicate treats validation, not-found, and not-authorized
// failures as fatal; everything else is assumed transient. External cloud
// calls are rate limited and eventually consistent, so transient is the
// safe default.
func DefaultRetryPredicate(err error) bool {
	if err == nil {
		return false
	}
	if isMarkedFatal(err) {
		return false
	}
	switch provision.ErrorCode(err) {
	case provision.ErrCodeValidation, provision.ErrCodeNotFound, provision.ErrCodeNotAuthorized:
		return false
	}
	return true
}
