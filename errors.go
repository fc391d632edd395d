package provision

import (
	stderrors "errors"

	apperrors "github.com/goliatone/go-errors"
)

const (
	ErrCodeValidation     = "VALIDATION_FAILED"
	ErrCodeLockContention = "PROVISION_LOCK_CONTENTION"
	ErrCodeNotAuthorized  = "PROVISION_NOT_AUTHORIZED"
	ErrCodeActivityFatal  = "ACTIVITY_FATAL"
	ErrCodeExhausted      = "ACTIVITY_EXHAUSTED"
	ErrCodeTimeout        = "PROVISION_TIMEOUT"
	ErrCodeNotFound       = "ENTITY_NOT_FOUND"
)

var (
	// ErrValidation marks malformed command input; never retried.
	ErrValidation = apperrors.New("validation error", apperrors.CategoryValidation).
			WithTextCode(ErrCodeValidation)

	// ErrLockContention marks a lock already held by another orchestration.
	ErrLockContention = apperrors.New("entity lock held by another holder", apperrors.CategoryConflict).
				WithTextCode(ErrCodeLockContention)

	// ErrNotAuthorized marks a mutating activity invoked without lock ownership.
	ErrNotAuthorized = apperrors.New("operation requires lock ownership", apperrors.CategoryConflict).
				WithTextCode(ErrCodeNotAuthorized)

	// ErrActivityFatal marks a non-retryable activity failure.
	ErrActivityFatal = apperrors.New("activity failed fatally", apperrors.CategoryHandler).
				WithTextCode(ErrCodeActivityFatal)

	// ErrActivityExhausted marks a retryable failure that outlived its attempts.
	ErrActivityExhausted = apperrors.New("activity retries exhausted", apperrors.CategoryHandler).
				WithTextCode(ErrCodeExhausted)

	// ErrTimeout marks a command that exceeded its maximum timeout.
	ErrTimeout = apperrors.New("command exceeded maximum timeout", apperrors.CategoryExternal).
			WithTextCode(ErrCodeTimeout)

	// ErrNotFound marks an entity that vanished mid-orchestration.
	ErrNotFound = apperrors.New("entity not found", apperrors.CategoryExternal).
			WithTextCode(ErrCodeNotFound)
)

// ErrorCode extracts the text code from a wrapped provisioning error,
// returning the empty string for foreign errors.
func ErrorCode(err error) string {
	var ge *apperrors.Error
	if stderrors.As(err, &ge) {
		return ge.TextCode
	}
	return ""
}

func IsLockContention(err error) bool {
	return ErrorCode(err) == ErrCodeLockContention
}

func IsNotFound(err error) bool {
	return ErrorCode(err) == ErrCodeNotFound
}

func IsTimeout(err error) bool {
	return ErrorCode(err) == ErrCodeTimeout
}

func IsValidation(err error) bool {
	return ErrorCode(err) == ErrCodeValidation
}

// CloneError derives a new instance of a sentinel with message, source and
// metadata applied, keeping the sentinel itself immutable.
func CloneError(base *apperrors.Error, message string, source error, metadata map[string]any) *apperrors.Error {
	if base == nil {
		base = ErrValidation
	}
	err := base.Clone()
	if message != "" {
		err.Message = message
	}
	if source != nil {
		err.Source = source
	}
	if len(metadata) > 0 {
		err = err.WithMetadata(metadata)
	}
	return err
}
