// Package backend defines the processing service the registry submits work to.
package backend

import (
	"context"
	"errors"

	"go-idea-jobs/internal/storage"
)

// ProcessingBackend starts, retries and deletes server-side processing jobs.
// Implementations return *Error for service-reported failures.
type ProcessingBackend interface {
	StartJob(ctx context.Context, sourceURL, ownerID, groupID string) (storage.Job, error)
	RetryJob(ctx context.Context, jobID string) (storage.Job, error)
	DeleteJob(ctx context.Context, jobID string) error
}

// Error is a failure reported by the processing service.
type Error struct {
	Message string
	Cause   error
}

func (e *Error) Error() string {
	if e.Cause != nil {
		return "backend: " + e.Message + ": " + e.Cause.Error()
	}
	return "backend: " + e.Message
}

func (e *Error) Unwrap() error {
	return e.Cause
}

// Errorf builds a backend error with a cause.
func Errorf(cause error, message string) *Error {
	return &Error{Message: message, Cause: cause}
}

// IsBackendError reports whether err carries a backend *Error.
func IsBackendError(err error) bool {
	var be *Error
	return errors.As(err, &be)
}
