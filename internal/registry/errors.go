package registry

import (
	"errors"
	"strings"
)

var (
	ErrInvalidInput     = errors.New("invalid input")
	ErrSubmissionFailed = errors.New("submission failed")
	ErrRetryFailed      = errors.New("retry failed")
	ErrRemovalFailed    = errors.New("removal failed")
	ErrNotRetryable     = errors.New("job is not retryable")
	ErrNotFound         = errors.New("job not found")
	ErrMalformedUpdate  = errors.New("malformed job update")
	ErrClosed           = errors.New("registry closed")
)

// Op names a registry operation in errors and metrics.
type Op string

const (
	OpSubmit Op = "submit"
	OpRetry  Op = "retry"
	OpRemove Op = "remove"
	OpWatch  Op = "watch"
)

// OpError reports a failed registry operation. Kind is one of the package
// sentinels; Err is the underlying cause, if any. errors.Is matches both.
type OpError struct {
	Op    Op
	JobID string
	Kind  error
	Err   error
}

func (e *OpError) Error() string {
	var b strings.Builder
	b.WriteString("registry: ")
	b.WriteString(string(e.Op))
	if e.JobID != "" {
		b.WriteString(" job ")
		b.WriteString(e.JobID)
	}
	if e.Kind != nil {
		b.WriteString(": ")
		b.WriteString(e.Kind.Error())
	}
	if e.Err != nil {
		b.WriteString(": ")
		b.WriteString(e.Err.Error())
	}
	return b.String()
}

func (e *OpError) Unwrap() []error {
	errs := make([]error, 0, 2)
	if e.Kind != nil {
		errs = append(errs, e.Kind)
	}
	if e.Err != nil {
		errs = append(errs, e.Err)
	}
	return errs
}

func opError(op Op, jobID string, kind, cause error) *OpError {
	return &OpError{Op: op, JobID: jobID, Kind: kind, Err: cause}
}
