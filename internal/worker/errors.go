package worker

import (
	"errors"
	"fmt"
)

// ErrorKind classifies job failures for the retry policy.
type ErrorKind string

const (
	// Retryable.
	KindTransient     ErrorKind = "transient"      // transient I/O
	KindCoordination  ErrorKind = "coordination"   // coordination store timeout
	KindProcessorDown ErrorKind = "processor_down" // processor availability loss
	KindSoftTimeout   ErrorKind = "soft_timeout"   // per-job soft limit exceeded

	// Hard timeout recycles the executor and requeues durably instead of
	// retrying in place.
	KindHardTimeout ErrorKind = "hard_timeout"

	// Not retryable.
	KindMalformedBook ErrorKind = "malformed_book"
	KindPolicy        ErrorKind = "policy_reject"
	KindQuota         ErrorKind = "quota_exceeded"
	KindCancelled     ErrorKind = "cancelled"
)

// JobError wraps a failure with its retry classification.
type JobError struct {
	Kind ErrorKind
	Err  error
}

func (e *JobError) Error() string {
	return fmt.Sprintf("%s: %v", e.Kind, e.Err)
}

func (e *JobError) Unwrap() error { return e.Err }

// Errf builds a classified job error.
func Errf(kind ErrorKind, format string, args ...any) *JobError {
	return &JobError{Kind: kind, Err: fmt.Errorf(format, args...)}
}

// Wrap classifies an existing error.
func Wrap(kind ErrorKind, err error) *JobError {
	return &JobError{Kind: kind, Err: err}
}

// Retryable reports whether the failure is worth another attempt.
// Unclassified errors count as transient: an unknown failure mode gets the
// bounded retry budget rather than a permanent failure.
func Retryable(err error) bool {
	var je *JobError
	if !errors.As(err, &je) {
		return true
	}
	switch je.Kind {
	case KindMalformedBook, KindPolicy, KindQuota, KindCancelled, KindHardTimeout:
		return false
	}
	return true
}

// Kind extracts the classification, defaulting to transient.
func Kind(err error) ErrorKind {
	var je *JobError
	if errors.As(err, &je) {
		return je.Kind
	}
	return KindTransient
}
