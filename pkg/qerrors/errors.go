// Package qerrors defines the error taxonomy of the write and read paths:
// recoverable conditions the Indexer/Committer loop handles internally, and
// the single structured failure that bubbles out when retries are
// exhausted.
package qerrors

import (
	"fmt"

	"github.com/pkg/errors"
)

var (
	// ErrMissingIndexedColumn is fatal to a write: the caller asked to
	// index a column that isn't present in the batch's schema.
	ErrMissingIndexedColumn = errors.New("otree: missing indexed column")
	// ErrRevisionMismatch is raised on read when a query was planned
	// against a Revision older than the one a file was tagged with.
	ErrRevisionMismatch = errors.New("otree: revision mismatch, reload and re-plan")
	// ErrCommitConflict means the log's version-CAS lost a race. The
	// Committer retries on this; callers only see it after the retry
	// budget is exhausted.
	ErrCommitConflict = errors.New("otree: commit conflict")
	// ErrWriterIO wraps a Block Writer failure. The partition is retried
	// once before it's surfaced.
	ErrWriterIO = errors.New("otree: writer I/O error")
)

// TransformDomainError records that a raw value fell outside a Linear
// transformer's fitted range. It is never returned to the write caller:
// the transformer clamps and flags that a wider one is needed, and the
// caller only observes a Revision upgrade on the next commit.
type TransformDomainError struct {
	Column string
	Value  interface{}
}

func (e *TransformDomainError) Error() string {
	return fmt.Sprintf("otree: value %v for column %q outside transformer domain", e.Value, e.Column)
}

// WriteFailure is the single structured failure a write call returns once
// the Committer's retry budget is exhausted. It never interleaves with a
// recoverable error: everything recoverable stays inside the retry loop.
type WriteFailure struct {
	Partition string
	Attempts  int
	Cause     error
}

func (f *WriteFailure) Error() string {
	return fmt.Sprintf("otree: write failed for partition %q after %d attempt(s): %v", f.Partition, f.Attempts, f.Cause)
}

func (f *WriteFailure) Unwrap() error { return f.Cause }

func Wrap(err error, msg string) error {
	if err == nil {
		return nil
	}
	return errors.Wrap(err, msg)
}

func Wrapf(err error, format string, args ...interface{}) error {
	if err == nil {
		return nil
	}
	return errors.Wrapf(err, format, args...)
}
