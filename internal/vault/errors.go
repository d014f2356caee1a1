package vault

import "fmt"

// NotFound indicates the addressed entity does not exist.
type NotFound struct {
	Entity string
	ID     string
}

func (e *NotFound) Error() string { return fmt.Sprintf("%s not found: %s", e.Entity, e.ID) }

// ConflictError indicates a unique-constraint or divergent-idempotency
// conflict.
type ConflictError struct {
	Message string
}

func (e *ConflictError) Error() string { return e.Message }

// ValidationError carries one or more field-level validation failures.
type ValidationError struct {
	Errors []string
}

func (e *ValidationError) Error() string {
	if len(e.Errors) == 0 {
		return "validation error"
	}
	msg := e.Errors[0]
	for _, m := range e.Errors[1:] {
		msg += "; " + m
	}
	return msg
}

// StorageIOError wraps a transient infrastructure failure. Safe to
// retry for pure reads.
type StorageIOError struct {
	Cause error
}

func (e *StorageIOError) Error() string { return fmt.Sprintf("storage io error: %v", e.Cause) }
func (e *StorageIOError) Unwrap() error { return e.Cause }

// SchemaVersionMismatch indicates persisted state is newer than the
// running code understands.
type SchemaVersionMismatch struct {
	Expected string
	Actual   string
}

func (e *SchemaVersionMismatch) Error() string {
	return fmt.Sprintf("schema version mismatch: expected %s, got %s", e.Expected, e.Actual)
}

// RateLimitExceeded indicates a token bucket was exhausted.
type RateLimitExceeded struct {
	RetryAfterMS int64
}

func (e *RateLimitExceeded) Error() string {
	return fmt.Sprintf("rate limit exceeded, retry after %dms", e.RetryAfterMS)
}

// ConcurrentUpdateConflict indicates a competing write on the same note.
type ConcurrentUpdateConflict struct {
	NoteID string
}

func (e *ConcurrentUpdateConflict) Error() string {
	return fmt.Sprintf("concurrent update conflict on note %s", e.NoteID)
}

// VisibilityTimeout indicates an asynchronous visibility operation did
// not complete within its processing timeout.
type VisibilityTimeout struct {
	VersionID string
}

func (e *VisibilityTimeout) Error() string {
	return fmt.Sprintf("visibility timeout for version %s", e.VersionID)
}

// IndexingFailure indicates the asynchronous build/commit pipeline
// failed for a version.
type IndexingFailure struct {
	VersionID string
	Reason    string
}

func (e *IndexingFailure) Error() string {
	return fmt.Sprintf("indexing failure for version %s: %s", e.VersionID, e.Reason)
}
