package openmemory

import (
	"errors"
	"fmt"
)

// Sentinel errors for the distinct failure classes. Callers match with
// errors.Is; only the outermost request boundary translates them to
// HTTP / MCP error codes.
var (
	// ErrValidation marks malformed input (empty content, bad sector
	// enum, k out of range). Surfaced verbatim to the caller.
	ErrValidation = errors.New("invalid input")

	// ErrNotFound is returned when a memory or namespace is missing.
	// Requests that name a namespace the memory is not part of also get
	// ErrNotFound, to avoid leaking existence across tenants.
	ErrNotFound = errors.New("not found")

	// ErrEmbed marks an embedding provider failure after retries.
	ErrEmbed = errors.New("embedding failed")

	// ErrVectorStore marks a vector upsert/search/delete failure.
	ErrVectorStore = errors.New("vector store failed")

	// ErrMetadataStore marks a metadata transaction failure. Fatal for
	// the current request; the transaction never committed.
	ErrMetadataStore = errors.New("metadata store failed")

	// ErrEngineClosed is returned after Close.
	ErrEngineClosed = errors.New("engine is closed")
)

// OpError wraps an error with the operation that produced it.
type OpError struct {
	Op  string // operation name, e.g. "store", "query", "decay_sweep"
	Err error
}

func (e *OpError) Error() string {
	if e.Op == "" {
		return fmt.Sprintf("openmemory: %v", e.Err)
	}
	return fmt.Sprintf("openmemory: %s: %v", e.Op, e.Err)
}

func (e *OpError) Unwrap() error { return e.Err }

// Is lets errors.Is(err, ErrX) see through the wrapper.
func (e *OpError) Is(target error) bool { return errors.Is(e.Err, target) }

// wrapOp wraps an error with operation context. Returns nil for nil.
func wrapOp(op string, err error) error {
	if err == nil {
		return nil
	}
	return &OpError{Op: op, Err: err}
}

// validationf builds an ErrValidation with a formatted detail message.
func validationf(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrValidation, fmt.Sprintf(format, args...))
}
