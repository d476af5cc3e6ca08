package model

import (
	"errors"
	"fmt"
)

// Sentinel errors for errors.Is checks across package boundaries.
var (
	ErrNotFound       = errors.New("not found")
	ErrInvalidRequest = errors.New("invalid request")
)

// ParseError reports that a single file's source is malformed. It is
// recovered locally: the caller records it and continues with the
// remaining files.
type ParseError struct {
	Path string
	Line int
	Msg  string
}

func (e *ParseError) Error() string {
	if e.Line > 0 {
		return fmt.Sprintf("parse error in %s:%d: %s", e.Path, e.Line, e.Msg)
	}
	return fmt.Sprintf("parse error in %s: %s", e.Path, e.Msg)
}

// NotFoundError reports an absent graph or node id.
type NotFoundError struct {
	Kind string // "graph" or "node"
	ID   string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("%s %q not found", e.Kind, e.ID)
}

func (e *NotFoundError) Unwrap() error { return ErrNotFound }

// StorageTransactionError reports a write that failed mid-transaction.
// The repository guarantees rollback to the prior committed state, so the
// caller may retry the whole save.
type StorageTransactionError struct {
	Op  string
	Err error
}

func (e *StorageTransactionError) Error() string {
	return fmt.Sprintf("storage transaction failed during %s: %v", e.Op, e.Err)
}

func (e *StorageTransactionError) Unwrap() error { return e.Err }

// InvalidRequestError reports malformed query parameters, rejected before
// any I/O happens.
type InvalidRequestError struct {
	Field  string
	Reason string
}

func (e *InvalidRequestError) Error() string {
	return fmt.Sprintf("invalid request: %s %s", e.Field, e.Reason)
}

func (e *InvalidRequestError) Unwrap() error { return ErrInvalidRequest }
