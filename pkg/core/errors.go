package core

import (
	"errors"
	"fmt"
)

// Common errors.
var (
	ErrNotFound       = errors.New("node not found")
	ErrInvalid        = errors.New("invalid operation")
	ErrLabelExists    = errors.New("label exists")
	ErrSnapshotFormat = errors.New("unsupported snapshot format")
	ErrChecksum       = errors.New("snapshot checksum mismatch")
)

// ParseError reports a payload that does not match the wire schema. It is
// scoped to one node: the rest of the batch keeps decoding.
type ParseError struct {
	ID  string
	Raw []byte
	Err error
}

func (e *ParseError) Error() string {
	if e.ID != "" {
		return fmt.Sprintf("parse error in node %s: %v", e.ID, e.Err)
	}
	return fmt.Sprintf("parse error: %v", e.Err)
}

func (e *ParseError) Unwrap() error { return e.Err }

// AuthError reports a rejected credential. Fatal to the round; recoverable
// by refreshing the credential and retrying.
type AuthError struct {
	Err error
}

func (e *AuthError) Error() string { return fmt.Sprintf("authentication rejected: %v", e.Err) }

func (e *AuthError) Unwrap() error { return e.Err }

// NetworkError reports a transient transport failure.
type NetworkError struct {
	Op  string
	Err error
}

func (e *NetworkError) Error() string { return fmt.Sprintf("%s: network error: %v", e.Op, e.Err) }

func (e *NetworkError) Unwrap() error { return e.Err }

// ResyncRequiredError is the server's signal that incremental sync cannot
// continue and a full sync must run.
type ResyncRequiredError struct {
	Reason string
}

func (e *ResyncRequiredError) Error() string {
	if e.Reason == "" {
		return "full resync required"
	}
	return "full resync required: " + e.Reason
}

// ConsistencyError reports an invariant violation while merging (for example
// an unknown parent ID). The offending merge step is discarded.
type ConsistencyError struct {
	ID     string
	Reason string
}

func (e *ConsistencyError) Error() string {
	return fmt.Sprintf("consistency error on %s: %s", e.ID, e.Reason)
}

// IsTransient reports whether err is worth retrying without user action.
func IsTransient(err error) bool {
	var ne *NetworkError
	return errors.As(err, &ne)
}
