package model

import (
	"errors"
	"fmt"
)

// ErrBlobNotFound is returned when a blob ref does not resolve to a stored
// blob. This indicates a referential-integrity violation and is treated as
// internal rather than user-facing.
var ErrBlobNotFound = errors.New("diff blob not found")

// MalformedPatchError reports a patch whose overall structure cannot be
// reconciled with the supplied file boundaries.
type MalformedPatchError struct {
	Reason string
	Line   int // 1-based line in the patch text; 0 when not applicable.
}

func (e *MalformedPatchError) Error() string {
	if e.Line > 0 {
		return fmt.Sprintf("malformed patch at line %d: %s", e.Line, e.Reason)
	}
	return fmt.Sprintf("malformed patch: %s", e.Reason)
}

// MissingRevisionInfoError reports a file span whose header lines do not
// match a recognized diff dialect. SpanIndex and Label identify the failing
// file so callers can render a precise message.
type MissingRevisionInfoError struct {
	SpanIndex int
	Label     string
	Line      int
}

func (e *MissingRevisionInfoError) Error() string {
	return fmt.Sprintf("file %q (span %d, line %d): revision header is missing or unrecognized", e.Label, e.SpanIndex, e.Line)
}

// DependencyChainBrokenError reports a multi-commit diff whose dependency
// graph contains a commit unreachable from the designated root. Recoverable
// by resubmitting with the missing parent commit included.
type DependencyChainBrokenError struct {
	CommitID string
}

func (e *DependencyChainBrokenError) Error() string {
	return fmt.Sprintf("commit %q is not reachable from the root commit: incomplete commit history", e.CommitID)
}
