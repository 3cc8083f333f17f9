// Package errs defines the closed set of error kinds the core distinguishes,
// each a typed struct so callers can recover programmatically via errors.As
// instead of string-matching.
/*
 * Copyright (c) 2018-2020, NVIDIA CORPORATION. All rights reserved.
 */
package errs

import (
	"fmt"

	"github.com/pkg/errors"
)

// TransportError is recoverable by reconnect: dial timeout, broken pipe,
// idle timeout. Local policy retries with backoff up to a ceiling.
type TransportError struct {
	Op     string
	Remote string
	Cause  error
}

func (e *TransportError) Error() string {
	return fmt.Sprintf("transport error during %s to %s: %v", e.Op, e.Remote, e.Cause)
}

func (e *TransportError) Unwrap() error { return e.Cause }

func NewTransportError(op, remote string, cause error) *TransportError {
	return &TransportError{Op: op, Remote: remote, Cause: cause}
}

// ProtocolError is fatal per connection: version mismatch, encryption
// mismatch, unknown service or message id. The connection is closed, no
// retry is attempted.
type ProtocolError struct {
	Reason string
}

func (e *ProtocolError) Error() string { return "protocol error: " + e.Reason }

func NewProtocolError(reason string) *ProtocolError { return &ProtocolError{Reason: reason} }

// CasError covers missing blob, hash mismatch, and disallowed key. On
// HashMismatch the store drops its local entry; no retry is made for
// Missing or HashMismatch, and every kind is surfaced to the caller.
type CasError struct {
	Kind CasErrKind
	Key  string
}

type CasErrKind int

const (
	CasMissing CasErrKind = iota
	CasHashMismatch
	CasDisallowed
)

func (e *CasError) Error() string {
	switch e.Kind {
	case CasMissing:
		return "cas: blob missing for key " + e.Key
	case CasHashMismatch:
		return "cas: hash mismatch for key " + e.Key
	default:
		return "cas: key disallowed " + e.Key
	}
}

func (e *CasError) Retriable() bool { return e.Kind == CasMissing || e.Kind == CasHashMismatch }

func NewCasError(kind CasErrKind, key string) *CasError { return &CasError{Kind: kind, Key: key} }

// ProcessError wraps a process's terminal state: non-zero exit, crash,
// cancel, or returned-to-queue. Cancel is silent; Returned re-enters the
// scheduler's queue rather than failing the build.
type ProcessError struct {
	ProcessID uint32
	ExitCode  int
	Reason    ProcessErrReason
}

type ProcessErrReason int

const (
	ProcessExitNonZero ProcessErrReason = iota
	ProcessCrashed
	ProcessCancelled
	ProcessReturned
)

func (e *ProcessError) Error() string {
	return fmt.Sprintf("process %d: reason=%d exit=%d", e.ProcessID, e.Reason, e.ExitCode)
}

func (e *ProcessError) Silent() bool {
	return e.Reason == ProcessCancelled || e.Reason == ProcessReturned
}

// ResourceError covers out-of-memory (wait or kill) and out-of-disk (fail
// insert). These never cause a panic.
type ResourceError struct {
	Kind ResourceErrKind
	Msg  string
}

type ResourceErrKind int

const (
	ResourceOOM ResourceErrKind = iota
	ResourceOOD
)

func (e *ResourceError) Error() string { return "resource: " + e.Msg }

func NewResourceError(kind ResourceErrKind, msg string) *ResourceError {
	return &ResourceError{Kind: kind, Msg: msg}
}

// UsageError covers bad CLI flags and bad config; it surfaces as a log
// line and a non-zero process exit, never a retry.
type UsageError struct {
	Msg string
}

func (e *UsageError) Error() string { return "usage: " + e.Msg }

func NewUsageError(format string, a ...interface{}) *UsageError {
	return &UsageError{Msg: fmt.Sprintf(format, a...)}
}

// Wrap attaches op context to an arbitrary error without discarding the
// original for errors.Is/As purposes.
func Wrap(err error, op string) error {
	if err == nil {
		return nil
	}
	return errors.Wrap(err, op)
}
