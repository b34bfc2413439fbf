// Package cmn holds cross-cutting types shared by every VexFS core package:
// the error taxonomy, byte/checksum helpers (cmn/cos), atomics (cmn/atomic),
// assertions (cmn/debug), logging (cmn/nlog) and monotonic time (cmn/mono).
/*
 * Copyright (c) 2024-2026, VexFS Authors.
 */
package cmn

import (
	"fmt"

	"github.com/pkg/errors"
)

// ErrCode is the taxonomy from spec §6: every control-plane operation surfaces
// one of these, never a bare error string.
type ErrCode int

const (
	ErrNone ErrCode = iota
	ErrInvalidParam
	ErrNotFound
	ErrExists
	ErrBusy
	ErrNoMemory
	ErrIO
	ErrChecksum
	ErrNotSupported
	ErrTimeout
	ErrInconsistent
)

func (c ErrCode) String() string {
	switch c {
	case ErrInvalidParam:
		return "InvalidParam"
	case ErrNotFound:
		return "NotFound"
	case ErrExists:
		return "Exists"
	case ErrBusy:
		return "Busy"
	case ErrNoMemory:
		return "NoMemory"
	case ErrIO:
		return "Io"
	case ErrChecksum:
		return "Checksum"
	case ErrNotSupported:
		return "NotSupported"
	case ErrTimeout:
		return "Timeout"
	case ErrInconsistent:
		return "Inconsistent"
	default:
		return "None"
	}
}

// Error is the concrete error type every exported operation returns on failure.
// It carries a taxonomy code plus an optional wrapped cause so callers can both
// switch on Code() and retain the full chain via errors.Unwrap.
type Error struct {
	code  ErrCode
	msg   string
	cause error
}

func NewErr(code ErrCode, format string, args ...any) *Error {
	return &Error{code: code, msg: fmt.Sprintf(format, args...)}
}

// WrapErr attaches a taxonomy code to an underlying error, preserving its
// stack trace via github.com/pkg/errors so I/O-boundary failures (block
// device, checksum mismatches) keep enough context for postmortems.
func WrapErr(code ErrCode, cause error, format string, args ...any) *Error {
	return &Error{code: code, msg: fmt.Sprintf(format, args...), cause: errors.WithStack(cause)}
}

func (e *Error) Error() string {
	if e.cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.code, e.msg, e.cause)
	}
	return fmt.Sprintf("%s: %s", e.code, e.msg)
}

func (e *Error) Unwrap() error { return e.cause }

func (e *Error) Code() ErrCode { return e.code }

// Is allows errors.Is(err, cmn.ErrSentinelNotFound) style checks against the sentinel
// codes below.
func (e *Error) Is(target error) bool {
	sc, ok := target.(*sentinel)
	if !ok {
		return false
	}
	return e.code == sc.code
}

type sentinel struct{ code ErrCode }

func (s *sentinel) Error() string { return s.code.String() }

var (
	ErrSentinelInvalidParam  = &sentinel{ErrInvalidParam}
	ErrSentinelNotFound      = &sentinel{ErrNotFound}
	ErrSentinelExists        = &sentinel{ErrExists}
	ErrSentinelBusy          = &sentinel{ErrBusy}
	ErrSentinelNoMemory      = &sentinel{ErrNoMemory}
	ErrSentinelIO            = &sentinel{ErrIO}
	ErrSentinelChecksum      = &sentinel{ErrChecksum}
	ErrSentinelNotSupported  = &sentinel{ErrNotSupported}
	ErrSentinelTimeout       = &sentinel{ErrTimeout}
	ErrSentinelInconsistent  = &sentinel{ErrInconsistent}
)

// CodeOf extracts the taxonomy code from any error, defaulting to ErrIO for
// errors that did not originate from this package (never silently "None").
func CodeOf(err error) ErrCode {
	if err == nil {
		return ErrNone
	}
	if e, ok := err.(*Error); ok {
		return e.code
	}
	return ErrIO
}

func IsNotFound(err error) bool     { return CodeOf(err) == ErrNotFound }
func IsExists(err error) bool       { return CodeOf(err) == ErrExists }
func IsBusy(err error) bool         { return CodeOf(err) == ErrBusy }
func IsInvalidParam(err error) bool { return CodeOf(err) == ErrInvalidParam }
func IsInconsistent(err error) bool { return CodeOf(err) == ErrInconsistent }
