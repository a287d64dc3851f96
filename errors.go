package carve

import (
	"errors"
	"fmt"
)

// Errors a decode can end with. Decoders build the first three through
// Context.Invalid, Context.Truncated and Context.NotSupported; the Source
// produces the bounds errors.
var (
	ErrInvalid           = errors.New("invalid data")
	ErrTruncated         = errors.New("truncated data")
	ErrNotSupported      = errors.New("not supported")
	ErrOutOfBoundsAfter  = errors.New("access after end of window")
	ErrOutOfBoundsBefore = errors.New("access before start of window")
	ErrCancelled         = errors.New("analysis cancelled")
)

// Outcome classifies a failed decode.
type Outcome uint8

const (
	OutcomeInvalid Outcome = iota + 1
	OutcomeTruncated
	OutcomeNotSupported
)

func (o Outcome) String() string {
	switch o {
	case OutcomeInvalid:
		return "invalid"
	case OutcomeTruncated:
		return "truncated"
	case OutcomeNotSupported:
		return "not supported"
	}
	return fmt.Sprintf("outcome(%d)", uint8(o))
}

// DecodeError is returned by a decoder that rejects or cannot finish a candidate.
type DecodeError struct {
	Outcome Outcome
	Offset  int64
	Msg     string
}

func (e *DecodeError) Error() string {
	return fmt.Sprintf("@%d %s: %s", e.Offset, e.Outcome, e.Msg)
}

// Is matches the sentinel of the error's outcome.
func (e *DecodeError) Is(target error) bool {
	switch e.Outcome {
	case OutcomeInvalid:
		return target == ErrInvalid
	case OutcomeTruncated:
		return target == ErrTruncated
	case OutcomeNotSupported:
		return target == ErrNotSupported
	}
	return false
}

// BoundsError reports a read of [Off, Off+N) outside the window [Begin, End).
type BoundsError struct {
	Off, N     int64
	Begin, End int64
}

// Before reports whether the read started before the window.
func (e *BoundsError) Before() bool { return e.Off < e.Begin }

func (e *BoundsError) Error() string {
	if e.Before() {
		return fmt.Sprintf("read [%d,%d) starts before window [%d,%d)", e.Off, e.Off+e.N, e.Begin, e.End)
	}
	return fmt.Sprintf("read [%d,%d) ends after window [%d,%d)", e.Off, e.Off+e.N, e.Begin, e.End)
}

func (e *BoundsError) Is(target error) bool {
	if e.Before() {
		return target == ErrOutOfBoundsBefore
	}
	return target == ErrOutOfBoundsAfter
}

// recoverable reports whether err is one of the outcomes the scanner turns
// into a scan decision instead of propagating.
func recoverable(err error) bool {
	var de *DecodeError
	if errors.As(err, &de) {
		return true
	}
	return errors.Is(err, ErrOutOfBoundsAfter)
}
