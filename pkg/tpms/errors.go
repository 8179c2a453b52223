// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package tpms

import "fmt"

// DecodeErrorKind classifies why a frame produced no reading
type DecodeErrorKind int

const (
	ManchesterError DecodeErrorKind = iota + 1
	NoProtocolMatched
	ChecksumMismatch
)

func (k DecodeErrorKind) String() string {
	switch k {
	case ManchesterError:
		return "ManchesterError"
	case NoProtocolMatched:
		return "NoProtocolMatched"
	case ChecksumMismatch:
		return "ChecksumMismatch"
	default:
		return fmt.Sprintf("DecodeErrorKind(%d)", int(k))
	}
}

// DecodeError is a non-fatal, per-frame decode failure
type DecodeError struct {
	Kind     DecodeErrorKind
	Protocol string // decoder that reported a checksum mismatch
	Offset   int    // chip pair offset of a Manchester violation
	Detail   string
}

func (e *DecodeError) Error() string {
	switch e.Kind {
	case ManchesterError:
		if e.Detail != "" {
			return "manchester violation: " + e.Detail
		}
		return "manchester violation"
	case NoProtocolMatched:
		if e.Detail != "" {
			return "no protocol matched: " + e.Detail
		}
		return "no protocol matched"
	case ChecksumMismatch:
		return fmt.Sprintf("%s checksum mismatch: %s", e.Protocol, e.Detail)
	default:
		return "decode error: " + e.Detail
	}
}

// Is matches any DecodeError of the same kind
func (e *DecodeError) Is(target error) bool {
	t, ok := target.(*DecodeError)
	return ok && t.Kind == e.Kind
}

// Sentinels for errors.Is
var (
	ErrManchester        = &DecodeError{Kind: ManchesterError}
	ErrNoProtocolMatched = &DecodeError{Kind: NoProtocolMatched}
	ErrChecksumMismatch  = &DecodeError{Kind: ChecksumMismatch}
)

// KindOf returns the decode error kind of err, or 0
func KindOf(err error) DecodeErrorKind {
	if de, ok := err.(*DecodeError); ok {
		return de.Kind
	}
	return 0
}
