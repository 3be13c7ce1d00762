// Package nutraw reads and writes Nutmeg raw files, the waveform format
// written by Spectre, ngspice and other SPICE descendants.
package nutraw

import (
	"errors"
	"fmt"
)

var (
	ErrMalformedHeader    = errors.New("malformed header")
	ErrInconsistentHeader = errors.New("inconsistent header")
	ErrTruncatedStream    = errors.New("truncated stream")
	ErrNumericParse       = errors.New("numeric parse error")
)

// errNeedMore signals that a streaming read stopped before the header marker
var errNeedMore = errors.New("need more data")

// ParseError locates a decoding failure in the input
type ParseError struct {
	Kind   error // One of the Err* sentinels
	Offset int64 // Byte offset from the start of the stream
	Line   int   // 1-based line number, 0 if unknown
	Column int   // 1-based column, 0 if unknown
	Msg    string
}

func (e *ParseError) Error() string {
	switch {
	case e.Line > 0 && e.Column > 0:
		return fmt.Sprintf("%v at line %d column %d (offset %d): %s", e.Kind, e.Line, e.Column, e.Offset, e.Msg)
	case e.Line > 0:
		return fmt.Sprintf("%v at line %d (offset %d): %s", e.Kind, e.Line, e.Offset, e.Msg)
	default:
		return fmt.Sprintf("%v at offset %d: %s", e.Kind, e.Offset, e.Msg)
	}
}

func (e *ParseError) Unwrap() error {
	return e.Kind
}

// Status reports whether a data block was decoded completely
type Status int

const (
	StatusComplete Status = iota
	StatusTruncated
)

func (s Status) String() string {
	if s == StatusTruncated {
		return "truncated"
	}
	return "complete"
}
