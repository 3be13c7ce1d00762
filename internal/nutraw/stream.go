package nutraw

import (
	"errors"
	"fmt"

	"sphyctre/internal/waveform"
)

// EventKind identifies what a stream event reports
type EventKind int

const (
	EventHeader   EventKind = iota // A new plot header was parsed
	EventRows                      // Points were decoded
	EventComplete                  // The plot has all declared points
)

func (k EventKind) String() string {
	switch k {
	case EventHeader:
		return "header"
	case EventRows:
		return "rows"
	default:
		return "complete"
	}
}

// Event is one step of incremental decoding.
//
// Header events carry a copy of the plot metadata without data. Rows events
// carry the newly decoded points, starting at FirstRow. Complete events hand
// over the finished plot; the stream keeps no reference to it.
type Event struct {
	Kind     EventKind
	Index    int // Ordinal of the plot within the stream
	Name     string
	Plot     *waveform.Plot
	FirstRow int
	Rows     waveform.DataBlock
	Status   Status
}

// Stream decodes a raw file as it grows. Each Feed does work proportional
// to the bytes supplied and never blocks.
type Stream struct {
	endian Endian
	buf    []byte
	base   int64 // Stream offset of buf[0]
	line   int

	dec       *blockDecoder
	plot      *waveform.Plot
	index     int
	sweepLast float64
	sweepSeen bool
}

// NewStream creates a stream decoder for binary data in the given byte order
func NewStream(endian Endian) *Stream {
	return &Stream{endian: endian, line: 1}
}

// Offset returns the number of bytes fully decoded so far
func (s *Stream) Offset() int64 {
	return s.base
}

// Pending returns the name of the plot being decoded, if any
func (s *Stream) Pending() (string, bool) {
	if s.plot == nil {
		return "", false
	}
	return s.plot.Name, true
}

// Feed appends p and decodes whatever became complete
func (s *Stream) Feed(p []byte) ([]Event, error) {
	s.buf = append(s.buf, p...)
	return s.process(false)
}

// Flush decodes the remaining bytes as the end of the stream. A plot left
// incomplete is reported with ErrTruncatedStream.
func (s *Stream) Flush() ([]Event, error) {
	events, err := s.process(true)
	if err != nil {
		return events, err
	}
	if s.dec != nil {
		return events, &ParseError{
			Kind:   ErrTruncatedStream,
			Offset: s.base,
			Msg:    fmt.Sprintf("plot %q declares %d points, stream ended after %d", s.plot.Name, s.dec.h.NumPoints, s.dec.row),
		}
	}
	return events, nil
}

func (s *Stream) consume(n int) {
	s.buf = s.buf[n:]
	s.base += int64(n)
}

func (s *Stream) process(final bool) ([]Event, error) {
	var events []Event
	for {
		if s.dec == nil {
			skip, nl := skipSpace(s.buf)
			if skip == len(s.buf) {
				s.consume(skip)
				s.line += nl
				return events, nil
			}
			lx := lexer{buf: s.buf, base: s.base, line: s.line, final: final}
			h, n, err := lx.lexHeader()
			if errors.Is(err, errNeedMore) {
				return events, nil
			}
			if err != nil {
				return events, err
			}
			s.consume(n)
			s.line = h.DataLine
			s.dec = newBlockDecoder(h, s.endian)
			s.plot = h.Plot()
			s.sweepSeen = false
			events = append(events, Event{Kind: EventHeader, Index: s.index, Name: h.Plotname, Plot: s.plot.Clone()})
		}

		first := s.dec.row
		block, n, err := s.dec.decode(s.buf, final)
		s.consume(n)
		s.line = s.dec.line
		if err != nil {
			return events, err
		}

		if block.Rows() > 0 {
			if s.plot.SweepChecked() {
				last, row, ok := waveform.CheckSweep(block.Sweep(), s.sweepLast, s.sweepSeen)
				if !ok {
					return events, fmt.Errorf("plot %q: %s decreases at point %d: %w",
						s.plot.Name, s.plot.Variables[0].Name, first+row, waveform.ErrNonMonotonicSweep)
				}
				s.sweepLast, s.sweepSeen = last, true
			}
			if err := s.plot.Data.Append(block); err != nil {
				return events, err
			}
			status := StatusTruncated
			if s.dec.done() {
				status = StatusComplete
			}
			events = append(events, Event{Kind: EventRows, Index: s.index, Name: s.plot.Name, FirstRow: first, Rows: block, Status: status})
		}

		if !s.dec.done() {
			return events, nil
		}
		events = append(events, Event{Kind: EventComplete, Index: s.index, Name: s.plot.Name, Plot: s.plot, Status: StatusComplete})
		s.dec, s.plot = nil, nil
		s.index++
	}
}
