package nutraw

import (
	"fmt"
	"strings"

	"sphyctre/internal/waveform"
)

// Header is the text preamble of one plot in a raw file
type Header struct {
	Title        string
	Date         string
	Plotname     string
	Flags        []string
	Complex      bool
	NumVariables int // -1 when the header has no "No. Variables" line
	NumPoints    int
	Variables    []waveform.Variable
	Encoding     waveform.Encoding
	Extra        map[string]string

	Offset     int64 // Stream offset of the first header line
	Line       int   // Line number of the first header line
	DataOffset int64 // Stream offset of the first data byte
	DataLine   int   // Line number of the first data line
}

// RowFields is the number of scalar fields per point
func (h *Header) RowFields() int {
	if h.Complex {
		return 2 * len(h.Variables)
	}
	return len(h.Variables)
}

// RowWidth is the size of one binary point in bytes
func (h *Header) RowWidth() int {
	return 8 * h.RowFields()
}

func (h *Header) hasFlag(flag string) bool {
	for _, f := range h.Flags {
		if f == flag {
			return true
		}
	}
	return false
}

// Validate checks the header for internal consistency
func (h *Header) Validate() error {
	fail := func(format string, args ...any) error {
		return &ParseError{Kind: ErrInconsistentHeader, Offset: h.Offset, Line: h.Line, Msg: fmt.Sprintf(format, args...)}
	}

	if h.NumVariables >= 0 && h.NumVariables != len(h.Variables) {
		return fail("No. Variables is %d but %d variables are listed", h.NumVariables, len(h.Variables))
	}
	if h.NumPoints < 0 {
		return fail("No. Points is negative (%d)", h.NumPoints)
	}
	seen := make(map[string]bool, len(h.Variables))
	for i, v := range h.Variables {
		if v.Index != i {
			return fail("variable %q has index %d, expected %d", v.Name, v.Index, i)
		}
		if seen[v.Name] {
			return fail("variable %q listed twice", v.Name)
		}
		seen[v.Name] = true
	}
	if h.hasFlag("real") && h.hasFlag("complex") {
		return fail("flags declare both real and complex data")
	}
	if h.Encoding == waveform.EncodingASCII && h.hasFlag("binary") {
		return fail("flags declare binary data but the data marker is Values:")
	}
	if h.Encoding == waveform.EncodingBinary && h.hasFlag("ascii") {
		return fail("flags declare ASCII data but the data marker is Binary:")
	}
	return nil
}

// Plot builds an empty plot carrying the header's metadata
func (h *Header) Plot() *waveform.Plot {
	var extra map[string]string
	if len(h.Extra) > 0 {
		extra = make(map[string]string, len(h.Extra))
		for k, v := range h.Extra {
			extra[k] = v
		}
	}
	return &waveform.Plot{
		Title:     h.Title,
		Date:      h.Date,
		Name:      h.Plotname,
		Analysis:  waveform.AnalysisFromPlotname(h.Plotname),
		Points:    h.NumPoints,
		Variables: append([]waveform.Variable(nil), h.Variables...),
		Complex:   h.Complex,
		Encoding:  h.Encoding,
		Extra:     extra,
		Data:      waveform.NewDataBlock(len(h.Variables), h.Complex, min(h.NumPoints, maxPrealloc)),
	}
}

// maxPrealloc caps column preallocation so a hostile header cannot force a
// huge allocation before any data has been seen.
const maxPrealloc = 1 << 16

// HeaderFromPlot derives the header used to write p
func HeaderFromPlot(p *waveform.Plot, enc waveform.Encoding) *Header {
	flags := []string{"real"}
	if p.Complex {
		flags = []string{"complex"}
	}
	return &Header{
		Title:        p.Title,
		Date:         p.Date,
		Plotname:     p.Name,
		Flags:        flags,
		Complex:      p.Complex,
		NumVariables: len(p.Variables),
		NumPoints:    p.Rows(),
		Variables:    p.Variables,
		Encoding:     enc,
		Extra:        p.Extra,
	}
}

func normalizeKey(k string) string {
	return strings.ToLower(strings.Join(strings.Fields(k), " "))
}
