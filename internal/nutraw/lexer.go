package nutraw

import (
	"bytes"
	"fmt"
	"strconv"
	"strings"

	"sphyctre/internal/waveform"
)

// lexer splits one header off the front of a buffer. It never reads beyond
// the buffer it is given.
type lexer struct {
	buf   []byte
	base  int64 // Stream offset of buf[0]
	line  int   // Line number of buf[0]
	final bool  // No more bytes will follow buf
}

// skipSpace returns the number of leading whitespace bytes in buf and the
// number of newlines among them.
func skipSpace(buf []byte) (n, lines int) {
	for n < len(buf) {
		switch buf[n] {
		case '\n':
			lines++
		case ' ', '\t', '\r', '\f':
		default:
			return n, lines
		}
		n++
	}
	return n, lines
}

// lexHeader parses the header at the start of l.buf. It returns the header
// and the number of bytes consumed up to and including the data marker
// line. Without l.final an incomplete header yields errNeedMore.
func (l *lexer) lexHeader() (*Header, int, error) {
	start, nl := skipSpace(l.buf)
	pos := start
	line := l.line + nl

	h := &Header{
		NumVariables: -1,
		NumPoints:    -1,
		Offset:       l.base + int64(start),
		Line:         line,
	}
	var (
		seenPlotname  bool
		seenVariables bool
		seenPoints    bool
		inVariables   bool
	)

	malformed := func(at int, ln int, format string, args ...any) error {
		return &ParseError{Kind: ErrMalformedHeader, Offset: l.base + int64(at), Line: ln, Msg: fmt.Sprintf(format, args...)}
	}

	for {
		if pos >= len(l.buf) {
			if !l.final {
				return nil, 0, errNeedMore
			}
			return nil, 0, malformed(pos, line, "missing Binary: or Values: marker")
		}

		end := bytes.IndexByte(l.buf[pos:], '\n')
		next := pos + end + 1
		if end < 0 {
			if !l.final {
				return nil, 0, errNeedMore
			}
			end = len(l.buf) - pos
			next = len(l.buf)
		}
		raw := string(l.buf[pos : pos+end])
		lineStart, lineNo := pos, line
		pos, line = next, line+1

		text := strings.TrimRight(raw, " \t\r")
		if strings.TrimSpace(text) == "" {
			continue
		}

		if inVariables && (text[0] == '\t' || text[0] == ' ') {
			v, err := parseVariable(text)
			if err != nil {
				return nil, 0, malformed(lineStart, lineNo, "%v", err)
			}
			h.Variables = append(h.Variables, v)
			continue
		}
		inVariables = false

		key, value, ok := strings.Cut(text, ":")
		if !ok {
			return nil, 0, malformed(lineStart, lineNo, "expected \"Key: Value\", got %q", text)
		}
		value = strings.TrimSpace(value)

		switch normalizeKey(key) {
		case "title":
			h.Title = value
		case "date":
			h.Date = value
		case "plotname":
			h.Plotname = value
			seenPlotname = true
		case "flags":
			h.Flags = strings.Fields(strings.ToLower(value))
			h.Complex = h.hasFlag("complex")
		case "no. variables":
			n, err := strconv.Atoi(value)
			if err != nil {
				return nil, 0, malformed(lineStart, lineNo, "No. Variables: %v", err)
			}
			h.NumVariables = n
		case "no. points":
			n, err := strconv.Atoi(value)
			if err != nil {
				return nil, 0, malformed(lineStart, lineNo, "No. Points: %v", err)
			}
			h.NumPoints = n
			seenPoints = true
		case "variables":
			seenVariables = true
			inVariables = true
			if value != "" {
				v, err := parseVariable(value)
				if err != nil {
					return nil, 0, malformed(lineStart, lineNo, "%v", err)
				}
				h.Variables = append(h.Variables, v)
			}
		case "binary", "values":
			if normalizeKey(key) == "values" {
				h.Encoding = waveform.EncodingASCII
			} else {
				h.Encoding = waveform.EncodingBinary
			}
			switch {
			case !seenPlotname:
				return nil, 0, malformed(lineStart, lineNo, "missing Plotname")
			case !seenVariables || len(h.Variables) == 0:
				return nil, 0, malformed(lineStart, lineNo, "missing variable list")
			case !seenPoints:
				return nil, 0, malformed(lineStart, lineNo, "missing No. Points")
			}
			h.DataOffset = l.base + int64(pos)
			h.DataLine = line
			if err := h.Validate(); err != nil {
				return nil, 0, err
			}
			return h, pos, nil
		default:
			if h.Extra == nil {
				h.Extra = make(map[string]string)
			}
			k := strings.TrimSpace(key)
			if prev, dup := h.Extra[k]; dup {
				value = prev + "\n" + value
			}
			h.Extra[k] = value
		}
	}
}

// parseVariable parses "index name type [attr=value ...]"
func parseVariable(s string) (waveform.Variable, error) {
	fields := strings.Fields(s)
	if len(fields) < 3 {
		return waveform.Variable{}, fmt.Errorf("variable line %q needs index, name and type", strings.TrimSpace(s))
	}
	idx, err := strconv.Atoi(fields[0])
	if err != nil {
		return waveform.Variable{}, fmt.Errorf("variable index %q: %w", fields[0], err)
	}
	typ := waveform.ParseVarType(fields[2])
	return waveform.Variable{
		Index:   idx,
		Name:    fields[1],
		Type:    typ,
		RawType: fields[2],
		Unit:    typ.Unit(),
	}, nil
}
