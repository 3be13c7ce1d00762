package nutraw

import (
	"errors"
	"bytes"
	"encoding/binary"
	"fmt"
	"math"
	"strconv"
	"strings"

	"sphyctre/internal/waveform"
)

// Endian selects the byte order of binary data blocks
type Endian int

const (
	EndianAuto Endian = iota
	EndianLittle
	EndianBig
)

// ParseEndian accepts "auto", "little" and "big" (empty means auto)
func ParseEndian(s string) (Endian, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "auto":
		return EndianAuto, nil
	case "little", "le":
		return EndianLittle, nil
	case "big", "be":
		return EndianBig, nil
	default:
		return EndianAuto, fmt.Errorf("unknown byte order %q (must be auto, little or big)", s)
	}
}

func (e Endian) String() string {
	switch e {
	case EndianLittle:
		return "little"
	case EndianBig:
		return "big"
	default:
		return "auto"
	}
}

// DecodeOptions control data block decoding
type DecodeOptions struct {
	ByteOrder Endian
	// Partial decodes as many complete points as are available and reports
	// StatusTruncated instead of failing on short data.
	Partial bool
}

// DecodeBlock decodes the data segment that follows h. data must start at
// h.DataOffset; bytes after the block are left alone. It returns the decoded
// block and the number of bytes consumed.
func DecodeBlock(h *Header, data []byte, opts DecodeOptions) (waveform.DataBlock, int, Status, error) {
	d := newBlockDecoder(h, opts.ByteOrder)
	block, n, err := d.decode(data, !opts.Partial)
	if err != nil {
		if opts.Partial && errors.Is(err, ErrTruncatedStream) {
			return block, n, StatusTruncated, nil
		}
		return block, n, StatusTruncated, err
	}
	if d.row < h.NumPoints {
		if opts.Partial {
			return block, n, StatusTruncated, nil
		}
		return block, n, StatusTruncated, &ParseError{
			Kind:   ErrTruncatedStream,
			Offset: h.DataOffset + int64(n),
			Line:   d.line,
			Msg:    fmt.Sprintf("plot %q declares %d points, data holds %d", h.Plotname, h.NumPoints, d.row),
		}
	}
	return block, n, StatusComplete, nil
}

// blockDecoder decodes one plot's data incrementally
type blockDecoder struct {
	h      *Header
	endian Endian
	order  binary.ByteOrder // nil until resolved
	row    int              // Points decoded so far
	offset int64            // Stream offset of the next undecoded byte
	line   int              // Line number of the next undecoded byte (ASCII)
}

func newBlockDecoder(h *Header, endian Endian) *blockDecoder {
	d := &blockDecoder{h: h, endian: endian, offset: h.DataOffset, line: h.DataLine}
	switch endian {
	case EndianLittle:
		d.order = binary.LittleEndian
	case EndianBig:
		d.order = binary.BigEndian
	}
	return d
}

func (d *blockDecoder) done() bool {
	return d.row >= d.h.NumPoints
}

// decode consumes as many complete points from data as possible. final
// means no more bytes will follow, so a last ASCII line without newline is
// complete.
func (d *blockDecoder) decode(data []byte, final bool) (waveform.DataBlock, int, error) {
	var (
		block waveform.DataBlock
		n     int
		err   error
	)
	if d.h.Encoding == waveform.EncodingASCII {
		block, n, err = d.decodeASCII(data, final)
	} else {
		block = d.decodeBinary(data)
		n = block.Rows() * d.h.RowWidth()
	}
	d.offset += int64(n)
	return block, n, err
}

func (d *blockDecoder) decodeBinary(data []byte) waveform.DataBlock {
	h := d.h
	rw := h.RowWidth()
	rows := min(len(data)/rw, h.NumPoints-d.row)
	block := waveform.NewDataBlock(len(h.Variables), h.Complex, rows)
	if rows <= 0 {
		return block
	}
	if d.order == nil {
		d.order = detectByteOrder(data[:rows*rw], rw)
	}

	for r := 0; r < rows; r++ {
		row := data[r*rw : (r+1)*rw]
		for i := range h.Variables {
			if h.Complex {
				re := math.Float64frombits(d.order.Uint64(row[16*i:]))
				im := math.Float64frombits(d.order.Uint64(row[16*i+8:]))
				block.Complex[i] = append(block.Complex[i], complex(re, im))
			} else {
				block.Real[i] = append(block.Real[i], math.Float64frombits(d.order.Uint64(row[8*i:])))
			}
		}
	}
	d.row += rows
	return block
}

// detectByteOrder picks the byte order under which the first rows look like
// simulator output: finite values of sane magnitude. Ties go to little
// endian, the order ngspice writes on common hosts.
func detectByteOrder(data []byte, rw int) binary.ByteOrder {
	const maxRows = 16
	score := func(order binary.ByteOrder) int {
		s := 0
		for r := 0; r < maxRows && (r+1)*rw <= len(data); r++ {
			for off := r * rw; off < (r+1)*rw; off += 8 {
				if plausible(math.Float64frombits(order.Uint64(data[off:]))) {
					s++
				}
			}
		}
		return s
	}
	if score(binary.BigEndian) > score(binary.LittleEndian) {
		return binary.BigEndian
	}
	return binary.LittleEndian
}

func plausible(v float64) bool {
	if v == 0 {
		return true
	}
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return false
	}
	a := math.Abs(v)
	return a > 1e-60 && a < 1e60
}

// asciiToken is one numeric field of an ASCII data block
type asciiToken struct {
	text   string
	offset int // Offset in the data slice
	line   int
	column int
}

// decodeASCII groups lines into points. A point starts on a line that does
// not begin with a tab and continues over tab-indented lines. It carries
// either one field per scalar or the point index followed by the fields.
func (d *blockDecoder) decodeASCII(data []byte, final bool) (waveform.DataBlock, int, error) {
	h := d.h
	fields := h.RowFields()
	remaining := h.NumPoints - d.row
	block := waveform.NewDataBlock(len(h.Variables), h.Complex, min(remaining, maxPrealloc))

	pos, line := 0, d.line
	for count := 0; count < remaining; count++ {
		tokens, next, nextLine, ok, err := d.nextGroup(data, pos, line, fields, final)
		if err != nil {
			d.line = line
			return block, pos, err
		}
		if !ok {
			break
		}

		values := tokens
		switch len(tokens) {
		case fields:
		case fields + 1:
			idx, err := strconv.Atoi(tokens[0].text)
			if err != nil || idx != d.row {
				return block, pos, d.numericError(tokens[0], "point index %q, expected %d", tokens[0].text, d.row)
			}
			values = tokens[1:]
		default:
			t := tokens[0]
			return block, pos, d.numericError(t, "point %d has %d fields, expected %d", d.row, len(tokens), fields)
		}

		for i := range h.Variables {
			if h.Complex {
				re, err := d.parseToken(values[2*i])
				if err != nil {
					return block, pos, err
				}
				im, err := d.parseToken(values[2*i+1])
				if err != nil {
					return block, pos, err
				}
				block.Complex[i] = append(block.Complex[i], complex(re, im))
				continue
			}
			v, err := d.parseToken(values[i])
			if err != nil {
				return block, pos, err
			}
			block.Real[i] = append(block.Real[i], v)
		}
		d.row++
		pos, line = next, nextLine
	}
	d.line = line
	return block, pos, nil
}

// nextGroup collects the tokens of the point starting at pos. ok is false
// when the data ends before the point is known to be complete.
func (d *blockDecoder) nextGroup(data []byte, pos, line, fields int, final bool) (tokens []asciiToken, next, nextLine int, ok bool, err error) {
	p, ln := pos, line
	for {
		if p >= len(data) {
			// a short point at the very end is a truncation, not a parse error
			return tokens, p, ln, final && len(tokens) >= fields, nil
		}
		eol := bytes.IndexByte(data[p:], '\n')
		end, after := p+eol, p+eol+1
		if eol < 0 {
			if !final {
				return tokens, p, ln, false, nil
			}
			end, after = len(data), len(data)
		}
		text := data[p:end]

		if len(tokens) > 0 && (len(text) == 0 || text[0] != '\t') {
			// the next point starts here
			return tokens, p, ln, true, nil
		}
		if len(tokens) == 0 && len(bytes.TrimSpace(text)) == 0 {
			p, ln = after, ln+1
			continue
		}
		if len(tokens) == 0 && isHeaderLine(text) {
			return nil, p, ln, false, &ParseError{
				Kind:   ErrTruncatedStream,
				Offset: d.offset + int64(p),
				Line:   ln,
				Msg:    fmt.Sprintf("plot %q declares %d points, data holds %d before the next header", d.h.Plotname, d.h.NumPoints, d.row),
			}
		}

		tokens = appendTokens(tokens, text, p, ln)
		p, ln = after, ln+1

		switch {
		case len(tokens) > fields+1:
			t := tokens[0]
			return nil, 0, 0, false, d.numericError(t, "point %d has more than %d fields", d.row, fields+1)
		case len(tokens) == fields+1:
			return tokens, p, ln, true, nil
		case len(tokens) == fields && !isIndex(tokens[0].text, d.row):
			return tokens, p, ln, true, nil
		}
	}
}

// isHeaderLine reports whether a line reads as "Key: value". Data lines
// never hold a colon.
func isHeaderLine(text []byte) bool {
	if len(text) == 0 {
		return false
	}
	c := text[0] | 0x20
	return c >= 'a' && c <= 'z' && bytes.IndexByte(text, ':') > 0
}

func isIndex(s string, want int) bool {
	n, err := strconv.Atoi(s)
	return err == nil && n == want
}

// appendTokens splits a line on whitespace and commas
func appendTokens(tokens []asciiToken, text []byte, offset, line int) []asciiToken {
	i := 0
	for i < len(text) {
		for i < len(text) && isSep(text[i]) {
			i++
		}
		start := i
		for i < len(text) && !isSep(text[i]) {
			i++
		}
		if i > start {
			tokens = append(tokens, asciiToken{
				text:   string(text[start:i]),
				offset: offset + start,
				line:   line,
				column: start + 1,
			})
		}
	}
	return tokens
}

func isSep(c byte) bool {
	return c == ' ' || c == '\t' || c == '\r' || c == ','
}

func (d *blockDecoder) parseToken(t asciiToken) (float64, error) {
	v, err := strconv.ParseFloat(t.text, 64)
	if err != nil {
		return 0, d.numericError(t, "invalid number %q", t.text)
	}
	return v, nil
}

func (d *blockDecoder) numericError(t asciiToken, format string, args ...any) error {
	return &ParseError{
		Kind:   ErrNumericParse,
		Offset: d.offset + int64(t.offset),
		Line:   t.line,
		Column: t.column,
		Msg:    fmt.Sprintf(format, args...),
	}
}
