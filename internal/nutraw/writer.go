package nutraw

import (
	"bufio"
	"encoding/binary"
	"fmt"
	"io"
	"math"
	"sort"
	"strconv"
	"strings"

	"github.com/spf13/afero"

	"sphyctre/internal/waveform"
)

// Writer encodes plots in the raw format. Binary output uses ByteOrder,
// which must be little or big.
type Writer struct {
	Encoding  waveform.Encoding
	ByteOrder Endian
}

// NewWriter returns a writer producing little-endian binary raw files
func NewWriter() *Writer {
	return &Writer{Encoding: waveform.EncodingBinary, ByteOrder: EndianLittle}
}

// WriteFile writes all plots to path, one header and data block per plot
func (w *Writer) WriteFile(fs afero.Fs, path string, plots ...*waveform.Plot) error {
	file, err := fs.Create(path)
	if err != nil {
		return fmt.Errorf("failed to create file: %w", err)
	}
	defer file.Close()

	if err := w.Write(file, plots...); err != nil {
		return err
	}
	return file.Sync()
}

// Write encodes plots to out
func (w *Writer) Write(out io.Writer, plots ...*waveform.Plot) error {
	bw := bufio.NewWriter(out)
	for _, p := range plots {
		if err := p.Validate(); err != nil {
			return fmt.Errorf("failed to write plot: %w", err)
		}
		h := HeaderFromPlot(p, w.Encoding)
		if err := w.writeHeader(bw, h); err != nil {
			return fmt.Errorf("failed to write header: %w", err)
		}
		var err error
		if w.Encoding == waveform.EncodingASCII {
			err = w.writeASCII(bw, p)
		} else {
			err = w.writeBinary(bw, p)
		}
		if err != nil {
			return fmt.Errorf("failed to write data for plot %q: %w", p.Name, err)
		}
	}
	return bw.Flush()
}

func (w *Writer) writeHeader(bw *bufio.Writer, h *Header) error {
	fmt.Fprintf(bw, "Title: %s\n", h.Title)
	fmt.Fprintf(bw, "Date: %s\n", h.Date)
	fmt.Fprintf(bw, "Plotname: %s\n", h.Plotname)
	fmt.Fprintf(bw, "Flags: %s\n", strings.Join(h.Flags, " "))
	fmt.Fprintf(bw, "No. Variables: %d\n", len(h.Variables))
	fmt.Fprintf(bw, "No. Points: %d\n", h.NumPoints)

	keys := make([]string, 0, len(h.Extra))
	for k := range h.Extra {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		for _, v := range strings.Split(h.Extra[k], "\n") {
			fmt.Fprintf(bw, "%s: %s\n", k, v)
		}
	}

	bw.WriteString("Variables:\n")
	for _, v := range h.Variables {
		typ := v.RawType
		if typ == "" {
			typ = v.Type.String()
		}
		fmt.Fprintf(bw, "\t%d\t%s\t%s\n", v.Index, v.Name, typ)
	}
	if h.Encoding == waveform.EncodingASCII {
		_, err := bw.WriteString("Values:\n")
		return err
	}
	_, err := bw.WriteString("Binary:\n")
	return err
}

func (w *Writer) writeBinary(bw *bufio.Writer, p *waveform.Plot) error {
	var order binary.ByteOrder = binary.LittleEndian
	if w.ByteOrder == EndianBig {
		order = binary.BigEndian
	}

	var buf [8]byte
	put := func(v float64) error {
		order.PutUint64(buf[:], math.Float64bits(v))
		_, err := bw.Write(buf[:])
		return err
	}
	for r := 0; r < p.Rows(); r++ {
		for i := range p.Variables {
			if p.Complex {
				c := p.Data.Complex[i][r]
				if err := put(real(c)); err != nil {
					return err
				}
				if err := put(imag(c)); err != nil {
					return err
				}
				continue
			}
			if err := put(p.Data.Real[i][r]); err != nil {
				return err
			}
		}
	}
	return nil
}

// writeASCII uses the indexed layout: the point index and first value on
// one line, remaining values on tab-indented continuation lines.
func (w *Writer) writeASCII(bw *bufio.Writer, p *waveform.Plot) error {
	for r := 0; r < p.Rows(); r++ {
		bw.WriteString(strconv.Itoa(r))
		for i := range p.Variables {
			if p.Complex {
				c := p.Data.Complex[i][r]
				fmt.Fprintf(bw, "\t%s,%s\n", formatFloat(real(c)), formatFloat(imag(c)))
				continue
			}
			fmt.Fprintf(bw, "\t%s\n", formatFloat(p.Data.Real[i][r]))
		}
	}
	_, err := bw.WriteString("\n")
	return err
}

// formatFloat prints the shortest text that parses back to the same value
func formatFloat(v float64) string {
	return strconv.FormatFloat(v, 'e', -1, 64)
}
