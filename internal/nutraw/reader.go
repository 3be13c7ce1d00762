package nutraw

import (
	"errors"
	"fmt"
	"io"
	"log/slog"

	"github.com/spf13/afero"

	"sphyctre/internal/waveform"
)

// ReadOptions control one-shot reads of complete raw files
type ReadOptions struct {
	ByteOrder Endian
	// AllowPartial keeps a plot whose data block is cut short, marking the
	// read StatusTruncated, instead of failing with ErrTruncatedStream.
	AllowPartial bool
	Logger       *slog.Logger
}

func (o ReadOptions) logger() *slog.Logger {
	if o.Logger != nil {
		return o.Logger
	}
	return slog.Default()
}

// Parse decodes every plot in data. Plots are returned in file order.
func Parse(data []byte, opts ReadOptions) ([]*waveform.Plot, Status, error) {
	var plots []*waveform.Plot
	pos, line := 0, 1

	for {
		skip, _ := skipSpace(data[pos:])
		if pos+skip >= len(data) {
			return plots, StatusComplete, nil
		}

		lx := lexer{buf: data[pos:], base: int64(pos), line: line, final: true}
		h, n, err := lx.lexHeader()
		if err != nil {
			return plots, StatusComplete, err
		}
		pos += n

		d := newBlockDecoder(h, opts.ByteOrder)
		block, m, err := d.decode(data[pos:], true)
		truncated := errors.Is(err, ErrTruncatedStream)
		if err != nil && !truncated {
			return plots, StatusComplete, err
		}
		pos += m
		line = d.line

		p := h.Plot()
		p.Data = block
		if !d.done() {
			if !opts.AllowPartial {
				if truncated {
					return plots, StatusTruncated, err
				}
				return plots, StatusTruncated, &ParseError{
					Kind:   ErrTruncatedStream,
					Offset: int64(pos),
					Msg:    fmt.Sprintf("plot %q declares %d points, data holds %d", h.Plotname, h.NumPoints, d.row),
				}
			}
			opts.logger().Warn("raw data truncated", "plot", h.Plotname, "declared", h.NumPoints, "decoded", d.row)
			if err := p.Validate(); err != nil {
				return plots, StatusTruncated, err
			}
			return append(plots, p), StatusTruncated, nil
		}
		if err := p.Validate(); err != nil {
			return plots, StatusComplete, err
		}
		opts.logger().Debug("decoded plot", "plot", p.Name, "points", p.Rows(), "variables", len(p.Variables), "encoding", p.Encoding)
		plots = append(plots, p)
	}
}

// Read decodes a raw stream into a new store
func Read(r io.Reader, opts ReadOptions) (*waveform.Store, Status, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, StatusComplete, fmt.Errorf("failed to read raw data: %w", err)
	}
	plots, status, err := Parse(data, opts)
	if err != nil {
		return nil, status, err
	}
	store := waveform.NewStore(opts.Logger)
	for _, p := range plots {
		store.Insert(p)
	}
	return store, status, nil
}

// ReadFile decodes the raw file at path into a new store
func ReadFile(fs afero.Fs, path string, opts ReadOptions) (*waveform.Store, Status, error) {
	f, err := fs.Open(path)
	if err != nil {
		return nil, StatusComplete, fmt.Errorf("failed to open raw file: %w", err)
	}
	defer f.Close()

	store, status, err := Read(f, opts)
	if err != nil {
		return nil, status, fmt.Errorf("%s: %w", path, err)
	}
	return store, status, nil
}

// ReadHeaders returns the headers of every plot in the file without keeping
// sample data. Binary blocks are skipped by size. A plot whose data ends
// early is reported as ErrTruncatedStream along with the headers read so far.
func ReadHeaders(fs afero.Fs, path string) ([]*Header, error) {
	data, err := afero.ReadFile(fs, path)
	if err != nil {
		return nil, fmt.Errorf("failed to read raw file: %w", err)
	}

	var headers []*Header
	pos, line := 0, 1
	for {
		skip, _ := skipSpace(data[pos:])
		if pos+skip >= len(data) {
			return headers, nil
		}
		lx := lexer{buf: data[pos:], base: int64(pos), line: line, final: true}
		h, n, err := lx.lexHeader()
		if err != nil {
			return headers, fmt.Errorf("%s: %w", path, err)
		}
		headers = append(headers, h)
		pos += n

		if h.Encoding == waveform.EncodingBinary {
			// compare by division, the declared point count may be hostile
			rw := h.RowWidth()
			if rw == 0 || h.NumPoints > (len(data)-pos)/rw {
				return headers, &ParseError{
					Kind:   ErrTruncatedStream,
					Offset: int64(pos),
					Msg:    fmt.Sprintf("plot %q declares %d points, data holds %d", h.Plotname, h.NumPoints, (len(data)-pos)/max(rw, 1)),
				}
			}
			pos += h.NumPoints * rw
			continue
		}
		d := newBlockDecoder(h, EndianAuto)
		_, m, err := d.decode(data[pos:], true)
		pos += m
		line = d.line
		if errors.Is(err, ErrTruncatedStream) {
			// cut short by the next header, which is listed too
			continue
		}
		if err != nil {
			return headers, fmt.Errorf("%s: %w", path, err)
		}
		if !d.done() {
			return headers, &ParseError{
				Kind:   ErrTruncatedStream,
				Offset: int64(pos),
				Line:   line,
				Msg:    fmt.Sprintf("plot %q declares %d points, data holds %d", h.Plotname, h.NumPoints, d.row),
			}
		}
	}
}
