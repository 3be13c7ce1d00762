package nutraw

import (
	"bytes"
	"encoding/binary"
	"errors"
	"math"
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/spf13/afero"
	"github.com/stretchr/testify/require"

	"sphyctre/internal/waveform"
)

const tranHeader = `Title: test bench
Date: Mon Oct 19 06:56:00 2026
Plotname: Transient Analysis
Flags: real
No. Variables: 2
No. Points: 3
Variables:
	0	time	time
	1	v1	voltage
`

func binaryRows(order binary.ByteOrder, rows ...[]float64) []byte {
	var buf bytes.Buffer
	for _, row := range rows {
		for _, v := range row {
			binary.Write(&buf, order, v)
		}
	}
	return buf.Bytes()
}

func tranBinary(order binary.ByteOrder) []byte {
	data := binaryRows(order, []float64{0, 0}, []float64{1e-6, 0.8}, []float64{2e-6, 1.2})
	return append([]byte(tranHeader+"Binary:\n"), data...)
}

func mustParse(t *testing.T, data []byte, opts ReadOptions) []*waveform.Plot {
	t.Helper()
	plots, status, err := Parse(data, opts)
	require.NoError(t, err)
	require.Equal(t, StatusComplete, status)
	return plots
}

func TestParseASCIIRows(t *testing.T) {
	data := []byte(tranHeader + "Values:\n0.0 0.0\n1e-6 0.8\n2e-6 1.2\n")
	plots := mustParse(t, data, ReadOptions{})
	require.Len(t, plots, 1)

	p := plots[0]
	require.Equal(t, "Transient Analysis", p.Name)
	require.Equal(t, waveform.AnalysisTransient, p.Analysis)
	require.Equal(t, waveform.EncodingASCII, p.Encoding)

	tm, err := p.Real("time")
	require.NoError(t, err)
	require.Equal(t, []float64{0.0, 1e-6, 2e-6}, tm)
	v1, err := p.Real("v1")
	require.NoError(t, err)
	require.Equal(t, []float64{0.0, 0.8, 1.2}, v1)

	require.Equal(t, waveform.TypeVoltage, p.Variables[1].Type)
	require.Equal(t, "V", p.Variables[1].Unit)
}

func TestParseBinaryLittleEndian(t *testing.T) {
	plots := mustParse(t, tranBinary(binary.LittleEndian), ReadOptions{ByteOrder: EndianLittle})
	require.Len(t, plots, 1)
	require.Equal(t, [][]float64{{0, 1e-6, 2e-6}, {0, 0.8, 1.2}}, plots[0].Data.Real)
}

func TestParseBinaryAutoDetectsByteOrder(t *testing.T) {
	for _, order := range []binary.ByteOrder{binary.LittleEndian, binary.BigEndian} {
		plots := mustParse(t, tranBinary(order), ReadOptions{})
		require.Equal(t, [][]float64{{0, 1e-6, 2e-6}, {0, 0.8, 1.2}}, plots[0].Data.Real, order.String())
	}
}

func TestParseIndexedASCIIComplex(t *testing.T) {
	data := `Title: rc
Date: today
Plotname: AC Analysis
Flags: complex
No. Variables: 2
No. Points: 2
Variables:
	0	frequency	frequency grid=3
	1	v(out)	voltage
Values:
0	1.000000e+00,0.000000e+00
	9.9e-01,-1.0e-02

1	1.000000e+01,0.000000e+00
	5.0e-01,-5.0e-01
`
	plots := mustParse(t, []byte(data), ReadOptions{})
	p := plots[0]
	require.True(t, p.Complex)
	require.Equal(t, waveform.AnalysisAC, p.Analysis)

	out, err := p.ComplexData("v(out)")
	require.NoError(t, err)
	require.Equal(t, []complex128{complex(0.99, -0.01), complex(0.5, -0.5)}, out)

	_, err = p.Real("v(out)")
	require.ErrorIs(t, err, waveform.ErrTypeMismatch)
}

func TestParseMultiplePlots(t *testing.T) {
	var buf bytes.Buffer
	buf.Write(tranBinary(binary.LittleEndian))
	buf.WriteString(`Title: second
Date:
Plotname: DC transfer characteristic
Flags: real
No. Variables: 1
No. Points: 2
Variables:
	0	v-sweep	voltage
Values:
0	5.0
1	0.0
`)
	plots := mustParse(t, buf.Bytes(), ReadOptions{ByteOrder: EndianLittle})
	require.Len(t, plots, 2)
	require.Equal(t, "DC transfer characteristic", plots[1].Name)
	require.Equal(t, [][]float64{{5, 0}}, plots[1].Data.Real)
}

func TestParseZeroPoints(t *testing.T) {
	data := strings.Replace(tranHeader, "No. Points: 3", "No. Points: 0", 1) + "Binary:\n"
	plots := mustParse(t, []byte(data), ReadOptions{})
	p := plots[0]
	require.Equal(t, 0, p.Rows())
	require.Len(t, p.Data.Real, 2)
	for _, col := range p.Data.Real {
		require.NotNil(t, col)
		require.Empty(t, col)
	}
}

func TestDecodeBlockPartialRows(t *testing.T) {
	full := tranBinary(binary.LittleEndian)
	lx := lexer{buf: full, line: 1, final: true}
	h, n, err := lx.lexHeader()
	require.NoError(t, err)
	data := full[n:]

	rw := h.RowWidth()
	require.Equal(t, 16, rw)
	for r := 1; r < rw; r++ {
		cut := data[:rw+r]
		block, consumed, status, err := DecodeBlock(h, cut, DecodeOptions{ByteOrder: EndianLittle, Partial: true})
		require.NoError(t, err)
		require.Equal(t, StatusTruncated, status)
		require.Equal(t, 1, block.Rows())
		require.Equal(t, rw, consumed)
	}

	_, _, status, err := DecodeBlock(h, data[:2*rw+3], DecodeOptions{ByteOrder: EndianLittle})
	require.Equal(t, StatusTruncated, status)
	require.ErrorIs(t, err, ErrTruncatedStream)
}

func TestParseTruncatedStream(t *testing.T) {
	full := tranBinary(binary.LittleEndian)
	cut := full[:len(full)-5]

	_, _, err := Parse(cut, ReadOptions{ByteOrder: EndianLittle})
	var pe *ParseError
	require.True(t, errors.As(err, &pe), "got %v", err)
	require.ErrorIs(t, err, ErrTruncatedStream)

	plots, status, err := Parse(cut, ReadOptions{ByteOrder: EndianLittle, AllowPartial: true})
	require.NoError(t, err)
	require.Equal(t, StatusTruncated, status)
	require.Equal(t, 2, plots[0].Rows())
}

func TestParseShortASCIIPlotBeforeNextHeader(t *testing.T) {
	data := []byte(tranHeader + "Values:\n0.0 0.0\n1e-6 0.8\n" +
		strings.Replace(tranHeader, "Transient Analysis", "Second Run", 1) + "Values:\n0 0\n1 1\n2 2\n")

	_, status, err := Parse(data, ReadOptions{})
	require.Equal(t, StatusTruncated, status)
	require.ErrorIs(t, err, ErrTruncatedStream)
	require.NotErrorIs(t, err, ErrNumericParse)
	require.Contains(t, err.Error(), `"Transient Analysis"`)
	var pe *ParseError
	require.True(t, errors.As(err, &pe))
	require.Equal(t, 13, pe.Line)
	require.Equal(t, int64(bytes.LastIndex(data, []byte("Title:"))), pe.Offset)

	plots, status, err := Parse(data, ReadOptions{AllowPartial: true})
	require.NoError(t, err)
	require.Equal(t, StatusTruncated, status)
	require.Len(t, plots, 1)
	require.Equal(t, 2, plots[0].Rows())

	s := NewStream(EndianAuto)
	_, err = s.Feed(data)
	require.ErrorIs(t, err, ErrTruncatedStream)
}

func TestParseMalformedHeader(t *testing.T) {
	cases := map[string]string{
		"missing plotname": strings.Replace(tranHeader, "Plotname: Transient Analysis\n", "", 1) + "Binary:\n",
		"missing points":   strings.Replace(tranHeader, "No. Points: 3\n", "", 1) + "Binary:\n",
		"missing marker":   tranHeader,
		"missing vars":     "Plotname: x\nNo. Points: 0\nBinary:\n",
		"bad points":       strings.Replace(tranHeader, "No. Points: 3", "No. Points: three", 1) + "Binary:\n",
		"bad variable":     strings.Replace(tranHeader, "\t1\tv1\tvoltage", "\tone\tv1\tvoltage", 1) + "Binary:\n",
		"not key value":    "garbage line\n",
	}
	for name, data := range cases {
		_, _, err := Parse([]byte(data), ReadOptions{})
		require.ErrorIs(t, err, ErrMalformedHeader, name)
	}
}

func TestParseInconsistentHeader(t *testing.T) {
	cases := map[string]string{
		"count":     strings.Replace(tranHeader, "No. Variables: 2", "No. Variables: 3", 1) + "Binary:\n",
		"flag":      strings.Replace(tranHeader, "Flags: real", "Flags: real binary", 1) + "Values:\n",
		"negative":  strings.Replace(tranHeader, "No. Points: 3", "No. Points: -1", 1) + "Binary:\n",
		"index":     strings.Replace(tranHeader, "\t1\tv1", "\t2\tv1", 1) + "Binary:\n",
		"duplicate": strings.Replace(tranHeader, "\t1\tv1", "\t1\ttime", 1) + "Binary:\n",
	}
	for name, data := range cases {
		_, _, err := Parse([]byte(data), ReadOptions{})
		require.ErrorIs(t, err, ErrInconsistentHeader, name)
	}
}

func TestParseNumericError(t *testing.T) {
	data := []byte(tranHeader + "Values:\n0.0 0.0\n1e-6 abc\n2e-6 1.2\n")
	_, _, err := Parse(data, ReadOptions{})
	require.ErrorIs(t, err, ErrNumericParse)

	var pe *ParseError
	require.True(t, errors.As(err, &pe))
	require.Equal(t, 12, pe.Line)
	require.Equal(t, 6, pe.Column)
	require.Equal(t, int64(bytes.Index(data, []byte("abc"))), pe.Offset)
}

func TestParseNonMonotonicSweep(t *testing.T) {
	data := []byte(tranHeader + "Values:\n0.0 0.0\n2e-6 0.8\n1e-6 1.2\n")
	_, _, err := Parse(data, ReadOptions{})
	require.ErrorIs(t, err, waveform.ErrNonMonotonicSweep)
}

func TestParseToleratesTrailingWhitespace(t *testing.T) {
	data := strings.ReplaceAll(tranHeader, "\n", "  \r\n") + "Values: \r\n0.0 0.0\r\n1e-6 0.8\r\n2e-6 1.2\r\n\n\n"
	plots := mustParse(t, []byte(data), ReadOptions{})
	require.Equal(t, []float64{0, 0.8, 1.2}, plots[0].Data.Real[1])
}

func TestDecodeIsDeterministic(t *testing.T) {
	nan := math.Float64frombits(0x7ff8000000000123)
	data := append([]byte(tranHeader+"Binary:\n"),
		binaryRows(binary.LittleEndian, []float64{0, nan}, []float64{1, math.Inf(1)}, []float64{2, math.Inf(-1)})...)

	first := mustParse(t, data, ReadOptions{ByteOrder: EndianLittle})
	second := mustParse(t, data, ReadOptions{ByteOrder: EndianLittle})
	for i := range first[0].Data.Real {
		for j, v := range first[0].Data.Real[i] {
			require.Equal(t, math.Float64bits(v), math.Float64bits(second[0].Data.Real[i][j]))
		}
	}
	require.Equal(t, uint64(0x7ff8000000000123), math.Float64bits(first[0].Data.Real[1][0]))
}

func TestWriterRoundTrip(t *testing.T) {
	tran := &waveform.Plot{
		Title:    "rt",
		Date:     "today",
		Name:     "Transient Analysis",
		Analysis: waveform.AnalysisTransient,
		Variables: []waveform.Variable{
			{Index: 0, Name: "time", Type: waveform.TypeTime, RawType: "time", Unit: "s"},
			{Index: 1, Name: "i(vdd)", Type: waveform.TypeCurrent, RawType: "current", Unit: "A"},
		},
		Extra: map[string]string{"Command": "version 4.0"},
		Data: waveform.DataBlock{Real: [][]float64{
			{0, 1e-9, 2e-9, 3e-9},
			{-1.5e-3, math.SmallestNonzeroFloat64, math.MaxFloat64, 1.0 / 3.0},
		}},
	}
	ac := &waveform.Plot{
		Name:     "AC Analysis",
		Analysis: waveform.AnalysisAC,
		Complex:  true,
		Variables: []waveform.Variable{
			{Index: 0, Name: "frequency", Type: waveform.TypeFrequency, RawType: "frequency", Unit: "Hz"},
			{Index: 1, Name: "v(out)", Type: waveform.TypeVoltage, RawType: "voltage", Unit: "V"},
		},
		Data: waveform.DataBlock{Complex: [][]complex128{
			{1, 10, 100},
			{complex(1, 0), complex(0.7, -0.7), complex(0.01, -0.1)},
		}},
	}
	tran.Points, ac.Points = tran.Rows(), ac.Rows()

	writers := []*Writer{
		{Encoding: waveform.EncodingBinary, ByteOrder: EndianLittle},
		{Encoding: waveform.EncodingBinary, ByteOrder: EndianBig},
		{Encoding: waveform.EncodingASCII},
	}
	for _, w := range writers {
		var buf bytes.Buffer
		require.NoError(t, w.Write(&buf, tran, ac))

		plots := mustParse(t, buf.Bytes(), ReadOptions{ByteOrder: w.ByteOrder})
		require.Len(t, plots, 2)
		for i, want := range []*waveform.Plot{tran, ac} {
			got := plots[i]
			want := want.Clone()
			want.Encoding = w.Encoding
			if diff := cmp.Diff(want, got); diff != "" {
				t.Fatalf("%s/%s round trip mismatch (-want +got):\n%s", w.Encoding, w.ByteOrder, diff)
			}
		}
	}
}

func TestReadFileAndHeaders(t *testing.T) {
	fs := afero.NewMemMapFs()
	require.NoError(t, fs.MkdirAll("/sim", 0o755))
	require.NoError(t, afero.WriteFile(fs, "/sim/out.raw", tranBinary(binary.LittleEndian), 0o644))

	store, status, err := ReadFile(fs, "/sim/out.raw", ReadOptions{})
	require.NoError(t, err)
	require.Equal(t, StatusComplete, status)
	v1, err := store.Real("Transient Analysis", "v1")
	require.NoError(t, err)
	require.Equal(t, []float64{0, 0.8, 1.2}, v1)

	headers, err := ReadHeaders(fs, "/sim/out.raw")
	require.NoError(t, err)
	require.Len(t, headers, 1)
	require.Equal(t, 3, headers[0].NumPoints)

	huge := strings.Replace(tranHeader, "No. Points: 3", "No. Points: 576460752303423489", 1) + "Binary:\n"
	data := append([]byte(huge), binaryRows(binary.LittleEndian, []float64{0, 1})...)
	require.NoError(t, afero.WriteFile(fs, "/sim/huge.raw", data, 0o644))
	headers, err = ReadHeaders(fs, "/sim/huge.raw")
	require.ErrorIs(t, err, ErrTruncatedStream)
	var pe *ParseError
	require.True(t, errors.As(err, &pe))
	require.Len(t, headers, 1)
	require.Equal(t, 576460752303423489, headers[0].NumPoints)

	short := tranHeader + "Values:\n0.0 0.0\n1e-6 0.8\n" +
		strings.Replace(tranHeader, "Transient Analysis", "Second Run", 1) + "Values:\n0 0\n1 1\n2 2\n"
	require.NoError(t, afero.WriteFile(fs, "/sim/short.raw", []byte(short), 0o644))
	headers, err = ReadHeaders(fs, "/sim/short.raw")
	require.NoError(t, err)
	require.Len(t, headers, 2)
	require.Equal(t, "Second Run", headers[1].Plotname)
	require.Equal(t, 13, headers[1].Line)

	_, _, err = ReadFile(fs, "/sim/missing.raw", ReadOptions{})
	require.Error(t, err)
}

func TestStreamMatchesOneShotParse(t *testing.T) {
	var buf bytes.Buffer
	buf.Write(tranBinary(binary.LittleEndian))
	buf.WriteString(tranHeader + "Values:\n0\t0.0\n\t0.1\n1\t1e-6\n\t0.2\n2\t2e-6\n\t0.3\n")
	data := buf.Bytes()
	want := mustParse(t, data, ReadOptions{ByteOrder: EndianLittle})

	for _, chunk := range []int{1, 3, 16, len(data)} {
		s := NewStream(EndianLittle)
		got := map[int]*waveform.Plot{}
		var kinds []EventKind
		for off := 0; off < len(data); off += chunk {
			events, err := s.Feed(data[off:min(off+chunk, len(data))])
			require.NoError(t, err)
			for _, ev := range events {
				kinds = append(kinds, ev.Kind)
				if ev.Kind == EventComplete {
					got[ev.Index] = ev.Plot
				}
			}
		}
		events, err := s.Flush()
		require.NoError(t, err)
		for _, ev := range events {
			kinds = append(kinds, ev.Kind)
			if ev.Kind == EventComplete {
				got[ev.Index] = ev.Plot
			}
		}

		require.Len(t, got, 2, "chunk %d", chunk)
		for i := range want {
			if diff := cmp.Diff(want[i].Data, got[i].Data); diff != "" {
				t.Fatalf("chunk %d plot %d mismatch (-want +got):\n%s", chunk, i, diff)
			}
		}
		require.Equal(t, EventHeader, kinds[0])
		require.Equal(t, EventComplete, kinds[len(kinds)-1])
		require.Equal(t, int64(len(data)), s.Offset())
	}
}

func TestStreamReportsTruncatedRows(t *testing.T) {
	data := tranBinary(binary.LittleEndian)
	s := NewStream(EndianLittle)

	events, err := s.Feed(data[:len(data)-20])
	require.NoError(t, err)
	require.Len(t, events, 2)
	require.Equal(t, EventRows, events[1].Kind)
	require.Equal(t, StatusTruncated, events[1].Status)
	require.Equal(t, 1, events[1].Rows.Rows())

	name, pending := s.Pending()
	require.True(t, pending)
	require.Equal(t, "Transient Analysis", name)

	_, err = s.Flush()
	require.ErrorIs(t, err, ErrTruncatedStream)
}

func TestParseEndian(t *testing.T) {
	for in, want := range map[string]Endian{"": EndianAuto, "auto": EndianAuto, "LE": EndianLittle, "big": EndianBig} {
		got, err := ParseEndian(in)
		require.NoError(t, err)
		require.Equal(t, want, got)
	}
	_, err := ParseEndian("middle")
	require.Error(t, err)
}
