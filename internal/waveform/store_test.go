package waveform

import (
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"
)

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func transientPlot(name string, time, v1 []float64) *Plot {
	return &Plot{
		Name:     name,
		Analysis: AnalysisTransient,
		Points:   len(time),
		Variables: []Variable{
			{Index: 0, Name: "time", Type: TypeTime, Unit: "s"},
			{Index: 1, Name: "v1", Type: TypeVoltage, Unit: "V"},
		},
		Data: DataBlock{Real: [][]float64{time, v1}},
	}
}

func TestStoreInsertAndQuery(t *testing.T) {
	s := NewStore(quietLogger())
	replaced := s.Insert(transientPlot("tran", []float64{0, 1e-6}, []float64{0, 0.8}))
	require.False(t, replaced)

	v1, err := s.Real("tran", "v1")
	require.NoError(t, err)
	require.Equal(t, []float64{0, 0.8}, v1)

	_, err = s.Get("ac")
	require.ErrorIs(t, err, ErrNotFound)

	_, err = s.Real("tran", "v2")
	require.ErrorIs(t, err, ErrNotFound)
}

func TestStoreReplaceLastWriteWins(t *testing.T) {
	s := NewStore(quietLogger())
	s.Insert(transientPlot("tran", []float64{0}, []float64{1}))
	require.True(t, s.Insert(transientPlot("tran", []float64{0}, []float64{2})))

	v1, err := s.Real("tran", "v1")
	require.NoError(t, err)
	require.Equal(t, []float64{2}, v1)
	require.Equal(t, []string{"tran"}, s.Names())
	require.Equal(t, 1, s.Len())
}

func TestStoreTypeMismatch(t *testing.T) {
	s := NewStore(quietLogger())
	s.Insert(transientPlot("tran", []float64{0}, []float64{1}))

	_, err := s.Complex("tran", "v1")
	require.ErrorIs(t, err, ErrTypeMismatch)

	ac := &Plot{
		Name:      "ac",
		Analysis:  AnalysisAC,
		Complex:   true,
		Variables: []Variable{{Index: 0, Name: "frequency", Type: TypeFrequency}},
		Data:      DataBlock{Complex: [][]complex128{{1, 10}}},
	}
	s.Insert(ac)
	_, err = s.Real("ac", "frequency")
	require.ErrorIs(t, err, ErrTypeMismatch)

	f, err := s.Complex("ac", "frequency")
	require.NoError(t, err)
	require.Equal(t, []complex128{1, 10}, f)
}

func TestStoreConcurrentAccess(t *testing.T) {
	s := NewStore(quietLogger())
	s.Insert(transientPlot("tran", []float64{0}, []float64{1}))

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(2)
		go func() {
			defer wg.Done()
			s.Insert(transientPlot("tran", []float64{0}, []float64{1}))
		}()
		go func() {
			defer wg.Done()
			if _, err := s.Real("tran", "v1"); err != nil {
				t.Errorf("read: %v", err)
			}
		}()
	}
	wg.Wait()
}

func TestStoreMerge(t *testing.T) {
	a := NewStore(quietLogger())
	b := NewStore(quietLogger())
	b.Insert(transientPlot("one", []float64{0}, []float64{1}))
	b.Insert(transientPlot("two", []float64{0}, []float64{1}))
	a.Merge(b)
	require.Equal(t, []string{"one", "two"}, a.Names())
	require.Len(t, a.Plots(), 2)
	require.Equal(t, "two", a.Plots()[1].Name)

	src, err := b.Get("one")
	require.NoError(t, err)
	dst, err := a.Get("one")
	require.NoError(t, err)
	require.NotSame(t, src, dst)
	src.Data.Real[1][0] = 42
	v, err := a.Real("one", "v1")
	require.NoError(t, err)
	require.Equal(t, []float64{1}, v)
}

func TestPlotValidate(t *testing.T) {
	ok := transientPlot("tran", []float64{0, 1, 1, 2}, []float64{0, 0, 0, 0})
	require.NoError(t, ok.Validate())

	bad := transientPlot("tran", []float64{0, 2, 1}, []float64{0, 0, 0})
	err := bad.Validate()
	require.True(t, errors.Is(err, ErrNonMonotonicSweep), "got %v", err)

	ragged := transientPlot("tran", []float64{0, 1}, []float64{0})
	require.Error(t, ragged.Validate())

	dc := transientPlot("dc", []float64{5, 0}, []float64{0, 0})
	dc.Analysis = AnalysisDC
	require.NoError(t, dc.Validate())
}

func TestAnalysisFromPlotname(t *testing.T) {
	cases := map[string]Analysis{
		"Transient Analysis `tran': time = (0 s -> 1 ns)": AnalysisTransient,
		"AC Analysis":                      AnalysisAC,
		"DC transfer characteristic":       AnalysisDC,
		"Operating Point":                  AnalysisOperatingPoint,
		"Noise Spectral Density Curves":    AnalysisNoise,
		"Pole-Zero Analysis":               AnalysisOther,
	}
	for name, want := range cases {
		require.Equal(t, want, AnalysisFromPlotname(name), name)
	}
}

func TestDataBlockAppend(t *testing.T) {
	b := NewDataBlock(2, false, 0)
	require.NoError(t, b.Append(DataBlock{Real: [][]float64{{0}, {1}}}))
	require.NoError(t, b.Append(DataBlock{Real: [][]float64{{1}, {2}}}))
	require.Equal(t, 2, b.Rows())
	require.ErrorIs(t, b.Append(NewDataBlock(2, true, 0)), ErrTypeMismatch)
}
