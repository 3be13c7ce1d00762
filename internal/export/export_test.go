package export

import (
	"bytes"
	"encoding/json"
	"math"
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/spf13/afero"
	"github.com/stretchr/testify/require"
	"gopkg.in/yaml.v3"

	"sphyctre/internal/nutraw"
	"sphyctre/internal/waveform"
)

func tranPlot() *waveform.Plot {
	return &waveform.Plot{
		Title:    "bench",
		Name:     "Transient Analysis",
		Analysis: waveform.AnalysisTransient,
		Points:   3,
		Variables: []waveform.Variable{
			{Index: 0, Name: "time", Type: waveform.TypeTime, RawType: "time", Unit: "s"},
			{Index: 1, Name: "v1", Type: waveform.TypeVoltage, RawType: "voltage", Unit: "V"},
		},
		Data: waveform.DataBlock{Real: [][]float64{{0, 1e-6, 2e-6}, {0, 0.8, 1.2}}},
	}
}

func acPlot() *waveform.Plot {
	return &waveform.Plot{
		Name:     "AC Analysis",
		Analysis: waveform.AnalysisAC,
		Complex:  true,
		Points:   2,
		Variables: []waveform.Variable{
			{Index: 0, Name: "frequency", Type: waveform.TypeFrequency, RawType: "frequency", Unit: "Hz"},
			{Index: 1, Name: "out", Type: waveform.TypeVoltage, RawType: "voltage", Unit: "V"},
		},
		Data: waveform.DataBlock{Complex: [][]complex128{{1, 10}, {complex(3, 4), complex(0, 1)}}},
	}
}

func TestExportCSV(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, ExportCSV(&buf, tranPlot(), acPlot()))

	want := `# Plot,Transient Analysis
# Title,bench
# Analysis,transient
# Points,3
time,v1
0,0
1e-06,0.8
2e-06,1.2

# Plot,AC Analysis
# Analysis,ac
# Points,2
frequency_re,frequency_im,out_re,out_im
1,0,3,4
10,0,0,1
`
	if diff := cmp.Diff(want, buf.String()); diff != "" {
		t.Fatalf("CSV mismatch (-want +got):\n%s", diff)
	}
}

func TestExportJSON(t *testing.T) {
	p := tranPlot()
	p.Data.Real[1][2] = math.NaN()

	var buf bytes.Buffer
	require.NoError(t, ExportJSON(&buf, p, acPlot()))

	var doc struct {
		Plots []struct {
			Name      string `json:"name"`
			Analysis  string `json:"analysis"`
			Variables []struct {
				Name    string          `json:"name"`
				Values  json.RawMessage `json:"values"`
				Complex [][2]float64    `json:"complex"`
			} `json:"variables"`
		} `json:"plots"`
	}
	require.NoError(t, json.Unmarshal(buf.Bytes(), &doc))
	require.Len(t, doc.Plots, 2)
	require.Equal(t, "transient", doc.Plots[0].Analysis)
	require.JSONEq(t, `[0, 0.8, "NaN"]`, string(doc.Plots[0].Variables[1].Values))
	require.Equal(t, [][2]float64{{3, 4}, {0, 1}}, doc.Plots[1].Variables[1].Complex)
}

func TestSummarize(t *testing.T) {
	s := Summarize(acPlot())
	require.Equal(t, "ac", s.Analysis)
	require.Equal(t, 2, s.Points)
	require.Equal(t, VariableSummary{Name: "out", Type: "voltage", Unit: "V", Min: 1, Max: 5, Final: 1}, s.Variables[1])

	p := tranPlot()
	p.Data.Real[1][0] = math.NaN()
	s = Summarize(p)
	require.Equal(t, 0.8, s.Variables[1].Min)
	require.Equal(t, 1.2, s.Variables[1].Max)
}

func TestExportSummaryYAML(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, ExportSummary(&buf, tranPlot()))

	var got []Summary
	require.NoError(t, yaml.Unmarshal(buf.Bytes(), &got))
	require.Equal(t, []Summary{Summarize(tranPlot())}, got)
	require.True(t, strings.HasPrefix(buf.String(), "- name: Transient Analysis\n"))
}

func TestWriteFileRaw(t *testing.T) {
	fs := afero.NewMemMapFs()
	require.NoError(t, fs.MkdirAll("/out", 0o755))
	require.NoError(t, WriteFile(fs, "/out/result.raw", FormatFromPath("/out/result.raw"), tranPlot()))

	store, status, err := nutraw.ReadFile(fs, "/out/result.raw", nutraw.ReadOptions{ByteOrder: nutraw.EndianLittle})
	require.NoError(t, err)
	require.Equal(t, nutraw.StatusComplete, status)
	v1, err := store.Real("Transient Analysis", "v1")
	require.NoError(t, err)
	require.Equal(t, []float64{0, 0.8, 1.2}, v1)
}

func TestParseFormat(t *testing.T) {
	for in, want := range map[string]Format{"CSV": FormatCSV, "yml": FormatYAML, "binary": FormatRaw, "ascii": FormatRawASCII} {
		got, err := ParseFormat(in)
		require.NoError(t, err)
		require.Equal(t, want, got)
	}
	_, err := ParseFormat("xlsx")
	require.Error(t, err)

	require.Equal(t, FormatJSON, FormatFromPath("a/b.JSON"))
	require.Equal(t, FormatCSV, FormatFromPath("a/b"))
}

func TestFilename(t *testing.T) {
	require.Equal(t, "amp.csv", Filename("/decks/amp.scs", FormatCSV))
	require.Equal(t, "amp.raw", Filename("amp.cir", FormatRawASCII))
	require.Equal(t, "bias.yaml", Filename("bias", FormatYAML))
	require.Equal(t, FormatJSON, FormatFromPath(Filename("x.sp", FormatJSON)))
}
