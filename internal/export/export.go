// Package export renders decoded plots as CSV, JSON, YAML summaries or raw files
package export

import (
	"encoding/csv"
	"encoding/json"
	"fmt"
	"io"
	"math"
	"math/cmplx"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/spf13/afero"
	"gopkg.in/yaml.v3"

	"sphyctre/internal/nutraw"
	"sphyctre/internal/waveform"
)

// Format names an output format
type Format string

const (
	FormatCSV      Format = "csv"
	FormatJSON     Format = "json"
	FormatYAML     Format = "yaml" // Summary only, no sample data
	FormatRaw      Format = "raw"  // Binary raw file
	FormatRawASCII Format = "ascii"
)

// ParseFormat accepts a format name; "yml" and "binary" are aliases
func ParseFormat(s string) (Format, error) {
	switch f := Format(strings.ToLower(strings.TrimSpace(s))); f {
	case FormatCSV, FormatJSON, FormatYAML, FormatRaw, FormatRawASCII:
		return f, nil
	case "yml":
		return FormatYAML, nil
	case "binary":
		return FormatRaw, nil
	default:
		return "", fmt.Errorf("unknown format %q (must be csv, json, yaml, raw or ascii)", s)
	}
}

// FormatFromPath picks the format from the file extension, defaulting to CSV
func FormatFromPath(path string) Format {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".json":
		return FormatJSON
	case ".yaml", ".yml":
		return FormatYAML
	case ".raw":
		return FormatRaw
	default:
		return FormatCSV
	}
}

// Extension returns the file extension written for f
func (f Format) Extension() string {
	switch f {
	case FormatJSON:
		return ".json"
	case FormatYAML:
		return ".yaml"
	case FormatRaw, FormatRawASCII:
		return ".raw"
	default:
		return ".csv"
	}
}

// Filename names the export of a deck: the deck base name without its
// extension, followed by the extension of f
func Filename(deckPath string, f Format) string {
	base := filepath.Base(deckPath)
	return strings.TrimSuffix(base, filepath.Ext(base)) + f.Extension()
}

// WriteFile exports plots to path in format f
func WriteFile(fs afero.Fs, path string, f Format, plots ...*waveform.Plot) error {
	file, err := fs.Create(path)
	if err != nil {
		return fmt.Errorf("failed to create %s file: %w", f, err)
	}
	defer file.Close()

	if err := Write(file, f, plots...); err != nil {
		return err
	}
	return file.Sync()
}

// Write exports plots to w in format f
func Write(w io.Writer, f Format, plots ...*waveform.Plot) error {
	switch f {
	case FormatCSV:
		return ExportCSV(w, plots...)
	case FormatJSON:
		return ExportJSON(w, plots...)
	case FormatYAML:
		return ExportSummary(w, plots...)
	case FormatRaw:
		return nutraw.NewWriter().Write(w, plots...)
	case FormatRawASCII:
		return (&nutraw.Writer{Encoding: waveform.EncodingASCII}).Write(w, plots...)
	default:
		return fmt.Errorf("unknown format %q", f)
	}
}

// ExportCSV writes one section per plot: commented metadata rows, a column
// header and one row per point. Complex variables get _re and _im columns.
func ExportCSV(w io.Writer, plots ...*waveform.Plot) error {
	writer := csv.NewWriter(w)

	for i, p := range plots {
		if i > 0 {
			writer.Write([]string{""}) // Empty line
		}
		writer.Write([]string{"# Plot", p.Name})
		if p.Title != "" {
			writer.Write([]string{"# Title", p.Title})
		}
		if p.Date != "" {
			writer.Write([]string{"# Date", p.Date})
		}
		writer.Write([]string{"# Analysis", p.Analysis.String()})
		writer.Write([]string{"# Points", strconv.Itoa(p.Rows())})

		header := make([]string, 0, len(p.Variables)*2)
		for _, v := range p.Variables {
			if p.Complex {
				header = append(header, v.Name+"_re", v.Name+"_im")
				continue
			}
			header = append(header, v.Name)
		}
		writer.Write(header)

		record := make([]string, len(header))
		for r := 0; r < p.Rows(); r++ {
			for j := range p.Variables {
				if p.Complex {
					c := p.Data.Complex[j][r]
					record[2*j] = formatFloat(real(c))
					record[2*j+1] = formatFloat(imag(c))
					continue
				}
				record[j] = formatFloat(p.Data.Real[j][r])
			}
			writer.Write(record)
		}
	}

	writer.Flush()
	if err := writer.Error(); err != nil {
		return fmt.Errorf("failed to write CSV: %w", err)
	}
	return nil
}

func formatFloat(v float64) string {
	return strconv.FormatFloat(v, 'g', -1, 64)
}

// jsonFloat encodes non-finite values as the strings "NaN", "+Inf" and "-Inf"
type jsonFloat float64

func (f jsonFloat) MarshalJSON() ([]byte, error) {
	v := float64(f)
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return []byte(strconv.Quote(formatFloat(v))), nil
	}
	return []byte(formatFloat(v)), nil
}

type jsonVariable struct {
	Name   string         `json:"name"`
	Type   string         `json:"type"`
	Unit   string         `json:"unit,omitempty"`
	Values []jsonFloat    `json:"values,omitempty"`
	Pairs  [][2]jsonFloat `json:"complex,omitempty"`
}

type jsonPlot struct {
	Name      string            `json:"name"`
	Title     string            `json:"title,omitempty"`
	Date      string            `json:"date,omitempty"`
	Analysis  string            `json:"analysis"`
	Complex   bool              `json:"complex"`
	Points    int               `json:"points"`
	Extra     map[string]string `json:"extra,omitempty"`
	Variables []jsonVariable    `json:"variables"`
}

// ExportJSON writes {"plots": [...]} with one value array per variable
func ExportJSON(w io.Writer, plots ...*waveform.Plot) error {
	doc := struct {
		Plots []jsonPlot `json:"plots"`
	}{Plots: make([]jsonPlot, 0, len(plots))}

	for _, p := range plots {
		jp := jsonPlot{
			Name:     p.Name,
			Title:    p.Title,
			Date:     p.Date,
			Analysis: p.Analysis.String(),
			Complex:  p.Complex,
			Points:   p.Rows(),
			Extra:    p.Extra,
		}
		for i, v := range p.Variables {
			jv := jsonVariable{Name: v.Name, Type: v.Type.String(), Unit: v.Unit}
			if p.Complex {
				jv.Pairs = make([][2]jsonFloat, len(p.Data.Complex[i]))
				for r, c := range p.Data.Complex[i] {
					jv.Pairs[r] = [2]jsonFloat{jsonFloat(real(c)), jsonFloat(imag(c))}
				}
			} else {
				jv.Values = make([]jsonFloat, len(p.Data.Real[i]))
				for r, x := range p.Data.Real[i] {
					jv.Values[r] = jsonFloat(x)
				}
			}
			jp.Variables = append(jp.Variables, jv)
		}
		doc.Plots = append(doc.Plots, jp)
	}

	encoder := json.NewEncoder(w)
	encoder.SetIndent("", "  ")
	if err := encoder.Encode(doc); err != nil {
		return fmt.Errorf("failed to encode JSON: %w", err)
	}
	return nil
}

// Summary describes a plot without its samples
type Summary struct {
	Name      string            `yaml:"name" json:"name"`
	Title     string            `yaml:"title,omitempty" json:"title,omitempty"`
	Date      string            `yaml:"date,omitempty" json:"date,omitempty"`
	Analysis  string            `yaml:"analysis" json:"analysis"`
	Complex   bool              `yaml:"complex" json:"complex"`
	Points    int               `yaml:"points" json:"points"`
	Variables []VariableSummary `yaml:"variables" json:"variables"`
}

// VariableSummary holds the range of one variable. Complex variables are
// summarised by magnitude. NaN values are skipped.
type VariableSummary struct {
	Name  string  `yaml:"name" json:"name"`
	Type  string  `yaml:"type" json:"type"`
	Unit  string  `yaml:"unit,omitempty" json:"unit,omitempty"`
	Min   float64 `yaml:"min" json:"min"`
	Max   float64 `yaml:"max" json:"max"`
	Final float64 `yaml:"final" json:"final"`
}

// Summarize computes the summary of p
func Summarize(p *waveform.Plot) Summary {
	s := Summary{
		Name:     p.Name,
		Title:    p.Title,
		Date:     p.Date,
		Analysis: p.Analysis.String(),
		Complex:  p.Complex,
		Points:   p.Rows(),
	}
	for i, v := range p.Variables {
		var values []float64
		if p.Complex {
			values = make([]float64, len(p.Data.Complex[i]))
			for r, c := range p.Data.Complex[i] {
				values[r] = cmplx.Abs(c)
			}
		} else {
			values = p.Data.Real[i]
		}
		vs := VariableSummary{Name: v.Name, Type: v.Type.String(), Unit: v.Unit}
		vs.Min, vs.Max, vs.Final = valueRange(values)
		s.Variables = append(s.Variables, vs)
	}
	return s
}

func valueRange(values []float64) (lo, hi, final float64) {
	lo, hi = math.Inf(1), math.Inf(-1)
	seen := false
	for _, v := range values {
		if math.IsNaN(v) {
			continue
		}
		lo, hi = math.Min(lo, v), math.Max(hi, v)
		seen = true
	}
	if !seen {
		return 0, 0, 0
	}
	return lo, hi, values[len(values)-1]
}

// ExportSummary writes the summaries of plots as a YAML list
func ExportSummary(w io.Writer, plots ...*waveform.Plot) error {
	summaries := make([]Summary, 0, len(plots))
	for _, p := range plots {
		summaries = append(summaries, Summarize(p))
	}
	encoder := yaml.NewEncoder(w)
	encoder.SetIndent(2)
	if err := encoder.Encode(summaries); err != nil {
		return fmt.Errorf("failed to encode YAML: %w", err)
	}
	return encoder.Close()
}
