// Package waveform holds decoded simulation results: plots, their variables
// and the sampled data, plus a concurrent store keyed by plot name.
package waveform

import (
	"errors"
	"fmt"
	"strings"
)

var (
	// ErrNotFound is returned when a plot or variable does not exist
	ErrNotFound = errors.New("not found")

	// ErrTypeMismatch is returned when real data is requested as complex or vice versa
	ErrTypeMismatch = errors.New("type mismatch")

	// ErrNonMonotonicSweep is returned when the sweep variable of a transient
	// or AC plot decreases
	ErrNonMonotonicSweep = errors.New("sweep variable is not monotonically non-decreasing")
)

// VarType tags what a variable measures
type VarType int

const (
	TypeOther VarType = iota
	TypeTime
	TypeVoltage
	TypeCurrent
	TypeFrequency
)

// ParseVarType maps a raw-file type word to a VarType. Both the nutmeg
// spellings and unit abbreviations are understood.
func ParseVarType(s string) VarType {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "time", "s", "sec":
		return TypeTime
	case "voltage", "v":
		return TypeVoltage
	case "current", "a":
		return TypeCurrent
	case "frequency", "freq", "hz":
		return TypeFrequency
	default:
		return TypeOther
	}
}

func (t VarType) String() string {
	switch t {
	case TypeTime:
		return "time"
	case TypeVoltage:
		return "voltage"
	case TypeCurrent:
		return "current"
	case TypeFrequency:
		return "frequency"
	default:
		return "other"
	}
}

// Unit returns the SI unit symbol for the type, empty for TypeOther
func (t VarType) Unit() string {
	switch t {
	case TypeTime:
		return "s"
	case TypeVoltage:
		return "V"
	case TypeCurrent:
		return "A"
	case TypeFrequency:
		return "Hz"
	default:
		return ""
	}
}

// Variable is one named signal of a plot
type Variable struct {
	Index   int     // Ordinal position in each data row
	Name    string  // Signal name, unique within the plot
	Type    VarType // Measured quantity
	RawType string  // Type word exactly as written in the header
	Unit    string  // Unit symbol derived from Type
}

// Analysis is the kind of simulation that produced a plot
type Analysis int

const (
	AnalysisOther Analysis = iota
	AnalysisTransient
	AnalysisAC
	AnalysisDC
	AnalysisOperatingPoint
	AnalysisNoise
)

// AnalysisFromPlotname derives the analysis kind from a plot name such as
// "Transient Analysis `tran': time = (0 s -> 1 ns)" or "AC Analysis".
func AnalysisFromPlotname(name string) Analysis {
	n := strings.ToLower(strings.TrimSpace(name))
	switch {
	case strings.HasPrefix(n, "transient"), strings.HasPrefix(n, "tran "):
		return AnalysisTransient
	case strings.HasPrefix(n, "ac "), n == "ac", strings.HasPrefix(n, "ac analysis"):
		return AnalysisAC
	case strings.HasPrefix(n, "dc "), n == "dc", strings.HasPrefix(n, "dc transfer"):
		return AnalysisDC
	case strings.HasPrefix(n, "operating point"), strings.HasPrefix(n, "dc operating point"):
		return AnalysisOperatingPoint
	case strings.HasPrefix(n, "noise"):
		return AnalysisNoise
	default:
		return AnalysisOther
	}
}

func (a Analysis) String() string {
	switch a {
	case AnalysisTransient:
		return "transient"
	case AnalysisAC:
		return "ac"
	case AnalysisDC:
		return "dc"
	case AnalysisOperatingPoint:
		return "op"
	case AnalysisNoise:
		return "noise"
	default:
		return "other"
	}
}

// Encoding of the data block in the raw file
type Encoding int

const (
	EncodingBinary Encoding = iota
	EncodingASCII
)

func (e Encoding) String() string {
	if e == EncodingASCII {
		return "ascii"
	}
	return "binary"
}

// Plot is the result of one analysis
type Plot struct {
	Title     string
	Date      string
	Name      string
	Analysis  Analysis
	Points    int // Declared number of points
	Variables []Variable
	Complex   bool
	Encoding  Encoding
	Extra     map[string]string // Header fields without a dedicated slot

	Data DataBlock
}

// Variable looks up a variable by name
func (p *Plot) Variable(name string) (Variable, error) {
	for _, v := range p.Variables {
		if v.Name == name {
			return v, nil
		}
	}
	return Variable{}, fmt.Errorf("variable %q in plot %q: %w", name, p.Name, ErrNotFound)
}

// Real returns the samples of a real-valued variable
func (p *Plot) Real(name string) ([]float64, error) {
	v, err := p.Variable(name)
	if err != nil {
		return nil, err
	}
	if p.Complex {
		return nil, fmt.Errorf("variable %q in plot %q is complex: %w", name, p.Name, ErrTypeMismatch)
	}
	return p.Data.Real[v.Index], nil
}

// ComplexData returns the samples of a complex-valued variable
func (p *Plot) ComplexData(name string) ([]complex128, error) {
	v, err := p.Variable(name)
	if err != nil {
		return nil, err
	}
	if !p.Complex {
		return nil, fmt.Errorf("variable %q in plot %q is real: %w", name, p.Name, ErrTypeMismatch)
	}
	return p.Data.Complex[v.Index], nil
}

// Rows returns the number of decoded points
func (p *Plot) Rows() int {
	return p.Data.Rows()
}

// SweepChecked reports whether the first variable must be non-decreasing
func (p *Plot) SweepChecked() bool {
	return p.Analysis == AnalysisTransient || p.Analysis == AnalysisAC
}

// Validate checks the column invariants: one column per variable, equal
// column lengths and a non-decreasing sweep for transient and AC plots.
func (p *Plot) Validate() error {
	if err := p.Data.check(len(p.Variables), p.Complex); err != nil {
		return fmt.Errorf("plot %q: %w", p.Name, err)
	}
	if !p.SweepChecked() || len(p.Variables) == 0 {
		return nil
	}
	if _, row, ok := CheckSweep(p.Data.Sweep(), 0, false); !ok {
		return fmt.Errorf("plot %q: %s decreases at point %d: %w",
			p.Name, p.Variables[0].Name, row, ErrNonMonotonicSweep)
	}
	return nil
}

// Clone returns a deep copy of the plot
func (p *Plot) Clone() *Plot {
	c := *p
	c.Variables = append([]Variable(nil), p.Variables...)
	if p.Extra != nil {
		c.Extra = make(map[string]string, len(p.Extra))
		for k, v := range p.Extra {
			c.Extra[k] = v
		}
	}
	c.Data = p.Data.Clone()
	return &c
}
