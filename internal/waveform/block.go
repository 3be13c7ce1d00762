package waveform

import "fmt"

// DataBlock stores one column per variable. Exactly one of Real and Complex
// is populated, following the plot's value domain.
type DataBlock struct {
	Real    [][]float64
	Complex [][]complex128
}

// NewDataBlock allocates an empty block with nvars columns and room for
// capacity rows per column.
func NewDataBlock(nvars int, complexData bool, capacity int) DataBlock {
	var b DataBlock
	if complexData {
		b.Complex = make([][]complex128, nvars)
		for i := range b.Complex {
			b.Complex[i] = make([]complex128, 0, capacity)
		}
		return b
	}
	b.Real = make([][]float64, nvars)
	for i := range b.Real {
		b.Real[i] = make([]float64, 0, capacity)
	}
	return b
}

// IsComplex reports whether the block holds complex columns
func (b DataBlock) IsComplex() bool {
	return b.Complex != nil
}

// Columns returns the number of variables
func (b DataBlock) Columns() int {
	if b.Complex != nil {
		return len(b.Complex)
	}
	return len(b.Real)
}

// Rows returns the number of points, taken from the first column
func (b DataBlock) Rows() int {
	if len(b.Complex) > 0 {
		return len(b.Complex[0])
	}
	if len(b.Real) > 0 {
		return len(b.Real[0])
	}
	return 0
}

// Sweep returns the first column as real values. For complex data the real
// part is used, which is where simulators put the sweep.
func (b DataBlock) Sweep() []float64 {
	if len(b.Complex) > 0 {
		out := make([]float64, len(b.Complex[0]))
		for i, c := range b.Complex[0] {
			out[i] = real(c)
		}
		return out
	}
	if len(b.Real) > 0 {
		return b.Real[0]
	}
	return nil
}

// Append adds the rows of delta to b. Both blocks must have the same shape.
func (b *DataBlock) Append(delta DataBlock) error {
	if delta.IsComplex() != b.IsComplex() || delta.Columns() != b.Columns() {
		return fmt.Errorf("append %d columns (complex=%t) to %d columns (complex=%t): %w",
			delta.Columns(), delta.IsComplex(), b.Columns(), b.IsComplex(), ErrTypeMismatch)
	}
	for i := range b.Complex {
		b.Complex[i] = append(b.Complex[i], delta.Complex[i]...)
	}
	for i := range b.Real {
		b.Real[i] = append(b.Real[i], delta.Real[i]...)
	}
	return nil
}

// Clone returns a deep copy of the block
func (b DataBlock) Clone() DataBlock {
	var c DataBlock
	if b.Complex != nil {
		c.Complex = make([][]complex128, len(b.Complex))
		for i, col := range b.Complex {
			c.Complex[i] = append(make([]complex128, 0, len(col)), col...)
		}
	}
	if b.Real != nil {
		c.Real = make([][]float64, len(b.Real))
		for i, col := range b.Real {
			c.Real[i] = append(make([]float64, 0, len(col)), col...)
		}
	}
	return c
}

func (b DataBlock) check(nvars int, complexData bool) error {
	if b.Columns() != nvars {
		return fmt.Errorf("data has %d columns for %d variables", b.Columns(), nvars)
	}
	if nvars > 0 && b.IsComplex() != complexData {
		return fmt.Errorf("data complex=%t for plot complex=%t: %w", b.IsComplex(), complexData, ErrTypeMismatch)
	}
	rows := b.Rows()
	for i, col := range b.Complex {
		if len(col) != rows {
			return fmt.Errorf("column %d has %d points, expected %d", i, len(col), rows)
		}
	}
	for i, col := range b.Real {
		if len(col) != rows {
			return fmt.Errorf("column %d has %d points, expected %d", i, len(col), rows)
		}
	}
	return nil
}

// CheckSweep verifies that sweep is non-decreasing, continuing from prev when
// hasPrev is set. It returns the last value seen and, on failure, the index
// of the first offending point.
func CheckSweep(sweep []float64, prev float64, hasPrev bool) (last float64, row int, ok bool) {
	last = prev
	for i, v := range sweep {
		if hasPrev && v < last {
			return last, i, false
		}
		last = v
		hasPrev = true
	}
	return last, -1, true
}
