package tensor

import (
	"math"
	"sort"

	"github.com/pkg/errors"
)

// SparseRows is an index-sparse tensor of shape [V, ...]: only the rows
// listed in Indices are stored, every other row is zero.
//
// It is the representation of embedding-table gradients, where a minibatch
// touches a handful of rows out of a large vocabulary.
type SparseRows struct {
	shape   Shape
	indices []int     // sorted, unique
	rows    []float32 // len(indices) * RowSize()
}

// NewSparseRows builds a sparse value from (index, row) pairs.
// Indices may repeat and come in any order; duplicated rows are summed.
func NewSparseRows(shape Shape, indices []int, rows []float32) (*SparseRows, error) {
	if len(shape) == 0 {
		return nil, errors.New("sparse rows require rank >= 1")
	}
	if err := shape.Validate(); err != nil {
		return nil, errors.Wrap(err, "invalid sparse shape")
	}
	rowSize := Shape(shape[1:]).NumElements()
	if len(rows) != len(indices)*rowSize {
		return nil, errors.Errorf("sparse rows: %d indices of row size %d need %d elements, got %d",
			len(indices), rowSize, len(indices)*rowSize, len(rows))
	}
	for _, idx := range indices {
		if idx < 0 || idx >= shape[0] {
			return nil, errors.Errorf("sparse rows: index %d out of range [0, %d)", idx, shape[0])
		}
	}
	return coalesce(shape, indices, rows, rowSize), nil
}

// EmptySparseRows returns a sparse zero of the given shape.
func EmptySparseRows(shape Shape) *SparseRows {
	return &SparseRows{shape: shape.Clone()}
}

// coalesce sorts indices and sums duplicated rows.
func coalesce(shape Shape, indices []int, rows []float32, rowSize int) *SparseRows {
	order := make([]int, len(indices))
	for i := range order {
		order[i] = i
	}
	sort.SliceStable(order, func(a, b int) bool { return indices[order[a]] < indices[order[b]] })

	out := &SparseRows{shape: shape.Clone()}
	for _, src := range order {
		idx := indices[src]
		row := rows[src*rowSize : (src+1)*rowSize]
		n := len(out.indices)
		if n > 0 && out.indices[n-1] == idx {
			dst := out.rows[(n-1)*rowSize:]
			for j, x := range row {
				dst[j] += x
			}
			continue
		}
		out.indices = append(out.indices, idx)
		out.rows = append(out.rows, row...)
	}
	return out
}

// Shape returns the dense shape this sparse value stands for.
func (s *SparseRows) Shape() Shape {
	return s.shape
}

// RowSize returns the number of elements per row.
func (s *SparseRows) RowSize() int {
	return Shape(s.shape[1:]).NumElements()
}

// NumEntries returns the number of stored (index, row) entries.
func (s *SparseRows) NumEntries() int {
	return len(s.indices)
}

// Indices returns the stored row indices in increasing order (read-only).
func (s *SparseRows) Indices() []int {
	return s.indices
}

// Row returns the i-th stored row (read-only).
func (s *SparseRows) Row(i int) []float32 {
	n := s.RowSize()
	return s.rows[i*n : (i+1)*n]
}

// Add returns s + other, merging rows that share an index.
func (s *SparseRows) Add(other *SparseRows) (*SparseRows, error) {
	if !s.shape.Equal(other.shape) {
		return nil, errors.Errorf("sparse add: shape %v vs %v", s.shape, other.shape)
	}
	n := s.RowSize()
	out := &SparseRows{
		shape:   s.shape.Clone(),
		indices: make([]int, 0, len(s.indices)+len(other.indices)),
		rows:    make([]float32, 0, len(s.rows)+len(other.rows)),
	}
	i, j := 0, 0
	for i < len(s.indices) || j < len(other.indices) {
		switch {
		case j >= len(other.indices) || (i < len(s.indices) && s.indices[i] < other.indices[j]):
			out.indices = append(out.indices, s.indices[i])
			out.rows = append(out.rows, s.Row(i)...)
			i++
		case i >= len(s.indices) || other.indices[j] < s.indices[i]:
			out.indices = append(out.indices, other.indices[j])
			out.rows = append(out.rows, other.Row(j)...)
			j++
		default:
			out.indices = append(out.indices, s.indices[i])
			a, b := s.Row(i), other.Row(j)
			for k := 0; k < n; k++ {
				out.rows = append(out.rows, a[k]+b[k])
			}
			i++
			j++
		}
	}
	return out, nil
}

// Scale returns s multiplied by f.
func (s *SparseRows) Scale(f float32) *SparseRows {
	out := &SparseRows{
		shape:   s.shape.Clone(),
		indices: append([]int(nil), s.indices...),
		rows:    make([]float32, len(s.rows)),
	}
	for i, x := range s.rows {
		out.rows[i] = x * f
	}
	return out
}

// ScatterInto returns dense + s as a new dense value. This is an explicit
// densification and allocates a full copy of dense.
func (s *SparseRows) ScatterInto(dense *Value) (*Value, error) {
	if !dense.Shape().Equal(s.shape) {
		return nil, errors.Errorf("sparse scatter: dense shape %v vs sparse shape %v", dense.Shape(), s.shape)
	}
	out := dense.Clone()
	data := out.Data()
	n := s.RowSize()
	for i, idx := range s.indices {
		dst := data[idx*n : (idx+1)*n]
		for k, x := range s.Row(i) {
			dst[k] += x
		}
	}
	return out, nil
}

// ToDense materializes s as a dense value.
func (s *SparseRows) ToDense() *Value {
	out, err := s.ScatterInto(Zeros(s.shape))
	if err != nil {
		panic(err) // shapes agree by construction
	}
	return out
}

// HasNonFinite reports whether any stored element is NaN or ±Inf.
func (s *SparseRows) HasNonFinite() bool {
	for _, x := range s.rows {
		f := float64(x)
		if math.IsNaN(f) || math.IsInf(f, 0) {
			return true
		}
	}
	return false
}
