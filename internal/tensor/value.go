package tensor

import (
	"fmt"
	"math"
	"strings"

	"github.com/pkg/errors"
)

// Value is an immutable dense float32 tensor.
//
// Values are never modified after construction: kernels allocate a fresh
// buffer for every result, and views produced by Member, Reshape or Unstack
// share storage safely because nobody writes to it.
type Value struct {
	shape  Shape
	dtype  DataType
	device Device
	data   []float32
}

// FromSlice creates a value from a Go slice. The slice is copied.
func FromSlice(data []float32, shape Shape) (*Value, error) {
	if err := shape.Validate(); err != nil {
		return nil, errors.Wrap(err, "invalid shape")
	}
	if shape.NumElements() != len(data) {
		return nil, errors.Errorf("shape %v requires %d elements, but got %d", shape, shape.NumElements(), len(data))
	}
	buf := make([]float32, len(data))
	copy(buf, data)
	return Wrap(buf, shape), nil
}

// Wrap creates a value that takes ownership of data without copying.
// The caller must not modify data afterwards. It panics if the sizes disagree,
// which always indicates a kernel bug.
func Wrap(data []float32, shape Shape) *Value {
	if shape.NumElements() != len(data) {
		panic(fmt.Sprintf("tensor.Wrap: shape %v requires %d elements, got %d", shape, shape.NumElements(), len(data)))
	}
	return &Value{
		shape:  shape.Clone(),
		dtype:  Float32,
		device: CPU,
		data:   data,
	}
}

// Zeros returns a zero-filled value.
func Zeros(shape Shape) *Value {
	return Wrap(make([]float32, shape.NumElements()), shape)
}

// Full returns a value with every element set to v.
func Full(shape Shape, v float32) *Value {
	data := make([]float32, shape.NumElements())
	for i := range data {
		data[i] = v
	}
	return Wrap(data, shape)
}

// Ones returns a value filled with ones.
func Ones(shape Shape) *Value {
	return Full(shape, 1)
}

// Scalar returns a rank-0 value.
func Scalar(v float32) *Value {
	return Wrap([]float32{v}, Shape{})
}

// Eye returns the n×n identity matrix.
func Eye(n int) *Value {
	data := make([]float32, n*n)
	for i := 0; i < n; i++ {
		data[i*n+i] = 1
	}
	return Wrap(data, Shape{n, n})
}

// OneHot returns a vector of size n with a single 1 at index idx.
func OneHot(n, idx int) *Value {
	data := make([]float32, n)
	data[idx] = 1
	return Wrap(data, Shape{n})
}

// Shape returns the value's shape.
func (v *Value) Shape() Shape {
	return v.shape
}

// DType returns the value's data type.
func (v *Value) DType() DataType {
	return v.dtype
}

// Device returns the value's compute device.
func (v *Value) Device() Device {
	return v.device
}

// NumElements returns the total number of elements.
func (v *Value) NumElements() int {
	return len(v.data)
}

// Data returns the underlying storage.
// WARNING: Values are immutable; callers must treat the slice as read-only.
func (v *Value) Data() []float32 {
	return v.data
}

// Item returns the single element of a one-element value.
func (v *Value) Item() float32 {
	if len(v.data) != 1 {
		panic(fmt.Sprintf("Value.Item() called on value of shape %v", v.shape))
	}
	return v.data[0]
}

// Clone returns a deep copy.
func (v *Value) Clone() *Value {
	buf := make([]float32, len(v.data))
	copy(buf, v.data)
	return Wrap(buf, v.shape)
}

// Reshape returns a view of v with a new shape of the same size.
func (v *Value) Reshape(shape Shape) (*Value, error) {
	if shape.NumElements() != len(v.data) {
		return nil, errors.Errorf("cannot reshape %v into %v", v.shape, shape)
	}
	return Wrap(v.data, shape), nil
}

// Member returns the i-th slice along the leading axis as a view.
func (v *Value) Member(i int) *Value {
	if len(v.shape) == 0 || i < 0 || i >= v.shape[0] {
		panic(fmt.Sprintf("Value.Member(%d) out of range for shape %v", i, v.shape))
	}
	inner := Shape(v.shape[1:])
	size := inner.NumElements()
	return Wrap(v.data[i*size:(i+1)*size:(i+1)*size], inner)
}

// Unstack splits v along the leading axis into views.
func (v *Value) Unstack() []*Value {
	if len(v.shape) == 0 {
		return []*Value{v}
	}
	out := make([]*Value, v.shape[0])
	for i := range out {
		out[i] = v.Member(i)
	}
	return out
}

// Stack stacks equally shaped values along a new leading axis.
func Stack(values []*Value) (*Value, error) {
	if len(values) == 0 {
		return nil, errors.New("tensor.Stack: no values")
	}
	inner := values[0].shape
	size := inner.NumElements()
	data := make([]float32, 0, size*len(values))
	for i, v := range values {
		if !v.shape.Equal(inner) {
			return nil, errors.Errorf("tensor.Stack: value %d has shape %v, expected %v", i, v.shape, inner)
		}
		data = append(data, v.data...)
	}
	return Wrap(data, inner.Prepend(len(values))), nil
}

// HasNonFinite reports whether any element is NaN or ±Inf.
func (v *Value) HasNonFinite() bool {
	for _, x := range v.data {
		f := float64(x)
		if math.IsNaN(f) || math.IsInf(f, 0) {
			return true
		}
	}
	return false
}

// AllClose reports whether a and b have the same shape and every pair of
// elements satisfies |a-b| <= atol + rtol*|b|.
func AllClose(a, b *Value, rtol, atol float64) bool {
	if !a.shape.Equal(b.shape) {
		return false
	}
	for i := range a.data {
		x, y := float64(a.data[i]), float64(b.data[i])
		if math.Abs(x-y) > atol+rtol*math.Abs(y) {
			return false
		}
	}
	return true
}

// String prints shape and (for small values) the elements.
func (v *Value) String() string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "Value%v", v.shape)
	if len(v.data) <= 16 {
		fmt.Fprintf(&sb, "%v", v.data)
	} else {
		fmt.Fprintf(&sb, "[%v ...]", v.data[:8])
	}
	return sb.String()
}
