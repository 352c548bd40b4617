// Copyright 2025 Born ML Framework. All rights reserved.
// Use of this source code is governed by an Apache 2.0
// license that can be found in the LICENSE file.

package tensor

import "github.com/born-ml/dynamite/internal/tensor"

// Shape is the shape of a tensor; a rank-0 shape is a scalar.
type Shape = tensor.Shape

// DataType identifies the element type of a tensor.
type DataType = tensor.DataType

// Device identifies where a tensor lives.
type Device = tensor.Device

// Value is an immutable dense float32 tensor.
type Value = tensor.Value

// SparseRows is an index-sparse tensor of shape [V, ...].
type SparseRows = tensor.SparseRows

// Batch is one operand of a batched kernel call.
type Batch = tensor.Batch

// Data types.
const (
	Float32 = tensor.Float32
	Float64 = tensor.Float64
	Int32   = tensor.Int32
)

// Devices.
const (
	CPU = tensor.CPU
)

// FromSlice creates a value from a Go slice. The slice is copied.
func FromSlice(data []float32, shape Shape) (*Value, error) {
	return tensor.FromSlice(data, shape)
}

// Zeros returns a zero-filled value.
func Zeros(shape Shape) *Value {
	return tensor.Zeros(shape)
}

// Ones returns a value filled with ones.
func Ones(shape Shape) *Value {
	return tensor.Ones(shape)
}

// Full returns a value with every element set to v.
func Full(shape Shape, v float32) *Value {
	return tensor.Full(shape, v)
}

// Scalar returns a rank-0 value.
func Scalar(v float32) *Value {
	return tensor.Scalar(v)
}

// Eye returns the n×n identity matrix.
func Eye(n int) *Value {
	return tensor.Eye(n)
}

// OneHot returns a vector of size n with a single 1 at index idx.
func OneHot(n, idx int) *Value {
	return tensor.OneHot(n, idx)
}

// Stack stacks equally shaped values along a new leading axis.
func Stack(values []*Value) (*Value, error) {
	return tensor.Stack(values)
}

// NewSparseRows builds a sparse value from (index, row) pairs; duplicated
// indices are summed.
func NewSparseRows(shape Shape, indices []int, rows []float32) (*SparseRows, error) {
	return tensor.NewSparseRows(shape, indices, rows)
}

// AllClose reports whether |a-b| <= atol + rtol*|b| element-wise.
func AllClose(a, b *Value, rtol, atol float64) bool {
	return tensor.AllClose(a, b, rtol, atol)
}
