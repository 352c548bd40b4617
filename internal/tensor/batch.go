package tensor

import "fmt"

// Batch is one operand of a batched kernel call covering Size members.
//
// A stacked batch holds one slice per member along a leading axis of length
// Size. A shared batch holds a single value used by every member, which is
// how parameters enter a batched call without being replicated.
type Batch struct {
	Value  *Value
	Shared bool
	Size   int
}

// Stacked wraps a value of shape [B, ...] as a per-member batch.
func Stacked(v *Value) Batch {
	if v.Shape().Rank() == 0 {
		panic("tensor.Stacked: value must have a leading batch axis")
	}
	return Batch{Value: v, Size: v.Shape()[0]}
}

// SharedBatch wraps a single value used by all size members.
func SharedBatch(v *Value, size int) Batch {
	return Batch{Value: v, Shared: true, Size: size}
}

// MemberShape returns the per-member shape.
func (b Batch) MemberShape() Shape {
	if b.Shared {
		return b.Value.Shape()
	}
	return b.Value.Shape()[1:]
}

// MemberSize returns the number of elements per member.
func (b Batch) MemberSize() int {
	return b.MemberShape().NumElements()
}

// Member returns the storage of member i (read-only).
func (b Batch) Member(i int) []float32 {
	if i < 0 || i >= b.Size {
		panic(fmt.Sprintf("Batch.Member(%d) out of range [0, %d)", i, b.Size))
	}
	if b.Shared {
		return b.Value.Data()
	}
	n := b.MemberSize()
	return b.Value.Data()[i*n : (i+1)*n]
}

// Materialize returns a stacked [Size, ...] value, replicating shared data.
func (b Batch) Materialize() *Value {
	if !b.Shared {
		return b.Value
	}
	n := b.MemberSize()
	data := make([]float32, n*b.Size)
	for i := 0; i < b.Size; i++ {
		copy(data[i*n:], b.Value.Data())
	}
	return Wrap(data, b.MemberShape().Prepend(b.Size))
}
