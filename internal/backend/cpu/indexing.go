package cpu

import (
	"fmt"

	"github.com/born-ml/dynamite/internal/parallel"
	"github.com/born-ml/dynamite/internal/tensor"
)

// rowSize returns the number of elements of one leading-axis row of shape s.
func rowSize(s tensor.Shape) int {
	return tensor.Shape(s[1:]).NumElements()
}

// Gather selects row indices[b] of member b of table ([V, ...] per member).
// With a shared table this is one embedding lookup for the whole batch.
func (cpu *Backend) Gather(table tensor.Batch, indices []int) *tensor.Value {
	shape := table.MemberShape()
	n := rowSize(shape)
	out := make([]float32, table.Size*n)
	for b, idx := range indices {
		if idx < 0 || idx >= shape[0] {
			panic(fmt.Sprintf("gather: index %d out of range [0, %d)", idx, shape[0]))
		}
		copy(out[b*n:(b+1)*n], table.Member(b)[idx*n:(idx+1)*n])
	}
	return tensor.Wrap(out, tensor.Shape(shape[1:]).Prepend(table.Size))
}

// GatherGradSparse scatters the stacked row gradients dy back onto a shared
// table as index-sparse rows. Repeated indices are summed; the dense table
// gradient is never materialized.
func GatherGradSparse(tableShape tensor.Shape, indices []int, dy *tensor.Value) (*tensor.SparseRows, error) {
	return tensor.NewSparseRows(tableShape, indices, dy.Data())
}

// GatherGradDense scatters dy into one dense table gradient per member.
// Used when the table operand is itself per-member (not shared).
func (cpu *Backend) GatherGradDense(tableShape tensor.Shape, indices []int, dy *tensor.Value) *tensor.Value {
	n := rowSize(tableShape)
	tableSize := tableShape.NumElements()
	out := make([]float32, len(indices)*tableSize)
	dyd := dy.Data()
	parallel.For(len(indices), func(b int) {
		idx := indices[b]
		copy(out[b*tableSize+idx*n:b*tableSize+(idx+1)*n], dyd[b*n:(b+1)*n])
	}, cpu.cfg)
	return tensor.Wrap(out, tableShape.Prepend(len(indices)))
}

// SliceRow selects row positions[b] of member b of x ([T, ...] per member).
// Members may have different positions: they only need equal shapes.
func (cpu *Backend) SliceRow(x tensor.Batch, positions []int) *tensor.Value {
	return cpu.Gather(x, positions)
}

// SliceRowGrad returns the stacked gradient of SliceRow: a zero tensor of the
// member shape with dy[b] placed at row positions[b].
func (cpu *Backend) SliceRowGrad(memberShape tensor.Shape, positions []int, dy *tensor.Value) *tensor.Value {
	return cpu.GatherGradDense(memberShape, positions, dy)
}

// Splice stacks the k operands of every member into a [k, ...] member.
func (cpu *Backend) Splice(operands []tensor.Batch) *tensor.Value {
	size := batchSize(operands...)
	inner := operands[0].MemberShape()
	n := inner.NumElements()
	k := len(operands)
	out := make([]float32, size*k*n)
	parallel.For(size, func(b int) {
		for j, op := range operands {
			copy(out[(b*k+j)*n:(b*k+j+1)*n], op.Member(b))
		}
	}, cpu.cfg)
	return tensor.Wrap(out, inner.Prepend(k).Prepend(size))
}

// SpliceGrad splits the stacked [B, k, ...] gradient into k stacked [B, ...]
// gradients, one per operand slot.
func SpliceGrad(dy *tensor.Value, k int) []*tensor.Value {
	shape := dy.Shape()
	size := shape[0]
	inner := tensor.Shape(shape[2:])
	n := inner.NumElements()
	dyd := dy.Data()
	grads := make([]*tensor.Value, k)
	for j := 0; j < k; j++ {
		data := make([]float32, size*n)
		for b := 0; b < size; b++ {
			copy(data[b*n:(b+1)*n], dyd[(b*k+j)*n:(b*k+j+1)*n])
		}
		grads[j] = tensor.Wrap(data, inner.Prepend(size))
	}
	return grads
}
