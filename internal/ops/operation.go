// Package ops defines the operator registry of the dynamite engine.
//
// Each operator kind has one Definition providing:
//   - Shape: the shape-inference rule (shared with graph construction)
//   - Forward: a batched kernel computing all members of a group at once
//   - Backward: a batched gradient kernel, grouped exactly like Forward
//
// Supported operations:
//   - Add, Sub, Mul, Neg: element-wise arithmetic
//   - Tanh, ReLU, Sigmoid, Exp, Log: element-wise functions
//   - MatMul: vector/matrix times matrix (d(x·W)/dx = dy·Wᵀ, d(x·W)/dW = xᵀ·dy)
//   - Lookup: embedding row gather with sparse table gradient
//   - Slice, Splice, ReduceSum: structural ops
//   - RNNStep: fused recurrent cell act(x·W + h·R + b)
//   - CrossEntropyWithSoftmax, ClassificationError: criteria
//   - Barrier: identity with scheduling semantics
package ops

import (
	"github.com/born-ml/dynamite/internal/backend/cpu"
	"github.com/born-ml/dynamite/internal/graph"
	"github.com/born-ml/dynamite/internal/tensor"
)

// Call describes one batched kernel invocation: a group of Size members that
// share a signature, with operand slot i of every member gathered into
// Operands[i].
type Call struct {
	Kind     graph.OpKind
	Attrs    graph.Attrs
	Operands []tensor.Batch
	Aux      []int // per-member datum, in stack order
	Size     int
	Backend  *cpu.Backend
}

// Grad is the batched gradient flowing into one operand slot.
//
// Exactly one representation is set:
//   - Dense with Shared=false: stacked [B, ...], one gradient per member
//   - Dense with Shared=true: already summed over the members (shared operand)
//   - Sparse: index-sparse rows for a shared table operand
//
// A nil *Grad means the slot receives no gradient.
type Grad struct {
	Dense  *tensor.Value
	Shared bool
	Sparse *tensor.SparseRows
}

// ForwardFunc computes the stacked [B, ...] output of a call.
type ForwardFunc func(c *Call) (*tensor.Value, error)

// BackwardFunc computes one gradient per operand slot from the forward
// output and its stacked gradient.
type BackwardFunc func(c *Call, out, outGrad *tensor.Value) ([]*Grad, error)

// Definition bundles the rules of one operator kind.
type Definition struct {
	Kind     graph.OpKind
	Shape    graph.ShapeRule
	Forward  ForwardFunc
	Backward BackwardFunc
}

// gradFor adapts a stacked gradient to its operand: shared operands receive
// the sum over members.
func gradFor(operand tensor.Batch, stacked *tensor.Value) *Grad {
	if operand.Shared {
		return &Grad{Dense: cpu.SumMembers(stacked), Shared: true}
	}
	return &Grad{Dense: stacked}
}

// fromBackend wraps a gradient the backend already reduced for shared operands.
func fromBackend(operand tensor.Batch, g *tensor.Value) *Grad {
	return &Grad{Dense: g, Shared: operand.Shared}
}
