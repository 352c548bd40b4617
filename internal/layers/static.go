package layers

import (
	"github.com/born-ml/dynamite/internal/backend/cpu"
	"github.com/born-ml/dynamite/internal/engine"
	"github.com/born-ml/dynamite/internal/graph"
	"github.com/born-ml/dynamite/internal/ops"
	"github.com/born-ml/dynamite/internal/tensor"
)

// Static computes every operation immediately on one example's values,
// without batching and without autodiff. It checks shapes with the same
// rules as graph construction and panics the same way, so graph.Try
// recovers errors from both modes.
//
// Embedding lookups go through a one-hot row of the engine context's
// memoized identity matrix times the table, the dense form a sparse input
// takes in a static graph.
type Static struct {
	backend *cpu.Backend
	ctx     *engine.Context
}

var _ Builder[*tensor.Value] = (*Static)(nil)

// NewStatic returns a static builder using the kernels of backend and the
// memoized structures of ctx.
func NewStatic(backend *cpu.Backend, ctx *engine.Context) *Static {
	return &Static{backend: backend, ctx: ctx}
}

// one wraps a single example value as a batch of size one.
func one(v *tensor.Value) tensor.Batch {
	return tensor.SharedBatch(v, 1)
}

// Constant returns v.
func (s *Static) Constant(v *tensor.Value) *tensor.Value {
	return v
}

// Zeros returns the memoized zeros of shape.
func (s *Static) Zeros(shape tensor.Shape) *tensor.Value {
	return s.ctx.Zeros(shape)
}

// Embedding returns row index of the table's current value.
func (s *Static) Embedding(table *graph.Node, index int) *tensor.Value {
	shape := table.Shape()
	graph.InferShape(graph.OpLookup, graph.Attrs{}, index, shape)
	value := table.LeafValue()
	if shape.Rank() != 2 {
		return s.backend.Gather(one(value), []int{index}).Member(0)
	}
	onehot := s.ctx.OneHot(shape[0], index)
	return s.backend.MatMul(one(onehot), one(value)).Member(0)
}

// RecurrentCell returns act(x·W + h·R + b).
func (s *Static) RecurrentCell(cell RNNCell, x, h *tensor.Value) *tensor.Value {
	attrs := graph.Attrs{Activation: cell.Activation}
	w, r, b := cell.W.LeafValue(), cell.R.LeafValue(), cell.B.LeafValue()
	graph.InferShape(graph.OpRNNStep, attrs, 0, x.Shape(), h.Shape(), w.Shape(), r.Shape(), b.Shape())
	act, err := ops.ActivationFor(cell.Activation)
	if err != nil {
		panic(err)
	}
	return s.backend.RNNStep(one(x), one(h), one(w), one(r), one(b), act).Member(0)
}

// Dense returns x·W + b.
func (s *Static) Dense(layer DenseLayer, x *tensor.Value) *tensor.Value {
	w, b := layer.W.LeafValue(), layer.B.LeafValue()
	yShape := graph.InferShape(graph.OpMatMul, graph.Attrs{}, 0, x.Shape(), w.Shape())
	graph.InferShape(graph.OpAdd, graph.Attrs{}, 0, yShape, b.Shape())
	y := s.backend.MatMul(one(x), one(w))
	return s.backend.Add(tensor.Stacked(y), one(b)).Member(0)
}

// Activation applies act to x.
func (s *Static) Activation(act graph.Activation, x *tensor.Value) *tensor.Value {
	fn, err := ops.ActivationFor(act)
	if err != nil {
		panic(err)
	}
	return s.backend.Activate(one(x), fn).Member(0)
}

// Barrier returns x: it only affects batched scheduling.
func (s *Static) Barrier(x *tensor.Value, _ int) *tensor.Value {
	return x
}

// Splice stacks xs into [k, ...].
func (s *Static) Splice(xs ...*tensor.Value) *tensor.Value {
	shapes := make([]tensor.Shape, len(xs))
	batches := make([]tensor.Batch, len(xs))
	for i, x := range xs {
		shapes[i] = x.Shape()
		batches[i] = one(x)
	}
	graph.InferShape(graph.OpSplice, graph.Attrs{}, 0, shapes...)
	return s.backend.Splice(batches).Member(0)
}

// ReduceSum sums all elements of x.
func (s *Static) ReduceSum(x *tensor.Value) *tensor.Value {
	return s.backend.ReduceSum(one(x)).Member(0)
}

// CrossEntropyWithSoftmax returns -Σ label·log(softmax(z)).
func (s *Static) CrossEntropyWithSoftmax(z, label *tensor.Value) *tensor.Value {
	graph.InferShape(graph.OpCrossEntropyWithSoftmax, graph.Attrs{}, 0, z.Shape(), label.Shape())
	return s.backend.SoftmaxCrossEntropy(one(z), one(label)).Member(0)
}

// ClassificationError returns 1 if argmax(z) != argmax(label), else 0.
func (s *Static) ClassificationError(z, label *tensor.Value) *tensor.Value {
	graph.InferShape(graph.OpClassificationError, graph.Attrs{}, 0, z.Shape(), label.Shape())
	return s.backend.ClassificationError(one(z), one(label)).Member(0)
}
