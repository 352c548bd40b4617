package layers

import (
	"github.com/born-ml/dynamite/internal/graph"
	"github.com/born-ml/dynamite/internal/tensor"
)

// Dynamic builds deferred graph nodes. Nothing is computed until the engine
// evaluates the returned nodes, batched across examples.
type Dynamic struct{}

var _ Builder[*graph.Node] = Dynamic{}

// Constant returns a constant leaf.
func (Dynamic) Constant(v *tensor.Value) *graph.Node {
	return graph.Constant(v)
}

// Zeros returns a zero constant leaf.
func (Dynamic) Zeros(shape tensor.Shape) *graph.Node {
	return graph.Constant(tensor.Zeros(shape))
}

// Embedding returns a lookup of row index.
func (Dynamic) Embedding(table *graph.Node, index int) *graph.Node {
	return graph.Lookup(table, index)
}

// RecurrentCell returns one fused RNN step.
func (Dynamic) RecurrentCell(cell RNNCell, x, h *graph.Node) *graph.Node {
	return graph.RNNStep(x, h, cell.W, cell.R, cell.B, cell.Activation)
}

// Dense returns x·W + b.
func (Dynamic) Dense(layer DenseLayer, x *graph.Node) *graph.Node {
	return graph.Add(graph.MatMul(x, layer.W), layer.B)
}

// Activation returns the nonlinearity applied to x.
func (Dynamic) Activation(act graph.Activation, x *graph.Node) *graph.Node {
	switch act {
	case graph.ActReLU:
		return graph.ReLU(x)
	case graph.ActTanh:
		return graph.Tanh(x)
	case graph.ActSigmoid:
		return graph.Sigmoid(x)
	default:
		return x
	}
}

// Barrier returns a barrier node of group id.
func (Dynamic) Barrier(x *graph.Node, id int) *graph.Node {
	return graph.Barrier(x, id)
}

// Splice stacks xs.
func (Dynamic) Splice(xs ...*graph.Node) *graph.Node {
	return graph.Splice(xs...)
}

// ReduceSum sums x.
func (Dynamic) ReduceSum(x *graph.Node) *graph.Node {
	return graph.ReduceSum(x)
}

// CrossEntropyWithSoftmax returns the softmax cross entropy node.
func (Dynamic) CrossEntropyWithSoftmax(z, label *graph.Node) *graph.Node {
	return graph.CrossEntropyWithSoftmax(z, label)
}

// ClassificationError returns the classification error node.
func (Dynamic) ClassificationError(z, label *graph.Node) *graph.Node {
	return graph.ClassificationError(z, label)
}
