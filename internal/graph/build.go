package graph

import (
	"github.com/pkg/errors"

	"github.com/born-ml/dynamite/internal/tensor"
)

// build infers the output shape and creates the node, panicking with a
// construction error on failure. No computation happens here.
func build(kind OpKind, attrs Attrs, aux int, operands ...*Node) *Node {
	shapes := make([]tensor.Shape, len(operands))
	for i, op := range operands {
		if op == nil {
			panic(errors.Errorf("graph.%s: operand %d is nil", kind, i))
		}
		shapes[i] = op.shape
	}
	return newNode(kind, InferShape(kind, attrs, aux, shapes...), attrs, aux, operands...)
}

// InferShape applies the shape rule of kind and returns the output shape.
// Like the builders, it panics with *ShapeMismatchError or
// *UnregisteredOperatorError; eager code paths use it to fail the same way
// graph construction does.
func InferShape(kind OpKind, attrs Attrs, aux int, shapes ...tensor.Shape) tensor.Shape {
	rule, err := ShapeRuleFor(kind)
	if err != nil {
		panic(err)
	}
	shape, err := rule(shapes, attrs, aux)
	if err != nil {
		throwShapeMismatch(kind, shapes, "%s", err.Error())
	}
	return shape
}

// Apply builds a node of an arbitrary computed kind. It is the generic entry
// point the typed builders below go through.
func Apply(kind OpKind, attrs Attrs, aux int, operands ...*Node) *Node {
	if kind.IsLeaf() {
		panic(errors.Errorf("graph.Apply: %s is a leaf kind", kind))
	}
	return build(kind, attrs, aux, operands...)
}

// Add returns a + b element-wise.
func Add(a, b *Node) *Node { return build(OpAdd, Attrs{}, 0, a, b) }

// Sub returns a - b element-wise.
func Sub(a, b *Node) *Node { return build(OpSub, Attrs{}, 0, a, b) }

// Mul returns a * b element-wise.
func Mul(a, b *Node) *Node { return build(OpMul, Attrs{}, 0, a, b) }

// Neg returns -x.
func Neg(x *Node) *Node { return build(OpNeg, Attrs{}, 0, x) }

// Tanh returns tanh(x).
func Tanh(x *Node) *Node { return build(OpTanh, Attrs{}, 0, x) }

// ReLU returns max(x, 0).
func ReLU(x *Node) *Node { return build(OpReLU, Attrs{}, 0, x) }

// Sigmoid returns 1/(1+e^-x).
func Sigmoid(x *Node) *Node { return build(OpSigmoid, Attrs{}, 0, x) }

// Exp returns e^x.
func Exp(x *Node) *Node { return build(OpExp, Attrs{}, 0, x) }

// Log returns the natural logarithm of x.
func Log(x *Node) *Node { return build(OpLog, Attrs{}, 0, x) }

// MatMul returns x·w for x of shape [n] or [r, n] and w of shape [n, m].
func MatMul(x, w *Node) *Node { return build(OpMatMul, Attrs{}, 0, x, w) }

// Lookup returns row index of table ([V, ...]), i.e. an embedding lookup.
func Lookup(table *Node, index int) *Node { return build(OpLookup, Attrs{}, index, table) }

// Slice returns row position of a sequence tensor x ([T, ...]).
func Slice(x *Node, position int) *Node { return build(OpSlice, Attrs{}, position, x) }

// Splice stacks equally shaped nodes into one node of shape [k, ...].
func Splice(xs ...*Node) *Node { return build(OpSplice, Attrs{}, 0, xs...) }

// ReduceSum sums all elements of x into a scalar.
func ReduceSum(x *Node) *Node { return build(OpReduceSum, Attrs{}, 0, x) }

// RNNStep returns act(x·W + h·R + b), one application of a recurrent cell.
func RNNStep(x, h, w, r, b *Node, act Activation) *Node {
	return build(OpRNNStep, Attrs{Activation: act}, 0, x, h, w, r, b)
}

// CrossEntropyWithSoftmax returns -Σ label·log(softmax(z)) as a scalar.
func CrossEntropyWithSoftmax(z, label *Node) *Node {
	return build(OpCrossEntropyWithSoftmax, Attrs{}, 0, z, label)
}

// ClassificationError returns 1 if argmax(z) != argmax(label), else 0.
// It has no gradient.
func ClassificationError(z, label *Node) *Node {
	return build(OpClassificationError, Attrs{}, 0, z, label)
}

// Barrier is an identity whose nodes sharing id are scheduled at the same
// level: every barrier of the group waits for the deepest one. It keeps the
// batching of what follows aligned across examples of uneven depth.
func Barrier(x *Node, id int) *Node {
	return build(OpBarrier, Attrs{BarrierID: id}, 0, x)
}
