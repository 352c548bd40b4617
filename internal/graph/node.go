// Package graph defines the deferred computation graph of the dynamite
// engine.
//
// A Node records one operation: an operator kind, its operands and the output
// shape inferred at construction. Nothing is computed when a node is built;
// nodes are materialized later, in batches, by the engine. Every call to a
// builder creates a node with a fresh identity, even when it is structurally
// identical to an existing one.
package graph

import (
	"fmt"
	"sync/atomic"

	"github.com/pkg/errors"

	"github.com/born-ml/dynamite/internal/tensor"
)

// NodeID is the identity of a Node, unique within the process.
type NodeID uint64

var lastNodeID atomic.Uint64

// Attrs are the structural attributes of a node. They take part in the
// node's Signature: nodes with different attributes never batch together.
type Attrs struct {
	Activation Activation // OpRNNStep
	BarrierID  int        // OpBarrier
}

// Node is one deferred operation. Nodes are immutable once built, except for
// the value held by a parameter node.
type Node struct {
	id       NodeID
	kind     OpKind
	operands []*Node
	shape    tensor.Shape
	attrs    Attrs
	aux      int
	name     string
	sig      Signature

	value *tensor.Value // OpConstant
	param *paramState   // OpParameter
}

// paramState holds the current value of a parameter.
type paramState struct {
	value atomic.Pointer[tensor.Value]
}

func newNode(kind OpKind, shape tensor.Shape, attrs Attrs, aux int, operands ...*Node) *Node {
	n := &Node{
		id:       NodeID(lastNodeID.Add(1)),
		kind:     kind,
		operands: operands,
		shape:    shape,
		attrs:    attrs,
		aux:      aux,
	}
	n.sig = computeSignature(n)
	return n
}

// Constant wraps an immutable value as a leaf node.
func Constant(v *tensor.Value) *Node {
	if v == nil {
		panic(errors.New("graph.Constant: nil value"))
	}
	n := newNode(OpConstant, v.Shape().Clone(), Attrs{}, 0)
	n.value = v
	return n
}

// NewParameter creates a named, mutable leaf shared by every example graph
// that references it. Its value must only be replaced between minibatches,
// through the engine's Update.
func NewParameter(name string, v *tensor.Value) *Node {
	if v == nil {
		panic(errors.New("graph.NewParameter: nil value"))
	}
	n := newNode(OpParameter, v.Shape().Clone(), Attrs{}, 0)
	n.name = name
	n.param = &paramState{}
	n.param.value.Store(v)
	return n
}

// ID returns the node's identity.
func (n *Node) ID() NodeID {
	return n.id
}

// Kind returns the operator kind.
func (n *Node) Kind() OpKind {
	return n.kind
}

// Operands returns the operand nodes (read-only).
func (n *Node) Operands() []*Node {
	return n.operands
}

// Shape returns the inferred output shape.
func (n *Node) Shape() tensor.Shape {
	return n.shape
}

// Attrs returns the structural attributes.
func (n *Node) Attrs() Attrs {
	return n.attrs
}

// Aux returns the per-member integer datum: the row index of a Lookup or the
// position of a Slice. It is data, not structure, so it is not part of the
// signature.
func (n *Node) Aux() int {
	return n.aux
}

// Signature returns the node's structural signature.
func (n *Node) Signature() Signature {
	return n.sig
}

// Name returns the optional human-readable name.
func (n *Node) Name() string {
	return n.name
}

// WithName sets the node's name and returns the node. Names are cosmetic.
func (n *Node) WithName(name string) *Node {
	n.name = name
	return n
}

// IsParameter reports whether n is a parameter leaf.
func (n *Node) IsParameter() bool {
	return n.kind == OpParameter
}

// LeafValue returns the value of a constant, or the current value of a
// parameter. It returns nil for computed nodes.
func (n *Node) LeafValue() *tensor.Value {
	switch n.kind {
	case OpConstant:
		return n.value
	case OpParameter:
		return n.param.value.Load()
	default:
		return nil
	}
}

// Assign replaces a parameter's value. The engine's Update is the only
// caller that serializes this correctly against running evaluations.
func (n *Node) Assign(v *tensor.Value) error {
	if n.kind != OpParameter {
		return errors.Errorf("node %s is not a parameter", n)
	}
	if !v.Shape().Equal(n.shape) {
		return errors.WithStack(&ShapeMismatchError{
			Op:     OpParameter,
			Shapes: []tensor.Shape{n.shape, v.Shape()},
			Reason: fmt.Sprintf("cannot assign %v to parameter %q", v.Shape(), n.name),
		})
	}
	n.param.value.Store(v)
	return nil
}

// String returns a short description, e.g. "#12 MatMul(3)".
func (n *Node) String() string {
	if n.name != "" {
		return fmt.Sprintf("#%d %s %q%v", n.id, n.kind, n.name, n.shape)
	}
	return fmt.Sprintf("#%d %s%v", n.id, n.kind, n.shape)
}
