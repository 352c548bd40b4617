// Copyright 2025 Born ML Framework. All rights reserved.
// Use of this source code is governed by an Apache 2.0
// license that can be found in the LICENSE file.

// Package graph builds the deferred per-example computation graphs that the
// dynamite engine executes in batches.
//
// Each builder returns a new Node with its output shape inferred on the
// spot; nothing is computed. Incompatible shapes panic with a
// *ShapeMismatchError, which Try converts into a returned error:
//
//	import "github.com/born-ml/dynamite/graph"
//
//	w := graph.NewParameter("W", tensor.Eye(3))
//	var y *graph.Node
//	if err := graph.Try(func() { y = graph.MatMul(x, w) }); err != nil {
//	    log.Printf("bad expression: %v", err)
//	}
package graph

import (
	"io"

	"github.com/born-ml/dynamite/internal/graph"
	"github.com/born-ml/dynamite/internal/tensor"
)

// Node is one deferred operation.
type Node = graph.Node

// NodeID is the identity of a Node.
type NodeID = graph.NodeID

// OpKind is the operator tag of a Node.
type OpKind = graph.OpKind

// Activation selects the nonlinearity of a fused recurrent step.
type Activation = graph.Activation

// Signature is the structural key used to batch nodes together.
type Signature = graph.Signature

// ShapeMismatchError is raised when operand shapes are incompatible.
type ShapeMismatchError = graph.ShapeMismatchError

// Stats counts the nodes of a graph by kind.
type Stats = graph.Stats

// UnregisteredOperatorError is raised for operator kinds without a definition.
type UnregisteredOperatorError = graph.UnregisteredOperatorError

// Activations.
const (
	ActIdentity = graph.ActIdentity
	ActReLU     = graph.ActReLU
	ActTanh     = graph.ActTanh
	ActSigmoid  = graph.ActSigmoid
)

// Constant wraps an immutable value as a leaf node.
func Constant(v *tensor.Value) *Node { return graph.Constant(v) }

// NewParameter creates a named, mutable leaf shared by every example graph.
func NewParameter(name string, v *tensor.Value) *Node { return graph.NewParameter(name, v) }

// Add returns a + b element-wise.
func Add(a, b *Node) *Node { return graph.Add(a, b) }

// Sub returns a - b element-wise.
func Sub(a, b *Node) *Node { return graph.Sub(a, b) }

// Mul returns a * b element-wise.
func Mul(a, b *Node) *Node { return graph.Mul(a, b) }

// Neg returns -x.
func Neg(x *Node) *Node { return graph.Neg(x) }

// Tanh returns tanh(x).
func Tanh(x *Node) *Node { return graph.Tanh(x) }

// ReLU returns max(x, 0).
func ReLU(x *Node) *Node { return graph.ReLU(x) }

// Sigmoid returns 1/(1+e^-x).
func Sigmoid(x *Node) *Node { return graph.Sigmoid(x) }

// Exp returns e^x.
func Exp(x *Node) *Node { return graph.Exp(x) }

// Log returns ln(x).
func Log(x *Node) *Node { return graph.Log(x) }

// MatMul returns x·w.
func MatMul(x, w *Node) *Node { return graph.MatMul(x, w) }

// Lookup returns row index of table.
func Lookup(table *Node, index int) *Node { return graph.Lookup(table, index) }

// Slice returns row position of x.
func Slice(x *Node, position int) *Node { return graph.Slice(x, position) }

// Splice stacks equally shaped nodes into [k, ...].
func Splice(xs ...*Node) *Node { return graph.Splice(xs...) }

// ReduceSum sums all elements of x.
func ReduceSum(x *Node) *Node { return graph.ReduceSum(x) }

// RNNStep returns act(x·W + h·R + b).
func RNNStep(x, h, w, r, b *Node, act Activation) *Node { return graph.RNNStep(x, h, w, r, b, act) }

// CrossEntropyWithSoftmax returns the softmax cross entropy of z against label.
func CrossEntropyWithSoftmax(z, label *Node) *Node { return graph.CrossEntropyWithSoftmax(z, label) }

// ClassificationError returns 1 if argmax(z) != argmax(label), else 0.
func ClassificationError(z, label *Node) *Node { return graph.ClassificationError(z, label) }

// Barrier aligns the scheduling level of every barrier sharing id.
func Barrier(x *Node, id int) *Node { return graph.Barrier(x, id) }

// Try runs fn and returns the construction error it raised, if any.
func Try(fn func()) error { return graph.Try(fn) }

// Dump writes a textual listing of the graph reachable from roots.
func Dump(w io.Writer, roots []*Node) error { return graph.Dump(w, roots) }

// CollectStats counts the nodes reachable from roots.
func CollectStats(roots []*Node) Stats { return graph.CollectStats(roots) }
