// Package layers provides the model building blocks of dynamite: embeddings,
// recurrent cells and dense layers, written once against the Builder
// interface and executed either lazily through the batching engine
// (Dynamic) or eagerly, one example at a time (Static).
//
// Both modes read the same parameter nodes, so a model built with Static is
// an exact reference for the same model built with Dynamic.
package layers

import (
	"fmt"
	"math"
	"math/rand"

	"github.com/born-ml/dynamite/internal/graph"
	"github.com/born-ml/dynamite/internal/tensor"
)

// Xavier returns a value drawn from U(-sqrt(6/(fanIn+fanOut)), +sqrt(...)).
//
// Parameters:
//   - rng: source of randomness (seeded by the caller for reproducibility)
//   - fanIn, fanOut: number of input and output units
//   - shape: shape of the weight tensor
func Xavier(rng *rand.Rand, fanIn, fanOut int, shape tensor.Shape) *tensor.Value {
	bound := math.Sqrt(6.0 / float64(fanIn+fanOut))
	data := make([]float32, shape.NumElements())
	for i := range data {
		data[i] = float32((rng.Float64()*2.0 - 1.0) * bound)
	}
	return tensor.Wrap(data, shape)
}

// RNNCell holds the parameters of a recurrent cell act(x·W + h·R + b).
type RNNCell struct {
	W, R, B    *graph.Node
	Activation graph.Activation
}

// NewRNNCell creates a cell mapping inputDim inputs to hiddenDim states.
func NewRNNCell(rng *rand.Rand, name string, inputDim, hiddenDim int, act graph.Activation) RNNCell {
	return RNNCell{
		W:          graph.NewParameter(name+".W", Xavier(rng, inputDim, hiddenDim, tensor.Shape{inputDim, hiddenDim})),
		R:          graph.NewParameter(name+".R", Xavier(rng, hiddenDim, hiddenDim, tensor.Shape{hiddenDim, hiddenDim})),
		B:          graph.NewParameter(name+".b", tensor.Zeros(tensor.Shape{hiddenDim})),
		Activation: act,
	}
}

// HiddenDim returns the size of the cell's state.
func (c RNNCell) HiddenDim() int {
	return c.R.Shape()[0]
}

// Parameters returns W, R and b.
func (c RNNCell) Parameters() []*graph.Node {
	return []*graph.Node{c.W, c.R, c.B}
}

// DenseLayer holds the parameters of x·W + b.
type DenseLayer struct {
	W, B *graph.Node
}

// NewDenseLayer creates a dense layer with Xavier weights and zero bias.
func NewDenseLayer(rng *rand.Rand, name string, inputDim, outputDim int) DenseLayer {
	return DenseLayer{
		W: graph.NewParameter(name+".W", Xavier(rng, inputDim, outputDim, tensor.Shape{inputDim, outputDim})),
		B: graph.NewParameter(name+".b", tensor.Zeros(tensor.Shape{outputDim})),
	}
}

// Parameters returns W and b.
func (d DenseLayer) Parameters() []*graph.Node {
	return []*graph.Node{d.W, d.B}
}

// NewEmbedding creates a [vocab, dim] embedding table.
func NewEmbedding(rng *rand.Rand, name string, vocab, dim int) *graph.Node {
	return graph.NewParameter(name+".E", Xavier(rng, vocab, dim, tensor.Shape{vocab, dim}))
}

// Describe lists parameters as "name[shape]", e.g. for a startup log line.
func Describe(params []*graph.Node) []string {
	out := make([]string, len(params))
	for i, p := range params {
		out[i] = fmt.Sprintf("%s%v", p.Name(), p.Shape())
	}
	return out
}

// NumElements returns the total number of parameter elements.
func NumElements(params []*graph.Node) int {
	n := 0
	for _, p := range params {
		n += p.Shape().NumElements()
	}
	return n
}
