package layers

import (
	"fmt"

	"github.com/pkg/errors"

	"github.com/born-ml/dynamite/internal/graph"
	"github.com/born-ml/dynamite/internal/tensor"
)

// Builder composes model operations on values of type T.
//
// Dynamic implements it on *graph.Node (deferred, batched by the engine);
// Static implements it on *tensor.Value (eager, one example at a time).
// Model code is written once as generic functions over a Builder.
type Builder[T any] interface {
	// Constant wraps an input value.
	Constant(v *tensor.Value) T
	// Zeros returns a zero input of the given shape.
	Zeros(shape tensor.Shape) T
	// Embedding returns row index of the table parameter.
	Embedding(table *graph.Node, index int) T
	// RecurrentCell applies one step of cell to input x and state h.
	RecurrentCell(cell RNNCell, x, h T) T
	// Dense applies x·W + b.
	Dense(layer DenseLayer, x T) T
	// Activation applies an element-wise nonlinearity.
	Activation(act graph.Activation, x T) T
	// Barrier aligns the scheduling of every value carrying the same id.
	Barrier(x T, id int) T
	// Splice stacks equally shaped values into [k, ...].
	Splice(xs ...T) T
	// ReduceSum sums all elements into a scalar.
	ReduceSum(x T) T
	// CrossEntropyWithSoftmax returns the scalar softmax cross entropy of z
	// against a one-hot label.
	CrossEntropyWithSoftmax(z, label T) T
	// ClassificationError returns 1 if argmax(z) != argmax(label), else 0.
	ClassificationError(z, label T) T
}

// Mode selects the Builder implementation.
type Mode int

const (
	// ModeDynamic builds deferred graphs executed by the batching engine.
	ModeDynamic Mode = iota
	// ModeStatic computes every example eagerly with the cpu kernels.
	ModeStatic
)

func (m Mode) String() string {
	switch m {
	case ModeDynamic:
		return "dynamic"
	case ModeStatic:
		return "static"
	default:
		return fmt.Sprintf("Mode(%d)", int(m))
	}
}

// ParseMode converts "dynamic" or "static" into a Mode.
func ParseMode(s string) (Mode, error) {
	switch s {
	case "dynamic":
		return ModeDynamic, nil
	case "static":
		return ModeStatic, nil
	default:
		return 0, errors.Errorf("unknown mode %q (want dynamic or static)", s)
	}
}
