package ops

import (
	"github.com/pkg/errors"

	"github.com/born-ml/dynamite/internal/backend/cpu"
	"github.com/born-ml/dynamite/internal/tensor"
)

// Lookup: output[b] = table[index_b].
//
// Backward: the row gradients are scattered back onto the table. For a shared
// table (the usual embedding parameter) the result is index-sparse: a batch
// touching 4 rows of a 2000-row vocabulary yields 4 entries, never a dense
// 2000-row tensor. Repeated indices accumulate.
func lookupForward(c *Call) (*tensor.Value, error) {
	return c.Backend.Gather(c.Operands[0], c.Aux), nil
}

func lookupBackward(c *Call, _, dy *tensor.Value) ([]*Grad, error) {
	table := c.Operands[0]
	if table.Shared {
		sparse, err := cpu.GatherGradSparse(table.MemberShape(), c.Aux, dy)
		if err != nil {
			return nil, errors.Wrap(err, "lookup backward")
		}
		return []*Grad{{Sparse: sparse, Shared: true}}, nil
	}
	return []*Grad{{Dense: c.Backend.GatherGradDense(table.MemberShape(), c.Aux, dy)}}, nil
}

// Slice: output[b] = x_b[position_b]. Gradients are dense.
func sliceForward(c *Call) (*tensor.Value, error) {
	return c.Backend.SliceRow(c.Operands[0], c.Aux), nil
}

func sliceBackward(c *Call, _, dy *tensor.Value) ([]*Grad, error) {
	x := c.Operands[0]
	return []*Grad{gradFor(x, c.Backend.SliceRowGrad(x.MemberShape(), c.Aux, dy))}, nil
}

// Splice: output[b] = [x1_b, ..., xk_b].
func spliceForward(c *Call) (*tensor.Value, error) {
	return c.Backend.Splice(c.Operands), nil
}

func spliceBackward(c *Call, _, dy *tensor.Value) ([]*Grad, error) {
	parts := cpu.SpliceGrad(dy, len(c.Operands))
	grads := make([]*Grad, len(parts))
	for i, p := range parts {
		grads[i] = gradFor(c.Operands[i], p)
	}
	return grads, nil
}

// ReduceSum: output[b] = Σ x_b. The gradient is dy broadcast to x's shape.
func reduceSumForward(c *Call) (*tensor.Value, error) {
	return c.Backend.ReduceSum(c.Operands[0]), nil
}

func reduceSumBackward(c *Call, _, dy *tensor.Value) ([]*Grad, error) {
	x := c.Operands[0]
	return []*Grad{gradFor(x, cpu.ReduceSumGrad(x.MemberShape(), dy))}, nil
}

// CrossEntropyWithSoftmax: output[b] = -Σ label·log(softmax(z)).
// Only the logits receive a gradient.
func crossEntropyForward(c *Call) (*tensor.Value, error) {
	return c.Backend.SoftmaxCrossEntropy(c.Operands[0], c.Operands[1]), nil
}

func crossEntropyBackward(c *Call, _, dy *tensor.Value) ([]*Grad, error) {
	z := c.Operands[0]
	dz := c.Backend.SoftmaxCrossEntropyGrad(z, c.Operands[1], dy)
	return []*Grad{gradFor(z, dz), nil}, nil
}

func classificationErrorForward(c *Call) (*tensor.Value, error) {
	return c.Backend.ClassificationError(c.Operands[0], c.Operands[1]), nil
}
