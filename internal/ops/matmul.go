package ops

import "github.com/born-ml/dynamite/internal/tensor"

// MatMul: output = x·W.
//
// Backward pass:
//   - d(x·W)/dx = dy·Wᵀ
//   - d(x·W)/dW = xᵀ·dy, summed over the batch in one GEMM when W is shared
func matMulForward(c *Call) (*tensor.Value, error) {
	return c.Backend.MatMul(c.Operands[0], c.Operands[1]), nil
}

func matMulBackward(c *Call, _, dy *tensor.Value) ([]*Grad, error) {
	x, w := c.Operands[0], c.Operands[1]
	dx, dw := c.Backend.MatMulGrad(x, w, dy)
	return []*Grad{fromBackend(x, dx), fromBackend(w, dw)}, nil
}

// RNNStep: output = act(x·W + h·R + b).
func rnnStepForward(c *Call) (*tensor.Value, error) {
	act, err := ActivationFor(c.Attrs.Activation)
	if err != nil {
		return nil, err
	}
	o := c.Operands
	return c.Backend.RNNStep(o[0], o[1], o[2], o[3], o[4], act), nil
}

func rnnStepBackward(c *Call, out, dy *tensor.Value) ([]*Grad, error) {
	act, err := ActivationFor(c.Attrs.Activation)
	if err != nil {
		return nil, err
	}
	o := c.Operands
	g := c.Backend.RNNStepGrad(o[0], o[1], o[2], o[3], o[4], out, dy, act)
	return []*Grad{
		fromBackend(o[0], g.X),
		fromBackend(o[1], g.H),
		fromBackend(o[2], g.W),
		fromBackend(o[3], g.R),
		fromBackend(o[4], g.B),
	}, nil
}
