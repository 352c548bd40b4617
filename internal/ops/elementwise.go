package ops

import (
	"github.com/pkg/errors"

	"github.com/born-ml/dynamite/internal/backend/cpu"
	"github.com/born-ml/dynamite/internal/graph"
	"github.com/born-ml/dynamite/internal/tensor"
)

// activationOf maps an element-wise activation kind to its kernel functions.
func activationOf(kind graph.OpKind) (cpu.Activation, error) {
	switch kind {
	case graph.OpTanh:
		return cpu.Tanh, nil
	case graph.OpReLU:
		return cpu.ReLU, nil
	case graph.OpSigmoid:
		return cpu.Sigmoid, nil
	default:
		return cpu.Activation{}, errors.Errorf("%s is not an activation", kind)
	}
}

// ActivationFor maps the structural activation attribute of a fused step to
// its kernel functions.
func ActivationFor(act graph.Activation) (cpu.Activation, error) {
	switch act {
	case graph.ActIdentity:
		return cpu.Identity, nil
	case graph.ActReLU:
		return cpu.ReLU, nil
	case graph.ActTanh:
		return cpu.Tanh, nil
	case graph.ActSigmoid:
		return cpu.Sigmoid, nil
	default:
		return cpu.Activation{}, errors.Errorf("unknown activation %s", act)
	}
}

// d(a+b)/da = d(a+b)/db = 1.
func addForward(c *Call) (*tensor.Value, error) {
	return c.Backend.Add(c.Operands[0], c.Operands[1]), nil
}

func addBackward(c *Call, _, dy *tensor.Value) ([]*Grad, error) {
	return []*Grad{gradFor(c.Operands[0], dy), gradFor(c.Operands[1], dy)}, nil
}

// d(a-b)/da = 1, d(a-b)/db = -1.
func subForward(c *Call) (*tensor.Value, error) {
	return c.Backend.Sub(c.Operands[0], c.Operands[1]), nil
}

func subBackward(c *Call, _, dy *tensor.Value) ([]*Grad, error) {
	neg := c.Backend.Neg(tensor.Stacked(dy))
	return []*Grad{gradFor(c.Operands[0], dy), gradFor(c.Operands[1], neg)}, nil
}

// d(a*b)/da = b, d(a*b)/db = a.
func mulForward(c *Call) (*tensor.Value, error) {
	return c.Backend.Mul(c.Operands[0], c.Operands[1]), nil
}

func mulBackward(c *Call, _, dy *tensor.Value) ([]*Grad, error) {
	g := tensor.Stacked(dy)
	da := c.Backend.Mul(g, c.Operands[1])
	db := c.Backend.Mul(g, c.Operands[0])
	return []*Grad{gradFor(c.Operands[0], da), gradFor(c.Operands[1], db)}, nil
}

func negForward(c *Call) (*tensor.Value, error) {
	return c.Backend.Neg(c.Operands[0]), nil
}

func negBackward(c *Call, _, dy *tensor.Value) ([]*Grad, error) {
	return []*Grad{gradFor(c.Operands[0], c.Backend.Neg(tensor.Stacked(dy)))}, nil
}

// d(e^x)/dx = e^x, which is the forward output.
func expForward(c *Call) (*tensor.Value, error) {
	return c.Backend.Exp(c.Operands[0]), nil
}

func expBackward(c *Call, out, dy *tensor.Value) ([]*Grad, error) {
	return []*Grad{gradFor(c.Operands[0], c.Backend.Mul(tensor.Stacked(dy), tensor.Stacked(out)))}, nil
}

// d(log x)/dx = 1/x.
func logForward(c *Call) (*tensor.Value, error) {
	return c.Backend.Log(c.Operands[0]), nil
}

func logBackward(c *Call, _, dy *tensor.Value) ([]*Grad, error) {
	dx := c.Backend.Binary(tensor.Stacked(dy), c.Operands[0], func(g, x float32) float32 { return g / x })
	return []*Grad{gradFor(c.Operands[0], dx)}, nil
}

func activationForward(c *Call) (*tensor.Value, error) {
	act, err := activationOf(c.Kind)
	if err != nil {
		return nil, err
	}
	return c.Backend.Activate(c.Operands[0], act), nil
}

// The derivative is computed from the forward output, e.g. 1 - tanh²(x).
func activationBackward(c *Call, out, dy *tensor.Value) ([]*Grad, error) {
	act, err := activationOf(c.Kind)
	if err != nil {
		return nil, err
	}
	return []*Grad{gradFor(c.Operands[0], c.Backend.ActivateGrad(out, dy, act))}, nil
}

// Barrier is an identity for values and gradients.
func identityForward(c *Call) (*tensor.Value, error) {
	return c.Operands[0].Materialize(), nil
}

func identityBackward(c *Call, _, dy *tensor.Value) ([]*Grad, error) {
	return []*Grad{gradFor(c.Operands[0], dy)}, nil
}

// noGradient is the backward rule of non-differentiable operators.
func noGradient(c *Call, _, _ *tensor.Value) ([]*Grad, error) {
	return make([]*Grad, len(c.Operands)), nil
}
