package cpu

import (
	"math"

	"github.com/born-ml/dynamite/internal/parallel"
	"github.com/born-ml/dynamite/internal/tensor"
)

// Unary applies f element-wise to every member of x.
func (cpu *Backend) Unary(x tensor.Batch, f func(float32) float32) *tensor.Value {
	n := x.MemberSize()
	out := make([]float32, n*x.Size)
	parallel.For(x.Size, func(b int) {
		src := x.Member(b)
		dst := out[b*n : (b+1)*n]
		for i, v := range src {
			dst[i] = f(v)
		}
	}, cpu.cfg)
	return tensor.Wrap(out, x.MemberShape().Prepend(x.Size))
}

// Binary applies f element-wise to equally shaped members of a and c.
func (cpu *Backend) Binary(a, c tensor.Batch, f func(x, y float32) float32) *tensor.Value {
	n := a.MemberSize()
	size := batchSize(a, c)
	out := make([]float32, n*size)
	parallel.For(size, func(b int) {
		x, y := a.Member(b), c.Member(b)
		dst := out[b*n : (b+1)*n]
		for i := range dst {
			dst[i] = f(x[i], y[i])
		}
	}, cpu.cfg)
	return tensor.Wrap(out, a.MemberShape().Prepend(size))
}

// Add performs element-wise addition.
func (cpu *Backend) Add(a, c tensor.Batch) *tensor.Value {
	return cpu.Binary(a, c, func(x, y float32) float32 { return x + y })
}

// Sub performs element-wise subtraction.
func (cpu *Backend) Sub(a, c tensor.Batch) *tensor.Value {
	return cpu.Binary(a, c, func(x, y float32) float32 { return x - y })
}

// Mul performs element-wise multiplication.
func (cpu *Backend) Mul(a, c tensor.Batch) *tensor.Value {
	return cpu.Binary(a, c, func(x, y float32) float32 { return x * y })
}

// Neg negates every element.
func (cpu *Backend) Neg(x tensor.Batch) *tensor.Value {
	return cpu.Unary(x, func(v float32) float32 { return -v })
}

// Exp computes e^x element-wise.
func (cpu *Backend) Exp(x tensor.Batch) *tensor.Value {
	return cpu.Unary(x, func(v float32) float32 { return float32(math.Exp(float64(v))) })
}

// Log computes the natural logarithm element-wise.
func (cpu *Backend) Log(x tensor.Batch) *tensor.Value {
	return cpu.Unary(x, func(v float32) float32 { return float32(math.Log(float64(v))) })
}

// Activation is an element-wise nonlinearity together with its derivative
// expressed in terms of the activation's output.
type Activation struct {
	Name  string
	Apply func(x float32) float32
	// DerivFromOutput returns dy/dx given y = Apply(x).
	DerivFromOutput func(y float32) float32
}

// Activations supported by the kernels.
var (
	Identity = Activation{
		Name:            "identity",
		Apply:           func(x float32) float32 { return x },
		DerivFromOutput: func(float32) float32 { return 1 },
	}
	ReLU = Activation{
		Name: "relu",
		Apply: func(x float32) float32 {
			if x > 0 {
				return x
			}
			return 0
		},
		DerivFromOutput: func(y float32) float32 {
			if y > 0 {
				return 1
			}
			return 0
		},
	}
	Tanh = Activation{
		Name:            "tanh",
		Apply:           func(x float32) float32 { return float32(math.Tanh(float64(x))) },
		DerivFromOutput: func(y float32) float32 { return 1 - y*y },
	}
	Sigmoid = Activation{
		Name:            "sigmoid",
		Apply:           func(x float32) float32 { return float32(1 / (1 + math.Exp(-float64(x)))) },
		DerivFromOutput: func(y float32) float32 { return y * (1 - y) },
	}
)

// Activate applies act element-wise.
func (cpu *Backend) Activate(x tensor.Batch, act Activation) *tensor.Value {
	return cpu.Unary(x, act.Apply)
}

// ActivateGrad computes outGrad * act'(x) given the forward output y.
func (cpu *Backend) ActivateGrad(y, outGrad *tensor.Value, act Activation) *tensor.Value {
	yd, gd := y.Data(), outGrad.Data()
	out := make([]float32, len(yd))
	for i := range out {
		out[i] = gd[i] * act.DerivFromOutput(yd[i])
	}
	return tensor.Wrap(out, y.Shape())
}

// SumMembers sums a stacked [B, ...] value over its batch axis.
// This is how the gradient of an operand shared by all members is reduced.
func SumMembers(stacked *tensor.Value) *tensor.Value {
	shape := stacked.Shape()
	inner := tensor.Shape(shape[1:])
	n := inner.NumElements()
	out := make([]float32, n)
	data := stacked.Data()
	for b := 0; b < shape[0]; b++ {
		row := data[b*n : (b+1)*n]
		for i, v := range row {
			out[i] += v
		}
	}
	return tensor.Wrap(out, inner)
}

// AddValues returns a + c for equally shaped values.
func AddValues(a, c *tensor.Value) *tensor.Value {
	ad, cd := a.Data(), c.Data()
	out := make([]float32, len(ad))
	for i := range out {
		out[i] = ad[i] + cd[i]
	}
	return tensor.Wrap(out, a.Shape())
}
