package cpu

import (
	"github.com/born-ml/dynamite/internal/tensor"
)

// RNNStep computes h' = act(x·W + h·R + b) for every member.
//
// Operand member shapes: x [I], h [H], W [I, H], R [H, H], b [H].
// With shared W, R and b the step costs two GEMMs for the whole batch.
func (cpu *Backend) RNNStep(x, h, w, r, bias tensor.Batch, act Activation) *tensor.Value {
	xw := cpu.MatMul(x, w)
	hr := cpu.MatMul(h, r)
	pre := cpu.Add(tensor.Stacked(xw), tensor.Stacked(hr))
	pre = cpu.Add(tensor.Stacked(pre), bias)
	return cpu.Activate(tensor.Stacked(pre), act)
}

// RNNStepGrads holds the gradients of one batched RNN step. Shared operands
// hold member-summed gradients, stacked operands hold [B, ...] gradients.
type RNNStepGrads struct {
	X, H, W, R, B *tensor.Value
}

// RNNStepGrad back-propagates through RNNStep given its output y and the
// stacked output gradient dy.
func (cpu *Backend) RNNStepGrad(x, h, w, r, bias tensor.Batch, y, dy *tensor.Value, act Activation) RNNStepGrads {
	dpre := cpu.ActivateGrad(y, dy, act)
	var g RNNStepGrads
	g.X, g.W = cpu.MatMulGrad(x, w, dpre)
	g.H, g.R = cpu.MatMulGrad(h, r, dpre)
	if bias.Shared {
		g.B = SumMembers(dpre)
	} else {
		g.B = dpre
	}
	return g
}
