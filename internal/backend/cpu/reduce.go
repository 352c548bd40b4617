package cpu

import (
	"math"

	"github.com/born-ml/dynamite/internal/parallel"
	"github.com/born-ml/dynamite/internal/tensor"
)

// ReduceSum sums all elements of every member, producing a [B] value of
// scalars.
func (cpu *Backend) ReduceSum(x tensor.Batch) *tensor.Value {
	out := make([]float32, x.Size)
	parallel.For(x.Size, func(b int) {
		var sum float64
		for _, v := range x.Member(b) {
			sum += float64(v)
		}
		out[b] = float32(sum)
	}, cpu.cfg)
	return tensor.Wrap(out, tensor.Shape{x.Size})
}

// ReduceSumGrad broadcasts the [B] scalar gradients back to the member shape.
func ReduceSumGrad(memberShape tensor.Shape, dy *tensor.Value) *tensor.Value {
	n := memberShape.NumElements()
	dyd := dy.Data()
	out := make([]float32, len(dyd)*n)
	for b, g := range dyd {
		row := out[b*n : (b+1)*n]
		for i := range row {
			row[i] = g
		}
	}
	return tensor.Wrap(out, memberShape.Prepend(len(dyd)))
}

// logSoftmax writes log(softmax(z)) into dst using the max-shift trick.
func logSoftmax(dst, z []float32) {
	maxVal := float64(z[0])
	for _, v := range z[1:] {
		maxVal = math.Max(maxVal, float64(v))
	}
	var sum float64
	for _, v := range z {
		sum += math.Exp(float64(v) - maxVal)
	}
	logZ := maxVal + math.Log(sum)
	for i, v := range z {
		dst[i] = float32(float64(v) - logZ)
	}
}

// SoftmaxCrossEntropy computes -Σ label·log(softmax(z)) per member.
func (cpu *Backend) SoftmaxCrossEntropy(z, label tensor.Batch) *tensor.Value {
	n := z.MemberSize()
	out := make([]float32, z.Size)
	parallel.For(z.Size, func(b int) {
		logp := make([]float32, n)
		logSoftmax(logp, z.Member(b))
		var ce float64
		for i, y := range label.Member(b) {
			ce -= float64(y) * float64(logp[i])
		}
		out[b] = float32(ce)
	}, cpu.cfg)
	return tensor.Wrap(out, tensor.Shape{z.Size})
}

// SoftmaxCrossEntropyGrad returns dz = dy·(softmax(z)·Σlabel - label), stacked.
// The label receives no gradient.
func (cpu *Backend) SoftmaxCrossEntropyGrad(z, label tensor.Batch, dy *tensor.Value) *tensor.Value {
	n := z.MemberSize()
	out := make([]float32, z.Size*n)
	dyd := dy.Data()
	parallel.For(z.Size, func(b int) {
		dst := out[b*n : (b+1)*n]
		logSoftmax(dst, z.Member(b))
		lab := label.Member(b)
		var mass float32
		for _, y := range lab {
			mass += y
		}
		for i := range dst {
			p := float32(math.Exp(float64(dst[i])))
			dst[i] = dyd[b] * (p*mass - lab[i])
		}
	}, cpu.cfg)
	return tensor.Wrap(out, z.MemberShape().Prepend(z.Size))
}

// argmax returns the index of the first maximum of v.
func argmax(v []float32) int {
	best := 0
	for i := 1; i < len(v); i++ {
		if v[i] > v[best] {
			best = i
		}
	}
	return best
}

// ClassificationError returns 1 for members whose argmax(z) differs from
// argmax(label), 0 otherwise.
func (cpu *Backend) ClassificationError(z, label tensor.Batch) *tensor.Value {
	out := make([]float32, z.Size)
	for b := 0; b < z.Size; b++ {
		if argmax(z.Member(b)) != argmax(label.Member(b)) {
			out[b] = 1
		}
	}
	return tensor.Wrap(out, tensor.Shape{z.Size})
}
