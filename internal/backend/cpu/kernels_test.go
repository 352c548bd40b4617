package cpu

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/born-ml/dynamite/internal/parallel"
	"github.com/born-ml/dynamite/internal/tensor"
)

func value(t *testing.T, shape tensor.Shape, data ...float32) *tensor.Value {
	t.Helper()
	v, err := tensor.FromSlice(data, shape)
	require.NoError(t, err)
	return v
}

func assertClose(t *testing.T, want, got []float32, msgAndArgs ...any) {
	t.Helper()
	require.Len(t, got, len(want), msgAndArgs...)
	for i := range want {
		assert.InDelta(t, want[i], got[i], 1e-5, msgAndArgs...)
	}
}

func backends() map[string]*Backend {
	return map[string]*Backend{
		"serial":   NewWithConfig(parallel.Serial()),
		"parallel": NewWithConfig(parallel.Config{Enabled: true, NumWorkers: 4, MinChunkSize: 1}),
	}
}

func TestBackendInfo(t *testing.T) {
	b := New()
	assert.Equal(t, "CPU", b.Name())
	assert.Equal(t, tensor.CPU, b.Device())
}

func TestMatMulSharedMatchesPerMember(t *testing.T) {
	for name, cpu := range backends() {
		t.Run(name, func(t *testing.T) {
			x := value(t, tensor.Shape{3, 2}, 1, 2, 3, 4, 5, 6)
			w := value(t, tensor.Shape{2, 2}, 1, 0, 2, 1)

			shared := cpu.MatMul(tensor.Stacked(x), tensor.SharedBatch(w, 3))
			assert.Equal(t, tensor.Shape{3, 2}, shared.Shape())
			assertClose(t, []float32{5, 2, 11, 4, 17, 6}, shared.Data())

			ws, err := tensor.Stack([]*tensor.Value{w, w, w})
			require.NoError(t, err)
			perMember := cpu.MatMul(tensor.Stacked(x), tensor.Stacked(ws))
			assertClose(t, shared.Data(), perMember.Data())
		})
	}
}

func TestMatMulMatrixMembers(t *testing.T) {
	cpu := New()
	// Two members, each [2, 2] times a shared [2, 1].
	x := value(t, tensor.Shape{2, 2, 2}, 1, 2, 3, 4, 5, 6, 7, 8)
	w := value(t, tensor.Shape{2, 1}, 1, 1)
	y := cpu.MatMul(tensor.Stacked(x), tensor.SharedBatch(w, 2))
	assert.Equal(t, tensor.Shape{2, 2, 1}, y.Shape())
	assertClose(t, []float32{3, 7, 11, 15}, y.Data())
}

func TestMatMulGrad(t *testing.T) {
	cpu := New()
	x := value(t, tensor.Shape{2, 2}, 1, 2, 3, 4)
	w := value(t, tensor.Shape{2, 3}, 1, 2, 3, 4, 5, 6)
	dy := value(t, tensor.Shape{2, 3}, 1, 0, 0, 0, 1, 1)

	dx, dw := cpu.MatMulGrad(tensor.Stacked(x), tensor.SharedBatch(w, 2), dy)
	// dx[b] = dy[b]·Wᵀ
	assertClose(t, []float32{1, 4, 5, 11}, dx.Data())
	assert.Equal(t, tensor.Shape{2, 2}, dx.Shape())
	// dW = Σ_b x[b]ᵀ·dy[b]
	assertClose(t, []float32{1, 3, 3, 2, 4, 4}, dw.Data())
	assert.Equal(t, tensor.Shape{2, 3}, dw.Shape())

	// The same with per-member weights gives per-member gradients summing to dW.
	ws, err := tensor.Stack([]*tensor.Value{w, w})
	require.NoError(t, err)
	dx2, dw2 := cpu.MatMulGrad(tensor.Stacked(x), tensor.Stacked(ws), dy)
	assertClose(t, dx.Data(), dx2.Data())
	assertClose(t, dw.Data(), SumMembers(dw2).Data())

	// A shared x gets a member-summed gradient.
	dx3, _ := cpu.MatMulGrad(tensor.SharedBatch(x.Member(0), 2), tensor.SharedBatch(w, 2), dy)
	assert.Equal(t, tensor.Shape{2}, dx3.Shape())
	assertClose(t, []float32{6, 15}, dx3.Data())
}

func TestElementwise(t *testing.T) {
	cpu := New()
	a := tensor.Stacked(value(t, tensor.Shape{2, 2}, 1, 2, 3, 4))
	c := tensor.SharedBatch(value(t, tensor.Shape{2}, 10, 20), 2)
	assertClose(t, []float32{11, 22, 13, 24}, cpu.Add(a, c).Data())
	assertClose(t, []float32{-9, -18, -7, -16}, cpu.Sub(a, c).Data())
	assertClose(t, []float32{10, 40, 30, 80}, cpu.Mul(a, c).Data())
	assertClose(t, []float32{-1, -2, -3, -4}, cpu.Neg(a).Data())
	assertClose(t, []float32{0, float32(math.Log(2))}, cpu.Log(tensor.Stacked(value(t, tensor.Shape{2, 1}, 1, 2))).Data())
	assertClose(t, []float32{1, float32(math.E)}, cpu.Exp(tensor.Stacked(value(t, tensor.Shape{2, 1}, 0, 1))).Data())
}

func TestActivations(t *testing.T) {
	cpu := New()
	x := tensor.Stacked(value(t, tensor.Shape{1, 3}, -1, 0, 2))
	assertClose(t, []float32{0, 0, 2}, cpu.Activate(x, ReLU).Data())
	y := cpu.Activate(x, Tanh)
	assertClose(t, []float32{float32(math.Tanh(-1)), 0, float32(math.Tanh(2))}, y.Data())

	grad := cpu.ActivateGrad(y, tensor.Ones(tensor.Shape{1, 3}), Tanh)
	for i, v := range y.Data() {
		assert.InDelta(t, 1-v*v, grad.Data()[i], 1e-6)
	}
	s := cpu.Activate(x, Sigmoid)
	assert.InDelta(t, 0.5, s.Data()[1], 1e-6)
	assertClose(t, []float32{-1, 0, 2}, cpu.Activate(x, Identity).Data())
}

func TestGatherAndSparseGrad(t *testing.T) {
	cpu := New()
	table := value(t, tensor.Shape{4, 2}, 0, 1, 10, 11, 20, 21, 30, 31)
	rows := cpu.Gather(tensor.SharedBatch(table, 3), []int{2, 0, 2})
	assert.Equal(t, tensor.Shape{3, 2}, rows.Shape())
	assertClose(t, []float32{20, 21, 0, 1, 20, 21}, rows.Data())
	assert.Panics(t, func() { cpu.Gather(tensor.SharedBatch(table, 1), []int{4}) })

	dy := value(t, tensor.Shape{3, 2}, 1, 1, 2, 2, 3, 3)
	sparse, err := GatherGradSparse(table.Shape(), []int{2, 0, 2}, dy)
	require.NoError(t, err)
	assert.Equal(t, 2, sparse.NumEntries())
	assertClose(t, []float32{2, 2, 0, 0, 4, 4, 0, 0}, sparse.ToDense().Data())

	dense := cpu.GatherGradDense(table.Shape(), []int{1}, value(t, tensor.Shape{1, 2}, 5, 6))
	assert.Equal(t, tensor.Shape{1, 4, 2}, dense.Shape())
	assertClose(t, []float32{0, 0, 5, 6, 0, 0, 0, 0}, dense.Data())
}

func TestSliceRowPerMemberPositions(t *testing.T) {
	cpu := New()
	x := value(t, tensor.Shape{2, 3, 1}, 1, 2, 3, 4, 5, 6)
	rows := cpu.SliceRow(tensor.Stacked(x), []int{0, 2})
	assertClose(t, []float32{1, 6}, rows.Data())
	grad := cpu.SliceRowGrad(tensor.Shape{3, 1}, []int{0, 2}, value(t, tensor.Shape{2, 1}, 7, 8))
	assertClose(t, []float32{7, 0, 0, 0, 0, 8}, grad.Data())
}

func TestSpliceAndGrad(t *testing.T) {
	cpu := New()
	a := tensor.Stacked(value(t, tensor.Shape{2, 2}, 1, 2, 3, 4))
	b := tensor.SharedBatch(value(t, tensor.Shape{2}, 9, 9), 2)
	out := cpu.Splice([]tensor.Batch{a, b})
	assert.Equal(t, tensor.Shape{2, 2, 2}, out.Shape())
	assertClose(t, []float32{1, 2, 9, 9, 3, 4, 9, 9}, out.Data())

	grads := SpliceGrad(out, 2)
	require.Len(t, grads, 2)
	assertClose(t, []float32{1, 2, 3, 4}, grads[0].Data())
	assertClose(t, []float32{9, 9, 9, 9}, grads[1].Data())
}

func TestReduceSum(t *testing.T) {
	cpu := New()
	out := cpu.ReduceSum(tensor.Stacked(value(t, tensor.Shape{2, 3}, 1, 2, 3, 4, 5, 6)))
	assertClose(t, []float32{6, 15}, out.Data())
	g := ReduceSumGrad(tensor.Shape{3}, value(t, tensor.Shape{2}, 1, 2))
	assertClose(t, []float32{1, 1, 1, 2, 2, 2}, g.Data())
}

func TestSoftmaxCrossEntropy(t *testing.T) {
	cpu := New()
	z := tensor.Stacked(value(t, tensor.Shape{2, 3}, 1, 2, 3, 1000, 0, 0))
	label := tensor.Stacked(value(t, tensor.Shape{2, 3}, 0, 0, 1, 1, 0, 0))
	ce := cpu.SoftmaxCrossEntropy(z, label)

	logZ := math.Log(math.Exp(1) + math.Exp(2) + math.Exp(3))
	assert.InDelta(t, logZ-3, ce.Data()[0], 1e-5)
	assert.InDelta(t, 0, ce.Data()[1], 1e-5, "large logits must not overflow")

	grad := cpu.SoftmaxCrossEntropyGrad(z, label, value(t, tensor.Shape{2}, 1, 2))
	p := []float64{math.Exp(1 - logZ), math.Exp(2 - logZ), math.Exp(3 - logZ)}
	assertClose(t, []float32{float32(p[0]), float32(p[1]), float32(p[2] - 1), 0, 0, 0}, grad.Data())
}

func TestCrossEntropyGradMatchesFiniteDifference(t *testing.T) {
	cpu := New()
	zData := []float32{0.3, -1.2, 0.8, 0.1}
	label := tensor.SharedBatch(tensor.OneHot(4, 1), 1)
	loss := func(z []float32) float64 {
		return float64(cpu.SoftmaxCrossEntropy(tensor.Stacked(value(t, tensor.Shape{1, 4}, z...)), label).Item())
	}
	grad := cpu.SoftmaxCrossEntropyGrad(tensor.Stacked(value(t, tensor.Shape{1, 4}, zData...)), label, tensor.Ones(tensor.Shape{1}))
	const eps = 1e-2
	for i := range zData {
		plus := append([]float32(nil), zData...)
		minus := append([]float32(nil), zData...)
		plus[i] += eps
		minus[i] -= eps
		numeric := (loss(plus) - loss(minus)) / (2 * eps)
		assert.InDelta(t, numeric, grad.Data()[i], 1e-3, "component %d", i)
	}
}

func TestClassificationError(t *testing.T) {
	cpu := New()
	z := tensor.Stacked(value(t, tensor.Shape{2, 3}, 0, 5, 1, 3, 2, 1))
	label := tensor.SharedBatch(tensor.OneHot(3, 1), 2)
	assertClose(t, []float32{0, 1}, cpu.ClassificationError(z, label).Data())
}

func TestRNNStepGrad(t *testing.T) {
	cpu := New()
	x := tensor.Stacked(value(t, tensor.Shape{2, 2}, 0.5, -1, 1, 2))
	h := tensor.Stacked(value(t, tensor.Shape{2, 2}, 0.1, 0.2, -0.3, 0.4))
	w := tensor.SharedBatch(value(t, tensor.Shape{2, 2}, 0.1, 0.2, 0.3, 0.4), 2)
	r := tensor.SharedBatch(value(t, tensor.Shape{2, 2}, -0.5, 0.5, 0.25, 0.75), 2)
	b := tensor.SharedBatch(value(t, tensor.Shape{2}, 0.01, -0.02), 2)

	y := cpu.RNNStep(x, h, w, r, b, Tanh)
	assert.Equal(t, tensor.Shape{2, 2}, y.Shape())
	// Member 0 by hand: pre = x·W + h·R + b.
	pre0 := 0.5*0.1 + -1*0.3 + 0.1*-0.5 + 0.2*0.25 + 0.01
	assert.InDelta(t, math.Tanh(pre0), y.Data()[0], 1e-6)

	g := cpu.RNNStepGrad(x, h, w, r, b, y, tensor.Ones(tensor.Shape{2, 2}), Tanh)
	assert.Equal(t, tensor.Shape{2, 2}, g.X.Shape())
	assert.Equal(t, tensor.Shape{2, 2}, g.W.Shape(), "shared weights get a summed gradient")
	assert.Equal(t, tensor.Shape{2}, g.B.Shape())
	var want float32
	for bIdx := 0; bIdx < 2; bIdx++ {
		v := y.Data()[bIdx*2]
		want += 1 - v*v
	}
	assert.InDelta(t, want, g.B.Data()[0], 1e-6)
}
