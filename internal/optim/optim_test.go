package optim

import (
	"context"
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/born-ml/dynamite/internal/engine"
	"github.com/born-ml/dynamite/internal/graph"
	"github.com/born-ml/dynamite/internal/tensor"
)

func sparse(t *testing.T, shape tensor.Shape, indices []int, rows ...float32) *tensor.SparseRows {
	t.Helper()
	s, err := tensor.NewSparseRows(shape, indices, rows)
	require.NoError(t, err)
	return s
}

func TestSGDDense(t *testing.T) {
	eng := engine.New()
	p := graph.NewParameter("p", tensor.Wrap([]float32{1, 2, 3}, tensor.Shape{3}))
	sgd := NewSGD([]*graph.Node{p}, SGDConfig{LR: 0.5})

	grads := map[*graph.Node]engine.Gradient{p: {Dense: tensor.Wrap([]float32{2, -2, 0}, tensor.Shape{3})}}
	require.NoError(t, sgd.Step(eng, grads))
	assert.Equal(t, []float32{0, 3, 3}, p.LeafValue().Data())
	assert.Equal(t, uint64(1), eng.ParameterVersion())
}

func TestSGDSparseTouchesOnlyActiveRows(t *testing.T) {
	eng := engine.New()
	table := graph.NewParameter("embed", tensor.Ones(tensor.Shape{5, 2}))
	before := table.LeafValue()
	sgd := NewSGD([]*graph.Node{table}, SGDConfig{LR: 0.1})

	g := engine.Gradient{Sparse: sparse(t, tensor.Shape{5, 2}, []int{1, 3}, 10, 10, -10, 0)}
	require.NoError(t, sgd.Step(eng, map[*graph.Node]engine.Gradient{table: g}))
	assert.Equal(t, []float32{1, 1, 0, 0, 1, 1, 2, 1, 1, 1}, table.LeafValue().Data())
	assert.Equal(t, []float32{1, 1, 1, 1, 1, 1, 1, 1, 1, 1}, before.Data(), "previous value is never mutated")
}

func TestSGDMomentum(t *testing.T) {
	eng := engine.New()
	p := graph.NewParameter("p", tensor.Zeros(tensor.Shape{1}))
	sgd := NewSGD([]*graph.Node{p}, SGDConfig{LR: 1, Momentum: 0.5})
	grads := map[*graph.Node]engine.Gradient{p: {Dense: tensor.Ones(tensor.Shape{1})}}

	require.NoError(t, sgd.Step(eng, grads))
	assert.InDelta(t, -1.0, float64(p.LeafValue().Data()[0]), 1e-6)
	require.NoError(t, sgd.Step(eng, grads))
	assert.InDelta(t, -2.5, float64(p.LeafValue().Data()[0]), 1e-6)
}

func TestSGDSkipsMissingAndRejectsMismatched(t *testing.T) {
	eng := engine.New()
	p := graph.NewParameter("p", tensor.Ones(tensor.Shape{2}))
	q := graph.NewParameter("q", tensor.Ones(tensor.Shape{2}))
	sgd := NewSGD([]*graph.Node{p, q}, SGDConfig{})
	assert.InDelta(t, 0.01, float64(sgd.GetLR()), 1e-9)
	sgd.SetLR(0.2)
	assert.InDelta(t, 0.2, float64(sgd.GetLR()), 1e-9)

	require.NoError(t, sgd.Step(eng, map[*graph.Node]engine.Gradient{}))
	assert.Equal(t, uint64(0), eng.ParameterVersion(), "nothing to commit")

	err := sgd.Step(eng, map[*graph.Node]engine.Gradient{p: {Dense: tensor.Ones(tensor.Shape{3})}})
	assert.Error(t, err)
	err = sgd.Step(eng, map[*graph.Node]engine.Gradient{p: {}})
	assert.Error(t, err)
	assert.Equal(t, []float32{1, 1}, q.LeafValue().Data())
}

func TestAdamFirstStep(t *testing.T) {
	eng := engine.New()
	p := graph.NewParameter("p", tensor.Wrap([]float32{1, 1}, tensor.Shape{2}))
	adam := NewAdam([]*graph.Node{p}, AdamConfig{LR: 0.1})

	grads := map[*graph.Node]engine.Gradient{p: {Dense: tensor.Wrap([]float32{3, -0.5}, tensor.Shape{2})}}
	require.NoError(t, adam.Step(eng, grads))
	// After bias correction the first step moves every element by lr·sign(g).
	assert.InDelta(t, 0.9, float64(p.LeafValue().Data()[0]), 1e-5)
	assert.InDelta(t, 1.1, float64(p.LeafValue().Data()[1]), 1e-5)
	assert.Equal(t, 1, adam.GetTimestep())
}

func TestAdamSparseIsLazy(t *testing.T) {
	eng := engine.New()
	table := graph.NewParameter("embed", tensor.Zeros(tensor.Shape{4, 2}))
	adam := NewAdam([]*graph.Node{table}, AdamConfig{LR: 0.01})

	g := engine.Gradient{Sparse: sparse(t, tensor.Shape{4, 2}, []int{2}, 1, 1)}
	require.NoError(t, adam.Step(eng, map[*graph.Node]engine.Gradient{table: g}))
	data := table.LeafValue().Data()
	assert.Equal(t, []float32{0, 0, 0, 0}, data[:4])
	assert.InDelta(t, -0.01, float64(data[4]), 1e-5)
	assert.Equal(t, []float32{0, 0}, data[6:])

	adam.SetLR(0.5)
	assert.InDelta(t, 0.5, float64(adam.GetLR()), 1e-9)
}

func TestAdamDefaults(t *testing.T) {
	adam := NewAdam(nil, AdamConfig{})
	assert.InDelta(t, 0.001, float64(adam.GetLR()), 1e-9)
	assert.InDelta(t, 0.9, float64(adam.beta1), 1e-7)
	assert.InDelta(t, 0.999, float64(adam.beta2), 1e-7)
	assert.InDelta(t, 1e-8, float64(adam.eps), 1e-12)
}

// Minimizing (p - 3)² through the engine converges with either optimizer.
func TestOptimizersMinimizeQuadratic(t *testing.T) {
	for name, newOpt := range map[string]func([]*graph.Node) Optimizer{
		"sgd":  func(ps []*graph.Node) Optimizer { return NewSGD(ps, SGDConfig{LR: 0.1}) },
		"adam": func(ps []*graph.Node) Optimizer { return NewAdam(ps, AdamConfig{LR: 0.1}) },
	} {
		t.Run(name, func(t *testing.T) {
			eng := engine.New()
			p := graph.NewParameter("p", tensor.Zeros(tensor.Shape{1}))
			opt := newOpt([]*graph.Node{p})
			target := graph.Constant(tensor.Full(tensor.Shape{1}, 3))
			for i := 0; i < 500; i++ {
				d := graph.Sub(p, target)
				loss := graph.ReduceSum(graph.Mul(d, d))
				grads, err := eng.Differentiate(context.Background(), []*graph.Node{loss}, []*graph.Node{p})
				require.NoError(t, err)
				require.NoError(t, opt.Step(eng, grads))
			}
			assert.InDelta(t, 3.0, float64(p.LeafValue().Data()[0]), 0.1)
			assert.False(t, math.IsNaN(float64(p.LeafValue().Data()[0])))
		})
	}
}
