package ops

import (
	"testing"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/born-ml/dynamite/internal/backend/cpu"
	"github.com/born-ml/dynamite/internal/graph"
	"github.com/born-ml/dynamite/internal/tensor"
)

func TestDefaultDefinesEveryComputedKind(t *testing.T) {
	r := Default()
	for k := graph.OpKind(0); k < graph.NumOpKinds; k++ {
		def, err := r.Lookup(k)
		if k.IsLeaf() {
			assert.Error(t, err, "leaf %s", k)
			continue
		}
		require.NoError(t, err, "kind %s", k)
		assert.Equal(t, k, def.Kind)
		assert.NotNil(t, def.Shape, "kind %s", k)
		assert.NotNil(t, def.Forward, "kind %s", k)
		assert.NotNil(t, def.Backward, "kind %s", k)
	}
}

func TestLookupUnregistered(t *testing.T) {
	r := NewRegistry()
	_, err := r.Lookup(graph.OpAdd)
	var unregistered *graph.UnregisteredOperatorError
	require.True(t, errors.As(err, &unregistered))
	assert.Equal(t, graph.OpAdd, unregistered.Op)

	_, err = r.Lookup(graph.NumOpKinds + 3)
	assert.True(t, errors.As(err, &unregistered))
}

func TestRegister(t *testing.T) {
	r := NewRegistry()

	assert.Error(t, r.Register(Definition{Kind: graph.OpKind(-1), Forward: addForward, Backward: addBackward}))
	assert.Error(t, r.Register(Definition{Kind: graph.OpParameter, Forward: addForward, Backward: addBackward}))
	assert.Error(t, r.Register(Definition{Kind: graph.OpAdd, Forward: addForward}))
	assert.Error(t, r.Register(Definition{Kind: graph.OpAdd, Backward: addBackward}))

	require.NoError(t, r.Register(Definition{Kind: graph.OpAdd, Forward: addForward, Backward: addBackward}))
	def, err := r.Lookup(graph.OpAdd)
	require.NoError(t, err)
	require.NotNil(t, def.Shape)
	got, err := def.Shape([]tensor.Shape{{3}, {3}}, graph.Attrs{}, 0)
	require.NoError(t, err)
	assert.Equal(t, tensor.Shape{3}, got)
}

func TestValidate(t *testing.T) {
	r := NewRegistry()
	assert.NoError(t, r.Validate(graph.OpConstant, graph.OpParameter))
	assert.Error(t, r.Validate(graph.OpConstant, graph.OpAdd))
	assert.NoError(t, Default().Validate(graph.OpConstant, graph.OpAdd, graph.OpRNNStep, graph.OpBarrier))
}

func TestActivationFor(t *testing.T) {
	for _, act := range []graph.Activation{graph.ActIdentity, graph.ActReLU, graph.ActTanh, graph.ActSigmoid} {
		_, err := ActivationFor(act)
		assert.NoError(t, err, "activation %s", act)
	}
	_, err := ActivationFor(graph.Activation(42))
	assert.Error(t, err)
}

func TestLookupBackwardSharedTableIsSparse(t *testing.T) {
	table := tensor.Zeros(tensor.Shape{2000, 2})
	dy := tensor.Wrap([]float32{1, 2, 3, 4, 5, 6, 7, 8, 9, 10}, tensor.Shape{5, 2})
	c := &Call{
		Kind:     graph.OpLookup,
		Operands: []tensor.Batch{tensor.SharedBatch(table, 5)},
		Aux:      []int{7, 3, 7, 1999, 0},
		Size:     5,
		Backend:  cpu.New(),
	}
	grads, err := lookupBackward(c, nil, dy)
	require.NoError(t, err)
	require.Len(t, grads, 1)
	g := grads[0]
	require.NotNil(t, g.Sparse)
	assert.Nil(t, g.Dense)
	assert.True(t, g.Shared)
	assert.Equal(t, 4, g.Sparse.NumEntries())
	assert.Equal(t, tensor.Shape{2000, 2}, g.Sparse.Shape())

	dense := g.Sparse.ToDense()
	assert.Equal(t, []float32{6, 8}, dense.Data()[14:16], "repeated index accumulates")
	assert.Equal(t, []float32{3, 4}, dense.Data()[6:8])
}

func TestAddBackwardSumsSharedOperand(t *testing.T) {
	x := tensor.Wrap([]float32{1, 2, 3, 4, 5, 6}, tensor.Shape{3, 2})
	b := tensor.Wrap([]float32{10, 20}, tensor.Shape{2})
	c := &Call{
		Kind:     graph.OpAdd,
		Operands: []tensor.Batch{tensor.Stacked(x), tensor.SharedBatch(b, 3)},
		Size:     3,
		Backend:  cpu.New(),
	}
	out, err := addForward(c)
	require.NoError(t, err)
	assert.Equal(t, []float32{11, 22, 13, 24, 15, 26}, out.Data())

	dy := tensor.Ones(tensor.Shape{3, 2})
	grads, err := addBackward(c, out, dy)
	require.NoError(t, err)
	require.Len(t, grads, 2)
	assert.False(t, grads[0].Shared)
	assert.Equal(t, tensor.Shape{3, 2}, grads[0].Dense.Shape())
	assert.True(t, grads[1].Shared)
	assert.Equal(t, []float32{3, 3}, grads[1].Dense.Data())
}

func TestBarrierIsIdentity(t *testing.T) {
	v := tensor.Wrap([]float32{1, 2}, tensor.Shape{2})
	c := &Call{
		Kind:     graph.OpBarrier,
		Operands: []tensor.Batch{tensor.SharedBatch(v, 3)},
		Size:     3,
		Backend:  cpu.New(),
	}
	out, err := identityForward(c)
	require.NoError(t, err)
	assert.Equal(t, tensor.Shape{3, 2}, out.Shape())
	assert.Equal(t, []float32{1, 2, 1, 2, 1, 2}, out.Data())
}

func TestClassificationErrorHasNoGradient(t *testing.T) {
	c := &Call{Kind: graph.OpClassificationError, Operands: make([]tensor.Batch, 2)}
	grads, err := noGradient(c, nil, nil)
	require.NoError(t, err)
	assert.Equal(t, []*Grad{nil, nil}, grads)
}
