package graph

import (
	"bytes"
	"strings"
	"testing"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/born-ml/dynamite/internal/tensor"
)

func vec(n int) *Node {
	return Constant(tensor.Zeros(tensor.Shape{n}))
}

func mat(r, c int) *Node {
	return NewParameter("m", tensor.Zeros(tensor.Shape{r, c}))
}

func TestShapeInference(t *testing.T) {
	tests := []struct {
		name  string
		build func() *Node
		want  tensor.Shape
	}{
		{"add", func() *Node { return Add(vec(3), vec(3)) }, tensor.Shape{3}},
		{"matmul vector", func() *Node { return MatMul(vec(3), mat(3, 5)) }, tensor.Shape{5}},
		{"matmul matrix", func() *Node { return MatMul(mat(2, 3), mat(3, 5)) }, tensor.Shape{2, 5}},
		{"lookup", func() *Node { return Lookup(mat(10, 4), 9) }, tensor.Shape{4}},
		{"slice", func() *Node { return Slice(mat(7, 4), 0) }, tensor.Shape{4}},
		{"splice", func() *Node { return Splice(vec(2), vec(2), vec(2)) }, tensor.Shape{3, 2}},
		{"reduce", func() *Node { return ReduceSum(mat(2, 2)) }, tensor.Shape{}},
		{"rnn", func() *Node { return RNNStep(vec(3), vec(2), mat(3, 2), mat(2, 2), vec(2), ActTanh) }, tensor.Shape{2}},
		{"cross entropy", func() *Node { return CrossEntropyWithSoftmax(vec(5), vec(5)) }, tensor.Shape{}},
		{"barrier", func() *Node { return Barrier(vec(4), 1) }, tensor.Shape{4}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var n *Node
			require.NoError(t, Try(func() { n = tt.build() }))
			assert.Equal(t, tt.want, n.Shape())
		})
	}
}

func TestShapeMismatch(t *testing.T) {
	tests := []struct {
		name  string
		op    OpKind
		build func()
	}{
		{"add", OpAdd, func() { Add(vec(3), vec(4)) }},
		{"matmul inner", OpMatMul, func() { MatMul(vec(3), mat(4, 5)) }},
		{"matmul rank", OpMatMul, func() { MatMul(vec(3), vec(3)) }},
		{"lookup range", OpLookup, func() { Lookup(mat(10, 4), 10) }},
		{"lookup negative", OpLookup, func() { Lookup(mat(10, 4), -1) }},
		{"splice", OpSplice, func() { Splice(vec(2), vec(3)) }},
		{"rnn", OpRNNStep, func() { RNNStep(vec(3), vec(2), mat(2, 2), mat(2, 2), vec(2), ActReLU) }},
		{"cross entropy", OpCrossEntropyWithSoftmax, func() { CrossEntropyWithSoftmax(vec(5), vec(4)) }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := Try(tt.build)
			require.Error(t, err)
			var mismatch *ShapeMismatchError
			require.True(t, errors.As(err, &mismatch), "got %v", err)
			assert.Equal(t, tt.op, mismatch.Op)
			assert.Contains(t, err.Error(), "shape mismatch in "+tt.op.String())
		})
	}
}

func TestUnregisteredOperator(t *testing.T) {
	err := Try(func() { Apply(NumOpKinds+3, Attrs{}, 0, vec(2)) })
	var unreg *UnregisteredOperatorError
	require.True(t, errors.As(err, &unreg), "got %v", err)

	assert.Error(t, Try(func() { Apply(OpConstant, Attrs{}, 0) }))
	assert.Error(t, Try(func() { Add(vec(2), nil) }))
}

func TestTryRethrowsNonErrors(t *testing.T) {
	assert.Panics(t, func() {
		_ = Try(func() { panic("not an error") })
	})
}

func TestSignature(t *testing.T) {
	w := mat(3, 2)
	r := mat(2, 2)
	b := vec(2)
	a1 := RNNStep(vec(3), vec(2), w, r, b, ActReLU)
	a2 := RNNStep(vec(3), Tanh(vec(2)), w, r, b, ActReLU)
	assert.Equal(t, a1.Signature(), a2.Signature(), "operand identity must not matter")
	assert.NotEqual(t, a1.ID(), a2.ID())

	tanh := RNNStep(vec(3), vec(2), w, r, b, ActTanh)
	assert.NotEqual(t, a1.Signature(), tanh.Signature(), "attributes are structural")

	table := mat(10, 4)
	assert.Equal(t, Lookup(table, 1).Signature(), Lookup(table, 7).Signature(), "row index is data")
	assert.NotEqual(t, Add(vec(2), vec(2)).Signature(), Add(vec(3), vec(3)).Signature())
	assert.NotEqual(t, Barrier(vec(2), 1).Signature(), Barrier(vec(2), 2).Signature())
	assert.Contains(t, a1.Signature().String(), "RNNStep")
}

func TestParameterAssign(t *testing.T) {
	p := NewParameter("w", tensor.Zeros(tensor.Shape{2}))
	assert.True(t, p.IsParameter())
	require.NoError(t, p.Assign(tensor.Ones(tensor.Shape{2})))
	assert.Equal(t, []float32{1, 1}, p.LeafValue().Data())

	err := p.Assign(tensor.Ones(tensor.Shape{3}))
	var mismatch *ShapeMismatchError
	assert.True(t, errors.As(err, &mismatch))
	assert.Error(t, vec(2).Assign(tensor.Ones(tensor.Shape{2})))
	assert.Nil(t, Add(vec(2), vec(2)).LeafValue())
}

func TestTopologicalOrder(t *testing.T) {
	x := vec(2)
	y := Tanh(x)
	z := Add(y, y)
	out := Add(z, x)
	order := TopologicalOrder([]*Node{out, z})
	require.Len(t, order, 4)

	pos := make(map[NodeID]int)
	for i, n := range order {
		pos[n.ID()] = i
	}
	for _, n := range order {
		for _, op := range n.Operands() {
			assert.Less(t, pos[op.ID()], pos[n.ID()])
		}
	}

	consumers := Consumers(order)
	assert.Len(t, consumers[y.ID()], 2, "z uses y twice")

	pruned := TopologicalOrderFunc([]*Node{out}, func(n *Node) bool { return n == z })
	assert.Len(t, pruned, 3, "operands of z are skipped but x is reached from out")
}

func TestDeepChainDoesNotRecurse(t *testing.T) {
	n := vec(1)
	for i := 0; i < 100000; i++ {
		n = Neg(n)
	}
	assert.Len(t, TopologicalOrder([]*Node{n}), 100001)
}

func TestStatsAndDump(t *testing.T) {
	table := NewParameter("E", tensor.Zeros(tensor.Shape{4, 2}))
	out := ReduceSum(Splice(Lookup(table, 1), Lookup(table, 3)))
	st := CollectStats([]*Node{out})
	assert.Equal(t, 5, st.Nodes)
	assert.Equal(t, 1, st.Leaves)
	assert.Equal(t, 1, st.Parameters)
	assert.Equal(t, 2, st.ByKind[OpLookup])
	assert.True(t, strings.HasPrefix(st.String(), "5 nodes (1 leaves, 1 parameters)"))

	var buf bytes.Buffer
	require.NoError(t, Dump(&buf, []*Node{out}))
	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	assert.Len(t, lines, 5)
	assert.Contains(t, buf.String(), "[3]")
	assert.Contains(t, lines[0], `"E"`)
}
