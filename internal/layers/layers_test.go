package layers

import (
	"context"
	"math"
	"math/rand"
	"testing"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/born-ml/dynamite/internal/engine"
	"github.com/born-ml/dynamite/internal/graph"
	"github.com/born-ml/dynamite/internal/tensor"
)

func smallSequenceConfig() SequenceConfig {
	return SequenceConfig{Vocab: 30, EmbeddingDim: 6, HiddenDim: 4, NumClasses: 3, Seed: 7}
}

func randomSequences(n, vocab int, seed int64) [][]int {
	rng := rand.New(rand.NewSource(seed))
	seqs := make([][]int, n)
	for i := range seqs {
		seqs[i] = make([]int, 1+rng.Intn(8))
		for j := range seqs[i] {
			seqs[i][j] = rng.Intn(vocab)
		}
	}
	return seqs
}

func TestStaticMatchesDynamicSequence(t *testing.T) {
	cfg := smallSequenceConfig()
	m := NewSequenceClassifier(cfg)
	eng := engine.New()
	static := NewStatic(eng.Backend(), eng.Context())
	seqs := randomSequences(40, cfg.Vocab, 1)

	var ces, pes []*graph.Node
	for i, seq := range seqs {
		ce, pe := Criterion[*graph.Node](Dynamic{}, m, seq, i%cfg.NumClasses)
		ces = append(ces, ce)
		pes = append(pes, pe)
	}
	values, err := eng.Evaluate(context.Background(), append(append([]*graph.Node{}, ces...), pes...)...)
	require.NoError(t, err)

	for i, seq := range seqs {
		ce, pe := Criterion[*tensor.Value](static, m, seq, i%cfg.NumClasses)
		assert.InDelta(t, float64(ce.Item()), float64(values[ces[i].ID()].Item()), 1e-5, "sequence %d", i)
		assert.Equal(t, pe.Item(), values[pes[i].ID()].Item(), "sequence %d", i)
		assert.Greater(t, ce.Item(), float32(0))
	}
}

// referenceSequenceLoss computes the summed cross entropy of a tanh
// sequence classifier in float64. p holds the parameters in
// SequenceClassifier.Parameters order.
func referenceSequenceLoss(cfg SequenceConfig, p [][]float64, seqs [][]int, labels []int) float64 {
	e, w, r, b, dw, db := p[0], p[1], p[2], p[3], p[4], p[5]
	d, h, k := cfg.EmbeddingDim, cfg.HiddenDim, cfg.NumClasses
	total := 0.0
	for s, seq := range seqs {
		state := make([]float64, h)
		for _, tok := range seq {
			next := make([]float64, h)
			for j := 0; j < h; j++ {
				a := b[j]
				for i := 0; i < d; i++ {
					a += e[tok*d+i] * w[i*h+j]
				}
				for i := 0; i < h; i++ {
					a += state[i] * r[i*h+j]
				}
				next[j] = math.Tanh(a)
			}
			state = next
		}
		z := make([]float64, k)
		zmax := math.Inf(-1)
		for c := range z {
			z[c] = db[c]
			for j := 0; j < h; j++ {
				z[c] += state[j] * dw[j*k+c]
			}
			zmax = math.Max(zmax, z[c])
		}
		sum := 0.0
		for _, v := range z {
			sum += math.Exp(v - zmax)
		}
		total += zmax + math.Log(sum) - z[labels[s]]
	}
	return total
}

func TestSequenceGradientMatchesFiniteDifferences(t *testing.T) {
	cfg := SequenceConfig{Vocab: 10, EmbeddingDim: 4, HiddenDim: 3, NumClasses: 3, Seed: 11}
	m := NewSequenceClassifier(cfg)
	m.Cell.Activation = graph.ActTanh
	params := m.Parameters()
	seqs := [][]int{{1, 2, 3}, {4, 5, 6, 7, 8}, {1}, {9, 1, 2, 2}}
	labels := []int{0, 2, 1, 2}

	losses := func() []*graph.Node {
		out := make([]*graph.Node, len(seqs))
		for i, seq := range seqs {
			out[i], _ = Criterion[*graph.Node](Dynamic{}, m, seq, labels[i])
		}
		return out
	}
	batchedLosses := losses()
	batched := engine.New().NewPass()
	values, err := batched.Evaluate(context.Background(), batchedLosses...)
	require.NoError(t, err)
	grads, err := batched.Differentiate(context.Background(), batchedLosses, params)
	require.NoError(t, err)

	serial, err := engine.New(engine.WithoutBatching()).Differentiate(context.Background(), losses(), params)
	require.NoError(t, err)

	p64 := make([][]float64, len(params))
	for i, prm := range params {
		for _, v := range prm.LeafValue().Data() {
			p64[i] = append(p64[i], float64(v))
		}
	}
	for i, seq := range seqs {
		want := referenceSequenceLoss(cfg, p64, [][]int{seq}, labels[i:i+1])
		assert.InDelta(t, want, float64(values[batchedLosses[i].ID()].Item()), 1e-5, "sequence %d", i)
	}

	const eps = 1e-6
	for i, prm := range params {
		got := grads[prm].ToDense().Data()
		assert.True(t, tensor.AllClose(grads[prm].ToDense(), serial[prm].ToDense(), 1e-5, 1e-6),
			"batched and unbatched gradients of %s", prm.Name())
		for j := range got {
			orig := p64[i][j]
			p64[i][j] = orig + eps
			plus := referenceSequenceLoss(cfg, p64, seqs, labels)
			p64[i][j] = orig - eps
			minus := referenceSequenceLoss(cfg, p64, seqs, labels)
			p64[i][j] = orig
			assert.InDelta(t, (plus-minus)/(2*eps), float64(got[j]), 1e-3, "%s[%d]", prm.Name(), j)
		}
	}
	assert.True(t, grads[m.Embed].IsSparse())
}

func TestSequenceForwardShape(t *testing.T) {
	cfg := smallSequenceConfig()
	m := NewSequenceClassifier(cfg)
	z := Forward[*graph.Node](Dynamic{}, m, []int{1, 2, 3})
	assert.Equal(t, tensor.Shape{cfg.NumClasses}, z.Shape())
	assert.Len(t, m.Parameters(), 6)
	assert.Equal(t, cfg.Vocab*cfg.EmbeddingDim+cfg.EmbeddingDim*cfg.HiddenDim+cfg.HiddenDim*cfg.HiddenDim+
		cfg.HiddenDim+cfg.HiddenDim*cfg.NumClasses+cfg.NumClasses, NumElements(m.Parameters()))
	assert.Equal(t, "embed.E(30, 6)", Describe(m.Parameters())[0])
}

func TestSequenceModelsAreDeterministic(t *testing.T) {
	a := NewSequenceClassifier(smallSequenceConfig())
	b := NewSequenceClassifier(smallSequenceConfig())
	for i, p := range a.Parameters() {
		assert.Equal(t, p.LeafValue().Data(), b.Parameters()[i].LeafValue().Data(), p.Name())
	}
}

func TestShapeErrorsInBothModes(t *testing.T) {
	cfg := smallSequenceConfig()
	m := NewSequenceClassifier(cfg)
	eng := engine.New()
	static := NewStatic(eng.Backend(), eng.Context())
	wrong := tensor.Zeros(tensor.Shape{cfg.HiddenDim + 1})

	var mismatch *graph.ShapeMismatchError
	err := graph.Try(func() { Dynamic{}.Dense(m.Out, graph.Constant(wrong)) })
	require.Error(t, err)
	assert.True(t, errors.As(err, &mismatch))

	err = graph.Try(func() { static.Dense(m.Out, wrong) })
	require.Error(t, err)
	assert.True(t, errors.As(err, &mismatch))

	err = graph.Try(func() { static.Embedding(m.Embed, cfg.Vocab) })
	assert.Error(t, err, "index out of range")
}

func TestActivationsAgree(t *testing.T) {
	eng := engine.New()
	static := NewStatic(eng.Backend(), eng.Context())
	x := tensor.Wrap([]float32{-1, 0.5, 2}, tensor.Shape{3})
	for _, act := range []graph.Activation{graph.ActIdentity, graph.ActReLU, graph.ActTanh, graph.ActSigmoid} {
		n := Dynamic{}.Activation(act, graph.Constant(x))
		values, err := eng.Evaluate(context.Background(), n)
		require.NoError(t, err)
		want := static.Activation(act, x)
		assert.True(t, tensor.AllClose(want, values[n.ID()], 1e-6, 1e-6), "activation %s", act)
	}
}

func TestRandomTrees(t *testing.T) {
	trees := RandomTrees(rand.New(rand.NewSource(1)), 20, 5, 2000)
	again := RandomTrees(rand.New(rand.NewSource(1)), 20, 5, 2000)
	require.Len(t, trees, 20)

	next := 1
	var depth func(t *Tree) int
	depth = func(t *Tree) int {
		if t.IsLeaf() {
			return 1
		}
		return 1 + max(depth(t.Left), depth(t.Right))
	}
	var tokens func(t *Tree, visit func(int))
	tokens = func(t *Tree, visit func(int)) {
		if t.IsLeaf() {
			visit(t.Token)
			return
		}
		tokens(t.Left, visit)
		tokens(t.Right, visit)
	}
	for i, tree := range trees {
		assert.False(t, tree.IsLeaf(), "tree %d: the root always splits", i)
		assert.LessOrEqual(t, depth(tree), 5)
		assert.GreaterOrEqual(t, tree.Leaves(), 2)
		assert.Equal(t, again[i].String(), tree.String())
		tokens(tree, func(tok int) {
			assert.Equal(t, next%2000, tok)
			next++
		})
	}
}

func TestTreeString(t *testing.T) {
	tree := &Tree{Left: &Tree{Left: &Tree{Token: 1}, Right: &Tree{Token: 2}}, Right: &Tree{Token: 3}}
	assert.Equal(t, "((1 2) 3)", tree.String())
	assert.Equal(t, 3, tree.Leaves())
}

func TestTreeLossStaticMatchesDynamic(t *testing.T) {
	for _, barrier := range []bool{false, true} {
		cfg := TreeConfig{Vocab: 50, Dim: 5, Barrier: barrier, BarrierID: 1, Seed: 3}
		enc := NewTreeEncoder(cfg)
		trees := RandomTrees(rand.New(rand.NewSource(2)), 8, 4, cfg.Vocab)
		eng := engine.New()

		loss := TreeLoss[*graph.Node](Dynamic{}, enc, trees)
		assert.Equal(t, tensor.Shape{}, loss.Shape())
		pass := eng.NewPass()
		values, err := pass.Evaluate(context.Background(), loss)
		require.NoError(t, err)

		static := TreeLoss[*tensor.Value](NewStatic(eng.Backend(), eng.Context()), enc, trees)
		assert.InDelta(t, float64(static.Item()), float64(values[loss.ID()].Item()), 1e-4, "barrier=%v", barrier)

		grads, err := pass.Differentiate(context.Background(), []*graph.Node{loss}, enc.Parameters())
		require.NoError(t, err)
		assert.True(t, grads[enc.Embed].IsSparse())
		assert.Len(t, grads, 6)
	}
}

func TestBarrierImprovesTreeBatching(t *testing.T) {
	launches := func(barrier bool) int {
		cfg := TreeConfig{Vocab: 50, Dim: 5, Barrier: barrier, BarrierID: 1, Seed: 3}
		enc := NewTreeEncoder(cfg)
		trees := RandomTrees(rand.New(rand.NewSource(4)), 20, 5, cfg.Vocab)
		pass := engine.New().NewPass()
		_, err := pass.Evaluate(context.Background(), TreeLoss[*graph.Node](Dynamic{}, enc, trees))
		require.NoError(t, err)
		plan := pass.Plans()[0]
		n := 0
		for _, level := range plan.Levels {
			for _, st := range level {
				if st.Kind == graph.OpMatMul {
					n++
				}
			}
		}
		return n
	}
	assert.Equal(t, 1, launches(true), "aligned roots share one head MatMul")
	assert.GreaterOrEqual(t, launches(false), 1)
}

func TestParseMode(t *testing.T) {
	m, err := ParseMode("static")
	require.NoError(t, err)
	assert.Equal(t, ModeStatic, m)
	m, err = ParseMode("dynamic")
	require.NoError(t, err)
	assert.Equal(t, ModeDynamic, m)
	assert.Equal(t, "dynamic", ModeDynamic.String())
	assert.Equal(t, "Mode(9)", Mode(9).String())
	_, err = ParseMode("eager")
	assert.Error(t, err)
}
