package layers

import (
	"math/rand"

	"github.com/born-ml/dynamite/internal/graph"
	"github.com/born-ml/dynamite/internal/tensor"
)

// SequenceConfig sizes a SequenceClassifier.
type SequenceConfig struct {
	Vocab        int // input vocabulary size
	EmbeddingDim int
	HiddenDim    int
	NumClasses   int
	Seed         int64 // parameter initialization seed
}

// DefaultSequenceConfig returns the reference configuration: a 2000-word
// vocabulary, 50-dim embeddings, 25 hidden units and 5 classes.
func DefaultSequenceConfig() SequenceConfig {
	return SequenceConfig{
		Vocab:        2000,
		EmbeddingDim: 50,
		HiddenDim:    25,
		NumClasses:   5,
		Seed:         1,
	}
}

// SequenceClassifier is Embedding → Fold(RNN with ReLU) → Dense.
type SequenceClassifier struct {
	Config SequenceConfig
	Embed  *graph.Node
	Cell   RNNCell
	Out    DenseLayer
}

// NewSequenceClassifier creates the model with deterministic parameters.
func NewSequenceClassifier(cfg SequenceConfig) *SequenceClassifier {
	//nolint:gosec // Using math/rand for weight initialization (not security-critical)
	rng := rand.New(rand.NewSource(cfg.Seed))
	return &SequenceClassifier{
		Config: cfg,
		Embed:  NewEmbedding(rng, "embed", cfg.Vocab, cfg.EmbeddingDim),
		Cell:   NewRNNCell(rng, "rnn", cfg.EmbeddingDim, cfg.HiddenDim, graph.ActReLU),
		Out:    NewDenseLayer(rng, "dense", cfg.HiddenDim, cfg.NumClasses),
	}
}

// Parameters returns every parameter of the model.
func (m *SequenceClassifier) Parameters() []*graph.Node {
	params := []*graph.Node{m.Embed}
	params = append(params, m.Cell.Parameters()...)
	return append(params, m.Out.Parameters()...)
}

// Fold unrolls cell over xs into a finite chain starting from h0 and
// returns the final state. Each application is a new node.
func Fold[T any](b Builder[T], cell RNNCell, xs []T, h0 T) T {
	h := h0
	for _, x := range xs {
		h = b.RecurrentCell(cell, x, h)
	}
	return h
}

// Forward returns the logits of one token sequence.
func Forward[T any](b Builder[T], m *SequenceClassifier, tokens []int) T {
	xs := make([]T, len(tokens))
	for i, tok := range tokens {
		xs[i] = b.Embedding(m.Embed, tok)
	}
	h := Fold(b, m.Cell, xs, b.Zeros(tensor.Shape{m.Config.HiddenDim}))
	return b.Dense(m.Out, h)
}

// Criterion returns the cross entropy and the classification error of one
// labeled sequence.
func Criterion[T any](b Builder[T], m *SequenceClassifier, tokens []int, label int) (ce, pe T) {
	z := Forward(b, m, tokens)
	y := b.Constant(tensor.OneHot(m.Config.NumClasses, label))
	return b.CrossEntropyWithSoftmax(z, y), b.ClassificationError(z, y)
}
