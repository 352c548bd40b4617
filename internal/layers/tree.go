package layers

import (
	"fmt"
	"math/rand"
	"strings"

	"github.com/born-ml/dynamite/internal/graph"
)

// Tree is a binary tree whose leaves carry token ids.
type Tree struct {
	Left, Right *Tree
	Token       int
}

// IsLeaf reports whether t has no children.
func (t *Tree) IsLeaf() bool {
	return t.Left == nil
}

// Leaves returns the number of leaves.
func (t *Tree) Leaves() int {
	n := 0
	stack := []*Tree{t}
	for len(stack) > 0 {
		cur := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		if cur.IsLeaf() {
			n++
			continue
		}
		stack = append(stack, cur.Left, cur.Right)
	}
	return n
}

func (t *Tree) String() string {
	var sb strings.Builder
	t.format(&sb)
	return sb.String()
}

func (t *Tree) format(sb *strings.Builder) {
	if t.IsLeaf() {
		fmt.Fprintf(sb, "%d", t.Token)
		return
	}
	sb.WriteByte('(')
	t.Left.format(sb)
	sb.WriteByte(' ')
	t.Right.format(sb)
	sb.WriteByte(')')
}

// RandomTrees generates n random trees of depth at most maxDepth. The root
// always splits; deeper nodes split with probability 3/4. Leaves are numbered
// consecutively from 1 across all trees, modulo vocab.
func RandomTrees(rng *rand.Rand, n, maxDepth, vocab int) []*Tree {
	next := 0
	var gen func(depth int) *Tree
	gen = func(depth int) *Tree {
		if depth == 1 || (rng.Intn(4) > 0 && depth < maxDepth) {
			return &Tree{Left: gen(depth + 1), Right: gen(depth + 1)}
		}
		next++
		return &Tree{Token: next % vocab}
	}
	trees := make([]*Tree, n)
	for i := range trees {
		trees[i] = gen(1)
	}
	return trees
}

// TreeConfig sizes a TreeEncoder.
type TreeConfig struct {
	Vocab     int
	Dim       int  // embedding and state size
	Barrier   bool // align all tree roots before the head
	BarrierID int
	Seed      int64
}

// TreeEncoder embeds leaves, composes children with a recurrent cell
// (left as input, right as state) and scores each root with a dense head.
type TreeEncoder struct {
	Config TreeConfig
	Embed  *graph.Node
	Cell   RNNCell
	Head   DenseLayer
}

// NewTreeEncoder creates the model with deterministic parameters.
func NewTreeEncoder(cfg TreeConfig) *TreeEncoder {
	//nolint:gosec // Using math/rand for weight initialization (not security-critical)
	rng := rand.New(rand.NewSource(cfg.Seed))
	return &TreeEncoder{
		Config: cfg,
		Embed:  NewEmbedding(rng, "tree.embed", cfg.Vocab, cfg.Dim),
		Cell:   NewRNNCell(rng, "tree.rnn", cfg.Dim, cfg.Dim, graph.ActReLU),
		Head:   NewDenseLayer(rng, "tree.dense", cfg.Dim, 1),
	}
}

// Parameters returns every parameter of the encoder.
func (e *TreeEncoder) Parameters() []*graph.Node {
	params := []*graph.Node{e.Embed}
	params = append(params, e.Cell.Parameters()...)
	return append(params, e.Head.Parameters()...)
}

// Encode returns the state of the root of t. The tree is unrolled into one
// cell application per inner node, in post-order.
func Encode[T any](b Builder[T], e *TreeEncoder, t *Tree) T {
	type frame struct {
		node    *Tree
		visited bool
	}
	var values []T
	stack := []frame{{node: t}}
	for len(stack) > 0 {
		f := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		switch {
		case f.node.IsLeaf():
			values = append(values, b.Embedding(e.Embed, f.node.Token))
		case f.visited:
			right := values[len(values)-1]
			left := values[len(values)-2]
			values = values[:len(values)-2]
			values = append(values, b.RecurrentCell(e.Cell, left, right))
		default:
			stack = append(stack, frame{node: f.node, visited: true}, frame{node: f.node.Right}, frame{node: f.node.Left})
		}
	}
	return values[0]
}

// Score returns the head's [1] output for one tree.
func Score[T any](b Builder[T], e *TreeEncoder, t *Tree) T {
	root := Encode(b, e, t)
	if e.Config.Barrier {
		root = b.Barrier(root, e.Config.BarrierID)
	}
	return b.Dense(e.Head, root)
}

// TreeLoss returns the sum of the scores of all trees as one scalar.
func TreeLoss[T any](b Builder[T], e *TreeEncoder, trees []*Tree) T {
	scores := make([]T, len(trees))
	for i, t := range trees {
		scores[i] = Score(b, e, t)
	}
	return b.ReduceSum(b.Splice(scores...))
}
