package main

import (
	"context"
	"flag"
	"fmt"
	"math"
	"math/rand"

	"github.com/janpfeifer/must"
	"github.com/pkg/errors"

	"github.com/born-ml/dynamite/internal/engine"
	"github.com/born-ml/dynamite/internal/graph"
	"github.com/born-ml/dynamite/internal/layers"
	"github.com/born-ml/dynamite/internal/tensor"
)

// treeRun is the outcome of one execution of the tree loss.
type treeRun struct {
	name  string
	loss  float32
	grads map[*graph.Node]engine.Gradient
	stats engine.Stats
}

func runTree(args []string) error {
	cfg := layers.TreeConfig{Vocab: 2000, Dim: 50, BarrierID: 1, Seed: 1}
	fs := flag.NewFlagSet("tree", flag.ExitOnError)
	numTrees := fs.Int("trees", 20, "Number of random trees.")
	maxDepth := fs.Int("depth", 5, "Maximum tree depth.")
	fs.IntVar(&cfg.Dim, "dim", cfg.Dim, "Embedding and state size.")
	fs.IntVar(&cfg.Vocab, "vocab", cfg.Vocab, "Leaf vocabulary size.")
	fs.BoolVar(&cfg.Barrier, "barrier", false, "Align the tree roots with a barrier before the dense head.")
	fs.Int64Var(&cfg.Seed, "seed", cfg.Seed, "Seed of the trees and of the parameters.")
	must.M(fs.Parse(args))

	//nolint:gosec // Using math/rand for demo data (not security-critical)
	rng := rand.New(rand.NewSource(cfg.Seed))
	trees := layers.RandomTrees(rng, *numTrees, *maxDepth, cfg.Vocab)
	enc := layers.NewTreeEncoder(cfg)

	var loss *graph.Node
	if err := graph.Try(func() { loss = layers.TreeLoss[*graph.Node](layers.Dynamic{}, enc, trees) }); err != nil {
		return err
	}
	fmt.Printf("%d trees, %d leaves, graph: %s\n", len(trees), countLeaves(trees), graph.CollectStats([]*graph.Node{loss}))

	ctx := context.Background()
	unbatched, err := executeTree(ctx, "unbatched", engine.New(engine.WithoutBatching()), loss, enc.Parameters())
	if err != nil {
		return err
	}
	batched, err := executeTree(ctx, "batched", engine.New(), loss, enc.Parameters())
	if err != nil {
		return err
	}

	eng := engine.New()
	var static *tensor.Value
	err = graph.Try(func() {
		static = layers.TreeLoss[*tensor.Value](layers.NewStatic(eng.Backend(), eng.Context()), enc, trees)
	})
	if err != nil {
		return err
	}
	fmt.Printf("loss: static %.6f, unbatched %.6f, batched %.6f\n", static.Item(), unbatched.loss, batched.loss)
	if diff := maxGradientDiff(unbatched.grads, batched.grads); diff > 1e-4 {
		return errors.Errorf("batched gradients differ from unbatched ones by %g", diff)
	}

	fmt.Println(statsTable(unbatched.name, unbatched.stats))
	fmt.Println(statsTable(batched.name, batched.stats))
	if batched.stats.KernelLaunches > 0 {
		fmt.Printf("batching saves %.1fx forward kernel launches\n",
			float64(unbatched.stats.KernelLaunches)/float64(batched.stats.KernelLaunches))
	}
	return nil
}

func executeTree(ctx context.Context, name string, eng *engine.Engine, loss *graph.Node, params []*graph.Node) (treeRun, error) {
	run := treeRun{name: name}
	pass := eng.NewPass()
	values, err := pass.Evaluate(ctx, loss)
	if err != nil {
		return run, errors.WithMessage(err, name)
	}
	run.loss = values[loss.ID()].Item()
	run.grads, err = pass.Differentiate(ctx, []*graph.Node{loss}, params, engine.WithDenseGradients())
	if err != nil {
		return run, errors.WithMessage(err, name)
	}
	run.stats = pass.Stats()
	return run, nil
}

func countLeaves(trees []*layers.Tree) int {
	n := 0
	for _, t := range trees {
		n += t.Leaves()
	}
	return n
}

func maxGradientDiff(a, b map[*graph.Node]engine.Gradient) float64 {
	var worst float64
	for p, ga := range a {
		da, db := ga.ToDense().Data(), b[p].ToDense().Data()
		for i := range da {
			worst = math.Max(worst, math.Abs(float64(da[i]-db[i])))
		}
	}
	return worst
}
