// Package optim implements optimization algorithms for dynamite models.
//
// This package provides:
//   - Optimizer interface: Base interface for all optimizers
//   - SGD: Stochastic Gradient Descent with momentum
//   - Adam: Adaptive Moment Estimation (lazy on sparse gradients)
//
// Gradients are the ones returned by engine.Differentiate: sums over the
// minibatch, so learning rates are per sample. New parameter values are
// computed off to the side and committed in one engine.Update, which never
// overlaps an evaluation.
//
// Example usage:
//
//	sgd := optim.NewSGD(model.Parameters(), optim.SGDConfig{LR: 0.05})
//	for _, batch := range batches {
//	    grads, err := eng.Differentiate(ctx, losses(batch), model.Parameters())
//	    ...
//	    if err := sgd.Step(eng, grads); err != nil { ... }
//	}
package optim

import (
	"github.com/pkg/errors"
	"gonum.org/v1/gonum/blas/blas32"

	"github.com/born-ml/dynamite/internal/engine"
	"github.com/born-ml/dynamite/internal/graph"
	"github.com/born-ml/dynamite/internal/tensor"
)

// Optimizer is the base interface for all optimization algorithms.
type Optimizer interface {
	// Step computes new values for every parameter that has a gradient and
	// commits them atomically through eng.Update.
	Step(eng *engine.Engine, grads map[*graph.Node]engine.Gradient) error

	// GetLR returns the current learning rate.
	GetLR() float32

	// SetLR updates the learning rate.
	SetLR(lr float32)
}

// axpy computes y += alpha*x.
func axpy(alpha float32, x, y []float32) {
	blas32.Axpy(alpha,
		blas32.Vector{N: len(x), Inc: 1, Data: x},
		blas32.Vector{N: len(y), Inc: 1, Data: y})
}

// checkGradient verifies that g matches the parameter's shape.
func checkGradient(p *graph.Node, g engine.Gradient) error {
	if g.Dense == nil && g.Sparse == nil {
		return errors.Errorf("empty gradient for parameter %s", p)
	}
	if !g.Shape().Equal(p.Shape()) {
		return errors.Errorf("gradient shape %v does not match parameter %s", g.Shape(), p)
	}
	return nil
}

// commit applies updates through the engine, or does nothing when empty.
func commit(eng *engine.Engine, updates map[*graph.Node]*tensor.Value) error {
	if len(updates) == 0 {
		return nil
	}
	return errors.Wrap(eng.Update(updates), "optimizer step")
}
