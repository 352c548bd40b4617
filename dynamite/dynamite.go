// Copyright 2025 Born ML Framework. All rights reserved.
// Use of this source code is governed by an Apache 2.0
// license that can be found in the LICENSE file.

// Package dynamite is the public entry point of the dynamic-batching engine.
//
// Build one graph per example with package graph, then hand all the
// per-example outputs to an Engine: structurally identical operations of the
// whole minibatch run as single batched kernels, and gradients flow back
// through the same batched steps.
//
// Example:
//
//	import (
//	    "github.com/born-ml/dynamite/dynamite"
//	    "github.com/born-ml/dynamite/graph"
//	)
//
//	func main() {
//	    eng := dynamite.New()
//	    losses := buildLosses(batch) // []*graph.Node, one per example
//	    grads, err := eng.Differentiate(ctx, losses, params)
//	    if err != nil {
//	        log.Fatal(err)
//	    }
//	    ...
//	}
package dynamite

import (
	"github.com/born-ml/dynamite/internal/engine"
	"github.com/born-ml/dynamite/internal/graph"
)

// Engine executes per-example graphs in batches.
type Engine = engine.Engine

// Config controls engine behavior.
type Config = engine.Config

// Option configures an Engine.
type Option = engine.Option

// Pass is one cache epoch.
type Pass = engine.Pass

// Plan is a batched execution plan.
type Plan = engine.Plan

// Step is one batched kernel call of a Plan.
type Step = engine.Step

// Gradient is the (dense and/or sparse) gradient of a parameter.
type Gradient = engine.Gradient

// DiffOption configures Differentiate.
type DiffOption = engine.DiffOption

// Stats counts the work done by passes.
type Stats = engine.Stats

// Context holds memoized constant structures owned by an engine.
type Context = engine.Context

// BatchingInvariantViolationError reports a scheduling bug.
type BatchingInvariantViolationError = engine.BatchingInvariantViolationError

// NumericDivergenceError reports a kernel that produced NaN or ±Inf.
type NumericDivergenceError = engine.NumericDivergenceError

// Sentinel errors.
var (
	ErrPassInvalidated = engine.ErrPassInvalidated
	ErrStaleParameters = engine.ErrStaleParameters
)

// New creates an engine.
func New(opts ...Option) *Engine {
	return engine.New(opts...)
}

// DefaultConfig returns the default engine configuration.
func DefaultConfig() Config {
	return engine.DefaultConfig()
}

// WithConfig replaces the engine configuration.
func WithConfig(cfg Config) Option {
	return engine.WithConfig(cfg)
}

// WithoutBatching runs every node as its own kernel call.
func WithoutBatching() Option {
	return engine.WithoutBatching()
}

// WithDenseGradients densifies sparse gradients.
func WithDenseGradients() DiffOption {
	return engine.WithDenseGradients()
}

// BuildPlan returns the batched plan for roots without executing it.
func BuildPlan(roots []*graph.Node) (*Plan, error) {
	return engine.BuildPlan(roots, func(*graph.Node) bool { return false }, true)
}
