// Package engine implements dynamite's dynamic-batching execution model.
//
// Callers build one small graph per example (internal/graph) with no batch
// dimension. The engine collects the nodes reachable from the requested
// outputs, levels them by dependency depth, groups each level by structural
// signature and runs every group as one batched kernel call. Results are
// memoized per node identity in a Pass (one cache epoch), and reverse-mode
// differentiation replays the very same batched steps backwards.
//
// Usage:
//
//	eng := engine.New()
//	w := graph.NewParameter("W", wValue)
//	var losses []*graph.Node
//	for _, ex := range batch {
//	    losses = append(losses, buildExample(ex, w)) // one graph per example
//	}
//	values, err := eng.Evaluate(ctx, losses...)
//	grads, err := eng.Differentiate(ctx, losses, []*graph.Node{w})
package engine

import (
	"context"
	"runtime"
	"sync"
	"sync/atomic"

	"github.com/pkg/errors"
	"k8s.io/klog/v2"

	"github.com/born-ml/dynamite/internal/backend/cpu"
	"github.com/born-ml/dynamite/internal/graph"
	"github.com/born-ml/dynamite/internal/ops"
	"github.com/born-ml/dynamite/internal/parallel"
	"github.com/born-ml/dynamite/internal/tensor"
)

// Config controls engine behavior.
type Config struct {
	Batching         bool            // Group structurally identical nodes into one kernel call.
	CheckFinite      bool            // Fail with NumericDivergenceError on NaN/Inf results.
	MaxInflightSteps int             // Steps of one level dispatched concurrently.
	Parallel         parallel.Config // Per-member fan-out inside kernels.
}

// DefaultConfig returns sensible defaults based on CPU count.
func DefaultConfig() Config {
	return Config{
		Batching:         true,
		CheckFinite:      true,
		MaxInflightSteps: runtime.NumCPU(),
		Parallel:         parallel.DefaultConfig(),
	}
}

// Option configures an Engine.
type Option func(*Engine)

// WithConfig replaces the engine configuration.
func WithConfig(cfg Config) Option {
	return func(e *Engine) { e.cfg = cfg }
}

// WithRegistry replaces the operator registry.
func WithRegistry(r *ops.Registry) Option {
	return func(e *Engine) { e.registry = r }
}

// WithoutBatching runs every node as its own kernel call. Results are
// identical; only the number of kernel launches changes.
func WithoutBatching() Option {
	return func(e *Engine) { e.cfg.Batching = false }
}

// Engine executes per-example graphs in batches.
//
// An Engine is safe for concurrent use. Evaluations and differentiations
// read-share parameter values; Update is serialized against all of them.
type Engine struct {
	cfg      Config
	registry *ops.Registry
	backend  *cpu.Backend
	ctx      *Context

	paramMu sync.RWMutex
	version atomic.Uint64

	statsMu sync.Mutex
	stats   Stats
}

// New creates an engine with the default registry and configuration.
func New(opts ...Option) *Engine {
	e := &Engine{
		cfg:      DefaultConfig(),
		registry: ops.Default(),
		ctx:      NewContext(),
	}
	for _, opt := range opts {
		opt(e)
	}
	if e.cfg.MaxInflightSteps <= 0 {
		e.cfg.MaxInflightSteps = 1
	}
	e.backend = cpu.NewWithConfig(e.cfg.Parallel)
	return e
}

// Config returns the engine configuration.
func (e *Engine) Config() Config {
	return e.cfg
}

// Context returns the engine-owned memoization context.
func (e *Engine) Context() *Context {
	return e.ctx
}

// Backend returns the kernel backend.
func (e *Engine) Backend() *cpu.Backend {
	return e.backend
}

// Stats returns statistics accumulated over every pass of this engine.
func (e *Engine) Stats() Stats {
	e.statsMu.Lock()
	defer e.statsMu.Unlock()
	return e.stats
}

func (e *Engine) addStats(s Stats) {
	e.statsMu.Lock()
	defer e.statsMu.Unlock()
	e.stats = e.stats.Add(s)
}

// ParameterVersion returns a counter incremented by every Update.
func (e *Engine) ParameterVersion() uint64 {
	return e.version.Load()
}

// Evaluate materializes nodes in a fresh pass and returns their values by
// identity. Either every requested value is returned or an error is.
func (e *Engine) Evaluate(ctx context.Context, nodes ...*graph.Node) (map[graph.NodeID]*tensor.Value, error) {
	return e.NewPass().Evaluate(ctx, nodes...)
}

// Differentiate evaluates outputs in a fresh pass and returns the gradient of
// the sum of outputs with respect to each parameter.
func (e *Engine) Differentiate(ctx context.Context, outputs, params []*graph.Node, opts ...DiffOption) (map[*graph.Node]Gradient, error) {
	return e.NewPass().Differentiate(ctx, outputs, params, opts...)
}

// Update atomically replaces parameter values. It waits for in-flight
// evaluations and differentiations to finish, and no pass ever observes a
// partially applied update. Passes started before the update fail with
// ErrStaleParameters on their next call.
func (e *Engine) Update(values map[*graph.Node]*tensor.Value) error {
	for n, v := range values {
		if !n.IsParameter() {
			return errors.Errorf("engine.Update: %s is not a parameter", n)
		}
		if v == nil || !v.Shape().Equal(n.Shape()) {
			return errors.WithStack(&graph.ShapeMismatchError{
				Op:     graph.OpParameter,
				Shapes: []tensor.Shape{n.Shape(), shapeOf(v)},
				Reason: "update value does not match parameter " + n.Name(),
			})
		}
	}
	e.paramMu.Lock()
	defer e.paramMu.Unlock()
	for n, v := range values {
		if err := n.Assign(v); err != nil {
			// Shapes were validated above.
			panic(err)
		}
	}
	version := e.version.Add(1)
	klog.V(2).Infof("engine: updated %d parameters (version %d)", len(values), version)
	return nil
}

func shapeOf(v *tensor.Value) tensor.Shape {
	if v == nil {
		return nil
	}
	return v.Shape()
}
