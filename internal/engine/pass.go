package engine

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/gomlx/exceptions"
	"github.com/google/uuid"
	"github.com/pkg/errors"
	"golang.org/x/sync/errgroup"
	"k8s.io/klog/v2"

	"github.com/born-ml/dynamite/internal/graph"
	"github.com/born-ml/dynamite/internal/ops"
	"github.com/born-ml/dynamite/internal/tensor"
)

// Pass is one cache epoch: every node it materializes is computed at most
// once and its value is reused by later Evaluate or Differentiate calls on
// the same pass.
//
// A pass reads one parameter snapshot. If parameters are updated after its
// first read, every later call fails with ErrStaleParameters. A failed or
// cancelled evaluation poisons the pass: later calls return the same error.
//
// Calls on one pass are serialized; distinct passes run concurrently.
type Pass struct {
	id  uuid.UUID
	eng *Engine

	mu      sync.Mutex
	cache   map[graph.NodeID]*tensor.Value
	runs    []*stepRun // executed steps, in execution order
	plans   []*Plan
	version uint64
	pinned  bool
	err     error
	stats   Stats
}

// stepRun records one executed forward step, replayed by the backward pass.
type stepRun struct {
	step *Step
	def  *ops.Definition
	call *ops.Call
	out  *tensor.Value
}

// NewPass starts a new cache epoch.
func (e *Engine) NewPass() *Pass {
	p := &Pass{
		id:    uuid.New(),
		eng:   e,
		cache: make(map[graph.NodeID]*tensor.Value),
	}
	p.stats.Passes = 1
	return p
}

// ID returns the pass identifier used in log lines.
func (p *Pass) ID() uuid.UUID {
	return p.id
}

// Err returns the error that poisoned the pass, if any.
func (p *Pass) Err() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.err
}

// Stats returns the work done by this pass so far.
func (p *Pass) Stats() Stats {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.stats
}

// Plans returns the plans executed by this pass, one per call that had
// something left to compute.
func (p *Pass) Plans() []*Plan {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]*Plan(nil), p.plans...)
}

// Value returns the cached value of n, if it was materialized by this pass.
func (p *Pass) Value(n *graph.Node) (*tensor.Value, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	v, ok := p.cache[n.ID()]
	return v, ok
}

// Executions returns how many times n was computed by this pass: 0 or 1.
func (p *Pass) Executions(n *graph.Node) int {
	p.mu.Lock()
	defer p.mu.Unlock()
	count := 0
	for _, r := range p.runs {
		for _, m := range r.step.Members {
			if m == n {
				count++
			}
		}
	}
	return count
}

// Invalidate poisons the pass with ErrPassInvalidated.
func (p *Pass) Invalidate() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.invalidate(nil)
}

func (p *Pass) invalidate(cause error) error {
	if p.err == nil {
		if cause != nil {
			p.err = errors.Wrapf(ErrPassInvalidated, "%v", cause)
		} else {
			p.err = errors.WithStack(ErrPassInvalidated)
		}
		klog.V(1).Infof("pass %s: invalidated: %v", p.id, p.err)
	}
	return p.err
}

// Evaluate materializes nodes and returns their values by identity. Nodes
// already computed by this pass are not recomputed. Either every value is
// returned or an error is.
func (p *Pass) Evaluate(ctx context.Context, nodes ...*graph.Node) (map[graph.NodeID]*tensor.Value, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.eng.paramMu.RLock()
	defer p.eng.paramMu.RUnlock()
	if err := p.evaluate(ctx, nodes); err != nil {
		return nil, err
	}
	results := make(map[graph.NodeID]*tensor.Value, len(nodes))
	for _, n := range nodes {
		results[n.ID()] = p.cache[n.ID()]
	}
	return results, nil
}

// checkSnapshot pins the parameter version on first use and detects updates
// made since. Callers hold p.mu and the engine's read lock.
func (p *Pass) checkSnapshot() error {
	if p.err != nil {
		return p.err
	}
	current := p.eng.version.Load()
	if !p.pinned {
		p.version, p.pinned = current, true
		return nil
	}
	if current != p.version {
		p.err = errors.Wrapf(ErrStaleParameters, "pass pinned version %d, engine is at %d", p.version, current)
		return p.err
	}
	return nil
}

// evaluate runs the plan for nodes. Callers hold p.mu and the engine's read
// lock.
func (p *Pass) evaluate(ctx context.Context, nodes []*graph.Node) error {
	if err := p.checkSnapshot(); err != nil {
		return err
	}
	for _, n := range nodes {
		if _, ok := p.cache[n.ID()]; ok {
			p.stats.CacheHits++
		}
	}
	cached := func(n *graph.Node) bool {
		_, ok := p.cache[n.ID()]
		return ok
	}
	plan, err := BuildPlan(nodes, cached, p.eng.cfg.Batching)
	if err != nil {
		p.err = err
		return err
	}
	if err := p.eng.registry.Validate(plan.Kinds()...); err != nil {
		p.err = err
		return err
	}
	for _, leaf := range plan.Leaves {
		p.cache[leaf.ID()] = leaf.LeafValue()
	}
	if plan.Nodes == 0 {
		return nil
	}
	if klog.V(2).Enabled() {
		klog.Infof("pass %s: %d nodes in %d steps over %d levels", p.id, plan.Nodes, plan.NumSteps(), len(plan.Levels))
	}

	start := time.Now()
	for i, level := range plan.Levels {
		if err := ctx.Err(); err != nil {
			return p.invalidate(err)
		}
		runs, err := p.runLevel(ctx, i+1, level)
		if err != nil {
			if ctxErr := ctx.Err(); ctxErr != nil {
				return p.invalidate(ctxErr)
			}
			p.err = err
			return err
		}
		for _, r := range runs {
			for b, m := range r.step.Members {
				p.cache[m.ID()] = r.out.Member(b)
			}
			p.stats.MaxBatch = max(p.stats.MaxBatch, len(r.step.Members))
		}
		p.runs = append(p.runs, runs...)
		p.stats.KernelLaunches += len(runs)
	}
	if err := ctx.Err(); err != nil {
		return p.invalidate(err)
	}
	elapsed := time.Since(start)
	p.plans = append(p.plans, plan)
	p.stats.Nodes += plan.Nodes
	p.stats.Levels += len(plan.Levels)
	p.stats.ForwardTime += elapsed
	p.eng.addStats(Stats{
		Nodes:          plan.Nodes,
		Levels:         len(plan.Levels),
		KernelLaunches: plan.NumSteps(),
		MaxBatch:       p.stats.MaxBatch,
		ForwardTime:    elapsed,
	})
	klog.V(3).Infof("pass %s: forward done in %s", p.id, elapsed)
	return nil
}

// runLevel dispatches the independent steps of one level concurrently.
// The cache is only read here; results are stored by the caller.
func (p *Pass) runLevel(ctx context.Context, level int, steps []*Step) ([]*stepRun, error) {
	runs := make([]*stepRun, len(steps))
	g, _ := errgroup.WithContext(ctx)
	g.SetLimit(p.eng.cfg.MaxInflightSteps)
	for i, st := range steps {
		g.Go(func() error {
			r, err := p.runStep(level, st)
			if err != nil {
				return err
			}
			runs[i] = r
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return runs, nil
}

// runStep gathers the operands of every member and executes one batched
// forward kernel.
func (p *Pass) runStep(level int, st *Step) (*stepRun, error) {
	def, err := p.eng.registry.Lookup(st.Kind)
	if err != nil {
		return nil, err
	}
	call, err := p.gatherCall(level, st)
	if err != nil {
		return nil, err
	}
	klog.V(4).Infof("pass %s: L%d %s x%d", p.id, level, st.Signature, call.Size)

	var out *tensor.Value
	var kernelErr error
	if exception := exceptions.Try(func() { out, kernelErr = def.Forward(call) }); exception != nil {
		return nil, errors.Errorf("kernel %s panicked at level %d: %v", st.Kind, level, exception)
	}
	if kernelErr != nil {
		return nil, errors.Wrapf(kernelErr, "kernel %s at level %d", st.Kind, level)
	}
	want := st.Members[0].Shape().Prepend(call.Size)
	if out == nil || !out.Shape().Equal(want) {
		return nil, invariantViolation(level, st, "kernel produced %v, expected %v", shapeOf(out), want)
	}
	if p.eng.cfg.CheckFinite && out.HasNonFinite() {
		return nil, errors.WithStack(&NumericDivergenceError{
			Op:    st.Kind,
			Level: level,
			Node:  firstNonFinite(st.Members, out),
			Phase: "forward",
		})
	}
	return &stepRun{step: st, def: def, call: call, out: out}, nil
}

// gatherCall builds the batched operands of a step. An operand slot that
// references the same node in every member is passed once, as a shared
// batch; otherwise member values are stacked.
func (p *Pass) gatherCall(level int, st *Step) (*ops.Call, error) {
	size := len(st.Members)
	first := st.Members[0]
	call := &ops.Call{
		Kind:     st.Kind,
		Attrs:    first.Attrs(),
		Operands: make([]tensor.Batch, len(first.Operands())),
		Aux:      make([]int, size),
		Size:     size,
		Backend:  p.eng.backend,
	}
	for b, m := range st.Members {
		if len(m.Operands()) != len(first.Operands()) {
			return nil, invariantViolation(level, st, "member %s has %d operands, expected %d", m, len(m.Operands()), len(first.Operands()))
		}
		call.Aux[b] = m.Aux()
	}
	for slot, op := range first.Operands() {
		shared := true
		for _, m := range st.Members[1:] {
			if m.Operands()[slot] != op {
				shared = false
				break
			}
		}
		if shared {
			v, ok := p.cache[op.ID()]
			if !ok {
				return nil, invariantViolation(level, st, "operand %s not materialized", op)
			}
			call.Operands[slot] = tensor.SharedBatch(v, size)
			continue
		}
		values := make([]*tensor.Value, size)
		for b, m := range st.Members {
			v, ok := p.cache[m.Operands()[slot].ID()]
			if !ok {
				return nil, invariantViolation(level, st, "operand %s not materialized", m.Operands()[slot])
			}
			values[b] = v
		}
		stacked, err := tensor.Stack(values)
		if err != nil {
			return nil, invariantViolation(level, st, "operand slot %d: %v", slot, err)
		}
		call.Operands[slot] = tensor.Stacked(stacked)
	}
	return call, nil
}

// firstNonFinite returns the member owning the first NaN/Inf of out.
func firstNonFinite(members []*graph.Node, out *tensor.Value) graph.NodeID {
	for b, m := range members {
		if out.Member(b).HasNonFinite() {
			return m.ID()
		}
	}
	return members[0].ID()
}

// String summarizes the pass.
func (p *Pass) String() string {
	return fmt.Sprintf("Pass(%s)", p.id)
}
