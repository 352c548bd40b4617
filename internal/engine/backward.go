package engine

import (
	"context"
	"time"

	"github.com/gomlx/exceptions"
	"github.com/pkg/errors"
	"k8s.io/klog/v2"

	"github.com/born-ml/dynamite/internal/backend/cpu"
	"github.com/born-ml/dynamite/internal/graph"
	"github.com/born-ml/dynamite/internal/ops"
	"github.com/born-ml/dynamite/internal/tensor"
)

// Gradient is the gradient of a parameter. It has a dense part, a sparse
// part or both; the represented value is their sum. Lookup-only parameters
// (embedding tables) receive a sparse gradient unless WithDenseGradients is
// given.
type Gradient struct {
	Dense  *tensor.Value
	Sparse *tensor.SparseRows
}

// IsSparse reports whether the gradient is purely index-sparse.
func (g Gradient) IsSparse() bool {
	return g.Dense == nil && g.Sparse != nil
}

// Shape returns the shape of the represented value.
func (g Gradient) Shape() tensor.Shape {
	if g.Dense != nil {
		return g.Dense.Shape()
	}
	if g.Sparse != nil {
		return g.Sparse.Shape()
	}
	return nil
}

// ToDense returns the dense value of the gradient. This allocates the full
// parameter shape when the gradient is sparse.
func (g Gradient) ToDense() *tensor.Value {
	switch {
	case g.Sparse == nil:
		return g.Dense
	case g.Dense == nil:
		return g.Sparse.ToDense()
	default:
		v, err := g.Sparse.ScatterInto(g.Dense)
		if err != nil {
			panic(err) // both parts share the parameter's shape
		}
		return v
	}
}

type diffOptions struct {
	dense bool
}

// DiffOption configures Differentiate.
type DiffOption func(*diffOptions)

// WithDenseGradients densifies sparse gradients before returning them.
func WithDenseGradients() DiffOption {
	return func(o *diffOptions) { o.dense = true }
}

// accumulator sums the gradient contributions flowing into one node.
type accumulator struct {
	dense  *tensor.Value
	sparse *tensor.SparseRows
}

func (a *accumulator) addDense(v *tensor.Value) {
	if a.dense == nil {
		a.dense = v
		return
	}
	a.dense = cpu.AddValues(a.dense, v)
}

func (a *accumulator) addSparse(s *tensor.SparseRows) error {
	if a.sparse == nil {
		a.sparse = s
		return nil
	}
	sum, err := a.sparse.Add(s)
	if err != nil {
		return err
	}
	a.sparse = sum
	return nil
}

func (a *accumulator) gradient() Gradient {
	return Gradient{Dense: a.dense, Sparse: a.sparse}
}

// Differentiate evaluates outputs (reusing anything this pass already
// computed) and returns, for every parameter in params, the gradient of the
// sum of all output elements with respect to it. Parameters the outputs do
// not depend on get a dense zero gradient.
//
// Backward replays the forward steps in reverse, with the same members:
// gradient kernels are batched exactly like the forward kernels. Members
// that receive no gradient are padded with zeros.
func (p *Pass) Differentiate(ctx context.Context, outputs, params []*graph.Node, opts ...DiffOption) (map[*graph.Node]Gradient, error) {
	var o diffOptions
	for _, opt := range opts {
		opt(&o)
	}
	for _, prm := range params {
		if !prm.IsParameter() {
			return nil, errors.Errorf("Differentiate: %s is not a parameter", prm)
		}
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	p.eng.paramMu.RLock()
	defer p.eng.paramMu.RUnlock()

	if err := p.evaluate(ctx, outputs); err != nil {
		return nil, err
	}
	start := time.Now()
	grads, launches, err := p.backward(ctx, outputs, params)
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, p.invalidate(ctxErr)
		}
		p.err = err
		return nil, err
	}

	results := make(map[*graph.Node]Gradient, len(params))
	for _, prm := range params {
		acc, ok := grads[prm.ID()]
		if !ok {
			results[prm] = Gradient{Dense: tensor.Zeros(prm.Shape())}
			continue
		}
		g := acc.gradient()
		if o.dense && g.Sparse != nil {
			g = Gradient{Dense: g.ToDense()}
		}
		if p.eng.cfg.CheckFinite && ((g.Dense != nil && g.Dense.HasNonFinite()) || (g.Sparse != nil && g.Sparse.HasNonFinite())) {
			err := errors.WithStack(&NumericDivergenceError{Op: graph.OpParameter, Node: prm.ID(), Phase: "backward"})
			p.err = err
			return nil, err
		}
		results[prm] = g
	}

	elapsed := time.Since(start)
	p.stats.BackwardLaunches += launches
	p.stats.BackwardTime += elapsed
	p.eng.addStats(Stats{BackwardLaunches: launches, BackwardTime: elapsed})
	klog.V(3).Infof("pass %s: backward done in %s (%d launches)", p.id, elapsed, launches)
	return results, nil
}

// backward propagates gradients from outputs through every recorded run.
func (p *Pass) backward(ctx context.Context, outputs, params []*graph.Node) (map[graph.NodeID]*accumulator, int, error) {
	// Nodes on a path to a requested parameter.
	wanted := make(map[graph.NodeID]bool, len(params))
	for _, prm := range params {
		wanted[prm.ID()] = true
	}
	needs := make(map[graph.NodeID]bool)
	for _, n := range graph.TopologicalOrder(outputs) {
		if wanted[n.ID()] {
			needs[n.ID()] = true
			continue
		}
		for _, op := range n.Operands() {
			if needs[op.ID()] {
				needs[n.ID()] = true
				break
			}
		}
	}

	grads := make(map[graph.NodeID]*accumulator)
	get := func(id graph.NodeID) *accumulator {
		acc, ok := grads[id]
		if !ok {
			acc = &accumulator{}
			grads[id] = acc
		}
		return acc
	}
	for _, out := range outputs {
		if needs[out.ID()] {
			get(out.ID()).addDense(tensor.Ones(out.Shape()))
		}
	}

	launches := 0
	for i := len(p.runs) - 1; i >= 0; i-- {
		r := p.runs[i]
		active := false
		for _, m := range r.step.Members {
			if _, ok := grads[m.ID()]; ok && needs[m.ID()] {
				active = true
				break
			}
		}
		if !active {
			continue
		}
		if err := ctx.Err(); err != nil {
			return nil, 0, err
		}
		if err := p.backwardStep(r, grads, needs, get); err != nil {
			return nil, 0, err
		}
		for _, m := range r.step.Members {
			delete(grads, m.ID())
		}
		launches++
	}
	return grads, launches, nil
}

// backwardStep runs the gradient kernel of one recorded step and scatters
// the operand gradients back onto the operand nodes.
func (p *Pass) backwardStep(r *stepRun, grads map[graph.NodeID]*accumulator, needs map[graph.NodeID]bool,
	get func(graph.NodeID) *accumulator) error {
	st := r.step
	memberShape := st.Members[0].Shape()
	parts := make([]*tensor.Value, len(st.Members))
	for b, m := range st.Members {
		acc, ok := grads[m.ID()]
		switch {
		case !ok:
			parts[b] = p.eng.ctx.Zeros(memberShape)
		case acc.sparse != nil:
			parts[b] = acc.gradient().ToDense()
		default:
			parts[b] = acc.dense
		}
	}
	outGrad, err := tensor.Stack(parts)
	if err != nil {
		return invariantViolation(st.Level, st, "output gradient: %v", err)
	}

	var opGrads []*ops.Grad
	var kernelErr error
	if exception := exceptions.Try(func() { opGrads, kernelErr = r.def.Backward(r.call, r.out, outGrad) }); exception != nil {
		return errors.Errorf("gradient kernel %s panicked at level %d: %v", st.Kind, st.Level, exception)
	}
	if kernelErr != nil {
		return errors.Wrapf(kernelErr, "gradient kernel %s at level %d", st.Kind, st.Level)
	}
	if len(opGrads) != len(r.call.Operands) {
		return invariantViolation(st.Level, st, "gradient kernel returned %d gradients for %d operands", len(opGrads), len(r.call.Operands))
	}

	for slot, g := range opGrads {
		if g == nil {
			continue
		}
		if r.call.Operands[slot].Shared {
			op := st.Members[0].Operands()[slot]
			if !needs[op.ID()] {
				continue
			}
			if err := p.accumulateShared(st, op, g, get(op.ID())); err != nil {
				return err
			}
			continue
		}
		if g.Dense == nil || g.Shared {
			return invariantViolation(st.Level, st, "stacked operand %d received a non-stacked gradient", slot)
		}
		if p.eng.cfg.CheckFinite && g.Dense.HasNonFinite() {
			return errors.WithStack(&NumericDivergenceError{Op: st.Kind, Level: st.Level, Node: st.Members[0].ID(), Phase: "backward"})
		}
		for b, m := range st.Members {
			op := m.Operands()[slot]
			if needs[op.ID()] {
				get(op.ID()).addDense(g.Dense.Member(b))
			}
		}
	}
	return nil
}

func (p *Pass) accumulateShared(st *Step, op *graph.Node, g *ops.Grad, acc *accumulator) error {
	if g.Sparse != nil {
		if err := acc.addSparse(g.Sparse); err != nil {
			return invariantViolation(st.Level, st, "sparse gradient of %s: %v", op, err)
		}
		return nil
	}
	if g.Dense == nil || !g.Dense.Shape().Equal(op.Shape()) {
		return invariantViolation(st.Level, st, "shared gradient of %s has shape %v", op, shapeOf(g.Dense))
	}
	if p.eng.cfg.CheckFinite && g.Dense.HasNonFinite() {
		return errors.WithStack(&NumericDivergenceError{Op: st.Kind, Level: st.Level, Node: op.ID(), Phase: "backward"})
	}
	acc.addDense(g.Dense)
	return nil
}
