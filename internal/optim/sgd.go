package optim

import (
	"github.com/born-ml/dynamite/internal/engine"
	"github.com/born-ml/dynamite/internal/graph"
	"github.com/born-ml/dynamite/internal/tensor"
)

// SGD implements Stochastic Gradient Descent optimizer with optional momentum.
//
// Update rule without momentum:
//
//	param = param - lr * gradient
//
// Update rule with momentum:
//
//	velocity = momentum * velocity + gradient
//	param = param - lr * velocity
//
// Without momentum, sparse gradients only touch the rows they carry, so an
// embedding table update costs O(active rows).
type SGD struct {
	params     []*graph.Node
	lr         float32
	momentum   float32
	velocities map[*graph.Node]*tensor.Value
}

// SGDConfig holds configuration for SGD optimizer.
type SGDConfig struct {
	LR       float32 // Learning rate per sample (default: 0.01)
	Momentum float32 // Momentum factor (default: 0.0, range: [0, 1))
}

// NewSGD creates a new SGD optimizer for params.
func NewSGD(params []*graph.Node, config SGDConfig) *SGD {
	if config.LR == 0 {
		config.LR = 0.01
	}
	return &SGD{
		params:     params,
		lr:         config.LR,
		momentum:   config.Momentum,
		velocities: make(map[*graph.Node]*tensor.Value),
	}
}

// Step performs a single optimization step.
//
// Parameters with no gradient (not in the differentiated graph) are skipped.
func (s *SGD) Step(eng *engine.Engine, grads map[*graph.Node]engine.Gradient) error {
	updates := make(map[*graph.Node]*tensor.Value, len(s.params))
	for _, p := range s.params {
		g, ok := grads[p]
		if !ok {
			continue
		}
		if err := checkGradient(p, g); err != nil {
			return err
		}
		if s.momentum == 0 {
			updates[p] = s.update(p.LeafValue(), g)
		} else {
			updates[p] = s.updateWithMomentum(p, g)
		}
	}
	return commit(eng, updates)
}

// update returns param - lr*grad, applying sparse rows in place of a dense
// scatter.
func (s *SGD) update(param *tensor.Value, g engine.Gradient) *tensor.Value {
	out := param.Clone()
	data := out.Data()
	if g.Dense != nil {
		axpy(-s.lr, g.Dense.Data(), data)
	}
	if g.Sparse != nil {
		n := g.Sparse.RowSize()
		for i, idx := range g.Sparse.Indices() {
			axpy(-s.lr, g.Sparse.Row(i), data[idx*n:(idx+1)*n])
		}
	}
	return out
}

// updateWithMomentum keeps a dense velocity per parameter.
func (s *SGD) updateWithMomentum(p *graph.Node, g engine.Gradient) *tensor.Value {
	velocity := tensor.Zeros(p.Shape())
	if prev, ok := s.velocities[p]; ok {
		velocity = prev.Clone()
	}
	v := velocity.Data()
	for i := range v {
		v[i] *= s.momentum
	}
	if g.Dense != nil {
		axpy(1, g.Dense.Data(), v)
	}
	if g.Sparse != nil {
		n := g.Sparse.RowSize()
		for i, idx := range g.Sparse.Indices() {
			axpy(1, g.Sparse.Row(i), v[idx*n:(idx+1)*n])
		}
	}
	s.velocities[p] = velocity

	out := p.LeafValue().Clone()
	axpy(-s.lr, v, out.Data())
	return out
}

// GetLR returns the current learning rate.
func (s *SGD) GetLR() float32 {
	return s.lr
}

// SetLR updates the learning rate.
//
// Useful for learning rate scheduling during training.
func (s *SGD) SetLR(lr float32) {
	s.lr = lr
}
