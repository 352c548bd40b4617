package optim

import (
	"math"

	"github.com/born-ml/dynamite/internal/engine"
	"github.com/born-ml/dynamite/internal/graph"
	"github.com/born-ml/dynamite/internal/tensor"
)

// Adam implements the Adam (Adaptive Moment Estimation) optimizer.
//
// Update rule:
//
//	m_t = beta1 * m_{t-1} + (1-beta1) * gradient       // First moment
//	v_t = beta2 * v_{t-1} + (1-beta2) * gradient²      // Second moment
//	m_hat = m_t / (1 - beta1^t)                        // Bias correction
//	v_hat = v_t / (1 - beta2^t)                        // Bias correction
//	param = param - lr * m_hat / (sqrt(v_hat) + eps)  // Parameter update
//
// Sparse gradients are applied lazily: only the rows present in the
// gradient have their moments and values updated.
//
// Reference: "Adam: A Method for Stochastic Optimization" (Kingma & Ba, 2014)
type Adam struct {
	params []*graph.Node
	lr     float32
	beta1  float32
	beta2  float32
	eps    float32
	t      int                       // Timestep for bias correction
	m      map[*graph.Node][]float32 // First moment estimates
	v      map[*graph.Node][]float32 // Second moment estimates
}

// AdamConfig holds configuration for Adam optimizer.
type AdamConfig struct {
	LR    float32    // Learning rate (default: 0.001)
	Betas [2]float32 // Coefficients for computing running averages (default: [0.9, 0.999])
	Eps   float32    // Term for numerical stability (default: 1e-8)
}

// NewAdam creates a new Adam optimizer.
//
// Default hyperparameters:
//   - LR: 0.001
//   - Beta1: 0.9
//   - Beta2: 0.999
//   - Eps: 1e-8
func NewAdam(params []*graph.Node, config AdamConfig) *Adam {
	if config.LR == 0 {
		config.LR = 0.001
	}
	if config.Betas[0] == 0 {
		config.Betas[0] = 0.9
	}
	if config.Betas[1] == 0 {
		config.Betas[1] = 0.999
	}
	if config.Eps == 0 {
		config.Eps = 1e-8
	}
	return &Adam{
		params: params,
		lr:     config.LR,
		beta1:  config.Betas[0],
		beta2:  config.Betas[1],
		eps:    config.Eps,
		m:      make(map[*graph.Node][]float32),
		v:      make(map[*graph.Node][]float32),
	}
}

// Step performs a single optimization step. Parameters with no gradient are
// skipped.
func (a *Adam) Step(eng *engine.Engine, grads map[*graph.Node]engine.Gradient) error {
	a.t++
	biasCorrection1 := float32(1.0 - math.Pow(float64(a.beta1), float64(a.t)))
	biasCorrection2 := float32(1.0 - math.Pow(float64(a.beta2), float64(a.t)))

	updates := make(map[*graph.Node]*tensor.Value, len(a.params))
	for _, p := range a.params {
		g, ok := grads[p]
		if !ok {
			continue
		}
		if err := checkGradient(p, g); err != nil {
			return err
		}
		m, v := a.moments(p)
		out := p.LeafValue().Clone()
		data := out.Data()
		if g.Dense != nil {
			grad := g.Dense
			if g.Sparse != nil {
				grad = g.ToDense()
			}
			a.apply(data, m, v, grad.Data(), biasCorrection1, biasCorrection2)
		} else {
			n := g.Sparse.RowSize()
			for i, idx := range g.Sparse.Indices() {
				lo, hi := idx*n, (idx+1)*n
				a.apply(data[lo:hi], m[lo:hi], v[lo:hi], g.Sparse.Row(i), biasCorrection1, biasCorrection2)
			}
		}
		updates[p] = out
	}
	return commit(eng, updates)
}

func (a *Adam) moments(p *graph.Node) (m, v []float32) {
	m, ok := a.m[p]
	if !ok {
		m = make([]float32, p.Shape().NumElements())
		a.m[p] = m
	}
	v, ok = a.v[p]
	if !ok {
		v = make([]float32, p.Shape().NumElements())
		a.v[p] = v
	}
	return m, v
}

// apply updates moments and parameter values element-wise.
func (a *Adam) apply(param, m, v, grad []float32, biasCorrection1, biasCorrection2 float32) {
	for i, g := range grad {
		m[i] = a.beta1*m[i] + (1.0-a.beta1)*g
		v[i] = a.beta2*v[i] + (1.0-a.beta2)*g*g
		mHat := m[i] / biasCorrection1
		vHat := v[i] / biasCorrection2
		param[i] -= a.lr * mHat / (float32(math.Sqrt(float64(vHat))) + a.eps)
	}
}

// GetLR returns the current learning rate.
func (a *Adam) GetLR() float32 {
	return a.lr
}

// SetLR updates the learning rate.
func (a *Adam) SetLR(lr float32) {
	a.lr = lr
}

// GetTimestep returns the current timestep.
func (a *Adam) GetTimestep() int {
	return a.t
}
