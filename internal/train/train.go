// Package train drives minibatch training of the sequence classifier on the
// dynamite engine, optionally verifying every batch against the static
// per-example reference.
package train

import (
	"context"
	"math"
	"time"

	"github.com/pkg/errors"
	"k8s.io/klog/v2"

	"github.com/born-ml/dynamite/internal/data"
	"github.com/born-ml/dynamite/internal/engine"
	"github.com/born-ml/dynamite/internal/graph"
	"github.com/born-ml/dynamite/internal/layers"
	"github.com/born-ml/dynamite/internal/optim"
	"github.com/born-ml/dynamite/internal/tensor"
)

// Config holds training configuration.
type Config struct {
	Model      layers.SequenceConfig
	Data       data.SyntheticConfig
	Engine     engine.Config
	BatchSize  int
	NumBatches int
	Optimizer  string  // "sgd" or "adam"
	LR         float32 // per sample
	Momentum   float32 // sgd only

	// VerifyStatic recomputes every batch with the static builder and fails
	// if the per-sample losses differ by more than Tolerance (relative).
	VerifyStatic bool
	Tolerance    float64
}

// DefaultConfig returns the reference setup: minibatches of 200 sequences,
// SGD with a per-sample learning rate of 0.05, and static verification.
func DefaultConfig() Config {
	return Config{
		Model:        layers.DefaultSequenceConfig(),
		Data:         data.DefaultSyntheticConfig(),
		Engine:       engine.DefaultConfig(),
		BatchSize:    200,
		NumBatches:   10,
		Optimizer:    "sgd",
		LR:           0.05,
		VerifyStatic: true,
		Tolerance:    1e-5,
	}
}

// Validate checks the configuration.
func (c Config) Validate() error {
	switch {
	case c.BatchSize <= 0:
		return errors.Errorf("batch size must be positive, got %d", c.BatchSize)
	case c.NumBatches < 0:
		return errors.Errorf("number of batches must not be negative, got %d", c.NumBatches)
	case c.LR <= 0:
		return errors.Errorf("learning rate must be positive, got %g", c.LR)
	case c.Model.Vocab != c.Data.Vocab:
		return errors.Errorf("model vocabulary %d differs from data vocabulary %d", c.Model.Vocab, c.Data.Vocab)
	case c.Model.NumClasses != c.Data.NumClasses:
		return errors.Errorf("model has %d classes, data has %d", c.Model.NumClasses, c.Data.NumClasses)
	case c.Optimizer != "sgd" && c.Optimizer != "adam":
		return errors.Errorf("unknown optimizer %q (want sgd or adam)", c.Optimizer)
	}
	return nil
}

// BatchResult reports one trained minibatch.
type BatchResult struct {
	Index      int
	Summary    data.Summary
	Loss       float64 // mean cross entropy
	ErrorRate  float64 // mean classification error
	StaticLoss float64 // mean cross entropy of the static reference, if verified
	Verified   bool
	BuildTime  time.Duration
	Stats      engine.Stats
}

// Trainer owns the engine, the model and the optimizer.
type Trainer struct {
	cfg    Config
	eng    *engine.Engine
	model  *layers.SequenceClassifier
	opt    optim.Optimizer
	static *layers.Static
}

// New creates a trainer.
func New(cfg Config) (*Trainer, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	eng := engine.New(engine.WithConfig(cfg.Engine))
	model := layers.NewSequenceClassifier(cfg.Model)
	var opt optim.Optimizer
	switch cfg.Optimizer {
	case "adam":
		opt = optim.NewAdam(model.Parameters(), optim.AdamConfig{LR: cfg.LR})
	default:
		opt = optim.NewSGD(model.Parameters(), optim.SGDConfig{LR: cfg.LR, Momentum: cfg.Momentum})
	}
	klog.V(1).Infof("model has %d parameter tensors: %v", len(model.Parameters()), layers.Describe(model.Parameters()))
	return &Trainer{
		cfg:    cfg,
		eng:    eng,
		model:  model,
		opt:    opt,
		static: layers.NewStatic(eng.Backend(), eng.Context()),
	}, nil
}

// Engine returns the trainer's engine.
func (t *Trainer) Engine() *engine.Engine {
	return t.eng
}

// Model returns the trained model.
func (t *Trainer) Model() *layers.SequenceClassifier {
	return t.model
}

// TrainBatch evaluates, verifies, differentiates and updates on one batch.
func (t *Trainer) TrainBatch(ctx context.Context, index int, batch []data.Example) (BatchResult, error) {
	res := BatchResult{Index: index, Summary: data.Summarize(batch)}
	if len(batch) == 0 {
		return res, errors.New("empty minibatch")
	}

	start := time.Now()
	ces := make([]*graph.Node, len(batch))
	pes := make([]*graph.Node, len(batch))
	err := graph.Try(func() {
		for i, ex := range batch {
			ces[i], pes[i] = layers.Criterion[*graph.Node](layers.Dynamic{}, t.model, ex.Tokens, ex.Label)
		}
	})
	if err != nil {
		return res, errors.WithMessagef(err, "building batch %d", index)
	}
	res.BuildTime = time.Since(start)

	pass := t.eng.NewPass()
	values, err := pass.Evaluate(ctx, append(append([]*graph.Node{}, ces...), pes...)...)
	if err != nil {
		return res, errors.WithMessagef(err, "evaluating batch %d", index)
	}
	n := float64(len(batch))
	for i := range batch {
		res.Loss += float64(values[ces[i].ID()].Item())
		res.ErrorRate += float64(values[pes[i].ID()].Item())
	}
	res.Loss /= n
	res.ErrorRate /= n

	if t.cfg.VerifyStatic {
		static, err := t.staticLoss(batch)
		if err != nil {
			return res, errors.WithMessagef(err, "static reference of batch %d", index)
		}
		res.StaticLoss = static
		if math.Abs(res.Loss-static) > t.cfg.Tolerance*math.Abs(static) {
			return res, errors.Errorf("batch %d: dynamic loss %.7f differs from static loss %.7f", index, res.Loss, static)
		}
		res.Verified = true
	}

	grads, err := pass.Differentiate(ctx, ces, t.model.Parameters())
	if err != nil {
		return res, errors.WithMessagef(err, "differentiating batch %d", index)
	}
	if err := t.opt.Step(t.eng, grads); err != nil {
		return res, err
	}
	res.Stats = pass.Stats()
	return res, nil
}

// staticLoss returns the mean static cross entropy of batch.
func (t *Trainer) staticLoss(batch []data.Example) (float64, error) {
	var total float64
	err := graph.Try(func() {
		for _, ex := range batch {
			ce, _ := layers.Criterion[*tensor.Value](t.static, t.model, ex.Tokens, ex.Label)
			total += float64(ce.Item())
		}
	})
	return total / float64(len(batch)), err
}

// Run trains on batches in order, calling onBatch after each one.
func (t *Trainer) Run(ctx context.Context, batches [][]data.Example, onBatch func(BatchResult)) error {
	for i, batch := range batches {
		res, err := t.TrainBatch(ctx, i, batch)
		if err != nil {
			return err
		}
		klog.V(1).Infof("batch %d: %s, loss %.6f, error %.3f", i, res.Summary, res.Loss, res.ErrorRate)
		if onBatch != nil {
			onBatch(res)
		}
	}
	return nil
}
