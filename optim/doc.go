// Copyright 2025 Born ML Framework. All rights reserved.
// Use of this source code is governed by an Apache 2.0
// license that can be found in the LICENSE file.

// Package optim provides optimization algorithms for dynamite models.
//
// # Overview
//
// This package contains:
//   - SGD: Stochastic Gradient Descent with momentum
//   - Adam: Adaptive Moment Estimation with bias correction
//   - Optimizer interface for custom optimizers
//
// Gradients returned by the engine are sums over the minibatch, so learning
// rates are per sample. Sparse embedding gradients update only the rows
// they carry.
//
// # Basic Usage
//
//	eng := dynamite.New()
//	model := layers.NewSequenceClassifier(layers.DefaultSequenceConfig())
//	sgd := optim.NewSGD(model.Parameters(), optim.SGDConfig{LR: 0.05})
//
//	for _, batch := range batches {
//	    grads, err := eng.Differentiate(ctx, losses(batch), model.Parameters())
//	    if err != nil {
//	        log.Fatal(err)
//	    }
//	    if err := sgd.Step(eng, grads); err != nil {
//	        log.Fatal(err)
//	    }
//	}
package optim
