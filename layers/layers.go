// Copyright 2025 Born ML Framework. All rights reserved.
// Use of this source code is governed by an Apache 2.0
// license that can be found in the LICENSE file.

// Package layers provides model building blocks written once and executed
// either lazily in batches (Dynamic) or eagerly per example (Static).
//
// Example:
//
//	model := layers.NewSequenceClassifier(layers.DefaultSequenceConfig())
//	ce, pe := layers.Criterion[*graph.Node](layers.Dynamic{}, model, tokens, label)
package layers

import (
	"math/rand"

	"github.com/born-ml/dynamite/internal/backend/cpu"
	"github.com/born-ml/dynamite/internal/engine"
	"github.com/born-ml/dynamite/internal/layers"
)

// Builder composes model operations on values of type T.
type Builder[T any] = layers.Builder[T]

// Dynamic builds deferred graph nodes.
type Dynamic = layers.Dynamic

// Static computes eagerly on values.
type Static = layers.Static

// Mode selects the Builder implementation.
type Mode = layers.Mode

// Modes.
const (
	ModeDynamic = layers.ModeDynamic
	ModeStatic  = layers.ModeStatic
)

// RNNCell holds the parameters of a recurrent cell.
type RNNCell = layers.RNNCell

// DenseLayer holds the parameters of a dense layer.
type DenseLayer = layers.DenseLayer

// SequenceConfig sizes a SequenceClassifier.
type SequenceConfig = layers.SequenceConfig

// SequenceClassifier is Embedding → Fold(RNN) → Dense.
type SequenceClassifier = layers.SequenceClassifier

// Tree is a binary tree with token leaves.
type Tree = layers.Tree

// TreeConfig sizes a TreeEncoder.
type TreeConfig = layers.TreeConfig

// TreeEncoder scores binary trees.
type TreeEncoder = layers.TreeEncoder

// NewStatic returns a static builder.
func NewStatic(backend *cpu.Backend, ctx *engine.Context) *Static {
	return layers.NewStatic(backend, ctx)
}

// DefaultSequenceConfig returns the reference classifier configuration.
func DefaultSequenceConfig() SequenceConfig {
	return layers.DefaultSequenceConfig()
}

// NewSequenceClassifier creates a sequence classifier.
func NewSequenceClassifier(cfg SequenceConfig) *SequenceClassifier {
	return layers.NewSequenceClassifier(cfg)
}

// NewTreeEncoder creates a tree encoder.
func NewTreeEncoder(cfg TreeConfig) *TreeEncoder {
	return layers.NewTreeEncoder(cfg)
}

// Criterion returns cross entropy and classification error of one example.
func Criterion[T any](b Builder[T], m *SequenceClassifier, tokens []int, label int) (ce, pe T) {
	return layers.Criterion(b, m, tokens, label)
}

// TreeLoss returns the summed scores of trees.
func TreeLoss[T any](b Builder[T], e *TreeEncoder, trees []*Tree) T {
	return layers.TreeLoss(b, e, trees)
}

// RandomTrees generates n random trees of depth at most maxDepth.
func RandomTrees(rng *rand.Rand, n, maxDepth, vocab int) []*Tree {
	return layers.RandomTrees(rng, n, maxDepth, vocab)
}
