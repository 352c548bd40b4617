// Copyright 2025 Born ML Framework. All rights reserved.
// Use of this source code is governed by an Apache 2.0
// license that can be found in the LICENSE file.

package cpu

import (
	internalcpu "github.com/born-ml/dynamite/internal/backend/cpu"
	"github.com/born-ml/dynamite/internal/parallel"
)

// Backend represents the CPU backend implementation.
type Backend = internalcpu.Backend

// ParallelConfig controls per-member fan-out inside kernels.
type ParallelConfig = parallel.Config

// New creates a new CPU backend with default parallelism.
func New() *Backend {
	return internalcpu.New()
}

// NewWithConfig creates a CPU backend with the given parallel configuration.
func NewWithConfig(cfg ParallelConfig) *Backend {
	return internalcpu.NewWithConfig(cfg)
}
