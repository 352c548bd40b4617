// Package cpu implements the batched CPU kernels of the dynamite engine.
//
// Every kernel works on tensor.Batch operands: a group of B structurally
// identical nodes is executed as one call whose result is stacked along a
// leading batch axis. Operands shared by all members (parameters) are passed
// once and, where possible, folded into a single BLAS call.
package cpu

import (
	"github.com/born-ml/dynamite/internal/parallel"
	"github.com/born-ml/dynamite/internal/tensor"
)

// Backend executes batched kernels on the CPU.
type Backend struct {
	device tensor.Device
	cfg    parallel.Config
}

// New creates a new CPU backend with default parallelism.
func New() *Backend {
	return NewWithConfig(parallel.DefaultConfig())
}

// NewWithConfig creates a CPU backend with the given parallel configuration.
func NewWithConfig(cfg parallel.Config) *Backend {
	return &Backend{
		device: tensor.CPU,
		cfg:    cfg,
	}
}

// Name returns the backend name.
func (cpu *Backend) Name() string {
	return "CPU"
}

// Device returns the compute device.
func (cpu *Backend) Device() tensor.Device {
	return cpu.device
}

// Parallel returns the backend's parallel configuration.
func (cpu *Backend) Parallel() parallel.Config {
	return cpu.cfg
}

// batchSize returns the common batch size of the operands.
func batchSize(operands ...tensor.Batch) int {
	for _, op := range operands {
		return op.Size
	}
	return 0
}
