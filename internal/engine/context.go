package engine

import (
	"sync"

	"github.com/born-ml/dynamite/internal/tensor"
)

// Context holds constant structures memoized for the lifetime of one engine:
// identity matrices by dimension (sparse-to-dense conversion of one-hot
// inputs) and zero tensors by shape (gradient padding for batch members that
// receive no gradient). It is owned by the Engine and released with it.
type Context struct {
	mu    sync.Mutex
	eyes  map[int]*tensor.Value
	zeros map[string]*tensor.Value
}

// NewContext returns an empty context.
func NewContext() *Context {
	return &Context{
		eyes:  make(map[int]*tensor.Value),
		zeros: make(map[string]*tensor.Value),
	}
}

// Eye returns the memoized n×n identity matrix.
func (c *Context) Eye(n int) *tensor.Value {
	c.mu.Lock()
	defer c.mu.Unlock()
	if eye, ok := c.eyes[n]; ok {
		return eye
	}
	eye := tensor.Eye(n)
	c.eyes[n] = eye
	return eye
}

// OneHot returns row idx of the memoized identity: a dense one-hot vector
// sharing storage with the cached matrix.
func (c *Context) OneHot(n, idx int) *tensor.Value {
	return c.Eye(n).Member(idx)
}

// Zeros returns a memoized zero tensor of the given shape. Values are
// immutable, so the same zeros are safely shared by every consumer.
func (c *Context) Zeros(shape tensor.Shape) *tensor.Value {
	key := shape.Key()
	c.mu.Lock()
	defer c.mu.Unlock()
	if z, ok := c.zeros[key]; ok {
		return z
	}
	z := tensor.Zeros(shape)
	c.zeros[key] = z
	return z
}

// Reset drops all memoized structures.
func (c *Context) Reset() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.eyes = make(map[int]*tensor.Value)
	c.zeros = make(map[string]*tensor.Value)
}
