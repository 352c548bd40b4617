// Copyright 2025 Born ML Framework. All rights reserved.
// Use of this source code is governed by an Apache 2.0
// license that can be found in the LICENSE file.

// Package tensor provides the immutable values the dynamite engine computes
// with.
//
// # Overview
//
// This package provides:
//   - Value: an immutable dense float32 tensor
//   - SparseRows: an index-sparse [V, ...] tensor (embedding gradients)
//   - Batch: a kernel operand, either stacked over examples or shared
//
// # Basic Usage
//
//	import "github.com/born-ml/dynamite/tensor"
//
//	func main() {
//	    x, err := tensor.FromSlice([]float32{1, 2, 3}, tensor.Shape{3})
//	    if err != nil {
//	        log.Fatal(err)
//	    }
//	    w := tensor.Eye(3)
//	    fmt.Println(x.Shape(), w.Shape())
//	}
//
// Values are never modified once built: every kernel allocates its result,
// and views returned by Member or Unstack share storage safely.
package tensor
