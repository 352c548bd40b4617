// Copyright 2025 Born ML Framework. All rights reserved.
// Use of this source code is governed by an Apache 2.0
// license that can be found in the LICENSE file.

// Package cpu provides the pure Go CPU backend of the dynamite engine.
//
// # Overview
//
// Every kernel works on batches: B structurally identical operations are
// one call with a stacked leading axis. Parameters shared by every member
// are passed once; matrix products against them become a single gonum
// GEMM over the whole batch.
//
// # Basic Usage
//
//	import "github.com/born-ml/dynamite/backend/cpu"
//
//	func main() {
//	    backend := cpu.New()
//	    fmt.Println(backend.Name(), backend.Device())
//	}
package cpu
