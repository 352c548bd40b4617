package cpu

import (
	"gonum.org/v1/gonum/blas"
	"gonum.org/v1/gonum/blas/blas32"

	"github.com/born-ml/dynamite/internal/parallel"
	"github.com/born-ml/dynamite/internal/tensor"
)

// general wraps a row-major buffer as a BLAS matrix.
func general(rows, cols int, data []float32) blas32.General {
	return blas32.General{Rows: rows, Cols: cols, Stride: cols, Data: data}
}

// gemm computes C = op(A)·op(B) + beta·C for row-major buffers.
// A is stored as (m×k) or, when transA, as (k×m); B likewise (k×n) or (n×k).
func gemm(transA, transB bool, m, n, k int, a, b []float32, beta float32, c []float32) {
	ta, tb := blas.NoTrans, blas.NoTrans
	ga, gb := general(m, k, a), general(k, n, b)
	if transA {
		ta = blas.Trans
		ga = general(k, m, a)
	}
	if transB {
		tb = blas.Trans
		gb = general(n, k, b)
	}
	blas32.Gemm(ta, tb, 1, ga, gb, beta, general(m, n, c))
}

// matmulDims returns (rows, inner, cols) for x·w where the x member is a
// vector [n] or a matrix [r, n] and the w member is [n, m].
func matmulDims(x, w tensor.Batch) (rows, inner, cols int) {
	xs, ws := x.MemberShape(), w.MemberShape()
	rows = 1
	if xs.Rank() == 2 {
		rows = xs[0]
	}
	return rows, ws[0], ws[1]
}

// matmulOutShape returns the per-member output shape of x·w.
func matmulOutShape(x, w tensor.Batch) tensor.Shape {
	rows, _, cols := matmulDims(x, w)
	if x.MemberShape().Rank() == 2 {
		return tensor.Shape{rows, cols}
	}
	return tensor.Shape{cols}
}

// MatMul multiplies every member of x by the matching member of w.
//
// When w is shared (a parameter) and x is stacked, the whole batch is a
// single [B·r, n]·[n, m] GEMM; this is the main payoff of batching.
func (cpu *Backend) MatMul(x, w tensor.Batch) *tensor.Value {
	size := batchSize(x, w)
	rows, inner, cols := matmulDims(x, w)
	out := make([]float32, size*rows*cols)
	outShape := matmulOutShape(x, w).Prepend(size)

	if w.Shared && !x.Shared {
		gemm(false, false, size*rows, cols, inner, x.Value.Data(), w.Value.Data(), 0, out)
		return tensor.Wrap(out, outShape)
	}

	parallel.For(size, func(b int) {
		gemm(false, false, rows, cols, inner, x.Member(b), w.Member(b), 0, out[b*rows*cols:(b+1)*rows*cols])
	}, cpu.cfg)
	return tensor.Wrap(out, outShape)
}

// MatMulGrad returns the gradients of x·w with respect to x and w given the
// stacked output gradient dy.
//
// For a stacked operand the gradient is stacked [B, ...]. For a shared
// operand it is already summed over the members: dW = Xᵀ·dY is one GEMM over
// all B·r rows rather than B outer products followed by a reduction.
func (cpu *Backend) MatMulGrad(x, w tensor.Batch, dy *tensor.Value) (dx, dw *tensor.Value) {
	size := batchSize(x, w)
	rows, inner, cols := matmulDims(x, w)
	dyd := dy.Data()

	// dX = dY · Wᵀ
	dxData := make([]float32, size*rows*inner)
	if w.Shared {
		gemm(false, true, size*rows, inner, cols, dyd, w.Value.Data(), 0, dxData)
	} else {
		parallel.For(size, func(b int) {
			gemm(false, true, rows, inner, cols, dyd[b*rows*cols:(b+1)*rows*cols], w.Member(b), 0,
				dxData[b*rows*inner:(b+1)*rows*inner])
		}, cpu.cfg)
	}
	dx = tensor.Wrap(dxData, x.MemberShape().Prepend(size))
	if x.Shared {
		dx = SumMembers(dx)
	}

	// dW = Xᵀ · dY
	if w.Shared {
		xs := x.Materialize()
		dwData := make([]float32, inner*cols)
		gemm(true, false, inner, cols, size*rows, xs.Data(), dyd, 0, dwData)
		dw = tensor.Wrap(dwData, w.MemberShape())
		return dx, dw
	}
	dwData := make([]float32, size*inner*cols)
	parallel.For(size, func(b int) {
		gemm(true, false, inner, cols, rows, x.Member(b), dyd[b*rows*cols:(b+1)*rows*cols], 0,
			dwData[b*inner*cols:(b+1)*inner*cols])
	}, cpu.cfg)
	dw = tensor.Wrap(dwData, w.MemberShape().Prepend(size))
	return dx, dw
}
