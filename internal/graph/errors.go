package graph

import (
	"fmt"
	"strings"

	"github.com/gomlx/exceptions"
	"github.com/pkg/errors"

	"github.com/born-ml/dynamite/internal/tensor"
)

// ShapeMismatchError is raised at construction time when operand shapes are
// incompatible with the operator. It is fatal to the one expression only:
// the caller may recover (see Try) and retry with corrected inputs.
type ShapeMismatchError struct {
	Op     OpKind
	Shapes []tensor.Shape
	Reason string
}

func (e *ShapeMismatchError) Error() string {
	shapes := make([]string, len(e.Shapes))
	for i, s := range e.Shapes {
		shapes[i] = s.String()
	}
	return fmt.Sprintf("shape mismatch in %s(%s): %s", e.Op, strings.Join(shapes, ", "), e.Reason)
}

// UnregisteredOperatorError is raised when a node or kernel is requested for
// an operator kind that has no definition.
type UnregisteredOperatorError struct {
	Op OpKind
}

func (e *UnregisteredOperatorError) Error() string {
	return fmt.Sprintf("unregistered operator %s", e.Op)
}

// throwShapeMismatch panics with a *ShapeMismatchError carrying a stack trace.
func throwShapeMismatch(op OpKind, shapes []tensor.Shape, format string, args ...any) {
	panic(errors.WithStack(&ShapeMismatchError{
		Op:     op,
		Shapes: shapes,
		Reason: fmt.Sprintf(format, args...),
	}))
}

// Try runs fn, which builds graph nodes, and returns the construction error
// it raised, if any. Panics that are not errors are re-raised.
//
// Example:
//
//	var y *graph.Node
//	if err := graph.Try(func() { y = graph.MatMul(x, w) }); err != nil {
//	    var mismatch *graph.ShapeMismatchError
//	    if errors.As(err, &mismatch) { ... }
//	}
func Try(fn func()) error {
	return exceptions.TryCatch[error](fn)
}
