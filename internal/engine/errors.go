package engine

import (
	"fmt"

	"github.com/pkg/errors"

	"github.com/born-ml/dynamite/internal/graph"
)

// Sentinel errors returned by passes.
var (
	// ErrPassInvalidated is returned by a pass whose forward evaluation was
	// cancelled: any gradient requested against it would be meaningless.
	ErrPassInvalidated = errors.New("pass invalidated by cancellation")

	// ErrStaleParameters is returned when parameters were updated after the
	// pass first read them: mixing snapshots is never allowed.
	ErrStaleParameters = errors.New("parameters updated since the pass started")
)

// BatchingInvariantViolationError reports a scheduling bug: members of one
// batched step whose operands turned out to be incompatible despite equal
// signatures, or barrier groups with contradictory level constraints. It is not
// recoverable by the caller.
type BatchingInvariantViolationError struct {
	Level  int
	Step   string
	Reason string
}

func (e *BatchingInvariantViolationError) Error() string {
	return fmt.Sprintf("batching invariant violated at level %d, step %s: %s", e.Level, e.Step, e.Reason)
}

// NumericDivergenceError reports a kernel that produced NaN or ±Inf.
type NumericDivergenceError struct {
	Op    graph.OpKind
	Level int
	Node  graph.NodeID
	Phase string // "forward" or "backward"
}

func (e *NumericDivergenceError) Error() string {
	return fmt.Sprintf("non-finite %s value in %s at level %d (node #%d)", e.Phase, e.Op, e.Level, e.Node)
}

func invariantViolation(level int, step *Step, format string, args ...any) error {
	name := "<plan>"
	if step != nil {
		name = step.Signature.String()
	}
	return errors.WithStack(&BatchingInvariantViolationError{
		Level:  level,
		Step:   name,
		Reason: fmt.Sprintf(format, args...),
	})
}
