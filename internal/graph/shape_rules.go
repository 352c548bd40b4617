package graph

import (
	"github.com/pkg/errors"

	"github.com/born-ml/dynamite/internal/tensor"
)

// ShapeRule infers the output shape of an operator from its operand shapes,
// structural attributes and per-member datum. A non-nil error explains the
// mismatch; it is raised as a ShapeMismatchError by the builders.
type ShapeRule func(operands []tensor.Shape, attrs Attrs, aux int) (tensor.Shape, error)

var shapeRules = [NumOpKinds]ShapeRule{
	OpAdd:                     sameShapeRule(2),
	OpSub:                     sameShapeRule(2),
	OpMul:                     sameShapeRule(2),
	OpNeg:                     sameShapeRule(1),
	OpTanh:                    sameShapeRule(1),
	OpReLU:                    sameShapeRule(1),
	OpSigmoid:                 sameShapeRule(1),
	OpExp:                     sameShapeRule(1),
	OpLog:                     sameShapeRule(1),
	OpBarrier:                 sameShapeRule(1),
	OpMatMul:                  matMulRule,
	OpLookup:                  rowSelectRule,
	OpSlice:                   rowSelectRule,
	OpSplice:                  spliceRule,
	OpReduceSum:               reduceSumRule,
	OpRNNStep:                 rnnStepRule,
	OpCrossEntropyWithSoftmax: pairToScalarRule,
	OpClassificationError:     pairToScalarRule,
}

// ShapeRuleFor returns the shape rule of kind, or an UnregisteredOperatorError.
func ShapeRuleFor(kind OpKind) (ShapeRule, error) {
	if !kind.Valid() || shapeRules[kind] == nil {
		return nil, errors.WithStack(&UnregisteredOperatorError{Op: kind})
	}
	return shapeRules[kind], nil
}

func sameShapeRule(arity int) ShapeRule {
	return func(operands []tensor.Shape, _ Attrs, _ int) (tensor.Shape, error) {
		if len(operands) != arity {
			return nil, errors.Errorf("expected %d operands, got %d", arity, len(operands))
		}
		for _, s := range operands[1:] {
			if !s.Equal(operands[0]) {
				return nil, errors.Errorf("operands must have equal shapes")
			}
		}
		return operands[0].Clone(), nil
	}
}

// matMulRule: x [n] or [r, n] times w [n, m].
func matMulRule(operands []tensor.Shape, _ Attrs, _ int) (tensor.Shape, error) {
	if len(operands) != 2 {
		return nil, errors.Errorf("expected 2 operands, got %d", len(operands))
	}
	x, w := operands[0], operands[1]
	if w.Rank() != 2 {
		return nil, errors.Errorf("right operand must be a matrix, got rank %d", w.Rank())
	}
	switch x.Rank() {
	case 1:
		if x[0] != w[0] {
			return nil, errors.Errorf("inner dimensions differ: %d vs %d", x[0], w[0])
		}
		return tensor.Shape{w[1]}, nil
	case 2:
		if x[1] != w[0] {
			return nil, errors.Errorf("inner dimensions differ: %d vs %d", x[1], w[0])
		}
		return tensor.Shape{x[0], w[1]}, nil
	default:
		return nil, errors.Errorf("left operand must be a vector or matrix, got rank %d", x.Rank())
	}
}

// rowSelectRule: selects row aux of a [V, ...] operand.
func rowSelectRule(operands []tensor.Shape, _ Attrs, aux int) (tensor.Shape, error) {
	if len(operands) != 1 {
		return nil, errors.Errorf("expected 1 operand, got %d", len(operands))
	}
	s := operands[0]
	if s.Rank() == 0 {
		return nil, errors.New("cannot select a row of a scalar")
	}
	if aux < 0 || aux >= s[0] {
		return nil, errors.Errorf("row index %d out of range [0, %d)", aux, s[0])
	}
	return tensor.Shape(s[1:]).Clone(), nil
}

// spliceRule: k equally shaped operands become [k, ...].
func spliceRule(operands []tensor.Shape, _ Attrs, _ int) (tensor.Shape, error) {
	if len(operands) == 0 {
		return nil, errors.New("splice needs at least one operand")
	}
	for _, s := range operands[1:] {
		if !s.Equal(operands[0]) {
			return nil, errors.New("spliced operands must have equal shapes")
		}
	}
	return operands[0].Prepend(len(operands)), nil
}

func reduceSumRule(operands []tensor.Shape, _ Attrs, _ int) (tensor.Shape, error) {
	if len(operands) != 1 {
		return nil, errors.Errorf("expected 1 operand, got %d", len(operands))
	}
	return tensor.Shape{}, nil
}

// rnnStepRule: x [I], h [H], W [I, H], R [H, H], b [H] -> [H].
func rnnStepRule(operands []tensor.Shape, _ Attrs, _ int) (tensor.Shape, error) {
	if len(operands) != 5 {
		return nil, errors.Errorf("expected 5 operands (x, h, W, R, b), got %d", len(operands))
	}
	x, h, w, r, b := operands[0], operands[1], operands[2], operands[3], operands[4]
	if x.Rank() != 1 || h.Rank() != 1 || b.Rank() != 1 {
		return nil, errors.New("x, h and b must be vectors")
	}
	hid := h[0]
	if !w.Equal(tensor.Shape{x[0], hid}) {
		return nil, errors.Errorf("W must be %v, got %v", tensor.Shape{x[0], hid}, w)
	}
	if !r.Equal(tensor.Shape{hid, hid}) {
		return nil, errors.Errorf("R must be %v, got %v", tensor.Shape{hid, hid}, r)
	}
	if b[0] != hid {
		return nil, errors.Errorf("b must be (%d), got %v", hid, b)
	}
	return tensor.Shape{hid}, nil
}

// pairToScalarRule: (logits [C], label [C]) -> scalar.
func pairToScalarRule(operands []tensor.Shape, _ Attrs, _ int) (tensor.Shape, error) {
	if len(operands) != 2 {
		return nil, errors.Errorf("expected 2 operands, got %d", len(operands))
	}
	if operands[0].Rank() != 1 || !operands[0].Equal(operands[1]) {
		return nil, errors.New("logits and label must be vectors of equal size")
	}
	return tensor.Shape{}, nil
}
