package graph

import "fmt"

// OpKind identifies the operator of a Node. The set is closed: every kind
// has a shape rule here and a kernel definition in the ops registry, which
// keeps signature computation total.
type OpKind int

// Operator kinds.
const (
	OpConstant OpKind = iota
	OpParameter
	OpAdd
	OpSub
	OpMul
	OpNeg
	OpTanh
	OpReLU
	OpSigmoid
	OpExp
	OpLog
	OpMatMul
	OpLookup
	OpSlice
	OpSplice
	OpReduceSum
	OpRNNStep
	OpCrossEntropyWithSoftmax
	OpClassificationError
	OpBarrier

	// NumOpKinds is the number of defined operator kinds.
	NumOpKinds
)

var opKindNames = [NumOpKinds]string{
	OpConstant:                "Constant",
	OpParameter:               "Parameter",
	OpAdd:                     "Add",
	OpSub:                     "Sub",
	OpMul:                     "Mul",
	OpNeg:                     "Neg",
	OpTanh:                    "Tanh",
	OpReLU:                    "ReLU",
	OpSigmoid:                 "Sigmoid",
	OpExp:                     "Exp",
	OpLog:                     "Log",
	OpMatMul:                  "MatMul",
	OpLookup:                  "Lookup",
	OpSlice:                   "Slice",
	OpSplice:                  "Splice",
	OpReduceSum:               "ReduceSum",
	OpRNNStep:                 "RNNStep",
	OpCrossEntropyWithSoftmax: "CrossEntropyWithSoftmax",
	OpClassificationError:     "ClassificationError",
	OpBarrier:                 "Barrier",
}

// String returns the operator name.
func (k OpKind) String() string {
	if k.Valid() {
		return opKindNames[k]
	}
	return fmt.Sprintf("OpKind(%d)", int(k))
}

// Valid reports whether k is a defined kind.
func (k OpKind) Valid() bool {
	return k >= 0 && k < NumOpKinds
}

// IsLeaf reports whether nodes of this kind carry a value instead of
// computing one.
func (k OpKind) IsLeaf() bool {
	return k == OpConstant || k == OpParameter
}

// Activation selects the nonlinearity of a fused recurrent step.
type Activation int

// Activations.
const (
	ActIdentity Activation = iota
	ActReLU
	ActTanh
	ActSigmoid
)

// String returns the activation name.
func (a Activation) String() string {
	switch a {
	case ActIdentity:
		return "identity"
	case ActReLU:
		return "relu"
	case ActTanh:
		return "tanh"
	case ActSigmoid:
		return "sigmoid"
	default:
		return fmt.Sprintf("Activation(%d)", int(a))
	}
}
