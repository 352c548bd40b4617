package graph

import "strings"

// Signature is the structural key of a node: operator kind, operand count,
// operand shapes and structural attributes. It never depends on values,
// identities or per-member data, so nodes from independently built example
// graphs that compute "the same operation" share a signature.
//
// Two nodes with equal signatures at the same level can run as one batched
// kernel call.
type Signature struct {
	Kind          OpKind
	NumOperands   int
	OperandShapes string
	Attrs         Attrs
}

func computeSignature(n *Node) Signature {
	var sb strings.Builder
	for i, op := range n.operands {
		if i > 0 {
			sb.WriteByte('|')
		}
		sb.WriteString(op.shape.Key())
	}
	return Signature{
		Kind:          n.kind,
		NumOperands:   len(n.operands),
		OperandShapes: sb.String(),
		Attrs:         n.attrs,
	}
}

// String formats the signature for logs and plan dumps.
func (s Signature) String() string {
	var sb strings.Builder
	sb.WriteString(s.Kind.String())
	sb.WriteByte('[')
	sb.WriteString(s.OperandShapes)
	sb.WriteByte(']')
	switch s.Kind {
	case OpRNNStep:
		sb.WriteString("{" + s.Attrs.Activation.String() + "}")
	case OpBarrier:
		sb.WriteString("{barrier}")
	}
	return sb.String()
}
