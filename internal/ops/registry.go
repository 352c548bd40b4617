package ops

import (
	"github.com/pkg/errors"

	"github.com/born-ml/dynamite/internal/graph"
)

// Registry is a fixed table of operator definitions indexed by kind.
type Registry struct {
	defs [graph.NumOpKinds]*Definition
}

// NewRegistry returns an empty registry.
func NewRegistry() *Registry {
	return &Registry{}
}

// Default returns a registry with every computed operator kind defined.
func Default() *Registry {
	r := NewRegistry()
	for _, def := range builtins() {
		if err := r.Register(def); err != nil {
			panic(err) // builtins are well-formed
		}
	}
	return r
}

// Register installs (or replaces) the definition of def.Kind. The shape rule
// defaults to the graph package's rule for the kind.
func (r *Registry) Register(def Definition) error {
	if !def.Kind.Valid() {
		return errors.WithStack(&graph.UnregisteredOperatorError{Op: def.Kind})
	}
	if def.Kind.IsLeaf() {
		return errors.Errorf("cannot register leaf kind %s", def.Kind)
	}
	if def.Forward == nil || def.Backward == nil {
		return errors.Errorf("definition of %s needs both forward and backward kernels", def.Kind)
	}
	if def.Shape == nil {
		rule, err := graph.ShapeRuleFor(def.Kind)
		if err != nil {
			return err
		}
		def.Shape = rule
	}
	r.defs[def.Kind] = &def
	return nil
}

// Lookup returns the definition of kind.
func (r *Registry) Lookup(kind graph.OpKind) (*Definition, error) {
	if !kind.Valid() || r.defs[kind] == nil {
		return nil, errors.WithStack(&graph.UnregisteredOperatorError{Op: kind})
	}
	return r.defs[kind], nil
}

// Validate checks that every non-leaf kind in kinds is defined.
func (r *Registry) Validate(kinds ...graph.OpKind) error {
	for _, k := range kinds {
		if k.IsLeaf() {
			continue
		}
		if _, err := r.Lookup(k); err != nil {
			return err
		}
	}
	return nil
}

func builtins() []Definition {
	defs := []Definition{
		{Kind: graph.OpAdd, Forward: addForward, Backward: addBackward},
		{Kind: graph.OpSub, Forward: subForward, Backward: subBackward},
		{Kind: graph.OpMul, Forward: mulForward, Backward: mulBackward},
		{Kind: graph.OpNeg, Forward: negForward, Backward: negBackward},
		{Kind: graph.OpExp, Forward: expForward, Backward: expBackward},
		{Kind: graph.OpLog, Forward: logForward, Backward: logBackward},
		{Kind: graph.OpMatMul, Forward: matMulForward, Backward: matMulBackward},
		{Kind: graph.OpLookup, Forward: lookupForward, Backward: lookupBackward},
		{Kind: graph.OpSlice, Forward: sliceForward, Backward: sliceBackward},
		{Kind: graph.OpSplice, Forward: spliceForward, Backward: spliceBackward},
		{Kind: graph.OpReduceSum, Forward: reduceSumForward, Backward: reduceSumBackward},
		{Kind: graph.OpRNNStep, Forward: rnnStepForward, Backward: rnnStepBackward},
		{Kind: graph.OpCrossEntropyWithSoftmax, Forward: crossEntropyForward, Backward: crossEntropyBackward},
		{Kind: graph.OpClassificationError, Forward: classificationErrorForward, Backward: noGradient},
		{Kind: graph.OpBarrier, Forward: identityForward, Backward: identityBackward},
	}
	for _, kind := range []graph.OpKind{graph.OpTanh, graph.OpReLU, graph.OpSigmoid} {
		defs = append(defs, Definition{
			Kind:     kind,
			Forward:  activationForward,
			Backward: activationBackward,
		})
	}
	return defs
}
