package serialization

import (
	"github.com/pkg/errors"
	"k8s.io/klog/v2"

	"github.com/born-ml/dynamite/internal/engine"
	"github.com/born-ml/dynamite/internal/graph"
	"github.com/born-ml/dynamite/internal/tensor"
)

// stateDict maps parameter names to nodes, rejecting unnamed and duplicate
// parameters.
func stateDict(params []*graph.Node) (map[string]*graph.Node, error) {
	byName := make(map[string]*graph.Node, len(params))
	for _, p := range params {
		if !p.IsParameter() {
			return nil, errors.Errorf("node %s is not a parameter", p)
		}
		if _, dup := byName[p.Name()]; dup {
			return nil, errors.Errorf("duplicate parameter name %q", p.Name())
		}
		byName[p.Name()] = p
	}
	return byName, nil
}

// SaveParameters writes the current values of params to path, keyed by
// parameter name.
func SaveParameters(path string, params []*graph.Node, metadata map[string]string) error {
	byName, err := stateDict(params)
	if err != nil {
		return err
	}
	tensors := make(map[string]*tensor.Value, len(byName))
	for name, p := range byName {
		tensors[name] = p.LeafValue()
	}
	if err := WriteFile(path, tensors, metadata); err != nil {
		return err
	}
	klog.V(1).Infof("saved %d parameters to %s", len(tensors), path)
	return nil
}

// LoadParameters reads path and installs the stored values of params through
// eng.Update, so the load is serialized against running passes like any
// other update. Every parameter must be present in the file; extra tensors
// are ignored. It returns the file's metadata.
func LoadParameters(path string, eng *engine.Engine, params []*graph.Node) (map[string]string, error) {
	byName, err := stateDict(params)
	if err != nil {
		return nil, err
	}
	tensors, metadata, err := ReadFile(path)
	if err != nil {
		return nil, err
	}
	updates := make(map[*graph.Node]*tensor.Value, len(byName))
	for name, p := range byName {
		v, ok := tensors[name]
		if !ok {
			return nil, errors.Wrapf(ErrMissingTensor, "parameter %q in %s", name, path)
		}
		updates[p] = v
	}
	if err := eng.Update(updates); err != nil {
		return nil, errors.WithMessagef(err, "loading %s", path)
	}
	klog.V(1).Infof("loaded %d parameters from %s", len(updates), path)
	return metadata, nil
}
