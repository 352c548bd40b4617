package engine

import (
	"fmt"
	"strings"

	"github.com/born-ml/dynamite/internal/graph"
)

// Step is one batched kernel call: every member shares Signature and sits at
// Level. Members are kept in stack order; output slice b belongs to
// Members[b].
type Step struct {
	Level     int
	Kind      graph.OpKind
	Signature graph.Signature
	Members   []*graph.Node
}

// Plan is the execution plan for a set of terminal nodes: levels in strictly
// increasing order, each a list of independent steps.
//
// The plan is definitive: backward replays exactly these steps in reverse.
type Plan struct {
	Levels [][]*Step    // Levels[L-1] holds the steps of level L
	Leaves []*graph.Node // constants and parameters read by the plan
	Nodes  int           // computed nodes scheduled
}

// NumSteps returns the total number of batched steps.
func (p *Plan) NumSteps() int {
	n := 0
	for _, level := range p.Levels {
		n += len(level)
	}
	return n
}

// GroupSizes returns, per level, the batch size of each step.
func (p *Plan) GroupSizes() [][]int {
	sizes := make([][]int, len(p.Levels))
	for i, level := range p.Levels {
		for _, st := range level {
			sizes[i] = append(sizes[i], len(st.Members))
		}
	}
	return sizes
}

// Kinds returns the distinct operator kinds used by the plan.
func (p *Plan) Kinds() []graph.OpKind {
	seen := make(map[graph.OpKind]bool)
	var kinds []graph.OpKind
	for _, level := range p.Levels {
		for _, st := range level {
			if !seen[st.Kind] {
				seen[st.Kind] = true
				kinds = append(kinds, st.Kind)
			}
		}
	}
	return kinds
}

// String renders one line per level: "L3: RNNStep[...]×2, Add[...]×1".
func (p *Plan) String() string {
	var sb strings.Builder
	for i, level := range p.Levels {
		parts := make([]string, len(level))
		for j, st := range level {
			parts[j] = fmt.Sprintf("%s×%d", st.Signature, len(st.Members))
		}
		fmt.Fprintf(&sb, "L%d: %s\n", i+1, strings.Join(parts, ", "))
	}
	return sb.String()
}

// BuildPlan schedules every node reachable from roots that is not already
// materialized (cached reports that).
//
//  1. depth(n) = 0 for leaves and cached nodes, 1 + max(depth(operands))
//     otherwise; all barriers sharing an id are raised to the deepest one.
//  2. Nodes of one level are grouped by signature, in first-seen order.
//  3. Each group becomes one Step. With batching disabled, every node is its
//     own step.
func BuildPlan(roots []*graph.Node, cached func(*graph.Node) bool, batching bool) (*Plan, error) {
	done := func(n *graph.Node) bool {
		return n.Kind().IsLeaf() || cached(n)
	}
	order := graph.TopologicalOrderFunc(roots, done)

	plan := &Plan{}
	var computed []*graph.Node
	barriers := make(map[int][]*graph.Node)
	for _, n := range order {
		if done(n) {
			if n.Kind().IsLeaf() && !cached(n) {
				plan.Leaves = append(plan.Leaves, n)
			}
			continue
		}
		computed = append(computed, n)
		if n.Kind() == graph.OpBarrier {
			id := n.Attrs().BarrierID
			barriers[id] = append(barriers[id], n)
		}
	}
	plan.Nodes = len(computed)

	depth, err := computeDepths(computed, barriers)
	if err != nil {
		return nil, err
	}

	maxDepth := 0
	for _, n := range computed {
		maxDepth = max(maxDepth, depth[n.ID()])
	}
	plan.Levels = make([][]*Step, maxDepth)
	index := make([]map[graph.Signature]*Step, maxDepth)
	for _, n := range computed {
		level := depth[n.ID()]
		sig := n.Signature()
		if batching {
			if index[level-1] == nil {
				index[level-1] = make(map[graph.Signature]*Step)
			}
			if st, ok := index[level-1][sig]; ok {
				st.Members = append(st.Members, n)
				continue
			}
		}
		st := &Step{Level: level, Kind: n.Kind(), Signature: sig, Members: []*graph.Node{n}}
		plan.Levels[level-1] = append(plan.Levels[level-1], st)
		if batching {
			index[level-1][sig] = st
		}
	}
	return plan, nil
}

// computeDepths assigns levels to computed nodes (given in topological
// order), aligning barrier groups to their deepest member. Alignment is
// iterated to a fixed point; groups that keep rising have contradictory
// level constraints.
func computeDepths(computed []*graph.Node, barriers map[int][]*graph.Node) (map[graph.NodeID]int, error) {
	floor := make(map[graph.NodeID]int)
	depth := make(map[graph.NodeID]int, len(computed))
	for iter := 0; ; iter++ {
		if iter > len(barriers)+1 {
			return nil, invariantViolation(0, nil, "barrier groups have contradictory level constraints")
		}
		for _, n := range computed {
			d := 0
			for _, op := range n.Operands() {
				d = max(d, depth[op.ID()]) // leaves and cached nodes are absent: depth 0
			}
			depth[n.ID()] = max(d+1, floor[n.ID()])
		}
		changed := false
		for _, group := range barriers {
			target := 0
			for _, b := range group {
				target = max(target, depth[b.ID()])
			}
			for _, b := range group {
				if depth[b.ID()] < target {
					floor[b.ID()] = target
					changed = true
				}
			}
		}
		if !changed {
			return depth, nil
		}
	}
}
