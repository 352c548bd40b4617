package graph

import (
	"fmt"
	"io"
	"sort"
	"strings"
)

// TopologicalOrder returns every node reachable from roots, operands before
// consumers, each node once. Roots are visited in order, so the result is
// deterministic for a given root list.
//
// The traversal uses an explicit stack: graph depth (e.g. sequence length)
// never translates into Go call-stack depth.
func TopologicalOrder(roots []*Node) []*Node {
	return TopologicalOrderFunc(roots, nil)
}

// TopologicalOrderFunc is TopologicalOrder with a pruning predicate: nodes
// for which stop returns true are emitted but their operands are not
// visited (used to cut the walk at already materialized nodes).
func TopologicalOrderFunc(roots []*Node, stop func(*Node) bool) []*Node {
	type frame struct {
		node *Node
		next int // index of the next operand to visit
	}
	visited := make(map[NodeID]bool)
	var order []*Node
	var stack []frame
	for _, root := range roots {
		if visited[root.id] {
			continue
		}
		visited[root.id] = true
		stack = append(stack, frame{node: root})
		for len(stack) > 0 {
			top := &stack[len(stack)-1]
			if stop != nil && top.next == 0 && stop(top.node) {
				top.next = len(top.node.operands)
			}
			if top.next < len(top.node.operands) {
				op := top.node.operands[top.next]
				top.next++
				if !visited[op.id] {
					visited[op.id] = true
					stack = append(stack, frame{node: op})
				}
				continue
			}
			order = append(order, top.node)
			stack = stack[:len(stack)-1]
		}
	}
	return order
}

// Consumers maps each node in order to the nodes (also in order) that use it
// as an operand. A consumer that uses the same operand twice appears twice.
func Consumers(order []*Node) map[NodeID][]*Node {
	consumers := make(map[NodeID][]*Node, len(order))
	for _, n := range order {
		for _, op := range n.operands {
			consumers[op.id] = append(consumers[op.id], n)
		}
	}
	return consumers
}

// Stats counts the nodes reachable from roots.
type Stats struct {
	Nodes      int
	Leaves     int
	Parameters int
	ByKind     map[OpKind]int
}

// CollectStats gathers node statistics over the graph reachable from roots.
func CollectStats(roots []*Node) Stats {
	st := Stats{ByKind: make(map[OpKind]int)}
	for _, n := range TopologicalOrder(roots) {
		st.Nodes++
		st.ByKind[n.kind]++
		if n.kind.IsLeaf() {
			st.Leaves++
		}
		if n.kind == OpParameter {
			st.Parameters++
		}
	}
	return st
}

// String formats the stats as "N nodes (K leaves): Kind×count, ...".
func (s Stats) String() string {
	kinds := make([]OpKind, 0, len(s.ByKind))
	for k := range s.ByKind {
		kinds = append(kinds, k)
	}
	sort.Slice(kinds, func(i, j int) bool { return kinds[i] < kinds[j] })
	parts := make([]string, len(kinds))
	for i, k := range kinds {
		parts[i] = fmt.Sprintf("%s×%d", k, s.ByKind[k])
	}
	return fmt.Sprintf("%d nodes (%d leaves, %d parameters): %s",
		s.Nodes, s.Leaves, s.Parameters, strings.Join(parts, ", "))
}

// Dump writes one line per node reachable from roots, in topological order.
func Dump(w io.Writer, roots []*Node) error {
	for _, n := range TopologicalOrder(roots) {
		ids := make([]string, len(n.operands))
		for i, op := range n.operands {
			ids[i] = fmt.Sprintf("#%d", op.id)
		}
		line := fmt.Sprintf("%s <- (%s)", n, strings.Join(ids, ", "))
		switch n.kind {
		case OpLookup, OpSlice:
			line += fmt.Sprintf(" [%d]", n.aux)
		case OpRNNStep:
			line += " " + n.attrs.Activation.String()
		case OpBarrier:
			line += fmt.Sprintf(" barrier=%d", n.attrs.BarrierID)
		}
		if _, err := fmt.Fprintln(w, line); err != nil {
			return err
		}
	}
	return nil
}
