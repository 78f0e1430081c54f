package flow

import "github.com/sonilabs/soni/internal/dsl"

// validateStructure checks graph-level properties after linking: every node
// must be reachable from the entry, and every cycle must contain a blocking
// step so the runtime always yields to the user inside it.
func validateStructure(g *Graph, errs *CompileErrors) {
	if len(g.Order) == 0 {
		return
	}

	edges := map[string][]string{}
	for _, id := range g.Order {
		edges[id] = outEdges(g, g.Nodes[id])
	}

	// Reachability. The flow-level on_error target is a root too: any step
	// can fail into it.
	reached := map[string]bool{}
	queue := []string{g.Entry}
	if g.OnError != "" {
		if _, ok := g.Nodes[g.OnError]; ok {
			queue = append(queue, g.OnError)
		}
	}
	for len(queue) > 0 {
		id := queue[0]
		queue = queue[1:]
		if reached[id] {
			continue
		}
		reached[id] = true
		for _, next := range edges[id] {
			if _, ok := g.Nodes[next]; ok && !reached[next] {
				queue = append(queue, next)
			}
		}
	}
	for _, id := range g.Order {
		if !reached[id] {
			*errs = append(*errs, CompileError{
				Kind: KindUnreachableNode, Flow: g.Name, Step: id,
				Message: "step is not reachable from the flow entry",
			})
		}
	}

	// Unsafe cycles: remove blocking nodes, then any cycle left in the
	// residual graph can spin without user input.
	color := map[string]int{} // 0 white, 1 gray, 2 black
	var visit func(id string) bool
	visit = func(id string) bool {
		color[id] = 1
		for _, next := range edges[id] {
			node, ok := g.Nodes[next]
			if !ok || node.Blocking() {
				continue
			}
			switch color[next] {
			case 1:
				return true
			case 0:
				if visit(next) {
					return true
				}
			}
		}
		color[id] = 2
		return false
	}
	for _, id := range g.Order {
		if g.Nodes[id].Blocking() || color[id] != 0 {
			continue
		}
		if visit(id) {
			*errs = append(*errs, CompileError{
				Kind: KindUnsafeCycle, Flow: g.Name, Step: id,
				Message: "cycle contains no step that waits for user input",
			})
			return
		}
	}
}

// outEdges collects every resolved edge leaving a node: the default
// successor, explicit transition targets, and the error handler routes.
func outEdges(g *Graph, node *Node) []string {
	targets := []string{node.Next}
	for _, t := range declaredTargets(node.Step) {
		targets = append(targets, g.Successor(node, t))
	}
	// Branch cases without an explicit else fall through sequentially.
	if node.Kind == dsl.StepBranch && node.Step.Branch.Else == "" {
		targets = append(targets, g.Successor(node, dsl.TargetContinue))
	}
	return targets
}
