// Package flow compiles validated flow documents into executable graphs and
// defines the runtime error taxonomy.
//
// Compilation runs two passes. Lowering turns each step definition into a
// uniform Node carrying its kind, configuration, and resolved default
// successor. Linking validates every declared transition target against the
// node set and the reserved keywords, then checks graph structure:
// duplicate ids, reachability from entry, and cycles that contain no
// blocking step.
package flow

import (
	"github.com/sonilabs/soni/internal/dsl"
)

// Synthetic node ids. Prefixed so they cannot collide with declared step
// ids.
const (
	EntryID  = "__entry__"
	EndID    = "__end__"
	ErrorID  = "__error__"
	CancelID = "__cancel__"
)

// Node is one executable step in a compiled graph.
type Node struct {
	ID   string
	Kind string
	Step *dsl.StepDef

	// Next is the default successor: the jump_to target when declared,
	// otherwise the next step in declaration order, otherwise EndID.
	// Reserved keywords are resolved to synthetic ids at link time.
	Next string

	// Index is the node's position in declaration order.
	Index int
}

// Blocking reports whether the node suspends awaiting user input.
func (n *Node) Blocking() bool { return n.Step != nil && n.Step.Blocking() }

// Graph is one compiled flow.
type Graph struct {
	Name string
	Def  *dsl.FlowDef

	// Entry is the id of the first declared step.
	Entry string

	Nodes map[string]*Node
	Order []string // declaration order

	// OnError is the flow-level error target ("" when undeclared).
	OnError string
}

// Node returns the node with the given id, or nil.
func (g *Graph) Node(id string) *Node { return g.Nodes[id] }

// Successor resolves a transition target within this graph: a declared step
// id maps to itself, reserved keywords map to synthetic ids, and "continue"
// maps to the sequential successor of from.
func (g *Graph) Successor(from *Node, target string) string {
	switch target {
	case dsl.TargetEnd:
		return EndID
	case dsl.TargetError:
		return ErrorID
	case dsl.TargetCancel:
		return CancelID
	case dsl.TargetContinue:
		if from != nil && from.Index+1 < len(g.Order) {
			return g.Order[from.Index+1]
		}
		return EndID
	}
	return target
}

// Config is the compiled form of a whole document: one graph per flow plus
// the document itself for slots, actions, responses, and settings.
type Config struct {
	Doc    *dsl.Document
	Graphs map[string]*Graph
}

// Graph returns the compiled graph for a flow name, or nil.
func (c *Config) Graph(name string) *Graph { return c.Graphs[name] }

// Settings is shorthand for the document settings.
func (c *Config) Settings() dsl.Settings { return c.Doc.Settings }

// Triggers returns the NLU trigger phrases per flow name.
func (c *Config) Triggers() map[string][]string {
	out := make(map[string][]string, len(c.Graphs))
	for name, g := range c.Graphs {
		out[name] = g.Def.Trigger.Intents
	}
	return out
}

// StructurallyEqual reports whether two graphs have the same node set and
// the same resolved edges. Compiling the same document twice must yield
// structurally equal graphs.
func StructurallyEqual(a, b *Graph) bool {
	if a.Name != b.Name || a.Entry != b.Entry || len(a.Nodes) != len(b.Nodes) {
		return false
	}
	for id, na := range a.Nodes {
		nb := b.Nodes[id]
		if nb == nil || na.Kind != nb.Kind || na.Next != nb.Next || na.Index != nb.Index {
			return false
		}
	}
	return true
}
