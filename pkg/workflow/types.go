// Package workflow defines workflow definitions and their compiled form.
// Compilation validates the graph shape and binds condition functions; the
// compiled workflow is immutable and serializable.
package workflow

import (
	"github.com/meshflow/meshflow/pkg/execution"
	"github.com/meshflow/meshflow/pkg/registry"
)

// Terminal is the distinguished node name signifying graph exit. It is a
// sentinel, not a real node.
const Terminal = "__end__"

// NodeKind identifies how a node is dispatched.
type NodeKind string

const (
	NodeToolCall          NodeKind = "tool_call"
	NodeComposite         NodeKind = "composite"
	NodeConditionalRouter NodeKind = "conditional_router"
	NodeTerminal          NodeKind = "terminal"
)

// NodeSpec describes a single node of a workflow definition.
type NodeSpec struct {
	Kind NodeKind `json:"kind" yaml:"kind"`

	// tool_call fields.
	Service string `json:"service,omitempty" yaml:"service,omitempty"`
	Tool    string `json:"tool,omitempty" yaml:"tool,omitempty"`
	// InputMapping builds the tool arguments from state: argument name to
	// dotted state path, or a literal prefixed with "=".
	InputMapping map[string]string `json:"input_mapping,omitempty" yaml:"input_mapping,omitempty"`
	// OutputMapping places response fields into state: response path to
	// state path. An empty mapping stores the whole response under the
	// node name.
	OutputMapping map[string]string `json:"output_mapping,omitempty" yaml:"output_mapping,omitempty"`

	// composite fields: child node names executed serially.
	Children []string `json:"children,omitempty" yaml:"children,omitempty"`

	// conditional_router fields: named condition function.
	Condition string `json:"condition,omitempty" yaml:"condition,omitempty"`
}

// Edge is an unconditional transition. To may be the terminal sentinel.
type Edge struct {
	From string `json:"from" yaml:"from"`
	To   string `json:"to" yaml:"to"`
}

// ConditionalEdge routes by the branch label a condition function returns.
type ConditionalEdge struct {
	From      string            `json:"from" yaml:"from"`
	Condition string            `json:"condition" yaml:"condition"`
	Branches  map[string]string `json:"branches" yaml:"branches"`
}

// ParamSpec declares one workflow parameter.
type ParamSpec struct {
	Type     string `json:"type" yaml:"type"`
	Required bool   `json:"required" yaml:"required"`
	Default  any    `json:"default,omitempty" yaml:"default,omitempty"`
}

// Definition is the declarative form of a workflow.
type Definition struct {
	Name             string               `json:"name" yaml:"name"`
	Version          string               `json:"version" yaml:"version"`
	Description      string               `json:"description,omitempty" yaml:"description,omitempty"`
	Nodes            map[string]NodeSpec  `json:"nodes" yaml:"nodes"`
	Edges            []Edge               `json:"edges,omitempty" yaml:"edges,omitempty"`
	ConditionalEdges []ConditionalEdge    `json:"conditional_edges,omitempty" yaml:"conditional_edges,omitempty"`
	EntryPoint       string               `json:"entry_point" yaml:"entry_point"`
	Parameters       map[string]ParamSpec `json:"parameter_schema,omitempty" yaml:"parameter_schema,omitempty"`
}

// Condition is a pure function of state returning a branch label. Conditions
// must not mutate state; the executor owns all counters.
type Condition func(st *execution.State) string

// ConditionRegistry is the process-scoped table of named condition
// functions, resolved at compile time so compiled workflows stay
// reproducible across processes.
type ConditionRegistry struct {
	*registry.BaseRegistry[Condition]
}

func NewConditionRegistry() *ConditionRegistry {
	return &ConditionRegistry{
		BaseRegistry: registry.NewBaseRegistry[Condition](),
	}
}

// RouterPlan is the compiled form of a conditional router node.
type RouterPlan struct {
	Condition string            `json:"condition"`
	Branches  map[string]string `json:"branches"`
	// Fallback is where control goes when the node also has an
	// unconditional edge; terminal otherwise.
	Fallback string `json:"fallback"`

	fn Condition
}

// Evaluate runs the bound condition function.
func (p RouterPlan) Evaluate(st *execution.State) string {
	return p.fn(st)
}

// Compiled is the validated, indexed form of a Definition. Immutable after
// compilation.
type Compiled struct {
	Name    string               `json:"name"`
	Version string               `json:"version"`
	Entry   string               `json:"entry_point"`
	Nodes   map[string]NodeSpec  `json:"nodes"`
	Next    map[string]string    `json:"next"`
	Routers map[string]RouterPlan `json:"routers"`
	Params  map[string]ParamSpec `json:"parameter_schema"`
}

// Node looks up a node spec by name.
func (c *Compiled) Node(name string) (NodeSpec, bool) {
	spec, ok := c.Nodes[name]
	return spec, ok
}

// NextNode returns the unconditional successor, or the terminal sentinel
// when the node has no outgoing edge.
func (c *Compiled) NextNode(name string) string {
	if next, ok := c.Next[name]; ok {
		return next
	}
	return Terminal
}

// Router returns the router plan for a node, if any.
func (c *Compiled) Router(name string) (RouterPlan, bool) {
	plan, ok := c.Routers[name]
	return plan, ok
}
