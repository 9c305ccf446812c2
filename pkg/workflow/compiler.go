package workflow

import (
	"github.com/meshflow/meshflow/pkg/mesherr"
)

// allowedParamTypes is the closed set of parameter schema types.
var allowedParamTypes = map[string]bool{
	"string":  true,
	"number":  true,
	"boolean": true,
	"object":  true,
	"array":   true,
}

// Compile validates a definition and produces its dispatch structure.
// Compilation is pure: the same definition always yields a structurally
// equal Compiled.
func Compile(def *Definition, conds *ConditionRegistry) (*Compiled, error) {
	if def == nil {
		return nil, mesherr.New(mesherr.KindValidation, "definition is nil")
	}
	if len(def.Nodes) == 0 {
		return nil, mesherr.New(mesherr.KindValidation, "workflow %q has no nodes", def.Name)
	}

	if err := validateStructure(def); err != nil {
		return nil, err
	}
	if err := validateParamSchema(def); err != nil {
		return nil, err
	}

	next, routers, err := buildAdjacency(def)
	if err != nil {
		return nil, err
	}

	if err := checkReachability(def, next, routers); err != nil {
		return nil, err
	}
	if err := checkCycles(def, next, routers); err != nil {
		return nil, err
	}

	if err := bindConditions(def, routers, conds); err != nil {
		return nil, err
	}

	params := make(map[string]ParamSpec, len(def.Parameters))
	for name, spec := range def.Parameters {
		params[name] = spec
	}

	return &Compiled{
		Name:    def.Name,
		Version: def.Version,
		Entry:   def.EntryPoint,
		Nodes:   def.Nodes,
		Next:    next,
		Routers: routers,
		Params:  params,
	}, nil
}

func validateStructure(def *Definition) error {
	if def.EntryPoint == "" {
		return mesherr.New(mesherr.KindValidation, "workflow %q has no entry point", def.Name)
	}
	if _, ok := def.Nodes[def.EntryPoint]; !ok {
		return mesherr.New(mesherr.KindUnknownNode,
			"entry point %q is not a node", def.EntryPoint)
	}
	if _, ok := def.Nodes[Terminal]; ok {
		return mesherr.New(mesherr.KindValidation,
			"the terminal sentinel %q must not be declared as a node", Terminal)
	}

	exists := func(name string) bool {
		if name == Terminal {
			return true
		}
		_, ok := def.Nodes[name]
		return ok
	}

	for _, e := range def.Edges {
		if _, ok := def.Nodes[e.From]; !ok {
			return mesherr.New(mesherr.KindUnknownNode, "edge source %q is not a node", e.From)
		}
		if !exists(e.To) {
			return mesherr.New(mesherr.KindUnknownNode, "edge target %q is not a node", e.To)
		}
	}
	for _, ce := range def.ConditionalEdges {
		if _, ok := def.Nodes[ce.From]; !ok {
			return mesherr.New(mesherr.KindUnknownNode,
				"conditional edge source %q is not a node", ce.From)
		}
		if len(ce.Branches) == 0 {
			return mesherr.New(mesherr.KindValidation,
				"conditional edge from %q has no branches", ce.From)
		}
		for label, to := range ce.Branches {
			if !exists(to) {
				return mesherr.New(mesherr.KindUnknownNode,
					"branch %q of %q targets unknown node %q", label, ce.From, to)
			}
		}
	}
	for name, spec := range def.Nodes {
		if spec.Kind == NodeComposite {
			for _, child := range spec.Children {
				if _, ok := def.Nodes[child]; !ok {
					return mesherr.New(mesherr.KindUnknownNode,
						"composite %q references unknown child %q", name, child)
				}
			}
		}
	}
	return nil
}

func validateParamSchema(def *Definition) error {
	for name, spec := range def.Parameters {
		if !allowedParamTypes[spec.Type] {
			return mesherr.New(mesherr.KindInvalidParameterSchema,
				"parameter %q has unsupported type %q", name, spec.Type)
		}
		if spec.Required && spec.Default != nil {
			return mesherr.New(mesherr.KindInvalidParameterSchema,
				"parameter %q is required and must not declare a default", name)
		}
	}
	return nil
}

func buildAdjacency(def *Definition) (map[string]string, map[string]RouterPlan, error) {
	next := make(map[string]string)
	routers := make(map[string]RouterPlan)

	for _, e := range def.Edges {
		if _, dup := next[e.From]; dup {
			return nil, nil, mesherr.New(mesherr.KindAmbiguousTransition,
				"node %q has more than one unconditional outgoing edge", e.From)
		}
		next[e.From] = e.To
	}

	for _, ce := range def.ConditionalEdges {
		if _, dup := routers[ce.From]; dup {
			return nil, nil, mesherr.New(mesherr.KindAmbiguousTransition,
				"node %q has more than one conditional edge", ce.From)
		}
		branches := make(map[string]string, len(ce.Branches))
		for label, to := range ce.Branches {
			branches[label] = to
		}
		fallback := Terminal
		if to, ok := next[ce.From]; ok {
			fallback = to
			// The unconditional edge becomes the fallback; the router owns
			// the transition.
			delete(next, ce.From)
		}
		routers[ce.From] = RouterPlan{
			Condition: ce.Condition,
			Branches:  branches,
			Fallback:  fallback,
		}
	}

	return next, routers, nil
}

// successors lists every node control can move to from name, terminal
// excluded.
func successors(name string, def *Definition, next map[string]string, routers map[string]RouterPlan) []string {
	var out []string
	add := func(to string) {
		if to != Terminal {
			out = append(out, to)
		}
	}
	if plan, ok := routers[name]; ok {
		for _, to := range plan.Branches {
			add(to)
		}
		add(plan.Fallback)
	} else if to, ok := next[name]; ok {
		add(to)
	}
	if spec, ok := def.Nodes[name]; ok && spec.Kind == NodeComposite {
		out = append(out, spec.Children...)
	}
	return out
}

func checkReachability(def *Definition, next map[string]string, routers map[string]RouterPlan) error {
	seen := map[string]bool{def.EntryPoint: true}
	queue := []string{def.EntryPoint}
	for len(queue) > 0 {
		current := queue[0]
		queue = queue[1:]
		for _, succ := range successors(current, def, next, routers) {
			if !seen[succ] {
				seen[succ] = true
				queue = append(queue, succ)
			}
		}
	}

	var unreachable []string
	for name := range def.Nodes {
		if !seen[name] {
			unreachable = append(unreachable, name)
		}
	}
	if len(unreachable) > 0 {
		return mesherr.New(mesherr.KindUnreachableNodes,
			"%d node(s) unreachable from entry point %q", len(unreachable), def.EntryPoint)
	}
	return nil
}

// checkCycles permits a cycle only when some router on it can route outside
// the cycle. Pure cycles can never exit and are rejected.
func checkCycles(def *Definition, next map[string]string, routers map[string]RouterPlan) error {
	sccs := stronglyConnected(def, next, routers)

	for _, scc := range sccs {
		if !isCyclic(scc, def, next, routers) {
			continue
		}

		member := make(map[string]bool, len(scc))
		for _, name := range scc {
			member[name] = true
		}

		escapable := false
		for _, name := range scc {
			plan, ok := routers[name]
			if !ok {
				continue
			}
			for _, to := range plan.Branches {
				if to == Terminal || !member[to] {
					escapable = true
				}
			}
			if plan.Fallback == Terminal || !member[plan.Fallback] {
				escapable = true
			}
		}
		if !escapable {
			return mesherr.New(mesherr.KindInfiniteLoop,
				"cycle through %q has no conditional exit", scc[0])
		}
	}
	return nil
}

func isCyclic(scc []string, def *Definition, next map[string]string, routers map[string]RouterPlan) bool {
	if len(scc) > 1 {
		return true
	}
	// Single-node component: cyclic only with a self edge.
	name := scc[0]
	for _, succ := range successors(name, def, next, routers) {
		if succ == name {
			return true
		}
	}
	return false
}

// stronglyConnected is Tarjan's algorithm over the compiled adjacency.
func stronglyConnected(def *Definition, next map[string]string, routers map[string]RouterPlan) [][]string {
	index := 0
	indices := make(map[string]int)
	lowlink := make(map[string]int)
	onStack := make(map[string]bool)
	var stack []string
	var result [][]string

	var strongconnect func(v string)
	strongconnect = func(v string) {
		indices[v] = index
		lowlink[v] = index
		index++
		stack = append(stack, v)
		onStack[v] = true

		for _, w := range successors(v, def, next, routers) {
			if _, visited := indices[w]; !visited {
				strongconnect(w)
				if lowlink[w] < lowlink[v] {
					lowlink[v] = lowlink[w]
				}
			} else if onStack[w] {
				if indices[w] < lowlink[v] {
					lowlink[v] = indices[w]
				}
			}
		}

		if lowlink[v] == indices[v] {
			var scc []string
			for {
				w := stack[len(stack)-1]
				stack = stack[:len(stack)-1]
				onStack[w] = false
				scc = append(scc, w)
				if w == v {
					break
				}
			}
			result = append(result, scc)
		}
	}

	for name := range def.Nodes {
		if _, visited := indices[name]; !visited {
			strongconnect(name)
		}
	}
	return result
}

func bindConditions(def *Definition, routers map[string]RouterPlan, conds *ConditionRegistry) error {
	for from, plan := range routers {
		if conds == nil {
			return mesherr.New(mesherr.KindUnknownCondition,
				"condition %q referenced by %q but no condition registry is configured", plan.Condition, from)
		}
		fn, ok := conds.Get(plan.Condition)
		if !ok {
			return mesherr.New(mesherr.KindUnknownCondition,
				"condition %q referenced by %q is not registered", plan.Condition, from)
		}
		plan.fn = fn
		routers[from] = plan
	}
	return nil
}
