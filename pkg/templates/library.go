// Package templates holds the named, pre-validated workflow library.
// Templates compile at registration time, so a listed template can always
// be instantiated.
package templates

import (
	"sort"
	"sync"

	"github.com/meshflow/meshflow/pkg/execution"
	"github.com/meshflow/meshflow/pkg/mesherr"
	"github.com/meshflow/meshflow/pkg/workflow"
)

// Summary is the listing form of a template.
type Summary struct {
	Name        string                        `json:"name"`
	Version     string                        `json:"version"`
	Description string                        `json:"description,omitempty"`
	Parameters  map[string]workflow.ParamSpec `json:"parameter_schema,omitempty"`
}

type entry struct {
	def      *workflow.Definition
	compiled *workflow.Compiled
}

// Library is the shared, read-mostly template store.
type Library struct {
	mu      sync.RWMutex
	entries map[string]entry
}

func NewLibrary() *Library {
	return &Library{entries: make(map[string]entry)}
}

// Register compiles and stores a definition under its name. Compilation
// failures reject the template outright.
func (l *Library) Register(def *workflow.Definition, conds *workflow.ConditionRegistry) error {
	compiled, err := workflow.Compile(def, conds)
	if err != nil {
		return err
	}

	l.mu.Lock()
	defer l.mu.Unlock()
	l.entries[def.Name] = entry{def: def, compiled: compiled}
	return nil
}

// List returns template summaries sorted by name.
func (l *Library) List() []Summary {
	l.mu.RLock()
	defer l.mu.RUnlock()

	out := make([]Summary, 0, len(l.entries))
	for _, e := range l.entries {
		out = append(out, Summary{
			Name:        e.def.Name,
			Version:     e.def.Version,
			Description: e.def.Description,
			Parameters:  e.def.Parameters,
		})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// Get returns the compiled template.
func (l *Library) Get(name string) (*workflow.Compiled, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	e, ok := l.entries[name]
	if !ok {
		return nil, mesherr.New(mesherr.KindUnknownTemplate,
			"template %q is not registered", name)
	}
	return e.compiled, nil
}

// Instantiate validates the parameters and allocates an initial execution
// state whose input is the effective parameter map.
func (l *Library) Instantiate(name string, params map[string]any, opts ...execution.StateOption) (*workflow.Compiled, *execution.State, error) {
	compiled, err := l.Get(name)
	if err != nil {
		return nil, nil, err
	}

	effective, err := compiled.ValidateParams(params)
	if err != nil {
		return nil, nil, err
	}

	st := execution.NewState(compiled.Name, compiled.Version, effective, opts...)
	return compiled, st, nil
}
