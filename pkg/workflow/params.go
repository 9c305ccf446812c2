package workflow

import (
	"encoding/json"

	"github.com/meshflow/meshflow/pkg/mesherr"
)

// ValidateParams checks provided parameters against the compiled schema,
// applies defaults, and returns the effective parameter map. Unknown
// parameters pass through untouched.
func (c *Compiled) ValidateParams(provided map[string]any) (map[string]any, error) {
	out := make(map[string]any, len(provided))
	for k, v := range provided {
		out[k] = v
	}

	for name, spec := range c.Params {
		value, present := out[name]
		if !present {
			if spec.Required {
				return nil, mesherr.New(mesherr.KindMissingRequired,
					"parameter %q is required", name)
			}
			if spec.Default != nil {
				out[name] = spec.Default
			}
			continue
		}
		if !typeMatches(spec.Type, value) {
			return nil, mesherr.New(mesherr.KindTypeMismatch,
				"parameter %q must be of type %s", name, spec.Type)
		}
	}

	return out, nil
}

func typeMatches(declared string, value any) bool {
	switch declared {
	case "string":
		_, ok := value.(string)
		return ok
	case "number":
		switch value.(type) {
		case float64, float32, int, int32, int64, json.Number:
			return true
		}
		return false
	case "boolean":
		_, ok := value.(bool)
		return ok
	case "object":
		_, ok := value.(map[string]any)
		return ok
	case "array":
		_, ok := value.([]any)
		return ok
	}
	return false
}
