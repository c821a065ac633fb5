package executor

import (
	"fmt"

	"github.com/chaosslabs/personal-automator/pkg/automator/store"
)

// validateParams checks task.Params against tmpl.ParamsSchema: required
// parameters must be present, values must match their declared type, and
// defaults are substituted for missing optional parameters (spec.md §4.2
// "Parameter validation"). Returns the merged (default-filled) map the
// sandbox receives.
func validateParams(tmpl store.Template, task store.Task) (map[string]any, error) {
	merged := make(map[string]any, len(tmpl.ParamsSchema))
	for _, decl := range tmpl.ParamsSchema {
		val, present := task.Params[decl.Name]
		if !present {
			if decl.Required {
				return nil, fmt.Errorf("missing required parameter %q", decl.Name)
			}
			merged[decl.Name] = decl.Default
			continue
		}
		if !matchesType(val, decl.Type) {
			return nil, fmt.Errorf("parameter %q: expected %s, got %T", decl.Name, decl.Type, val)
		}
		merged[decl.Name] = val
	}
	return merged, nil
}

// matchesType checks a JSON-decoded value against a declared ParamType.
// Values here always come from store.Task.Params, which round-trips through
// encoding/json, so numbers are always float64 and objects/arrays never
// appear for scalar-typed declarations.
func matchesType(val any, want store.ParamType) bool {
	switch want {
	case store.ParamString:
		_, ok := val.(string)
		return ok
	case store.ParamNumber:
		_, ok := val.(float64)
		return ok
	case store.ParamBoolean:
		_, ok := val.(bool)
		return ok
	default:
		return false
	}
}
