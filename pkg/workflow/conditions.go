package workflow

import (
	"strings"

	"github.com/meshflow/meshflow/pkg/execution"
)

// Built-in condition functions. Conditions are pure: they read state and
// return a branch label, nothing else.

// BranchEnd is the conventional label for routing to the terminal sentinel.
const BranchEnd = "end"

// RegisterBuiltins installs the stock condition functions used by the
// template library.
func RegisterBuiltins(reg *ConditionRegistry) error {
	builtins := map[string]Condition{
		"errors_present":    ErrorsPresent,
		"retry_budget_left": RetryBudgetLeft,
		"output_contains":   OutputContains("result"),
	}
	for name, fn := range builtins {
		if err := reg.Register(name, fn); err != nil {
			return err
		}
	}
	return nil
}

// ErrorsPresent routes to "retry_analysis" while the audit trail is
// non-empty and the retry budget allows another pass, "end" otherwise.
func ErrorsPresent(st *execution.State) string {
	if st.ErrorCount() > 0 && st.RetryBudgetLeft() {
		return "retry_analysis"
	}
	return BranchEnd
}

// RetryBudgetLeft routes to "retry" until the budget is exhausted.
func RetryBudgetLeft(st *execution.State) string {
	if st.RetryBudgetLeft() {
		return "retry"
	}
	return BranchEnd
}

// OutputContains builds a condition routing to "present" when the given
// output path resolves to a non-empty value, "absent" otherwise.
func OutputContains(path string) Condition {
	return func(st *execution.State) string {
		value, ok := st.Get(path)
		if !ok || value == nil {
			return "absent"
		}
		if s, isStr := value.(string); isStr && strings.TrimSpace(s) == "" {
			return "absent"
		}
		return "present"
	}
}
