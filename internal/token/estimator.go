// Package token provides approximate token counting for LLM context
// budgeting. Counts are estimates, not exact BPE tokenizations — the budget
// they feed is a soft limit, so a cheap deterministic heuristic is enough.
package token

// Estimator maps text to an approximate token count for the given model.
// Implementations must be deterministic and must not perform I/O: an
// estimate is computed for every turn and every window-construction pass.
// Empty input yields 0, never an error.
type Estimator func(text, model string) int

// charsPerToken is the common ~4-characters-per-token English heuristic.
// It varies by model and language but is close enough for window budgeting.
const charsPerToken = 4

// Estimate returns an approximate token count for text: ceil(len/4).
// The model parameter is unused by the heuristic but kept in the signature
// so an exact model-aware tokenizer can replace this function without
// touching callers.
func Estimate(text, model string) int {
	if text == "" {
		return 0
	}
	return (len(text) + charsPerToken - 1) / charsPerToken
}

// Compile-time check that Estimate satisfies Estimator.
var _ Estimator = Estimate
