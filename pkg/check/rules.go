package check

import (
	"slices"
)

// Wildcard accepts any value in a MultiValuesRule.
const Wildcard = "*"

// LevelRule is a policy constraint carrying only a severity.
type LevelRule struct {
	Level Level
}

// MultiValuesRule is an allow-list of acceptable values.
type MultiValuesRule struct {
	LevelRule
	Values []string
}

// Accepts reports whether at least one of values is allowed. An empty
// allow-list accepts nothing.
func (r MultiValuesRule) Accepts(values ...string) bool {
	if slices.Contains(r.Values, Wildcard) {
		return true
	}
	for _, v := range values {
		if slices.Contains(r.Values, v) {
			return true
		}
	}
	return false
}

// NumericValueRule is an upper bound.
type NumericValueRule struct {
	LevelRule
	Value int64
}

// Within reports whether v does not exceed the bound.
func (r NumericValueRule) Within(v int64) bool {
	return v <= r.Value
}
