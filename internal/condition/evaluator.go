// Package condition evaluates stage-condition rule sets against a snapshot of
// component data. Evaluation is pure: it never mutates the data context and
// never runs actions.
package condition

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/soochol/stagecond/internal/stagecond"
)

// RuleResult is the outcome of a single rule.
type RuleResult struct {
	Index    int                     `json:"index"`
	Rule     stagecond.ConditionRule `json:"rule"`
	Operator Operator                `json:"operator"`
	Actual   stagecond.Value         `json:"actual"`
	Passed   bool                    `json:"passed"`
	Error    string                  `json:"error,omitempty"`
}

// MatchResult is the outcome of a rule set.
type MatchResult struct {
	IsMatched bool            `json:"isMatched"`
	Logic     stagecond.Logic `json:"logic"`
	Rules     []RuleResult    `json:"rules"`
}

// Evaluate runs every rule and combines the results with the rule set's logic.
// All rules are evaluated even when the outcome is already decided. An empty
// rule set never matches.
func Evaluate(rs stagecond.RuleSet, data *DataContext) MatchResult {
	logic := NormalizeLogic(rs.Logic)
	result := MatchResult{Logic: logic, Rules: make([]RuleResult, 0, len(rs.Rules))}
	for i, rule := range rs.Rules {
		rr := EvaluateRule(rule, data)
		rr.Index = i
		result.Rules = append(result.Rules, rr)
	}
	result.IsMatched = Combine(logic, result.Rules)
	return result
}

// Combine folds per-rule outcomes. AND needs every rule, OR needs one.
func Combine(logic stagecond.Logic, rules []RuleResult) bool {
	if len(rules) == 0 {
		return false
	}
	if logic == stagecond.LogicOr {
		for _, r := range rules {
			if r.Passed {
				return true
			}
		}
		return false
	}
	for _, r := range rules {
		if !r.Passed {
			return false
		}
	}
	return true
}

// NormalizeLogic defaults to AND.
func NormalizeLogic(l stagecond.Logic) stagecond.Logic {
	switch strings.ToUpper(strings.TrimSpace(string(l))) {
	case "OR", "||", "ANY":
		return stagecond.LogicOr
	}
	return stagecond.LogicAnd
}

// EvaluateRule resolves the operand and applies the operator. Unknown
// operators fail the rule rather than the evaluation.
func EvaluateRule(rule stagecond.ConditionRule, data *DataContext) RuleResult {
	op, ok := ParseOperator(rule.Operator)
	if !ok {
		return RuleResult{Rule: rule, Error: fmt.Sprintf("unknown operator %q", rule.Operator)}
	}
	actual := data.Resolve(rule, op)
	return RuleResult{
		Rule:     rule,
		Operator: op,
		Actual:   actual,
		Passed:   Apply(op, actual, rule.ComparisonValue),
	}
}

// Apply compares actual against the raw comparison value.
func Apply(op Operator, actual stagecond.Value, comparison string) bool {
	switch op {
	case OpEquals:
		return equals(actual, comparison)
	case OpNotEquals:
		return !equals(actual, comparison)
	case OpGreater, OpGreaterOrEqual, OpLess, OpLessOrEqual:
		return compareNumbers(op, actual, comparison)
	case OpContains:
		return contains(actual, comparison)
	case OpNotContains:
		return !contains(actual, comparison)
	case OpStartsWith:
		return !actual.IsEmpty() && strings.HasPrefix(fold(actual.String()), fold(comparison))
	case OpEndsWith:
		return !actual.IsEmpty() && strings.HasSuffix(fold(actual.String()), fold(comparison))
	case OpIsEmpty:
		return actual.IsEmpty()
	case OpIsNotEmpty:
		return !actual.IsEmpty()
	case OpInList:
		return inList(actual, comparison)
	case OpNotInList:
		return !inList(actual, comparison)
	case OpTaskCompleted, OpStageCompleted:
		done, ok := actual.Bool()
		return ok && done
	}
	return false
}

func fold(s string) string { return strings.ToLower(strings.TrimSpace(s)) }

func equals(actual stagecond.Value, comparison string) bool {
	if actual.Kind() == stagecond.KindList {
		for _, item := range actual.Items() {
			if equalScalar(item, comparison) {
				return true
			}
		}
		return false
	}
	return equalScalar(actual, comparison)
}

func equalScalar(actual stagecond.Value, comparison string) bool {
	switch actual.Kind() {
	case stagecond.KindEmpty:
		return strings.TrimSpace(comparison) == ""
	case stagecond.KindBool:
		if want, err := strconv.ParseBool(fold(comparison)); err == nil {
			b, _ := actual.Bool()
			return b == want
		}
	}
	if a, ok := actual.Number(); ok {
		if b, ok := parseNumber(comparison); ok {
			return a == b
		}
	}
	return fold(actual.String()) == fold(comparison)
}

func parseNumber(s string) (float64, bool) {
	return stagecond.StringValue(s).Number()
}

func compareNumbers(op Operator, actual stagecond.Value, comparison string) bool {
	a, ok := actual.Number()
	if !ok {
		return false
	}
	b, ok := parseNumber(comparison)
	if !ok {
		return false
	}
	switch op {
	case OpGreater:
		return a > b
	case OpGreaterOrEqual:
		return a >= b
	case OpLess:
		return a < b
	case OpLessOrEqual:
		return a <= b
	}
	return false
}

func contains(actual stagecond.Value, comparison string) bool {
	if actual.IsEmpty() {
		return false
	}
	if actual.Kind() == stagecond.KindList {
		for _, item := range actual.Items() {
			if fold(item.String()) == fold(comparison) {
				return true
			}
		}
		return false
	}
	return strings.Contains(fold(actual.String()), fold(comparison))
}

// SplitList splits a comparison value on ListDelimiter, dropping blanks.
func SplitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ListDelimiter) {
		if p := strings.TrimSpace(part); p != "" {
			out = append(out, p)
		}
	}
	return out
}

func inList(actual stagecond.Value, comparison string) bool {
	members := SplitList(comparison)
	if len(members) == 0 {
		return false
	}
	for _, item := range actual.Items() {
		for _, m := range members {
			if equalScalar(item, m) {
				return true
			}
		}
	}
	return false
}
