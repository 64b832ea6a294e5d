package condition

import "strings"

// Operator is the normalized comparison applied by a rule.
type Operator string

const (
	OpEquals         Operator = "equals"
	OpNotEquals      Operator = "not_equals"
	OpGreater        Operator = "gt"
	OpGreaterOrEqual Operator = "gte"
	OpLess           Operator = "lt"
	OpLessOrEqual    Operator = "lte"
	OpContains       Operator = "contains"
	OpNotContains    Operator = "not_contains"
	OpStartsWith     Operator = "starts_with"
	OpEndsWith       Operator = "ends_with"
	OpIsEmpty        Operator = "is_empty"
	OpIsNotEmpty     Operator = "is_not_empty"
	OpInList         Operator = "in_list"
	OpNotInList      Operator = "not_in_list"
	OpTaskCompleted  Operator = "task_completed"
	OpStageCompleted Operator = "stage_completed"
)

// ListDelimiter separates members of an in_list/not_in_list comparison value.
const ListDelimiter = ","

var operatorAliases = map[string]Operator{
	"==": OpEquals, "=": OpEquals, "eq": OpEquals, "equals": OpEquals, "equal": OpEquals,
	"!=": OpNotEquals, "<>": OpNotEquals, "ne": OpNotEquals, "notequals": OpNotEquals, "notequal": OpNotEquals,
	">": OpGreater, "gt": OpGreater, "greaterthan": OpGreater,
	">=": OpGreaterOrEqual, "gte": OpGreaterOrEqual, "greaterthanorequal": OpGreaterOrEqual,
	"<": OpLess, "lt": OpLess, "lessthan": OpLess,
	"<=": OpLessOrEqual, "lte": OpLessOrEqual, "lessthanorequal": OpLessOrEqual,
	"contains": OpContains,
	"notcontains": OpNotContains, "doesnotcontain": OpNotContains,
	"startswith": OpStartsWith,
	"endswith": OpEndsWith,
	"isempty": OpIsEmpty, "isnull": OpIsEmpty, "empty": OpIsEmpty,
	"isnotempty": OpIsNotEmpty, "isnotnull": OpIsNotEmpty, "notempty": OpIsNotEmpty,
	"in": OpInList, "inlist": OpInList,
	"notin": OpNotInList, "notinlist": OpNotInList,
	"taskcompleted": OpTaskCompleted, "completetask": OpTaskCompleted,
	"stagecompleted": OpStageCompleted, "completestage": OpStageCompleted,
}

var aliasNoise = strings.NewReplacer("-", "", "_", "", " ", "")

// ParseOperator normalizes an operator spelling. Case, dashes, underscores
// and spaces are ignored.
func ParseOperator(s string) (Operator, bool) {
	key := aliasNoise.Replace(strings.ToLower(strings.TrimSpace(s)))
	op, ok := operatorAliases[key]
	return op, ok
}

// IgnoresComparison reports whether the operator reads only the operand.
func (op Operator) IgnoresComparison() bool {
	switch op {
	case OpIsEmpty, OpIsNotEmpty, OpTaskCompleted, OpStageCompleted:
		return true
	}
	return false
}
