package condition

import (
	"strconv"
	"strings"

	"github.com/oliveagle/jsonpath"
	"github.com/soochol/stagecond/internal/stagecond"
)

type componentKey struct {
	stageID       string
	componentType stagecond.ComponentType
	componentID   string
}

// DataContext is the read-only snapshot a rule set is evaluated against.
type DataContext struct {
	StageID    string
	components map[componentKey]map[string]any
	stages     map[string]bool
}

// NewDataContext creates an empty context for the evaluated stage.
func NewDataContext(stageID string) *DataContext {
	return &DataContext{
		StageID:    stageID,
		components: make(map[componentKey]map[string]any),
		stages:     make(map[string]bool),
	}
}

// SetComponent stores a component snapshot.
func (d *DataContext) SetComponent(stageID string, t stagecond.ComponentType, componentID string, data map[string]any) {
	d.components[componentKey{stageID, t, componentID}] = data
}

// SetStageCompleted records a stage's completion flag.
func (d *DataContext) SetStageCompleted(stageID string, done bool) {
	d.stages[stageID] = done
}

// Component returns a stored snapshot.
func (d *DataContext) Component(stageID string, t stagecond.ComponentType, componentID string) (map[string]any, bool) {
	data, ok := d.components[componentKey{stageID, t, componentID}]
	return data, ok
}

// StageCompleted returns false for stages never recorded.
func (d *DataContext) StageCompleted(stageID string) bool {
	return d.stages[stageID]
}

// Snapshot flattens the context for templates and expressions:
// {"checklist": {id: data}, "questionnaire": {id: data}, "fields": data, "file": data, "stages": {id: bool}}.
// Only components of the evaluated stage and stage-less field data are included.
func (d *DataContext) Snapshot() map[string]any {
	out := map[string]any{}
	fields := map[string]any{}
	for k, data := range d.components {
		if k.componentType == stagecond.ComponentField {
			for fk, fv := range data {
				fields[fk] = fv
			}
			continue
		}
		if k.stageID != d.StageID {
			continue
		}
		group, _ := out[string(k.componentType)].(map[string]any)
		if group == nil {
			group = map[string]any{}
			out[string(k.componentType)] = group
		}
		if k.componentID == "" {
			for fk, fv := range data {
				group[fk] = fv
			}
		} else {
			group[k.componentID] = data
		}
	}
	out["fields"] = fields
	stages := make(map[string]any, len(d.stages))
	for id, done := range d.stages {
		stages[id] = done
	}
	out["stages"] = stages
	return out
}

// Requirement names one piece of data a rule set needs.
type Requirement struct {
	StageID         string
	ComponentType   stagecond.ComponentType
	ComponentID     string
	StageCompletion bool
}

// Requirements lists, without duplicates, the data the rule set reads when
// evaluated for stageID.
func Requirements(rs stagecond.RuleSet, stageID string) []Requirement {
	seen := make(map[Requirement]bool)
	var out []Requirement
	for _, rule := range rs.Rules {
		var req Requirement
		op, _ := ParseOperator(rule.Operator)
		if op == OpStageCompleted {
			req = Requirement{StageID: ruleStage(rule, stageID), StageCompletion: true}
		} else {
			ct, ok := stagecond.ParseComponentType(string(rule.ComponentType))
			if !ok {
				continue
			}
			req = Requirement{StageID: ruleStage(rule, stageID), ComponentType: ct, ComponentID: rule.ComponentID}
			if ct == stagecond.ComponentField {
				req.ComponentID = ""
			}
		}
		if !seen[req] {
			seen[req] = true
			out = append(out, req)
		}
	}
	return out
}

func ruleStage(rule stagecond.ConditionRule, stageID string) string {
	if rule.SourceStageID != "" {
		return rule.SourceStageID
	}
	return stageID
}

// Resolve reads the rule's operand. Missing data yields the empty value.
func (d *DataContext) Resolve(rule stagecond.ConditionRule, op Operator) stagecond.Value {
	stageID := ruleStage(rule, d.StageID)
	if op == OpStageCompleted {
		return stagecond.BoolValue(d.StageCompleted(stageID))
	}

	ct, ok := stagecond.ParseComponentType(string(rule.ComponentType))
	if !ok {
		return stagecond.EmptyValue()
	}
	componentID := rule.ComponentID
	if ct == stagecond.ComponentField {
		componentID = ""
	}
	data, ok := d.Component(stageID, ct, componentID)
	if !ok {
		return stagecond.EmptyValue()
	}

	if op == OpTaskCompleted {
		return taskCompletion(data, rule.FieldPath)
	}

	v, ok := lookupPath(data, rule.FieldPath)
	if !ok {
		return stagecond.EmptyValue()
	}
	return stagecond.ValueOf(v)
}

// taskCompletion reads a task's isCompleted flag, or the whole checklist's
// completion when path is empty.
func taskCompletion(data map[string]any, path string) stagecond.Value {
	if strings.TrimSpace(path) == "" {
		if status, ok := data["status"].(string); ok && strings.EqualFold(status, stagecond.StatusCompleted) {
			return stagecond.BoolValue(true)
		}
		total, okTotal := stagecond.ValueOf(data["totalCount"]).Number()
		done, okDone := stagecond.ValueOf(data["completedCount"]).Number()
		return stagecond.BoolValue(okTotal && okDone && total > 0 && done >= total)
	}

	for _, candidate := range []string{path, "tasks." + path} {
		v, ok := lookupPath(data, candidate)
		if !ok {
			continue
		}
		if task, isMap := v.(map[string]any); isMap {
			return stagecond.ValueOf(task["isCompleted"])
		}
		return stagecond.ValueOf(v)
	}
	return stagecond.EmptyValue()
}

var pathNoise = strings.NewReplacer(`["`, ".", `"]`, "", `['`, ".", `']`, "", "[", ".", "]", "")

// lookupPath walks a dotted path through maps and lists. Paths starting with
// "$" are JSONPath expressions.
func lookupPath(data map[string]any, path string) (any, bool) {
	path = strings.TrimSpace(path)
	if path == "" {
		return data, true
	}
	if strings.HasPrefix(path, "$") {
		v, err := jsonpath.JsonPathLookup(data, path)
		if err != nil {
			return nil, false
		}
		return v, true
	}
	if v, ok := data[path]; ok {
		return v, true
	}

	path = strings.TrimPrefix(path, "input.")
	path = strings.Trim(pathNoise.Replace(path), ".")

	var cur any = data
	for _, seg := range strings.Split(path, ".") {
		switch node := cur.(type) {
		case map[string]any:
			v, ok := node[seg]
			if !ok {
				return nil, false
			}
			cur = v
		case []any:
			i, err := strconv.Atoi(seg)
			if err != nil || i < 0 || i >= len(node) {
				return nil, false
			}
			cur = node[i]
		default:
			return nil, false
		}
	}
	return cur, true
}
