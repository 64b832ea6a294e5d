package action

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/xeipuuv/gojsonschema"

	"github.com/soochol/stagecond/internal/stagecond"
)

var mainFuncPattern = regexp.MustCompile(`(?i)def\s+main\s*\(([^)]*)\)(?:\s*->\s*[^:]*)?\s*:`)

// allowedMethods is the set of HTTP methods the HttpApi executor supports.
var allowedMethods = map[string]bool{
	"GET": true, "POST": true, "PUT": true, "PATCH": true, "DELETE": true, "HEAD": true,
}

// System action names, compared lowercased.
const (
	SystemCompleteStage    = "completestage"
	SystemMoveToStage      = "movetostage"
	SystemAssignOnboarding = "assignonboarding"
)

var systemActions = []string{SystemCompleteStage, SystemMoveToStage, SystemAssignOnboarding}

// optionalSchemas constrain the optional keys of each config. Required keys
// are checked in code so the error can name them plainly.
var optionalSchemas = map[stagecond.ActionType]map[string]any{
	stagecond.ActionTypePython: {
		"type": "object",
		"properties": map[string]any{
			"timeoutSeconds": map[string]any{"type": "number", "minimum": 1, "maximum": 600},
		},
	},
	stagecond.ActionTypeHTTPAPI: {
		"type": "object",
		"properties": map[string]any{
			"headers":        map[string]any{"type": "object", "additionalProperties": map[string]any{"type": []any{"string", "number", "boolean"}}},
			"timeoutSeconds": map[string]any{"type": "number", "minimum": 1, "maximum": 300},
			"maxAttempts":    map[string]any{"type": "integer", "minimum": 1, "maximum": 10},
		},
	},
	stagecond.ActionTypeSendEmail: {
		"type": "object",
		"properties": map[string]any{
			"to":       stringOrList(),
			"cc":       stringOrList(),
			"subject":  map[string]any{"type": "string"},
			"body":     map[string]any{"type": "string"},
			"template": map[string]any{"type": "string"},
			"isHtml":   map[string]any{"type": "boolean"},
		},
	},
	stagecond.ActionTypeSystem: {
		"type": "object",
		"properties": map[string]any{
			"actionName":  map[string]any{"type": "string"},
			"assigneeIds": stringOrList(),
		},
	},
}

func stringOrList() map[string]any {
	return map[string]any{
		"anyOf": []any{
			map[string]any{"type": "string"},
			map[string]any{"type": "array", "items": map[string]any{"type": "string"}},
		},
	}
}

// ValidateConfig checks cfg for action type t. It never modifies cfg.
func ValidateConfig(t stagecond.ActionType, cfg map[string]any) error {
	parsed, ok := stagecond.ParseActionType(string(t))
	if !ok {
		return unsupported(t)
	}
	if cfg == nil {
		cfg = map[string]any{}
	}

	var err error
	switch parsed {
	case stagecond.ActionTypePython:
		err = validatePython(cfg)
	case stagecond.ActionTypeHTTPAPI:
		err = validateHTTP(cfg)
	case stagecond.ActionTypeSystem:
		err = validateSystem(cfg)
	case stagecond.ActionTypeSendEmail:
		// Template existence is checked when the email is rendered.
	}
	if err != nil {
		return err
	}
	return validateSchema(parsed, cfg)
}

func sourceCode(cfg map[string]any) string {
	for _, k := range []string{"sourceCode", "code"} {
		if s, ok := cfg[k].(string); ok && strings.TrimSpace(s) != "" {
			return s
		}
	}
	return ""
}

func validatePython(cfg map[string]any) error {
	src := sourceCode(cfg)
	if src == "" {
		return stagecond.Invalid("actionConfig.sourceCode", "Python script source code is required")
	}
	if !mainFuncPattern.MatchString(src) {
		return stagecond.Invalid("actionConfig.sourceCode", "source code must contain a 'main' function definition")
	}
	return nil
}

func validateHTTP(cfg map[string]any) error {
	if s, _ := cfg["url"].(string); strings.TrimSpace(s) == "" {
		return stagecond.Invalid("actionConfig.url", "HTTP API URL is required")
	}
	method, _ := cfg["method"].(string)
	if strings.TrimSpace(method) == "" {
		return stagecond.Invalid("actionConfig.method", "HTTP API method is required")
	}
	if !allowedMethods[strings.ToUpper(strings.TrimSpace(method))] {
		return stagecond.Invalid("actionConfig.method", "unsupported HTTP method %q", method)
	}
	return nil
}

func validateSystem(cfg map[string]any) error {
	raw, _ := cfg["actionName"].(string)
	name := strings.ToLower(strings.TrimSpace(raw))
	if name == "" {
		return stagecond.Invalid("actionConfig.actionName", "System action must specify 'actionName' in configuration")
	}
	known := false
	for _, a := range systemActions {
		if a == name {
			known = true
		}
	}
	if !known {
		return stagecond.Invalid("actionConfig.actionName", "System action %q is not supported. Supported actions: %s", name, strings.Join(systemActions, ", "))
	}
	if _, ok := boolParam(cfg["useValidationApi"]); !ok {
		return stagecond.Invalid("actionConfig.useValidationApi", "must be a boolean")
	}
	if name == SystemAssignOnboarding {
		if kind, _ := cfg["assigneeType"].(string); kind != "" && !strings.EqualFold(kind, "user") && !strings.EqualFold(kind, "team") {
			return stagecond.Invalid("actionConfig.assigneeType", "must be user or team")
		}
	}
	return nil
}

func validateSchema(t stagecond.ActionType, cfg map[string]any) error {
	schema, ok := optionalSchemas[t]
	if !ok {
		return nil
	}
	result, err := gojsonschema.Validate(gojsonschema.NewGoLoader(schema), gojsonschema.NewGoLoader(cfg))
	if err != nil {
		return fmt.Errorf("validate %s config: %w", t, err)
	}
	if result.Valid() {
		return nil
	}
	first := result.Errors()[0]
	field := first.Field()
	if field == "" || field == "(root)" {
		field = "actionConfig"
	} else {
		field = "actionConfig." + field
	}
	return stagecond.Invalid(field, "%s", first.Description())
}
