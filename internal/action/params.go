package action

import (
	"regexp"
	"strconv"
	"strings"

	"github.com/soochol/stagecond/internal/condition"
	"github.com/soochol/stagecond/internal/stagecond"
)

var placeholderPattern = regexp.MustCompile(`\{\{\s*([A-Za-z0-9_.\-]+)\s*\}\}`)

// expandPlaceholders replaces {{key}} and {{a.b}} with values from data.
// Unknown keys are left as written.
func expandPlaceholders(s string, data map[string]any) string {
	if !strings.Contains(s, "{{") {
		return s
	}
	return placeholderPattern.ReplaceAllStringFunc(s, func(m string) string {
		key := placeholderPattern.FindStringSubmatch(m)[1]
		v, ok := lookup(data, key)
		if !ok {
			return m
		}
		return stagecond.ValueOf(v).String()
	})
}

// expandAll walks decoded JSON and expands every string leaf.
func expandAll(v any, data map[string]any) any {
	switch x := v.(type) {
	case string:
		return expandPlaceholders(x, data)
	case map[string]any:
		out := make(map[string]any, len(x))
		for k, e := range x {
			out[k] = expandAll(e, data)
		}
		return out
	case []any:
		out := make([]any, len(x))
		for i, e := range x {
			out[i] = expandAll(e, data)
		}
		return out
	}
	return v
}

func lookup(data map[string]any, path string) (any, bool) {
	if v, ok := data[path]; ok {
		return v, true
	}
	var cur any = data
	for _, part := range strings.Split(path, ".") {
		m, ok := cur.(map[string]any)
		if !ok {
			return nil, false
		}
		if cur, ok = m[part]; !ok {
			return nil, false
		}
	}
	return cur, true
}

// stringParam returns the first non-blank value among config keys, then
// among context keys.
func stringParam(cfg, data map[string]any, configKeys []string, contextKeys ...string) string {
	for _, k := range configKeys {
		if s := strings.TrimSpace(stagecond.ValueOf(cfg[k]).String()); s != "" {
			return s
		}
	}
	for _, k := range contextKeys {
		if v, ok := lookup(data, k); ok {
			if s := strings.TrimSpace(stagecond.ValueOf(v).String()); s != "" {
				return s
			}
		}
	}
	return ""
}

func listParam(cfg map[string]any, keys ...string) []string {
	for _, k := range keys {
		if l := condition.StringList(cfg[k]); l != nil {
			return l
		}
	}
	return nil
}

// boolParam parses bools written as JSON booleans or strings.
func boolParam(v any) (value, ok bool) {
	switch x := v.(type) {
	case nil:
		return false, true
	case bool:
		return x, true
	case string:
		b, err := strconv.ParseBool(strings.TrimSpace(x))
		return b, err == nil
	}
	return false, false
}

func durationSeconds(v any) (float64, bool) {
	n, ok := stagecond.ValueOf(v).Number()
	if !ok || n <= 0 {
		return 0, false
	}
	return n, true
}
