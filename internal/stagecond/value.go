package stagecond

import (
	"encoding/json"
	"fmt"
	"math"
	"strconv"
	"strings"
)

// Kind is the dynamic type carried by a Value.
type Kind uint8

const (
	KindEmpty Kind = iota
	KindString
	KindNumber
	KindBool
	KindList
)

func (k Kind) String() string {
	switch k {
	case KindString:
		return "string"
	case KindNumber:
		return "number"
	case KindBool:
		return "bool"
	case KindList:
		return "list"
	}
	return "empty"
}

// Value is a late-bound business datum: string, number, bool or list.
// The zero Value is empty.
type Value struct {
	kind Kind
	s    string
	n    float64
	b    bool
	l    []Value
}

func EmptyValue() Value           { return Value{} }
func StringValue(s string) Value  { return Value{kind: KindString, s: s} }
func NumberValue(n float64) Value { return Value{kind: KindNumber, n: n} }
func BoolValue(b bool) Value      { return Value{kind: KindBool, b: b} }
func ListValue(items ...Value) Value {
	return Value{kind: KindList, l: items}
}

// ValueOf converts decoded JSON-ish data into a Value. Maps are carried as
// their JSON text so they stay comparable as strings.
func ValueOf(v any) Value {
	switch x := v.(type) {
	case nil:
		return Value{}
	case Value:
		return x
	case string:
		return StringValue(x)
	case bool:
		return BoolValue(x)
	case float64:
		return NumberValue(x)
	case float32:
		return NumberValue(float64(x))
	case int:
		return NumberValue(float64(x))
	case int32:
		return NumberValue(float64(x))
	case int64:
		return NumberValue(float64(x))
	case uint:
		return NumberValue(float64(x))
	case uint64:
		return NumberValue(float64(x))
	case json.Number:
		if f, err := x.Float64(); err == nil {
			return NumberValue(f)
		}
		return StringValue(x.String())
	case []string:
		items := make([]Value, len(x))
		for i, s := range x {
			items[i] = StringValue(s)
		}
		return ListValue(items...)
	case []any:
		items := make([]Value, len(x))
		for i, e := range x {
			items[i] = ValueOf(e)
		}
		return ListValue(items...)
	case map[string]any:
		b, err := json.Marshal(x)
		if err != nil {
			return StringValue(fmt.Sprint(x))
		}
		return StringValue(string(b))
	}
	return StringValue(fmt.Sprint(v))
}

func (v Value) Kind() Kind { return v.kind }

// IsEmpty is true for the empty value, blank strings and empty lists.
func (v Value) IsEmpty() bool {
	switch v.kind {
	case KindEmpty:
		return true
	case KindString:
		return strings.TrimSpace(v.s) == ""
	case KindList:
		return len(v.l) == 0
	}
	return false
}

// Number coerces the value to a decimal. Bools, lists and non-numeric
// strings do not coerce.
func (v Value) Number() (float64, bool) {
	switch v.kind {
	case KindNumber:
		return v.n, true
	case KindString:
		f, err := strconv.ParseFloat(strings.TrimSpace(v.s), 64)
		if err != nil || math.IsNaN(f) || math.IsInf(f, 0) {
			return 0, false
		}
		return f, true
	}
	return 0, false
}

// Bool coerces the value to a boolean flag.
func (v Value) Bool() (bool, bool) {
	switch v.kind {
	case KindBool:
		return v.b, true
	case KindNumber:
		return v.n != 0, true
	case KindString:
		switch strings.ToLower(strings.TrimSpace(v.s)) {
		case "true", "yes", "1", "completed", "done":
			return true, true
		case "false", "no", "0", "":
			return false, true
		}
	case KindEmpty:
		return false, true
	}
	return false, false
}

// Items returns list elements, or the value itself as a single element.
func (v Value) Items() []Value {
	switch v.kind {
	case KindList:
		return v.l
	case KindEmpty:
		return nil
	}
	return []Value{v}
}

func (v Value) String() string {
	switch v.kind {
	case KindString:
		return v.s
	case KindNumber:
		return strconv.FormatFloat(v.n, 'f', -1, 64)
	case KindBool:
		return strconv.FormatBool(v.b)
	case KindList:
		parts := make([]string, len(v.l))
		for i, e := range v.l {
			parts[i] = e.String()
		}
		return strings.Join(parts, ", ")
	}
	return ""
}

// Interface returns the plain Go representation.
func (v Value) Interface() any {
	switch v.kind {
	case KindString:
		return v.s
	case KindNumber:
		return v.n
	case KindBool:
		return v.b
	case KindList:
		out := make([]any, len(v.l))
		for i, e := range v.l {
			out[i] = e.Interface()
		}
		return out
	}
	return nil
}

func (v Value) MarshalJSON() ([]byte, error) {
	return json.Marshal(v.Interface())
}
