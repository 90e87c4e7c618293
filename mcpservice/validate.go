package mcpservice

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"sort"
	"strconv"

	"github.com/climber-engine/mcp-server-go/mcp"
)

// ErrInvalidArguments is the sentinel wrapped by *ArgumentError.
var ErrInvalidArguments = errors.New("invalid arguments")

// ArgumentError reports the first schema violation found in tool arguments.
type ArgumentError struct {
	Field  string
	Reason string
}

func (e *ArgumentError) Error() string {
	return fmt.Sprintf("invalid arguments: %s %s", e.Field, e.Reason)
}

func (e *ArgumentError) Unwrap() error { return ErrInvalidArguments }

// ValidateArguments checks raw against schema and returns the first
// violation as an *ArgumentError. Required fields are checked in declared
// order, then present fields in sorted name order. Empty input is treated
// as an empty object.
func ValidateArguments(schema mcp.ToolInputSchema, raw json.RawMessage) error {
	var v any = map[string]any{}
	if len(bytes.TrimSpace(raw)) > 0 {
		dec := json.NewDecoder(bytes.NewReader(raw))
		dec.UseNumber()
		if err := dec.Decode(&v); err != nil {
			return &ArgumentError{Field: "arguments", Reason: "must be valid JSON"}
		}
	}
	obj, ok := v.(map[string]any)
	if !ok {
		return &ArgumentError{Field: "arguments", Reason: "must be an object"}
	}

	for _, name := range schema.Required {
		if val, present := obj[name]; !present || val == nil {
			return &ArgumentError{Field: name, Reason: "is required"}
		}
	}

	keys := make([]string, 0, len(obj))
	for k := range obj {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		prop, known := schema.Properties[k]
		if !known {
			if !schema.AdditionalProperties {
				return &ArgumentError{Field: k, Reason: "is not allowed"}
			}
			continue
		}
		if err := checkValue(k, prop, obj[k]); err != nil {
			return err
		}
	}
	return nil
}

func checkValue(field string, prop mcp.SchemaProperty, v any) error {
	if prop.Type != "" && !matchesType(prop.Type, v) {
		return &ArgumentError{Field: field, Reason: "must be of type " + prop.Type}
	}
	if len(prop.Enum) > 0 && !enumContains(prop.Enum, v) {
		return &ArgumentError{Field: field, Reason: "must be one of " + formatEnum(prop.Enum)}
	}
	if n, ok := v.(json.Number); ok {
		f, err := n.Float64()
		if err != nil {
			return &ArgumentError{Field: field, Reason: "must be a number"}
		}
		if prop.Minimum != nil && f < *prop.Minimum {
			return &ArgumentError{Field: field, Reason: "must be >= " + formatFloat(*prop.Minimum)}
		}
		if prop.Maximum != nil && f > *prop.Maximum {
			return &ArgumentError{Field: field, Reason: "must be <= " + formatFloat(*prop.Maximum)}
		}
	}
	if arr, ok := v.([]any); ok && prop.Items != nil {
		for i, el := range arr {
			if err := checkValue(fmt.Sprintf("%s[%d]", field, i), *prop.Items, el); err != nil {
				return err
			}
		}
	}
	return nil
}

func matchesType(typ string, v any) bool {
	switch typ {
	case "string":
		_, ok := v.(string)
		return ok
	case "number":
		_, ok := v.(json.Number)
		return ok
	case "integer":
		n, ok := v.(json.Number)
		if !ok {
			return false
		}
		if _, err := n.Int64(); err == nil {
			return true
		}
		f, err := n.Float64()
		return err == nil && f == math.Trunc(f)
	case "boolean":
		_, ok := v.(bool)
		return ok
	case "array":
		_, ok := v.([]any)
		return ok
	case "object":
		_, ok := v.(map[string]any)
		return ok
	case "null":
		return v == nil
	default:
		return true
	}
}

func enumContains(enum []any, v any) bool {
	for _, e := range enum {
		switch ev := e.(type) {
		case string:
			if s, ok := v.(string); ok && s == ev {
				return true
			}
		case bool:
			if b, ok := v.(bool); ok && b == ev {
				return true
			}
		case nil:
			if v == nil {
				return true
			}
		default:
			ef, eok := toFloat(e)
			vf, vok := toFloat(v)
			if eok && vok && ef == vf {
				return true
			}
		}
	}
	return false
}

func toFloat(v any) (float64, bool) {
	switch n := v.(type) {
	case json.Number:
		f, err := n.Float64()
		return f, err == nil
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	case int64:
		return float64(n), true
	case int32:
		return float64(n), true
	default:
		return 0, false
	}
}

func formatEnum(enum []any) string {
	b, err := json.Marshal(enum)
	if err != nil {
		return fmt.Sprint(enum)
	}
	return string(b)
}

func formatFloat(f float64) string {
	return strconv.FormatFloat(f, 'f', -1, 64)
}
