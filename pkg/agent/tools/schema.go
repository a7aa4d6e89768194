package tools

import (
	"encoding/json"
	"fmt"
	"math"
	"strconv"
	"strings"

	"github.com/entrhq/loom/pkg/agent/resources"
)

// ParamType is the declared type of a tool parameter.
type ParamType string

const (
	TypeString   ParamType = "string"
	TypeNumber   ParamType = "number"
	TypeInteger  ParamType = "integer"
	TypeBoolean  ParamType = "boolean"
	TypeObject   ParamType = "object"
	TypeArray    ParamType = "array"
	TypeResource ParamType = "resource" // an index into the session's resource set
)

// Param declares one tool parameter.
type Param struct {
	Name        string
	Type        ParamType
	Description string
	Enum        []string
	Required    bool
}

// Schema is the ordered parameter list of a tool.
type Schema struct {
	Params []Param
}

// NewSchema builds a schema from params.
func NewSchema(params ...Param) Schema {
	return Schema{Params: params}
}

// Param returns the named parameter.
func (s Schema) Param(name string) (Param, bool) {
	for _, p := range s.Params {
		if p.Name == name {
			return p, true
		}
	}
	return Param{}, false
}

// JSONSchema renders the schema as a JSON Schema object for provider tool definitions.
func (s Schema) JSONSchema() map[string]interface{} {
	props := make(map[string]interface{}, len(s.Params))
	var required []string
	for _, p := range s.Params {
		prop := map[string]interface{}{}
		switch p.Type {
		case TypeResource:
			prop["type"] = "integer"
		default:
			prop["type"] = string(p.Type)
		}
		desc := p.Description
		if p.Type == TypeResource {
			desc = strings.TrimSpace(desc + " (index of an available resource; the nearest one is used)")
		}
		if desc != "" {
			prop["description"] = desc
		}
		if len(p.Enum) > 0 {
			prop["enum"] = p.Enum
		}
		props[p.Name] = prop
		if p.Required {
			required = append(required, p.Name)
		}
	}

	schema := map[string]interface{}{
		"type":       "object",
		"properties": props,
	}
	if len(required) > 0 {
		schema["required"] = required
	}
	return schema
}

// Value is a validated argument value. The set of implementations is closed.
type Value interface {
	isValue()
}

type (
	StringValue  string
	NumberValue  float64
	IntegerValue int64
	BoolValue    bool
	ObjectValue  map[string]interface{}
	ArrayValue   []interface{}
)

// ResourceValue is a resource parameter. Requested is what the model asked
// for; Resource is filled in by the dispatcher when bound.
type ResourceValue struct {
	Resource  resources.Resource
	Requested int
	Bound     bool
}

func (StringValue) isValue()   {}
func (NumberValue) isValue()   {}
func (IntegerValue) isValue()  {}
func (BoolValue) isValue()     {}
func (ObjectValue) isValue()   {}
func (ArrayValue) isValue()    {}
func (ResourceValue) isValue() {}

// Arguments are the validated arguments passed to Tool.Execute.
type Arguments map[string]Value

// String returns a string argument.
func (a Arguments) String(name string) (string, bool) {
	v, ok := a[name].(StringValue)
	return string(v), ok
}

// Int returns an integer argument.
func (a Arguments) Int(name string) (int64, bool) {
	v, ok := a[name].(IntegerValue)
	return int64(v), ok
}

// Float returns a number argument; integers are widened.
func (a Arguments) Float(name string) (float64, bool) {
	switch v := a[name].(type) {
	case NumberValue:
		return float64(v), true
	case IntegerValue:
		return float64(v), true
	}
	return 0, false
}

// Bool returns a boolean argument.
func (a Arguments) Bool(name string) (bool, bool) {
	v, ok := a[name].(BoolValue)
	return bool(v), ok
}

// Resource returns a bound resource argument.
func (a Arguments) Resource(name string) (resources.Resource, bool) {
	v, ok := a[name].(ResourceValue)
	if !ok || !v.Bound {
		return resources.Resource{}, false
	}
	return v.Resource, true
}

// Normalized renders the arguments as plain values for cache keys and events.
// Bound resources are replaced by their content digest so that identical
// content under different indexes yields the same key.
func (a Arguments) Normalized() map[string]interface{} {
	out := make(map[string]interface{}, len(a))
	for k, v := range a {
		switch x := v.(type) {
		case StringValue:
			out[k] = string(x)
		case NumberValue:
			out[k] = float64(x)
		case IntegerValue:
			out[k] = int64(x)
		case BoolValue:
			out[k] = bool(x)
		case ObjectValue:
			out[k] = map[string]interface{}(x)
		case ArrayValue:
			out[k] = []interface{}(x)
		case ResourceValue:
			if x.Bound {
				out[k] = "sha256:" + x.Resource.Digest()
			} else {
				out[k] = x.Requested
			}
		}
	}
	return out
}

// Coerce validates raw arguments against the schema and converts them to typed values.
// Embedded calls deliver every scalar as a string, so numeric and boolean
// strings are accepted. Unknown arguments are dropped.
func (s Schema) Coerce(raw map[string]interface{}) (Arguments, error) {
	args := make(Arguments, len(s.Params))
	for _, p := range s.Params {
		v, present := raw[p.Name]
		if !present || v == nil || v == "" {
			if p.Required {
				return nil, fmt.Errorf("missing required parameter %q", p.Name)
			}
			continue
		}
		val, err := coerceValue(p, v)
		if err != nil {
			return nil, fmt.Errorf("parameter %q: %w", p.Name, err)
		}
		if len(p.Enum) > 0 {
			if sv, ok := val.(StringValue); ok && !contains(p.Enum, string(sv)) {
				return nil, fmt.Errorf("parameter %q: %q is not one of %v", p.Name, string(sv), p.Enum)
			}
		}
		args[p.Name] = val
	}
	return args, nil
}

func coerceValue(p Param, v interface{}) (Value, error) {
	switch p.Type {
	case TypeString, "":
		switch x := v.(type) {
		case string:
			return StringValue(x), nil
		case float64:
			return StringValue(strconv.FormatFloat(x, 'f', -1, 64)), nil
		case bool:
			return StringValue(strconv.FormatBool(x)), nil
		default:
			b, err := json.Marshal(x)
			if err != nil {
				return nil, err
			}
			return StringValue(b), nil
		}

	case TypeNumber:
		f, err := toFloat(v)
		if err != nil {
			return nil, err
		}
		return NumberValue(f), nil

	case TypeInteger:
		n, err := toInt(v)
		if err != nil {
			return nil, err
		}
		return IntegerValue(n), nil

	case TypeResource:
		n, err := toInt(v)
		if err != nil {
			return nil, fmt.Errorf("resource index: %w", err)
		}
		return ResourceValue{Requested: int(n)}, nil

	case TypeBoolean:
		switch x := v.(type) {
		case bool:
			return BoolValue(x), nil
		case string:
			b, err := strconv.ParseBool(strings.TrimSpace(x))
			if err != nil {
				return nil, fmt.Errorf("expected boolean, got %q", x)
			}
			return BoolValue(b), nil
		}
		return nil, fmt.Errorf("expected boolean, got %T", v)

	case TypeObject:
		switch x := v.(type) {
		case map[string]interface{}:
			return ObjectValue(x), nil
		case string:
			var m map[string]interface{}
			if err := json.Unmarshal([]byte(x), &m); err != nil {
				return nil, fmt.Errorf("expected object: %w", err)
			}
			return ObjectValue(m), nil
		}
		return nil, fmt.Errorf("expected object, got %T", v)

	case TypeArray:
		switch x := v.(type) {
		case []interface{}:
			return ArrayValue(x), nil
		case string:
			var arr []interface{}
			if err := json.Unmarshal([]byte(x), &arr); err != nil {
				return nil, fmt.Errorf("expected array: %w", err)
			}
			return ArrayValue(arr), nil
		case map[string]interface{}:
			// <items><item>a</item></items> with a single child decodes as an object.
			if len(x) == 1 {
				for _, inner := range x {
					if arr, ok := inner.([]interface{}); ok {
						return ArrayValue(arr), nil
					}
					return ArrayValue{inner}, nil
				}
			}
		}
		return nil, fmt.Errorf("expected array, got %T", v)
	}
	return nil, fmt.Errorf("unsupported parameter type %q", p.Type)
}

func toFloat(v interface{}) (float64, error) {
	switch x := v.(type) {
	case float64:
		return x, nil
	case int:
		return float64(x), nil
	case int64:
		return float64(x), nil
	case json.Number:
		return x.Float64()
	case string:
		f, err := strconv.ParseFloat(strings.TrimSpace(x), 64)
		if err != nil {
			return 0, fmt.Errorf("expected number, got %q", x)
		}
		return f, nil
	}
	return 0, fmt.Errorf("expected number, got %T", v)
}

func toInt(v interface{}) (int64, error) {
	f, err := toFloat(v)
	if err != nil {
		return 0, err
	}
	if f != math.Trunc(f) {
		return 0, fmt.Errorf("expected integer, got %v", f)
	}
	return int64(f), nil
}

func contains(list []string, s string) bool {
	for _, x := range list {
		if x == s {
			return true
		}
	}
	return false
}
