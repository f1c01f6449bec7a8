package strategy

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"
)

// ParamValue is either a literal or a reference into the run context,
// decided when the strategy is authored. Documents write a reference as
// {"ref": "a.b"} and a literal as {"literal": v} or as a bare value.
type ParamValue struct {
	literal interface{}
	ref     string
	isRef   bool
}

// Literal returns a literal parameter value
func Literal(v interface{}) ParamValue {
	return ParamValue{literal: v}
}

// Ref returns a context reference to a dotted path
func Ref(path string) ParamValue {
	return ParamValue{ref: path, isRef: true}
}

// IsRef reports whether the value is a context reference
func (p ParamValue) IsRef() bool {
	return p.isRef
}

// Path returns the referenced path
func (p ParamValue) Path() string {
	return p.ref
}

// Value returns the literal value
func (p ParamValue) Value() interface{} {
	return p.literal
}

func (p ParamValue) String() string {
	if p.isRef {
		return "ref(" + p.ref + ")"
	}
	return fmt.Sprintf("%v", p.literal)
}

// MarshalJSON implements json.Marshaler
func (p ParamValue) MarshalJSON() ([]byte, error) {
	if p.isRef {
		return json.Marshal(map[string]string{"ref": p.ref})
	}
	if isTagged(p.literal) {
		return json.Marshal(map[string]interface{}{"literal": p.literal})
	}
	return json.Marshal(p.literal)
}

// UnmarshalJSON implements json.Unmarshaler
func (p *ParamValue) UnmarshalJSON(data []byte) error {
	var raw interface{}
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	return p.fromRaw(raw)
}

// MarshalYAML implements yaml.Marshaler
func (p ParamValue) MarshalYAML() (interface{}, error) {
	if p.isRef {
		return map[string]string{"ref": p.ref}, nil
	}
	if isTagged(p.literal) {
		return map[string]interface{}{"literal": p.literal}, nil
	}
	return p.literal, nil
}

// UnmarshalYAML implements yaml.Unmarshaler
func (p *ParamValue) UnmarshalYAML(node *yaml.Node) error {
	var raw interface{}
	if err := node.Decode(&raw); err != nil {
		return err
	}
	return p.fromRaw(raw)
}

func (p *ParamValue) fromRaw(raw interface{}) error {
	m, ok := raw.(map[string]interface{})
	if !ok || len(m) != 1 {
		*p = Literal(raw)
		return nil
	}
	if ref, ok := m["ref"]; ok {
		path, ok := ref.(string)
		if !ok || strings.TrimSpace(path) == "" {
			return fmt.Errorf("parameter reference must be a non-empty string")
		}
		*p = Ref(path)
		return nil
	}
	if lit, ok := m["literal"]; ok {
		*p = Literal(lit)
		return nil
	}
	*p = Literal(raw)
	return nil
}

// isTagged reports whether a bare literal would be read back as a tag
func isTagged(v interface{}) bool {
	m, ok := v.(map[string]interface{})
	if !ok || len(m) != 1 {
		return false
	}
	_, ref := m["ref"]
	_, lit := m["literal"]
	return ref || lit
}

// resolvePath walks a dotted path through nested maps and lists
func resolvePath(env map[string]interface{}, path string) (interface{}, bool) {
	var cur interface{} = env
	for _, part := range strings.Split(path, ".") {
		switch node := cur.(type) {
		case map[string]interface{}:
			v, ok := node[part]
			if !ok {
				return nil, false
			}
			cur = v
		case []interface{}:
			i, err := strconv.Atoi(part)
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

// bindParams substitutes context references with values from env
func bindParams(params map[string]ParamValue, env map[string]interface{}) (map[string]interface{}, error) {
	out := make(map[string]interface{}, len(params))
	for name, p := range params {
		if !p.IsRef() {
			out[name] = p.Value()
			continue
		}
		v, ok := resolvePath(env, p.Path())
		if !ok {
			return nil, fmt.Errorf("%w: %s (parameter %s)", ErrUnresolvedReference, p.Path(), name)
		}
		out[name] = v
	}
	return out, nil
}
