package persistent

import (
	"context"
	"encoding/json"
	"fmt"
	"math"
	"reflect"
)

// FileExt is the extension of every store file.
const FileExt = ".json"

// Props is the property mapping of a store. Values are JSON-normalised:
// nil, bool, float64, string, []any or map[string]any.
type Props map[string]any

// Kind is the declared type of a store key.
type Kind int

const (
	KindAny Kind = iota
	KindString
	KindInt
	KindFloat
	KindBool
	KindList
	KindObject
)

func (k Kind) String() string {
	switch k {
	case KindString:
		return "string"
	case KindInt:
		return "int"
	case KindFloat:
		return "float"
	case KindBool:
		return "bool"
	case KindList:
		return "list"
	case KindObject:
		return "object"
	default:
		return "any"
	}
}

// Key declares one property of a store.
type Key struct {
	Name    string
	Kind    Kind
	Default any
}

// Descriptor is the schema of a store: its name, its keys and an optional
// function computing defaults at startup. Values returned by Defaults overlay
// the per-key defaults.
type Descriptor struct {
	Name     string
	Keys     []Key
	Defaults func(ctx context.Context) (Props, error)
}

func (d Descriptor) key(name string) (Key, bool) {
	for _, k := range d.Keys {
		if k.Name == name {
			return k, true
		}
	}
	return Key{}, false
}

// defaultProps returns the normalised defaults of the descriptor.
func (d Descriptor) defaultProps(ctx context.Context) (Props, error) {
	props := make(Props, len(d.Keys))
	for _, k := range d.Keys {
		v, err := normalize(k.Default)
		if err != nil {
			return nil, fmt.Errorf("default for %s.%s: %w", d.Name, k.Name, err)
		}
		props[k.Name] = v
	}
	if d.Defaults == nil {
		return props, nil
	}
	computed, err := d.Defaults(ctx)
	if err != nil {
		return nil, fmt.Errorf("computing defaults for %s: %w", d.Name, err)
	}
	for name, v := range computed {
		nv, err := normalize(v)
		if err != nil {
			return nil, fmt.Errorf("default for %s.%s: %w", d.Name, name, err)
		}
		props[name] = nv
	}
	return props, nil
}

// check validates a normalised value against the declared key.
func (d Descriptor) check(name string, v any) error {
	k, ok := d.key(name)
	if !ok {
		return fmt.Errorf("%w: %s.%s", ErrUnknownKey, d.Name, name)
	}
	if v == nil {
		return nil
	}
	valid := true
	switch k.Kind {
	case KindString:
		_, valid = v.(string)
	case KindInt:
		f, isNum := v.(float64)
		valid = isNum && f == math.Trunc(f)
	case KindFloat:
		_, valid = v.(float64)
	case KindBool:
		_, valid = v.(bool)
	case KindList:
		_, valid = v.([]any)
	case KindObject:
		_, valid = v.(map[string]any)
	}
	if !valid {
		return fmt.Errorf("%w: %s.%s expects %s, got %T", ErrInvalidValue, d.Name, name, k.Kind, v)
	}
	return nil
}

// normalize round-trips v through JSON so the result compares structurally
// with values read from disk and shares no memory with the caller.
func normalize(v any) (any, error) {
	b, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	return decodeValue(b)
}

func decodeValue(raw []byte) (any, error) {
	var out any
	if err := json.Unmarshal(raw, &out); err != nil {
		return nil, err
	}
	return out, nil
}

func equal(a, b any) bool {
	return reflect.DeepEqual(a, b)
}

// clone returns a deep copy of props.
func (p Props) clone() Props {
	out := make(Props, len(p))
	for k, v := range p {
		out[k] = cloneValue(v)
	}
	return out
}

func cloneValue(v any) any {
	switch t := v.(type) {
	case map[string]any:
		m := make(map[string]any, len(t))
		for k, e := range t {
			m[k] = cloneValue(e)
		}
		return m
	case []any:
		s := make([]any, len(t))
		for i, e := range t {
			s[i] = cloneValue(e)
		}
		return s
	default:
		return v
	}
}
