package graphql

import (
	"encoding/json"
	"math"
	"regexp"
	"sort"
	"strings"
)

// scalarAny is the scalar used for values whose shape cannot be typed
const scalarAny = "JSON"

var namePattern = regexp.MustCompile(`^[_A-Za-z][_0-9A-Za-z]*$`)

// validName reports whether s can be used as a GraphQL field or type name
func validName(s string) bool {
	return namePattern.MatchString(s) && !strings.HasPrefix(s, "__")
}

// typeDecl is one synthesized object type
type typeDecl struct {
	name   string
	fields []fieldDecl
}

type fieldDecl struct {
	name string
	// args is the parenthesized signature, or ""
	args string
	typ  string
}

func (d typeDecl) render() string {
	var b strings.Builder
	b.WriteString("type ")
	b.WriteString(d.name)
	b.WriteString(" {\n")
	for _, f := range d.fields {
		b.WriteString("  ")
		b.WriteString(f.name)
		b.WriteString(f.args)
		b.WriteString(": ")
		b.WriteString(f.typ)
		b.WriteString("\n")
	}
	b.WriteString("}\n")
	return b.String()
}

// inferrer walks an example value and collects the object types it needs
type inferrer struct {
	decls []typeDecl
}

// typeOf returns the GraphQL type reference for v. Object types are named
// after name; nested objects append their key.
func (in *inferrer) typeOf(name string, v interface{}) string {
	switch val := v.(type) {
	case nil:
		return scalarAny
	case map[string]interface{}:
		return in.object(name, val)
	case map[interface{}]interface{}:
		return in.object(name, stringKeys(val))
	case []interface{}:
		return in.list(name, val)
	case string:
		return "String"
	case bool:
		return "Boolean"
	case json.Number:
		if i, err := val.Int64(); err == nil {
			return intOrFloat(float64(i))
		}
		return "Float"
	case float64:
		return intOrFloat(val)
	case float32:
		return intOrFloat(float64(val))
	case int:
		return intOrFloat(float64(val))
	case int64:
		return intOrFloat(float64(val))
	case int32, int16, int8, uint8, uint16:
		return "Int"
	case uint, uint32, uint64:
		return "Float"
	default:
		return scalarAny
	}
}

func intOrFloat(f float64) string {
	if f == math.Trunc(f) && f >= math.MinInt32 && f <= math.MaxInt32 {
		return "Int"
	}
	return "Float"
}

func (in *inferrer) object(name string, m map[string]interface{}) string {
	keys := make([]string, 0, len(m))
	for k := range m {
		if validName(k) {
			keys = append(keys, k)
		}
	}
	if len(keys) == 0 {
		return scalarAny
	}
	sort.Strings(keys)

	// reserve the slot so parents render before their children
	idx := len(in.decls)
	in.decls = append(in.decls, typeDecl{name: name})
	fields := make([]fieldDecl, 0, len(keys))
	for _, k := range keys {
		fields = append(fields, fieldDecl{name: k, typ: in.typeOf(name+k+"_", m[k])})
	}
	in.decls[idx].fields = fields
	return name
}

func (in *inferrer) list(name string, items []interface{}) string {
	if len(items) == 0 {
		return "[" + scalarAny + "]"
	}

	var (
		objects []interface{}
		lists   []interface{}
		scalars = make(map[string]bool)
	)
	for _, item := range items {
		switch val := item.(type) {
		case nil:
		case map[string]interface{}, map[interface{}]interface{}:
			objects = append(objects, val)
		case []interface{}:
			lists = append(lists, val...)
		default:
			scalars[in.typeOf(name, val)] = true
		}
	}

	kinds := len(scalars)
	if len(objects) > 0 {
		kinds++
	}
	if lists != nil {
		kinds++
	}
	if kinds != 1 {
		// Int and Float mix into Float; anything else is untyped
		if kinds == 2 && len(scalars) == 2 && scalars["Int"] && scalars["Float"] {
			return "[Float]"
		}
		return "[" + scalarAny + "]"
	}

	switch {
	case len(objects) > 0:
		var merged interface{}
		for _, o := range objects {
			merged = deepMerge(merged, o)
		}
		return "[" + in.typeOf(name, merged) + "]"
	case lists != nil:
		return "[" + in.list(name, lists) + "]"
	default:
		for s := range scalars {
			return "[" + s + "]"
		}
	}
	return "[" + scalarAny + "]"
}

func stringKeys(m map[interface{}]interface{}) map[string]interface{} {
	out := make(map[string]interface{}, len(m))
	for k, v := range m {
		if s, ok := k.(string); ok {
			out[s] = v
		}
	}
	return out
}

// deepMerge folds b into a. Objects merge key by key, arrays are
// concatenated and scalars from b overwrite a. Inputs are not modified.
func deepMerge(a, b interface{}) interface{} {
	if b == nil {
		return a
	}
	if a == nil {
		return b
	}
	switch bv := b.(type) {
	case map[interface{}]interface{}:
		return deepMerge(a, stringKeys(bv))
	case map[string]interface{}:
		av, ok := a.(map[string]interface{})
		if !ok {
			if yv, isYAML := a.(map[interface{}]interface{}); isYAML {
				av, ok = stringKeys(yv), true
			}
		}
		if !ok {
			return b
		}
		out := make(map[string]interface{}, len(av)+len(bv))
		for k, v := range av {
			out[k] = v
		}
		for k, v := range bv {
			out[k] = deepMerge(out[k], v)
		}
		return out
	case []interface{}:
		av, ok := a.([]interface{})
		if !ok {
			return b
		}
		out := make([]interface{}, 0, len(av)+len(bv))
		out = append(out, av...)
		return append(out, bv...)
	default:
		return b
	}
}
