package graphql

import (
	"context"
	"fmt"
	"sort"
	"strconv"
	"strings"

	"github.com/vektah/gqlparser/v2"
	"github.com/vektah/gqlparser/v2/ast"
)

// Request is an incoming GraphQL operation
type Request struct {
	Query         string                 `json:"query"`
	OperationName string                 `json:"operationName,omitempty"`
	Variables     map[string]interface{} `json:"variables,omitempty"`
}

// Response is the GraphQL reply body
type Response struct {
	Data   interface{} `json:"data"`
	Errors []Error     `json:"errors,omitempty"`
}

// Error is one entry of the errors list
type Error struct {
	Message string        `json:"message"`
	Path    []interface{} `json:"path,omitempty"`
}

// FieldCall is handed to the resolver of a bound field
type FieldCall struct {
	Field     *ast.Field
	Args      map[string]interface{}
	Path      []interface{}
	Operation ast.Operation
	Parent    string

	binding *binding
}

// resolveFunc produces the value of a bound field
type resolveFunc func(ctx context.Context, call FieldCall) (interface{}, error)

// parse loads and validates the query against the mount schema
func (m *Mount) parse(req *Request) (*ast.QueryDocument, *ast.OperationDefinition, []Error) {
	if strings.TrimSpace(req.Query) == "" {
		return nil, nil, []Error{{Message: "query is required"}}
	}
	doc, errs := gqlparser.LoadQuery(m.schema, req.Query)
	if len(errs) > 0 {
		out := make([]Error, 0, len(errs))
		for _, e := range errs {
			out = append(out, Error{Message: e.Message})
		}
		return nil, nil, out
	}

	var op *ast.OperationDefinition
	if req.OperationName == "" {
		if len(doc.Operations) == 1 {
			op = doc.Operations[0]
		} else if len(doc.Operations) > 1 {
			return nil, nil, []Error{{Message: "operationName is required for documents with several operations"}}
		}
	} else {
		op = doc.Operations.ForName(req.OperationName)
	}
	if op == nil {
		return nil, nil, []Error{{Message: fmt.Sprintf("operation %q not found", req.OperationName)}}
	}
	if op.Operation == ast.Subscription {
		return nil, nil, []Error{{Message: "subscriptions are not supported"}}
	}
	return doc, op, nil
}

// execution is the state of one operation run
type execution struct {
	mount   *Mount
	doc     *ast.QueryDocument
	op      *ast.OperationDefinition
	vars    map[string]interface{}
	resolve resolveFunc
	errors  []Error
}

func (m *Mount) rootType(op *ast.OperationDefinition) *ast.Definition {
	if op.Operation == ast.Mutation {
		return m.schema.Mutation
	}
	return m.schema.Query
}

// boundFields lists the bindings the operation selects, wrappers included
func (m *Mount) boundFields(doc *ast.QueryDocument, op *ast.OperationDefinition, vars map[string]interface{}) []*binding {
	var out []*binding
	var walk func(def *ast.Definition, set ast.SelectionSet)
	walk = func(def *ast.Definition, set ast.SelectionSet) {
		if def == nil {
			return
		}
		for _, group := range collectFields(doc, def.Name, set, vars) {
			f := group.fields[0]
			if b, ok := m.bindings[def.Name+"."+f.Name]; ok {
				out = append(out, b)
				continue
			}
			if fd := def.Fields.ForName(f.Name); fd != nil && m.isNamespace(fd.Type) {
				walk(m.schema.Types[fd.Type.NamedType], mergedSelections(group.fields))
			}
		}
	}
	walk(m.rootType(op), op.SelectionSet)
	return out
}

// isNamespace reports whether t is a schemaPath wrapper type
func (m *Mount) isNamespace(t *ast.Type) bool {
	return t != nil && t.Elem == nil && m.namespaces[t.NamedType]
}

func (ex *execution) run(ctx context.Context) interface{} {
	root := ex.mount.rootType(ex.op)
	if root == nil {
		ex.errors = append(ex.errors, Error{Message: fmt.Sprintf("schema has no %s type", ex.op.Operation)})
		return nil
	}
	return ex.namespace(ctx, root, ex.op.SelectionSet, nil)
}

// namespace executes a selection on the root type or a schemaPath wrapper
func (ex *execution) namespace(ctx context.Context, def *ast.Definition, set ast.SelectionSet, path []interface{}) map[string]interface{} {
	result := make(map[string]interface{})
	for _, group := range collectFields(ex.doc, def.Name, set, ex.vars) {
		f := group.fields[0]
		fieldPath := appendPath(path, group.key)

		switch f.Name {
		case "__typename":
			result[group.key] = def.Name
			continue
		case "__schema":
			result[group.key] = ex.schemaInfo(mergedSelections(group.fields))
			continue
		case "__type":
			name, _ := argValue(f, "name", ex.vars).(string)
			if t := ex.mount.schema.Types[name]; t != nil {
				result[group.key] = ex.typeInfo(t, mergedSelections(group.fields))
			} else {
				result[group.key] = nil
			}
			continue
		}

		fd := def.Fields.ForName(f.Name)
		if fd == nil {
			continue
		}
		if b, ok := ex.mount.bindings[def.Name+"."+f.Name]; ok {
			value, err := ex.resolve(ctx, FieldCall{
				Field:     f,
				Args:      arguments(f, ex.vars),
				Path:      fieldPath,
				Operation: ex.op.Operation,
				Parent:    def.Name,
				binding:   b,
			})
			if err != nil {
				ex.errors = append(ex.errors, Error{Message: err.Error(), Path: fieldPath})
				result[group.key] = nil
				continue
			}
			result[group.key] = ex.complete(fd.Type, value, mergedSelections(group.fields), fieldPath)
			continue
		}
		if ex.mount.isNamespace(fd.Type) {
			result[group.key] = ex.namespace(ctx, ex.mount.schema.Types[fd.Type.NamedType], mergedSelections(group.fields), fieldPath)
			continue
		}
		result[group.key] = nil
	}
	return result
}

// complete shapes a resolved value to the selection
func (ex *execution) complete(t *ast.Type, value interface{}, set ast.SelectionSet, path []interface{}) interface{} {
	if value == nil || t == nil {
		return nil
	}
	if t.Elem != nil {
		items, ok := value.([]interface{})
		if !ok {
			items = []interface{}{value}
		}
		out := make([]interface{}, len(items))
		for i, item := range items {
			out[i] = ex.complete(t.Elem, item, set, appendPath(path, i))
		}
		return out
	}

	def := ex.mount.schema.Types[t.NamedType]
	if def == nil || def.Kind != ast.Object || len(set) == 0 {
		return coerceScalar(t.NamedType, value)
	}
	obj := asObject(value)
	if obj == nil {
		ex.errors = append(ex.errors, Error{Message: fmt.Sprintf("expected an object for %s", def.Name), Path: path})
		return nil
	}

	result := make(map[string]interface{})
	for _, group := range collectFields(ex.doc, def.Name, set, ex.vars) {
		f := group.fields[0]
		if f.Name == "__typename" {
			result[group.key] = def.Name
			continue
		}
		fd := def.Fields.ForName(f.Name)
		if fd == nil {
			continue
		}
		result[group.key] = ex.complete(fd.Type, obj[f.Name], mergedSelections(group.fields), appendPath(path, group.key))
	}
	return result
}

func coerceScalar(typeName string, value interface{}) interface{} {
	switch typeName {
	case "Int":
		switch n := value.(type) {
		case float64:
			if n == float64(int64(n)) {
				return int64(n)
			}
		case string:
			if i, err := strconv.ParseInt(n, 10, 64); err == nil {
				return i
			}
		}
	case "String", "ID":
		switch value.(type) {
		case map[string]interface{}, []interface{}:
			return value
		case string:
			return value
		default:
			return fmt.Sprint(value)
		}
	}
	return value
}

func asObject(value interface{}) map[string]interface{} {
	switch v := value.(type) {
	case map[string]interface{}:
		return v
	case map[interface{}]interface{}:
		return stringKeys(v)
	}
	return nil
}

// fieldGroup is every field sharing one response key
type fieldGroup struct {
	key    string
	fields []*ast.Field
}

// collectFields flattens fragments that apply to typeName, honours
// @skip/@include and groups fields by response key in query order.
func collectFields(doc *ast.QueryDocument, typeName string, set ast.SelectionSet, vars map[string]interface{}) []*fieldGroup {
	var (
		groups []*fieldGroup
		byKey  = make(map[string]*fieldGroup)
	)
	var visit func(set ast.SelectionSet)
	visit = func(set ast.SelectionSet) {
		for _, sel := range set {
			switch s := sel.(type) {
			case *ast.Field:
				if !included(s.Directives, vars) {
					continue
				}
				key := s.Alias
				if key == "" {
					key = s.Name
				}
				g, ok := byKey[key]
				if !ok {
					g = &fieldGroup{key: key}
					byKey[key] = g
					groups = append(groups, g)
				}
				g.fields = append(g.fields, s)
			case *ast.InlineFragment:
				if !included(s.Directives, vars) {
					continue
				}
				if s.TypeCondition == "" || s.TypeCondition == typeName {
					visit(s.SelectionSet)
				}
			case *ast.FragmentSpread:
				if !included(s.Directives, vars) || doc == nil {
					continue
				}
				frag := doc.Fragments.ForName(s.Name)
				if frag != nil && (frag.TypeCondition == "" || frag.TypeCondition == typeName) {
					visit(frag.SelectionSet)
				}
			}
		}
	}
	visit(set)
	return groups
}

func mergedSelections(fields []*ast.Field) ast.SelectionSet {
	if len(fields) == 1 {
		return fields[0].SelectionSet
	}
	var set ast.SelectionSet
	for _, f := range fields {
		set = append(set, f.SelectionSet...)
	}
	return set
}

func included(directives ast.DirectiveList, vars map[string]interface{}) bool {
	for _, d := range directives {
		arg := d.Arguments.ForName("if")
		if arg == nil {
			continue
		}
		cond, _ := value(arg.Value, vars).(bool)
		switch d.Name {
		case "skip":
			if cond {
				return false
			}
		case "include":
			if !cond {
				return false
			}
		}
	}
	return true
}

func arguments(f *ast.Field, vars map[string]interface{}) map[string]interface{} {
	args := make(map[string]interface{}, len(f.Arguments))
	for _, arg := range f.Arguments {
		args[arg.Name] = value(arg.Value, vars)
	}
	return args
}

func argValue(f *ast.Field, name string, vars map[string]interface{}) interface{} {
	if arg := f.Arguments.ForName(name); arg != nil {
		return value(arg.Value, vars)
	}
	return nil
}

// value converts a literal or variable reference to a Go value
func value(v *ast.Value, vars map[string]interface{}) interface{} {
	if v == nil {
		return nil
	}
	switch v.Kind {
	case ast.Variable:
		return vars[v.Raw]
	case ast.IntValue:
		n, err := strconv.ParseInt(v.Raw, 10, 64)
		if err != nil {
			return v.Raw
		}
		return n
	case ast.FloatValue:
		f, err := strconv.ParseFloat(v.Raw, 64)
		if err != nil {
			return v.Raw
		}
		return f
	case ast.BooleanValue:
		return v.Raw == "true"
	case ast.NullValue:
		return nil
	case ast.ListValue:
		list := make([]interface{}, 0, len(v.Children))
		for _, child := range v.Children {
			list = append(list, value(child.Value, vars))
		}
		return list
	case ast.ObjectValue:
		obj := make(map[string]interface{}, len(v.Children))
		for _, child := range v.Children {
			obj[child.Name] = value(child.Value, vars)
		}
		return obj
	default:
		return v.Raw
	}
}

func appendPath(path []interface{}, elem interface{}) []interface{} {
	out := make([]interface{}, len(path), len(path)+1)
	copy(out, path)
	return append(out, elem)
}

// schemaInfo answers __schema for the subset tooling asks for
func (ex *execution) schemaInfo(set ast.SelectionSet) map[string]interface{} {
	s := ex.mount.schema
	out := make(map[string]interface{})
	for _, group := range collectFields(ex.doc, "__Schema", set, ex.vars) {
		f := group.fields[0]
		sub := mergedSelections(group.fields)
		switch f.Name {
		case "__typename":
			out[group.key] = "__Schema"
		case "queryType":
			out[group.key] = ex.typeInfo(s.Query, sub)
		case "mutationType":
			if s.Mutation != nil {
				out[group.key] = ex.typeInfo(s.Mutation, sub)
			} else {
				out[group.key] = nil
			}
		case "subscriptionType":
			out[group.key] = nil
		case "types":
			names := make([]string, 0, len(s.Types))
			for name := range s.Types {
				names = append(names, name)
			}
			sort.Strings(names)
			types := make([]interface{}, 0, len(names))
			for _, name := range names {
				types = append(types, ex.typeInfo(s.Types[name], sub))
			}
			out[group.key] = types
		case "directives":
			out[group.key] = []interface{}{}
		}
	}
	return out
}

func (ex *execution) typeInfo(def *ast.Definition, set ast.SelectionSet) map[string]interface{} {
	if def == nil {
		return nil
	}
	out := make(map[string]interface{})
	for _, group := range collectFields(ex.doc, "__Type", set, ex.vars) {
		f := group.fields[0]
		sub := mergedSelections(group.fields)
		switch f.Name {
		case "__typename":
			out[group.key] = "__Type"
		case "name":
			out[group.key] = def.Name
		case "kind":
			out[group.key] = string(def.Kind)
		case "description":
			out[group.key] = nullable(def.Description)
		case "fields":
			if def.Kind != ast.Object {
				out[group.key] = nil
				continue
			}
			fields := make([]interface{}, 0, len(def.Fields))
			for _, fd := range def.Fields {
				if strings.HasPrefix(fd.Name, "__") {
					continue
				}
				fields = append(fields, ex.fieldInfo(fd, sub))
			}
			out[group.key] = fields
		case "interfaces", "possibleTypes", "enumValues", "inputFields", "ofType", "specifiedByURL":
			out[group.key] = nil
		}
	}
	return out
}

func (ex *execution) fieldInfo(fd *ast.FieldDefinition, set ast.SelectionSet) map[string]interface{} {
	out := make(map[string]interface{})
	for _, group := range collectFields(ex.doc, "__Field", set, ex.vars) {
		f := group.fields[0]
		sub := mergedSelections(group.fields)
		switch f.Name {
		case "__typename":
			out[group.key] = "__Field"
		case "name":
			out[group.key] = fd.Name
		case "description":
			out[group.key] = nullable(fd.Description)
		case "type":
			out[group.key] = ex.typeRef(fd.Type, sub)
		case "args":
			args := make([]interface{}, 0, len(fd.Arguments))
			for _, a := range fd.Arguments {
				arg := make(map[string]interface{})
				for _, ag := range collectFields(ex.doc, "__InputValue", sub, ex.vars) {
					switch ag.fields[0].Name {
					case "name":
						arg[ag.key] = a.Name
					case "type":
						arg[ag.key] = ex.typeRef(a.Type, mergedSelections(ag.fields))
					case "description", "defaultValue":
						arg[ag.key] = nil
					}
				}
				args = append(args, arg)
			}
			out[group.key] = args
		case "isDeprecated":
			out[group.key] = false
		case "deprecationReason":
			out[group.key] = nil
		}
	}
	return out
}

func (ex *execution) typeRef(t *ast.Type, set ast.SelectionSet) map[string]interface{} {
	if t == nil {
		return nil
	}
	out := make(map[string]interface{})
	for _, group := range collectFields(ex.doc, "__Type", set, ex.vars) {
		sub := mergedSelections(group.fields)
		switch group.fields[0].Name {
		case "kind":
			switch {
			case t.NonNull:
				out[group.key] = "NON_NULL"
			case t.Elem != nil:
				out[group.key] = "LIST"
			default:
				if def := ex.mount.schema.Types[t.NamedType]; def != nil {
					out[group.key] = string(def.Kind)
				} else {
					out[group.key] = "SCALAR"
				}
			}
		case "name":
			if t.NonNull || t.Elem != nil {
				out[group.key] = nil
			} else {
				out[group.key] = t.NamedType
			}
		case "ofType":
			switch {
			case t.NonNull:
				inner := *t
				inner.NonNull = false
				out[group.key] = ex.typeRef(&inner, sub)
			case t.Elem != nil:
				out[group.key] = ex.typeRef(t.Elem, sub)
			default:
				out[group.key] = nil
			}
		}
	}
	return out
}

func nullable(s string) interface{} {
	if s == "" {
		return nil
	}
	return s
}
