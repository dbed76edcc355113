package graphql

import (
	"strings"

	"github.com/funnyzak/mocktap/pkg/routes"
)

var builtinScalars = map[string]bool{
	"Int":     true,
	"Float":   true,
	"String":  true,
	"Boolean": true,
	"ID":      true,
	scalarAny: true,
}

// TypeName is the deterministic name of the type returned by field under
// root and schemaPath, e.g. Query_admin_findUser_.
func TypeName(root routes.OperationType, schemaPath, field string) string {
	parts := []string{string(root)}
	parts = append(parts, splitSchemaPath(schemaPath)...)
	parts = append(parts, field)
	return strings.Join(parts, "_") + "_"
}

// wrapperName names the namespace type of the first depth schemaPath segments
func wrapperName(root routes.OperationType, segments []string) string {
	return string(root) + "_" + strings.Join(segments, "_") + "_"
}

// SynthesizeResponse infers the type fragment for one GraphQL response.
// name may carry an argument signature, which does not affect the result.
// The output only depends on its inputs, so unchanged examples always give
// byte-identical fragments.
func SynthesizeResponse(root routes.OperationType, schemaPath, name string, example interface{}) (schema, typeName string) {
	field := routes.GraphQLRoute{Name: name}.FieldName()
	in := &inferrer{}
	typeName = in.typeOf(TypeName(root, schemaPath, field), example)

	parts := make([]string, 0, len(in.decls))
	for _, d := range in.decls {
		parts = append(parts, d.render())
	}
	return strings.Join(parts, "\n"), typeName
}

// ValidTypeName reports whether a hand-edited schemaTypeName still names a
// type inference could produce for the field: the field's own type, a list
// of it, or a builtin scalar.
func ValidTypeName(root routes.OperationType, schemaPath, name, typeName string) bool {
	base := strings.NewReplacer("[", "", "]", "", "!", "").Replace(strings.TrimSpace(typeName))
	if base == "" {
		return false
	}
	if builtinScalars[base] {
		return true
	}
	field := routes.GraphQLRoute{Name: name}.FieldName()
	return base == TypeName(root, schemaPath, field)
}

// Example merges the example payloads of a route's responses into one
// representative value. The active response is applied last so its
// scalars win.
func Example(route routes.GraphQLRoute) interface{} {
	var merged interface{}
	for _, resp := range route.Responses {
		if resp.ID == route.ActiveResponseID {
			continue
		}
		merged = deepMerge(merged, resp.BodyData)
	}
	if active := route.ActiveResponse(); active != nil {
		merged = deepMerge(merged, active.BodyData)
	}
	return merged
}

// Refresh regenerates the stored fragment of every response of the route
// from its own example. Responses without example data keep their fragment.
func Refresh(group routes.RouteGroup, route routes.GraphQLRoute) routes.GraphQLRoute {
	out := route
	out.Responses = make([]routes.GraphQLResponse, len(route.Responses))
	copy(out.Responses, route.Responses)
	for i := range out.Responses {
		if out.Responses[i].BodyData == nil {
			continue
		}
		out.Responses[i].Schema, out.Responses[i].SchemaTypeName = SynthesizeResponse(
			route.Operation(group), group.SchemaPath, route.Name, out.Responses[i].BodyData)
	}
	return out
}

func splitSchemaPath(schemaPath string) []string {
	return routes.RouteGroup{SchemaPath: schemaPath}.SchemaPathSegments()
}
