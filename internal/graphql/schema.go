package graphql

import (
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/funnyzak/mocktap/pkg/routes"
	"github.com/vektah/gqlparser/v2"
	"github.com/vektah/gqlparser/v2/ast"
)

// ErrUnserviceable marks a GraphQL mount whose schema could not be built
var ErrUnserviceable = errors.New("graphql mount unserviceable")

// Mount is the compiled schema of every GraphQL group sharing one path
type Mount struct {
	Path     string
	Groups   []routes.RouteGroup
	Document string

	schema     *ast.Schema
	bindings   map[string]*binding
	namespaces map[string]bool
	err        error
}

// binding ties a schema field to the route answering it
type binding struct {
	group routes.RouteGroup
	route routes.GraphQLRoute
}

// Err returns the compile error that makes the mount unserviceable
func (m *Mount) Err() error {
	return m.err
}

// Schema returns the parsed schema, nil when the mount failed
func (m *Mount) Schema() *ast.Schema {
	return m.schema
}

// Build partitions GraphQL groups by path and compiles one mount per path.
// Mounts are returned in the order their path first appears.
func Build(groups []routes.RouteGroup) []*Mount {
	var (
		mounts []*Mount
		byPath = make(map[string]*Mount)
	)
	for _, g := range groups {
		if g.Kind != routes.KindGraphQL {
			continue
		}
		p := routes.NormalizePath(g.Path)
		m, ok := byPath[p]
		if !ok {
			m = &Mount{Path: p}
			byPath[p] = m
			mounts = append(mounts, m)
		}
		m.Groups = append(m.Groups, g)
	}
	for _, m := range mounts {
		m.compile()
	}
	return mounts
}

// node is one object type of the root/namespace tree
type node struct {
	typeName string
	fields   map[string]fieldDecl
}

func (n *node) add(f fieldDecl) error {
	if existing, ok := n.fields[f.name]; ok {
		if existing == f {
			return nil
		}
		return fmt.Errorf("field %s.%s declared twice", n.typeName, f.name)
	}
	n.fields[f.name] = f
	return nil
}

func (n *node) render() string {
	names := make([]string, 0, len(n.fields))
	for name := range n.fields {
		names = append(names, name)
	}
	sort.Strings(names)
	d := typeDecl{name: n.typeName}
	for _, name := range names {
		d.fields = append(d.fields, n.fields[name])
	}
	return d.render()
}

func (m *Mount) compile() {
	var (
		nodes     = make(map[string]*node)
		order     []string
		fragments []string
		seen      = make(map[string]bool)
	)
	m.bindings = make(map[string]*binding)
	m.namespaces = make(map[string]bool)

	getNode := func(typeName string) *node {
		n, ok := nodes[typeName]
		if !ok {
			n = &node{typeName: typeName, fields: make(map[string]fieldDecl)}
			nodes[typeName] = n
			order = append(order, typeName)
		}
		return n
	}
	getNode(string(routes.OperationQuery))

	fail := func(err error) {
		m.err = fmt.Errorf("%w: %s: %v", ErrUnserviceable, m.Path, err)
	}

	for _, g := range m.Groups {
		segments := g.SchemaPathSegments()
		for _, seg := range segments {
			if !validName(seg) {
				fail(fmt.Errorf("group %s: invalid schemaPath segment %q", g.ID, seg))
				return
			}
		}
		for _, route := range g.GraphQLRoutes {
			root := route.Operation(g)
			if root != routes.OperationQuery && root != routes.OperationMutation {
				fail(fmt.Errorf("route %s: unknown operation type %q", route.ID, root))
				return
			}
			field := route.FieldName()
			if !validName(field) {
				fail(fmt.Errorf("route %s: invalid field name %q", route.ID, route.Name))
				return
			}

			parent := getNode(string(root))
			for i, seg := range segments {
				child := getNode(wrapperName(root, segments[:i+1]))
				m.namespaces[child.typeName] = true
				if err := parent.add(fieldDecl{name: seg, typ: child.typeName}); err != nil {
					fail(err)
					return
				}
				parent = child
			}

			fragment, typeName := responseFragment(g, route)
			if err := parent.add(fieldDecl{name: field, args: route.Signature(), typ: typeName}); err != nil {
				fail(err)
				return
			}
			if fragment != "" && !seen[fragment] {
				seen[fragment] = true
				fragments = append(fragments, fragment)
			}
			m.bindings[parent.typeName+"."+field] = &binding{group: g, route: route}
		}
	}

	query := nodes[string(routes.OperationQuery)]
	if len(query.fields) == 0 {
		// a schema needs at least one query field
		query.fields["_empty"] = fieldDecl{name: "_empty", typ: "Boolean"}
	}

	var b strings.Builder
	b.WriteString("scalar " + scalarAny + "\n")
	for _, name := range order {
		b.WriteString("\n")
		b.WriteString(nodes[name].render())
	}
	for _, f := range fragments {
		b.WriteString("\n")
		b.WriteString(f)
	}
	m.Document = b.String()

	schema, err := gqlparser.LoadSchema(&ast.Source{Name: m.Path, Input: m.Document})
	if err != nil {
		fail(err)
		return
	}
	m.schema = schema
}

// responseFragment returns the stored fragment of the active response when
// one was saved, otherwise infers it from the route's examples.
func responseFragment(g routes.RouteGroup, route routes.GraphQLRoute) (string, string) {
	if active := route.ActiveResponse(); active != nil {
		typeName := strings.TrimSpace(active.SchemaTypeName)
		schema := strings.TrimSpace(active.Schema)
		if typeName != "" && (schema != "" || builtinScalars[strings.Trim(typeName, "[]!")]) {
			if schema != "" {
				schema += "\n"
			}
			return schema, typeName
		}
	}
	return SynthesizeResponse(route.Operation(g), g.SchemaPath, route.Name, Example(route))
}
