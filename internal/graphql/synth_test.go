package graphql

import (
	"encoding/json"
	"testing"

	"github.com/funnyzak/mocktap/pkg/routes"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func decode(t *testing.T, s string) interface{} {
	t.Helper()
	var v interface{}
	require.NoError(t, json.Unmarshal([]byte(s), &v))
	return v
}

func TestSynthesizeResponseIsIdempotent(t *testing.T) {
	example := decode(t, `{"id":1,"name":"Ada","tags":["a"],"address":{"city":"Paris","zip":75001},"score":9.5,"friends":[{"id":2},{"name":"Bob"}],"meta":null}`)

	schema1, type1 := SynthesizeResponse(routes.OperationQuery, "admin", "findUser(id: ID!)", example)
	schema2, type2 := SynthesizeResponse(routes.OperationQuery, "admin", "findUser(id: ID!)", decode(t, `{"meta":null,"friends":[{"id":2},{"name":"Bob"}],"score":9.5,"address":{"zip":75001,"city":"Paris"},"tags":["a"],"name":"Ada","id":1}`))

	assert.Equal(t, schema1, schema2)
	assert.Equal(t, type1, type2)
	assert.Equal(t, "Query_admin_findUser_", type1)

	want := `type Query_admin_findUser_ {
  address: Query_admin_findUser_address_
  friends: [Query_admin_findUser_friends_]
  id: Int
  meta: JSON
  name: String
  score: Float
  tags: [String]
}

type Query_admin_findUser_address_ {
  city: String
  zip: Int
}

type Query_admin_findUser_friends_ {
  id: Int
  name: String
}
`
	assert.Equal(t, want, schema1)
}

func TestSynthesizeScalarsAndLists(t *testing.T) {
	tests := []struct {
		name     string
		example  string
		wantType string
	}{
		{"string", `"hello"`, "String"},
		{"bool", `true`, "Boolean"},
		{"int", `42`, "Int"},
		{"big number", `3000000000`, "Float"},
		{"null", `null`, "JSON"},
		{"empty object", `{}`, "JSON"},
		{"empty list", `[]`, "[JSON]"},
		{"mixed numbers", `[1, 2.5]`, "[Float]"},
		{"mixed kinds", `[1, "a"]`, "[JSON]"},
		{"nested lists", `[[1], [2, 3]]`, "[[Int]]"},
		{"object list", `[{"a":1}]`, "[Mutation_save_]"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, typeName := SynthesizeResponse(routes.OperationMutation, "", "save", decode(t, tt.example))
			assert.Equal(t, tt.wantType, typeName)
		})
	}
}

func TestSynthesizeSkipsInvalidKeys(t *testing.T) {
	schema, typeName := SynthesizeResponse(routes.OperationQuery, "", "user", decode(t, `{"first-name":"x","ok":true,"__meta":1}`))
	assert.Equal(t, "Query_user_", typeName)
	assert.Equal(t, "type Query_user_ {\n  ok: Boolean\n}\n", schema)
}

func TestValidTypeName(t *testing.T) {
	assert.True(t, ValidTypeName(routes.OperationQuery, "admin", "findUser(id: ID!)", "Query_admin_findUser_"))
	assert.True(t, ValidTypeName(routes.OperationQuery, "admin", "findUser", "[Query_admin_findUser_]!"))
	assert.True(t, ValidTypeName(routes.OperationQuery, "admin", "findUser", "String"))
	assert.False(t, ValidTypeName(routes.OperationQuery, "", "findUser", "Query_admin_findUser_"))
	assert.False(t, ValidTypeName(routes.OperationQuery, "", "findUser", ""))
}

func TestDeepMerge(t *testing.T) {
	a := decode(t, `{"user":{"id":1,"tags":["a"]},"v":1}`)
	b := decode(t, `{"user":{"name":"x","tags":["b"]},"v":2}`)
	merged := deepMerge(a, b)
	assert.Equal(t, decode(t, `{"user":{"id":1,"name":"x","tags":["a","b"]},"v":2}`), merged)
	assert.Equal(t, decode(t, `{"user":{"id":1,"tags":["a"]},"v":1}`), a, "inputs stay untouched")
}

func TestExampleMergesResponsesActiveLast(t *testing.T) {
	route := routes.GraphQLRoute{
		Name:             "user",
		ActiveResponseID: "a",
		Responses: []routes.GraphQLResponse{
			{ID: "a", Kind: routes.ResponseObject, BodyData: decode(t, `{"id":1}`)},
			{ID: "b", Kind: routes.ResponseObject, BodyData: decode(t, `{"id":2,"email":"e"}`)},
		},
	}
	assert.Equal(t, decode(t, `{"id":1,"email":"e"}`), Example(route))
}

func TestRefreshStoresFragments(t *testing.T) {
	group := routes.RouteGroup{Kind: routes.KindGraphQL, Path: "/graphql", SchemaPath: "shop"}
	route := routes.GraphQLRoute{
		Name:             "items",
		OperationType:    routes.OperationQuery,
		ActiveResponseID: "a",
		Responses: []routes.GraphQLResponse{
			{ID: "a", Kind: routes.ResponseObject, BodyData: decode(t, `[{"sku":"x"}]`)},
			{ID: "fn", Kind: routes.ResponseFunction, Function: `[]`},
		},
	}
	refreshed := Refresh(group, route)
	assert.Equal(t, "[Query_shop_items_]", refreshed.Responses[0].SchemaTypeName)
	assert.Contains(t, refreshed.Responses[0].Schema, "sku: String")
	assert.Empty(t, refreshed.Responses[1].Schema)
	assert.Empty(t, route.Responses[0].Schema, "the input route is not modified")
}
