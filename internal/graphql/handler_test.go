package graphql

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/funnyzak/mocktap/internal/forwarder"
	"github.com/funnyzak/mocktap/internal/logger"
	"github.com/funnyzak/mocktap/internal/sandbox"
	"github.com/funnyzak/mocktap/pkg/exchange"
	"github.com/funnyzak/mocktap/pkg/routes"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func objectRoute(id, name string, op routes.OperationType, body interface{}) routes.GraphQLRoute {
	return routes.GraphQLRoute{
		ID:               id,
		Name:             name,
		OperationType:    op,
		ActiveResponseID: id + "-resp",
		Responses: []routes.GraphQLResponse{
			{ID: id + "-resp", Kind: routes.ResponseObject, BodyData: body},
		},
	}
}

func testGroups(t *testing.T) []routes.RouteGroup {
	return []routes.RouteGroup{
		{
			ID: "root", Kind: routes.KindGraphQL, Path: "/graphql",
			GraphQLRoutes: []routes.GraphQLRoute{
				objectRoute("ping", "ping", routes.OperationQuery, "pong"),
				objectRoute("user", "user(id: ID!)", routes.OperationQuery, decode(t, `{"id":"1","name":"Ada","address":{"city":"Paris"}}`)),
				objectRoute("save", "saveUser(name: String)", routes.OperationMutation, decode(t, `{"ok":true}`)),
			},
		},
		{
			ID: "admin", Kind: routes.KindGraphQL, Path: "/graphql", SchemaPath: "admin.users",
			GraphQLRoutes: []routes.GraphQLRoute{
				objectRoute("list", "list", routes.OperationQuery, decode(t, `[{"id":1},{"id":2}]`)),
			},
		},
	}
}

func newHandler(t *testing.T, groups []routes.RouteGroup, settings routes.ServerSettings) *Handler {
	t.Helper()
	mounts := Build(groups)
	require.Len(t, mounts, 1)
	require.NoError(t, mounts[0].Err(), mounts[0].Document)
	fwd := forwarder.NewForwarder(logger.Nop(), forwarder.Options{Timeout: 5 * time.Second})
	t.Cleanup(fwd.Close)
	return NewHandler(logger.Nop(), mounts[0], sandbox.New(time.Second), fwd, settings)
}

func post(t *testing.T, h *Handler, query string, vars map[string]interface{}) (*httptest.ResponseRecorder, *exchange.Exchange, bool) {
	t.Helper()
	body, err := json.Marshal(Request{Query: query, Variables: vars})
	require.NoError(t, err)
	r := httptest.NewRequest(http.MethodPost, "/graphql", strings.NewReader(string(body)))
	r.Header.Set("Content-Type", "application/json")
	ex := exchange.New("main", r, body)
	r = r.WithContext(exchange.WithExchange(r.Context(), ex))
	rec := httptest.NewRecorder()
	handled := h.Serve(rec, r, body)
	return rec, ex, handled
}

func data(t *testing.T, rec *httptest.ResponseRecorder) map[string]interface{} {
	t.Helper()
	var resp struct {
		Data   map[string]interface{} `json:"data"`
		Errors []Error                `json:"errors"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp), rec.Body.String())
	require.Empty(t, resp.Errors, rec.Body.String())
	return resp.Data
}

func TestBuildDocument(t *testing.T) {
	mounts := Build(testGroups(t))
	require.Len(t, mounts, 1)
	m := mounts[0]
	require.NoError(t, m.Err())
	assert.Contains(t, m.Document, "scalar JSON")
	assert.Contains(t, m.Document, "user(id: ID!): Query_user_")
	assert.Contains(t, m.Document, "admin: Query_admin_")
	assert.Contains(t, m.Document, "users: Query_admin_users_")
	assert.Contains(t, m.Document, "list: [Query_admin_users_list_]")
	assert.Contains(t, m.Document, "saveUser(name: String): Mutation_saveUser_")

	again := Build(testGroups(t))
	assert.Equal(t, m.Document, again[0].Document)
}

func TestBuildInvalidSchemaFailsClosed(t *testing.T) {
	broken := objectRoute("bad", "bad", routes.OperationQuery, nil)
	broken.Responses[0].Schema = "type Broken {"
	broken.Responses[0].SchemaTypeName = "Broken"
	mounts := Build([]routes.RouteGroup{{ID: "g", Kind: routes.KindGraphQL, Path: "/gql", GraphQLRoutes: []routes.GraphQLRoute{broken}}})
	require.Len(t, mounts, 1)
	require.Error(t, mounts[0].Err())
	assert.True(t, errors.Is(mounts[0].Err(), ErrUnserviceable))

	fwd := forwarder.NewForwarder(logger.Nop(), forwarder.Options{})
	defer fwd.Close()
	h := NewHandler(logger.Nop(), mounts[0], sandbox.New(time.Second), fwd, routes.ServerSettings{})
	rec, ex, handled := post(t, h, "{ bad }", nil)
	assert.True(t, handled)
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	assert.Equal(t, exchange.KindError, ex.Kind())
}

func TestQueryObjectFields(t *testing.T) {
	h := newHandler(t, testGroups(t), routes.ServerSettings{})
	rec, ex, handled := post(t, h, `query($id: ID!) { ping who: user(id: $id) { name address { city } __typename } }`, map[string]interface{}{"id": "1"})
	require.True(t, handled)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, exchange.KindLocal, ex.Kind())

	d := data(t, rec)
	assert.Equal(t, "pong", d["ping"])
	assert.Equal(t, map[string]interface{}{
		"name":       "Ada",
		"address":    map[string]interface{}{"city": "Paris"},
		"__typename": "Query_user_",
	}, d["who"])
}

func TestNestedSchemaPathAndFragments(t *testing.T) {
	h := newHandler(t, testGroups(t), routes.ServerSettings{})
	rec, _, _ := post(t, h, `{ admin { users { list { ...F } } } } fragment F on Query_admin_users_list_ { id }`, nil)
	d := data(t, rec)
	assert.Equal(t, map[string]interface{}{
		"users": map[string]interface{}{
			"list": []interface{}{
				map[string]interface{}{"id": float64(1)},
				map[string]interface{}{"id": float64(2)},
			},
		},
	}, d["admin"])
}

func TestMutation(t *testing.T) {
	h := newHandler(t, testGroups(t), routes.ServerSettings{})
	rec, _, _ := post(t, h, `mutation { saveUser(name: "x") { ok } }`, nil)
	assert.Equal(t, map[string]interface{}{"ok": true}, data(t, rec)["saveUser"])
}

func TestValidationErrorIsBadRequest(t *testing.T) {
	h := newHandler(t, testGroups(t), routes.ServerSettings{})
	rec, _, handled := post(t, h, `{ missing }`, nil)
	assert.True(t, handled)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Contains(t, rec.Body.String(), "missing")
}

func TestIntrospectionSubset(t *testing.T) {
	h := newHandler(t, testGroups(t), routes.ServerSettings{})
	rec, _, _ := post(t, h, `{ __schema { queryType { name } types { name } } __type(name: "Query_user_") { name kind fields { name } } }`, nil)
	d := data(t, rec)

	schema := d["__schema"].(map[string]interface{})
	assert.Equal(t, map[string]interface{}{"name": "Query"}, schema["queryType"])
	assert.Contains(t, schema["types"], map[string]interface{}{"name": "Query_admin_users_list_"})

	typ := d["__type"].(map[string]interface{})
	assert.Equal(t, "OBJECT", typ["kind"])
	assert.Len(t, typ["fields"], 3)
}

func TestFunctionField(t *testing.T) {
	groups := []routes.RouteGroup{{
		ID: "g", Kind: routes.KindGraphQL, Path: "/graphql",
		GraphQLRoutes: []routes.GraphQLRoute{{
			ID: "echo", Name: "echo(msg: String)", OperationType: routes.OperationQuery,
			ActiveResponseID: "fn",
			Responses: []routes.GraphQLResponse{{
				ID: "fn", Kind: routes.ResponseFunction,
				Function:       `{"text": args.msg, "field": info.fieldName}`,
				Schema:         "type Echo {\n  text: String\n  field: String\n}",
				SchemaTypeName: "Echo",
			}},
		}},
	}}
	h := newHandler(t, groups, routes.ServerSettings{})
	rec, ex, _ := post(t, h, `{ echo(msg: "hi") { text field } }`, nil)
	assert.Equal(t, map[string]interface{}{"text": "hi", "field": "echo"}, data(t, rec)["echo"])
	assert.Equal(t, exchange.KindLocal, ex.Kind())
}

func TestFunctionFailureIsFieldError(t *testing.T) {
	groups := []routes.RouteGroup{{
		ID: "g", Kind: routes.KindGraphQL, Path: "/graphql",
		GraphQLRoutes: []routes.GraphQLRoute{{
			ID: "boom", Name: "boom", ActiveResponseID: "fn",
			Responses: []routes.GraphQLResponse{{ID: "fn", Kind: routes.ResponseFunction, Function: `args.x +`, SchemaTypeName: "String"}},
		}},
	}}
	h := newHandler(t, groups, routes.ServerSettings{})
	rec, ex, handled := post(t, h, `{ boom }`, nil)
	require.True(t, handled)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"errors"`)
	assert.Equal(t, exchange.KindError, ex.Kind())
}

func TestForceProxyDeclines(t *testing.T) {
	groups := testGroups(t)
	h := newHandler(t, groups, routes.ServerSettings{ForceProxy: true})
	rec, _, handled := post(t, h, `{ ping }`, nil)
	assert.False(t, handled)
	assert.Equal(t, 0, rec.Body.Len())

	groups[0].GraphQLRoutes[0].Responses[0].BlockProxy = true
	h = newHandler(t, groups, routes.ServerSettings{ForceProxy: true})
	rec, _, handled = post(t, h, `{ ping }`, nil)
	assert.True(t, handled)
	assert.Equal(t, "pong", data(t, rec)["ping"])
}

func TestProxyField(t *testing.T) {
	var calls int
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		body, _ := io.ReadAll(r.Body)
		assert.Contains(t, string(body), "remote")
		_, _ = w.Write([]byte(`{"data":{"remote":{"v":7},"other":"x"}}`))
	}))
	defer upstream.Close()

	groups := []routes.RouteGroup{{
		ID: "g", Kind: routes.KindGraphQL, Path: "/graphql",
		GraphQLRoutes: []routes.GraphQLRoute{
			{
				ID: "remote", Name: "remote", ActiveResponseID: "p",
				Responses: []routes.GraphQLResponse{{ID: "p", Kind: routes.ResponseProxy, URL: upstream.URL, SchemaTypeName: "JSON"}},
			},
			{
				ID: "other", Name: "other", ActiveResponseID: "p2",
				Responses: []routes.GraphQLResponse{{ID: "p2", Kind: routes.ResponseProxy, URL: upstream.URL, SchemaTypeName: "String"}},
			},
		},
	}}
	h := newHandler(t, groups, routes.ServerSettings{})
	rec, ex, _ := post(t, h, `{ remote other }`, nil)
	d := data(t, rec)
	assert.Equal(t, map[string]interface{}{"v": float64(7)}, d["remote"])
	assert.Equal(t, "x", d["other"])
	assert.Equal(t, 1, calls, "one upstream round trip per target")
	assert.Equal(t, exchange.KindProxy, ex.Kind())
}

func TestGetAndPlayground(t *testing.T) {
	h := newHandler(t, testGroups(t), routes.ServerSettings{})

	r := httptest.NewRequest(http.MethodGet, "/graphql?query=%7B+ping+%7D", nil)
	r = r.WithContext(exchange.WithExchange(r.Context(), exchange.New("main", r, nil)))
	assert.True(t, h.Matches(r))
	rec := httptest.NewRecorder()
	require.True(t, h.Serve(rec, r, nil))
	assert.Equal(t, "pong", data(t, rec)["ping"])

	pg := httptest.NewRequest(http.MethodGet, "/graphql/playground", nil)
	assert.True(t, h.IsPlayground(pg))
	assert.False(t, h.Matches(pg))
	rec = httptest.NewRecorder()
	h.ServePlayground(rec, pg)
	assert.Contains(t, rec.Body.String(), "graphiql")
	assert.Contains(t, rec.Header().Get("Content-Type"), "text/html")
}
