package dispatch

import (
	"fmt"
	"net/http"
	"strings"

	"github.com/funnyzak/mocktap/internal/logger"
	"github.com/funnyzak/mocktap/internal/project"
	"github.com/funnyzak/mocktap/internal/resolver"
	"github.com/funnyzak/mocktap/pkg/routes"
	"github.com/gorilla/mux"
	"github.com/ohler55/ojg/jp"
)

// methodAny matches every HTTP method
const methodAny = "ALL"

// Dispatcher selects the REST route answering a request. Discriminated
// overloads are consulted before plain routes; within each list creation
// order decides.
type Dispatcher struct {
	logger   logger.Logger
	resolver *resolver.Resolver
	settings routes.ServerSettings
	router   *mux.Router

	overloads []*entry
	plain     []*entry
}

type entry struct {
	groupID  string
	method   string
	template string
	matcher  *mux.Route
	// routes holds one plain route, or every overload sharing method+path
	routes []routes.Route
}

// New creates an empty dispatcher
func New(log logger.Logger, res *resolver.Resolver, settings routes.ServerSettings) *Dispatcher {
	return &Dispatcher{
		logger:   log,
		resolver: res,
		settings: settings,
		router:   mux.NewRouter(),
	}
}

// Mount compiles a REST group. On error nothing of the group is mounted.
func (d *Dispatcher) Mount(group routes.RouteGroup) error {
	if group.Kind != routes.KindRest {
		return fmt.Errorf("group %q is not a rest group", group.ID)
	}

	var (
		overloads []*entry
		plain     []*entry
		byKey     = make(map[string]*entry)
	)
	for _, route := range group.Routes {
		fullPath := routes.JoinPath(group.Path, route.RoutePath)
		method := strings.ToUpper(strings.TrimSpace(route.Method))
		if method == "" {
			method = http.MethodGet
		}

		if route.IsDiscriminated() {
			key := method + " " + fullPath
			if e, ok := byKey[key]; ok {
				for _, existing := range e.routes {
					if sameTriple(existing, route) {
						return fmt.Errorf("%w: %s %s %s=%s", project.ErrDuplicateOverload, method, fullPath, route.ParamKey, route.ParamValue)
					}
				}
				e.routes = append(e.routes, route)
				continue
			}
			e, err := d.newEntry(group.ID, method, fullPath)
			if err != nil {
				return err
			}
			e.routes = []routes.Route{route}
			byKey[key] = e
			overloads = append(overloads, e)
			continue
		}

		e, err := d.newEntry(group.ID, method, fullPath)
		if err != nil {
			return err
		}
		e.routes = []routes.Route{route}
		plain = append(plain, e)
	}

	d.overloads = append(d.overloads, overloads...)
	d.plain = append(d.plain, plain...)
	d.logger.Debug("REST group mounted",
		"group", group.ID,
		"path", routes.NormalizePath(group.Path),
		"overloads", len(overloads),
		"routes", len(plain),
	)
	return nil
}

func (d *Dispatcher) newEntry(groupID, method, fullPath string) (*entry, error) {
	template := toMuxTemplate(fullPath)
	matcher := d.router.NewRoute().Path(template)
	if method != methodAny && method != "*" {
		matcher = matcher.Methods(method)
	}
	if err := matcher.GetError(); err != nil {
		return nil, fmt.Errorf("route %s %s: %w", method, fullPath, err)
	}
	return &entry{groupID: groupID, method: method, template: template, matcher: matcher}, nil
}

// Routes reports how many route entries are mounted
func (d *Dispatcher) Routes() int {
	return len(d.overloads) + len(d.plain)
}

// Dispatch answers r with the first route that handles it. It returns false
// when no route matched or every matching route declined.
func (d *Dispatcher) Dispatch(w http.ResponseWriter, r *http.Request, body []byte) bool {
	matchReq := withoutTrailingSlash(r)
	var parsed *parsedBody

	for _, list := range [][]*entry{d.overloads, d.plain} {
		for _, e := range list {
			var m mux.RouteMatch
			if !e.matcher.Match(matchReq, &m) {
				continue
			}
			route, ok := e.routes[0], true
			if e.routes[0].IsDiscriminated() {
				if parsed == nil {
					parsed = &parsedBody{value: resolver.ParseBody(r.Header.Get("Content-Type"), body)}
				}
				route, ok = selectOverload(e.routes, r, m.Vars, parsed.value)
				if !ok {
					continue
				}
			}
			if d.resolver.Serve(w, r, resolver.Call{
				Route:    route,
				Params:   m.Vars,
				Body:     body,
				Settings: d.settings,
			}) {
				return true
			}
		}
	}
	return false
}

type parsedBody struct {
	value interface{}
}

// selectOverload picks the first route whose discriminator matches
func selectOverload(candidates []routes.Route, r *http.Request, vars map[string]string, body interface{}) (routes.Route, bool) {
	for _, route := range candidates {
		value, found := lookup(route.ParamLocation, route.ParamKey, r, vars, body)
		if found && looseEqual(value, route.ParamValue) {
			return route, true
		}
	}
	return routes.Route{}, false
}

func lookup(location routes.ParamLocation, key string, r *http.Request, vars map[string]string, body interface{}) (interface{}, bool) {
	switch location {
	case routes.ParamParams:
		v, ok := vars[key]
		return v, ok
	case routes.ParamQuery:
		values, ok := r.URL.Query()[key]
		if !ok || len(values) == 0 {
			return nil, false
		}
		return values[0], true
	case routes.ParamBody:
		return lookupBody(body, key)
	}
	return nil, false
}

// lookupBody reads a top-level key directly, otherwise evaluates key as a
// JSONPath ("user.role", "$.items[0].id").
func lookupBody(body interface{}, key string) (interface{}, bool) {
	if m, ok := body.(map[string]interface{}); ok {
		if v, ok := m[key]; ok {
			return v, true
		}
	}
	if body == nil {
		return nil, false
	}
	path := key
	if !strings.HasPrefix(path, "$") {
		path = "$." + path
	}
	x, err := jp.ParseString(path)
	if err != nil {
		return nil, false
	}
	results := x.Get(body)
	if len(results) == 0 {
		return nil, false
	}
	return results[0], true
}

// looseEqual compares like a coercing equality: 1 == "1", true == "true"
func looseEqual(value interface{}, want string) bool {
	switch v := value.(type) {
	case nil:
		return want == "null" || want == ""
	case string:
		return v == want
	case float64:
		if v == float64(int64(v)) {
			return fmt.Sprintf("%d", int64(v)) == strings.TrimSpace(want)
		}
		return fmt.Sprint(v) == strings.TrimSpace(want)
	case map[string]interface{}, []interface{}:
		return false
	default:
		return fmt.Sprint(v) == want
	}
}

func sameTriple(a, b routes.Route) bool {
	return a.ParamLocation == b.ParamLocation && a.ParamKey == b.ParamKey && a.ParamValue == b.ParamValue
}

// toMuxTemplate converts "/users/:id/*" to "/users/{id}/{wild0:.*}"
func toMuxTemplate(p string) string {
	segments := strings.Split(p, "/")
	wild := 0
	for i, seg := range segments {
		switch {
		case strings.HasPrefix(seg, ":") && len(seg) > 1:
			segments[i] = "{" + strings.TrimSuffix(seg[1:], "?") + "}"
		case seg == "*":
			segments[i] = fmt.Sprintf("{wild%d:.*}", wild)
			wild++
		}
	}
	return strings.Join(segments, "/")
}

func withoutTrailingSlash(r *http.Request) *http.Request {
	p := r.URL.Path
	if len(p) <= 1 || !strings.HasSuffix(p, "/") {
		return r
	}
	u := *r.URL
	u.Path = strings.TrimRight(p, "/")
	if u.Path == "" {
		u.Path = "/"
	}
	u.RawPath = ""
	clone := *r
	clone.URL = &u
	return &clone
}
