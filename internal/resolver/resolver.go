package resolver

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"regexp"
	"strings"

	"github.com/funnyzak/mocktap/internal/cookies"
	"github.com/funnyzak/mocktap/internal/forwarder"
	"github.com/funnyzak/mocktap/internal/logger"
	"github.com/funnyzak/mocktap/internal/sandbox"
	"github.com/funnyzak/mocktap/pkg/exchange"
	"github.com/funnyzak/mocktap/pkg/routes"
)

// ErrLocalHandler marks a failure of a mock's own response logic
var ErrLocalHandler = errors.New("mock response failed")

// Resolver turns a matched route's active response into an HTTP reply
type Resolver struct {
	logger    logger.Logger
	sandbox   *sandbox.Sandbox
	forwarder *forwarder.Forwarder
	cookies   *cookies.Rewriter
}

// Call is one REST invocation
type Call struct {
	Route    routes.Route
	Params   map[string]string
	Body     []byte
	Settings routes.ServerSettings
}

// New creates a resolver
func New(log logger.Logger, sb *sandbox.Sandbox, fwd *forwarder.Forwarder) *Resolver {
	return &Resolver{
		logger:    log,
		sandbox:   sb,
		forwarder: fwd,
		cookies:   fwd.Cookies(),
	}
}

// Declines reports whether the fallback must answer instead of the mock
func Declines(active bool, blockProxy bool, settings routes.ServerSettings) bool {
	if !active {
		return true
	}
	return settings.ForceProxy && !blockProxy
}

// Prepare compiles every function response of the given REST groups. Compile
// failures are logged and surface again when the response is invoked.
func (rs *Resolver) Prepare(groups []routes.RouteGroup) {
	for _, g := range groups {
		if g.Kind != routes.KindRest {
			continue
		}
		for _, route := range g.Routes {
			for _, resp := range route.Responses {
				if resp.Kind != routes.ResponseFunction {
					continue
				}
				if err := rs.sandbox.CompileREST(resp.ID, resp.Function); err != nil {
					rs.logger.Warn("Function response failed to compile",
						"group", g.ID,
						"route", route.ID,
						"response", resp.ID,
						"error", err,
					)
				}
			}
		}
	}
}

// Serve answers r with the route's active response. It returns false, having
// written nothing, when the response declines.
func (rs *Resolver) Serve(w http.ResponseWriter, r *http.Request, call Call) bool {
	active := call.Route.ActiveResponse()
	if Declines(active != nil, active != nil && active.BlockProxy, call.Settings) {
		return false
	}

	ex := exchange.FromContext(r.Context())
	switch active.Kind {
	case routes.ResponseObject:
		ex.MarkLocal()
		rs.writeObject(w, r, active, call.Settings)
	case routes.ResponseFunction:
		ex.MarkLocal()
		rs.runFunction(w, r, active, call)
	case routes.ResponseProxy:
		target := ExpandURL(active.URL, call.Params, r.URL.Query())
		if target == "" {
			target = rs.forwarder.FallbackTarget(call.Settings.ProxyBaseURL, r.URL)
		}
		rs.forwarder.Relay(w, r, call.Body, target, call.Settings)
	default:
		rs.fail(w, r, fmt.Errorf("%w: unknown response kind %q", ErrLocalHandler, active.Kind))
	}
	return true
}

func (rs *Resolver) writeObject(w http.ResponseWriter, r *http.Request, resp *routes.Response, settings routes.ServerSettings) {
	body, contentType, err := encodeBody(resp.BodyData)
	if err != nil {
		rs.fail(w, r, fmt.Errorf("%w: %v", ErrLocalHandler, err))
		return
	}
	rs.write(w, r, reply{
		status:      resp.HTTPStatus,
		headers:     resp.Headers,
		body:        body,
		contentType: contentType,
	}, settings)
}

func (rs *Resolver) runFunction(w http.ResponseWriter, r *http.Request, resp *routes.Response, call Call) {
	env := BuildRESTEnv(r, call.Params, call.Body)
	value, err := rs.sandbox.Run(r.Context(), resp.ID, env)
	if err != nil {
		rs.fail(w, r, fmt.Errorf("%w: %v", ErrLocalHandler, err))
		return
	}

	out := reply{status: resp.HTTPStatus, headers: resp.Headers}
	data := value
	if envelope, ok := asEnvelope(value); ok {
		if status, ok := toStatus(envelope["status"]); ok {
			out.status = status
		} else if _, has := envelope["status"]; has {
			rs.fail(w, r, fmt.Errorf("%w: invalid status %v", ErrLocalHandler, envelope["status"]))
			return
		}
		if hdrs, ok := envelope["headers"].(map[string]interface{}); ok {
			merged := make(map[string]string, len(out.headers)+len(hdrs))
			for k, v := range out.headers {
				merged[k] = v
			}
			for k, v := range hdrs {
				merged[k] = fmt.Sprint(v)
			}
			out.headers = merged
		}
		data = envelope["body"]
	}

	out.body, out.contentType, err = encodeBody(data)
	if err != nil {
		rs.fail(w, r, fmt.Errorf("%w: %v", ErrLocalHandler, err))
		return
	}
	rs.write(w, r, out, call.Settings)
}

type reply struct {
	status      int
	headers     map[string]string
	body        []byte
	contentType string
}

func (rs *Resolver) write(w http.ResponseWriter, r *http.Request, out reply, settings routes.ServerSettings) {
	header := w.Header()
	for k, v := range out.headers {
		header.Set(k, v)
	}
	if header.Get("Content-Type") == "" && out.contentType != "" {
		header.Set("Content-Type", out.contentType)
	}
	rs.cookies.Apply(header, cookies.Context{
		Settings: settings,
		Upstream: settings.ProxyBaseURL,
		Host:     r.Host,
	})
	status := out.status
	if status == 0 {
		status = http.StatusOK
	}
	w.WriteHeader(status)
	if r.Method != http.MethodHead {
		_, _ = w.Write(out.body)
	}
}

// fail answers a local handler failure with a generic 500
func (rs *Resolver) fail(w http.ResponseWriter, r *http.Request, err error) {
	exchange.FromContext(r.Context()).MarkError(err)
	rs.logger.Error("Mock response failed", "path", r.URL.Path, "error", err)
	WriteError(w, http.StatusInternalServerError, ErrLocalHandler.Error())
}

// WriteError writes a JSON error body
func WriteError(w http.ResponseWriter, status int, message string) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(map[string]string{"error": message})
}

// encodeBody writes strings raw and everything else as JSON
func encodeBody(data interface{}) ([]byte, string, error) {
	switch v := data.(type) {
	case nil:
		return nil, "", nil
	case string:
		return []byte(v), "text/plain; charset=utf-8", nil
	case []byte:
		return v, "application/octet-stream", nil
	default:
		body, err := json.Marshal(v)
		if err != nil {
			return nil, "", fmt.Errorf("encode body: %w", err)
		}
		return body, "application/json; charset=utf-8", nil
	}
}

var envelopeKeys = map[string]bool{"status": true, "headers": true, "body": true}

// asEnvelope detects a {status, headers, body} reply description
func asEnvelope(value interface{}) (map[string]interface{}, bool) {
	m, ok := value.(map[string]interface{})
	if !ok || len(m) == 0 {
		return nil, false
	}
	for k := range m {
		if !envelopeKeys[k] {
			return nil, false
		}
	}
	return m, true
}

func toStatus(v interface{}) (int, bool) {
	var status int
	switch n := v.(type) {
	case int:
		status = n
	case int64:
		status = int(n)
	case float64:
		status = int(n)
		if float64(status) != n {
			return 0, false
		}
	default:
		return 0, false
	}
	return status, status >= 100 && status <= 599
}

var urlParamPattern = regexp.MustCompile(`:([A-Za-z_][A-Za-z0-9_]*)`)

// ExpandURL substitutes :param placeholders and adds request query keys the
// template does not already carry. An empty template yields "".
func ExpandURL(template string, params map[string]string, query url.Values) string {
	template = strings.TrimSpace(template)
	if template == "" {
		return ""
	}
	expanded := urlParamPattern.ReplaceAllStringFunc(template, func(m string) string {
		if v, ok := params[m[1:]]; ok {
			return url.PathEscape(v)
		}
		return m
	})
	if len(query) == 0 {
		return expanded
	}
	u, err := url.Parse(expanded)
	if err != nil {
		return expanded
	}
	q := u.Query()
	for k, values := range query {
		if _, exists := q[k]; exists {
			continue
		}
		for _, v := range values {
			q.Add(k, v)
		}
	}
	u.RawQuery = q.Encode()
	return u.String()
}
