package graphql

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"mime"
	"net/http"
	"strings"
	"sync"

	"github.com/funnyzak/mocktap/internal/cookies"
	"github.com/funnyzak/mocktap/internal/forwarder"
	"github.com/funnyzak/mocktap/internal/logger"
	"github.com/funnyzak/mocktap/internal/resolver"
	"github.com/funnyzak/mocktap/internal/sandbox"
	"github.com/funnyzak/mocktap/pkg/exchange"
	"github.com/funnyzak/mocktap/pkg/routes"
)

// PlaygroundSuffix is appended to a mount path to reach its playground
const PlaygroundSuffix = "/playground"

// Handler serves one GraphQL mount
type Handler struct {
	mount     *Mount
	logger    logger.Logger
	sandbox   *sandbox.Sandbox
	forwarder *forwarder.Forwarder
	settings  routes.ServerSettings
}

// NewHandler creates the handler of a compiled mount and compiles its
// function responses
func NewHandler(log logger.Logger, mount *Mount, sb *sandbox.Sandbox, fwd *forwarder.Forwarder, settings routes.ServerSettings) *Handler {
	h := &Handler{
		mount:     mount,
		logger:    log,
		sandbox:   sb,
		forwarder: fwd,
		settings:  settings,
	}
	for _, g := range mount.Groups {
		for _, route := range g.GraphQLRoutes {
			for _, resp := range route.Responses {
				if resp.Kind != routes.ResponseFunction {
					continue
				}
				if err := sb.CompileGraphQL(resp.ID, resp.Function); err != nil {
					log.Warn("GraphQL function response failed to compile",
						"mount", mount.Path,
						"route", route.ID,
						"response", resp.ID,
						"error", err,
					)
				}
			}
		}
	}
	return h
}

// Path returns the mount path
func (h *Handler) Path() string {
	return h.mount.Path
}

// Err returns the mount's compile error
func (h *Handler) Err() error {
	return h.mount.Err()
}

// Matches reports whether r targets the mount itself
func (h *Handler) Matches(r *http.Request) bool {
	return trimSlash(r.URL.Path) == h.mount.Path
}

// IsPlayground reports whether r targets the mount's playground page
func (h *Handler) IsPlayground(r *http.Request) bool {
	return r.Method == http.MethodGet && trimSlash(r.URL.Path) == joinPlayground(h.mount.Path)
}

// ServePlayground writes the GraphiQL page
func (h *Handler) ServePlayground(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(playgroundPage(h.mount.Path))
}

// call is the per-request resolution state
type call struct {
	r    *http.Request
	body []byte

	mu      sync.Mutex
	headers map[string]string
	// upstream replies by target URL, one round trip per target
	upstream map[string]upstreamReply
}

type upstreamReply struct {
	data map[string]interface{}
	err  error
}

// Serve executes a GraphQL request. It returns false, having written
// nothing, when a selected field declines and the fallback must answer.
func (h *Handler) Serve(w http.ResponseWriter, r *http.Request, body []byte) bool {
	ex := exchange.FromContext(r.Context())
	if err := h.mount.Err(); err != nil {
		ex.MarkError(err)
		writeJSON(w, http.StatusServiceUnavailable, nil, Response{Errors: []Error{{Message: err.Error()}}})
		return true
	}
	if r.Method != http.MethodGet && r.Method != http.MethodPost {
		writeJSON(w, http.StatusMethodNotAllowed, nil, Response{Errors: []Error{{Message: "method not allowed"}}})
		return true
	}

	req, err := decodeRequest(r, body)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, nil, Response{Errors: []Error{{Message: err.Error()}}})
		return true
	}
	doc, op, errs := h.mount.parse(req)
	if errs != nil {
		writeJSON(w, http.StatusBadRequest, nil, Response{Errors: errs})
		return true
	}

	for _, b := range h.mount.boundFields(doc, op, req.Variables) {
		active := b.route.ActiveResponse()
		if resolver.Declines(active != nil, active != nil && active.BlockProxy, h.settings) {
			h.logger.Debug("GraphQL field declined", "mount", h.mount.Path, "field", b.route.Name)
			return false
		}
	}

	ex.MarkLocal()
	c := &call{
		r:        r,
		body:     body,
		headers:  make(map[string]string),
		upstream: make(map[string]upstreamReply),
	}
	run := &execution{
		mount: h.mount,
		doc:   doc,
		op:    op,
		vars:  req.Variables,
		resolve: func(ctx context.Context, fc FieldCall) (interface{}, error) {
			return h.resolveField(ctx, c, fc)
		},
	}
	data := run.run(r.Context())

	header := make(http.Header)
	for k, v := range c.headers {
		header.Set(k, v)
	}
	h.forwarder.Cookies().Apply(header, cookies.Context{
		Settings: h.settings,
		Upstream: h.settings.ProxyBaseURL,
		Host:     r.Host,
	})
	writeJSON(w, http.StatusOK, header, Response{Data: data, Errors: run.errors})
	return true
}

func (h *Handler) resolveField(ctx context.Context, c *call, fc FieldCall) (interface{}, error) {
	active := fc.binding.route.ActiveResponse()
	if active == nil {
		return nil, nil
	}
	ex := exchange.FromContext(ctx)

	switch active.Kind {
	case routes.ResponseObject:
		c.addHeaders(active.Headers)
		return active.BodyData, nil
	case routes.ResponseFunction:
		returnType := ""
		if fc.Field.Definition != nil {
			returnType = fc.Field.Definition.Type.String()
		}
		value, err := h.sandbox.Run(ctx, active.ID, sandbox.GraphQLEnv{
			Args:    fc.Args,
			Context: requestContext(c.r),
			Info: map[string]interface{}{
				"fieldName":  fc.Field.Name,
				"parentType": fc.Parent,
				"operation":  string(fc.Operation),
				"path":       fc.Path,
				"returnType": returnType,
			},
		})
		if err != nil {
			err = fmt.Errorf("%w: %v", resolver.ErrLocalHandler, err)
			ex.MarkError(err)
			h.logger.Error("GraphQL function failed", "mount", h.mount.Path, "field", fc.Field.Name, "error", err)
			return nil, err
		}
		c.addHeaders(active.Headers)
		return value, nil
	case routes.ResponseProxy:
		target := resolver.ExpandURL(active.URL, nil, c.r.URL.Query())
		if target == "" {
			target = h.forwarder.FallbackTarget(h.settings.ProxyBaseURL, c.r.URL)
		}
		if target == "" {
			ex.MarkError(forwarder.ErrNoUpstream)
			return nil, forwarder.ErrNoUpstream
		}
		data, err := h.upstreamData(ctx, c, target)
		if err != nil {
			return nil, err
		}
		return walkPath(data, fc.Path), nil
	default:
		err := fmt.Errorf("%w: unknown response kind %q", resolver.ErrLocalHandler, active.Kind)
		ex.MarkError(err)
		return nil, err
	}
}

// upstreamData forwards the original GraphQL request to target once per
// request and returns the upstream data object
func (h *Handler) upstreamData(ctx context.Context, c *call, target string) (map[string]interface{}, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if cached, ok := c.upstream[target]; ok {
		return cached.data, cached.err
	}

	ex := exchange.FromContext(ctx)
	out := h.forwarder.NewOutbound(c.r, c.body, target, h.settings.DuplicateCookies)
	res, record, err := h.forwarder.Do(context.WithoutCancel(ctx), out)
	ex.MarkProxy(record)

	reply := upstreamReply{}
	switch {
	case err != nil:
		reply.err = fmt.Errorf("upstream request failed: %w", err)
	case res == nil:
		reply.err = errors.New("upstream request failed")
	default:
		var decoded struct {
			Data   map[string]interface{} `json:"data"`
			Errors []Error                `json:"errors"`
		}
		if jerr := json.Unmarshal(res.Body, &decoded); jerr != nil {
			reply.err = fmt.Errorf("decode upstream reply: %w", jerr)
			ex.MarkError(reply.err)
		} else {
			reply.data = decoded.Data
			if decoded.Data == nil && len(decoded.Errors) > 0 {
				reply.err = errors.New(decoded.Errors[0].Message)
			}
		}
	}
	c.upstream[target] = reply
	return reply.data, reply.err
}

func (c *call) addHeaders(headers map[string]string) {
	if len(headers) == 0 {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	for k, v := range headers {
		c.headers[k] = v
	}
}

// walkPath follows the response keys of path through data
func walkPath(data map[string]interface{}, path []interface{}) interface{} {
	var current interface{} = data
	for _, elem := range path {
		key, ok := elem.(string)
		if !ok {
			return nil
		}
		obj, ok := current.(map[string]interface{})
		if !ok {
			return nil
		}
		current = obj[key]
	}
	return current
}

func requestContext(r *http.Request) map[string]interface{} {
	headers := make(map[string]interface{}, len(r.Header))
	for k, v := range r.Header {
		headers[strings.ToLower(k)] = strings.Join(v, ", ")
	}
	return map[string]interface{}{
		"method":  r.Method,
		"path":    r.URL.Path,
		"host":    r.Host,
		"headers": headers,
	}
}

// decodeRequest reads a GraphQL request from the query string (GET) or the
// body (POST, JSON or application/graphql)
func decodeRequest(r *http.Request, body []byte) (*Request, error) {
	if r.Method == http.MethodGet {
		q := r.URL.Query()
		req := &Request{Query: q.Get("query"), OperationName: q.Get("operationName")}
		if vars := q.Get("variables"); vars != "" {
			if err := json.Unmarshal([]byte(vars), &req.Variables); err != nil {
				return nil, errors.New("invalid variables JSON")
			}
		}
		return req, nil
	}

	if len(bytes.TrimSpace(body)) == 0 {
		return nil, errors.New("empty request body")
	}
	mediaType, _, _ := mime.ParseMediaType(r.Header.Get("Content-Type"))
	if mediaType == "application/graphql" {
		return &Request{Query: string(body)}, nil
	}
	var req Request
	if err := json.Unmarshal(body, &req); err != nil {
		return nil, errors.New("invalid JSON request body")
	}
	return &req, nil
}

func writeJSON(w http.ResponseWriter, status int, header http.Header, resp Response) {
	for k, values := range header {
		for _, v := range values {
			w.Header().Add(k, v)
		}
	}
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(resp)
}

func trimSlash(p string) string {
	if len(p) > 1 {
		p = strings.TrimRight(p, "/")
		if p == "" {
			return "/"
		}
	}
	return p
}

func joinPlayground(mountPath string) string {
	if mountPath == "/" {
		return PlaygroundSuffix
	}
	return mountPath + PlaygroundSuffix
}
