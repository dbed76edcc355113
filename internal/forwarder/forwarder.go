package forwarder

import (
	"bytes"
	"context"
	"crypto/tls"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/funnyzak/mocktap/internal/cookies"
	"github.com/funnyzak/mocktap/internal/logger"
	"github.com/funnyzak/mocktap/pkg/exchange"
	"github.com/funnyzak/mocktap/pkg/routes"
)

var (
	// ErrForwarderClosed indicates the forwarder has been shut down.
	ErrForwarderClosed = errors.New("forwarder is closed")
	// ErrNoUpstream no mock answered and no upstream is configured
	ErrNoUpstream = errors.New("no mock and no upstream configured")
)

// Forwarder performs upstream calls for proxy responses and the fallback.
// Calls are never retried; a failed call surfaces as an error reply.
type Forwarder struct {
	client        *http.Client
	logger        logger.Logger
	maxConcurrent int
	workerPool    chan struct{}
	mu            sync.Mutex
	cond          *sync.Cond
	closed        bool
	activeCalls   int
	pathStrategy  *pathStrategy
	skipHeaders   map[string]bool
	cookies       *cookies.Rewriter
}

// Options forwarder configuration
type Options struct {
	Timeout               time.Duration
	MaxConcurrent         int
	MaxIdleConns          int
	MaxIdleConnsPerHost   int
	MaxConnsPerHost       int
	IdleConnTimeout       time.Duration
	ResponseHeaderTimeout time.Duration
	TLSHandshakeTimeout   time.Duration
	ExpectContinueTimeout time.Duration
	TLSInsecureSkipVerify bool
	PathStrategy          PathStrategyOptions
	// HeaderBlacklist lists request headers never sent upstream
	HeaderBlacklist []string
	Cookies         *cookies.Rewriter
}

// Outbound is a fully built upstream request
type Outbound struct {
	Method string
	URL    string
	Header http.Header
	Body   []byte
}

// Result is what came back from upstream. Partial is set when the body
// could not be read to the end.
type Result struct {
	StatusCode int
	Header     http.Header
	Body       []byte
	Partial    bool
}

var defaultSkipHeaders = []string{
	"host",
	"connection",
	"keep-alive",
	"proxy-authenticate",
	"proxy-authorization",
	"te",
	"trailers",
	"transfer-encoding",
	"upgrade",
	"content-length",
}

// hop-by-hop headers dropped when relaying an upstream reply
var responseSkipHeaders = map[string]bool{
	"connection":        true,
	"keep-alive":        true,
	"proxy-connection":  true,
	"te":                true,
	"trailer":           true,
	"transfer-encoding": true,
	"upgrade":           true,
	"content-length":    true,
}

// NewForwarder creates new forwarder
func NewForwarder(log logger.Logger, opts Options) *Forwarder {
	if opts.MaxConcurrent <= 0 {
		opts.MaxConcurrent = 32
	}
	if log == nil {
		log = logger.Nop()
	}

	transport := &http.Transport{
		Proxy:               http.ProxyFromEnvironment,
		MaxIdleConns:        positiveOrDefault(opts.MaxIdleConns, 200),
		MaxIdleConnsPerHost: positiveOrDefault(opts.MaxIdleConnsPerHost, opts.MaxConcurrent),
		MaxConnsPerHost:     positiveOrDefault(opts.MaxConnsPerHost, opts.MaxConcurrent*2),
		IdleConnTimeout:     durationOrDefault(opts.IdleConnTimeout, 90*time.Second),
		ResponseHeaderTimeout: durationOrDefault(
			opts.ResponseHeaderTimeout,
			15*time.Second,
		),
		TLSHandshakeTimeout:   durationOrDefault(opts.TLSHandshakeTimeout, 10*time.Second),
		ExpectContinueTimeout: durationOrDefault(opts.ExpectContinueTimeout, 1*time.Second),
		TLSClientConfig: &tls.Config{
			InsecureSkipVerify: opts.TLSInsecureSkipVerify,
		},
	}

	skip := make(map[string]bool)
	list := opts.HeaderBlacklist
	if len(list) == 0 {
		list = defaultSkipHeaders
	}
	for _, h := range list {
		skip[strings.ToLower(strings.TrimSpace(h))] = true
	}
	// host is always replaced by the upstream's own
	skip["host"] = true

	rewriter := opts.Cookies
	if rewriter == nil {
		rewriter = cookies.NewRewriter(nil)
	}

	f := &Forwarder{
		client: &http.Client{
			Timeout:   opts.Timeout,
			Transport: transport,
			// Redirects are relayed to the client, not followed.
			CheckRedirect: func(*http.Request, []*http.Request) error {
				return http.ErrUseLastResponse
			},
		},
		logger:        log,
		maxConcurrent: opts.MaxConcurrent,
		workerPool:    make(chan struct{}, opts.MaxConcurrent),
		pathStrategy:  newPathStrategy(opts.PathStrategy, log),
		skipHeaders:   skip,
		cookies:       rewriter,
	}
	f.cond = sync.NewCond(&f.mu)
	return f
}

// Cookies returns the set-cookie rewriter shared with local replies
func (f *Forwarder) Cookies() *cookies.Rewriter {
	return f.cookies
}

// FallbackTarget joins the upstream base with the request path and query
func (f *Forwarder) FallbackTarget(base string, u *url.URL) string {
	base = strings.TrimSpace(base)
	if base == "" {
		return ""
	}
	resolvedPath, rule := f.pathStrategy.resolve(u.EscapedPath())
	target := strings.TrimSuffix(base, "/") + resolvedPath
	if u.RawQuery != "" {
		target += "?" + u.RawQuery
	}
	if rule != "" {
		f.logger.Debug("Forward path strategy applied",
			"rule", rule,
			"original_path", u.Path,
			"resolved_path", resolvedPath,
		)
	}
	return target
}

// NewOutbound copies the incoming request for target. The body is only
// sent for state-changing methods.
func (f *Forwarder) NewOutbound(r *http.Request, body []byte, target string, duplicateCookies bool) Outbound {
	out := Outbound{
		Method: r.Method,
		URL:    target,
		Header: make(http.Header, len(r.Header)),
	}
	for key, values := range r.Header {
		if f.skipHeaders[strings.ToLower(key)] {
			continue
		}
		for _, value := range values {
			out.Header.Add(key, value)
		}
	}
	if duplicateCookies {
		if cookie := strings.Join(r.Header.Values("Cookie"), "; "); cookie != "" {
			out.Header.Set("Cookie", cookies.Duplicate(cookie))
		}
	}
	if r.Method != http.MethodGet && r.Method != http.MethodHead {
		out.Body = body
	}
	return out
}

// Do performs one upstream call. The returned record describes the call
// for the exchange log and is never nil. On a body read failure the partial
// result is returned together with the error.
func (f *Forwarder) Do(ctx context.Context, out Outbound) (*Result, *exchange.ProxyRecord, error) {
	record := &exchange.ProxyRecord{}

	f.mu.Lock()
	if f.closed {
		f.mu.Unlock()
		record.Error = ErrForwarderClosed.Error()
		return nil, record, ErrForwarderClosed
	}
	f.activeCalls++
	f.mu.Unlock()
	defer func() {
		f.mu.Lock()
		f.activeCalls--
		if f.activeCalls == 0 {
			f.cond.Broadcast()
		}
		f.mu.Unlock()
	}()

	// Get worker token (control concurrent count)
	select {
	case f.workerPool <- struct{}{}:
		defer func() { <-f.workerPool }()
	case <-ctx.Done():
		record.Error = ctx.Err().Error()
		return nil, record, ctx.Err()
	}

	var reader io.Reader
	if out.Body != nil {
		reader = bytes.NewReader(out.Body)
	}
	req, err := http.NewRequestWithContext(ctx, out.Method, out.URL, reader)
	if err != nil {
		err = fmt.Errorf("create upstream request failed: %w", err)
		record.Error = err.Error()
		return nil, record, err
	}
	req.Header = out.Header.Clone()
	if req.Header == nil {
		req.Header = http.Header{}
	}
	record.Request = exchange.NewRequestRecord(req, out.Body)

	started := time.Now()
	resp, err := f.client.Do(req)
	if err != nil {
		f.logger.Warn("Upstream request failed",
			"url", out.URL,
			"method", out.Method,
			"error", err,
		)
		err = fmt.Errorf("upstream request failed: %w", err)
		record.Error = err.Error()
		return nil, record, err
	}
	defer func() {
		if cerr := resp.Body.Close(); cerr != nil {
			f.logger.Warn("Failed to close response body", "error", cerr)
		}
	}()

	data, readErr := io.ReadAll(resp.Body)
	result := &Result{
		StatusCode: resp.StatusCode,
		Header:     resp.Header.Clone(),
		Body:       data,
		Partial:    readErr != nil,
	}
	record.Response = exchange.NewResponseRecord(resp.StatusCode, resp.Header, data)

	f.logger.Debug("Upstream request completed",
		"url", out.URL,
		"method", out.Method,
		"status", resp.StatusCode,
		"duration_ms", time.Since(started).Milliseconds(),
	)

	if readErr != nil {
		err = fmt.Errorf("read upstream response: %w", readErr)
		record.Error = err.Error()
		return result, record, err
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		record.Error = fmt.Sprintf("upstream returned status %d", resp.StatusCode)
	}
	return result, record, nil
}

// Relay forwards r to target and writes the upstream reply to w, applying
// the server's cookie rules. The exchange in r's context records the call.
func (f *Forwarder) Relay(w http.ResponseWriter, r *http.Request, body []byte, target string, settings routes.ServerSettings) {
	ex := exchange.FromContext(r.Context())
	if target == "" {
		ex.MarkError(ErrNoUpstream)
		writeError(w, http.StatusInternalServerError, ErrNoUpstream.Error())
		return
	}

	out := f.NewOutbound(r, body, target, settings.DuplicateCookies)
	// A client disconnect must not abort the upstream call; its reply is simply discarded.
	res, record, err := f.Do(context.WithoutCancel(r.Context()), out)
	ex.MarkProxy(record)

	if res == nil {
		status := http.StatusBadGateway
		if errors.Is(err, ErrForwarderClosed) {
			status = http.StatusServiceUnavailable
		}
		writeError(w, status, "upstream request failed")
		return
	}

	header := w.Header()
	for key, values := range res.Header {
		if responseSkipHeaders[strings.ToLower(key)] {
			continue
		}
		for _, value := range values {
			header.Add(key, value)
		}
	}
	f.cookies.Apply(header, cookies.Context{
		Settings: settings,
		Upstream: target,
		Host:     r.Host,
	})
	w.WriteHeader(res.StatusCode)
	if r.Method != http.MethodHead {
		_, _ = w.Write(res.Body)
	}
}

// Fallback answers a request no mock handled
func (f *Forwarder) Fallback(w http.ResponseWriter, r *http.Request, body []byte, settings routes.ServerSettings) {
	f.Relay(w, r, body, f.FallbackTarget(settings.ProxyBaseURL, r.URL), settings)
}

// Close waits for in-flight calls and releases idle connections
func (f *Forwarder) Close() {
	f.mu.Lock()
	if f.closed {
		f.mu.Unlock()
		return
	}
	f.closed = true
	for f.activeCalls > 0 {
		f.cond.Wait()
	}
	f.mu.Unlock()

	if transport, ok := f.client.Transport.(*http.Transport); ok {
		transport.CloseIdleConnections()
	}
}

func writeError(w http.ResponseWriter, status int, message string) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(map[string]string{"error": message})
}

func positiveOrDefault(value, def int) int {
	if value > 0 {
		return value
	}
	return def
}

func durationOrDefault(value, def time.Duration) time.Duration {
	if value > 0 {
		return value
	}
	return def
}
