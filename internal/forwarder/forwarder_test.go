package forwarder

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/funnyzak/mocktap/internal/logger"
	"github.com/funnyzak/mocktap/pkg/exchange"
	"github.com/funnyzak/mocktap/pkg/routes"
)

func newTestForwarder(t *testing.T) *Forwarder {
	t.Helper()
	f := NewForwarder(logger.Nop(), Options{Timeout: 5 * time.Second, MaxConcurrent: 4})
	t.Cleanup(f.Close)
	return f
}

func withExchange(r *http.Request) (*http.Request, *exchange.Exchange) {
	ex := exchange.New("main", r, nil)
	return r.WithContext(exchange.WithExchange(r.Context(), ex)), ex
}

func TestFallbackRelaysUpstream(t *testing.T) {
	var gotHost, gotCookie, gotBody, gotPath string
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotHost = r.Host
		gotCookie = r.Header.Get("Cookie")
		gotPath = r.URL.RequestURI()
		body, _ := io.ReadAll(r.Body)
		gotBody = string(body)
		w.Header().Set("X-Upstream", "yes")
		w.Header().Add("Set-Cookie", "session=abc; Domain=api.example.com; Path=/")
		w.WriteHeader(http.StatusCreated)
		_, _ = w.Write([]byte(`{"ok":true}`))
	}))
	defer upstream.Close()

	f := newTestForwarder(t)
	req := httptest.NewRequest(http.MethodPost, "http://localhost:3000/users/?page=2", strings.NewReader(`{"a":1}`))
	req.Header.Set("Cookie", "a=1")
	req, ex := withExchange(req)
	rec := httptest.NewRecorder()

	f.Fallback(rec, req, []byte(`{"a":1}`), routes.ServerSettings{
		ProxyBaseURL:     upstream.URL + "/",
		DuplicateCookies: true,
		SimplifyCookies:  true,
	})

	if rec.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d", rec.Code)
	}
	if rec.Body.String() != `{"ok":true}` {
		t.Fatalf("unexpected body %s", rec.Body.String())
	}
	if rec.Header().Get("X-Upstream") != "yes" {
		t.Fatalf("upstream header not relayed")
	}
	if rec.Header().Get("Set-Cookie") != "session=abc" {
		t.Fatalf("cookie not simplified: %q", rec.Header().Get("Set-Cookie"))
	}
	if gotPath != "/users/?page=2" {
		t.Fatalf("unexpected upstream path %s", gotPath)
	}
	if gotBody != `{"a":1}` {
		t.Fatalf("unexpected upstream body %s", gotBody)
	}
	if gotCookie != "a=1;a=1" {
		t.Fatalf("expected duplicated cookie, got %q", gotCookie)
	}
	if strings.Contains(gotHost, "localhost:3000") {
		t.Fatalf("host header must not be forwarded, got %s", gotHost)
	}
	if ex.Kind() != exchange.KindProxy {
		t.Fatalf("expected proxy kind, got %s", ex.Kind())
	}
	if p := ex.Proxy(); p == nil || p.Response == nil || p.Response.Status != http.StatusCreated {
		t.Fatalf("proxy record missing: %+v", p)
	}
}

func TestFallbackWithoutUpstream(t *testing.T) {
	f := newTestForwarder(t)
	req, ex := withExchange(httptest.NewRequest(http.MethodGet, "/nothing", nil))
	rec := httptest.NewRecorder()

	f.Fallback(rec, req, nil, routes.ServerSettings{})

	if rec.Code != http.StatusInternalServerError {
		t.Fatalf("expected 500, got %d", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), ErrNoUpstream.Error()) {
		t.Fatalf("unexpected body %s", rec.Body.String())
	}
	if ex.Kind() != exchange.KindError {
		t.Fatalf("expected error kind, got %s", ex.Kind())
	}
}

func TestFallbackNetworkFailure(t *testing.T) {
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	base := upstream.URL
	upstream.Close()

	f := newTestForwarder(t)
	req, ex := withExchange(httptest.NewRequest(http.MethodGet, "/x", nil))
	rec := httptest.NewRecorder()

	f.Fallback(rec, req, nil, routes.ServerSettings{ProxyBaseURL: base})

	if rec.Code != http.StatusBadGateway {
		t.Fatalf("expected 502, got %d", rec.Code)
	}
	if ex.Kind() != exchange.KindError || ex.Proxy() == nil || ex.Proxy().Error == "" {
		t.Fatalf("expected error exchange with proxy record")
	}
}

func TestUpstreamErrorStatusIsRelayedAndTagged(t *testing.T) {
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "nope", http.StatusNotFound)
	}))
	defer upstream.Close()

	f := newTestForwarder(t)
	req, ex := withExchange(httptest.NewRequest(http.MethodGet, "/missing", nil))
	rec := httptest.NewRecorder()

	f.Relay(rec, req, nil, upstream.URL+"/missing", routes.ServerSettings{})

	if rec.Code != http.StatusNotFound || !strings.Contains(rec.Body.String(), "nope") {
		t.Fatalf("upstream status not relayed: %d %s", rec.Code, rec.Body.String())
	}
	if ex.Kind() != exchange.KindError {
		t.Fatalf("non-2xx upstream must be tagged error, got %s", ex.Kind())
	}
}

func TestGetBodyNotForwarded(t *testing.T) {
	f := newTestForwarder(t)
	req := httptest.NewRequest(http.MethodGet, "/x", nil)
	out := f.NewOutbound(req, []byte("ignored"), "http://upstream/x", false)
	if out.Body != nil {
		t.Fatalf("GET must not carry a body")
	}
	req = httptest.NewRequest(http.MethodPut, "/x", nil)
	out = f.NewOutbound(req, []byte("kept"), "http://upstream/x", false)
	if string(out.Body) != "kept" {
		t.Fatalf("PUT body lost")
	}
}

func TestFallbackTargetUsesPathStrategy(t *testing.T) {
	f := NewForwarder(logger.Nop(), Options{PathStrategy: PathStrategyOptions{Mode: "strip_prefix", StripPrefix: "/mock"}})
	defer f.Close()

	u, _ := url.Parse("/mock/users?id=1")
	if got := f.FallbackTarget("https://api.example.com/", u); got != "https://api.example.com/users?id=1" {
		t.Fatalf("unexpected target %s", got)
	}
	if got := f.FallbackTarget("", u); got != "" {
		t.Fatalf("expected empty target without base, got %s", got)
	}
}

func TestDoRespectsWorkerPool(t *testing.T) {
	var inFlight, peak int32
	release := make(chan struct{})
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		n := atomic.AddInt32(&inFlight, 1)
		for {
			p := atomic.LoadInt32(&peak)
			if n <= p || atomic.CompareAndSwapInt32(&peak, p, n) {
				break
			}
		}
		<-release
		atomic.AddInt32(&inFlight, -1)
	}))
	defer upstream.Close()

	f := NewForwarder(logger.Nop(), Options{MaxConcurrent: 2, Timeout: 5 * time.Second})
	defer f.Close()

	done := make(chan struct{}, 5)
	for i := 0; i < 5; i++ {
		go func() {
			_, _, _ = f.Do(context.Background(), Outbound{Method: http.MethodGet, URL: upstream.URL})
			done <- struct{}{}
		}()
	}
	time.Sleep(200 * time.Millisecond)
	close(release)
	for i := 0; i < 5; i++ {
		<-done
	}
	if atomic.LoadInt32(&peak) > 2 {
		t.Fatalf("expected at most 2 concurrent upstream calls, got %d", peak)
	}
}

func TestDoAfterClose(t *testing.T) {
	f := NewForwarder(logger.Nop(), Options{})
	f.Close()
	_, record, err := f.Do(context.Background(), Outbound{Method: http.MethodGet, URL: "http://127.0.0.1:1"})
	if !errors.Is(err, ErrForwarderClosed) || record == nil || record.Error == "" {
		t.Fatalf("expected closed error with record, got %v %+v", err, record)
	}
}
