package exchange

import (
	"context"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Kind tags how a request was answered
type Kind string

const (
	KindLocal Kind = "local"
	KindProxy Kind = "proxy"
	KindError Kind = "error"
)

// Exchange is the correlation entry of a single request. It lives in the
// request context and is discarded once its Event has been emitted.
type Exchange struct {
	ID         string
	ServerName string
	StartedAt  time.Time
	Request    *RequestRecord

	mu      sync.Mutex
	kind    Kind
	failure string
	proxy   *ProxyRecord
}

// ProxyRecord captures the outbound upstream call, if any
type ProxyRecord struct {
	Request  *RequestRecord  `json:"request"`
	Response *ResponseRecord `json:"response,omitempty"`
	Error    string          `json:"error,omitempty"`
}

type contextKey struct{}

// New creates the correlation entry for an incoming request
func New(serverName string, r *http.Request, body []byte) *Exchange {
	return &Exchange{
		ID:         generateID(),
		ServerName: serverName,
		StartedAt:  time.Now(),
		Request:    NewRequestRecord(r, body),
		kind:       KindLocal,
	}
}

// WithExchange stores ex in ctx
func WithExchange(ctx context.Context, ex *Exchange) context.Context {
	return context.WithValue(ctx, contextKey{}, ex)
}

// FromContext returns the request's exchange or nil
func FromContext(ctx context.Context) *Exchange {
	if ctx == nil {
		return nil
	}
	ex, _ := ctx.Value(contextKey{}).(*Exchange)
	return ex
}

// MarkLocal records that a mock answered
func (e *Exchange) MarkLocal() {
	if e == nil {
		return
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.kind != KindError {
		e.kind = KindLocal
	}
}

// MarkProxy records an upstream round trip. A failed round trip marks the
// exchange as an error.
func (e *Exchange) MarkProxy(rec *ProxyRecord) {
	if e == nil {
		return
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	e.proxy = rec
	if rec != nil && rec.Error != "" {
		e.kind = KindError
		e.failure = rec.Error
		return
	}
	if e.kind != KindError {
		e.kind = KindProxy
	}
}

// MarkError records a local or upstream failure. The first failure wins.
func (e *Exchange) MarkError(err error) {
	if e == nil {
		return
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	e.kind = KindError
	if e.failure == "" && err != nil {
		e.failure = err.Error()
	}
}

// Kind returns the current resolution tag
func (e *Exchange) Kind() Kind {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.kind
}

// Failure returns the recorded error message, if any
func (e *Exchange) Failure() string {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.failure
}

// Proxy returns the recorded upstream call, if any
func (e *Exchange) Proxy() *ProxyRecord {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.proxy
}

// Event builds the log event for the reply that is about to be flushed
func (e *Exchange) Event(status int, headers http.Header, body []byte) *Event {
	e.mu.Lock()
	defer e.mu.Unlock()
	return &Event{
		Metadata: Metadata{
			ID:         e.ID,
			ServerName: e.ServerName,
			Kind:       e.kind,
			Error:      e.failure,
			DurationMs: time.Since(e.StartedAt).Milliseconds(),
		},
		Request:   e.Request,
		Response:  NewResponseRecord(status, headers, body),
		Proxy:     e.proxy,
		Timestamp: time.Now(),
	}
}

// generateID creates an upper-case, dash-free correlation id
func generateID() string {
	return strings.ToUpper(strings.ReplaceAll(uuid.NewString(), "-", ""))
}
