package server

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/funnyzak/mocktap/internal/resolver"
	"github.com/funnyzak/mocktap/internal/storage"
	"github.com/funnyzak/mocktap/pkg/exchange"
)

// RequestIDHeader echoes the correlation id of every reply
const RequestIDHeader = "X-Request-Id"

var (
	errRequestBodyTooLarge = errors.New("request body exceeds configured limit")
	errMountUnavailable    = errors.New("route group unavailable")
)

// ServeHTTP runs the request pipeline: read the body, open the exchange,
// apply the server delay, route to a mock, a GraphQL mount or the fallback,
// emit the single event and only then flush the buffered reply.
func (e *Engine) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	for _, g := range e.graphs {
		if g.IsPlayground(r) {
			g.ServePlayground(w, r)
			return
		}
	}

	body, readErr := e.readRequestBody(r)
	ex := exchange.New(e.name, r, body)
	r = r.WithContext(exchange.WithExchange(r.Context(), ex))

	buf := newResponseBuffer()
	e.handle(buf, r, body, readErr)
	buf.Header().Set(RequestIDHeader, ex.ID)

	e.emit(r.Context(), ex.Event(buf.statusCode(), buf.header, buf.body.Bytes()))
	buf.flushTo(w)
}

func (e *Engine) handle(buf *responseBuffer, r *http.Request, body []byte, readErr error) {
	ex := exchange.FromContext(r.Context())
	defer func() {
		if rec := recover(); rec != nil {
			err := fmt.Errorf("handler panic: %v", rec)
			e.logger.Error("Request handler panicked", "request_id", ex.ID, "path", r.URL.Path, "error", err)
			ex.MarkError(err)
			buf.reset()
			resolver.WriteError(buf, http.StatusInternalServerError, "internal server error")
		}
	}()

	if readErr != nil {
		e.handleBodyReadError(buf, ex, readErr)
		return
	}

	e.delay(r.Context())
	e.route(buf, r, body)
}

// route tries the REST dispatcher, then the GraphQL mounts, then failed
// mounts and finally the proxy fallback
func (e *Engine) route(w http.ResponseWriter, r *http.Request, body []byte) {
	if e.dispatcher.Dispatch(w, r, body) {
		return
	}
	for _, g := range e.graphs {
		if !g.Matches(r) {
			continue
		}
		if g.Serve(w, r, body) {
			return
		}
		break
	}
	if me, ok := e.failedMount(r.URL.Path); ok {
		exchange.FromContext(r.Context()).MarkError(me)
		resolver.WriteError(w, http.StatusServiceUnavailable, fmt.Sprintf("%s: %s", errMountUnavailable, me.Path))
		return
	}
	e.forwarder.Fallback(w, r, body, e.settings)
}

// delay holds every reply for the server's configured milliseconds
func (e *Engine) delay(ctx context.Context) {
	if e.settings.Delay <= 0 {
		return
	}
	t := time.NewTimer(time.Duration(e.settings.Delay) * time.Millisecond)
	defer t.Stop()
	select {
	case <-t.C:
	case <-ctx.Done():
	}
}

// emit fans the event out to the logger and every configured sink and
// waits for all of them
func (e *Engine) emit(ctx context.Context, ev *exchange.Event) {
	e.logger.Info("Request handled",
		"request_id", ev.Metadata.ID,
		"kind", ev.Metadata.Kind,
		"method", ev.Request.Method,
		"path", ev.Request.Path,
		"status", ev.Response.Status,
		"duration_ms", ev.Metadata.DurationMs,
		"error", ev.Metadata.Error,
	)

	group, _ := errgroup.WithContext(ctx)

	if e.sinks.Printer != nil {
		group.Go(func() error {
			if err := e.sinks.Printer.PrintEvent(ev); err != nil {
				e.logger.Error("Failed to print event", "error", err, "request_id", ev.Metadata.ID)
			}
			return nil
		})
	}

	if e.sinks.Store != nil || e.sinks.Recorder != nil {
		group.Go(func() error {
			var stored *storage.StoredEvent
			if e.sinks.Store != nil {
				var err error
				stored, err = e.sinks.Store.Record(ev)
				if err != nil {
					e.logger.Error("Failed to persist event", "error", err, "request_id", ev.Metadata.ID)
				}
			}
			if stored == nil {
				stored = &storage.StoredEvent{ID: ev.Metadata.ID, Event: ev}
			}
			if e.sinks.Recorder != nil {
				e.sinks.Recorder.Record(stored)
			}
			return nil
		})
	}

	if err := group.Wait(); err != nil {
		e.logger.Warn("Event fan-out finished with errors", "error", err, "request_id", ev.Metadata.ID)
	}
}

func (e *Engine) readRequestBody(r *http.Request) ([]byte, error) {
	defer r.Body.Close()

	if e.maxBody <= 0 {
		return io.ReadAll(r.Body)
	}

	limited := io.LimitReader(r.Body, e.maxBody+1)
	body, err := io.ReadAll(limited)
	if err != nil {
		return nil, err
	}
	if int64(len(body)) > e.maxBody {
		return nil, errRequestBodyTooLarge
	}
	return body, nil
}

func (e *Engine) handleBodyReadError(w http.ResponseWriter, ex *exchange.Exchange, err error) {
	ex.MarkError(err)
	switch {
	case errors.Is(err, errRequestBodyTooLarge):
		e.logger.Warn("Request body exceeds configured limit",
			"request_id", ex.ID,
			"limit_bytes", e.maxBody,
		)
		resolver.WriteError(w, http.StatusRequestEntityTooLarge, "payload too large")
	default:
		e.logger.Error("Failed to read request body", "request_id", ex.ID, "error", err)
		resolver.WriteError(w, http.StatusBadRequest, "failed to read request body")
	}
}

// responseBuffer holds the reply until its event has been emitted
type responseBuffer struct {
	header http.Header
	status int
	body   bytes.Buffer
}

func newResponseBuffer() *responseBuffer {
	return &responseBuffer{header: http.Header{}}
}

func (b *responseBuffer) Header() http.Header {
	return b.header
}

func (b *responseBuffer) WriteHeader(status int) {
	if b.status == 0 {
		b.status = status
	}
}

func (b *responseBuffer) Write(p []byte) (int, error) {
	if b.status == 0 {
		b.status = http.StatusOK
	}
	return b.body.Write(p)
}

func (b *responseBuffer) statusCode() int {
	if b.status == 0 {
		return http.StatusOK
	}
	return b.status
}

func (b *responseBuffer) reset() {
	b.header = http.Header{}
	b.status = 0
	b.body.Reset()
}

func (b *responseBuffer) flushTo(w http.ResponseWriter) {
	dst := w.Header()
	for key, values := range b.header {
		dst[key] = values
	}
	w.WriteHeader(b.statusCode())
	if b.body.Len() > 0 {
		_, _ = w.Write(b.body.Bytes())
	}
}
