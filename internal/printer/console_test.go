package printer

import (
	"bytes"
	"net/http"
	"strings"
	"testing"
	"time"

	"github.com/fatih/color"
	"github.com/funnyzak/mocktap/internal/logger"
	"github.com/funnyzak/mocktap/pkg/exchange"
)

func init() {
	color.NoColor = true
}

func sampleEvent() *exchange.Event {
	return &exchange.Event{
		Metadata: exchange.Metadata{ID: "ABC123", ServerName: "main", Kind: exchange.KindLocal, DurationMs: 3},
		Request: &exchange.RequestRecord{
			Method:  "GET",
			Path:    "/hello",
			Query:   "q=1",
			Proto:   "HTTP/1.1",
			Headers: http.Header{"User-Agent": {"test"}, "Authorization": {"secret"}},
			Body:    "hi",
			Size:    2,
		},
		Response: &exchange.ResponseRecord{
			Status:      http.StatusOK,
			Headers:     http.Header{"Content-Type": {"application/json"}},
			Body:        `{"foo":"bar","nested":{"a":1}}`,
			ContentType: "application/json",
		},
		Timestamp: time.Now(),
	}
}

func newTestConsole(t *testing.T) (*ConsolePrinter, *bytes.Buffer) {
	t.Helper()
	t.Setenv("MOCKTAP_TEST_WIDTH", "80")
	p := NewConsolePrinter(logger.Nop())
	buf := &bytes.Buffer{}
	p.SetOutput(buf)
	return p, buf
}

func TestConsolePrinter_PrintEvent(t *testing.T) {
	p, buf := newTestConsole(t)
	if err := p.PrintEvent(sampleEvent()); err != nil {
		t.Fatalf("print event failed: %v", err)
	}

	output := buf.String()
	for _, want := range []string{"Exchange #", "[LOCAL]", "ID: ABC123", "GET /hello?q=1 HTTP/1.1", "HTTP/1.1 200 OK"} {
		if !strings.Contains(output, want) {
			t.Fatalf("output missing %q:\n%s", want, output)
		}
	}
	if strings.Contains(output, "secret") {
		t.Fatalf("sensitive header should be redacted")
	}
	if !strings.Contains(output, "\n  \"foo\": \"bar\"") {
		t.Fatalf("expected pretty JSON reply, got %s", output)
	}
}

func TestConsolePrinter_ProxyAndError(t *testing.T) {
	p, buf := newTestConsole(t)
	ev := sampleEvent()
	ev.Metadata.Kind = exchange.KindError
	ev.Metadata.Error = "upstream returned status 502"
	ev.Proxy = &exchange.ProxyRecord{
		Request:  &exchange.RequestRecord{Method: "GET", URL: "http://upstream/hello"},
		Response: &exchange.ResponseRecord{Status: http.StatusBadGateway},
	}
	if err := p.PrintEvent(ev); err != nil {
		t.Fatalf("print event failed: %v", err)
	}
	output := buf.String()
	if !strings.Contains(output, "[ERROR]") || !strings.Contains(output, "Error: upstream returned status 502") {
		t.Fatalf("error kind missing:\n%s", output)
	}
	if !strings.Contains(output, "Upstream: GET http://upstream/hello -> 502") {
		t.Fatalf("proxy line missing:\n%s", output)
	}
}

func TestConsolePrinter_BinaryAndEmptyBodies(t *testing.T) {
	p, buf := newTestConsole(t)
	ev := sampleEvent()
	ev.Request.Body = ""
	ev.Request.Size = 0
	ev.Response.IsBinary = true
	ev.Response.ContentType = "image/png"
	ev.Response.Size = 2048
	if err := p.PrintEvent(ev); err != nil {
		t.Fatalf("print event failed: %v", err)
	}
	output := buf.String()
	if !strings.Contains(output, "[Empty Body - 0 B]") {
		t.Fatalf("empty body notice missing:\n%s", output)
	}
	if !strings.Contains(output, "[Binary Body: image/png, 2.0 kB. Content skipped.]") {
		t.Fatalf("binary notice missing:\n%s", output)
	}
}

func TestFormatBody(t *testing.T) {
	form := formatBody("application/x-www-form-urlencoded; charset=utf-8", "foo=bar&foo=baz&b=1")
	if form.Text != "b   = 1\nfoo = bar\nfoo = baz" {
		t.Fatalf("unexpected form layout: %q", form.Text)
	}

	plain := formatBody("text/plain", "{not json")
	if plain.Text != "{not json" {
		t.Fatalf("plain text should pass through, got %q", plain.Text)
	}

	sniffed := formatBody("", `[1,2]`)
	if sniffed.Text != "[\n  1,\n  2\n]" {
		t.Fatalf("expected JSON sniffing, got %q", sniffed.Text)
	}
}

func TestWrapText(t *testing.T) {
	lines := wrapText("alpha beta gamma delta", 11)
	want := []string{"alpha beta", "gamma delta"}
	if len(lines) != len(want) {
		t.Fatalf("unexpected wrap: %#v", lines)
	}
	for i := range want {
		if lines[i] != want[i] {
			t.Fatalf("unexpected wrap: %#v", lines)
		}
	}
}
