package printer

import (
	"bytes"
	"fmt"
	"io"
	"net/http"
	"os"
	"sort"
	"strconv"
	"strings"
	"sync"
	"unicode/utf8"

	"github.com/dustin/go-humanize"
	"github.com/fatih/color"
	"github.com/funnyzak/mocktap/internal/logger"
	"github.com/funnyzak/mocktap/pkg/exchange"
	"golang.org/x/term"
)

// ColorScheme color scheme
type ColorScheme struct {
	MethodGET      *color.Color
	MethodPOST     *color.Color
	MethodPUT      *color.Color
	MethodDELETE   *color.Color
	MethodPATCH    *color.Color
	HeaderKey      *color.Color
	HeaderValue    *color.Color
	Separator      *color.Color
	BodyContent    *color.Color
	BinaryNotice   *color.Color
	TruncateNotice *color.Color
	RemoteAddr     *color.Color
	Query          *color.Color
	KindLocal      *color.Color
	KindProxy      *color.Color
	KindError      *color.Color
	StatusOK       *color.Color
	StatusRedirect *color.Color
	StatusFailure  *color.Color
}

// NewColorScheme creates a new color scheme
func NewColorScheme() *ColorScheme {
	return &ColorScheme{
		MethodGET:      color.New(color.FgBlue, color.Bold),
		MethodPOST:     color.New(color.FgGreen, color.Bold),
		MethodPUT:      color.New(color.FgYellow, color.Bold),
		MethodDELETE:   color.New(color.FgRed, color.Bold),
		MethodPATCH:    color.New(color.FgMagenta, color.Bold),
		HeaderKey:      color.New(color.FgCyan),
		HeaderValue:    color.New(color.FgWhite),
		Separator:      color.New(color.FgYellow, color.Bold),
		BodyContent:    color.New(color.FgWhite),
		BinaryNotice:   color.New(color.FgHiRed, color.Bold),
		TruncateNotice: color.New(color.FgHiYellow, color.Bold),
		RemoteAddr:     color.New(color.FgHiBlue),
		Query:          color.New(color.FgHiMagenta),
		KindLocal:      color.New(color.FgGreen, color.Bold),
		KindProxy:      color.New(color.FgCyan, color.Bold),
		KindError:      color.New(color.FgRed, color.Bold),
		StatusOK:       color.New(color.FgGreen),
		StatusRedirect: color.New(color.FgYellow),
		StatusFailure:  color.New(color.FgRed),
	}
}

// ConsolePrinter prints events as raw HTTP messages
type ConsolePrinter struct {
	colorScheme *ColorScheme
	logger      logger.Logger

	mu  sync.Mutex
	out io.Writer
}

// NewConsolePrinter creates a new console printer
func NewConsolePrinter(log logger.Logger) *ConsolePrinter {
	return &ConsolePrinter{
		colorScheme: NewColorScheme(),
		logger:      log,
		out:         os.Stdout,
	}
}

// SetOutput replaces the output target
func (p *ConsolePrinter) SetOutput(w io.Writer) {
	if w == nil {
		w = os.Stdout
	}
	p.mu.Lock()
	p.out = w
	p.mu.Unlock()
}

// getTerminalWidth gets the current terminal width with fallback
func (p *ConsolePrinter) getTerminalWidth() int {
	if testWidth := os.Getenv("MOCKTAP_TEST_WIDTH"); testWidth != "" {
		if width, err := strconv.Atoi(testWidth); err == nil {
			return clampWidth(width)
		}
	}

	width, _, err := term.GetSize(int(os.Stdout.Fd()))
	if err != nil {
		return 80
	}
	return clampWidth(width)
}

func clampWidth(width int) int {
	switch {
	case width < 40:
		return 40
	case width > 150:
		return 150
	default:
		return width
	}
}

// wrapText wraps text to fit within the specified width, preserving words
func wrapText(text string, maxWidth int) []string {
	words := strings.Fields(text)
	if len(words) == 0 {
		return []string{""}
	}
	if maxWidth <= 0 {
		return []string{text}
	}

	var lines []string
	currentLine := words[0]
	currentWidth := utf8.RuneCountInString(currentLine)

	for _, word := range words[1:] {
		wordWidth := utf8.RuneCountInString(word)
		if currentWidth+1+wordWidth > maxWidth {
			lines = append(lines, currentLine)
			currentLine = word
			currentWidth = wordWidth
			continue
		}
		currentLine += " " + word
		currentWidth += 1 + wordWidth
	}
	return append(lines, currentLine)
}

// PrintEvent prints the request, the reply and the upstream call if any.
// The whole block is rendered first so concurrent events never interleave.
func (p *ConsolePrinter) PrintEvent(ev *exchange.Event) error {
	if ev == nil || ev.Request == nil {
		return nil
	}
	num := nextEventNumber()
	width := p.getTerminalWidth()

	var buf bytes.Buffer
	p.printSummary(&buf, num, ev, width)
	p.printRequestLine(&buf, ev.Request)
	p.printHeaders(&buf, ev.Request.Headers, width)
	fmt.Fprintln(&buf)
	p.printBody(&buf, ev.Request.ContentType, ev.Request.Body, ev.Request.Size, ev.Request.IsBinary)

	if ev.Proxy != nil && ev.Proxy.Request != nil {
		fmt.Fprintln(&buf)
		fmt.Fprint(&buf, "Upstream: ")
		p.colorScheme.KindProxy.Fprint(&buf, ev.Proxy.Request.Method+" "+ev.Proxy.Request.URL)
		if ev.Proxy.Response != nil {
			fmt.Fprint(&buf, " -> ")
			p.statusColor(ev.Proxy.Response.Status).Fprint(&buf, ev.Proxy.Response.Status)
		}
		fmt.Fprintln(&buf)
	}

	if ev.Response != nil {
		fmt.Fprintln(&buf)
		p.printStatusLine(&buf, ev.Response.Status)
		p.printHeaders(&buf, ev.Response.Headers, width)
		fmt.Fprintln(&buf)
		p.printBody(&buf, ev.Response.ContentType, ev.Response.Body, ev.Response.Size, ev.Response.IsBinary)
	}
	fmt.Fprintln(&buf)

	p.mu.Lock()
	defer p.mu.Unlock()
	if _, err := p.out.Write(buf.Bytes()); err != nil {
		if p.logger != nil {
			p.logger.Error("Failed to print event", "error", err, "request_id", ev.Metadata.ID)
		}
		return err
	}
	return nil
}

func (p *ConsolePrinter) printSummary(w io.Writer, num uint64, ev *exchange.Event, width int) {
	separator := strings.Repeat("-", width)
	p.colorScheme.Separator.Fprintln(w, separator)
	p.colorScheme.Separator.Fprintf(w, "Exchange #%d  %s  ", num, ev.Timestamp.Format("2006-01-02T15:04:05-07:00"))
	p.kindColor(ev.Metadata.Kind).Fprintf(w, "[%s]", strings.ToUpper(string(ev.Metadata.Kind)))
	if ev.Metadata.ServerName != "" {
		fmt.Fprintf(w, "  %s", ev.Metadata.ServerName)
	}
	fmt.Fprintln(w)
	p.printMetadataLine(w, ev)
	p.colorScheme.Separator.Fprintln(w, separator)
	fmt.Fprintln(w)
}

func (p *ConsolePrinter) printMetadataLine(w io.Writer, ev *exchange.Event) {
	req := ev.Request
	parts := []string{"ID: " + ev.Metadata.ID}
	if req.RemoteAddr != "" {
		parts = append(parts, "Remote: "+p.colorScheme.RemoteAddr.Sprint(req.RemoteAddr))
	}
	if req.UserAgent != "" {
		parts = append(parts, "UA: "+req.UserAgent)
	}
	parts = append(parts, fmt.Sprintf("Took: %dms", ev.Metadata.DurationMs))
	if ev.Metadata.Error != "" {
		parts = append(parts, "Error: "+p.colorScheme.KindError.Sprint(ev.Metadata.Error))
	}
	fmt.Fprintln(w, strings.Join(parts, " | "))
}

func (p *ConsolePrinter) printRequestLine(w io.Writer, req *exchange.RequestRecord) {
	method := strings.ToUpper(req.Method)
	path := req.Path
	if path == "" {
		path = "/"
	}
	proto := req.Proto
	if proto == "" {
		proto = "HTTP/1.1"
	}

	p.methodColor(method).Fprintf(w, "%s ", method)
	fmt.Fprint(w, path)
	if req.Query != "" {
		fmt.Fprint(w, "?")
		p.colorScheme.Query.Fprint(w, req.Query)
	}
	fmt.Fprintf(w, " %s\n", proto)
}

func (p *ConsolePrinter) printStatusLine(w io.Writer, status int) {
	fmt.Fprint(w, "HTTP/1.1 ")
	p.statusColor(status).Fprintf(w, "%d %s\n", status, http.StatusText(status))
}

func (p *ConsolePrinter) printHeaders(w io.Writer, headers http.Header, width int) {
	keys := make([]string, 0, len(headers))
	for key := range headers {
		if skipHeaders[strings.ToLower(key)] {
			continue
		}
		keys = append(keys, key)
	}
	sort.Strings(keys)

	for _, key := range keys {
		value := strings.Join(headers[key], ", ")
		if sensitiveHeaders[strings.ToLower(key)] {
			value = "[REDACTED]"
		}
		p.printHeaderLine(w, key, value, width)
	}
}

func (p *ConsolePrinter) printHeaderLine(w io.Writer, key, value string, width int) {
	prefix := key + ": "
	available := width - utf8.RuneCountInString(prefix)
	if available < 20 {
		available = 20
	}

	lines := wrapText(value, available)
	p.colorScheme.HeaderKey.Fprint(w, prefix)
	p.colorScheme.HeaderValue.Fprintln(w, lines[0])

	indent := strings.Repeat(" ", utf8.RuneCountInString(prefix))
	for _, line := range lines[1:] {
		fmt.Fprint(w, indent)
		p.colorScheme.HeaderValue.Fprintln(w, line)
	}
}

func (p *ConsolePrinter) printBody(w io.Writer, contentType, body string, size int64, binary bool) {
	if size < int64(len(body)) {
		size = int64(len(body))
	}
	readable := humanize.Bytes(uint64(size))

	if binary {
		p.colorScheme.BinaryNotice.Fprintf(w, "[Binary Body: %s, %s. Content skipped.]\n", contentType, readable)
		return
	}
	if body == "" {
		p.colorScheme.BodyContent.Fprintf(w, "[Empty Body - %s]\n", readable)
		return
	}

	formatted := formatBody(contentType, body)
	for _, notice := range formatted.Notices {
		p.colorScheme.TruncateNotice.Fprintln(w, notice)
	}
	for _, line := range strings.Split(formatted.Text, "\n") {
		p.colorScheme.BodyContent.Fprintln(w, strings.TrimRight(line, "\r"))
	}
}

func (p *ConsolePrinter) methodColor(method string) *color.Color {
	switch method {
	case http.MethodGet:
		return p.colorScheme.MethodGET
	case http.MethodPost:
		return p.colorScheme.MethodPOST
	case http.MethodPut:
		return p.colorScheme.MethodPUT
	case http.MethodDelete:
		return p.colorScheme.MethodDELETE
	case http.MethodPatch:
		return p.colorScheme.MethodPATCH
	default:
		return color.New(color.FgWhite, color.Bold)
	}
}

func (p *ConsolePrinter) kindColor(kind exchange.Kind) *color.Color {
	switch kind {
	case exchange.KindProxy:
		return p.colorScheme.KindProxy
	case exchange.KindError:
		return p.colorScheme.KindError
	default:
		return p.colorScheme.KindLocal
	}
}

func (p *ConsolePrinter) statusColor(status int) *color.Color {
	switch {
	case status >= 400:
		return p.colorScheme.StatusFailure
	case status >= 300:
		return p.colorScheme.StatusRedirect
	default:
		return p.colorScheme.StatusOK
	}
}

var sensitiveHeaders = map[string]bool{
	"authorization":   true,
	"cookie":          true,
	"set-cookie":      true,
	"x-api-key":       true,
	"x-auth-token":    true,
	"x-csrf-token":    true,
	"x-session-token": true,
}

var skipHeaders = map[string]bool{
	"connection":        true,
	"keep-alive":        true,
	"proxy-connection":  true,
	"te":                true,
	"trailer":           true,
	"transfer-encoding": true,
	"upgrade":           true,
}
