package exchange

import (
	"net/http"
	"strings"
	"time"
)

// RequestRecord is the logged view of an HTTP request
type RequestRecord struct {
	Method      string      `json:"method"`
	URL         string      `json:"url"`
	Path        string      `json:"path"`
	Query       string      `json:"query,omitempty"`
	Proto       string      `json:"proto,omitempty"`
	RemoteAddr  string      `json:"remote_addr,omitempty"`
	UserAgent   string      `json:"user_agent,omitempty"`
	Headers     http.Header `json:"headers"`
	Body        string      `json:"body,omitempty"`
	ContentType string      `json:"content_type,omitempty"`
	IsBinary    bool        `json:"is_binary"`
	Size        int64       `json:"size"`
}

// ResponseRecord is the logged view of a reply
type ResponseRecord struct {
	Status      int         `json:"status"`
	Headers     http.Header `json:"headers"`
	Body        string      `json:"body,omitempty"`
	ContentType string      `json:"content_type,omitempty"`
	IsBinary    bool        `json:"is_binary"`
	Size        int64       `json:"size"`
}

// Metadata identifies the exchange an event belongs to
type Metadata struct {
	ID         string `json:"id"`
	ServerName string `json:"serverName"`
	Kind       Kind   `json:"kind"`
	Error      string `json:"error,omitempty"`
	DurationMs int64  `json:"duration_ms"`
}

// Event is the single log emission of a completed request
type Event struct {
	Metadata  Metadata        `json:"metadata"`
	Request   *RequestRecord  `json:"request"`
	Response  *ResponseRecord `json:"response"`
	Proxy     *ProxyRecord    `json:"proxy,omitempty"`
	Timestamp time.Time       `json:"timestamp"`
}

// NewRequestRecord snapshots r with an already read body
func NewRequestRecord(r *http.Request, body []byte) *RequestRecord {
	contentType := r.Header.Get("Content-Type")
	binary := isBinaryContent(contentType, body)
	rec := &RequestRecord{
		Method:      r.Method,
		URL:         r.URL.String(),
		Path:        r.URL.Path,
		Query:       r.URL.RawQuery,
		Proto:       r.Proto,
		RemoteAddr:  getClientIP(r),
		UserAgent:   r.UserAgent(),
		Headers:     r.Header.Clone(),
		ContentType: contentType,
		IsBinary:    binary,
		Size:        int64(len(body)),
	}
	if !binary {
		rec.Body = string(body)
	}
	return rec
}

// NewResponseRecord snapshots a reply
func NewResponseRecord(status int, headers http.Header, body []byte) *ResponseRecord {
	if status == 0 {
		status = http.StatusOK
	}
	contentType := headers.Get("Content-Type")
	binary := isBinaryContent(contentType, body)
	rec := &ResponseRecord{
		Status:      status,
		Headers:     headers.Clone(),
		ContentType: contentType,
		IsBinary:    binary,
		Size:        int64(len(body)),
	}
	if rec.Headers == nil {
		rec.Headers = http.Header{}
	}
	if !binary {
		rec.Body = string(body)
	}
	return rec
}

// getClientIP gets client real IP address
func getClientIP(r *http.Request) string {
	if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
		if idx := strings.IndexByte(xff, ','); idx >= 0 {
			return strings.TrimSpace(xff[:idx])
		}
		return strings.TrimSpace(xff)
	}

	if xri := r.Header.Get("X-Real-IP"); xri != "" {
		return xri
	}

	if idx := strings.LastIndexByte(r.RemoteAddr, ':'); idx >= 0 && !strings.HasSuffix(r.RemoteAddr, "]") {
		if strings.Count(r.RemoteAddr, ":") == 1 || strings.HasPrefix(r.RemoteAddr, "[") {
			return strings.Trim(r.RemoteAddr[:idx], "[]")
		}
	}

	return r.RemoteAddr
}

// isBinaryContent detects if it's binary content
func isBinaryContent(contentType string, body []byte) bool {
	binaryTypes := []string{
		"image/", "video/", "audio/",
		"application/octet-stream",
		"application/zip", "application/gzip",
		"application/pdf", "application/msword",
		"application/vnd.ms-", "application/vnd.openxmlformats-",
	}

	for _, binaryType := range binaryTypes {
		if strings.HasPrefix(contentType, binaryType) {
			return true
		}
	}

	nullCount := 0
	for _, b := range body {
		if b == 0 {
			nullCount++
		}
	}
	return len(body) > 0 && nullCount > len(body)/10
}
