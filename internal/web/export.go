package web

import (
	"encoding/csv"
	"encoding/json"
	"fmt"
	"io"
	"strconv"
	"strings"
	"time"
)

// EventIterator yields events until yield returns false
type EventIterator func(yield func(*StoredEvent) bool) error

// ExportFormats lists the formats StreamExport understands
var ExportFormats = []string{"csv", "json"}

// StreamExport writes events to w without buffering the whole result.
// It returns the content type and file extension of the format.
func StreamExport(w io.Writer, iter EventIterator, format string) (string, string, error) {
	switch strings.ToLower(format) {
	case "json":
		return "application/json", "json", exportJSON(w, iter)
	case "csv":
		return "text/csv", "csv", exportCSV(w, iter)
	default:
		return "", "", fmt.Errorf("unsupported export format: %s", format)
	}
}

func exportJSON(w io.Writer, iter EventIterator) error {
	if _, err := io.WriteString(w, "["); err != nil {
		return err
	}
	first := true
	var writeErr error
	err := iter(func(ev *StoredEvent) bool {
		data, err := json.Marshal(ev)
		if err != nil {
			writeErr = err
			return false
		}
		if !first {
			if _, err := io.WriteString(w, ","); err != nil {
				writeErr = err
				return false
			}
		}
		first = false
		if _, err := w.Write(data); err != nil {
			writeErr = err
			return false
		}
		return true
	})
	if err != nil {
		return err
	}
	if writeErr != nil {
		return writeErr
	}
	_, err = io.WriteString(w, "]")
	return err
}

var csvHeader = []string{
	"id", "timestamp", "server", "kind", "method", "path", "query",
	"status", "duration_ms", "upstream_url", "error",
}

func exportCSV(w io.Writer, iter EventIterator) error {
	writer := csv.NewWriter(w)
	if err := writer.Write(csvHeader); err != nil {
		return err
	}

	var writeErr error
	err := iter(func(ev *StoredEvent) bool {
		if writeErr = writer.Write(csvLine(ev)); writeErr != nil {
			return false
		}
		return true
	})
	if err != nil {
		return err
	}
	if writeErr != nil {
		return writeErr
	}

	writer.Flush()
	return writer.Error()
}

func csvLine(ev *StoredEvent) []string {
	var method, path, query, upstream string
	status := 0
	if ev.Request != nil {
		method, path, query = ev.Request.Method, ev.Request.Path, ev.Request.Query
	}
	if ev.Response != nil {
		status = ev.Response.Status
	}
	if ev.Proxy != nil && ev.Proxy.Request != nil {
		upstream = ev.Proxy.Request.URL
	}
	return []string{
		ev.ID,
		ev.Timestamp.UTC().Format(time.RFC3339Nano),
		ev.Metadata.ServerName,
		string(ev.Metadata.Kind),
		method,
		path,
		query,
		strconv.Itoa(status),
		strconv.FormatInt(ev.Metadata.DurationMs, 10),
		upstream,
		ev.Metadata.Error,
	}
}
