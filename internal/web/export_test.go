package web

import (
	"bytes"
	"encoding/csv"
	"encoding/json"
	"strings"
	"testing"

	"github.com/funnyzak/mocktap/pkg/exchange"
)

func iterOf(items ...*StoredEvent) EventIterator {
	return func(yield func(*StoredEvent) bool) error {
		for _, it := range items {
			if !yield(it) {
				return nil
			}
		}
		return nil
	}
}

func TestStreamExportJSON(t *testing.T) {
	buf := &bytes.Buffer{}
	ct, ext, err := StreamExport(buf, iterOf(
		fakeEvent("E1", "GET", "/a", "main", exchange.KindLocal),
		fakeEvent("E2", "POST", "/b", "main", exchange.KindProxy),
	), "json")
	if err != nil {
		t.Fatalf("stream export failed: %v", err)
	}
	if ct != "application/json" || ext != "json" {
		t.Fatalf("unexpected metadata: %s %s", ct, ext)
	}

	var decoded []map[string]interface{}
	if err := json.Unmarshal(buf.Bytes(), &decoded); err != nil {
		t.Fatalf("invalid json: %v", err)
	}
	if len(decoded) != 2 || decoded[0]["id"] != "E1" {
		t.Fatalf("unexpected export: %s", buf.String())
	}
}

func TestStreamExportEmptyJSON(t *testing.T) {
	buf := &bytes.Buffer{}
	if _, _, err := StreamExport(buf, iterOf(), "json"); err != nil {
		t.Fatalf("stream export failed: %v", err)
	}
	if buf.String() != "[]" {
		t.Fatalf("expected empty array, got %q", buf.String())
	}
}

func TestStreamExportCSV(t *testing.T) {
	ev := fakeEvent("E1", "GET", "/a", "main", exchange.KindProxy)
	ev.Request.Query = "x=1"
	ev.Metadata.DurationMs = 12
	ev.Proxy = &exchange.ProxyRecord{Request: &exchange.RequestRecord{URL: "http://up/a"}}

	buf := &bytes.Buffer{}
	ct, ext, err := StreamExport(buf, iterOf(ev), "CSV")
	if err != nil {
		t.Fatalf("stream export failed: %v", err)
	}
	if ct != "text/csv" || ext != "csv" {
		t.Fatalf("unexpected metadata: %s %s", ct, ext)
	}

	rows, err := csv.NewReader(strings.NewReader(buf.String())).ReadAll()
	if err != nil {
		t.Fatalf("invalid csv: %v", err)
	}
	if len(rows) != 2 {
		t.Fatalf("expected header and one row, got %d", len(rows))
	}
	want := []string{"E1", "1970-01-01T00:00:00Z", "main", "proxy", "GET", "/a", "x=1", "200", "12", "http://up/a", ""}
	for i, v := range want {
		if rows[1][i] != v {
			t.Fatalf("column %s: got %q want %q", csvHeader[i], rows[1][i], v)
		}
	}
}

func TestStreamExportUnknownFormat(t *testing.T) {
	if _, _, err := StreamExport(&bytes.Buffer{}, iterOf(), "xml"); err == nil {
		t.Fatal("expected error for unsupported format")
	}
}
