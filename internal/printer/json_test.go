package printer

import (
	"bytes"
	"encoding/json"
	"testing"

	"github.com/funnyzak/mocktap/internal/logger"
)

func TestJSONPrinter_PrintEvent(t *testing.T) {
	p := NewJSONPrinter(logger.Nop())
	buf := &bytes.Buffer{}
	p.SetOutput(buf)

	if err := p.PrintEvent(sampleEvent()); err != nil {
		t.Fatalf("print event failed: %v", err)
	}

	var decoded struct {
		Type  string `json:"type"`
		Event struct {
			Metadata struct {
				ID   string `json:"id"`
				Kind string `json:"kind"`
			} `json:"metadata"`
		} `json:"event"`
	}
	if err := json.Unmarshal(buf.Bytes(), &decoded); err != nil {
		t.Fatalf("invalid json: %v", err)
	}
	if decoded.Type != "exchange" {
		t.Fatalf("unexpected type: %v", decoded.Type)
	}
	if decoded.Event.Metadata.ID != "ABC123" || decoded.Event.Metadata.Kind != "local" {
		t.Fatalf("unexpected metadata: %+v", decoded.Event.Metadata)
	}
}

func TestNewSelectsMode(t *testing.T) {
	if _, ok := New("json", logger.Nop()).(*JSONPrinter); !ok {
		t.Fatal("expected JSON printer for json mode")
	}
	if _, ok := New("console", logger.Nop()).(*ConsolePrinter); !ok {
		t.Fatal("expected console printer by default")
	}
}
