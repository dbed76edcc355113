package printer

import (
	"encoding/json"
	"io"
	"os"
	"sync"

	"github.com/funnyzak/mocktap/internal/logger"
	"github.com/funnyzak/mocktap/pkg/exchange"
)

// JSONPrinter writes one JSON line per event
type JSONPrinter struct {
	mu      sync.Mutex
	encoder *json.Encoder
	logger  logger.Logger
}

// NewJSONPrinter creates a JSON-lines printer on stdout
func NewJSONPrinter(log logger.Logger) *JSONPrinter {
	p := &JSONPrinter{logger: log}
	p.SetOutput(os.Stdout)
	return p
}

// SetOutput replaces the output target
func (p *JSONPrinter) SetOutput(w io.Writer) {
	if w == nil {
		w = os.Stdout
	}
	encoder := json.NewEncoder(w)
	encoder.SetEscapeHTML(false)
	p.mu.Lock()
	p.encoder = encoder
	p.mu.Unlock()
}

type jsonEventEnvelope struct {
	Type  string          `json:"type"`
	Seq   uint64          `json:"seq"`
	Event *exchange.Event `json:"event"`
}

// PrintEvent encodes the event as a single line
func (p *JSONPrinter) PrintEvent(ev *exchange.Event) error {
	env := jsonEventEnvelope{
		Type:  "exchange",
		Seq:   nextEventNumber(),
		Event: ev,
	}
	p.mu.Lock()
	err := p.encoder.Encode(env)
	p.mu.Unlock()
	if err != nil {
		if p.logger != nil {
			p.logger.Error("Failed to encode event JSON", "error", err)
		}
		return err
	}
	return nil
}
