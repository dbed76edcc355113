package printer

import (
	"sync/atomic"

	"github.com/funnyzak/mocktap/internal/logger"
	"github.com/funnyzak/mocktap/pkg/exchange"
)

// Printer renders the event of a completed request
type Printer interface {
	PrintEvent(*exchange.Event) error
}

var globalEventCounter uint64

func nextEventNumber() uint64 {
	return atomic.AddUint64(&globalEventCounter, 1)
}

// New creates the printer for the given output mode
func New(mode string, log logger.Logger) Printer {
	switch mode {
	case "json":
		return NewJSONPrinter(log)
	default:
		return NewConsolePrinter(log)
	}
}
