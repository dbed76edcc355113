package web

import (
	"github.com/funnyzak/mocktap/internal/server"
	"github.com/funnyzak/mocktap/internal/storage"
)

// StoredEvent is storage.StoredEvent, reused by the in-memory ring.
type StoredEvent = storage.StoredEvent

// ListOptions is storage.ListOptions.
type ListOptions = storage.ListOptions

// StatusSource reports the running mock servers
type StatusSource interface {
	Status() []server.Status
}

// StatusFunc adapts a function to StatusSource
type StatusFunc func() []server.Status

// Status calls f.
func (f StatusFunc) Status() []server.Status {
	return f()
}
