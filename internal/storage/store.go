package storage

import (
	"errors"

	"github.com/funnyzak/mocktap/internal/config"
	"github.com/funnyzak/mocktap/internal/logger"
	"github.com/funnyzak/mocktap/pkg/exchange"
)

// ErrNotFound indicates no event carries the requested id.
var ErrNotFound = errors.New("event not found")

// ListOptions controls filtering and pagination when fetching events.
type ListOptions struct {
	Search string
	Method string
	Kind   string
	Server string
	Limit  int
	Offset int
}

// StoredEvent wraps an emitted Event with its persisted identifier.
type StoredEvent struct {
	ID string `json:"id"`
	*exchange.Event
}

// Store defines the persistence contract for emitted request events.
type Store interface {
	Record(*exchange.Event) (*StoredEvent, error)
	List(ListOptions) ([]*StoredEvent, int, error)
	Iterate(ListOptions, func(*StoredEvent) bool) error
	Get(string) (*StoredEvent, error)
	Close() error
}

// New instantiates the sqlite event store.
func New(cfg *config.StorageConfig, log logger.Logger) (Store, error) {
	if cfg == nil {
		return nil, errors.New("storage config is nil")
	}
	return newSQLiteStore(cfg, log)
}
