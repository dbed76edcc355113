package web

import (
	"strings"
	"sync"
)

// EventStore keeps the most recent events in memory using a ring buffer.
// It backs the admin API when persistent storage is disabled.
type EventStore struct {
	mu    sync.RWMutex
	max   int
	items []*StoredEvent
}

// NewEventStore creates an EventStore with the provided capacity.
func NewEventStore(max int) *EventStore {
	if max < 1 {
		max = 1
	}

	return &EventStore{
		max:   max,
		items: make([]*StoredEvent, 0, max),
	}
}

// Add stores an event, dropping the oldest one when full.
func (s *EventStore) Add(ev *StoredEvent) {
	if ev == nil || ev.Event == nil {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	if len(s.items) >= s.max {
		s.items = append(s.items[1:], ev)
	} else {
		s.items = append(s.items, ev)
	}
}

// List returns filtered events (newest first) along with the total count.
func (s *EventStore) List(opts ListOptions) ([]*StoredEvent, int) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	filtered := make([]*StoredEvent, 0, len(s.items))
	for i := len(s.items) - 1; i >= 0; i-- {
		if matches(s.items[i], opts) {
			filtered = append(filtered, s.items[i])
		}
	}

	total := len(filtered)

	limit := opts.Limit
	if limit <= 0 || limit > total {
		limit = total
	}
	offset := opts.Offset
	if offset < 0 {
		offset = 0
	}
	if offset > total {
		offset = total
	}

	end := offset + limit
	if end > total {
		end = total
	}

	return filtered[offset:end], total
}

// Each visits matching events newest first until fn returns false.
func (s *EventStore) Each(opts ListOptions, fn func(*StoredEvent) bool) {
	items, _ := s.List(ListOptions{Search: opts.Search, Method: opts.Method, Kind: opts.Kind, Server: opts.Server})
	for _, it := range items {
		if !fn(it) {
			return
		}
	}
}

// Get locates an event by id.
func (s *EventStore) Get(id string) (*StoredEvent, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	for i := len(s.items) - 1; i >= 0; i-- {
		if s.items[i].ID == id {
			return s.items[i], true
		}
	}
	return nil, false
}

// Len reports how many events are held.
func (s *EventStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.items)
}

func matches(item *StoredEvent, opts ListOptions) bool {
	if m := strings.TrimSpace(opts.Method); m != "" {
		if item.Request == nil || !strings.EqualFold(item.Request.Method, m) {
			return false
		}
	}
	if k := strings.TrimSpace(opts.Kind); k != "" && !strings.EqualFold(string(item.Metadata.Kind), k) {
		return false
	}
	if srv := strings.TrimSpace(opts.Server); srv != "" && item.Metadata.ServerName != srv {
		return false
	}
	if term := strings.ToLower(strings.TrimSpace(opts.Search)); term != "" {
		return matchesSearch(item, term)
	}
	return true
}

func matchesSearch(item *StoredEvent, term string) bool {
	target := strings.ToLower(item.ID + " " + item.Metadata.Error)
	if item.Request != nil {
		target += " " + strings.ToLower(item.Request.Path+" "+item.Request.Query+" "+item.Request.RemoteAddr+" "+item.Request.UserAgent)
	}
	if strings.Contains(target, term) {
		return true
	}

	// Search headers keys/values
	if item.Request == nil {
		return false
	}
	for key, values := range item.Request.Headers {
		if strings.Contains(strings.ToLower(key), term) {
			return true
		}
		for _, val := range values {
			if strings.Contains(strings.ToLower(val), term) {
				return true
			}
		}
	}

	return false
}
