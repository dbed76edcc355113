package web

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gorilla/mux"

	"github.com/funnyzak/mocktap/internal/config"
	"github.com/funnyzak/mocktap/internal/logger"
	"github.com/funnyzak/mocktap/internal/server"
	"github.com/funnyzak/mocktap/internal/storage"
)

const (
	defaultListLimit = 100
	maxListLimit     = 500
	contentTypeJSON  = "application/json"
)

// Service is the admin API: stored events, the live feed and server status.
type Service struct {
	cfg     *config.WebConfig
	logger  logger.Logger
	events  *EventStore
	store   storage.Store
	hub     *WebsocketHub
	servers StatusSource
}

// NewService builds a Service. store and servers may be nil; without a
// store the API serves the in-memory ring of recent events.
func NewService(cfg *config.WebConfig, log logger.Logger, store storage.Store, servers StatusSource) *Service {
	if log == nil {
		log = logger.Nop()
	}
	return &Service{
		cfg:     cfg,
		logger:  log,
		events:  NewEventStore(cfg.MaxEvents),
		store:   store,
		hub:     NewWebsocketHub(log),
		servers: servers,
	}
}

// Handler returns the admin API router mounted under cfg.Path.
func (s *Service) Handler() http.Handler {
	router := mux.NewRouter()
	s.RegisterRoutes(router)
	return router
}

// RegisterRoutes wires the admin API into router.
func (s *Service) RegisterRoutes(router *mux.Router) {
	if s == nil || !s.cfg.Enable {
		return
	}

	base := normalizePath(s.cfg.Path)
	api := router.PathPrefix(strings.TrimRight(base, "/")).Subrouter()
	if base == "/" {
		api = router
	}
	api.HandleFunc("/events", s.handleEvents).Methods(http.MethodGet)
	api.HandleFunc("/events/export", s.handleExport).Methods(http.MethodGet)
	api.HandleFunc("/events/{id}", s.handleEvent).Methods(http.MethodGet)
	api.HandleFunc("/servers", s.handleServers).Methods(http.MethodGet)
	api.HandleFunc("/ws", s.handleWebsocket).Methods(http.MethodGet)
}

// Record keeps the event for the API and pushes it to websocket clients.
func (s *Service) Record(ev *storage.StoredEvent) {
	if s == nil || !s.cfg.Enable || ev == nil {
		return
	}

	s.events.Add(ev)
	s.hub.Broadcast(map[string]interface{}{
		"type": "event",
		"data": ev,
	})
}

// Close releases resources.
func (s *Service) Close() {
	if s == nil {
		return
	}
	s.hub.Close()
}

func (s *Service) handleEvents(w http.ResponseWriter, r *http.Request) {
	opts := listOptions(r)
	if opts.Limit <= 0 {
		opts.Limit = defaultListLimit
	}
	if opts.Limit > maxListLimit {
		opts.Limit = maxListLimit
	}
	if opts.Offset < 0 {
		opts.Offset = 0
	}

	var (
		items []*StoredEvent
		total int
	)
	if s.store != nil {
		var err error
		items, total, err = s.store.List(opts)
		if err != nil {
			s.logger.Error("Failed to list events", "error", err)
			s.respondError(w, http.StatusInternalServerError, "failed to list events")
			return
		}
	} else {
		items, total = s.events.List(opts)
	}
	if items == nil {
		items = []*StoredEvent{}
	}

	s.respondJSON(w, http.StatusOK, map[string]interface{}{
		"data":   items,
		"total":  total,
		"limit":  opts.Limit,
		"offset": opts.Offset,
	})
}

func (s *Service) handleEvent(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]

	if s.store != nil {
		ev, err := s.store.Get(id)
		switch {
		case errors.Is(err, storage.ErrNotFound):
			s.respondError(w, http.StatusNotFound, "event not found")
		case err != nil:
			s.logger.Error("Failed to load event", "id", id, "error", err)
			s.respondError(w, http.StatusInternalServerError, "failed to load event")
		default:
			s.respondJSON(w, http.StatusOK, ev)
		}
		return
	}

	ev, ok := s.events.Get(id)
	if !ok {
		s.respondError(w, http.StatusNotFound, "event not found")
		return
	}
	s.respondJSON(w, http.StatusOK, ev)
}

func (s *Service) handleExport(w http.ResponseWriter, r *http.Request) {
	format := strings.ToLower(r.URL.Query().Get("format"))
	if format == "" {
		format = "json"
	}
	if !supportedFormat(format) {
		s.respondError(w, http.StatusBadRequest, fmt.Sprintf("unsupported export format: %s", format))
		return
	}

	opts := listOptions(r)
	opts.Limit, opts.Offset = 0, 0

	iter := func(yield func(*StoredEvent) bool) error {
		if s.store != nil {
			return s.store.Iterate(opts, yield)
		}
		s.events.Each(opts, yield)
		return nil
	}

	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=mocktap_events_%d.%s", time.Now().Unix(), format))
	if format == "json" {
		w.Header().Set("Content-Type", contentTypeJSON)
	} else {
		w.Header().Set("Content-Type", "text/csv")
	}
	if _, _, err := StreamExport(w, iter, format); err != nil {
		// headers are gone; the truncated body is all the client gets
		s.logger.Error("Export failed", "format", format, "error", err)
	}
}

func (s *Service) handleServers(w http.ResponseWriter, r *http.Request) {
	status := []server.Status{}
	if s.servers != nil {
		status = append(status, s.servers.Status()...)
	}
	s.respondJSON(w, http.StatusOK, map[string]interface{}{
		"data":      status,
		"listeners": s.hub.Clients(),
	})
}

func (s *Service) handleWebsocket(w http.ResponseWriter, r *http.Request) {
	if err := s.hub.Upgrade(w, r); err != nil {
		s.logger.Error("Failed to upgrade websocket", "error", err)
	}
}

func (s *Service) respondJSON(w http.ResponseWriter, status int, payload interface{}) {
	w.Header().Set("Content-Type", contentTypeJSON)
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		s.logger.Error("Failed to encode JSON response", "error", err)
	}
}

func (s *Service) respondError(w http.ResponseWriter, status int, msg string) {
	s.respondJSON(w, status, map[string]string{"error": msg})
}

func listOptions(r *http.Request) ListOptions {
	query := r.URL.Query()
	return ListOptions{
		Search: query.Get("search"),
		Method: query.Get("method"),
		Kind:   query.Get("kind"),
		Server: query.Get("server"),
		Limit:  parseIntDefault(query.Get("limit"), 0),
		Offset: parseIntDefault(query.Get("offset"), 0),
	}
}

func supportedFormat(format string) bool {
	for _, f := range ExportFormats {
		if f == format {
			return true
		}
	}
	return false
}

func parseIntDefault(value string, def int) int {
	if value == "" {
		return def
	}

	if parsed, err := strconv.Atoi(value); err == nil {
		return parsed
	}
	return def
}

func normalizePath(p string) string {
	if p == "" {
		return "/"
	}
	if !strings.HasPrefix(p, "/") {
		p = "/" + p
	}
	if len(p) > 1 && strings.HasSuffix(p, "/") {
		p = strings.TrimRight(p, "/")
	}
	return p
}
