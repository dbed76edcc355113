package server

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"sort"
	"strconv"
	"sync"
	"time"

	"github.com/funnyzak/mocktap/internal/logger"
	"github.com/funnyzak/mocktap/pkg/routes"
)

// ErrAlreadyRunning is returned when a server is started twice
var ErrAlreadyRunning = errors.New("server already running")

// ErrNotRunning is returned when closing a server that is not running
var ErrNotRunning = errors.New("server not running")

const defaultShutdownTimeout = 30 * time.Second

// Handle is a running mock server
type Handle struct {
	ProjectID string
	ServerID  string
	StartedAt time.Time

	engine      *Engine
	httpSrv     *http.Server
	listener    net.Listener
	mountErrors []MountError
	done        chan struct{}
}

// Addr returns the bound listen address
func (h *Handle) Addr() string {
	return h.listener.Addr().String()
}

// MountErrors returns the groups that failed to mount at start
func (h *Handle) MountErrors() []MountError {
	return append([]MountError(nil), h.mountErrors...)
}

func (h *Handle) key() string {
	return serverKey(h.ProjectID, h.ServerID)
}

// Status is the running state of one server
type Status struct {
	ProjectID     string    `json:"projectId"`
	ServerID      string    `json:"serverId"`
	Name          string    `json:"name"`
	Addr          string    `json:"addr"`
	StartedAt     time.Time `json:"startedAt"`
	RESTRoutes    int       `json:"restRoutes"`
	GraphQLMounts int       `json:"graphqlMounts"`
	MountErrors   []string  `json:"mountErrors,omitempty"`
}

// Manager starts and stops the mock servers of any number of projects
type Manager struct {
	logger logger.Logger
	source routes.Source
	opts   Options

	mu      sync.Mutex
	running map[string]*Handle
}

// NewManager creates a manager reading route tables from source
func NewManager(log logger.Logger, source routes.Source, opts Options) *Manager {
	if log == nil {
		log = logger.Nop()
	}
	if opts.ShutdownTimeout <= 0 {
		opts.ShutdownTimeout = defaultShutdownTimeout
	}
	return &Manager{
		logger:  log,
		source:  source,
		opts:    opts,
		running: make(map[string]*Handle),
	}
}

// StartServer compiles the server's route table and binds host:port. Mount
// errors do not prevent the start; they are returned next to the handle.
func (m *Manager) StartServer(ctx context.Context, projectID, serverID, host string) (*Handle, []MountError, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	key := serverKey(projectID, serverID)
	if _, ok := m.running[key]; ok {
		return nil, nil, fmt.Errorf("%w: %s", ErrAlreadyRunning, key)
	}

	settings, err := m.source.ServerSettings(projectID, serverID)
	if err != nil {
		return nil, nil, fmt.Errorf("read server settings: %w", err)
	}
	groups, err := m.source.RouteGroups(projectID, serverID)
	if err != nil {
		return nil, nil, fmt.Errorf("read route groups: %w", err)
	}
	if settings.Name == "" {
		settings.Name = serverID
	}

	log := m.logger.With("project", projectID, "server", serverID)
	engine, mountErrs := NewEngine(log, settings, groups, m.opts)

	addr := net.JoinHostPort(host, strconv.Itoa(settings.Port))
	var lc net.ListenConfig
	ln, err := lc.Listen(ctx, "tcp", addr)
	if err != nil {
		engine.Close()
		return nil, mountErrs, fmt.Errorf("listen on %s: %w", addr, err)
	}

	h := &Handle{
		ProjectID: projectID,
		ServerID:  serverID,
		StartedAt: time.Now(),
		engine:    engine,
		listener:  ln,
		httpSrv: &http.Server{
			Handler:      engine,
			ReadTimeout:  m.opts.ReadTimeout,
			WriteTimeout: m.opts.WriteTimeout,
			IdleTimeout:  60 * time.Second,
		},
		mountErrors: mountErrs,
		done:        make(chan struct{}),
	}

	go func() {
		defer close(h.done)
		if err := h.httpSrv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error("Server stopped unexpectedly", "addr", addr, "error", err)
		}
	}()

	m.running[key] = h
	log.Info("Mock server started", "addr", h.Addr(), "mount_errors", len(mountErrs))
	return h, mountErrs, nil
}

// CloseServer stops accepting connections, waits for in-flight requests and
// releases the server's upstream connections. The port is free on return.
func (m *Manager) CloseServer(ctx context.Context, h *Handle) error {
	if h == nil {
		return ErrNotRunning
	}
	m.mu.Lock()
	if current, ok := m.running[h.key()]; ok && current == h {
		delete(m.running, h.key())
	}
	m.mu.Unlock()
	return m.shutdown(ctx, h)
}

func (m *Manager) shutdown(ctx context.Context, h *Handle) error {
	ctx, cancel := context.WithTimeout(ctx, m.opts.ShutdownTimeout)
	defer cancel()

	err := h.httpSrv.Shutdown(ctx)
	if err != nil {
		// graceful shutdown timed out; drop the remaining connections
		_ = h.httpSrv.Close()
	}
	<-h.done
	h.engine.Close()

	m.logger.Info("Mock server stopped",
		"project", h.ProjectID,
		"server", h.ServerID,
	)
	return err
}

// CheckServerUp reports whether the server is running and accepting
func (m *Manager) CheckServerUp(projectID, serverID string) bool {
	m.mu.Lock()
	h, ok := m.running[serverKey(projectID, serverID)]
	m.mu.Unlock()
	if !ok {
		return false
	}
	select {
	case <-h.done:
		return false
	default:
		return true
	}
}

// Restart stops the server, if running, and starts it again from the
// current route table. The old listener is fully closed before the new bind.
func (m *Manager) Restart(ctx context.Context, projectID, serverID, host string) (*Handle, []MountError, error) {
	m.mu.Lock()
	h, ok := m.running[serverKey(projectID, serverID)]
	if ok {
		delete(m.running, h.key())
	}
	m.mu.Unlock()

	if ok {
		if err := m.shutdown(ctx, h); err != nil {
			m.logger.Warn("Server did not stop gracefully", "project", projectID, "server", serverID, "error", err)
		}
	}
	return m.StartServer(ctx, projectID, serverID, host)
}

// CloseAll stops every running server
func (m *Manager) CloseAll(ctx context.Context) error {
	m.mu.Lock()
	handles := make([]*Handle, 0, len(m.running))
	for key, h := range m.running {
		handles = append(handles, h)
		delete(m.running, key)
	}
	m.mu.Unlock()

	var wg sync.WaitGroup
	errs := make([]error, len(handles))
	for i, h := range handles {
		wg.Add(1)
		go func(i int, h *Handle) {
			defer wg.Done()
			errs[i] = m.shutdown(ctx, h)
		}(i, h)
	}
	wg.Wait()
	return errors.Join(errs...)
}

// Status lists the running servers sorted by project and server id
func (m *Manager) Status() []Status {
	m.mu.Lock()
	handles := make([]*Handle, 0, len(m.running))
	for _, h := range m.running {
		handles = append(handles, h)
	}
	m.mu.Unlock()

	sort.Slice(handles, func(i, j int) bool {
		return handles[i].key() < handles[j].key()
	})

	out := make([]Status, 0, len(handles))
	for _, h := range handles {
		rest, gql := h.engine.Routes()
		st := Status{
			ProjectID:     h.ProjectID,
			ServerID:      h.ServerID,
			Name:          h.engine.Name(),
			Addr:          h.Addr(),
			StartedAt:     h.StartedAt,
			RESTRoutes:    rest,
			GraphQLMounts: gql,
		}
		for _, me := range h.mountErrors {
			st.MountErrors = append(st.MountErrors, me.Error())
		}
		out = append(out, st)
	}
	return out
}

func serverKey(projectID, serverID string) string {
	return projectID + "/" + serverID
}
