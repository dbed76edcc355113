package server

import (
	"fmt"
	"strings"
	"time"

	"github.com/funnyzak/mocktap/internal/dispatch"
	"github.com/funnyzak/mocktap/internal/forwarder"
	"github.com/funnyzak/mocktap/internal/graphql"
	"github.com/funnyzak/mocktap/internal/logger"
	"github.com/funnyzak/mocktap/internal/printer"
	"github.com/funnyzak/mocktap/internal/resolver"
	"github.com/funnyzak/mocktap/internal/sandbox"
	"github.com/funnyzak/mocktap/internal/storage"
	"github.com/funnyzak/mocktap/pkg/routes"
)

// MountError is a route group that could not be mounted. The rest of the
// server keeps serving; requests under the group's path get a 503.
type MountError struct {
	GroupID string
	Kind    routes.GroupKind
	Path    string
	Err     error
}

func (e MountError) Error() string {
	return fmt.Sprintf("%s group %q at %s: %v", e.Kind, e.GroupID, e.Path, e.Err)
}

func (e MountError) Unwrap() error {
	return e.Err
}

// EventRecorder pushes stored events to live listeners
type EventRecorder interface {
	Record(*storage.StoredEvent)
}

// Sinks receive the event of every completed request. Nil members are skipped.
type Sinks struct {
	Printer  printer.Printer
	Store    storage.Store
	Recorder EventRecorder
}

// Options are the process-wide knobs every engine shares
type Options struct {
	MaxBodyBytes    int64
	FunctionTimeout time.Duration
	ReadTimeout     time.Duration
	WriteTimeout    time.Duration
	ShutdownTimeout time.Duration
	Forward         forwarder.Options
	Sinks           Sinks
}

// Engine is the compiled form of one mock server's route table
type Engine struct {
	name       string
	settings   routes.ServerSettings
	logger     logger.Logger
	maxBody    int64
	dispatcher *dispatch.Dispatcher
	graphs     []*graphql.Handler
	failed     []MountError
	forwarder  *forwarder.Forwarder
	sinks      Sinks
}

// NewEngine compiles groups once. Groups that fail to compile are reported
// and answered with a 503; every other group is served normally.
func NewEngine(log logger.Logger, settings routes.ServerSettings, groups []routes.RouteGroup, opts Options) (*Engine, []MountError) {
	if log == nil {
		log = logger.Nop()
	}
	sb := sandbox.New(opts.FunctionTimeout)
	fwd := forwarder.NewForwarder(log, opts.Forward)
	res := resolver.New(log, sb, fwd)
	res.Prepare(groups)

	e := &Engine{
		name:       settings.Name,
		settings:   settings,
		logger:     log,
		maxBody:    opts.MaxBodyBytes,
		dispatcher: dispatch.New(log, res, settings),
		forwarder:  fwd,
		sinks:      opts.Sinks,
	}

	var (
		mountErrs []MountError
		gql       []routes.RouteGroup
	)
	for _, g := range groups {
		if g.Kind == routes.KindGraphQL {
			gql = append(gql, g)
			continue
		}
		if err := e.dispatcher.Mount(g); err != nil {
			me := MountError{GroupID: g.ID, Kind: g.Kind, Path: routes.NormalizePath(g.Path), Err: err}
			e.failed = append(e.failed, me)
			mountErrs = append(mountErrs, me)
		}
	}

	for _, m := range graphql.Build(gql) {
		h := graphql.NewHandler(log, m, sb, fwd, settings)
		e.graphs = append(e.graphs, h)
		if err := m.Err(); err != nil {
			for _, g := range m.Groups {
				mountErrs = append(mountErrs, MountError{GroupID: g.ID, Kind: g.Kind, Path: m.Path, Err: err})
			}
		}
	}

	for _, me := range mountErrs {
		log.Error("Route group failed to mount",
			"group", me.GroupID,
			"kind", me.Kind,
			"path", me.Path,
			"error", me.Err,
		)
	}
	log.Info("Server engine compiled",
		"rest_routes", e.dispatcher.Routes(),
		"graphql_mounts", len(e.graphs),
		"mount_errors", len(mountErrs),
	)
	return e, mountErrs
}

// Name returns the server's display name
func (e *Engine) Name() string {
	return e.name
}

// Routes reports the number of mounted REST entries and GraphQL mounts
func (e *Engine) Routes() (rest, graphQL int) {
	return e.dispatcher.Routes(), len(e.graphs)
}

// Close waits for in-flight upstream calls and releases connections
func (e *Engine) Close() {
	e.forwarder.Close()
}

// failedMount returns the failed REST group mounted over p, if any
func (e *Engine) failedMount(p string) (MountError, bool) {
	p = routes.NormalizePath(p)
	for _, me := range e.failed {
		if me.Path == "/" || p == me.Path || strings.HasPrefix(p, me.Path+"/") {
			return me, true
		}
	}
	return MountError{}, false
}
