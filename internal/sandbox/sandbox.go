package sandbox

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/expr-lang/expr"
	"github.com/expr-lang/expr/vm"
	"github.com/google/uuid"
)

var (
	// ErrTimeout the function did not finish within the configured bound
	ErrTimeout = errors.New("function timed out")
	// ErrNotRegistered no function was compiled under the id
	ErrNotRegistered = errors.New("function not registered")
	// ErrCompile the stored source failed to compile
	ErrCompile = errors.New("function failed to compile")
)

const (
	// DefaultTimeout applies when none is configured
	DefaultTimeout = 2 * time.Second
	maxNodes       = 5000
)

// RESTEnv is what a REST function sees
type RESTEnv struct {
	Request map[string]interface{} `expr:"request"`
	Params  map[string]string      `expr:"params"`
	Query   map[string]interface{} `expr:"query"`
	Body    interface{}            `expr:"body"`
	Headers map[string]string      `expr:"headers"`
	Cookies map[string]string      `expr:"cookies"`
}

// GraphQLEnv is what a GraphQL field function sees
type GraphQLEnv struct {
	Args    map[string]interface{} `expr:"args"`
	Context map[string]interface{} `expr:"context"`
	Info    map[string]interface{} `expr:"info"`
}

type entry struct {
	program *vm.Program
	err     error
}

// Sandbox holds functions compiled once and keyed by response id. Runs are
// bounded by the expression node limit and a wall-clock timeout.
type Sandbox struct {
	timeout time.Duration

	mu      sync.RWMutex
	entries map[string]entry
}

// New creates a sandbox; timeout <= 0 selects DefaultTimeout
func New(timeout time.Duration) *Sandbox {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	return &Sandbox{
		timeout: timeout,
		entries: make(map[string]entry),
	}
}

// CompileREST compiles source for use with RESTEnv
func (s *Sandbox) CompileREST(id, source string) error {
	return s.compile(id, source, RESTEnv{})
}

// CompileGraphQL compiles source for use with GraphQLEnv
func (s *Sandbox) CompileGraphQL(id, source string) error {
	return s.compile(id, source, GraphQLEnv{})
}

// compile records either the program or the failure. A failure does not
// poison other ids; it is returned again from every Run of this id.
func (s *Sandbox) compile(id, source string, env interface{}) error {
	program, err := expr.Compile(source,
		expr.Env(env),
		expr.MaxNodes(maxNodes),
		expr.Function("uuid", func(params ...interface{}) (interface{}, error) {
			return uuid.NewString(), nil
		}, new(func() string)),
	)
	if err != nil {
		err = fmt.Errorf("%w: %s: %v", ErrCompile, id, err)
	}

	s.mu.Lock()
	s.entries[id] = entry{program: program, err: err}
	s.mu.Unlock()
	return err
}

// Has reports whether id was compiled, successfully or not
func (s *Sandbox) Has(id string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.entries[id]
	return ok
}

// Run executes the function registered under id with env
func (s *Sandbox) Run(ctx context.Context, id string, env interface{}) (interface{}, error) {
	s.mu.RLock()
	e, ok := s.entries[id]
	s.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrNotRegistered, id)
	}
	if e.err != nil {
		return nil, e.err
	}

	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	type result struct {
		value interface{}
		err   error
	}
	done := make(chan result, 1)
	go func() {
		defer func() {
			if r := recover(); r != nil {
				done <- result{err: fmt.Errorf("function panicked: %v", r)}
			}
		}()
		value, err := expr.Run(e.program, env)
		done <- result{value: value, err: err}
	}()

	select {
	case res := <-done:
		if res.err != nil {
			return nil, fmt.Errorf("run function %s: %w", id, res.err)
		}
		return res.value, nil
	case <-ctx.Done():
		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return nil, fmt.Errorf("%w: %s after %s", ErrTimeout, id, s.timeout)
		}
		return nil, ctx.Err()
	}
}
