package project

import (
	"encoding/json"
	"fmt"
	"sort"
	"sync"

	"github.com/funnyzak/mocktap/pkg/routes"
	"github.com/google/uuid"
)

// Store is an in-memory route table shared by the engine (read side) and the
// importer (write side). Readers always receive deep copies, so a running
// server keeps its start-time snapshot.
type Store struct {
	mu       sync.RWMutex
	projects map[string]*Project
}

// NewStore creates a store seeded with the given projects
func NewStore(projects ...*Project) *Store {
	s := &Store{projects: make(map[string]*Project, len(projects))}
	for _, p := range projects {
		if p != nil {
			s.projects[p.ID] = p
		}
	}
	return s
}

// Project returns a deep copy of the project
func (s *Store) Project(projectID string) (*Project, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	p, ok := s.projects[projectID]
	if !ok {
		return nil, fmt.Errorf("project %q: %w", projectID, ErrNotFound)
	}
	var out Project
	if err := deepCopy(p, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// ServerIDs lists the servers of a project, sorted
func (s *Store) ServerIDs(projectID string) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	p, ok := s.projects[projectID]
	if !ok {
		return nil, fmt.Errorf("project %q: %w", projectID, ErrNotFound)
	}
	ids := make([]string, 0, len(p.Servers))
	for _, srv := range p.Servers {
		ids = append(ids, srv.ID)
	}
	sort.Strings(ids)
	return ids, nil
}

// RouteGroups implements routes.Source
func (s *Store) RouteGroups(projectID, serverID string) ([]routes.RouteGroup, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	srv, err := s.server(projectID, serverID)
	if err != nil {
		return nil, err
	}
	var out []routes.RouteGroup
	if err := deepCopy(srv.Groups, &out); err != nil {
		return nil, err
	}
	return out, nil
}

// ServerSettings implements routes.Source
func (s *Store) ServerSettings(projectID, serverID string) (routes.ServerSettings, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	srv, err := s.server(projectID, serverID)
	if err != nil {
		return routes.ServerSettings{}, err
	}
	return srv.Settings, nil
}

// CreateRouteGroup implements routes.Creator. The group gets a fresh id
// when none is given.
func (s *Store) CreateRouteGroup(projectID, serverID string, group routes.RouteGroup) (routes.RouteGroup, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	srv, err := s.server(projectID, serverID)
	if err != nil {
		return routes.RouteGroup{}, err
	}

	if group.ID == "" {
		group.ID = uuid.NewString()
	}
	if group.Kind == "" {
		group.Kind = routes.KindRest
	}
	group.Path = routes.NormalizePath(group.Path)
	for i := range group.Routes {
		group.Routes[i].Method = normalizeMethod(group.Routes[i].Method)
	}
	if err := validateGroup(group); err != nil {
		return routes.RouteGroup{}, err
	}
	for _, existing := range srv.Groups {
		if existing.ID == group.ID {
			return routes.RouteGroup{}, fmt.Errorf("%w: group id %q already exists", ErrConflict, group.ID)
		}
		if groupsConflict(existing, group) {
			return routes.RouteGroup{}, fmt.Errorf("%w: %s", ErrConflict, describeGroup(group))
		}
	}

	srv.Groups = append(srv.Groups, group)
	var out routes.RouteGroup
	if err := deepCopy(group, &out); err != nil {
		return routes.RouteGroup{}, err
	}
	return out, nil
}

// CreateRoute implements routes.Creator. Routes are appended, so creation
// order is the dispatch order.
func (s *Store) CreateRoute(projectID, serverID, groupID string, route routes.Route) (routes.Route, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	srv, err := s.server(projectID, serverID)
	if err != nil {
		return routes.Route{}, err
	}

	var group *routes.RouteGroup
	for i := range srv.Groups {
		if srv.Groups[i].ID == groupID {
			group = &srv.Groups[i]
			break
		}
	}
	if group == nil {
		return routes.Route{}, fmt.Errorf("group %q: %w", groupID, ErrNotFound)
	}
	if group.Kind != routes.KindRest {
		return routes.Route{}, fmt.Errorf("%w: group %q is not a rest group", ErrInvalid, groupID)
	}

	if route.ID == "" {
		route.ID = uuid.NewString()
	}
	route.Method = normalizeMethod(route.Method)
	if route.RoutePath == "" {
		route.RoutePath = "/"
	}
	if err := validateRoute(route); err != nil {
		return routes.Route{}, err
	}
	for _, existing := range group.Routes {
		if existing.ID == route.ID {
			return routes.Route{}, fmt.Errorf("%w: route id %q already exists", ErrConflict, route.ID)
		}
		if sameOverload(existing, route) {
			return routes.Route{}, fmt.Errorf("%w: %s %s", ErrDuplicateOverload, route.Method, route.RoutePath)
		}
	}

	group.Routes = append(group.Routes, route)
	var out routes.Route
	if err := deepCopy(route, &out); err != nil {
		return routes.Route{}, err
	}
	return out, nil
}

func (s *Store) server(projectID, serverID string) (*Server, error) {
	p, ok := s.projects[projectID]
	if !ok {
		return nil, fmt.Errorf("project %q: %w", projectID, ErrNotFound)
	}
	srv, ok := p.Server(serverID)
	if !ok {
		return nil, fmt.Errorf("server %q: %w", serverID, ErrNotFound)
	}
	return srv, nil
}

// deepCopy round-trips through JSON; BodyData is arbitrary example data.
func deepCopy(src, dst interface{}) error {
	data, err := json.Marshal(src)
	if err != nil {
		return fmt.Errorf("copy route table: %w", err)
	}
	if err := json.Unmarshal(data, dst); err != nil {
		return fmt.Errorf("copy route table: %w", err)
	}
	return nil
}
