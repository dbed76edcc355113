package project

import (
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/funnyzak/mocktap/pkg/routes"
)

var (
	// ErrNotFound project, server or group does not exist
	ErrNotFound = errors.New("not found")
	// ErrConflict a group with the same mount already exists on the server
	ErrConflict = errors.New("route group conflict")
	// ErrDuplicateOverload two routes share method, path and discriminator
	ErrDuplicateOverload = errors.New("duplicate route overload")
	// ErrInvalid the entity is malformed
	ErrInvalid = errors.New("invalid route definition")
)

func validateGroups(groups []routes.RouteGroup) error {
	for i := range groups {
		if err := validateGroup(groups[i]); err != nil {
			return err
		}
		for j := 0; j < i; j++ {
			if groupsConflict(groups[j], groups[i]) {
				return fmt.Errorf("%w: %s", ErrConflict, describeGroup(groups[i]))
			}
		}
	}
	return nil
}

func validateGroup(g routes.RouteGroup) error {
	if g.ID == "" {
		return fmt.Errorf("%w: group id cannot be empty", ErrInvalid)
	}
	switch g.Kind {
	case routes.KindRest:
		if len(g.GraphQLRoutes) > 0 {
			return fmt.Errorf("%w: rest group %q carries graphql routes", ErrInvalid, g.ID)
		}
		for i := range g.Routes {
			if err := validateRoute(g.Routes[i]); err != nil {
				return fmt.Errorf("group %q: %w", g.ID, err)
			}
			for j := 0; j < i; j++ {
				if sameOverload(g.Routes[j], g.Routes[i]) {
					return fmt.Errorf("group %q: %w: %s %s", g.ID, ErrDuplicateOverload, g.Routes[i].Method, g.Routes[i].RoutePath)
				}
			}
		}
	case routes.KindGraphQL:
		if len(g.Routes) > 0 {
			return fmt.Errorf("%w: graphql group %q carries rest routes", ErrInvalid, g.ID)
		}
		names := make(map[string]struct{}, len(g.GraphQLRoutes))
		for _, r := range g.GraphQLRoutes {
			if r.ID == "" || r.FieldName() == "" {
				return fmt.Errorf("%w: graphql route in group %q needs id and name", ErrInvalid, g.ID)
			}
			key := string(r.Operation(g)) + "." + r.FieldName()
			if _, dup := names[key]; dup {
				return fmt.Errorf("group %q: %w: %s", g.ID, ErrDuplicateOverload, key)
			}
			names[key] = struct{}{}
		}
	default:
		return fmt.Errorf("%w: group %q has unknown kind %q", ErrInvalid, g.ID, g.Kind)
	}
	return nil
}

func validateRoute(r routes.Route) error {
	if r.ID == "" {
		return fmt.Errorf("%w: route id cannot be empty", ErrInvalid)
	}
	if strings.TrimSpace(r.Method) == "" {
		return fmt.Errorf("%w: route %q method cannot be empty", ErrInvalid, r.ID)
	}
	switch r.ParamLocation {
	case "", routes.ParamBody, routes.ParamQuery, routes.ParamParams:
	default:
		return fmt.Errorf("%w: route %q has unknown param location %q", ErrInvalid, r.ID, r.ParamLocation)
	}
	for _, resp := range r.Responses {
		switch resp.Kind {
		case routes.ResponseObject, routes.ResponseFunction, routes.ResponseProxy:
		default:
			return fmt.Errorf("%w: response %q has unknown kind %q", ErrInvalid, resp.ID, resp.Kind)
		}
	}
	return nil
}

// groupsConflict REST mounts are unique per server; GraphQL groups may share
// a mount only with different schema paths.
func groupsConflict(a, b routes.RouteGroup) bool {
	if routes.NormalizePath(a.Path) != routes.NormalizePath(b.Path) {
		return false
	}
	if a.Kind == routes.KindGraphQL && b.Kind == routes.KindGraphQL {
		return strings.Join(a.SchemaPathSegments(), ".") == strings.Join(b.SchemaPathSegments(), ".")
	}
	return true
}

func sameOverload(a, b routes.Route) bool {
	return strings.EqualFold(a.Method, b.Method) &&
		routes.NormalizePath(a.RoutePath) == routes.NormalizePath(b.RoutePath) &&
		a.ParamLocation == b.ParamLocation &&
		a.ParamKey == b.ParamKey &&
		a.ParamValue == b.ParamValue
}

func describeGroup(g routes.RouteGroup) string {
	if g.Kind == routes.KindGraphQL && g.SchemaPath != "" {
		return fmt.Sprintf("%s %s (%s)", g.Kind, routes.NormalizePath(g.Path), g.SchemaPath)
	}
	return fmt.Sprintf("%s %s", g.Kind, routes.NormalizePath(g.Path))
}

func normalizeMethod(method string) string {
	method = strings.ToUpper(strings.TrimSpace(method))
	if method == "" {
		return http.MethodGet
	}
	return method
}
