package importer

import (
	"fmt"
	"strings"

	"github.com/funnyzak/mocktap/internal/logger"
	"github.com/funnyzak/mocktap/pkg/routes"
)

// Failure is an endpoint that could not be imported
type Failure struct {
	Endpoint Endpoint `json:"endpoint"`
	Error    string   `json:"error"`
}

// Report summarizes an import run
type Report struct {
	CreatedGroups []routes.RouteGroup `json:"createdGroups,omitempty"`
	ReusedGroups  []routes.RouteGroup `json:"reusedGroups,omitempty"`
	CreatedRoutes []routes.Route      `json:"createdRoutes,omitempty"`
	Failures      []Failure           `json:"failures,omitempty"`
}

// Importer creates route groups and routes for API endpoints
type Importer struct {
	logger  logger.Logger
	creator routes.Creator
}

// New creates an importer writing through creator
func New(log logger.Logger, creator routes.Creator) *Importer {
	return &Importer{logger: log, creator: creator}
}

// Import groups the endpoints and creates one route per endpoint. A failing
// endpoint is recorded in the report and the rest of the batch continues.
// The error is only set when the server's groups cannot be read at all.
func (im *Importer) Import(projectID, serverID string, endpoints []Endpoint) (*Report, error) {
	existing, err := im.creator.RouteGroups(projectID, serverID)
	if err != nil {
		return nil, fmt.Errorf("read route groups: %w", err)
	}

	report := &Report{}
	for _, grouping := range GroupEndpoints(endpoints) {
		group, created, err := im.resolveGroup(projectID, serverID, grouping, existing)
		if err != nil {
			im.logger.Warn("Route group import failed", "path", grouping.Path, "error", err)
			for _, ep := range grouping.Endpoints {
				report.Failures = append(report.Failures, Failure{Endpoint: ep, Error: err.Error()})
			}
			continue
		}
		if created {
			existing = append(existing, group)
			report.CreatedGroups = append(report.CreatedGroups, group)
		} else {
			report.ReusedGroups = append(report.ReusedGroups, group)
		}

		for _, ep := range grouping.Endpoints {
			route, err := im.creator.CreateRoute(projectID, serverID, group.ID, routes.Route{
				Method:      strings.ToUpper(ep.Method),
				RoutePath:   RoutePath(grouping.Path, ep.Path),
				Description: describe(ep),
			})
			if err != nil {
				im.logger.Warn("Route import failed",
					"method", ep.Method,
					"path", ep.Path,
					"error", err,
				)
				report.Failures = append(report.Failures, Failure{Endpoint: ep, Error: err.Error()})
				continue
			}
			report.CreatedRoutes = append(report.CreatedRoutes, route)
		}
	}

	im.logger.Info("Import finished",
		"project", projectID,
		"server", serverID,
		"groups_created", len(report.CreatedGroups),
		"groups_reused", len(report.ReusedGroups),
		"routes_created", len(report.CreatedRoutes),
		"failures", len(report.Failures),
	)
	return report, nil
}

// resolveGroup reuses the REST group mounted at grouping.Path or creates it.
// A failed creation falls back to a fresh lookup, so a group created
// concurrently is still found.
func (im *Importer) resolveGroup(projectID, serverID string, grouping Grouping, existing []routes.RouteGroup) (routes.RouteGroup, bool, error) {
	if g, ok := findGroup(existing, grouping.Path); ok {
		return g, false, nil
	}

	group, err := im.creator.CreateRouteGroup(projectID, serverID, routes.RouteGroup{
		Name: groupName(grouping),
		Kind: routes.KindRest,
		Path: grouping.Path,
	})
	if err == nil {
		return group, true, nil
	}

	refreshed, lookupErr := im.creator.RouteGroups(projectID, serverID)
	if lookupErr == nil {
		if g, ok := findGroup(refreshed, grouping.Path); ok {
			return g, false, nil
		}
	}
	return routes.RouteGroup{}, false, err
}

func findGroup(groups []routes.RouteGroup, p string) (routes.RouteGroup, bool) {
	want := routes.NormalizePath(p)
	for _, g := range groups {
		if g.Kind == routes.KindRest && routes.NormalizePath(g.Path) == want {
			return g, true
		}
	}
	return routes.RouteGroup{}, false
}

func groupName(grouping Grouping) string {
	for _, ep := range grouping.Endpoints {
		if len(ep.Tags) > 0 && strings.TrimSpace(ep.Tags[0]) != "" {
			return strings.TrimSpace(ep.Tags[0])
		}
	}
	return grouping.Path
}

func describe(ep Endpoint) string {
	if ep.Summary != "" {
		return ep.Summary
	}
	return ep.Description
}
