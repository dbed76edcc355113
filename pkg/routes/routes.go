package routes

import (
	"strings"
)

// GroupKind distinguishes REST mounts from GraphQL endpoints
type GroupKind string

const (
	KindRest    GroupKind = "rest"
	KindGraphQL GroupKind = "graphql"
)

// ResponseKind selects how a response variant produces its reply
type ResponseKind string

const (
	ResponseObject   ResponseKind = "object"
	ResponseFunction ResponseKind = "function"
	ResponseProxy    ResponseKind = "proxy"
)

// ParamLocation is where a discriminator looks for its key
type ParamLocation string

const (
	ParamBody   ParamLocation = "body"
	ParamQuery  ParamLocation = "query"
	ParamParams ParamLocation = "params"
)

// OperationType is the GraphQL root a route hangs off
type OperationType string

const (
	OperationQuery    OperationType = "Query"
	OperationMutation OperationType = "Mutation"
)

// RouteGroup is a path-scoped bundle of REST routes or GraphQL fields.
// Routes and GraphQLRoutes keep creation order; dispatch relies on it.
type RouteGroup struct {
	ID            string         `json:"id" yaml:"id"`
	Name          string         `json:"name,omitempty" yaml:"name,omitempty"`
	Kind          GroupKind      `json:"kind" yaml:"kind"`
	Path          string         `json:"path" yaml:"path"`
	SchemaPath    string         `json:"schemaPath,omitempty" yaml:"schemaPath,omitempty"`
	QueryRootType OperationType  `json:"queryRootType,omitempty" yaml:"queryRootType,omitempty"`
	Routes        []Route        `json:"routes,omitempty" yaml:"routes,omitempty"`
	GraphQLRoutes []GraphQLRoute `json:"graphqlRoutes,omitempty" yaml:"graphqlRoutes,omitempty"`
}

// Route is a REST operation with candidate responses
type Route struct {
	ID               string        `json:"id" yaml:"id"`
	Method           string        `json:"method" yaml:"method"`
	RoutePath        string        `json:"routePath" yaml:"routePath"`
	ParamLocation    ParamLocation `json:"paramLocation,omitempty" yaml:"paramLocation,omitempty"`
	ParamKey         string        `json:"paramKey,omitempty" yaml:"paramKey,omitempty"`
	ParamValue       string        `json:"paramValue,omitempty" yaml:"paramValue,omitempty"`
	Description      string        `json:"description,omitempty" yaml:"description,omitempty"`
	Responses        []Response    `json:"responses,omitempty" yaml:"responses,omitempty"`
	ActiveResponseID string        `json:"activeResponseId,omitempty" yaml:"activeResponseId,omitempty"`
}

// Response is one canned answer of a REST route
type Response struct {
	ID         string            `json:"id" yaml:"id"`
	Name       string            `json:"name,omitempty" yaml:"name,omitempty"`
	Kind       ResponseKind      `json:"kind" yaml:"kind"`
	HTTPStatus int               `json:"httpStatus,omitempty" yaml:"httpStatus,omitempty"`
	BodyData   interface{}       `json:"bodyData,omitempty" yaml:"bodyData,omitempty"`
	Headers    map[string]string `json:"headers,omitempty" yaml:"headers,omitempty"`
	Function   string            `json:"function,omitempty" yaml:"function,omitempty"`
	URL        string            `json:"url,omitempty" yaml:"url,omitempty"`
	BlockProxy bool              `json:"blockProxy,omitempty" yaml:"blockProxy,omitempty"`
}

// GraphQLRoute is one field under Query or Mutation
type GraphQLRoute struct {
	ID               string            `json:"id" yaml:"id"`
	OperationType    OperationType     `json:"operationType" yaml:"operationType"`
	Name             string            `json:"name" yaml:"name"`
	Responses        []GraphQLResponse `json:"responses,omitempty" yaml:"responses,omitempty"`
	ActiveResponseID string            `json:"activeResponseId,omitempty" yaml:"activeResponseId,omitempty"`
}

// GraphQLResponse is one canned answer of a GraphQL field. Schema and
// SchemaTypeName are derived from BodyData but may be edited by hand.
type GraphQLResponse struct {
	ID             string            `json:"id" yaml:"id"`
	Name           string            `json:"name,omitempty" yaml:"name,omitempty"`
	Kind           ResponseKind      `json:"kind" yaml:"kind"`
	HTTPStatus     int               `json:"httpStatus,omitempty" yaml:"httpStatus,omitempty"`
	BodyData       interface{}       `json:"bodyData,omitempty" yaml:"bodyData,omitempty"`
	Headers        map[string]string `json:"headers,omitempty" yaml:"headers,omitempty"`
	Function       string            `json:"function,omitempty" yaml:"function,omitempty"`
	URL            string            `json:"url,omitempty" yaml:"url,omitempty"`
	BlockProxy     bool              `json:"blockProxy,omitempty" yaml:"blockProxy,omitempty"`
	Schema         string            `json:"schema,omitempty" yaml:"schema,omitempty"`
	SchemaTypeName string            `json:"schemaTypeName,omitempty" yaml:"schemaTypeName,omitempty"`
}

// ServerSettings are the per-server knobs of a project
type ServerSettings struct {
	Name                string `json:"name,omitempty" yaml:"name,omitempty"`
	ProxyBaseURL        string `json:"proxyBaseUrl,omitempty" yaml:"proxyBaseUrl,omitempty"`
	ForceProxy          bool   `json:"forceProxy,omitempty" yaml:"forceProxy,omitempty"`
	Delay               int    `json:"delay,omitempty" yaml:"delay,omitempty"`
	Port                int    `json:"port" yaml:"port"`
	DuplicateCookies    bool   `json:"duplicateCookies,omitempty" yaml:"duplicateCookies,omitempty"`
	RewriteCookieDomain bool   `json:"rewriteCookieDomain,omitempty" yaml:"rewriteCookieDomain,omitempty"`
	SimplifyCookies     bool   `json:"simplifyCookies,omitempty" yaml:"simplifyCookies,omitempty"`
}

// Source is the read side of the project collaborator
type Source interface {
	RouteGroups(projectID, serverID string) ([]RouteGroup, error)
	ServerSettings(projectID, serverID string) (ServerSettings, error)
}

// Creator is the write side used by the importer
type Creator interface {
	RouteGroups(projectID, serverID string) ([]RouteGroup, error)
	CreateRouteGroup(projectID, serverID string, group RouteGroup) (RouteGroup, error)
	CreateRoute(projectID, serverID, groupID string, route Route) (Route, error)
}

// IsDiscriminated reports whether the route carries a complete overload triple
func (r Route) IsDiscriminated() bool {
	return r.ParamLocation != "" && r.ParamKey != "" && r.ParamValue != ""
}

// ActiveResponse returns the selected response or nil
func (r Route) ActiveResponse() *Response {
	if r.ActiveResponseID == "" {
		return nil
	}
	for i := range r.Responses {
		if r.Responses[i].ID == r.ActiveResponseID {
			return &r.Responses[i]
		}
	}
	return nil
}

// ActiveResponse returns the selected response or nil
func (r GraphQLRoute) ActiveResponse() *GraphQLResponse {
	if r.ActiveResponseID == "" {
		return nil
	}
	for i := range r.Responses {
		if r.Responses[i].ID == r.ActiveResponseID {
			return &r.Responses[i]
		}
	}
	return nil
}

// FieldName strips an argument signature: "findUser(id: ID!)" -> "findUser"
func (r GraphQLRoute) FieldName() string {
	name := strings.TrimSpace(r.Name)
	if idx := strings.Index(name, "("); idx >= 0 {
		return strings.TrimSpace(name[:idx])
	}
	return name
}

// Signature returns the parenthesized argument list, or ""
func (r GraphQLRoute) Signature() string {
	name := strings.TrimSpace(r.Name)
	idx := strings.Index(name, "(")
	if idx < 0 {
		return ""
	}
	end := strings.LastIndex(name, ")")
	if end < idx {
		return ""
	}
	return name[idx : end+1]
}

// Operation returns the route's root, defaulting to the group's queryRootType
func (r GraphQLRoute) Operation(group RouteGroup) OperationType {
	if r.OperationType != "" {
		return r.OperationType
	}
	if group.QueryRootType != "" {
		return group.QueryRootType
	}
	return OperationQuery
}

// SchemaPathSegments splits a dot-delimited schemaPath, dropping empty parts
func (g RouteGroup) SchemaPathSegments() []string {
	var segments []string
	for _, part := range strings.Split(g.SchemaPath, ".") {
		part = strings.TrimSpace(part)
		if part != "" {
			segments = append(segments, part)
		}
	}
	return segments
}

// NormalizePath makes sure a mount path starts with "/" and has no trailing slash
func NormalizePath(p string) string {
	p = strings.TrimSpace(p)
	if p == "" {
		return "/"
	}
	if !strings.HasPrefix(p, "/") {
		p = "/" + p
	}
	if len(p) > 1 {
		p = strings.TrimRight(p, "/")
		if p == "" {
			p = "/"
		}
	}
	return p
}

// JoinPath joins a mount path and a route path
func JoinPath(base, sub string) string {
	base = NormalizePath(base)
	sub = strings.TrimSpace(sub)
	if sub == "" || sub == "/" {
		return base
	}
	if !strings.HasPrefix(sub, "/") {
		sub = "/" + sub
	}
	if base == "/" {
		return sub
	}
	return base + sub
}
