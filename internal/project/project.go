package project

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/funnyzak/mocktap/pkg/routes"
	"gopkg.in/yaml.v3"
)

// Project is the on-disk description of one project and its mock servers
type Project struct {
	ID      string   `yaml:"id" json:"id"`
	Name    string   `yaml:"name,omitempty" json:"name,omitempty"`
	Servers []Server `yaml:"servers" json:"servers"`
}

// Server is one mock server of a project
type Server struct {
	ID       string                `yaml:"id" json:"id"`
	Settings routes.ServerSettings `yaml:"settings" json:"settings"`
	Groups   []routes.RouteGroup   `yaml:"groups,omitempty" json:"groups,omitempty"`
}

// LoadFile reads a YAML (or JSON) project file. An empty project ID in the
// file falls back to defaultID.
func LoadFile(path, defaultID string) (*Project, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read project file: %w", err)
	}
	return Parse(data, defaultID)
}

// Parse decodes a project document
func Parse(data []byte, defaultID string) (*Project, error) {
	var p Project
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(&p); err != nil {
		return nil, fmt.Errorf("decode project: %w", err)
	}
	if strings.TrimSpace(p.ID) == "" {
		p.ID = defaultID
	}
	if p.ID == "" {
		return nil, fmt.Errorf("project id cannot be empty")
	}
	for i := range p.Servers {
		if p.Servers[i].ID == "" {
			return nil, fmt.Errorf("server %d id cannot be empty", i+1)
		}
		if p.Servers[i].Settings.Name == "" {
			p.Servers[i].Settings.Name = p.Servers[i].ID
		}
		for g := range p.Servers[i].Groups {
			group := &p.Servers[i].Groups[g]
			group.Path = routes.NormalizePath(group.Path)
			if group.Kind == "" {
				group.Kind = routes.KindRest
			}
			for r := range group.Routes {
				group.Routes[r].Method = normalizeMethod(group.Routes[r].Method)
			}
		}
	}
	if err := p.Validate(); err != nil {
		return nil, err
	}
	return &p, nil
}

// SaveFile writes the project back as YAML, replacing the file atomically
func SaveFile(path string, p *Project) error {
	buf := &bytes.Buffer{}
	enc := yaml.NewEncoder(buf)
	enc.SetIndent(2)
	if err := enc.Encode(p); err != nil {
		return fmt.Errorf("encode project: %w", err)
	}
	if err := enc.Close(); err != nil {
		return fmt.Errorf("encode project: %w", err)
	}

	dir := filepath.Dir(path)
	tmp, err := os.CreateTemp(dir, ".mocktap-*.yaml")
	if err != nil {
		return fmt.Errorf("create temp project file: %w", err)
	}
	defer os.Remove(tmp.Name())
	if _, err := tmp.Write(buf.Bytes()); err != nil {
		tmp.Close()
		return fmt.Errorf("write project file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("write project file: %w", err)
	}
	if err := os.Rename(tmp.Name(), path); err != nil {
		return fmt.Errorf("replace project file: %w", err)
	}
	return nil
}

// Server returns the server with the given id
func (p *Project) Server(id string) (*Server, bool) {
	for i := range p.Servers {
		if p.Servers[i].ID == id {
			return &p.Servers[i], true
		}
	}
	return nil, false
}

// Validate checks the route table invariants of every server
func (p *Project) Validate() error {
	seen := make(map[string]struct{}, len(p.Servers))
	for _, srv := range p.Servers {
		if _, dup := seen[srv.ID]; dup {
			return fmt.Errorf("server %q: duplicate server id", srv.ID)
		}
		seen[srv.ID] = struct{}{}
		if err := validateGroups(srv.Groups); err != nil {
			return fmt.Errorf("server %q: %w", srv.ID, err)
		}
	}
	return nil
}
