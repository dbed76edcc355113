package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func TestLoadConfig(t *testing.T) {
	t.Run("Explicit missing file", func(t *testing.T) {
		cfg, err := LoadConfig(filepath.Join(t.TempDir(), "missing.yaml"), nil)
		if err == nil {
			t.Fatalf("expected error for explicit missing config file, got %+v", cfg)
		}
	})

	t.Run("Defaults without file", func(t *testing.T) {
		dir := t.TempDir()
		wd, _ := os.Getwd()
		if err := os.Chdir(dir); err != nil {
			t.Fatalf("chdir: %v", err)
		}
		t.Cleanup(func() { _ = os.Chdir(wd) })
		t.Setenv("HOME", dir)

		cfg, err := LoadConfig("", nil)
		if err != nil {
			t.Fatalf("Failed to load default config: %v", err)
		}
		if cfg.Server.Host != "0.0.0.0" {
			t.Errorf("Expected default host 0.0.0.0, got %s", cfg.Server.Host)
		}
		if cfg.Server.FunctionTimeout != 2*time.Second {
			t.Errorf("Expected function timeout 2s, got %s", cfg.Server.FunctionTimeout)
		}
		if cfg.Log.Level != "info" {
			t.Errorf("Expected default log level 'info', got %s", cfg.Log.Level)
		}
		if cfg.Forward.Timeout != 30 {
			t.Errorf("Expected default forward timeout 30, got %d", cfg.Forward.Timeout)
		}
		if cfg.Forward.MaxConcurrent != 32 {
			t.Errorf("Expected default max concurrent 32, got %d", cfg.Forward.MaxConcurrent)
		}
		if cfg.Project.File != "./mocktap.yaml" {
			t.Errorf("unexpected project file %s", cfg.Project.File)
		}
		if len(cfg.Forward.HeaderBlacklist) == 0 || cfg.Forward.HeaderBlacklist[0] != "host" {
			t.Errorf("unexpected header blacklist %v", cfg.Forward.HeaderBlacklist)
		}
		if err := cfg.Validate(); err != nil {
			t.Errorf("defaults should validate: %v", err)
		}
	})

	t.Run("File values", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "config.yaml")
		content := `
server:
  host: 127.0.0.1
  function_timeout: 500ms
project:
  file: ./demo.yaml
  server: main
cookies:
  domain_rules:
    - match: example.com
      replace: localhost
    - match: "*"
      replace: 127.0.0.1
web:
  enable: true
  port: 9000
`
		if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
			t.Fatalf("write config: %v", err)
		}
		cfg, err := LoadConfig(path, nil)
		if err != nil {
			t.Fatalf("LoadConfig: %v", err)
		}
		if cfg.Server.Host != "127.0.0.1" || cfg.Server.FunctionTimeout != 500*time.Millisecond {
			t.Errorf("unexpected server config %+v", cfg.Server)
		}
		if cfg.Project.Server != "main" || cfg.Project.File != "./demo.yaml" {
			t.Errorf("unexpected project config %+v", cfg.Project)
		}
		if len(cfg.Cookies.DomainRules) != 2 || cfg.Cookies.DomainRules[1].Match != "*" {
			t.Errorf("unexpected cookie rules %+v", cfg.Cookies.DomainRules)
		}
		if !cfg.Web.Enable || cfg.Web.Port != 9000 || cfg.Web.Path != "/api" {
			t.Errorf("unexpected web config %+v", cfg.Web)
		}
	})
}

func validConfig() *Config {
	return &Config{
		Server:  ServerConfig{Host: "0.0.0.0"},
		Project: ProjectConfig{File: "./mocktap.yaml"},
		Log:     LogConfig{Level: "info"},
		Forward: ForwardConfig{Timeout: 30, MaxConcurrent: 10},
	}
}

func TestConfigValidation(t *testing.T) {
	tests := []struct {
		name     string
		mutate   func(c *Config)
		errorMsg string
	}{
		{name: "Valid config", mutate: func(c *Config) {}},
		{name: "Empty host", mutate: func(c *Config) { c.Server.Host = "" }, errorMsg: "server host cannot be empty"},
		{name: "Negative function timeout", mutate: func(c *Config) { c.Server.FunctionTimeout = -1 }, errorMsg: "function timeout"},
		{name: "Empty project file", mutate: func(c *Config) { c.Project.File = " " }, errorMsg: "project file cannot be empty"},
		{name: "Invalid log level", mutate: func(c *Config) { c.Log.Level = "invalid" }, errorMsg: "invalid log level"},
		{
			name: "File logging enabled but empty path",
			mutate: func(c *Config) {
				c.Log.FileLogging = FileLogConfig{Enable: true}
			},
			errorMsg: "log file path cannot be empty",
		},
		{name: "Negative forward timeout", mutate: func(c *Config) { c.Forward.Timeout = -1 }, errorMsg: "forward timeout cannot be negative"},
		{name: "Zero max concurrent", mutate: func(c *Config) { c.Forward.MaxConcurrent = 0 }, errorMsg: "forward max concurrent must be at least 1"},
		{name: "Bad output mode", mutate: func(c *Config) { c.Output.Mode = "xml" }, errorMsg: "output mode"},
		{
			name: "Rewrite without rules",
			mutate: func(c *Config) {
				c.Forward.PathStrategy.Mode = "rewrite"
			},
			errorMsg: "rules cannot be empty",
		},
		{
			name: "Cookie rule without match",
			mutate: func(c *Config) {
				c.Cookies.DomainRules = []CookieDomainRule{{Replace: "localhost"}}
			},
			errorMsg: "cookie domain rule 1 match cannot be empty",
		},
		{
			name: "Web port out of range",
			mutate: func(c *Config) {
				c.Web = WebConfig{Enable: true, Port: 70000, Path: "/api", MaxEvents: 10}
			},
			errorMsg: "invalid web port",
		},
		{
			name: "Web path without slash",
			mutate: func(c *Config) {
				c.Web = WebConfig{Enable: true, Port: 9000, Path: "api", MaxEvents: 10}
			},
			errorMsg: "web path must start with '/'",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := validConfig()
			tt.mutate(cfg)
			err := cfg.Validate()

			if tt.errorMsg == "" {
				if err != nil {
					t.Errorf("Expected no error, but got: %v", err)
				}
				return
			}
			if err == nil {
				t.Fatalf("Expected error containing '%s', but got no error", tt.errorMsg)
			}
			if !strings.Contains(err.Error(), tt.errorMsg) {
				t.Errorf("Expected error containing '%s', got '%s'", tt.errorMsg, err.Error())
			}
		})
	}
}

func TestValidateNormalizesModes(t *testing.T) {
	cfg := validConfig()
	cfg.Output.Mode = "JSON"
	if err := cfg.Validate(); err != nil {
		t.Fatalf("Validate: %v", err)
	}
	if cfg.Output.Mode != "json" {
		t.Errorf("expected normalized output mode, got %s", cfg.Output.Mode)
	}
	if cfg.Forward.PathStrategy.Mode != "append" {
		t.Errorf("expected default path strategy, got %s", cfg.Forward.PathStrategy.Mode)
	}
}

func TestNormalizeHeaderList(t *testing.T) {
	got := normalizeHeaderList([]string{" Host", "host", "", "X-Token"})
	if strings.Join(got, ",") != "host,x-token" {
		t.Errorf("unexpected list %v", got)
	}
}
