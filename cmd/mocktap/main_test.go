package main

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/funnyzak/mocktap/internal/config"
	"github.com/funnyzak/mocktap/internal/project"
)

func TestEngineOptions(t *testing.T) {
	cfg := &config.Config{
		Server: config.ServerConfig{MaxBodyBytes: 1024, FunctionTimeout: time.Second},
		Forward: config.ForwardConfig{
			Timeout:       7,
			MaxConcurrent: 3,
			PathStrategy: config.ForwardPathStrategyConfig{
				Mode:  "rewrite",
				Rules: []config.ForwardRewriteRuleConfig{{Match: "/v1", Replace: "/v2"}},
			},
		},
		Cookies: config.CookieConfig{DomainRules: []config.CookieDomainRule{{Match: "*", Replace: "localhost"}}},
	}

	opts := engineOptions(cfg)
	assert.Equal(t, int64(1024), opts.MaxBodyBytes)
	assert.Equal(t, time.Second, opts.FunctionTimeout)
	assert.Equal(t, 7*time.Second, opts.Forward.Timeout)
	assert.Equal(t, 3, opts.Forward.MaxConcurrent)
	require.Len(t, opts.Forward.PathStrategy.Rules, 1)
	assert.Equal(t, "/v2", opts.Forward.PathStrategy.Rules[0].Replace)
	assert.NotNil(t, opts.Forward.Cookies)
}

func TestServerIDs(t *testing.T) {
	store := project.NewStore(&project.Project{
		ID:      "demo",
		Servers: []project.Server{{ID: "a"}, {ID: "b"}},
	})

	ids, err := serverIDs(store, "demo", "")
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"a", "b"}, ids)

	ids, err = serverIDs(store, "demo", "b")
	require.NoError(t, err)
	assert.Equal(t, []string{"b"}, ids)

	empty := project.NewStore(&project.Project{ID: "empty"})
	_, err = serverIDs(empty, "empty", "")
	assert.Error(t, err)
}

func TestCalculateDisplayWidth(t *testing.T) {
	assert.Equal(t, 5, calculateDisplayWidth("hello"))
	assert.Equal(t, 3, calculateDisplayWidth("🚀 "))
	assert.Equal(t, 4, calculateDisplayWidth("中文"))
}
