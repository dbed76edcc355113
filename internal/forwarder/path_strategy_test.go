package forwarder

import "testing"

func TestPathStrategyStripPrefix(t *testing.T) {
	ps := newPathStrategy(PathStrategyOptions{
		Mode:        "strip_prefix",
		StripPrefix: "/api",
	}, nil)
	if ps == nil {
		t.Fatal("expected non-nil path strategy")
	}

	path, rule := ps.resolve("/api/v1/users")
	if path != "/v1/users" || rule == "" {
		t.Fatalf("expected stripped path, got %s rule %s", path, rule)
	}

	path, rule = ps.resolve("/apiary")
	if path != "/apiary" || rule != "" {
		t.Fatalf("prefix must match whole segments, got %s rule %s", path, rule)
	}
}

func TestPathStrategyRewritePrefix(t *testing.T) {
	ps := newPathStrategy(PathStrategyOptions{
		Mode: "rewrite",
		Rules: []RewriteRuleOption{
			{Name: "svc", Match: "/service", Replace: "/backend"},
		},
	}, nil)
	if ps == nil {
		t.Fatal("expected non-nil path strategy")
	}

	path, rule := ps.resolve("/service/foo")
	if path != "/backend/foo" || rule != "svc" {
		t.Fatalf("unexpected rewrite result path=%s rule=%s", path, rule)
	}
}

func TestPathStrategyRegex(t *testing.T) {
	ps := newPathStrategy(PathStrategyOptions{
		Mode: "rewrite",
		Rules: []RewriteRuleOption{
			{Name: "regex", Match: `^/tenant/(.*)$`, Replace: "/$1", Regex: true},
			{Name: "broken", Match: `([`, Regex: true},
		},
	}, nil)
	if ps == nil {
		t.Fatal("expected non-nil path strategy")
	}
	if len(ps.rules) != 1 {
		t.Fatalf("invalid regex should be skipped, got %d rules", len(ps.rules))
	}

	path, rule := ps.resolve("/tenant/acme/orders")
	if path != "/acme/orders" || rule != "regex" {
		t.Fatalf("unexpected regex rewrite path=%s rule=%s", path, rule)
	}
}

func TestPathStrategyAppendKeepsPathVerbatim(t *testing.T) {
	ps := newPathStrategy(PathStrategyOptions{}, nil)
	if ps != nil {
		t.Fatalf("expected nil strategy for default append mode")
	}
	if path, _ := ps.resolve("/users/"); path != "/users/" {
		t.Fatalf("append mode must keep trailing slash, got %s", path)
	}
	if path, _ := ps.resolve(""); path != "/" {
		t.Fatalf("expected root, got %s", path)
	}
}
