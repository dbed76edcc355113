package cookies

import (
	"net"
	"net/http"
	"net/url"
	"strings"

	"github.com/funnyzak/mocktap/pkg/routes"
	"golang.org/x/net/publicsuffix"
)

// WildcardMatch is the rule domain that applies to any cookie
const WildcardMatch = "*"

// Rule rewrites cookie domains matching Match to Replace. An empty Replace
// means the mock server's own host.
type Rule struct {
	Match   string
	Replace string
}

// Rewriter applies the set-cookie rules of one server
type Rewriter struct {
	rules []Rule
}

// NewRewriter creates a rewriter with operator supplied rules; they are
// consulted before the upstream's registrable domain, "*" last.
func NewRewriter(rules []Rule) *Rewriter {
	cleaned := make([]Rule, 0, len(rules))
	for _, r := range rules {
		r.Match = strings.TrimPrefix(strings.ToLower(strings.TrimSpace(r.Match)), ".")
		r.Replace = strings.TrimSpace(r.Replace)
		if r.Match != "" {
			cleaned = append(cleaned, r)
		}
	}
	return &Rewriter{rules: cleaned}
}

// Context is what a single reply needs to rewrite its cookies
type Context struct {
	Settings routes.ServerSettings
	// Upstream is the origin the reply came from, if any
	Upstream string
	// Host is the Host header of the incoming request
	Host string
}

// Apply rewrites every Set-Cookie header in h. It is a no-op without a known
// upstream origin or when no cookie flag is set.
func (rw *Rewriter) Apply(h http.Header, c Context) {
	if h == nil || strings.TrimSpace(c.Upstream) == "" {
		return
	}
	if !c.Settings.RewriteCookieDomain && !c.Settings.SimplifyCookies {
		return
	}
	values := h.Values("Set-Cookie")
	if len(values) == 0 {
		return
	}

	mockHost := HostWithoutPort(c.Host)
	rules := rw.rulesFor(c.Upstream)
	rewritten := make([]string, 0, len(values))
	for _, v := range values {
		if c.Settings.SimplifyCookies {
			v = Simplify(v)
		} else if c.Settings.RewriteCookieDomain {
			v = RewriteDomain(v, rules, mockHost)
		}
		rewritten = append(rewritten, v)
	}
	h.Del("Set-Cookie")
	for _, v := range rewritten {
		h.Add("Set-Cookie", v)
	}
}

// rulesFor returns the explicit rules, then the upstream default, then "*"
func (rw *Rewriter) rulesFor(upstream string) []Rule {
	var (
		out      []Rule
		wildcard *Rule
	)
	for i := range rw.rules {
		if rw.rules[i].Match == WildcardMatch {
			if wildcard == nil {
				wildcard = &rw.rules[i]
			}
			continue
		}
		out = append(out, rw.rules[i])
	}
	if domain := RegistrableDomain(upstreamHost(upstream)); domain != "" {
		out = append(out, Rule{Match: domain})
	}
	if wildcard != nil {
		out = append(out, *wildcard)
	}
	return out
}

// RewriteDomain replaces the Domain attribute of one Set-Cookie value when
// a rule matches it. Attribute order and key spelling are kept.
func RewriteDomain(cookie string, rules []Rule, mockHost string) string {
	parts := strings.Split(cookie, ";")
	changed := false
	for i := 1; i < len(parts); i++ {
		attr := strings.TrimSpace(parts[i])
		eq := strings.IndexByte(attr, '=')
		if eq < 0 {
			continue
		}
		key := strings.TrimSpace(attr[:eq])
		if !strings.EqualFold(key, "domain") {
			continue
		}
		domain := strings.TrimPrefix(strings.ToLower(strings.TrimSpace(attr[eq+1:])), ".")
		for _, rule := range rules {
			if !ruleMatches(rule.Match, domain) {
				continue
			}
			replace := rule.Replace
			if replace == "" {
				replace = mockHost
			}
			parts[i] = " " + key + "=" + replace
			changed = true
			break
		}
	}
	if !changed {
		return cookie
	}
	for i := range parts {
		parts[i] = strings.TrimSpace(parts[i])
	}
	return strings.Join(parts, "; ")
}

func ruleMatches(match, domain string) bool {
	if match == WildcardMatch {
		return true
	}
	return domain == match || strings.HasSuffix(domain, "."+match)
}

// Simplify keeps only the name=value pair of a Set-Cookie value
func Simplify(cookie string) string {
	if idx := strings.IndexByte(cookie, ';'); idx >= 0 {
		cookie = cookie[:idx]
	}
	return strings.TrimSpace(cookie)
}

// Duplicate returns the outgoing Cookie header value repeated once
func Duplicate(value string) string {
	if value == "" {
		return value
	}
	return value + ";" + value
}

// RegistrableDomain returns the eTLD+1 of host. Hosts the public suffix
// list cannot classify fall back to their last two labels.
func RegistrableDomain(host string) string {
	host = strings.TrimSuffix(strings.ToLower(strings.TrimSpace(host)), ".")
	if host == "" || net.ParseIP(host) != nil {
		return host
	}
	if domain, err := publicsuffix.EffectiveTLDPlusOne(host); err == nil {
		return domain
	}
	labels := strings.Split(host, ".")
	if len(labels) <= 2 {
		return host
	}
	return strings.Join(labels[len(labels)-2:], ".")
}

// HostWithoutPort strips the port from a Host header value
func HostWithoutPort(host string) string {
	host = strings.TrimSpace(host)
	if host == "" {
		return "localhost"
	}
	if h, _, err := net.SplitHostPort(host); err == nil {
		return h
	}
	return strings.Trim(host, "[]")
}

func upstreamHost(upstream string) string {
	u, err := url.Parse(upstream)
	if err != nil || u.Host == "" {
		return HostWithoutPort(upstream)
	}
	return u.Hostname()
}
