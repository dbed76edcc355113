package forwarder

import (
	"fmt"
	"path"
	"regexp"
	"strings"

	"github.com/funnyzak/mocktap/internal/logger"
)

type pathStrategyMode string

const (
	pathModeAppend      pathStrategyMode = "append"
	pathModeStripPrefix pathStrategyMode = "strip_prefix"
	pathModeRewrite     pathStrategyMode = "rewrite"
)

// PathStrategyOptions configures how fallback paths are mapped onto the upstream
type PathStrategyOptions struct {
	Mode        string
	StripPrefix string
	Rules       []RewriteRuleOption
}

// RewriteRuleOption describes a single rewrite rule definition
type RewriteRuleOption struct {
	Name    string
	Match   string
	Replace string
	Regex   bool
}

type pathStrategy struct {
	mode        pathStrategyMode
	stripPrefix string
	rules       []rewriteRule
}

type rewriteRule struct {
	name    string
	match   string
	replace string
	expr    *regexp.Regexp
}

// newPathStrategy returns nil for append mode, which keeps the path verbatim
func newPathStrategy(opts PathStrategyOptions, log logger.Logger) *pathStrategy {
	switch pathStrategyMode(strings.ToLower(opts.Mode)) {
	case pathModeStripPrefix:
		prefix := strings.TrimSpace(opts.StripPrefix)
		if prefix == "" || prefix == "/" {
			return nil
		}
		return &pathStrategy{mode: pathModeStripPrefix, stripPrefix: cleanURLPath(prefix)}
	case pathModeRewrite:
		rules := buildRewriteRules(opts.Rules, log)
		if len(rules) == 0 {
			return nil
		}
		return &pathStrategy{mode: pathModeRewrite, rules: rules}
	default:
		return nil
	}
}

// resolve maps an incoming path and reports the rule that fired, if any
func (ps *pathStrategy) resolve(inputPath string) (string, string) {
	if ps == nil {
		if inputPath == "" {
			return "/", ""
		}
		return inputPath, ""
	}

	cleanPath := cleanURLPath(inputPath)
	switch ps.mode {
	case pathModeStripPrefix:
		if cleanPath == ps.stripPrefix || strings.HasPrefix(cleanPath, ps.stripPrefix+"/") {
			return joinURLPath("/", strings.TrimPrefix(cleanPath, ps.stripPrefix)), string(ps.mode)
		}
	case pathModeRewrite:
		for _, rule := range ps.rules {
			if rule.expr != nil {
				if rule.expr.MatchString(cleanPath) {
					return cleanURLPath(rule.expr.ReplaceAllString(cleanPath, rule.replace)), rule.name
				}
				continue
			}
			if strings.HasPrefix(cleanPath, rule.match) {
				return joinURLPath(rule.replace, strings.TrimPrefix(cleanPath, rule.match)), rule.name
			}
		}
	}
	return cleanPath, ""
}

func buildRewriteRules(options []RewriteRuleOption, log logger.Logger) []rewriteRule {
	var rules []rewriteRule
	for idx, opt := range options {
		rule := rewriteRule{
			name:    opt.Name,
			match:   strings.TrimSpace(opt.Match),
			replace: strings.TrimSpace(opt.Replace),
		}
		if rule.name == "" {
			rule.name = fmt.Sprintf("rewrite_rule_%d", idx+1)
		}
		if rule.replace == "" {
			rule.replace = "/"
		}
		if opt.Regex {
			if rule.match == "" {
				continue
			}
			compiled, err := regexp.Compile(rule.match)
			if err != nil {
				if log != nil {
					log.Warn("Invalid rewrite regex skipped", "rule", rule.name, "error", err)
				}
				continue
			}
			rule.expr = compiled
		} else {
			rule.match = cleanURLPath(rule.match)
			if rule.match == "/" {
				continue
			}
			rule.replace = cleanURLPath(rule.replace)
		}
		rules = append(rules, rule)
	}
	return rules
}

func cleanURLPath(p string) string {
	if p == "" {
		return "/"
	}
	cleaned := path.Clean("/" + strings.TrimPrefix(p, "/"))
	if cleaned == "." {
		return "/"
	}
	return cleaned
}

func joinURLPath(base, remainder string) string {
	remainder = strings.TrimLeft(remainder, "/")
	if remainder == "" {
		return cleanURLPath(base)
	}
	return cleanURLPath(cleanURLPath(base) + "/" + remainder)
}
