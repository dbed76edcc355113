package importer

import (
	"math"
	"regexp"
	"strings"
)

var versionSegment = regexp.MustCompile(`^v\d+$`)

// Grouping is a group path with the endpoints assigned to it
type Grouping struct {
	Path      string
	Endpoints []Endpoint
}

// segments splits a path and appends an empty sentinel segment
func segments(p string) []string {
	var out []string
	for _, s := range strings.Split(p, "/") {
		if s != "" {
			out = append(out, s)
		}
	}
	return append(out, "")
}

func groupKey(segs []string, depth int) string {
	return "/" + strings.Join(segs[:depth], "/")
}

// GroupEndpoints assigns every endpoint to exactly one group path. At each
// depth the score is count^depth + depth, quadrupled when the endpoint's
// tags name the last segment of the prefix. Prefixes shared by a single
// endpoint, and an "api" segment followed by a version, score zero. The
// deepest best-scoring prefix wins. Groups come back in the order their
// first endpoint appears.
func GroupEndpoints(endpoints []Endpoint) []Grouping {
	segs := make([][]string, len(endpoints))
	buckets := make(map[int]map[string]int)
	for i, ep := range endpoints {
		segs[i] = segments(ep.Path)
		for d := 0; d <= len(segs[i]); d++ {
			if buckets[d] == nil {
				buckets[d] = make(map[string]int)
			}
			buckets[d][groupKey(segs[i], d)]++
		}
	}

	var (
		groups []Grouping
		index  = make(map[string]int)
	)
	for i, ep := range endpoints {
		s := segs[i]
		best, bestScore := 0, -1.0
		for d := 0; d <= len(s); d++ {
			score := depthScore(ep, s, d, buckets[d][groupKey(s, d)])
			if score >= bestScore {
				best, bestScore = d, score
			}
		}

		p := strings.TrimRight(groupKey(s, best), "/")
		if p == "" {
			p = "/"
		}
		at, ok := index[p]
		if !ok {
			at = len(groups)
			index[p] = at
			groups = append(groups, Grouping{Path: p})
		}
		groups[at].Endpoints = append(groups[at].Endpoints, ep)
	}
	return groups
}

func depthScore(ep Endpoint, s []string, d, count int) float64 {
	if d == 0 {
		return math.Pow(float64(count), 0)
	}
	prev := s[d-1]
	if count == 1 {
		return 0
	}
	if prev == "api" && d < len(s) && versionSegment.MatchString(s[d]) {
		return 0
	}
	score := math.Pow(float64(count), float64(d)) + float64(d)
	if hasTag(ep.Tags, prev) {
		score *= 4
	}
	return score
}

func hasTag(tags []string, segment string) bool {
	if segment == "" {
		return false
	}
	for _, t := range tags {
		if strings.EqualFold(strings.TrimSpace(t), segment) {
			return true
		}
	}
	return false
}

// RoutePath is what remains of endpointPath below groupPath
func RoutePath(groupPath, endpointPath string) string {
	clean := "/" + strings.Join(trimSentinel(segments(endpointPath)), "/")
	if groupPath == "/" {
		return clean
	}
	rest := strings.TrimPrefix(clean, groupPath)
	if rest == "" {
		return "/"
	}
	return rest
}

func trimSentinel(s []string) []string {
	return s[:len(s)-1]
}
