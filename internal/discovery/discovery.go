// Package discovery finds the concrete files that belong to a wildcard
// pattern, on the local file system or in an S3 bucket.
package discovery

import (
	"context"
	"sort"
	"strings"

	"github.com/whacked/patflow/internal/pattern"
)

// Lister returns every existing file matching a pattern, sorted.
type Lister interface {
	List(ctx context.Context, p string) ([]string, error)
}

// Match is one discovered file and the text captured by each wildcard of
// the pattern it was found for.
type Match struct {
	Path     string
	Captures []string
}

// Resolve lists p and pairs every hit with its captures. Files the lister
// returns that do not fit p are dropped.
func Resolve(ctx context.Context, l Lister, p string) ([]Match, error) {
	files, err := l.List(ctx, p)
	if err != nil {
		return nil, err
	}
	n := pattern.Normalize(p)
	m := pattern.NewMatcher(n)
	var out []Match
	for _, f := range files {
		if depth(f) != depth(n) {
			continue
		}
		if caps, ok := m.Match(f); ok {
			out = append(out, Match{Path: f, Captures: caps})
		}
	}
	return out, nil
}

// Tokens returns the distinct first captures of ms in order of appearance.
func Tokens(ms []Match) []string {
	seen := map[string]bool{}
	var out []string
	for _, m := range ms {
		if len(m.Captures) == 0 || seen[m.Captures[0]] {
			continue
		}
		seen[m.Captures[0]] = true
		out = append(out, m.Captures[0])
	}
	return out
}

// Paths returns the paths of ms.
func Paths(ms []Match) []string {
	out := make([]string, len(ms))
	for i, m := range ms {
		out[i] = m.Path
	}
	return out
}

// staticPrefix is the part of p before its first wildcard or variable.
func staticPrefix(p string) string {
	n := pattern.Normalize(p)
	if i := strings.IndexAny(n, "*$"); i >= 0 {
		return n[:i]
	}
	return n
}

// depth is the number of path separators in p. A wildcard stands for part
// of one path segment, so a match always sits at the depth of its pattern.
func depth(p string) int {
	return strings.Count(p, "/")
}

func matching(candidates []string, p string) []string {
	n := pattern.Normalize(p)
	if !pattern.HasWildcard(n) {
		for _, c := range candidates {
			if c == n {
				return []string{c}
			}
		}
		return nil
	}
	m := pattern.NewMatcher(n)
	var out []string
	for _, c := range candidates {
		if depth(c) != depth(n) {
			continue
		}
		if _, ok := m.Match(c); ok {
			out = append(out, c)
		}
	}
	sort.Strings(out)
	return out
}
