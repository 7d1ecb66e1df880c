// Package pattern implements the file-name pattern grammar used to link
// tasks together and to fan a declared task out into concrete tasks.
//
// A pattern is a file-name-like string. `*` and `**` stand for one member
// of a file family (`**` marks the listing variable), `***` is reserved for
// late binding to a single input, `$0`..`$9` are numbered variables and
// `*|spec|` folds the literal spec into the constant part of the pattern.
package pattern

import (
	"regexp"
	"sort"
	"strconv"
	"strings"
)

var (
	subSpecRe      = regexp.MustCompile(`\*+\|[^|]+\|`)
	foldSubSpecRe  = regexp.MustCompile(`\*\|([^|]+)\|`)
	firstVarRe     = regexp.MustCompile(`\*+|\$[0-9]`)
	wildcardRunRe  = regexp.MustCompile(`\*+`)
	familyRe       = regexp.MustCompile(`\*+(\|[^|]+\|)?`)
	separateRunsRe = regexp.MustCompile(`\*[^*]+\*`)
)

// Positional is the wildcard reserved for binding a single input late.
const Positional = "***"

// Normalize folds every `*|spec|` sub-specification into the constant part
// of the pattern. Patterns without sub-specifications are returned as-is.
func Normalize(p string) string {
	if !subSpecRe.MatchString(p) {
		return p
	}
	return foldSubSpecRe.ReplaceAllString(p, "${1}")
}

// MatchSingle collapses the first wildcard run (or `$digit`) of p to one
// anchor and reports the part of value found between p's literal prefix
// and suffix.
func MatchSingle(value, p string) (string, bool) {
	p = replaceFirst(firstVarRe, p, "*")
	pos := strings.IndexByte(p, '*')
	if pos < 0 {
		return "", false
	}
	start := p[:pos]
	end := ""
	if !strings.HasSuffix(p, "*") {
		end = p[pos+1:]
	}
	if !strings.HasPrefix(value, start) || !strings.HasSuffix(value, end) ||
		len(value) < len(start)+len(end) {
		return "", false
	}
	return value[len(start) : len(value)-len(end)], true
}

// MatchAll treats every `$digit` and every wildcard run of p as a
// non-empty capture group and returns the captures left to right.
func MatchAll(value, p string) ([]string, bool) {
	return NewMatcher(p).Match(value)
}

// Matcher is the compiled form of MatchAll for one pattern, for matching
// many values against it.
type Matcher struct {
	re *regexp.Regexp
}

// NewMatcher compiles p. Every literal part is quoted, so it cannot fail.
func NewMatcher(p string) *Matcher {
	return &Matcher{re: regexp.MustCompile(`^` + captureExpr(p) + `$`)}
}

// Match reports whether value fits the pattern and returns its captures.
func (m *Matcher) Match(value string) ([]string, bool) {
	sub := m.re.FindStringSubmatch(value)
	if sub == nil {
		return nil, false
	}
	return append([]string{}, sub[1:]...), true
}

func captureExpr(p string) string {
	var sb strings.Builder
	last := 0
	for _, loc := range firstVarRe.FindAllStringIndex(p, -1) {
		sb.WriteString(regexp.QuoteMeta(p[last:loc[0]]))
		sb.WriteString(`(.+)`)
		last = loc[1]
	}
	sb.WriteString(regexp.QuoteMeta(p[last:]))
	return sb.String()
}

// SubstituteFirst normalizes p and replaces its first wildcard run or
// `$digit` with the literal replacement.
func SubstituteFirst(p, replacement string) string {
	return replaceFirst(firstVarRe, Normalize(p), replacement)
}

// SubstituteRun replaces the first `*` run of p with the literal
// replacement, leaving numbered variables alone.
func SubstituteRun(p, replacement string) string {
	return replaceFirst(wildcardRunRe, p, replacement)
}

// SubstituteVariable normalizes p, rewrites `**` to `$0` and the next bare
// `*` to `$1`, then replaces every occurrence of variable idx. It reports
// false when p has no such variable.
func SubstituteVariable(p, replacement string, idx int) (string, bool) {
	if idx < 0 || idx > 9 {
		return "", false
	}
	p = canonical(Normalize(p))
	v := "$" + strconv.Itoa(idx)
	if !strings.Contains(p, v) {
		return "", false
	}
	return strings.ReplaceAll(p, v, replacement), true
}

// VariableIndices returns the sorted, distinct variable numbers present
// in p after canonicalization, or nil if there are none.
func VariableIndices(p string) []int {
	seen := map[int]struct{}{}
	for _, d := range variableDigits(canonical(p)) {
		seen[d] = struct{}{}
	}
	if len(seen) == 0 {
		return nil
	}
	out := make([]int, 0, len(seen))
	for d := range seen {
		out = append(out, d)
	}
	sort.Ints(out)
	return out
}

// HasVariable reports whether p holds the listing variable `$0` (listMode)
// or any of the expansion variables `$1`..`$9`.
func HasVariable(p string, listMode bool) bool {
	for _, d := range variableDigits(canonical(p)) {
		if listMode == (d == 0) {
			return true
		}
	}
	return false
}

// DependencyKey returns the family key of p: `**` and a single `*`
// (optionally followed by a sub-spec) collapse to one `*`. Patterns with no
// wildcard, or with two separate wildcard runs, are returned unchanged.
func DependencyKey(p string) string {
	if !familyRe.MatchString(p) || separateRunsRe.MatchString(p) {
		return p
	}
	return replaceFirst(familyRe, p, "*")
}

// CountWildcardRuns returns the number of maximal `*` runs in p.
func CountWildcardRuns(p string) int {
	return len(wildcardRunRe.FindAllStringIndex(p, -1))
}

// HasWildcard reports whether p still contains anything to expand.
func HasWildcard(p string) bool {
	return firstVarRe.MatchString(p)
}

// IsPositional reports whether p carries exactly one reserved `***` marker.
func IsPositional(p string) bool {
	i := strings.Index(p, Positional)
	return i >= 0 && i == strings.LastIndex(p, Positional)
}

func canonical(p string) string {
	p = replaceFirstLiteral(p, "**", "$0")
	return replaceFirstLiteral(p, "*", "$1")
}

func variableDigits(p string) []int {
	var out []int
	for i := 0; i < len(p)-1; i++ {
		if p[i] == '$' && p[i+1] >= '0' && p[i+1] <= '9' {
			out = append(out, int(p[i+1]-'0'))
		}
	}
	return out
}

func replaceFirst(re *regexp.Regexp, s, repl string) string {
	loc := re.FindStringIndex(s)
	if loc == nil {
		return s
	}
	return s[:loc[0]] + repl + s[loc[1]:]
}

func replaceFirstLiteral(s, old, repl string) string {
	return strings.Replace(s, old, repl, 1)
}
