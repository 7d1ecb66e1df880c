package pattern

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNormalize(t *testing.T) {
	tests := []struct {
		name    string
		pattern string
		want    string
	}{
		{"no wildcard", "plain.txt", "plain.txt"},
		{"bare wildcard untouched", "data-*.arff", "data-*.arff"},
		{"sub-spec folded", "a*|spec|b", "aspecb"},
		{"double star sub-spec keeps one star", "a**|x|b", "a*xb"},
		{"two sub-specs folded", "a*|x|b*|y|c", "axbyc"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := Normalize(tt.pattern)
			assert.Equal(t, tt.want, got)
			assert.Equal(t, got, Normalize(got), "normalize must be idempotent")
		})
	}
}

func TestMatchSingle(t *testing.T) {
	tests := []struct {
		name    string
		value   string
		pattern string
		want    string
		ok      bool
	}{
		{"simple capture", "fooXYZbar", "foo*bar", "XYZ", true},
		{"double star", "fooXYZbar", "foo**bar", "XYZ", true},
		{"dollar variable", "fooXYZbar", "foo$1bar", "XYZ", true},
		{"trailing wildcard", "train-01.arff", "train-*", "01.arff", true},
		{"empty capture", "foobar", "foo*bar", "", true},
		{"prefix mismatch", "xooXYZbar", "foo*bar", "", false},
		{"suffix mismatch", "fooXYZbaz", "foo*bar", "", false},
		{"overlapping prefix and suffix", "fooar", "foo*oar", "", false},
		{"no wildcard", "foo", "foo", "", false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, ok := MatchSingle(tt.value, tt.pattern)
			require.Equal(t, tt.ok, ok)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestMatchAll(t *testing.T) {
	got, ok := MatchAll("aXXbYYc", "a$1b$2c")
	require.True(t, ok)
	assert.Equal(t, []string{"XX", "YY"}, got)

	got, ok = MatchAll("part-3.of.7.txt", "part-*.of.$2.txt")
	require.True(t, ok)
	assert.Equal(t, []string{"3", "7"}, got)

	// literal dots must not match arbitrary characters
	_, ok = MatchAll("part-3Xof.7.txt", "part-*.of.$2.txt")
	assert.False(t, ok)

	// captures are non-empty
	_, ok = MatchAll("abc", "a$1bc")
	assert.False(t, ok)

	got, ok = MatchAll("exact", "exact")
	require.True(t, ok)
	assert.Empty(t, got)
}

func TestMatcherAgreesWithMatchAll(t *testing.T) {
	m := NewMatcher("part-*.of.$2.txt")
	for _, value := range []string{"part-3.of.7.txt", "part-3Xof.7.txt", "part-.of.7.txt", "part-10.of.20.txt"} {
		want, wantOK := MatchAll(value, "part-*.of.$2.txt")
		got, ok := m.Match(value)
		assert.Equal(t, wantOK, ok, value)
		assert.Equal(t, want, got, value)
	}
}

func TestSubstituteFirst(t *testing.T) {
	assert.Equal(t, "fooXYZbar", SubstituteFirst("foo*bar", "XYZ"))
	assert.Equal(t, "fooXYZbar", SubstituteFirst("foo**bar", "XYZ"))
	assert.Equal(t, "fooXYZbar*", SubstituteFirst("foo$3bar*", "XYZ"))
	assert.Equal(t, "a-1-*", SubstituteFirst("a-*-*", "1"))
	assert.Equal(t, "plain", SubstituteFirst("plain", "XYZ"))
	// replacement text is literal
	assert.Equal(t, "a$1b", SubstituteFirst("a*b", "$1"))
}

func TestPatternRoundTrip(t *testing.T) {
	capture, ok := MatchSingle("fooXYZbar", "foo*bar")
	require.True(t, ok)
	assert.Equal(t, "fooXYZbar", SubstituteFirst("foo*bar", capture))
}

func TestSubstituteVariable(t *testing.T) {
	got, ok := SubstituteVariable("list-**.txt", "all", 0)
	require.True(t, ok)
	assert.Equal(t, "list-all.txt", got)

	got, ok = SubstituteVariable("in-*.txt", "7", 1)
	require.True(t, ok)
	assert.Equal(t, "in-7.txt", got)

	got, ok = SubstituteVariable("x-$2-$1-$2", "B", 2)
	require.True(t, ok)
	assert.Equal(t, "x-B-$1-B", got)

	_, ok = SubstituteVariable("x-$2", "B", 3)
	assert.False(t, ok)

	_, ok = SubstituteVariable("x-$2", "B", 12)
	assert.False(t, ok)
}

func TestVariableIndices(t *testing.T) {
	assert.Nil(t, VariableIndices("plain.txt"))
	assert.Equal(t, []int{1}, VariableIndices("a*b"))
	assert.Equal(t, []int{0}, VariableIndices("a**b"))
	assert.Equal(t, []int{0, 1}, VariableIndices("a**b*c"))
	assert.Equal(t, []int{2, 5}, VariableIndices("$5-$2-$5"))
}

func TestHasVariable(t *testing.T) {
	assert.True(t, HasVariable("a**b", true))
	assert.False(t, HasVariable("a**b", false))
	assert.True(t, HasVariable("a*b", false))
	assert.False(t, HasVariable("a*b", true))
	assert.True(t, HasVariable("a$0b$3", true))
	assert.True(t, HasVariable("a$0b$3", false))
	assert.False(t, HasVariable("plain$", false))
}

func TestDependencyKey(t *testing.T) {
	want := "a*b"
	assert.Equal(t, want, DependencyKey("a**b"))
	assert.Equal(t, want, DependencyKey("a*b"))
	assert.Equal(t, want, DependencyKey("a*|spec|b"))
	assert.Equal(t, "plain.txt", DependencyKey("plain.txt"))
	assert.Equal(t, "a*b*c", DependencyKey("a*b*c"))
}

func TestWildcardHelpers(t *testing.T) {
	assert.Equal(t, 0, CountWildcardRuns("plain"))
	assert.Equal(t, 1, CountWildcardRuns("a***b"))
	assert.Equal(t, 2, CountWildcardRuns("a*b**c"))

	assert.True(t, HasWildcard("a$4"))
	assert.True(t, HasWildcard("a*"))
	assert.False(t, HasWildcard("a$b"))

	assert.True(t, IsPositional("in-***.txt"))
	assert.False(t, IsPositional("in-****.txt"))
	assert.False(t, IsPositional("in-*.txt"))
}
