package task

import (
	"strings"

	"github.com/pingcap/errors"
	"github.com/whacked/patflow/internal/pattern"
)

// ExpandSingleWildcard clones t for token and substitutes token into every
// input holding exactly one `*` or `**` run. Inputs with several runs, or
// with the reserved `***`, are left for a different expansion method.
func (t *Task) ExpandSingleWildcard(token string) *Task {
	c := t.CloneWithSuffix(token)
	substituteSingle(c.Inputs, token)
	return c
}

// ExpandOutputs applies the single wildcard rule to the outputs of t in
// place. It is the output-side counterpart of ExpandSingleWildcard.
func (t *Task) ExpandOutputs(token string) {
	substituteSingle(t.Outputs, token)
}

// ExpandPositional clones t for token and rewrites only the `***` marker of
// Inputs[idx]. An input without exactly one marker is copied unchanged.
func (t *Task) ExpandPositional(token string, idx int) (*Task, error) {
	if idx < 0 || idx >= len(t.Inputs) {
		return nil, errors.Errorf("task %s: input %d out of range", t.ID, idx)
	}
	c := t.CloneWithSuffix(token)
	in := c.Inputs[idx]
	if pattern.IsPositional(in) {
		pos := strings.Index(in, pattern.Positional)
		c.Inputs[idx] = in[:pos] + token + in[pos+len(pattern.Positional):]
	}
	return c, nil
}

func substituteSingle(patterns []string, token string) {
	for i, p := range patterns {
		n := pattern.Normalize(p)
		if pattern.CountWildcardRuns(n) != 1 || strings.Contains(n, pattern.Positional) {
			continue
		}
		patterns[i] = pattern.SubstituteRun(n, token)
	}
}
