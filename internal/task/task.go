// Package task holds the schedulable unit of a flow: identity, algorithm
// reference, parameters, ordered input/output patterns, status and rank.
//
// Tasks carry no edges. Dependencies between tasks are owned by the graph
// package, which keeps both directions in sync.
package task

import (
	"fmt"
	"strings"

	"github.com/pingcap/errors"
	"github.com/whacked/patflow/internal/pattern"
)

// ExpansionMark separates a task id from the token it was expanded for.
const ExpansionMark = '#'

// Status is the runtime state of a task.
type Status int

const (
	// Waiting for at least one prerequisite to finish.
	Waiting Status = iota
	// Pending tasks are ready to be processed.
	Pending
	// InProgress tasks are currently being processed.
	InProgress
	// Done tasks finished successfully.
	Done
	// Failed tasks finished with an error.
	Failed
)

var statusNames = [...]string{"WAITING", "PENDING", "IN_PROGRESS", "DONE", "FAILED"}

func (s Status) String() string {
	if s < Waiting || s > Failed {
		return fmt.Sprintf("Status(%d)", int(s))
	}
	return statusNames[s]
}

// ParseStatus is the inverse of Status.String.
func ParseStatus(s string) (Status, error) {
	for i, name := range statusNames {
		if strings.EqualFold(name, s) {
			return Status(i), nil
		}
	}
	return Waiting, errors.Errorf("unknown task status %q", s)
}

// MarshalYAML stores statuses by name in run journals.
func (s Status) MarshalYAML() (interface{}, error) {
	return s.String(), nil
}

// UnmarshalYAML reads a status written by MarshalYAML.
func (s *Status) UnmarshalYAML(unmarshal func(interface{}) error) error {
	var name string
	if err := unmarshal(&name); err != nil {
		return err
	}
	parsed, err := ParseStatus(name)
	if err != nil {
		return err
	}
	*s = parsed
	return nil
}

// Params are algorithm parameters. They are copied, never shared, when a
// task is cloned.
type Params map[string]string

// Clone returns an independent copy of p.
func (p Params) Clone() Params {
	if p == nil {
		return Params{}
	}
	out := make(Params, len(p))
	for k, v := range p {
		out[k] = v
	}
	return out
}

// Task is one schedulable unit.
type Task struct {
	ID        string
	Algorithm string
	Params    Params
	Inputs    []string
	Outputs   []string
	Status    Status
	// Rank is the topological position, -1 until sorted.
	Rank int
	// Expanded is set once the task has been superseded by its expansions.
	Expanded bool
}

// New creates a task with no dependencies yet.
func New(id, algorithm string, params Params, inputs, outputs []string) *Task {
	return &Task{
		ID:        id,
		Algorithm: algorithm,
		Params:    params.Clone(),
		Inputs:    cloneStrings(inputs),
		Outputs:   cloneStrings(outputs),
		Status:    Pending,
		Rank:      -1,
	}
}

// CloneWithSuffix copies t under the id `t.ID#token`. Status and rank are
// copied verbatim.
func (t *Task) CloneWithSuffix(token string) *Task {
	return &Task{
		ID:        t.ID + string(ExpansionMark) + token,
		Algorithm: t.Algorithm,
		Params:    t.Params.Clone(),
		Inputs:    cloneStrings(t.Inputs),
		Outputs:   cloneStrings(t.Outputs),
		Status:    t.Status,
		Rank:      t.Rank,
	}
}

// IsDerived reports whether t was produced by expansion.
func (t *Task) IsDerived() bool {
	return strings.IndexByte(t.ID, ExpansionMark) >= 0
}

// PatternReplacement returns the text an expanded task substitutes for the
// wildcard of its original patterns: everything after the first expansion
// mark, with further marks turned into underscores.
func (t *Task) PatternReplacement() (string, bool) {
	i := strings.IndexByte(t.ID, ExpansionMark)
	if i < 0 {
		return "", false
	}
	return strings.ReplaceAll(t.ID[i+1:], string(ExpansionMark), "_"), true
}

// ReplaceInput splices files in place of the input at pos. It is used for
// listing inputs, which take the whole family at once.
func (t *Task) ReplaceInput(pos int, files []string) error {
	if pos < 0 || pos >= len(t.Inputs) {
		return errors.Errorf("task %s: input %d out of range", t.ID, pos)
	}
	inputs := make([]string, 0, len(t.Inputs)-1+len(files))
	inputs = append(inputs, t.Inputs[:pos]...)
	inputs = append(inputs, files...)
	inputs = append(inputs, t.Inputs[pos+1:]...)
	t.Inputs = inputs
	return nil
}

// ReplaceOutput sets the output at pos.
func (t *Task) ReplaceOutput(pos int, file string) error {
	if pos < 0 || pos >= len(t.Outputs) {
		return errors.Errorf("task %s: output %d out of range", t.ID, pos)
	}
	t.Outputs[pos] = file
	return nil
}

// OpenInputs returns the indices of inputs that still hold a wildcard once
// sub-specifications are folded in.
func (t *Task) OpenInputs() []int {
	var out []int
	for i, in := range t.Inputs {
		if pattern.HasWildcard(pattern.Normalize(in)) {
			out = append(out, i)
		}
	}
	return out
}

func (t *Task) String() string {
	return fmt.Sprintf("%s: %s\n\tparams: %v\n\tinput: %v\n\toutput: %v",
		t.ID, t.Status, map[string]string(t.Params), t.Inputs, t.Outputs)
}

func cloneStrings(in []string) []string {
	if in == nil {
		return nil
	}
	return append(make([]string, 0, len(in)), in...)
}
