package executor

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/exec"
	"sort"
	"strings"

	"github.com/pingcap/errors"

	"github.com/whacked/patflow/internal/pattern"
	"github.com/whacked/patflow/internal/task"
)

// Job is everything an algorithm gets to process one task.
type Job struct {
	RunID   string
	Task    *task.Task
	Workdir string
	Stdout  io.Writer
	Stderr  io.Writer
}

// Algorithm processes the task of a job.
type Algorithm interface {
	Run(ctx context.Context, job *Job) error
}

// Describer is implemented by algorithms that can say what they would do,
// for dry runs.
type Describer interface {
	Describe(job *Job) (string, error)
}

// AlgorithmFunc adapts a plain function to Algorithm.
type AlgorithmFunc func(ctx context.Context, job *Job) error

// Run implements Algorithm.
func (f AlgorithmFunc) Run(ctx context.Context, job *Job) error {
	return f(ctx, job)
}

// Registry maps algorithm names used in scenario files to implementations.
type Registry map[string]Algorithm

// DefaultRegistry knows the built-in `shell` and `noop` algorithms.
func DefaultRegistry() Registry {
	return Registry{
		"shell": Shell{},
		"noop":  AlgorithmFunc(func(context.Context, *Job) error { return nil }),
	}
}

// Lookup returns the algorithm called name.
func (r Registry) Lookup(name string) (Algorithm, error) {
	if a, ok := r[name]; ok {
		return a, nil
	}
	return nil, errors.Annotatef(ErrUnknownAlgorithm, "%q", name)
}

// CommandParam is the parameter holding the shell command line.
const CommandParam = "cmd"

// Shell runs the `cmd` parameter with bash. `$in`/`$out` expand to all
// inputs/outputs separated by spaces, `$inN`/`$outN` (or `${in[N]}`) to a
// single one. Other parameters are exported to the command's environment.
type Shell struct{}

// Describe returns the command line Run would execute.
func (Shell) Describe(job *Job) (string, error) {
	return renderCommand(job.Task)
}

// Run implements Algorithm.
func (s Shell) Run(ctx context.Context, job *Job) error {
	command, err := renderCommand(job.Task)
	if err != nil {
		return err
	}
	cmd := exec.CommandContext(ctx, "bash", "-c", command)
	cmd.Dir = job.Workdir
	cmd.Stdout = job.Stdout
	cmd.Stderr = job.Stderr
	cmd.Env = append(os.Environ(), commandEnv(job)...)
	if err := cmd.Run(); err != nil {
		return errors.Annotatef(err, "task %s: %s", job.Task.ID, command)
	}
	return nil
}

func renderCommand(t *task.Task) (string, error) {
	command, ok := t.Params[CommandParam]
	if !ok || strings.TrimSpace(command) == "" {
		return "", errors.Errorf("task %s: missing %q parameter", t.ID, CommandParam)
	}

	inputs, outputs := normalized(t.Inputs), normalized(t.Outputs)
	vars := map[string]string{
		"in":  strings.Join(inputs, " "),
		"out": strings.Join(outputs, " "),
	}
	for i, in := range inputs {
		vars[fmt.Sprintf("in%d", i)] = in
		vars[fmt.Sprintf("in[%d]", i)] = in
	}
	for i, out := range outputs {
		vars[fmt.Sprintf("out%d", i)] = out
		vars[fmt.Sprintf("out[%d]", i)] = out
	}
	mapper := func(name string) string {
		if v, ok := vars[name]; ok {
			return v
		}
		// left for bash to resolve
		return "${" + name + "}"
	}
	return os.Expand(command, mapper), nil
}

func normalized(patterns []string) []string {
	out := make([]string, len(patterns))
	for i, p := range patterns {
		out[i] = pattern.Normalize(p)
	}
	return out
}

func commandEnv(job *Job) []string {
	keys := make([]string, 0, len(job.Task.Params))
	for k := range job.Task.Params {
		if k != CommandParam {
			keys = append(keys, k)
		}
	}
	sort.Strings(keys)
	env := []string{
		"PATFLOW_RUN_ID=" + job.RunID,
		"PATFLOW_TASK=" + job.Task.ID,
	}
	for _, k := range keys {
		env = append(env, fmt.Sprintf("%s=%s", k, job.Task.Params[k]))
	}
	return env
}
