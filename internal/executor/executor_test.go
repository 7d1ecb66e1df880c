package executor

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/pingcap/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/whacked/patflow/internal/graph"
	"github.com/whacked/patflow/internal/scenario"
	"github.com/whacked/patflow/internal/task"
)

// recorder is an algorithm registry entry that remembers what ran.
type recorder struct {
	mu   sync.Mutex
	runs []string
	fail map[string]bool
}

func (r *recorder) Run(_ context.Context, job *Job) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.runs = append(r.runs, job.Task.ID)
	if r.fail[job.Task.ID] {
		return errors.Errorf("%s broke", job.Task.ID)
	}
	return nil
}

func (r *recorder) ran() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string{}, r.runs...)
}

type captureReporter struct {
	mu      sync.Mutex
	skipped []string
}

func (c *captureReporter) TaskStarted(*task.Task) {}

func (c *captureReporter) TaskSkipped(t *task.Task, reason string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.skipped = append(c.skipped, t.ID+": "+reason)
}

func (c *captureReporter) TaskFinished(*task.Task, error) {}

func build(t *testing.T, src string) *graph.Graph {
	t.Helper()
	sc, err := scenario.Parse([]byte(src))
	require.NoError(t, err)
	g, err := sc.Build()
	require.NoError(t, err)
	return g
}

func status(t *testing.T, g *graph.Graph, id string) task.Status {
	t.Helper()
	h, ok := g.Lookup(id)
	require.True(t, ok, id)
	return g.Task(h).Status
}

const diamond = `
tasks:
  a: {algorithm: rec, out: a.txt}
  b: {algorithm: rec, in: a.txt, out: b.txt}
  c: {algorithm: rec, in: a.txt, out: c.txt}
  d: {algorithm: rec, in: [b.txt, c.txt]}
`

func TestRunRespectsDependencies(t *testing.T) {
	g := build(t, diamond)
	rec := &recorder{}
	e := New(g, Options{Workdir: t.TempDir(), Workers: 4}, WithRegistry(Registry{"rec": rec}))

	sum, err := e.Run(context.Background())
	require.NoError(t, err)
	require.Equal(t, 4, sum.Counts[task.Done])
	require.Empty(t, sum.Failed)
	require.Equal(t, e.RunID(), sum.RunID)

	runs := rec.ran()
	require.Len(t, runs, 4)
	require.Equal(t, "a", runs[0])
	require.Equal(t, "d", runs[3])
}

func TestRunKeepsIndependentBranchesAfterFailure(t *testing.T) {
	g := build(t, diamond)
	rec := &recorder{fail: map[string]bool{"b": true}}
	e := New(g, Options{Workdir: t.TempDir(), Workers: 2}, WithRegistry(Registry{"rec": rec}))

	sum, err := e.Run(context.Background())
	require.Error(t, err)
	require.Equal(t, ErrTasksFailed, errors.Cause(err))
	require.Equal(t, []string{"b"}, sum.Failed)
	require.Equal(t, task.Done, status(t, g, "c"))
	require.Equal(t, task.Waiting, status(t, g, "d"))
	require.NotContains(t, rec.ran(), "d")
}

func TestRunFailFast(t *testing.T) {
	g := build(t, `
tasks:
  a: {algorithm: rec}
  b: {algorithm: rec}
  c: {algorithm: rec}
`)
	rec := &recorder{fail: map[string]bool{"a": true}}
	e := New(g, Options{Workdir: t.TempDir(), Workers: 1, FailFast: true}, WithRegistry(Registry{"rec": rec}))

	_, err := e.Run(context.Background())
	require.Error(t, err)
	require.Equal(t, []string{"a"}, rec.ran())
	require.Equal(t, task.Pending, status(t, g, "b"))
}

func TestRunBoundsConcurrency(t *testing.T) {
	var sb strings.Builder
	sb.WriteString("tasks:\n")
	for i := 0; i < 8; i++ {
		fmt.Fprintf(&sb, "  t%d: {algorithm: slow}\n", i)
	}
	g := build(t, sb.String())

	var running, peak int32
	slow := AlgorithmFunc(func(context.Context, *Job) error {
		n := atomic.AddInt32(&running, 1)
		for {
			p := atomic.LoadInt32(&peak)
			if n <= p || atomic.CompareAndSwapInt32(&peak, p, n) {
				break
			}
		}
		time.Sleep(10 * time.Millisecond)
		atomic.AddInt32(&running, -1)
		return nil
	})
	e := New(g, Options{Workdir: t.TempDir(), Workers: 3}, WithRegistry(Registry{"slow": slow}))

	sum, err := e.Run(context.Background())
	require.NoError(t, err)
	require.Equal(t, 8, sum.Counts[task.Done])
	require.LessOrEqual(t, atomic.LoadInt32(&peak), int32(3))
	require.Greater(t, atomic.LoadInt32(&peak), int32(1))
}

// fileOps writes every output as the concatenation of its inputs, except
// for `split`, which creates two parts.
func fileOps(dir string) Registry {
	write := func(name, content string) error {
		return os.WriteFile(filepath.Join(dir, name), []byte(content), 0o644)
	}
	return Registry{
		"split": AlgorithmFunc(func(context.Context, *Job) error {
			if err := write("part-1.txt", "one\n"); err != nil {
				return err
			}
			return write("part-2.txt", "two\n")
		}),
		"cat": AlgorithmFunc(func(_ context.Context, job *Job) error {
			var sb strings.Builder
			for _, in := range job.Task.Inputs {
				b, err := os.ReadFile(filepath.Join(dir, in))
				if err != nil {
					return err
				}
				sb.Write(b)
			}
			for _, out := range job.Task.Outputs {
				if err := write(out, sb.String()); err != nil {
					return err
				}
			}
			return nil
		}),
	}
}

const fanOut = `
tasks:
  split: {algorithm: split, in: corpus.txt, out: part-*.txt}
  count: {algorithm: cat, in: part-*.txt, out: count-*.txt}
  merge: {algorithm: cat, in: count-**.txt, out: total.txt}
`

func TestRunExpandsWildcardTasks(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "corpus.txt"), []byte("one\ntwo\n"), 0o644))
	g := build(t, fanOut)
	e := New(g, Options{Workdir: dir, Workers: 2}, WithRegistry(fileOps(dir)))

	sum, err := e.Run(context.Background())
	require.NoError(t, err)
	require.Equal(t, 4, sum.Counts[task.Done], "the superseded task is not counted")

	count, _ := g.Lookup("count")
	require.True(t, g.Task(count).Expanded)
	for _, id := range []string{"count#1", "count#2"} {
		require.Equal(t, task.Done, status(t, g, id))
	}
	merge, _ := g.Lookup("merge")
	require.Equal(t, []string{"count-1.txt", "count-2.txt"}, g.Task(merge).Inputs)
	require.NoError(t, g.CheckSymmetry())

	total, err := os.ReadFile(filepath.Join(dir, "total.txt"))
	require.NoError(t, err)
	require.Equal(t, "one\ntwo\n", string(total))
}

func TestRunFailsTaskWithoutMatchingFiles(t *testing.T) {
	g := build(t, `
tasks:
  count: {algorithm: noop, in: part-*.txt}
  after: {algorithm: noop, after: [count]}
  other: {algorithm: noop}
`)
	e := New(g, Options{Workdir: t.TempDir()})

	sum, err := e.Run(context.Background())
	require.Error(t, err)
	require.Equal(t, []string{"count"}, sum.Failed)
	require.Equal(t, task.Done, status(t, g, "other"))
	require.Equal(t, task.Waiting, status(t, g, "after"))
}

func TestRunRejectsUnsupportedPatterns(t *testing.T) {
	g := build(t, `
tasks:
  pairs: {algorithm: noop, in: "x-*-*.txt"}
`)
	e := New(g, Options{Workdir: t.TempDir()})
	sum, err := e.Run(context.Background())
	require.Error(t, err)
	require.Equal(t, []string{"pairs"}, sum.Failed)
}

func TestRunUnknownAlgorithmFails(t *testing.T) {
	g := build(t, "tasks:\n  a: {algorithm: svm}\n")
	sum, err := New(g, Options{Workdir: t.TempDir()}).Run(context.Background())
	require.Error(t, err)
	require.Equal(t, []string{"a"}, sum.Failed)
}

func TestRunReportsCycles(t *testing.T) {
	g := build(t, `
tasks:
  a: {algorithm: noop, in: b.txt, out: a.txt}
  b: {algorithm: noop, in: a.txt, out: b.txt}
`)
	_, err := New(g, Options{Workdir: t.TempDir()}).Run(context.Background())
	require.ErrorIs(t, err, graph.ErrGraphCycle)
}

func TestRunDryRun(t *testing.T) {
	dir := t.TempDir()
	g := build(t, `
tasks:
  hello:
    algorithm: shell
    params: {cmd: "echo hi > $out0"}
    out: hello.txt
`)
	rep := &captureReporter{}
	e := New(g, Options{Workdir: dir, DryRun: true}, WithReporter(rep))

	_, err := e.Run(context.Background())
	require.NoError(t, err)
	require.Equal(t, []string{"hello: dry run: echo hi > hello.txt"}, rep.skipped)
	require.NoFileExists(t, filepath.Join(dir, "hello.txt"))
}

func TestDryRunLeavesJournalUntouched(t *testing.T) {
	cache := filepath.Join(t.TempDir(), "cache")
	src := `
tasks:
  a: {algorithm: rec, out: a.txt}
  b: {algorithm: rec, in: a.txt}
`
	run := func(dry bool) *recorder {
		j, err := OpenJournal(cache)
		require.NoError(t, err)
		rec := &recorder{}
		_, err = New(build(t, src), Options{Workdir: t.TempDir(), DryRun: dry},
			WithRegistry(Registry{"rec": rec}), WithJournal(j)).Run(context.Background())
		require.NoError(t, err)
		return rec
	}

	assert.Empty(t, run(true).ran())
	require.NoFileExists(t, filepath.Join(cache, JournalFile))

	assert.Equal(t, []string{"a", "b"}, run(false).ran())
	j, err := OpenJournal(cache)
	require.NoError(t, err)
	s, ok := j.Status("b")
	require.True(t, ok)
	assert.Equal(t, task.Done, s)
}

func TestRunResumesFromJournal(t *testing.T) {
	dir := t.TempDir()
	cache := filepath.Join(dir, ".patflow.cache")
	require.NoError(t, os.WriteFile(filepath.Join(dir, "corpus.txt"), nil, 0o644))

	runOnce := func(fail map[string]bool) (*recorder, error) {
		j, err := OpenJournal(cache)
		require.NoError(t, err)
		g := build(t, fanOut)
		rec := &recorder{fail: fail}
		reg := fileOps(dir)
		for _, name := range []string{"split", "cat"} {
			inner := reg[name]
			reg[name] = AlgorithmFunc(func(ctx context.Context, job *Job) error {
				if err := rec.Run(ctx, job); err != nil {
					return err
				}
				return inner.Run(ctx, job)
			})
		}
		_, err = New(g, Options{Workdir: dir, Workers: 1},
			WithRegistry(reg), WithJournal(j)).Run(context.Background())
		return rec, err
	}

	rec, err := runOnce(map[string]bool{"count#2": true})
	require.Error(t, err)
	assert.ElementsMatch(t, []string{"split", "count#1", "count#2"}, rec.ran())

	rec, err = runOnce(nil)
	require.NoError(t, err)
	assert.Equal(t, []string{"count#2", "merge"}, rec.ran())

	rec, err = runOnce(nil)
	require.NoError(t, err)
	assert.Empty(t, rec.ran())
}

func TestClassifyOpenInputs(t *testing.T) {
	tests := []struct {
		in   string
		want openKind
	}{
		{"part-*.txt", kindSingle},
		{"part-**.txt", kindListing},
		{"part-$0.txt", kindListing},
		{"dev-***.arff", kindPositional},
		{"dev-****.arff", kindUnsupported},
		{"x-*-*.txt", kindUnsupported},
		{"x-$1.txt", kindUnsupported},
		{"x-$2-*.txt", kindUnsupported},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, classify(tt.in), tt.in)
	}
}
