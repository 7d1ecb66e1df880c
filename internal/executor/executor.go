// Package executor runs a dependency graph: it expands wildcard tasks once
// the files they consume exist, hands ready tasks to a bounded pool of
// workers and records every status change in a journal.
package executor

import (
	"context"
	"io"
	"os"
	"strings"
	"sync"

	"github.com/google/uuid"
	"github.com/pingcap/errors"
	"go.uber.org/multierr"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/whacked/patflow/internal/discovery"
	"github.com/whacked/patflow/internal/graph"
	"github.com/whacked/patflow/internal/logutil"
	"github.com/whacked/patflow/internal/pattern"
	"github.com/whacked/patflow/internal/task"
)

var (
	// ErrUnknownAlgorithm is returned for tasks naming an unregistered algorithm.
	ErrUnknownAlgorithm = errors.New("unknown algorithm")
	// ErrUnsupportedPattern marks open inputs the executor cannot expand.
	ErrUnsupportedPattern = errors.New("pattern cannot be expanded at run time")
	// ErrTasksFailed is returned when a run ends with failed tasks.
	ErrTasksFailed = errors.New("tasks failed")
)

// Options tune a run.
type Options struct {
	// Workdir is where commands run and relative patterns are listed.
	Workdir string
	// Workers bounds the number of tasks running at once.
	Workers int
	// FailFast cancels the run on the first failed task.
	FailFast bool
	// DryRun reports what would run and marks tasks done without running
	// them. The journal is read but left as it was.
	DryRun bool
}

// Option configures an Executor.
type Option func(*Executor)

// WithLogger sets the logger.
func WithLogger(l *zap.Logger) Option { return func(e *Executor) { e.logger = l } }

// WithLister sets how wildcard inputs are resolved to files.
func WithLister(l discovery.Lister) Option { return func(e *Executor) { e.lister = l } }

// WithRegistry replaces the algorithm registry.
func WithRegistry(r Registry) Option { return func(e *Executor) { e.registry = r } }

// WithJournal makes the executor restore from and write to j.
func WithJournal(j *Journal) Option { return func(e *Executor) { e.journal = j } }

// WithReporter sets where task progress is shown.
func WithReporter(r Reporter) Option { return func(e *Executor) { e.reporter = r } }

// WithOutput sets where commands write their stdout and stderr.
func WithOutput(stdout, stderr io.Writer) Option {
	return func(e *Executor) { e.stdout, e.stderr = stdout, stderr }
}

// Executor drives one graph to completion.
type Executor struct {
	opts     Options
	g        *graph.Graph
	lister   discovery.Lister
	registry Registry
	journal  *Journal
	reporter Reporter
	logger   *zap.Logger
	stdout   io.Writer
	stderr   io.Writer
	runID    string

	// mu guards g, journal and everything below.
	mu       sync.Mutex
	inflight int
	failures error
	stopped  bool
}

// Summary describes a finished run.
type Summary struct {
	RunID  string
	Counts map[task.Status]int
	Failed []string
}

// New prepares an executor for g.
func New(g *graph.Graph, opts Options, options ...Option) *Executor {
	if opts.Workers <= 0 {
		opts.Workers = 1
	}
	e := &Executor{
		opts:     opts,
		g:        g,
		registry: DefaultRegistry(),
		reporter: nopReporter{},
		logger:   zap.NewNop(),
		stdout:   os.Stdout,
		stderr:   os.Stderr,
		runID:    uuid.NewString(),
	}
	for _, o := range options {
		o(e)
	}
	if e.lister == nil {
		e.lister = discovery.LocalLister{Root: opts.Workdir}
	}
	e.logger = e.logger.With(zap.String("run", e.runID))
	return e
}

// RunID identifies this run in logs and in the journal.
func (e *Executor) RunID() string {
	return e.runID
}

// Run processes every task it can. Independent branches keep going after a
// failure unless FailFast is set; dependents of a failed task stay Waiting.
func (e *Executor) Run(ctx context.Context) (*Summary, error) {
	e.mu.Lock()
	if e.journal != nil {
		e.journal.Restore(e.g, e.g.Handles())
	}
	_, err := e.g.TopologicalSort()
	e.mu.Unlock()
	if err != nil {
		return nil, err
	}
	e.logger.Info("run started", zap.Int("tasks", e.g.Len()), zap.Int("workers", e.opts.Workers))

	eg, egCtx := errgroup.WithContext(ctx)
	eg.SetLimit(e.opts.Workers)
	wake := make(chan struct{}, 1)
	notify := func() {
		select {
		case wake <- struct{}{}:
		default:
		}
	}

	var fatal error
	for egCtx.Err() == nil {
		e.mu.Lock()
		if e.stopped {
			e.mu.Unlock()
			break
		}
		if err := e.expandOpen(egCtx); err != nil {
			e.mu.Unlock()
			fatal = err
			break
		}
		ready := e.g.Ready()
		if free := e.opts.Workers - e.inflight; len(ready) > free {
			ready = ready[:free]
		}
		if len(ready) == 0 && e.inflight == 0 {
			e.mu.Unlock()
			break
		}
		for _, h := range ready {
			e.g.SetStatus(h, task.InProgress)
			e.record(e.g.Task(h))
			e.inflight++
		}
		e.mu.Unlock()

		for _, h := range ready {
			h := h
			eg.Go(func() error {
				defer notify()
				return e.process(egCtx, h)
			})
		}
		if len(ready) == 0 {
			select {
			case <-wake:
			case <-egCtx.Done():
			}
		}
	}
	waitErr := eg.Wait()

	e.mu.Lock()
	defer e.mu.Unlock()
	if e.persists() {
		e.journal.Snapshot(e.runID, e.g)
	}
	e.flush()
	sum := e.summary()
	e.logger.Info("run finished",
		zap.Int("done", sum.Counts[task.Done]),
		zap.Int("failed", sum.Counts[task.Failed]),
		zap.Int("waiting", sum.Counts[task.Waiting]))

	switch {
	case fatal != nil:
		return sum, fatal
	case ctx.Err() != nil:
		return sum, errors.Trace(ctx.Err())
	case waitErr != nil || len(sum.Failed) > 0:
		return sum, errors.Annotatef(ErrTasksFailed, "%d of %d: %v",
			len(sum.Failed), sum.total(), e.failures)
	}
	return sum, nil
}

// process runs one task outside the lock and records the outcome.
func (e *Executor) process(ctx context.Context, h graph.Handle) error {
	e.mu.Lock()
	t := e.g.Task(h)
	job := &Job{RunID: e.runID, Task: t, Workdir: e.opts.Workdir, Stdout: e.stdout, Stderr: e.stderr}
	e.mu.Unlock()

	err := e.runJob(ctx, job)

	e.mu.Lock()
	defer e.mu.Unlock()
	e.inflight--
	e.reporter.TaskFinished(t, err)
	if err != nil {
		e.g.SetStatus(h, task.Failed)
		e.failures = multierr.Append(e.failures, err)
		e.logger.Warn("task failed", zap.String("task", t.ID), logutil.ShortError(err))
	} else {
		e.g.SetStatus(h, task.Done)
		e.logger.Debug("task done", zap.String("task", t.ID))
	}
	e.record(t)
	if err != nil && e.opts.FailFast {
		e.stopped = true
		return err
	}
	return nil
}

func (e *Executor) runJob(ctx context.Context, job *Job) error {
	alg, err := e.registry.Lookup(job.Task.Algorithm)
	if err != nil {
		return err
	}
	if e.opts.DryRun {
		reason := "dry run"
		if d, ok := alg.(Describer); ok {
			desc, err := d.Describe(job)
			if err != nil {
				return err
			}
			reason = "dry run: " + desc
		}
		e.reporter.TaskSkipped(job.Task, reason)
		return nil
	}
	e.reporter.TaskStarted(job.Task)
	return alg.Run(ctx, job)
}

// expandOpen binds or fans out every Pending task that still has wildcard
// inputs, until none is left. Tasks whose files cannot be found fail.
func (e *Executor) expandOpen(ctx context.Context) error {
	for {
		var open []graph.Handle
		for _, h := range e.g.Ready() {
			if len(e.g.Task(h).OpenInputs()) > 0 {
				open = append(open, h)
			}
		}
		if len(open) == 0 {
			return nil
		}
		for _, h := range open {
			if err := e.expand(ctx, h); err != nil {
				t := e.g.Task(h)
				e.g.SetStatus(h, task.Failed)
				e.failures = multierr.Append(e.failures, err)
				e.reporter.TaskFinished(t, err)
				e.record(t)
				e.logger.Warn("expansion failed", zap.String("task", t.ID), logutil.ShortError(err))
				if e.opts.FailFast {
					e.stopped = true
					return err
				}
			}
		}
		if _, err := e.g.TopologicalSort(); err != nil {
			return err
		}
	}
}

type openKind int

const (
	kindUnsupported openKind = iota
	kindSingle
	kindListing
	kindPositional
)

func classify(in string) openKind {
	n := pattern.Normalize(in)
	stars := strings.Count(n, "*")
	idx := pattern.VariableIndices(n)
	switch {
	case stars == 3 && pattern.IsPositional(n) && pattern.CountWildcardRuns(n) == 1:
		return kindPositional
	case len(idx) == 1 && idx[0] == 0 && (stars == 2 || stars == 0):
		return kindListing
	case len(idx) == 1 && idx[0] == 1 && stars == 1:
		return kindSingle
	}
	return kindUnsupported
}

func (e *Executor) expand(ctx context.Context, h graph.Handle) error {
	t := e.g.Task(h)
	i := t.OpenInputs()[0]
	in := t.Inputs[i]
	kind := classify(in)
	if kind == kindUnsupported {
		return errors.Annotatef(ErrUnsupportedPattern, "task %s input %q", t.ID, in)
	}

	matches, err := discovery.Resolve(ctx, e.lister, in)
	if err != nil {
		return err
	}
	if len(matches) == 0 {
		return errors.Annotatef(graph.ErrNoExpansion, "task %s: no file matches %q", t.ID, in)
	}

	var clones []graph.Handle
	switch kind {
	case kindListing:
		return e.g.BindListing(h, i, discovery.Paths(matches))
	case kindPositional:
		clones, err = e.g.Expand(h, discovery.Tokens(matches), graph.ExpandOptions{InputIndex: i})
	default:
		clones, err = e.g.Expand(h, discovery.Tokens(matches), graph.ExpandOptions{InputIndex: -1, Outputs: true})
	}
	if err != nil {
		return err
	}
	e.restoreExpansion(clones)
	for _, c := range clones {
		e.record(e.g.Task(c))
	}
	return nil
}

// restoreExpansion replays journal entries onto fresh clones. Wiring the
// clones demotes their dependents, so dependents released again by the
// replay get their own entries replayed too.
func (e *Executor) restoreExpansion(clones []graph.Handle) {
	if e.journal == nil {
		return
	}
	e.journal.Restore(e.g, clones)
	seen := map[graph.Handle]bool{}
	var released []graph.Handle
	for _, c := range clones {
		for _, d := range e.g.DirectDependents(c) {
			if !seen[d] && e.g.Task(d).Status == task.Pending {
				seen[d] = true
				released = append(released, d)
			}
		}
	}
	e.journal.Restore(e.g, released)
}

// persists reports whether outcomes go to the journal. A dry run reads
// the journal but never writes it.
func (e *Executor) persists() bool {
	return e.journal != nil && !e.opts.DryRun
}

func (e *Executor) record(t *task.Task) {
	if !e.persists() {
		return
	}
	e.journal.Record(e.runID, t)
	e.flush()
}

func (e *Executor) flush() {
	if !e.persists() {
		return
	}
	if err := e.journal.Flush(); err != nil {
		e.logger.Error("journal not written", zap.String("path", e.journal.Path()), logutil.ShortError(err))
	}
}

func (e *Executor) summary() *Summary {
	sum := &Summary{RunID: e.runID, Counts: e.g.Count()}
	for _, h := range e.g.Handles() {
		if t := e.g.Task(h); !t.Expanded && t.Status == task.Failed {
			sum.Failed = append(sum.Failed, t.ID)
		}
	}
	return sum
}

func (s *Summary) total() int {
	n := 0
	for _, c := range s.Counts {
		n += c
	}
	return n
}
