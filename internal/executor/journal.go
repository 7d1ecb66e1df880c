package executor

import (
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/pingcap/errors"
	yaml "gopkg.in/yaml.v3"

	"github.com/whacked/patflow/internal/graph"
	"github.com/whacked/patflow/internal/task"
)

// JournalFile is the name of the journal inside the cache directory.
const JournalFile = "journal.yaml"

// Journal remembers the status of every task across runs, keyed by task
// id, so that a new run only repeats unfinished work.
type Journal struct {
	path string
	doc  journalDoc
}

type journalDoc struct {
	RunID   string                 `yaml:"run"`
	Updated time.Time              `yaml:"updated"`
	Tasks   map[string]task.Status `yaml:"tasks"`
}

// OpenJournal reads the journal kept in cacheDir, or starts an empty one.
func OpenJournal(cacheDir string) (*Journal, error) {
	j := &Journal{
		path: filepath.Join(cacheDir, JournalFile),
		doc:  journalDoc{Tasks: map[string]task.Status{}},
	}
	src, err := os.ReadFile(j.path)
	if os.IsNotExist(err) {
		return j, nil
	}
	if err != nil {
		return nil, errors.Trace(err)
	}
	if err := yaml.Unmarshal(src, &j.doc); err != nil {
		return nil, errors.Annotatef(err, "read journal %s", j.path)
	}
	if j.doc.Tasks == nil {
		j.doc.Tasks = map[string]task.Status{}
	}
	return j, nil
}

// Path is where the journal is stored.
func (j *Journal) Path() string {
	return j.path
}

// RunID is the id of the run that last wrote the journal.
func (j *Journal) RunID() string {
	return j.doc.RunID
}

// Status returns the recorded status of id.
func (j *Journal) Status(id string) (task.Status, bool) {
	s, ok := j.doc.Tasks[id]
	return s, ok
}

// IDs returns the recorded task ids, sorted.
func (j *Journal) IDs() []string {
	ids := make([]string, 0, len(j.doc.Tasks))
	for id := range j.doc.Tasks {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// Record stores the status of t for run.
func (j *Journal) Record(runID string, t *task.Task) {
	j.doc.RunID = runID
	j.doc.Tasks[t.ID] = t.Status
}

// Snapshot records every schedulable task of g.
func (j *Journal) Snapshot(runID string, g *graph.Graph) {
	for _, h := range g.Handles() {
		if t := g.Task(h); !t.Expanded {
			j.Record(runID, t)
		}
	}
}

// Restore applies recorded statuses to hs. Done tasks are replayed first
// so their dependents are released; tasks a previous run left InProgress
// or Failed are then reset, which sends everything downstream of them
// back to Waiting.
func (j *Journal) Restore(g *graph.Graph, hs []graph.Handle) {
	for _, h := range hs {
		if s, ok := j.Status(g.Task(h).ID); ok && s == task.Done {
			g.SetStatus(h, task.Done)
		}
	}
	for _, h := range hs {
		s, ok := j.Status(g.Task(h).ID)
		if ok && (s == task.InProgress || s == task.Failed) {
			g.Task(h).Status = s
			g.ResetStatus(h)
		}
	}
}

// Flush writes the journal, creating the cache directory when needed.
func (j *Journal) Flush() error {
	if err := os.MkdirAll(filepath.Dir(j.path), 0o755); err != nil {
		return errors.Trace(err)
	}
	j.doc.Updated = time.Now().UTC().Truncate(time.Second)
	out, err := yaml.Marshal(&j.doc)
	if err != nil {
		return errors.Trace(err)
	}
	tmp := j.path + ".tmp"
	if err := os.WriteFile(tmp, out, 0o644); err != nil {
		return errors.Trace(err)
	}
	return errors.Trace(os.Rename(tmp, j.path))
}

// Reset marks id and everything downstream of it for re-execution and
// returns the ids whose entries changed. id may name a task created by
// expansion in an earlier run; its origin's dependents are reset then.
func Reset(g *graph.Graph, j *Journal, runID, id string) ([]string, error) {
	j.Restore(g, g.Handles())

	var affected []graph.Handle
	var changed []string
	if h, ok := g.Lookup(id); ok {
		t := g.Task(h)
		if t.Status == task.Waiting || t.Status == task.Pending {
			t.Status = task.Done
		}
		g.ResetStatus(h)
		affected = append([]graph.Handle{h}, g.TransitiveDependents(h)...)
	} else {
		s, recorded := j.Status(id)
		origin, derived := originOf(id)
		h, ok := g.Lookup(origin)
		if !recorded || !derived || !ok {
			return nil, errors.Errorf("unknown task %q", id)
		}
		if s != task.Pending {
			j.doc.Tasks[id] = task.Pending
			changed = append(changed, id)
		}
		affected = g.TransitiveDependents(h)
		for _, d := range affected {
			g.Task(d).Status = task.Waiting
		}
	}

	seen := map[graph.Handle]bool{}
	for _, a := range affected {
		if seen[a] {
			continue
		}
		seen[a] = true
		t := g.Task(a)
		if prev, ok := j.Status(t.ID); !ok || prev != t.Status {
			changed = append(changed, t.ID)
		}
		j.Record(runID, t)
		changed = append(changed, j.resetExpansions(t.ID)...)
	}
	return changed, nil
}

// resetExpansions sets every recorded expansion of id back to Pending.
func (j *Journal) resetExpansions(id string) []string {
	var changed []string
	for _, other := range j.IDs() {
		if origin, ok := originOf(other); ok && origin == id && j.doc.Tasks[other] != task.Pending {
			j.doc.Tasks[other] = task.Pending
			changed = append(changed, other)
		}
	}
	return changed
}

func originOf(id string) (string, bool) {
	i := strings.IndexByte(id, task.ExpansionMark)
	if i < 0 {
		return "", false
	}
	return id[:i], true
}
