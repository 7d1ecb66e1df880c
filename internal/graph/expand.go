package graph

import (
	"github.com/pingcap/errors"
	"go.uber.org/zap"

	"github.com/whacked/patflow/internal/task"
)

// ExpandOptions selects how a task is fanned out.
type ExpandOptions struct {
	// InputIndex >= 0 binds the `***` marker of that input only; -1 expands
	// every single-wildcard input.
	InputIndex int
	// Outputs also substitutes the token into single-wildcard outputs.
	Outputs bool
}

// EdgePatch is one edge a new clone must receive. Clone indexes the
// clones returned alongside it; Peer is an existing task.
type EdgePatch struct {
	Clone int
	Peer  Handle
	// Backward: the clone depends on Peer. Forward: Peer depends on the clone.
	Dir Direction
}

// PlanExpansion builds one clone of h per token plus the edges each clone
// must copy from h. It does not touch the graph.
func (g *Graph) PlanExpansion(h Handle, tokens []string, opts ExpandOptions) ([]*task.Task, []EdgePatch, error) {
	src := g.Task(h)
	if src.Expanded {
		return nil, nil, errors.Annotatef(ErrAlreadyExpanded, "task %q", src.ID)
	}
	if len(tokens) == 0 {
		return nil, nil, errors.Annotatef(ErrNoExpansion, "task %q", src.ID)
	}

	clones := make([]*task.Task, 0, len(tokens))
	seen := make(map[string]bool, len(tokens))
	for _, tok := range tokens {
		var c *task.Task
		if opts.InputIndex >= 0 {
			var err error
			if c, err = src.ExpandPositional(tok, opts.InputIndex); err != nil {
				return nil, nil, err
			}
		} else {
			c = src.ExpandSingleWildcard(tok)
		}
		if opts.Outputs {
			c.ExpandOutputs(tok)
		}
		if _, exists := g.byID[c.ID]; exists || seen[c.ID] {
			return nil, nil, errors.Annotatef(ErrDuplicateTask, "task %q", c.ID)
		}
		seen[c.ID] = true
		clones = append(clones, c)
	}

	var patches []EdgePatch
	for i := range clones {
		for _, d := range g.DirectDependents(h) {
			patches = append(patches, EdgePatch{Clone: i, Peer: d, Dir: Forward})
		}
		for _, p := range g.Prerequisites(h) {
			patches = append(patches, EdgePatch{Clone: i, Peer: p, Dir: Backward})
		}
	}
	return clones, patches, nil
}

// Expand replaces h by one clone per token. Each clone inherits h's edges
// in both directions and recomputes its status from them. h itself is
// superseded: it is flagged Expanded, all of its edges are loosened and it
// no longer takes part in sorting or scheduling.
func (g *Graph) Expand(h Handle, tokens []string, opts ExpandOptions) ([]Handle, error) {
	clones, patches, err := g.PlanExpansion(h, tokens, opts)
	if err != nil {
		return nil, err
	}

	added := make([]Handle, len(clones))
	for i, c := range clones {
		if added[i], err = g.Add(c); err != nil {
			return nil, err
		}
	}
	for _, p := range patches {
		c := added[p.Clone]
		if p.Dir == Forward {
			g.AddEdge(p.Peer, c)
		} else {
			g.AddEdge(c, p.Peer)
		}
	}
	for _, c := range added {
		if t := g.Task(c); t.Status == task.Waiting && g.prerequisitesDone(c) {
			t.Status = task.Pending
		}
	}

	src := g.Task(h)
	src.Expanded = true
	g.DropAllDependencies(h)
	g.logger.Info("task expanded", zap.String("task", src.ID), zap.Int("clones", len(added)))
	return added, nil
}

// BindListing replaces the listing input at idx of h with the full list of
// matching files. Listing inputs consume the whole family in one task, so
// no clone is made.
func (g *Graph) BindListing(h Handle, idx int, files []string) error {
	t := g.Task(h)
	if t.Expanded {
		return errors.Annotatef(ErrAlreadyExpanded, "task %q", t.ID)
	}
	if len(files) == 0 {
		return errors.Annotatef(ErrNoExpansion, "task %q input %d", t.ID, idx)
	}
	if err := t.ReplaceInput(idx, files); err != nil {
		return err
	}
	g.logger.Debug("listing bound", zap.String("task", t.ID), zap.Int("files", len(files)))
	return nil
}
