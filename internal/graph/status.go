package graph

import (
	"github.com/emirpasic/gods/stacks/arraystack"
	"go.uber.org/zap"

	"github.com/whacked/patflow/internal/task"
)

// SetStatus moves h to s. When s is Done, each direct dependent that is
// Waiting and now has only Done prerequisites becomes Pending; the rule is
// applied one hop at a time as each task completes. Failed is stored as-is
// and never propagated: whether the run goes on is the executor's call.
func (g *Graph) SetStatus(h Handle, s task.Status) {
	t := g.Task(h)
	t.Status = s
	g.logger.Debug("status changed", zap.String("task", t.ID), zap.Stringer("status", s))
	if s != task.Done {
		return
	}
	for _, d := range g.DirectDependents(h) {
		dt := g.Task(d)
		if dt.Status == task.Waiting && g.prerequisitesDone(d) {
			dt.Status = task.Pending
			g.logger.Debug("dependent released", zap.String("task", dt.ID))
		}
	}
}

// ResetStatus sends h back to Pending and forces every task reachable
// through dependent edges to Waiting, whatever their state. Waiting and
// Pending tasks are left alone.
//
// Dependents that might still be runnable are re-checked rather than kept
// Pending; a redundant re-evaluation is preferred over a stale status.
func (g *Graph) ResetStatus(h Handle) {
	t := g.Task(h)
	if t.Status == task.Waiting || t.Status == task.Pending {
		return
	}
	t.Status = task.Pending
	g.logger.Debug("status reset", zap.String("task", t.ID))

	visited := map[Handle]bool{}
	stack := arraystack.New()
	for _, d := range g.DirectDependents(h) {
		stack.Push(d)
	}
	for !stack.Empty() {
		v, _ := stack.Pop()
		cur := v.(Handle)
		if visited[cur] {
			continue
		}
		visited[cur] = true
		g.Task(cur).Status = task.Waiting
		for _, d := range g.DirectDependents(cur) {
			if !visited[d] {
				stack.Push(d)
			}
		}
	}
}

// Ready returns the schedulable Pending tasks in rank order.
func (g *Graph) Ready() []Handle {
	var out []Handle
	for _, h := range g.Handles() {
		t := g.Task(h)
		if !t.Expanded && t.Status == task.Pending {
			out = append(out, h)
		}
	}
	sortByRank(g, out)
	return out
}

// Count tallies schedulable tasks by status.
func (g *Graph) Count() map[task.Status]int {
	out := map[task.Status]int{}
	for _, n := range g.nodes {
		if !n.task.Expanded {
			out[n.task.Status]++
		}
	}
	return out
}

func (g *Graph) prerequisitesDone(h Handle) bool {
	for _, p := range g.Prerequisites(h) {
		if g.Task(p).Status != task.Done {
			return false
		}
	}
	return true
}
