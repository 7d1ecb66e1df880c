package graph

import (
	"sort"

	"github.com/stevenle/topsort"
	"go.uber.org/zap"
)

// TopologicalSort ranks every schedulable task so that prerequisites come
// first and returns the handles in rank order. Ranks are handed out in the
// order tasks become eligible, scanning in insertion order, which keeps the
// result stable across runs.
//
// A pass that makes no progress before all tasks are ranked means a cycle;
// ranks are cleared and a *CycleError is returned instead of a partial order.
func (g *Graph) TopologicalSort() ([]Handle, error) {
	var pending []Handle
	for _, h := range g.Handles() {
		t := g.Task(h)
		t.Rank = -1
		if !t.Expanded {
			pending = append(pending, h)
		}
	}

	ordered := make([]Handle, 0, len(pending))
	for progress := true; progress && len(ordered) < len(pending); {
		progress = false
		for _, h := range pending {
			t := g.Task(h)
			if t.Rank >= 0 || !g.AllPrerequisitesRanked(h) {
				continue
			}
			t.Rank = len(ordered)
			ordered = append(ordered, h)
			progress = true
		}
	}

	if len(ordered) == len(pending) {
		g.logger.Debug("tasks sorted", zap.Int("count", len(ordered)))
		return ordered, nil
	}

	var unranked []Handle
	for _, h := range pending {
		if g.Task(h).Rank < 0 {
			unranked = append(unranked, h)
		}
	}
	for _, h := range ordered {
		g.Task(h).Rank = -1
	}
	err := g.cycleError(unranked)
	g.logger.Warn("topological sort stalled", zap.Error(err))
	return nil, err
}

// cycleError traces one cycle among the unranked tasks for the report.
func (g *Graph) cycleError(unranked []Handle) *CycleError {
	e := &CycleError{}
	tg := topsort.NewGraph()
	inSet := make(map[Handle]bool, len(unranked))
	for _, h := range unranked {
		inSet[h] = true
		e.Unranked = append(e.Unranked, g.Task(h).ID)
		tg.AddNode(g.Task(h).ID)
	}
	for _, h := range unranked {
		for _, p := range g.Prerequisites(h) {
			if inSet[p] {
				tg.AddEdge(g.Task(h).ID, g.Task(p).ID)
			}
		}
	}
	for _, id := range e.Unranked {
		if _, err := tg.TopSort(id); err != nil {
			e.Detail = err.Error()
			break
		}
	}
	return e
}

func sortByRank(g *Graph, hs []Handle) {
	sort.SliceStable(hs, func(i, j int) bool {
		return g.Task(hs[i]).Rank < g.Task(hs[j]).Rank
	})
}
