// Package graph owns every task of a flow and the dependency edges between
// them.
//
// Tasks live in an arena and are addressed by Handle. Each node keeps two
// insertion-ordered handle sets, its prerequisites and its dependents, and
// every edge mutation goes through link/unlink so that
//
//	a ∈ prerequisites(b)  ⇔  b ∈ dependents(a)
//
// holds after each call. The graph is not safe for concurrent use; callers
// serialise mutations themselves.
package graph

import (
	"strings"

	"github.com/emirpasic/gods/sets/linkedhashset"
	"github.com/pingcap/errors"
	"go.uber.org/zap"

	"github.com/whacked/patflow/internal/task"
)

// Handle addresses a task inside a Graph.
type Handle int

// Direction selects which side of a node's edges an operation touches.
type Direction int

const (
	// Backward edges point at the tasks a node depends on.
	Backward Direction = 1 << iota
	// Forward edges point at the tasks depending on a node.
	Forward
	// Both directions.
	Both = Backward | Forward
)

type node struct {
	task *task.Task
	// nil when the node has no edges on that side
	dependsOn  *linkedhashset.Set
	dependents *linkedhashset.Set
}

// Graph is an arena of tasks plus their dependency edges.
type Graph struct {
	nodes  []*node
	byID   map[string]Handle
	logger *zap.Logger
}

// Option configures a Graph.
type Option func(*Graph)

// WithLogger sets the logger used for graph mutations.
func WithLogger(l *zap.Logger) Option {
	return func(g *Graph) { g.logger = l }
}

// New returns an empty graph.
func New(opts ...Option) *Graph {
	g := &Graph{
		byID:   make(map[string]Handle),
		logger: zap.NewNop(),
	}
	for _, opt := range opts {
		opt(g)
	}
	return g
}

// Add places t in the arena. Task ids must be unique.
func (g *Graph) Add(t *task.Task) (Handle, error) {
	if _, ok := g.byID[t.ID]; ok {
		return -1, errors.Annotatef(ErrDuplicateTask, "task %q", t.ID)
	}
	h := Handle(len(g.nodes))
	g.nodes = append(g.nodes, &node{task: t})
	g.byID[t.ID] = h
	return h, nil
}

// Task returns the task behind h.
func (g *Graph) Task(h Handle) *task.Task {
	return g.node(h).task
}

// Lookup finds a task by id.
func (g *Graph) Lookup(id string) (Handle, bool) {
	h, ok := g.byID[id]
	return h, ok
}

// Len is the number of tasks in the arena, superseded ones included.
func (g *Graph) Len() int {
	return len(g.nodes)
}

// Handles returns every handle in insertion order.
func (g *Graph) Handles() []Handle {
	out := make([]Handle, len(g.nodes))
	for i := range g.nodes {
		out[i] = Handle(i)
	}
	return out
}

// AddEdge records that consumer depends on producer. The consumer is
// demoted to Waiting unless the producer is already Done. Repeated calls
// for the same pair are no-ops apart from the demotion.
func (g *Graph) AddEdge(consumer, producer Handle) {
	c, p := g.node(consumer), g.node(producer)
	if p.task.Status != task.Done {
		c.task.Status = task.Waiting
	}
	if c.dependsOn != nil && c.dependsOn.Contains(producer) {
		return
	}
	g.link(consumer, producer)
	g.logger.Debug("dependency added",
		zap.String("consumer", c.task.ID), zap.String("producer", p.task.ID))
}

// Prerequisites returns the tasks h depends on, or nil.
func (g *Graph) Prerequisites(h Handle) []Handle {
	return handles(g.node(h).dependsOn)
}

// DirectDependents returns the tasks depending on h, or nil.
func (g *Graph) DirectDependents(h Handle) []Handle {
	return handles(g.node(h).dependents)
}

// TransitiveDependents returns every task reachable through dependent
// edges. The result is not de-duplicated: a task reachable along two paths
// appears twice.
func (g *Graph) TransitiveDependents(h Handle) []Handle {
	var out []Handle
	onPath := map[Handle]bool{h: true}
	var walk func(Handle)
	walk = func(cur Handle) {
		for _, d := range g.DirectDependents(cur) {
			out = append(out, d)
			if onPath[d] {
				continue
			}
			onPath[d] = true
			walk(d)
			delete(onPath, d)
		}
	}
	walk(h)
	return out
}

// DropDependency loosens every edge of h in dir whose far end has an id
// starting with idPrefix. An empty prefix drops all edges in dir.
func (g *Graph) DropDependency(h Handle, idPrefix string, dir Direction) {
	if dir&Backward != 0 {
		for _, p := range g.Prerequisites(h) {
			if strings.HasPrefix(g.Task(p).ID, idPrefix) {
				g.unlink(h, p)
			}
		}
	}
	if dir&Forward != 0 {
		for _, d := range g.DirectDependents(h) {
			if strings.HasPrefix(g.Task(d).ID, idPrefix) {
				g.unlink(d, h)
			}
		}
	}
}

// DropAllDependencies disconnects h from the rest of the graph.
func (g *Graph) DropAllDependencies(h Handle) {
	g.DropDependency(h, "", Both)
}

// AllPrerequisitesRanked reports whether every prerequisite of h already
// has a topological rank.
func (g *Graph) AllPrerequisitesRanked(h Handle) bool {
	for _, p := range g.Prerequisites(h) {
		if g.Task(p).Rank < 0 {
			return false
		}
	}
	return true
}

// CheckSymmetry verifies that every edge is recorded on both of its ends.
func (g *Graph) CheckSymmetry() error {
	for i, n := range g.nodes {
		h := Handle(i)
		for _, p := range handles(n.dependsOn) {
			pn := g.node(p)
			if pn.dependents == nil || !pn.dependents.Contains(h) {
				return errors.Annotatef(ErrInvariantViolation,
					"%s depends on %s but is not among its dependents", n.task.ID, pn.task.ID)
			}
		}
		for _, d := range handles(n.dependents) {
			dn := g.node(d)
			if dn.dependsOn == nil || !dn.dependsOn.Contains(h) {
				return errors.Annotatef(ErrInvariantViolation,
					"%s lists dependent %s which does not depend on it", n.task.ID, dn.task.ID)
			}
		}
		if n.dependsOn != nil && n.dependsOn.Empty() || n.dependents != nil && n.dependents.Empty() {
			return errors.Annotatef(ErrInvariantViolation, "%s keeps an empty edge set", n.task.ID)
		}
	}
	return nil
}

func (g *Graph) link(consumer, producer Handle) {
	c, p := g.node(consumer), g.node(producer)
	if c.dependsOn == nil {
		c.dependsOn = linkedhashset.New()
	}
	if p.dependents == nil {
		p.dependents = linkedhashset.New()
	}
	c.dependsOn.Add(producer)
	p.dependents.Add(consumer)
}

func (g *Graph) unlink(consumer, producer Handle) {
	c, p := g.node(consumer), g.node(producer)
	if c.dependsOn != nil {
		c.dependsOn.Remove(producer)
		if c.dependsOn.Empty() {
			c.dependsOn = nil
		}
	}
	if p.dependents != nil {
		p.dependents.Remove(consumer)
		if p.dependents.Empty() {
			p.dependents = nil
		}
	}
	g.logger.Debug("dependency dropped",
		zap.String("consumer", c.task.ID), zap.String("producer", p.task.ID))
}

func (g *Graph) node(h Handle) *node {
	if h < 0 || int(h) >= len(g.nodes) {
		panic(errors.Annotatef(ErrUnknownHandle, "handle %d", h).Error())
	}
	return g.nodes[h]
}

func handles(s *linkedhashset.Set) []Handle {
	if s == nil || s.Empty() {
		return nil
	}
	vals := s.Values()
	out := make([]Handle, len(vals))
	for i, v := range vals {
		out[i] = v.(Handle)
	}
	return out
}
