package scenario

import (
	"github.com/pingcap/errors"

	"github.com/whacked/patflow/internal/graph"
	"github.com/whacked/patflow/internal/pattern"
	"github.com/whacked/patflow/internal/task"
)

// Build creates one Pending task per spec and wires the dependencies:
// every explicit `after` hint, plus every producer whose output refers to
// the same file family as one of the consumer's inputs.
func (sc *Scenario) Build(opts ...graph.Option) (*graph.Graph, error) {
	g := graph.New(opts...)
	for _, s := range sc.Tasks {
		t := task.New(s.ID, s.Algorithm, s.Params, s.Inputs, s.Outputs)
		if _, err := g.Add(t); err != nil {
			return nil, errors.Trace(err)
		}
	}
	for _, s := range sc.Tasks {
		consumer, _ := g.Lookup(s.ID)
		for _, dep := range s.After {
			producer, _ := g.Lookup(dep)
			g.AddEdge(consumer, producer)
		}
	}
	Link(g)
	return g, nil
}

// Link adds an edge from every producer to every consumer whose input
// shares a dependency key with one of the producer's outputs. Across the
// wildcard boundary it also links a concrete input to the family a producer
// writes, and a family input to every producer of a concrete member.
func Link(g *graph.Graph) {
	producers := map[string][]graph.Handle{}
	var families, members []output
	for _, h := range g.Handles() {
		t := g.Task(h)
		if t.Expanded {
			continue
		}
		for _, out := range t.Outputs {
			key := pattern.DependencyKey(out)
			producers[key] = append(producers[key], h)
			if pattern.HasWildcard(key) {
				families = append(families, output{name: key, producer: h})
			} else {
				members = append(members, output{name: pattern.Normalize(out), producer: h})
			}
		}
	}

	for _, consumer := range g.Handles() {
		t := g.Task(consumer)
		if t.Expanded {
			continue
		}
		for _, in := range t.Inputs {
			key := pattern.DependencyKey(in)
			for _, producer := range producers[key] {
				if producer != consumer {
					g.AddEdge(consumer, producer)
				}
			}
			if pattern.HasWildcard(key) {
				linkMatching(g, consumer, members, func(o output) bool {
					_, ok := pattern.MatchAll(o.name, pattern.Normalize(key))
					return ok
				})
				continue
			}
			file := pattern.Normalize(in)
			linkMatching(g, consumer, families, func(o output) bool {
				_, ok := pattern.MatchSingle(file, o.name)
				return ok
			})
		}
	}
}

func linkMatching(g *graph.Graph, consumer graph.Handle, outs []output, match func(output) bool) {
	for _, o := range outs {
		if o.producer != consumer && match(o) {
			g.AddEdge(consumer, o.producer)
		}
	}
}

// output is one declared output: a family key or a concrete file name.
type output struct {
	name     string
	producer graph.Handle
}
