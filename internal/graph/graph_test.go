package graph

import (
	"testing"

	"github.com/pingcap/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/whacked/patflow/internal/task"
)

// addTask adds a bare task with the given id.
func addTask(t *testing.T, g *Graph, id string, inputs, outputs []string) Handle {
	t.Helper()
	h, err := g.Add(task.New(id, "noop", nil, inputs, outputs))
	require.NoError(t, err)
	return h
}

// chain builds a -> b -> c, c depending on b depending on a.
func chain(t *testing.T) (*Graph, Handle, Handle, Handle) {
	t.Helper()
	g := New()
	a := addTask(t, g, "a", nil, []string{"a.out"})
	b := addTask(t, g, "b", []string{"a.out"}, []string{"b.out"})
	c := addTask(t, g, "c", []string{"b.out"}, nil)
	g.AddEdge(b, a)
	g.AddEdge(c, b)
	return g, a, b, c
}

func TestAddRejectsDuplicateID(t *testing.T) {
	g := New()
	addTask(t, g, "a", nil, nil)
	_, err := g.Add(task.New("a", "noop", nil, nil, nil))
	require.Error(t, err)
	assert.Equal(t, ErrDuplicateTask, errors.Cause(err))

	h, ok := g.Lookup("a")
	require.True(t, ok)
	assert.Equal(t, "a", g.Task(h).ID)
	_, ok = g.Lookup("missing")
	assert.False(t, ok)
}

func TestAddEdge(t *testing.T) {
	g := New()
	a := addTask(t, g, "a", nil, nil)
	b := addTask(t, g, "b", nil, nil)

	assert.Equal(t, task.Pending, g.Task(b).Status)
	g.AddEdge(b, a)
	assert.Equal(t, task.Waiting, g.Task(b).Status)
	assert.Equal(t, []Handle{a}, g.Prerequisites(b))
	assert.Equal(t, []Handle{b}, g.DirectDependents(a))

	g.AddEdge(b, a)
	assert.Len(t, g.Prerequisites(b), 1, "duplicate edges are ignored")
	assert.Len(t, g.DirectDependents(a), 1)
	require.NoError(t, g.CheckSymmetry())
}

func TestAddEdgeOnDoneProducerKeepsStatus(t *testing.T) {
	g := New()
	a := addTask(t, g, "a", nil, nil)
	b := addTask(t, g, "b", nil, nil)
	c := addTask(t, g, "c", nil, nil)
	g.SetStatus(a, task.Done)

	g.AddEdge(b, a)
	assert.Equal(t, task.Pending, g.Task(b).Status)

	// any unmet prerequisite demotes, even with others satisfied
	g.AddEdge(b, c)
	assert.Equal(t, task.Waiting, g.Task(b).Status)
}

func TestTransitiveDependents(t *testing.T) {
	g := New()
	a := addTask(t, g, "a", nil, nil)
	b := addTask(t, g, "b", nil, nil)
	c := addTask(t, g, "c", nil, nil)
	d := addTask(t, g, "d", nil, nil)
	// diamond: b, c depend on a; d depends on b and c
	g.AddEdge(b, a)
	g.AddEdge(c, a)
	g.AddEdge(d, b)
	g.AddEdge(d, c)

	got := g.TransitiveDependents(a)
	assert.ElementsMatch(t, []Handle{b, c, d, d}, got)
	assert.Nil(t, g.TransitiveDependents(d))
	assert.Nil(t, g.DirectDependents(d))
}

func TestTransitiveDependentsTerminatesOnCycle(t *testing.T) {
	g := New()
	a := addTask(t, g, "a", nil, nil)
	b := addTask(t, g, "b", nil, nil)
	g.AddEdge(b, a)
	g.AddEdge(a, b)

	assert.ElementsMatch(t, []Handle{b, a}, g.TransitiveDependents(a))
}

func TestDropDependency(t *testing.T) {
	g := New()
	src1 := addTask(t, g, "split#1", nil, nil)
	src2 := addTask(t, g, "split#2", nil, nil)
	other := addTask(t, g, "other", nil, nil)
	sink := addTask(t, g, "sink", nil, nil)
	consumer := addTask(t, g, "consumer", nil, nil)
	g.AddEdge(sink, src1)
	g.AddEdge(sink, src2)
	g.AddEdge(sink, other)
	g.AddEdge(consumer, sink)

	g.DropDependency(sink, "split", Backward)
	assert.Equal(t, []Handle{other}, g.Prerequisites(sink))
	assert.Nil(t, g.DirectDependents(src1))
	assert.Nil(t, g.DirectDependents(src2))
	assert.Equal(t, []Handle{consumer}, g.DirectDependents(sink), "forward edges untouched")
	require.NoError(t, g.CheckSymmetry())

	g.DropDependency(sink, "", Forward)
	assert.Nil(t, g.DirectDependents(sink))
	assert.Nil(t, g.Prerequisites(consumer))
	require.NoError(t, g.CheckSymmetry())

	g.DropAllDependencies(sink)
	assert.Nil(t, g.Prerequisites(sink))
	assert.Nil(t, g.DirectDependents(other))
	require.NoError(t, g.CheckSymmetry())
}

func TestCheckSymmetryDetectsOneSidedEdge(t *testing.T) {
	g := New()
	a := addTask(t, g, "a", nil, nil)
	b := addTask(t, g, "b", nil, nil)
	g.AddEdge(b, a)

	// corrupt one side by hand
	g.nodes[a].dependents = nil
	err := g.CheckSymmetry()
	require.Error(t, err)
	assert.Equal(t, ErrInvariantViolation, errors.Cause(err))
}

func TestUnknownHandlePanics(t *testing.T) {
	g := New()
	assert.Panics(t, func() { g.Task(3) })
}
