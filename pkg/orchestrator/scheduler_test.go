package orchestrator

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/reqflow/reqflow/pkg/domain"
)

func TestTaskTreeInsertRejectsDuplicateID(t *testing.T) {
	tree := NewTaskTree()
	require.NoError(t, tree.Insert(&domain.Task{ID: "a"}))
	err := tree.Insert(&domain.Task{ID: "a"})
	require.Error(t, err)
	var terr *domain.TerminalError
	require.ErrorAs(t, err, &terr)
	assert.Equal(t, domain.ErrKindInvalidTaskGraph, terr.Kind)
}

func TestTaskTreeInsertRejectsSelfDependency(t *testing.T) {
	tree := NewTaskTree()
	err := tree.Insert(&domain.Task{ID: "a", Dependencies: []string{"a"}})
	require.Error(t, err)
}

func TestTaskTreeInsertRejectsUnknownDependency(t *testing.T) {
	tree := NewTaskTree()
	err := tree.Insert(&domain.Task{ID: "a", Dependencies: []string{"missing"}})
	require.Error(t, err)
}

func TestDetectCycleFindsBackEdge(t *testing.T) {
	// Insert can never introduce a cycle itself (a dependency must already
	// exist in the tree before it can be referenced), so detectCycle is
	// exercised directly against a hand-built graph here.
	byID := map[string]*domain.Task{
		"a": {ID: "a", Dependencies: []string{"b"}},
		"b": {ID: "b", Dependencies: []string{"a"}},
	}
	assert.True(t, detectCycle(byID))
}

func TestDetectCycleAcyclicGraph(t *testing.T) {
	byID := map[string]*domain.Task{
		"a": {ID: "a"},
		"b": {ID: "b", Dependencies: []string{"a"}},
		"c": {ID: "c", Dependencies: []string{"a", "b"}},
	}
	assert.False(t, detectCycle(byID))
}

func TestTaskTreeReadySetRespectsDependenciesAndStatus(t *testing.T) {
	tree := NewTaskTree()
	a := &domain.Task{ID: "a", Status: domain.StatusIdle}
	b := &domain.Task{ID: "b", Status: domain.StatusIdle, Dependencies: []string{"a"}}
	require.NoError(t, tree.Insert(a))
	require.NoError(t, tree.Insert(b))

	ready := tree.ReadySet()
	require.Len(t, ready, 1)
	assert.Equal(t, "a", ready[0].ID)

	a.Status = domain.StatusSucceeded
	tree.Update(a)
	ready = tree.ReadySet()
	require.Len(t, ready, 1)
	assert.Equal(t, "b", ready[0].ID)
}

func TestTaskTreeReadySetExcludesInFlightAndTerminal(t *testing.T) {
	tree := NewTaskTree()
	require.NoError(t, tree.Insert(&domain.Task{ID: "a", Status: domain.StatusRunning}))
	require.NoError(t, tree.Insert(&domain.Task{ID: "b", Status: domain.StatusSucceeded}))
	require.NoError(t, tree.Insert(&domain.Task{ID: "c", Status: domain.StatusIdle}))

	ready := tree.ReadySet()
	require.Len(t, ready, 1)
	assert.Equal(t, "c", ready[0].ID)
}

func TestTaskTreeAllTerminalAndAnyFailed(t *testing.T) {
	tree := NewTaskTree()
	require.NoError(t, tree.Insert(&domain.Task{ID: "a", Status: domain.StatusIdle}))
	assert.False(t, tree.AllTerminal())
	assert.False(t, tree.AnyFailed())

	a, _ := tree.Get("a")
	a.Status = domain.StatusFailed
	tree.Update(a)
	assert.True(t, tree.AllTerminal())
	assert.True(t, tree.AnyFailed())
}

func TestTaskTreeProgressWeightedMean(t *testing.T) {
	tree := NewTaskTree()
	require.NoError(t, tree.Insert(&domain.Task{ID: "a", Status: domain.StatusSucceeded, Weight: 1}))
	require.NoError(t, tree.Insert(&domain.Task{ID: "b", Status: domain.StatusRunning, Progress: 0.5, Weight: 1}))

	assert.InDelta(t, 0.75, tree.Progress(), 1e-9)
}

func TestTaskTreeProgressEmptyIsZero(t *testing.T) {
	tree := NewTaskTree()
	assert.Equal(t, 0.0, tree.Progress())
}
