// Package graph builds the dependency graph for batch scheduling.
package graph

import (
	"fmt"
	"sort"
	"strings"

	"github.com/orchestra-core/orchestra/pkg/models"
)

// CycleError indicates a circular dependency was found in the task set.
type CycleError struct {
	// Path is the offending cycle as an ordered list of task IDs. The first
	// element is repeated conceptually after the last (a -> b -> a).
	Path []string
}

// Error implements the error interface.
func (e *CycleError) Error() string {
	return fmt.Sprintf("circular dependency: %s", strings.Join(e.Path, " -> "))
}

// UnknownReferenceError indicates dependency edges pointing at task IDs that
// are not part of the batch. It lists every dangling reference found so the
// submitter can fix the batch in one pass.
type UnknownReferenceError struct {
	// References maps each referencing task ID to the unknown IDs it names.
	References map[string][]string
}

// Error implements the error interface.
func (e *UnknownReferenceError) Error() string {
	ids := make([]string, 0, len(e.References))
	for id := range e.References {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	var parts []string
	for _, id := range ids {
		parts = append(parts, fmt.Sprintf("%s -> %s", id, strings.Join(e.References[id], ", ")))
	}
	return fmt.Sprintf("unknown dependency references: %s", strings.Join(parts, "; "))
}

// Graph is an immutable directed acyclic graph over a batch's tasks.
// Nodes are task IDs; an edge A -> B means A must complete before B.
type Graph struct {
	// order is the topological order of all task IDs.
	order []string
	// index maps a task ID to its position in order.
	index map[string]int
	// deps maps a task ID to the IDs it depends on.
	deps map[string][]string
	// dependents maps a task ID to the IDs that depend on it.
	dependents map[string][]string
}

// Build constructs the graph from the batch's tasks, using each task's
// DependsOn list as its incoming edges. Duplicate edges are collapsed.
// Returns *UnknownReferenceError if any dependency names a task outside the
// set, or *CycleError if the edges form a cycle. Pure: the input tasks are
// not mutated and no partial graph is ever returned.
func Build(tasks []*models.Task) (*Graph, error) {
	inputPos := make(map[string]int, len(tasks))
	for i, task := range tasks {
		inputPos[task.ID] = i
	}

	// Collect every dangling reference before failing.
	unknown := make(map[string][]string)
	deps := make(map[string][]string, len(tasks))
	dependents := make(map[string][]string, len(tasks))

	for _, task := range tasks {
		seen := make(map[string]bool, len(task.DependsOn))
		for _, depID := range task.DependsOn {
			if seen[depID] {
				continue // duplicate edge, no-op
			}
			seen[depID] = true

			if _, exists := inputPos[depID]; !exists {
				unknown[task.ID] = append(unknown[task.ID], depID)
				continue
			}
			deps[task.ID] = append(deps[task.ID], depID)
			dependents[depID] = append(dependents[depID], task.ID)
		}
	}

	if len(unknown) > 0 {
		for id := range unknown {
			sort.Strings(unknown[id])
		}
		return nil, &UnknownReferenceError{References: unknown}
	}

	if path := findCycle(tasks, deps); path != nil {
		return nil, &CycleError{Path: path}
	}

	order := topoOrder(tasks, deps, dependents, inputPos)
	index := make(map[string]int, len(order))
	for i, id := range order {
		index[id] = i
	}

	return &Graph{
		order:      order,
		index:      index,
		deps:       deps,
		dependents: dependents,
	}, nil
}

// findCycle runs a three-color DFS and returns the cycle path if one exists.
func findCycle(tasks []*models.Task, deps map[string][]string) []string {
	const (
		white = 0 // unvisited
		gray  = 1 // on the current DFS path
		black = 2 // fully explored
	)
	colors := make(map[string]int, len(tasks))

	var stack []string
	var cycle []string

	var visit func(id string) bool
	visit = func(id string) bool {
		colors[id] = gray
		stack = append(stack, id)

		for _, depID := range deps[id] {
			switch colors[depID] {
			case gray:
				// Back edge: the cycle is the stack suffix starting at depID.
				for i, sid := range stack {
					if sid == depID {
						cycle = append([]string(nil), stack[i:]...)
						return true
					}
				}
				cycle = append([]string(nil), stack...)
				return true
			case white:
				if visit(depID) {
					return true
				}
			}
		}

		colors[id] = black
		stack = stack[:len(stack)-1]
		return false
	}

	for _, task := range tasks {
		if colors[task.ID] == white {
			if visit(task.ID) {
				return cycle
			}
		}
	}
	return nil
}

// topoOrder computes a topological order using Kahn's algorithm with a
// deterministic tie-break: original input order, then lexical ID.
func topoOrder(tasks []*models.Task, deps, dependents map[string][]string, inputPos map[string]int) []string {
	indegree := make(map[string]int, len(tasks))
	for _, task := range tasks {
		indegree[task.ID] = len(deps[task.ID])
	}

	less := func(a, b string) bool {
		if inputPos[a] != inputPos[b] {
			return inputPos[a] < inputPos[b]
		}
		return a < b
	}

	var ready []string
	for _, task := range tasks {
		if indegree[task.ID] == 0 {
			ready = append(ready, task.ID)
		}
	}
	sort.Slice(ready, func(i, j int) bool { return less(ready[i], ready[j]) })

	order := make([]string, 0, len(tasks))
	for len(ready) > 0 {
		id := ready[0]
		ready = ready[1:]
		order = append(order, id)

		for _, depID := range dependents[id] {
			indegree[depID]--
			if indegree[depID] == 0 {
				ready = append(ready, depID)
			}
		}
		sort.Slice(ready, func(i, j int) bool { return less(ready[i], ready[j]) })
	}

	return order
}

// Order returns the topological order of all task IDs.
func (g *Graph) Order() []string {
	out := make([]string, len(g.order))
	copy(out, g.order)
	return out
}

// TopoIndex returns the task's position in the topological order.
// Used as the scheduling hint when frontier tasks tie on priority.
func (g *Graph) TopoIndex(taskID string) int {
	return g.index[taskID]
}

// Dependencies returns the IDs the given task depends on.
func (g *Graph) Dependencies(taskID string) []string {
	return g.deps[taskID]
}

// Dependents returns the IDs that directly depend on the given task.
func (g *Graph) Dependents(taskID string) []string {
	return g.dependents[taskID]
}

// TransitiveDependents returns every task reachable from the given task by
// following dependent edges. Used by the best-effort failure policy to
// cancel the full downstream closure of a failed task.
func (g *Graph) TransitiveDependents(taskID string) []string {
	visited := make(map[string]bool)
	var out []string

	var walk func(id string)
	walk = func(id string) {
		for _, depID := range g.dependents[id] {
			if visited[depID] {
				continue
			}
			visited[depID] = true
			out = append(out, depID)
			walk(depID)
		}
	}
	walk(taskID)

	sort.Slice(out, func(i, j int) bool { return g.index[out[i]] < g.index[out[j]] })
	return out
}

// Size returns the number of tasks in the graph.
func (g *Graph) Size() int {
	return len(g.order)
}
