package graph

import (
	"context"
)

// Action performs a task's work. Returning marks the task complete; a non-nil
// error marks it failed.
type Action func(ctx context.Context) error

// Task represents a named unit of work in the build graph
type Task struct {
	// Name is unique within a registry
	Name string
	// Description is shown by the plan command
	Description string
	// Action runs the task itself; nil for purely composed tasks
	Action Action
	// Deps are tasks that must complete before Action runs
	Deps []string

	flow Flow
}

// Edges returns the names this task refers to, either as declared
// dependencies or through its composed flow
func (t *Task) Edges() []string {
	edges := append([]string(nil), t.Deps...)
	if t.flow != nil {
		edges = append(edges, t.flow.Refs()...)
	}
	return uniq(edges)
}

// Flow returns the composed flow of the task, or nil
func (t *Task) Flow() Flow {
	return t.flow
}

func uniq(names []string) []string {
	seen := make(map[string]bool, len(names))
	out := names[:0]
	for _, n := range names {
		if seen[n] {
			continue
		}
		seen[n] = true
		out = append(out, n)
	}
	return out
}
