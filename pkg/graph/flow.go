package graph

import (
	"context"
	"strings"
)

// Flow is a composition of tasks built from Ref, Series and Parallel.
type Flow interface {
	// Refs returns every task name the flow refers to
	Refs() []string
	// String renders the flow as series(...)/parallel(...) notation
	String() string

	run(ctx context.Context, r *Runner) error
}

type ref string

// Ref refers to a registered task by name
func Ref(name string) Flow { return ref(name) }

// Refs turns task names into flows, for use with Series and Parallel
func Refs(names ...string) []Flow {
	flows := make([]Flow, len(names))
	for i, n := range names {
		flows[i] = ref(n)
	}
	return flows
}

func (f ref) Refs() []string { return []string{string(f)} }
func (f ref) String() string { return string(f) }

func (f ref) run(ctx context.Context, r *Runner) error {
	return r.RunTask(ctx, string(f))
}

type series []Flow

// Series runs flows one after another, stopping at the first failure
func Series(flows ...Flow) Flow { return series(flows) }

func (f series) Refs() []string                           { return refsOf(f) }
func (f series) String() string                           { return "series(" + join(f) + ")" }
func (f series) run(ctx context.Context, r *Runner) error { return r.runSeries(ctx, f) }

type parallel []Flow

// Parallel starts flows together and waits for all of them
func Parallel(flows ...Flow) Flow { return parallel(flows) }

func (f parallel) Refs() []string                           { return refsOf(f) }
func (f parallel) String() string                           { return "parallel(" + join(f) + ")" }
func (f parallel) run(ctx context.Context, r *Runner) error { return r.runParallel(ctx, f) }

func refsOf(flows []Flow) []string {
	var names []string
	for _, f := range flows {
		names = append(names, f.Refs()...)
	}
	return uniq(names)
}

func join(flows []Flow) string {
	parts := make([]string, len(flows))
	for i, f := range flows {
		parts[i] = f.String()
	}
	return strings.Join(parts, ", ")
}

// Concurrent returns the groups of flows started together inside flow, one
// group per parallel composition at any depth
func Concurrent(flow Flow) [][]Flow {
	var groups [][]Flow
	var walk func(Flow)
	walk = func(f Flow) {
		switch f := f.(type) {
		case series:
			for _, child := range f {
				walk(child)
			}
		case parallel:
			groups = append(groups, []Flow(f))
			for _, child := range f {
				walk(child)
			}
		}
	}
	walk(flow)
	return groups
}
