package graph

import (
	"errors"
	"fmt"
	"strings"

	"assetflow/pkg/faults"
)

var (
	ErrDuplicateTask    = errors.New("duplicate task")
	ErrUnknownTask      = errors.New("unknown task")
	ErrCyclicDependency = errors.New("cyclic dependency")
	ErrSealed           = errors.New("registry sealed")
)

// GraphError reports a problem with how tasks are wired together. Every
// GraphError is also a configuration error.
type GraphError struct {
	Kind error
	Task string
	// Path holds the offending cycle for ErrCyclicDependency.
	Path []string
}

func (e *GraphError) Error() string {
	switch {
	case len(e.Path) > 0:
		return fmt.Sprintf("%s: %s", e.Kind, strings.Join(e.Path, " -> "))
	case e.Task != "":
		return fmt.Sprintf("%s: %q", e.Kind, e.Task)
	default:
		return e.Kind.Error()
	}
}

func (e *GraphError) Unwrap() []error { return []error{e.Kind, faults.ErrConfiguration} }

// TaskError wraps the failure of a named task.
type TaskError struct {
	Task string
	Err  error
}

func (e *TaskError) Error() string {
	return fmt.Sprintf("task %q failed: %v", e.Task, e.Err)
}

func (e *TaskError) Unwrap() error { return e.Err }

// FailedTasks returns the names of every failed task referenced by err,
// innermost first. It understands aggregated parallel errors.
func FailedTasks(err error) []string {
	var names []string
	var walk func(error)
	walk = func(err error) {
		if err == nil {
			return
		}
		if te, ok := err.(*TaskError); ok {
			before := len(names)
			walk(te.Err)
			if len(names) == before {
				names = append(names, te.Task)
			}
			return
		}
		switch u := err.(type) {
		case interface{ Unwrap() []error }:
			for _, e := range u.Unwrap() {
				walk(e)
			}
		case interface{ Unwrap() error }:
			walk(u.Unwrap())
		}
	}
	walk(err)
	return names
}
