package graph

import (
	"sort"
	"sync"
)

// Registry holds the named tasks of one build. It is populated during
// initialization, sealed, and only queried afterwards.
type Registry struct {
	mu     sync.RWMutex
	tasks  map[string]*Task
	order  []string
	sealed bool
}

// NewRegistry creates a new empty registry
func NewRegistry() *Registry {
	return &Registry{
		tasks: make(map[string]*Task),
	}
}

// Register adds a task with an action and optional dependencies
func (r *Registry) Register(name string, action Action, deps ...string) error {
	return r.add(&Task{Name: name, Action: action, Deps: deps})
}

// Compose adds a task whose work is running a flow of other tasks
func (r *Registry) Compose(name string, flow Flow) error {
	return r.add(&Task{Name: name, flow: flow})
}

// Describe attaches a description to a registered task
func (r *Registry) Describe(name, description string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	task, ok := r.tasks[name]
	if !ok {
		return &GraphError{Kind: ErrUnknownTask, Task: name}
	}
	task.Description = description
	return nil
}

func (r *Registry) add(task *Task) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.sealed {
		return &GraphError{Kind: ErrSealed, Task: task.Name}
	}
	if _, exists := r.tasks[task.Name]; exists {
		return &GraphError{Kind: ErrDuplicateTask, Task: task.Name}
	}

	r.tasks[task.Name] = task
	// Reject the task if it closes a loop through tasks we already know
	if path := r.cycleFrom(task.Name); path != nil {
		delete(r.tasks, task.Name)
		return &GraphError{Kind: ErrCyclicDependency, Task: task.Name, Path: path}
	}
	r.order = append(r.order, task.Name)
	return nil
}

// cycleFrom returns a path start -> ... -> start if one exists among known
// tasks. Unknown names are ignored here; Validate reports them.
func (r *Registry) cycleFrom(start string) []string {
	visited := make(map[string]bool)
	var path []string

	var visit func(name string) bool
	visit = func(name string) bool {
		task, ok := r.tasks[name]
		if !ok {
			return false
		}
		path = append(path, name)
		for _, dep := range task.Edges() {
			if dep == start {
				path = append(path, start)
				return true
			}
			if visited[dep] {
				continue
			}
			visited[dep] = true
			if visit(dep) {
				return true
			}
		}
		path = path[:len(path)-1]
		return false
	}

	if visit(start) {
		return path
	}
	return nil
}

// Get returns a task by its name
func (r *Registry) Get(name string) (*Task, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	task, ok := r.tasks[name]
	if !ok {
		return nil, &GraphError{Kind: ErrUnknownTask, Task: name}
	}
	return task, nil
}

// Names returns all task names in registration order
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return append([]string(nil), r.order...)
}

// Validate checks that every referenced task exists and the graph is acyclic
func (r *Registry) Validate() error {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.validate()
}

func (r *Registry) validate() error {
	for _, name := range r.order {
		for _, dep := range r.tasks[name].Edges() {
			if _, ok := r.tasks[dep]; !ok {
				return &GraphError{Kind: ErrUnknownTask, Task: dep}
			}
		}
	}
	_, err := r.topologicalSort()
	return err
}

// Seal validates the registry and freezes it against further registration
func (r *Registry) Seal() error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.sealed {
		return nil
	}
	if err := r.validate(); err != nil {
		return err
	}
	r.sealed = true
	return nil
}

// Sealed reports whether the registry has been sealed
func (r *Registry) Sealed() bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.sealed
}

// TopologicalSort returns tasks in topological order (dependencies first)
func (r *Registry) TopologicalSort() ([]*Task, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.topologicalSort()
}

func (r *Registry) topologicalSort() ([]*Task, error) {
	// Kahn's algorithm, ties broken by registration order
	position := make(map[string]int, len(r.order))
	for i, name := range r.order {
		position[name] = i
	}

	inDegree := make(map[string]int)
	dependents := make(map[string][]string)
	for _, name := range r.order {
		for _, dep := range r.tasks[name].Edges() {
			if _, ok := r.tasks[dep]; !ok {
				continue
			}
			inDegree[name]++
			dependents[dep] = append(dependents[dep], name)
		}
	}

	var queue []string
	for _, name := range r.order {
		if inDegree[name] == 0 {
			queue = append(queue, name)
		}
	}

	var result []*Task
	for len(queue) > 0 {
		current := queue[0]
		queue = queue[1:]
		result = append(result, r.tasks[current])

		var ready []string
		for _, other := range dependents[current] {
			inDegree[other]--
			if inDegree[other] == 0 {
				ready = append(ready, other)
			}
		}
		sort.Slice(ready, func(i, j int) bool { return position[ready[i]] < position[ready[j]] })
		queue = append(queue, ready...)
	}

	// Check for cycles
	if len(result) != len(r.order) {
		for _, name := range r.order {
			if inDegree[name] > 0 {
				if path := r.cycleFrom(name); path != nil {
					return nil, &GraphError{Kind: ErrCyclicDependency, Task: name, Path: path}
				}
			}
		}
		return nil, &GraphError{Kind: ErrCyclicDependency}
	}

	return result, nil
}

// Closure returns names and every task they reach through dependencies and
// composed flows, in discovery order. Unknown names are skipped.
func (r *Registry) Closure(names ...string) []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	seen := make(map[string]bool)
	var out []string
	queue := append([]string(nil), names...)
	for len(queue) > 0 {
		name := queue[0]
		queue = queue[1:]
		task, ok := r.tasks[name]
		if !ok || seen[name] {
			continue
		}
		seen[name] = true
		out = append(out, name)
		queue = append(queue, task.Edges()...)
	}
	return out
}
