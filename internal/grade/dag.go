package grade

import (
	"fmt"
	"slices"
	"strings"

	"github.com/gammazero/toposort"
)

const (
	unvisited = iota
	visiting
	visited
)

// Sort orders the tasks of each stage so every task follows its
// dependencies. A task may depend on tasks of its own stage or of an earlier
// one. Ties keep registration order, so the result is stable across calls.
func Sort(stages ...[]*Task) ([][]*Task, error) {
	stageOf := make(map[string]int)
	byName := make(map[string]*Task)
	for i, tasks := range stages {
		for _, t := range tasks {
			if _, exists := byName[t.Name]; exists {
				return nil, &GraphError{Kind: ErrDuplicateTask, Task: t.Name, Msg: "registered more than once"}
			}
			byName[t.Name] = t
			stageOf[t.Name] = i
		}
	}

	for i, tasks := range stages {
		for _, t := range tasks {
			for _, dep := range t.Dependencies.All() {
				j, exists := stageOf[dep]
				if !exists {
					return nil, &GraphError{
						Kind: ErrUnknownDependency,
						Task: t.Name,
						Msg:  fmt.Sprintf("depends on non-existent task %q", dep),
					}
				}
				if j > i {
					return nil, &GraphError{
						Kind: ErrStageOrder,
						Task: t.Name,
						Msg:  fmt.Sprintf("depends on %q from a later stage", dep),
					}
				}
			}
		}
	}

	acyclic := hasNoCycle(stages)

	marks := make(map[string]int, len(byName))
	sorted := make([][]*Task, len(stages))
	for i, tasks := range stages {
		order := make([]*Task, 0, len(tasks))
		var visit func(t *Task, path []string) error
		visit = func(t *Task, path []string) error {
			switch marks[t.Name] {
			case visited:
				return nil
			case visiting:
				start := slices.Index(path, t.Name)
				cycle := append(slices.Clone(path[start:]), t.Name)
				return &GraphError{Kind: ErrCycle, Task: t.Name, Msg: strings.Join(cycle, " -> ")}
			}
			marks[t.Name] = visiting
			path = append(path, t.Name)
			for _, dep := range t.Dependencies.All() {
				// Earlier stages are already placed.
				if stageOf[dep] != i {
					continue
				}
				if err := visit(byName[dep], path); err != nil {
					return err
				}
			}
			marks[t.Name] = visited
			order = append(order, t)
			return nil
		}
		for _, t := range tasks {
			if err := visit(t, nil); err != nil {
				return nil, err
			}
		}
		sorted[i] = order
	}

	if !acyclic {
		return nil, &GraphError{Kind: ErrCycle, Msg: "cycle reported but no participants found"}
	}
	return sorted, nil
}

// hasNoCycle runs an independent topological sort over every dependency
// edge.
func hasNoCycle(stages [][]*Task) bool {
	var edges []toposort.Edge
	for _, tasks := range stages {
		for _, t := range tasks {
			deps := t.Dependencies.All()
			if len(deps) == 0 {
				edges = append(edges, toposort.Edge{nil, t.Name})
				continue
			}
			for _, dep := range deps {
				// Edge (dep, task) means dep must come before task
				edges = append(edges, toposort.Edge{dep, t.Name})
			}
		}
	}
	_, err := toposort.Toposort(edges)
	return err == nil
}
