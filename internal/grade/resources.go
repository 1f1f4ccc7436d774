package grade

import (
	"reflect"
	"sort"
)

// Resources is the name-keyed store shared by the tasks of one run.
// Earlier tasks publish values (paths, executables, handles) that later
// tasks declare as parameters. It is accessed from a single goroutine.
type Resources struct {
	values map[string]any
}

// NewResources creates an empty store.
func NewResources() *Resources {
	return &Resources{values: make(map[string]any)}
}

// Set publishes v under name, replacing any previous value.
func (r *Resources) Set(name string, v any) {
	r.values[name] = v
}

// Lookup returns the value stored under name.
func (r *Resources) Lookup(name string) (any, bool) {
	v, ok := r.values[name]
	return v, ok
}

// Delete removes name.
func (r *Resources) Delete(name string) {
	delete(r.values, name)
}

// Names returns the stored names in sorted order.
func (r *Resources) Names() []string {
	names := make([]string, 0, len(r.values))
	for name := range r.values {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Resource returns the value under name if it exists and has type T.
func Resource[T any](r *Resources, name string) (T, bool) {
	v, ok := r.values[name].(T)
	return v, ok
}

// Param declares one value a runnable expects to be injected.
type Param struct {
	Name       string
	Default    any
	HasDefault bool

	typeName string
	accepts  func(any) bool
}

// Need declares a required parameter of type T.
func Need[T any](name string) Param {
	return Param{
		Name:     name,
		typeName: reflect.TypeFor[T]().String(),
		accepts:  accepts[T],
	}
}

// Want declares a parameter of type T that falls back to def when no
// resource of that name exists.
func Want[T any](name string, def T) Param {
	p := Need[T](name)
	p.Default = def
	p.HasDefault = true
	return p
}

func accepts[T any](v any) bool {
	if v == nil {
		return true
	}
	_, ok := v.(T)
	return ok
}

// Args is what a runnable receives: its resolved parameters plus the shared
// resources for publishing new values.
type Args struct {
	task      *Task
	values    map[string]any
	resources *Resources
}

// Task returns the task being run.
func (a Args) Task() *Task { return a.task }

// Resources returns the run's shared store.
func (a Args) Resources() *Resources { return a.resources }

// Has reports whether the parameter name was declared and resolved.
func (a Args) Has(name string) bool {
	_, ok := a.values[name]
	return ok
}

// Get returns parameter name as T, or the zero value when it is absent or nil.
func Get[T any](a Args, name string) T {
	v, _ := a.values[name].(T)
	return v
}
