package grade

import (
	"bytes"
	"encoding/json"
	"fmt"
	"slices"
)

// Report maps task names to results in execution order.
type Report struct {
	order []string
	index map[string]*Result
}

// NewReport creates an empty report.
func NewReport() *Report {
	return &Report{index: make(map[string]*Result)}
}

// Add records res under its task name. Recording a name twice replaces the
// earlier result but keeps its position.
func (r *Report) Add(res *Result) {
	if res.Passing && !res.Complete {
		res.Passing = false
	}
	name := res.Name()
	if _, exists := r.index[name]; !exists {
		r.order = append(r.order, name)
	}
	r.index[name] = res
}

// Get returns the result recorded for name.
func (r *Report) Get(name string) (*Result, bool) {
	res, ok := r.index[name]
	return res, ok
}

// Passed reports whether name has a passing result.
func (r *Report) Passed(name string) bool {
	res, ok := r.index[name]
	return ok && res.Passing
}

// Completed reports whether name has a complete result.
func (r *Report) Completed(name string) bool {
	res, ok := r.index[name]
	return ok && res.Complete
}

// Results returns the results in recording order.
func (r *Report) Results() []*Result {
	out := make([]*Result, 0, len(r.order))
	for _, name := range r.order {
		out = append(out, r.index[name])
	}
	return out
}

// Len returns the number of results.
func (r *Report) Len() int {
	return len(r.order)
}

// Statistics counts tasks and, separately, the test-stage tasks.
type Statistics struct {
	TasksTotal    int `json:"tasks_total"`
	TasksComplete int `json:"tasks_complete"`
	TasksPassing  int `json:"tasks_passing"`
	TestsTotal    int `json:"tests_total"`
	TestsComplete int `json:"tests_complete"`
	TestsPassing  int `json:"tests_passing"`
}

// Add accumulates o into s.
func (s *Statistics) Add(o Statistics) {
	s.TasksTotal += o.TasksTotal
	s.TasksComplete += o.TasksComplete
	s.TasksPassing += o.TasksPassing
	s.TestsTotal += o.TestsTotal
	s.TestsComplete += o.TestsComplete
	s.TestsPassing += o.TestsPassing
}

// Statistics summarizes the report.
func (r *Report) Statistics() Statistics {
	var s Statistics
	for _, res := range r.Results() {
		s.TasksTotal++
		if res.Complete {
			s.TasksComplete++
		}
		if res.Passing {
			s.TasksPassing++
		}
		if !isTest(res) {
			continue
		}
		s.TestsTotal++
		if res.Complete {
			s.TestsComplete++
		}
		if res.Passing {
			s.TestsPassing++
		}
	}
	return s
}

func isTest(res *Result) bool {
	if t := res.Task(); t != nil {
		return t.Stage == StageTest
	}
	switch res.Kind() {
	case KindCorrectness, KindMemory:
		return true
	}
	return false
}

func (r *Report) MarshalJSON() ([]byte, error) {
	return marshalOrdered(r.order, func(name string) any { return r.index[name] })
}

func (r *Report) UnmarshalJSON(data []byte) error {
	*r = *NewReport()
	return unmarshalOrdered(data, func(name string, raw json.RawMessage) error {
		res := new(Result)
		if err := json.Unmarshal(raw, res); err != nil {
			return fmt.Errorf("result %q: %w", name, err)
		}
		res.name = name
		r.Add(res)
		return nil
	})
}

// LoadReport decodes a dumped report and reattaches each result to the task
// of the same name. Results naming unknown tasks are kept unattached.
func LoadReport(data []byte, tasks []*Task) (*Report, error) {
	r := NewReport()
	if err := json.Unmarshal(data, r); err != nil {
		return nil, err
	}
	byName := make(map[string]*Task, len(tasks))
	for _, t := range tasks {
		byName[t.Name] = t
	}
	for _, res := range r.index {
		if t, ok := byName[res.name]; ok {
			res.task = t
		}
	}
	return r, nil
}

// AssignmentReport maps problem short names to reports in problem order.
type AssignmentReport struct {
	order   []string
	reports map[string]*Report
}

// NewAssignmentReport creates an empty assignment report.
func NewAssignmentReport() *AssignmentReport {
	return &AssignmentReport{reports: make(map[string]*Report)}
}

// Set records the report of a problem.
func (a *AssignmentReport) Set(problem string, r *Report) {
	if _, exists := a.reports[problem]; !exists {
		a.order = append(a.order, problem)
	}
	a.reports[problem] = r
}

// Get returns the report of a problem.
func (a *AssignmentReport) Get(problem string) (*Report, bool) {
	r, ok := a.reports[problem]
	return r, ok
}

// Problems returns the problem names in order.
func (a *AssignmentReport) Problems() []string {
	return slices.Clone(a.order)
}

// Len returns the number of problems.
func (a *AssignmentReport) Len() int {
	return len(a.order)
}

// Statistics sums the statistics of every problem.
func (a *AssignmentReport) Statistics() Statistics {
	var s Statistics
	for _, problem := range a.order {
		s.Add(a.reports[problem].Statistics())
	}
	return s
}

func (a *AssignmentReport) MarshalJSON() ([]byte, error) {
	return marshalOrdered(a.order, func(problem string) any { return a.reports[problem] })
}

func (a *AssignmentReport) UnmarshalJSON(data []byte) error {
	*a = *NewAssignmentReport()
	return unmarshalOrdered(data, func(problem string, raw json.RawMessage) error {
		r := NewReport()
		if err := json.Unmarshal(raw, r); err != nil {
			return fmt.Errorf("problem %q: %w", problem, err)
		}
		a.Set(problem, r)
		return nil
	})
}

// marshalOrdered writes a JSON object whose keys follow keys.
func marshalOrdered(keys []string, value func(string) any) ([]byte, error) {
	var buf bytes.Buffer
	buf.WriteByte('{')
	for i, key := range keys {
		if i > 0 {
			buf.WriteByte(',')
		}
		k, err := json.Marshal(key)
		if err != nil {
			return nil, err
		}
		v, err := json.Marshal(value(key))
		if err != nil {
			return nil, fmt.Errorf("%s: %w", key, err)
		}
		buf.Write(k)
		buf.WriteByte(':')
		buf.Write(v)
	}
	buf.WriteByte('}')
	return buf.Bytes(), nil
}

// unmarshalOrdered walks a JSON object calling each for every member in
// document order.
func unmarshalOrdered(data []byte, each func(string, json.RawMessage) error) error {
	dec := json.NewDecoder(bytes.NewReader(data))
	tok, err := dec.Token()
	if err != nil {
		return err
	}
	if delim, ok := tok.(json.Delim); !ok || delim != '{' {
		return fmt.Errorf("expected JSON object, got %v", tok)
	}
	for dec.More() {
		tok, err := dec.Token()
		if err != nil {
			return err
		}
		key, ok := tok.(string)
		if !ok {
			return fmt.Errorf("expected object key, got %v", tok)
		}
		var raw json.RawMessage
		if err := dec.Decode(&raw); err != nil {
			return fmt.Errorf("%s: %w", key, err)
		}
		if err := each(key, raw); err != nil {
			return err
		}
	}
	_, err = dec.Token()
	return err
}
