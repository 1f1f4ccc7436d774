package grade

import (
	"encoding/json"
	"fmt"
	"maps"

	"github.com/dustin/go-humanize"

	"github.com/aristath/grader/internal/process"
)

// Error explains why a task failed.
type Error struct {
	Description string
	Suggestion  string
	Location    string
	Traceback   string
	Expected    any
	Received    any
}

func (e *Error) Error() string {
	return e.Description
}

type errorJSON struct {
	Description *string `json:"description"`
	Suggestion  *string `json:"suggestion"`
	Location    *string `json:"location"`
	Traceback   *string `json:"traceback"`
	Expected    any     `json:"expected"`
	Received    any     `json:"received"`
}

// MarshalJSON always emits all six keys, using null for empty ones.
func (e *Error) MarshalJSON() ([]byte, error) {
	return json.Marshal(errorJSON{
		Description: optional(e.Description),
		Suggestion:  optional(e.Suggestion),
		Location:    optional(e.Location),
		Traceback:   optional(e.Traceback),
		Expected:    e.Expected,
		Received:    e.Received,
	})
}

func (e *Error) UnmarshalJSON(data []byte) error {
	var j errorJSON
	if err := json.Unmarshal(data, &j); err != nil {
		return err
	}
	*e = Error{Expected: j.Expected, Received: j.Received}
	if j.Description != nil {
		e.Description = *j.Description
	}
	if j.Suggestion != nil {
		e.Suggestion = *j.Suggestion
	}
	if j.Location != nil {
		e.Location = *j.Location
	}
	if j.Traceback != nil {
		e.Traceback = *j.Traceback
	}
	return nil
}

func optional(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

// Details is the kind-specific payload of a Result.
type Details interface {
	Kind() Kind
	fields() map[string]any
}

// CheckDetails carries nothing beyond pass or fail.
type CheckDetails struct{}

func (CheckDetails) Kind() Kind             { return KindCheck }
func (CheckDetails) fields() map[string]any { return map[string]any{} }

// GenericDetails is used by tasks that fit no other kind.
type GenericDetails struct{}

func (GenericDetails) Kind() Kind             { return KindGeneric }
func (GenericDetails) fields() map[string]any { return map[string]any{} }

// BuildDetails records the compiler invocation.
type BuildDetails struct {
	Runtime *process.Runtime
}

func (BuildDetails) Kind() Kind { return KindBuild }
func (d BuildDetails) fields() map[string]any {
	return map[string]any{"runtime": d.Runtime}
}

// CorrectnessDetails records the program run and the accepted outputs.
type CorrectnessDetails struct {
	Runtime  *process.Runtime
	Expected []string
}

func (CorrectnessDetails) Kind() Kind { return KindCorrectness }
func (d CorrectnessDetails) fields() map[string]any {
	return map[string]any{"runtime": d.Runtime, "expected": d.Expected}
}

// MemoryDetails records a memory checker run and what it found.
type MemoryDetails struct {
	Runtime      *process.Runtime
	ErrorCount   *int
	LeakedBlocks *int
	LeakedBytes  *int
}

func (MemoryDetails) Kind() Kind { return KindMemory }
func (d MemoryDetails) fields() map[string]any {
	return map[string]any{
		"runtime":       d.Runtime,
		"error_count":   d.ErrorCount,
		"leaked_blocks": d.LeakedBlocks,
		"leaked_bytes":  d.LeakedBytes,
	}
}

// CleanupDetails lists the files a teardown task removed.
type CleanupDetails struct {
	Removed []string
}

func (CleanupDetails) Kind() Kind { return KindCleanup }
func (d CleanupDetails) fields() map[string]any {
	return map[string]any{"removed": d.Removed}
}

// RawDetails holds details decoded from a report file.
type RawDetails struct {
	kind   Kind
	Fields map[string]any
}

func (d RawDetails) Kind() Kind { return d.kind }
func (d RawDetails) fields() map[string]any {
	return maps.Clone(d.Fields)
}

func defaultDetails(kind Kind) Details {
	switch kind {
	case KindCheck:
		return CheckDetails{}
	case KindBuild:
		return BuildDetails{}
	case KindCorrectness:
		return CorrectnessDetails{}
	case KindMemory:
		return MemoryDetails{}
	case KindCleanup:
		return CleanupDetails{}
	}
	return GenericDetails{}
}

// Result is the outcome of one task in one run.
type Result struct {
	Complete bool
	Passing  bool
	Error    *Error
	Details  Details
	// Extra is merged into the dumped details; typed fields win on conflict.
	Extra map[string]any

	task *Task
	name string
}

// Pass returns a passing result. A nil details is replaced by the task's
// default variant when the result is recorded.
func Pass(details Details) *Result {
	return &Result{Complete: true, Passing: true, Details: details}
}

// Fail returns a completed, failing result.
func Fail(details Details, err *Error) *Result {
	return &Result{Complete: true, Details: details, Error: err}
}

// Failf is Fail with a formatted description.
func Failf(details Details, format string, args ...any) *Result {
	return Fail(details, &Error{Description: fmt.Sprintf(format, args...)})
}

// Incomplete returns a result for a task that could not finish.
func Incomplete(details Details, err *Error) *Result {
	return &Result{Details: details, Error: err}
}

func (r *Result) bind(t *Task) {
	r.task = t
	r.name = t.Name
	if r.Passing && !r.Complete {
		r.Passing = false
	}
}

// Task returns the task that produced r, or nil for a result decoded
// without its grader.
func (r *Result) Task() *Task { return r.task }

// Name returns the task name.
func (r *Result) Name() string { return r.name }

// Kind returns the kind of the details variant.
func (r *Result) Kind() Kind {
	if r.Details == nil {
		if r.task != nil {
			return r.task.Kind
		}
		return KindGeneric
	}
	return r.Details.Kind()
}

func (r *Result) String() string {
	m, memory := r.Details.(MemoryDetails)
	if memory && m.Runtime != nil && m.LeakedBytes == nil {
		return "failed to run"
	}
	if !r.Complete {
		return "not completed"
	}
	if memory && m.LeakedBytes != nil {
		switch {
		case *m.LeakedBytes > 0:
			return fmt.Sprintf("leaked %s bytes", humanize.Comma(int64(*m.LeakedBytes)))
		case m.ErrorCount != nil && *m.ErrorCount > 0:
			return fmt.Sprintf("encountered %s errors", humanize.Comma(int64(*m.ErrorCount)))
		case r.Passing:
			return "found no leaked memory"
		}
	}
	if r.Passing {
		return "passed"
	}
	if r.Error != nil && r.Error.Description != "" {
		return "failed: " + r.Error.Description
	}
	return "failed"
}

type resultJSON struct {
	Complete bool           `json:"complete"`
	Passing  bool           `json:"passing"`
	Kind     Kind           `json:"kind"`
	Error    *Error         `json:"error"`
	Details  map[string]any `json:"details"`
}

func (r *Result) MarshalJSON() ([]byte, error) {
	details := maps.Clone(r.Extra)
	if details == nil {
		details = make(map[string]any)
	}
	if r.Details != nil {
		maps.Copy(details, r.Details.fields())
	}
	return json.Marshal(resultJSON{
		Complete: r.Complete,
		Passing:  r.Passing,
		Kind:     r.Kind(),
		Error:    r.Error,
		Details:  details,
	})
}

// UnmarshalJSON decodes a dumped result. Details come back as RawDetails.
func (r *Result) UnmarshalJSON(data []byte) error {
	var j resultJSON
	if err := json.Unmarshal(data, &j); err != nil {
		return err
	}
	if j.Details == nil {
		j.Details = make(map[string]any)
	}
	*r = Result{
		Complete: j.Complete,
		Passing:  j.Passing,
		Error:    j.Error,
		Details:  RawDetails{kind: j.Kind, Fields: j.Details},
	}
	return nil
}
