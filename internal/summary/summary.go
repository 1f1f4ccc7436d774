// Package summary aggregates the report files of a batch into per-task and
// per-problem statistics.
package summary

import (
	"fmt"
	"io"
	"maps"
	"path/filepath"
	"slices"

	"github.com/aristath/grader/internal/grade"
	"github.com/aristath/grader/internal/manager"
	"github.com/aristath/grader/internal/process"
)

// TaskSummary lists the students who completed, passed and timed out on a
// task.
type TaskSummary struct {
	Name     string   `json:"name"`
	Stage    string   `json:"stage"`
	Complete []string `json:"complete"`
	Passing  []string `json:"passing"`
	TimedOut []string `json:"timed_out"`
}

// ProblemSummary aggregates one problem over every student.
type ProblemSummary struct {
	Short string         `json:"short"`
	Tasks []*TaskSummary `json:"tasks"`
	// Scores maps each student with at least one completed test to the
	// fraction of completed tests they passed.
	Scores  map[string]float64 `json:"scores"`
	Mean    float64            `json:"mean"`
	Median  float64            `json:"median"`
	Perfect float64            `json:"perfect"`
}

func (p *ProblemSummary) task(name string) *TaskSummary {
	for _, t := range p.Tasks {
		if t.Name == name {
			return t
		}
	}
	t := &TaskSummary{Name: name}
	p.Tasks = append(p.Tasks, t)
	return t
}

// Summary is the whole batch.
type Summary struct {
	Problems []*ProblemSummary `json:"problems"`
	Students []string          `json:"students"`
	// FailedSetup lists students with a failing setup task.
	FailedSetup []string `json:"failed_setup"`
}

// Load summarizes every report file in dir.
func Load(schema *manager.Schema, dir string) (*Summary, error) {
	paths, err := filepath.Glob(filepath.Join(dir, "*"+manager.ReportSuffix))
	if err != nil {
		return nil, err
	}
	reports := make(map[string]*grade.AssignmentReport, len(paths))
	for _, path := range paths {
		r, err := manager.ReadReport(path)
		if err != nil {
			return nil, err
		}
		reports[manager.TargetName(path)] = r
	}
	return Build(schema, reports), nil
}

// Build summarizes reports keyed by student. Problems follow the schema;
// report problems missing from it are ignored.
func Build(schema *manager.Schema, reports map[string]*grade.AssignmentReport) *Summary {
	s := &Summary{Students: slices.Sorted(maps.Keys(reports))}
	failed := make(map[string]bool)

	for _, problem := range schema.Problems {
		ps := &ProblemSummary{Short: problem.Short, Scores: make(map[string]float64)}
		for _, info := range problem.Tasks {
			ps.Tasks = append(ps.Tasks, &TaskSummary{Name: info.Name, Stage: info.Stage})
		}

		for _, student := range s.Students {
			report, ok := reports[student].Get(problem.Short)
			if !ok {
				continue
			}
			testsComplete, testsPassing := 0, 0
			for _, result := range report.Results() {
				ts := ps.task(result.Name())
				if ts.Stage == "" {
					ts.Stage = stageOf(result)
				}
				if ts.Stage == string(grade.StageSetup) && !result.Passing {
					failed[student] = true
				}
				if result.Complete {
					ts.Complete = append(ts.Complete, student)
				}
				if result.Passing {
					ts.Passing = append(ts.Passing, student)
				}
				if timedOut(result) {
					ts.TimedOut = append(ts.TimedOut, student)
				}
				if ts.Stage == string(grade.StageTest) && result.Complete {
					testsComplete++
					if result.Passing {
						testsPassing++
					}
				}
			}
			if testsComplete > 0 {
				ps.Scores[student] = float64(testsPassing) / float64(testsComplete)
			}
		}
		ps.Mean, ps.Median, ps.Perfect = statistics(slices.Collect(maps.Values(ps.Scores)))
		s.Problems = append(s.Problems, ps)
	}

	s.FailedSetup = slices.Sorted(maps.Keys(failed))
	return s
}

// stageOf guesses the stage of a result whose task the schema doesn't list.
func stageOf(r *grade.Result) string {
	if t := r.Task(); t != nil {
		return string(t.Stage)
	}
	switch r.Kind() {
	case grade.KindCorrectness, grade.KindMemory:
		return string(grade.StageTest)
	case grade.KindCleanup:
		return string(grade.StageTeardown)
	}
	return string(grade.StageSetup)
}

// timedOut reports whether the result's program run hit its time limit.
func timedOut(r *grade.Result) bool {
	var rt *process.Runtime
	switch d := r.Details.(type) {
	case grade.BuildDetails:
		rt = d.Runtime
	case grade.CorrectnessDetails:
		rt = d.Runtime
	case grade.MemoryDetails:
		rt = d.Runtime
	case grade.RawDetails:
		dump, _ := d.Fields["runtime"].(map[string]any)
		timedOut, _ := dump["timed_out"].(bool)
		return timedOut
	}
	if rt == nil {
		rt, _ = r.Extra["runtime"].(*process.Runtime)
	}
	return rt != nil && rt.TimedOut
}

// statistics returns the mean, median and share of perfect scores.
func statistics(scores []float64) (mean, median, perfect float64) {
	if len(scores) == 0 {
		return 0, 0, 0
	}
	slices.Sort(scores)
	sum, full := 0.0, 0
	for _, score := range scores {
		sum += score
		if score == 1 {
			full++
		}
	}
	n := len(scores)
	mean = sum / float64(n)
	if n%2 == 1 {
		median = scores[n/2]
	} else {
		median = (scores[n/2-1] + scores[n/2]) / 2
	}
	return mean, median, float64(full) / float64(n)
}

func percent(x float64) string {
	return fmt.Sprintf("%.1f%%", x*100)
}

// WriteText prints the summary in the layout graders read at a terminal.
func (s *Summary) WriteText(w io.Writer) error {
	p := &printer{w: w}
	for _, ps := range s.Problems {
		p.printf("Problem: %s\n", ps.Short)
		p.printf("  Tasks\n")
		for _, ts := range ps.Tasks {
			p.printf("    %s: %d/%d (%d timeout)\n", ts.Name, len(ts.Passing), len(ts.Complete), len(ts.TimedOut))
		}
		p.printf("  Statistics\n")
		p.printf("    Total scores: %d\n", len(ps.Scores))
		if len(ps.Scores) == 0 {
			p.printf("    Mean: -\n    Median: -\n    Perfect: -\n")
			continue
		}
		p.printf("    Mean: %s\n", percent(ps.Mean))
		p.printf("    Median: %s\n", percent(ps.Median))
		p.printf("    Perfect: %s\n", percent(ps.Perfect))
	}
	p.printf("Submissions that failed setup: %d\n", len(s.FailedSetup))
	for _, student := range s.FailedSetup {
		p.printf("  %s\n", student)
	}
	return p.err
}

// printer remembers the first write error.
type printer struct {
	w   io.Writer
	err error
}

func (p *printer) printf(format string, args ...any) {
	if p.err != nil {
		return
	}
	_, p.err = fmt.Fprintf(p.w, format, args...)
}
