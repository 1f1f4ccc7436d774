// Package grade is the grading runtime: tasks registered into stages,
// ordered by their dependencies and run against a submission to produce a
// Report.
package grade

import (
	"context"
	"errors"
	"io"
	"path/filepath"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/aristath/grader/internal/events"
	"github.com/aristath/grader/internal/metrics"
	"github.com/aristath/grader/internal/process"
)

// Names of the resources every run is seeded with.
const (
	ResourceReport    = "report"
	ResourceLog       = "log"
	ResourceContext   = "context"
	ResourceOptions   = "options"
	ResourceResources = "resources"
	ResourceRunner    = "runner"
	ResourceLogger    = "logger"
	ResourceCtx       = "ctx"
)

const incompleteDescription = "not completed because a prior required task failed"

// Context locates the submission and problem being graded.
type Context struct {
	Problem        string
	SubmissionPath string
	// ProblemPath is the problem's directory inside the submission.
	ProblemPath string
	// ArtifactPath is the problem's directory inside the grading artifact.
	ArtifactPath string
}

// SubmissionFile resolves name inside the problem directory of the
// submission.
func (c *Context) SubmissionFile(name string) string {
	if filepath.IsAbs(name) {
		return name
	}
	return filepath.Join(c.ProblemPath, name)
}

// ArtifactFile resolves name inside the problem directory of the artifact.
func (c *Context) ArtifactFile(name string) string {
	if filepath.IsAbs(name) {
		return name
	}
	return filepath.Join(c.ArtifactPath, name)
}

// RunOptions configures one Grader.Run.
type RunOptions struct {
	Context *Context
	// SanityOnly skips the test stage.
	SanityOnly bool
	// Log receives the per-task summary lines.
	Log io.Writer
	// Seed resources are added after the built-in ones and may replace them.
	Seed    map[string]any
	Options map[string]string
	Runner  *process.Runner
	Bus     *events.EventBus
	RunID   string
	Metrics *metrics.Metrics
}

// Grader owns the three stages of a problem's grading pipeline.
type Grader struct {
	Setup    *Stage
	Test     *Stage
	Teardown *Stage

	logger *zap.Logger

	mu       sync.Mutex
	names    map[string]*Task
	regErrs  []error
	checked  bool
	order    [][]*Task
	checkErr error
}

// New creates a grader with empty stages.
func New(logger *zap.Logger) *Grader {
	if logger == nil {
		logger = zap.NewNop()
	}
	g := &Grader{
		logger: logger,
		names:  make(map[string]*Task),
	}
	g.Setup = &Stage{name: StageSetup, grader: g}
	g.Test = &Stage{name: StageTest, grader: g}
	g.Teardown = &Stage{name: StageTeardown, grader: g}
	return g
}

// Stages returns the stages in execution order.
func (g *Grader) Stages() []*Stage {
	return []*Stage{g.Setup, g.Test, g.Teardown}
}

func (g *Grader) registered(t *Task) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.names[t.Name] = t
	g.checked = false
}

func (g *Grader) registrationFailed(err error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.regErrs = append(g.regErrs, err)
	g.checked = false
}

// Task returns the registered task called name.
func (g *Grader) Task(name string) (*Task, bool) {
	g.mu.Lock()
	defer g.mu.Unlock()
	t, ok := g.names[name]
	return t, ok
}

// Tasks returns every task, stage by stage in registration order.
func (g *Grader) Tasks() []*Task {
	var out []*Task
	for _, s := range g.Stages() {
		out = append(out, s.tasks...)
	}
	return out
}

// Check validates registration and computes the execution order. The result
// is memoised until another task is registered.
func (g *Grader) Check() error {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.checked {
		return g.checkErr
	}
	g.checked = true
	if len(g.regErrs) > 0 {
		g.order, g.checkErr = nil, errors.Join(g.regErrs...)
		return g.checkErr
	}
	g.order, g.checkErr = Sort(g.Setup.tasks, g.Test.tasks, g.Teardown.tasks)
	return g.checkErr
}

// Order returns the checked execution order per stage.
func (g *Grader) Order() ([][]*Task, error) {
	if err := g.Check(); err != nil {
		return nil, err
	}
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.order, nil
}

// Run executes every stage against a fresh report. The returned error is
// either a configuration fault or ctx's error; task failures are results.
func (g *Grader) Run(ctx context.Context, opts RunOptions) (*Report, error) {
	order, err := g.Order()
	if err != nil {
		return nil, err
	}

	logger := g.logger
	if opts.RunID != "" {
		logger = logger.With(zap.String("run", opts.RunID))
	}
	if opts.Context == nil {
		opts.Context = &Context{}
	}
	if opts.Options == nil {
		opts.Options = make(map[string]string)
	}
	if opts.Runner == nil {
		opts.Runner = process.NewRunner(process.RunnerConfig{Logger: logger, Metrics: opts.Metrics})
	}

	report := NewReport()
	log := NewLog(opts.Log)
	res := NewResources()
	res.Set(ResourceReport, report)
	res.Set(ResourceLog, log)
	res.Set(ResourceContext, opts.Context)
	res.Set(ResourceOptions, opts.Options)
	res.Set(ResourceResources, res)
	res.Set(ResourceRunner, opts.Runner)
	res.Set(ResourceLogger, logger)
	res.Set(ResourceCtx, ctx)
	for name, v := range opts.Seed {
		res.Set(name, v)
	}

	r := &run{ctx: ctx, opts: opts, logger: logger, report: report, log: log, res: res}
	for i, stage := range g.Stages() {
		tasks := order[i]
		if len(tasks) == 0 {
			continue
		}
		if opts.SanityOnly && stage.name == StageTest {
			logger.Debug("skipping test stage", zap.Int("tasks", len(tasks)))
			continue
		}
		logger.Debug("stage started", zap.String("stage", string(stage.name)), zap.Int("tasks", len(tasks)))
		for _, t := range tasks {
			if err := ctx.Err(); err != nil {
				return report, err
			}
			if err := r.execute(t); err != nil {
				logger.Error("grader configuration error", zap.String("task", t.Name), zap.Error(err))
				return report, err
			}
		}
	}
	return report, nil
}

// run carries the state of one Grader.Run.
type run struct {
	ctx    context.Context
	opts   RunOptions
	logger *zap.Logger
	report *Report
	log    *Log
	res    *Resources
}

func (r *run) execute(t *Task) error {
	start := time.Now()
	result := r.unmet(t)
	if result == nil {
		var err error
		result, err = t.Run(r.res)
		if err != nil {
			return err
		}
	}
	duration := time.Since(start)

	r.report.Add(result)
	r.log.Result(result)
	if err := r.log.Flush(); err != nil {
		r.logger.Warn("failed to flush log", zap.Error(err))
	}

	status := statusOf(result)
	r.logger.Debug("task finished",
		zap.String("task", t.Name),
		zap.String("status", status),
		zap.Duration("duration", duration))
	r.opts.Metrics.ObserveTask(string(result.Kind()), status)
	r.opts.Bus.Publish(events.TaskFinishedEvent{
		Run:       r.opts.RunID,
		Problem:   r.opts.Context.Problem,
		Task:      t.Name,
		Stage:     string(t.Stage),
		Kind:      string(result.Kind()),
		Complete:  result.Complete,
		Passing:   result.Passing,
		Summary:   result.String(),
		Duration:  duration,
		Timestamp: time.Now(),
	})
	return nil
}

// unmet returns an incomplete result when a dependency of t is not
// satisfied by the report so far, and nil otherwise.
func (r *run) unmet(t *Task) *Result {
	var dep, want string
	for _, name := range t.Dependencies.Passing {
		if !r.report.Passed(name) {
			dep, want = name, "pass"
			break
		}
	}
	if dep == "" {
		for _, name := range t.Dependencies.Complete {
			if !r.report.Completed(name) {
				dep, want = name, "complete"
				break
			}
		}
	}
	if dep == "" {
		return nil
	}
	res := Incomplete(defaultDetails(t.Kind), &Error{
		Description: incompleteDescription,
		Suggestion:  "requires " + dep + " to " + want,
	})
	res.bind(t)
	return res
}

func statusOf(r *Result) string {
	switch {
	case !r.Complete:
		return "incomplete"
	case r.Passing:
		return "passing"
	}
	return "failing"
}
