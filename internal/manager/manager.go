// Package manager loads a grading artifact and grades submissions against
// every automated problem in it.
package manager

import (
	"context"
	"errors"
	"fmt"
	"io"
	"maps"
	"os"
	"path/filepath"
	"slices"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/aristath/grader/internal/builtin"
	"github.com/aristath/grader/internal/definition"
	"github.com/aristath/grader/internal/events"
	"github.com/aristath/grader/internal/grade"
	"github.com/aristath/grader/internal/metrics"
	"github.com/aristath/grader/internal/process"
)

// Factory builds a fresh grader for a problem.
type Factory func() *grade.Grader

var (
	registryMu sync.RWMutex
	registry   = make(map[string]Factory)
)

// Register makes a Go-defined grader available for the problem short name.
// Registered graders take precedence over grader.yaml.
func Register(short string, factory Factory) {
	registryMu.Lock()
	defer registryMu.Unlock()
	registry[short] = factory
}

func registered(short string) (Factory, bool) {
	registryMu.RLock()
	defer registryMu.RUnlock()
	f, ok := registry[short]
	return f, ok
}

// Config configures a Manager.
type Config struct {
	Logger  *zap.Logger
	Metrics *metrics.Metrics
	Bus     *events.EventBus
	// Runner executes every child process; one is created when nil.
	Runner    *process.Runner
	Toolchain *builtin.Toolchain
	// Parallelism above 1 grades batch submissions concurrently.
	Parallelism int
	// BreakerThreshold is the number of consecutive run errors that halts
	// a batch. Defaults to 5.
	BreakerThreshold int
}

// RunOptions configures grading of one submission.
type RunOptions struct {
	SanityOnly bool
	// Log receives the per-task summary lines.
	Log     io.Writer
	Options map[string]string
}

// Submission is the outcome of grading one target.
type Submission struct {
	Target   string
	RunID    string
	Report   *grade.AssignmentReport
	Duration time.Duration
	// Failed maps each problem whose run hit a configuration fault to the
	// fault. Those problems are absent from Report.
	Failed map[string]error
}

type problemGrader struct {
	problem *Problem
	grader  *grade.Grader
}

// Manager grades submissions against the loaded graders.
type Manager struct {
	artifact string
	schema   *Schema
	graders  []problemGrader
	excluded map[string]error

	logger      *zap.Logger
	metrics     *metrics.Metrics
	bus         *events.EventBus
	runner      *process.Runner
	toolchain   *builtin.Toolchain
	parallelism int
	threshold   int
}

// Load reads the artifact's schema and builds a grader for every automated
// problem. Problems whose grader cannot be built are excluded rather than
// failing the load.
func Load(artifactPath string, cfg Config) (*Manager, error) {
	abs, err := filepath.Abs(artifactPath)
	if err != nil {
		return nil, &ArtifactError{Path: artifactPath, Err: err}
	}
	schema, err := ReadSchema(abs)
	if err != nil {
		return nil, err
	}

	m := &Manager{
		artifact:    abs,
		schema:      schema,
		excluded:    make(map[string]error),
		logger:      cfg.Logger,
		metrics:     cfg.Metrics,
		bus:         cfg.Bus,
		runner:      cfg.Runner,
		toolchain:   cfg.Toolchain,
		parallelism: cfg.Parallelism,
		threshold:   cfg.BreakerThreshold,
	}
	if m.logger == nil {
		m.logger = zap.NewNop()
	}
	if m.runner == nil {
		m.runner = process.NewRunner(process.RunnerConfig{Logger: m.logger, Metrics: m.metrics})
	}
	if m.parallelism <= 0 {
		m.parallelism = 1
	}
	if m.threshold <= 0 {
		m.threshold = 5
	}

	for _, p := range schema.Problems {
		if !slices.Contains(schema.Automated, p.Short) {
			continue
		}
		g, err := m.loadGrader(p)
		if err != nil {
			m.excluded[p.Short] = err
			m.logger.Warn("excluding problem", zap.String("problem", p.Short), zap.Error(err))
			continue
		}
		m.graders = append(m.graders, problemGrader{problem: p, grader: g})
	}
	m.logger.Info("grading artifact loaded",
		zap.String("path", abs),
		zap.Int("problems", len(m.graders)),
		zap.Int("excluded", len(m.excluded)))
	return m, nil
}

func (m *Manager) loadGrader(p *Problem) (*grade.Grader, error) {
	var g *grade.Grader
	if factory, ok := registered(p.Short); ok {
		g = factory()
		if g == nil {
			return nil, fmt.Errorf("registered grader for %q is nil", p.Short)
		}
	} else {
		d, err := definition.Load(filepath.Join(m.artifact, p.Directory, definition.FileName))
		if err != nil {
			return nil, err
		}
		if g, err = d.Grader(m.logger.With(zap.String("problem", p.Short))); err != nil {
			return nil, err
		}
	}
	if err := g.Check(); err != nil {
		return nil, err
	}
	return g, nil
}

// Schema returns the artifact's grading schema.
func (m *Manager) Schema() *Schema { return m.schema }

// Problems returns the short names of the problems that will be graded.
func (m *Manager) Problems() []string {
	shorts := make([]string, len(m.graders))
	for i, pg := range m.graders {
		shorts[i] = pg.problem.Short
	}
	return shorts
}

// Grader returns the loaded grader for a problem.
func (m *Manager) Grader(short string) (*grade.Grader, bool) {
	for _, pg := range m.graders {
		if pg.problem.Short == short {
			return pg.grader, true
		}
	}
	return nil, false
}

// Excluded maps each problem left out at load time to the reason.
func (m *Manager) Excluded() map[string]error { return maps.Clone(m.excluded) }

// Runner returns the process runner shared by every run.
func (m *Manager) Runner() *process.Runner { return m.runner }

// RunSingle grades one submission directory. The returned error is a
// configuration fault or ctx's error; the report holds whatever was graded
// before it.
func (m *Manager) RunSingle(ctx context.Context, target string, opts RunOptions) (*grade.AssignmentReport, error) {
	sub, err := m.grade(ctx, target, opts, opts.Log)
	return sub.Report, err
}

func (m *Manager) grade(ctx context.Context, target string, opts RunOptions, log io.Writer) (Submission, error) {
	start := time.Now()
	sub := Submission{
		Target: target,
		RunID:  uuid.NewString(),
		Report: grade.NewAssignmentReport(),
	}
	logger := m.logger.With(zap.String("run", sub.RunID), zap.String("target", target))
	m.bus.Publish(events.SubmissionStartedEvent{
		Run:       sub.RunID,
		Target:    target,
		Problems:  len(m.graders),
		Timestamp: start,
	})

	err := m.gradeProblems(ctx, target, opts, log, &sub)

	sub.Duration = time.Since(start)
	stats := sub.Report.Statistics()
	outcome := "graded"
	switch {
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		outcome = "cancelled"
	case err != nil:
		outcome = "error"
	}
	m.metrics.ObserveSubmission(outcome)
	m.bus.Publish(events.SubmissionFinishedEvent{
		Run:          sub.RunID,
		Target:       target,
		TasksTotal:   stats.TasksTotal,
		TasksPassing: stats.TasksPassing,
		Err:          err,
		Duration:     sub.Duration,
		Timestamp:    time.Now(),
	})
	if err != nil {
		logger.Error("submission not graded", zap.String("outcome", outcome), zap.Error(err))
	} else {
		logger.Info("submission graded",
			zap.Int("tasks", stats.TasksTotal),
			zap.Int("passing", stats.TasksPassing),
			zap.Duration("elapsed", sub.Duration))
	}
	return sub, err
}

func (m *Manager) gradeProblems(ctx context.Context, target string, opts RunOptions, log io.Writer, sub *Submission) error {
	abs, err := filepath.Abs(target)
	if err != nil {
		return err
	}
	if info, err := os.Stat(abs); err != nil {
		return fmt.Errorf("target: %w", err)
	} else if !info.IsDir() {
		return fmt.Errorf("target %s is not a directory", target)
	}

	seed := make(map[string]any)
	if m.toolchain != nil {
		seed[builtin.ResourceToolchain] = m.toolchain
	}
	for _, pg := range m.graders {
		short := pg.problem.Short
		if log != nil {
			fmt.Fprintf(log, "%s/%s\n", filepath.Base(abs), short)
		}
		report, err := pg.grader.Run(ctx, grade.RunOptions{
			Context: &grade.Context{
				Problem:        short,
				SubmissionPath: abs,
				ProblemPath:    filepath.Join(abs, pg.problem.Directory),
				ArtifactPath:   filepath.Join(m.artifact, pg.problem.Directory),
			},
			SanityOnly: opts.SanityOnly,
			Log:        log,
			Seed:       seed,
			Options:    maps.Clone(opts.Options),
			Runner:     m.runner,
			Bus:        m.bus,
			RunID:      sub.RunID,
			Metrics:    m.metrics,
		})
		if err != nil && ctx.Err() == nil {
			// A configuration fault aborts this problem only.
			if sub.Failed == nil {
				sub.Failed = make(map[string]error)
			}
			sub.Failed[short] = err
			m.logger.Warn("problem not graded",
				zap.String("run", sub.RunID),
				zap.String("problem", short),
				zap.Error(err))
			continue
		}
		if report != nil {
			sub.Report.Set(short, report)
		}
		if err != nil {
			return fmt.Errorf("grading %s: %w", short, err)
		}
	}
	return nil
}
