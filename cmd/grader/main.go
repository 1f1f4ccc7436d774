// Command grader grades programming assignment submissions against a
// grading artifact.
//
// Usage:
//
//	grader single -artifact A -target T [-report R] [-sanity]
//	grader batch -artifact A -targets DIR [-reports DIR] [-parallelism N] [-tui]
//	grader summarize -artifact A [-reports DIR]
//	grader serve -artifact A [-addr :8080] [-auth-token TOKEN]
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"log"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"golang.org/x/term"

	"github.com/aristath/grader/internal/config"
	"github.com/aristath/grader/internal/events"
	"github.com/aristath/grader/internal/manager"
	"github.com/aristath/grader/internal/metrics"
	"github.com/aristath/grader/internal/process"
	"github.com/aristath/grader/internal/server"
	"github.com/aristath/grader/internal/summary"
	"github.com/aristath/grader/internal/tui"
)

var logger *zap.Logger

type command func(ctx context.Context, conf *Options) error

var commands = map[string]command{
	"single":    runSingle,
	"batch":     runBatch,
	"summarize": runSummarize,
	"serve":     runServe,
}

func main() {
	if len(os.Args) < 2 {
		usage()
		os.Exit(2)
	}
	run, ok := commands[os.Args[1]]
	if !ok {
		usage()
		os.Exit(2)
	}

	conf := &Options{}
	if err := conf.Load(os.Args[2:]); err != nil {
		if errors.Is(err, flag.ErrHelp) {
			return
		}
		log.Fatalln("load options failed ", err)
	}
	if conf.TUI && os.Args[1] == "batch" && term.IsTerminal(int(os.Stdout.Fd())) {
		conf.Silent = true
	} else {
		conf.TUI = false
	}
	initLogger(conf)
	defer logger.Sync()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, conf); err != nil {
		logger.Error("grader failed", zap.String("command", os.Args[1]), zap.Error(err))
		logger.Sync()
		os.Exit(1)
	}
}

func usage() {
	fmt.Fprintln(os.Stderr, "usage: grader <single|batch|summarize|serve> -artifact DIR [flags]")
}

func initLogger(conf *Options) {
	if conf.Silent {
		logger = zap.NewNop()
		return
	}

	var err error
	if conf.Release {
		logger, err = zap.NewProduction()
	} else {
		config := zap.NewDevelopmentConfig()
		config.EncoderConfig.EncodeLevel = zapcore.CapitalColorLevelEncoder
		if !conf.Debug {
			config.Level.SetLevel(zap.InfoLevel)
		}
		logger, err = config.Build()
	}
	if err != nil {
		log.Fatalln("init logger failed ", err)
	}
}

// app is what every subcommand needs to grade.
type app struct {
	config  *config.GraderConfig
	bus     *events.EventBus
	manager *manager.Manager
}

func newApp(conf *Options, m *metrics.Metrics) (*app, error) {
	cfg, err := config.LoadDefault()
	if err != nil {
		return nil, err
	}
	toolchain, err := cfg.Toolchain()
	if err != nil {
		return nil, err
	}

	parallelism := conf.Parallelism
	if parallelism <= 0 {
		parallelism = cfg.Batch.Parallelism
	}
	bus := events.NewEventBus()
	runner := process.NewRunner(process.RunnerConfig{
		Logger:    logger,
		Processes: process.NewManager(),
		KillGrace: time.Duration(cfg.Process.KillGrace),
		Metrics:   m,
	})
	mgr, err := manager.Load(conf.Artifact, manager.Config{
		Logger:           logger,
		Metrics:          m,
		Bus:              bus,
		Runner:           runner,
		Toolchain:        toolchain,
		Parallelism:      parallelism,
		BreakerThreshold: cfg.Batch.BreakerThreshold,
	})
	if err != nil {
		bus.Close()
		return nil, err
	}
	return &app{config: cfg, bus: bus, manager: mgr}, nil
}

func (a *app) close() {
	a.bus.Close()
}

// killOnCancel kills every tracked child once ctx is cancelled, so an
// interrupted run does not leave student programs behind.
func killOnCancel(ctx context.Context, procs *process.Manager) {
	go func() {
		<-ctx.Done()
		if err := procs.KillAll(); err != nil {
			logger.Warn("killing child processes", zap.Error(err))
		}
	}()
}

func runOptions(conf *Options, out io.Writer) manager.RunOptions {
	return manager.RunOptions{SanityOnly: conf.Sanity, Log: out}
}

func (a *app) writeReport(path string, sub manager.Submission) {
	if sub.Report == nil {
		return
	}
	if err := manager.WriteReport(path, sub.Report, a.config.Report.Indent); err != nil {
		logger.Error("writing report", zap.String("path", path), zap.Error(err))
	}
}

func runSingle(ctx context.Context, conf *Options) error {
	if conf.Target == "" {
		return errors.New("-target is required")
	}
	a, err := newApp(conf, nil)
	if err != nil {
		return err
	}
	defer a.close()
	killOnCancel(ctx, a.manager.Runner().Processes())

	report, runErr := a.manager.RunSingle(ctx, conf.Target, runOptions(conf, os.Stdout))
	path := conf.Report
	if path == "" {
		path = filepath.Join(conf.Reports, manager.ReportName(conf.Target))
	}
	a.writeReport(path, manager.Submission{Target: conf.Target, Report: report})
	if runErr != nil {
		return runErr
	}

	stats := report.Statistics()
	logger.Info("submission graded",
		zap.String("target", conf.Target),
		zap.String("report", path),
		zap.Int("tasks", stats.TasksTotal),
		zap.Int("passing", stats.TasksPassing))
	return nil
}

// listTargets returns the submission directories inside dir in name order.
func listTargets(dir string) ([]string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("listing submissions: %w", err)
	}
	var targets []string
	for _, e := range entries {
		if e.IsDir() {
			targets = append(targets, filepath.Join(dir, e.Name()))
		}
	}
	if len(targets) == 0 {
		return nil, fmt.Errorf("no submissions in %s", dir)
	}
	return targets, nil
}

func runBatch(ctx context.Context, conf *Options) error {
	if conf.Targets == "" {
		return errors.New("-targets is required")
	}
	targets, err := listTargets(conf.Targets)
	if err != nil {
		return err
	}
	a, err := newApp(conf, nil)
	if err != nil {
		return err
	}
	defer a.close()

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	killOnCancel(ctx, a.manager.Runner().Processes())

	var (
		out     io.Writer = os.Stdout
		program *tea.Program
		tuiDone = make(chan error, 1)
	)
	if conf.TUI {
		globalPath, err := config.GlobalPath()
		if err != nil {
			return err
		}
		out = io.Discard
		program = tea.NewProgram(tui.New(a.bus, len(targets), a.config, globalPath, config.ProjectPath), tea.WithAltScreen())
		go func() {
			_, err := program.Run()
			tuiDone <- err
			// Quitting the view abandons the batch.
			cancel()
		}()
	}

	var graded, failed int
	var halted bool
	for sub, err := range a.manager.RunBatch(ctx, targets, runOptions(conf, out)) {
		if sub.Target != "" {
			a.writeReport(filepath.Join(conf.Reports, manager.ReportName(sub.Target)), sub)
		}
		for problem, fault := range sub.Failed {
			logger.Warn("problem not graded", zap.String("target", sub.Target), zap.String("problem", problem), zap.Error(fault))
		}
		if err != nil {
			failed++
			halted = halted || errors.Is(err, manager.ErrBatchHalted)
			logger.Warn("submission not graded", zap.String("target", sub.Target), zap.Error(err))
			continue
		}
		graded++
	}
	logger.Info("batch finished",
		zap.Int("submissions", len(targets)),
		zap.Int("graded", graded),
		zap.Int("failed", failed),
		zap.String("reports", conf.Reports))

	if program != nil {
		var tuiErr error
		select {
		case tuiErr = <-tuiDone:
		case <-ctx.Done():
			program.Quit()
			tuiErr = <-tuiDone
		}
		if tuiErr != nil {
			return fmt.Errorf("batch view: %w", tuiErr)
		}
	}
	if halted {
		return manager.ErrBatchHalted
	}
	return nil
}

func runSummarize(ctx context.Context, conf *Options) error {
	schema, err := manager.ReadSchema(conf.Artifact)
	if err != nil {
		return err
	}
	s, err := summary.Load(schema, conf.Reports)
	if err != nil {
		return err
	}
	return s.WriteText(os.Stdout)
}

func runServe(ctx context.Context, conf *Options) error {
	reg := metrics.NewRegistry()
	a, err := newApp(conf, metrics.New(reg))
	if err != nil {
		return err
	}
	defer a.close()
	killOnCancel(ctx, a.manager.Runner().Processes())

	srv := &http.Server{
		Addr: conf.Addr,
		Handler: server.New(a.manager, server.Config{
			Logger:      logger,
			Gatherer:    reg,
			Release:     conf.Release,
			AuthToken:   conf.AuthToken,
			Parallelism: a.config.Batch.Parallelism,
		}).Handler(),
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("Starting http server", zap.String("addr", conf.Addr))
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	logger.Info("Http server shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), conf.ShutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return err
	}
	if err := <-errCh; !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	logger.Info("Http server stopped")
	return nil
}
