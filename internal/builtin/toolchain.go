// Package builtin provides the stock grading tasks: file checks, builds,
// output comparison, memory checking and cleanup.
package builtin

import (
	"context"
	"time"

	"github.com/aristath/grader/internal/grade"
	"github.com/aristath/grader/internal/process"
	"github.com/aristath/grader/internal/valgrind"
)

// ResourceToolchain is the resource holding the *Toolchain to use.
const ResourceToolchain = "toolchain"

// Default timeouts, matching what graders usually need for small programs.
const (
	DefaultBuildTimeout = 5 * time.Second
	DefaultMakeTimeout  = 30 * time.Second
	DefaultTestTimeout  = time.Second
)

// Toolchain names the external programs the builtin tasks invoke.
type Toolchain struct {
	// Compiler is the C++ compiler followed by flags applied to every build.
	Compiler []string
	Make     []string
	Valgrind []string
	// TestTimeout replaces DefaultTestTimeout for tests without their own limit.
	TestTimeout time.Duration
}

// DefaultToolchain returns g++, make and memcheck with their stock flags.
func DefaultToolchain() *Toolchain {
	return &Toolchain{
		Compiler: []string{"g++"},
		Make:     []string{"make"},
		Valgrind: append([]string(nil), valgrind.DefaultCommand...),
	}
}

// params are declared by every builtin task.
func params(extra ...grade.Param) []grade.Param {
	return append([]grade.Param{
		grade.Need[*grade.Context](grade.ResourceContext),
		grade.Need[*process.Runner](grade.ResourceRunner),
		grade.Want[context.Context](grade.ResourceCtx, context.Background()),
		grade.Want(ResourceToolchain, DefaultToolchain()),
	}, extra...)
}

// env is the resolved form of params.
type env struct {
	ctx       context.Context
	runner    *process.Runner
	context   *grade.Context
	toolchain *Toolchain
	resources *grade.Resources
}

func envOf(a grade.Args) env {
	e := env{
		ctx:       grade.Get[context.Context](a, grade.ResourceCtx),
		runner:    grade.Get[*process.Runner](a, grade.ResourceRunner),
		context:   grade.Get[*grade.Context](a, grade.ResourceContext),
		toolchain: grade.Get[*Toolchain](a, ResourceToolchain),
		resources: a.Resources(),
	}
	if e.ctx == nil {
		e.ctx = context.Background()
	}
	if e.context == nil {
		e.context = &grade.Context{}
	}
	if e.toolchain == nil {
		e.toolchain = DefaultToolchain()
	}
	return e
}

// testTimeout resolves a test's limit against the toolchain default.
func (e env) testTimeout(d time.Duration) time.Duration {
	return orDefault(d, orDefault(e.toolchain.TestTimeout, DefaultTestTimeout))
}

func orDefault(d, def time.Duration) time.Duration {
	if d <= 0 {
		return def
	}
	return d
}
