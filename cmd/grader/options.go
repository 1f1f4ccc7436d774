package main

import (
	"errors"
	"time"

	"github.com/koding/multiconfig"
)

// Options are the command line flags shared by every subcommand. Each flag
// can also be set through a GRADER_ environment variable.
type Options struct {
	Artifact string `flagUsage:"grading artifact directory containing grading.json"`
	Target   string `flagUsage:"submission directory to grade (single)"`
	Targets  string `flagUsage:"directory holding one submission per subdirectory (batch)"`
	Report   string `flagUsage:"report file for a single submission (default <reports>/<target>.report.json)"`
	Reports  string `flagUsage:"directory for report files" default:"reports"`

	Sanity      bool `flagUsage:"run setup and teardown tasks only"`
	Parallelism int  `flagUsage:"submissions graded concurrently in batch mode (default from config)"`
	TUI         bool `flagUsage:"show the interactive batch view when attached to a terminal"`

	// server config
	Addr            string        `flagUsage:"http binding address for serve" default:":8080"`
	AuthToken       string        `flagUsage:"bearer token required by serve"`
	ShutdownTimeout time.Duration `flagUsage:"grace period for in-flight requests on shutdown" default:"10s"`

	// logger config
	Release bool `flagUsage:"release level of logs"`
	Silent  bool `flagUsage:"do not print logs"`
	Debug   bool `flagUsage:"print debug logs"`
}

// Load loads options from args and the environment.
func (o *Options) Load(args []string) error {
	cl := multiconfig.MultiLoader(
		&multiconfig.TagLoader{},
		&multiconfig.EnvironmentLoader{
			Prefix:    "GRADER",
			CamelCase: true,
		},
		&multiconfig.FlagLoader{
			CamelCase: true,
			EnvPrefix: "GRADER",
			Args:      args,
		},
	)
	if err := cl.Load(o); err != nil {
		return err
	}
	if o.Artifact == "" {
		return errors.New("-artifact is required")
	}
	return nil
}
