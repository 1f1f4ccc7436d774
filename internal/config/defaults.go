package config

import "time"

// Tool names understood by Toolchain.
const (
	ToolCompiler = "compiler"
	ToolMake     = "make"
	ToolValgrind = "valgrind"
)

// DefaultConfig returns the configuration used when no file overrides it.
func DefaultConfig() *GraderConfig {
	return &GraderConfig{
		Process: ProcessConfig{
			KillGrace:   Duration(250 * time.Millisecond),
			TestTimeout: Duration(time.Second),
		},
		Tools: map[string]ToolConfig{
			ToolCompiler: {Command: "g++"},
			ToolMake:     {Command: "make"},
			ToolValgrind: {
				Command: "valgrind",
				Options: "--tool=memcheck --leak-check=yes --xml=yes",
			},
		},
		Batch: BatchConfig{
			Parallelism:      1,
			BreakerThreshold: 5,
		},
		Report: ReportConfig{Indent: "  "},
	}
}
