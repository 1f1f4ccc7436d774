package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"time"

	"github.com/google/shlex"

	"github.com/aristath/grader/internal/builtin"
)

// Load reads and merges configuration from global and project paths.
// Order of precedence (highest to lowest): project config, global config, defaults.
// Missing files are not errors; malformed JSON returns an error.
func Load(globalPath, projectPath string) (*GraderConfig, error) {
	cfg := DefaultConfig()

	if globalPath != "" {
		if err := mergeConfigFile(cfg, globalPath); err != nil {
			return nil, fmt.Errorf("loading global config: %w", err)
		}
	}
	if projectPath != "" {
		if err := mergeConfigFile(cfg, projectPath); err != nil {
			return nil, fmt.Errorf("loading project config: %w", err)
		}
	}
	return cfg, nil
}

// GlobalPath returns ~/.grader/config.json.
func GlobalPath() (string, error) {
	homeDir, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("getting home directory: %w", err)
	}
	return filepath.Join(homeDir, ".grader", "config.json"), nil
}

// ProjectPath is the project configuration relative to the working directory.
const ProjectPath = ".grader/config.json"

// LoadDefault loads configuration from the conventional paths.
func LoadDefault() (*GraderConfig, error) {
	globalPath, err := GlobalPath()
	if err != nil {
		return nil, err
	}
	return Load(globalPath, ProjectPath)
}

// mergeConfigFile overlays the settings present in path onto base.
func mergeConfigFile(base *GraderConfig, path string) error {
	data, err := os.ReadFile(path)
	if errors.Is(err, fs.ErrNotExist) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("reading %s: %w", path, err)
	}

	var loaded GraderConfig
	if err := json.Unmarshal(data, &loaded); err != nil {
		return fmt.Errorf("parsing %s: %w", path, err)
	}

	if loaded.Process.KillGrace > 0 {
		base.Process.KillGrace = loaded.Process.KillGrace
	}
	if loaded.Process.TestTimeout > 0 {
		base.Process.TestTimeout = loaded.Process.TestTimeout
	}
	for key, tool := range loaded.Tools {
		base.Tools[key] = tool
	}
	if loaded.Batch.Parallelism > 0 {
		base.Batch.Parallelism = loaded.Batch.Parallelism
	}
	if loaded.Batch.BreakerThreshold > 0 {
		base.Batch.BreakerThreshold = loaded.Batch.BreakerThreshold
	}
	if loaded.Report.Indent != "" {
		base.Report.Indent = loaded.Report.Indent
	}
	return nil
}

// Argv returns the command line of the named tool.
func (c *GraderConfig) Argv(tool string) ([]string, error) {
	t, ok := c.Tools[tool]
	if !ok || t.Command == "" {
		return nil, fmt.Errorf("tool %q is not configured", tool)
	}
	opts, err := shlex.Split(t.Options)
	if err != nil {
		return nil, fmt.Errorf("tool %q: parsing options: %w", tool, err)
	}
	return append([]string{t.Command}, opts...), nil
}

// Toolchain builds the toolchain resource handed to builtin tasks.
func (c *GraderConfig) Toolchain() (*builtin.Toolchain, error) {
	tc := &builtin.Toolchain{TestTimeout: time.Duration(c.Process.TestTimeout)}
	for tool, dst := range map[string]*[]string{
		ToolCompiler: &tc.Compiler,
		ToolMake:     &tc.Make,
		ToolValgrind: &tc.Valgrind,
	} {
		argv, err := c.Argv(tool)
		if err != nil {
			return nil, err
		}
		*dst = argv
	}
	return tc, nil
}
