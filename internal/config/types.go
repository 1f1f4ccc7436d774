package config

import (
	"encoding/json"
	"fmt"
	"time"
)

// Duration is a time.Duration written as a string such as "250ms" in JSON.
type Duration time.Duration

func (d Duration) MarshalJSON() ([]byte, error) {
	return json.Marshal(time.Duration(d).String())
}

func (d *Duration) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return fmt.Errorf("duration must be a string: %w", err)
	}
	parsed, err := time.ParseDuration(s)
	if err != nil {
		return err
	}
	*d = Duration(parsed)
	return nil
}

// ToolConfig names an external program and the options always passed to it.
type ToolConfig struct {
	Command string `json:"command"`           // Binary name or path (e.g., "g++", "valgrind")
	Options string `json:"options,omitempty"` // Shell-style option string, split without a shell
}

// ProcessConfig controls how submission programs are run.
type ProcessConfig struct {
	KillGrace   Duration `json:"kill_grace,omitempty"`   // Output drain window after a kill
	TestTimeout Duration `json:"test_timeout,omitempty"` // Default limit for test runs
}

// BatchConfig controls batch grading.
type BatchConfig struct {
	Parallelism      int `json:"parallelism,omitempty"`       // Concurrent submissions; 1 is sequential
	BreakerThreshold int `json:"breaker_threshold,omitempty"` // Consecutive run errors before the batch stops
}

// ReportConfig controls report files.
type ReportConfig struct {
	Indent string `json:"indent"`
}

// GraderConfig is the top-level configuration.
type GraderConfig struct {
	Process ProcessConfig         `json:"process"`
	Tools   map[string]ToolConfig `json:"tools"`
	Batch   BatchConfig           `json:"batch"`
	Report  ReportConfig          `json:"report"`
}
