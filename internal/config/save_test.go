package config

import (
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func TestSaveCreatesParentDir(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "deep", "config.json")

	if err := Save(DefaultConfig(), path); err != nil {
		t.Fatalf("Save failed: %v", err)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("Config file was not created: %v", err)
	}
	var loaded GraderConfig
	if err := json.Unmarshal(data, &loaded); err != nil {
		t.Fatalf("Config file contains invalid JSON: %v", err)
	}
	if !strings.Contains(string(data), `"kill_grace": "250ms"`) {
		t.Errorf("Expected durations written as strings, got:\n%s", data)
	}
}

func TestSaveRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.json")

	cfg := DefaultConfig()
	cfg.Process.TestTimeout = Duration(2500 * time.Millisecond)
	cfg.Tools[ToolCompiler] = ToolConfig{Command: "clang++", Options: "-O2 -Wall"}
	cfg.Batch.Parallelism = 6
	cfg.Report.Indent = "\t"

	if err := Save(cfg, path); err != nil {
		t.Fatalf("Save failed: %v", err)
	}

	loaded, err := Load(path, "")
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}

	if time.Duration(loaded.Process.TestTimeout) != 2500*time.Millisecond {
		t.Errorf("Test timeout mismatch: got %v", time.Duration(loaded.Process.TestTimeout))
	}
	if loaded.Tools[ToolCompiler].Options != "-O2 -Wall" {
		t.Errorf("Compiler options mismatch: got '%s'", loaded.Tools[ToolCompiler].Options)
	}
	if loaded.Batch.Parallelism != 6 {
		t.Errorf("Parallelism mismatch: got %d", loaded.Batch.Parallelism)
	}
	if loaded.Report.Indent != "\t" {
		t.Errorf("Indent mismatch: got %q", loaded.Report.Indent)
	}
}

func TestSaveOverwritesExisting(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.json")

	first := DefaultConfig()
	first.Tools[ToolMake] = ToolConfig{Command: "first-value"}
	if err := Save(first, path); err != nil {
		t.Fatalf("First save failed: %v", err)
	}

	second := DefaultConfig()
	second.Tools[ToolMake] = ToolConfig{Command: "second-value"}
	if err := Save(second, path); err != nil {
		t.Fatalf("Second save failed: %v", err)
	}

	loaded, err := Load(path, "")
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if loaded.Tools[ToolMake].Command != "second-value" {
		t.Errorf("Expected 'second-value', got '%s'", loaded.Tools[ToolMake].Command)
	}
}

// TestSaveRejectsInvalidConfig verifies nothing is written when a tool's
// options cannot be split.
func TestSaveRejectsInvalidConfig(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.json")

	cfg := DefaultConfig()
	cfg.Tools[ToolCompiler] = ToolConfig{Command: "g++", Options: `-D 'UNTERMINATED`}
	if err := Save(cfg, path); err == nil {
		t.Fatal("Expected error for unparsable options")
	}

	entries, err := os.ReadDir(dir)
	if err != nil {
		t.Fatal(err)
	}
	if len(entries) != 0 {
		t.Errorf("Expected no files to be written, found %d", len(entries))
	}
}
