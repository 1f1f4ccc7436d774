package valgrind

import (
	"context"
	"os/exec"
	"strings"
	"testing"
	"time"

	"github.com/aristath/grader/internal/process"
)

const sampleReport = `<?xml version="1.0"?>
<valgrindoutput>
<protocolversion>4</protocolversion>
<tool>memcheck</tool>
<error>
  <unique>0x0</unique>
  <tid>1</tid>
  <kind>InvalidRead</kind>
  <what>Invalid read of size 4</what>
</error>
<error>
  <unique>0x1</unique>
  <tid>1</tid>
  <kind>Leak_DefinitelyLost</kind>
  <xwhat>
    <text>40 bytes in 1 blocks are definitely lost in loss record 1 of 2</text>
    <leakedbytes>40</leakedbytes>
    <leakedblocks>1</leakedblocks>
  </xwhat>
</error>
<error>
  <unique>0xa</unique>
  <tid>1</tid>
  <kind>Leak_IndirectlyLost</kind>
  <xwhat>
    <text>16 bytes in 2 blocks are indirectly lost</text>
    <leakedbytes>16</leakedbytes>
    <leakedblocks>2</leakedblocks>
  </xwhat>
</error>
<error>
  <unique>0xb</unique>
  <tid>1</tid>
  <kind>Leak_StillReachable</kind>
  <xwhat>
    <text>8 bytes in 1 blocks are still reachable</text>
    <leakedbytes>8</leakedbytes>
    <leakedblocks>1</leakedblocks>
  </xwhat>
</error>
</valgrindoutput>
`

// TestParse_CountsLeaks verifies errors are read and only lost memory is summed
func TestParse_CountsLeaks(t *testing.T) {
	errs, err := Parse(strings.NewReader(sampleReport))
	if err != nil {
		t.Fatalf("Parse failed: %v", err)
	}
	if len(errs) != 4 {
		t.Fatalf("Expected 4 errors, got %d", len(errs))
	}
	if errs[0].What == nil || errs[0].What.Text != "Invalid read of size 4" {
		t.Errorf("Expected what text, got %+v", errs[0].What)
	}
	if errs[2].Unique != 10 {
		t.Errorf("Expected unique 0xa to parse as 10, got %d", errs[2].Unique)
	}
	if errs[1].What.Fields["leakedbytes"] != "40" {
		t.Errorf("Expected xwhat fields, got %+v", errs[1].What)
	}

	report := &Report{Errors: errs}
	blocks, bytes := report.Lost()
	if blocks != 3 || bytes != 56 {
		t.Errorf("Expected 3 blocks and 56 bytes lost, got %d and %d", blocks, bytes)
	}
}

// TestParse_Invalid verifies malformed XML is an error
func TestParse_Invalid(t *testing.T) {
	if _, err := Parse(strings.NewReader("<valgrindoutput><error>")); err == nil {
		t.Error("Expected error for truncated report")
	}
	errs, err := Parse(strings.NewReader("<valgrindoutput></valgrindoutput>"))
	if err != nil || errs == nil || len(errs) != 0 {
		t.Errorf("Expected empty non-nil errors, got %v, %v", errs, err)
	}
}

// TestRun_NoReport verifies a command that writes no XML yields nil errors
func TestRun_NoReport(t *testing.T) {
	report, err := Run(context.Background(), process.NewRunner(process.RunnerConfig{}), []string{"ignored"},
		Options{Command: []string{"true"}})
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	if report.Errors != nil {
		t.Errorf("Expected nil errors without a report, got %v", report.Errors)
	}
	if !report.Runtime.Succeeded() {
		t.Errorf("Expected the command to run, got %s", report.Runtime.Describe())
	}
}

// TestRun_Memcheck verifies a real leak is detected when valgrind is installed
func TestRun_Memcheck(t *testing.T) {
	if _, err := exec.LookPath("valgrind"); err != nil {
		t.Skip("valgrind not installed")
	}
	report, err := Run(context.Background(), process.NewRunner(process.RunnerConfig{}), []string{"true"},
		Options{Options: process.Options{Timeout: 30 * time.Second}})
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	if report.Errors == nil {
		t.Fatalf("Expected a parsed report, runtime: %s", report.Runtime.Describe())
	}
}
