package manager

import (
	"bytes"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/aristath/grader/internal/grade"
)

// ReportSuffix ends every report file name.
const ReportSuffix = ".report.json"

// ReportName returns the report file name for a submission directory.
func ReportName(target string) string {
	return filepath.Base(filepath.Clean(target)) + ReportSuffix
}

// TargetName recovers the submission name from a report file name.
func TargetName(reportPath string) string {
	return strings.TrimSuffix(filepath.Base(reportPath), ReportSuffix)
}

// WriteReport writes an assignment report as indented JSON, creating the
// parent directory if needed.
func WriteReport(path string, r *grade.AssignmentReport, indent string) error {
	data, err := json.Marshal(r)
	if err != nil {
		return fmt.Errorf("marshaling report: %w", err)
	}
	var buf bytes.Buffer
	if err := json.Indent(&buf, data, "", indent); err != nil {
		return fmt.Errorf("indenting report: %w", err)
	}
	buf.WriteByte('\n')

	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("creating directory %s: %w", dir, err)
	}
	if err := os.WriteFile(path, buf.Bytes(), 0644); err != nil {
		return fmt.Errorf("writing report to %s: %w", path, err)
	}
	return nil
}

// ReadReport loads a report written by WriteReport.
func ReadReport(path string) (*grade.AssignmentReport, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	r := grade.NewAssignmentReport()
	if err := json.Unmarshal(data, r); err != nil {
		return nil, fmt.Errorf("parsing %s: %w", path, err)
	}
	return r, nil
}
