package server

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"go.uber.org/zap/zaptest"

	"github.com/aristath/grader/internal/manager"
	"github.com/aristath/grader/internal/metrics"
)

const definition = `
tasks:
  - name: check_answer
    stage: setup
    kind: generic
    command: test -f answer.txt
`

func newServer(t *testing.T, cfg Config) (*Server, string) {
	t.Helper()
	artifact := t.TempDir()
	write := func(path, content string) {
		if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
			t.Fatalf("Failed to create directory: %v", err)
		}
		if err := os.WriteFile(path, []byte(content), 0644); err != nil {
			t.Fatalf("Failed to write %s: %v", path, err)
		}
	}
	write(filepath.Join(artifact, manager.SchemaFile),
		`{"problems": {"answer": {}, "broken": {}}, "automated": ["answer", "broken"]}`)
	write(filepath.Join(artifact, "answer", "grader.yaml"), definition)

	target := filepath.Join(t.TempDir(), "alice")
	write(filepath.Join(target, "answer", "answer.txt"), "42\n")

	reg := metrics.NewRegistry()
	m, err := manager.Load(artifact, manager.Config{Metrics: metrics.New(reg)})
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	cfg.Logger = zaptest.NewLogger(t)
	if cfg.Gatherer == nil {
		cfg.Gatherer = reg
	}
	return New(m, cfg), target
}

func postGrade(t *testing.T, s *Server, body string, header http.Header) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodPost, "/grade", bytes.NewBufferString(body))
	req.Header.Set("Content-Type", "application/json")
	for k, v := range header {
		req.Header[k] = v
	}
	w := httptest.NewRecorder()
	s.Handler().ServeHTTP(w, req)
	return w
}

// TestProblems verifies loaded and excluded problems are listed
func TestProblems(t *testing.T) {
	s, _ := newServer(t, Config{})
	w := httptest.NewRecorder()
	s.Handler().ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/problems", nil))

	if w.Code != http.StatusOK {
		t.Fatalf("Expected status 200, got %d", w.Code)
	}
	var resp problemsResponse
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("Failed to decode response: %v", err)
	}
	if len(resp.Problems) != 1 || resp.Problems[0] != "answer" {
		t.Errorf("Expected problems [answer], got %v", resp.Problems)
	}
	if !strings.Contains(resp.Excluded["broken"], "grader.yaml") {
		t.Errorf("Expected broken to be excluded for its missing definition, got %v", resp.Excluded)
	}
}

// TestGrade verifies a grading request returns the report and statistics
func TestGrade(t *testing.T) {
	s, target := newServer(t, Config{})

	tests := []struct {
		name       string
		body       string
		wantStatus int
		wantBody   string
	}{
		{"graded", `{"target": "` + target + `"}`, http.StatusOK, `"check_answer":{"complete":true,"passing":true`},
		{"missing target field", `{}`, http.StatusBadRequest, "no target provided"},
		{"malformed body", `{`, http.StatusBadRequest, ""},
		{"target does not exist", `{"target": "/nonexistent/bob"}`, http.StatusUnprocessableEntity, `"error":"target:`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := postGrade(t, s, tt.body, nil)
			if w.Code != tt.wantStatus {
				t.Fatalf("Expected status %d, got %d: %s", tt.wantStatus, w.Code, w.Body.String())
			}
			if !strings.Contains(w.Body.String(), tt.wantBody) {
				t.Errorf("Expected body to contain %q, got %s", tt.wantBody, w.Body.String())
			}
		})
	}
}

// TestGradeAuth verifies the bearer token guards grading but not metrics
func TestGradeAuth(t *testing.T) {
	s, target := newServer(t, Config{AuthToken: "secret"})
	body := `{"target": "` + target + `"}`

	if w := postGrade(t, s, body, nil); w.Code != http.StatusUnauthorized {
		t.Errorf("Expected 401 without token, got %d", w.Code)
	}
	if w := postGrade(t, s, body, http.Header{"Authorization": {"Bearer secret"}}); w.Code != http.StatusOK {
		t.Errorf("Expected 200 with token, got %d", w.Code)
	}

	w := httptest.NewRecorder()
	s.Handler().ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	if w.Code != http.StatusOK {
		t.Fatalf("Expected metrics without token, got %d", w.Code)
	}
	if !strings.Contains(w.Body.String(), `grader_submissions_total{outcome="graded"} 1`) {
		t.Errorf("Expected one graded submission in metrics, got:\n%s", w.Body.String())
	}
}
