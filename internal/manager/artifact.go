package manager

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"slices"
)

// SchemaFile is the grading schema at the root of an artifact.
const SchemaFile = "grading.json"

// ArtifactError reports a grading artifact that cannot be used at all.
type ArtifactError struct {
	Path string
	Err  error
}

func (e *ArtifactError) Error() string {
	return fmt.Sprintf("grading artifact %s: %v", e.Path, e.Err)
}

func (e *ArtifactError) Unwrap() error { return e.Err }

// TaskInfo describes a task as listed in the schema.
type TaskInfo struct {
	Name        string `json:"name"`
	Stage       string `json:"stage"`
	Kind        string `json:"kind"`
	Description string `json:"description,omitempty"`
}

// Problem is one problem of the assignment.
type Problem struct {
	Short     string     `json:"-"`
	Directory string     `json:"directory"`
	Weight    float64    `json:"weight"`
	Points    float64    `json:"points"`
	Tasks     []TaskInfo `json:"tasks"`
}

// Task looks up a listed task by name.
func (p *Problem) Task(name string) (TaskInfo, bool) {
	i := slices.IndexFunc(p.Tasks, func(t TaskInfo) bool { return t.Name == name })
	if i < 0 {
		return TaskInfo{}, false
	}
	return p.Tasks[i], true
}

// Schema is the decoded grading.json. Problems keep document order.
type Schema struct {
	Problems  []*Problem
	Automated []string
}

// Problem looks up a problem by short name.
func (s *Schema) Problem(short string) (*Problem, bool) {
	i := slices.IndexFunc(s.Problems, func(p *Problem) bool { return p.Short == short })
	if i < 0 {
		return nil, false
	}
	return s.Problems[i], true
}

// ReadSchema loads grading.json from the artifact directory.
func ReadSchema(artifactPath string) (*Schema, error) {
	path := filepath.Join(artifactPath, SchemaFile)
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, &ArtifactError{Path: artifactPath, Err: err}
	}
	s, err := ParseSchema(data)
	if err != nil {
		return nil, &ArtifactError{Path: artifactPath, Err: fmt.Errorf("parsing %s: %w", SchemaFile, err)}
	}
	return s, nil
}

// ParseSchema decodes a grading schema.
func ParseSchema(data []byte) (*Schema, error) {
	var raw struct {
		Problems  json.RawMessage `json:"problems"`
		Automated []string        `json:"automated"`
	}
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, err
	}
	if len(raw.Problems) == 0 {
		return nil, errors.New("no problems listed")
	}

	s := &Schema{Automated: raw.Automated}
	dec := json.NewDecoder(bytes.NewReader(raw.Problems))
	if tok, err := dec.Token(); err != nil || tok != json.Delim('{') {
		return nil, errors.New("problems must be an object")
	}
	for dec.More() {
		tok, err := dec.Token()
		if err != nil {
			return nil, err
		}
		short, _ := tok.(string)
		p := &Problem{}
		if err := dec.Decode(p); err != nil {
			return nil, fmt.Errorf("problem %q: %w", short, err)
		}
		p.Short = short
		if p.Directory == "" {
			p.Directory = short
		}
		s.Problems = append(s.Problems, p)
	}

	for _, short := range s.Automated {
		if _, ok := s.Problem(short); !ok {
			return nil, fmt.Errorf("automated problem %q is not listed in problems", short)
		}
	}
	return s, nil
}
