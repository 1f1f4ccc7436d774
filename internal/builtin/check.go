package builtin

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"

	"github.com/aristath/grader/internal/grade"
)

// CheckFileExists passes when any of paths exists.
func CheckFileExists(paths ...string) *grade.Result {
	for _, path := range paths {
		if _, err := os.Stat(path); err == nil {
			return grade.Pass(grade.CheckDetails{})
		}
	}
	name := ""
	if len(paths) > 0 {
		name = filepath.Base(paths[0])
	}
	return grade.Failf(grade.CheckDetails{}, "can't find %s", name)
}

// CheckMakefileExists passes when dir contains a makefile or Makefile.
func CheckMakefileExists(dir string) *grade.Result {
	return CheckFileExists(filepath.Join(dir, "Makefile"), filepath.Join(dir, "makefile"))
}

// ErrAmbiguous is returned by SearchFileByName when several files match.
var ErrAmbiguous = errors.New("more than one file matches")

// SearchFileByName finds the single file called name below root.
func SearchFileByName(name, root string) (string, error) {
	var found []string
	err := filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if !d.IsDir() && d.Name() == name {
			found = append(found, path)
		}
		return nil
	})
	if err != nil {
		return "", err
	}
	switch len(found) {
	case 0:
		return "", fmt.Errorf("%s: %w", name, fs.ErrNotExist)
	case 1:
		return found[0], nil
	}
	return "", fmt.Errorf("%s: %w", name, ErrAmbiguous)
}

// CheckFile returns a task that checks file exists in the submission and,
// when resource is set, publishes its absolute path under that name. With
// search set the file may live anywhere below the problem directory.
func CheckFile(file, resource string, search bool) grade.TaskSpec {
	return grade.TaskSpec{
		Description: "check that " + file + " exists",
		Params:      params(),
		Run: func(a grade.Args) *grade.Result {
			e := envOf(a)
			path := e.context.SubmissionFile(file)
			if search {
				found, err := SearchFileByName(filepath.Base(file), e.context.ProblemPath)
				if err != nil {
					return grade.Failf(grade.CheckDetails{}, "can't find %s", filepath.Base(file))
				}
				path = found
			}
			result := CheckFileExists(path)
			if result.Passing && resource != "" {
				e.resources.Set(resource, path)
			}
			return result
		},
	}
}

// CheckMakefile returns a task that checks the problem directory has a
// makefile.
func CheckMakefile() grade.TaskSpec {
	return grade.TaskSpec{
		Description: "check that a makefile exists",
		Params:      params(),
		Run: func(a grade.Args) *grade.Result {
			return CheckMakefileExists(envOf(a).context.ProblemPath)
		},
	}
}
