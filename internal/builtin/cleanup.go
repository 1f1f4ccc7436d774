package builtin

import (
	"errors"
	"io/fs"
	"os"

	"github.com/aristath/grader/internal/grade"
)

// DeleteFiles removes paths. Files that are already gone are not an error.
func DeleteFiles(paths ...string) *grade.Result {
	var removed []string
	var errs []error
	for _, path := range paths {
		err := os.RemoveAll(path)
		switch {
		case err == nil:
			removed = append(removed, path)
		case !errors.Is(err, fs.ErrNotExist):
			errs = append(errs, err)
		}
	}
	details := grade.CleanupDetails{Removed: removed}
	if err := errors.Join(errs...); err != nil {
		return grade.Fail(details, &grade.Error{Description: "failed to clean up", Traceback: err.Error()})
	}
	return grade.Pass(details)
}

// Cleanup returns a teardown task deleting files relative to the problem
// directory.
func Cleanup(files ...string) grade.TaskSpec {
	return grade.TaskSpec{
		Description: "remove build products",
		Params:      params(),
		Run: func(a grade.Args) *grade.Result {
			c := envOf(a).context
			paths := make([]string, len(files))
			for i, f := range files {
				paths[i] = c.SubmissionFile(f)
			}
			return DeleteFiles(paths...)
		},
	}
}
