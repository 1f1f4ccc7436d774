// Package valgrind runs programs under memcheck and reads its XML report.
package valgrind

import (
	"context"
	"encoding/xml"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/aristath/grader/internal/process"
)

// DefaultCommand is the memcheck invocation used when none is configured.
var DefaultCommand = []string{"valgrind", "--tool=memcheck", "--leak-check=yes", "--xml=yes"}

// Leak kinds counted towards lost memory.
var leakKinds = map[string]bool{
	"Leak_DefinitelyLost": true,
	"Leak_IndirectlyLost": true,
	"Leak_PossiblyLost":   true,
}

// What explains an error. For xwhat elements the extra children, such as
// leakedbytes, are kept in Fields.
type What struct {
	Text   string
	Fields map[string]string
}

// Error is one error element of the report.
type Error struct {
	Unique uint64
	TID    int
	Kind   string
	What   *What
}

// Report is the outcome of a memcheck run. Errors is nil when no readable
// XML report was produced.
type Report struct {
	Runtime *process.Runtime
	Errors  []Error
}

// Lost sums the blocks and bytes of every leak error.
func (r *Report) Lost() (blocks, bytes int) {
	for _, e := range r.Errors {
		if !leakKinds[e.Kind] || e.What == nil {
			continue
		}
		b, _ := strconv.Atoi(e.What.Fields["leakedblocks"])
		n, _ := strconv.Atoi(e.What.Fields["leakedbytes"])
		blocks += b
		bytes += n
	}
	return blocks, bytes
}

// Options configures Run.
type Options struct {
	// Command replaces DefaultCommand.
	Command []string
	process.Options
}

// Run executes args under memcheck and parses the report it writes.
func Run(ctx context.Context, runner *process.Runner, args []string, opts Options) (*Report, error) {
	dir, err := os.MkdirTemp("", "valgrind")
	if err != nil {
		return nil, fmt.Errorf("failed to create report directory: %w", err)
	}
	defer os.RemoveAll(dir)
	xmlFile := filepath.Join(dir, "valgrind.xml")

	command := opts.Command
	if len(command) == 0 {
		command = DefaultCommand
	}
	full := make([]string, 0, len(command)+len(args)+1)
	full = append(full, command...)
	full = append(full, "--xml-file="+xmlFile)
	full = append(full, args...)

	report := &Report{Runtime: runner.Run(ctx, full, opts.Options)}
	f, err := os.Open(xmlFile)
	if errors.Is(err, os.ErrNotExist) {
		return report, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to open report: %w", err)
	}
	defer f.Close()

	report.Errors, err = Parse(f)
	if err != nil {
		report.Errors = nil
	}
	return report, nil
}

type xmlWhat struct {
	Text     string       `xml:",chardata"`
	Children []xmlElement `xml:",any"`
}

type xmlElement struct {
	XMLName xml.Name
	Text    string `xml:",chardata"`
}

type xmlError struct {
	Unique string   `xml:"unique"`
	TID    int      `xml:"tid"`
	Kind   string   `xml:"kind"`
	What   *xmlWhat `xml:"what"`
	XWhat  *xmlWhat `xml:"xwhat"`
}

type xmlOutput struct {
	Errors []xmlError `xml:"error"`
}

// Parse reads the error elements of a memcheck XML report. A report
// without errors yields an empty, non-nil slice.
func Parse(r io.Reader) ([]Error, error) {
	var out xmlOutput
	if err := xml.NewDecoder(r).Decode(&out); err != nil {
		return nil, fmt.Errorf("failed to parse valgrind report: %w", err)
	}
	errs := make([]Error, 0, len(out.Errors))
	for _, x := range out.Errors {
		unique, _ := strconv.ParseUint(strings.TrimPrefix(x.Unique, "0x"), 16, 64)
		e := Error{Unique: unique, TID: x.TID, Kind: x.Kind}
		switch {
		case x.What != nil:
			e.What = &What{Text: strings.TrimSpace(x.What.Text)}
		case x.XWhat != nil:
			e.What = &What{Fields: make(map[string]string)}
			for _, c := range x.XWhat.Children {
				if c.XMLName.Local == "text" {
					e.What.Text = strings.TrimSpace(c.Text)
					continue
				}
				e.What.Fields[c.XMLName.Local] = strings.TrimSpace(c.Text)
			}
		}
		errs = append(errs, e)
	}
	return errs, nil
}
