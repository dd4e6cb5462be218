// Package validator validates flow files before execution.
// It parses all files upfront and reports every problem at once, so a run
// never stops halfway on a broken file.
package validator

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/devicelab-dev/axrunner/pkg/cache"
	"github.com/devicelab-dev/axrunner/pkg/core"
	"github.com/devicelab-dev/axrunner/pkg/extract"
	"github.com/devicelab-dev/axrunner/pkg/flow"
)

// ValidationError represents a validation error with context.
type ValidationError struct {
	File    string
	Line    int // 0 when unknown
	Command int // 1-based command position, 0 for file-level problems
	Message string
}

func (e *ValidationError) Error() string {
	switch {
	case e.Line > 0:
		return fmt.Sprintf("%s:%d: %s", e.File, e.Line, e.Message)
	case e.Command > 0:
		return fmt.Sprintf("%s: command %d: %s", e.File, e.Command, e.Message)
	}
	return fmt.Sprintf("%s: %s", e.File, e.Message)
}

// Result contains the validation result.
type Result struct {
	// Flows are the parsed flows that passed the tag filters, in order.
	Flows []*flow.Flow
	// Errors block execution.
	Errors []error
	// Warnings are reported but do not block execution.
	Warnings []error
}

// IsValid returns true if there are no validation errors.
func (r *Result) IsValid() bool {
	return len(r.Errors) == 0
}

// Err joins all errors, or returns nil.
func (r *Result) Err() error {
	return errors.Join(r.Errors...)
}

// Files returns the source paths of the accepted flows.
func (r *Result) Files() []string {
	files := make([]string, len(r.Flows))
	for i, f := range r.Flows {
		files[i] = f.SourcePath
	}
	return files
}

// Validator validates flow files.
type Validator struct {
	includeTags []string
	excludeTags []string
	defaultApp  string
	extractor   *extract.Extractor
}

// Option configures a Validator.
type Option func(*Validator)

// WithDefaultApp sets the app commands fall back to. Without one, commands
// with no app of their own are warned about.
func WithDefaultApp(app string) Option {
	return func(v *Validator) { v.defaultApp = app }
}

// WithExtractor reuses an extractor, so validation warms its cache.
func WithExtractor(e *extract.Extractor) Option {
	return func(v *Validator) { v.extractor = e }
}

// New creates a new Validator.
func New(includeTags, excludeTags []string, opts ...Option) *Validator {
	v := &Validator{
		includeTags: includeTags,
		excludeTags: excludeTags,
	}
	for _, opt := range opts {
		opt(v)
	}
	if v.extractor == nil {
		v.extractor = extract.New(cache.DefaultConfig, nil)
	}
	return v
}

// Validate validates files and directories together, so duplicate command
// IDs are detected across all of them.
func (v *Validator) Validate(paths ...string) *Result {
	result := &Result{}
	seenFiles := make(map[string]bool)
	ids := make(map[string]string) // command ID -> file

	for _, path := range paths {
		info, err := os.Stat(path)
		if err != nil {
			result.Errors = append(result.Errors, &ValidationError{
				File:    path,
				Message: fmt.Sprintf("cannot access: %v", err),
			})
			continue
		}

		files := []string{path}
		if info.IsDir() {
			files, err = collectFlowFiles(path)
			if err != nil {
				result.Errors = append(result.Errors, &ValidationError{
					File:    path,
					Message: fmt.Sprintf("failed to scan directory: %v", err),
				})
				continue
			}
		}

		for _, file := range files {
			clean := filepath.Clean(file)
			if seenFiles[clean] {
				continue
			}
			seenFiles[clean] = true
			v.validateFile(clean, result, ids)
		}
	}
	return result
}

// collectFlowFiles finds all .yaml/.yml files in a directory.
func collectFlowFiles(dir string) ([]string, error) {
	var files []string

	err := filepath.Walk(dir, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			return err
		}
		if info.IsDir() {
			return nil
		}
		ext := strings.ToLower(filepath.Ext(path))
		if ext == ".yaml" || ext == ".yml" {
			files = append(files, path)
		}
		return nil
	})

	return files, err
}

func (v *Validator) validateFile(filePath string, result *Result, ids map[string]string) {
	f, err := flow.ParseFile(filePath)
	if err != nil {
		ve := &ValidationError{File: filePath, Message: fmt.Sprintf("parse error: %v", err)}
		var pe *flow.ParseError
		if errors.As(err, &pe) {
			ve.Line = pe.Line
			ve.Message = pe.Message
		}
		result.Errors = append(result.Errors, ve)
		return
	}

	if !flow.ShouldIncludeFlow(f, v.includeTags, v.excludeTags) {
		return
	}

	valid := true
	for i, cmd := range f.Commands {
		pos := i + 1
		if prev, ok := ids[cmd.ID]; ok {
			result.Errors = append(result.Errors, &ValidationError{
				File:    filePath,
				Command: pos,
				Message: fmt.Sprintf("duplicate command id %q (first used in %s)", cmd.ID, prev),
			})
			valid = false
		} else {
			ids[cmd.ID] = filePath
		}

		ext := v.extractor.Extract(cmd.Text)
		if ext.Target == "" {
			result.Errors = append(result.Errors, &ValidationError{
				File:    filePath,
				Command: pos,
				Message: fmt.Sprintf("no target in %q", cmd.Text),
			})
			valid = false
		}
		if ext.Action == core.ActionUnknown {
			result.Warnings = append(result.Warnings, &ValidationError{
				File:    filePath,
				Command: pos,
				Message: fmt.Sprintf("no action verb in %q", cmd.Text),
			})
		}
		if cmd.App == "" && v.defaultApp == "" {
			result.Warnings = append(result.Warnings, &ValidationError{
				File:    filePath,
				Command: pos,
				Message: "no app set on the command, flow, or workspace",
			})
		}
	}

	if valid {
		result.Flows = append(result.Flows, f)
	}
}
