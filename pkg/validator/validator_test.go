package validator

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func writeFlow(t *testing.T, dir, name, content string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestValidate_SingleFile(t *testing.T) {
	dir := t.TempDir()
	file := writeFlow(t, dir, "test.yaml", `
app: Mail
---
- Click on the Gmail link
- Press Compose
`)

	result := New(nil, nil).Validate(file)

	if !result.IsValid() {
		t.Errorf("expected valid result, got errors: %v", result.Errors)
	}
	if len(result.Flows) != 1 || len(result.Flows[0].Commands) != 2 {
		t.Fatalf("expected 1 flow with 2 commands, got %+v", result.Flows)
	}
	if len(result.Warnings) != 0 {
		t.Errorf("expected no warnings, got %v", result.Warnings)
	}
	if files := result.Files(); len(files) != 1 || files[0] != file {
		t.Errorf("Files() = %v", files)
	}
}

func TestValidate_Directory(t *testing.T) {
	dir := t.TempDir()
	writeFlow(t, dir, "flow1.yaml", "- click Button1\n")
	writeFlow(t, dir, "nested/flow2.yml", "- click Button2\n")
	writeFlow(t, dir, "notes.txt", "not a flow")

	result := New(nil, nil, WithDefaultApp("Mail")).Validate(dir)

	if !result.IsValid() {
		t.Errorf("expected valid result, got errors: %v", result.Errors)
	}
	if len(result.Flows) != 2 {
		t.Errorf("expected 2 flows, got %d", len(result.Flows))
	}
}

func TestValidate_CollectsAllErrors(t *testing.T) {
	dir := t.TempDir()
	writeFlow(t, dir, "a_bad.yaml", "- click A\n- [not, a, command]\n")
	writeFlow(t, dir, "b_empty.yaml", "app: Mail\n---\n")
	writeFlow(t, dir, "c_good.yaml", "- click C\n")

	result := New(nil, nil).Validate(dir)

	if result.IsValid() {
		t.Fatal("expected errors")
	}
	if len(result.Errors) != 2 {
		t.Errorf("expected one error per broken file, got %v", result.Errors)
	}
	if len(result.Flows) != 1 {
		t.Errorf("expected the good flow to survive, got %d flows", len(result.Flows))
	}

	var ve *ValidationError
	if !errors.As(result.Errors[0], &ve) || ve.Line == 0 {
		t.Errorf("expected a line number on the parse error, got %v", result.Errors[0])
	}
	if err := result.Err(); err == nil || !strings.Contains(err.Error(), "a_bad.yaml") {
		t.Errorf("Err() = %v", err)
	}
}

func TestValidate_MissingPath(t *testing.T) {
	result := New(nil, nil).Validate(filepath.Join(t.TempDir(), "missing.yaml"))
	if result.IsValid() {
		t.Fatal("expected error for missing path")
	}
	if !strings.Contains(result.Errors[0].Error(), "cannot access") {
		t.Errorf("unexpected error: %v", result.Errors[0])
	}
}

func TestValidate_DuplicateCommandIDs(t *testing.T) {
	dir := t.TempDir()
	first := writeFlow(t, dir, "first.yaml", "- id: save\n  text: click Save\n")
	second := writeFlow(t, dir, "second.yaml", "- click Open\n- id: save\n  text: click Save As\n")

	result := New(nil, nil, WithDefaultApp("Editor")).Validate(first, second)

	if len(result.Errors) != 1 {
		t.Fatalf("expected one duplicate error, got %v", result.Errors)
	}
	var ve *ValidationError
	if !errors.As(result.Errors[0], &ve) {
		t.Fatalf("expected *ValidationError, got %T", result.Errors[0])
	}
	if ve.File != second || ve.Command != 2 || !strings.Contains(ve.Message, first) {
		t.Errorf("unexpected error %+v", ve)
	}
	if len(result.Flows) != 1 {
		t.Errorf("expected only the first flow to be accepted, got %d", len(result.Flows))
	}
}

func TestValidate_SamePathOnce(t *testing.T) {
	dir := t.TempDir()
	file := writeFlow(t, dir, "flow.yaml", "- id: only\n  text: click Save\n")

	result := New(nil, nil).Validate(file, dir, dir+"/./flow.yaml")
	if !result.IsValid() || len(result.Flows) != 1 {
		t.Errorf("expected the file once, got %d flows and %v", len(result.Flows), result.Errors)
	}
}

func TestValidate_TagFilters(t *testing.T) {
	dir := t.TempDir()
	writeFlow(t, dir, "smoke.yaml", "tags: [smoke]\n---\n- click A\n")
	writeFlow(t, dir, "slow.yaml", "tags: [smoke, slow]\n---\n- click B\n")
	writeFlow(t, dir, "plain.yaml", "- click C\n")

	tests := []struct {
		name    string
		include []string
		exclude []string
		want    int
	}{
		{"no filters", nil, nil, 3},
		{"include", []string{"smoke"}, nil, 2},
		{"exclude", nil, []string{"slow"}, 2},
		{"both", []string{"smoke"}, []string{"slow"}, 1},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result := New(tt.include, tt.exclude).Validate(dir)
			if len(result.Flows) != tt.want {
				t.Errorf("got %d flows, want %d", len(result.Flows), tt.want)
			}
		})
	}
}

func TestValidate_Warnings(t *testing.T) {
	dir := t.TempDir()
	file := writeFlow(t, dir, "flow.yaml", "- Gmail\n- click Save\n")

	result := New(nil, nil).Validate(file)
	if !result.IsValid() {
		t.Fatalf("warnings must not block, got %v", result.Errors)
	}
	var verb, app int
	for _, w := range result.Warnings {
		switch {
		case strings.Contains(w.Error(), "no action verb"):
			verb++
		case strings.Contains(w.Error(), "no app"):
			app++
		}
	}
	if verb != 1 || app != 2 {
		t.Errorf("expected 1 verb and 2 app warnings, got %v", result.Warnings)
	}

	result = New(nil, nil, WithDefaultApp("Mail")).Validate(file)
	if len(result.Warnings) != 1 {
		t.Errorf("expected default app to silence app warnings, got %v", result.Warnings)
	}
}

func TestValidationError_Error(t *testing.T) {
	tests := []struct {
		err  ValidationError
		want string
	}{
		{ValidationError{File: "a.yaml", Message: "boom"}, "a.yaml: boom"},
		{ValidationError{File: "a.yaml", Line: 3, Message: "boom"}, "a.yaml:3: boom"},
		{ValidationError{File: "a.yaml", Command: 2, Message: "boom"}, "a.yaml: command 2: boom"},
	}
	for _, tt := range tests {
		if got := tt.err.Error(); got != tt.want {
			t.Errorf("Error() = %q, want %q", got, tt.want)
		}
	}
}
