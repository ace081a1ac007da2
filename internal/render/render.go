// Package render executes Go templates: named template files for template
// specs and inline strings for manifest values. Missing keys are errors so a
// typo never renders "<no value>" into a config file.
package render

import (
	"bytes"
	"fmt"
	"io/fs"
	"strings"
	"text/template"
)

// TemplateError reports a template that could not be loaded, parsed or
// executed.
type TemplateError struct {
	Source string
	Err    error
}

func (e *TemplateError) Error() string {
	return fmt.Sprintf("template %s: %v", e.Source, e.Err)
}

func (e *TemplateError) Unwrap() error { return e.Err }

// Renderer renders template files from a filesystem.
type Renderer struct {
	FS fs.FS
}

// New returns a Renderer reading templates from fsys.
func New(fsys fs.FS) *Renderer {
	return &Renderer{FS: fsys}
}

// Render executes the template named source with vars as its data.
func (r *Renderer) Render(source string, vars map[string]any) ([]byte, error) {
	if r.FS == nil {
		return nil, &TemplateError{Source: source, Err: fmt.Errorf("no template directory configured")}
	}
	name := strings.TrimPrefix(source, "/")
	raw, err := fs.ReadFile(r.FS, name)
	if err != nil {
		return nil, &TemplateError{Source: source, Err: err}
	}
	out, err := execute(source, string(raw), vars)
	if err != nil {
		return nil, &TemplateError{Source: source, Err: err}
	}
	return out, nil
}

// String renders the inline template s. Strings without actions are
// returned unchanged.
func String(s string, vars map[string]any) (string, error) {
	if !strings.Contains(s, "{{") {
		return s, nil
	}
	out, err := execute("inline", s, vars)
	if err != nil {
		return "", fmt.Errorf("render %q: %w", s, err)
	}
	return string(out), nil
}

func execute(name, text string, vars map[string]any) ([]byte, error) {
	t, err := template.New(name).Option("missingkey=error").Parse(text)
	if err != nil {
		return nil, fmt.Errorf("parse: %w", err)
	}
	var buf bytes.Buffer
	if err := t.Execute(&buf, vars); err != nil {
		return nil, fmt.Errorf("execute: %w", err)
	}
	return buf.Bytes(), nil
}
