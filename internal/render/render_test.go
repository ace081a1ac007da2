package render

import (
	"errors"
	"io/fs"
	"strings"
	"testing"
	"testing/fstest"
)

func TestString(t *testing.T) {
	tests := []struct {
		name   string
		input  string
		params map[string]any
		want   string
	}{
		{"simple", "hello {{ .name }}", map[string]any{"name": "world"}, "hello world"},
		{"multiple", "{{ .a }} and {{ .b }}", map[string]any{"a": "x", "b": "y"}, "x and y"},
		{"nested", "{{ .vars.home }}/.ssh", map[string]any{"vars": map[string]any{"home": "/home/vagrant"}}, "/home/vagrant/.ssh"},
		{"no template", "plain text", map[string]any{"x": "y"}, "plain text"},
		{"no params plain", "plain", nil, "plain"},
		{"empty", "", nil, ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := String(tt.input, tt.params)
			if err != nil {
				t.Fatal(err)
			}
			if got != tt.want {
				t.Errorf("String(%q) = %q, want %q", tt.input, got, tt.want)
			}
		})
	}
}

func TestStringMissingKey(t *testing.T) {
	_, err := String("val={{ .missing }}", map[string]any{})
	if err == nil {
		t.Fatal("expected error for a missing key")
	}
}

func TestStringInvalidTemplate(t *testing.T) {
	if _, err := String("{{ .bad", nil); err == nil {
		t.Error("expected error for invalid template")
	}
}

func TestRender(t *testing.T) {
	fsys := fstest.MapFS{
		"id_rsa.pub":  {Data: []byte("{{ .keys.gitlab.public }}\n")},
		"ssh_config":  {Data: []byte("Host {{ .fqdn }}\n  StrictHostKeyChecking {{ .trust_local_sshkeys }}\n")},
		"broken.tmpl": {Data: []byte("{{ if }}")},
	}
	r := New(fsys)
	vars := map[string]any{
		"fqdn":                "gitlab.local",
		"trust_local_sshkeys": "no",
		"keys": map[string]any{
			"gitlab": map[string]string{"public": "ssh-rsa AAAA gitlab@host"},
		},
	}

	got, err := r.Render("id_rsa.pub", vars)
	if err != nil {
		t.Fatal(err)
	}
	if string(got) != "ssh-rsa AAAA gitlab@host\n" {
		t.Errorf("id_rsa.pub = %q", got)
	}

	got, err = r.Render("/ssh_config", vars)
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(string(got), "StrictHostKeyChecking no") {
		t.Errorf("ssh_config = %q", got)
	}
}

func TestRenderErrors(t *testing.T) {
	r := New(fstest.MapFS{
		"broken.tmpl": {Data: []byte("{{ if }}")},
		"needs.tmpl":  {Data: []byte("{{ .fqdn }}")},
	})
	tests := []struct {
		name   string
		source string
	}{
		{"missing file", "nope.tmpl"},
		{"parse error", "broken.tmpl"},
		{"missing variable", "needs.tmpl"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := r.Render(tt.source, map[string]any{})
			var terr *TemplateError
			if !errors.As(err, &terr) {
				t.Fatalf("err = %v, want *TemplateError", err)
			}
			if terr.Source != tt.source {
				t.Errorf("Source = %q", terr.Source)
			}
		})
	}

	_, err := r.Render("nope.tmpl", nil)
	if !errors.Is(err, fs.ErrNotExist) {
		t.Errorf("missing file should unwrap to fs.ErrNotExist: %v", err)
	}
}

func TestRenderWithoutFS(t *testing.T) {
	if _, err := (&Renderer{}).Render("x", nil); err == nil {
		t.Error("expected error without a template directory")
	}
}
