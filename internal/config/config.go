// Package config loads converge manifests. A manifest is YAML, or JSON with
// comments when the file ends in .json or .jsonc.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/tidwall/jsonc"
	"gopkg.in/yaml.v3"
)

// Manifest is the parsed top level of a manifest file.
type Manifest struct {
	// Vars is the template data shared by every action and template.
	Vars        map[string]any    `yaml:"vars"`
	Keypairs    []Keypair         `yaml:"keypairs"`
	Secrets     map[string]Source `yaml:"secrets"`
	SecretsFile string            `yaml:"secrets_file"`
	// Templates is the template directory, relative to the manifest.
	Templates string `yaml:"templates"`
	Actions   []Item `yaml:"actions"`

	// Path is the file the manifest was read from.
	Path string `yaml:"-"`
}

// Keypair declares an SSH keypair available to templates as
// .keys.<name>.public and .keys.<name>.private.
type Keypair struct {
	Name      string `yaml:"name"`
	Algorithm string `yaml:"algorithm"` // rsa | ed25519
	Bits      int    `yaml:"bits"`
	Comment   string `yaml:"comment"`
	// LoadFrom is a private key path reused when it already exists.
	LoadFrom string `yaml:"load_from"`
}

// Source says where a named secret comes from. Exactly one field is set.
type Source struct {
	Generate int    `yaml:"generate"` // random bytes
	Env      string `yaml:"env"`
}

// Load reads and parses the manifest at path.
func Load(path string) (*Manifest, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	m, err := Parse(data, filepath.Ext(path))
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	m.Path = path
	return m, nil
}

// Parse decodes a manifest. ext selects the syntax: ".json" and ".jsonc"
// are JSON with comments, anything else is YAML.
func Parse(data []byte, ext string) (*Manifest, error) {
	switch strings.ToLower(ext) {
	case ".json", ".jsonc":
		data = jsonc.ToJSON(data)
	}
	var m Manifest
	if err := yaml.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("parse manifest: %w", err)
	}
	for name, src := range m.Secrets {
		if (src.Generate > 0) == (src.Env != "") {
			return nil, fmt.Errorf("secret %q: set exactly one of generate or env", name)
		}
	}
	for i, kp := range m.Keypairs {
		if kp.Name == "" {
			return nil, fmt.Errorf("keypairs[%d]: name is required", i)
		}
	}
	return &m, nil
}

// Dir is the directory relative paths in the manifest resolve against.
func (m *Manifest) Dir() string {
	if m.Path == "" {
		return "."
	}
	return filepath.Dir(m.Path)
}

// TemplateDir returns the template directory, "templates" next to the
// manifest by default.
func (m *Manifest) TemplateDir() string {
	return m.resolve(m.Templates, "templates")
}

func (m *Manifest) resolve(p, def string) string {
	if p == "" {
		p = def
	}
	if filepath.IsAbs(p) {
		return p
	}
	return filepath.Join(m.Dir(), p)
}
