// Package tags manages the machine tags that gate which actions of a
// manifest apply to this host.
package tags

import (
	"bufio"
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"slices"
	"strings"

	"gopkg.in/yaml.v3"
)

// EnvPath overrides the machine file location.
const EnvPath = "CONVERGE_MACHINE"

// Machine is the schema of ~/.config/converge/machine.yaml.
type Machine struct {
	Tags []string `yaml:"tags"`
}

// Path returns $CONVERGE_MACHINE or ~/.config/converge/machine.yaml.
func Path() string {
	if p := os.Getenv(EnvPath); p != "" {
		return p
	}
	home, _ := os.UserHomeDir()
	return filepath.Join(home, ".config", "converge", "machine.yaml")
}

// Load reads the machine file at path. A missing file yields the
// auto-detected tags.
func Load(path string) (*Machine, error) {
	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return &Machine{Tags: AutoDetect()}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read machine file: %w", err)
	}
	var m Machine
	if err := yaml.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("parse machine file %s: %w", path, err)
	}
	return &m, nil
}

// Save writes m to path, creating parent directories.
func Save(path string, m *Machine) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("create config dir: %w", err)
	}
	data, err := yaml.Marshal(m)
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0o644)
}

// Add appends tag to the machine file at path unless already present.
func Add(path, tag string) error {
	m, err := Load(path)
	if err != nil {
		return err
	}
	if slices.Contains(m.Tags, tag) {
		return nil
	}
	m.Tags = append(m.Tags, tag)
	return Save(path, m)
}

// Remove drops tag from the machine file at path.
func Remove(path, tag string) error {
	m, err := Load(path)
	if err != nil {
		return err
	}
	m.Tags = slices.DeleteFunc(m.Tags, func(t string) bool { return t == tag })
	return Save(path, m)
}

var (
	osRelease  = "/etc/os-release"
	vagrantDir = "/vagrant"
)

// AutoDetect returns the baseline tags of this machine: GOOS, GOARCH, the
// hostname, the distribution ID and "vagrant" inside a Vagrant guest.
func AutoDetect() []string {
	tags := []string{runtime.GOOS, runtime.GOARCH}
	if h, err := os.Hostname(); err == nil && h != "" {
		tags = append(tags, h)
	}
	if id := distroID(osRelease); id != "" && !slices.Contains(tags, id) {
		tags = append(tags, id)
	}
	if fi, err := os.Stat(vagrantDir); err == nil && fi.IsDir() {
		tags = append(tags, "vagrant")
	}
	return tags
}

func distroID(path string) string {
	f, err := os.Open(path)
	if err != nil {
		return ""
	}
	defer f.Close()
	sc := bufio.NewScanner(f)
	for sc.Scan() {
		if v, ok := strings.CutPrefix(sc.Text(), "ID="); ok {
			return strings.Trim(v, `"'`)
		}
	}
	return ""
}

// Matches reports whether machine satisfies an action's constraints.
//
//   - If only is non-empty, at least one must be present in machine.
//   - If skip is non-empty, none may be present in machine.
func Matches(machine, only, skip []string) bool {
	for _, t := range skip {
		if slices.Contains(machine, t) {
			return false
		}
	}
	if len(only) == 0 {
		return true
	}
	for _, t := range only {
		if slices.Contains(machine, t) {
			return true
		}
	}
	return false
}
