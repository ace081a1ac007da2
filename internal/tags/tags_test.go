package tags

import (
	"os"
	"path/filepath"
	"runtime"
	"slices"
	"testing"
)

func TestMatches(t *testing.T) {
	tests := []struct {
		name    string
		machine []string
		only    []string
		skip    []string
		want    bool
	}{
		{"no constraints", []string{"linux", "amd64"}, nil, nil, true},
		{"only match", []string{"linux", "amd64"}, []string{"linux"}, nil, true},
		{"only no match", []string{"darwin", "amd64"}, []string{"linux"}, nil, false},
		{"skip match", []string{"linux", "vagrant"}, nil, []string{"vagrant"}, false},
		{"skip no match", []string{"linux", "amd64"}, nil, []string{"vagrant"}, true},
		{"only and skip both match", []string{"linux", "ci"}, []string{"linux"}, []string{"ci"}, false},
		{"empty machine tags", []string{}, []string{"linux"}, nil, false},
		{"empty machine no constraints", []string{}, nil, nil, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := Matches(tt.machine, tt.only, tt.skip); got != tt.want {
				t.Errorf("Matches(%v, %v, %v) = %v, want %v", tt.machine, tt.only, tt.skip, got, tt.want)
			}
		})
	}
}

func TestAutoDetect(t *testing.T) {
	dir := t.TempDir()
	release := filepath.Join(dir, "os-release")
	os.WriteFile(release, []byte("NAME=\"Ubuntu\"\nID=ubuntu\nVERSION_ID=\"22.04\"\n"), 0o644)
	oldRelease, oldVagrant := osRelease, vagrantDir
	osRelease, vagrantDir = release, dir
	t.Cleanup(func() { osRelease, vagrantDir = oldRelease, oldVagrant })

	detected := AutoDetect()
	if detected[0] != runtime.GOOS || detected[1] != runtime.GOARCH {
		t.Errorf("AutoDetect() = %v, want GOOS and GOARCH first", detected)
	}
	if !slices.Contains(detected, "ubuntu") {
		t.Errorf("AutoDetect() = %v, missing distro id", detected)
	}
	if !slices.Contains(detected, "vagrant") {
		t.Errorf("AutoDetect() = %v, missing vagrant", detected)
	}
}

func TestPathOverride(t *testing.T) {
	t.Setenv(EnvPath, "/tmp/machine.yaml")
	if got := Path(); got != "/tmp/machine.yaml" {
		t.Errorf("Path() = %q", got)
	}
	t.Setenv(EnvPath, "")
	if filepath.Base(Path()) != "machine.yaml" {
		t.Errorf("Path() = %q", Path())
	}
}

func TestLoadMissingAutoDetects(t *testing.T) {
	m, err := Load(filepath.Join(t.TempDir(), "absent.yaml"))
	if err != nil {
		t.Fatal(err)
	}
	if len(m.Tags) < 2 {
		t.Errorf("Tags = %v", m.Tags)
	}
}

func TestAddRemove(t *testing.T) {
	path := filepath.Join(t.TempDir(), "conf", "machine.yaml")
	if err := Save(path, &Machine{Tags: []string{"linux"}}); err != nil {
		t.Fatal(err)
	}
	if err := Add(path, "gitlab"); err != nil {
		t.Fatal(err)
	}
	if err := Add(path, "gitlab"); err != nil {
		t.Fatal(err)
	}
	m, _ := Load(path)
	if !slices.Equal(m.Tags, []string{"linux", "gitlab"}) {
		t.Errorf("after Add: %v", m.Tags)
	}
	if err := Remove(path, "linux"); err != nil {
		t.Fatal(err)
	}
	m, _ = Load(path)
	if !slices.Equal(m.Tags, []string{"gitlab"}) {
		t.Errorf("after Remove: %v", m.Tags)
	}
}

func TestLoadInvalid(t *testing.T) {
	path := filepath.Join(t.TempDir(), "machine.yaml")
	os.WriteFile(path, []byte("tags: [unclosed"), 0o644)
	if _, err := Load(path); err == nil {
		t.Error("expected parse error")
	}
}
