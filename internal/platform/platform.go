package platform

import (
	"os"
	"os/exec"
	"path/filepath"
	"runtime"
	"strings"
)

// Current returns the runtime.GOOS value ("darwin", "linux", …).
func Current() string {
	return runtime.GOOS
}

// ExpandPath expands a leading "~/" and environment variables in path.
func ExpandPath(path string) string {
	if path == "~" {
		if home, err := os.UserHomeDir(); err == nil {
			return home
		}
	}
	if strings.HasPrefix(path, "~/") {
		if home, err := os.UserHomeDir(); err == nil {
			path = filepath.Join(home, path[2:])
		}
	}
	return os.ExpandEnv(path)
}

// PackageManagerOS maps a package manager name to the OS it runs on.
// Returns "" when the manager is not OS-specific (always available).
func PackageManagerOS(manager string) string {
	switch manager {
	case "brew", "brew-cask":
		return "darwin"
	case "apt", "apt-get", "dnf", "yum", "pacman", "zypper", "apk":
		return "linux"
	default:
		return "" // language managers (pip, gem) run anywhere
	}
}

// systemManagers is the probe order for DefaultPackageManager.
var systemManagers = []struct{ name, binary string }{
	{"apt", "apt-get"},
	{"dnf", "dnf"},
	{"yum", "yum"},
	{"pacman", "pacman"},
	{"zypper", "zypper"},
	{"apk", "apk"},
	{"brew", "brew"},
}

// lookPath is swapped out in tests.
var lookPath = exec.LookPath

// DefaultPackageManager returns the first system package manager whose
// binary is on PATH and which belongs to goos, or "" when none is found.
func DefaultPackageManager(goos string) string {
	for _, m := range systemManagers {
		if PackageManagerOS(m.name) != goos {
			continue
		}
		if _, err := lookPath(m.binary); err == nil {
			return m.name
		}
	}
	return ""
}
