// Package pkgmgr installs packages through the host's package managers
// (apt, dnf, yum, pacman, zypper, apk, brew) and the language managers the
// provisioning recipes lean on (pip, gem).
package pkgmgr

import (
	"context"
	"fmt"
	"strings"

	"github.com/atomikpanda/converge/internal/platform"
	"github.com/atomikpanda/converge/internal/shell"
)

// Package names one package to install. Via selects the manager; empty means
// the host default. Sudo prefixes the install command with sudo and is only
// honoured for system managers.
type Package struct {
	Name    string
	Version string
	Via     string
	Sudo    bool
}

func (p Package) String() string {
	if p.Version != "" {
		return p.Name + " " + p.Version
	}
	return p.Name
}

// CommandRunner is the subset of shell.Runner the manager needs.
type CommandRunner interface {
	Run(ctx context.Context, c shell.Command) (shell.Result, error)
}

// Manager dispatches to the package manager CLIs.
type Manager struct {
	Shell CommandRunner
	// Default is used when a package does not name a manager.
	Default string
}

// New returns a Manager defaulting to the first system package manager
// found for the current OS.
func New(r CommandRunner) *Manager {
	return &Manager{
		Shell:   r,
		Default: platform.DefaultPackageManager(platform.Current()),
	}
}

func (m *Manager) manager(p Package) (string, error) {
	via := p.Via
	if via == "" {
		via = m.Default
	}
	if via == "" {
		return "", fmt.Errorf("no package manager for %s: none declared and none detected", p.Name)
	}
	return via, nil
}

// IsInstalled queries the manager. With a version declared, the installed
// version must equal it or start with it followed by "." or "-".
func (m *Manager) IsInstalled(ctx context.Context, p Package) (bool, error) {
	via, err := m.manager(p)
	if err != nil {
		return false, err
	}
	q, ok := queries[via]
	if !ok {
		return false, fmt.Errorf("unknown package manager: %q", via)
	}
	res, err := m.Shell.Run(ctx, shell.Command{Args: q.args(p.Name)})
	if err != nil {
		return false, fmt.Errorf("query %s via %s: %w", p.Name, via, err)
	}
	if res.ExitCode != 0 {
		return false, nil
	}
	installed, versions := q.parse(res.Stdout)
	if !installed {
		return false, nil
	}
	if p.Version == "" {
		return true, nil
	}
	for _, v := range versions {
		if versionMatches(v, p.Version) {
			return true, nil
		}
	}
	return false, nil
}

// Install installs p. Output is captured and the stderr tail is included in
// the error on failure. Nothing is elevated unless p.Sudo is set.
func (m *Manager) Install(ctx context.Context, p Package) error {
	via, err := m.manager(p)
	if err != nil {
		return err
	}
	args, err := installArgs(via, p.Name, p.Version)
	if err != nil {
		return err
	}
	if p.Sudo && platform.PackageManagerOS(via) != "" && via != "brew" && via != "brew-cask" {
		args = append([]string{"sudo"}, args...)
	}
	res, err := m.Shell.Run(ctx, shell.Command{
		Args: args,
		Env:  []string{"DEBIAN_FRONTEND=noninteractive"},
	})
	if err != nil {
		return fmt.Errorf("install %s via %s: %w", p, via, err)
	}
	if res.ExitCode != 0 {
		return fmt.Errorf("install %s via %s: exit status %d: %s", p, via, res.ExitCode, strings.TrimSpace(res.StderrTail(5)))
	}
	return nil
}

// installArgs returns the command + arguments needed to install pkg with the given manager.
func installArgs(manager, pkg, version string) ([]string, error) {
	switch manager {
	case "brew":
		if version != "" {
			pkg += "@" + version
		}
		return []string{"brew", "install", pkg}, nil
	case "brew-cask":
		if version != "" {
			return nil, errUnpinnable(manager)
		}
		return []string{"brew", "install", "--cask", pkg}, nil
	case "apt", "apt-get":
		if version != "" {
			pkg += "=" + version
		}
		return []string{"apt-get", "install", "-y", "--no-install-recommends", pkg}, nil
	case "dnf", "yum":
		if version != "" {
			pkg += "-" + version
		}
		return []string{manager, "install", "-y", pkg}, nil
	case "pacman":
		if version != "" {
			return nil, errUnpinnable(manager)
		}
		return []string{"pacman", "-S", "--noconfirm", "--needed", pkg}, nil
	case "zypper":
		if version != "" {
			pkg += "=" + version
		}
		return []string{"zypper", "--non-interactive", "install", pkg}, nil
	case "apk":
		if version != "" {
			pkg += "=" + version
		}
		return []string{"apk", "add", "--no-cache", pkg}, nil
	case "pip":
		if version != "" {
			pkg += "==" + version
		}
		return []string{"pip", "install", "--quiet", pkg}, nil
	case "gem":
		if version != "" {
			return []string{"gem", "install", pkg, "--version", version, "--no-document"}, nil
		}
		return []string{"gem", "install", pkg, "--no-document"}, nil
	default:
		return nil, fmt.Errorf("unknown package manager: %q", manager)
	}
}

func errUnpinnable(manager string) error {
	return fmt.Errorf("%s cannot install a pinned version", manager)
}

type query struct {
	args  func(pkg string) []string
	parse func(stdout string) (installed bool, versions []string)
}

var queries = map[string]query{
	"apt":       dpkgQuery,
	"apt-get":   dpkgQuery,
	"dnf":       rpmQuery,
	"yum":       rpmQuery,
	"zypper":    rpmQuery,
	"brew":      {args: func(p string) []string { return []string{"brew", "list", "--versions", p} }, parse: nameThenVersions},
	"brew-cask": {args: func(p string) []string { return []string{"brew", "list", "--cask", "--versions", p} }, parse: nameThenVersions},
	"pacman":    {args: func(p string) []string { return []string{"pacman", "-Q", p} }, parse: nameThenVersions},
	"apk": {
		args:  func(p string) []string { return []string{"apk", "info", "--installed", "-v", p} },
		parse: apkVersions,
	},
	"pip": {
		args: func(p string) []string { return []string{"pip", "show", p} },
		parse: func(out string) (bool, []string) {
			for _, line := range strings.Split(out, "\n") {
				if v, ok := strings.CutPrefix(line, "Version:"); ok {
					return true, []string{strings.TrimSpace(v)}
				}
			}
			return strings.TrimSpace(out) != "", nil
		},
	},
	"gem": {
		args: func(p string) []string { return []string{"gem", "list", "--local", "--exact", p} },
		parse: func(out string) (bool, []string) {
			// sshkey (3.0.0, 2.0.0)
			open := strings.Index(out, "(")
			end := strings.LastIndex(out, ")")
			if open < 0 || end < open {
				return false, nil
			}
			var versions []string
			for _, v := range strings.Split(out[open+1:end], ",") {
				v = strings.TrimSpace(strings.TrimPrefix(strings.TrimSpace(v), "default:"))
				if v != "" {
					versions = append(versions, v)
				}
			}
			return len(versions) > 0, versions
		},
	},
}

var dpkgQuery = query{
	args: func(p string) []string {
		return []string{"dpkg-query", "--show", "--showformat=${Status}\t${Version}", p}
	},
	parse: func(out string) (bool, []string) {
		status, version, _ := strings.Cut(strings.TrimSpace(out), "\t")
		if !strings.HasSuffix(status, "install ok installed") {
			return false, nil
		}
		return true, []string{version}
	},
}

var rpmQuery = query{
	args: func(p string) []string {
		return []string{"rpm", "--query", "--queryformat", "%{VERSION}-%{RELEASE}\n", p}
	},
	parse: func(out string) (bool, []string) {
		versions := strings.Fields(out)
		return len(versions) > 0, versions
	},
}

// nameThenVersions parses "name 1.2 1.3" (brew, pacman).
func nameThenVersions(out string) (bool, []string) {
	fields := strings.Fields(out)
	if len(fields) == 0 {
		return false, nil
	}
	return true, fields[1:]
}

// apkVersions parses "name-1.2.3-r0" lines.
func apkVersions(out string) (bool, []string) {
	var versions []string
	for _, line := range strings.Fields(out) {
		// the version starts at the first "-" followed by a digit
		for i := 0; i < len(line)-1; i++ {
			if line[i] == '-' && line[i+1] >= '0' && line[i+1] <= '9' {
				versions = append(versions, line[i+1:])
				break
			}
		}
	}
	return strings.TrimSpace(out) != "", versions
}

func versionMatches(installed, want string) bool {
	return installed == want ||
		strings.HasPrefix(installed, want+".") ||
		strings.HasPrefix(installed, want+"-")
}
