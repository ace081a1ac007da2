// Package service starts and stops system services through systemctl, or
// the SysV "service" wrapper on hosts without systemd.
package service

import (
	"context"
	"fmt"
	"os/exec"
	"strings"

	"github.com/atomikpanda/converge/internal/shell"
)

// State is the run state of a service.
type State string

const (
	Started State = "started"
	Stopped State = "stopped"
)

// ParseState maps a manifest value to a State; empty means Started.
func ParseState(s string) (State, error) {
	switch s {
	case "", string(Started):
		return Started, nil
	case string(Stopped):
		return Stopped, nil
	default:
		return "", fmt.Errorf("unknown service state %q", s)
	}
}

// CommandRunner is the subset of shell.Runner the manager needs.
type CommandRunner interface {
	Run(ctx context.Context, c shell.Command) (shell.Result, error)
}

// Manager controls services.
type Manager struct {
	Shell CommandRunner
	// Systemd selects systemctl over the service wrapper.
	Systemd bool
}

// lookPath is swapped out in tests.
var lookPath = exec.LookPath

// Detect returns a Manager that uses systemctl when it is on PATH.
func Detect(r CommandRunner) *Manager {
	_, err := lookPath("systemctl")
	return &Manager{Shell: r, Systemd: err == nil}
}

// State reports whether name is running. Status commands exit non-zero
// for stopped services, so any completed status call is an answer.
func (m *Manager) State(ctx context.Context, name string) (State, error) {
	res, err := m.Shell.Run(ctx, shell.Command{Args: m.args(name, "status")})
	if err != nil {
		return "", fmt.Errorf("service %s status: %w", name, err)
	}
	if res.ExitCode == 0 {
		return Started, nil
	}
	return Stopped, nil
}

// SetState starts or stops name.
func (m *Manager) SetState(ctx context.Context, name string, want State) error {
	verb := "start"
	if want == Stopped {
		verb = "stop"
	}
	res, err := m.Shell.Run(ctx, shell.Command{Args: m.args(name, verb)})
	if err != nil {
		return fmt.Errorf("service %s %s: %w", name, verb, err)
	}
	if res.ExitCode != 0 {
		return fmt.Errorf("service %s %s: exit status %d: %s", name, verb, res.ExitCode, strings.TrimSpace(res.StderrTail(5)))
	}
	return nil
}

func (m *Manager) args(name, verb string) []string {
	if m.Systemd {
		if verb == "status" {
			return []string{"systemctl", "is-active", "--quiet", name}
		}
		return []string{"systemctl", verb, name}
	}
	return []string{"service", name, verb}
}
