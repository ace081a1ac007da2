// Package accounts looks up and creates local users and groups using the
// shadow-utils commands (useradd, groupadd, gpasswd).
package accounts

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"os"
	"os/user"
	"slices"
	"strings"

	"github.com/atomikpanda/converge/internal/shell"
)

// CommandRunner is the subset of shell.Runner the manager needs.
type CommandRunner interface {
	Run(ctx context.Context, c shell.Command) (shell.Result, error)
}

// User describes an account to create.
type User struct {
	Name  string
	Home  string
	Shell string
	Group string
}

// Manager reads the account databases and runs the shadow-utils commands.
type Manager struct {
	Shell CommandRunner
	// GroupFile is the group database; empty means /etc/group.
	GroupFile string
}

// New returns a Manager using r.
func New(r CommandRunner) *Manager {
	return &Manager{Shell: r}
}

func (m *Manager) UserExists(name string) (bool, error) {
	_, err := user.Lookup(name)
	var unknown user.UnknownUserError
	switch {
	case err == nil:
		return true, nil
	case errors.As(err, &unknown):
		return false, nil
	default:
		return false, fmt.Errorf("lookup user %s: %w", name, err)
	}
}

func (m *Manager) GroupExists(name string) (bool, error) {
	_, err := user.LookupGroup(name)
	var unknown user.UnknownGroupError
	switch {
	case err == nil:
		return true, nil
	case errors.As(err, &unknown):
		return false, nil
	default:
		return false, fmt.Errorf("lookup group %s: %w", name, err)
	}
}

// GroupMembers returns the supplementary members of group as listed in the
// group database. A missing group yields no members.
func (m *Manager) GroupMembers(group string) ([]string, error) {
	path := m.GroupFile
	if path == "" {
		path = "/etc/group"
	}
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	sc := bufio.NewScanner(f)
	for sc.Scan() {
		line := strings.TrimSpace(sc.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		// name:password:gid:member,member
		fields := strings.Split(line, ":")
		if len(fields) < 4 || fields[0] != group {
			continue
		}
		var members []string
		for _, m := range strings.Split(fields[3], ",") {
			if m = strings.TrimSpace(m); m != "" {
				members = append(members, m)
			}
		}
		return members, nil
	}
	return nil, sc.Err()
}

// HasMembers reports whether every name in want belongs to group.
func (m *Manager) HasMembers(group string, want []string) (bool, error) {
	have, err := m.GroupMembers(group)
	if err != nil {
		return false, err
	}
	for _, w := range want {
		if !slices.Contains(have, w) {
			return false, nil
		}
	}
	return true, nil
}

func (m *Manager) CreateUser(ctx context.Context, u User) error {
	args := []string{"useradd", "--create-home"}
	if u.Home != "" {
		args = append(args, "--home-dir", u.Home)
	}
	if u.Shell != "" {
		args = append(args, "--shell", u.Shell)
	}
	if u.Group != "" {
		args = append(args, "--gid", u.Group)
	}
	return m.run(ctx, append(args, u.Name))
}

func (m *Manager) CreateGroup(ctx context.Context, name string) error {
	return m.run(ctx, []string{"groupadd", name})
}

// AddMembers adds each user in members to group, skipping existing members.
func (m *Manager) AddMembers(ctx context.Context, group string, members []string) error {
	have, err := m.GroupMembers(group)
	if err != nil {
		return err
	}
	for _, name := range members {
		if slices.Contains(have, name) {
			continue
		}
		if err := m.run(ctx, []string{"gpasswd", "--add", name, group}); err != nil {
			return err
		}
	}
	return nil
}

func (m *Manager) run(ctx context.Context, args []string) error {
	res, err := m.Shell.Run(ctx, shell.Command{Args: args})
	if err != nil {
		return fmt.Errorf("%s: %w", args[0], err)
	}
	if res.ExitCode != 0 {
		return fmt.Errorf("%s: exit status %d: %s", strings.Join(args, " "), res.ExitCode, strings.TrimSpace(res.StderrTail(3)))
	}
	return nil
}
