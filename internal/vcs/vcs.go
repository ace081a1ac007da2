// Package vcs checks out git repositories through the git CLI. Every
// invocation goes through the shell runner so checkouts honour the
// requested user and are killed with their process group on cancellation.
package vcs

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/atomikpanda/converge/internal/shell"
)

// CommandRunner is the subset of shell.Runner the git wrapper needs.
type CommandRunner interface {
	Run(ctx context.Context, c shell.Command) (shell.Result, error)
}

// CloneOptions describes one checkout.
type CloneOptions struct {
	Repository string
	// Reference is a branch, tag or commit; empty means the remote HEAD.
	Reference string
	Path      string
	User      string
}

// Git clones repositories. Binary defaults to "git".
type Git struct {
	Shell  CommandRunner
	Binary string
}

// New returns a Git using r.
func New(r CommandRunner) *Git {
	return &Git{Shell: r, Binary: "git"}
}

// Clone clones opts.Repository into opts.Path and checks out
// opts.Reference when one is given.
func (g *Git) Clone(ctx context.Context, opts CloneOptions) error {
	if opts.Repository == "" || opts.Path == "" {
		return errors.New("clone requires a repository and a path")
	}
	if _, err := g.run(ctx, opts.User, "", "clone", "--quiet", opts.Repository, opts.Path); err != nil {
		return err
	}
	if opts.Reference == "" || opts.Reference == "HEAD" {
		return nil
	}
	_, err := g.run(ctx, opts.User, "", "-C", opts.Path, "checkout", "--quiet", opts.Reference)
	return err
}

// Head returns the commit checked out at path.
func (g *Git) Head(ctx context.Context, path string) (string, error) {
	out, err := g.run(ctx, "", "", "-C", path, "rev-parse", "HEAD")
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(out), nil
}

func (g *Git) run(ctx context.Context, user, dir string, args ...string) (string, error) {
	bin := g.Binary
	if bin == "" {
		bin = "git"
	}
	res, err := g.Shell.Run(ctx, shell.Command{
		Args: append([]string{bin}, args...),
		User: user,
		Dir:  dir,
		Env:  []string{"GIT_TERMINAL_PROMPT=0"},
	})
	if err != nil {
		return "", fmt.Errorf("git %s: %w", strings.Join(args, " "), err)
	}
	if res.ExitCode != 0 {
		return "", fmt.Errorf("git %s: exit status %d (stderr: %s)",
			strings.Join(args, " "), res.ExitCode, strings.TrimSpace(res.StderrTail(5)))
	}
	return res.Stdout, nil
}
