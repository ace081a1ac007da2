// Package guard decides whether a spec's desired state already holds. It
// only observes the host; it never changes it.
//
// A declared guard condition always wins. Without one, each kind falls back
// to its own existence check; template, command and grant specs have none
// and always run.
package guard

import (
	"bufio"
	"bytes"
	"context"
	"errors"
	"fmt"
	"io/fs"
	"path/filepath"
	"regexp"

	"github.com/atomikpanda/converge/internal/host"
	"github.com/atomikpanda/converge/internal/pkgmgr"
	"github.com/atomikpanda/converge/internal/service"
	"github.com/atomikpanda/converge/internal/spec"
)

// GuardError reports that a collaborator could not answer an observation.
// Callers treat the spec as not satisfied and carry on.
type GuardError struct {
	Key          string
	Collaborator string
	Err          error
}

func (e *GuardError) Error() string {
	return fmt.Sprintf("guard %s: %s: %v", e.Key, e.Collaborator, e.Err)
}

func (e *GuardError) Unwrap() error { return e.Err }

// Collaborator names used in errors.
const (
	Filesystem     = "filesystem"
	CommandRunner  = "command runner"
	PackageManager = "package manager"
	ServiceManager = "service manager"
	Accounts       = "accounts"
	DatabaseAdmin  = "database admin"
)

// Checker evaluates guards against a host.
type Checker struct {
	Host host.Host
}

// New returns a Checker observing h.
func New(h host.Host) *Checker {
	return &Checker{Host: h}
}

// IsSatisfied reports whether s can be skipped. Errors are always
// *GuardError.
func (c *Checker) IsSatisfied(ctx context.Context, s spec.Spec) (bool, error) {
	if s.Guard != nil {
		ok, collaborator, err := c.condition(ctx, s.Guard)
		if err != nil {
			return false, &GuardError{Key: s.Key(), Collaborator: collaborator, Err: err}
		}
		return ok != s.Guard.Invert, nil
	}
	ok, collaborator, err := c.native(ctx, s)
	if err != nil {
		return false, &GuardError{Key: s.Key(), Collaborator: collaborator, Err: err}
	}
	return ok, nil
}

// condition evaluates a declared guard before inversion.
func (c *Checker) condition(ctx context.Context, g *spec.Guard) (bool, string, error) {
	switch {
	case g.Exists != "":
		ok, err := c.Host.Files.Exists(g.Exists)
		return ok, Filesystem, err
	case g.Missing != "":
		ok, err := c.Host.Files.Exists(g.Missing)
		return !ok, Filesystem, err
	case g.Contains != nil:
		ok, err := c.contains(g.Contains)
		return ok, Filesystem, err
	case g.Command != "":
		ok, err := c.Host.Commands.Eval(ctx, g.Command)
		return ok, CommandRunner, err
	default:
		return false, "", errors.New("guard declares no condition")
	}
}

// contains has grep -q semantics: a missing file is no match.
func (c *Checker) contains(m *spec.Match) (bool, error) {
	re, err := regexp.Compile(m.Pattern)
	if err != nil {
		return false, err
	}
	data, err := c.Host.Files.ReadFile(m.Path)
	if errors.Is(err, fs.ErrNotExist) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	sc := bufio.NewScanner(bytes.NewReader(data))
	sc.Buffer(make([]byte, 64*1024), len(data)+1)
	for sc.Scan() {
		if re.Match(sc.Bytes()) {
			return true, nil
		}
	}
	return false, sc.Err()
}

// native is the per-kind observation used when no guard is declared.
func (c *Checker) native(ctx context.Context, s spec.Spec) (bool, string, error) {
	h := c.Host
	switch s.Kind {
	case spec.File, spec.Directory:
		ok, err := h.Files.Exists(s.Identity)
		return ok, Filesystem, err

	case spec.Template, spec.Command, spec.Grant:
		return false, "", nil

	case spec.Link:
		// anything that is not a link to the right place needs replacing
		target, err := h.Files.Readlink(s.Identity)
		if err != nil {
			return false, Filesystem, nil
		}
		return filepath.Clean(target) == filepath.Clean(s.Attr(spec.AttrTo)), Filesystem, nil

	case spec.Git:
		ok, err := h.Files.Exists(filepath.Join(s.Identity, ".git"))
		return ok, Filesystem, err

	case spec.Package:
		ok, err := h.Packages.IsInstalled(ctx, pkgmgr.Package{
			Name:    s.ObjectName(),
			Version: s.Attr(spec.AttrVersion),
			Via:     s.Attr(spec.AttrVia),
		})
		return ok, PackageManager, err

	case spec.Service:
		want, err := service.ParseState(s.Attr(spec.AttrState))
		if err != nil {
			return false, ServiceManager, err
		}
		got, err := h.Services.State(ctx, s.Identity)
		return err == nil && got == want, ServiceManager, err

	case spec.User:
		ok, err := h.Accounts.UserExists(s.Identity)
		return ok, Accounts, err

	case spec.Group:
		ok, err := h.Accounts.GroupExists(s.Identity)
		if err != nil || !ok {
			return false, Accounts, err
		}
		if members := s.Members(); len(members) > 0 {
			ok, err = h.Accounts.HasMembers(s.Identity, members)
		}
		return ok, Accounts, err

	case spec.DatabaseUser, spec.Database:
		admin, err := h.Databases.For(s.Attr(spec.AttrEngine))
		if err != nil {
			return false, DatabaseAdmin, err
		}
		if s.Kind == spec.DatabaseUser {
			ok, err := admin.UserExists(ctx, s.ObjectName())
			return ok, DatabaseAdmin, err
		}
		ok, err := admin.DatabaseExists(ctx, s.ObjectName())
		return ok, DatabaseAdmin, err

	default:
		return false, "", fmt.Errorf("unknown kind %q", s.Kind)
	}
}
