// Package host declares the collaborator contracts the engine drives and
// wires the local implementations together.
//
// The guard only calls the observing methods; the executor calls the
// mutating ones. Fakes for tests live in package hosttest.
package host

import (
	"context"
	"io/fs"

	"github.com/atomikpanda/converge/internal/accounts"
	"github.com/atomikpanda/converge/internal/dbadmin"
	"github.com/atomikpanda/converge/internal/fsys"
	"github.com/atomikpanda/converge/internal/pkgmgr"
	"github.com/atomikpanda/converge/internal/render"
	"github.com/atomikpanda/converge/internal/service"
	"github.com/atomikpanda/converge/internal/shell"
	"github.com/atomikpanda/converge/internal/vcs"
)

type Packages interface {
	IsInstalled(ctx context.Context, p pkgmgr.Package) (bool, error)
	Install(ctx context.Context, p pkgmgr.Package) error
}

type Filesystem interface {
	Exists(path string) (bool, error)
	ReadFile(path string) ([]byte, error)
	Readlink(path string) (string, error)
	WriteFile(path string, data []byte, owner, group string, mode fs.FileMode) error
	MakeDirectory(path, owner, group string, mode fs.FileMode, recursive bool) error
	Symlink(target, path string) error
}

type Renderer interface {
	Render(source string, vars map[string]any) ([]byte, error)
}

type Commands interface {
	Run(ctx context.Context, c shell.Command) (shell.Result, error)
	Eval(ctx context.Context, line string) (bool, error)
}

type Services interface {
	State(ctx context.Context, name string) (service.State, error)
	SetState(ctx context.Context, name string, want service.State) error
}

type Accounts interface {
	UserExists(name string) (bool, error)
	GroupExists(name string) (bool, error)
	HasMembers(group string, members []string) (bool, error)
	CreateUser(ctx context.Context, u accounts.User) error
	CreateGroup(ctx context.Context, name string) error
	AddMembers(ctx context.Context, group string, members []string) error
}

type Databases interface {
	For(engine string) (dbadmin.Admin, error)
}

type Repos interface {
	Clone(ctx context.Context, opts vcs.CloneOptions) error
}

// Host bundles one implementation of every collaborator.
type Host struct {
	Packages  Packages
	Files     Filesystem
	Templates Renderer
	Commands  Commands
	Services  Services
	Accounts  Accounts
	Databases Databases
	Repos     Repos
}

// Local returns the collaborators for the machine converge runs on.
// Templates are read from templates; database connections come from dbs.
func Local(templates fs.FS, dbs *dbadmin.Pool) Host {
	sh := &shell.Runner{}
	return Host{
		Packages:  pkgmgr.New(sh),
		Files:     fsys.OS{},
		Templates: render.New(templates),
		Commands:  sh,
		Services:  service.Detect(sh),
		Accounts:  accounts.New(sh),
		Databases: dbs,
		Repos:     vcs.New(sh),
	}
}
