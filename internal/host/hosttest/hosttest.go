// Package hosttest provides an in-memory Host for engine tests. Every
// collaborator method increments a call counter so tests can assert that
// nothing was touched, and any method can be made to fail.
package hosttest

import (
	"context"
	"fmt"
	"io/fs"
	"maps"
	"path"
	"slices"
	"strings"

	"github.com/atomikpanda/converge/internal/accounts"
	"github.com/atomikpanda/converge/internal/dbadmin"
	"github.com/atomikpanda/converge/internal/host"
	"github.com/atomikpanda/converge/internal/pkgmgr"
	"github.com/atomikpanda/converge/internal/render"
	"github.com/atomikpanda/converge/internal/service"
	"github.com/atomikpanda/converge/internal/shell"
	"github.com/atomikpanda/converge/internal/vcs"
)

// File is a fake file with its ownership.
type File struct {
	Data  []byte
	Owner string
	Group string
	Mode  fs.FileMode
}

// Fake is an in-memory machine.
type Fake struct {
	Files     map[string]File
	Dirs      map[string]bool
	Links     map[string]string
	Packages  map[string]string // name -> installed version
	Templates map[string]string
	Services  map[string]service.State
	Users     map[string]bool
	Groups    map[string][]string
	DBs       map[string]*FakeDB

	// Commands records every command run, in order.
	Commands []shell.Command
	// Results maps Command.String() to the result Run returns.
	Results map[string]shell.Result
	// EvalResults maps a guard command line to its verdict.
	EvalResults map[string]bool
	// RunHook, when set, replaces Run entirely.
	RunHook func(ctx context.Context, c shell.Command) (shell.Result, error)

	// Errors maps "Method" or "Method:arg" to an error the method returns.
	Errors map[string]error

	calls map[string]int
}

// New returns an empty machine.
func New() *Fake {
	return &Fake{
		Files:       make(map[string]File),
		Dirs:        make(map[string]bool),
		Links:       make(map[string]string),
		Packages:    make(map[string]string),
		Templates:   make(map[string]string),
		Services:    make(map[string]service.State),
		Users:       make(map[string]bool),
		Groups:      make(map[string][]string),
		DBs:         make(map[string]*FakeDB),
		Results:     make(map[string]shell.Result),
		EvalResults: make(map[string]bool),
		Errors:      make(map[string]error),
		calls:       make(map[string]int),
	}
}

// Host returns a host.Host whose collaborators are all backed by f.
func (f *Fake) Host() host.Host {
	return host.Host{
		Packages:  f,
		Files:     f,
		Templates: f,
		Commands:  f,
		Services:  f,
		Accounts:  f,
		Databases: f,
		Repos:     f,
	}
}

// Calls returns how many times method was called.
func (f *Fake) Calls(method string) int {
	return f.calls[method]
}

// TotalCalls returns the number of collaborator calls of any kind.
func (f *Fake) TotalCalls() int {
	n := 0
	for _, c := range f.calls {
		n += c
	}
	for _, db := range f.DBs {
		n += db.TotalCalls()
	}
	return n
}

var mutating = []string{
	"Install", "WriteFile", "MakeDirectory", "Symlink", "Run", "SetState",
	"CreateUser", "CreateGroup", "AddMembers", "Clone",
}

// Mutations returns the number of calls that change machine state.
func (f *Fake) Mutations() int {
	n := 0
	for _, m := range mutating {
		n += f.calls[m]
	}
	for _, db := range f.DBs {
		n += db.mutations()
	}
	return n
}

func (f *Fake) hit(method, arg string) error {
	f.calls[method]++
	if err, ok := f.Errors[method+":"+arg]; ok {
		return err
	}
	return f.Errors[method]
}

// Exists reports whether path is a file, directory or link.
func (f *Fake) Exists(p string) (bool, error) {
	if err := f.hit("Exists", p); err != nil {
		return false, err
	}
	_, file := f.Files[p]
	_, link := f.Links[p]
	return file || link || f.Dirs[p], nil
}

func (f *Fake) ReadFile(p string) ([]byte, error) {
	if err := f.hit("ReadFile", p); err != nil {
		return nil, err
	}
	file, ok := f.Files[p]
	if !ok {
		return nil, &fs.PathError{Op: "open", Path: p, Err: fs.ErrNotExist}
	}
	return slices.Clone(file.Data), nil
}

func (f *Fake) Readlink(p string) (string, error) {
	if err := f.hit("Readlink", p); err != nil {
		return "", err
	}
	target, ok := f.Links[p]
	if !ok {
		return "", &fs.PathError{Op: "readlink", Path: p, Err: fs.ErrNotExist}
	}
	return target, nil
}

func (f *Fake) WriteFile(p string, data []byte, owner, group string, mode fs.FileMode) error {
	if err := f.hit("WriteFile", p); err != nil {
		return err
	}
	f.Files[p] = File{Data: slices.Clone(data), Owner: owner, Group: group, Mode: mode}
	return nil
}

func (f *Fake) MakeDirectory(p, owner, group string, mode fs.FileMode, recursive bool) error {
	if err := f.hit("MakeDirectory", p); err != nil {
		return err
	}
	if recursive {
		for dir := path.Dir(p); dir != "/" && dir != "."; dir = path.Dir(dir) {
			f.Dirs[dir] = true
		}
	}
	f.Dirs[p] = true
	return nil
}

func (f *Fake) Symlink(target, p string) error {
	if err := f.hit("Symlink", p); err != nil {
		return err
	}
	f.Links[p] = target
	return nil
}

func (f *Fake) IsInstalled(_ context.Context, p pkgmgr.Package) (bool, error) {
	if err := f.hit("IsInstalled", p.Name); err != nil {
		return false, err
	}
	v, ok := f.Packages[p.Name]
	if !ok {
		return false, nil
	}
	return p.Version == "" || p.Version == v, nil
}

func (f *Fake) Install(_ context.Context, p pkgmgr.Package) error {
	if err := f.hit("Install", p.Name); err != nil {
		return err
	}
	f.Packages[p.Name] = p.Version
	return nil
}

// Render executes the template registered under source.
func (f *Fake) Render(source string, vars map[string]any) ([]byte, error) {
	if err := f.hit("Render", source); err != nil {
		return nil, err
	}
	text, ok := f.Templates[source]
	if !ok {
		return nil, &render.TemplateError{Source: source, Err: fs.ErrNotExist}
	}
	out, err := render.String(text, vars)
	if err != nil {
		return nil, &render.TemplateError{Source: source, Err: err}
	}
	return []byte(out), nil
}

// Run records c and returns the configured result (exit 0 by default).
func (f *Fake) Run(ctx context.Context, c shell.Command) (shell.Result, error) {
	if err := f.hit("Run", c.String()); err != nil {
		return shell.Result{}, err
	}
	f.Commands = append(f.Commands, c)
	if f.RunHook != nil {
		return f.RunHook(ctx, c)
	}
	return f.Results[c.String()], nil
}

// Eval returns the configured verdict for line (false by default).
func (f *Fake) Eval(_ context.Context, line string) (bool, error) {
	if err := f.hit("Eval", line); err != nil {
		return false, err
	}
	return f.EvalResults[line], nil
}

func (f *Fake) State(_ context.Context, name string) (service.State, error) {
	if err := f.hit("State", name); err != nil {
		return "", err
	}
	if st, ok := f.Services[name]; ok {
		return st, nil
	}
	return service.Stopped, nil
}

func (f *Fake) SetState(_ context.Context, name string, want service.State) error {
	if err := f.hit("SetState", name); err != nil {
		return err
	}
	f.Services[name] = want
	return nil
}

func (f *Fake) UserExists(name string) (bool, error) {
	if err := f.hit("UserExists", name); err != nil {
		return false, err
	}
	return f.Users[name], nil
}

func (f *Fake) GroupExists(name string) (bool, error) {
	if err := f.hit("GroupExists", name); err != nil {
		return false, err
	}
	_, ok := f.Groups[name]
	return ok, nil
}

func (f *Fake) HasMembers(group string, members []string) (bool, error) {
	if err := f.hit("HasMembers", group); err != nil {
		return false, err
	}
	for _, m := range members {
		if !slices.Contains(f.Groups[group], m) {
			return false, nil
		}
	}
	return true, nil
}

func (f *Fake) CreateUser(_ context.Context, u accounts.User) error {
	if err := f.hit("CreateUser", u.Name); err != nil {
		return err
	}
	f.Users[u.Name] = true
	return nil
}

func (f *Fake) CreateGroup(_ context.Context, name string) error {
	if err := f.hit("CreateGroup", name); err != nil {
		return err
	}
	if _, ok := f.Groups[name]; !ok {
		f.Groups[name] = nil
	}
	return nil
}

func (f *Fake) AddMembers(_ context.Context, group string, members []string) error {
	if err := f.hit("AddMembers", group); err != nil {
		return err
	}
	for _, m := range members {
		if !slices.Contains(f.Groups[group], m) {
			f.Groups[group] = append(f.Groups[group], m)
		}
	}
	return nil
}

// For returns the fake server for engine, creating it on first use.
func (f *Fake) For(engine string) (dbadmin.Admin, error) {
	if err := f.hit("For", engine); err != nil {
		return nil, err
	}
	return f.DB(engine), nil
}

// DB returns the fake server for engine without counting a call.
func (f *Fake) DB(engine string) *FakeDB {
	db, ok := f.DBs[engine]
	if !ok {
		db = &FakeDB{Users: map[string]string{}, Databases: map[string]bool{}, calls: map[string]int{}}
		f.DBs[engine] = db
	}
	return db
}

// Clone creates the checkout directory and its .git marker.
func (f *Fake) Clone(_ context.Context, opts vcs.CloneOptions) error {
	if err := f.hit("Clone", opts.Path); err != nil {
		return err
	}
	f.Dirs[opts.Path] = true
	f.Dirs[path.Join(opts.Path, ".git")] = true
	return nil
}

// FakeDB is an in-memory database server.
type FakeDB struct {
	Users     map[string]string // name -> password
	Databases map[string]bool
	Grants    []dbadmin.Grant
	Err       error

	calls map[string]int
}

func (d *FakeDB) TotalCalls() int {
	n := 0
	for _, c := range d.calls {
		n += c
	}
	return n
}

func (d *FakeDB) mutations() int {
	return d.calls["CreateUser"] + d.calls["CreateDatabase"] + d.calls["GrantPrivileges"]
}

func (d *FakeDB) UserExists(_ context.Context, name string) (bool, error) {
	d.calls["UserExists"]++
	_, ok := d.Users[name]
	return ok, d.Err
}

func (d *FakeDB) CreateUser(_ context.Context, name string, password []byte) error {
	d.calls["CreateUser"]++
	if d.Err != nil {
		return d.Err
	}
	d.Users[name] = string(password)
	return nil
}

func (d *FakeDB) DatabaseExists(_ context.Context, name string) (bool, error) {
	d.calls["DatabaseExists"]++
	return d.Databases[name], d.Err
}

func (d *FakeDB) CreateDatabase(_ context.Context, name string) error {
	d.calls["CreateDatabase"]++
	if d.Err != nil {
		return d.Err
	}
	d.Databases[name] = true
	return nil
}

func (d *FakeDB) GrantPrivileges(_ context.Context, g dbadmin.Grant) error {
	d.calls["GrantPrivileges"]++
	if d.Err != nil {
		return d.Err
	}
	d.Grants = append(d.Grants, g)
	return nil
}

// Snapshot renders the observable machine state, for comparing runs.
func (f *Fake) Snapshot() string {
	var b strings.Builder
	for _, p := range slices.Sorted(maps.Keys(f.Files)) {
		file := f.Files[p]
		fmt.Fprintf(&b, "file %s %s:%s %04o %q\n", p, file.Owner, file.Group, file.Mode, file.Data)
	}
	for _, p := range slices.Sorted(maps.Keys(f.Dirs)) {
		fmt.Fprintf(&b, "dir %s\n", p)
	}
	for _, p := range slices.Sorted(maps.Keys(f.Links)) {
		fmt.Fprintf(&b, "link %s -> %s\n", p, f.Links[p])
	}
	for _, p := range slices.Sorted(maps.Keys(f.Packages)) {
		fmt.Fprintf(&b, "package %s %s\n", p, f.Packages[p])
	}
	for _, s := range slices.Sorted(maps.Keys(f.Services)) {
		fmt.Fprintf(&b, "service %s %s\n", s, f.Services[s])
	}
	for _, u := range slices.Sorted(maps.Keys(f.Users)) {
		fmt.Fprintf(&b, "user %s\n", u)
	}
	for _, g := range slices.Sorted(maps.Keys(f.Groups)) {
		fmt.Fprintf(&b, "group %s %v\n", g, f.Groups[g])
	}
	for _, e := range slices.Sorted(maps.Keys(f.DBs)) {
		db := f.DBs[e]
		for _, u := range slices.Sorted(maps.Keys(db.Users)) {
			fmt.Fprintf(&b, "%s user %s\n", e, u)
		}
		for _, d := range slices.Sorted(maps.Keys(db.Databases)) {
			fmt.Fprintf(&b, "%s database %s\n", e, d)
		}
	}
	return b.String()
}
