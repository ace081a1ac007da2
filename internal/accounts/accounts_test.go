package accounts

import (
	"context"
	"os"
	"os/user"
	"path/filepath"
	"strings"
	"testing"

	"github.com/atomikpanda/converge/internal/shell"
)

type recordingRunner struct {
	calls []string
	exit  int
}

func (r *recordingRunner) Run(_ context.Context, c shell.Command) (shell.Result, error) {
	r.calls = append(r.calls, c.String())
	return shell.Result{ExitCode: r.exit, Stderr: "groupadd: group 'git' already exists"}, nil
}

const groupFile = `root:x:0:
# comment
git:x:1001:gitlab,deploy
vagrant:x:1000:
`

func writeGroupFile(t *testing.T) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "group")
	if err := os.WriteFile(path, []byte(groupFile), 0o644); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestGroupMembers(t *testing.T) {
	m := &Manager{GroupFile: writeGroupFile(t)}
	tests := []struct {
		group string
		want  []string
	}{
		{"git", []string{"gitlab", "deploy"}},
		{"vagrant", nil},
		{"absent", nil},
	}
	for _, tt := range tests {
		t.Run(tt.group, func(t *testing.T) {
			got, err := m.GroupMembers(tt.group)
			if err != nil {
				t.Fatal(err)
			}
			if strings.Join(got, ",") != strings.Join(tt.want, ",") {
				t.Errorf("GroupMembers(%q) = %v, want %v", tt.group, got, tt.want)
			}
		})
	}
}

func TestHasMembers(t *testing.T) {
	m := &Manager{GroupFile: writeGroupFile(t)}
	ok, err := m.HasMembers("git", []string{"gitlab"})
	if err != nil || !ok {
		t.Errorf("HasMembers(git, gitlab) = %v, %v", ok, err)
	}
	ok, _ = m.HasMembers("git", []string{"gitlab", "vagrant"})
	if ok {
		t.Error("vagrant is not in git")
	}
}

func TestAddMembersSkipsExisting(t *testing.T) {
	r := &recordingRunner{}
	m := &Manager{Shell: r, GroupFile: writeGroupFile(t)}
	if err := m.AddMembers(context.Background(), "git", []string{"gitlab", "vagrant"}); err != nil {
		t.Fatal(err)
	}
	if len(r.calls) != 1 || r.calls[0] != "gpasswd --add vagrant git" {
		t.Errorf("calls = %v", r.calls)
	}
}

func TestCreateUserArgs(t *testing.T) {
	r := &recordingRunner{}
	m := New(r)
	err := m.CreateUser(context.Background(), User{Name: "git", Home: "/home/git", Shell: "/bin/sh", Group: "git"})
	if err != nil {
		t.Fatal(err)
	}
	want := "useradd --create-home --home-dir /home/git --shell /bin/sh --gid git git"
	if r.calls[0] != want {
		t.Errorf("got %q\nwant %q", r.calls[0], want)
	}
}

func TestCreateGroupFailure(t *testing.T) {
	m := New(&recordingRunner{exit: 9})
	err := m.CreateGroup(context.Background(), "git")
	if err == nil || !strings.Contains(err.Error(), "already exists") {
		t.Errorf("err = %v", err)
	}
}

func TestExistsLookups(t *testing.T) {
	u, err := user.Current()
	if err != nil {
		t.Skip("no current user")
	}
	m := New(nil)
	if ok, err := m.UserExists(u.Username); err != nil || !ok {
		t.Errorf("UserExists(%s) = %v, %v", u.Username, ok, err)
	}
	if ok, err := m.UserExists("no-such-user-xyz"); err != nil || ok {
		t.Errorf("UserExists(missing) = %v, %v", ok, err)
	}
	if ok, err := m.GroupExists("no-such-group-xyz"); err != nil || ok {
		t.Errorf("GroupExists(missing) = %v, %v", ok, err)
	}
}
