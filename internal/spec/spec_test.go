package spec

import (
	"errors"
	"os"
	"strings"
	"testing"
	"time"
)

func TestParseKind(t *testing.T) {
	tests := []struct {
		in      string
		want    Kind
		wantErr bool
	}{
		{"package", Package, false},
		{"Template", Template, false},
		{"database-user", DatabaseUser, false},
		{"database_user", DatabaseUser, false},
		{" grant ", Grant, false},
		{"cron", "", true},
		{"", "", true},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := ParseKind(tt.in)
			if tt.wantErr {
				if err == nil {
					t.Fatalf("ParseKind(%q) expected error", tt.in)
				}
				return
			}
			if err != nil {
				t.Fatal(err)
			}
			if got != tt.want {
				t.Errorf("ParseKind(%q) = %q, want %q", tt.in, got, tt.want)
			}
		})
	}
}

func TestSpecKey(t *testing.T) {
	s := Spec{Kind: Directory, Identity: "/home/u/.ssh"}
	if got := s.Key(); got != "directory:/home/u/.ssh" {
		t.Errorf("Key() = %q", got)
	}
}

func TestObjectName(t *testing.T) {
	tests := []struct {
		spec Spec
		want string
	}{
		{Spec{Kind: DatabaseUser, Identity: "mysql/vagrant", Attributes: map[string]string{"engine": "mysql"}}, "vagrant"},
		{Spec{Kind: DatabaseUser, Identity: "vagrant", Attributes: map[string]string{"engine": "postgres"}}, "vagrant"},
		{Spec{Kind: Database, Identity: "postgres/gitlabhq_test", Attributes: map[string]string{"engine": "mysql"}}, "postgres/gitlabhq_test"},
		{Spec{Kind: User, Identity: "git"}, "git"},
	}
	for _, tt := range tests {
		if got := tt.spec.ObjectName(); got != tt.want {
			t.Errorf("%s ObjectName() = %q, want %q", tt.spec.Key(), got, tt.want)
		}
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		spec    Spec
		wantErr string
	}{
		{"valid directory", Spec{Kind: Directory, Identity: "/tmp/x"}, ""},
		{"unknown kind", Spec{Kind: "cron", Identity: "x"}, "unknown kind"},
		{"empty identity", Spec{Kind: File, Identity: "  "}, "identity is required"},
		{"self dependency by key", Spec{Kind: File, Identity: "/a", DependsOn: []string{"file:/a"}}, "depends on itself"},
		{"self dependency bare", Spec{Kind: File, Identity: "/a", DependsOn: []string{"/a"}}, "depends on itself"},
		{"template without source", Spec{Kind: Template, Identity: "/a"}, `requires attribute "source"`},
		{"command without line", Spec{Kind: Command, Identity: "setup"}, "command requires"},
		{"command with args", Spec{Kind: Command, Identity: "setup", Args: []string{"true"}}, ""},
		{"args on file", Spec{Kind: File, Identity: "/a", Args: []string{"x"}}, "only valid on command"},
		{"bad mode", Spec{Kind: File, Identity: "/a", Attributes: map[string]string{"mode": "0999"}}, "invalid mode"},
		{"bad service state", Spec{Kind: Service, Identity: "xvfb", Attributes: map[string]string{"state": "restarted"}}, "started or stopped"},
		{"empty guard", Spec{Kind: File, Identity: "/a", Guard: &Guard{}}, "no condition"},
		{"two guard conditions", Spec{Kind: File, Identity: "/a", Guard: &Guard{Exists: "/a", Missing: "/b"}}, "exactly one"},
		{"bad guard pattern", Spec{Kind: Command, Identity: "c", Args: []string{"true"}, Guard: &Guard{Contains: &Match{Path: "/f", Pattern: "("}}}, "contains.pattern"},
		{"bad timeout", Spec{Kind: Git, Identity: "/src", Attributes: map[string]string{"repository": "r", "timeout": "soon"}}, "invalid timeout"},
		{"negative timeout", Spec{Kind: Package, Identity: "git", Attributes: map[string]string{"timeout": "-1s"}}, "invalid timeout"},
		{"pinned pacman package", Spec{Kind: Package, Identity: "git", Attributes: map[string]string{"via": "pacman", "version": "2.44.0"}}, "pinned version"},
		{"pinned apt package", Spec{Kind: Package, Identity: "git", Attributes: map[string]string{"via": "apt", "version": "1:2.39"}}, ""},
		{"grant needs user", Spec{Kind: Grant, Identity: "g", Attributes: map[string]string{"engine": "mysql"}}, `"user"`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.spec.Validate()
			if tt.wantErr == "" {
				if err != nil {
					t.Fatalf("unexpected error: %v", err)
				}
				return
			}
			if err == nil {
				t.Fatalf("expected error containing %q", tt.wantErr)
			}
			var verr *ValidationError
			if !errors.As(err, &verr) {
				t.Fatalf("error %T is not *ValidationError", err)
			}
			if !strings.Contains(err.Error(), tt.wantErr) {
				t.Errorf("error %q does not contain %q", err, tt.wantErr)
			}
		})
	}
}

func TestValidateCollectsAllIssues(t *testing.T) {
	s := Spec{Kind: "bogus", Identity: "", Guard: &Guard{}}
	err := s.Validate()
	var verr *ValidationError
	if !errors.As(err, &verr) {
		t.Fatalf("expected *ValidationError, got %v", err)
	}
	if len(verr.Issues) != 3 {
		t.Errorf("Issues = %v, want 3", verr.Issues)
	}
}

func TestMode(t *testing.T) {
	s := Spec{Attributes: map[string]string{"mode": "0600"}}
	m, err := s.Mode(0o644)
	if err != nil {
		t.Fatal(err)
	}
	if m != 0o600 {
		t.Errorf("Mode() = %o, want 600", m)
	}

	m, err = Spec{}.Mode(0o644)
	if err != nil {
		t.Fatal(err)
	}
	if m != os.FileMode(0o644) {
		t.Errorf("default Mode() = %o, want 644", m)
	}
}

func TestTimeout(t *testing.T) {
	d, err := Spec{Attributes: map[string]string{"timeout": "2m"}}.Timeout()
	if err != nil || d != 2*time.Minute {
		t.Errorf("Timeout() = %v, %v", d, err)
	}
	if d, err := (Spec{}).Timeout(); d != 0 || err != nil {
		t.Errorf("unset Timeout() = %v, %v", d, err)
	}
}

func TestVarsAndLists(t *testing.T) {
	s := Spec{Attributes: map[string]string{
		"var.fqdn":   "gitlab.local",
		"var.":       "ignored",
		"members":    "vagrant, git ,",
		"privileges": "",
	}}
	vars := s.Vars()
	if len(vars) != 1 || vars["fqdn"] != "gitlab.local" {
		t.Errorf("Vars() = %v", vars)
	}
	if got := s.Members(); len(got) != 2 || got[1] != "git" {
		t.Errorf("Members() = %v", got)
	}
	if got := s.Privileges(); len(got) != 1 || got[0] != "ALL" {
		t.Errorf("Privileges() = %v", got)
	}
}

func TestCloneIsDeep(t *testing.T) {
	orig := Spec{
		Kind:       Command,
		Identity:   "c",
		Attributes: map[string]string{"user": "root"},
		Args:       []string{"true"},
		DependsOn:  []string{"a"},
		Guard:      &Guard{Contains: &Match{Path: "/f", Pattern: "x"}},
	}
	c := orig.Clone()
	c.Attributes["user"] = "vagrant"
	c.Args[0] = "false"
	c.DependsOn[0] = "b"
	c.Guard.Contains.Pattern = "y"

	if orig.Attributes["user"] != "root" || orig.Args[0] != "true" || orig.DependsOn[0] != "a" || orig.Guard.Contains.Pattern != "x" {
		t.Errorf("Clone shares state with original: %+v", orig)
	}
}

func TestDescribeNeverEmpty(t *testing.T) {
	for _, k := range Kinds {
		s := Spec{Kind: k, Identity: "x", Attributes: map[string]string{"engine": "mysql"}}
		if s.Describe() == "" {
			t.Errorf("Describe() empty for %s", k)
		}
	}
}

func TestGuardString(t *testing.T) {
	g := &Guard{Exists: "/home/u/.vagrant_seed", Invert: true}
	if got := g.String(); got != "not(exists /home/u/.vagrant_seed)" {
		t.Errorf("String() = %q", got)
	}
	var nilGuard *Guard
	if nilGuard.String() != "" {
		t.Error("nil guard String() should be empty")
	}
}
