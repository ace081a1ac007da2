// Package spec defines ActionSpec, the immutable description of one unit of
// desired host state, and the validation rules every spec must pass before a
// run is allowed to touch the machine.
package spec

import (
	"fmt"
	"maps"
	"os"
	"slices"
	"strconv"
	"strings"
	"time"
)

// Kind names the type of resource a spec converges.
type Kind string

const (
	Package      Kind = "package"
	Directory    Kind = "directory"
	File         Kind = "file"
	Template     Kind = "template"
	Link         Kind = "link"
	Git          Kind = "git"
	Command      Kind = "command"
	Service      Kind = "service"
	User         Kind = "user"
	Group        Kind = "group"
	DatabaseUser Kind = "database_user"
	Database     Kind = "database"
	Grant        Kind = "grant"
)

// Kinds lists every supported kind in documentation order.
var Kinds = []Kind{
	Package, Directory, File, Template, Link, Git, Command,
	Service, User, Group, DatabaseUser, Database, Grant,
}

// Valid reports whether k is a known kind.
func (k Kind) Valid() bool {
	return slices.Contains(Kinds, k)
}

// ParseKind converts s to a Kind. Dashes are accepted in place of
// underscores so "database-user" and "database_user" are equivalent.
func ParseKind(s string) (Kind, error) {
	k := Kind(strings.ReplaceAll(strings.ToLower(strings.TrimSpace(s)), "-", "_"))
	if !k.Valid() {
		return "", fmt.Errorf("unknown kind %q", s)
	}
	return k, nil
}

// Spec is a single desired-state unit.
//
// Attributes are passed verbatim to the collaborator that applies the spec.
// Well-known attribute names are declared as Attr* constants.
type Spec struct {
	Kind       Kind
	Identity   string
	Attributes map[string]string
	Guard      *Guard
	// Args is the argv of a command spec, executed without a shell.
	Args      []string
	DependsOn []string
}

// Well-known attribute names.
const (
	AttrOwner      = "owner"
	AttrGroup      = "group"
	AttrMode       = "mode"
	AttrSource     = "source"
	AttrContent    = "content"
	AttrTo         = "to"
	AttrRepository = "repository"
	AttrReference  = "reference"
	AttrCommand    = "command"
	AttrUser       = "user"
	AttrCwd        = "cwd"
	AttrState      = "state"
	AttrEngine     = "engine"
	AttrVersion    = "version"
	AttrVia        = "via"
	AttrMembers    = "members"
	AttrHome       = "home"
	AttrShell      = "shell"
	AttrPassword   = "password_secret"
	AttrDatabase   = "database"
	AttrPrivileges = "privileges"
	AttrRecursive  = "recursive"
	AttrTimeout    = "timeout"
	AttrSudo       = "sudo"

	// VarPrefix marks per-spec template variables ("var.fqdn").
	VarPrefix = "var."
)

// Key returns the run-unique name of the spec, "kind:identity".
func (s Spec) Key() string {
	return string(s.Kind) + ":" + s.Identity
}

// Attr returns the named attribute, or "" when unset.
func (s Spec) Attr(name string) string {
	return s.Attributes[name]
}

// ObjectName returns the name of the object the spec manages. An identity
// may carry an "<engine>/" prefix so the same database user can be declared
// once per server; the prefix is not part of the name.
func (s Spec) ObjectName() string {
	if e := s.Attr(AttrEngine); e != "" {
		if name, ok := strings.CutPrefix(s.Identity, e+"/"); ok {
			return name
		}
	}
	return s.Identity
}

// Bool interprets the named attribute as a boolean. Unset or unparsable
// values are false.
func (s Spec) Bool(name string) bool {
	v, err := strconv.ParseBool(s.Attributes[name])
	return err == nil && v
}

// Mode parses the "mode" attribute as a Unix octal string, returning def
// when it is unset.
func (s Spec) Mode(def os.FileMode) (os.FileMode, error) {
	raw := s.Attr(AttrMode)
	if raw == "" {
		return def, nil
	}
	return ParseMode(raw)
}

// Timeout parses the "timeout" attribute. Zero means unset.
func (s Spec) Timeout() (time.Duration, error) {
	raw := s.Attr(AttrTimeout)
	if raw == "" {
		return 0, nil
	}
	d, err := time.ParseDuration(strings.TrimSpace(raw))
	if err != nil || d <= 0 {
		return 0, fmt.Errorf("invalid timeout %q: want a positive duration such as 90s", raw)
	}
	return d, nil
}

// Members splits the comma-separated "members" attribute.
func (s Spec) Members() []string {
	return splitList(s.Attr(AttrMembers))
}

// Privileges splits the comma-separated "privileges" attribute, defaulting
// to ALL.
func (s Spec) Privileges() []string {
	p := splitList(s.Attr(AttrPrivileges))
	if len(p) == 0 {
		return []string{"ALL"}
	}
	return p
}

// Vars returns the per-spec template variables declared with the "var."
// attribute prefix, with the prefix stripped.
func (s Spec) Vars() map[string]string {
	vars := make(map[string]string)
	for k, v := range s.Attributes {
		if name, ok := strings.CutPrefix(k, VarPrefix); ok && name != "" {
			vars[name] = v
		}
	}
	return vars
}

// Clone returns a deep copy so callers cannot mutate a spec held by a plan.
func (s Spec) Clone() Spec {
	c := s
	c.Attributes = maps.Clone(s.Attributes)
	c.Args = slices.Clone(s.Args)
	c.DependsOn = slices.Clone(s.DependsOn)
	if s.Guard != nil {
		g := *s.Guard
		if s.Guard.Contains != nil {
			m := *s.Guard.Contains
			g.Contains = &m
		}
		c.Guard = &g
	}
	return c
}

// Describe returns a short human-readable summary of the spec. It never
// includes attribute values that could carry secrets.
func (s Spec) Describe() string {
	switch s.Kind {
	case Package:
		if v := s.Attr(AttrVersion); v != "" {
			return fmt.Sprintf("install package %q (%s)", s.Identity, v)
		}
		return fmt.Sprintf("install package %q", s.Identity)
	case Directory:
		return fmt.Sprintf("create directory %s", s.Identity)
	case File:
		return fmt.Sprintf("write file %s", s.Identity)
	case Template:
		return fmt.Sprintf("render %s -> %s", s.Attr(AttrSource), s.Identity)
	case Link:
		return fmt.Sprintf("link %s -> %s", s.Identity, s.Attr(AttrTo))
	case Git:
		return fmt.Sprintf("checkout %s into %s", s.Attr(AttrRepository), s.Identity)
	case Command:
		if u := s.Attr(AttrUser); u != "" {
			return fmt.Sprintf("run %q as %s", s.Identity, u)
		}
		return fmt.Sprintf("run %q", s.Identity)
	case Service:
		return fmt.Sprintf("service %s %s", s.Identity, s.desiredServiceState())
	case User:
		return fmt.Sprintf("create user %s", s.Identity)
	case Group:
		if m := s.Members(); len(m) > 0 {
			return fmt.Sprintf("group %s members %s", s.Identity, strings.Join(m, ","))
		}
		return fmt.Sprintf("create group %s", s.Identity)
	case DatabaseUser:
		return fmt.Sprintf("%s user %s", s.Attr(AttrEngine), s.ObjectName())
	case Database:
		return fmt.Sprintf("%s database %s", s.Attr(AttrEngine), s.ObjectName())
	case Grant:
		return fmt.Sprintf("%s grant %s on %s", s.Attr(AttrEngine), strings.Join(s.Privileges(), ","), s.grantTarget())
	default:
		return s.Key()
	}
}

func (s Spec) desiredServiceState() string {
	if st := s.Attr(AttrState); st != "" {
		return st
	}
	return "started"
}

func (s Spec) grantTarget() string {
	if db := s.Attr(AttrDatabase); db != "" {
		return db
	}
	return "*"
}

// ParseMode parses a Unix octal permission string such as "0644" or "755".
func ParseMode(s string) (os.FileMode, error) {
	v, err := strconv.ParseUint(strings.TrimSpace(s), 8, 32)
	if err != nil {
		return 0, fmt.Errorf("invalid mode %q: %w", s, err)
	}
	if v > 0o7777 {
		return 0, fmt.Errorf("invalid mode %q: out of range", s)
	}
	return os.FileMode(v), nil
}

func splitList(raw string) []string {
	var out []string
	for _, p := range strings.Split(raw, ",") {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}
