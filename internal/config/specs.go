package config

import (
	"fmt"
	"maps"
	"slices"
	"strings"

	"github.com/atomikpanda/converge/internal/platform"
	"github.com/atomikpanda/converge/internal/render"
	"github.com/atomikpanda/converge/internal/spec"
	"github.com/atomikpanda/converge/internal/tags"
)

// pathKinds have a filesystem path as identity.
var pathKinds = []spec.Kind{spec.Directory, spec.File, spec.Template, spec.Link, spec.Git}

// pathAttrs hold filesystem paths.
var pathAttrs = []string{spec.AttrTo, spec.AttrCwd, spec.AttrHome}

// Specs converts the actions that apply to this machine into specs, in
// manifest order. Attribute values, names and arguments are rendered as
// inline templates over the manifest vars and the action's own vars, then
// paths get "~" and $VAR expansion.
//
// An action is dropped when its tags do not match machineTags or when it is
// a package bound to a package manager of another OS. Dependencies on
// dropped actions are removed from the remaining specs unless a kept action
// answers to the same reference. The keys of dropped
// actions are returned alongside the specs.
//
// Problems are collected into a single *spec.ValidationError.
func (m *Manifest) Specs(machineTags []string, goos string) ([]spec.Spec, []string, error) {
	var (
		specs   []spec.Spec
		dropped []string
		issues  []string
		gone    = make(map[string]bool)
	)
	for i, item := range m.Actions {
		s, err := m.toSpec(item)
		if err != nil {
			issues = append(issues, fmt.Sprintf("actions[%d] %s: %v", i, item.Name, err))
			continue
		}
		if !tags.Matches(machineTags, item.OnlyTags, item.SkipTags) || wrongOS(s, goos) {
			dropped = append(dropped, s.Key())
			gone[s.Key()] = true
			gone[s.Identity] = true
			continue
		}
		specs = append(specs, s)
	}
	if len(issues) > 0 {
		return nil, nil, &spec.ValidationError{Issues: issues}
	}
	// A kept action with the same key or identity still satisfies the ref.
	for _, s := range specs {
		delete(gone, s.Key())
		delete(gone, s.Identity)
	}
	if len(gone) > 0 {
		for i := range specs {
			specs[i].DependsOn = slices.DeleteFunc(specs[i].DependsOn, func(ref string) bool { return gone[ref] })
		}
	}
	return specs, dropped, nil
}

func wrongOS(s spec.Spec, goos string) bool {
	if s.Kind != spec.Package {
		return false
	}
	target := platform.PackageManagerOS(s.Attr(spec.AttrVia))
	return target != "" && target != goos
}

func (m *Manifest) toSpec(item Item) (spec.Spec, error) {
	kind, err := spec.ParseKind(item.Kind)
	if err != nil {
		return spec.Spec{}, err
	}
	vars := maps.Clone(m.Vars)
	if vars == nil {
		vars = make(map[string]any)
	}
	for k, v := range item.Vars {
		vars[k] = v
	}

	s := spec.Spec{
		Kind:       kind,
		Attributes: make(map[string]string, len(item.Attributes)+len(item.Vars)),
		DependsOn:  slices.Clone(item.DependsOn),
	}
	if s.Identity, err = render.String(item.Name, vars); err != nil {
		return spec.Spec{}, err
	}
	if slices.Contains(pathKinds, kind) {
		s.Identity = platform.ExpandPath(s.Identity)
	}

	for k, v := range item.Attributes {
		if v, err = render.String(v, vars); err != nil {
			return spec.Spec{}, fmt.Errorf("%s: %w", k, err)
		}
		if slices.Contains(pathAttrs, k) {
			v = platform.ExpandPath(v)
		}
		s.Attributes[k] = v
	}
	for k, v := range item.Vars {
		s.Attributes[spec.VarPrefix+k] = v
	}
	for _, a := range item.Args {
		a, err = render.String(a, vars)
		if err != nil {
			return spec.Spec{}, fmt.Errorf("args: %w", err)
		}
		s.Args = append(s.Args, a)
	}

	if item.Guard != nil {
		g, err := renderGuard(*item.Guard, vars)
		if err != nil {
			return spec.Spec{}, fmt.Errorf("guard: %w", err)
		}
		s.Guard = &g
	}

	for j, ref := range s.DependsOn {
		ref = platform.ExpandPath(ref)
		if kindName, id, ok := strings.Cut(ref, ":"); ok {
			if k, err := spec.ParseKind(kindName); err == nil {
				ref = string(k) + ":" + platform.ExpandPath(id)
			}
		}
		s.DependsOn[j] = ref
	}

	if err := s.Validate(); err != nil {
		return spec.Spec{}, err
	}
	return s, nil
}

func renderGuard(g spec.Guard, vars map[string]any) (spec.Guard, error) {
	var err error
	for _, f := range []*string{&g.Exists, &g.Missing, &g.Command} {
		if *f, err = render.String(*f, vars); err != nil {
			return spec.Guard{}, err
		}
	}
	g.Exists = platform.ExpandPath(g.Exists)
	g.Missing = platform.ExpandPath(g.Missing)
	if g.Contains != nil {
		c := *g.Contains
		if c.Path, err = render.String(c.Path, vars); err != nil {
			return spec.Guard{}, fmt.Errorf("contains.path: %w", err)
		}
		if c.Pattern, err = render.String(c.Pattern, vars); err != nil {
			return spec.Guard{}, fmt.Errorf("contains.pattern: %w", err)
		}
		c.Path = platform.ExpandPath(c.Path)
		g.Contains = &c
	}
	return g, nil
}
