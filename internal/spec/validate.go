package spec

import (
	"fmt"
	"regexp"
	"strings"
)

// ValidationError reports a malformed spec or spec graph. It is always fatal
// to a run and is raised before any side effect takes place.
type ValidationError struct {
	// Key names the offending spec, or is empty for graph-level issues.
	Key    string
	Issues []string
}

func (e *ValidationError) Error() string {
	prefix := "invalid spec"
	if e.Key != "" {
		prefix = fmt.Sprintf("invalid spec %s", e.Key)
	}
	if len(e.Issues) == 1 {
		return prefix + ": " + e.Issues[0]
	}
	return prefix + ":\n  - " + strings.Join(e.Issues, "\n  - ")
}

// required lists the attributes each kind cannot be applied without.
var required = map[Kind][]string{
	Template:     {AttrSource},
	Link:         {AttrTo},
	Git:          {AttrRepository},
	DatabaseUser: {AttrEngine},
	Database:     {AttrEngine},
	Grant:        {AttrEngine, AttrUser},
}

// Validate checks s in isolation. Graph-level checks (duplicates, unknown
// references, cycles) belong to the sequencer.
func (s Spec) Validate() error {
	var issues []string

	if !s.Kind.Valid() {
		issues = append(issues, fmt.Sprintf("unknown kind %q", s.Kind))
	}
	if strings.TrimSpace(s.Identity) == "" {
		issues = append(issues, "identity is required")
	}

	for _, dep := range s.DependsOn {
		if dep == "" {
			issues = append(issues, "depends_on contains an empty reference")
			continue
		}
		if dep == s.Key() || dep == s.Identity {
			issues = append(issues, fmt.Sprintf("depends on itself (%q)", dep))
		}
	}

	for _, attr := range required[s.Kind] {
		if s.Attr(attr) == "" {
			issues = append(issues, fmt.Sprintf("%s requires attribute %q", s.Kind, attr))
		}
	}
	if s.Kind == Command && len(s.Args) == 0 && s.Attr(AttrCommand) == "" {
		issues = append(issues, `command requires "args" or attribute "command"`)
	}
	if len(s.Args) > 0 && s.Kind != Command {
		issues = append(issues, fmt.Sprintf("args are only valid on command specs, not %s", s.Kind))
	}

	if raw := s.Attr(AttrMode); raw != "" {
		if _, err := ParseMode(raw); err != nil {
			issues = append(issues, err.Error())
		}
	}
	if raw := s.Attr(AttrTimeout); raw != "" {
		if _, err := s.Timeout(); err != nil {
			issues = append(issues, err.Error())
		}
	}
	if s.Kind == Package && s.Attr(AttrVersion) != "" {
		switch via := s.Attr(AttrVia); via {
		case "pacman", "brew-cask":
			issues = append(issues, fmt.Sprintf("%s cannot install a pinned version", via))
		}
	}
	if s.Kind == Service {
		switch s.Attr(AttrState) {
		case "", "started", "stopped":
		default:
			issues = append(issues, fmt.Sprintf("service state must be started or stopped, got %q", s.Attr(AttrState)))
		}
	}

	if s.Guard != nil {
		switch n := s.Guard.conditions(); {
		case n == 0:
			issues = append(issues, "guard declares no condition")
		case n > 1:
			issues = append(issues, "guard must declare exactly one condition")
		}
		if m := s.Guard.Contains; m != nil {
			if m.Path == "" {
				issues = append(issues, "guard contains.path is required")
			}
			if _, err := regexp.Compile(m.Pattern); err != nil {
				issues = append(issues, fmt.Sprintf("guard contains.pattern: %v", err))
			}
		}
	}

	if len(issues) > 0 {
		return &ValidationError{Key: s.Key(), Issues: issues}
	}
	return nil
}
