package spec

// Guard is a declared skip condition, mirroring not_if / only_if.
//
// Exactly one condition field must be set. The evaluated condition being true
// means the spec is already satisfied and must be skipped; Invert flips that,
// giving only_if semantics ("run only when the condition holds").
type Guard struct {
	Exists   string `yaml:"exists,omitempty" json:"exists,omitempty"`
	Missing  string `yaml:"missing,omitempty" json:"missing,omitempty"`
	Contains *Match `yaml:"contains,omitempty" json:"contains,omitempty"`
	Command  string `yaml:"command,omitempty" json:"command,omitempty"`
	Invert   bool   `yaml:"invert,omitempty" json:"invert,omitempty"`
}

// Match is a grep-style condition: Pattern is a regular expression matched
// against each line of the file at Path.
type Match struct {
	Path    string `yaml:"path" json:"path"`
	Pattern string `yaml:"pattern" json:"pattern"`
}

// conditions counts how many condition fields are populated.
func (g *Guard) conditions() int {
	n := 0
	if g.Exists != "" {
		n++
	}
	if g.Missing != "" {
		n++
	}
	if g.Contains != nil {
		n++
	}
	if g.Command != "" {
		n++
	}
	return n
}

// String renders the guard the way it reads in a manifest.
func (g *Guard) String() string {
	if g == nil {
		return ""
	}
	var s string
	switch {
	case g.Exists != "":
		s = "exists " + g.Exists
	case g.Missing != "":
		s = "missing " + g.Missing
	case g.Contains != nil:
		s = "grep " + g.Contains.Pattern + " " + g.Contains.Path
	case g.Command != "":
		s = "command " + g.Command
	}
	if g.Invert {
		return "not(" + s + ")"
	}
	return s
}
