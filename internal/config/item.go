package config

import (
	"fmt"

	"gopkg.in/yaml.v3"

	"github.com/atomikpanda/converge/internal/spec"
)

// Item is one entry of the actions list. Keys other than the ones below
// become spec attributes and must be scalars:
//
//	- kind: template
//	  name: /home/vagrant/.ssh/config
//	  source: ssh_config.tmpl
//	  mode: "0600"
//	  vars: {fqdn: gitlab.local}
//	  guard: {exists: /home/vagrant/.ssh/config}
//	  depends_on: [directory:/home/vagrant/.ssh]
type Item struct {
	Kind       string
	Name       string
	Attributes map[string]string
	Vars       map[string]string
	Args       []string
	Guard      *spec.Guard
	DependsOn  []string
	OnlyTags   []string
	SkipTags   []string
}

// UnmarshalYAML keeps attribute scalars as written, so mode: 0755 stays
// "0755" rather than becoming a number.
func (i *Item) UnmarshalYAML(n *yaml.Node) error {
	if n.Kind != yaml.MappingNode {
		return fmt.Errorf("line %d: action must be a mapping", n.Line)
	}
	for k := 0; k+1 < len(n.Content); k += 2 {
		key, val := n.Content[k], n.Content[k+1]
		var err error
		switch key.Value {
		case "kind":
			err = val.Decode(&i.Kind)
		case "name":
			err = val.Decode(&i.Name)
		case "vars":
			err = val.Decode(&i.Vars)
		case "args":
			err = val.Decode(&i.Args)
		case "guard":
			err = val.Decode(&i.Guard)
		case "depends_on":
			err = val.Decode(&i.DependsOn)
		case "only_tags":
			err = val.Decode(&i.OnlyTags)
		case "skip_tags":
			err = val.Decode(&i.SkipTags)
		default:
			if val.Kind != yaml.ScalarNode {
				return fmt.Errorf("line %d: attribute %q must be a scalar", val.Line, key.Value)
			}
			if i.Attributes == nil {
				i.Attributes = make(map[string]string)
			}
			i.Attributes[key.Value] = val.Value
		}
		if err != nil {
			return fmt.Errorf("line %d: %s: %w", val.Line, key.Value, err)
		}
	}
	return nil
}
