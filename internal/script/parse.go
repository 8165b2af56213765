package script

import (
	"errors"
	"fmt"

	"gopkg.in/yaml.v3"
)

// fileFormat is the on-disk script layout. States are a mapping keyed by state key;
// JSON documents are accepted too since they are valid YAML.
type fileFormat struct {
	Name        string    `yaml:"name"`
	Industry    string    `yaml:"industry"`
	Personality string    `yaml:"personality"`
	Start       string    `yaml:"start"`
	States      yaml.Node `yaml:"states"`
}

// Parse decodes a script document. Declaration order of states is preserved and
// repeated keys are kept so Validate can report them.
func Parse(data []byte) (Script, error) {
	var f fileFormat
	if err := yaml.Unmarshal(data, &f); err != nil {
		return Script{}, fmt.Errorf("script: parse: %w", err)
	}

	s := Script{
		Name:        f.Name,
		Industry:    f.Industry,
		Personality: f.Personality,
		Start:       f.Start,
	}
	if f.States.Kind == 0 {
		return s, nil
	}
	if f.States.Kind != yaml.MappingNode {
		return Script{}, errors.New("script: states must be a mapping of state key to state")
	}

	content := f.States.Content
	for i := 0; i+1 < len(content); i += 2 {
		keyNode, valNode := content[i], content[i+1]
		var st State
		if err := valNode.Decode(&st); err != nil {
			return Script{}, fmt.Errorf("script: state %q (line %d): %w", keyNode.Value, keyNode.Line, err)
		}
		s.States = append(s.States, StateDef{Key: keyNode.Value, State: st})
	}
	return s, nil
}
