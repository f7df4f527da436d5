package chunker

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"tailorcv/backend/internal/identity"
)

type Strategy string

const (
	// PerItem emits one chunk for every item of a list section.
	PerItem Strategy = "per_item"
	// Whole emits a single chunk for the section, joining list items.
	Whole Strategy = "whole"
)

const defaultSeparator = "\n"

type Rule struct {
	Strategy  Strategy `yaml:"strategy"`
	Separator string   `yaml:"separator,omitempty"`
}

// Policy maps section types to chunking rules. Section types missing from
// the map are chunked as a whole section.
type Policy struct {
	Sections map[string]Rule `yaml:"sections"`
}

func DefaultPolicy() Policy {
	return Policy{Sections: map[string]Rule{
		"experience":     {Strategy: PerItem},
		"projects":       {Strategy: PerItem},
		"leadership":     {Strategy: PerItem},
		"certifications": {Strategy: PerItem},
		"summary":        {Strategy: Whole},
		"skills":         {Strategy: Whole, Separator: ", "},
		"education":      {Strategy: Whole},
	}}
}

// LoadPolicy reads a YAML policy file and layers it over DefaultPolicy.
//
//	sections:
//	  publications: {strategy: per_item}
//	  languages: {strategy: whole, separator: ", "}
func LoadPolicy(path string) (Policy, error) {
	p := DefaultPolicy()
	if path == "" {
		return p, nil
	}

	data, err := os.ReadFile(path) // #nosec G304 -- path comes from operator config
	if err != nil {
		return p, fmt.Errorf("read chunk policy: %w", err)
	}

	var file Policy
	if err := yaml.Unmarshal(data, &file); err != nil {
		return p, fmt.Errorf("parse chunk policy: %w", err)
	}

	for name, rule := range file.Sections {
		switch rule.Strategy {
		case PerItem, Whole:
		default:
			return p, fmt.Errorf("chunk policy: section %q: unknown strategy %q", name, rule.Strategy)
		}
		p.Sections[identity.SectionKey(name)] = rule
	}
	return p, nil
}

func (p Policy) rule(section string) Rule {
	if r, ok := p.Sections[section]; ok {
		if r.Separator == "" {
			r.Separator = defaultSeparator
		}
		return r
	}
	return Rule{Strategy: Whole, Separator: defaultSeparator}
}
