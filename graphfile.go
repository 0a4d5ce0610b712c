package stately

import (
	"fmt"

	"gopkg.in/yaml.v3"

	"github.com/petrijr/stately/pkg/api"
)

// GraphFile is the YAML form of a graph wiring: an entrypoint plus ordered
// transitions. Actions themselves are code and are registered separately;
// the file only declares how they connect.
//
//	entrypoint: counter
//	transitions:
//	  - from: counter
//	    to: counter
//	    when: count < 10
//	  - from: counter
//	    to: done
//
// An absent "when" declares the default transition for its source action.
type GraphFile struct {
	Entrypoint  string                `yaml:"entrypoint"`
	Transitions []GraphFileTransition `yaml:"transitions"`
}

// GraphFileTransition is one edge in a GraphFile. When holds a condition
// expression; empty means the default transition.
type GraphFileTransition struct {
	From string `yaml:"from"`
	To   string `yaml:"to"`
	When string `yaml:"when,omitempty"`
}

// ParseGraphFile decodes a YAML graph wiring.
func ParseGraphFile(data []byte) (*GraphFile, error) {
	var f GraphFile
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("parsing graph file: %w", err)
	}
	if f.Entrypoint == "" {
		return nil, fmt.Errorf("graph file declares no entrypoint")
	}
	if len(f.Transitions) == 0 {
		return nil, fmt.Errorf("graph file declares no transitions")
	}
	return &f, nil
}

// WithGraphFile applies a parsed wiring to the builder: the file's
// entrypoint and every transition, with "when" expressions compiled to
// conditions. Actions referenced by the file are registered with
// WithAction as usual.
func (b *ApplicationBuilder) WithGraphFile(f *GraphFile) *ApplicationBuilder {
	b.WithEntrypoint(f.Entrypoint)
	for _, t := range f.Transitions {
		cond := api.Default()
		if t.When != "" {
			var err error
			cond, err = api.Expr(t.When)
			if err != nil {
				b.errorf("graph file transition %s -> %s: %v", t.From, t.To, err)
				continue
			}
		}
		b.WithTransition(t.From, t.To, cond)
	}
	return b
}
