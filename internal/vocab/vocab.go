// Package vocab maps producer status tokens onto the canonical status enum.
package vocab

import (
	_ "embed"
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/yourorg/remediation-reconciler/internal/model"
)

//go:embed default.yaml
var defaultTable []byte

type Producer struct {
	Name   string            `yaml:"name"`
	Tokens map[string]string `yaml:"tokens"`
}

type file struct {
	Version   int        `yaml:"version"`
	Producers []Producer `yaml:"producers"`
}

// Table is an immutable token lookup built from one or more producers.
type Table struct {
	Version int
	tokens  map[string]model.Status
	owners  map[string]string
}

// Default returns the built-in table.
func Default() *Table {
	t, err := Parse(defaultTable)
	if err != nil {
		panic(fmt.Errorf("built-in status vocabulary: %w", err))
	}
	return t
}

// Load reads a table from path, or returns Default when path is empty.
func Load(path string) (*Table, error) {
	if path == "" {
		return Default(), nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read status vocabulary: %w", err)
	}
	return Parse(data)
}

func Parse(data []byte) (*Table, error) {
	var f file
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("parse status vocabulary: %w", err)
	}
	t := &Table{
		Version: f.Version,
		tokens:  map[string]model.Status{},
		owners:  map[string]string{},
	}
	for _, p := range f.Producers {
		for token, target := range p.Tokens {
			status := model.Status(strings.ToUpper(strings.TrimSpace(target)))
			if !status.Known() {
				return nil, fmt.Errorf("producer %s: token %q maps to unsupported status %q", p.Name, token, target)
			}
			key := normalize(token)
			if owner, dup := t.owners[key]; dup && t.tokens[key] != status {
				return nil, fmt.Errorf("token %q mapped differently by %s and %s", token, owner, p.Name)
			}
			t.tokens[key] = status
			t.owners[key] = p.Name
		}
	}
	return t, nil
}

// Normalize maps a producer token. Unmapped tokens yield StatusUnknown and
// ok=false; callers keep the raw token alongside.
func (t *Table) Normalize(token string) (status model.Status, ok bool) {
	s, ok := t.tokens[normalize(token)]
	if !ok {
		return model.StatusUnknown, false
	}
	return s, true
}

func normalize(token string) string {
	return strings.ToUpper(strings.TrimSpace(token))
}
