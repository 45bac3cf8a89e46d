// Package catalog provides an in-memory tool catalog snapshot. The validator
// and executor consume it read-only; loading happens once at startup.
package catalog

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/goccy/go-yaml"

	"github.com/weave-hq/weave/internal/core"
)

// Snapshot is an immutable catalog of providers keyed by slug.
type Snapshot struct {
	providers map[string]*core.Provider
}

// New builds a snapshot from a provider list. Later duplicates win.
func New(providers []core.Provider) *Snapshot {
	s := &Snapshot{providers: make(map[string]*core.Provider, len(providers))}
	for i := range providers {
		p := providers[i]
		s.providers[p.Slug] = &p
	}
	return s
}

// Load reads a snapshot from a YAML or JSON file. The format is a list of
// providers under a top-level "providers" key.
func Load(path string) (*Snapshot, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read catalog: %w", err)
	}
	var doc struct {
		Providers []core.Provider `json:"providers" yaml:"providers"`
	}
	switch strings.ToLower(filepath.Ext(path)) {
	case ".json":
		err = json.Unmarshal(raw, &doc)
	default:
		err = yaml.Unmarshal(raw, &doc)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to parse catalog %s: %w", path, err)
	}
	return New(doc.Providers), nil
}

// GetProvider implements core.ToolCatalog.
func (s *Snapshot) GetProvider(slug string) *core.Provider {
	return s.providers[slug]
}

// GetAction implements core.ToolCatalog.
func (s *Snapshot) GetAction(providerSlug, actionName string) *core.ActionSpec {
	p := s.providers[providerSlug]
	if p == nil {
		return nil
	}
	for i := range p.Actions {
		if p.Actions[i].Name == actionName {
			return &p.Actions[i]
		}
	}
	return nil
}

// GetTrigger implements core.ToolCatalog.
func (s *Snapshot) GetTrigger(providerSlug, triggerSlug string) *core.TriggerSpec {
	p := s.providers[providerSlug]
	if p == nil {
		return nil
	}
	for i := range p.Triggers {
		if p.Triggers[i].Slug == triggerSlug {
			return &p.Triggers[i]
		}
	}
	return nil
}

// Providers returns the provider slugs in the snapshot, for diagnostics.
func (s *Snapshot) Providers() []string {
	out := make([]string, 0, len(s.providers))
	for slug := range s.providers {
		out = append(out, slug)
	}
	return out
}
