// Package catalog supplies model metadata: which models exist, their
// capability flags, token limits, cost tables, and the environment
// variable naming their credentials.
//
// The client core treats the catalog as read-only. A request resolves its
// Model once and keeps that value for its whole lifetime; refreshing the
// catalog produces a new Snapshot and never disturbs in-flight calls.
package catalog

import (
	"fmt"
	"os"
	"path"

	"gopkg.in/yaml.v3"

	"github.com/patchbay-ai/patchbay/internal/registry"
)

// Capabilities are the feature flags gating option translation.
type Capabilities struct {
	Reasoning     bool `yaml:"reasoning" json:"reasoning"`
	ToolCalls     bool `yaml:"tool_calls" json:"tool_calls"`
	ToolStreaming bool `yaml:"tool_streaming" json:"tool_streaming"`
	JSONSchema    bool `yaml:"json_schema" json:"json_schema"`
	StreamingText bool `yaml:"streaming_text" json:"streaming_text"`
}

// Limits are the model's token budgets.
type Limits struct {
	ContextWindow int `yaml:"context_window" json:"context_window"`
	MaxOutput     int `yaml:"max_output" json:"max_output"`
}

// Cost is the per-million-token price table.
type Cost struct {
	InputPerMTok  float64 `yaml:"input_per_mtok" json:"input_per_mtok"`
	OutputPerMTok float64 `yaml:"output_per_mtok" json:"output_per_mtok"`
}

// Model is one resolved catalog entry. Values are copied out of the
// catalog on resolution, so a Model held by a request is immune to
// concurrent catalog refreshes.
type Model struct {
	Provider     string       `yaml:"provider" json:"provider"`
	ID           string       `yaml:"id" json:"id"`
	Capabilities Capabilities `yaml:"capabilities" json:"capabilities"`
	Limits       Limits       `yaml:"limits" json:"limits"`
	Cost         Cost         `yaml:"cost" json:"cost"`

	// CredentialEnv names the environment variable holding the API key
	// (or, for signed providers, the access-key id; the remaining tuple
	// members follow AWS conventions).
	CredentialEnv string `yaml:"credential_env" json:"credential_env"`

	// Endpoint overrides the adapter's default base URL when set.
	Endpoint string `yaml:"endpoint,omitempty" json:"endpoint,omitempty"`

	// Region is the signing region for SigV4-style providers.
	Region string `yaml:"region,omitempty" json:"region,omitempty"`
}

// Ref returns the "provider/id" reference for the model.
func (m Model) Ref() string { return m.Provider + "/" + m.ID }

// NotFoundError reports a reference the catalog has no entry for.
type NotFoundError struct {
	Provider string
	Model    string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("catalog: no entry for %s/%s", e.Provider, e.Model)
}

// Catalog is the read-only view the client core consumes.
type Catalog interface {
	// Resolve returns the entry for provider/model, or a NotFoundError.
	Resolve(provider, model string) (Model, error)

	// Allowed reports whether the allow/deny configuration permits
	// dispatching to provider/model. Evaluated before any encoding.
	Allowed(provider, model string) bool
}

// Snapshot is an immutable Catalog built from static entries or a YAML
// file. Deny patterns win over allow patterns; an empty allow list
// permits everything not denied. Patterns match "provider/id" with
// path.Match semantics.
type Snapshot struct {
	models registry.Registry[Model]
	allow  []string
	deny   []string
}

var _ Catalog = (*Snapshot)(nil)

// New builds a snapshot from static entries, allowing everything.
func New(models ...Model) *Snapshot {
	s := &Snapshot{models: registry.New[Model]()}
	for _, m := range models {
		s.models.Add(m.Ref(), m)
	}
	return s
}

// file is the on-disk catalog shape.
type file struct {
	Models []Model  `yaml:"models"`
	Allow  []string `yaml:"allow"`
	Deny   []string `yaml:"deny"`
}

// Load reads a YAML catalog file.
func Load(path string) (*Snapshot, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("catalog: read %s: %w", path, err)
	}
	return Parse(raw)
}

// Parse decodes YAML catalog bytes.
func Parse(raw []byte) (*Snapshot, error) {
	var f file
	if err := yaml.Unmarshal(raw, &f); err != nil {
		return nil, fmt.Errorf("catalog: parse: %w", err)
	}
	for i, m := range f.Models {
		if m.Provider == "" || m.ID == "" {
			return nil, fmt.Errorf("catalog: entry %d missing provider or id", i)
		}
	}
	s := New(f.Models...)
	s.allow = f.Allow
	s.deny = f.Deny
	return s, nil
}

// WithRules returns a copy of the snapshot using the given allow/deny
// patterns.
func (s *Snapshot) WithRules(allow, deny []string) *Snapshot {
	return &Snapshot{models: s.models, allow: allow, deny: deny}
}

func (s *Snapshot) Resolve(provider, model string) (Model, error) {
	m, ok := s.models.Get(provider + "/" + model)
	if !ok {
		return Model{}, &NotFoundError{Provider: provider, Model: model}
	}
	return m, nil
}

func (s *Snapshot) Allowed(provider, model string) bool {
	ref := provider + "/" + model
	for _, pattern := range s.deny {
		if matched, _ := path.Match(pattern, ref); matched {
			return false
		}
	}
	if len(s.allow) == 0 {
		return true
	}
	for _, pattern := range s.allow {
		if matched, _ := path.Match(pattern, ref); matched {
			return true
		}
	}
	return false
}

// Refs lists every model reference in the snapshot.
func (s *Snapshot) Refs() []string { return s.models.Keys() }
