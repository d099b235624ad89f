// Package prefs loads the envoy preferences file: field defaults applied
// during auto-finalization, trigger phrases that pre-fill draft fields, and
// the team directory used to resolve assignee names.
package prefs

import (
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"
)

// Defaults used when no preferences file is configured. New() references
// them and no other code should duplicate them.
const (
	DefaultPriority = "medium"
	DefaultEffort   = "unknown"
)

// Trigger maps a phrase in the original message to a pre-filled field value.
type Trigger struct {
	Phrase string `yaml:"phrase"`
	Field  string `yaml:"field"`
	Value  string `yaml:"value"`
}

// Member is one entry in the team directory.
type Member struct {
	Name    string   `yaml:"name"`
	SlackID string   `yaml:"slack_id,omitempty"`
	Aliases []string `yaml:"aliases,omitempty"`
}

// Preferences is the parsed preferences file.
type Preferences struct {
	Defaults map[string]string `yaml:"defaults,omitempty"`
	Triggers []Trigger         `yaml:"triggers,omitempty"`
	Team     []Member          `yaml:"team,omitempty"`
}

// New returns preferences with built-in defaults and an empty directory.
func New() *Preferences {
	return &Preferences{
		Defaults: map[string]string{
			"priority":         DefaultPriority,
			"estimated_effort": DefaultEffort,
		},
	}
}

// Load reads a preferences YAML file. A missing file is not an error and
// envoy runs with built-in defaults. An unreadable or invalid file is.
func Load(path string) (*Preferences, error) {
	if path == "" {
		return New(), nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return New(), nil
		}
		return nil, fmt.Errorf("read preferences: %w", err)
	}

	p := New()
	if err := yaml.Unmarshal(data, p); err != nil {
		return nil, fmt.Errorf("parse preferences: %w", err)
	}
	if p.Defaults == nil {
		p.Defaults = New().Defaults
	}
	if _, ok := p.Defaults["priority"]; !ok {
		p.Defaults["priority"] = DefaultPriority
	}
	if _, ok := p.Defaults["estimated_effort"]; !ok {
		p.Defaults["estimated_effort"] = DefaultEffort
	}
	return p, nil
}

// Default returns the configured default for a field, or "".
func (p *Preferences) Default(field string) string {
	return p.Defaults[field]
}

// MatchTriggers returns field pre-fills whose phrase occurs in text,
// case-insensitively. First trigger per field wins.
func (p *Preferences) MatchTriggers(text string) map[string]string {
	lower := strings.ToLower(text)
	out := make(map[string]string)
	for _, t := range p.Triggers {
		if t.Phrase == "" || t.Field == "" {
			continue
		}
		if _, done := out[t.Field]; done {
			continue
		}
		if strings.Contains(lower, strings.ToLower(t.Phrase)) {
			out[t.Field] = t.Value
		}
	}
	return out
}

// ResolveMember finds a team member by name or alias, case-insensitively.
func (p *Preferences) ResolveMember(name string) (Member, bool) {
	needle := strings.ToLower(strings.TrimSpace(name))
	if needle == "" {
		return Member{}, false
	}
	for _, m := range p.Team {
		if strings.ToLower(m.Name) == needle {
			return m, true
		}
		for _, a := range m.Aliases {
			if strings.ToLower(a) == needle {
				return m, true
			}
		}
	}
	return Member{}, false
}

// KnownNames returns every directory name, used in clarifying question
// options.
func (p *Preferences) KnownNames() []string {
	names := make([]string, 0, len(p.Team))
	for _, m := range p.Team {
		names = append(names, m.Name)
	}
	return names
}
