// Package persona loads the named presets that control which tools a session
// may use and how cautiously it behaves. Personas are configuration: loaded
// once, never mutated.
package persona

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	toml "github.com/pelletier/go-toml/v2"
)

type Persona struct {
	Name                string   `toml:"name"`
	Description         string   `toml:"description"`
	AllowedTools        []string `toml:"allowed_tools"`
	RequireConfirmation *bool    `toml:"require_confirmation"`
	RecallFindings      bool     `toml:"recall_findings"`
	DangerousActions    []string `toml:"dangerous_actions"`
}

// Default is the persona used when none is named: every registered tool is
// allowed and the configured safety settings apply unchanged.
func Default() Persona {
	return Persona{Name: "default", Description: "All tools, configured safety defaults"}
}

// ToolAllowed reports whether the persona permits the named tool. An empty
// allow list permits everything.
func (p Persona) ToolAllowed(tool string) bool {
	if len(p.AllowedTools) == 0 {
		return true
	}
	tool = strings.ToLower(strings.TrimSpace(tool))
	for _, allowed := range p.AllowedTools {
		if strings.ToLower(strings.TrimSpace(allowed)) == tool {
			return true
		}
	}
	return false
}

// Load reads <dir>/<name>.toml.
func Load(dir, name string) (Persona, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return Default(), nil
	}
	if name != filepath.Base(name) {
		return Persona{}, fmt.Errorf("invalid persona name: %q", name)
	}
	path := filepath.Join(dir, name+".toml")
	data, err := os.ReadFile(path)
	if err != nil {
		return Persona{}, fmt.Errorf("read persona %s: %w", name, err)
	}
	var p Persona
	if err := toml.Unmarshal(data, &p); err != nil {
		return Persona{}, fmt.Errorf("parse persona %s: %w", name, err)
	}
	if p.Name == "" {
		p.Name = name
	}
	return p, nil
}

// List returns the persona names available in dir, sorted. A missing dir is
// an empty list, not an error.
func List(dir string) ([]string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("read personas dir: %w", err)
	}
	names := []string{}
	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".toml") {
			continue
		}
		names = append(names, strings.TrimSuffix(entry.Name(), ".toml"))
	}
	sort.Strings(names)
	return names, nil
}
