// Package prompts renders the LLM prompt templates embedded from JSON files.
// Each file maps a prompt key to a text/template body.
package prompts

import (
	"embed"
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"sync"
	"text/template"
)

//go:embed *.json
var promptFiles embed.FS

// Set is one parsed prompt file.
type Set struct {
	file      string
	templates map[string]*template.Template
}

var (
	setsMu sync.Mutex
	sets   = make(map[string]*Set)
)

// Load parses filename once and caches the result.
func Load(filename string) (*Set, error) {
	setsMu.Lock()
	defer setsMu.Unlock()
	if s, ok := sets[filename]; ok {
		return s, nil
	}

	data, err := promptFiles.ReadFile(filename)
	if err != nil {
		return nil, fmt.Errorf("failed to read prompt file %s: %w", filename, err)
	}
	var raw map[string]string
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("failed to parse prompt file %s: %w", filename, err)
	}

	s := &Set{file: filename, templates: make(map[string]*template.Template, len(raw))}
	for key, body := range raw {
		tpl, err := template.New(key).Option("missingkey=error").Parse(body)
		if err != nil {
			return nil, fmt.Errorf("prompt %s/%s: %w", filename, key, err)
		}
		s.templates[key] = tpl
	}
	sets[filename] = s
	return s, nil
}

// Keys returns the prompt keys in sorted order.
func (s *Set) Keys() []string {
	keys := make([]string, 0, len(s.templates))
	for key := range s.templates {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	return keys
}

// Render executes the prompt key with data. Every placeholder the prompt
// references must be present in data.
func (s *Set) Render(key string, data map[string]string) (string, error) {
	tpl, ok := s.templates[key]
	if !ok {
		return "", fmt.Errorf("prompt key %q not found in %s", key, s.file)
	}
	var sb strings.Builder
	if err := tpl.Execute(&sb, data); err != nil {
		return "", fmt.Errorf("prompt %s/%s: %w", s.file, key, err)
	}
	return sb.String(), nil
}

// Render loads filename and renders key.
func Render(filename, key string, data map[string]string) (string, error) {
	s, err := Load(filename)
	if err != nil {
		return "", err
	}
	return s.Render(key, data)
}
