// Package workload loads the prompt file a run injects into the Mayor,
// together with optional YAML frontmatter that tunes how the run is
// judged. A file without frontmatter injects verbatim and leaves every
// knob at its configured default, which is exactly how the stock
// PROMPT1.md behaves.
package workload

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/google/uuid"
	"gopkg.in/yaml.v3"
)

// fingerprintNS namespaces workload fingerprints so the same prompt body
// yields the same ID on every host.
var fingerprintNS = uuid.MustParse("f8e43a2e-6f01-44c8-9c3d-0f6b7f5f2b11")

// Meta is the frontmatter block. Zero values defer to the config.
type Meta struct {
	Name             string   `yaml:"name"`
	ExpectedPolecats int      `yaml:"expected_polecats"`
	Polecats         []string `yaml:"polecats"`
	ConvoyTitle      string   `yaml:"convoy_title"`
	ConvoyKeywords   []string `yaml:"convoy_keywords"`
	LandedStatuses   []string `yaml:"landed_statuses"`
}

// Workload is a loaded prompt file. Body is what gets nudged to the
// Mayor; frontmatter never leaves the orchestrator.
type Workload struct {
	Path string
	Meta Meta
	Body string
}

// Load reads path and splits optional frontmatter from the prompt body.
func Load(path string) (*Workload, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read workload: %w", err)
	}
	meta, body, err := parseFrontmatter(data)
	if err != nil {
		return nil, fmt.Errorf("workload %s: %w", path, err)
	}

	w := &Workload{Path: path, Meta: meta, Body: body}
	if w.Meta.Name == "" {
		w.Meta.Name = strings.TrimSuffix(filepath.Base(path), filepath.Ext(path))
	}
	if w.Meta.ExpectedPolecats == 0 && len(w.Meta.Polecats) > 0 {
		w.Meta.ExpectedPolecats = len(w.Meta.Polecats)
	}
	return w, nil
}

// parseFrontmatter splits content into frontmatter and body. Content
// without a well-formed delimiter pair is all body.
func parseFrontmatter(content []byte) (Meta, string, error) {
	str := string(content)

	if !strings.HasPrefix(str, "---\n") {
		return Meta{}, str, nil
	}
	end := strings.Index(str[4:], "\n---\n")
	if end == -1 {
		return Meta{}, str, nil
	}

	var meta Meta
	if err := yaml.Unmarshal([]byte(str[4:4+end]), &meta); err != nil {
		return Meta{}, "", fmt.Errorf("parse frontmatter: %w", err)
	}
	return meta, str[4+end+5:], nil
}

// PromptName is the file's base name, the way reports refer to it.
func (w *Workload) PromptName() string {
	return filepath.Base(w.Path)
}

// Fingerprint derives a stable ID from the prompt body so history can
// group runs of the same workload even when the file moves.
func (w *Workload) Fingerprint() string {
	return uuid.NewSHA1(fingerprintNS, []byte(w.Body)).String()
}
