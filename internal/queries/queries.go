// Package queries holds the phase 7 query plan: which PromQL expressions
// are rendered as formatted blocks and which LogsQL expressions become the
// event-count table. The built-in catalog matches the stock Gastown
// deployment; a config-supplied YAML file can replace it for instrumented
// forks.
package queries

import (
	_ "embed"
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

//go:embed catalog.yaml
var builtin []byte

// Query pairs a human-readable label with the expression evaluated for it.
type Query struct {
	Label string `yaml:"label"`
	Query string `yaml:"query"`
}

// MetricGroup is one report section of PromQL queries.
type MetricGroup struct {
	Title   string  `yaml:"title"`
	Queries []Query `yaml:"queries"`
}

// LogGroup is the LogsQL section rendered as a count table.
type LogGroup struct {
	Title   string  `yaml:"title"`
	Queries []Query `yaml:"queries"`
}

// Catalog is the full phase 7 plan. Group and query order is the order
// they appear in the report.
type Catalog struct {
	MetricGroups []MetricGroup `yaml:"metric_groups"`
	LogCounts    LogGroup      `yaml:"log_counts"`
}

// Parse decodes and validates a catalog document.
func Parse(data []byte) (Catalog, error) {
	var c Catalog
	if err := yaml.Unmarshal(data, &c); err != nil {
		return Catalog{}, fmt.Errorf("parse query catalog: %w", err)
	}
	for gi, g := range c.MetricGroups {
		if g.Title == "" {
			return Catalog{}, fmt.Errorf("metric group %d: missing title", gi+1)
		}
		for qi, q := range g.Queries {
			if q.Label == "" || q.Query == "" {
				return Catalog{}, fmt.Errorf("metric group %q, entry %d: label and query are both required", g.Title, qi+1)
			}
		}
	}
	for qi, q := range c.LogCounts.Queries {
		if q.Label == "" || q.Query == "" {
			return Catalog{}, fmt.Errorf("log counts entry %d: label and query are both required", qi+1)
		}
	}
	return c, nil
}

// Load reads a catalog from a YAML file.
func Load(path string) (Catalog, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Catalog{}, fmt.Errorf("read query catalog: %w", err)
	}
	return Parse(data)
}

// Default returns the built-in catalog. The embedded document is validated
// at build time by the package tests, so a decode failure here is a
// programming error.
func Default() Catalog {
	c, err := Parse(builtin)
	if err != nil {
		panic(fmt.Sprintf("queries: embedded catalog invalid: %v", err))
	}
	return c
}
