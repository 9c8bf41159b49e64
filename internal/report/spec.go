// Package report defines the declarative report specification: the ordered
// section layout and the visualization catalog a run is built from. A
// Specification is loaded (or defaulted) before a run starts and is never
// mutated afterwards.
package report

import (
	"fmt"
	"sort"
)

// Chart kinds understood by the visualization binder and renderers.
const (
	KindLineChart = "line_chart"
	KindBarChart  = "bar_chart"
	KindPieChart  = "pie_chart"
	KindTable     = "table"
	KindTimeline  = "timeline"
)

// Specification is the declarative structure of one report: ordered sections
// plus the catalog of visualizations sections may reference.
type Specification struct {
	Sections       []SectionSpec                `yaml:"sections"`
	Visualizations map[string]VisualizationSpec `yaml:"visualizations"`
}

// SectionSpec declares one section of the final document.
type SectionSpec struct {
	Title    string `yaml:"title"`
	Required bool   `yaml:"required"`
	MinWords int    `yaml:"min_words"`
	MaxWords int    `yaml:"max_words"`

	// Prompt is the section's focus description handed to the text generator.
	Prompt string `yaml:"prompt"`

	// Sources lists the source adapter names this section draws data from,
	// in descending priority.
	Sources []string `yaml:"sources"`

	// DataFields are the merged-map fields this section is expected to
	// populate, beyond those implied by its visualizations.
	DataFields []string `yaml:"data_fields"`

	// Visualizations are keys into Specification.Visualizations, in the
	// order they should appear under the section.
	Visualizations []string `yaml:"visualizations"`
}

// VisualizationSpec declares one chart or table.
type VisualizationSpec struct {
	// Key is the map key; filled during validation so specs can be passed
	// around by value.
	Key string `yaml:"-"`

	Kind       string   `yaml:"kind"`
	Source     string   `yaml:"source"`
	DataFields []string `yaml:"data_fields"`
	Title      string   `yaml:"title"`

	// Description is a substitution template, not free text. Supported
	// placeholders: {subject}, {title}, {points}, {field:<name>}.
	Description string `yaml:"description"`
}

var knownKinds = map[string]bool{
	KindLineChart: true,
	KindBarChart:  true,
	KindPieChart:  true,
	KindTable:     true,
	KindTimeline:  true,
}

// Validate checks structural integrity and fills VisualizationSpec.Key.
// It must be called once after loading and before a run starts.
func (s *Specification) Validate() error {
	if len(s.Sections) == 0 {
		return fmt.Errorf("specification has no sections")
	}
	seen := make(map[string]bool, len(s.Sections))
	for i, sec := range s.Sections {
		if sec.Title == "" {
			return fmt.Errorf("section %d has an empty title", i)
		}
		if seen[sec.Title] {
			return fmt.Errorf("duplicate section title %q", sec.Title)
		}
		seen[sec.Title] = true
		if sec.MinWords < 0 || (sec.MaxWords > 0 && sec.MaxWords < sec.MinWords) {
			return fmt.Errorf("section %q has invalid word budget %d-%d", sec.Title, sec.MinWords, sec.MaxWords)
		}
		for _, key := range sec.Visualizations {
			if _, ok := s.Visualizations[key]; !ok {
				return fmt.Errorf("section %q references unknown visualization %q", sec.Title, key)
			}
		}
	}
	for key, vis := range s.Visualizations {
		if !knownKinds[vis.Kind] {
			return fmt.Errorf("visualization %q has unknown kind %q", key, vis.Kind)
		}
		if len(vis.DataFields) == 0 {
			return fmt.Errorf("visualization %q declares no data fields", key)
		}
		vis.Key = key
		s.Visualizations[key] = vis
	}
	return nil
}

// RequiredSections returns the titles of all sections marked required, in
// specification order.
func (s *Specification) RequiredSections() []string {
	var titles []string
	for _, sec := range s.Sections {
		if sec.Required {
			titles = append(titles, sec.Title)
		}
	}
	return titles
}

// FieldsForSection returns the union of a section's own data fields and the
// fields needed by its visualizations, sorted for determinism.
func (s *Specification) FieldsForSection(sec SectionSpec) []string {
	set := make(map[string]bool)
	for _, f := range sec.DataFields {
		set[f] = true
	}
	for _, key := range sec.Visualizations {
		if vis, ok := s.Visualizations[key]; ok {
			for _, f := range vis.DataFields {
				set[f] = true
			}
		}
	}
	fields := make([]string, 0, len(set))
	for f := range set {
		fields = append(fields, f)
	}
	sort.Strings(fields)
	return fields
}

// AllFields returns every data field any section or visualization declares,
// sorted.
func (s *Specification) AllFields() []string {
	set := make(map[string]bool)
	for _, sec := range s.Sections {
		for _, f := range s.FieldsForSection(sec) {
			set[f] = true
		}
	}
	fields := make([]string, 0, len(set))
	for f := range set {
		fields = append(fields, f)
	}
	sort.Strings(fields)
	return fields
}
