// Package plan expands a report specification into the ordered list of
// data-gathering tasks the aggregator executes.
package plan

import (
	"sort"
	"strings"

	"chainbrief/internal/report"
)

// Task is one planned fetch: a source queried for a set of fields on behalf
// of one or more sections.
type Task struct {
	// Source is the adapter name to query.
	Source string

	// Fields the querying sections expect this fetch to populate, sorted.
	Fields []string

	// Sections lists every section title this task serves, in spec order.
	Sections []string
}

// DedupeKey identifies a task for planning purposes: two sections asking the
// same source for the same field set share one task.
func (t Task) DedupeKey() string {
	return t.Source + "|" + strings.Join(t.Fields, ",")
}

// Build emits one task per (section, source) pair, deduplicated by
// (source, field-set), preserving specification order. Sections with no
// declared fields for a source still plan a fetch so free-text sources are
// consulted for narrative context.
func Build(spec *report.Specification) []Task {
	var tasks []Task
	index := make(map[string]int)

	for _, sec := range spec.Sections {
		fields := spec.FieldsForSection(sec)
		for _, source := range sec.Sources {
			task := Task{
				Source:   source,
				Fields:   fieldsForSource(spec, sec, source, fields),
				Sections: []string{sec.Title},
			}
			key := task.DedupeKey()
			if i, ok := index[key]; ok {
				tasks[i].Sections = appendUnique(tasks[i].Sections, sec.Title)
				continue
			}
			index[key] = len(tasks)
			tasks = append(tasks, task)
		}
	}
	return tasks
}

// fieldsForSource narrows a section's field set to what the given source can
// serve: fields whose visualization declares this source, plus the section's
// own data fields. Sources with nothing specific still carry the section's
// plain fields so merge priority can arbitrate.
func fieldsForSource(spec *report.Specification, sec report.SectionSpec, source string, all []string) []string {
	visFields := make(map[string]string)
	for _, key := range sec.Visualizations {
		if vis, ok := spec.Visualizations[key]; ok {
			for _, f := range vis.DataFields {
				visFields[f] = vis.Source
			}
		}
	}
	var fields []string
	for _, f := range all {
		if owner, ok := visFields[f]; ok && owner != source {
			continue
		}
		fields = append(fields, f)
	}
	sort.Strings(fields)
	return fields
}

func appendUnique(list []string, v string) []string {
	for _, s := range list {
		if s == v {
			return list
		}
	}
	return append(list, v)
}
