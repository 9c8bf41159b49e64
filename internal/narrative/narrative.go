// Package narrative turns the merged research data into the report's prose.
// A Generator produces one header-delimited document covering every section;
// the binder downstream splits it back apart. When no generator is reachable
// the deterministic fallback keeps required sections non-empty.
package narrative

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"chainbrief/internal/humanize"
	"chainbrief/internal/report"
	"chainbrief/internal/state"
)

// Request carries everything a generator needs for one run.
type Request struct {
	Subject string
	Spec    *report.Specification
	Fields  map[string]state.FieldValue
}

// Generator produces the full narrative text for a run.
type Generator interface {
	// Name identifies the provider for logs.
	Name() string

	// Generate returns header-delimited markdown covering the requested
	// sections. Errors are wrapped in *GenerationError.
	Generate(ctx context.Context, req Request) (string, error)
}

// GenerationError classifies narrative failures so the workflow can degrade
// to the fallback instead of aborting.
type GenerationError struct {
	Provider string
	Reason   string
	Err      error
}

func (e *GenerationError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("narrative generation via %s failed: %s: %v", e.Provider, e.Reason, e.Err)
	}
	return fmt.Sprintf("narrative generation via %s failed: %s", e.Provider, e.Reason)
}

func (e *GenerationError) Unwrap() error { return e.Err }

func genErr(provider, reason string, err error) *GenerationError {
	return &GenerationError{Provider: provider, Reason: reason, Err: err}
}

// moneyFields are merged fields rendered as USD amounts in prompts and
// fallback text.
var moneyFields = map[string]bool{
	report.FieldCurrentPrice: true,
	report.FieldMarketCap:    true,
	report.FieldVolume24h:    true,
	report.FieldTVL:          true,
}

// BuildPrompt assembles the user prompt: subject, a data digest, and the
// exact section layout the generator must reproduce.
func BuildPrompt(subject string, spec *report.Specification, fields map[string]state.FieldValue) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Write a research report on the cryptocurrency project %q.\n\n", subject)

	b.WriteString("Key data gathered for this report:\n")
	b.WriteString(dataDigest(fields))
	b.WriteString("\n")

	b.WriteString("Produce every section below, in order. Start each section with a ")
	b.WriteString("markdown header containing its exact title (for example \"## Executive Summary\"). ")
	b.WriteString("Do not add sections of your own.\n\n")
	for _, sec := range spec.Sections {
		fmt.Fprintf(&b, "## %s\n", sec.Title)
		if sec.Prompt != "" {
			fmt.Fprintf(&b, "Focus: %s\n", sec.Prompt)
		}
		if sec.MinWords > 0 || sec.MaxWords > 0 {
			fmt.Fprintf(&b, "Length: %d-%d words.\n", sec.MinWords, sec.MaxWords)
		}
		b.WriteString("\n")
	}
	return b.String()
}

// SystemPrompt is the fixed instruction framing for all providers.
const SystemPrompt = "You are a cryptocurrency research analyst. Write factual, " +
	"measured prose grounded in the data provided. Never invent specific numbers " +
	"beyond those given. Use plain markdown with '## ' section headers and '- ' bullets."

func dataDigest(fields map[string]state.FieldValue) string {
	names := make([]string, 0, len(fields))
	for name := range fields {
		names = append(names, name)
	}
	sort.Strings(names)

	var b strings.Builder
	for _, name := range names {
		fv := fields[name]
		label := strings.ReplaceAll(name, "_", " ")
		switch v := fv.Value.(type) {
		case float64:
			if moneyFields[name] {
				fmt.Fprintf(&b, "- %s: %s", label, humanize.Money(v))
			} else if name == report.FieldPriceChange24h {
				fmt.Fprintf(&b, "- %s: %s", label, humanize.Percent(v))
			} else {
				fmt.Fprintf(&b, "- %s: %s", label, humanize.Number(v))
			}
		case string:
			fmt.Fprintf(&b, "- %s: %s", label, truncate(v, 400))
		default:
			// Histories and tables are summarized, not inlined.
			fmt.Fprintf(&b, "- %s: available", label)
		}
		if fv.Synthetic {
			b.WriteString(" (estimated)")
		}
		b.WriteString("\n")
	}
	if b.Len() == 0 {
		return "- no structured data available\n"
	}
	return b.String()
}

func truncate(s string, max int) string {
	if len(s) <= max {
		return s
	}
	return s[:max] + "..."
}

// Fallback builds a deterministic narrative from the merged data alone. Every
// section gets a header and at least one sentence, so required sections
// survive a total generator outage.
func Fallback(subject string, spec *report.Specification, fields map[string]state.FieldValue) string {
	var b strings.Builder
	for _, sec := range spec.Sections {
		fmt.Fprintf(&b, "## %s\n\n", sec.Title)
		b.WriteString(fallbackSection(subject, spec, sec, fields))
		b.WriteString("\n\n")
	}
	return strings.TrimSpace(b.String()) + "\n"
}

func fallbackSection(subject string, spec *report.Specification, sec report.SectionSpec, fields map[string]state.FieldValue) string {
	var parts []string
	for _, name := range spec.FieldsForSection(sec) {
		fv, ok := fields[name]
		if !ok {
			continue
		}
		label := strings.ReplaceAll(name, "_", " ")
		switch v := fv.Value.(type) {
		case float64:
			qualifier := ""
			if fv.Synthetic {
				qualifier = " (estimated)"
			}
			if moneyFields[name] {
				parts = append(parts, fmt.Sprintf("The %s of %s stands at %s%s.", label, subject, humanize.Money(v), qualifier))
			} else if name == report.FieldPriceChange24h {
				parts = append(parts, fmt.Sprintf("Over the last 24 hours the price moved %s%s.", humanize.Percent(v), qualifier))
			} else {
				parts = append(parts, fmt.Sprintf("The %s of %s is %s%s.", label, subject, humanize.Number(v), qualifier))
			}
		case string:
			parts = append(parts, truncate(v, 600))
		}
	}
	if len(parts) == 0 {
		return fmt.Sprintf("Detailed narrative for this topic could not be generated for %s in this run.", subject)
	}
	return strings.Join(parts, " ")
}
