// Package bind matches free-form, header-delimited narrative text against
// the declared section titles. Generators make no guarantee about header
// markers or section coverage, so matching is an ordered, logged rule list:
// exact, containment, positional, literal fallback. A block claimed by one
// section is never claimed again.
package bind

import (
	"fmt"
	"regexp"
	"strings"

	"go.uber.org/zap"

	"chainbrief/internal/report"
	"chainbrief/internal/state"
)

// Matching rule names as they appear in logs and the progress log.
const (
	RuleExact       = "exact"
	RuleContainment = "containment"
	RulePositional  = "positional"
	RuleFallback    = "fallback"
)

// Placeholder is the literal fallback body for sections no block could serve.
const Placeholder = "No generated content was available for this section."

// MatchError reports that no header block could be bound to a required
// section. It is recovered via the literal fallback, never propagated.
type MatchError struct {
	Section string
}

func (e *MatchError) Error() string {
	return fmt.Sprintf("no narrative block matched required section %q", e.Section)
}

// Section is one bound section body, ephemeral input to assembly.
type Section struct {
	Title string
	Body  string
	Rule  string
}

// Block is one header-delimited chunk of the raw narrative.
type Block struct {
	Header  string
	Body    string
	claimed bool
}

// headerLine matches a heading regardless of marker repeat count.
var headerLine = regexp.MustCompile(`^(#+)\s+(.+?)\s*#*\s*$`)

// SplitBlocks cuts the narrative into header-delimited blocks. Text before
// the first header becomes a headerless block claimable only positionally.
func SplitBlocks(text string) []Block {
	var blocks []Block
	var current *Block
	flush := func() {
		if current != nil && (current.Header != "" || strings.TrimSpace(current.Body) != "") {
			current.Body = strings.TrimSpace(current.Body)
			blocks = append(blocks, *current)
		}
		current = nil
	}
	for _, line := range strings.Split(text, "\n") {
		if m := headerLine.FindStringSubmatch(line); m != nil {
			flush()
			current = &Block{Header: m[2]}
			continue
		}
		if current == nil {
			current = &Block{}
		}
		current.Body += line + "\n"
	}
	flush()
	return blocks
}

// Binder binds narrative blocks to section titles.
type Binder struct {
	logger *zap.Logger
}

// New builds a binder.
func New(logger *zap.Logger) *Binder {
	return &Binder{logger: logger}
}

// Bind applies the rule list per section title, in specification order.
// Every match records which rule fired; falling back on a required section
// is logged at warning severity.
func (b *Binder) Bind(st *state.ResearchState, spec *report.Specification, narrative string) []Section {
	blocks := SplitBlocks(narrative)
	out := make([]Section, 0, len(spec.Sections))

	for _, sec := range spec.Sections {
		section := b.bindOne(blocks, sec)
		out = append(out, section)

		st.Record("binding", "match", fmt.Sprintf("%s via %s", sec.Title, section.Rule))
		if section.Rule == RuleFallback && sec.Required {
			err := &MatchError{Section: sec.Title}
			b.logger.Warn("section fell back to placeholder", zap.Error(err))
		} else {
			b.logger.Debug("section bound",
				zap.String("section", sec.Title),
				zap.String("rule", section.Rule))
		}
	}
	return out
}

func (b *Binder) bindOne(blocks []Block, sec report.SectionSpec) Section {
	title := normalizeHeader(sec.Title)

	// Rule 1: exact header match.
	for i := range blocks {
		if blocks[i].claimed || blocks[i].Header == "" {
			continue
		}
		if normalizeHeader(blocks[i].Header) == title {
			blocks[i].claimed = true
			return Section{Title: sec.Title, Body: blocks[i].Body, Rule: RuleExact}
		}
	}

	// Rule 2: containment, either direction, including abbreviated words.
	for i := range blocks {
		if blocks[i].claimed || blocks[i].Header == "" {
			continue
		}
		if containsTitle(normalizeHeader(blocks[i].Header), title) {
			blocks[i].claimed = true
			return Section{Title: sec.Title, Body: blocks[i].Body, Rule: RuleContainment}
		}
	}

	// Rule 3: first unclaimed block in document order.
	for i := range blocks {
		if blocks[i].claimed {
			continue
		}
		blocks[i].claimed = true
		return Section{Title: sec.Title, Body: blocks[i].Body, Rule: RulePositional}
	}

	// Rule 4: literal fallback.
	return Section{Title: sec.Title, Body: Placeholder, Rule: RuleFallback}
}

// normalizeHeader lowercases and strips markers, emphasis, and trailing
// punctuation so "## **Tokenomics:**" compares as "tokenomics".
func normalizeHeader(h string) string {
	h = strings.TrimSpace(h)
	h = strings.Trim(h, "#*_ \t")
	h = strings.TrimSuffix(h, ":")
	return strings.ToLower(strings.Join(strings.Fields(h), " "))
}

// containsTitle reports whether one normalized string contains the other, or
// the two match word by word with one side abbreviated ("exec summary"
// against "executive summary").
func containsTitle(header, title string) bool {
	if header == "" || title == "" {
		return false
	}
	if strings.Contains(header, title) || strings.Contains(title, header) {
		return true
	}
	return abbreviatedMatch(strings.Fields(header), strings.Fields(title))
}

// abbreviatedMatch pairs words positionally; each pair must share a prefix of
// at least three characters with one side a prefix of the other.
func abbreviatedMatch(a, c []string) bool {
	if len(a) != len(c) || len(a) == 0 {
		return false
	}
	for i := range a {
		x, y := a[i], c[i]
		if len(x) < 3 || len(y) < 3 {
			if x != y {
				return false
			}
			continue
		}
		if !strings.HasPrefix(x, y) && !strings.HasPrefix(y, x) {
			return false
		}
	}
	return true
}
