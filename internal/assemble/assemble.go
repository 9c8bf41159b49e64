// Package assemble flattens the bound sections, artifacts, and references
// into an ordered list of draw commands. The assembler performs no drawing;
// a DocumentRenderer turns the commands into the final artifact.
package assemble

import (
	"context"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"chainbrief/internal/bind"
	"chainbrief/internal/humanize"
	"chainbrief/internal/report"
	"chainbrief/internal/state"
	"chainbrief/internal/viz"
)

// Draw command kinds, in the order a renderer may encounter them.
const (
	CmdTitlePage    = "title_page"
	CmdHeading      = "heading"
	CmdParagraph    = "paragraph"
	CmdImage        = "image"
	CmdTable        = "table"
	CmdMissing      = "missing"
	CmdCaption      = "caption"
	CmdSectionBreak = "section_break"
)

// DrawCommand is one renderer instruction. Which payload fields are set
// depends on Kind.
type DrawCommand struct {
	Kind     string
	Text     string
	Subtitle string
	Path     string
	Table    [][]string
}

// DocumentRenderer turns draw commands into the final document and returns
// its path.
type DocumentRenderer interface {
	Render(ctx context.Context, subject string, cmds []DrawCommand) (string, error)
}

// Disclaimer closes every assembled report.
const Disclaimer = "This report is generated from public data sources and " +
	"may include estimated values where live data was unavailable. It is for " +
	"informational purposes only and is not financial advice."

// Assembler builds the draw-command list for a run.
type Assembler struct {
	logger *zap.Logger
	now    func() time.Time
}

// New builds an assembler.
func New(logger *zap.Logger) *Assembler {
	return &Assembler{logger: logger, now: time.Now}
}

// Build walks the specification in order and emits the full command list:
// title page, sections with their visualizations, the deduplicated reference
// list, and the closing disclaimer.
func (a *Assembler) Build(st *state.ResearchState, spec *report.Specification, sections []bind.Section) []DrawCommand {
	bodies := make(map[string]string, len(sections))
	for _, sec := range sections {
		bodies[sec.Title] = sec.Body
	}

	cmds := []DrawCommand{{
		Kind:     CmdTitlePage,
		Text:     fmt.Sprintf("%s Research Report", st.Subject),
		Subtitle: a.now().Format("January 2, 2006"),
	}}

	for _, sec := range spec.Sections {
		cmds = append(cmds, DrawCommand{Kind: CmdHeading, Text: sec.Title})
		for _, para := range splitParagraphs(bodies[sec.Title]) {
			cmds = append(cmds, DrawCommand{Kind: CmdParagraph, Text: para})
		}
		for _, key := range sec.Visualizations {
			cmds = append(cmds, a.artifactCommands(st, key)...)
		}
		cmds = append(cmds, DrawCommand{Kind: CmdSectionBreak})
	}

	if refs := dedupeReferences(st.References); len(refs) > 0 {
		cmds = append(cmds, DrawCommand{Kind: CmdHeading, Text: "References"})
		for _, ref := range refs {
			text := ref.URL
			if ref.Title != "" {
				text = ref.Title + " - " + ref.URL
			}
			cmds = append(cmds, DrawCommand{Kind: CmdParagraph, Text: "• " + text})
		}
		cmds = append(cmds, DrawCommand{Kind: CmdSectionBreak})
	}

	cmds = append(cmds, DrawCommand{Kind: CmdParagraph, Text: Disclaimer})
	a.logger.Debug("document assembled",
		zap.String("subject", st.Subject), zap.Int("commands", len(cmds)))
	return cmds
}

// artifactCommands emits the block for one visualization key: an image or
// inline table with its caption, or an explicit missing marker. Assembly
// never dereferences a nonexistent artifact.
func (a *Assembler) artifactCommands(st *state.ResearchState, key string) []DrawCommand {
	artifact, ok := st.Artifacts[key]
	if !ok || artifact.Missing {
		title := key
		if ok {
			title = artifact.Title
		}
		return []DrawCommand{{
			Kind: CmdMissing,
			Text: fmt.Sprintf("[%s unavailable in this run]", title),
		}}
	}
	var cmds []DrawCommand
	if artifact.FilePath != "" {
		cmds = append(cmds, DrawCommand{Kind: CmdImage, Path: artifact.FilePath, Text: artifact.Title})
	} else {
		cmds = append(cmds, DrawCommand{
			Kind:  CmdTable,
			Text:  artifact.Title,
			Table: tableRows(st, artifact),
		})
	}
	if artifact.Description != "" {
		cmds = append(cmds, DrawCommand{Kind: CmdCaption, Text: artifact.Description})
	}
	return cmds
}

// tableRows materializes an inline-data artifact into rows, header first.
func tableRows(st *state.ResearchState, artifact state.Artifact) [][]string {
	if len(artifact.Fields) == 1 {
		if fv, ok := st.Field(artifact.Fields[0]); ok {
			if rows := competitorRows(fv.Value); rows != nil {
				return rows
			}
			if series, ok := viz.CoerceSeries(fv.Value); ok {
				return seriesRows(series)
			}
		}
	}
	rows := [][]string{{"Metric", "Value"}}
	for _, name := range artifact.Fields {
		fv, ok := st.Field(name)
		if !ok {
			continue
		}
		label := titleWords(strings.ReplaceAll(name, "_", " "))
		rows = append(rows, []string{label, humanize.Value(fv.Value, moneyField(name))})
	}
	return rows
}

func competitorRows(v any) [][]string {
	entries, ok := v.([]any)
	if !ok {
		if typed, isTyped := v.([]map[string]any); isTyped {
			for _, e := range typed {
				entries = append(entries, e)
			}
		}
	}
	if len(entries) == 0 {
		return nil
	}
	rows := [][]string{{"Name", "Symbol", "Market Cap", "24h Change"}}
	for _, e := range entries {
		m, ok := e.(map[string]any)
		if !ok {
			return nil
		}
		name, _ := m["name"].(string)
		symbol, _ := m["symbol"].(string)
		if name == "" && symbol == "" {
			return nil
		}
		capText, changeText := "-", "-"
		if c, ok := m["market_cap"].(float64); ok {
			capText = humanize.Money(c)
		}
		if c, ok := m["price_change_percentage_24h"].(float64); ok {
			changeText = humanize.Percent(c)
		}
		rows = append(rows, []string{name, symbol, capText, changeText})
	}
	return rows
}

// seriesRows renders the last few points of a time series as a table.
func seriesRows(series [][2]float64) [][]string {
	const keep = 10
	if len(series) > keep {
		series = series[len(series)-keep:]
	}
	rows := [][]string{{"Date", "Value"}}
	for _, p := range series {
		rows = append(rows, []string{
			time.UnixMilli(int64(p[0])).UTC().Format("2006-01-02"),
			humanize.Number(p[1]),
		})
	}
	return rows
}

func moneyField(name string) bool {
	switch name {
	case report.FieldCurrentPrice, report.FieldMarketCap, report.FieldVolume24h, report.FieldTVL:
		return true
	}
	return false
}

// splitParagraphs cuts a bound body on blank lines and normalizes bullet
// markers to a bullet glyph.
func splitParagraphs(body string) []string {
	var out []string
	for _, block := range strings.Split(body, "\n\n") {
		lines := strings.Split(block, "\n")
		for i, line := range lines {
			trimmed := strings.TrimSpace(line)
			if strings.HasPrefix(trimmed, "- ") {
				lines[i] = "• " + strings.TrimPrefix(trimmed, "- ")
			} else if strings.HasPrefix(trimmed, "* ") {
				lines[i] = "• " + strings.TrimPrefix(trimmed, "* ")
			} else {
				lines[i] = trimmed
			}
		}
		para := strings.TrimSpace(strings.Join(lines, "\n"))
		if para != "" {
			out = append(out, para)
		}
	}
	return out
}

func titleWords(s string) string {
	words := strings.Fields(s)
	for i, w := range words {
		words[i] = strings.ToUpper(w[:1]) + w[1:]
	}
	return strings.Join(words, " ")
}

func dedupeReferences(refs []state.Reference) []state.Reference {
	seen := make(map[string]bool, len(refs))
	var out []state.Reference
	for _, ref := range refs {
		if ref.URL == "" || seen[ref.URL] {
			continue
		}
		seen[ref.URL] = true
		out = append(out, ref)
	}
	return out
}
