package assemble

import (
	"context"
	"os"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"chainbrief/internal/bind"
	"chainbrief/internal/report"
	"chainbrief/internal/state"
)

func assembleSpec(t *testing.T) *report.Specification {
	t.Helper()
	spec := &report.Specification{
		Sections: []report.SectionSpec{
			{
				Title: "Market Analysis", Required: true,
				Visualizations: []string{"price_history_chart", "key_metrics_table"},
			},
			{Title: "Conclusion", Required: true},
		},
		Visualizations: map[string]report.VisualizationSpec{
			"price_history_chart": {
				Kind:       report.KindLineChart,
				DataFields: []string{report.FieldPriceHistory},
				Title:      "Price History",
			},
			"key_metrics_table": {
				Kind:       report.KindTable,
				DataFields: []string{report.FieldCurrentPrice, report.FieldMarketCap},
				Title:      "Key Metrics",
			},
		},
	}
	require.NoError(t, spec.Validate())
	return spec
}

func assembleState() *state.ResearchState {
	st := state.New("run-1", "Solana")
	st.SetField(report.FieldCurrentPrice, state.FieldValue{Value: 103.0})
	st.SetField(report.FieldMarketCap, state.FieldValue{Value: 6.5e10})
	st.Artifacts["price_history_chart"] = state.Artifact{
		Key: "price_history_chart", FilePath: "/tmp/price.png",
		Title: "Price History", Description: "60-day price history for Solana.",
	}
	st.Artifacts["key_metrics_table"] = state.Artifact{
		Key: "key_metrics_table", Title: "Key Metrics",
		Description: "Key metrics for Solana.",
		Fields:      []string{report.FieldCurrentPrice, report.FieldMarketCap},
	}
	st.References = []state.Reference{
		{Title: "Docs", URL: "https://docs.solana.com"},
		{Title: "Docs again", URL: "https://docs.solana.com"},
		{Title: "Site", URL: "https://solana.com"},
	}
	return st
}

func boundSections() []bind.Section {
	return []bind.Section{
		{Title: "Market Analysis", Body: "Strong quarter.\n\n- fast finality\n- low fees", Rule: bind.RuleExact},
		{Title: "Conclusion", Body: "Outlook positive.", Rule: bind.RuleExact},
	}
}

func kinds(cmds []DrawCommand) []string {
	out := make([]string, 0, len(cmds))
	for _, c := range cmds {
		out = append(out, c.Kind)
	}
	return out
}

func TestBuildOrdersSectionsAndVisualizations(t *testing.T) {
	cmds := New(zap.NewNop()).Build(assembleState(), assembleSpec(t), boundSections())

	require.NotEmpty(t, cmds)
	assert.Equal(t, CmdTitlePage, cmds[0].Kind)

	got := kinds(cmds)
	var headings []string
	for _, c := range cmds {
		if c.Kind == CmdHeading {
			headings = append(headings, c.Text)
		}
	}
	assert.Equal(t, []string{"Market Analysis", "Conclusion", "References"}, headings)
	assert.Contains(t, got, CmdImage)
	assert.Contains(t, got, CmdTable)
	assert.Equal(t, Disclaimer, cmds[len(cmds)-1].Text)
}

func TestBuildNormalizesBullets(t *testing.T) {
	cmds := New(zap.NewNop()).Build(assembleState(), assembleSpec(t), boundSections())

	var bulletPara string
	for _, c := range cmds {
		if c.Kind == CmdParagraph && strings.Contains(c.Text, "finality") {
			bulletPara = c.Text
		}
	}
	require.NotEmpty(t, bulletPara)
	assert.Contains(t, bulletPara, "• fast finality")
	assert.Contains(t, bulletPara, "• low fees")
	assert.NotContains(t, bulletPara, "- fast")
}

func TestBuildDedupesReferencesByURL(t *testing.T) {
	cmds := New(zap.NewNop()).Build(assembleState(), assembleSpec(t), boundSections())

	var refs []string
	inRefs := false
	for _, c := range cmds {
		if c.Kind == CmdHeading {
			inRefs = c.Text == "References"
			continue
		}
		if inRefs && c.Kind == CmdParagraph {
			refs = append(refs, c.Text)
		}
		if c.Kind == CmdSectionBreak {
			inRefs = false
		}
	}
	require.Len(t, refs, 2)
	assert.Contains(t, refs[0], "https://docs.solana.com")
	assert.Contains(t, refs[1], "https://solana.com")
}

func TestBuildEmitsMissingMarkerForAbsentArtifact(t *testing.T) {
	st := assembleState()
	delete(st.Artifacts, "price_history_chart")
	cmds := New(zap.NewNop()).Build(st, assembleSpec(t), boundSections())

	var missing []string
	for _, c := range cmds {
		if c.Kind == CmdMissing {
			missing = append(missing, c.Text)
		}
	}
	require.Len(t, missing, 1)
	assert.Contains(t, missing[0], "unavailable")
	assert.NotContains(t, kinds(cmds), CmdImage)
}

func TestTableRowsForMetrics(t *testing.T) {
	st := assembleState()
	rows := tableRows(st, st.Artifacts["key_metrics_table"])

	require.Len(t, rows, 3)
	assert.Equal(t, []string{"Metric", "Value"}, rows[0])
	assert.Equal(t, []string{"Current Price", "$103.00"}, rows[1])
	assert.Equal(t, []string{"Market Cap", "$65.00B"}, rows[2])
}

func TestTableRowsForCompetitors(t *testing.T) {
	st := state.New("run-1", "Solana")
	st.SetField(report.FieldCompetitors, state.FieldValue{Value: []any{
		map[string]any{
			"name": "Ethereum", "symbol": "ETH",
			"market_cap": 4.0e11, "price_change_percentage_24h": -1.2,
		},
	}})
	rows := tableRows(st, state.Artifact{
		Key: "competitor_table", Fields: []string{report.FieldCompetitors},
	})

	require.Len(t, rows, 2)
	assert.Equal(t, []string{"Name", "Symbol", "Market Cap", "24h Change"}, rows[0])
	assert.Equal(t, []string{"Ethereum", "ETH", "$400.00B", "-1.20%"}, rows[1])
}

func TestMarkdownRendererWritesDocument(t *testing.T) {
	dir := t.TempDir()
	cmds := New(zap.NewNop()).Build(assembleState(), assembleSpec(t), boundSections())

	path, err := NewMarkdownRenderer(dir, zap.NewNop()).Render(context.Background(), "Solana", cmds)
	require.NoError(t, err)

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	text := string(data)
	assert.Contains(t, text, "# Solana Research Report")
	assert.Contains(t, text, "## Market Analysis")
	assert.Contains(t, text, "| Metric | Value |")
	assert.Contains(t, text, "![Price History](/tmp/price.png)")
	assert.True(t, strings.HasSuffix(path, "solana_report.md"))
}

func TestPDFRendererWritesDocument(t *testing.T) {
	dir := t.TempDir()
	cmds := New(zap.NewNop()).Build(assembleState(), assembleSpec(t), boundSections())

	renderer := NewPDFRenderer(dir, zap.NewNop())
	renderer.now = func() time.Time { return time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC) }
	path, err := renderer.Render(context.Background(), "Solana", cmds)
	require.NoError(t, err)

	info, err := os.Stat(path)
	require.NoError(t, err)
	assert.Greater(t, info.Size(), int64(1000))
	assert.True(t, strings.HasSuffix(path, "solana_report.pdf"))
}
