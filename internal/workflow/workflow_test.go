package workflow

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
	"go.uber.org/zap"

	"chainbrief/internal/assemble"
	"chainbrief/internal/bind"
	"chainbrief/internal/cache"
	"chainbrief/internal/gather"
	"chainbrief/internal/narrative"
	"chainbrief/internal/report"
	"chainbrief/internal/source"
	"chainbrief/internal/viz"
)

func TestMain(m *testing.M) {
	// go.opencensus.io (a transitive dependency of google.golang.org/genai)
	// starts a background stats worker in its package init; it is not
	// something this package's code can stop.
	goleak.VerifyTestMain(m,
		goleak.IgnoreTopFunction("go.opencensus.io/stats/view.(*worker).start"))
}

type stubAdapter struct {
	name    string
	payload source.Payload
	err     error
}

func (s *stubAdapter) Name() string { return s.name }

func (s *stubAdapter) Fetch(ctx context.Context, q source.Query) (source.Payload, error) {
	if s.err != nil {
		return nil, s.err
	}
	return s.payload, nil
}

type stubGenerator struct {
	text string
	err  error
}

func (s *stubGenerator) Name() string { return "stub" }

func (s *stubGenerator) Generate(ctx context.Context, req narrative.Request) (string, error) {
	return s.text, s.err
}

type panicGenerator struct{}

func (panicGenerator) Name() string { return "panic" }

func (panicGenerator) Generate(ctx context.Context, req narrative.Request) (string, error) {
	panic("generator exploded")
}

func twoSectionSpec(t *testing.T) *report.Specification {
	t.Helper()
	spec := &report.Specification{
		Sections: []report.SectionSpec{
			{
				Title: "Executive Summary", Required: true,
				Sources:    []string{report.SourceCoinMarketCap, report.SourceCoinGecko},
				DataFields: []string{report.FieldCurrentPrice},
			},
			{
				Title: "Tokenomics", Required: true,
				Sources:    []string{report.SourceCoinGecko},
				DataFields: []string{report.FieldTotalSupply},
			},
		},
	}
	require.NoError(t, spec.Validate())
	return spec
}

func newTestEngine(t *testing.T, gen narrative.Generator, adapters []source.Adapter) (*Engine, string) {
	t.Helper()
	logger := zap.NewNop()
	dir := t.TempDir()

	store, err := cache.Open(filepath.Join(dir, "cache.db"), logger)
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })

	deps := Deps{
		Aggregator: gather.New(adapters, store, logger, gather.Config{}),
		Generator:  gen,
		Visualizer: viz.New(viz.NewChartFiles(filepath.Join(dir, "charts"), logger), logger, 0),
		Sections:   bind.New(logger),
		Assembler:  assemble.New(logger),
		Renderer:   assemble.NewMarkdownRenderer(dir, logger),
		Logger:     logger,
	}
	return New(deps, Options{}), dir
}

func defaultAdapters() []source.Adapter {
	return []source.Adapter{
		&stubAdapter{name: report.SourceCoinMarketCap, err: errors.New("always down")},
		&stubAdapter{name: report.SourceCoinGecko, payload: source.Payload{
			report.FieldCurrentPrice: 150.0,
		}},
	}
}

var headingPattern = regexp.MustCompile(`(?m)^## (.+)$`)

func documentHeadings(t *testing.T, path string) []string {
	t.Helper()
	data, err := os.ReadFile(path)
	require.NoError(t, err)
	var out []string
	for _, m := range headingPattern.FindAllStringSubmatch(string(data), -1) {
		out = append(out, m[1])
	}
	return out
}

func TestRunWithOneFailingSource(t *testing.T) {
	gen := &stubGenerator{text: "## Exec Summary\nStrong market position.\n\n## Tokenomics\nSupply is capped.\n"}
	engine, _ := newTestEngine(t, gen, defaultAdapters())

	result, err := engine.Run(context.Background(), "Solana", twoSectionSpec(t))
	require.NoError(t, err)
	st := result.State

	assert.Equal(t, 1, st.CountProgress("fetch_error"))
	assert.Equal(t, 0, st.CountProgress("fatal"))
	assert.True(t, st.HasSynthetic())

	headings := documentHeadings(t, result.ArtifactPath)
	assert.Contains(t, headings, "Executive Summary")
	assert.Contains(t, headings, "Tokenomics")

	data, readErr := os.ReadFile(result.ArtifactPath)
	require.NoError(t, readErr)
	assert.Contains(t, string(data), "Strong market position.")
	assert.Contains(t, string(data), "Supply is capped.")
}

func TestRunStageOrderIsFixed(t *testing.T) {
	gen := &stubGenerator{text: "## Executive Summary\nbody\n\n## Tokenomics\nbody\n"}
	engine, _ := newTestEngine(t, gen, defaultAdapters())

	result, err := engine.Run(context.Background(), "Solana", twoSectionSpec(t))
	require.NoError(t, err)

	var starts []string
	for _, e := range result.State.Progress {
		if e.Kind == "stage_start" {
			starts = append(starts, e.Stage)
		}
	}
	assert.Equal(t, []string{
		"planning", "gathering", "narrating", "visualizing", "binding", "assembling",
	}, starts)
}

func TestRunDegradesWhenGeneratorFails(t *testing.T) {
	gen := &stubGenerator{err: &narrative.GenerationError{Provider: "stub", Reason: "offline"}}
	engine, _ := newTestEngine(t, gen, defaultAdapters())

	result, err := engine.Run(context.Background(), "Solana", twoSectionSpec(t))
	require.NoError(t, err)

	assert.Equal(t, "completed", string(result.State.Status))
	assert.GreaterOrEqual(t, result.State.CountProgress("fallback"), 1)

	headings := documentHeadings(t, result.ArtifactPath)
	assert.Contains(t, headings, "Executive Summary")
	assert.Contains(t, headings, "Tokenomics")
}

func TestRunEscalatesOnPanic(t *testing.T) {
	engine, _ := newTestEngine(t, panicGenerator{}, defaultAdapters())

	result, err := engine.Run(context.Background(), "Solana", twoSectionSpec(t))
	var fatal *FatalStageError
	require.ErrorAs(t, err, &fatal)
	assert.Equal(t, StageNarrating, fatal.Stage)

	require.NotNil(t, result)
	assert.Equal(t, "failed", string(result.State.Status))
	assert.Equal(t, 1, result.State.CountProgress("fatal"))

	// Best-effort degraded artifact still exists.
	assert.NotEmpty(t, result.ArtifactPath)
	headings := documentHeadings(t, result.ArtifactPath)
	assert.Contains(t, headings, "Executive Summary")
}

func TestRunProgressStreamReachesCompletion(t *testing.T) {
	gen := &stubGenerator{text: "## Executive Summary\nbody\n\n## Tokenomics\nbody\n"}
	engine, _ := newTestEngine(t, gen, defaultAdapters())

	var events []Progress
	engine.opts.OnProgress = func(p Progress) { events = append(events, p) }

	_, err := engine.Run(context.Background(), "Solana", twoSectionSpec(t))
	require.NoError(t, err)
	require.NotEmpty(t, events)
	last := events[len(events)-1]
	assert.Equal(t, StageCompleted, last.Stage)
	assert.Equal(t, 100, last.Percent)
	for i := 1; i < len(events); i++ {
		assert.GreaterOrEqual(t, events[i].Percent, events[i-1].Percent)
	}
}

func TestRunIsStructurallyIdempotent(t *testing.T) {
	spec := twoSectionSpec(t)
	gen := &stubGenerator{text: "## Executive Summary\nbody one\n\n## Tokenomics\nbody two\n"}
	engine, _ := newTestEngine(t, gen, defaultAdapters())

	first, err := engine.Run(context.Background(), "Solana", spec)
	require.NoError(t, err)
	second, err := engine.Run(context.Background(), "Solana", spec)
	require.NoError(t, err)

	assert.Equal(t,
		documentHeadings(t, first.ArtifactPath),
		documentHeadings(t, second.ArtifactPath))

	firstKeys := make([]string, 0)
	for k := range first.State.Artifacts {
		firstKeys = append(firstKeys, k)
	}
	secondKeys := make([]string, 0)
	for k := range second.State.Artifacts {
		secondKeys = append(secondKeys, k)
	}
	assert.ElementsMatch(t, firstKeys, secondKeys)
}

func TestAdvanceRejectsSkips(t *testing.T) {
	require.NoError(t, advance(StageIdle, StagePlanning))
	require.NoError(t, advance(StageBinding, StageAssembling))
	assert.Error(t, advance(StageIdle, StageGathering))
	assert.Error(t, advance(StageAssembling, StagePlanning))
	assert.Error(t, advance(StageCompleted, StageFailed))
}

func TestRequireBodiesEscalates(t *testing.T) {
	spec := twoSectionSpec(t)
	err := requireBodies(spec, []bind.Section{
		{Title: "Executive Summary", Body: "ok"},
		{Title: "Tokenomics", Body: ""},
	})
	var fatal *FatalStageError
	require.ErrorAs(t, err, &fatal)
	assert.Contains(t, fatal.Error(), "Tokenomics")
	assert.Contains(t, fmt.Sprint(fatal), "fallback is exhausted")
}
