package viz

import (
	"context"
	"errors"
	"os"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"chainbrief/internal/report"
	"chainbrief/internal/state"
)

type stubRenderer struct {
	path  string
	err   error
	delay time.Duration

	calls       atomic.Int64
	inFlight    atomic.Int64
	maxInFlight atomic.Int64
}

func (s *stubRenderer) Render(ctx context.Context, kind string, fields map[string]any, title string) (string, error) {
	cur := s.inFlight.Add(1)
	defer s.inFlight.Add(-1)
	for {
		max := s.maxInFlight.Load()
		if cur <= max || s.maxInFlight.CompareAndSwap(max, cur) {
			break
		}
	}
	s.calls.Add(1)
	if s.delay > 0 {
		time.Sleep(s.delay)
	}
	return s.path, s.err
}

func vizSpec(t *testing.T) *report.Specification {
	t.Helper()
	spec := &report.Specification{
		Sections: []report.SectionSpec{{
			Title:          "Market Analysis",
			Required:       true,
			Visualizations: []string{"price_history_chart", "key_metrics_table"},
		}},
		Visualizations: map[string]report.VisualizationSpec{
			"price_history_chart": {
				Kind:        report.KindLineChart,
				DataFields:  []string{report.FieldPriceHistory},
				Title:       "Price History",
				Description: "{points}-day price history for {subject}.",
			},
			"key_metrics_table": {
				Kind:        report.KindTable,
				DataFields:  []string{report.FieldCurrentPrice, report.FieldMarketCap},
				Title:       "Key Metrics",
				Description: "Key metrics for {subject}: price {field:current_price}, cap {field:market_cap}.",
			},
		},
	}
	require.NoError(t, spec.Validate())
	return spec
}

func vizState() *state.ResearchState {
	st := state.New("run-1", "Solana")
	st.SetField(report.FieldPriceHistory, state.FieldValue{
		Value: [][2]float64{{1e12, 100}, {1e12 + 86400000, 105}, {1e12 + 2*86400000, 103}},
	})
	st.SetField(report.FieldCurrentPrice, state.FieldValue{Value: 103.0})
	st.SetField(report.FieldMarketCap, state.FieldValue{Value: 6.5e10})
	return st
}

func TestBindStoresOneArtifactPerKey(t *testing.T) {
	renderer := &stubRenderer{path: "/tmp/out.png"}
	st := vizState()
	New(renderer, zap.NewNop(), 0).Bind(context.Background(), st, vizSpec(t))

	require.Len(t, st.Artifacts, 2)
	a := st.Artifacts["price_history_chart"]
	assert.False(t, a.Missing)
	assert.Equal(t, "/tmp/out.png", a.FilePath)
	assert.Equal(t, "3-day price history for Solana.", a.Description)
}

func TestRenderFailureStoresMissingMarker(t *testing.T) {
	renderer := &stubRenderer{err: errors.New("no display")}
	st := vizState()
	New(renderer, zap.NewNop(), 0).Bind(context.Background(), st, vizSpec(t))

	a := st.Artifacts["price_history_chart"]
	assert.True(t, a.Missing)
	assert.Empty(t, a.FilePath)
	assert.NotEmpty(t, a.Description)
	assert.Equal(t, 2, st.CountProgress("render_error"))
}

func TestRebindOverwritesArtifact(t *testing.T) {
	st := vizState()
	spec := vizSpec(t)

	New(&stubRenderer{err: errors.New("boom")}, zap.NewNop(), 0).Bind(context.Background(), st, spec)
	assert.True(t, st.Artifacts["price_history_chart"].Missing)

	New(&stubRenderer{path: "/tmp/retry.png"}, zap.NewNop(), 0).Bind(context.Background(), st, spec)
	require.Len(t, st.Artifacts, 2)
	a := st.Artifacts["price_history_chart"]
	assert.False(t, a.Missing)
	assert.Equal(t, "/tmp/retry.png", a.FilePath)
}

func TestBindFanOutStaysBounded(t *testing.T) {
	spec := &report.Specification{
		Sections:       []report.SectionSpec{{Title: "S", Required: true}},
		Visualizations: map[string]report.VisualizationSpec{},
	}
	for _, key := range []string{"v1", "v2", "v3", "v4", "v5", "v6", "v7", "v8"} {
		spec.Visualizations[key] = report.VisualizationSpec{
			Kind:       report.KindLineChart,
			DataFields: []string{report.FieldPriceHistory},
			Title:      key,
		}
		spec.Sections[0].Visualizations = append(spec.Sections[0].Visualizations, key)
	}
	require.NoError(t, spec.Validate())

	renderer := &stubRenderer{path: "/tmp/out.png", delay: 20 * time.Millisecond}
	st := vizState()
	New(renderer, zap.NewNop(), 2).Bind(context.Background(), st, spec)

	assert.Equal(t, int64(8), renderer.calls.Load())
	assert.LessOrEqual(t, renderer.maxInFlight.Load(), int64(2))
	assert.Len(t, st.Artifacts, 8)
}

func TestDescribeSubstitutesFieldValues(t *testing.T) {
	spec := vizSpec(t)
	desc := Describe(spec.Visualizations["key_metrics_table"], "Solana", map[string]any{
		report.FieldCurrentPrice: 103.0,
		report.FieldMarketCap:    6.5e10,
	})
	assert.Equal(t, "Key metrics for Solana: price $103.00, cap $65.00B.", desc)
}

func TestCoerceSeriesHandlesJSONShape(t *testing.T) {
	jsonShape := []any{
		[]any{1e12, 100.0},
		[]any{1e12 + 86400000, 105.0},
	}
	series, ok := CoerceSeries(jsonShape)
	require.True(t, ok)
	require.Len(t, series, 2)
	assert.Equal(t, 105.0, series[1][1])

	_, ok = CoerceSeries("not a series")
	assert.False(t, ok)
}

func TestChartFilesRendersLinePNG(t *testing.T) {
	dir := t.TempDir()
	renderer := NewChartFiles(dir, zap.NewNop())

	path, err := renderer.Render(context.Background(), report.KindLineChart, map[string]any{
		report.FieldPriceHistory: [][2]float64{
			{1e12, 100}, {1e12 + 86400000, 105}, {1e12 + 2*86400000, 103},
		},
	}, "Price History")
	require.NoError(t, err)

	info, err := os.Stat(path)
	require.NoError(t, err)
	assert.Greater(t, info.Size(), int64(0))
}

func TestChartFilesTableKindIsInline(t *testing.T) {
	renderer := NewChartFiles(t.TempDir(), zap.NewNop())
	path, err := renderer.Render(context.Background(), report.KindTable, map[string]any{
		report.FieldCurrentPrice: 103.0,
	}, "Key Metrics")
	require.NoError(t, err)
	assert.Empty(t, path)
}
