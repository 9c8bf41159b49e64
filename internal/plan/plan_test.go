package plan

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"chainbrief/internal/report"
)

func twoSectionSpec(t *testing.T) *report.Specification {
	t.Helper()
	spec := &report.Specification{
		Sections: []report.SectionSpec{
			{
				Title: "Executive Summary", Required: true,
				Sources:    []string{"coinmarketcap", "coingecko"},
				DataFields: []string{"current_price", "market_cap"},
			},
			{
				Title: "Market Analysis", Required: true,
				Sources:    []string{"coinmarketcap", "coingecko"},
				DataFields: []string{"current_price", "market_cap"},
			},
			{
				Title: "Liquidity and Adoption Metrics", Required: true,
				Sources:    []string{"defillama"},
				DataFields: []string{"tvl"},
			},
		},
		Visualizations: map[string]report.VisualizationSpec{},
	}
	require.NoError(t, spec.Validate())
	return spec
}

func TestBuildDeduplicatesBySourceAndFieldSet(t *testing.T) {
	tasks := Build(twoSectionSpec(t))

	// Two sections share identical (source, field-set) pairs, so only one
	// task per source survives, plus the defillama task.
	require.Len(t, tasks, 3)

	assert.Equal(t, "coinmarketcap", tasks[0].Source)
	assert.Equal(t, []string{"current_price", "market_cap"}, tasks[0].Fields)
	assert.Equal(t, []string{"Executive Summary", "Market Analysis"}, tasks[0].Sections)

	assert.Equal(t, "coingecko", tasks[1].Source)
	assert.Equal(t, []string{"Executive Summary", "Market Analysis"}, tasks[1].Sections)

	assert.Equal(t, "defillama", tasks[2].Source)
	assert.Equal(t, []string{"tvl"}, tasks[2].Fields)
}

func TestBuildPreservesSectionOrder(t *testing.T) {
	tasks := Build(report.DefaultSpec())
	require.NotEmpty(t, tasks)

	// The first planned task must come from the first section.
	assert.Contains(t, tasks[0].Sections, "Executive Summary")

	// Every task carries at least one section and a source.
	for _, task := range tasks {
		assert.NotEmpty(t, task.Source)
		assert.NotEmpty(t, task.Sections)
	}
}

func TestBuildNarrowsVisualizationFieldsToDeclaredSource(t *testing.T) {
	spec := &report.Specification{
		Sections: []report.SectionSpec{
			{
				Title: "Market Analysis", Required: true,
				Sources:        []string{"coinmarketcap", "coingecko"},
				Visualizations: []string{"price_history_chart"},
			},
		},
		Visualizations: map[string]report.VisualizationSpec{
			"price_history_chart": {
				Kind:       report.KindLineChart,
				Source:     "coingecko",
				DataFields: []string{"price_history"},
			},
		},
	}
	require.NoError(t, spec.Validate())

	tasks := Build(spec)
	require.Len(t, tasks, 2)

	// price_history belongs to the coingecko-backed chart, so the
	// coinmarketcap task must not claim it.
	assert.Equal(t, "coinmarketcap", tasks[0].Source)
	assert.Empty(t, tasks[0].Fields)
	assert.Equal(t, "coingecko", tasks[1].Source)
	assert.Equal(t, []string{"price_history"}, tasks[1].Fields)
}
