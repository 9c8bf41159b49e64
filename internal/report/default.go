package report

// Data field names shared between sources, sections, and visualizations.
const (
	FieldCurrentPrice      = "current_price"
	FieldMarketCap         = "market_cap"
	FieldVolume24h         = "24h_volume"
	FieldPriceChange24h    = "price_change_percentage_24h"
	FieldTotalSupply       = "total_supply"
	FieldCirculatingSupply = "circulating_supply"
	FieldMaxSupply         = "max_supply"
	FieldPriceHistory      = "price_history"
	FieldVolumeHistory     = "volume_history"
	FieldTVL               = "tvl"
	FieldTVLHistory        = "tvl_history"
	FieldTokenDistribution = "token_distribution"
	FieldCompetitors       = "competitors"
	FieldProjectOverview   = "project_overview"
	FieldTeamBackground    = "team_background"
	FieldGovernanceModel   = "governance_model"
)

// Source adapter names, in descending merge priority.
const (
	SourceCoinMarketCap = "coinmarketcap"
	SourceCoinGecko     = "coingecko"
	SourceDeFiLlama     = "defillama"
	SourceWebSearch     = "websearch"
)

// DefaultSpec returns the built-in crypto research report layout: thirteen
// sections and six visualizations. Used when no spec file is given.
func DefaultSpec() *Specification {
	marketSources := []string{SourceCoinMarketCap, SourceCoinGecko, SourceWebSearch}

	spec := &Specification{
		Sections: []SectionSpec{
			{
				Title: "Executive Summary", Required: true, MinWords: 200, MaxWords: 400,
				Prompt:     "a concise overview of the project, its key features, recent performance, and market position",
				Sources:    marketSources,
				DataFields: []string{FieldCurrentPrice, FieldMarketCap},
				Visualizations: []string{"key_metrics_table"},
			},
			{
				Title: "Introduction", Required: true, MinWords: 250, MaxWords: 500,
				Prompt:     "the project's background, mission, core features, and unique value proposition",
				Sources:    []string{SourceWebSearch},
				DataFields: []string{FieldProjectOverview},
			},
			{
				Title: "Tokenomics and Distribution", Required: true, MinWords: 400, MaxWords: 700,
				Prompt:         "token supply, distribution, utility, and staking or reward mechanisms",
				Sources:        marketSources,
				DataFields:     []string{FieldTotalSupply, FieldCirculatingSupply, FieldMaxSupply},
				Visualizations: []string{"token_distribution_pie"},
			},
			{
				Title: "Market Analysis", Required: true, MinWords: 600, MaxWords: 900,
				Prompt:         "market position, competitors, trading volume, liquidity, and price action",
				Sources:        marketSources,
				DataFields:     []string{FieldCurrentPrice, FieldMarketCap, FieldVolume24h, FieldPriceChange24h},
				Visualizations: []string{"price_history_chart", "competitor_table"},
			},
			{
				Title: "Technical Analysis", Required: true, MinWords: 500, MaxWords: 800,
				Prompt:  "underlying technology, blockchain architecture, consensus mechanism, and technical innovations",
				Sources: []string{SourceWebSearch},
			},
			{
				Title: "Developer Tools and User Experience", Required: false, MinWords: 400, MaxWords: 700,
				Prompt:  "developer ecosystem, tooling, documentation, and user experience",
				Sources: []string{SourceWebSearch},
			},
			{
				Title: "Security", Required: false, MinWords: 400, MaxWords: 700,
				Prompt:  "security measures, audit history, vulnerabilities, and security practices",
				Sources: []string{SourceWebSearch},
			},
			{
				Title: "Liquidity and Adoption Metrics", Required: true, MinWords: 500, MaxWords: 800,
				Prompt:         "liquidity metrics, trading volumes, user adoption, and on-chain activity",
				Sources:        []string{SourceDeFiLlama, SourceCoinGecko, SourceWebSearch},
				DataFields:     []string{FieldTVL, FieldVolume24h},
				Visualizations: []string{"volume_chart", "tvl_chart"},
			},
			{
				Title: "Governance and Community", Required: false, MinWords: 400, MaxWords: 700,
				Prompt:     "governance model, voting mechanisms, community participation, and decentralization",
				Sources:    []string{SourceWebSearch},
				DataFields: []string{FieldGovernanceModel},
			},
			{
				Title: "Ecosystem and Partnerships", Required: false, MinWords: 400, MaxWords: 700,
				Prompt:  "partnerships, integrations, and position within the broader ecosystem",
				Sources: []string{SourceWebSearch},
			},
			{
				Title: "Risks and Opportunities", Required: true, MinWords: 450, MaxWords: 750,
				Prompt:  "key risks and opportunities, including regulatory, technological, and growth factors",
				Sources: []string{SourceWebSearch},
			},
			{
				Title: "Team and Development Activity", Required: false, MinWords: 400, MaxWords: 700,
				Prompt:     "leadership team, development activity, and organizational structure",
				Sources:    []string{SourceWebSearch},
				DataFields: []string{FieldTeamBackground},
			},
			{
				Title: "Conclusion", Required: true, MinWords: 300, MaxWords: 500,
				Prompt:  "a summary of the key findings and a balanced closing perspective",
				Sources: []string{SourceWebSearch},
			},
		},
		Visualizations: map[string]VisualizationSpec{
			"price_history_chart": {
				Kind:        KindLineChart,
				Source:      SourceCoinGecko,
				DataFields:  []string{FieldPriceHistory},
				Title:       "60-Day Price History",
				Description: "Price history for {subject} over the last {points} data points.",
			},
			"volume_chart": {
				Kind:        KindBarChart,
				Source:      SourceCoinGecko,
				DataFields:  []string{FieldVolumeHistory},
				Title:       "Trading Volume",
				Description: "Trading volume trend for {subject} across {points} data points.",
			},
			"tvl_chart": {
				Kind:        KindLineChart,
				Source:      SourceDeFiLlama,
				DataFields:  []string{FieldTVLHistory},
				Title:       "Total Value Locked",
				Description: "Total value locked in {subject} over {points} data points.",
			},
			"token_distribution_pie": {
				Kind:        KindPieChart,
				Source:      SourceCoinGecko,
				DataFields:  []string{FieldTokenDistribution},
				Title:       "Token Distribution",
				Description: "Token allocation breakdown for {subject}.",
			},
			"competitor_table": {
				Kind:        KindTable,
				Source:      SourceCoinMarketCap,
				DataFields:  []string{FieldCompetitors},
				Title:       "Competitor Comparison",
				Description: "Market metrics for {subject} competitors.",
			},
			"key_metrics_table": {
				Kind:        KindTable,
				Source:      SourceCoinMarketCap,
				DataFields:  []string{FieldCurrentPrice, FieldMarketCap, FieldVolume24h, FieldCirculatingSupply},
				Title:       "Key Metrics",
				Description: "Headline market metrics for {subject}.",
			},
		},
	}
	// The built-in spec is assembled by hand; a validation failure here is a
	// programming error.
	if err := spec.Validate(); err != nil {
		panic(err)
	}
	return spec
}
