package source

import (
	"context"
	"net/http"
	"net/url"
	"strings"
	"time"

	"go.uber.org/zap"

	"chainbrief/internal/report"
)

// CoinGecko fetches market data from the CoinGecko API. Works without an API
// key against the free tier; a key is sent as the pro header when set.
type CoinGecko struct {
	apiKey     string
	baseURL    string
	httpClient *http.Client
	logger     *zap.Logger
}

// NewCoinGecko builds the adapter. An empty apiKey selects the free API.
func NewCoinGecko(apiKey string, logger *zap.Logger) *CoinGecko {
	return &CoinGecko{
		apiKey:     apiKey,
		baseURL:    "https://api.coingecko.com/api/v3",
		httpClient: &http.Client{Timeout: 15 * time.Second},
		logger:     logger,
	}
}

func (c *CoinGecko) Name() string { return report.SourceCoinGecko }

func (c *CoinGecko) headers() map[string]string {
	if c.apiKey == "" {
		return nil
	}
	return map[string]string{"x-cg-pro-api-key": c.apiKey}
}

type geckoSearchResponse struct {
	Coins []struct {
		ID     string `json:"id"`
		Name   string `json:"name"`
		Symbol string `json:"symbol"`
	} `json:"coins"`
}

type geckoCoinResponse struct {
	Categories []string `json:"categories"`
	MarketData struct {
		CurrentPrice      map[string]float64 `json:"current_price"`
		MarketCap         map[string]float64 `json:"market_cap"`
		TotalVolume       map[string]float64 `json:"total_volume"`
		TotalSupply       float64            `json:"total_supply"`
		CirculatingSupply float64            `json:"circulating_supply"`
		MaxSupply         float64            `json:"max_supply"`
		PriceChange24h    float64            `json:"price_change_percentage_24h"`
	} `json:"market_data"`
}

type geckoChartResponse struct {
	Prices       [][2]float64 `json:"prices"`
	TotalVolumes [][2]float64 `json:"total_volumes"`
}

// Fetch resolves the subject to a coin ID, then pulls the coin profile and
// the 60-day market chart.
func (c *CoinGecko) Fetch(ctx context.Context, q Query) (Payload, error) {
	coinID, err := c.resolveCoinID(ctx, q.Subject)
	if err != nil {
		return nil, err
	}

	var coin geckoCoinResponse
	if err := getJSON(ctx, c.httpClient, c.baseURL+"/coins/"+coinID, nil, c.headers(), &coin); err != nil {
		return nil, fetchErr(c.Name(), "coin lookup failed", err)
	}

	payload := Payload{
		report.FieldCurrentPrice:      coin.MarketData.CurrentPrice["usd"],
		report.FieldMarketCap:         coin.MarketData.MarketCap["usd"],
		report.FieldVolume24h:         coin.MarketData.TotalVolume["usd"],
		report.FieldTotalSupply:       coin.MarketData.TotalSupply,
		report.FieldCirculatingSupply: coin.MarketData.CirculatingSupply,
		report.FieldMaxSupply:         coin.MarketData.MaxSupply,
		report.FieldPriceChange24h:    coin.MarketData.PriceChange24h,
		report.FieldTokenDistribution: distributionForCategories(coin.Categories),
	}

	// History is best-effort: a chart failure does not fail the fetch.
	var chart geckoChartResponse
	params := url.Values{"vs_currency": {"usd"}, "days": {"60"}, "interval": {"daily"}}
	if err := getJSON(ctx, c.httpClient, c.baseURL+"/coins/"+coinID+"/market_chart", params, c.headers(), &chart); err != nil {
		c.logger.Warn("coingecko market chart unavailable", zap.String("coin", coinID), zap.Error(err))
	} else {
		if len(chart.Prices) > 0 {
			payload[report.FieldPriceHistory] = pairsToSeries(chart.Prices)
		}
		if len(chart.TotalVolumes) > 0 {
			payload[report.FieldVolumeHistory] = pairsToSeries(chart.TotalVolumes)
		}
	}
	return payload, nil
}

func (c *CoinGecko) resolveCoinID(ctx context.Context, subject string) (string, error) {
	var search geckoSearchResponse
	params := url.Values{"query": {subject}}
	if err := getJSON(ctx, c.httpClient, c.baseURL+"/search", params, c.headers(), &search); err != nil {
		return "", fetchErr(c.Name(), "search failed", err)
	}
	if len(search.Coins) == 0 {
		return "", fetchErr(c.Name(), "coin not found: "+subject, nil)
	}
	lower := strings.ToLower(subject)
	for _, coin := range search.Coins {
		if strings.ToLower(coin.Name) == lower || strings.ToLower(coin.Symbol) == lower {
			return coin.ID, nil
		}
	}
	c.logger.Warn("no exact coingecko match, using first result",
		zap.String("subject", subject), zap.String("coin", search.Coins[0].ID))
	return search.Coins[0].ID, nil
}

// distributionForCategories mirrors the coarse allocation buckets used when
// the API exposes no real distribution data.
func distributionForCategories(categories []string) map[string]float64 {
	for _, cat := range categories {
		if strings.Contains(strings.ToLower(cat), "layer-1") {
			return map[string]float64{"Community": 35, "Foundation": 30, "Team & Advisors": 35}
		}
	}
	return map[string]float64{"Public": 40, "Team": 20, "Foundation": 40}
}

// pairsToSeries converts [timestamp, value] pairs into the shared series
// shape ([][2]float64 with millisecond timestamps).
func pairsToSeries(pairs [][2]float64) [][2]float64 {
	out := make([][2]float64, 0, len(pairs))
	out = append(out, pairs...)
	return out
}
