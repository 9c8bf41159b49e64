package source

import (
	"context"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"

	"chainbrief/internal/report"
)

// CoinMarketCap fetches quotes and competitor listings from the
// CoinMarketCap Pro API. Requires an API key.
type CoinMarketCap struct {
	apiKey     string
	baseURL    string
	httpClient *http.Client
	logger     *zap.Logger
}

// NewCoinMarketCap builds the adapter.
func NewCoinMarketCap(apiKey string, logger *zap.Logger) *CoinMarketCap {
	return &CoinMarketCap{
		apiKey:     apiKey,
		baseURL:    "https://pro-api.coinmarketcap.com/v1",
		httpClient: &http.Client{Timeout: 15 * time.Second},
		logger:     logger,
	}
}

func (c *CoinMarketCap) Name() string { return report.SourceCoinMarketCap }

func (c *CoinMarketCap) headers() map[string]string {
	return map[string]string{"X-CMC_PRO_API_KEY": c.apiKey}
}

type cmcMapResponse struct {
	Data []struct {
		ID       int    `json:"id"`
		Name     string `json:"name"`
		Symbol   string `json:"symbol"`
		Rank     int    `json:"rank"`
		IsActive int    `json:"is_active"`
	} `json:"data"`
}

type cmcQuotesResponse struct {
	Data map[string]struct {
		CirculatingSupply float64 `json:"circulating_supply"`
		TotalSupply       float64 `json:"total_supply"`
		MaxSupply         float64 `json:"max_supply"`
		CMCRank           int     `json:"cmc_rank"`
		Quote             map[string]struct {
			Price            float64 `json:"price"`
			MarketCap        float64 `json:"market_cap"`
			Volume24h        float64 `json:"volume_24h"`
			PercentChange24h float64 `json:"percent_change_24h"`
		} `json:"quote"`
	} `json:"data"`
}

type cmcListingsResponse struct {
	Data []struct {
		ID     int    `json:"id"`
		Name   string `json:"name"`
		Symbol string `json:"symbol"`
		Quote  map[string]struct {
			MarketCap        float64 `json:"market_cap"`
			PercentChange24h float64 `json:"percent_change_24h"`
		} `json:"quote"`
	} `json:"data"`
}

// Fetch maps the subject to a CMC ID, pulls the latest USD quote, and adds
// the top market-cap competitors from the listings endpoint.
func (c *CoinMarketCap) Fetch(ctx context.Context, q Query) (Payload, error) {
	if c.apiKey == "" {
		return nil, fetchErr(c.Name(), "API key not configured", nil)
	}

	id, err := c.resolveID(ctx, q.Subject)
	if err != nil {
		return nil, err
	}

	var quotes cmcQuotesResponse
	params := url.Values{"id": {strconv.Itoa(id)}, "convert": {"USD"}}
	if err := getJSON(ctx, c.httpClient, c.baseURL+"/cryptocurrency/quotes/latest", params, c.headers(), &quotes); err != nil {
		return nil, fetchErr(c.Name(), "quote lookup failed", err)
	}
	coin, ok := quotes.Data[strconv.Itoa(id)]
	if !ok {
		return nil, fetchErr(c.Name(), "quote missing for id "+strconv.Itoa(id), nil)
	}
	usd := coin.Quote["USD"]

	payload := Payload{
		report.FieldCurrentPrice:      usd.Price,
		report.FieldMarketCap:         usd.MarketCap,
		report.FieldVolume24h:         usd.Volume24h,
		report.FieldPriceChange24h:    usd.PercentChange24h,
		report.FieldCirculatingSupply: coin.CirculatingSupply,
		report.FieldTotalSupply:       coin.TotalSupply,
		report.FieldMaxSupply:         coin.MaxSupply,
	}

	// Competitors are best-effort.
	if competitors := c.fetchCompetitors(ctx, id); len(competitors) > 0 {
		payload[report.FieldCompetitors] = competitors
	}
	return payload, nil
}

func (c *CoinMarketCap) resolveID(ctx context.Context, subject string) (int, error) {
	symbol := strings.ToUpper(subject)
	var m cmcMapResponse
	params := url.Values{"symbol": {symbol}}
	if err := getJSON(ctx, c.httpClient, c.baseURL+"/cryptocurrency/map", params, c.headers(), &m); err != nil {
		// Subjects given by name rather than ticker miss the symbol map;
		// retry against the listing search by slug.
		params = url.Values{"slug": {strings.ToLower(strings.ReplaceAll(subject, " ", "-"))}}
		if err2 := getJSON(ctx, c.httpClient, c.baseURL+"/cryptocurrency/map", params, c.headers(), &m); err2 != nil {
			return 0, fetchErr(c.Name(), "id lookup failed", err)
		}
	}
	if len(m.Data) == 0 {
		return 0, fetchErr(c.Name(), "symbol not found: "+symbol, nil)
	}

	// Prefer the active coin with the best rank on an exact symbol match.
	best, bestRank := 0, int(^uint(0)>>1)
	for _, coin := range m.Data {
		if coin.IsActive != 1 {
			continue
		}
		rank := coin.Rank
		if rank == 0 {
			rank = bestRank
		}
		if rank < bestRank {
			best, bestRank = coin.ID, rank
		}
	}
	if best == 0 {
		c.logger.Warn("no active coinmarketcap entry, using first result", zap.String("symbol", symbol))
		best = m.Data[0].ID
	}
	return best, nil
}

func (c *CoinMarketCap) fetchCompetitors(ctx context.Context, selfID int) []map[string]any {
	var listings cmcListingsResponse
	params := url.Values{
		"limit": {"20"}, "convert": {"USD"},
		"sort": {"market_cap"}, "sort_dir": {"desc"},
	}
	if err := getJSON(ctx, c.httpClient, c.baseURL+"/cryptocurrency/listings/latest", params, c.headers(), &listings); err != nil {
		c.logger.Warn("coinmarketcap listings unavailable", zap.Error(err))
		return nil
	}
	var competitors []map[string]any
	for _, coin := range listings.Data {
		if coin.ID == selfID || len(competitors) >= 5 {
			continue
		}
		usd := coin.Quote["USD"]
		competitors = append(competitors, map[string]any{
			"name":                        coin.Name,
			"symbol":                      coin.Symbol,
			"market_cap":                  usd.MarketCap,
			"price_change_percentage_24h": usd.PercentChange24h,
		})
	}
	return competitors
}
