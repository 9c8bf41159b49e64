package source

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"golang.org/x/net/html"

	"chainbrief/internal/report"
)

func TestCoinGeckoFetchNormalizesFields(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch {
		case strings.HasPrefix(r.URL.Path, "/search"):
			w.Write([]byte(`{"coins":[{"id":"solana","name":"Solana","symbol":"SOL"}]}`))
		case strings.HasPrefix(r.URL.Path, "/coins/solana/market_chart"):
			w.Write([]byte(`{"prices":[[1700000000000,150],[1700086400000,155]],"total_volumes":[[1700000000000,1e9],[1700086400000,1.1e9]]}`))
		case strings.HasPrefix(r.URL.Path, "/coins/solana"):
			w.Write([]byte(`{"categories":["layer-1"],"market_data":{
				"current_price":{"usd":150.5},"market_cap":{"usd":65000000000},
				"total_volume":{"usd":1000000000},"total_supply":570000000,
				"circulating_supply":430000000,"max_supply":0,
				"price_change_percentage_24h":2.5}}`))
		default:
			http.NotFound(w, r)
		}
	}))
	defer srv.Close()

	gecko := NewCoinGecko("", zap.NewNop())
	gecko.baseURL = srv.URL

	payload, err := gecko.Fetch(context.Background(), Query{Subject: "Solana"})
	require.NoError(t, err)

	assert.Equal(t, 150.5, payload[report.FieldCurrentPrice])
	assert.Equal(t, 2.5, payload[report.FieldPriceChange24h])

	series, ok := payload[report.FieldPriceHistory].([][2]float64)
	require.True(t, ok)
	assert.Len(t, series, 2)

	dist, ok := payload[report.FieldTokenDistribution].(map[string]float64)
	require.True(t, ok)
	assert.Contains(t, dist, "Foundation")
}

func TestCoinGeckoFetchUnknownCoinIsFetchError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"coins":[]}`))
	}))
	defer srv.Close()

	gecko := NewCoinGecko("", zap.NewNop())
	gecko.baseURL = srv.URL

	_, err := gecko.Fetch(context.Background(), Query{Subject: "nosuchcoin"})
	var fe *FetchError
	require.ErrorAs(t, err, &fe)
	assert.Equal(t, report.SourceCoinGecko, fe.Source)
}

func TestCoinMarketCapRequiresKey(t *testing.T) {
	cmc := NewCoinMarketCap("", zap.NewNop())
	_, err := cmc.Fetch(context.Background(), Query{Subject: "Solana"})
	var fe *FetchError
	require.ErrorAs(t, err, &fe)
}

func TestFetchErrorUnwraps(t *testing.T) {
	cause := errors.New("connection refused")
	err := fetchErr("coingecko", "search failed", cause)
	assert.ErrorIs(t, err, cause)
	assert.Contains(t, err.Error(), "coingecko")
	assert.Contains(t, err.Error(), "search failed")
}

func TestExtractTextSkipsScripts(t *testing.T) {
	doc, err := html.Parse(strings.NewReader(
		`<html><head><script>var x = 1;</script><style>.a{}</style></head>` +
			`<body><p>Solana is fast.</p><p>Low fees.</p></body></html>`))
	require.NoError(t, err)

	text := extractText(doc)
	assert.Contains(t, text, "Solana is fast.")
	assert.Contains(t, text, "Low fees.")
	assert.NotContains(t, text, "var x")
}
