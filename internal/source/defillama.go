package source

import (
	"context"
	"net/http"
	"sort"
	"strings"
	"time"

	"go.uber.org/zap"

	"chainbrief/internal/report"
)

// DeFiLlama fetches total-value-locked data from the DeFi Llama API. No API
// key required.
type DeFiLlama struct {
	baseURL    string
	httpClient *http.Client
	logger     *zap.Logger
}

// NewDeFiLlama builds the adapter.
func NewDeFiLlama(logger *zap.Logger) *DeFiLlama {
	return &DeFiLlama{
		baseURL:    "https://api.llama.fi",
		httpClient: &http.Client{Timeout: 15 * time.Second},
		logger:     logger,
	}
}

func (d *DeFiLlama) Name() string { return report.SourceDeFiLlama }

type llamaProtocol struct {
	Name   string  `json:"name"`
	Symbol string  `json:"symbol"`
	Slug   string  `json:"slug"`
	TVL    float64 `json:"tvl"`
}

type llamaProtocolDetail struct {
	Category string   `json:"category"`
	Chains   []string `json:"chains"`
	TVL      []struct {
		Date              int64   `json:"date"`
		TotalLiquidityUSD float64 `json:"totalLiquidityUSD"`
	} `json:"tvl"`
}

// Fetch locates the subject in the protocol registry and returns its TVL and
// TVL history.
func (d *DeFiLlama) Fetch(ctx context.Context, q Query) (Payload, error) {
	var protocols []llamaProtocol
	if err := getJSON(ctx, d.httpClient, d.baseURL+"/protocols", nil, nil, &protocols); err != nil {
		return nil, fetchErr(d.Name(), "protocol list failed", err)
	}

	slug := d.findSlug(protocols, q.Subject)
	if slug == "" {
		return nil, fetchErr(d.Name(), "protocol not found: "+q.Subject, nil)
	}

	var detail llamaProtocolDetail
	if err := getJSON(ctx, d.httpClient, d.baseURL+"/protocol/"+slug, nil, nil, &detail); err != nil {
		return nil, fetchErr(d.Name(), "protocol detail failed", err)
	}

	payload := Payload{}
	if detail.Category != "" {
		payload["category"] = detail.Category
	}
	if len(detail.Chains) > 0 {
		payload["chains"] = detail.Chains
	}
	if len(detail.TVL) > 0 {
		history := make([][2]float64, 0, len(detail.TVL))
		for _, point := range detail.TVL {
			history = append(history, [2]float64{float64(point.Date * 1000), point.TotalLiquidityUSD})
		}
		sort.Slice(history, func(i, j int) bool { return history[i][0] < history[j][0] })
		payload[report.FieldTVLHistory] = history
		payload[report.FieldTVL] = history[len(history)-1][1]
	}
	if len(payload) == 0 {
		return nil, fetchErr(d.Name(), "no data for "+q.Subject, nil)
	}
	return payload, nil
}

func (d *DeFiLlama) findSlug(protocols []llamaProtocol, subject string) string {
	lower := strings.ToLower(subject)
	symbol := strings.ToUpper(subject)
	slugged := strings.ReplaceAll(lower, " ", "-")

	for _, p := range protocols {
		if strings.EqualFold(p.Symbol, symbol) ||
			strings.Contains(strings.ToLower(p.Name), lower) ||
			strings.Contains(strings.ToLower(p.Slug), slugged) {
			d.logger.Debug("defillama protocol match",
				zap.String("subject", subject), zap.String("slug", p.Slug))
			return p.Slug
		}
	}
	return ""
}
