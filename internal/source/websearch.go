package source

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"go.uber.org/zap"
	"golang.org/x/net/html"

	"chainbrief/internal/report"
)

// WebSearch extracts free-text research from a Tavily-style search API. When
// a result carries no content snippet, the result page itself is fetched and
// its text extracted.
type WebSearch struct {
	apiKey     string
	baseURL    string
	httpClient *http.Client
	logger     *zap.Logger
	maxResults int
}

// NewWebSearch builds the adapter.
func NewWebSearch(apiKey string, logger *zap.Logger) *WebSearch {
	return &WebSearch{
		apiKey:     apiKey,
		baseURL:    "https://api.tavily.com",
		httpClient: &http.Client{Timeout: 20 * time.Second},
		logger:     logger,
		maxResults: 5,
	}
}

func (w *WebSearch) Name() string { return report.SourceWebSearch }

type searchRequest struct {
	APIKey     string `json:"api_key"`
	Query      string `json:"query"`
	MaxResults int    `json:"max_results"`
}

type searchResponse struct {
	Results []struct {
		Title   string `json:"title"`
		URL     string `json:"url"`
		Content string `json:"content"`
	} `json:"results"`
	Answer string `json:"answer"`
}

// Fetch runs one search per requested field and returns the extracted text
// under the field name, plus the collected references.
func (w *WebSearch) Fetch(ctx context.Context, q Query) (Payload, error) {
	if w.apiKey == "" {
		return nil, fetchErr(w.Name(), "API key not configured", nil)
	}

	fields := q.Fields
	if len(fields) == 0 {
		fields = []string{report.FieldProjectOverview}
	}

	payload := Payload{}
	var references []map[string]string
	var lastErr error
	for _, field := range fields {
		text, refs, err := w.search(ctx, w.queryForField(q.Subject, field))
		if err != nil {
			lastErr = err
			w.logger.Warn("web search failed", zap.String("field", field), zap.Error(err))
			continue
		}
		if text != "" {
			payload[field] = text
		}
		references = append(references, refs...)
	}
	if len(payload) == 0 {
		if lastErr != nil {
			return nil, fetchErr(w.Name(), "all searches failed", lastErr)
		}
		return nil, fetchErr(w.Name(), "no results for "+q.Subject, nil)
	}
	if len(references) > 0 {
		payload["references"] = references
	}
	return payload, nil
}

func (w *WebSearch) queryForField(subject, field string) string {
	topic := strings.ReplaceAll(field, "_", " ")
	return fmt.Sprintf("%s cryptocurrency %s", subject, topic)
}

func (w *WebSearch) search(ctx context.Context, query string) (string, []map[string]string, error) {
	body, err := json.Marshal(searchRequest{APIKey: w.apiKey, Query: query, MaxResults: w.maxResults})
	if err != nil {
		return "", nil, err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, w.baseURL+"/search", bytes.NewReader(body))
	if err != nil {
		return "", nil, err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := w.httpClient.Do(req)
	if err != nil {
		return "", nil, err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return "", nil, fmt.Errorf("status %d", resp.StatusCode)
	}

	var result searchResponse
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return "", nil, err
	}

	var parts []string
	if result.Answer != "" {
		parts = append(parts, result.Answer)
	}
	var refs []map[string]string
	for _, r := range result.Results {
		refs = append(refs, map[string]string{"title": r.Title, "url": r.URL})
		content := r.Content
		if content == "" {
			content = w.fetchPageText(ctx, r.URL)
		}
		if content != "" {
			parts = append(parts, content)
		}
	}
	return strings.TrimSpace(strings.Join(parts, "\n\n")), refs, nil
}

// fetchPageText downloads a result page and extracts its readable text.
// Best-effort: failures return an empty string.
func (w *WebSearch) fetchPageText(ctx context.Context, pageURL string) string {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, pageURL, nil)
	if err != nil {
		return ""
	}
	resp, err := w.httpClient.Do(req)
	if err != nil {
		return ""
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return ""
	}
	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return ""
	}
	doc, err := html.Parse(bytes.NewReader(body))
	if err != nil {
		return ""
	}
	text := extractText(doc)
	if len(text) > 2000 {
		text = text[:2000]
	}
	return text
}

// extractText walks the parsed document collecting visible text, skipping
// script and style subtrees.
func extractText(doc *html.Node) string {
	var sb strings.Builder
	var traverse func(*html.Node)
	traverse = func(n *html.Node) {
		if n.Type == html.ElementNode && (n.Data == "script" || n.Data == "style" || n.Data == "noscript") {
			return
		}
		if n.Type == html.TextNode {
			text := strings.TrimSpace(n.Data)
			if text != "" {
				sb.WriteString(text)
				sb.WriteByte(' ')
			}
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			traverse(c)
		}
	}
	traverse(doc)
	return strings.TrimSpace(sb.String())
}
