package narrative

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"
)

// OpenAIConfig configures an OpenAI-compatible chat completion endpoint.
type OpenAIConfig struct {
	APIKey  string
	BaseURL string
	Model   string
	Timeout time.Duration
}

// DefaultOpenAIConfig returns sensible defaults.
func DefaultOpenAIConfig(apiKey string) OpenAIConfig {
	return OpenAIConfig{
		APIKey:  apiKey,
		BaseURL: "https://api.openai.com/v1",
		Model:   "gpt-4o-mini",
		Timeout: 3 * time.Minute,
	}
}

// OpenAIGenerator implements Generator against any OpenAI-compatible API.
type OpenAIGenerator struct {
	apiKey     string
	baseURL    string
	model      string
	httpClient *http.Client
	logger     *zap.Logger

	mu          sync.Mutex
	lastRequest time.Time
}

// NewOpenAIGenerator creates a generator with custom config.
func NewOpenAIGenerator(config OpenAIConfig, logger *zap.Logger) *OpenAIGenerator {
	if config.BaseURL == "" {
		config.BaseURL = "https://api.openai.com/v1"
	}
	if config.Timeout <= 0 {
		config.Timeout = 3 * time.Minute
	}
	return &OpenAIGenerator{
		apiKey:     config.APIKey,
		baseURL:    strings.TrimRight(config.BaseURL, "/"),
		model:      config.Model,
		httpClient: &http.Client{Timeout: config.Timeout},
		logger:     logger,
	}
}

func (g *OpenAIGenerator) Name() string { return "openai:" + g.model }

type openAIMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type openAIRequest struct {
	Model       string          `json:"model"`
	Messages    []openAIMessage `json:"messages"`
	MaxTokens   int             `json:"max_tokens,omitempty"`
	Temperature float64         `json:"temperature"`
}

type openAIResponse struct {
	Choices []struct {
		Message struct {
			Content string `json:"content"`
		} `json:"message"`
	} `json:"choices"`
	Error *struct {
		Message string `json:"message"`
	} `json:"error"`
}

// Generate sends the prompt and returns the completion. Rate limits are
// retried with exponential backoff.
func (g *OpenAIGenerator) Generate(ctx context.Context, req Request) (string, error) {
	if g.apiKey == "" {
		return "", genErr(g.Name(), "API key not configured", nil)
	}
	if _, hasDeadline := ctx.Deadline(); !hasDeadline {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, g.httpClient.Timeout)
		defer cancel()
	}

	g.mu.Lock()
	if elapsed := time.Since(g.lastRequest); elapsed < 100*time.Millisecond {
		time.Sleep(100*time.Millisecond - elapsed)
	}
	g.lastRequest = time.Now()
	g.mu.Unlock()

	body := openAIRequest{
		Model: g.model,
		Messages: []openAIMessage{
			{Role: "system", Content: SystemPrompt},
			{Role: "user", Content: BuildPrompt(req.Subject, req.Spec, req.Fields)},
		},
		MaxTokens:   8192,
		Temperature: 0.3,
	}

	start := time.Now()
	const maxRetries = 3
	var lastErr error
	for attempt := 0; attempt <= maxRetries; attempt++ {
		if attempt > 0 {
			select {
			case <-time.After(time.Duration(1<<uint(attempt-1)) * time.Second):
			case <-ctx.Done():
				return "", genErr(g.Name(), "cancelled during backoff", ctx.Err())
			}
		}

		jsonData, err := json.Marshal(body)
		if err != nil {
			return "", genErr(g.Name(), "failed to marshal request", err)
		}
		httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, g.baseURL+"/chat/completions", bytes.NewReader(jsonData))
		if err != nil {
			return "", genErr(g.Name(), "failed to create request", err)
		}
		httpReq.Header.Set("Content-Type", "application/json")
		httpReq.Header.Set("Authorization", "Bearer "+g.apiKey)

		resp, err := g.httpClient.Do(httpReq)
		if err != nil {
			lastErr = err
			continue
		}
		respBody, err := io.ReadAll(resp.Body)
		resp.Body.Close()
		if err != nil {
			lastErr = err
			continue
		}
		if resp.StatusCode == http.StatusTooManyRequests {
			lastErr = fmt.Errorf("rate limit exceeded (429)")
			continue
		}
		if resp.StatusCode != http.StatusOK {
			return "", genErr(g.Name(),
				fmt.Sprintf("API request failed with status %d: %s", resp.StatusCode, truncate(string(respBody), 300)), nil)
		}

		var parsed openAIResponse
		if err := json.Unmarshal(respBody, &parsed); err != nil {
			return "", genErr(g.Name(), "failed to parse response", err)
		}
		if parsed.Error != nil {
			return "", genErr(g.Name(), "API error: "+parsed.Error.Message, nil)
		}
		if len(parsed.Choices) == 0 {
			return "", genErr(g.Name(), "no completion returned", nil)
		}

		text := strings.TrimSpace(parsed.Choices[0].Message.Content)
		g.logger.Debug("narrative generated",
			zap.String("provider", g.Name()),
			zap.Duration("elapsed", time.Since(start)),
			zap.Int("length", len(text)))
		return text, nil
	}
	return "", genErr(g.Name(), "max retries exceeded", lastErr)
}
