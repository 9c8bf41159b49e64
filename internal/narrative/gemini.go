package narrative

import (
	"context"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"
	"google.golang.org/genai"
)

// GeminiGenerator implements Generator against the Google Gemini API.
type GeminiGenerator struct {
	client *genai.Client
	model  string
	logger *zap.Logger
}

// NewGeminiGenerator creates a Gemini-backed generator.
func NewGeminiGenerator(apiKey, model string, logger *zap.Logger) (*GeminiGenerator, error) {
	if apiKey == "" {
		return nil, fmt.Errorf("Gemini API key is required")
	}
	if model == "" {
		model = "gemini-2.0-flash"
	}
	client, err := genai.NewClient(context.Background(), &genai.ClientConfig{
		APIKey: apiKey,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create Gemini client: %w", err)
	}
	return &GeminiGenerator{client: client, model: model, logger: logger}, nil
}

func (g *GeminiGenerator) Name() string { return "gemini:" + g.model }

// Generate produces the narrative via one generateContent call.
func (g *GeminiGenerator) Generate(ctx context.Context, req Request) (string, error) {
	start := time.Now()
	prompt := BuildPrompt(req.Subject, req.Spec, req.Fields)

	resp, err := g.client.Models.GenerateContent(ctx, g.model,
		genai.Text(prompt),
		&genai.GenerateContentConfig{
			SystemInstruction: genai.NewContentFromText(SystemPrompt, genai.RoleUser),
			Temperature:       genai.Ptr[float32](0.3),
			MaxOutputTokens:   8192,
		},
	)
	if err != nil {
		return "", genErr(g.Name(), "generateContent failed", err)
	}

	text := strings.TrimSpace(resp.Text())
	if text == "" {
		return "", genErr(g.Name(), "empty completion returned", nil)
	}
	g.logger.Debug("narrative generated",
		zap.String("provider", g.Name()),
		zap.Duration("elapsed", time.Since(start)),
		zap.Int("length", len(text)))
	return text, nil
}
