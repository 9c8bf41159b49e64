package narrative

import (
	"fmt"

	"go.uber.org/zap"
)

// ProviderConfig selects and configures a narrative generator.
type ProviderConfig struct {
	// Provider is one of: gemini, openai, none. "none" skips generation and
	// relies on the deterministic fallback.
	Provider string
	APIKey   string
	BaseURL  string
	Model    string
}

// NewGenerator builds the generator named by the config. A nil generator with
// nil error means narrative generation is disabled.
func NewGenerator(cfg ProviderConfig, logger *zap.Logger) (Generator, error) {
	switch cfg.Provider {
	case "gemini":
		return NewGeminiGenerator(cfg.APIKey, cfg.Model, logger)
	case "openai":
		oc := DefaultOpenAIConfig(cfg.APIKey)
		if cfg.BaseURL != "" {
			oc.BaseURL = cfg.BaseURL
		}
		if cfg.Model != "" {
			oc.Model = cfg.Model
		}
		return NewOpenAIGenerator(oc, logger), nil
	case "", "none":
		return nil, nil
	default:
		return nil, fmt.Errorf("unknown narrative provider %q", cfg.Provider)
	}
}
