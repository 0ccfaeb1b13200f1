package services

import (
	"fmt"

	"arxiv-stars/config"
	"arxiv-stars/providers"
	"arxiv-stars/providers/gemini"
	"arxiv-stars/providers/openai"

	"go.uber.org/zap"
)

// NewGenerator wählt den Generative-Text-Provider anhand von LLM_PROVIDER.
func NewGenerator(cfg *config.Config, logger *zap.Logger) (providers.Generator, error) {
	switch cfg.LLMProvider {
	case "", "gemini":
		return gemini.NewClient(cfg, logger), nil
	case "openai":
		return openai.NewClient(cfg, logger), nil
	default:
		return nil, fmt.Errorf("unknown LLM provider %q", cfg.LLMProvider)
	}
}
