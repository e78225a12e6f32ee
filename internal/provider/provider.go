// Package provider adapts remote assistant backends to assistant.Service.
//
// OpenAIService talks to the hosted Assistants API. AnthropicService keeps
// threads and runs in process and drives each run step through the
// Messages API, sending a pair-safe window of the thread history.
package provider

import (
	"fmt"

	"go.uber.org/zap"

	"github.com/petasbytes/go-assistant/internal/assistant"
	"github.com/petasbytes/go-assistant/internal/config"
	"github.com/petasbytes/go-assistant/tools"
)

// New returns the service selected by cfg.Backend.
func New(cfg config.Config, registry *tools.Registry, logger *zap.SugaredLogger) (assistant.Service, error) {
	switch cfg.Backend {
	case config.BackendOpenAI:
		return NewOpenAIService(OpenAIConfig{
			APIKey:      cfg.OpenAI.APIKey,
			BaseURL:     cfg.OpenAI.BaseURL,
			AssistantID: cfg.OpenAI.AssistantID,
			MaxRetries:  cfg.OpenAI.MaxRetries,
		}, registry), nil
	case config.BackendAnthropic:
		return NewAnthropicService(AnthropicConfig{
			APIKey:      cfg.Anthropic.APIKey,
			BaseURL:     cfg.Anthropic.BaseURL,
			Model:       cfg.Anthropic.Model,
			MaxTokens:   cfg.Anthropic.MaxTokens,
			System:      cfg.Anthropic.System,
			TokenBudget: cfg.Anthropic.TokenBudget,
			MaxRetries:  cfg.Anthropic.MaxRetries,
		}, registry, logger), nil
	default:
		return nil, fmt.Errorf("unknown backend %q", cfg.Backend)
	}
}
