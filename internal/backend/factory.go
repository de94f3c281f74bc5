package backend

import (
	"context"
	"strings"

	"patentsmith/internal/config"
	"patentsmith/internal/errs"
)

// New resolves a Backend from the run configuration. An empty backend
// name auto-detects the first provider with a credential present.
// Resolution happens exactly once, at run start.
func New(ctx context.Context, cfg config.Config) (Backend, error) {
	name := strings.ToLower(strings.TrimSpace(cfg.Backend))
	if name == "" {
		name = Detect()
		if name == "" {
			return nil, errs.New(errs.AuthenticationFailure,
				"no provider credential found; set one of ANTHROPIC_API_KEY, OPENAI_API_KEY, GEMINI_API_KEY")
		}
	}

	timeout := cfg.RequestTimeout()
	switch name {
	case ProviderAnthropic:
		return NewAnthropicClient(AnthropicConfig{
			BaseURL: cfg.BaseURL,
			Model:   cfg.Model,
			Timeout: timeout,
		})
	case ProviderOpenAI:
		return NewOpenAIClient(OpenAIConfig{
			BaseURL: cfg.BaseURL,
			Model:   cfg.Model,
			Timeout: timeout,
		})
	case ProviderGemini:
		return NewGeminiClient(ctx, GeminiConfig{
			Model:   cfg.Model,
			Timeout: timeout,
		})
	default:
		return nil, errs.Newf(errs.AuthenticationFailure,
			"unknown backend %q (supported: %s)", cfg.Backend, strings.Join(Providers(), ", "))
	}
}
