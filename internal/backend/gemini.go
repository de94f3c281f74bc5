package backend

import (
	"context"
	"os"
	"strings"
	"time"

	"google.golang.org/genai"

	"patentsmith/internal/errs"
)

const geminiDefaultModel = "gemini-2.0-flash"

// GeminiClient implements Backend over the google.golang.org/genai SDK.
type GeminiClient struct {
	client  *genai.Client
	model   string
	timeout time.Duration
}

// GeminiConfig holds construction parameters. Zero fields fall back to
// environment variables, then to the provider defaults.
type GeminiConfig struct {
	APIKey  string
	Model   string
	Timeout time.Duration
}

// NewGeminiClient builds a Gemini backend. A missing API key is an
// AuthenticationFailure.
func NewGeminiClient(ctx context.Context, cfg GeminiConfig) (*GeminiClient, error) {
	if cfg.APIKey == "" {
		cfg.APIKey = Credential(ProviderGemini)
	}
	if cfg.APIKey == "" {
		return nil, errs.New(errs.AuthenticationFailure, "gemini API key not configured")
	}
	if cfg.Model == "" {
		cfg.Model = os.Getenv("GEMINI_MODEL")
	}
	if cfg.Model == "" {
		cfg.Model = geminiDefaultModel
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 15 * time.Minute
	}

	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:  cfg.APIKey,
		Backend: genai.BackendGeminiAPI,
	})
	if err != nil {
		return nil, errs.Wrap(errs.TransientFailure, err, "create gemini client")
	}
	return &GeminiClient{client: client, model: cfg.Model, timeout: cfg.Timeout}, nil
}

func (c *GeminiClient) Name() string  { return ProviderGemini }
func (c *GeminiClient) Model() string { return c.model }

// Generate sends one generation request through the SDK.
func (c *GeminiClient) Generate(ctx context.Context, system, user string, opts Options) (string, error) {
	ctx, cancel := withCallTimeout(ctx, opts, c.timeout)
	defer cancel()

	genCfg := &genai.GenerateContentConfig{}
	if system != "" {
		genCfg.SystemInstruction = genai.NewContentFromText(system, genai.RoleUser)
	}
	if opts.MaxTokens > 0 {
		genCfg.MaxOutputTokens = int32(opts.MaxTokens)
	}
	if opts.Temperature > 0 {
		genCfg.Temperature = genai.Ptr(float32(opts.Temperature))
	}

	result, err := c.client.Models.GenerateContent(ctx, c.model, genai.Text(user), genCfg)
	if err != nil {
		if apiErr, ok := err.(genai.APIError); ok {
			switch {
			case apiErr.Code == 401 || apiErr.Code == 403:
				return "", errs.Wrap(errs.AuthenticationFailure, err, "gemini rejected credential")
			case apiErr.Code == 429 || apiErr.Code >= 500:
				return "", errs.Wrap(errs.TransientFailure, err, "gemini request failed")
			default:
				return "", errs.Wrap(errs.InvalidResponse, err, "gemini request failed")
			}
		}
		return "", errs.Wrap(errs.TransientFailure, err, "gemini request failed")
	}

	text := strings.TrimSpace(result.Text())
	if text == "" {
		return "", errs.New(errs.InvalidResponse, "gemini response contained no text")
	}
	return text, nil
}
