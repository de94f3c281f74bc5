package backend

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"
	"sync"
	"time"

	"patentsmith/internal/errs"
)

// Anthropic defaults, overridable via environment or config.
const (
	anthropicDefaultModel   = "claude-3-5-sonnet-latest"
	anthropicDefaultBaseURL = "https://api.anthropic.com"
	anthropicVersion        = "2023-06-01"
)

// AnthropicClient implements Backend over the Anthropic messages API.
type AnthropicClient struct {
	apiKey     string
	baseURL    string
	model      string
	httpClient *http.Client

	mu          sync.Mutex
	lastRequest time.Time
}

// AnthropicConfig holds construction parameters. Zero fields fall back
// to environment variables, then to the provider defaults.
type AnthropicConfig struct {
	APIKey  string
	BaseURL string
	Model   string
	Timeout time.Duration
}

// NewAnthropicClient builds an Anthropic backend. A missing API key is
// an AuthenticationFailure.
func NewAnthropicClient(cfg AnthropicConfig) (*AnthropicClient, error) {
	if cfg.APIKey == "" {
		cfg.APIKey = Credential(ProviderAnthropic)
	}
	if cfg.APIKey == "" {
		return nil, errs.New(errs.AuthenticationFailure, "anthropic API key not configured")
	}
	if cfg.Model == "" {
		cfg.Model = os.Getenv("ANTHROPIC_MODEL")
	}
	if cfg.Model == "" {
		cfg.Model = anthropicDefaultModel
	}
	if cfg.BaseURL == "" {
		cfg.BaseURL = os.Getenv("ANTHROPIC_BASE_URL")
	}
	if cfg.BaseURL == "" {
		cfg.BaseURL = anthropicDefaultBaseURL
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 15 * time.Minute
	}
	return &AnthropicClient{
		apiKey:     cfg.APIKey,
		baseURL:    strings.TrimRight(cfg.BaseURL, "/"),
		model:      cfg.Model,
		httpClient: &http.Client{Timeout: cfg.Timeout},
	}, nil
}

func (c *AnthropicClient) Name() string  { return ProviderAnthropic }
func (c *AnthropicClient) Model() string { return c.model }

type anthropicMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type anthropicRequest struct {
	Model       string             `json:"model"`
	MaxTokens   int                `json:"max_tokens"`
	System      string             `json:"system,omitempty"`
	Messages    []anthropicMessage `json:"messages"`
	Temperature float64            `json:"temperature,omitempty"`
}

type anthropicResponse struct {
	Content []struct {
		Type string `json:"type"`
		Text string `json:"text"`
	} `json:"content"`
	Error *struct {
		Type    string `json:"type"`
		Message string `json:"message"`
	} `json:"error,omitempty"`
}

// Generate sends one messages request. Rate limiting keeps a minimum
// interval between requests; 429 responses are retried with
// exponential backoff before surfacing as TransientFailure.
func (c *AnthropicClient) Generate(ctx context.Context, system, user string, opts Options) (string, error) {
	ctx, cancel := withCallTimeout(ctx, opts, c.httpClient.Timeout)
	defer cancel()

	c.mu.Lock()
	if elapsed := time.Since(c.lastRequest); elapsed < 100*time.Millisecond {
		time.Sleep(100*time.Millisecond - elapsed)
	}
	c.lastRequest = time.Now()
	c.mu.Unlock()

	maxTokens := opts.MaxTokens
	if maxTokens <= 0 {
		maxTokens = 4096
	}
	body, err := json.Marshal(anthropicRequest{
		Model:       c.model,
		MaxTokens:   maxTokens,
		System:      system,
		Messages:    []anthropicMessage{{Role: "user", Content: user}},
		Temperature: opts.Temperature,
	})
	if err != nil {
		return "", errs.Wrap(errs.InvalidResponse, err, "marshal anthropic request")
	}

	var lastErr error
	for i := 0; i <= httpRetries; i++ {
		if i > 0 {
			select {
			case <-time.After(time.Duration(1<<uint(i-1)) * time.Second):
			case <-ctx.Done():
				return "", errs.Wrap(errs.TransientFailure, ctx.Err(), "anthropic request cancelled")
			}
		}

		req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/v1/messages", bytes.NewReader(body))
		if err != nil {
			return "", errs.Wrap(errs.TransientFailure, err, "create anthropic request")
		}
		req.Header.Set("Content-Type", "application/json")
		req.Header.Set("x-api-key", c.apiKey)
		req.Header.Set("anthropic-version", anthropicVersion)

		resp, err := c.httpClient.Do(req)
		if err != nil {
			if errors.Is(err, context.Canceled) {
				return "", errs.Wrap(errs.TransientFailure, err, "anthropic request cancelled")
			}
			lastErr = err
			continue
		}
		data, readErr := io.ReadAll(resp.Body)
		resp.Body.Close()
		if readErr != nil {
			lastErr = readErr
			continue
		}

		switch {
		case resp.StatusCode == http.StatusTooManyRequests:
			lastErr = fmt.Errorf("rate limit exceeded (429)")
			continue
		case resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden:
			return "", errs.Newf(errs.AuthenticationFailure, "anthropic rejected credential: status %d", resp.StatusCode)
		case resp.StatusCode >= 500:
			lastErr = fmt.Errorf("anthropic server error: status %d: %s", resp.StatusCode, truncateBody(data))
			continue
		case resp.StatusCode != http.StatusOK:
			return "", errs.Newf(errs.InvalidResponse, "anthropic request failed: status %d: %s", resp.StatusCode, truncateBody(data))
		}

		var parsed anthropicResponse
		if err := json.Unmarshal(data, &parsed); err != nil {
			return "", errs.Wrap(errs.InvalidResponse, err, "parse anthropic response")
		}
		if parsed.Error != nil {
			return "", errs.Newf(errs.InvalidResponse, "anthropic API error: %s", parsed.Error.Message)
		}

		var sb strings.Builder
		for _, block := range parsed.Content {
			if block.Type == "text" {
				sb.WriteString(block.Text)
			}
		}
		text := strings.TrimSpace(sb.String())
		if text == "" {
			return "", errs.New(errs.InvalidResponse, "anthropic response contained no text")
		}
		return text, nil
	}
	return "", errs.Wrap(errs.TransientFailure, lastErr, "anthropic retries exhausted")
}

// httpRetries is the extra-attempt budget HTTP providers spend on
// transient statuses before surfacing TransientFailure.
const httpRetries = 3

func truncateBody(data []byte) string {
	s := strings.TrimSpace(string(data))
	if len(s) > 512 {
		return s[:512] + "..."
	}
	return s
}
