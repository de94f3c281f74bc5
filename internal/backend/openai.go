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

const (
	openAIDefaultModel   = "gpt-4o-mini"
	openAIDefaultBaseURL = "https://api.openai.com/v1"
)

// OpenAIClient implements Backend over the chat completions API.
type OpenAIClient struct {
	apiKey     string
	baseURL    string
	model      string
	httpClient *http.Client

	mu          sync.Mutex
	lastRequest time.Time
}

// OpenAIConfig holds construction parameters. Zero fields fall back to
// environment variables, then to the provider defaults.
type OpenAIConfig struct {
	APIKey  string
	BaseURL string
	Model   string
	Timeout time.Duration
}

// NewOpenAIClient builds an OpenAI backend. A missing API key is an
// AuthenticationFailure.
func NewOpenAIClient(cfg OpenAIConfig) (*OpenAIClient, error) {
	if cfg.APIKey == "" {
		cfg.APIKey = Credential(ProviderOpenAI)
	}
	if cfg.APIKey == "" {
		return nil, errs.New(errs.AuthenticationFailure, "openai API key not configured")
	}
	if cfg.Model == "" {
		cfg.Model = os.Getenv("OPENAI_MODEL")
	}
	if cfg.Model == "" {
		cfg.Model = openAIDefaultModel
	}
	if cfg.BaseURL == "" {
		cfg.BaseURL = os.Getenv("OPENAI_BASE_URL")
	}
	if cfg.BaseURL == "" {
		cfg.BaseURL = openAIDefaultBaseURL
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 15 * time.Minute
	}
	return &OpenAIClient{
		apiKey:     cfg.APIKey,
		baseURL:    strings.TrimRight(cfg.BaseURL, "/"),
		model:      cfg.Model,
		httpClient: &http.Client{Timeout: cfg.Timeout},
	}, nil
}

func (c *OpenAIClient) Name() string  { return ProviderOpenAI }
func (c *OpenAIClient) Model() string { return c.model }

type openAIMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type openAIRequest struct {
	Model       string          `json:"model"`
	Messages    []openAIMessage `json:"messages"`
	MaxTokens   int             `json:"max_tokens,omitempty"`
	Temperature float64         `json:"temperature,omitempty"`
}

type openAIResponse struct {
	Choices []struct {
		Message struct {
			Content string `json:"content"`
		} `json:"message"`
	} `json:"choices"`
	Error *struct {
		Message string `json:"message"`
		Type    string `json:"type"`
	} `json:"error,omitempty"`
}

// Generate sends one chat completion request with the same rate-limit
// and 429-backoff behavior as the Anthropic client.
func (c *OpenAIClient) Generate(ctx context.Context, system, user string, opts Options) (string, error) {
	ctx, cancel := withCallTimeout(ctx, opts, c.httpClient.Timeout)
	defer cancel()

	c.mu.Lock()
	if elapsed := time.Since(c.lastRequest); elapsed < 100*time.Millisecond {
		time.Sleep(100*time.Millisecond - elapsed)
	}
	c.lastRequest = time.Now()
	c.mu.Unlock()

	messages := make([]openAIMessage, 0, 2)
	if system != "" {
		messages = append(messages, openAIMessage{Role: "system", Content: system})
	}
	messages = append(messages, openAIMessage{Role: "user", Content: user})

	maxTokens := opts.MaxTokens
	if maxTokens <= 0 {
		maxTokens = 4096
	}
	body, err := json.Marshal(openAIRequest{
		Model:       c.model,
		Messages:    messages,
		MaxTokens:   maxTokens,
		Temperature: opts.Temperature,
	})
	if err != nil {
		return "", errs.Wrap(errs.InvalidResponse, err, "marshal openai request")
	}

	var lastErr error
	for i := 0; i <= httpRetries; i++ {
		if i > 0 {
			select {
			case <-time.After(time.Duration(1<<uint(i-1)) * time.Second):
			case <-ctx.Done():
				return "", errs.Wrap(errs.TransientFailure, ctx.Err(), "openai request cancelled")
			}
		}

		req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/chat/completions", bytes.NewReader(body))
		if err != nil {
			return "", errs.Wrap(errs.TransientFailure, err, "create openai request")
		}
		req.Header.Set("Content-Type", "application/json")
		req.Header.Set("Authorization", "Bearer "+c.apiKey)

		resp, err := c.httpClient.Do(req)
		if err != nil {
			if errors.Is(err, context.Canceled) {
				return "", errs.Wrap(errs.TransientFailure, err, "openai request cancelled")
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
			return "", errs.Newf(errs.AuthenticationFailure, "openai rejected credential: status %d", resp.StatusCode)
		case resp.StatusCode >= 500:
			lastErr = fmt.Errorf("openai server error: status %d: %s", resp.StatusCode, truncateBody(data))
			continue
		case resp.StatusCode != http.StatusOK:
			return "", errs.Newf(errs.InvalidResponse, "openai request failed: status %d: %s", resp.StatusCode, truncateBody(data))
		}

		var parsed openAIResponse
		if err := json.Unmarshal(data, &parsed); err != nil {
			return "", errs.Wrap(errs.InvalidResponse, err, "parse openai response")
		}
		if parsed.Error != nil {
			return "", errs.Newf(errs.InvalidResponse, "openai API error: %s", parsed.Error.Message)
		}
		if len(parsed.Choices) == 0 {
			return "", errs.New(errs.InvalidResponse, "openai response contained no choices")
		}
		text := strings.TrimSpace(parsed.Choices[0].Message.Content)
		if text == "" {
			return "", errs.New(errs.InvalidResponse, "openai response contained no text")
		}
		return text, nil
	}
	return "", errs.Wrap(errs.TransientFailure, lastErr, "openai retries exhausted")
}
