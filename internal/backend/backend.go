// Package backend gives the pipeline a uniform generation contract over
// heterogeneous model providers. Providers map their transport errors
// into the errs taxonomy and return raw text; no business validation
// happens here.
package backend

import (
	"context"
	"os"
	"time"
)

// Options carries per-call generation parameters. They pass through to
// the provider untouched.
type Options struct {
	MaxTokens   int
	Temperature float64

	// Timeout bounds the call when the caller's context has no
	// deadline of its own.
	Timeout time.Duration
}

// Backend is the uniform call contract every provider satisfies.
type Backend interface {
	// Name identifies the provider (anthropic, openai, gemini).
	Name() string

	// Model returns the resolved model identifier.
	Model() string

	// Generate sends one system+user request and returns the raw
	// completion text. Failures are classified as
	// AuthenticationFailure, TransientFailure, or InvalidResponse.
	Generate(ctx context.Context, system, user string, opts Options) (string, error)
}

// Provider names, in detection priority order.
const (
	ProviderAnthropic = "anthropic"
	ProviderOpenAI    = "openai"
	ProviderGemini    = "gemini"
)

// Providers returns the supported provider names in detection order.
func Providers() []string {
	return []string{ProviderAnthropic, ProviderOpenAI, ProviderGemini}
}

// Credential environment variables per provider. The first present key
// wins.
var credentialKeys = map[string][]string{
	ProviderAnthropic: {"ANTHROPIC_API_KEY", "ANTHROPIC_AUTH_TOKEN"},
	ProviderOpenAI:    {"OPENAI_API_KEY"},
	ProviderGemini:    {"GEMINI_API_KEY", "GOOGLE_API_KEY"},
}

// CredentialKeys returns the environment variables consulted for a
// provider's API key.
func CredentialKeys(provider string) []string {
	return credentialKeys[provider]
}

// Credential returns the provider's API key from the environment, or ""
// when none of its keys are set.
func Credential(provider string) string {
	for _, key := range credentialKeys[provider] {
		if v := os.Getenv(key); v != "" {
			return v
		}
	}
	return ""
}

// Available reports whether a provider has a credential present. No
// network call is made.
func Available(provider string) bool {
	return Credential(provider) != ""
}

// Detect returns the first provider with a credential, in priority
// order anthropic, openai, gemini. Empty when none is configured.
func Detect() string {
	for _, p := range Providers() {
		if Available(p) {
			return p
		}
	}
	return ""
}

// withCallTimeout applies opts.Timeout (or fallback) only when ctx has
// no deadline of its own.
func withCallTimeout(ctx context.Context, opts Options, fallback time.Duration) (context.Context, context.CancelFunc) {
	if _, has := ctx.Deadline(); has {
		return ctx, func() {}
	}
	d := opts.Timeout
	if d <= 0 {
		d = fallback
	}
	return context.WithTimeout(ctx, d)
}
