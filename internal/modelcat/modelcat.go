// Package modelcat is the provider-agnostic LLM catalog: a Provider
// interface every concrete adapter (Anthropic, OpenAI, Bedrock) implements,
// tier resolution (fast/standard/powerful), and error classification into
// transient vs. fatal so the agentic loop's retry policy (§4.3) can decide
// whether to retry.
package modelcat

import (
	"context"
	"errors"
)

// Tier names the three model classes the system resolves by name rather
// than hard-coded model identifiers, matching C2's fast-tier compaction
// call and C8's default/vision tiers.
type Tier string

const (
	TierFast     Tier = "fast"
	TierStandard Tier = "standard"
	TierPowerful Tier = "powerful"
	TierVision   Tier = "vision"
)

// Request is the provider-agnostic chat-completion request.
type Request struct {
	Tier        Tier
	Messages    []Message
	Tools       []ToolDefinition
	MaxTokens   int
	Temperature float64
}

// Message is one provider-agnostic chat message.
type Message struct {
	Role       string
	Content    string
	ToolCallID string
}

// ToolDefinition is the provider-agnostic function-calling schema.
type ToolDefinition struct {
	Name        string
	Description string
	Parameters  []byte // JSON Schema
}

// ToolCall is one function call the model produced.
type ToolCall struct {
	ID        string
	Name      string
	Arguments []byte
}

// Response is the provider-agnostic chat-completion result.
type Response struct {
	Text       string
	ToolCalls  []ToolCall
	InputTokens  int
	OutputTokens int
}

// Provider is implemented by each concrete LLM adapter.
type Provider interface {
	Complete(ctx context.Context, req Request) (Response, error)
}

// ErrorKind classifies a provider failure for the retry policy.
type ErrorKind string

const (
	ErrorAuth           ErrorKind = "auth"
	ErrorInvalidRequest ErrorKind = "invalid_request"
	ErrorRateLimited    ErrorKind = "rate_limited"
	ErrorUnavailable    ErrorKind = "unavailable"
	ErrorUnknown        ErrorKind = "unknown"
)

// ProviderError wraps a classified provider failure.
type ProviderError struct {
	Kind ErrorKind
	Err  error
}

func (e *ProviderError) Error() string { return string(e.Kind) + ": " + e.Err.Error() }
func (e *ProviderError) Unwrap() error { return e.Err }

// Transient reports whether the loop's retry policy should retry this
// error: rate limits, timeouts, and connection failures are transient;
// authentication and malformed-request errors are not.
func (e *ProviderError) Transient() bool {
	switch e.Kind {
	case ErrorRateLimited, ErrorUnavailable:
		return true
	default:
		return false
	}
}

// NewProviderError constructs a classified ProviderError.
func NewProviderError(kind ErrorKind, err error) *ProviderError {
	return &ProviderError{Kind: kind, Err: err}
}

// AsProviderError extracts a *ProviderError from err's chain, if present.
func AsProviderError(err error) (*ProviderError, bool) {
	var pe *ProviderError
	ok := errors.As(err, &pe)
	return pe, ok
}

// Catalog resolves a Tier to a concrete Provider, letting callers register
// a different provider per tier (e.g. Anthropic Haiku for fast, Claude
// Opus for powerful) or share one provider across all tiers.
type Catalog struct {
	providers map[Tier]Provider
	fallback  Provider
}

// NewCatalog constructs an empty Catalog; use WithTier to register
// providers and WithFallback to set a default for unregistered tiers.
func NewCatalog() *Catalog {
	return &Catalog{providers: make(map[Tier]Provider)}
}

// WithTier registers provider for tier and returns the Catalog for chaining.
func (c *Catalog) WithTier(tier Tier, provider Provider) *Catalog {
	c.providers[tier] = provider
	return c
}

// WithFallback sets the provider used when a requested tier has no
// registered provider.
func (c *Catalog) WithFallback(provider Provider) *Catalog {
	c.fallback = provider
	return c
}

// Resolve returns the provider for tier, falling back to the catalog's
// default when unregistered.
func (c *Catalog) Resolve(tier Tier) (Provider, error) {
	if p, ok := c.providers[tier]; ok {
		return p, nil
	}
	if c.fallback != nil {
		return c.fallback, nil
	}
	return nil, errors.New("modelcat: no provider registered for tier " + string(tier))
}

// Complete resolves req.Tier and dispatches to the chosen provider.
func (c *Catalog) Complete(ctx context.Context, req Request) (Response, error) {
	provider, err := c.Resolve(req.Tier)
	if err != nil {
		return Response{}, err
	}
	return provider.Complete(ctx, req)
}
