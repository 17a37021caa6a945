package enrich

import "context"

// Provider is a JSON-only completion backend. Both the primary and the
// fallback client satisfy it, so stages stay provider-agnostic.
type Provider interface {
	Name() string
	CompleteJSON(ctx context.Context, systemPrompt, userPrompt string) (string, error)
}

// ProviderSet pairs the primary provider with an optional fallback. The
// backoff controller decides when a cycle switches over; stages just honor
// the request flag.
type ProviderSet struct {
	Primary  Provider
	Fallback Provider
}

// HasFallback reports whether a fallback provider is configured.
func (ps ProviderSet) HasFallback() bool {
	return ps.Fallback != nil
}

// Pick returns the provider for this attempt. Requests asking for the
// fallback still get the primary when none is configured.
func (ps ProviderSet) Pick(useFallback bool) Provider {
	if useFallback && ps.Fallback != nil {
		return ps.Fallback
	}
	return ps.Primary
}
