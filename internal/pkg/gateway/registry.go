package gateway

import (
	"context"
	"errors"
)

// ErrMethodUnavailable is returned when no adapter is registered for a slug.
var ErrMethodUnavailable = errors.New("payment method unavailable")

// Adapter is the uniform contract over heterogeneous payment providers.
// Every method returns the normalized Result envelope, including provider
// errors, misconfiguration and timeouts.
type Adapter interface {
	CreatePayment(ctx context.Context, req Request) Result
	VerifyPayment(ctx context.Context, providerRef string) Result
	ProcessWebhook(ctx context.Context, payload []byte) Result
	RefundPayment(ctx context.Context, providerRef string, amountCents int64) Result
	SupportedCurrencies() []string
	Info() Info
}

// Registry is a static slug -> adapter table built once at startup. Dispatch
// is a map lookup, never reflection.
type Registry struct {
	adapters map[string]Adapter
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{adapters: make(map[string]Adapter)}
}

// Register adds an adapter under its info slug.
func (r *Registry) Register(a Adapter) {
	r.adapters[a.Info().Slug] = a
}

// Get resolves an adapter by payment method slug.
func (r *Registry) Get(slug string) (Adapter, error) {
	a, found := r.adapters[slug]
	if !found {
		return nil, ErrMethodUnavailable
	}
	return a, nil
}

// Slugs lists all registered adapter slugs.
func (r *Registry) Slugs() []string {
	out := make([]string, 0, len(r.adapters))
	for slug := range r.adapters {
		out = append(out, slug)
	}
	return out
}
