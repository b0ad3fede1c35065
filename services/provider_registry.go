package services

import (
	"github.com/sandboxhq/devicelink/domain"
	serrors "github.com/sandboxhq/devicelink/errors"
)

// ProviderRegistry resolves provider ids to their static upstream
// configuration. Providers are fixed at startup.
type ProviderRegistry struct {
	providers map[string]*domain.Provider
}

func NewProviderRegistry(providers []domain.Provider) *ProviderRegistry {
	m := make(map[string]*domain.Provider, len(providers))
	for i := range providers {
		p := providers[i]
		m[p.ID] = &p
	}
	return &ProviderRegistry{providers: m}
}

// Get returns the provider or serrors.ErrUnknownProvider.
func (r *ProviderRegistry) Get(id string) (*domain.Provider, error) {
	p, ok := r.providers[id]
	if !ok {
		return nil, serrors.ErrUnknownProvider
	}
	return p, nil
}
