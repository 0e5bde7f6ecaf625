package providers

import (
	"sort"

	"github.com/ucstore/ucstore-backend/pkg/config"
	"github.com/ucstore/ucstore-backend/pkg/errors"
)

// Registry resolves webhook adapters by provider name. Providers with no
// configured secret are simply absent, so their endpoints 404.
type Registry struct {
	adapters map[string]Adapter
}

func NewRegistry(cfg config.ProvidersConfig) *Registry {
	r := &Registry{adapters: make(map[string]Adapter)}
	if cfg.CardProSecret != "" {
		r.register(NewCardPro(cfg.CardProSecret))
	}
	if cfg.WalletIOSecret != "" {
		r.register(NewWalletIO(cfg.WalletIOSecret))
	}
	if cfg.CryptoPayXSecret != "" {
		r.register(NewCryptoPayX(cfg.CryptoPayXSecret))
	}
	return r
}

func (r *Registry) register(a Adapter) {
	r.adapters[a.Name()] = a
}

// Get returns the adapter for a provider name, or a not-found error when the
// provider is unknown or not configured.
func (r *Registry) Get(name string) (Adapter, error) {
	a, ok := r.adapters[name]
	if !ok {
		return nil, errors.New(errors.CodeNotFound, "unknown payment provider", map[string]any{
			"provider": name,
		})
	}
	return a, nil
}

// Names lists configured providers in stable order.
func (r *Registry) Names() []string {
	names := make([]string, 0, len(r.adapters))
	for name := range r.adapters {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
