package provider

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"

	"github.com/rs/zerolog/log"

	"obgateway/internal/apperr"
	"obgateway/internal/domain/partnership"
)

// Registry manages all ASPSP adapters
type Registry struct {
	providers map[ProviderType]Provider
	fallback  ProviderType
	mu        sync.RWMutex
}

// NewRegistry creates a registry; fallback serves consents without a partnership.
func NewRegistry(fallback ProviderType) *Registry {
	return &Registry{
		providers: make(map[ProviderType]Provider),
		fallback:  fallback,
	}
}

// RegisterProvider adds a provider to the registry
func (r *Registry) RegisterProvider(providerType ProviderType, p Provider) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.providers[providerType] = p
	log.Info().
		Str("provider", string(providerType)).
		Str("name", p.Name()).
		Strs("operations", operationTypesToStrings(p.SupportedOperations())).
		Msg("registered aspsp provider")
}

// GetProvider returns a provider by type
func (r *Registry) GetProvider(providerType ProviderType) (Provider, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	p, ok := r.providers[providerType]
	if !ok {
		return nil, &ProviderError{
			Code:    ErrProviderNotFound,
			Message: fmt.Sprintf("provider %s not registered", providerType),
		}
	}
	return p, nil
}

// Has reports whether a provider type is registered.
func (r *Registry) Has(providerType ProviderType) bool {
	_, err := r.GetProvider(providerType)
	return err == nil
}

// ForOperation resolves the adapter serving a partnership (or the fallback when
// pt is nil) and checks that it offers op.
func (r *Registry) ForOperation(pt *partnership.Partnership, op OperationType) (Provider, error) {
	t := r.fallback
	if pt != nil {
		t = ProviderType(pt.Provider)
	}
	p, err := r.GetProvider(t)
	if err != nil {
		return nil, err
	}
	if !supportsOperation(p, op) {
		return nil, &ProviderError{
			Code:    ErrUnsupported,
			Message: fmt.Sprintf("provider %s does not support %s", p.Name(), op),
		}
	}
	return p, nil
}

// ListProviders returns all registered provider types
func (r *Registry) ListProviders() []ProviderType {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var types []ProviderType
	for t := range r.providers {
		types = append(types, t)
	}
	sort.Slice(types, func(i, j int) bool { return types[i] < types[j] })
	return types
}

// AsAppError maps an adapter failure onto the service error taxonomy. Exchange
// failures during authorisation are ExternalAuth; everything else is Upstream.
func AsAppError(op string, err error, authExchange bool) error {
	if err == nil {
		return nil
	}
	var ae *apperr.Error
	if errors.As(err, &ae) {
		return err
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return apperr.UpstreamTimeout(op, err)
	}
	clientFault := false
	var pe *ProviderError
	if errors.As(err, &pe) {
		clientFault = pe.ClientFault()
	}
	if authExchange {
		return apperr.ExternalAuth(op, clientFault, err)
	}
	return apperr.Upstream(op, clientFault, err)
}

func supportsOperation(p Provider, operation OperationType) bool {
	for _, op := range p.SupportedOperations() {
		if op == operation {
			return true
		}
	}
	return false
}

func operationTypesToStrings(ops []OperationType) []string {
	var strs []string
	for _, op := range ops {
		strs = append(strs, string(op))
	}
	return strs
}
