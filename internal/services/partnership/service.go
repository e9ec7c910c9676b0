package partnership

import (
	"context"
	"strings"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"obgateway/internal/apperr"
	"obgateway/internal/clock"
	"obgateway/internal/domain/partnership"
	"obgateway/internal/pagination"
	"obgateway/internal/provider"
	"obgateway/internal/store/repositories"
)

// Service onboards ASPSP partnerships.
type Service struct {
	store    repositories.Store
	registry *provider.Registry
	clk      clock.Clock
	newID    func() string
}

func NewService(store repositories.Store, registry *provider.Registry, clk clock.Clock) *Service {
	return &Service{store: store, registry: registry, clk: clk, newID: uuid.NewString}
}

// Create registers a partnership served by a registered provider adapter.
func (s *Service) Create(ctx context.Context, name, providerType string, modules []string) (*partnership.Partnership, error) {
	const op = "partnership.create"
	providerType = strings.ToLower(strings.TrimSpace(providerType))
	if !s.registry.Has(provider.ProviderType(providerType)) {
		return nil, apperr.Validation(op, "provider %q is not registered", providerType)
	}
	mods := make([]partnership.Module, 0, len(modules))
	for _, m := range modules {
		mod, err := partnership.ParseModule(m)
		if err != nil {
			return nil, apperr.Validation(op, "%v", err)
		}
		mods = append(mods, mod)
	}
	p, err := partnership.New(s.newID(), name, providerType, mods, s.clk.Now())
	if err != nil {
		return nil, apperr.Validation(op, "%v", err)
	}
	if err := s.store.Partnerships().Insert(ctx, p); err != nil {
		return nil, repositories.AsAppError(op, "partnership", err)
	}
	log.Info().
		Str("partnership_id", p.PartnershipID).
		Str("provider", p.Provider).
		Msg("partnership created")
	return p, nil
}

func (s *Service) Get(ctx context.Context, id string) (*partnership.Partnership, error) {
	p, err := s.store.Partnerships().Get(ctx, id)
	if err != nil {
		return nil, repositories.AsAppError("partnership.get", "partnership "+id, err)
	}
	return p, nil
}

// List returns partnerships supporting module, or all of them when module is empty.
func (s *Service) List(ctx context.Context, module string, page pagination.Request) ([]*partnership.Partnership, int, error) {
	const op = "partnership.list"
	var m partnership.Module
	if strings.TrimSpace(module) != "" {
		parsed, err := partnership.ParseModule(module)
		if err != nil {
			return nil, 0, apperr.Validation(op, "%v", err)
		}
		m = parsed
	}
	items, total, err := s.store.Partnerships().List(ctx, m, page)
	if err != nil {
		return nil, 0, repositories.AsAppError(op, "partnership", err)
	}
	return items, total, nil
}
