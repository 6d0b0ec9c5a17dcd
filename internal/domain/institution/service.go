package institution

import (
	"context"
	"strings"
	"time"

	"github.com/Leochrono/dinero-tikee-sub001/internal/domain/session/model"
	"github.com/Leochrono/dinero-tikee-sub001/internal/platform/cache"
	"github.com/Leochrono/dinero-tikee-sub001/internal/platform/httpapi"
)

// LookupAPI is the remote institution contract consumed by the service.
type LookupAPI interface {
	LookupInstitutions(ctx context.Context, filters httpapi.InstitutionFilters) ([]httpapi.Institution, error)
}

// Service answers institution lookups through the TTL cache. Lookups are
// read-mostly: two searches with equivalent filters within the TTL window
// cost a single remote call.
type Service struct {
	api    LookupAPI
	cache  *cache.TTLCache
	logger model.Logger
	ttl    time.Duration
}

// NewService wires a lookup service over the shared cache.
func NewService(api LookupAPI, c *cache.TTLCache, logger model.Logger, ttl time.Duration) *Service {
	if ttl <= 0 {
		ttl = 5 * time.Minute
	}
	return &Service{api: api, cache: c, logger: logger, ttl: ttl}
}

// Lookup returns institutions matching the filters, served from cache when
// an equivalent query is still fresh.
func (s *Service) Lookup(ctx context.Context, filters httpapi.InstitutionFilters) ([]httpapi.Institution, error) {
	normalized := normalizeFilters(filters)
	key := cacheKey(normalized)

	if cached, ok := s.cache.Get(key); ok {
		if rows, ok := cached.([]httpapi.Institution); ok {
			s.logger.Debug("institution: cache hit for %s", key)
			return rows, nil
		}
	}

	rows, err := s.api.LookupInstitutions(ctx, normalized)
	if err != nil {
		return nil, err
	}
	s.cache.Set(key, rows, s.ttl)
	return rows, nil
}

// Invalidate drops every cached lookup. Called when the user changes data
// that influences the result set, like consenting to different terms.
func (s *Service) Invalidate() {
	s.cache.Clear()
}

// cacheKey derives the deterministic key for a normalized filter set.
func cacheKey(filters httpapi.InstitutionFilters) string {
	return cache.GenerateKey("lookup-institutions", map[string]any{
		"amount":   filters.Amount,
		"term":     filters.TermMonths,
		"income":   filters.Income,
		"location": filters.Location,
	})
}

// normalizeFilters canonicalizes the filters so equivalent queries share a
// cache entry: negative numbers clamp to zero, location is trimmed and
// lowercased.
func normalizeFilters(filters httpapi.InstitutionFilters) httpapi.InstitutionFilters {
	if filters.Amount < 0 {
		filters.Amount = 0
	}
	if filters.TermMonths < 0 {
		filters.TermMonths = 0
	}
	if filters.Income < 0 {
		filters.Income = 0
	}
	filters.Location = strings.ToLower(strings.TrimSpace(filters.Location))
	return filters
}
