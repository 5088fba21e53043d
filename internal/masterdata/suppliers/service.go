package suppliers

import (
	"context"
	"slices"
	"strings"

	"github.com/retailops/stockledger/internal/platform/cache"
)

// CacheNamespace prefixes supplier cache keys in Redis.
const CacheNamespace = "stockledger:suppliers"

// Service serves the supplier directory from a versioned cache.
type Service struct {
	repo  Repository
	cache *cache.JSONCache
}

// NewService builds Service. A nil cache reads through to the repository.
func NewService(repo Repository, c *cache.JSONCache) *Service {
	return &Service{repo: repo, cache: c}
}

// List returns active suppliers ordered by name, optionally filtered by a
// case-insensitive match on code or name.
func (s *Service) List(ctx context.Context, search string) ([]Supplier, error) {
	key, err := s.cache.Key(ctx, "suppliers", "active")
	if err != nil {
		return nil, err
	}
	var all []Supplier
	err = s.cache.FetchJSON(ctx, key, &all, func(ctx context.Context) (any, error) {
		return s.repo.ListActive(ctx)
	})
	if err != nil {
		return nil, err
	}
	search = strings.ToLower(strings.TrimSpace(search))
	if search == "" {
		return all, nil
	}
	out := make([]Supplier, 0, len(all))
	for _, sup := range all {
		if strings.Contains(strings.ToLower(sup.Name), search) || strings.Contains(strings.ToLower(sup.Code), search) {
			out = append(out, sup)
		}
	}
	return out, nil
}

// Exists reports whether supplierID is an active supplier.
func (s *Service) Exists(ctx context.Context, supplierID int64) (bool, error) {
	all, err := s.List(ctx, "")
	if err != nil {
		return false, err
	}
	return slices.ContainsFunc(all, func(sup Supplier) bool { return sup.ID == supplierID }), nil
}

// Invalidate drops cached supplier lists after master data changes.
func (s *Service) Invalidate(ctx context.Context) error {
	return s.cache.Bump(ctx)
}
