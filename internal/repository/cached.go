package repository

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	"github.com/opencover/merlin/internal/domain"
)

// Configuration snapshot cache keys. Read paths filter in Go over the
// full snapshot, so one key per record kind is enough.
const (
	cacheKeyCriteria  = "config:criteria"
	cacheKeyRatings   = "config:ratings"
	cacheKeyDiscounts = "config:discounts"
)

// CachedRepository layers a read-through configuration cache over a
// Repository. Only the three externally administered record kinds are
// cached; saves invalidate the matching snapshot. Quote, basket, device
// and diagnostic paths pass straight through.
type CachedRepository struct {
	domain.Repository
	cache  domain.Cache
	ttl    time.Duration
	logger *slog.Logger
}

// NewCached wraps repo with a configuration snapshot cache. A zero ttl
// defaults to one minute.
func NewCached(repo domain.Repository, cache domain.Cache, ttl time.Duration, logger *slog.Logger) *CachedRepository {
	if ttl <= 0 {
		ttl = time.Minute
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &CachedRepository{
		Repository: repo,
		cache:      cache,
		ttl:        ttl,
		logger:     logger,
	}
}

func (r *CachedRepository) SaveEligibilityCriteria(ctx context.Context, rec *domain.EligibilityCriteria) error {
	if err := r.Repository.SaveEligibilityCriteria(ctx, rec); err != nil {
		return err
	}
	r.invalidate(ctx, cacheKeyCriteria)
	return nil
}

func (r *CachedRepository) ListAllEligibilityCriteria(ctx context.Context) ([]*domain.EligibilityCriteria, error) {
	var records []*domain.EligibilityCriteria
	if r.lookup(ctx, cacheKeyCriteria, &records) {
		return records, nil
	}

	records, err := r.Repository.ListAllEligibilityCriteria(ctx)
	if err != nil {
		return nil, err
	}
	r.store(ctx, cacheKeyCriteria, records)
	return records, nil
}

// ListEligibilityCriteria filters the cached snapshot the same way the
// underlying store query does, preserving insertion order.
func (r *CachedRepository) ListEligibilityCriteria(ctx context.Context, client, source, category string) ([]*domain.EligibilityCriteria, error) {
	all, err := r.ListAllEligibilityCriteria(ctx)
	if err != nil {
		return nil, err
	}

	var out []*domain.EligibilityCriteria
	for _, rec := range all {
		if rec.AppliesToClient(client, source) && rec.HasCategoryGroup(category) {
			out = append(out, rec)
		}
	}
	return out, nil
}

func (r *CachedRepository) SaveRatingConfig(ctx context.Context, cfg *domain.RatingConfig) error {
	if err := r.Repository.SaveRatingConfig(ctx, cfg); err != nil {
		return err
	}
	r.invalidate(ctx, cacheKeyRatings)
	return nil
}

func (r *CachedRepository) ListAllRatingConfigs(ctx context.Context) ([]*domain.RatingConfig, error) {
	var configs []*domain.RatingConfig
	if r.lookup(ctx, cacheKeyRatings, &configs) {
		return configs, nil
	}

	configs, err := r.Repository.ListAllRatingConfigs(ctx)
	if err != nil {
		return nil, err
	}
	r.store(ctx, cacheKeyRatings, configs)
	return configs, nil
}

func (r *CachedRepository) ListRatingConfigs(ctx context.Context, currency, productID string) ([]*domain.RatingConfig, error) {
	all, err := r.ListAllRatingConfigs(ctx)
	if err != nil {
		return nil, err
	}

	var out []*domain.RatingConfig
	for _, cfg := range all {
		if cfg.Currency == currency && cfg.HasProduct(productID) {
			out = append(out, cfg)
		}
	}
	return out, nil
}

func (r *CachedRepository) SaveDiscountRule(ctx context.Context, rule *domain.DiscountRule) error {
	if err := r.Repository.SaveDiscountRule(ctx, rule); err != nil {
		return err
	}
	r.invalidate(ctx, cacheKeyDiscounts)
	return nil
}

func (r *CachedRepository) ListDiscountRules(ctx context.Context, activeOnly bool) ([]*domain.DiscountRule, error) {
	var rules []*domain.DiscountRule
	if !r.lookup(ctx, cacheKeyDiscounts, &rules) {
		all, err := r.Repository.ListDiscountRules(ctx, false)
		if err != nil {
			return nil, err
		}
		r.store(ctx, cacheKeyDiscounts, all)
		rules = all
	}

	if !activeOnly {
		return rules, nil
	}
	var out []*domain.DiscountRule
	for _, rule := range rules {
		if rule.Active {
			out = append(out, rule)
		}
	}
	return out, nil
}

// lookup reports whether the key was served from cache. A cache error
// is treated as a miss.
func (r *CachedRepository) lookup(ctx context.Context, key string, dst any) bool {
	data, err := r.cache.Get(ctx, key)
	if err != nil {
		r.logger.Warn("config cache read failed", "key", key, "error", err)
		return false
	}
	if data == nil {
		return false
	}
	if err := json.Unmarshal(data, dst); err != nil {
		r.logger.Warn("config cache entry corrupt", "key", key, "error", err)
		r.invalidate(ctx, key)
		return false
	}
	return true
}

func (r *CachedRepository) store(ctx context.Context, key string, val any) {
	data, err := json.Marshal(val)
	if err != nil {
		return
	}
	if err := r.cache.Set(ctx, key, data, r.ttl); err != nil {
		r.logger.Warn("config cache write failed", "key", key, "error", err)
	}
}

func (r *CachedRepository) invalidate(ctx context.Context, key string) {
	if err := r.cache.Delete(ctx, key); err != nil {
		r.logger.Warn("config cache invalidation failed", "key", key, "error", err)
	}
}
