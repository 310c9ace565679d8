package repository

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/opencover/merlin/internal/cache"
	"github.com/opencover/merlin/internal/domain"
)

// countingRepo counts store reads so cache hits are observable.
type countingRepo struct {
	domain.Repository
	mu       sync.Mutex
	criteria []*domain.EligibilityCriteria
	rules    []*domain.DiscountRule
	reads    int
}

func (c *countingRepo) ListAllEligibilityCriteria(ctx context.Context) ([]*domain.EligibilityCriteria, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.reads++
	return c.criteria, nil
}

func (c *countingRepo) SaveEligibilityCriteria(ctx context.Context, rec *domain.EligibilityCriteria) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.criteria = append(c.criteria, rec)
	return nil
}

func (c *countingRepo) ListDiscountRules(ctx context.Context, activeOnly bool) ([]*domain.DiscountRule, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.reads++
	if !activeOnly {
		return c.rules, nil
	}
	var out []*domain.DiscountRule
	for _, r := range c.rules {
		if r.Active {
			out = append(out, r)
		}
	}
	return out, nil
}

func (c *countingRepo) readCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.reads
}

func newCached(t *testing.T, backing *countingRepo) *CachedRepository {
	t.Helper()
	lru := cache.NewLRUCache(100)
	t.Cleanup(func() { lru.Close() })
	return NewCached(backing, lru, time.Minute, nil)
}

func TestCachedCriteriaReadThrough(t *testing.T) {
	ctx := context.Background()
	backing := &countingRepo{
		criteria: []*domain.EligibilityCriteria{
			{
				ID:             "crit-1",
				ActiveClients:  []domain.ClientSource{{Client: "acme", Source: "web"}},
				CategoryGroups: []string{"washing machine"},
			},
		},
	}
	repo := newCached(t, backing)

	for i := 0; i < 3; i++ {
		records, err := repo.ListAllEligibilityCriteria(ctx)
		if err != nil {
			t.Fatalf("list failed: %v", err)
		}
		if len(records) != 1 || records[0].ID != "crit-1" {
			t.Fatalf("unexpected records: %+v", records)
		}
	}
	if got := backing.readCount(); got != 1 {
		t.Errorf("expected 1 store read, got %d", got)
	}

	// The filtered read shares the snapshot.
	filtered, err := repo.ListEligibilityCriteria(ctx, "acme", "web", "washing machine")
	if err != nil {
		t.Fatalf("filtered list failed: %v", err)
	}
	if len(filtered) != 1 {
		t.Errorf("expected 1 filtered record, got %d", len(filtered))
	}
	if got := backing.readCount(); got != 1 {
		t.Errorf("expected filtered read served from cache, got %d store reads", got)
	}

	none, err := repo.ListEligibilityCriteria(ctx, "other", "web", "washing machine")
	if err != nil {
		t.Fatalf("filtered list failed: %v", err)
	}
	if len(none) != 0 {
		t.Errorf("expected no records for unknown client, got %d", len(none))
	}
}

func TestCachedSaveInvalidates(t *testing.T) {
	ctx := context.Background()
	backing := &countingRepo{}
	repo := newCached(t, backing)

	if _, err := repo.ListAllEligibilityCriteria(ctx); err != nil {
		t.Fatalf("list failed: %v", err)
	}
	if err := repo.SaveEligibilityCriteria(ctx, &domain.EligibilityCriteria{ID: "crit-new"}); err != nil {
		t.Fatalf("save failed: %v", err)
	}

	records, err := repo.ListAllEligibilityCriteria(ctx)
	if err != nil {
		t.Fatalf("list failed: %v", err)
	}
	if len(records) != 1 || records[0].ID != "crit-new" {
		t.Errorf("expected saved record visible after invalidation, got %+v", records)
	}
	if got := backing.readCount(); got != 2 {
		t.Errorf("expected 2 store reads around the save, got %d", got)
	}
}

func TestCachedDiscountActiveFilter(t *testing.T) {
	ctx := context.Background()
	backing := &countingRepo{
		rules: []*domain.DiscountRule{
			{ID: "rule-on", Active: true},
			{ID: "rule-off", Active: false},
		},
	}
	repo := newCached(t, backing)

	active, err := repo.ListDiscountRules(ctx, true)
	if err != nil {
		t.Fatalf("list failed: %v", err)
	}
	if len(active) != 1 || active[0].ID != "rule-on" {
		t.Fatalf("unexpected active rules: %+v", active)
	}

	// The full snapshot is cached, so both filters are served from it.
	all, err := repo.ListDiscountRules(ctx, false)
	if err != nil {
		t.Fatalf("list failed: %v", err)
	}
	if len(all) != 2 {
		t.Errorf("expected 2 rules, got %d", len(all))
	}
	if got := backing.readCount(); got != 1 {
		t.Errorf("expected 1 store read, got %d", got)
	}
}
