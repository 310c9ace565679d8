// Package basket manages baskets of quoted options and rates them
// against basket-level discount rules.
//
// Every active rule is evaluated over the full basket; the winning
// rule is the one with the highest discount, ties broken by priority.
// Discounts work exclusively in integer pence.
package basket

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sort"
	"strings"

	"github.com/opencover/merlin/internal/domain"
)

// Engine evaluates discount rules over baskets.
type Engine struct {
	repo       domain.Repository
	bus        domain.EventBus
	logger     *slog.Logger
	conditions *conditionCache
}

// NewEngine creates a discount engine. bus may be nil.
func NewEngine(repo domain.Repository, bus domain.EventBus, logger *slog.Logger) (*Engine, error) {
	if logger == nil {
		logger = slog.Default()
	}
	conditions, err := newConditionCache()
	if err != nil {
		return nil, err
	}
	return &Engine{
		repo:       repo,
		bus:        bus,
		logger:     logger,
		conditions: conditions,
	}, nil
}

// RateBasket evaluates every active rule over the basket and writes
// the summary back. The write-back and the rated event are best-effort:
// a persistence failure is logged and the computed result still
// returned.
func (e *Engine) RateBasket(ctx context.Context, basketID string) (*domain.RateBasketResult, error) {
	b, err := e.repo.GetBasket(ctx, basketID)
	if err != nil {
		return nil, err
	}

	subtotal := 0
	for i := range b.Items {
		subtotal += b.Items[i].PricePence()
	}

	rules, err := e.repo.ListDiscountRules(ctx, true)
	if err != nil {
		return nil, fmt.Errorf("failed to load discount rules: %w", err)
	}

	results := make([]domain.RuleOutcome, 0, len(rules))
	for _, rule := range rules {
		results = append(results, e.evaluateRule(rule, b.Items))
	}

	best := selectBest(results)

	discount := 0
	if best != nil {
		discount = best.Discount
	}
	finalTotal := subtotal - discount
	if finalTotal < 0 {
		finalTotal = 0
	}

	summary := domain.BasketSummary{
		Subtotal:   subtotal,
		Discount:   discount,
		FinalTotal: finalTotal,
		BestRule:   best,
		Mode:       modeSummary(b.Items),
	}

	if err := e.repo.UpdateBasketSummary(ctx, basketID, summary); err != nil {
		e.logger.Warn("failed to persist basket summary",
			"basket_id", basketID,
			"error", err,
		)
	}

	if e.bus != nil {
		payload, err := json.Marshal(domain.BasketEvent{BasketID: basketID})
		if err == nil {
			_ = e.bus.Publish(ctx, domain.TopicBasketRated, payload)
		}
	}

	return &domain.RateBasketResult{
		BasketID:      basketID,
		QuoteID:       b.QuoteID,
		Subtotal:      subtotal,
		EligibleRules: results,
		Best:          best,
		FinalTotal:    finalTotal,
	}, nil
}

// evaluateRule filters the basket to the items the rule applies to and
// runs the rule's discount algorithm over them.
func (e *Engine) evaluateRule(rule *domain.DiscountRule, items []domain.LineItem) domain.RuleOutcome {
	outcome := domain.RuleOutcome{
		RuleID:   rule.ID,
		Name:     rule.Name,
		Priority: rule.Priority,
		RuleType: rule.RuleType,
	}

	matched, condErr := e.matchItems(rule, items)
	if condErr != nil {
		outcome.Explanation = condErr.Error()
		return outcome
	}

	switch strings.ToUpper(strings.TrimSpace(rule.RuleType)) {
	case domain.RuleTypeTieredPercent:
		outcome.Discount, outcome.Explanation = applyTieredPercent(rule, matched)
	case domain.RuleTypeFixedPriceBundle:
		outcome.Discount, outcome.Explanation = applyFixedPriceBundle(rule, matched)
	default:
		outcome.Explanation = fmt.Sprintf("Unsupported ruleType '%s'", rule.RuleType)
	}

	return outcome
}

// matchItems returns the items passing the rule's appliesTo filters and
// its optional condition expression.
func (e *Engine) matchItems(rule *domain.DiscountRule, items []domain.LineItem) ([]domain.LineItem, error) {
	var matched []domain.LineItem
	for i := range items {
		item := &items[i]
		if !matchAppliesTo(&rule.AppliesTo, item) {
			continue
		}
		if rule.AppliesTo.Condition != "" {
			ok, err := e.conditions.eval(rule.ID, rule.AppliesTo.Condition, item)
			if err != nil {
				return nil, err
			}
			if !ok {
				continue
			}
		}
		matched = append(matched, *item)
	}
	return matched, nil
}

// matchAppliesTo applies the declarative filters. Empty lists match
// everything; currency folds to upper case, client to lower case; mode
// "" or "any" matches all modes.
func matchAppliesTo(applies *domain.AppliesTo, item *domain.LineItem) bool {
	if !inListFold(item.Currency, applies.Currencies, strings.ToUpper) {
		return false
	}
	if !inListFold(item.Locale, applies.Locales, nil) {
		return false
	}
	if !inListFold(item.Client, applies.Clients, strings.ToLower) {
		return false
	}
	if !inListFold(item.ProductID, applies.ProductIDs, nil) {
		return false
	}
	if !inListFold(item.Category, applies.CategoryGroups, nil) {
		return false
	}
	if applies.Mode != "" && applies.Mode != "any" && item.Mode != applies.Mode {
		return false
	}
	return true
}

func inListFold(val string, list []string, fold func(string) string) bool {
	if len(list) == 0 {
		return true
	}
	if fold != nil {
		val = fold(val)
	}
	for _, s := range list {
		if fold != nil {
			s = fold(s)
		}
		if s == val {
			return true
		}
	}
	return false
}

// groupKey derives the grouping key the rule's constraints demand. With
// no constraint flags set, every item falls into one group.
func groupKey(item *domain.LineItem, c *domain.Constraints) string {
	var parts []string
	if c.SameModeRequired {
		parts = append(parts, item.Mode)
	}
	if c.SameTermRequired {
		parts = append(parts, fmt.Sprintf("%d", item.POC))
	}
	if c.SameProductIDRequired {
		parts = append(parts, item.ProductID)
	}
	if c.SameCategoryRequired {
		parts = append(parts, item.Category)
	}
	if len(parts) == 0 {
		return "ALL"
	}
	return strings.Join(parts, "|")
}

// groupItems buckets items by their constraint key, preserving the
// order groups first appear in the basket.
func groupItems(items []domain.LineItem, c *domain.Constraints) ([]string, map[string][]domain.LineItem) {
	groups := make(map[string][]domain.LineItem)
	var order []string
	for i := range items {
		k := groupKey(&items[i], c)
		if _, seen := groups[k]; !seen {
			order = append(order, k)
		}
		groups[k] = append(groups[k], items[i])
	}
	return order, groups
}

// applyTieredPercent grants the highest unlocked percentage per group
// and sums the group discounts, clamped to the rule's cap.
func applyTieredPercent(rule *domain.DiscountRule, items []domain.LineItem) (int, string) {
	params := &rule.Params

	applyBase := params.ApplyBase
	if applyBase == "" {
		applyBase = "subtotal"
	}

	tiers := make([]domain.PercentTier, len(params.Tiers))
	copy(tiers, params.Tiers)
	sort.SliceStable(tiers, func(i, j int) bool {
		return tiers[i].MinItems < tiers[j].MinItems
	})

	order, groups := groupItems(items, &rule.Constraints)

	totalDiscount := 0
	var parts []string

	for _, key := range order {
		gitems := groups[key]
		count := len(gitems)

		percent := 0
		for _, t := range tiers {
			if count >= t.MinItems && t.PercentOff > percent {
				percent = t.PercentOff
			}
		}
		if percent <= 0 {
			continue
		}
		// Only subtotal-based application is supported.
		if applyBase != "subtotal" {
			continue
		}

		subtotal := 0
		for i := range gitems {
			subtotal += gitems[i].PricePence()
		}
		d := subtotal * percent / 100
		totalDiscount += d
		parts = append(parts, fmt.Sprintf("%d items in (%s) -> %d%% of %d = %d", count, key, percent, subtotal, d))
	}

	if params.CapAmountPence > 0 && totalDiscount > params.CapAmountPence {
		parts = append(parts, fmt.Sprintf("cap %d applied (was %d)", params.CapAmountPence, totalDiscount))
		totalDiscount = params.CapAmountPence
	}

	return totalDiscount, strings.Join(parts, "; ")
}

// applyFixedPriceBundle packs each group's priced items into bundles
// and sums the per-bundle discounts.
func applyFixedPriceBundle(rule *domain.DiscountRule, items []domain.LineItem) (int, string) {
	tiers, smallest := normalizeBundleTiers(&rule.Params)
	if len(tiers) == 0 {
		return 0, "Invalid bundleSize/fixedPricePence"
	}

	repeatable := rule.Params.IsRepeatable()

	need := rule.Constraints.MinItems
	if smallest > need {
		need = smallest
	}

	order, groups := groupItems(items, &rule.Constraints)

	totalDiscount := 0
	var parts []string

	for _, key := range order {
		gitems := groups[key]
		if len(gitems) < need {
			continue
		}

		var prices []int
		for i := range gitems {
			if p := gitems[i].PricePence(); p > 0 {
				prices = append(prices, p)
			}
		}
		if len(prices) == 0 {
			continue
		}
		sort.Sort(sort.Reverse(sort.IntSlice(prices)))

		disc, bits := PackBundles(prices, tiers, repeatable)
		totalDiscount += disc
		parts = append(parts, fmt.Sprintf("%d items in (%s) -> %d bundle(s): %s", len(gitems), key, len(bits), strings.Join(bits, "; ")))
	}

	return totalDiscount, strings.Join(parts, "; ")
}

// selectBest picks the rule with the highest discount, ties broken by
// priority. Rules yielding no discount never win.
func selectBest(results []domain.RuleOutcome) *domain.RuleOutcome {
	sorted := make([]domain.RuleOutcome, len(results))
	copy(sorted, results)
	sort.SliceStable(sorted, func(i, j int) bool {
		if sorted[i].Discount != sorted[j].Discount {
			return sorted[i].Discount > sorted[j].Discount
		}
		return sorted[i].Priority > sorted[j].Priority
	})
	for i := range sorted {
		if sorted[i].Discount > 0 {
			best := sorted[i]
			return &best
		}
	}
	return nil
}

// modeSummary reports the basket's single shared mode, or "mixed".
func modeSummary(items []domain.LineItem) string {
	modes := make(map[string]struct{})
	for i := range items {
		modes[items[i].Mode] = struct{}{}
	}
	if len(modes) == 1 {
		for m := range modes {
			return m
		}
	}
	return "mixed"
}
