package basket

import (
	"fmt"
	"sort"

	"github.com/opencover/merlin/internal/domain"
)

// normalizeBundleTiers folds the single-tier and multi-tier parameter
// shapes into one tier list sorted by bundle size descending, plus the
// smallest bundle size. An empty result means the parameters were
// invalid.
func normalizeBundleTiers(params *domain.RuleParams) ([]domain.BundleTier, int) {
	var tiers []domain.BundleTier

	if len(params.Bundles) > 0 {
		for _, b := range params.Bundles {
			if b.BundleSize > 0 && b.FixedPricePence > 0 {
				tiers = append(tiers, b)
			}
		}
	} else if params.BundleSize > 0 && params.FixedPricePence > 0 {
		tiers = []domain.BundleTier{{
			BundleSize:      params.BundleSize,
			FixedPricePence: params.FixedPricePence,
			CapBundles:      params.CapBundles,
		}}
	}

	if len(tiers) == 0 {
		return nil, 0
	}

	sort.SliceStable(tiers, func(i, j int) bool {
		return tiers[i].BundleSize > tiers[j].BundleSize
	})

	smallest := tiers[0].BundleSize
	for _, t := range tiers {
		if t.BundleSize < smallest {
			smallest = t.BundleSize
		}
	}
	return tiers, smallest
}

// PackBundles consumes prices (pence, sorted descending) into bundles
// and returns the total discount plus one explanation per bundle
// formed.
//
// Repeatable packing is greedy largest-first: after each bundle the
// scan restarts from the largest tier, honoring per-tier bundle caps,
// until no tier fits the remaining items. Non-repeatable packing forms
// exactly one bundle, picking the tier with the highest discount on
// the top-priced items.
func PackBundles(prices []int, tiers []domain.BundleTier, repeatable bool) (int, []string) {
	if len(tiers) == 0 || len(prices) == 0 {
		return 0, nil
	}

	smallest := tiers[len(tiers)-1].BundleSize

	var total int
	var parts []string

	if repeatable {
		capsUsed := make([]int, len(tiers))
		idx := 0
		for {
			progressed := false
			remaining := len(prices) - idx
			if remaining < smallest {
				break
			}
			for ti, t := range tiers {
				if remaining < t.BundleSize {
					continue
				}
				if t.CapBundles > 0 && capsUsed[ti] >= t.CapBundles {
					continue
				}
				block := prices[idx : idx+t.BundleSize]
				sum := sumInts(block)
				disc := sum - t.FixedPricePence
				if disc < 0 {
					disc = 0
				}
				total += disc
				capsUsed[ti]++
				parts = append(parts, fmt.Sprintf("bundle(size %d) %v -> (sum %d - fixed %d) = %d", t.BundleSize, block, sum, t.FixedPricePence, disc))
				idx += t.BundleSize
				progressed = true
				break // restart from the largest tier
			}
			if !progressed {
				break
			}
		}
		return total, parts
	}

	bestDisc := 0
	bestMsg := ""
	for _, t := range tiers {
		if len(prices) < t.BundleSize {
			continue
		}
		block := prices[:t.BundleSize]
		sum := sumInts(block)
		disc := sum - t.FixedPricePence
		if disc > bestDisc {
			bestDisc = disc
			bestMsg = fmt.Sprintf("bundle(size %d) %v -> (sum %d - fixed %d) = %d", t.BundleSize, block, sum, t.FixedPricePence, disc)
		}
	}
	if bestMsg != "" {
		parts = append(parts, bestMsg)
	}
	return bestDisc, parts
}

func sumInts(vals []int) int {
	s := 0
	for _, v := range vals {
		s += v
	}
	return s
}
