package domain

// Discount rule types.
const (
	RuleTypeTieredPercent    = "TIERED_PERCENT"
	RuleTypeFixedPriceBundle = "FIXED_PRICE_BUNDLE"
)

// AppliesTo filters which basket items a discount rule considers.
// Empty lists mean "applies to all". Currency matching is
// case-insensitive uppercase, client matching case-insensitive
// lowercase, mode defaults to "any". Condition is an optional CEL
// expression evaluated per item as a final gate.
type AppliesTo struct {
	Currencies     []string `json:"currency,omitempty"`
	Locales        []string `json:"locale,omitempty"`
	Clients        []string `json:"client,omitempty"`
	ProductIDs     []string `json:"productIds,omitempty"`
	CategoryGroups []string `json:"categoryGroups,omitempty"`
	Mode           string   `json:"mode,omitempty"`
	Condition      string   `json:"condition,omitempty"`
}

// Constraints derive a rule's grouping key: each set flag adds the
// corresponding item field to the key. With no flags set, all eligible
// items form a single group. MinItems is a per-group floor for bundle
// rules.
type Constraints struct {
	SameModeRequired      bool `json:"sameModeRequired,omitempty"`
	SameTermRequired      bool `json:"sameTermRequired,omitempty"`
	SameProductIDRequired bool `json:"sameProductIdRequired,omitempty"`
	SameCategoryRequired  bool `json:"sameCategoryRequired,omitempty"`
	MinItems              int  `json:"minItems,omitempty"`
}

// PercentTier unlocks a percentage discount at a minimum group size.
type PercentTier struct {
	MinItems   int `json:"minItems"`
	PercentOff int `json:"percentOff"`
}

// BundleTier prices a fixed-size group of items at a flat target.
// CapBundles limits how many bundles the tier may form (0 = unlimited).
type BundleTier struct {
	BundleSize      int `json:"bundleSize"`
	FixedPricePence int `json:"fixedPricePence"`
	CapBundles      int `json:"capBundles,omitempty"`
}

// RuleParams carries the per-type discount parameters. TIERED_PERCENT
// uses Tiers/ApplyBase/CapAmountPence; FIXED_PRICE_BUNDLE uses either
// the single-tier fields or the multi-tier Bundles list. Repeatable
// defaults to true when absent.
type RuleParams struct {
	Tiers          []PercentTier `json:"tiers,omitempty"`
	ApplyBase      string        `json:"applyBase,omitempty"`
	CapAmountPence int           `json:"capAmountPence,omitempty"`

	BundleSize      int          `json:"bundleSize,omitempty"`
	FixedPricePence int          `json:"fixedPricePence,omitempty"`
	CapBundles      int          `json:"capBundles,omitempty"`
	Bundles         []BundleTier `json:"bundles,omitempty"`
	Repeatable      *bool        `json:"repeatable,omitempty"`
}

// IsRepeatable resolves the Repeatable flag with its absent-means-true
// default.
func (p *RuleParams) IsRepeatable() bool {
	return p.Repeatable == nil || *p.Repeatable
}

// DiscountRule is an externally administered basket-level discount.
type DiscountRule struct {
	ID          string      `json:"id"`
	Name        string      `json:"name"`
	Priority    int         `json:"priority"`
	RuleType    string      `json:"ruleType"`
	Active      bool        `json:"active"`
	AppliesTo   AppliesTo   `json:"appliesTo"`
	Constraints Constraints `json:"constraints"`
	Params      RuleParams  `json:"ruleParams"`
}

// RuleOutcome is the evaluated result of one discount rule over a
// basket.
type RuleOutcome struct {
	RuleID      string `json:"rule_id"`
	Name        string `json:"name"`
	Priority    int    `json:"priority"`
	RuleType    string `json:"ruleType"`
	Discount    int    `json:"discount"` // pence
	Explanation string `json:"explanation,omitempty"`
}

// RateBasketResult is the outcome of rating a basket: every rule's
// outcome, the selected best rule (nil when no rule yields a positive
// discount), and the resulting totals in pence.
type RateBasketResult struct {
	BasketID      string        `json:"basket_id"`
	QuoteID       string        `json:"quote_id,omitempty"`
	Subtotal      int           `json:"subtotal"`
	EligibleRules []RuleOutcome `json:"eligible_rules"`
	Best          *RuleOutcome  `json:"best,omitempty"`
	FinalTotal    int           `json:"final_total"`
}
