package domain

// LocaleFactor maps a locale to its rate multiplier. Locale comparison is
// fuzzy (non-word characters stripped, lowercased) at the match site.
type LocaleFactor struct {
	Locale string  `json:"locale"`
	Factor float64 `json:"factor"`
}

// CategoryFactor maps a device category name to its rate multiplier.
// Category comparison is fuzzy at the match site.
type CategoryFactor struct {
	Device string  `json:"device"`
	Factor float64 `json:"factor"`
}

// PriceBand maps an inclusive price range to its rate multiplier.
type PriceBand struct {
	PriceLow  float64 `json:"priceLow"`
	PriceHigh float64 `json:"priceHigh"`
	Factor    float64 `json:"factor"`
}

// RatingConfig is an externally administered pricing record. A request
// rates against the first config (in insertion order) whose currency and
// product pre-filter pass and whose factor tables cover every request
// field. Keyed factor maps (poc, age, multi) are indexed by the decimal
// string form of the value.
type RatingConfig struct {
	ID              string             `json:"id"`
	ProductIDs      []string           `json:"productID"`
	Currency        string             `json:"currency"`
	BaseFee         float64            `json:"baseFee"`
	LocaleFactors   []LocaleFactor     `json:"localeFactor"`
	POCFactors      map[string]float64 `json:"pocFactor"`
	CategoryFactors []CategoryFactor   `json:"categoryFactor"`
	AgeFactors      map[string]float64 `json:"ageFactor"`
	PriceFactors    []PriceBand        `json:"priceFactor"`
	MultiFactors    map[string]float64 `json:"multiFactor"`
}

// HasProduct reports whether the config covers the given product id.
func (c *RatingConfig) HasProduct(productID string) bool {
	for _, id := range c.ProductIDs {
		if id == productID {
			return true
		}
	}
	return false
}

// RateRequest is the ephemeral input to the rate calculator. Client,
// Source and Mode are carried when requests are batched into a quote;
// the calculator itself does not consult them.
type RateRequest struct {
	ProductID  string  `json:"product_id"`
	Currency   string  `json:"currency"`
	Locale     string  `json:"locale"`
	POC        int     `json:"poc"`
	Category   string  `json:"category"`
	Age        int     `json:"age"`
	Price      float64 `json:"price"`
	MultiCount int     `json:"multi_count"`

	Client string `json:"client,omitempty"`
	Source string `json:"source,omitempty"`
	Mode   string `json:"mode,omitempty"`
}

// Factors records the multipliers a rate was built from.
type Factors struct {
	BaseFee  float64 `json:"base_fee"`
	Locale   float64 `json:"locale_factor"`
	POC      float64 `json:"poc_factor"`
	Category float64 `json:"category_factor"`
	Age      float64 `json:"age_factor"`
	Price    float64 `json:"price_factor"`
	Multi    float64 `json:"multi_factor"`
}

// RateResult is a successful rate calculation.
type RateResult struct {
	ConfigID     string  `json:"config_id"`
	Factors      Factors `json:"factors"`
	Rate         float64 `json:"rate"`
	RoundedPrice float64 `json:"rounded_price"`
}

// ConfigFailure lists which predicates a scanned rating config failed,
// so a no-match outcome explains every candidate examined.
type ConfigFailure struct {
	ConfigID string   `json:"config_id"`
	Reasons  []string `json:"reasons"`
}
