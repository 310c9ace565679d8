package domain

import (
	"math"
	"time"
)

// LineItem is one priced product option placed in a basket. Prices are
// carried both as float major units (RoundedPrice) and integer minor
// units (RoundedPricePence); discounting works exclusively on the minor
// units.
type LineItem struct {
	DeviceID          string  `json:"deviceId"`
	QuoteID           string  `json:"quote_id"`
	ProductID         string  `json:"product_id"`
	Client            string  `json:"client"`
	Source            string  `json:"source"`
	Currency          string  `json:"currency"`
	Locale            string  `json:"locale"`
	Category          string  `json:"category"`
	Age               int     `json:"age"`
	Price             float64 `json:"price"`
	MultiCount        int     `json:"multi_count"`
	POC               int     `json:"poc"`
	Mode              string  `json:"mode"`
	Rate              float64 `json:"rate"`
	RoundedPrice      float64 `json:"rounded_price"`
	RoundedPricePence int     `json:"rounded_price_pence"`
}

// PricePence returns the item's minor-unit price, falling back to the
// major-unit price when the minor-unit field was never set.
func (it *LineItem) PricePence() int {
	if it.RoundedPricePence > 0 {
		return it.RoundedPricePence
	}
	if it.RoundedPrice > 0 {
		return int(math.Round(it.RoundedPrice * 100))
	}
	return 0
}

// BasketSummary is the rating summary written back onto a basket. Each
// rating pass overwrites the previous one.
type BasketSummary struct {
	Subtotal   int          `json:"subtotal"`
	Discount   int          `json:"discount"`
	FinalTotal int          `json:"final_total"`
	BestRule   *RuleOutcome `json:"best_rule,omitempty"`
	Mode       string       `json:"mode,omitempty"` // single mode or "mixed"
}

// Basket holds the line items a client has selected from quotes.
type Basket struct {
	ID        string     `json:"id"`
	QuoteID   string     `json:"quote_id,omitempty"`
	Status    string     `json:"status"`
	Items     []LineItem `json:"Basket"`
	Summary   *BasketSummary
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Basket status values.
const (
	BasketStatusDraft = "draft"
)
