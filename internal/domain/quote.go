package domain

import (
	"time"
)

// QuoteOption is one priced plan/contract term for a quoted product.
// A failed rating (validation or no-match) is still recorded, with
// Status "error" and the diagnostic detail, so one bad request does not
// sink the batch.
type QuoteOption struct {
	POC    int    `json:"poc"`
	Mode   string `json:"mode"`
	Status string `json:"status"` // "ok" or "error"
	Error  string `json:"error,omitempty"`

	Factors           *Factors `json:"factors,omitempty"`
	Rate              float64  `json:"rate,omitempty"`
	RoundedPrice      float64  `json:"rounded_price,omitempty"`
	RoundedPricePence int      `json:"rounded_price_pence,omitempty"`
}

// QuoteProduct groups a quoted product's options. Product-level fields
// are shared by every option (they come from the same assignment).
type QuoteProduct struct {
	ProductID  string        `json:"product_id"`
	Client     string        `json:"client"`
	Source     string        `json:"source"`
	Currency   string        `json:"currency"`
	Locale     string        `json:"locale"`
	Category   string        `json:"category"`
	Age        int           `json:"age"`
	Price      float64       `json:"price"`
	MultiCount int           `json:"multi_count"`
	Options    []QuoteOption `json:"options"`
}

// Quote is the persisted result of one batch rating call for a device.
type Quote struct {
	ID        string         `json:"id"`
	DeviceID  string         `json:"deviceId"`
	Responses []QuoteProduct `json:"responses"`
	CreatedAt time.Time      `json:"created_at"`
}

// Product returns the quoted product with the given id, or nil.
func (q *Quote) Product(productID string) *QuoteProduct {
	for i := range q.Responses {
		if q.Responses[i].ProductID == productID {
			return &q.Responses[i]
		}
	}
	return nil
}

// QuoteStatus values for quote options.
const (
	QuoteStatusOK    = "ok"
	QuoteStatusError = "error"
)
