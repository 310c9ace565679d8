package domain

// Device is the registered-device record a device-driven quote starts
// from. Registration itself happens elsewhere; this core only reads.
type Device struct {
	ID           string  `json:"id"`
	Client       string  `json:"client"`
	Source       string  `json:"source"`
	Locale       string  `json:"locale"`
	Category     string  `json:"category"`
	Price        float64 `json:"price"`
	PurchaseDate string  `json:"purchaseDate"` // YYYY-MM-DD
	Guarantee    int     `json:"guarantee"`    // months
	Currency     string  `json:"currency"`
}

// AssignmentRequest is the input to the assignment resolver.
type AssignmentRequest struct {
	Client       string  `json:"client"`
	Source       string  `json:"source"`
	Category     string  `json:"category"`
	Price        float64 `json:"price"`
	Locale       string  `json:"locale"`
	PurchaseDate string  `json:"purchase_date"` // YYYY-MM-DD
	Guarantee    int     `json:"gtee"`
	Currency     string  `json:"currency"`
}

// BlockFailure lists which predicates one criteria block failed. The
// resolver returns one entry per block examined when nothing matches.
type BlockFailure struct {
	CriteriaID string   `json:"criteria_id"`
	BlockIndex int      `json:"block_index"`
	Reasons    []string `json:"reasons"`
}

// AssignmentResult is the resolver outcome. A match carries the winning
// record id and its products; a no-match carries an empty product list
// and the per-block failure diagnostics.
type AssignmentResult struct {
	CriteriaID string         `json:"criteria_id,omitempty"`
	AgeMonths  int            `json:"age_in_months"`
	Products   []ProductOffer `json:"products"`
	Failures   []BlockFailure `json:"failures,omitempty"`
}

// Matched reports whether a criteria block matched.
func (r *AssignmentResult) Matched() bool {
	return r.CriteriaID != ""
}
