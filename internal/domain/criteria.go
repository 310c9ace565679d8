package domain

// ClientSource identifies a client/source pair for which a criteria
// record is active.
type ClientSource struct {
	Client string `json:"client"`
	Source string `json:"source"`
}

// ProductPOC describes the plan/contract terms offered for a product:
// a pricing mode plus the duration-in-months options available under it.
type ProductPOC struct {
	Mode           string `json:"mode"`
	DurationMonths []int  `json:"durationMonths"`
}

// ProductOffer is one product a matching criteria block assigns.
type ProductOffer struct {
	ProductID string     `json:"productId"`
	POC       ProductPOC `json:"POC"`
}

// CriteriaBlock is one eligibility rule inside an EligibilityCriteria
// record. A block matches a device only if every bound (locale,
// guarantee, age, price, currency) is satisfied.
type CriteriaBlock struct {
	Locales            []string       `json:"locale"`
	GuaranteeDurations []int          `json:"guaranteeDuration"`
	MonthsLow          int            `json:"monthsLow"`
	MonthsHigh         int            `json:"monthsHigh"`
	MSRPLow            float64        `json:"msrpLow"`
	MSRPHigh           float64        `json:"msrpHigh"`
	Currencies         []string       `json:"currency"`
	Products           []ProductOffer `json:"products"`
}

// EligibilityCriteria is an externally administered configuration record
// mapping devices to the products they qualify for. Blocks are evaluated
// in array order; the first fully matching block wins.
type EligibilityCriteria struct {
	ID             string          `json:"id"`
	ActiveClients  []ClientSource  `json:"activeClient"`
	CategoryGroups []string        `json:"categoryGroup"`
	Blocks         []CriteriaBlock `json:"criteria"`
}

// AppliesToClient reports whether the record is active for the given
// client/source pair.
func (c *EligibilityCriteria) AppliesToClient(client, source string) bool {
	for _, cs := range c.ActiveClients {
		if cs.Client == client && cs.Source == source {
			return true
		}
	}
	return false
}

// HasCategoryGroup reports whether the record covers the given category.
func (c *EligibilityCriteria) HasCategoryGroup(category string) bool {
	for _, g := range c.CategoryGroups {
		if g == category {
			return true
		}
	}
	return false
}
