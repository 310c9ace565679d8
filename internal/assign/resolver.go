// Package assign resolves which products a device qualifies for.
//
// Criteria records are scanned in insertion order; within a record the
// blocks are checked in array order and the first block whose every
// bound passes wins. A no-match outcome carries one failure entry per
// block examined so the caller can see exactly why nothing applied.
package assign

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/opencover/merlin/internal/diag"
	"github.com/opencover/merlin/internal/domain"
)

const component = "assignment"

// Defaults applied when a block leaves its upper bounds unset.
const (
	defaultMonthsHigh = 9999
	defaultMSRPHigh   = 999999
)

// AgeInMonths computes the whole months elapsed between the purchase
// date (YYYY-MM-DD) and now. A not-yet-reached day of month counts the
// current month as incomplete. Never negative.
func AgeInMonths(purchaseDate string, now time.Time) (int, error) {
	p, err := time.Parse("2006-01-02", purchaseDate)
	if err != nil {
		return 0, fmt.Errorf("purchase_date must be in YYYY-MM-DD format")
	}

	months := (now.Year()-p.Year())*12 + int(now.Month()) - int(p.Month())
	if now.Day() < p.Day() {
		months--
	}
	if months < 0 {
		months = 0
	}
	return months, nil
}

// Resolver matches devices to eligibility criteria.
type Resolver struct {
	repo domain.Repository
	diag *diag.Recorder
	now  func() time.Time
}

// NewResolver creates a resolver. diag may be nil.
func NewResolver(repo domain.Repository, rec *diag.Recorder) *Resolver {
	return &Resolver{
		repo: repo,
		diag: rec,
		now:  func() time.Time { return time.Now().UTC() },
	}
}

// WithClock overrides the resolver's clock. Intended for tests.
func (r *Resolver) WithClock(now func() time.Time) *Resolver {
	r.now = now
	return r
}

// Resolve finds the first criteria block matching the request. A
// validation failure returns a *domain.ValidationError; a clean scan
// with no match returns a result with empty products and per-block
// failure reasons. Both outcomes are recorded as diagnostics.
func (r *Resolver) Resolve(ctx context.Context, req *domain.AssignmentRequest) (*domain.AssignmentResult, error) {
	if err := validate(req); err != nil {
		r.record(domain.DiagKindValidation, req, err.Error())
		return nil, err
	}

	age, err := AgeInMonths(req.PurchaseDate, r.now())
	if err != nil {
		verr := &domain.ValidationError{Fields: []string{"purchase_date"}, Detail: err.Error()}
		r.record(domain.DiagKindValidation, req, verr.Error())
		return nil, verr
	}

	records, err := r.repo.ListEligibilityCriteria(ctx, req.Client, req.Source, req.Category)
	if err != nil {
		return nil, fmt.Errorf("failed to load criteria: %w", err)
	}

	var failures []domain.BlockFailure
	for _, rec := range records {
		for idx, block := range rec.Blocks {
			reasons := blockFailureReasons(&block, req.Locale, req.Guarantee, age, req.Price, req.Currency)
			if len(reasons) == 0 {
				return &domain.AssignmentResult{
					CriteriaID: rec.ID,
					AgeMonths:  age,
					Products:   block.Products,
				}, nil
			}
			failures = append(failures, domain.BlockFailure{
				CriteriaID: rec.ID,
				BlockIndex: idx,
				Reasons:    reasons,
			})
		}
	}

	r.record(domain.DiagKindNoMatch, req, failures)
	return &domain.AssignmentResult{
		AgeMonths: age,
		Products:  []domain.ProductOffer{},
		Failures:  failures,
	}, nil
}

// blockFailureReasons checks every bound of one criteria block and
// returns one reason per failed bound. An empty result means the block
// matches.
func blockFailureReasons(b *domain.CriteriaBlock, locale string, gtee, age int, price float64, currency string) []string {
	var reasons []string

	if !containsString(b.Locales, locale) {
		reasons = append(reasons, fmt.Sprintf("locale '%s' not in %v", locale, b.Locales))
	}
	if !containsInt(b.GuaranteeDurations, gtee) {
		reasons = append(reasons, fmt.Sprintf("gtee %d not in %v", gtee, b.GuaranteeDurations))
	}

	monthsHigh := b.MonthsHigh
	if monthsHigh == 0 {
		monthsHigh = defaultMonthsHigh
	}
	if age < b.MonthsLow || age > monthsHigh {
		reasons = append(reasons, fmt.Sprintf("age_in_months %d not in [%d, %d]", age, b.MonthsLow, monthsHigh))
	}

	msrpHigh := b.MSRPHigh
	if msrpHigh == 0 {
		msrpHigh = defaultMSRPHigh
	}
	if price < b.MSRPLow || price > msrpHigh {
		reasons = append(reasons, fmt.Sprintf("price %v not in [%v, %v]", price, b.MSRPLow, msrpHigh))
	}

	if !containsString(b.Currencies, currency) {
		reasons = append(reasons, fmt.Sprintf("currency '%s' not in %v", currency, b.Currencies))
	}

	return reasons
}

func validate(req *domain.AssignmentRequest) *domain.ValidationError {
	var missing []string

	stringFields := []struct {
		name  string
		value string
	}{
		{"client", req.Client},
		{"source", req.Source},
		{"category", req.Category},
		{"locale", req.Locale},
		{"purchase_date", req.PurchaseDate},
		{"currency", req.Currency},
	}
	for _, f := range stringFields {
		if strings.TrimSpace(f.value) == "" {
			missing = append(missing, f.name)
		}
	}
	if req.Price == 0 {
		missing = append(missing, "price")
	}
	if req.Guarantee == 0 {
		missing = append(missing, "gtee")
	}

	if len(missing) > 0 {
		return domain.NewValidationError(missing...)
	}
	return nil
}

func (r *Resolver) record(kind string, input, detail any) {
	if r.diag != nil {
		r.diag.Record(component, kind, input, detail)
	}
}

func containsString(list []string, v string) bool {
	for _, s := range list {
		if s == v {
			return true
		}
	}
	return false
}

func containsInt(list []int, v int) bool {
	for _, n := range list {
		if n == v {
			return true
		}
	}
	return false
}
