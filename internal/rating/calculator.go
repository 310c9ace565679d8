// Package rating prices warranty products against rating configs.
//
// A request rates against the first config, in insertion order, whose
// currency and product pre-filter pass and whose factor tables cover
// every request field. The rate is the base fee multiplied by six
// factors, rounded to two decimals, then rounded up to a .49/.99 price
// point.
package rating

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/opencover/merlin/internal/assign"
	"github.com/opencover/merlin/internal/diag"
	"github.com/opencover/merlin/internal/domain"
)

const component = "rating"

// ErrNoEligibleProducts is returned by QuoteForDevice when no criteria
// block matched the device, so there is nothing to rate.
var ErrNoEligibleProducts = errors.New("no eligible products for device")

// NoMatchError reports a clean scan with no fully matching rating
// config. Failures carries, per scanned config, which predicates
// failed.
type NoMatchError struct {
	Failures []domain.ConfigFailure
}

func (e *NoMatchError) Error() string {
	return "no rating config found matching all input fields"
}

// Calculator prices rate requests.
type Calculator struct {
	repo     domain.Repository
	resolver *assign.Resolver
	diag     *diag.Recorder
	bus      domain.EventBus
}

// NewCalculator creates a calculator. resolver is required only for
// QuoteForDevice; diag and bus may be nil.
func NewCalculator(repo domain.Repository, resolver *assign.Resolver, rec *diag.Recorder, bus domain.EventBus) *Calculator {
	return &Calculator{
		repo:     repo,
		resolver: resolver,
		diag:     rec,
		bus:      bus,
	}
}

// Calculate prices a single request. A validation failure returns a
// *domain.ValidationError, a clean scan with no match a *NoMatchError.
// Both are recorded as diagnostics.
func (c *Calculator) Calculate(ctx context.Context, req *domain.RateRequest) (*domain.RateResult, error) {
	if err := validate(req); err != nil {
		c.record(domain.DiagKindValidation, req, err.Error())
		return nil, err
	}

	configs, err := c.repo.ListRatingConfigs(ctx, req.Currency, req.ProductID)
	if err != nil {
		return nil, fmt.Errorf("failed to load rating configs: %w", err)
	}

	var failures []domain.ConfigFailure
	for _, cfg := range configs {
		reasons := matchWithReasons(cfg, req)
		if len(reasons) == 0 {
			return c.rate(cfg, req), nil
		}
		failures = append(failures, domain.ConfigFailure{
			ConfigID: cfg.ID,
			Reasons:  reasons,
		})
	}

	nmErr := &NoMatchError{Failures: failures}
	c.record(domain.DiagKindNoMatch, req, failures)
	return nil, nmErr
}

// rate computes the result against a config whose coverage of the
// request has already been verified.
func (c *Calculator) rate(cfg *domain.RatingConfig, req *domain.RateRequest) *domain.RateResult {
	factors := domain.Factors{
		BaseFee:  cfg.BaseFee,
		Locale:   localeFactor(cfg, req.Locale),
		POC:      cfg.POCFactors[strconv.Itoa(req.POC)],
		Category: categoryFactor(cfg, req.Category),
		Age:      cfg.AgeFactors[strconv.Itoa(req.Age)],
		Price:    priceFactor(cfg, req.Price),
		Multi:    cfg.MultiFactors[strconv.Itoa(req.MultiCount)],
	}

	rate := round2(factors.BaseFee * factors.Locale * factors.POC * factors.Category * factors.Age * factors.Price * factors.Multi)

	return &domain.RateResult{
		ConfigID:     cfg.ID,
		Factors:      factors,
		Rate:         rate,
		RoundedPrice: RoundPrice4999(rate),
	}
}

// matchWithReasons checks every predicate of one config and returns one
// reason per failed predicate. Empty means the config covers the
// request.
func matchWithReasons(cfg *domain.RatingConfig, req *domain.RateRequest) []string {
	var reasons []string

	if cfg.Currency != req.Currency {
		reasons = append(reasons, fmt.Sprintf("currency '%s' not matched", req.Currency))
	}
	if !cfg.HasProduct(req.ProductID) {
		reasons = append(reasons, fmt.Sprintf("product_id '%s' not in productID", req.ProductID))
	}

	localeMatch := false
	for _, lf := range cfg.LocaleFactors {
		if Normalize(lf.Locale) == Normalize(req.Locale) {
			localeMatch = true
			break
		}
	}
	if !localeMatch {
		reasons = append(reasons, fmt.Sprintf("locale '%s' not matched in localeFactor", req.Locale))
	}

	if _, ok := cfg.POCFactors[strconv.Itoa(req.POC)]; !ok {
		reasons = append(reasons, fmt.Sprintf("poc '%d' not found in pocFactor", req.POC))
	}

	categoryMatch := false
	for _, cf := range cfg.CategoryFactors {
		if Normalize(cf.Device) == Normalize(req.Category) {
			categoryMatch = true
			break
		}
	}
	if !categoryMatch {
		reasons = append(reasons, fmt.Sprintf("category '%s' not matched in categoryFactor", req.Category))
	}

	if _, ok := cfg.AgeFactors[strconv.Itoa(req.Age)]; !ok {
		reasons = append(reasons, fmt.Sprintf("age '%d' not found in ageFactor", req.Age))
	}

	priceMatch := false
	for _, pf := range cfg.PriceFactors {
		if pf.PriceLow <= req.Price && req.Price <= pf.PriceHigh {
			priceMatch = true
			break
		}
	}
	if !priceMatch {
		reasons = append(reasons, fmt.Sprintf("price '%v' not in any priceFactor range", req.Price))
	}

	if _, ok := cfg.MultiFactors[strconv.Itoa(req.MultiCount)]; !ok {
		reasons = append(reasons, fmt.Sprintf("multi_count '%d' not found in multiFactor", req.MultiCount))
	}

	return reasons
}

func localeFactor(cfg *domain.RatingConfig, locale string) float64 {
	for _, lf := range cfg.LocaleFactors {
		if Normalize(lf.Locale) == Normalize(locale) {
			return lf.Factor
		}
	}
	return 0
}

func categoryFactor(cfg *domain.RatingConfig, category string) float64 {
	for _, cf := range cfg.CategoryFactors {
		if Normalize(cf.Device) == Normalize(category) {
			return cf.Factor
		}
	}
	return 0
}

func priceFactor(cfg *domain.RatingConfig, price float64) float64 {
	for _, pf := range cfg.PriceFactors {
		if pf.PriceLow <= price && price <= pf.PriceHigh {
			return pf.Factor
		}
	}
	return 0
}

// validate checks that every required field is present. Zero is a
// valid age (a device can be rated in its purchase month); every other
// numeric field must be non-zero.
func validate(req *domain.RateRequest) *domain.ValidationError {
	var missing []string

	if strings.TrimSpace(req.ProductID) == "" {
		missing = append(missing, "product_id")
	}
	if strings.TrimSpace(req.Currency) == "" {
		missing = append(missing, "currency")
	}
	if strings.TrimSpace(req.Locale) == "" {
		missing = append(missing, "locale")
	}
	if req.POC == 0 {
		missing = append(missing, "poc")
	}
	if strings.TrimSpace(req.Category) == "" {
		missing = append(missing, "category")
	}
	if req.Price == 0 {
		missing = append(missing, "price")
	}
	if req.MultiCount == 0 {
		missing = append(missing, "multi_count")
	}

	if len(missing) > 0 {
		return domain.NewValidationError(missing...)
	}
	return nil
}

// RateBatch prices a batch of requests and persists the outcome as a
// quote. Per-request failures become error options instead of failing
// the batch. Responses are grouped by product id in first-seen order,
// each request contributing one option.
func (c *Calculator) RateBatch(ctx context.Context, deviceID string, reqs []domain.RateRequest) (*domain.Quote, error) {
	var products []domain.QuoteProduct
	index := make(map[string]int)

	for i := range reqs {
		req := &reqs[i]

		pos, seen := index[req.ProductID]
		if !seen {
			products = append(products, domain.QuoteProduct{
				ProductID:  req.ProductID,
				Client:     req.Client,
				Source:     req.Source,
				Currency:   req.Currency,
				Locale:     req.Locale,
				Category:   req.Category,
				Age:        req.Age,
				Price:      req.Price,
				MultiCount: req.MultiCount,
			})
			pos = len(products) - 1
			index[req.ProductID] = pos
		}

		opt := domain.QuoteOption{
			POC:  req.POC,
			Mode: req.Mode,
		}

		res, err := c.Calculate(ctx, req)
		if err != nil {
			var verr *domain.ValidationError
			var nmErr *NoMatchError
			if !errors.As(err, &verr) && !errors.As(err, &nmErr) {
				return nil, err
			}
			opt.Status = domain.QuoteStatusError
			opt.Error = err.Error()
		} else {
			opt.Status = domain.QuoteStatusOK
			opt.Factors = &res.Factors
			opt.Rate = res.Rate
			opt.RoundedPrice = res.RoundedPrice
			opt.RoundedPricePence = int(math.Round(res.RoundedPrice * 100))
		}

		products[pos].Options = append(products[pos].Options, opt)
	}

	quote := &domain.Quote{
		ID:        uuid.New().String(),
		DeviceID:  deviceID,
		Responses: products,
		CreatedAt: time.Now().UTC(),
	}

	if err := c.repo.SaveQuote(ctx, quote); err != nil {
		return nil, fmt.Errorf("failed to save quote: %w", err)
	}

	if c.bus != nil {
		payload, err := json.Marshal(map[string]string{"quote_id": quote.ID, "device_id": deviceID})
		if err == nil {
			_ = c.bus.Publish(ctx, domain.TopicQuoteCreated, payload)
		}
	}

	return quote, nil
}

// QuoteForDevice resolves a registered device's eligible products and
// prices every product/duration combination into a quote. Each offered
// duration becomes one rate request with multi_count 1 and the offer's
// mode.
func (c *Calculator) QuoteForDevice(ctx context.Context, deviceID string) (*domain.Quote, error) {
	if c.resolver == nil {
		return nil, fmt.Errorf("device quoting requires an assignment resolver")
	}

	dev, err := c.repo.GetDevice(ctx, deviceID)
	if err != nil {
		return nil, err
	}

	purchaseDate := dev.PurchaseDate
	if purchaseDate == "" {
		purchaseDate = time.Now().UTC().Format("2006-01-02")
	}

	res, err := c.resolver.Resolve(ctx, &domain.AssignmentRequest{
		Client:       dev.Client,
		Source:       dev.Source,
		Category:     dev.Category,
		Price:        dev.Price,
		Locale:       dev.Locale,
		PurchaseDate: purchaseDate,
		Guarantee:    dev.Guarantee,
		Currency:     dev.Currency,
	})
	if err != nil {
		return nil, err
	}
	if !res.Matched() {
		return nil, ErrNoEligibleProducts
	}

	var reqs []domain.RateRequest
	for _, offer := range res.Products {
		for _, duration := range offer.POC.DurationMonths {
			reqs = append(reqs, domain.RateRequest{
				ProductID:  offer.ProductID,
				Currency:   dev.Currency,
				Locale:     dev.Locale,
				POC:        duration,
				Category:   dev.Category,
				Age:        res.AgeMonths,
				Price:      dev.Price,
				MultiCount: 1,
				Client:     dev.Client,
				Source:     dev.Source,
				Mode:       offer.POC.Mode,
			})
		}
	}

	return c.RateBatch(ctx, deviceID, reqs)
}

func (c *Calculator) record(kind string, input, detail any) {
	if c.diag != nil {
		c.diag.Record(component, kind, input, detail)
	}
}
