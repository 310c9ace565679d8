package api

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"testing"
	"time"

	"github.com/opencover/merlin/internal/assign"
	"github.com/opencover/merlin/internal/basket"
	"github.com/opencover/merlin/internal/bus"
	"github.com/opencover/merlin/internal/diag"
	"github.com/opencover/merlin/internal/domain"
	"github.com/opencover/merlin/internal/rating"
	"github.com/opencover/merlin/internal/repository"
)

// createTestServer wires a server over a throwaway SQLite store, the
// channel bus, and a fixed clock so device ages are deterministic.
func createTestServer(t *testing.T) (*Server, domain.Repository) {
	t.Helper()

	f, err := os.CreateTemp(t.TempDir(), "merlin-api-*.db")
	if err != nil {
		t.Fatalf("failed to create temp db: %v", err)
	}
	f.Close()

	repo, err := repository.New(domain.RepositoryConfig{
		Driver:     "sqlite",
		SQLitePath: f.Name(),
	})
	if err != nil {
		t.Fatalf("failed to create repository: %v", err)
	}
	t.Cleanup(func() { repo.Close() })

	b := bus.NewChannelBus(64)
	t.Cleanup(func() { b.Close() })

	rec := diag.NewRecorder(repo, nil, nil, 64)
	t.Cleanup(func() { rec.Close() })

	clock := func() time.Time {
		return time.Date(2025, 6, 20, 12, 0, 0, 0, time.UTC)
	}
	resolver := assign.NewResolver(repo, rec).WithClock(clock)
	calculator := rating.NewCalculator(repo, resolver, rec, b)
	baskets := basket.NewService(repo, b, nil)
	engine, err := basket.NewEngine(repo, b, nil)
	if err != nil {
		t.Fatalf("failed to create engine: %v", err)
	}

	cfg := domain.ServerConfig{Host: "localhost", Port: 8080, ReadTimeout: 30, WriteTimeout: 30}
	return NewServer(cfg, repo, nil, b, resolver, calculator, baskets, engine, "test-v1"), repo
}

func doJSON(t *testing.T, server *Server, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatalf("failed to encode body: %v", err)
		}
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	rr := httptest.NewRecorder()
	server.Router().ServeHTTP(rr, req)
	return rr
}

func seedConfig(t *testing.T, server *Server) {
	t.Helper()

	criteria := domain.EligibilityCriteria{
		ID:             "crit-1",
		ActiveClients:  []domain.ClientSource{{Client: "acme", Source: "web"}},
		CategoryGroups: []string{"washing machine"},
		Blocks: []domain.CriteriaBlock{
			{
				Locales:            []string{"uk"},
				GuaranteeDurations: []int{12},
				MonthsLow:          0,
				MonthsHigh:         36,
				MSRPLow:            100,
				MSRPHigh:           2000,
				Currencies:         []string{"GBP"},
				Products: []domain.ProductOffer{
					{
						ProductID: "warranty-12",
						POC:       domain.ProductPOC{Mode: "payg", DurationMonths: []int{12, 24}},
					},
				},
			},
		},
	}
	if rr := doJSON(t, server, http.MethodPost, "/config/criteria", criteria); rr.Code != http.StatusCreated {
		t.Fatalf("failed to seed criteria: %d %s", rr.Code, rr.Body.String())
	}

	cfg := domain.RatingConfig{
		ID:            "rc-1",
		ProductIDs:    []string{"warranty-12"},
		Currency:      "GBP",
		BaseFee:       10,
		LocaleFactors: []domain.LocaleFactor{{Locale: "uk", Factor: 1.0}},
		POCFactors:    map[string]float64{"12": 1.0, "24": 1.8},
		CategoryFactors: []domain.CategoryFactor{
			{Device: "washing machine", Factor: 1.2},
		},
		AgeFactors:   map[string]float64{"0": 1.0, "6": 1.1},
		PriceFactors: []domain.PriceBand{{PriceLow: 100, PriceHigh: 1000, Factor: 1.0}},
		MultiFactors: map[string]float64{"1": 1.0},
	}
	if rr := doJSON(t, server, http.MethodPost, "/config/ratings", cfg); rr.Code != http.StatusCreated {
		t.Fatalf("failed to seed rating config: %d %s", rr.Code, rr.Body.String())
	}
}

func TestHealthEndpoints(t *testing.T) {
	server, _ := createTestServer(t)

	t.Run("Health", func(t *testing.T) {
		rr := doJSON(t, server, http.MethodGet, "/health", nil)
		if rr.Code != http.StatusOK {
			t.Errorf("expected 200, got %d", rr.Code)
		}
		var resp map[string]string
		json.Unmarshal(rr.Body.Bytes(), &resp)
		if resp["status"] != "healthy" {
			t.Errorf("expected healthy, got %s", resp["status"])
		}
		if resp["version"] != "test-v1" {
			t.Errorf("expected version test-v1, got %s", resp["version"])
		}
	})

	t.Run("Ready", func(t *testing.T) {
		rr := doJSON(t, server, http.MethodGet, "/ready", nil)
		if rr.Code != http.StatusOK {
			t.Errorf("expected 200, got %d", rr.Code)
		}
	})
}

func TestAssignmentEndpoint(t *testing.T) {
	server, _ := createTestServer(t)
	seedConfig(t, server)

	t.Run("Match", func(t *testing.T) {
		rr := doJSON(t, server, http.MethodPost, "/assignment", domain.AssignmentRequest{
			Client:       "acme",
			Source:       "web",
			Category:     "washing machine",
			Price:        499.99,
			Locale:       "uk",
			PurchaseDate: "2024-12-15",
			Guarantee:    12,
			Currency:     "GBP",
		})
		if rr.Code != http.StatusOK {
			t.Fatalf("expected 200, got %d: %s", rr.Code, rr.Body.String())
		}
		var result domain.AssignmentResult
		if err := json.Unmarshal(rr.Body.Bytes(), &result); err != nil {
			t.Fatalf("failed to parse response: %v", err)
		}
		if result.CriteriaID != "crit-1" {
			t.Errorf("expected crit-1, got %s", result.CriteriaID)
		}
		if result.AgeMonths != 6 {
			t.Errorf("expected age 6, got %d", result.AgeMonths)
		}
		if len(result.Products) != 1 {
			t.Errorf("expected 1 product, got %d", len(result.Products))
		}
	})

	t.Run("NoMatchStillOK", func(t *testing.T) {
		rr := doJSON(t, server, http.MethodPost, "/assignment", domain.AssignmentRequest{
			Client:       "acme",
			Source:       "web",
			Category:     "washing machine",
			Price:        499.99,
			Locale:       "fr",
			PurchaseDate: "2024-12-15",
			Guarantee:    12,
			Currency:     "GBP",
		})
		if rr.Code != http.StatusOK {
			t.Fatalf("expected 200, got %d", rr.Code)
		}
		var result domain.AssignmentResult
		json.Unmarshal(rr.Body.Bytes(), &result)
		if result.Matched() {
			t.Error("expected no match for locale fr")
		}
		if len(result.Failures) == 0 {
			t.Error("expected per-block failure reasons")
		}
	})

	t.Run("ValidationError", func(t *testing.T) {
		rr := doJSON(t, server, http.MethodPost, "/assignment", domain.AssignmentRequest{
			Client: "acme",
		})
		if rr.Code != http.StatusUnprocessableEntity {
			t.Errorf("expected 422, got %d", rr.Code)
		}
	})

	t.Run("InvalidJSON", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodPost, "/assignment", bytes.NewBufferString("not-json"))
		rr := httptest.NewRecorder()
		server.Router().ServeHTTP(rr, req)
		if rr.Code != http.StatusBadRequest {
			t.Errorf("expected 400, got %d", rr.Code)
		}
	})
}

func TestRateEndpoint(t *testing.T) {
	server, _ := createTestServer(t)
	seedConfig(t, server)

	validRequest := domain.RateRequest{
		ProductID:  "warranty-12",
		Currency:   "GBP",
		Locale:     "uk",
		POC:        12,
		Category:   "washing machine",
		Age:        6,
		Price:      499.99,
		MultiCount: 1,
	}

	t.Run("Match", func(t *testing.T) {
		rr := doJSON(t, server, http.MethodPost, "/rate", validRequest)
		if rr.Code != http.StatusOK {
			t.Fatalf("expected 200, got %d: %s", rr.Code, rr.Body.String())
		}
		var result domain.RateResult
		json.Unmarshal(rr.Body.Bytes(), &result)
		if result.Rate != 13.2 {
			t.Errorf("expected rate 13.2, got %v", result.Rate)
		}
		if result.RoundedPrice != 13.49 {
			t.Errorf("expected rounded price 13.49, got %v", result.RoundedPrice)
		}
	})

	t.Run("NoMatchIs404WithReasons", func(t *testing.T) {
		req := validRequest
		req.POC = 36
		rr := doJSON(t, server, http.MethodPost, "/rate", req)
		if rr.Code != http.StatusNotFound {
			t.Fatalf("expected 404, got %d", rr.Code)
		}
		var resp struct {
			Failures []domain.ConfigFailure `json:"failures"`
		}
		json.Unmarshal(rr.Body.Bytes(), &resp)
		if len(resp.Failures) == 0 {
			t.Error("expected per-config failure reasons")
		}
	})

	t.Run("ValidationError", func(t *testing.T) {
		rr := doJSON(t, server, http.MethodPost, "/rate", domain.RateRequest{ProductID: "warranty-12"})
		if rr.Code != http.StatusUnprocessableEntity {
			t.Errorf("expected 422, got %d", rr.Code)
		}
	})
}

func TestQuoteAndBasketFlow(t *testing.T) {
	server, repo := createTestServer(t)
	seedConfig(t, server)

	// Register a device directly; registration is outside the HTTP
	// surface.
	device := &domain.Device{
		ID:           "dev-001",
		Client:       "acme",
		Source:       "web",
		Locale:       "uk",
		Category:     "washing machine",
		Price:        499.99,
		PurchaseDate: "2024-12-15",
		Guarantee:    12,
		Currency:     "GBP",
	}
	if err := repo.SaveDevice(context.Background(), device); err != nil {
		t.Fatalf("failed to save device: %v", err)
	}

	// Quote the device.
	rr := doJSON(t, server, http.MethodPost, "/quote/device", DeviceQuoteRequest{DeviceID: "dev-001"})
	if rr.Code != http.StatusOK {
		t.Fatalf("quote/device: expected 200, got %d: %s", rr.Code, rr.Body.String())
	}
	var quote domain.Quote
	if err := json.Unmarshal(rr.Body.Bytes(), &quote); err != nil {
		t.Fatalf("failed to parse quote: %v", err)
	}
	if quote.ID == "" || quote.DeviceID != "dev-001" {
		t.Fatalf("unexpected quote identity: %+v", quote)
	}
	if len(quote.Responses) != 1 || len(quote.Responses[0].Options) != 2 {
		t.Fatalf("expected 1 product with 2 options, got %+v", quote.Responses)
	}

	// The quote is retrievable.
	rr = doJSON(t, server, http.MethodGet, "/quote/"+quote.ID, nil)
	if rr.Code != http.StatusOK {
		t.Fatalf("get quote: expected 200, got %d", rr.Code)
	}

	// Add the 12-month option to a new basket.
	rr = doJSON(t, server, http.MethodPost, "/basket/add", basket.AddItemRequest{
		QuoteID:   quote.ID,
		ProductID: "warranty-12",
		OptionRef: 0,
	})
	if rr.Code != http.StatusOK {
		t.Fatalf("basket/add: expected 200, got %d: %s", rr.Code, rr.Body.String())
	}
	var b domain.Basket
	json.Unmarshal(rr.Body.Bytes(), &b)
	if b.ID == "" || len(b.Items) != 1 {
		t.Fatalf("unexpected basket: %+v", b)
	}

	// Rate the basket (no discount rules seeded yet).
	rr = doJSON(t, server, http.MethodPost, "/basket/rate", RateBasketRequest{BasketID: b.ID})
	if rr.Code != http.StatusOK {
		t.Fatalf("basket/rate: expected 200, got %d: %s", rr.Code, rr.Body.String())
	}
	var rated domain.RateBasketResult
	json.Unmarshal(rr.Body.Bytes(), &rated)
	if rated.Subtotal != 1349 {
		t.Errorf("expected subtotal 1349, got %d", rated.Subtotal)
	}
	if rated.Best != nil {
		t.Errorf("expected no winning rule, got %+v", rated.Best)
	}
	if rated.FinalTotal != 1349 {
		t.Errorf("expected final total 1349, got %d", rated.FinalTotal)
	}

	// Remove the item.
	rr = doJSON(t, server, http.MethodDelete, "/basket/"+b.ID+"/item/dev-001", nil)
	if rr.Code != http.StatusOK {
		t.Fatalf("basket delete: expected 200, got %d", rr.Code)
	}
	var emptied domain.Basket
	json.Unmarshal(rr.Body.Bytes(), &emptied)
	if len(emptied.Items) != 0 {
		t.Errorf("expected emptied basket, got %d items", len(emptied.Items))
	}

	t.Run("UnknownDevice", func(t *testing.T) {
		rr := doJSON(t, server, http.MethodPost, "/quote/device", DeviceQuoteRequest{DeviceID: "nope"})
		if rr.Code != http.StatusNotFound {
			t.Errorf("expected 404, got %d", rr.Code)
		}
	})

	t.Run("UnknownQuote", func(t *testing.T) {
		rr := doJSON(t, server, http.MethodGet, "/quote/nope", nil)
		if rr.Code != http.StatusNotFound {
			t.Errorf("expected 404, got %d", rr.Code)
		}
	})

	t.Run("OptionOutOfRange", func(t *testing.T) {
		rr := doJSON(t, server, http.MethodPost, "/basket/add", basket.AddItemRequest{
			QuoteID:   quote.ID,
			ProductID: "warranty-12",
			OptionRef: 9,
		})
		if rr.Code != http.StatusBadRequest {
			t.Errorf("expected 400, got %d", rr.Code)
		}
	})

	t.Run("ProductNotInQuote", func(t *testing.T) {
		rr := doJSON(t, server, http.MethodPost, "/basket/add", basket.AddItemRequest{
			QuoteID:   quote.ID,
			ProductID: "no-such-product",
		})
		if rr.Code != http.StatusNotFound {
			t.Errorf("expected 404, got %d", rr.Code)
		}
	})
}

func TestBatchQuoteEndpoint(t *testing.T) {
	server, _ := createTestServer(t)
	seedConfig(t, server)

	rr := doJSON(t, server, http.MethodPost, "/quote", QuoteRequest{
		DeviceID: "dev-001",
		Requests: []domain.RateRequest{
			{ProductID: "warranty-12", Currency: "GBP", Locale: "uk", POC: 12, Category: "washing machine", Age: 6, Price: 499.99, MultiCount: 1},
			{ProductID: "unknown", Currency: "GBP", Locale: "uk", POC: 12, Category: "washing machine", Age: 6, Price: 499.99, MultiCount: 1},
		},
	})
	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rr.Code, rr.Body.String())
	}
	var quote domain.Quote
	json.Unmarshal(rr.Body.Bytes(), &quote)
	if len(quote.Responses) != 2 {
		t.Fatalf("expected 2 product groups, got %d", len(quote.Responses))
	}
	// The unknown product becomes an error option, not a failed batch.
	unknown := quote.Product("unknown")
	if unknown == nil || len(unknown.Options) != 1 {
		t.Fatalf("expected error option for unknown product, got %+v", unknown)
	}
	if unknown.Options[0].Status != domain.QuoteStatusError {
		t.Errorf("expected error status, got %s", unknown.Options[0].Status)
	}

	t.Run("EmptyBatch", func(t *testing.T) {
		rr := doJSON(t, server, http.MethodPost, "/quote", QuoteRequest{DeviceID: "dev-001"})
		if rr.Code != http.StatusBadRequest {
			t.Errorf("expected 400, got %d", rr.Code)
		}
	})
}

func TestConfigEndpoints(t *testing.T) {
	server, _ := createTestServer(t)
	seedConfig(t, server)

	t.Run("ListCriteria", func(t *testing.T) {
		rr := doJSON(t, server, http.MethodGet, "/config/criteria", nil)
		if rr.Code != http.StatusOK {
			t.Fatalf("expected 200, got %d", rr.Code)
		}
		var resp struct {
			Count int `json:"count"`
		}
		json.Unmarshal(rr.Body.Bytes(), &resp)
		if resp.Count != 1 {
			t.Errorf("expected 1 criteria record, got %d", resp.Count)
		}
	})

	t.Run("ListRatings", func(t *testing.T) {
		rr := doJSON(t, server, http.MethodGet, "/config/ratings", nil)
		if rr.Code != http.StatusOK {
			t.Fatalf("expected 200, got %d", rr.Code)
		}
	})

	t.Run("DiscountRoundTrip", func(t *testing.T) {
		rule := domain.DiscountRule{
			ID:       "rule-1",
			Name:     "multi buy",
			RuleType: domain.RuleTypeTieredPercent,
			Active:   true,
			Params: domain.RuleParams{
				Tiers: []domain.PercentTier{{MinItems: 3, PercentOff: 10}},
			},
		}
		rr := doJSON(t, server, http.MethodPost, "/config/discounts", rule)
		if rr.Code != http.StatusCreated {
			t.Fatalf("expected 201, got %d: %s", rr.Code, rr.Body.String())
		}

		rr = doJSON(t, server, http.MethodGet, "/config/discounts?active=true", nil)
		if rr.Code != http.StatusOK {
			t.Fatalf("expected 200, got %d", rr.Code)
		}
		var resp struct {
			Count int `json:"count"`
		}
		json.Unmarshal(rr.Body.Bytes(), &resp)
		if resp.Count != 1 {
			t.Errorf("expected 1 active rule, got %d", resp.Count)
		}
	})

	t.Run("MissingID", func(t *testing.T) {
		rr := doJSON(t, server, http.MethodPost, "/config/criteria", domain.EligibilityCriteria{})
		if rr.Code != http.StatusBadRequest {
			t.Errorf("expected 400, got %d", rr.Code)
		}
	})
}

func TestMiddleware(t *testing.T) {
	t.Run("TracingMiddlewareSetsRequestID", func(t *testing.T) {
		var capturedRequestID string

		handler := TracingMiddleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			capturedRequestID = GetRequestID(r.Context())
			w.WriteHeader(http.StatusOK)
		}))

		req := httptest.NewRequest(http.MethodGet, "/", nil)
		rr := httptest.NewRecorder()
		handler.ServeHTTP(rr, req)

		if capturedRequestID == "" {
			t.Error("expected request ID to be set")
		}
		if rr.Header().Get("X-Request-ID") == "" {
			t.Error("expected X-Request-ID response header")
		}
	})

	t.Run("RecoverMiddlewareHandlesPanic", func(t *testing.T) {
		handler := RecoverMiddleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			panic("test panic")
		}))

		req := httptest.NewRequest(http.MethodGet, "/", nil)
		rr := httptest.NewRecorder()
		handler.ServeHTTP(rr, req)

		if rr.Code != http.StatusInternalServerError {
			t.Errorf("expected status 500, got %d", rr.Code)
		}
	})

	t.Run("CORSPreflight", func(t *testing.T) {
		handler := CORSMiddleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			t.Error("preflight should not reach the handler")
		}))

		req := httptest.NewRequest(http.MethodOptions, "/", nil)
		req.Header.Set("Origin", "https://example.com")
		rr := httptest.NewRecorder()
		handler.ServeHTTP(rr, req)

		if rr.Code != http.StatusNoContent {
			t.Errorf("expected 204, got %d", rr.Code)
		}
		if rr.Header().Get("Access-Control-Allow-Origin") != "https://example.com" {
			t.Error("expected origin echoed back")
		}
	})
}
