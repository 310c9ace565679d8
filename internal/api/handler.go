package api

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"
	"github.com/opencover/merlin/internal/assign"
	"github.com/opencover/merlin/internal/basket"
	"github.com/opencover/merlin/internal/domain"
	"github.com/opencover/merlin/internal/rating"
	"github.com/opencover/merlin/internal/repository"
)

// Handler holds dependencies for API handlers.
type Handler struct {
	repo       domain.Repository
	cache      domain.Cache
	bus        domain.EventBus
	resolver   *assign.Resolver
	calculator *rating.Calculator
	baskets    *basket.Service
	engine     *basket.Engine
	validate   *validator.Validate
	version    string
}

// NewHandler creates a new API handler.
func NewHandler(repo domain.Repository, cache domain.Cache, bus domain.EventBus, resolver *assign.Resolver, calculator *rating.Calculator, baskets *basket.Service, engine *basket.Engine, version string) *Handler {
	return &Handler{
		repo:       repo,
		cache:      cache,
		bus:        bus,
		resolver:   resolver,
		calculator: calculator,
		baskets:    baskets,
		engine:     engine,
		validate:   validator.New(),
		version:    version,
	}
}

// Health returns server health status.
func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	status := "healthy"

	if h.repo != nil {
		if err := h.repo.Ping(r.Context()); err != nil {
			status = "degraded"
		}
	}
	if h.cache != nil {
		if err := h.cache.Ping(r.Context()); err != nil {
			status = "degraded"
		}
	}
	if h.bus != nil {
		if err := h.bus.Ping(r.Context()); err != nil {
			status = "degraded"
		}
	}

	writeJSON(w, http.StatusOK, map[string]string{
		"status":  status,
		"version": h.version,
	})
}

// Ready returns whether the server is ready to accept traffic.
func (h *Handler) Ready(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{
		"ready": "true",
	})
}

// Assignment handles POST /assignment. A no-match outcome is still a
// 200: the result carries the per-block failure reasons.
func (h *Handler) Assignment(w http.ResponseWriter, r *http.Request) {
	var req domain.AssignmentRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{
			"error": "invalid JSON request body",
		})
		return
	}

	result, err := h.resolver.Resolve(r.Context(), &req)
	if err != nil {
		h.writeError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, result)
}

// Rate handles POST /rate: a single rate calculation.
func (h *Handler) Rate(w http.ResponseWriter, r *http.Request) {
	var req domain.RateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{
			"error": "invalid JSON request body",
		})
		return
	}

	result, err := h.calculator.Calculate(r.Context(), &req)
	if err != nil {
		h.writeError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, result)
}

// QuoteRequest is the request body for POST /quote.
type QuoteRequest struct {
	DeviceID string               `json:"deviceId,omitempty"`
	Requests []domain.RateRequest `json:"requests" validate:"required,min=1"`
}

// CreateQuote handles POST /quote: batch rating persisted as a quote.
// Per-request failures become error options; only an unexpected failure
// sinks the batch.
func (h *Handler) CreateQuote(w http.ResponseWriter, r *http.Request) {
	var req QuoteRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{
			"error": "invalid JSON request body",
		})
		return
	}
	if err := h.validate.Struct(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{
			"error": "requests must contain at least one rate request",
		})
		return
	}

	quote, err := h.calculator.RateBatch(r.Context(), req.DeviceID, req.Requests)
	if err != nil {
		h.writeError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, quote)
}

// DeviceQuoteRequest is the request body for POST /quote/device.
type DeviceQuoteRequest struct {
	DeviceID string `json:"deviceId" validate:"required"`
}

// QuoteDevice handles POST /quote/device: the full registered-device
// quote chain (device lookup, assignment, batch rating).
func (h *Handler) QuoteDevice(w http.ResponseWriter, r *http.Request) {
	var req DeviceQuoteRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{
			"error": "invalid JSON request body",
		})
		return
	}
	if err := h.validate.Struct(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{
			"error": "deviceId is required",
		})
		return
	}

	quote, err := h.calculator.QuoteForDevice(r.Context(), req.DeviceID)
	if err != nil {
		h.writeError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, quote)
}

// GetQuote handles GET /quote/{id}.
func (h *Handler) GetQuote(w http.ResponseWriter, r *http.Request) {
	quoteID := chi.URLParam(r, "id")

	quote, err := h.repo.GetQuote(r.Context(), quoteID)
	if err != nil {
		h.writeError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, quote)
}

// AddBasketItem handles POST /basket/add.
func (h *Handler) AddBasketItem(w http.ResponseWriter, r *http.Request) {
	var req basket.AddItemRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{
			"error": "invalid JSON request body",
		})
		return
	}
	if err := h.validate.Struct(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{
			"error": "quote_id and product_id are required, optionref must be >= 0",
		})
		return
	}

	b, err := h.baskets.AddItem(r.Context(), &req)
	if err != nil {
		h.writeError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, b)
}

// GetBasket handles GET /basket/{id}.
func (h *Handler) GetBasket(w http.ResponseWriter, r *http.Request) {
	basketID := chi.URLParam(r, "id")

	b, err := h.baskets.GetBasket(r.Context(), basketID)
	if err != nil {
		h.writeError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, b)
}

// RemoveBasketItems handles DELETE /basket/{id}/item/{deviceId}.
func (h *Handler) RemoveBasketItems(w http.ResponseWriter, r *http.Request) {
	basketID := chi.URLParam(r, "id")
	deviceID := chi.URLParam(r, "deviceId")

	b, err := h.baskets.RemoveItems(r.Context(), basketID, deviceID)
	if err != nil {
		h.writeError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, b)
}

// RateBasketRequest is the request body for POST /basket/rate.
type RateBasketRequest struct {
	BasketID string `json:"basket_id" validate:"required"`
}

// RateBasket handles POST /basket/rate.
func (h *Handler) RateBasket(w http.ResponseWriter, r *http.Request) {
	var req RateBasketRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{
			"error": "invalid JSON request body",
		})
		return
	}
	if err := h.validate.Struct(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{
			"error": "basket_id is required",
		})
		return
	}

	result, err := h.engine.RateBasket(r.Context(), req.BasketID)
	if err != nil {
		h.writeError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, result)
}

// ListCriteria handles GET /config/criteria.
func (h *Handler) ListCriteria(w http.ResponseWriter, r *http.Request) {
	records, err := h.repo.ListAllEligibilityCriteria(r.Context())
	if err != nil {
		h.writeError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"criteria": records,
		"count":    len(records),
	})
}

// CreateCriteria handles POST /config/criteria. Saving an existing id
// updates the record in place, keeping its evaluation order.
func (h *Handler) CreateCriteria(w http.ResponseWriter, r *http.Request) {
	var rec domain.EligibilityCriteria
	if err := json.NewDecoder(r.Body).Decode(&rec); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{
			"error": "invalid JSON request body",
		})
		return
	}
	if rec.ID == "" {
		writeJSON(w, http.StatusBadRequest, map[string]string{
			"error": "id is required",
		})
		return
	}

	if err := h.repo.SaveEligibilityCriteria(r.Context(), &rec); err != nil {
		h.writeError(w, err)
		return
	}

	slog.Info("eligibility criteria saved", "id", rec.ID)
	writeJSON(w, http.StatusCreated, &rec)
}

// ListRatingConfigs handles GET /config/ratings.
func (h *Handler) ListRatingConfigs(w http.ResponseWriter, r *http.Request) {
	configs, err := h.repo.ListAllRatingConfigs(r.Context())
	if err != nil {
		h.writeError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"ratings": configs,
		"count":   len(configs),
	})
}

// CreateRatingConfig handles POST /config/ratings.
func (h *Handler) CreateRatingConfig(w http.ResponseWriter, r *http.Request) {
	var cfg domain.RatingConfig
	if err := json.NewDecoder(r.Body).Decode(&cfg); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{
			"error": "invalid JSON request body",
		})
		return
	}
	if cfg.ID == "" {
		writeJSON(w, http.StatusBadRequest, map[string]string{
			"error": "id is required",
		})
		return
	}

	if err := h.repo.SaveRatingConfig(r.Context(), &cfg); err != nil {
		h.writeError(w, err)
		return
	}

	slog.Info("rating config saved", "id", cfg.ID)
	writeJSON(w, http.StatusCreated, &cfg)
}

// ListDiscountRules handles GET /config/discounts. ?active=true limits
// the listing to active rules.
func (h *Handler) ListDiscountRules(w http.ResponseWriter, r *http.Request) {
	activeOnly := r.URL.Query().Get("active") == "true"

	rules, err := h.repo.ListDiscountRules(r.Context(), activeOnly)
	if err != nil {
		h.writeError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"discounts": rules,
		"count":     len(rules),
	})
}

// CreateDiscountRule handles POST /config/discounts.
func (h *Handler) CreateDiscountRule(w http.ResponseWriter, r *http.Request) {
	var rule domain.DiscountRule
	if err := json.NewDecoder(r.Body).Decode(&rule); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{
			"error": "invalid JSON request body",
		})
		return
	}
	if rule.ID == "" {
		writeJSON(w, http.StatusBadRequest, map[string]string{
			"error": "id is required",
		})
		return
	}

	if err := h.repo.SaveDiscountRule(r.Context(), &rule); err != nil {
		h.writeError(w, err)
		return
	}

	slog.Info("discount rule saved", "id", rule.ID, "type", rule.RuleType)
	writeJSON(w, http.StatusCreated, &rule)
}

// writeError maps core errors to HTTP status codes.
func (h *Handler) writeError(w http.ResponseWriter, err error) {
	var vErr *domain.ValidationError
	if errors.As(err, &vErr) {
		writeJSON(w, http.StatusUnprocessableEntity, map[string]interface{}{
			"error":  vErr.Error(),
			"fields": vErr.Fields,
		})
		return
	}

	var nmErr *rating.NoMatchError
	if errors.As(err, &nmErr) {
		writeJSON(w, http.StatusNotFound, map[string]interface{}{
			"error":    nmErr.Error(),
			"failures": nmErr.Failures,
		})
		return
	}

	switch {
	case errors.Is(err, rating.ErrNoEligibleProducts):
		writeJSON(w, http.StatusNotFound, map[string]string{
			"error": err.Error(),
		})
	case errors.Is(err, basket.ErrProductNotInQuote):
		writeJSON(w, http.StatusNotFound, map[string]string{
			"error": err.Error(),
		})
	case errors.Is(err, basket.ErrOptionOutOfRange):
		writeJSON(w, http.StatusBadRequest, map[string]string{
			"error": err.Error(),
		})
	case errors.Is(err, repository.ErrNotFound):
		writeJSON(w, http.StatusNotFound, map[string]string{
			"error": "record not found",
		})
	case errors.Is(err, repository.ErrInvalidInput):
		writeJSON(w, http.StatusBadRequest, map[string]string{
			"error": err.Error(),
		})
	default:
		slog.Error("request failed", "error", err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{
			"error": "internal server error",
		})
	}
}

func writeJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}
