// Package api exposes the quoting pipeline over HTTP. The handlers are
// a thin shell: decode, call the core, map errors to status codes.
package api

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/opencover/merlin/internal/assign"
	"github.com/opencover/merlin/internal/basket"
	"github.com/opencover/merlin/internal/domain"
	"github.com/opencover/merlin/internal/rating"
)

// Server represents the HTTP API server.
type Server struct {
	router  *chi.Mux
	handler *Handler
	server  *http.Server
	config  domain.ServerConfig
}

// NewServer creates a new API server.
func NewServer(cfg domain.ServerConfig, repo domain.Repository, cache domain.Cache, bus domain.EventBus, resolver *assign.Resolver, calculator *rating.Calculator, baskets *basket.Service, engine *basket.Engine, version string) *Server {
	handler := NewHandler(repo, cache, bus, resolver, calculator, baskets, engine, version)
	router := chi.NewRouter()

	// Global middleware stack
	router.Use(CORSMiddleware)
	router.Use(RecoverMiddleware)
	router.Use(TracingMiddleware)
	router.Use(LoggingMiddleware)
	router.Use(middleware.RealIP)
	router.Use(middleware.Compress(5))

	// Health endpoints
	router.Get("/health", handler.Health)
	router.Get("/ready", handler.Ready)

	// Quoting pipeline
	router.Post("/assignment", handler.Assignment)
	router.Post("/rate", handler.Rate)
	router.Post("/quote", handler.CreateQuote)
	router.Post("/quote/device", handler.QuoteDevice)
	router.Get("/quote/{id}", handler.GetQuote)

	// Baskets
	router.Post("/basket/add", handler.AddBasketItem)
	router.Get("/basket/{id}", handler.GetBasket)
	router.Delete("/basket/{id}/item/{deviceId}", handler.RemoveBasketItems)
	router.Post("/basket/rate", handler.RateBasket)

	// Configuration administration
	router.Get("/config/criteria", handler.ListCriteria)
	router.Post("/config/criteria", handler.CreateCriteria)
	router.Get("/config/ratings", handler.ListRatingConfigs)
	router.Post("/config/ratings", handler.CreateRatingConfig)
	router.Get("/config/discounts", handler.ListDiscountRules)
	router.Post("/config/discounts", handler.CreateDiscountRule)

	return &Server{
		router:  router,
		handler: handler,
		config:  cfg,
	}
}

// Start starts the HTTP server.
func (s *Server) Start() error {
	addr := fmt.Sprintf("%s:%d", s.config.Host, s.config.Port)

	s.server = &http.Server{
		Addr:         addr,
		Handler:      s.router,
		ReadTimeout:  time.Duration(s.config.ReadTimeout) * time.Second,
		WriteTimeout: time.Duration(s.config.WriteTimeout) * time.Second,
		IdleTimeout:  120 * time.Second,
	}

	return s.server.ListenAndServe()
}

// Shutdown gracefully shuts down the server.
func (s *Server) Shutdown(ctx context.Context) error {
	if s.server == nil {
		return nil
	}
	return s.server.Shutdown(ctx)
}

// Router returns the Chi router for testing.
func (s *Server) Router() *chi.Mux {
	return s.router
}

// Handler returns the handler for testing.
func (s *Server) Handler() *Handler {
	return s.handler
}
