package basket

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/opencover/merlin/internal/domain"
)

var (
	// ErrProductNotInQuote is returned when the quote has no group for
	// the requested product id.
	ErrProductNotInQuote = errors.New("product not found in quote responses")

	// ErrOptionOutOfRange is returned when optionref does not index the
	// product's options.
	ErrOptionOutOfRange = errors.New("optionref out of range for this product")
)

// AddItemRequest selects one priced option out of a quote.
type AddItemRequest struct {
	QuoteID   string `json:"quote_id" validate:"required"`
	ProductID string `json:"product_id" validate:"required"`
	OptionRef int    `json:"optionref" validate:"gte=0"`

	// BasketID appends to an existing basket; empty creates a new one.
	BasketID string `json:"basket_id,omitempty"`
}

// Service manages basket contents.
type Service struct {
	repo   domain.Repository
	bus    domain.EventBus
	logger *slog.Logger
}

// NewService creates a basket service. bus may be nil.
func NewService(repo domain.Repository, bus domain.EventBus, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{repo: repo, bus: bus, logger: logger}
}

// AddItem copies one quoted option into a basket as a line item,
// creating the basket when no basket id is given. Returns the updated
// basket.
func (s *Service) AddItem(ctx context.Context, req *AddItemRequest) (*domain.Basket, error) {
	quote, err := s.repo.GetQuote(ctx, req.QuoteID)
	if err != nil {
		return nil, err
	}

	product := quote.Product(req.ProductID)
	if product == nil {
		return nil, ErrProductNotInQuote
	}
	if req.OptionRef < 0 || req.OptionRef >= len(product.Options) {
		return nil, ErrOptionOutOfRange
	}
	option := product.Options[req.OptionRef]

	item := domain.LineItem{
		DeviceID:          quote.DeviceID,
		QuoteID:           req.QuoteID,
		ProductID:         product.ProductID,
		Client:            product.Client,
		Source:            product.Source,
		Currency:          product.Currency,
		Locale:            product.Locale,
		Category:          product.Category,
		Age:               product.Age,
		Price:             product.Price,
		MultiCount:        product.MultiCount,
		POC:               option.POC,
		Mode:              option.Mode,
		Rate:              option.Rate,
		RoundedPrice:      option.RoundedPrice,
		RoundedPricePence: option.RoundedPricePence,
	}

	var basket *domain.Basket
	if req.BasketID != "" {
		basket, err = s.repo.AppendBasketItem(ctx, req.BasketID, item)
		if err != nil {
			return nil, err
		}
	} else {
		now := time.Now().UTC()
		basket = &domain.Basket{
			ID:        uuid.New().String(),
			QuoteID:   req.QuoteID,
			Status:    domain.BasketStatusDraft,
			Items:     []domain.LineItem{item},
			CreatedAt: now,
			UpdatedAt: now,
		}
		if err := s.repo.CreateBasket(ctx, basket); err != nil {
			return nil, fmt.Errorf("failed to create basket: %w", err)
		}
	}

	s.publish(ctx, domain.TopicBasketItemAdded, domain.BasketEvent{
		BasketID: basket.ID,
		DeviceID: item.DeviceID,
	})

	return basket, nil
}

// GetBasket returns a basket by id.
func (s *Service) GetBasket(ctx context.Context, basketID string) (*domain.Basket, error) {
	return s.repo.GetBasket(ctx, basketID)
}

// RemoveItems removes every line item with the given device id and
// returns the updated basket.
func (s *Service) RemoveItems(ctx context.Context, basketID, deviceID string) (*domain.Basket, error) {
	basket, err := s.repo.RemoveBasketItems(ctx, basketID, deviceID)
	if err != nil {
		return nil, err
	}

	s.publish(ctx, domain.TopicBasketItemRemoved, domain.BasketEvent{
		BasketID: basketID,
		DeviceID: deviceID,
	})

	return basket, nil
}

func (s *Service) publish(ctx context.Context, topic string, event domain.BasketEvent) {
	if s.bus == nil {
		return
	}
	payload, err := json.Marshal(event)
	if err != nil {
		return
	}
	if err := s.bus.Publish(ctx, topic, payload); err != nil {
		s.logger.Warn("failed to publish basket event",
			"topic", topic,
			"basket_id", event.BasketID,
			"error", err,
		)
	}
}
