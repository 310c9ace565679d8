// Package worker re-rates baskets asynchronously off the event bus.
package worker

import (
	"context"
	"encoding/json"
	"log/slog"

	"github.com/opencover/merlin/internal/basket"
	"github.com/opencover/merlin/internal/domain"
)

// Worker listens for basket mutations and re-runs the discount engine
// so the persisted summary tracks the basket's contents.
type Worker struct {
	bus    domain.EventBus
	engine *basket.Engine
	logger *slog.Logger

	subscriptions []domain.Subscription
	ctx           context.Context
	cancel        context.CancelFunc
}

// NewWorker creates an async basket re-rating worker.
func NewWorker(bus domain.EventBus, engine *basket.Engine, logger *slog.Logger) *Worker {
	if logger == nil {
		logger = slog.Default()
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Worker{
		bus:    bus,
		engine: engine,
		logger: logger,
		ctx:    ctx,
		cancel: cancel,
	}
}

// Start subscribes to the basket mutation topics.
func (w *Worker) Start() error {
	for _, topic := range []string{domain.TopicBasketItemAdded, domain.TopicBasketItemRemoved} {
		sub, err := w.bus.Subscribe(w.ctx, topic, w.handleBasketEvent)
		if err != nil {
			return err
		}
		w.subscriptions = append(w.subscriptions, sub)
		w.logger.Info("worker subscribed", "topic", topic)
	}
	return nil
}

// handleBasketEvent re-rates the basket named in the event. A rating
// failure is logged and swallowed so the bus does not redeliver
// indefinitely.
func (w *Worker) handleBasketEvent(ctx context.Context, msg *domain.Message) error {
	var event domain.BasketEvent
	if err := json.Unmarshal(msg.Payload, &event); err != nil {
		w.logger.Error("failed to parse basket event",
			"message_id", msg.ID,
			"topic", msg.Topic,
			"error", err,
		)
		return err
	}
	if event.BasketID == "" {
		return nil
	}

	result, err := w.engine.RateBasket(ctx, event.BasketID)
	if err != nil {
		w.logger.Error("background basket rating failed",
			"basket_id", event.BasketID,
			"error", err,
		)
		return nil
	}

	w.logger.Info("basket re-rated",
		"basket_id", event.BasketID,
		"subtotal", result.Subtotal,
		"final_total", result.FinalTotal,
	)
	return nil
}

// Stop unsubscribes from all topics.
func (w *Worker) Stop() error {
	w.cancel()
	for _, sub := range w.subscriptions {
		if err := sub.Unsubscribe(); err != nil {
			w.logger.Error("failed to unsubscribe",
				"topic", sub.Topic(),
				"error", err,
			)
		}
	}
	w.subscriptions = nil
	w.logger.Info("worker stopped")
	return nil
}

// Stats reports the worker's active subscriptions.
type Stats struct {
	SubscriptionCount int      `json:"subscriptionCount"`
	Topics            []string `json:"topics"`
}

// GetStats returns current worker statistics.
func (w *Worker) GetStats() Stats {
	topics := make([]string, len(w.subscriptions))
	for i, sub := range w.subscriptions {
		topics[i] = sub.Topic()
	}
	return Stats{
		SubscriptionCount: len(w.subscriptions),
		Topics:            topics,
	}
}
