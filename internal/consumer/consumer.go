package consumer

import (
	"context"
	"encoding/json"
	"errors"

	"github.com/rs/zerolog/log"
	"github.com/segmentio/kafka-go"

	"fulfillment-ledger/internal/entity"
	"fulfillment-ledger/internal/events"
)

// StockRefresher reloads cached stock levels from the ledger store.
type StockRefresher interface {
	RefreshStock(ctx context.Context, productIDs ...string) error
}

type Consumer struct {
	reader    *kafka.Reader
	refresher StockRefresher
}

func NewConsumer(reader *kafka.Reader, refresher StockRefresher) *Consumer {
	return &Consumer{reader: reader, refresher: refresher}
}

// Run reads order events until ctx is cancelled.
func (c *Consumer) Run(ctx context.Context) {
	defer c.reader.Close()
	for {
		msg, err := c.reader.ReadMessage(ctx)
		if err != nil {
			if ctx.Err() != nil || errors.Is(err, context.Canceled) {
				log.Info().Msg("Order event consumer stopped")
				return
			}
			log.Error().Msgf("Error reading message: %v", err)
			continue
		}

		if err := c.processMessage(ctx, msg); err != nil {
			log.Error().Msgf("Error processing message %s: %v", msg.Key, err)
		}
	}
}

// processMessage refreshes the cached stock of every product an order touched.
// Updates never move stock and are ignored.
func (c *Consumer) processMessage(ctx context.Context, msg kafka.Message) error {
	event, orderID, err := events.ParseKey(msg.Key)
	if err != nil {
		return err
	}

	switch event {
	case events.OrderCreated, events.OrderCancelled:
	case events.OrderUpdated:
		return nil
	default:
		log.Warn().Msgf("Unknown order event %s for order %s", event, orderID)
		return nil
	}

	var order entity.Order
	if err := json.Unmarshal(msg.Value, &order); err != nil {
		return err
	}

	seen := make(map[string]bool, len(order.Items))
	var productIDs []string
	for _, item := range order.Items {
		if item.ProductID == "" || seen[item.ProductID] {
			continue
		}
		seen[item.ProductID] = true
		productIDs = append(productIDs, item.ProductID)
	}
	if len(productIDs) == 0 {
		return nil
	}

	log.Info().Msgf("Refreshing stock for %d products after order %s %s", len(productIDs), orderID, event)
	return c.refresher.RefreshStock(ctx, productIDs...)
}
