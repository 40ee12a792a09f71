package events

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/segmentio/kafka-go"

	"fulfillment-ledger/internal/entity"
)

const (
	OrderCreated   = "created"
	OrderUpdated   = "updated"
	OrderCancelled = "cancelled"
)

// Publisher writes committed order changes to the order topic.
type Publisher struct {
	writer *kafka.Writer
}

func NewPublisher(writer *kafka.Writer) *Publisher {
	return &Publisher{writer: writer}
}

func (p *Publisher) Publish(ctx context.Context, event string, order *entity.Order) error {
	msg, err := NewMessage(event, order)
	if err != nil {
		return err
	}
	return p.writer.WriteMessages(ctx, msg)
}

func (p *Publisher) Close() error {
	return p.writer.Close()
}

// NewMessage encodes order under the key "order.<event>.<id>".
func NewMessage(event string, order *entity.Order) (kafka.Message, error) {
	orderJSON, err := json.Marshal(order)
	if err != nil {
		return kafka.Message{}, err
	}
	return kafka.Message{
		Key:   []byte(fmt.Sprintf("order.%s.%s", event, order.ID)),
		Value: orderJSON,
	}, nil
}

// ParseKey splits a message key produced by NewMessage.
func ParseKey(key []byte) (event, orderID string, err error) {
	parts := strings.SplitN(string(key), ".", 3)
	if len(parts) != 3 || parts[0] != "order" || parts[1] == "" {
		return "", "", fmt.Errorf("malformed order event key %q", key)
	}
	return parts[1], parts[2], nil
}
