package kafka

import (
	"context"
	"encoding/json"
	"time"

	"github.com/segmentio/kafka-go"

	"ms-boxoffice/internal/logger"
	"ms-boxoffice/internal/models"
)

// OrderEvent is the wire shape of an order lifecycle event.
type OrderEvent struct {
	Type      string       `json:"type"`
	Order     models.Order `json:"order"`
	Timestamp time.Time    `json:"timestamp"`
}

// Producer streams order lifecycle events. With a nil writer (Kafka
// disabled in config) every publish is a no-op, so callers never need
// to care whether a broker is wired.
type Producer struct {
	Writer *kafka.Writer
	Logger *logger.Logger
}

func NewProducer(brokers []string, topic string, log *logger.Logger) *Producer {
	writer := kafka.NewWriter(kafka.WriterConfig{
		Brokers: brokers,
		Topic:   topic,
	})
	return &Producer{Writer: writer, Logger: log}
}

// NewDisabledProducer returns a producer that drops every event.
func NewDisabledProducer(log *logger.Logger) *Producer {
	return &Producer{Logger: log}
}

func (p *Producer) publish(eventType string, order models.Order) error {
	if p.Writer == nil {
		return nil
	}

	msgBytes, err := json.Marshal(OrderEvent{
		Type:      eventType,
		Order:     order,
		Timestamp: time.Now().UTC(),
	})
	if err != nil {
		return err
	}

	p.Logger.LogKafka("PUBLISH", p.Writer.Topic, eventType+" "+order.OrderID)
	return p.Writer.WriteMessages(context.Background(),
		kafka.Message{
			Key:   []byte(order.OrderID),
			Value: msgBytes,
		},
	)
}

func (p *Producer) PublishOrderCreated(order models.Order) error {
	return p.publish("order_created", order)
}

func (p *Producer) PublishOrderPaid(order models.Order) error {
	return p.publish("order_paid", order)
}

func (p *Producer) PublishOrderFailed(order models.Order) error {
	return p.publish("order_failed", order)
}

func (p *Producer) Close() error {
	if p.Writer == nil {
		return nil
	}
	return p.Writer.Close()
}
