package events

import (
	"context"
	"encoding/json"
	"fmt"

	"marketplace-be/internal/logger"
	"marketplace-be/internal/order"

	"github.com/segmentio/kafka-go"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
)

type messageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// Publisher sends committed order status changes to Kafka, keyed by
// payment id so every change of one order lands on the same partition.
type Publisher struct {
	writer messageWriter
	tracer trace.Tracer
}

func NewPublisher(brokers []string, topic string) *Publisher {
	return newPublisher(&kafka.Writer{
		Addr:         kafka.TCP(brokers...),
		Topic:        topic,
		Balancer:     &kafka.Hash{},
		RequiredAcks: kafka.RequireAll,
	})
}

func newPublisher(w messageWriter) *Publisher {
	return &Publisher{writer: w, tracer: otel.Tracer("order-publisher")}
}

func (p *Publisher) OrderStatusChanged(ctx context.Context, change order.StatusChange) error {
	ctx, span := p.tracer.Start(ctx, "PublishOrderStatusChanged",
		trace.WithSpanKind(trace.SpanKindProducer),
		trace.WithAttributes(
			attribute.Int64("order_id", change.OrderID),
			attribute.String("status", string(change.Status)),
		),
	)
	defer span.End()

	value, err := json.Marshal(change)
	if err != nil {
		return fmt.Errorf("marshal status change: %w", err)
	}

	headers := injectHeaders(ctx, []kafka.Header{{Key: "source", Value: []byte(sourceService)}})
	msg := kafka.Message{
		Key:     []byte(change.PaymentID),
		Value:   value,
		Headers: headers,
	}
	if err := p.writer.WriteMessages(ctx, msg); err != nil {
		span.RecordError(err)
		return fmt.Errorf("publish status change: %w", err)
	}

	logger.FromCtx(ctx).Debug("status change published",
		zap.Int64("order_id", change.OrderID),
		zap.String("status", string(change.Status)),
	)
	return nil
}

func (p *Publisher) Close() error {
	return p.writer.Close()
}
