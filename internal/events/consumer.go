package events

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"marketplace-be/internal/logger"

	"github.com/segmentio/kafka-go"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
)

type messageReader interface {
	FetchMessage(ctx context.Context) (kafka.Message, error)
	CommitMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// Purger removes unpaid orders that reference a deleted catalog entity.
// order.Service satisfies it.
type Purger interface {
	PurgeForDeletedProduct(ctx context.Context, productID int64) (int64, error)
	PurgeForDeletedSize(ctx context.Context, sizeID int64) (int64, error)
	PurgeForDeletedBrand(ctx context.Context, brandID int64) (int64, error)
}

type Consumer struct {
	reader messageReader
	purger Purger
	tracer trace.Tracer
}

func NewConsumer(brokers []string, topic, group string, purger Purger) *Consumer {
	r := kafka.NewReader(kafka.ReaderConfig{
		Brokers: brokers,
		Topic:   topic,
		GroupID: group,
	})
	return newConsumer(r, purger)
}

func newConsumer(r messageReader, purger Purger) *Consumer {
	return &Consumer{
		reader: r,
		purger: purger,
		tracer: otel.Tracer("catalog-consumer"),
	}
}

// Run consumes until ctx is done. Undecodable messages are logged and
// committed. A failed purge stops the consumer with the message uncommitted,
// so the group redelivers it after restart.
func (c *Consumer) Run(ctx context.Context) error {
	defer c.reader.Close()
	log := logger.L().With(zap.String("layer", "consumer"))

	for {
		msg, err := c.reader.FetchMessage(ctx)
		if err != nil {
			if errors.Is(err, context.Canceled) || ctx.Err() != nil {
				return nil
			}
			return err
		}

		if err := c.handle(ctx, msg); err != nil {
			log.Error("catalog deletion not applied",
				zap.Int("partition", msg.Partition),
				zap.Int64("offset", msg.Offset),
				zap.Error(err),
			)
			return err
		}
		if err := c.reader.CommitMessages(ctx, msg); err != nil {
			log.Error("commit failed", zap.Int64("offset", msg.Offset), zap.Error(err))
		}
	}
}

func (c *Consumer) handle(ctx context.Context, msg kafka.Message) error {
	msgCtx, span := c.tracer.Start(extractHeaders(ctx, msg.Headers), "ConsumeCatalogDeletion")
	defer span.End()
	log := logger.FromCtx(msgCtx).With(zap.String("layer", "consumer"))

	var event CatalogDeletion
	if err := json.Unmarshal(msg.Value, &event); err != nil || event.ID <= 0 {
		log.Warn("skipping malformed catalog deletion",
			zap.ByteString("value", msg.Value),
			zap.Error(err),
		)
		return nil
	}
	span.SetAttributes(attribute.String("type", event.Type), attribute.Int64("id", event.ID))

	var purge func(context.Context, int64) (int64, error)
	switch event.Type {
	case DeletedProduct:
		purge = c.purger.PurgeForDeletedProduct
	case DeletedSize:
		purge = c.purger.PurgeForDeletedSize
	case DeletedBrand:
		purge = c.purger.PurgeForDeletedBrand
	default:
		log.Warn("skipping unknown catalog deletion type", zap.String("type", event.Type))
		return nil
	}

	n, err := purge(msgCtx, event.ID)
	if err != nil {
		span.RecordError(err)
		return fmt.Errorf("purge %s %d: %w", event.Type, event.ID, err)
	}
	log.Info("catalog deletion applied",
		zap.String("type", event.Type),
		zap.Int64("id", event.ID),
		zap.Int64("orders_deleted", n),
	)
	return nil
}
