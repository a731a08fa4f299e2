package events

import (
	"context"

	"github.com/segmentio/kafka-go"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/propagation"
)

const sourceService = "order-service"

// Catalog deletion kinds published by the catalog service.
const (
	DeletedProduct = "product"
	DeletedSize    = "size"
	DeletedBrand   = "brand"
)

// CatalogDeletion announces that a catalog entity no longer exists.
type CatalogDeletion struct {
	Type string `json:"type"`
	ID   int64  `json:"id"`
}

func injectHeaders(ctx context.Context, headers []kafka.Header) []kafka.Header {
	carrier := propagation.MapCarrier{}
	otel.GetTextMapPropagator().Inject(ctx, carrier)

	for k, v := range carrier {
		headers = append(headers, kafka.Header{Key: k, Value: []byte(v)})
	}
	return headers
}

func extractHeaders(ctx context.Context, headers []kafka.Header) context.Context {
	carrier := propagation.MapCarrier{}
	for _, h := range headers {
		carrier[h.Key] = string(h.Value)
	}
	return otel.GetTextMapPropagator().Extract(ctx, carrier)
}
