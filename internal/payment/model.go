package payment

import (
	"encoding/json"
	"time"
)

const ProviderStripe = "STRIPE"

// WebhookDelivery is one row of the payment_webhooks audit log.
type WebhookDelivery struct {
	ID           int64
	Provider     string
	EventID      string
	EventType    string
	Payload      json.RawMessage
	Attempts     int
	ProcessedAt  *time.Time
	ProcessError *string
	CreatedAt    time.Time
}
