package webhook

import (
	"context"
	"encoding/json"
	"strings"

	"marketplace-be/internal/apperror"
	"marketplace-be/internal/logger"
	"marketplace-be/internal/metrics"
	"marketplace-be/internal/payment"

	"github.com/stripe/stripe-go/v78"
	"go.uber.org/zap"
)

type Service struct {
	verifier   Verifier
	deliveries payment.Repository
	dispatcher *Dispatcher
}

func NewService(verifier Verifier, deliveries payment.Repository, dispatcher *Dispatcher) *Service {
	return &Service{
		verifier:   verifier,
		deliveries: deliveries,
		dispatcher: dispatcher,
	}
}

// HandlePaymentWebhook verifies, logs and applies one provider delivery.
// A returned error leaves the order untouched so a redelivery starts clean.
func (s *Service) HandlePaymentWebhook(ctx context.Context, signature string, payload []byte) error {
	log := logger.FromCtx(ctx).With(
		zap.String("layer", "webhook"),
		zap.String("method", "HandlePaymentWebhook"),
	)

	event, err := s.verifier.Verify(payload, signature)
	if err != nil {
		log.Warn("webhook signature rejected", zap.Error(err))
		metrics.WebhookEvents.WithLabelValues("unknown", "rejected").Inc()
		return apperror.BadRequest("invalid signature")
	}

	eventType := string(event.Type)
	log = log.With(zap.String("event_id", event.ID), zap.String("event_type", eventType))

	if event.Data == nil || len(event.Data.Raw) == 0 {
		log.Warn("webhook event has no data object")
		metrics.WebhookEvents.WithLabelValues(eventType, "rejected").Inc()
		return apperror.BadRequest("event carries no data object")
	}

	webhookID, processed, err := s.deliveries.RecordWebhook(ctx, payment.ProviderStripe, event.ID, eventType, json.RawMessage(payload))
	if err != nil {
		log.Error("failed to record webhook", zap.Error(err))
		metrics.WebhookEvents.WithLabelValues(eventType, "failed").Inc()
		return apperror.Internal("failed to record webhook", err)
	}
	if processed {
		log.Info("webhook already processed")
		metrics.WebhookEvents.WithLabelValues(eventType, "duplicate").Inc()
		return nil
	}

	err = s.process(ctx, event)
	if err != nil {
		if markErr := s.deliveries.MarkWebhookFailed(ctx, webhookID, err.Error()); markErr != nil {
			log.Error("failed to mark webhook failed", zap.Error(markErr))
		}
		log.Error("webhook processing failed", zap.Error(err))
		metrics.WebhookEvents.WithLabelValues(eventType, "failed").Inc()
		return err
	}

	if err := s.deliveries.MarkWebhookProcessed(ctx, webhookID); err != nil {
		log.Error("failed to mark webhook processed", zap.Error(err))
	}
	log.Info("webhook processed")
	metrics.WebhookEvents.WithLabelValues(eventType, "processed").Inc()
	return nil
}

func (s *Service) process(ctx context.Context, event stripe.Event) error {
	eventType := string(event.Type)
	if !s.dispatcher.Supports(eventType) {
		return unsupported(eventType)
	}

	pe, err := parsePaymentEvent(event)
	if err != nil {
		return err
	}
	return s.dispatcher.Dispatch(ctx, pe)
}

// parsePaymentEvent reads the payment intent carried by the event. The
// correlation token travels in the intent description, with the metadata
// copy as fallback.
func parsePaymentEvent(event stripe.Event) (PaymentEvent, error) {
	var intent stripe.PaymentIntent
	if err := json.Unmarshal(event.Data.Raw, &intent); err != nil {
		return PaymentEvent{}, apperror.Internal("failed to parse payment intent", err)
	}

	token := strings.TrimSpace(intent.Description)
	if token == "" {
		token = strings.TrimSpace(intent.Metadata["payment_id"])
	}
	if token == "" || intent.ID == "" {
		return PaymentEvent{}, apperror.Internal("payment intent carries no correlation token", nil)
	}

	return PaymentEvent{
		ID:        event.ID,
		Type:      string(event.Type),
		PaymentID: token,
		IntentID:  intent.ID,
	}, nil
}
