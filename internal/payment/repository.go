package payment

import (
	"context"
	"database/sql"
	"encoding/json"

	"marketplace-be/internal/logger"

	"go.uber.org/zap"
)

// Repository persists the webhook delivery log. A redelivered event bumps the
// attempt counter; processing is skipped only once a delivery has succeeded.
type Repository interface {
	RecordWebhook(
		ctx context.Context,
		provider string,
		eventID string,
		eventType string,
		payload json.RawMessage,
	) (webhookID int64, alreadyProcessed bool, err error)
	MarkWebhookProcessed(ctx context.Context, webhookID int64) error
	MarkWebhookFailed(ctx context.Context, webhookID int64, reason string) error
}

type repository struct {
	db *sql.DB
}

func NewRepository(db *sql.DB) Repository {
	return &repository{db: db}
}

func (r *repository) RecordWebhook(
	ctx context.Context,
	provider string,
	eventID string,
	eventType string,
	payload json.RawMessage,
) (int64, bool, error) {
	const q = `
	INSERT INTO payment_webhooks (
		provider,
		event_id,
		event_type,
		payload
	)
	VALUES ($1, $2, $3, $4)
	ON CONFLICT (provider, event_id)
	DO UPDATE SET attempts = payment_webhooks.attempts + 1
	RETURNING id, processed_at IS NOT NULL;
	`

	var (
		id        int64
		processed bool
	)
	err := r.db.QueryRowContext(ctx, q, provider, eventID, eventType, []byte(payload)).Scan(&id, &processed)
	if err != nil {
		logger.FromCtx(ctx).Error("db: failed to record webhook",
			zap.String("event_id", eventID),
			zap.Error(err),
		)
		return 0, false, err
	}
	return id, processed, nil
}

func (r *repository) MarkWebhookProcessed(ctx context.Context, webhookID int64) error {
	const q = `
	UPDATE payment_webhooks
	SET processed_at = now(), process_error = NULL
	WHERE id = $1;
	`
	_, err := r.db.ExecContext(ctx, q, webhookID)
	return err
}

func (r *repository) MarkWebhookFailed(ctx context.Context, webhookID int64, reason string) error {
	const q = `
	UPDATE payment_webhooks
	SET process_error = $2
	WHERE id = $1;
	`
	_, err := r.db.ExecContext(ctx, q, webhookID, reason)
	return err
}
