package payment

import (
	"context"
	"database/sql"
	"encoding/hex"
	"errors"

	"golang.org/x/crypto/blake2b"
)

type Repository interface {
	SavePaymentWebhook(ctx context.Context, event WebhookEvent) (webhookID int64, isDuplicate bool, err error)
	MarkWebhookProcessed(ctx context.Context, webhookID int64, outcome string) error
	MarkWebhookFailed(ctx context.Context, webhookID int64, reason string) error
}

type repository struct {
	db *sql.DB
}

func NewRepository(db *sql.DB) Repository {
	return &repository{db: db}
}

// EventFingerprint identifies a notification body. BitPay retries deliver the
// same body, so the fingerprint doubles as the dedupe key.
func EventFingerprint(raw []byte) string {
	sum := blake2b.Sum256(raw)
	return hex.EncodeToString(sum[:])
}

// SavePaymentWebhook records a delivery. isDuplicate is true only when the
// same body was already processed to completion.
func (r *repository) SavePaymentWebhook(ctx context.Context, event WebhookEvent) (int64, bool, error) {
	const q = `
	INSERT INTO payment_webhooks (
		provider,
		event_id,
		event_type,
		reference,
		invoice_id,
		payload
	)
	VALUES ($1, $2, $3, $4, $5, $6)
	ON CONFLICT (provider, event_id)
	DO UPDATE SET process_error = NULL
	WHERE payment_webhooks.processed_at IS NULL
	RETURNING id;
	`

	var id int64
	err := r.db.QueryRowContext(
		ctx,
		q,
		event.Provider,
		event.EventID,
		event.EventType,
		event.Reference,
		event.InvoiceID,
		[]byte(event.Payload),
	).Scan(&id)

	if err != nil {
		// The earlier delivery was processed; a delivery that failed
		// midway gets its row back and is applied again.
		if errors.Is(err, sql.ErrNoRows) {
			return 0, true, nil
		}
		return 0, false, err
	}

	return id, false, nil
}

func (r *repository) MarkWebhookProcessed(ctx context.Context, webhookID int64, outcome string) error {
	const q = `
	UPDATE payment_webhooks
	SET processed_at = now(), outcome = $2
	WHERE id = $1;
	`

	_, err := r.db.ExecContext(ctx, q, webhookID, outcome)
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
