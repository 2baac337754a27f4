package payment

import (
	"context"
	"database/sql"
	"errors"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRepository_SavePaymentWebhook(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	repo := NewRepository(db)
	ctx := context.Background()

	payload := []byte(`{"id":"inv-1","status":"confirmed"}`)
	event := WebhookEvent{
		Provider:  ProviderBitPay,
		EventID:   EventFingerprint(payload),
		EventType: "confirmed",
		Reference: "WC-42",
		InvoiceID: "inv-1",
		Payload:   payload,
	}

	t.Run("Success", func(t *testing.T) {
		mock.ExpectQuery(`INSERT INTO payment_webhooks`).
			WithArgs(ProviderBitPay, event.EventID, "confirmed", "WC-42", "inv-1", payload).
			WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow(10))

		id, isDup, err := repo.SavePaymentWebhook(ctx, event)
		assert.NoError(t, err)
		assert.False(t, isDup)
		assert.Equal(t, int64(10), id)
	})

	t.Run("RetryAfterFailureReclaimsRow", func(t *testing.T) {
		mock.ExpectQuery(`ON CONFLICT \(provider, event_id\)\s+DO UPDATE SET process_error = NULL\s+WHERE payment_webhooks.processed_at IS NULL\s+RETURNING id`).
			WithArgs(ProviderBitPay, event.EventID, "confirmed", "WC-42", "inv-1", payload).
			WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow(10))

		id, isDup, err := repo.SavePaymentWebhook(ctx, event)
		assert.NoError(t, err)
		assert.False(t, isDup)
		assert.Equal(t, int64(10), id)
	})

	t.Run("Duplicate", func(t *testing.T) {
		// already processed: the conflict update is skipped and no row returns
		mock.ExpectQuery(`INSERT INTO payment_webhooks`).
			WithArgs(ProviderBitPay, event.EventID, "confirmed", "WC-42", "inv-1", payload).
			WillReturnError(sql.ErrNoRows)

		id, isDup, err := repo.SavePaymentWebhook(ctx, event)
		assert.NoError(t, err)
		assert.True(t, isDup)
		assert.Equal(t, int64(0), id)
	})

	t.Run("DBError", func(t *testing.T) {
		mock.ExpectQuery(`INSERT INTO payment_webhooks`).
			WillReturnError(errors.New("connection reset"))

		_, isDup, err := repo.SavePaymentWebhook(ctx, event)
		assert.Error(t, err)
		assert.False(t, isDup)
	})

	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestRepository_MarkWebhook(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	repo := NewRepository(db)
	ctx := context.Background()

	t.Run("Processed", func(t *testing.T) {
		mock.ExpectExec(`UPDATE payment_webhooks\s+SET processed_at = now\(\), outcome = \$2`).
			WithArgs(int64(5), "applied").
			WillReturnResult(sqlmock.NewResult(0, 1))

		assert.NoError(t, repo.MarkWebhookProcessed(ctx, 5, "applied"))
	})

	t.Run("Failed", func(t *testing.T) {
		mock.ExpectExec(`UPDATE payment_webhooks\s+SET process_error = \$2`).
			WithArgs(int64(5), "store unavailable").
			WillReturnResult(sqlmock.NewResult(0, 1))

		assert.NoError(t, repo.MarkWebhookFailed(ctx, 5, "store unavailable"))
	})

	t.Run("FailedDBError", func(t *testing.T) {
		mock.ExpectExec(`UPDATE payment_webhooks`).
			WillReturnError(errors.New("db error"))

		assert.Error(t, repo.MarkWebhookFailed(ctx, 6, "x"))
	})

	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestEventFingerprint(t *testing.T) {
	a := EventFingerprint([]byte(`{"status":"confirmed"}`))
	b := EventFingerprint([]byte(`{"status":"confirmed"}`))
	c := EventFingerprint([]byte(`{"status":"expired"}`))

	assert.Equal(t, a, b)
	assert.NotEqual(t, a, c)
	assert.Len(t, a, 64)
}
