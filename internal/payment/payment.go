// internal/payment/payment.go
package payment

import (
	"context"
)

type Gateway interface {
	CreateInvoice(ctx context.Context, order OrderInfo, rc RequestContext) (*InvoiceResponse, error)
	VerifyNotification(raw []byte) (*VerifiedNotification, error)
}
