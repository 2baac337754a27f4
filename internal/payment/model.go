package payment

import (
	"encoding/json"
	"strconv"
	"strings"

	"github.com/shopspring/decimal"
)

const ProviderBitPay = "BITPAY"

// OrderInfo is the slice of a host order needed to price an invoice.
type OrderInfo struct {
	ID       int64
	Total    decimal.Decimal
	Currency string
}

// RequestContext carries the per-checkout URLs supplied by the host.
type RequestContext struct {
	ReturnURL       string
	NotificationURL string
	Secure          bool
}

// InvoiceRequest is the body posted to BitPay's invoice endpoint.
type InvoiceRequest struct {
	Price             decimal.Decimal
	Currency          string
	PosData           string
	OrderID           string
	RedirectURL       string
	NotificationURL   string
	NotificationEmail string
}

// RequestHook lets the host adjust an outgoing invoice request.
type RequestHook func(InvoiceRequest) InvoiceRequest

func (r InvoiceRequest) MarshalJSON() ([]byte, error) {
	return json.Marshal(struct {
		Price             json.Number `json:"price"`
		Currency          string      `json:"currency"`
		PosData           string      `json:"posData"`
		OrderID           string      `json:"orderID"`
		RedirectURL       string      `json:"redirectURL"`
		NotificationURL   string      `json:"notificationURL,omitempty"`
		NotificationEmail string      `json:"notificationEmail,omitempty"`
	}{
		Price:             json.Number(r.Price.String()),
		Currency:          r.Currency,
		PosData:           r.PosData,
		OrderID:           r.OrderID,
		RedirectURL:       r.RedirectURL,
		NotificationURL:   r.NotificationURL,
		NotificationEmail: r.NotificationEmail,
	})
}

// PosData is the correlation blob echoed back by BitPay in every notification.
type PosData struct {
	Reference string `json:"posData"`
	Hash      string `json:"hash"`
}

type InvoiceResponse struct {
	ID       string          `json:"id"`
	URL      string          `json:"url"`
	Status   string          `json:"status,omitempty"`
	BTCPrice decimal.Decimal `json:"btcPrice"`
	Price    decimal.Decimal `json:"price"`
	Currency string          `json:"currency,omitempty"`
}

// IframeURL is the hosted invoice page in embeddable mode.
func (r *InvoiceResponse) IframeURL() string {
	sep := "&"
	if !strings.Contains(r.URL, "?") {
		sep = "?"
	}
	return r.URL + sep + "view=iframe"
}

// VerifiedNotification is an IPN whose correlation blob has been authenticated.
type VerifiedNotification struct {
	Reference string
	Status    string
	InvoiceID string
	Fields    map[string]any
}

// Invoice statuses reported by BitPay notifications.
const (
	StatusNew       = "new"
	StatusPaid      = "paid"
	StatusConfirmed = "confirmed"
	StatusComplete  = "complete"
	StatusExpired   = "expired"
	StatusInvalid   = "invalid"
)

// Reference is the externally visible order reference, prefix + order id.
func Reference(prefix string, orderID int64) string {
	return prefix + strconv.FormatInt(orderID, 10)
}

// ParseReference recovers the order id from a reference built with prefix.
// Only the exact form Reference produces is accepted.
func ParseReference(prefix, reference string) (int64, bool) {
	if !strings.HasPrefix(reference, prefix) {
		return 0, false
	}
	id, err := strconv.ParseInt(strings.TrimPrefix(reference, prefix), 10, 64)
	if err != nil || id <= 0 || Reference(prefix, id) != reference {
		return 0, false
	}
	return id, true
}

// WebhookEvent is the audit row written for every authenticated notification.
type WebhookEvent struct {
	Provider  string
	EventID   string
	EventType string
	Reference string
	InvoiceID string
	Payload   json.RawMessage
}
