package order

import (
	"time"

	"github.com/shopspring/decimal"
)

type OrderStatus string

const (
	StatusPending    OrderStatus = "pending"
	StatusProcessing OrderStatus = "processing"
	StatusCompleted  OrderStatus = "completed"
	StatusCancelled  OrderStatus = "cancelled"
)

// Metadata keys written onto host orders.
const (
	MetaInvoiceID = "BitPay ID"
	MetaBTCPrice  = "BTC Price"
	MetaFinalized = "BitPay Finalized"
)

type Order struct {
	ID       int64
	Key      string
	Total    decimal.Decimal
	Currency string
	Status   OrderStatus
	// NeedsProcessing is the host's answer to "does a paid order still need
	// fulfilment": paid orders move to processing when true, completed otherwise.
	NeedsProcessing bool
	Metadata        map[string]string
	CreatedAt       time.Time
	UpdatedAt       time.Time
}

// PaymentContext is what the host knows about the checkout request.
type PaymentContext struct {
	ReturnURL string
	CancelURL string
	Secure    bool
}

// RedirectTarget is everything the host needs to send the buyer to BitPay.
type RedirectTarget struct {
	OrderID    int64  `json:"orderID"`
	InvoiceID  string `json:"invoiceID"`
	BTCPrice   string `json:"btcPrice"`
	PaymentURL string `json:"paymentURL"`
	IframeURL  string `json:"iframeURL"`
	ReturnURL  string `json:"returnURL"`
	CancelURL  string `json:"cancelURL"`
}

type CallbackResult struct {
	OrderID int64       `json:"orderID,omitempty"`
	Action  Action      `json:"action"`
	Status  OrderStatus `json:"status,omitempty"`
	Result  string      `json:"result"`
}

const (
	ResultApplied   = "applied"
	ResultNoop      = "noop"
	ResultDiscarded = "discarded"
	ResultDuplicate = "duplicate"
)

type GatewayInfo struct {
	ID          string `json:"id"`
	Title       string `json:"title"`
	Description string `json:"description"`
	Available   bool   `json:"available"`
}
