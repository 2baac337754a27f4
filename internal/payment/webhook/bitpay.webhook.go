package webhook

import (
	"encoding/json"
	"errors"
	"io"
	"mime"
	"net/http"
	"net/url"

	"github.com/arubinofaux/woocommerce-bitpay/internal/logger"
	"github.com/arubinofaux/woocommerce-bitpay/internal/order"
	"github.com/arubinofaux/woocommerce-bitpay/internal/payment"
	"github.com/arubinofaux/woocommerce-bitpay/internal/utils"

	"go.uber.org/zap"
)

const maxBodyBytes = 64 << 10

type Handler struct {
	OrderSvc   order.Service
	TrustProxy bool
}

func NewWebhookHandler(orderSvc order.Service, trustProxy bool) *Handler {
	return &Handler{
		OrderSvc:   orderSvc,
		TrustProxy: trustProxy,
	}
}

// PaymentWebhookHandler receives BitPay IPN callbacks.
func (h *Handler) PaymentWebhookHandler(w http.ResponseWriter, r *http.Request) {
	log := logger.FromCtx(r.Context()).With(zap.String("handler", "bitpay_webhook"))

	if !utils.IsSecureRequest(r, h.TrustProxy) {
		log.Warn("ignoring notification over plain transport", zap.String("ip", r.RemoteAddr))
		http.NotFound(w, r)
		return
	}

	raw, err := readPayload(w, r)
	if err != nil {
		log.Warn("unreadable notification body", zap.Error(err))
		utils.WriteJSONError(w, "invalid payload", http.StatusBadRequest)
		return
	}

	res, err := h.OrderSvc.HandleCallback(r.Context(), raw)
	if err != nil {
		switch {
		case errors.Is(err, payment.ErrMalformedPayload):
			utils.WriteJSONError(w, "invalid payload", http.StatusBadRequest)
		case errors.Is(err, payment.ErrAuthenticationFailed):
			utils.WriteJSONError(w, "authentication failed", http.StatusUnauthorized)
		case errors.Is(err, payment.ErrConfigInvalid):
			utils.WriteJSONError(w, "gateway not configured", http.StatusServiceUnavailable)
		default:
			utils.WriteJSONError(w, "failed to process notification", http.StatusInternalServerError)
		}
		return
	}

	log.Debug("notification handled",
		zap.Int64("order_id", res.OrderID),
		zap.String("result", res.Result),
	)
	w.WriteHeader(http.StatusOK)
}

// readPayload returns the notification as JSON. Form posts are folded into a
// JSON object with one string value per field.
func readPayload(w http.ResponseWriter, r *http.Request) ([]byte, error) {
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	if err != nil {
		return nil, err
	}
	defer r.Body.Close()

	mediaType, _, _ := mime.ParseMediaType(r.Header.Get("Content-Type"))
	if mediaType != "application/x-www-form-urlencoded" {
		return body, nil
	}

	values, err := url.ParseQuery(string(body))
	if err != nil {
		return nil, err
	}
	fields := make(map[string]string, len(values))
	for k := range values {
		fields[k] = values.Get(k)
	}
	return json.Marshal(fields)
}
