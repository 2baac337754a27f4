package checkout

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/arubinofaux/woocommerce-bitpay/internal/logger"
	"github.com/arubinofaux/woocommerce-bitpay/internal/order"
	"github.com/arubinofaux/woocommerce-bitpay/internal/payment"
	"github.com/arubinofaux/woocommerce-bitpay/internal/utils"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"
)

type Handler struct {
	OrderSvc   order.Service
	TrustProxy bool
}

func NewHandler(orderSvc order.Service, trustProxy bool) *Handler {
	return &Handler{OrderSvc: orderSvc, TrustProxy: trustProxy}
}

type beginPaymentRequest struct {
	ReturnURL string `json:"returnURL"`
	CancelURL string `json:"cancelURL"`
}

type beginPaymentError struct {
	Error    string `json:"error"`
	RetryURL string `json:"retryURL,omitempty"`
}

// BeginPayment handles POST /orders/{id}/payment.
func (h *Handler) BeginPayment(w http.ResponseWriter, r *http.Request) {
	orderID, err := utils.ParseID(chi.URLParam(r, "id"))
	if err != nil {
		utils.WriteJSONError(w, err.Error(), http.StatusBadRequest)
		return
	}

	var body beginPaymentRequest
	if err := json.NewDecoder(io.LimitReader(r.Body, 16<<10)).Decode(&body); err != nil && !errors.Is(err, io.EOF) {
		utils.WriteJSONError(w, "invalid request body", http.StatusBadRequest)
		return
	}

	base := utils.RequestBaseURL(r, h.TrustProxy)
	pc := order.PaymentContext{
		ReturnURL: strings.TrimSpace(body.ReturnURL),
		CancelURL: strings.TrimSpace(body.CancelURL),
		Secure:    utils.IsSecureRequest(r, h.TrustProxy),
	}
	if pc.ReturnURL == "" {
		pc.ReturnURL = fmt.Sprintf("%s/checkout/order-received/%d", base, orderID)
	}
	if pc.CancelURL == "" {
		pc.CancelURL = fmt.Sprintf("%s/cart?cancel_order=%d", base, orderID)
	}

	target, err := h.OrderSvc.BeginPayment(r.Context(), orderID, pc)
	if err != nil {
		code, msg := beginPaymentStatus(err)
		logger.FromCtx(r.Context()).Warn("begin payment failed",
			zap.Int64("order_id", orderID),
			zap.Int("status", code),
			zap.Error(err),
		)
		resp := beginPaymentError{Error: msg}
		if code == http.StatusBadGateway {
			resp.RetryURL = pc.CancelURL
		}
		utils.WriteJSON(w, code, resp)
		return
	}

	utils.WriteJSON(w, http.StatusOK, target)
}

func beginPaymentStatus(err error) (int, string) {
	switch {
	case errors.Is(err, payment.ErrConfigInvalid), errors.Is(err, payment.ErrGatewayDisabled):
		return http.StatusServiceUnavailable, "payment gateway unavailable"
	case errors.Is(err, payment.ErrCurrencyUnsupported):
		return http.StatusUnprocessableEntity, "currency not supported by BitPay"
	case errors.Is(err, payment.ErrInvalidAmount):
		return http.StatusUnprocessableEntity, "order total must be positive"
	case errors.Is(err, order.ErrOrderNotFound):
		return http.StatusNotFound, "order not found"
	case errors.Is(err, order.ErrOrderNotPayable):
		return http.StatusConflict, "order is not awaiting payment"
	case errors.Is(err, payment.ErrProviderUnavailable), errors.Is(err, payment.ErrInvalidResponse):
		return http.StatusBadGateway, "could not create BitPay invoice, please try again"
	default:
		return http.StatusInternalServerError, "internal error"
	}
}

type checkoutURLResponse struct {
	OrderID     int64  `json:"orderID"`
	CheckoutURL string `json:"checkoutURL"`
}

// CheckoutURL handles GET /orders/{id}/checkout-url?payPage=URL. The pay page
// defaults to {base}/checkout/pay/.
func (h *Handler) CheckoutURL(w http.ResponseWriter, r *http.Request) {
	orderID, err := utils.ParseID(chi.URLParam(r, "id"))
	if err != nil {
		utils.WriteJSONError(w, err.Error(), http.StatusBadRequest)
		return
	}

	payPage := strings.TrimSpace(r.URL.Query().Get("payPage"))
	if payPage == "" {
		payPage = utils.RequestBaseURL(r, h.TrustProxy) + "/checkout/pay/"
	}

	link, err := h.OrderSvc.CheckoutURL(r.Context(), orderID, payPage)
	switch {
	case errors.Is(err, order.ErrInvalidPayPage):
		utils.WriteJSONError(w, "invalid pay page url", http.StatusBadRequest)
		return
	case errors.Is(err, order.ErrOrderNotFound):
		utils.WriteJSONError(w, "order not found", http.StatusNotFound)
		return
	case err != nil:
		logger.FromCtx(r.Context()).Error("checkout url failed", zap.Int64("order_id", orderID), zap.Error(err))
		utils.WriteJSONError(w, "internal error", http.StatusInternalServerError)
		return
	}

	utils.WriteJSON(w, http.StatusOK, checkoutURLResponse{OrderID: orderID, CheckoutURL: link})
}

// GatewayInfo handles GET /gateway?currency=XXX.
func (h *Handler) GatewayInfo(w http.ResponseWriter, r *http.Request) {
	currency := strings.ToUpper(strings.TrimSpace(r.URL.Query().Get("currency")))
	utils.WriteJSON(w, http.StatusOK, h.OrderSvc.GatewayInfo(currency))
}

// Routes mounts the host API on r.
func (h *Handler) Routes(r chi.Router) {
	r.Post("/orders/{id}/payment", h.BeginPayment)
	r.Get("/orders/{id}/checkout-url", h.CheckoutURL)
	r.Get("/gateway", h.GatewayInfo)
}
