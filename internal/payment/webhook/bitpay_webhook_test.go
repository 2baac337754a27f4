package webhook

import (
	"bytes"
	"context"
	"crypto/tls"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"

	"github.com/arubinofaux/woocommerce-bitpay/internal/order"
	"github.com/arubinofaux/woocommerce-bitpay/internal/payment"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
)

type MockOrderService struct {
	mock.Mock
}

func (m *MockOrderService) BeginPayment(ctx context.Context, orderID int64, pc order.PaymentContext) (*order.RedirectTarget, error) {
	args := m.Called(ctx, orderID, pc)
	t, _ := args.Get(0).(*order.RedirectTarget)
	return t, args.Error(1)
}

func (m *MockOrderService) HandleCallback(ctx context.Context, raw []byte) (*order.CallbackResult, error) {
	args := m.Called(ctx, raw)
	res, _ := args.Get(0).(*order.CallbackResult)
	return res, args.Error(1)
}

func (m *MockOrderService) CheckoutURL(ctx context.Context, orderID int64, payPageURL string) (string, error) {
	args := m.Called(ctx, orderID, payPageURL)
	return args.String(0), args.Error(1)
}

func (m *MockOrderService) GatewayInfo(currency string) order.GatewayInfo {
	return m.Called(currency).Get(0).(order.GatewayInfo)
}

const ipn = `{"id":"inv-1","status":"confirmed","posData":"{\"posData\":\"WC-42\",\"hash\":\"abc\"}"}`

func secureRequest(body string) *http.Request {
	req := httptest.NewRequest(http.MethodPost, "/webhook/bitpay", bytes.NewBufferString(body))
	req.Header.Set("Content-Type", "application/json")
	req.TLS = &tls.ConnectionState{}
	return req
}

func TestHandler_PaymentWebhookHandler(t *testing.T) {
	t.Run("Success", func(t *testing.T) {
		svc := new(MockOrderService)
		h := NewWebhookHandler(svc, false)

		svc.On("HandleCallback", mock.Anything, []byte(ipn)).
			Return(&order.CallbackResult{OrderID: 42, Action: order.ActionComplete, Result: order.ResultApplied}, nil)

		w := httptest.NewRecorder()
		h.PaymentWebhookHandler(w, secureRequest(ipn))

		assert.Equal(t, http.StatusOK, w.Code)
		assert.Empty(t, w.Body.String())
		svc.AssertExpectations(t)
	})

	t.Run("PlainTransportIgnored", func(t *testing.T) {
		svc := new(MockOrderService)
		h := NewWebhookHandler(svc, false)

		req := httptest.NewRequest(http.MethodPost, "/webhook/bitpay", bytes.NewBufferString(ipn))
		w := httptest.NewRecorder()
		h.PaymentWebhookHandler(w, req)

		assert.Equal(t, http.StatusNotFound, w.Code)
		svc.AssertNotCalled(t, "HandleCallback", mock.Anything, mock.Anything)
	})

	t.Run("ForwardedProtoWithoutTrust", func(t *testing.T) {
		svc := new(MockOrderService)
		h := NewWebhookHandler(svc, false)

		req := httptest.NewRequest(http.MethodPost, "/webhook/bitpay", bytes.NewBufferString(ipn))
		req.Header.Set("X-Forwarded-Proto", "https")
		w := httptest.NewRecorder()
		h.PaymentWebhookHandler(w, req)

		assert.Equal(t, http.StatusNotFound, w.Code)
		svc.AssertNotCalled(t, "HandleCallback", mock.Anything, mock.Anything)
	})

	t.Run("TrustedProxy", func(t *testing.T) {
		svc := new(MockOrderService)
		h := NewWebhookHandler(svc, true)
		svc.On("HandleCallback", mock.Anything, []byte(ipn)).
			Return(&order.CallbackResult{Result: order.ResultNoop}, nil)

		req := httptest.NewRequest(http.MethodPost, "/webhook/bitpay", bytes.NewBufferString(ipn))
		req.Header.Set("X-Forwarded-Proto", "https")
		w := httptest.NewRecorder()
		h.PaymentWebhookHandler(w, req)

		assert.Equal(t, http.StatusOK, w.Code)
	})

	t.Run("FormBody", func(t *testing.T) {
		svc := new(MockOrderService)
		h := NewWebhookHandler(svc, false)

		blob := `{"posData":"WC-42","hash":"abc"}`
		form := url.Values{"posData": {blob}, "status": {"expired"}}

		svc.On("HandleCallback", mock.Anything, mock.MatchedBy(func(raw []byte) bool {
			var got map[string]string
			if err := json.Unmarshal(raw, &got); err != nil {
				return false
			}
			return got["posData"] == blob && got["status"] == "expired"
		})).Return(&order.CallbackResult{Result: order.ResultApplied}, nil)

		req := secureRequest(form.Encode())
		req.Header.Set("Content-Type", "application/x-www-form-urlencoded; charset=UTF-8")
		w := httptest.NewRecorder()
		h.PaymentWebhookHandler(w, req)

		assert.Equal(t, http.StatusOK, w.Code)
		svc.AssertExpectations(t)
	})

	t.Run("BodyTooLarge", func(t *testing.T) {
		svc := new(MockOrderService)
		h := NewWebhookHandler(svc, false)

		w := httptest.NewRecorder()
		h.PaymentWebhookHandler(w, secureRequest(strings.Repeat("x", maxBodyBytes+1)))

		assert.Equal(t, http.StatusBadRequest, w.Code)
		svc.AssertNotCalled(t, "HandleCallback", mock.Anything, mock.Anything)
	})

	errorCases := []struct {
		name string
		err  error
		code int
	}{
		{"Malformed", payment.ErrMalformedPayload, http.StatusBadRequest},
		{"AuthenticationFailed", payment.ErrAuthenticationFailed, http.StatusUnauthorized},
		{"NotConfigured", payment.ErrConfigInvalid, http.StatusServiceUnavailable},
		{"StoreFailure", errors.New("db down"), http.StatusInternalServerError},
	}
	for _, tc := range errorCases {
		t.Run(tc.name, func(t *testing.T) {
			svc := new(MockOrderService)
			h := NewWebhookHandler(svc, false)
			svc.On("HandleCallback", mock.Anything, mock.Anything).Return(nil, tc.err)

			w := httptest.NewRecorder()
			h.PaymentWebhookHandler(w, secureRequest(ipn))

			assert.Equal(t, tc.code, w.Code)
		})
	}
}
