package payment

import (
	"bytes"
	"context"
	"crypto/tls"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"

	"github.com/arubinofaux/woocommerce-bitpay/internal/config"
	"github.com/arubinofaux/woocommerce-bitpay/internal/logger"
	"github.com/arubinofaux/woocommerce-bitpay/internal/metrics"

	"go.uber.org/zap"
)

const maxResponseBytes = 1 << 20

type bitpayGateway struct {
	cfg        config.Gateway
	signer     Signer
	verifier   *Verifier
	httpClient *http.Client
	hook       RequestHook
}

type Option func(*bitpayGateway)

// WithRequestHook installs a function applied to every invoice request right
// before it is sent.
func WithRequestHook(hook RequestHook) Option {
	return func(g *bitpayGateway) { g.hook = hook }
}

func WithHTTPClient(c *http.Client) Option {
	return func(g *bitpayGateway) { g.httpClient = c }
}

func WithSigner(s Signer) Option {
	return func(g *bitpayGateway) { g.signer = s }
}

// ----------------- Constructor -----------------

func NewBitPayGateway(cfg config.Gateway, opts ...Option) Gateway {
	if cfg.Validate() != nil {
		logger.L().Warn("BitPay API key is empty, gateway disabled")
	}

	g := &bitpayGateway{
		cfg:    cfg,
		signer: HMACSigner{},
		httpClient: &http.Client{
			Timeout: cfg.Timeout,
			Transport: &http.Transport{
				Proxy:           http.ProxyFromEnvironment,
				TLSClientConfig: &tls.Config{MinVersion: tls.VersionTLS12},
			},
		},
	}
	for _, opt := range opts {
		opt(g)
	}
	g.verifier = NewVerifier(cfg.APIKey, g.signer)
	return g
}

// BuildInvoiceRequest assembles the invoice body for an order. It has no side
// effects; the notification URL is only advertised over secure transport.
func BuildInvoiceRequest(cfg config.Gateway, signer Signer, order OrderInfo, rc RequestContext) (InvoiceRequest, error) {
	reference := Reference(cfg.InvoicePrefix, order.ID)

	posData, err := json.Marshal(PosData{
		Reference: reference,
		Hash:      signer.Sign(reference, cfg.APIKey),
	})
	if err != nil {
		return InvoiceRequest{}, err
	}

	req := InvoiceRequest{
		Price:       order.Total,
		Currency:    order.Currency,
		PosData:     string(posData),
		OrderID:     strconv.FormatInt(order.ID, 10),
		RedirectURL: rc.ReturnURL,
	}

	if rc.Secure && rc.NotificationURL != "" {
		req.NotificationURL = forceHTTPS(rc.NotificationURL)
	}
	if cfg.NotificationEmail != "" {
		req.NotificationEmail = cfg.NotificationEmail
	}

	return req, nil
}

func forceHTTPS(u string) string {
	if strings.HasPrefix(u, "http:") {
		return "https:" + strings.TrimPrefix(u, "http:")
	}
	return u
}

// ----------------- CreateInvoice -----------------

func (b *bitpayGateway) CreateInvoice(ctx context.Context, order OrderInfo, rc RequestContext) (*InvoiceResponse, error) {
	log := logger.FromCtx(ctx).With(
		zap.Int64("order_id", order.ID),
		zap.String("amount", order.Total.String()),
		zap.String("currency", order.Currency),
	)

	if !b.cfg.Enabled {
		log.Warn("BitPay gateway disabled, refusing to create invoice")
		return nil, ErrGatewayDisabled
	}
	if err := b.cfg.Validate(); err != nil {
		log.Warn("BitPay gateway not configured, refusing to create invoice")
		return nil, fmt.Errorf("%w: %v", ErrConfigInvalid, err)
	}
	if !b.cfg.IsEligible(order.Currency) {
		return nil, fmt.Errorf("%w: %s", ErrCurrencyUnsupported, order.Currency)
	}
	if !order.Total.IsPositive() {
		return nil, ErrInvalidAmount
	}

	invoiceReq, err := BuildInvoiceRequest(b.cfg, b.signer, order, rc)
	if err != nil {
		log.Error("Failed to build invoice request", zap.Error(err))
		return nil, err
	}
	if b.hook != nil {
		invoiceReq = b.hook(invoiceReq)
	}

	jsonBody, err := json.Marshal(invoiceReq)
	if err != nil {
		log.Error("Failed to marshal invoice request", zap.Error(err))
		return nil, err
	}

	if b.cfg.Debug {
		log.Info("Payment arguments for order", zap.ByteString("request", jsonBody))
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, b.cfg.InvoiceURL, bytes.NewReader(jsonBody))
	if err != nil {
		log.Error("Failed creating request", zap.Error(err))
		return nil, err
	}

	req.Header.Set("Authorization", "Basic "+base64.StdEncoding.EncodeToString([]byte(b.cfg.APIKey)))
	req.Header.Set("Content-Type", "application/json")

	log.Info("Sending invoice request to BitPay")

	timer := metrics.StartTimer()
	resp, err := b.httpClient.Do(req)
	if err != nil {
		log.Error("BitPay request failed", zap.Error(err), zap.Duration("duration", timer.Duration()))
		return nil, fmt.Errorf("%w: %v", ErrProviderUnavailable, err)
	}
	defer resp.Body.Close()

	bodyBytes, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		log.Error("Failed to read response body", zap.Error(err))
		return nil, fmt.Errorf("%w: failed to read bitpay response: %v", ErrProviderUnavailable, err)
	}

	metrics.Default.ObserveInvoiceRequest(timer.Duration())
	log = log.With(zap.Duration("duration", timer.Duration()))
	if b.cfg.Debug {
		log.Info("BitPay server response", zap.Int("status", resp.StatusCode), zap.ByteString("response", bodyBytes))
	}

	if resp.StatusCode != http.StatusOK {
		log.Error("BitPay returned non-success status",
			zap.Int("status", resp.StatusCode),
			zap.ByteString("response", bodyBytes),
		)
		return nil, fmt.Errorf("%w: status %d", ErrProviderUnavailable, resp.StatusCode)
	}

	var res InvoiceResponse
	if err := json.Unmarshal(bodyBytes, &res); err != nil {
		log.Error("Failed decoding BitPay response", zap.Error(err))
		return nil, fmt.Errorf("%w: %v", ErrInvalidResponse, err)
	}
	if res.ID == "" || res.URL == "" {
		log.Error("BitPay response is missing invoice id or url", zap.ByteString("response", bodyBytes))
		return nil, fmt.Errorf("%w: missing id or url", ErrInvalidResponse)
	}

	log.Info("BitPay invoice created",
		zap.String("invoice_id", res.ID),
		zap.String("btc_price", res.BTCPrice.String()),
	)

	return &res, nil
}

// ----------------- Verify Notification -----------------

func (b *bitpayGateway) VerifyNotification(raw []byte) (*VerifiedNotification, error) {
	return b.verifier.Verify(raw)
}
