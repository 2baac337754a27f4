package order

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strconv"

	"github.com/arubinofaux/woocommerce-bitpay/internal/config"
	"github.com/arubinofaux/woocommerce-bitpay/internal/logger"
	"github.com/arubinofaux/woocommerce-bitpay/internal/metrics"
	"github.com/arubinofaux/woocommerce-bitpay/internal/payment"

	"go.uber.org/zap"
)

const (
	gatewayID = "bitpay"

	// maxApplyAttempts bounds the reload-and-reapply loop when a concurrent
	// notification wins the compare-and-set.
	maxApplyAttempts = 3
)

var notificationOutcome = map[string]string{
	ResultApplied:   metrics.NotificationApplied,
	ResultNoop:      metrics.NotificationNoop,
	ResultDiscarded: metrics.NotificationDiscarded,
}

type Service interface {
	BeginPayment(ctx context.Context, orderID int64, pc PaymentContext) (*RedirectTarget, error)
	HandleCallback(ctx context.Context, raw []byte) (*CallbackResult, error)
	CheckoutURL(ctx context.Context, orderID int64, payPageURL string) (string, error)
	GatewayInfo(currency string) GatewayInfo
}

type service struct {
	repo        Repository
	paymentRepo payment.Repository
	paymentGate payment.Gateway
	cfg         config.Gateway
	metrics     *metrics.Gateway
}

func NewService(repo Repository, payRepo payment.Repository, payGate payment.Gateway, cfg config.Gateway) Service {
	return &service{
		repo:        repo,
		paymentRepo: payRepo,
		paymentGate: payGate,
		cfg:         cfg,
		metrics:     metrics.Default,
	}
}

func (s *service) GatewayInfo(currency string) GatewayInfo {
	return GatewayInfo{
		ID:          gatewayID,
		Title:       s.cfg.Title,
		Description: s.cfg.Description,
		Available:   s.cfg.Available(currency),
	}
}

// CheckoutURL is the pay page link the host redirects to after the buyer
// picks BitPay at checkout.
func (s *service) CheckoutURL(ctx context.Context, orderID int64, payPageURL string) (string, error) {
	u, err := url.Parse(payPageURL)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrInvalidPayPage, err)
	}
	if u.Scheme == "" || u.Host == "" {
		return "", fmt.Errorf("%w: %q", ErrInvalidPayPage, payPageURL)
	}
	o, err := s.repo.GetOrder(ctx, orderID)
	if err != nil {
		return "", err
	}
	q := u.Query()
	q.Set("order", strconv.FormatInt(o.ID, 10))
	q.Set("key", o.Key)
	u.RawQuery = q.Encode()
	return u.String(), nil
}

func (s *service) BeginPayment(ctx context.Context, orderID int64, pc PaymentContext) (*RedirectTarget, error) {
	log := logger.FromCtx(ctx).With(
		zap.String("layer", "service"),
		zap.String("method", "BeginPayment"),
		zap.Int64("order_id", orderID),
	)

	if !s.cfg.Enabled {
		log.Warn("gateway disabled")
		return nil, payment.ErrGatewayDisabled
	}
	if err := s.cfg.Validate(); err != nil {
		log.Warn("gateway not configured", zap.Error(err))
		return nil, fmt.Errorf("%w: %v", payment.ErrConfigInvalid, err)
	}

	o, err := s.repo.GetOrder(ctx, orderID)
	if err != nil {
		log.Warn("failed to load order", zap.Error(err))
		return nil, err
	}

	if !s.cfg.IsEligible(o.Currency) {
		log.Warn("currency not supported", zap.String("currency", o.Currency))
		return nil, fmt.Errorf("%w: %s", payment.ErrCurrencyUnsupported, o.Currency)
	}
	if o.Status != StatusPending {
		return nil, fmt.Errorf("%w: status %s", ErrOrderNotPayable, o.Status)
	}

	invoice, err := s.paymentGate.CreateInvoice(ctx, payment.OrderInfo{
		ID:       o.ID,
		Total:    o.Total,
		Currency: o.Currency,
	}, payment.RequestContext{
		ReturnURL:       pc.ReturnURL,
		NotificationURL: s.cfg.NotificationURL,
		Secure:          pc.Secure,
	})
	if err != nil {
		log.Error("failed to create invoice", zap.Error(err))
		s.metrics.Invoice(metrics.InvoiceFailed)
		return nil, err
	}

	err = s.repo.SetMeta(ctx, o.ID, map[string]string{
		MetaInvoiceID: invoice.ID,
		MetaBTCPrice:  invoice.BTCPrice.String(),
	})
	if err != nil {
		log.Error("failed to save invoice details", zap.Error(err))
		return nil, fmt.Errorf("failed to save invoice details: %w", err)
	}

	log.Info("payment link generated", zap.String("invoice_id", invoice.ID))
	s.metrics.Invoice(metrics.InvoiceCreated)

	return &RedirectTarget{
		OrderID:    o.ID,
		InvoiceID:  invoice.ID,
		BTCPrice:   invoice.BTCPrice.String(),
		PaymentURL: invoice.URL,
		IframeURL:  invoice.IframeURL(),
		ReturnURL:  pc.ReturnURL,
		CancelURL:  pc.CancelURL,
	}, nil
}

func (s *service) HandleCallback(ctx context.Context, raw []byte) (*CallbackResult, error) {
	log := logger.FromCtx(ctx).With(
		zap.String("layer", "service"),
		zap.String("method", "HandleCallback"),
	)

	n, err := s.paymentGate.VerifyNotification(raw)
	if err != nil {
		log.Warn("notification rejected", zap.Error(err))
		s.metrics.Notification(metrics.NotificationRejected)
		return nil, err
	}
	if s.cfg.Debug {
		log.Info("received valid posData from BitPay", zap.String("reference", n.Reference))
	}

	log = log.With(
		zap.String("reference", n.Reference),
		zap.String("status", n.Status),
		zap.String("invoice_id", n.InvoiceID),
	)

	webhookID, isDuplicate, err := s.paymentRepo.SavePaymentWebhook(ctx, payment.WebhookEvent{
		Provider:  payment.ProviderBitPay,
		EventID:   payment.EventFingerprint(raw),
		EventType: n.Status,
		Reference: n.Reference,
		InvoiceID: n.InvoiceID,
		Payload:   raw,
	})
	if err != nil {
		log.Error("failed to record notification", zap.Error(err))
		return nil, err
	}
	if isDuplicate {
		log.Info("duplicate notification ignored")
		s.metrics.Notification(metrics.NotificationDuplicate)
		return &CallbackResult{Action: ActionNone, Result: ResultDuplicate}, nil
	}

	result, err := s.apply(ctx, n)
	if err != nil {
		log.Error("failed to apply notification", zap.Error(err))
		s.metrics.Notification(metrics.NotificationFailed)
		if markErr := s.paymentRepo.MarkWebhookFailed(ctx, webhookID, err.Error()); markErr != nil {
			log.Error("failed to mark webhook failed", zap.Error(markErr))
		}
		return nil, err
	}

	if err := s.paymentRepo.MarkWebhookProcessed(ctx, webhookID, result.Result); err != nil {
		log.Error("failed to mark webhook processed", zap.Error(err))
	}

	s.metrics.Notification(notificationOutcome[result.Result])
	log.Info("notification processed",
		zap.Int64("order_id", result.OrderID),
		zap.String("action", string(result.Action)),
		zap.String("result", result.Result),
	)
	return result, nil
}

// apply loads the order, computes the transition and writes it, reloading
// when a concurrent notification changed the status in between.
func (s *service) apply(ctx context.Context, n *payment.VerifiedNotification) (*CallbackResult, error) {
	orderID, ok := payment.ParseReference(s.cfg.InvoicePrefix, n.Reference)
	if !ok {
		logger.FromCtx(ctx).Warn("notification discarded",
			zap.String("reference", n.Reference),
			zap.Error(payment.ErrOrderMismatch),
		)
		return &CallbackResult{Action: ActionDiscard, Result: ResultDiscarded}, nil
	}

	for attempt := 1; attempt <= maxApplyAttempts; attempt++ {
		o, err := s.repo.GetOrder(ctx, orderID)
		if errors.Is(err, ErrOrderNotFound) {
			logger.FromCtx(ctx).Warn("notification discarded",
				zap.Int64("order_id", orderID),
				zap.Error(fmt.Errorf("%w: %v", payment.ErrOrderMismatch, err)),
			)
			return &CallbackResult{OrderID: orderID, Action: ActionDiscard, Result: ResultDiscarded}, nil
		}
		if err != nil {
			return nil, err
		}

		if s.cfg.Debug {
			logger.FromCtx(ctx).Info("payment status for order",
				zap.Int64("order_id", o.ID),
				zap.String("status", n.Status),
			)
		}

		t := Apply(o, s.cfg.InvoicePrefix, n)
		result := &CallbackResult{OrderID: o.ID, Action: t.Action, Status: t.To}

		switch t.Action {
		case ActionDiscard:
			logger.FromCtx(ctx).Warn("notification discarded",
				zap.Int64("order_id", o.ID),
				zap.Error(payment.ErrOrderMismatch),
			)
			result.Result = ResultDiscarded
			return result, nil

		case ActionNone:
			result.Result = ResultNoop
			return result, nil

		case ActionAnnotate:
			applied, err := s.repo.AnnotateOnce(ctx, o.ID, MetaFinalized, "yes", t.Note)
			if err != nil {
				return nil, err
			}
			result.Result = ResultApplied
			if !applied {
				result.Action = ActionNone
				result.Result = ResultNoop
			}
			return result, nil

		case ActionComplete, ActionCancel:
			err := s.repo.UpdateStatus(ctx, o.ID, t.From, t.To, t.Note)
			if errors.Is(err, ErrStatusConflict) {
				continue
			}
			if err != nil {
				return nil, err
			}
			result.Result = ResultApplied
			return result, nil
		}
	}

	return nil, fmt.Errorf("%w: order %d after %d attempts", ErrStatusConflict, orderID, maxApplyAttempts)
}
