package metrics

import (
	"net/http"
	"time"

	"github.com/arubinofaux/woocommerce-bitpay/internal/logger"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Outcome labels recorded by the gateway.
const (
	InvoiceCreated = "created"
	InvoiceFailed  = "failed"

	NotificationRejected  = "rejected"
	NotificationDuplicate = "duplicate"
	NotificationApplied   = "applied"
	NotificationNoop      = "noop"
	NotificationDiscarded = "discarded"
	NotificationFailed    = "failed"
)

type Timer struct {
	start time.Time
}

func StartTimer() *Timer {
	return &Timer{start: time.Now()}
}

func (t *Timer) Duration() time.Duration {
	return time.Since(t.start)
}

// Gateway holds the BitPay gateway counters. It is a prometheus.Collector.
type Gateway struct {
	mInvoices        *prometheus.CounterVec
	mNotifications   *prometheus.CounterVec
	mRequestDuration prometheus.Histogram
}

func NewGateway() *Gateway {
	return &Gateway{
		mInvoices: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "bitpay_invoices_total",
			Help: "Invoice creation attempts by outcome.",
		}, []string{"outcome"}),
		mNotifications: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "bitpay_notifications_total",
			Help: "Payment notifications by outcome.",
		}, []string{"outcome"}),
		mRequestDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "bitpay_invoice_request_duration_seconds",
			Help:    "Duration of a single invoice request to BitPay.",
			Buckets: prometheus.ExponentialBuckets(0.05, 2, 8),
		}),
	}
}

func (g *Gateway) Invoice(outcome string) {
	g.mInvoices.WithLabelValues(outcome).Inc()
}

func (g *Gateway) Notification(outcome string) {
	g.mNotifications.WithLabelValues(outcome).Inc()
}

func (g *Gateway) ObserveInvoiceRequest(d time.Duration) {
	g.mRequestDuration.Observe(d.Seconds())
}

func (g *Gateway) Describe(ch chan<- *prometheus.Desc) {
	g.mInvoices.Describe(ch)
	g.mNotifications.Describe(ch)
	g.mRequestDuration.Describe(ch)
}

func (g *Gateway) Collect(ch chan<- prometheus.Metric) {
	g.mInvoices.Collect(ch)
	g.mNotifications.Collect(ch)
	g.mRequestDuration.Collect(ch)
}

// check interfaces
var (
	_ prometheus.Collector = (*Gateway)(nil)
)

// Default is the process-wide collector, registered on the default registry.
var Default = NewGateway()

func init() {
	prometheus.MustRegister(Default)
}

type logFunc func(v ...interface{})

func (l logFunc) Println(v ...interface{}) {
	l(v...)
}

// Handler serves the default gatherer in the Prometheus text format.
func Handler() http.Handler {
	return promhttp.HandlerFor(prometheus.DefaultGatherer, promhttp.HandlerOpts{
		ErrorLog:      logFunc(logger.L().Named("metrics").Sugar().Warn),
		ErrorHandling: promhttp.HTTPErrorOnError,
	})
}
