package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

const (
	DefaultInvoicePrefix = "WC-"
	DefaultInvoiceURL    = "https://bitpay.com/api/invoice"
	DefaultTimeout       = 30 * time.Second
	DefaultTitle         = "BitPay"
	DefaultDescription   = "Pay with Bitcoin"
)

// SupportedCurrencies lists the currencies BitPay accepts for invoice pricing.
var SupportedCurrencies = []string{
	"USD", "EUR", "GBP", "AUD", "BGN", "BRL", "CAD", "CHF", "CNY",
	"CZK", "DKK", "HKD", "HRK", "HUF", "IDR", "ILS", "INR", "JPY",
	"KRW", "LTL", "LVL", "MXN", "MYR", "NOK", "NZD", "PHP", "PLN",
	"RON", "RUB", "SEK", "SGD", "THB", "TRY", "ZAR", "BTC",
}

type Config struct {
	DBHost      string
	DBUser      string
	DBPassword  string
	DBName      string
	DBPort      string
	DBSSLMode   string
	AppPort     string
	AppEnv      string
	SecretKey   string
	TLSCertFile string
	TLSKeyFile  string
	TrustProxy  bool

	Gateway Gateway
}

// Gateway holds the BitPay settings. It is passed by value and never mutated
// after LoadConfig returns.
type Gateway struct {
	Enabled           bool
	Title             string
	Description       string
	APIKey            string
	NotificationEmail string
	NotificationURL   string
	InvoicePrefix     string
	InvoiceURL        string
	Timeout           time.Duration
	Debug             bool

	currencies map[string]struct{}
}

var ErrMissingAPIKey = errors.New("bitpay api key is not configured")

// NewGateway fills defaults and freezes the supported currency set.
func NewGateway(g Gateway) Gateway {
	if g.InvoicePrefix == "" {
		g.InvoicePrefix = DefaultInvoicePrefix
	}
	if g.InvoiceURL == "" {
		g.InvoiceURL = DefaultInvoiceURL
	}
	if g.Timeout <= 0 {
		g.Timeout = DefaultTimeout
	}
	if g.Title == "" {
		g.Title = DefaultTitle
	}
	if g.Description == "" {
		g.Description = DefaultDescription
	}

	g.currencies = make(map[string]struct{}, len(SupportedCurrencies))
	for _, c := range SupportedCurrencies {
		g.currencies[c] = struct{}{}
	}
	return g
}

// IsEligible reports whether BitPay can price an invoice in currency.
func (g Gateway) IsEligible(currency string) bool {
	if g.currencies == nil {
		for _, c := range SupportedCurrencies {
			if c == currency {
				return true
			}
		}
		return false
	}
	_, ok := g.currencies[currency]
	return ok
}

// Validate returns ErrMissingAPIKey when the gateway cannot talk to BitPay.
func (g Gateway) Validate() error {
	if strings.TrimSpace(g.APIKey) == "" {
		return ErrMissingAPIKey
	}
	return nil
}

// Available is the checkout-time rule: enabled, configured and priced in a
// supported currency.
func (g Gateway) Available(currency string) bool {
	return g.Enabled && g.Validate() == nil && g.IsEligible(currency)
}

func LoadConfig() (*Config, error) {
	_ = godotenv.Load()

	timeout := DefaultTimeout
	if raw := os.Getenv("BITPAY_TIMEOUT"); raw != "" {
		d, err := time.ParseDuration(raw)
		if err != nil {
			return nil, fmt.Errorf("invalid BITPAY_TIMEOUT %q: %w", raw, err)
		}
		timeout = d
	}

	cfg := &Config{
		DBHost:      os.Getenv("DB_HOST"),
		DBUser:      os.Getenv("DB_USER"),
		DBPassword:  os.Getenv("DB_PASSWORD"),
		DBName:      os.Getenv("DB_NAME"),
		DBPort:      os.Getenv("DB_PORT"),
		DBSSLMode:   envOr("DB_SSLMODE", "disable"),
		AppPort:     envOr("APP_PORT", "8080"),
		AppEnv:      os.Getenv("APP_ENV"),
		SecretKey:   os.Getenv("SECRET_KEY"),
		TLSCertFile: os.Getenv("TLS_CERT_FILE"),
		TLSKeyFile:  os.Getenv("TLS_KEY_FILE"),
		TrustProxy:  envBool("TRUST_PROXY", false),
		Gateway: NewGateway(Gateway{
			Enabled:           envBool("BITPAY_ENABLED", true),
			Title:             os.Getenv("BITPAY_TITLE"),
			Description:       os.Getenv("BITPAY_DESCRIPTION"),
			APIKey:            os.Getenv("BITPAY_API_KEY"),
			NotificationEmail: os.Getenv("BITPAY_NOTIFICATION_EMAIL"),
			NotificationURL:   os.Getenv("NOTIFICATION_URL"),
			InvoicePrefix:     os.Getenv("BITPAY_INVOICE_PREFIX"),
			InvoiceURL:        os.Getenv("BITPAY_INVOICE_URL"),
			Timeout:           timeout,
			Debug:             envBool("BITPAY_DEBUG", false),
		}),
	}

	if cfg.DBHost == "" {
		return nil, errors.New("environment variables not loaded properly: DB_HOST is empty")
	}

	return cfg, nil
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

// envBool accepts the plugin's "yes"/"no" settings as well as strconv booleans.
func envBool(key string, fallback bool) bool {
	raw := strings.ToLower(strings.TrimSpace(os.Getenv(key)))
	switch raw {
	case "":
		return fallback
	case "yes", "on":
		return true
	case "no", "off":
		return false
	}
	b, err := strconv.ParseBool(raw)
	if err != nil {
		return fallback
	}
	return b
}
