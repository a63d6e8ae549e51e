package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/v2"

	"github.com/harborlane/storefront-api/internal/delivery"
	"github.com/harborlane/storefront-api/internal/pricing"
)

// Config holds application configuration loaded from the environment.
type Config struct {
	AppEnv             string
	Port               string
	DatabaseURL        string
	RedisURL           string
	CORSAllowedOrigins []string

	// Pricing knobs.
	TaxBps          int
	Currency        string
	Tiers           []pricing.Tier
	FreeDeliveryMin pricing.Money

	// Delivery fee formula and carrier cutover.
	CarrierRangeMiles float64
	DeliveryBaseFee   pricing.Money
	DeliveryPerMile   pricing.Money
	DeliveryPerMin    pricing.Money
	StoreLat          float64
	StoreLng          float64

	// External collaborators.
	CarrierBaseURL  string
	CarrierAPIKey   string
	MatrixBaseURL   string
	MatrixAPIKey    string
	PaymentBaseURL  string
	PaymentAPIKey   string
	AlertWebhookURL string

	GuestCartTTL    time.Duration
	OutboundTimeout time.Duration
}

// Load reads configuration from environment variables and optional .env files.
func Load() (*Config, error) {
	_ = godotenv.Load()

	k := koanf.New(".")
	if err := k.Load(env.Provider("", ".", func(s string) string { return s }), nil); err != nil {
		return nil, fmt.Errorf("load env: %w", err)
	}

	tiers, freeMin, err := parseTiers(k.String("PRICING_TIERS"), k.String("FREE_DELIVERY_MIN"))
	if err != nil {
		return nil, err
	}

	cfg := &Config{
		AppEnv:             valueOrDefault(k.String("APP_ENV"), "development"),
		Port:               valueOrDefault(k.String("PORT"), "8080"),
		DatabaseURL:        k.String("DATABASE_URL"),
		RedisURL:           k.String("REDIS_URL"),
		CORSAllowedOrigins: splitAndTrim(k.String("CORS_ALLOWED_ORIGINS")),

		TaxBps:          parseInt(k.String("TAX_BPS"), 700),
		Currency:        valueOrDefault(k.String("CURRENCY"), "USD"),
		Tiers:           tiers,
		FreeDeliveryMin: freeMin,

		CarrierRangeMiles: parseFloat(k.String("CARRIER_RANGE_MILES"), 7),
		DeliveryBaseFee:   pricing.Money(parseInt(k.String("DELIVERY_BASE_FEE_CENTS"), 400)),
		DeliveryPerMile:   pricing.Money(parseInt(k.String("DELIVERY_PER_MILE_CENTS"), 110)),
		DeliveryPerMin:    pricing.Money(parseInt(k.String("DELIVERY_PER_MINUTE_CENTS"), 15)),
		StoreLat:          parseFloat(k.String("STORE_LAT"), 0),
		StoreLng:          parseFloat(k.String("STORE_LNG"), 0),

		CarrierBaseURL:  k.String("CARRIER_BASE_URL"),
		CarrierAPIKey:   k.String("CARRIER_API_KEY"),
		MatrixBaseURL:   k.String("MATRIX_BASE_URL"),
		MatrixAPIKey:    k.String("MATRIX_API_KEY"),
		PaymentBaseURL:  k.String("PAYMENT_BASE_URL"),
		PaymentAPIKey:   k.String("PAYMENT_API_KEY"),
		AlertWebhookURL: k.String("ALERT_WEBHOOK_URL"),

		GuestCartTTL:    parseDuration(k.String("GUEST_CART_TTL"), "168h"),
		OutboundTimeout: parseDuration(k.String("OUTBOUND_TIMEOUT"), "3s"),
	}

	if cfg.DatabaseURL == "" {
		return nil, errors.New("DATABASE_URL is required")
	}
	if cfg.RedisURL == "" {
		return nil, errors.New("REDIS_URL is required")
	}
	if cfg.PaymentBaseURL == "" {
		return nil, errors.New("PAYMENT_BASE_URL is required")
	}

	return cfg, nil
}

// TierTable builds the configured spend-tier ladder.
func (c *Config) TierTable() pricing.TierTable {
	if len(c.Tiers) == 0 {
		return pricing.DefaultTierTable()
	}
	return pricing.NewTierTable(c.Tiers, c.FreeDeliveryMin)
}

// FeeFormula returns the manual delivery fee parameters.
func (c *Config) FeeFormula() delivery.FormulaParams {
	return delivery.FormulaParams{
		BaseFee:      c.DeliveryBaseFee,
		PerMileFee:   c.DeliveryPerMile,
		PerMinuteFee: c.DeliveryPerMin,
	}
}

// StoreCoord returns the pickup coordinate of the storefront.
func (c *Config) StoreCoord() delivery.Coord {
	return delivery.Coord{Lat: c.StoreLat, Lng: c.StoreLng}
}

// HTTPAddr returns the address the HTTP server should bind to.
func (c *Config) HTTPAddr() string {
	port := strings.TrimSpace(c.Port)
	if port == "" {
		port = "8080"
	}
	if strings.HasPrefix(port, ":") {
		return port
	}
	return ":" + port
}

// parseTiers reads the ladder from "mincents:bps:label;..." form, e.g.
// "5000:500:5% OFF orders $50+;7500:800:8% OFF orders $75+". An empty value
// falls back to the stock ladder.
func parseTiers(raw, freeMinRaw string) ([]pricing.Tier, pricing.Money, error) {
	freeMin := pricing.Money(parseInt(freeMinRaw, 10000))
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil, freeMin, nil
	}
	var tiers []pricing.Tier
	for _, row := range strings.Split(raw, ";") {
		row = strings.TrimSpace(row)
		if row == "" {
			continue
		}
		parts := strings.SplitN(row, ":", 3)
		if len(parts) < 2 {
			return nil, 0, fmt.Errorf("PRICING_TIERS: malformed row %q", row)
		}
		minCents, err := strconv.ParseInt(strings.TrimSpace(parts[0]), 10, 64)
		if err != nil {
			return nil, 0, fmt.Errorf("PRICING_TIERS: bad minimum in %q", row)
		}
		bps, err := strconv.Atoi(strings.TrimSpace(parts[1]))
		if err != nil {
			return nil, 0, fmt.Errorf("PRICING_TIERS: bad rate in %q", row)
		}
		label := ""
		if len(parts) == 3 {
			label = strings.TrimSpace(parts[2])
		}
		tiers = append(tiers, pricing.Tier{MinSubtotal: pricing.Money(minCents), PercentBps: bps, Label: label})
	}
	return tiers, freeMin, nil
}

func splitAndTrim(value string) []string {
	if value == "" {
		return nil
	}
	parts := strings.Split(value, ",")
	result := make([]string, 0, len(parts))
	for _, part := range parts {
		trimmed := strings.TrimSpace(part)
		if trimmed != "" {
			result = append(result, trimmed)
		}
	}
	return result
}

func valueOrDefault(value, fallback string) string {
	if strings.TrimSpace(value) != "" {
		return value
	}
	return fallback
}

func parseDuration(value, fallback string) time.Duration {
	base := strings.TrimSpace(value)
	if base == "" {
		base = fallback
	}
	d, err := time.ParseDuration(base)
	if err != nil {
		d, _ = time.ParseDuration(fallback)
	}
	return d
}

func parseInt(value string, fallback int) int {
	n, err := strconv.Atoi(strings.TrimSpace(value))
	if err != nil {
		return fallback
	}
	return n
}

func parseFloat(value string, fallback float64) float64 {
	f, err := strconv.ParseFloat(strings.TrimSpace(value), 64)
	if err != nil {
		return fallback
	}
	return f
}

// MustLoad behaves like Load but panics on error. Useful for tests and command entrypoints.
func MustLoad() *Config {
	cfg, err := Load()
	if err != nil {
		panic(err)
	}
	return cfg
}

// LoadForTests allows tests to override environment variables without touching the real environment.
func LoadForTests(env map[string]string) (*Config, error) {
	original := make(map[string]string, len(env))
	for key := range env {
		original[key] = os.Getenv(key)
		if err := setEnvVar(key, env[key]); err != nil {
			return nil, err
		}
	}
	cfg, err := Load()
	restoreErr := restoreEnv(original)
	if err != nil {
		return nil, err
	}
	return cfg, restoreErr
}

func setEnvVar(key, value string) error {
	if value == "" {
		return os.Unsetenv(key)
	}
	return os.Setenv(key, value)
}

func restoreEnv(values map[string]string) error {
	var errs []string
	for key, value := range values {
		if err := setEnvVar(key, value); err != nil {
			errs = append(errs, fmt.Sprintf("%s: %v", key, err))
		}
	}
	if len(errs) > 0 {
		return fmt.Errorf("restore env: %s", strings.Join(errs, "; "))
	}
	return nil
}
