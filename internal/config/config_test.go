package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func baseEnv() map[string]string {
	return map[string]string{
		"DATABASE_URL":      "postgres://localhost:5432/storefront",
		"REDIS_URL":         "redis://localhost:6379",
		"PAYMENT_BASE_URL":  "https://payments.example.com",
		"PRICING_TIERS":     "",
		"TAX_BPS":           "",
		"FREE_DELIVERY_MIN": "",
	}
}

func TestLoadDefaults(t *testing.T) {
	cfg, err := LoadForTests(baseEnv())
	require.NoError(t, err)

	require.Equal(t, ":8080", cfg.HTTPAddr())
	require.Equal(t, 700, cfg.TaxBps)
	require.Equal(t, "USD", cfg.Currency)
	require.EqualValues(t, 10000, cfg.FreeDeliveryMin)
	require.EqualValues(t, 400, cfg.DeliveryBaseFee)
	require.EqualValues(t, 110, cfg.DeliveryPerMile)
	require.EqualValues(t, 15, cfg.DeliveryPerMin)
	require.Equal(t, 168*time.Hour, cfg.GuestCartTTL)

	// No PRICING_TIERS falls back to the stock ladder.
	table := cfg.TierTable()
	require.Equal(t, 800, table.Resolve(8000).PercentBps)
	require.True(t, table.FreeDelivery(10000))
}

func TestLoadMissingDatabaseURL(t *testing.T) {
	env := baseEnv()
	env["DATABASE_URL"] = ""
	_, err := LoadForTests(env)
	require.Error(t, err)
}

func TestLoadParsesTierLadder(t *testing.T) {
	env := baseEnv()
	env["PRICING_TIERS"] = "5000:500:5% OFF orders $50+; 7500:800:8% OFF orders $75+"
	env["FREE_DELIVERY_MIN"] = "12000"
	env["TAX_BPS"] = "825"

	cfg, err := LoadForTests(env)
	require.NoError(t, err)
	require.Equal(t, 825, cfg.TaxBps)
	require.Len(t, cfg.Tiers, 2)

	table := cfg.TierTable()
	require.Equal(t, 500, table.Resolve(5000).PercentBps)
	require.Equal(t, "8% OFF orders $75+", table.Resolve(9000).Label)
	require.False(t, table.FreeDelivery(10000))
	require.True(t, table.FreeDelivery(12000))
}

func TestLoadRejectsMalformedTiers(t *testing.T) {
	env := baseEnv()
	env["PRICING_TIERS"] = "notanumber"
	_, err := LoadForTests(env)
	require.Error(t, err)
}
