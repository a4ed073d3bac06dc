package stripe

import (
	"context"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/safmarket/saf-backend/pkg/config"
)

func validConfig() config.StripeConfig {
	return config.StripeConfig{
		APIKey:     "sk_test_123",
		Secret:     "whsec_abc",
		Env:        "test",
		SuccessURL: "https://app.example/checkout/success",
		CancelURL:  "https://app.example/checkout/cancel",
	}
}

func TestNewClient(t *testing.T) {
	client, err := NewClient(context.Background(), validConfig(), nil)
	require.NoError(t, err)
	assert.Equal(t, "test", client.Environment())
	assert.Equal(t, "whsec_abc", client.SigningSecret())

	success, cancel := client.RedirectURLs()
	assert.Equal(t, "https://app.example/checkout/success", success)
	assert.Equal(t, "https://app.example/checkout/cancel", cancel)
}

func TestNewClientRejectsBadConfig(t *testing.T) {
	cases := map[string]func(*config.StripeConfig){
		"missing key":       func(c *config.StripeConfig) { c.APIKey = "" },
		"missing secret":    func(c *config.StripeConfig) { c.Secret = " " },
		"live key in test":  func(c *config.StripeConfig) { c.APIKey = "sk_live_123" },
		"test key in live":  func(c *config.StripeConfig) { c.Env = "live" },
		"unknown env":       func(c *config.StripeConfig) { c.Env = "staging" },
		"missing redirect":  func(c *config.StripeConfig) { c.CancelURL = "" },
		"relative redirect": func(c *config.StripeConfig) { c.SuccessURL = "/checkout/success" },
		"publishable key":   func(c *config.StripeConfig) { c.APIKey = "pk_test_123" },
	}
	for name, mutate := range cases {
		t.Run(name, func(t *testing.T) {
			cfg := validConfig()
			mutate(&cfg)
			_, err := NewClient(context.Background(), cfg, nil)
			assert.Error(t, err)
		})
	}
}

func TestNewClientReportsEveryProblem(t *testing.T) {
	_, err := NewClient(context.Background(), config.StripeConfig{Env: "live", APIKey: "sk_test_1"}, nil)
	require.Error(t, err)
	msg := err.Error()
	assert.Contains(t, msg, "live mode needs a sk_live_ or rk_live_ key")
	assert.Contains(t, msg, "webhook signing secret is required")
	assert.Contains(t, msg, "success url is required")
	assert.Contains(t, msg, "cancel url is required")
}

func TestNilClientAccessors(t *testing.T) {
	var client *Client
	assert.Empty(t, client.Environment())
	assert.Empty(t, client.SigningSecret())
	success, cancel := client.RedirectURLs()
	assert.Empty(t, success)
	assert.Empty(t, cancel)
}

func TestMinorUnits(t *testing.T) {
	assert.Equal(t, int64(51750), ToMinorUnits(decimal.RequireFromString("517.50")))
	assert.Equal(t, int64(1), ToMinorUnits(decimal.RequireFromString("0.005")))
	assert.True(t, FromMinorUnits(48520).Equal(decimal.RequireFromString("485.20")))
}
