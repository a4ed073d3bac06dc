// Package stripe holds the Stripe account settings used by checkout and
// webhook verification, plus amount conversion helpers.
package stripe

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strings"

	"github.com/stripe/stripe-go/v84"

	"github.com/safmarket/saf-backend/pkg/config"
	"github.com/safmarket/saf-backend/pkg/logger"
)

// Mode is the Stripe key environment.
type Mode string

const (
	ModeTest Mode = "test"
	ModeLive Mode = "live"
)

// keyPrefixes lists the secret and restricted key prefixes a mode accepts.
var keyPrefixes = map[Mode][]string{
	ModeTest: {"sk_test_", "rk_test_"},
	ModeLive: {"sk_live_", "rk_live_"},
}

// Client carries the validated Stripe settings. stripe-go resource packages
// read the API key from the package-level stripe.Key, which NewClient sets.
type Client struct {
	mode          Mode
	signingSecret string
	successURL    string
	cancelURL     string
}

func NewClient(ctx context.Context, cfg config.StripeConfig, logg *logger.Logger) (*Client, error) {
	mode := Mode(cfg.Environment())
	prefixes, ok := keyPrefixes[mode]
	if !ok {
		return nil, fmt.Errorf("stripe: unknown environment %q (want test or live)", cfg.Env)
	}

	key := strings.TrimSpace(cfg.APIKey)
	secret := strings.TrimSpace(cfg.Secret)
	var problems []error
	if key == "" {
		problems = append(problems, errors.New("api key is required"))
	} else if !hasAnyPrefix(key, prefixes) {
		problems = append(problems, fmt.Errorf("%s mode needs a %s key", mode, strings.Join(prefixes, " or ")))
	}
	if secret == "" {
		problems = append(problems, errors.New("webhook signing secret is required"))
	}
	success, err := redirectURL("success", cfg.SuccessURL)
	if err != nil {
		problems = append(problems, err)
	}
	cancel, err := redirectURL("cancel", cfg.CancelURL)
	if err != nil {
		problems = append(problems, err)
	}
	if len(problems) > 0 {
		return nil, fmt.Errorf("stripe: %w", errors.Join(problems...))
	}

	stripe.Key = key
	if logg != nil {
		logg.Info(logg.WithField(ctx, "stripe_mode", string(mode)), "stripe configured")
	}
	return &Client{mode: mode, signingSecret: secret, successURL: success, cancelURL: cancel}, nil
}

func (c *Client) Environment() string {
	if c == nil {
		return ""
	}
	return string(c.mode)
}

func (c *Client) SigningSecret() string {
	if c == nil {
		return ""
	}
	return c.signingSecret
}

// RedirectURLs returns where Checkout sends the buyer after paying or
// abandoning the session.
func (c *Client) RedirectURLs() (success, cancel string) {
	if c == nil {
		return "", ""
	}
	return c.successURL, c.cancelURL
}

func hasAnyPrefix(s string, prefixes []string) bool {
	for _, p := range prefixes {
		if strings.HasPrefix(s, p) {
			return true
		}
	}
	return false
}

func redirectURL(name, raw string) (string, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return "", fmt.Errorf("%s url is required", name)
	}
	u, err := url.Parse(raw)
	if err != nil || u.Host == "" || (u.Scheme != "https" && u.Scheme != "http") {
		return "", fmt.Errorf("%s url %q must be an absolute http(s) url", name, raw)
	}
	return raw, nil
}
