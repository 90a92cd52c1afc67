package oidcutil

import (
	"context"
	"fmt"
	"math"
	"net/http"
	"slices"
	"strings"
	"time"

	coreoidc "github.com/coreos/go-oidc/v3/oidc"

	"echoapp/logger"
	"echoapp/metrics"
)

// Options tune provider discovery.
type Options struct {
	Issuer      string
	ClientID    string
	Audience    string
	MaxAttempts int
	// BaseDelay is doubled after every failed attempt, capped at 30s.
	BaseDelay time.Duration
	// HTTPClient is used for discovery and key fetches when set.
	HTTPClient *http.Client
}

// Init discovers the provider (with backoff) and returns a Verifier for its ID tokens.
func Init(ctx context.Context, opts Options) (*Verifier, error) {
	p, err := initProviderWithBackoff(ctx, opts)
	if err != nil {
		return nil, err
	}
	return &Verifier{
		ids:      p.Verifier(&coreoidc.Config{ClientID: opts.ClientID}),
		audience: opts.Audience,
		now:      time.Now,
	}, nil
}

type idTokenVerifier interface {
	Verify(ctx context.Context, rawIDToken string) (*coreoidc.IDToken, error)
}

// Verifier checks signature, audience and expiry of a raw ID token.
type Verifier struct {
	ids      idTokenVerifier
	audience string
	now      func() time.Time
}

// Verify satisfies api.TokenVerifier.
func (v *Verifier) Verify(ctx context.Context, raw string) error {
	_, err := v.VerifyToken(ctx, raw)
	return err
}

// VerifyToken verifies a raw token and validates audience & expiration.
func (v *Verifier) VerifyToken(ctx context.Context, raw string) (*coreoidc.IDToken, error) {
	tok, err := v.ids.Verify(ctx, raw)
	if err != nil {
		return nil, err
	}
	if v.audience != "" && !slices.Contains(tok.Audience, v.audience) {
		return nil, ErrInvalidAudience{Expected: v.audience, Got: strings.Join(tok.Audience, ",")}
	}
	if v.now().After(tok.Expiry) {
		return nil, ErrTokenExpired{}
	}
	return tok, nil
}

// Errors

type ErrInvalidAudience struct{ Expected, Got string }

func (e ErrInvalidAudience) Error() string {
	return "invalid audience: expected " + e.Expected + " got " + e.Got
}

type ErrTokenExpired struct{}

func (e ErrTokenExpired) Error() string { return "token expired" }

func initProviderWithBackoff(ctx context.Context, opts Options) (*coreoidc.Provider, error) {
	maxAttempts := opts.MaxAttempts
	if maxAttempts <= 0 {
		maxAttempts = 8
	}
	base := opts.BaseDelay
	if base <= 0 {
		base = time.Second
	}
	pctx := ctx
	if opts.HTTPClient != nil {
		pctx = coreoidc.ClientContext(ctx, opts.HTTPClient)
	}

	var err error
	for attempt := 1; attempt <= maxAttempts; attempt++ {
		var provider *coreoidc.Provider
		provider, err = coreoidc.NewProvider(pctx, opts.Issuer)
		if err == nil {
			logger.Info("oidc provider initialized", logger.FieldKV("issuer", opts.Issuer), logger.FieldKV("attempt", attempt))
			metrics.IncOIDCInitSuccess(uint64(attempt))
			return provider, nil
		}
		// Common misconfiguration: https issuer while the endpoint serves plain http.
		if strings.Contains(err.Error(), "server gave HTTP response to HTTPS client") {
			logger.Error("oidc issuer scheme mismatch (https expected but endpoint is http)", err, logger.FieldKV("issuer", opts.Issuer))
		}
		if attempt == maxAttempts {
			break
		}
		sleep := time.Duration(math.Min(float64(30*time.Second), float64(base)*math.Pow(2, float64(attempt-1))))
		logger.Error("oidc provider init failed", err, logger.FieldKV("attempt", attempt), logger.FieldKV("next_sleep", sleep.String()))
		select {
		case <-time.After(sleep):
		case <-ctx.Done():
			metrics.IncOIDCInitFailure(uint64(attempt))
			return nil, fmt.Errorf("oidc init canceled: %w", ctx.Err())
		}
	}
	metrics.IncOIDCInitFailure(uint64(maxAttempts))
	return nil, fmt.Errorf("oidc provider init failed after %d attempts: %w", maxAttempts, err)
}
