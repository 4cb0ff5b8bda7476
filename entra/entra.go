// Package entra wires bearer-token verification and on-behalf-of exchange
// for Microsoft Entra ID. It derives the standard public-cloud endpoints
// from a tenant id and lets deployments override any of them for sovereign
// clouds, B2C, or custom identity providers.
package entra

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/coreos/go-oidc/v3/oidc"
	"github.com/joeshaw/envdecode"

	"github.com/entraguard/entraguard/auth"
	"github.com/entraguard/entraguard/internal/jwtverify"
	"github.com/entraguard/entraguard/internal/obo"
)

// Config describes one deployment. The zero value is invalid; populate at
// least TenantID and ClientID, or load from the environment with
// ConfigFromEnv.
type Config struct {
	// TenantID is the directory (tenant) id. Required unless Issuer,
	// JWKSURI and TokenEndpoint are all set explicitly.
	TenantID string `env:"ENTRA_TENANT_ID"`

	// ClientID is the application (client) id. Required.
	ClientID string `env:"ENTRA_CLIENT_ID"`

	// ClientSecret selects the shared-secret exchange strategy.
	ClientSecret string `env:"ENTRA_CLIENT_SECRET"`

	// ManagedIdentityClientID selects the federated-assertion (secretless)
	// exchange strategy. Ignored when ClientSecret is set.
	ManagedIdentityClientID string `env:"ENTRA_MANAGED_IDENTITY_CLIENT_ID"`

	// Issuer overrides the expected iss claim. Empty derives the v2.0
	// issuer for TenantID.
	Issuer string `env:"ENTRA_ISSUER"`

	// JWKSURI overrides the signing-key endpoint. Empty derives the
	// discovery keys endpoint for TenantID.
	JWKSURI string `env:"ENTRA_JWKS_URI"`

	// Audience overrides the expected aud claim. Empty means ClientID.
	Audience string `env:"ENTRA_AUDIENCE"`

	// TokenEndpoint overrides the OAuth token endpoint used for exchanges.
	// Empty derives the v2.0 endpoint for TenantID.
	TokenEndpoint string `env:"ENTRA_TOKEN_ENDPOINT"`

	// DownstreamResource qualifies bare exchange scopes such as "User.Read".
	DownstreamResource string `env:"ENTRA_DOWNSTREAM_RESOURCE,default=https://graph.microsoft.com"`

	// IMDSEndpoint overrides where managed-identity tokens are fetched.
	// Only useful in tests.
	IMDSEndpoint string
}

// ConfigFromEnv loads Config from ENTRA_* environment variables.
func ConfigFromEnv() (Config, error) {
	var cfg Config
	if err := envdecode.Decode(&cfg); err != nil {
		return Config{}, fmt.Errorf("entra: decode environment: %w", err)
	}
	return cfg, nil
}

const loginHost = "https://login.microsoftonline.com"

// withDefaults derives the standard public-cloud endpoints for the tenant.
// Explicit values always win.
func (c Config) withDefaults() Config {
	if c.TenantID != "" {
		if c.Issuer == "" {
			c.Issuer = fmt.Sprintf("%s/%s/v2.0", loginHost, c.TenantID)
		}
		if c.JWKSURI == "" {
			c.JWKSURI = fmt.Sprintf("%s/%s/discovery/v2.0/keys", loginHost, c.TenantID)
		}
		if c.TokenEndpoint == "" {
			c.TokenEndpoint = fmt.Sprintf("%s/%s/oauth2/v2.0/token", loginHost, c.TenantID)
		}
	}
	if c.Audience == "" {
		c.Audience = c.ClientID
	}
	return c
}

// Option customizes construction.
type Option func(*options)

type options struct {
	logger    *slog.Logger
	client    *http.Client
	keySetTTL time.Duration
	leeway    time.Duration
}

// WithLogger routes diagnostics to the given logger instead of slog.Default().
func WithLogger(l *slog.Logger) Option {
	return func(o *options) { o.logger = l }
}

// WithHTTPClient uses the given client for all outbound calls.
func WithHTTPClient(c *http.Client) Option {
	return func(o *options) { o.client = c }
}

// WithKeySetTTL bounds how long fetched signing keys are served without a
// refresh attempt.
func WithKeySetTTL(d time.Duration) Option {
	return func(o *options) { o.keySetTTL = d }
}

// WithLeeway adds clock-skew tolerance when validating time-based claims.
func WithLeeway(d time.Duration) Option {
	return func(o *options) { o.leeway = d }
}

func applyOptions(opts []Option) options {
	var o options
	for _, opt := range opts {
		opt(&o)
	}
	return o
}

// NewVerifier builds a token verifier for the deployment.
func NewVerifier(cfg Config, opts ...Option) (auth.Verifier, error) {
	cfg = cfg.withDefaults()
	o := applyOptions(opts)
	return jwtverify.New(jwtverify.Config{
		Issuer:     cfg.Issuer,
		ClientID:   cfg.ClientID,
		Audience:   cfg.Audience,
		JWKSURI:    cfg.JWKSURI,
		Leeway:     o.leeway,
		KeySetTTL:  o.keySetTTL,
		HTTPClient: o.client,
		Logger:     o.logger,
	})
}

// NewExchanger builds an on-behalf-of exchanger for the deployment.
func NewExchanger(cfg Config, opts ...Option) (auth.Exchanger, error) {
	cfg = cfg.withDefaults()
	o := applyOptions(opts)
	return obo.New(obo.Config{
		ClientID:                cfg.ClientID,
		ClientSecret:            cfg.ClientSecret,
		ManagedIdentityClientID: cfg.ManagedIdentityClientID,
		TokenEndpoint:           cfg.TokenEndpoint,
		IMDSEndpoint:            cfg.IMDSEndpoint,
		DownstreamResource:      cfg.DownstreamResource,
		HTTPClient:              o.client,
		Logger:                  o.logger,
	})
}

// New builds both halves with shared options.
func New(cfg Config, opts ...Option) (auth.Verifier, auth.Exchanger, error) {
	v, err := NewVerifier(cfg, opts...)
	if err != nil {
		return nil, nil, err
	}
	x, err := NewExchanger(cfg, opts...)
	if err != nil {
		return nil, nil, err
	}
	return v, x, nil
}

// Discover fills JWKSURI and TokenEndpoint from the issuer's OIDC discovery
// document. cfg.Issuer must be set (or derivable from TenantID). Explicitly
// configured endpoints are preserved.
func Discover(ctx context.Context, cfg Config) (Config, error) {
	if cfg.Issuer == "" && cfg.TenantID != "" {
		cfg.Issuer = fmt.Sprintf("%s/%s/v2.0", loginHost, cfg.TenantID)
	}
	if cfg.Issuer == "" {
		return Config{}, errors.New("entra: issuer (or tenant id) is required for discovery")
	}

	provider, err := oidc.NewProvider(ctx, cfg.Issuer)
	if err != nil {
		return Config{}, fmt.Errorf("entra: oidc discovery failed: %w", err)
	}
	var meta struct {
		JWKSURI       string `json:"jwks_uri"`
		TokenEndpoint string `json:"token_endpoint"`
	}
	if err := provider.Claims(&meta); err != nil {
		return Config{}, fmt.Errorf("entra: invalid discovery metadata: %w", err)
	}
	if meta.JWKSURI == "" || meta.TokenEndpoint == "" {
		return Config{}, errors.New("entra: discovery metadata missing jwks_uri or token_endpoint")
	}

	if cfg.JWKSURI == "" {
		cfg.JWKSURI = meta.JWKSURI
	}
	if cfg.TokenEndpoint == "" {
		cfg.TokenEndpoint = meta.TokenEndpoint
	}
	return cfg, nil
}
