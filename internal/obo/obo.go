// Package obo implements the OAuth 2.0 on-behalf-of exchange: trading a
// verified user token for a token scoped to a downstream API, using either a
// shared client secret or a federated managed-identity assertion.
package obo

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"

	"github.com/entraguard/entraguard/auth"
	"github.com/entraguard/entraguard/logctx"
)

const (
	grantTypeJWTBearer        = "urn:ietf:params:oauth:grant-type:jwt-bearer"
	clientAssertionTypeBearer = "urn:ietf:params:oauth:client-assertion-type:jwt-bearer"

	// assertionExpiryBuffer rejects exchanges whose user assertion would
	// expire before the provider processes the request; without it the
	// provider surfaces a confusing invalid_grant instead.
	assertionExpiryBuffer = 5 * time.Minute

	// consentRequiredCode is the provider error identifying missing
	// delegated consent.
	consentRequiredCode = "AADSTS65001"

	defaultRequestTimeout = 10 * time.Second
)

// DefaultDownstreamResource qualifies bare capability scopes like
// "User.Read" when no resource is configured.
const DefaultDownstreamResource = "https://graph.microsoft.com"

// Config selects and parameterizes the credential strategy. Exactly one of
// ClientSecret and ManagedIdentityClientID should be set; when both are, the
// shared secret wins.
type Config struct {
	ClientID string

	// ClientSecret enables the shared-secret strategy.
	ClientSecret string

	// ManagedIdentityClientID enables the federated-assertion strategy. It
	// is the client id of the user-assigned managed identity trusted as a
	// federated credential on the app registration.
	ManagedIdentityClientID string

	// TokenEndpoint is the provider's OAuth token endpoint.
	TokenEndpoint string

	// IMDSEndpoint is where the managed-identity token is fetched. Empty
	// selects the Azure instance-metadata endpoint.
	IMDSEndpoint string

	// DownstreamResource qualifies bare scopes. Empty selects
	// DefaultDownstreamResource.
	DownstreamResource string

	// HTTPClient performs all outbound calls. Nil selects a client with a
	// bounded timeout.
	HTTPClient *http.Client

	// Logger receives exchange diagnostics. Nil means slog.Default().
	Logger *slog.Logger
}

// Exchanger performs on-behalf-of exchanges. Safe for concurrent use; it
// holds no mutable state.
type Exchanger struct {
	cfg    Config
	client *http.Client
	log    *slog.Logger
}

// New builds an Exchanger. Credential material is validated lazily, at the
// first Exchange call, so that a misconfigured deployment fails loudly there
// rather than silently producing placeholder tokens.
func New(cfg Config) (*Exchanger, error) {
	if cfg.ClientID == "" {
		return nil, errors.New("obo: client id is required")
	}
	if cfg.TokenEndpoint == "" {
		return nil, errors.New("obo: token endpoint is required")
	}
	client := cfg.HTTPClient
	if client == nil {
		client = &http.Client{Timeout: defaultRequestTimeout}
	}
	log := cfg.Logger
	if log == nil {
		log = slog.Default()
	}
	return &Exchanger{cfg: cfg, client: client, log: log}, nil
}

// Exchange trades originalToken for a token scoped to downstreamScope. The
// caller never needs to know which credential strategy is active; both yield
// the same result and failure surface.
func (e *Exchanger) Exchange(ctx context.Context, originalToken string, downstreamScope string) (*auth.ExchangeResult, error) {
	scope := e.qualifyScope(downstreamScope)

	// The expiry pre-check applies to every strategy, so it runs before
	// selection.
	if err := e.checkAssertionExpiry(ctx, originalToken); err != nil {
		return nil, err
	}

	var strategy string
	switch {
	case e.cfg.ClientSecret != "":
		strategy = "client_secret"
	case e.cfg.ManagedIdentityClientID != "":
		strategy = "federated_assertion"
	default:
		e.log.ErrorContext(ctx, "no credential strategy configured: set a client secret or a managed identity client id")
		return nil, &auth.ExchangeError{
			Kind:        auth.ExchangeNotConfigured,
			Remediation: "configure a client secret (works anywhere) or a managed identity client id (secretless, Azure-only)",
		}
	}

	ctx = logctx.WithExchangeData(ctx, &logctx.ExchangeData{
		ExchangeID: uuid.NewString(),
		Strategy:   strategy,
		Scope:      scope,
	})

	if strategy == "client_secret" {
		return e.exchangeWithClientSecret(ctx, originalToken, scope)
	}
	return e.exchangeWithFederatedAssertion(ctx, originalToken, scope)
}

// checkAssertionExpiry decodes the user assertion without verifying it (an
// upstream verifier already did) and rejects exchanges whose assertion is
// within the expiry buffer. An unreadable exp is logged and waved through:
// the provider stays the source of truth.
func (e *Exchanger) checkAssertionExpiry(ctx context.Context, assertion string) error {
	claims := jwt.MapClaims{}
	if _, _, err := jwt.NewParser().ParseUnverified(assertion, claims); err != nil {
		e.log.WarnContext(ctx, "could not decode assertion for expiry check", "error", err)
		return nil
	}
	exp, err := claims.GetExpirationTime()
	if err != nil || exp == nil {
		e.log.WarnContext(ctx, "assertion carries no readable exp")
		return nil
	}
	if remaining := time.Until(exp.Time); remaining < assertionExpiryBuffer {
		e.log.WarnContext(ctx, "assertion expiring soon", "remaining", remaining.Round(time.Second))
		return &auth.ExchangeError{
			Kind:        auth.ExchangeAssertionExpiringSoon,
			Remediation: "re-authenticate to obtain a fresh token before exchanging",
		}
	}
	return nil
}

func (e *Exchanger) exchangeWithClientSecret(ctx context.Context, originalToken, scope string) (*auth.ExchangeResult, error) {
	form := url.Values{
		"client_id":           {e.cfg.ClientID},
		"client_secret":       {e.cfg.ClientSecret},
		"grant_type":          {grantTypeJWTBearer},
		"requested_token_use": {"on_behalf_of"},
		"scope":               {scope},
		"assertion":           {originalToken},
	}
	return e.postTokenRequest(ctx, form)
}

func (e *Exchanger) qualifyScope(scope string) string {
	if strings.Contains(scope, "://") {
		return scope
	}
	resource := e.cfg.DownstreamResource
	if resource == "" {
		resource = DefaultDownstreamResource
	}
	return strings.TrimSuffix(resource, "/") + "/" + scope
}

// tokenResponse covers both the success and OAuth error shapes of the token
// endpoint.
type tokenResponse struct {
	AccessToken      string `json:"access_token"`
	TokenType        string `json:"token_type"`
	ExpiresIn        int64  `json:"expires_in"`
	Error            string `json:"error"`
	ErrorDescription string `json:"error_description"`
}

// postTokenRequest submits the on-behalf-of form and classifies the outcome.
// Both credential strategies funnel through here so their result surface
// stays identical.
func (e *Exchanger) postTokenRequest(ctx context.Context, form url.Values) (*auth.ExchangeResult, error) {
	ctx, cancel := context.WithTimeout(ctx, defaultRequestTimeout)
	defer cancel()

	start := time.Now()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, e.cfg.TokenEndpoint, strings.NewReader(form.Encode()))
	if err != nil {
		return nil, &auth.ExchangeError{Kind: auth.ExchangeNetworkError}
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := e.client.Do(req)
	if err != nil {
		e.log.ErrorContext(ctx, "token endpoint unreachable", "error", err)
		return nil, &auth.ExchangeError{Kind: auth.ExchangeNetworkError}
	}
	defer resp.Body.Close()

	latency := time.Since(start).Milliseconds()

	var body tokenResponse
	if err := json.NewDecoder(io.LimitReader(resp.Body, 1<<20)).Decode(&body); err != nil && resp.StatusCode == http.StatusOK {
		e.log.ErrorContext(ctx, "token response decode failed", "error", err, "latency_ms", latency)
		return nil, &auth.ExchangeError{Kind: auth.ExchangeMalformedResponse}
	}

	if resp.StatusCode == http.StatusOK {
		if body.AccessToken == "" {
			e.log.ErrorContext(ctx, "token response missing access_token", "latency_ms", latency)
			return nil, &auth.ExchangeError{Kind: auth.ExchangeMalformedResponse}
		}
		e.log.InfoContext(ctx, "token exchange succeeded", "latency_ms", latency)
		tokenType := body.TokenType
		if tokenType == "" {
			tokenType = "Bearer"
		}
		return &auth.ExchangeResult{
			AccessToken: body.AccessToken,
			TokenType:   tokenType,
			ExpiresAt:   time.Now().Add(time.Duration(body.ExpiresIn) * time.Second),
		}, nil
	}

	if strings.Contains(body.Error, consentRequiredCode) ||
		strings.Contains(body.ErrorDescription, consentRequiredCode) ||
		strings.Contains(body.ErrorDescription, "has not consented") {
		e.log.ErrorContext(ctx, "exchange rejected: consent required",
			"status", resp.StatusCode, "error", body.Error,
			"description", body.ErrorDescription, "latency_ms", latency)
		return nil, &auth.ExchangeError{
			Kind:        auth.ExchangeConsentRequired,
			Code:        body.Error,
			Description: body.ErrorDescription,
			Remediation: "grant the downstream API permission as a delegated permission on the app registration, then re-authenticate",
		}
	}

	if resp.StatusCode == http.StatusTooManyRequests {
		e.log.ErrorContext(ctx, "exchange rate limited",
			"description", body.ErrorDescription, "latency_ms", latency)
		return nil, &auth.ExchangeError{
			Kind:        auth.ExchangeRateLimited,
			Code:        body.Error,
			Description: body.ErrorDescription,
		}
	}

	e.log.ErrorContext(ctx, "exchange rejected",
		"status", resp.StatusCode, "error", body.Error,
		"description", body.ErrorDescription, "latency_ms", latency)
	return nil, &auth.ExchangeError{
		Kind:        auth.ExchangeRejected,
		Code:        body.Error,
		Description: body.ErrorDescription,
	}
}

var _ auth.Exchanger = (*Exchanger)(nil)
