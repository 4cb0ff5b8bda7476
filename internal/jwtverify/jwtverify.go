// Package jwtverify implements bearer-token verification against an identity
// provider's published JWKS, with an on-demand, TTL-bounded key-set cache.
package jwtverify

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/entraguard/entraguard/auth"
	"github.com/entraguard/entraguard/logctx"
)

// Config controls validation behavior for access tokens.
type Config struct {
	// Issuer is the exact iss value tokens must carry.
	Issuer string

	// ClientID is the application (client) id. It namespaces extracted
	// scopes and is the default expected audience.
	ClientID string

	// Audience overrides the expected aud claim. Empty means ClientID.
	Audience string

	// JWKSURI is the provider's published key-set endpoint.
	JWKSURI string

	// Leeway adds clock-skew tolerance to time-based claims.
	Leeway time.Duration

	// KeySetTTL bounds key-set cache freshness. Zero means DefaultKeySetTTL.
	KeySetTTL time.Duration

	// HTTPClient performs the JWKS fetches. Nil selects a client with a
	// bounded timeout.
	HTTPClient *http.Client

	// Logger receives verification diagnostics. Nil means slog.Default().
	Logger *slog.Logger
}

// Verifier validates inbound bearer tokens. It owns the key-set cache and is
// safe for concurrent use.
type Verifier struct {
	cfg      Config
	audience string
	keys     *KeySetCache
	log      *slog.Logger
}

// New builds a Verifier from explicit configuration.
func New(cfg Config) (*Verifier, error) {
	if cfg.Issuer == "" {
		return nil, errors.New("jwtverify: issuer is required")
	}
	if cfg.ClientID == "" {
		return nil, errors.New("jwtverify: client id is required")
	}
	if cfg.JWKSURI == "" {
		return nil, errors.New("jwtverify: jwks uri is required")
	}
	aud := cfg.Audience
	if aud == "" {
		aud = cfg.ClientID
	}
	log := cfg.Logger
	if log == nil {
		log = slog.Default()
	}
	return &Verifier{
		cfg:      cfg,
		audience: aud,
		keys:     NewKeySetCache(cfg.JWKSURI, cfg.KeySetTTL, cfg.HTTPClient, log),
		log:      log,
	}, nil
}

// Verify validates rawToken and produces the caller's principal. Every
// failure path yields a *auth.VerifyError; diagnostic detail stays in the
// server-side log.
func (v *Verifier) Verify(ctx context.Context, rawToken string) (*auth.Principal, error) {
	// The unverified header read exists only to locate the signing key; no
	// claim from it is trusted until the signature checks out.
	unverified, _, err := jwt.NewParser().ParseUnverified(rawToken, jwt.MapClaims{})
	if err != nil {
		v.log.ErrorContext(ctx, "token decode failed", "error", err)
		return nil, auth.NewVerifyError(auth.VerifyMalformedToken)
	}
	kid, _ := unverified.Header["kid"].(string)
	if kid == "" {
		v.log.ErrorContext(ctx, "token header missing kid")
		return nil, auth.NewVerifyError(auth.VerifyMalformedToken)
	}

	ctx = logctx.WithVerifyData(ctx, &logctx.VerifyData{KeyID: kid, Issuer: v.cfg.Issuer})

	keySet, err := v.keys.Current(ctx)
	if err != nil {
		v.log.ErrorContext(ctx, "key set unavailable", "error", err)
		return nil, auth.NewVerifyError(auth.VerifyKeySetUnavailable)
	}

	key, ok := keySet.Key(kid)
	if !ok {
		// One forced refresh absorbs provider key rotation; a second miss is
		// a real failure.
		if fresh, rerr := v.keys.Refresh(ctx); rerr == nil {
			key, ok = fresh.Key(kid)
		}
		if !ok {
			v.log.ErrorContext(ctx, "signing key not found",
				"kid", kid, "available", keySet.KeyIDs())
			return nil, auth.NewVerifyError(auth.VerifyUnknownSigningKey)
		}
	}

	// RS256 only. Accepting other algorithms (or "none") is a security hole,
	// not a configuration choice.
	parser := jwt.NewParser(
		jwt.WithValidMethods([]string{"RS256"}),
		jwt.WithExpirationRequired(),
		jwt.WithIssuer(v.cfg.Issuer),
		jwt.WithAudience(v.audience),
		jwt.WithLeeway(v.cfg.Leeway),
	)
	parsed, err := parser.Parse(rawToken, func(t *jwt.Token) (any, error) {
		return key.Public, nil
	})
	if err != nil {
		return nil, v.classify(ctx, parsed, err)
	}

	claims, ok := parsed.Claims.(jwt.MapClaims)
	if !ok {
		v.log.ErrorContext(ctx, "unexpected claims type")
		return nil, auth.NewVerifyError(auth.VerifyUnknown)
	}

	principal := v.principalFromClaims(claims)
	v.log.InfoContext(ctx, "token verified",
		"sub", principal.Subject, "scopes", principal.Scopes)
	return principal, nil
}

// classify maps a parse/validation error to the failure taxonomy, logging
// expected vs. actual values where the parsed claims allow it.
func (v *Verifier) classify(ctx context.Context, parsed *jwt.Token, err error) error {
	var actualIss, actualAud any
	if parsed != nil {
		if claims, ok := parsed.Claims.(jwt.MapClaims); ok {
			actualIss = claims["iss"]
			actualAud = claims["aud"]
		}
	}

	switch {
	case errors.Is(err, jwt.ErrTokenExpired):
		v.log.WarnContext(ctx, "token expired")
		return auth.NewVerifyError(auth.VerifyExpired)
	case errors.Is(err, jwt.ErrTokenInvalidAudience):
		v.log.ErrorContext(ctx, "invalid audience",
			"expected", v.audience, "actual", actualAud)
		return auth.NewVerifyError(auth.VerifyWrongAudience)
	case errors.Is(err, jwt.ErrTokenInvalidIssuer):
		v.log.ErrorContext(ctx, "invalid issuer",
			"expected", v.cfg.Issuer, "actual", actualIss)
		return auth.NewVerifyError(auth.VerifyWrongIssuer)
	case errors.Is(err, jwt.ErrTokenMalformed):
		v.log.ErrorContext(ctx, "token decode failed", "error", err)
		return auth.NewVerifyError(auth.VerifyMalformedToken)
	case errors.Is(err, jwt.ErrTokenSignatureInvalid), errors.Is(err, jwt.ErrTokenUnverifiable):
		v.log.ErrorContext(ctx, "signature verification failed", "error", err)
		return auth.NewVerifyError(auth.VerifyInvalidSignature)
	default:
		v.log.ErrorContext(ctx, "token verification failed", "error", err)
		return auth.NewVerifyError(auth.VerifyUnknown)
	}
}

func (v *Verifier) principalFromClaims(claims jwt.MapClaims) *auth.Principal {
	// scp is a space-separated string; roles is an ordered list. scp wins
	// when present and non-empty, and the two are never merged.
	var raw []string
	if scp, ok := claims["scp"].(string); ok && strings.TrimSpace(scp) != "" {
		raw = strings.Fields(scp)
	} else if roles, ok := claims["roles"].([]any); ok {
		for _, r := range roles {
			if s, ok := r.(string); ok && s != "" {
				raw = append(raw, s)
			}
		}
	}
	scopes := make([]string, 0, len(raw))
	for _, s := range raw {
		scopes = append(scopes, "api://"+v.cfg.ClientID+"/"+s)
	}

	sub, _ := claims["sub"].(string)
	azp, _ := claims["azp"].(string)
	party := azp
	if party == "" {
		party = sub
	}
	if party == "" {
		party = "unknown"
	}

	var expiresAt time.Time
	if exp, err := claims.GetExpirationTime(); err == nil && exp != nil {
		expiresAt = exp.Time
	}

	return &auth.Principal{
		Subject:         sub,
		AuthorizedParty: party,
		Scopes:          scopes,
		Claims:          map[string]any(claims),
		ExpiresAt:       expiresAt,
	}
}

var _ auth.Verifier = (*Verifier)(nil)
