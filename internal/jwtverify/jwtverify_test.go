package jwtverify

import (
	"context"
	"errors"
	"reflect"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/entraguard/entraguard/auth"
	"github.com/entraguard/entraguard/auth/authtest"
)

const testClientID = "client-67890"

func newTestVerifier(t *testing.T, issuer *authtest.Issuer, mutate func(*Config)) *Verifier {
	t.Helper()
	cfg := Config{
		Issuer:   issuer.URL,
		ClientID: testClientID,
		JWKSURI:  issuer.JWKSURL(),
	}
	if mutate != nil {
		mutate(&cfg)
	}
	v, err := New(cfg)
	if err != nil {
		t.Fatalf("new verifier: %v", err)
	}
	return v
}

func baseClaims(issuer *authtest.Issuer) jwt.MapClaims {
	now := time.Now()
	return jwt.MapClaims{
		"iss": issuer.URL,
		"sub": "user-123",
		"azp": "party-456",
		"aud": testClientID,
		"exp": now.Add(time.Hour).Unix(),
		"iat": now.Unix(),
		"scp": "User.Read profile",
	}
}

func wantKind(t *testing.T, err error, want auth.VerifyFailureKind) {
	t.Helper()
	if err == nil {
		t.Fatalf("want %s failure, got success", want)
	}
	if !errors.Is(err, auth.ErrUnauthorized) {
		t.Fatalf("failure does not match ErrUnauthorized: %v", err)
	}
	kind, ok := auth.VerifyKindOf(err)
	if !ok {
		t.Fatalf("not a VerifyError: %v", err)
	}
	if kind != want {
		t.Fatalf("want kind %s, got %s", want, kind)
	}
}

func TestVerify_HappyPath(t *testing.T) {
	issuer := authtest.NewIssuer(t)
	v := newTestVerifier(t, issuer, nil)

	tok := issuer.Sign(t, baseClaims(issuer))
	p, err := v.Verify(context.Background(), tok)
	if err != nil {
		t.Fatalf("verify: %v", err)
	}
	if p.Subject != "user-123" {
		t.Fatalf("want subject user-123, got %s", p.Subject)
	}
	if p.AuthorizedParty != "party-456" {
		t.Fatalf("want authorized party party-456, got %s", p.AuthorizedParty)
	}
	wantScopes := []string{
		"api://" + testClientID + "/User.Read",
		"api://" + testClientID + "/profile",
	}
	if !reflect.DeepEqual(p.Scopes, wantScopes) {
		t.Fatalf("want scopes %v, got %v", wantScopes, p.Scopes)
	}
	if p.ExpiresAt.Before(time.Now().Add(50 * time.Minute)) {
		t.Fatalf("expiry not carried through: %v", p.ExpiresAt)
	}
	if iss, _ := p.Claims["iss"].(string); iss != issuer.URL {
		t.Fatalf("raw claims not carried through: %v", p.Claims["iss"])
	}
}

func TestVerify_AuthorizedPartyFallsBackToSubject(t *testing.T) {
	issuer := authtest.NewIssuer(t)
	v := newTestVerifier(t, issuer, nil)

	claims := baseClaims(issuer)
	delete(claims, "azp")
	p, err := v.Verify(context.Background(), issuer.Sign(t, claims))
	if err != nil {
		t.Fatalf("verify: %v", err)
	}
	if p.AuthorizedParty != "user-123" {
		t.Fatalf("want fallback to sub, got %s", p.AuthorizedParty)
	}
}

func TestVerify_RolesFallback(t *testing.T) {
	issuer := authtest.NewIssuer(t)
	v := newTestVerifier(t, issuer, nil)

	claims := baseClaims(issuer)
	delete(claims, "scp")
	claims["roles"] = []string{"Admin", "Reader"}
	p, err := v.Verify(context.Background(), issuer.Sign(t, claims))
	if err != nil {
		t.Fatalf("verify: %v", err)
	}
	wantScopes := []string{
		"api://" + testClientID + "/Admin",
		"api://" + testClientID + "/Reader",
	}
	if !reflect.DeepEqual(p.Scopes, wantScopes) {
		t.Fatalf("want scopes %v, got %v", wantScopes, p.Scopes)
	}
}

func TestVerify_ScpWinsOverRoles(t *testing.T) {
	issuer := authtest.NewIssuer(t)
	v := newTestVerifier(t, issuer, nil)

	claims := baseClaims(issuer)
	claims["scp"] = "User.Read"
	claims["roles"] = []string{"Admin"}
	p, err := v.Verify(context.Background(), issuer.Sign(t, claims))
	if err != nil {
		t.Fatalf("verify: %v", err)
	}
	wantScopes := []string{"api://" + testClientID + "/User.Read"}
	if !reflect.DeepEqual(p.Scopes, wantScopes) {
		t.Fatalf("roles must not be merged with scp: got %v", p.Scopes)
	}
}

func TestVerify_Expired(t *testing.T) {
	issuer := authtest.NewIssuer(t)
	v := newTestVerifier(t, issuer, nil)

	claims := baseClaims(issuer)
	claims["exp"] = time.Now().Add(-time.Hour).Unix()
	_, err := v.Verify(context.Background(), issuer.Sign(t, claims))
	wantKind(t, err, auth.VerifyExpired)
}

func TestVerify_WrongAudience(t *testing.T) {
	issuer := authtest.NewIssuer(t)
	v := newTestVerifier(t, issuer, nil)

	claims := baseClaims(issuer)
	claims["aud"] = "someone-else"
	_, err := v.Verify(context.Background(), issuer.Sign(t, claims))
	wantKind(t, err, auth.VerifyWrongAudience)
}

func TestVerify_WrongIssuer(t *testing.T) {
	issuer := authtest.NewIssuer(t)
	v := newTestVerifier(t, issuer, nil)

	claims := baseClaims(issuer)
	claims["iss"] = "https://evil.example.com"
	_, err := v.Verify(context.Background(), issuer.Sign(t, claims))
	wantKind(t, err, auth.VerifyWrongIssuer)
}

func TestVerify_MissingKidNoNetwork(t *testing.T) {
	issuer := authtest.NewIssuer(t)
	v := newTestVerifier(t, issuer, nil)

	// A kid-less header must be rejected before any JWKS traffic happens.
	tok := issuer.SignWithKeyID(t, "", baseClaims(issuer))
	_, err := v.Verify(context.Background(), tok)
	wantKind(t, err, auth.VerifyMalformedToken)
	if n := issuer.Fetches(); n != 0 {
		t.Fatalf("want 0 jwks fetches, got %d", n)
	}
}

func TestVerify_GarbageToken(t *testing.T) {
	issuer := authtest.NewIssuer(t)
	v := newTestVerifier(t, issuer, nil)

	_, err := v.Verify(context.Background(), "not-a-jwt")
	wantKind(t, err, auth.VerifyMalformedToken)
	if n := issuer.Fetches(); n != 0 {
		t.Fatalf("want 0 jwks fetches, got %d", n)
	}
}

func TestVerify_RejectsAlgNone(t *testing.T) {
	issuer := authtest.NewIssuer(t)
	v := newTestVerifier(t, issuer, nil)

	tok := jwt.NewWithClaims(jwt.SigningMethodNone, baseClaims(issuer))
	tok.Header["kid"] = issuer.KeyID()
	raw, err := tok.SignedString(jwt.UnsafeAllowNoneSignatureType)
	if err != nil {
		t.Fatalf("sign: %v", err)
	}
	_, verr := v.Verify(context.Background(), raw)
	wantKind(t, verr, auth.VerifyInvalidSignature)
}

func TestVerify_RejectsSymmetricAlg(t *testing.T) {
	issuer := authtest.NewIssuer(t)
	v := newTestVerifier(t, issuer, nil)

	tok := jwt.NewWithClaims(jwt.SigningMethodHS256, baseClaims(issuer))
	tok.Header["kid"] = issuer.KeyID()
	raw, err := tok.SignedString([]byte("shared-secret"))
	if err != nil {
		t.Fatalf("sign: %v", err)
	}
	_, verr := v.Verify(context.Background(), raw)
	wantKind(t, verr, auth.VerifyInvalidSignature)
}

func TestVerify_CacheReuseAndTTL(t *testing.T) {
	issuer := authtest.NewIssuer(t)
	v := newTestVerifier(t, issuer, func(c *Config) {
		c.KeySetTTL = 50 * time.Millisecond
	})

	tok := issuer.Sign(t, baseClaims(issuer))
	for i := 0; i < 2; i++ {
		if _, err := v.Verify(context.Background(), tok); err != nil {
			t.Fatalf("verify: %v", err)
		}
	}
	if n := issuer.Fetches(); n != 1 {
		t.Fatalf("want 1 jwks fetch within ttl, got %d", n)
	}

	time.Sleep(60 * time.Millisecond)
	if _, err := v.Verify(context.Background(), tok); err != nil {
		t.Fatalf("verify after ttl: %v", err)
	}
	if n := issuer.Fetches(); n != 2 {
		t.Fatalf("want 2 jwks fetches after ttl, got %d", n)
	}
}

func TestVerify_ForcedRefreshAbsorbsRotation(t *testing.T) {
	issuer := authtest.NewIssuer(t)
	v := newTestVerifier(t, issuer, nil)

	if _, err := v.Verify(context.Background(), issuer.Sign(t, baseClaims(issuer))); err != nil {
		t.Fatalf("verify before rotation: %v", err)
	}

	issuer.RotateKey(t)
	if _, err := v.Verify(context.Background(), issuer.Sign(t, baseClaims(issuer))); err != nil {
		t.Fatalf("verify after rotation: %v", err)
	}
	if n := issuer.Fetches(); n != 2 {
		t.Fatalf("want exactly one forced refresh (2 fetches), got %d", n)
	}
}

func TestVerify_UnknownSigningKey(t *testing.T) {
	issuer := authtest.NewIssuer(t)
	v := newTestVerifier(t, issuer, nil)

	tok := issuer.SignWithKeyID(t, "never-published", baseClaims(issuer))
	_, err := v.Verify(context.Background(), tok)
	wantKind(t, err, auth.VerifyUnknownSigningKey)
	if n := issuer.Fetches(); n != 2 {
		t.Fatalf("want initial fetch plus one forced refresh, got %d", n)
	}
}

func TestVerify_KeySetUnavailableColdCache(t *testing.T) {
	issuer := authtest.NewIssuer(t)
	issuer.FailJWKS(500)
	v := newTestVerifier(t, issuer, nil)

	_, err := v.Verify(context.Background(), issuer.Sign(t, baseClaims(issuer)))
	wantKind(t, err, auth.VerifyKeySetUnavailable)
}

func TestVerify_RetainedKeySetAfterFetchFailure(t *testing.T) {
	issuer := authtest.NewIssuer(t)
	v := newTestVerifier(t, issuer, func(c *Config) {
		c.KeySetTTL = 50 * time.Millisecond
	})

	tok := issuer.Sign(t, baseClaims(issuer))
	if _, err := v.Verify(context.Background(), tok); err != nil {
		t.Fatalf("verify: %v", err)
	}

	issuer.FailJWKS(500)
	time.Sleep(60 * time.Millisecond)

	// The refresh attempt fails, but the retained set still covers this kid.
	if _, err := v.Verify(context.Background(), tok); err != nil {
		t.Fatalf("verify with retained key set: %v", err)
	}
}
