// Package authtest provides an in-process identity provider for tests: it
// serves a JWKS document (and OIDC discovery metadata) over HTTP and signs
// RS256 access tokens with the matching private key.
package authtest

import (
	"crypto/rand"
	"crypto/rsa"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"

	jose "github.com/go-jose/go-jose/v4"
	"github.com/golang-jwt/jwt/v5"
)

// Issuer is a fake identity provider. Zero configuration: construct with
// NewIssuer, sign tokens with Sign, and point a verifier at JWKSURL.
type Issuer struct {
	// URL is the base URL of the backing test server. Tokens signed by this
	// issuer should carry it as their iss claim.
	URL string

	mu         sync.Mutex
	key        *rsa.PrivateKey
	keyID      string
	generation int
	fetches    int
	failStatus int

	srv *httptest.Server
}

// NewIssuer starts the fake provider. The server is shut down automatically
// when the test finishes.
func NewIssuer(t *testing.T) *Issuer {
	t.Helper()

	i := &Issuer{}
	i.rotate(t)

	mux := http.NewServeMux()
	mux.HandleFunc("/discovery/v2.0/keys", i.serveJWKS)
	mux.HandleFunc("/.well-known/openid-configuration", i.serveMetadata)

	i.srv = httptest.NewServer(mux)
	i.URL = i.srv.URL
	t.Cleanup(i.srv.Close)
	return i
}

// JWKSURL is the key-set endpoint served by this issuer.
func (i *Issuer) JWKSURL() string { return i.URL + "/discovery/v2.0/keys" }

// TokenEndpoint is the token endpoint advertised in discovery metadata. The
// issuer does not implement it; exchange tests bring their own.
func (i *Issuer) TokenEndpoint() string { return i.URL + "/oauth2/v2.0/token" }

// KeyID returns the kid of the current signing key.
func (i *Issuer) KeyID() string {
	i.mu.Lock()
	defer i.mu.Unlock()
	return i.keyID
}

// Fetches reports how many times the JWKS endpoint was hit.
func (i *Issuer) Fetches() int {
	i.mu.Lock()
	defer i.mu.Unlock()
	return i.fetches
}

// FailJWKS makes subsequent JWKS fetches answer with the given status.
// Status zero restores normal serving.
func (i *Issuer) FailJWKS(status int) {
	i.mu.Lock()
	defer i.mu.Unlock()
	i.failStatus = status
}

// RotateKey replaces the signing key with a fresh one under a new kid,
// simulating provider key rotation. Previously served keys disappear from
// the JWKS document.
func (i *Issuer) RotateKey(t *testing.T) {
	t.Helper()
	i.rotate(t)
}

func (i *Issuer) rotate(t *testing.T) {
	t.Helper()
	key, err := rsa.GenerateKey(rand.Reader, 2048)
	if err != nil {
		t.Fatalf("generate rsa key: %v", err)
	}
	i.mu.Lock()
	defer i.mu.Unlock()
	i.generation++
	i.key = key
	i.keyID = fmt.Sprintf("test-key-%d", i.generation)
}

// Sign issues an RS256 token with the current key. The caller supplies all
// claims; nothing is defaulted.
func (i *Issuer) Sign(t *testing.T, claims jwt.MapClaims) string {
	t.Helper()
	i.mu.Lock()
	kid := i.keyID
	i.mu.Unlock()
	return i.SignWithKeyID(t, kid, claims)
}

// SignWithKeyID issues a token carrying an arbitrary kid header, which may
// or may not match a published key.
func (i *Issuer) SignWithKeyID(t *testing.T, kid string, claims jwt.MapClaims) string {
	t.Helper()
	tok := jwt.NewWithClaims(jwt.SigningMethodRS256, claims)
	tok.Header["kid"] = kid

	i.mu.Lock()
	key := i.key
	i.mu.Unlock()

	s, err := tok.SignedString(key)
	if err != nil {
		t.Fatalf("sign token: %v", err)
	}
	return s
}

func (i *Issuer) serveJWKS(w http.ResponseWriter, r *http.Request) {
	i.mu.Lock()
	i.fetches++
	fail := i.failStatus
	set := jose.JSONWebKeySet{Keys: []jose.JSONWebKey{{
		Key:       &i.key.PublicKey,
		KeyID:     i.keyID,
		Algorithm: "RS256",
		Use:       "sig",
	}}}
	i.mu.Unlock()

	if fail != 0 {
		http.Error(w, "jwks unavailable", fail)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(set)
}

func (i *Issuer) serveMetadata(w http.ResponseWriter, r *http.Request) {
	meta := map[string]any{
		"issuer":                   i.URL,
		"jwks_uri":                 i.JWKSURL(),
		"authorization_endpoint":   i.URL + "/oauth2/v2.0/authorize",
		"token_endpoint":           i.TokenEndpoint(),
		"response_types_supported": []string{"code"},
	}
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(meta)
}
