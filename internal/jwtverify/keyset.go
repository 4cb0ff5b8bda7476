package jwtverify

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"sync/atomic"
	"time"

	"github.com/MicahParks/jwkset"
)

// DefaultKeySetTTL bounds how long a fetched key set is served without
// attempting a refresh.
const DefaultKeySetTTL = time.Hour

// defaultFetchTimeout bounds the JWKS fetch when the caller's context has no
// deadline of its own.
const defaultFetchTimeout = 10 * time.Second

// SigningKey is one entry from the provider's published key set.
type SigningKey struct {
	KeyID     string
	Algorithm string
	Public    any
}

// KeySet is an immutable snapshot of the provider's signing keys. It is
// replaced wholesale on refresh, never mutated in place.
type KeySet struct {
	keys      map[string]SigningKey
	fetchedAt time.Time
}

// Key returns the signing key with the given kid, if present.
func (s *KeySet) Key(kid string) (SigningKey, bool) {
	k, ok := s.keys[kid]
	return k, ok
}

// KeyIDs lists the kids in the set, for diagnostics.
func (s *KeySet) KeyIDs() []string {
	ids := make([]string, 0, len(s.keys))
	for kid := range s.keys {
		ids = append(ids, kid)
	}
	return ids
}

// KeySetCache holds the most recently fetched KeySet and refreshes it on
// demand once the TTL elapses. There is no background poller. Concurrent
// refreshes racing on a simultaneous TTL expiry are tolerated: the result is
// at most a few redundant fetches, each of which publishes a complete
// snapshot via atomic swap.
type KeySetCache struct {
	uri    string
	ttl    time.Duration
	client *http.Client
	log    *slog.Logger

	cur atomic.Pointer[KeySet]
}

// NewKeySetCache builds a cache over the given JWKS URI. A zero ttl selects
// DefaultKeySetTTL; a nil client selects one with a bounded timeout.
func NewKeySetCache(uri string, ttl time.Duration, client *http.Client, log *slog.Logger) *KeySetCache {
	if ttl <= 0 {
		ttl = DefaultKeySetTTL
	}
	if client == nil {
		client = &http.Client{Timeout: defaultFetchTimeout}
	}
	if log == nil {
		log = slog.Default()
	}
	return &KeySetCache{uri: uri, ttl: ttl, client: client, log: log}
}

// Current returns the cached KeySet when it is within TTL, otherwise it
// attempts a refresh. When the refresh fails but an older set exists, that
// set is returned so the caller's kid lookup (and its single forced retry)
// can still proceed; the next call attempts a fresh fetch again.
func (c *KeySetCache) Current(ctx context.Context) (*KeySet, error) {
	if ks := c.cur.Load(); ks != nil && time.Since(ks.fetchedAt) < c.ttl {
		return ks, nil
	}
	ks, err := c.Refresh(ctx)
	if err != nil {
		if prev := c.cur.Load(); prev != nil {
			c.log.WarnContext(ctx, "jwks refresh failed, serving previous key set", "error", err)
			return prev, nil
		}
		return nil, err
	}
	return ks, nil
}

// Refresh fetches the JWKS document, parses it, and publishes the new
// snapshot. A failed fetch or an unusable document leaves the previously
// published set untouched.
func (c *KeySetCache) Refresh(ctx context.Context) (*KeySet, error) {
	ctx, cancel := context.WithTimeout(ctx, defaultFetchTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.uri, nil)
	if err != nil {
		return nil, fmt.Errorf("jwks request: %w", err)
	}
	resp, err := c.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("jwks fetch: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		// Drain a little of the body for the log line; never more.
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		c.log.ErrorContext(ctx, "jwks fetch returned non-200",
			"status", resp.StatusCode, "body", string(snippet))
		return nil, fmt.Errorf("jwks fetch: unexpected status %d", resp.StatusCode)
	}

	var doc jwkset.JWKSMarshal
	if err := json.NewDecoder(resp.Body).Decode(&doc); err != nil {
		return nil, fmt.Errorf("jwks decode: %w", err)
	}

	keys := make(map[string]SigningKey, len(doc.Keys))
	for _, m := range doc.Keys {
		if m.KID == "" || m.KTY != jwkset.KtyRSA {
			continue
		}
		jwk, err := jwkset.NewJWKFromMarshal(m, jwkset.JWKMarshalOptions{}, jwkset.JWKValidateOptions{})
		if err != nil {
			c.log.WarnContext(ctx, "skipping unusable jwk", "kid", m.KID, "error", err)
			continue
		}
		keys[m.KID] = SigningKey{KeyID: m.KID, Algorithm: string(m.ALG), Public: jwk.Key()}
	}
	if len(keys) == 0 {
		return nil, fmt.Errorf("jwks document contained no usable keys")
	}

	ks := &KeySet{keys: keys, fetchedAt: time.Now()}
	c.cur.Store(ks)
	c.log.InfoContext(ctx, "jwks refreshed", "keys", len(keys), "ttl", c.ttl)
	return ks, nil
}
