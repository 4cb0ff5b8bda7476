package auth

import (
	"context"
	"time"
)

// Principal is the verified identity and authorization context derived from
// a bearer token. It is a transient result value: created only by a
// Verifier, immutable by convention, never persisted.
type Principal struct {
	// Subject is the token's sub claim.
	Subject string

	// AuthorizedParty identifies the party the token was issued to: the azp
	// claim when present, else sub, else the literal "unknown".
	AuthorizedParty string

	// Scopes holds provider-namespaced capability URIs in token order, each
	// of the form "api://{clientID}/{scope}".
	Scopes []string

	// Claims is the raw claim set as presented in the token. Downstream code
	// must treat these as informational; they are not re-validated.
	Claims map[string]any

	// ExpiresAt is the token's expiry instant.
	ExpiresAt time.Time
}

// HasScope reports whether the principal carries the given namespaced scope.
func (p *Principal) HasScope(scope string) bool {
	for _, s := range p.Scopes {
		if s == scope {
			return true
		}
	}
	return false
}

// ExchangeResult is a downstream-scoped access token obtained via the
// on-behalf-of flow. It is never cached by this library; each Exchange call
// performs a fresh exchange.
type ExchangeResult struct {
	AccessToken string
	TokenType   string
	ExpiresAt   time.Time
}

// Verifier validates an inbound bearer token against the identity provider's
// published signing keys. Verify is total over its input: malformed tokens
// produce a *VerifyError, never a panic. Implementations must be safe for
// concurrent use.
type Verifier interface {
	Verify(ctx context.Context, rawToken string) (*Principal, error)
}

// Exchanger trades an already-verified bearer token for a token scoped to a
// downstream API, acting on behalf of the token's user. The originalToken is
// the raw string presented by the caller; an Exchanger does not require a
// parsed Principal. Implementations fail closed and must be safe for
// concurrent use.
type Exchanger interface {
	Exchange(ctx context.Context, originalToken string, downstreamScope string) (*ExchangeResult, error)
}
