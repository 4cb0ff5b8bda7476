package auth

import (
	"errors"
	"fmt"
	"net/http"
)

// Challenge describes the HTTP response a transport should send for a failed
// request (status plus WWW-Authenticate header). The header value never
// echoes verification internals; descriptions are deliberately generic.
type Challenge struct {
	Status          int
	WWWAuthenticate string
}

// NewAuthenticationRequired builds a challenge indicating credentials are
// required for the given realm.
func NewAuthenticationRequired(realm string) Challenge {
	return Challenge{
		Status:          http.StatusUnauthorized,
		WWWAuthenticate: fmt.Sprintf(`Bearer realm="%s"`, realm),
	}
}

// NewInvalidTokenChallenge builds a challenge indicating the presented token
// was rejected.
func NewInvalidTokenChallenge(realm string, description string) Challenge {
	return Challenge{
		Status:          http.StatusUnauthorized,
		WWWAuthenticate: fmt.Sprintf(`Bearer realm="%s" error="invalid_token", error_description="%s"`, realm, description),
	}
}

// ChallengeFor maps an error returned by a Verifier or Exchanger to an HTTP
// challenge. Verification failures always map to 401. Exchange failures map
// to 401 when the user can fix the condition (stale assertion, missing
// consent) and to 502 when the provider or the deployment is at fault.
func ChallengeFor(realm string, err error) Challenge {
	var ve *VerifyError
	if errors.As(err, &ve) {
		switch ve.Kind {
		case VerifyExpired:
			return NewInvalidTokenChallenge(realm, "token expired")
		default:
			return NewInvalidTokenChallenge(realm, "token verification failed")
		}
	}

	var xe *ExchangeError
	if errors.As(err, &xe) {
		switch xe.Kind {
		case ExchangeAssertionExpiringSoon:
			return NewInvalidTokenChallenge(realm, "token expiring soon, re-authentication required")
		case ExchangeConsentRequired:
			return NewInvalidTokenChallenge(realm, "consent required for downstream API access")
		default:
			return Challenge{Status: http.StatusBadGateway}
		}
	}

	return NewAuthenticationRequired(realm)
}
