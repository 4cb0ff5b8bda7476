package auth

import "errors"

// ErrUnauthorized is matched (via errors.Is) by every *VerifyError. It lets
// callers treat all verification failures uniformly as "reject with 401, log
// server-side" without inspecting the kind.
var ErrUnauthorized = errors.New("auth: unauthorized")

// ErrExchangeFailed is matched (via errors.Is) by every *ExchangeError.
var ErrExchangeFailed = errors.New("auth: token exchange failed")

// VerifyFailureKind classifies why verification rejected a token.
type VerifyFailureKind string

const (
	// VerifyMalformedToken: the token could not be decoded, or its header
	// carries no key identifier.
	VerifyMalformedToken VerifyFailureKind = "malformed_token"
	// VerifyKeySetUnavailable: the provider's key set could not be fetched
	// and no previously fetched set exists.
	VerifyKeySetUnavailable VerifyFailureKind = "keyset_unavailable"
	// VerifyUnknownSigningKey: no published key matches the token's kid,
	// even after a forced key-set refresh.
	VerifyUnknownSigningKey VerifyFailureKind = "unknown_signing_key"
	// VerifyExpired: the token's exp is in the past.
	VerifyExpired VerifyFailureKind = "expired"
	// VerifyWrongAudience: the aud claim does not match the configured
	// audience.
	VerifyWrongAudience VerifyFailureKind = "wrong_audience"
	// VerifyWrongIssuer: the iss claim does not match the configured issuer.
	VerifyWrongIssuer VerifyFailureKind = "wrong_issuer"
	// VerifyInvalidSignature: signature check failed or the token uses a
	// disallowed algorithm.
	VerifyInvalidSignature VerifyFailureKind = "invalid_signature"
	// VerifyUnknown: any verification failure not covered above.
	VerifyUnknown VerifyFailureKind = "unknown"
)

// VerifyError is the tagged outcome of a failed verification. It carries only
// the failure kind: expected-vs-actual detail is logged server-side by the
// verifier and must not reach end users.
type VerifyError struct {
	Kind VerifyFailureKind
}

func (e *VerifyError) Error() string {
	return "auth: token rejected: " + string(e.Kind)
}

// Is makes every VerifyError match ErrUnauthorized.
func (e *VerifyError) Is(target error) bool { return target == ErrUnauthorized }

// NewVerifyError builds a tagged verification failure.
func NewVerifyError(kind VerifyFailureKind) *VerifyError {
	return &VerifyError{Kind: kind}
}

// VerifyKindOf extracts the failure kind from an error returned by a
// Verifier. The second result is false when err is not a *VerifyError.
func VerifyKindOf(err error) (VerifyFailureKind, bool) {
	var ve *VerifyError
	if errors.As(err, &ve) {
		return ve.Kind, true
	}
	return "", false
}

// ExchangeFailureKind classifies why an on-behalf-of exchange failed.
type ExchangeFailureKind string

const (
	// ExchangeAssertionExpiringSoon: the inbound token expires too soon for
	// a safe exchange; the user must re-authenticate.
	ExchangeAssertionExpiringSoon ExchangeFailureKind = "assertion_expiring_soon"
	// ExchangeNotConfigured: neither credential strategy is configured.
	ExchangeNotConfigured ExchangeFailureKind = "not_configured"
	// ExchangeConsentRequired: the provider rejected the exchange because
	// the user has not consented to the downstream permission.
	ExchangeConsentRequired ExchangeFailureKind = "consent_required"
	// ExchangeRateLimited: the provider responded 429.
	ExchangeRateLimited ExchangeFailureKind = "rate_limited"
	// ExchangeRejected: any other provider-side rejection; Code and
	// Description carry the provider's OAuth error object.
	ExchangeRejected ExchangeFailureKind = "rejected"
	// ExchangeMalformedResponse: a 200 response missing the access token.
	ExchangeMalformedResponse ExchangeFailureKind = "malformed_provider_response"
	// ExchangeNetworkError: the token endpoint could not be reached.
	ExchangeNetworkError ExchangeFailureKind = "network_error"
	// ExchangeManagedIdentityUnavailable: the managed-identity token backing
	// the federated assertion could not be obtained.
	ExchangeManagedIdentityUnavailable ExchangeFailureKind = "managed_identity_unavailable"
)

// ExchangeError is the tagged outcome of a failed exchange.
type ExchangeError struct {
	Kind ExchangeFailureKind

	// Code is the provider's OAuth error code (e.g. "invalid_grant"), when
	// one was returned.
	Code string

	// Description is the provider's error_description. Intended for
	// server-side logs and operator tooling, not end users.
	Description string

	// Remediation is an actionable hint set for conditions an operator can
	// fix, such as missing admin consent.
	Remediation string
}

func (e *ExchangeError) Error() string {
	msg := "auth: token exchange failed: " + string(e.Kind)
	if e.Code != "" {
		msg += " (" + e.Code + ")"
	}
	return msg
}

// Is makes every ExchangeError match ErrExchangeFailed.
func (e *ExchangeError) Is(target error) bool { return target == ErrExchangeFailed }

// ExchangeKindOf extracts the failure kind from an error returned by an
// Exchanger. The second result is false when err is not a *ExchangeError.
func ExchangeKindOf(err error) (ExchangeFailureKind, bool) {
	var xe *ExchangeError
	if errors.As(err, &xe) {
		return xe.Kind, true
	}
	return "", false
}
