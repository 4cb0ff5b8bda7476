// Package auth defines the contracts for bearer-token verification and
// on-behalf-of (OBO) token exchange against an enterprise identity provider.
//
// The public surface intentionally stays small: a Verifier validates an
// inbound bearer token string and returns a Principal (or a *VerifyError),
// and an Exchanger trades an already-verified token for a new token scoped
// to a downstream API (or a *ExchangeError). The hosting process is
// responsible for extracting the token from the Authorization header and for
// mapping failures into protocol-specific responses; ChallengeFor helps with
// the HTTP case.
//
// # Verification
//
// A Verifier fails closed: every malformed, expired, mis-audienced or
// otherwise unacceptable token yields a *VerifyError tagged with a
// VerifyFailureKind. The error message never includes the raw token, key
// material, or issuer internals; diagnostic detail is logged server-side by
// the implementation.
//
//	principal, err := verifier.Verify(r.Context(), bearerToken)
//	if errors.Is(err, auth.ErrUnauthorized) { /* map to 401 challenge */ }
//
// # Exchange
//
// An Exchanger performs a fresh exchange on every call; exchanged tokens are
// never cached because the user and scope vary per invocation. Failures are
// tagged with an ExchangeFailureKind so callers can distinguish actionable
// conditions (consent missing, assertion expiring) from transport problems.
//
//	res, err := exchanger.Exchange(ctx, bearerToken, "User.Read")
//	var xerr *auth.ExchangeError
//	if errors.As(err, &xerr) && xerr.Kind == auth.ExchangeConsentRequired {
//	    // surface xerr.Remediation to an operator, re-prompt the user
//	}
//
// Concrete implementations for Microsoft Entra ID live in the entra package.
package auth
