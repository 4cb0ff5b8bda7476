package auth

import (
	"errors"
	"net/http"
	"strings"
	"testing"
)

func TestChallengeFor_VerifyFailures(t *testing.T) {
	ch := ChallengeFor("mcp", NewVerifyError(VerifyExpired))
	if ch.Status != http.StatusUnauthorized {
		t.Fatalf("want 401, got %d", ch.Status)
	}
	if !strings.Contains(ch.WWWAuthenticate, `error="invalid_token"`) {
		t.Fatalf("challenge header: %s", ch.WWWAuthenticate)
	}

	// Kinds other than expiry stay deliberately vague.
	ch = ChallengeFor("mcp", NewVerifyError(VerifyWrongIssuer))
	if strings.Contains(ch.WWWAuthenticate, "issuer") {
		t.Fatalf("challenge leaks verification internals: %s", ch.WWWAuthenticate)
	}
}

func TestChallengeFor_ExchangeFailures(t *testing.T) {
	ch := ChallengeFor("mcp", &ExchangeError{Kind: ExchangeConsentRequired})
	if ch.Status != http.StatusUnauthorized {
		t.Fatalf("consent required: want 401, got %d", ch.Status)
	}

	ch = ChallengeFor("mcp", &ExchangeError{Kind: ExchangeNetworkError})
	if ch.Status != http.StatusBadGateway {
		t.Fatalf("network error: want 502, got %d", ch.Status)
	}
}

func TestFailureSentinels(t *testing.T) {
	var err error = NewVerifyError(VerifyWrongAudience)
	if !errors.Is(err, ErrUnauthorized) {
		t.Fatal("VerifyError must match ErrUnauthorized")
	}
	if kind, ok := VerifyKindOf(err); !ok || kind != VerifyWrongAudience {
		t.Fatalf("kind extraction failed: %v %v", kind, ok)
	}

	err = &ExchangeError{Kind: ExchangeRateLimited, Code: "slow_down"}
	if !errors.Is(err, ErrExchangeFailed) {
		t.Fatal("ExchangeError must match ErrExchangeFailed")
	}
	if kind, ok := ExchangeKindOf(err); !ok || kind != ExchangeRateLimited {
		t.Fatalf("kind extraction failed: %v %v", kind, ok)
	}
	if !strings.Contains(err.Error(), "slow_down") {
		t.Fatalf("provider code missing from message: %s", err.Error())
	}
}

func TestVerifyErrorMessageStaysGeneric(t *testing.T) {
	msg := NewVerifyError(VerifyInvalidSignature).Error()
	if strings.Contains(msg, "eyJ") {
		t.Fatalf("message must never carry token material: %s", msg)
	}
	if msg != "auth: token rejected: invalid_signature" {
		t.Fatalf("unexpected message: %s", msg)
	}
}
