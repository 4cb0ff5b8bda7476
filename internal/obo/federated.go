package obo

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"

	"github.com/entraguard/entraguard/auth"
)

// tokenExchangeAudience is the fixed audience a managed-identity token must
// carry to be accepted as a federated client assertion.
const tokenExchangeAudience = "api://AzureADTokenExchange"

// defaultIMDSEndpoint is the Azure instance-metadata identity endpoint,
// reachable only from inside an Azure-managed network.
const defaultIMDSEndpoint = "http://169.254.169.254/metadata/identity/oauth2/token"

const imdsAPIVersion = "2018-02-01"

// exchangeWithFederatedAssertion runs the secretless strategy: obtain a
// short-lived token for the configured managed identity, then use it as the
// client assertion in the on-behalf-of request. The user's original token
// stays the user-assertion parameter.
func (e *Exchanger) exchangeWithFederatedAssertion(ctx context.Context, originalToken, scope string) (*auth.ExchangeResult, error) {
	miToken, err := e.managedIdentityToken(ctx)
	if err != nil {
		e.log.ErrorContext(ctx, "managed identity token unavailable", "error", err)
		return nil, &auth.ExchangeError{
			Kind:        auth.ExchangeManagedIdentityUnavailable,
			Remediation: "federated assertions require a managed identity; outside Azure, configure a client secret instead",
		}
	}

	form := url.Values{
		"client_id":             {e.cfg.ClientID},
		"client_assertion_type": {clientAssertionTypeBearer},
		"client_assertion":      {miToken},
		"grant_type":            {grantTypeJWTBearer},
		"requested_token_use":   {"on_behalf_of"},
		"scope":                 {scope},
		"assertion":             {originalToken},
	}
	return e.postTokenRequest(ctx, form)
}

// managedIdentityToken fetches a token for the managed identity from the
// instance-metadata endpoint, scoped to the token-exchange audience.
func (e *Exchanger) managedIdentityToken(ctx context.Context) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, defaultRequestTimeout)
	defer cancel()

	endpoint := e.cfg.IMDSEndpoint
	if endpoint == "" {
		endpoint = defaultIMDSEndpoint
	}

	q := url.Values{
		"api-version": {imdsAPIVersion},
		"resource":    {tokenExchangeAudience},
		"client_id":   {e.cfg.ManagedIdentityClientID},
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint+"?"+q.Encode(), nil)
	if err != nil {
		return "", fmt.Errorf("imds request: %w", err)
	}
	req.Header.Set("Metadata", "true")

	resp, err := e.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("imds fetch: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return "", fmt.Errorf("imds fetch: unexpected status %d: %s", resp.StatusCode, snippet)
	}

	var body struct {
		AccessToken string `json:"access_token"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return "", fmt.Errorf("imds decode: %w", err)
	}
	if body.AccessToken == "" {
		return "", fmt.Errorf("imds response missing access_token")
	}
	return body.AccessToken, nil
}
