// ABOUTME: Tests for provider OAuth configuration
// ABOUTME: Checks endpoints and account id resolution for Salesforce and HubSpot
package token

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/oauth2"
)

func TestSalesforceConfigDefaults(t *testing.T) {
	cfg := NewSalesforceConfig("id", "secret", "http://localhost/cb", "")

	assert.Equal(t, "https://login.salesforce.com/services/oauth2/token", cfg.OAuth.Endpoint.TokenURL)
	assert.Contains(t, cfg.OAuth.Scopes, "refresh_token")

	tok := (&oauth2.Token{AccessToken: "a"}).WithExtra(map[string]interface{}{"instance_url": "https://acme.my.salesforce.com"})
	accountID, err := cfg.ResolveAccountID(context.Background(), http.DefaultClient, tok)
	require.NoError(t, err)
	assert.Equal(t, "https://acme.my.salesforce.com", accountID)

	_, err = cfg.ResolveAccountID(context.Background(), http.DefaultClient, &oauth2.Token{AccessToken: "a"})
	assert.Error(t, err)
}

func TestHubSpotConfigResolvesPortal(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/oauth/v1/access-tokens/hs-access", r.URL.Path)
		_, _ = w.Write([]byte(`{"token":"hs-access","hub_id":62515,"user":"admin@example.com"}`))
	}))
	defer server.Close()

	cfg := NewHubSpotConfig("id", "secret", "http://localhost/cb", server.URL)
	assert.Equal(t, server.URL+"/oauth/v1/token", cfg.OAuth.Endpoint.TokenURL)
	assert.Equal(t, "https://app.hubspot.com/oauth/authorize", cfg.OAuth.Endpoint.AuthURL)

	accountID, err := cfg.ResolveAccountID(context.Background(), server.Client(), &oauth2.Token{AccessToken: "hs-access"})
	require.NoError(t, err)
	assert.Equal(t, "62515", accountID)
}

func TestHubSpotPortalLookupFailure(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	}))
	defer server.Close()

	_, err := hubSpotPortalID(context.Background(), server.Client(), server.URL, "missing")
	assert.Error(t, err)
}
