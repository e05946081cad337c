// ABOUTME: OAuth endpoint configuration for each supported CRM
// ABOUTME: Knows how each provider reports the account a token belongs to
package token

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"

	"golang.org/x/oauth2"
)

const (
	DefaultSalesforceLoginURL = "https://login.salesforce.com"
	hubSpotAuthURL            = "https://app.hubspot.com/oauth/authorize"
)

// ProviderConfig is the OAuth client of one provider.
type ProviderConfig struct {
	OAuth *oauth2.Config
	// ResolveAccountID returns the Salesforce instance URL or HubSpot portal id
	// for a freshly exchanged token. Nil means the provider has none.
	ResolveAccountID func(ctx context.Context, client *http.Client, tok *oauth2.Token) (string, error)
}

// NewSalesforceConfig builds the connected-app OAuth client. loginURL may
// point at a sandbox (https://test.salesforce.com).
func NewSalesforceConfig(clientID, clientSecret, redirectURL, loginURL string) ProviderConfig {
	loginURL = strings.TrimRight(strings.TrimSpace(loginURL), "/")
	if loginURL == "" {
		loginURL = DefaultSalesforceLoginURL
	}

	return ProviderConfig{
		OAuth: &oauth2.Config{
			ClientID:     clientID,
			ClientSecret: clientSecret,
			RedirectURL:  redirectURL,
			Scopes:       []string{"api", "refresh_token"},
			Endpoint: oauth2.Endpoint{
				AuthURL:   loginURL + "/services/oauth2/authorize",
				TokenURL:  loginURL + "/services/oauth2/token",
				AuthStyle: oauth2.AuthStyleInParams,
			},
		},
		ResolveAccountID: salesforceInstanceURL,
	}
}

func salesforceInstanceURL(_ context.Context, _ *http.Client, tok *oauth2.Token) (string, error) {
	instance, _ := tok.Extra("instance_url").(string)
	if instance == "" {
		return "", fmt.Errorf("salesforce token response has no instance_url")
	}
	return instance, nil
}

// NewHubSpotConfig builds the HubSpot app OAuth client. apiBaseURL defaults
// to the public API host.
func NewHubSpotConfig(clientID, clientSecret, redirectURL, apiBaseURL string) ProviderConfig {
	apiBaseURL = strings.TrimRight(strings.TrimSpace(apiBaseURL), "/")
	if apiBaseURL == "" {
		apiBaseURL = "https://api.hubapi.com"
	}

	return ProviderConfig{
		OAuth: &oauth2.Config{
			ClientID:     clientID,
			ClientSecret: clientSecret,
			RedirectURL:  redirectURL,
			Scopes:       []string{"crm.objects.contacts.read", "crm.objects.contacts.write"},
			Endpoint: oauth2.Endpoint{
				AuthURL:   hubSpotAuthURL,
				TokenURL:  apiBaseURL + "/oauth/v1/token",
				AuthStyle: oauth2.AuthStyleInParams,
			},
		},
		ResolveAccountID: func(ctx context.Context, client *http.Client, tok *oauth2.Token) (string, error) {
			return hubSpotPortalID(ctx, client, apiBaseURL, tok.AccessToken)
		},
	}
}

// hubSpotPortalID reads hub_id from the access-token introspection endpoint.
func hubSpotPortalID(ctx context.Context, client *http.Client, apiBaseURL, accessToken string) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, apiBaseURL+"/oauth/v1/access-tokens/"+url.PathEscape(accessToken), nil)
	if err != nil {
		return "", err
	}
	resp, err := client.Do(req)
	if err != nil {
		return "", fmt.Errorf("failed to fetch hubspot token info: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", err
	}
	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("hubspot token info returned status %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}

	var info struct {
		HubID json.Number `json:"hub_id"`
	}
	if err := json.Unmarshal(body, &info); err != nil {
		return "", fmt.Errorf("failed to decode hubspot token info: %w", err)
	}
	if info.HubID == "" {
		return "", fmt.Errorf("hubspot token info has no hub_id")
	}
	return info.HubID.String(), nil
}
