// ABOUTME: Error taxonomy for OAuth and CRM provider failures
// ABOUTME: Typed errors let callers tell auth, connectivity and API failures apart with errors.As
package crm

import (
	"fmt"
	"strings"
)

// OAuthExchangeError means the provider rejected an authorization code.
type OAuthExchangeError struct {
	Provider   string
	StatusCode int
	Body       string
	Err        error
}

func (e *OAuthExchangeError) Error() string {
	if e.Body != "" {
		return fmt.Sprintf("%s oauth code exchange failed (status %d): %s", e.Provider, e.StatusCode, strings.TrimSpace(e.Body))
	}
	return fmt.Sprintf("%s oauth code exchange failed: %v", e.Provider, e.Err)
}

func (e *OAuthExchangeError) Unwrap() error { return e.Err }

// TokenRefreshError means the provider rejected a refresh token. The
// integration is disconnected when this happens.
type TokenRefreshError struct {
	Provider   string
	StatusCode int
	Body       string
	Err        error
}

func (e *TokenRefreshError) Error() string {
	if e.Body != "" {
		return fmt.Sprintf("%s token refresh failed (status %d): %s", e.Provider, e.StatusCode, strings.TrimSpace(e.Body))
	}
	return fmt.Sprintf("%s token refresh failed: %v", e.Provider, e.Err)
}

func (e *TokenRefreshError) Unwrap() error { return e.Err }

// NotConnectedError means no usable access token exists. No network call was made.
type NotConnectedError struct {
	Provider string
	Reason   string
}

func (e *NotConnectedError) Error() string {
	if e.Reason != "" {
		return fmt.Sprintf("%s is not connected: %s", e.Provider, e.Reason)
	}
	return fmt.Sprintf("%s is not connected", e.Provider)
}

// ProviderAPIError is a non-2xx answer from a CRM API. Body keeps the raw
// response text for operators.
type ProviderAPIError struct {
	Provider   string
	Method     string
	Path       string
	StatusCode int
	Body       string
}

func (e *ProviderAPIError) Error() string {
	return fmt.Sprintf("%s api %s %s failed: status=%d body=%s", e.Provider, e.Method, e.Path, e.StatusCode, strings.TrimSpace(e.Body))
}
