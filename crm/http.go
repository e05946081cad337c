// ABOUTME: Shared authenticated JSON-over-HTTP plumbing for CRM clients
// ABOUTME: Resolves credentials before every call and maps non-2xx answers to ProviderAPIError
package crm

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"go.uber.org/zap"
)

// DefaultRequestTimeout bounds every outbound CRM call.
const DefaultRequestTimeout = 20 * time.Second

// ClientOptions configure a provider client. Zero values get defaults.
type ClientOptions struct {
	// BaseURL overrides the API host. Salesforce ignores it and uses the
	// instance URL from the stored credentials.
	BaseURL    string
	HTTPClient *http.Client
	Logger     *zap.Logger
	UserAgent  string
}

type apiClient struct {
	provider   string
	creds      CredentialSource
	httpClient *http.Client
	logger     *zap.Logger
	userAgent  string
}

func newAPIClient(provider string, creds CredentialSource, opts ClientOptions) apiClient {
	httpClient := opts.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{Timeout: DefaultRequestTimeout}
	}
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	userAgent := strings.TrimSpace(opts.UserAgent)
	if userAgent == "" {
		userAgent = "crmsync/1.0"
	}
	return apiClient{
		provider:   provider,
		creds:      creds,
		httpClient: httpClient,
		logger:     logger.Named(provider),
		userAgent:  userAgent,
	}
}

func (c apiClient) credentials(ctx context.Context) (Credentials, error) {
	creds, err := c.creds.Credentials(ctx, c.provider)
	if err != nil {
		return Credentials{}, err
	}
	if strings.TrimSpace(creds.AccessToken) == "" {
		return Credentials{}, &NotConnectedError{Provider: c.provider, Reason: "no access token"}
	}
	return creds, nil
}

// doJSON sends body (if any) as JSON and decodes a 2xx answer into out (if
// any). It returns the raw response text.
func (c apiClient) doJSON(ctx context.Context, token, method, url string, body, out any) (string, error) {
	var reader io.Reader
	if body != nil {
		encoded, err := json.Marshal(body)
		if err != nil {
			return "", fmt.Errorf("failed to encode %s request: %w", c.provider, err)
		}
		reader = bytes.NewReader(encoded)
	}

	req, err := http.NewRequestWithContext(ctx, method, url, reader)
	if err != nil {
		return "", err
	}
	req.Header.Set("Authorization", "Bearer "+token)
	req.Header.Set("Accept", "application/json")
	req.Header.Set("User-Agent", c.userAgent)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	started := time.Now()
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("%s request %s %s failed: %w", c.provider, method, req.URL.Path, err)
	}
	respBody, readErr := io.ReadAll(resp.Body)
	_ = resp.Body.Close()
	if readErr != nil {
		return "", fmt.Errorf("failed to read %s response: %w", c.provider, readErr)
	}

	c.logger.Debug("crm api call",
		zap.String("method", method),
		zap.String("path", req.URL.Path),
		zap.Int("status", resp.StatusCode),
		zap.Duration("elapsed", time.Since(started)),
	)

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return "", &ProviderAPIError{
			Provider:   c.provider,
			Method:     method,
			Path:       req.URL.Path,
			StatusCode: resp.StatusCode,
			Body:       string(respBody),
		}
	}

	if out != nil && len(bytes.TrimSpace(respBody)) > 0 {
		if err := json.Unmarshal(respBody, out); err != nil {
			return "", fmt.Errorf("failed to decode %s response: %w", c.provider, err)
		}
	}

	return string(respBody), nil
}

// lookupContact runs a best-effort contact lookup; failures are logged and
// reported as "no contact".
func (c apiClient) lookupContact(ctx context.Context, find func(context.Context, string) (string, error), email string) string {
	if email == "" {
		return ""
	}
	id, err := find(ctx, email)
	if err != nil {
		c.logger.Warn("contact lookup failed, creating record without association", zap.Error(err))
		return ""
	}
	return id
}

func mergeFields(dst, extra map[string]any) {
	for k, v := range extra {
		dst[k] = v
	}
}
