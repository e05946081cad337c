// ABOUTME: OAuth token lifecycle for CRM integrations
// ABOUTME: Exchanges codes, refreshes tokens near expiry and disconnects on rejection
package token

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/harperreed/crmsync/crm"
	"github.com/harperreed/crmsync/db"
	"github.com/harperreed/crmsync/metrics"
	"github.com/harperreed/crmsync/models"
	"go.uber.org/zap"
	"golang.org/x/oauth2"
	"golang.org/x/sync/singleflight"
)

const (
	// RefreshBuffer is how close to expiry a token gets refreshed.
	RefreshBuffer = 5 * time.Minute
	// DefaultExpiresIn applies when the provider omits expires_in.
	DefaultExpiresIn = 7200 * time.Second
)

// ErrUnknownProvider means no OAuth client is configured for a provider code.
var ErrUnknownProvider = errors.New("unknown provider")

// Status tags a Result.
type Status int

const (
	StatusDisconnected Status = iota
	StatusValid
	StatusRefreshed
)

func (s Status) String() string {
	switch s {
	case StatusValid:
		return "valid"
	case StatusRefreshed:
		return "refreshed"
	default:
		return "disconnected"
	}
}

// Result is the answer to GetValidAccessToken. AccessToken is set only for
// Valid and Refreshed; Reason only for Disconnected.
type Result struct {
	Status      Status
	AccessToken string
	AccountID   string
	Reason      string
	// Err holds the *crm.TokenRefreshError when a rejected refresh caused the disconnect.
	Err error
}

// Usable reports whether the result carries a token.
func (r Result) Usable() bool {
	return r.Status == StatusValid || r.Status == StatusRefreshed
}

// TokenSet is what a successful code exchange stored.
type TokenSet struct {
	AccessToken  string
	RefreshToken string
	ExpiresAt    time.Time
	AccountID    string
}

// Option configures a Manager.
type Option func(*Manager)

// WithClock injects the time source used for expiry decisions.
func WithClock(now func() time.Time) Option {
	return func(m *Manager) { m.now = now }
}

// WithHTTPClient injects the client used for token endpoints.
func WithHTTPClient(client *http.Client) Option {
	return func(m *Manager) { m.httpClient = client }
}

// WithLogger sets the logger.
func WithLogger(logger *zap.Logger) Option {
	return func(m *Manager) { m.logger = logger }
}

// Manager owns the token fields of every integration row.
type Manager struct {
	store      *db.IntegrationsRepository
	httpClient *http.Client
	now        func() time.Time
	logger     *zap.Logger

	mu        sync.RWMutex
	providers map[string]ProviderConfig

	refreshes singleflight.Group
}

// NewManager creates a token manager over the integrations table.
func NewManager(store *db.IntegrationsRepository, providers map[string]ProviderConfig, opts ...Option) *Manager {
	m := &Manager{
		store:      store,
		httpClient: &http.Client{Timeout: crm.DefaultRequestTimeout},
		now:        time.Now,
		logger:     zap.NewNop(),
		providers:  make(map[string]ProviderConfig, len(providers)),
	}
	for code, cfg := range providers {
		m.providers[code] = cfg
	}
	for _, opt := range opts {
		opt(m)
	}
	m.logger = m.logger.Named("token")
	return m
}

func (m *Manager) config(provider string) (ProviderConfig, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	cfg, ok := m.providers[provider]
	if !ok || cfg.OAuth == nil {
		return ProviderConfig{}, fmt.Errorf("%w: %s", ErrUnknownProvider, provider)
	}
	return cfg, nil
}

func (m *Manager) oauthContext(ctx context.Context) context.Context {
	return context.WithValue(ctx, oauth2.HTTPClient, m.httpClient)
}

// AuthCodeURL is where an admin is sent to grant access.
func (m *Manager) AuthCodeURL(provider, state string) (string, error) {
	cfg, err := m.config(provider)
	if err != nil {
		return "", err
	}
	return cfg.OAuth.AuthCodeURL(state), nil
}

// ExchangeCode trades an authorization code for tokens and marks the
// integration connected. A rejected exchange is a *crm.OAuthExchangeError
// carrying the provider's response body.
func (m *Manager) ExchangeCode(ctx context.Context, provider, code string) (*TokenSet, error) {
	cfg, err := m.config(provider)
	if err != nil {
		return nil, err
	}

	tok, err := cfg.OAuth.Exchange(m.oauthContext(ctx), code)
	if err != nil {
		exchangeErr := &crm.OAuthExchangeError{Provider: provider, Err: err}
		var retrieveErr *oauth2.RetrieveError
		if errors.As(err, &retrieveErr) {
			exchangeErr.Body = string(retrieveErr.Body)
			if retrieveErr.Response != nil {
				exchangeErr.StatusCode = retrieveErr.Response.StatusCode
			}
		}
		m.logger.Warn("oauth code exchange failed", zap.String("provider", provider), zap.Error(exchangeErr))
		return nil, exchangeErr
	}

	set := &TokenSet{
		AccessToken:  tok.AccessToken,
		RefreshToken: tok.RefreshToken,
		ExpiresAt:    m.expiresAt(tok),
	}
	if cfg.ResolveAccountID != nil {
		accountID, err := cfg.ResolveAccountID(ctx, m.httpClient, tok)
		if err != nil {
			m.logger.Warn("could not resolve external account id", zap.String("provider", provider), zap.Error(err))
		}
		set.AccountID = accountID
	}

	err = m.store.SaveTokens(ctx, provider, db.TokenUpdate{
		AccessToken:       set.AccessToken,
		RefreshToken:      set.RefreshToken,
		ExpiresAt:         set.ExpiresAt,
		ExternalAccountID: set.AccountID,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to store %s tokens: %w", provider, err)
	}

	m.logger.Info("integration connected",
		zap.String("provider", provider),
		zap.String("account_id", set.AccountID),
		zap.Time("expires_at", set.ExpiresAt),
	)
	return set, nil
}

// expiresAt reads expires_in from the raw token response against the
// injected clock. oauth2 computes Token.Expiry from the wall clock, which
// tests cannot control.
func (m *Manager) expiresAt(tok *oauth2.Token) time.Time {
	expiresIn := DefaultExpiresIn
	switch v := tok.Extra("expires_in").(type) {
	case float64:
		if v > 0 {
			expiresIn = time.Duration(v) * time.Second
		}
	case json.Number:
		if n, err := v.Int64(); err == nil && n > 0 {
			expiresIn = time.Duration(n) * time.Second
		}
	case string:
		if n, err := strconv.ParseInt(v, 10, 64); err == nil && n > 0 {
			expiresIn = time.Duration(n) * time.Second
		}
	}
	return m.now().Add(expiresIn)
}

// GetValidAccessToken returns a token that stays valid for at least
// RefreshBuffer, refreshing it when needed. It never hands out a token known
// to be expired. The error is reserved for storage and transport failures.
func (m *Manager) GetValidAccessToken(ctx context.Context, provider string) (Result, error) {
	integration, err := m.store.GetByProvider(ctx, provider)
	if err != nil {
		return Result{}, err
	}

	if result, done := m.checkStored(integration); done {
		return result, nil
	}

	v, err, _ := m.refreshes.Do(provider, func() (interface{}, error) {
		return m.refresh(ctx, provider)
	})
	if err != nil {
		return Result{}, err
	}
	return v.(Result), nil
}

// checkStored answers from the stored row when no refresh is needed.
func (m *Manager) checkStored(integration *models.Integration) (Result, bool) {
	if !integration.IsConnected || integration.AccessToken == "" {
		reason := "not connected"
		if integration.LastError != nil {
			reason = *integration.LastError
		}
		return Result{Status: StatusDisconnected, Reason: reason}, true
	}
	if integration.TokenExpiresAt != nil && integration.TokenExpiresAt.After(m.now().Add(RefreshBuffer)) {
		return Result{
			Status:      StatusValid,
			AccessToken: integration.AccessToken,
			AccountID:   integration.ExternalAccountID,
		}, true
	}
	return Result{}, false
}

func (m *Manager) refresh(ctx context.Context, provider string) (Result, error) {
	// Re-read inside the flight; a refresh that just finished may have
	// already replaced the token.
	integration, err := m.store.GetByProvider(ctx, provider)
	if err != nil {
		return Result{}, err
	}
	if result, done := m.checkStored(integration); done {
		return result, nil
	}

	if integration.RefreshToken == "" {
		return m.disconnect(ctx, provider, "access token expired and no refresh token is stored", nil)
	}

	cfg, err := m.config(provider)
	if err != nil {
		return Result{}, err
	}

	source := cfg.OAuth.TokenSource(m.oauthContext(ctx), &oauth2.Token{RefreshToken: integration.RefreshToken})
	tok, err := source.Token()
	if err != nil {
		refreshErr := &crm.TokenRefreshError{Provider: provider, Err: err}
		var retrieveErr *oauth2.RetrieveError
		if errors.As(err, &retrieveErr) {
			refreshErr.Body = string(retrieveErr.Body)
			if retrieveErr.Response != nil {
				refreshErr.StatusCode = retrieveErr.Response.StatusCode
			}
			metrics.TokenRefreshesCount.WithLabelValues(provider, metrics.RefreshRejected).Inc()
			return m.disconnect(ctx, provider, refreshErr.Error(), refreshErr)
		}
		metrics.TokenRefreshesCount.WithLabelValues(provider, metrics.RefreshFailed).Inc()
		m.logger.Warn("token refresh failed, will try again on next use", zap.String("provider", provider), zap.Error(err))
		return Result{}, refreshErr
	}

	update := db.TokenUpdate{
		AccessToken:  tok.AccessToken,
		RefreshToken: tok.RefreshToken,
		ExpiresAt:    m.expiresAt(tok),
	}
	swapped, err := m.store.SwapRefreshedToken(ctx, provider, integration.TokenVersion, update)
	if err != nil {
		return Result{}, err
	}
	if !swapped {
		// Another writer got there first; trust what it stored.
		current, err := m.store.GetByProvider(ctx, provider)
		if err != nil {
			return Result{}, err
		}
		if result, done := m.checkStored(current); done {
			return result, nil
		}
		m.logger.Warn("refreshed token lost a concurrent write", zap.String("provider", provider))
	}

	metrics.TokenRefreshesCount.WithLabelValues(provider, metrics.RefreshSucceeded).Inc()
	m.logger.Info("access token refreshed", zap.String("provider", provider), zap.Time("expires_at", update.ExpiresAt))
	return Result{
		Status:      StatusRefreshed,
		AccessToken: update.AccessToken,
		AccountID:   integration.ExternalAccountID,
	}, nil
}

func (m *Manager) disconnect(ctx context.Context, provider, reason string, cause error) (Result, error) {
	if err := m.store.Disconnect(ctx, provider, &reason); err != nil {
		return Result{}, err
	}
	m.logger.Warn("integration disconnected", zap.String("provider", provider), zap.String("reason", reason))
	return Result{Status: StatusDisconnected, Reason: reason, Err: cause}, nil
}

// Disconnect clears every token field of an integration. Calling it twice is harmless.
func (m *Manager) Disconnect(ctx context.Context, provider string) error {
	if err := m.store.Disconnect(ctx, provider, nil); err != nil {
		return err
	}
	m.logger.Info("integration disconnected by admin", zap.String("provider", provider))
	return nil
}

// Credentials implements crm.CredentialSource.
func (m *Manager) Credentials(ctx context.Context, provider string) (crm.Credentials, error) {
	result, err := m.GetValidAccessToken(ctx, provider)
	if err != nil {
		return crm.Credentials{}, err
	}
	if !result.Usable() {
		return crm.Credentials{}, &crm.NotConnectedError{Provider: provider, Reason: result.Reason}
	}
	return crm.Credentials{AccessToken: result.AccessToken, AccountID: result.AccountID}, nil
}
