// ABOUTME: Tests for the token lifecycle manager against a fake token endpoint
// ABOUTME: Covers code exchange, the refresh buffer, disconnect on rejection and expiry defaults
package token

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/harperreed/crmsync/crm"
	"github.com/harperreed/crmsync/db"
	"github.com/harperreed/crmsync/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

type tokenServer struct {
	*httptest.Server
	calls      int32
	status     int
	body       string
	grantTypes []string
	mu         sync.Mutex
}

func newTokenServer(t *testing.T) *tokenServer {
	t.Helper()
	ts := &tokenServer{status: http.StatusOK}
	ts.Server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&ts.calls, 1)
		_ = r.ParseForm()
		ts.mu.Lock()
		ts.grantTypes = append(ts.grantTypes, r.PostForm.Get("grant_type"))
		status, body := ts.status, ts.body
		ts.mu.Unlock()

		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(status)
		_, _ = w.Write([]byte(body))
	}))
	t.Cleanup(ts.Close)
	return ts
}

func (ts *tokenServer) respond(status int, body string) {
	ts.mu.Lock()
	defer ts.mu.Unlock()
	ts.status = status
	ts.body = body
}

func (ts *tokenServer) callCount() int {
	return int(atomic.LoadInt32(&ts.calls))
}

func setupManager(t *testing.T) (*Manager, *db.IntegrationsRepository, *tokenServer, *fakeClock) {
	t.Helper()

	database, err := db.OpenDatabase(filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = database.Close() })

	server := newTokenServer(t)
	clock := &fakeClock{now: time.Date(2026, 5, 1, 12, 0, 0, 0, time.UTC)}
	store := db.NewIntegrationsRepository(database)

	manager := NewManager(store, map[string]ProviderConfig{
		models.ProviderSalesforce: NewSalesforceConfig("client", "secret", "http://localhost/callback", server.URL),
	}, WithClock(clock.Now), WithHTTPClient(server.Client()))

	return manager, store, server, clock
}

func connectSalesforce(t *testing.T, store *db.IntegrationsRepository, expiresAt time.Time, refreshToken string) {
	t.Helper()
	require.NoError(t, store.SaveTokens(context.Background(), models.ProviderSalesforce, db.TokenUpdate{
		AccessToken:       "old-access",
		RefreshToken:      refreshToken,
		ExpiresAt:         expiresAt,
		ExternalAccountID: "https://acme.my.salesforce.com",
	}))
}

func TestExchangeCodeStoresTokens(t *testing.T) {
	manager, store, server, clock := setupManager(t)
	server.respond(http.StatusOK, `{"access_token":"new-access","refresh_token":"new-refresh","instance_url":"https://acme.my.salesforce.com","token_type":"Bearer"}`)

	set, err := manager.ExchangeCode(context.Background(), models.ProviderSalesforce, "auth-code")
	require.NoError(t, err)
	assert.Equal(t, "new-access", set.AccessToken)
	assert.Equal(t, "https://acme.my.salesforce.com", set.AccountID)
	assert.Equal(t, clock.Now().Add(DefaultExpiresIn), set.ExpiresAt)

	integration, err := store.GetByProvider(context.Background(), models.ProviderSalesforce)
	require.NoError(t, err)
	assert.True(t, integration.IsConnected)
	assert.Equal(t, "new-refresh", integration.RefreshToken)
	assert.Equal(t, "https://acme.my.salesforce.com", integration.ExternalAccountID)
	assert.Equal(t, []string{"authorization_code"}, server.grantTypes)
}

func TestExchangeCodeHonoursExpiresIn(t *testing.T) {
	manager, _, server, clock := setupManager(t)
	server.respond(http.StatusOK, `{"access_token":"a","refresh_token":"r","instance_url":"https://x","expires_in":1800}`)

	set, err := manager.ExchangeCode(context.Background(), models.ProviderSalesforce, "auth-code")
	require.NoError(t, err)
	assert.Equal(t, clock.Now().Add(30*time.Minute), set.ExpiresAt)
}

func TestExchangeCodeErrorCarriesBody(t *testing.T) {
	manager, store, server, _ := setupManager(t)
	server.respond(http.StatusBadRequest, `{"error":"invalid_grant","error_description":"authentication failure"}`)

	_, err := manager.ExchangeCode(context.Background(), models.ProviderSalesforce, "bad-code")
	var exchangeErr *crm.OAuthExchangeError
	require.True(t, errors.As(err, &exchangeErr))
	assert.Equal(t, http.StatusBadRequest, exchangeErr.StatusCode)
	assert.Contains(t, exchangeErr.Body, "authentication failure")

	integration, err := store.GetByProvider(context.Background(), models.ProviderSalesforce)
	require.NoError(t, err)
	assert.False(t, integration.IsConnected)
}

func TestGetValidAccessTokenNotConnected(t *testing.T) {
	manager, _, server, _ := setupManager(t)

	result, err := manager.GetValidAccessToken(context.Background(), models.ProviderSalesforce)
	require.NoError(t, err)
	assert.Equal(t, StatusDisconnected, result.Status)
	assert.Empty(t, result.AccessToken)
	assert.Equal(t, 0, server.callCount())
}

func TestGetValidAccessTokenOutsideBuffer(t *testing.T) {
	manager, store, server, clock := setupManager(t)
	connectSalesforce(t, store, clock.Now().Add(10*time.Minute), "refresh-1")

	result, err := manager.GetValidAccessToken(context.Background(), models.ProviderSalesforce)
	require.NoError(t, err)
	assert.Equal(t, StatusValid, result.Status)
	assert.Equal(t, "old-access", result.AccessToken)
	assert.Equal(t, "https://acme.my.salesforce.com", result.AccountID)
	assert.Equal(t, 0, server.callCount())
}

func TestGetValidAccessTokenInsideBufferRefreshes(t *testing.T) {
	manager, store, server, clock := setupManager(t)
	connectSalesforce(t, store, clock.Now().Add(4*time.Minute), "refresh-1")
	server.respond(http.StatusOK, `{"access_token":"fresh-access","token_type":"Bearer","expires_in":3600}`)

	result, err := manager.GetValidAccessToken(context.Background(), models.ProviderSalesforce)
	require.NoError(t, err)
	assert.Equal(t, StatusRefreshed, result.Status)
	assert.Equal(t, "fresh-access", result.AccessToken)
	assert.Equal(t, 1, server.callCount())
	assert.Equal(t, []string{"refresh_token"}, server.grantTypes)

	integration, err := store.GetByProvider(context.Background(), models.ProviderSalesforce)
	require.NoError(t, err)
	assert.Equal(t, "fresh-access", integration.AccessToken)
	assert.Equal(t, "refresh-1", integration.RefreshToken)
	require.NotNil(t, integration.TokenExpiresAt)
	assert.True(t, integration.TokenExpiresAt.Equal(clock.Now().Add(time.Hour)))

	// The stored token is now fresh; no second refresh.
	result, err = manager.GetValidAccessToken(context.Background(), models.ProviderSalesforce)
	require.NoError(t, err)
	assert.Equal(t, StatusValid, result.Status)
	assert.Equal(t, 1, server.callCount())
}

func TestExpiredTokenIsNeverReturned(t *testing.T) {
	manager, store, server, clock := setupManager(t)
	connectSalesforce(t, store, clock.Now().Add(-time.Hour), "refresh-1")
	server.respond(http.StatusOK, `{"access_token":"fresh-access","token_type":"Bearer"}`)

	result, err := manager.GetValidAccessToken(context.Background(), models.ProviderSalesforce)
	require.NoError(t, err)
	assert.Equal(t, StatusRefreshed, result.Status)
	assert.NotEqual(t, "old-access", result.AccessToken)
}

func TestRefreshRejectionDisconnects(t *testing.T) {
	manager, store, server, clock := setupManager(t)
	connectSalesforce(t, store, clock.Now().Add(time.Minute), "revoked-refresh")
	server.respond(http.StatusBadRequest, `{"error":"invalid_grant","error_description":"expired access/refresh token"}`)

	result, err := manager.GetValidAccessToken(context.Background(), models.ProviderSalesforce)
	require.NoError(t, err)
	assert.Equal(t, StatusDisconnected, result.Status)
	assert.Contains(t, result.Reason, "expired access/refresh token")
	var refreshErr *crm.TokenRefreshError
	require.True(t, errors.As(result.Err, &refreshErr))
	assert.Equal(t, http.StatusBadRequest, refreshErr.StatusCode)

	integration, err := store.GetByProvider(context.Background(), models.ProviderSalesforce)
	require.NoError(t, err)
	assert.False(t, integration.IsConnected)
	assert.Empty(t, integration.AccessToken)
	assert.Empty(t, integration.RefreshToken)
	assert.Nil(t, integration.TokenExpiresAt)
	require.NotNil(t, integration.LastError)
	assert.Contains(t, *integration.LastError, "invalid_grant")

	// Later calls answer from the stored state without another refresh.
	result, err = manager.GetValidAccessToken(context.Background(), models.ProviderSalesforce)
	require.NoError(t, err)
	assert.Equal(t, StatusDisconnected, result.Status)
	assert.Equal(t, 1, server.callCount())
}

func TestExpiredWithoutRefreshTokenDisconnects(t *testing.T) {
	manager, store, server, clock := setupManager(t)
	connectSalesforce(t, store, clock.Now().Add(-time.Minute), "")

	result, err := manager.GetValidAccessToken(context.Background(), models.ProviderSalesforce)
	require.NoError(t, err)
	assert.Equal(t, StatusDisconnected, result.Status)
	assert.Equal(t, 0, server.callCount())
}

func TestRefreshTransportErrorKeepsConnection(t *testing.T) {
	manager, store, server, clock := setupManager(t)
	connectSalesforce(t, store, clock.Now().Add(time.Minute), "refresh-1")
	server.Close()

	_, err := manager.GetValidAccessToken(context.Background(), models.ProviderSalesforce)
	var refreshErr *crm.TokenRefreshError
	require.True(t, errors.As(err, &refreshErr))

	integration, err := store.GetByProvider(context.Background(), models.ProviderSalesforce)
	require.NoError(t, err)
	assert.True(t, integration.IsConnected)
	assert.Equal(t, "refresh-1", integration.RefreshToken)
}

func TestDisconnectIsIdempotent(t *testing.T) {
	manager, store, _, clock := setupManager(t)
	connectSalesforce(t, store, clock.Now().Add(time.Hour), "refresh-1")

	require.NoError(t, manager.Disconnect(context.Background(), models.ProviderSalesforce))
	require.NoError(t, manager.Disconnect(context.Background(), models.ProviderSalesforce))

	integration, err := store.GetByProvider(context.Background(), models.ProviderSalesforce)
	require.NoError(t, err)
	assert.False(t, integration.IsConnected)
	assert.Empty(t, integration.ExternalAccountID)
	assert.Nil(t, integration.LastError)
}

func TestCredentialsNotConnected(t *testing.T) {
	manager, _, _, _ := setupManager(t)

	_, err := manager.Credentials(context.Background(), models.ProviderSalesforce)
	var notConnected *crm.NotConnectedError
	require.True(t, errors.As(err, &notConnected))
}

func TestUnknownProvider(t *testing.T) {
	manager, _, _, _ := setupManager(t)

	_, err := manager.AuthCodeURL(models.ProviderHubSpot, "state")
	assert.ErrorIs(t, err, ErrUnknownProvider)

	url, err := manager.AuthCodeURL(models.ProviderSalesforce, "state-123")
	require.NoError(t, err)
	assert.Contains(t, url, "/services/oauth2/authorize")
	assert.Contains(t, url, "state=state-123")
}

func TestConcurrentRefreshHitsProviderOnce(t *testing.T) {
	manager, store, server, clock := setupManager(t)
	connectSalesforce(t, store, clock.Now().Add(time.Minute), "refresh-1")
	server.respond(http.StatusOK, `{"access_token":"fresh-access","token_type":"Bearer","expires_in":3600}`)

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			result, err := manager.GetValidAccessToken(context.Background(), models.ProviderSalesforce)
			assert.NoError(t, err)
			assert.Equal(t, "fresh-access", result.AccessToken)
		}()
	}
	wg.Wait()

	assert.Equal(t, 1, server.callCount())
}
