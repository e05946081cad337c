// ABOUTME: Tests for the admin connect flow and log queries
// ABOUTME: Runs a real token manager and state issuer against a fake token endpoint
package crmsync

import (
	"context"
	"net/http"
	"net/http/httptest"
	"net/url"
	"testing"

	"github.com/harperreed/crmsync/models"
	"github.com/harperreed/crmsync/oauthstate"
	"github.com/harperreed/crmsync/token"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func withConnectFlow(t *testing.T, h *harness) {
	t.Helper()
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"access_token":"sf-access","refresh_token":"sf-refresh","instance_url":"https://acme.my.salesforce.com"}`))
	}))
	t.Cleanup(server.Close)

	states, err := oauthstate.Open("", []byte("test-secret-of-sufficient-size"), 0, nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = states.Close() })

	h.admin.States = states
	h.admin.Tokens = token.NewManager(h.integrations, map[string]token.ProviderConfig{
		models.ProviderSalesforce: token.NewSalesforceConfig("id", "secret", "http://localhost/oauth/salesforce/callback", server.URL),
	}, token.WithHTTPClient(server.Client()))
}

func TestConnectFlow(t *testing.T) {
	h := setupHarness(t)
	withConnectFlow(t, h)
	ctx := context.Background()

	consent, err := h.admin.ConnectURL(ctx, models.ProviderSalesforce)
	require.NoError(t, err)
	parsed, err := url.Parse(consent)
	require.NoError(t, err)
	state := parsed.Query().Get("state")
	require.NotEmpty(t, state)

	set, err := h.admin.CompleteConnect(ctx, models.ProviderSalesforce, state, "code-1")
	require.NoError(t, err)
	assert.Equal(t, "https://acme.my.salesforce.com", set.AccountID)

	integration, err := h.integrations.GetByProvider(ctx, models.ProviderSalesforce)
	require.NoError(t, err)
	assert.True(t, integration.IsConnected)

	_, err = h.admin.CompleteConnect(ctx, models.ProviderSalesforce, state, "code-1")
	assert.ErrorIs(t, err, oauthstate.ErrStateUsed)
}

func TestConnectStateBoundToProvider(t *testing.T) {
	h := setupHarness(t)
	withConnectFlow(t, h)
	ctx := context.Background()

	consent, err := h.admin.ConnectURL(ctx, models.ProviderSalesforce)
	require.NoError(t, err)
	parsed, err := url.Parse(consent)
	require.NoError(t, err)

	_, err = h.admin.CompleteConnect(ctx, models.ProviderHubSpot, parsed.Query().Get("state"), "code-1")
	assert.ErrorIs(t, err, oauthstate.ErrInvalidState)
}

func TestConnectWithoutStateIssuer(t *testing.T) {
	h := setupHarness(t)

	_, err := h.admin.ConnectURL(context.Background(), models.ProviderSalesforce)
	assert.ErrorIs(t, err, ErrConnectUnavailable)

	h.admin.ConnectBaseURL = "https://sync.example.com/"
	link, err := h.admin.ConnectURL(context.Background(), models.ProviderSalesforce)
	require.NoError(t, err)
	assert.Equal(t, "https://sync.example.com/oauth/salesforce/connect", link)

	_, err = h.admin.ConnectURL(context.Background(), "pipedrive")
	assert.Error(t, err)
}

func TestListSyncLogsFilters(t *testing.T) {
	h := setupHarness(t)
	h.activate(t, models.ProviderSalesforce)
	h.activate(t, models.ProviderHubSpot)
	h.saveSession(t, "a")
	h.saveSession(t, "b")
	ctx := context.Background()

	_, err := h.engine.SyncSession(ctx, "a")
	require.NoError(t, err)
	h.hubspot.fail(assert.AnError, nil)
	_, err = h.engine.SyncSession(ctx, "b")
	require.NoError(t, err)

	all, err := h.admin.ListSyncLogs(ctx, LogQuery{})
	require.NoError(t, err)
	assert.Len(t, all, 4)

	failed, err := h.admin.ListSyncLogs(ctx, LogQuery{Status: models.SyncStatusFailed})
	require.NoError(t, err)
	require.Len(t, failed, 1)
	assert.Equal(t, "b", failed[0].SessionID)

	limited, err := h.admin.ListSyncLogs(ctx, LogQuery{Provider: models.ProviderHubSpot, Limit: 1})
	require.NoError(t, err)
	assert.Len(t, limited, 1)

	status, err := h.admin.TestConnection(ctx, models.ProviderHubSpot)
	require.NoError(t, err)
	assert.True(t, status.OK)
}
