// ABOUTME: Tests for the integration, sync and mapping MCP tool handlers
// ABOUTME: Runs each handler against a full Admin with stub CRM providers
package handlers

import (
	"context"
	"errors"
	"net/url"
	"testing"

	"github.com/harperreed/crmsync/crmsync/crmsynctest"
	"github.com/harperreed/crmsync/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestListIntegrationsHandler(t *testing.T) {
	f := crmsynctest.New(t)
	f.Activate(t, models.ProviderHubSpot)
	handler := NewIntegrationHandlers(f.Admin)

	_, out, err := handler.ListIntegrations(context.Background(), nil, ListIntegrationsInput{})
	require.NoError(t, err)
	require.Len(t, out.Integrations, 2)

	byProvider := map[string]IntegrationOutput{}
	for _, i := range out.Integrations {
		byProvider[i.Provider] = i
	}
	assert.True(t, byProvider[models.ProviderHubSpot].IsConnected)
	assert.NotNil(t, byProvider[models.ProviderHubSpot].TokenExpiresAt)
	assert.False(t, byProvider[models.ProviderSalesforce].IsConnected)
}

func TestConnectIntegrationHandler(t *testing.T) {
	f := crmsynctest.New(t)
	handler := NewIntegrationHandlers(f.Admin)

	_, out, err := handler.ConnectIntegration(context.Background(), nil, ProviderInput{Provider: models.ProviderSalesforce})
	require.NoError(t, err)
	parsed, err := url.Parse(out.URL)
	require.NoError(t, err)
	assert.NotEmpty(t, parsed.Query().Get("state"))
	assert.Equal(t, "client", parsed.Query().Get("client_id"))

	_, _, err = handler.ConnectIntegration(context.Background(), nil, ProviderInput{})
	assert.Error(t, err)
}

func TestSetEnabledAndDisconnectHandlers(t *testing.T) {
	f := crmsynctest.New(t)
	f.Activate(t, models.ProviderSalesforce)
	handler := NewIntegrationHandlers(f.Admin)
	ctx := context.Background()

	_, out, err := handler.SetIntegrationEnabled(ctx, nil, SetIntegrationEnabledInput{Provider: models.ProviderSalesforce, Enabled: false})
	require.NoError(t, err)
	assert.Equal(t, "salesforce disabled", out.Message)

	_, _, err = handler.DisconnectIntegration(ctx, nil, ProviderInput{Provider: models.ProviderSalesforce})
	require.NoError(t, err)

	integration, err := f.Admin.Integrations.GetByProvider(ctx, models.ProviderSalesforce)
	require.NoError(t, err)
	assert.False(t, integration.IsEnabled)
	assert.False(t, integration.IsConnected)
	assert.Empty(t, integration.AccessToken)

	_, _, err = handler.SetIntegrationEnabled(ctx, nil, SetIntegrationEnabledInput{Provider: "pipedrive", Enabled: true})
	assert.Error(t, err)
}

func TestTestIntegrationHandler(t *testing.T) {
	f := crmsynctest.New(t)
	handler := NewIntegrationHandlers(f.Admin)

	_, out, err := handler.TestIntegration(context.Background(), nil, ProviderInput{Provider: models.ProviderHubSpot})
	require.NoError(t, err)
	assert.True(t, out.OK)
	assert.Equal(t, "connected to hubspot", out.Detail)
}

func TestRecordAndSyncSessionHandlers(t *testing.T) {
	f := crmsynctest.New(t)
	f.Activate(t, models.ProviderSalesforce)
	handler := NewSyncHandlers(f.Admin)
	ctx := context.Background()

	_, recorded, err := handler.RecordSession(ctx, nil, RecordSessionInput{
		SessionID: "sess-100",
		UserName:  "Dana Park",
		Outcome:   models.OutcomeSaleMade,
		Score:     88,
		Grade:     "A",
		SalesMode: models.SalesModeUserSells,
		StartedAt: "2026-06-01T10:00:00Z",
		EndedAt:   "2026-06-01T10:20:00Z",
		Sync:      true,
	})
	require.NoError(t, err)
	require.Contains(t, recorded.Results, models.ProviderSalesforce)
	assert.True(t, recorded.Results[models.ProviderSalesforce].Success)
	assert.Equal(t, "T1", recorded.Results[models.ProviderSalesforce].ExternalID)

	_, synced, err := handler.SyncSession(ctx, nil, SyncSessionInput{SessionID: "sess-100"})
	require.NoError(t, err)
	assert.Equal(t, "T1", synced.Results[models.ProviderSalesforce].ExternalID)

	creates, updates := f.Salesforce.Counts()
	assert.Equal(t, 1, creates)
	assert.Equal(t, 1, updates)
}

func TestRecordSessionHandlerRejectsBadInput(t *testing.T) {
	f := crmsynctest.New(t)
	handler := NewSyncHandlers(f.Admin)
	ctx := context.Background()

	_, _, err := handler.RecordSession(ctx, nil, RecordSessionInput{SessionID: "s", StartedAt: "yesterday"})
	assert.ErrorContains(t, err, "invalid started_at")

	_, _, err = handler.RecordSession(ctx, nil, RecordSessionInput{
		SessionID: "s",
		UserName:  "Dana Park",
		Outcome:   models.OutcomeNoSale,
		Grade:     "Z",
		SalesMode: models.SalesModeAISells,
		StartedAt: "2026-06-01T10:00:00Z",
	})
	assert.ErrorContains(t, err, "invalid session summary")
}

func TestRetryAndListSyncLogsHandlers(t *testing.T) {
	f := crmsynctest.New(t)
	f.Activate(t, models.ProviderHubSpot)
	f.RecordSession(t, "sess-200")
	handler := NewSyncHandlers(f.Admin)
	ctx := context.Background()

	f.HubSpot.Fail(errors.New("connection reset"))
	_, synced, err := handler.SyncSession(ctx, nil, SyncSessionInput{SessionID: "sess-200"})
	require.NoError(t, err)
	assert.False(t, synced.Results[models.ProviderHubSpot].Success)

	_, listed, err := handler.ListSyncLogs(ctx, nil, ListSyncLogsInput{Status: models.SyncStatusFailed})
	require.NoError(t, err)
	require.Len(t, listed.Logs, 1)
	assert.Equal(t, models.ProviderHubSpot, listed.Logs[0].Provider)
	require.NotNil(t, listed.Logs[0].ErrorMessage)
	assert.Contains(t, *listed.Logs[0].ErrorMessage, "connection reset")

	f.HubSpot.Fail(nil)
	_, retried, err := handler.RetrySync(ctx, nil, RetrySyncInput{SyncLogID: listed.Logs[0].ID})
	require.NoError(t, err)
	assert.True(t, retried.Success)
	assert.Equal(t, "T1", retried.ExternalID)

	_, listed, err = handler.ListSyncLogs(ctx, nil, ListSyncLogsInput{Provider: models.ProviderHubSpot})
	require.NoError(t, err)
	require.Len(t, listed.Logs, 1)
	assert.Equal(t, models.SyncStatusSuccess, listed.Logs[0].Status)
	assert.Equal(t, 1, listed.Logs[0].RetryCount)

	_, _, err = handler.RetrySync(ctx, nil, RetrySyncInput{SyncLogID: "not-a-uuid"})
	assert.ErrorContains(t, err, "invalid sync_log_id")
}

func TestMappingHandlersLifecycle(t *testing.T) {
	f := crmsynctest.New(t)
	handler := NewMappingHandlers(f.Admin)
	ctx := context.Background()

	_, saved, err := handler.SaveMapping(ctx, nil, SaveMappingInput{
		Provider:        models.ProviderSalesforce,
		SourceField:     "grade",
		TargetObject:    "Task",
		TargetField:     "Grade__c",
		TransformType:   models.TransformMap,
		TransformConfig: `{"A":"Excellent"}`,
	})
	require.NoError(t, err)
	assert.True(t, saved.IsEnabled)

	_, toggled, err := handler.ToggleMapping(ctx, nil, ToggleMappingInput{ID: saved.ID, Enabled: false})
	require.NoError(t, err)
	assert.Equal(t, "mapping disabled", toggled.Message)

	_, listed, err := handler.ListMappings(ctx, nil, ListMappingsInput{Provider: models.ProviderSalesforce})
	require.NoError(t, err)
	require.Len(t, listed.Mappings, 1)
	assert.False(t, listed.Mappings[0].IsEnabled)

	_, _, err = handler.DeleteMapping(ctx, nil, MappingIDInput{ID: saved.ID})
	require.NoError(t, err)

	_, listed, err = handler.ListMappings(ctx, nil, ListMappingsInput{Provider: models.ProviderSalesforce})
	require.NoError(t, err)
	assert.Empty(t, listed.Mappings)
}

func TestSaveMappingHandlerRejectsUnknownSourceField(t *testing.T) {
	f := crmsynctest.New(t)
	handler := NewMappingHandlers(f.Admin)

	_, _, err := handler.SaveMapping(context.Background(), nil, SaveMappingInput{
		Provider:     models.ProviderHubSpot,
		SourceField:  "favouriteColour",
		TargetObject: "engagement",
		TargetField:  "hs_colour",
	})
	assert.Error(t, err)
}
