// ABOUTME: Tests for MCP resources and prompts
// ABOUTME: Checks URI routing and that prompts reflect stored sync state
package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	"github.com/harperreed/crmsync/crmsync/crmsynctest"
	"github.com/harperreed/crmsync/models"
	"github.com/modelcontextprotocol/go-sdk/mcp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func readResource(t *testing.T, h *ResourceHandlers, uri string) (*mcp.ReadResourceResult, error) {
	t.Helper()
	return h.ReadResource(context.Background(), &mcp.ReadResourceRequest{Params: &mcp.ReadResourceParams{URI: uri}})
}

func TestReadIntegrationsResource(t *testing.T) {
	f := crmsynctest.New(t)
	handler := NewResourceHandlers(f.Admin)

	result, err := readResource(t, handler, "crmsync://integrations")
	require.NoError(t, err)
	require.Len(t, result.Contents, 1)
	assert.Equal(t, "application/json", result.Contents[0].MIMEType)

	var integrations []models.Integration
	require.NoError(t, json.Unmarshal([]byte(result.Contents[0].Text), &integrations))
	assert.Len(t, integrations, 2)
	assert.NotContains(t, result.Contents[0].Text, "access_token")
}

func TestReadFailedSyncLogsResource(t *testing.T) {
	f := crmsynctest.New(t)
	f.Activate(t, models.ProviderSalesforce)
	f.RecordSession(t, "sess-300")
	f.Salesforce.Fail(errors.New("timeout"))
	_, err := f.Admin.SyncSession(context.Background(), "sess-300")
	require.NoError(t, err)
	handler := NewResourceHandlers(f.Admin)

	result, err := readResource(t, handler, "crmsync://sync-logs/failed")
	require.NoError(t, err)

	var logs []models.SyncLog
	require.NoError(t, json.Unmarshal([]byte(result.Contents[0].Text), &logs))
	require.Len(t, logs, 1)
	assert.Equal(t, "sess-300", logs[0].SessionID)
}

func TestReadResourceRejectsUnknownURIs(t *testing.T) {
	f := crmsynctest.New(t)
	handler := NewResourceHandlers(f.Admin)

	for _, uri := range []string{"crm://contacts", "crmsync://deals", "crmsync://sync-logs/pending", "crmsync://mappings"} {
		_, err := readResource(t, handler, uri)
		assert.Error(t, err, uri)
	}
}

func TestResourcesAdvertiseMappingsPerProvider(t *testing.T) {
	f := crmsynctest.New(t)
	handler := NewResourceHandlers(f.Admin)

	uris := map[string]bool{}
	for _, r := range handler.Resources() {
		uris[r.URI] = true
	}
	assert.True(t, uris["crmsync://mappings/salesforce"])
	assert.True(t, uris["crmsync://mappings/hubspot"])
}

func TestFailureTriagePrompt(t *testing.T) {
	f := crmsynctest.New(t)
	f.Activate(t, models.ProviderHubSpot)
	f.RecordSession(t, "sess-400")
	f.HubSpot.Fail(errors.New("rate limited"))
	_, err := f.Admin.SyncSession(context.Background(), "sess-400")
	require.NoError(t, err)
	handler := NewPromptHandlers(f.Admin)

	result, err := handler.GetPrompt(context.Background(), &mcp.GetPromptRequest{Params: &mcp.GetPromptParams{
		Name:      "sync-failure-triage",
		Arguments: map[string]string{"provider": models.ProviderHubSpot},
	}})
	require.NoError(t, err)
	require.Len(t, result.Messages, 1)

	text := result.Messages[0].Content.(*mcp.TextContent).Text
	assert.Contains(t, text, "sess-400")
	assert.Contains(t, text, "rate limited")
	assert.NotContains(t, text, "- salesforce:")
}

func TestMappingReviewPromptRequiresProvider(t *testing.T) {
	f := crmsynctest.New(t)
	handler := NewPromptHandlers(f.Admin)

	_, err := handler.GetPrompt(context.Background(), &mcp.GetPromptRequest{Params: &mcp.GetPromptParams{Name: "mapping-review"}})
	assert.Error(t, err)

	result, err := handler.GetPrompt(context.Background(), &mcp.GetPromptRequest{Params: &mcp.GetPromptParams{
		Name:      "mapping-review",
		Arguments: map[string]string{"provider": models.ProviderSalesforce},
	}})
	require.NoError(t, err)
	assert.Contains(t, result.Messages[0].Content.(*mcp.TextContent).Text, "No mappings are configured")
}
