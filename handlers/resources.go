// ABOUTME: MCP resource handlers for exposing sync state
// ABOUTME: Provides read-only access to integrations, sync logs and field mappings via URI
package handlers

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/harperreed/crmsync/crmsync"
	"github.com/harperreed/crmsync/models"
	"github.com/modelcontextprotocol/go-sdk/mcp"
)

const resourceScheme = "crmsync://"

type ResourceHandlers struct {
	admin *crmsync.Admin
}

func NewResourceHandlers(admin *crmsync.Admin) *ResourceHandlers {
	return &ResourceHandlers{admin: admin}
}

// Resources lists the fixed resources a server should advertise.
func (h *ResourceHandlers) Resources() []*mcp.Resource {
	resources := []*mcp.Resource{
		{URI: resourceScheme + "integrations", Name: "integrations", Description: "Connection and health of every CRM integration", MIMEType: "application/json"},
		{URI: resourceScheme + "sync-logs", Name: "sync-logs", Description: "Most recent sync attempts", MIMEType: "application/json"},
		{URI: resourceScheme + "sync-logs/failed", Name: "failed-sync-logs", Description: "Sync attempts that need a retry", MIMEType: "application/json"},
	}
	for _, provider := range models.Providers {
		resources = append(resources, &mcp.Resource{
			URI:         resourceScheme + "mappings/" + provider,
			Name:        provider + "-mappings",
			Description: "Field mappings for " + provider,
			MIMEType:    "application/json",
		})
	}
	return resources
}

// ReadResource handles resource read requests
func (h *ResourceHandlers) ReadResource(ctx context.Context, request *mcp.ReadResourceRequest) (*mcp.ReadResourceResult, error) {
	uri := request.Params.URI
	if !strings.HasPrefix(uri, resourceScheme) {
		return nil, fmt.Errorf("invalid URI scheme: expected %s", resourceScheme)
	}

	parts := strings.Split(strings.TrimPrefix(uri, resourceScheme), "/")

	switch parts[0] {
	case "integrations":
		integrations, err := h.admin.ListIntegrations(ctx)
		if err != nil {
			return nil, fmt.Errorf("failed to fetch integrations: %w", err)
		}
		return jsonResource(uri, integrations)

	case "sync-logs":
		query := crmsync.LogQuery{Limit: 100}
		if len(parts) > 1 {
			if parts[1] != models.SyncStatusFailed {
				return nil, fmt.Errorf("unknown resource: %s", uri)
			}
			query.Status = models.SyncStatusFailed
		}
		logs, err := h.admin.ListSyncLogs(ctx, query)
		if err != nil {
			return nil, fmt.Errorf("failed to fetch sync logs: %w", err)
		}
		return jsonResource(uri, logs)

	case "mappings":
		if len(parts) < 2 || parts[1] == "" {
			return nil, fmt.Errorf("mappings resource needs a provider: %smappings/<provider>", resourceScheme)
		}
		mappings, err := h.admin.Mappings.ListMappings(ctx, parts[1])
		if err != nil {
			return nil, fmt.Errorf("failed to fetch mappings: %w", err)
		}
		return jsonResource(uri, mappings)

	default:
		return nil, fmt.Errorf("unknown resource: %s", parts[0])
	}
}

func jsonResource(uri string, v any) (*mcp.ReadResourceResult, error) {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("failed to marshal resource: %w", err)
	}

	return &mcp.ReadResourceResult{Contents: []*mcp.ResourceContents{
		{
			URI:      uri,
			MIMEType: "application/json",
			Text:     string(data),
		},
	}}, nil
}
