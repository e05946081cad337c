// ABOUTME: Integration MCP tool handlers
// ABOUTME: Implements list_integrations, connect_integration, set_integration_enabled, disconnect_integration and test_integration
package handlers

import (
	"context"
	"fmt"
	"time"

	"github.com/harperreed/crmsync/crmsync"
	"github.com/harperreed/crmsync/models"
	"github.com/modelcontextprotocol/go-sdk/mcp"
)

type IntegrationHandlers struct {
	admin *crmsync.Admin
}

func NewIntegrationHandlers(admin *crmsync.Admin) *IntegrationHandlers {
	return &IntegrationHandlers{admin: admin}
}

type ProviderInput struct {
	Provider string `json:"provider" jsonschema:"CRM provider code: salesforce or hubspot (required)"`
}

type SetIntegrationEnabledInput struct {
	Provider string `json:"provider" jsonschema:"CRM provider code: salesforce or hubspot (required)"`
	Enabled  bool   `json:"enabled" jsonschema:"Whether finished sessions are delivered to this CRM"`
}

type IntegrationOutput struct {
	ID                string  `json:"id"`
	Provider          string  `json:"provider"`
	Name              string  `json:"name"`
	IsEnabled         bool    `json:"is_enabled"`
	IsConnected       bool    `json:"is_connected"`
	ExternalAccountID string  `json:"external_account_id,omitempty"`
	TokenExpiresAt    *string `json:"token_expires_at,omitempty"`
	LastSyncAt        *string `json:"last_sync_at,omitempty"`
	LastError         *string `json:"last_error,omitempty"`
}

type ListIntegrationsInput struct{}

type ListIntegrationsOutput struct {
	Integrations []IntegrationOutput `json:"integrations"`
}

type ConnectOutput struct {
	Provider string `json:"provider"`
	URL      string `json:"url"`
}

type StatusOutput struct {
	Provider string `json:"provider"`
	Message  string `json:"message"`
}

type TestConnectionOutput struct {
	Provider string `json:"provider"`
	OK       bool   `json:"ok"`
	Detail   string `json:"detail"`
}

func (h *IntegrationHandlers) ListIntegrations(ctx context.Context, request *mcp.CallToolRequest, input ListIntegrationsInput) (*mcp.CallToolResult, ListIntegrationsOutput, error) {
	integrations, err := h.admin.ListIntegrations(ctx)
	if err != nil {
		return nil, ListIntegrationsOutput{}, fmt.Errorf("failed to list integrations: %w", err)
	}

	out := ListIntegrationsOutput{Integrations: make([]IntegrationOutput, 0, len(integrations))}
	for _, integration := range integrations {
		out.Integrations = append(out.Integrations, integrationToOutput(integration))
	}
	return nil, out, nil
}

func (h *IntegrationHandlers) ConnectIntegration(ctx context.Context, request *mcp.CallToolRequest, input ProviderInput) (*mcp.CallToolResult, ConnectOutput, error) {
	if input.Provider == "" {
		return nil, ConnectOutput{}, fmt.Errorf("provider is required")
	}

	url, err := h.admin.ConnectURL(ctx, input.Provider)
	if err != nil {
		return nil, ConnectOutput{}, fmt.Errorf("failed to start connect flow: %w", err)
	}
	return nil, ConnectOutput{Provider: input.Provider, URL: url}, nil
}

func (h *IntegrationHandlers) SetIntegrationEnabled(ctx context.Context, request *mcp.CallToolRequest, input SetIntegrationEnabledInput) (*mcp.CallToolResult, StatusOutput, error) {
	if input.Provider == "" {
		return nil, StatusOutput{}, fmt.Errorf("provider is required")
	}

	if err := h.admin.SetEnabled(ctx, input.Provider, input.Enabled); err != nil {
		return nil, StatusOutput{}, fmt.Errorf("failed to update integration: %w", err)
	}

	state := "disabled"
	if input.Enabled {
		state = "enabled"
	}
	return nil, StatusOutput{Provider: input.Provider, Message: fmt.Sprintf("%s %s", input.Provider, state)}, nil
}

func (h *IntegrationHandlers) DisconnectIntegration(ctx context.Context, request *mcp.CallToolRequest, input ProviderInput) (*mcp.CallToolResult, StatusOutput, error) {
	if input.Provider == "" {
		return nil, StatusOutput{}, fmt.Errorf("provider is required")
	}

	if err := h.admin.Disconnect(ctx, input.Provider); err != nil {
		return nil, StatusOutput{}, fmt.Errorf("failed to disconnect integration: %w", err)
	}
	return nil, StatusOutput{Provider: input.Provider, Message: fmt.Sprintf("%s disconnected", input.Provider)}, nil
}

func (h *IntegrationHandlers) TestIntegration(ctx context.Context, request *mcp.CallToolRequest, input ProviderInput) (*mcp.CallToolResult, TestConnectionOutput, error) {
	if input.Provider == "" {
		return nil, TestConnectionOutput{}, fmt.Errorf("provider is required")
	}

	status, err := h.admin.TestConnection(ctx, input.Provider)
	if err != nil {
		return nil, TestConnectionOutput{}, fmt.Errorf("failed to test connection: %w", err)
	}
	return nil, TestConnectionOutput{Provider: input.Provider, OK: status.OK, Detail: status.Detail}, nil
}

func integrationToOutput(integration *models.Integration) IntegrationOutput {
	out := IntegrationOutput{
		ID:                integration.ID.String(),
		Provider:          integration.Provider,
		Name:              integration.Name,
		IsEnabled:         integration.IsEnabled,
		IsConnected:       integration.IsConnected,
		ExternalAccountID: integration.ExternalAccountID,
		TokenExpiresAt:    formatTime(integration.TokenExpiresAt),
		LastSyncAt:        formatTime(integration.LastSyncAt),
		LastError:         integration.LastError,
	}
	return out
}

func formatTime(t *time.Time) *string {
	if t == nil {
		return nil
	}
	s := t.UTC().Format(time.RFC3339)
	return &s
}
