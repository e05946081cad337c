// ABOUTME: MCP prompt handlers for sync troubleshooting workflows
// ABOUTME: Provides prompts that summarize failed deliveries and review field mappings
package handlers

import (
	"context"
	"fmt"
	"strings"

	"github.com/harperreed/crmsync/crmsync"
	"github.com/harperreed/crmsync/models"
	"github.com/modelcontextprotocol/go-sdk/mcp"
)

type PromptHandlers struct {
	admin *crmsync.Admin
}

func NewPromptHandlers(admin *crmsync.Admin) *PromptHandlers {
	return &PromptHandlers{admin: admin}
}

// Prompts lists the prompt templates a server should advertise.
func (h *PromptHandlers) Prompts() []*mcp.Prompt {
	return []*mcp.Prompt{
		{
			Name:        "sync-failure-triage",
			Description: "Explain recent failed CRM deliveries and suggest fixes",
			Arguments: []*mcp.PromptArgument{
				{Name: "provider", Description: "Limit to one provider code"},
			},
		},
		{
			Name:        "mapping-review",
			Description: "Review the field mappings of one CRM provider",
			Arguments: []*mcp.PromptArgument{
				{Name: "provider", Description: "Provider code", Required: true},
			},
		},
	}
}

// GetPrompt generates the prompt message based on the template
func (h *PromptHandlers) GetPrompt(ctx context.Context, request *mcp.GetPromptRequest) (*mcp.GetPromptResult, error) {
	name := request.Params.Name
	arguments := request.Params.Arguments
	switch name {
	case "sync-failure-triage":
		return h.getFailureTriagePrompt(ctx, arguments)
	case "mapping-review":
		return h.getMappingReviewPrompt(ctx, arguments)
	default:
		return nil, fmt.Errorf("unknown prompt: %s", name)
	}
}

func (h *PromptHandlers) getFailureTriagePrompt(ctx context.Context, args map[string]string) (*mcp.GetPromptResult, error) {
	provider := args["provider"]
	logs, err := h.admin.ListSyncLogs(ctx, crmsync.LogQuery{Provider: provider, Status: models.SyncStatusFailed, Limit: 25})
	if err != nil {
		return nil, fmt.Errorf("failed to fetch sync logs: %w", err)
	}

	integrations, err := h.admin.ListIntegrations(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch integrations: %w", err)
	}

	var promptText strings.Builder
	promptText.WriteString("Please triage these failed CRM deliveries:\n\n")

	promptText.WriteString("Integrations:\n")
	for _, integration := range integrations {
		if provider != "" && integration.Provider != provider {
			continue
		}
		promptText.WriteString(fmt.Sprintf("- %s: enabled=%t connected=%t", integration.Provider, integration.IsEnabled, integration.IsConnected))
		if integration.LastError != nil {
			promptText.WriteString(fmt.Sprintf(" last_error=%q", *integration.LastError))
		}
		promptText.WriteString("\n")
	}

	if len(logs) == 0 {
		promptText.WriteString("\nNo failed sync attempts were found.\n")
	} else {
		promptText.WriteString(fmt.Sprintf("\nFailed attempts (%d):\n", len(logs)))
		for _, log := range logs {
			message := ""
			if log.ErrorMessage != nil {
				message = *log.ErrorMessage
			}
			promptText.WriteString(fmt.Sprintf("- %s session=%s type=%s retries=%d: %s\n",
				log.ID, log.SessionID, log.SyncType, log.RetryCount, message))
		}
	}

	promptText.WriteString("\nPlease provide:")
	promptText.WriteString("\n1. The likely cause of each group of failures")
	promptText.WriteString("\n2. Whether a retry is worthwhile or the integration needs reconnecting")
	promptText.WriteString("\n3. Any field mapping that should be fixed")

	return &mcp.GetPromptResult{
		Description: "Sync failure triage",
		Messages: []*mcp.PromptMessage{
			{
				Role:    "user",
				Content: &mcp.TextContent{Text: promptText.String()},
			},
		},
	}, nil
}

func (h *PromptHandlers) getMappingReviewPrompt(ctx context.Context, args map[string]string) (*mcp.GetPromptResult, error) {
	provider, ok := args["provider"]
	if !ok || provider == "" {
		return nil, fmt.Errorf("provider is required")
	}

	mappings, err := h.admin.Mappings.ListMappings(ctx, provider)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch mappings: %w", err)
	}

	var promptText strings.Builder
	promptText.WriteString(fmt.Sprintf("Please review the %s field mappings:\n\n", provider))
	promptText.WriteString(fmt.Sprintf("Session fields available: %s\n\n", strings.Join(models.SourceFields, ", ")))
	if len(mappings) == 0 {
		promptText.WriteString("No mappings are configured; only the core activity fields are sent.\n")
	}
	for _, m := range mappings {
		promptText.WriteString(fmt.Sprintf("- %s -> %s.%s (%s", m.SourceField, m.TargetObject, m.TargetField, m.TransformType))
		if m.TransformConfig != "" {
			promptText.WriteString(" " + m.TransformConfig)
		}
		promptText.WriteString(")")
		if !m.IsEnabled {
			promptText.WriteString(" disabled")
		}
		promptText.WriteString("\n")
	}

	promptText.WriteString("\nPlease point out mappings that target missing or read-only fields,")
	promptText.WriteString(" collide with each other, or would help reporting if added.")

	return &mcp.GetPromptResult{
		Description: fmt.Sprintf("Mapping review for %s", provider),
		Messages: []*mcp.PromptMessage{
			{
				Role:    "user",
				Content: &mcp.TextContent{Text: promptText.String()},
			},
		},
	}, nil
}
