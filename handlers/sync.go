// ABOUTME: Sync MCP tool handlers
// ABOUTME: Implements record_session, sync_session, retry_sync and list_sync_logs tools
package handlers

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/harperreed/crmsync/crmsync"
	"github.com/harperreed/crmsync/models"
	"github.com/modelcontextprotocol/go-sdk/mcp"
)

type SyncHandlers struct {
	admin *crmsync.Admin
}

func NewSyncHandlers(admin *crmsync.Admin) *SyncHandlers {
	return &SyncHandlers{admin: admin}
}

type RecordSessionInput struct {
	SessionID    string  `json:"session_id" jsonschema:"Training session id (required)"`
	UserName     string  `json:"user_name" jsonschema:"Name of the trainee (required)"`
	UserEmail    string  `json:"user_email,omitempty" jsonschema:"Trainee email, used to link the CRM contact"`
	Outcome      string  `json:"outcome" jsonschema:"Session outcome such as sale_made, no_sale or abandoned (required)"`
	Score        float64 `json:"score" jsonschema:"Score from 0 to 100"`
	Grade        string  `json:"grade" jsonschema:"Letter grade A to F (required)"`
	SalesMode    string  `json:"sales_mode" jsonschema:"ai_sells or user_sells (required)"`
	Duration     int64   `json:"duration,omitempty" jsonschema:"Session length in seconds"`
	MessageCount int     `json:"message_count,omitempty" jsonschema:"Number of messages exchanged"`
	StartedAt    string  `json:"started_at" jsonschema:"Start time in RFC3339 format (required)"`
	EndedAt      string  `json:"ended_at,omitempty" jsonschema:"End time in RFC3339 format, empty while running"`
	Sync         bool    `json:"sync,omitempty" jsonschema:"Deliver the session to every active CRM right away"`
}

type RecordSessionOutput struct {
	SessionID string                    `json:"session_id"`
	Results   map[string]crmsync.Result `json:"results,omitempty"`
}

type SyncSessionInput struct {
	SessionID string `json:"session_id" jsonschema:"Training session id to deliver (required)"`
}

type SyncSessionOutput struct {
	SessionID string                    `json:"session_id"`
	Results   map[string]crmsync.Result `json:"results"`
}

type RetrySyncInput struct {
	SyncLogID string `json:"sync_log_id" jsonschema:"Sync log id to retry (required)"`
}

type ListSyncLogsInput struct {
	Provider  string `json:"provider,omitempty" jsonschema:"Filter by provider code"`
	Status    string `json:"status,omitempty" jsonschema:"Filter by status: pending, success, failed or retrying"`
	SessionID string `json:"session_id,omitempty" jsonschema:"Filter by training session id"`
	Limit     int    `json:"limit,omitempty" jsonschema:"Maximum number of results (default 50)"`
}

type SyncLogOutput struct {
	ID           string  `json:"id"`
	Provider     string  `json:"provider,omitempty"`
	SessionID    string  `json:"session_id"`
	SyncType     string  `json:"sync_type"`
	ObjectType   string  `json:"object_type"`
	Status       string  `json:"status"`
	ExternalID   *string `json:"external_id,omitempty"`
	ErrorMessage *string `json:"error_message,omitempty"`
	RetryCount   int     `json:"retry_count"`
	CreatedAt    string  `json:"created_at"`
	UpdatedAt    string  `json:"updated_at"`
}

type ListSyncLogsOutput struct {
	Logs []SyncLogOutput `json:"logs"`
}

func (h *SyncHandlers) RecordSession(ctx context.Context, request *mcp.CallToolRequest, input RecordSessionInput) (*mcp.CallToolResult, RecordSessionOutput, error) {
	summary, err := input.summary()
	if err != nil {
		return nil, RecordSessionOutput{}, err
	}

	out := RecordSessionOutput{SessionID: summary.SessionID}
	if input.Sync {
		results, err := h.admin.CompleteSession(ctx, summary)
		if err != nil {
			return nil, RecordSessionOutput{}, fmt.Errorf("failed to record session: %w", err)
		}
		out.Results = results
		return nil, out, nil
	}

	if err := h.admin.RecordSession(ctx, summary); err != nil {
		return nil, RecordSessionOutput{}, fmt.Errorf("failed to record session: %w", err)
	}
	return nil, out, nil
}

func (in RecordSessionInput) summary() (*models.SessionSummary, error) {
	started, err := time.Parse(time.RFC3339, in.StartedAt)
	if err != nil {
		return nil, fmt.Errorf("invalid started_at: %w", err)
	}

	summary := &models.SessionSummary{
		SessionID:    in.SessionID,
		UserName:     in.UserName,
		UserEmail:    in.UserEmail,
		Outcome:      in.Outcome,
		Score:        in.Score,
		Grade:        in.Grade,
		SalesMode:    in.SalesMode,
		Duration:     in.Duration,
		MessageCount: in.MessageCount,
		StartedAt:    started,
	}
	if in.EndedAt != "" {
		ended, err := time.Parse(time.RFC3339, in.EndedAt)
		if err != nil {
			return nil, fmt.Errorf("invalid ended_at: %w", err)
		}
		summary.EndedAt = &ended
	}
	return summary, nil
}

func (h *SyncHandlers) SyncSession(ctx context.Context, request *mcp.CallToolRequest, input SyncSessionInput) (*mcp.CallToolResult, SyncSessionOutput, error) {
	if input.SessionID == "" {
		return nil, SyncSessionOutput{}, fmt.Errorf("session_id is required")
	}

	results, err := h.admin.SyncSession(ctx, input.SessionID)
	if err != nil {
		return nil, SyncSessionOutput{}, fmt.Errorf("failed to sync session: %w", err)
	}
	return nil, SyncSessionOutput{SessionID: input.SessionID, Results: results}, nil
}

func (h *SyncHandlers) RetrySync(ctx context.Context, request *mcp.CallToolRequest, input RetrySyncInput) (*mcp.CallToolResult, crmsync.Result, error) {
	id, err := uuid.Parse(input.SyncLogID)
	if err != nil {
		return nil, crmsync.Result{}, fmt.Errorf("invalid sync_log_id: %w", err)
	}

	result, err := h.admin.Retry(ctx, id)
	if err != nil {
		return nil, crmsync.Result{}, fmt.Errorf("failed to retry sync: %w", err)
	}
	return nil, result, nil
}

func (h *SyncHandlers) ListSyncLogs(ctx context.Context, request *mcp.CallToolRequest, input ListSyncLogsInput) (*mcp.CallToolResult, ListSyncLogsOutput, error) {
	logs, err := h.admin.ListSyncLogs(ctx, crmsync.LogQuery{
		Provider:  input.Provider,
		Status:    input.Status,
		SessionID: input.SessionID,
		Limit:     input.Limit,
	})
	if err != nil {
		return nil, ListSyncLogsOutput{}, fmt.Errorf("failed to list sync logs: %w", err)
	}

	providers, err := h.providerNames(ctx)
	if err != nil {
		return nil, ListSyncLogsOutput{}, err
	}

	out := ListSyncLogsOutput{Logs: make([]SyncLogOutput, 0, len(logs))}
	for _, log := range logs {
		out.Logs = append(out.Logs, syncLogToOutput(log, providers[log.IntegrationID]))
	}
	return nil, out, nil
}

func (h *SyncHandlers) providerNames(ctx context.Context) (map[uuid.UUID]string, error) {
	integrations, err := h.admin.ListIntegrations(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to list integrations: %w", err)
	}
	names := make(map[uuid.UUID]string, len(integrations))
	for _, integration := range integrations {
		names[integration.ID] = integration.Provider
	}
	return names, nil
}

func syncLogToOutput(log *models.SyncLog, provider string) SyncLogOutput {
	return SyncLogOutput{
		ID:           log.ID.String(),
		Provider:     provider,
		SessionID:    log.SessionID,
		SyncType:     log.SyncType,
		ObjectType:   log.ObjectType,
		Status:       log.Status,
		ExternalID:   log.ExternalID,
		ErrorMessage: log.ErrorMessage,
		RetryCount:   log.RetryCount,
		CreatedAt:    log.CreatedAt.UTC().Format(time.RFC3339),
		UpdatedAt:    log.UpdatedAt.UTC().Format(time.RFC3339),
	}
}
