// ABOUTME: Field mapping MCP tool handlers
// ABOUTME: Implements list_mappings, save_mapping, toggle_mapping and delete_mapping tools
package handlers

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/harperreed/crmsync/crmsync"
	"github.com/harperreed/crmsync/mapping"
	"github.com/harperreed/crmsync/models"
	"github.com/modelcontextprotocol/go-sdk/mcp"
)

type MappingHandlers struct {
	admin *crmsync.Admin
}

func NewMappingHandlers(admin *crmsync.Admin) *MappingHandlers {
	return &MappingHandlers{admin: admin}
}

type ListMappingsInput struct {
	Provider string `json:"provider" jsonschema:"CRM provider code (required)"`
}

type SaveMappingInput struct {
	ID              string `json:"id,omitempty" jsonschema:"Mapping id to update; omit to create"`
	Provider        string `json:"provider" jsonschema:"CRM provider code (required)"`
	SourceField     string `json:"source_field" jsonschema:"Session field to read, e.g. score or grade (required)"`
	TargetObject    string `json:"target_object" jsonschema:"Remote object, Task for Salesforce or engagement for HubSpot (required)"`
	TargetField     string `json:"target_field" jsonschema:"Remote field to write (required)"`
	TransformType   string `json:"transform_type,omitempty" jsonschema:"none, map or format (default none)"`
	TransformConfig string `json:"transform_config,omitempty" jsonschema:"JSON config for the transform"`
	Enabled         *bool  `json:"enabled,omitempty" jsonschema:"Whether the mapping is applied (default true)"`
}

type MappingIDInput struct {
	ID string `json:"id" jsonschema:"Mapping id (required)"`
}

type ToggleMappingInput struct {
	ID      string `json:"id" jsonschema:"Mapping id (required)"`
	Enabled bool   `json:"enabled" jsonschema:"New enabled state"`
}

type MappingOutput struct {
	ID              string `json:"id"`
	SourceField     string `json:"source_field"`
	TargetObject    string `json:"target_object"`
	TargetField     string `json:"target_field"`
	TransformType   string `json:"transform_type"`
	TransformConfig string `json:"transform_config,omitempty"`
	IsEnabled       bool   `json:"is_enabled"`
	UpdatedAt       string `json:"updated_at"`
}

type ListMappingsOutput struct {
	Provider string          `json:"provider"`
	Mappings []MappingOutput `json:"mappings"`
}

type MappingStatusOutput struct {
	ID      string `json:"id"`
	Message string `json:"message"`
}

func (h *MappingHandlers) ListMappings(ctx context.Context, request *mcp.CallToolRequest, input ListMappingsInput) (*mcp.CallToolResult, ListMappingsOutput, error) {
	if input.Provider == "" {
		return nil, ListMappingsOutput{}, fmt.Errorf("provider is required")
	}

	mappings, err := h.admin.Mappings.ListMappings(ctx, input.Provider)
	if err != nil {
		return nil, ListMappingsOutput{}, fmt.Errorf("failed to list mappings: %w", err)
	}

	out := ListMappingsOutput{Provider: input.Provider, Mappings: make([]MappingOutput, 0, len(mappings))}
	for _, m := range mappings {
		out.Mappings = append(out.Mappings, mappingToOutput(m))
	}
	return nil, out, nil
}

func (h *MappingHandlers) SaveMapping(ctx context.Context, request *mcp.CallToolRequest, input SaveMappingInput) (*mcp.CallToolResult, MappingOutput, error) {
	in := mapping.Input{
		Provider:        input.Provider,
		SourceField:     input.SourceField,
		TargetObject:    input.TargetObject,
		TargetField:     input.TargetField,
		TransformType:   input.TransformType,
		TransformConfig: input.TransformConfig,
		IsEnabled:       input.Enabled == nil || *input.Enabled,
	}
	if input.ID != "" {
		id, err := uuid.Parse(input.ID)
		if err != nil {
			return nil, MappingOutput{}, fmt.Errorf("invalid mapping ID: %w", err)
		}
		in.ID = &id
	}

	saved, err := h.admin.Mappings.SaveMapping(ctx, in)
	if err != nil {
		return nil, MappingOutput{}, fmt.Errorf("failed to save mapping: %w", err)
	}
	return nil, mappingToOutput(saved), nil
}

func (h *MappingHandlers) ToggleMapping(ctx context.Context, request *mcp.CallToolRequest, input ToggleMappingInput) (*mcp.CallToolResult, MappingStatusOutput, error) {
	id, err := uuid.Parse(input.ID)
	if err != nil {
		return nil, MappingStatusOutput{}, fmt.Errorf("invalid mapping ID: %w", err)
	}

	if err := h.admin.Mappings.SetMappingEnabled(ctx, id, input.Enabled); err != nil {
		return nil, MappingStatusOutput{}, fmt.Errorf("failed to toggle mapping: %w", err)
	}

	state := "disabled"
	if input.Enabled {
		state = "enabled"
	}
	return nil, MappingStatusOutput{ID: input.ID, Message: "mapping " + state}, nil
}

func (h *MappingHandlers) DeleteMapping(ctx context.Context, request *mcp.CallToolRequest, input MappingIDInput) (*mcp.CallToolResult, MappingStatusOutput, error) {
	id, err := uuid.Parse(input.ID)
	if err != nil {
		return nil, MappingStatusOutput{}, fmt.Errorf("invalid mapping ID: %w", err)
	}

	if err := h.admin.Mappings.DeleteMapping(ctx, id); err != nil {
		return nil, MappingStatusOutput{}, fmt.Errorf("failed to delete mapping: %w", err)
	}
	return nil, MappingStatusOutput{ID: input.ID, Message: "mapping deleted"}, nil
}

func mappingToOutput(m *models.FieldMapping) MappingOutput {
	return MappingOutput{
		ID:              m.ID.String(),
		SourceField:     m.SourceField,
		TargetObject:    m.TargetObject,
		TargetField:     m.TargetField,
		TransformType:   m.TransformType,
		TransformConfig: m.TransformConfig,
		IsEnabled:       m.IsEnabled,
		UpdatedAt:       m.UpdatedAt.UTC().Format(time.RFC3339),
	}
}
