// ABOUTME: MCP server subcommand
// ABOUTME: Exposes sync administration as MCP tools, resources and prompts over stdio
package cli

import (
	"github.com/harperreed/crmsync/crmsync"
	"github.com/harperreed/crmsync/handlers"
	"github.com/modelcontextprotocol/go-sdk/mcp"
	"github.com/spf13/cobra"
)

func mcpCommand(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "mcp",
		Short: "Start the MCP server on stdio",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			opts.setVerbose()
			opts.app.Logger.Info("starting crmsync MCP server")
			server := NewMCPServer(opts.app.Admin)
			return server.Run(cmd.Context(), &mcp.StdioTransport{})
		},
	}
}

// NewMCPServer registers every tool, resource and prompt against admin.
func NewMCPServer(admin *crmsync.Admin) *mcp.Server {
	integrationHandlers := handlers.NewIntegrationHandlers(admin)
	syncHandlers := handlers.NewSyncHandlers(admin)
	mappingHandlers := handlers.NewMappingHandlers(admin)
	resourceHandlers := handlers.NewResourceHandlers(admin)
	promptHandlers := handlers.NewPromptHandlers(admin)

	server := mcp.NewServer(&mcp.Implementation{
		Name:    "crmsync",
		Version: version,
	}, nil)

	// Integrations
	mcp.AddTool(server, &mcp.Tool{
		Name:        "list_integrations",
		Description: "List every CRM integration with its connection state, last sync and last error",
	}, integrationHandlers.ListIntegrations)

	mcp.AddTool(server, &mcp.Tool{
		Name:        "connect_integration",
		Description: "Get the link an admin opens to grant crmsync access to a CRM",
	}, integrationHandlers.ConnectIntegration)

	mcp.AddTool(server, &mcp.Tool{
		Name:        "set_integration_enabled",
		Description: "Enable or disable delivery of finished sessions to a CRM",
	}, integrationHandlers.SetIntegrationEnabled)

	mcp.AddTool(server, &mcp.Tool{
		Name:        "disconnect_integration",
		Description: "Forget the stored OAuth tokens of a CRM",
	}, integrationHandlers.DisconnectIntegration)

	mcp.AddTool(server, &mcp.Tool{
		Name:        "test_integration",
		Description: "Check that the stored credentials can reach the CRM API",
	}, integrationHandlers.TestIntegration)

	// Sync
	mcp.AddTool(server, &mcp.Tool{
		Name:        "record_session",
		Description: "Store a finished training session summary, optionally delivering it right away",
	}, syncHandlers.RecordSession)

	mcp.AddTool(server, &mcp.Tool{
		Name:        "sync_session",
		Description: "Deliver a recorded session to every enabled and connected CRM; re-syncing updates the existing record",
	}, syncHandlers.SyncSession)

	mcp.AddTool(server, &mcp.Tool{
		Name:        "retry_sync",
		Description: "Replay a failed sync attempt by its sync log id",
	}, syncHandlers.RetrySync)

	mcp.AddTool(server, &mcp.Tool{
		Name:        "list_sync_logs",
		Description: "List recent sync attempts with optional provider, status and session filters",
	}, syncHandlers.ListSyncLogs)

	// Mappings
	mcp.AddTool(server, &mcp.Tool{
		Name:        "list_mappings",
		Description: "List the field mappings of a CRM provider",
	}, mappingHandlers.ListMappings)

	mcp.AddTool(server, &mcp.Tool{
		Name:        "save_mapping",
		Description: "Create a field mapping, or replace one by id, with an optional map or format transform",
	}, mappingHandlers.SaveMapping)

	mcp.AddTool(server, &mcp.Tool{
		Name:        "toggle_mapping",
		Description: "Enable or disable a field mapping",
	}, mappingHandlers.ToggleMapping)

	mcp.AddTool(server, &mcp.Tool{
		Name:        "delete_mapping",
		Description: "Delete a field mapping",
	}, mappingHandlers.DeleteMapping)

	for _, resource := range resourceHandlers.Resources() {
		server.AddResource(resource, resourceHandlers.ReadResource)
	}
	for _, prompt := range promptHandlers.Prompts() {
		server.AddPrompt(prompt, promptHandlers.GetPrompt)
	}

	return server
}
