// ABOUTME: Integration subcommands: status, connect, disconnect, enable, disable and test
// ABOUTME: Thin wrappers over crmsync.Admin that print human readable results
package cli

import (
	"fmt"
	"text/tabwriter"
	"time"

	"github.com/harperreed/crmsync/models"
	"github.com/spf13/cobra"
)

func statusCommand(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show connection and sync health of every integration",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			integrations, err := opts.app.Admin.ListIntegrations(cmd.Context())
			if err != nil {
				return err
			}

			p := newPrinter(cmd.OutOrStdout())
			fmt.Fprintln(p.w, p.paint(titleStyle, "CRM integrations"))
			tw := tabwriter.NewWriter(p.w, 0, 4, 2, ' ', 0)
			fmt.Fprintln(tw, p.paint(headerStyle, "PROVIDER\tENABLED\tCONNECTION\tACCOUNT\tLAST SYNC\tLAST ERROR"))
			for _, i := range integrations {
				connection := "disconnected"
				if i.IsConnected {
					connection = "connected"
				}
				enabled := "no"
				if i.IsEnabled {
					enabled = "yes"
				}
				lastSync := "never"
				if i.LastSyncAt != nil {
					lastSync = i.LastSyncAt.Local().Format(time.DateTime)
				}
				lastError := ""
				if i.LastError != nil {
					lastError = p.paint(errorStyle, *i.LastError)
				}
				fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\t%s\n", i.Provider, enabled, p.status(connection), i.ExternalAccountID, lastSync, lastError)
			}
			return tw.Flush()
		},
	}
}

func connectCommand(opts *rootOptions) *cobra.Command {
	var open bool

	cmd := &cobra.Command{
		Use:   "connect <provider>",
		Short: "Print the link that starts the OAuth consent flow",
		Long:  "Print the link that starts the OAuth consent flow. The link is served by 'crmsync serve', which must be running to receive the callback.",
		Args:  cobra.ExactArgs(1),

		ValidArgsFunction: providerCompletion,
		RunE: func(cmd *cobra.Command, args []string) error {
			link, err := opts.app.Admin.ConnectURL(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			p := newPrinter(cmd.OutOrStdout())
			fmt.Fprintf(p.w, "Open this link to connect %s:\n\n  %s\n", args[0], link)
			if open {
				if err := openBrowser(link); err != nil {
					fmt.Fprintf(p.w, "%s\n", p.paint(mutedStyle, "Could not open a browser: "+err.Error()))
				}
			}
			return nil
		},
	}
	cmd.Flags().BoolVar(&open, "open", false, "Open the link in the default browser")
	return cmd
}

func disconnectCommand(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "disconnect <provider>",
		Short: "Forget the stored tokens of an integration",
		Args:  cobra.ExactArgs(1),

		ValidArgsFunction: providerCompletion,
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := opts.app.Admin.Disconnect(cmd.Context(), args[0]); err != nil {
				return err
			}
			p := newPrinter(cmd.OutOrStdout())
			fmt.Fprintf(p.w, "%s %s disconnected\n", p.paint(okStyle, "✓"), args[0])
			return nil
		},
	}
}

func enableCommand(opts *rootOptions, enabled bool) *cobra.Command {
	use, short, verb := "enable", "Deliver finished sessions to a CRM", "enabled"
	if !enabled {
		use, short, verb = "disable", "Stop delivering sessions to a CRM", "disabled"
	}
	return &cobra.Command{
		Use:   use + " <provider>",
		Short: short,
		Args:  cobra.ExactArgs(1),

		ValidArgsFunction: providerCompletion,
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := opts.app.Admin.SetEnabled(cmd.Context(), args[0], enabled); err != nil {
				return err
			}
			p := newPrinter(cmd.OutOrStdout())
			fmt.Fprintf(p.w, "%s %s %s\n", p.paint(okStyle, "✓"), args[0], verb)
			return nil
		},
	}
}

func testCommand(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "test <provider>",
		Short: "Check that the stored credentials can reach the CRM",
		Args:  cobra.ExactArgs(1),

		ValidArgsFunction: providerCompletion,
		RunE: func(cmd *cobra.Command, args []string) error {
			status, err := opts.app.Admin.TestConnection(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			p := newPrinter(cmd.OutOrStdout())
			if !status.OK {
				fmt.Fprintf(p.w, "%s %s: %s\n", p.status("failed"), args[0], status.Detail)
				return fmt.Errorf("connection test failed for %s", args[0])
			}
			fmt.Fprintf(p.w, "%s %s: %s\n", p.status("ok"), args[0], status.Detail)
			return nil
		},
	}
}

func providerCompletion(cmd *cobra.Command, args []string, toComplete string) ([]string, cobra.ShellCompDirective) {
	return models.Providers, cobra.ShellCompDirectiveNoFileComp
}
