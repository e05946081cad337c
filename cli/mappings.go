// ABOUTME: Field mapping subcommands: list, set, enable, disable and delete
// ABOUTME: Edits go through mapping.Engine so they are validated like API edits
package cli

import (
	"fmt"
	"text/tabwriter"

	"github.com/google/uuid"
	"github.com/harperreed/crmsync/mapping"
	"github.com/spf13/cobra"
)

func mappingsCommand(opts *rootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "mappings",
		Short: "Manage field mappings from session fields to CRM fields",
	}
	cmd.AddCommand(
		mappingsListCommand(opts),
		mappingsSetCommand(opts),
		mappingsToggleCommand(opts, true),
		mappingsToggleCommand(opts, false),
		mappingsDeleteCommand(opts),
	)
	return cmd
}

func mappingsListCommand(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "list <provider>",
		Short: "List the mappings of a provider",
		Args:  cobra.ExactArgs(1),

		ValidArgsFunction: providerCompletion,
		RunE: func(cmd *cobra.Command, args []string) error {
			mappings, err := opts.app.Admin.Mappings.ListMappings(cmd.Context(), args[0])
			if err != nil {
				return err
			}

			p := newPrinter(cmd.OutOrStdout())
			if len(mappings) == 0 {
				fmt.Fprintln(p.w, p.paint(mutedStyle, "No mappings; only the core activity fields are sent."))
				return nil
			}

			tw := tabwriter.NewWriter(p.w, 0, 4, 2, ' ', 0)
			fmt.Fprintln(tw, p.paint(headerStyle, "ID\tSOURCE\tTARGET\tTRANSFORM\tCONFIG\tSTATE"))
			for _, m := range mappings {
				state := "disabled"
				if m.IsEnabled {
					state = "enabled"
				}
				fmt.Fprintf(tw, "%s\t%s\t%s.%s\t%s\t%s\t%s\n",
					m.ID, m.SourceField, m.TargetObject, m.TargetField, m.TransformType, m.TransformConfig, p.status(state))
			}
			return tw.Flush()
		},
	}
}

func mappingsSetCommand(opts *rootOptions) *cobra.Command {
	var in mapping.Input
	var id string
	var disabled bool

	cmd := &cobra.Command{
		Use:   "set <provider> <source-field> <target-object> <target-field>",
		Short: "Create a mapping, or replace one with --id",
		Example: `  crmsync mappings set salesforce grade Task Training_Grade__c
  crmsync mappings set hubspot grade engagement hs_grade --transform map --config '{"A":"Excellent","F":"Poor"}'
  crmsync mappings set hubspot startedAt engagement hs_started --transform format --config '{"format":"iso8601"}'`,
		Args: cobra.ExactArgs(4),
		RunE: func(cmd *cobra.Command, args []string) error {
			in.Provider, in.SourceField, in.TargetObject, in.TargetField = args[0], args[1], args[2], args[3]
			in.IsEnabled = !disabled
			if id != "" {
				parsed, err := uuid.Parse(id)
				if err != nil {
					return fmt.Errorf("invalid mapping id: %w", err)
				}
				in.ID = &parsed
			}

			saved, err := opts.app.Admin.Mappings.SaveMapping(cmd.Context(), in)
			if err != nil {
				return err
			}
			p := newPrinter(cmd.OutOrStdout())
			fmt.Fprintf(p.w, "%s mapping %s: %s -> %s.%s\n", p.paint(okStyle, "✓"), saved.ID, saved.SourceField, saved.TargetObject, saved.TargetField)
			return nil
		},
	}
	cmd.Flags().StringVar(&id, "id", "", "Existing mapping to replace")
	cmd.Flags().StringVar(&in.TransformType, "transform", "none", "Transform: none, map or format")
	cmd.Flags().StringVar(&in.TransformConfig, "config", "", "Transform config as JSON")
	cmd.Flags().BoolVar(&disabled, "disabled", false, "Save the mapping without applying it")
	return cmd
}

func mappingsToggleCommand(opts *rootOptions, enabled bool) *cobra.Command {
	use, verb := "enable", "enabled"
	if !enabled {
		use, verb = "disable", "disabled"
	}
	return &cobra.Command{
		Use:   use + " <mapping-id>",
		Short: fmt.Sprintf("Mark a mapping %s", verb),
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := uuid.Parse(args[0])
			if err != nil {
				return fmt.Errorf("invalid mapping id: %w", err)
			}
			if err := opts.app.Admin.Mappings.SetMappingEnabled(cmd.Context(), id, enabled); err != nil {
				return err
			}
			p := newPrinter(cmd.OutOrStdout())
			fmt.Fprintf(p.w, "%s mapping %s %s\n", p.paint(okStyle, "✓"), id, verb)
			return nil
		},
	}
}

func mappingsDeleteCommand(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "delete <mapping-id>",
		Short: "Remove a mapping",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := uuid.Parse(args[0])
			if err != nil {
				return fmt.Errorf("invalid mapping id: %w", err)
			}
			if err := opts.app.Admin.Mappings.DeleteMapping(cmd.Context(), id); err != nil {
				return err
			}
			p := newPrinter(cmd.OutOrStdout())
			fmt.Fprintf(p.w, "%s mapping %s deleted\n", p.paint(okStyle, "✓"), id)
			return nil
		},
	}
}
