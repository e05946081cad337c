// ABOUTME: Sync subcommands: record a session, deliver it, retry attempts and list sync logs
// ABOUTME: Also holds the browser helper used by connect --open
package cli

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"os/exec"
	"runtime"
	"sort"
	"text/tabwriter"
	"time"

	"github.com/google/uuid"
	"github.com/harperreed/crmsync/crmsync"
	"github.com/harperreed/crmsync/models"
	"github.com/spf13/cobra"
)

func recordCommand(opts *rootOptions) *cobra.Command {
	var file string
	var sync bool

	cmd := &cobra.Command{
		Use:   "record",
		Short: "Store a finished session summary from JSON",
		Long:  "Store a finished session summary read from --file, or from stdin when --file is '-' or omitted.",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			var in io.Reader = cmd.InOrStdin()
			if file != "" && file != "-" {
				f, err := os.Open(file)
				if err != nil {
					return fmt.Errorf("failed to open session file: %w", err)
				}
				defer func() { _ = f.Close() }()
				in = f
			}

			var summary models.SessionSummary
			if err := json.NewDecoder(in).Decode(&summary); err != nil {
				return fmt.Errorf("failed to decode session summary: %w", err)
			}

			ctx := cmd.Context()
			p := newPrinter(cmd.OutOrStdout())
			if !sync {
				if err := opts.app.Admin.RecordSession(ctx, &summary); err != nil {
					return err
				}
				fmt.Fprintf(p.w, "%s recorded session %s\n", p.paint(okStyle, "✓"), summary.SessionID)
				return nil
			}

			results, err := opts.app.Admin.CompleteSession(ctx, &summary)
			if err != nil {
				return err
			}
			fmt.Fprintf(p.w, "%s recorded session %s\n", p.paint(okStyle, "✓"), summary.SessionID)
			if results == nil {
				fmt.Fprintln(p.w, p.paint(mutedStyle, "CRM sync skipped; run `crmsync sync` later."))
				return nil
			}
			// Failed deliveries stay in the sync log for retry.
			reportResults(p, results)
			return nil
		},
	}
	cmd.Flags().StringVarP(&file, "file", "f", "", "JSON file holding the session summary")
	cmd.Flags().BoolVar(&sync, "sync", false, "Deliver the session right after recording it")
	return cmd
}

func syncCommand(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "sync <session-id>",
		Short: "Deliver a recorded session to every active CRM",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			results, err := opts.app.Admin.SyncSession(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			return printResults(newPrinter(cmd.OutOrStdout()), results)
		},
	}
}

func retryCommand(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "retry <sync-log-id>",
		Short: "Replay one sync attempt",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := uuid.Parse(args[0])
			if err != nil {
				return fmt.Errorf("invalid sync log id: %w", err)
			}
			result, err := opts.app.Admin.Retry(cmd.Context(), id)
			if err != nil {
				return err
			}
			return printResults(newPrinter(cmd.OutOrStdout()), map[string]crmsync.Result{"retry": result})
		},
	}
}

func logsCommand(opts *rootOptions) *cobra.Command {
	var q crmsync.LogQuery

	cmd := &cobra.Command{
		Use:   "logs",
		Short: "List recent sync attempts, newest first",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			logs, err := opts.app.Admin.ListSyncLogs(cmd.Context(), q)
			if err != nil {
				return err
			}

			p := newPrinter(cmd.OutOrStdout())
			if len(logs) == 0 {
				fmt.Fprintln(p.w, p.paint(mutedStyle, "No sync attempts found."))
				return nil
			}

			tw := tabwriter.NewWriter(p.w, 0, 4, 2, ' ', 0)
			fmt.Fprintln(tw, p.paint(headerStyle, "ID\tSESSION\tTYPE\tSTATUS\tREMOTE ID\tRETRIES\tUPDATED\tERROR"))
			for _, log := range logs {
				externalID, message := "", ""
				if log.ExternalID != nil {
					externalID = *log.ExternalID
				}
				if log.ErrorMessage != nil {
					message = *log.ErrorMessage
				}
				fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\t%d\t%s\t%s\n",
					log.ID, log.SessionID, log.SyncType, p.status(log.Status), externalID,
					log.RetryCount, log.UpdatedAt.Local().Format(time.DateTime), message)
			}
			return tw.Flush()
		},
	}
	cmd.Flags().StringVar(&q.Provider, "provider", "", "Only show this provider")
	cmd.Flags().StringVar(&q.Status, "status", "", "Only show this status (pending, success, failed, retrying)")
	cmd.Flags().StringVar(&q.SessionID, "session", "", "Only show this session")
	cmd.Flags().IntVar(&q.Limit, "limit", 50, "Maximum number of attempts to show")
	_ = cmd.RegisterFlagCompletionFunc("provider", providerCompletion)
	return cmd
}

func printResults(p printer, results map[string]crmsync.Result) error {
	if failed := reportResults(p, results); failed > 0 {
		return fmt.Errorf("%d of %d deliveries failed", failed, len(results))
	}
	return nil
}

// reportResults prints one line per provider and returns how many failed.
func reportResults(p printer, results map[string]crmsync.Result) int {
	if len(results) == 0 {
		fmt.Fprintln(p.w, p.paint(mutedStyle, "No active integrations; nothing was sent."))
		return 0
	}

	keys := make([]string, 0, len(results))
	for k := range results {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	failed := 0
	for _, k := range keys {
		r := results[k]
		if r.Success {
			fmt.Fprintf(p.w, "%s %s: %s (log %s)\n", p.status("success"), k, r.ExternalID, r.SyncLogID)
			continue
		}
		failed++
		fmt.Fprintf(p.w, "%s %s: %s (log %s)\n", p.status("failed"), k, r.Error, r.SyncLogID)
	}
	return failed
}

// openBrowser attempts to open URL in default browser
func openBrowser(url string) error {
	var cmd string
	var args []string

	switch runtime.GOOS {
	case "darwin":
		cmd = "open"
		args = []string{url}
	case "windows":
		cmd = "cmd"
		args = []string{"/c", "start", url}
	default:
		cmd = "xdg-open"
		args = []string{url}
	}

	command := exec.Command(cmd, args...)
	return command.Start()
}
