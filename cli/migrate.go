// ABOUTME: migrate subcommand that backs up the database and brings its schema up to date
// ABOUTME: Dry-run reports which tables are missing without touching the file
package cli

import (
	"database/sql"
	"fmt"
	"os"
	"time"

	"github.com/harperreed/crmsync/config"
	"github.com/harperreed/crmsync/db"
	"github.com/spf13/cobra"
)

var requiredTables = []string{"field_mappings", "integrations", "session_summaries", "sync_logs"}

func migrateCommand(opts *rootOptions) *cobra.Command {
	var dryRun, backup bool

	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Back up the database and apply the current schema",
		Args:  cobra.NoArgs,
		// Runs before the database is opened so the backup is taken first.
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return nil
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load()
			if err != nil {
				return err
			}
			dbPath := cfg.DBPath
			if opts.dbPath != "" {
				dbPath = opts.dbPath
			}

			p := newPrinter(cmd.OutOrStdout())
			if _, err := os.Stat(dbPath); os.IsNotExist(err) {
				if dryRun {
					fmt.Fprintf(p.w, "[DRY RUN] Would create %s with tables %v\n", dbPath, requiredTables)
					return nil
				}
			} else {
				missing, err := missingTables(dbPath)
				if err != nil {
					return err
				}
				if dryRun {
					if len(missing) == 0 {
						fmt.Fprintln(p.w, "[DRY RUN] Schema is up to date")
					} else {
						fmt.Fprintf(p.w, "[DRY RUN] Would create tables: %v\n", missing)
					}
					return nil
				}
				if backup {
					backupPath, err := backupDatabase(dbPath)
					if err != nil {
						return err
					}
					fmt.Fprintf(p.w, "%s backup created: %s\n", p.paint(okStyle, "✓"), backupPath)
				}
			}

			database, err := db.OpenDatabase(dbPath)
			if err != nil {
				return fmt.Errorf("failed to apply schema: %w", err)
			}
			defer func() { _ = database.Close() }()

			fmt.Fprintf(p.w, "%s schema is current: %s\n", p.paint(okStyle, "✓"), dbPath)
			return nil
		},
	}
	cmd.Flags().BoolVar(&dryRun, "dry-run", false, "Show what would happen without making changes")
	cmd.Flags().BoolVar(&backup, "backup", true, "Create a backup before migrating")
	return cmd
}

func missingTables(dbPath string) ([]string, error) {
	database, err := sql.Open("sqlite3", dbPath+"?mode=ro")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	defer func() { _ = database.Close() }()

	rows, err := database.Query("SELECT name FROM sqlite_master WHERE type='table'")
	if err != nil {
		return nil, fmt.Errorf("failed to list tables: %w", err)
	}
	defer func() { _ = rows.Close() }()

	present := make(map[string]bool)
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, err
		}
		present[name] = true
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	var missing []string
	for _, table := range requiredTables {
		if !present[table] {
			missing = append(missing, table)
		}
	}
	return missing, nil
}

func backupDatabase(dbPath string) (string, error) {
	backupPath := fmt.Sprintf("%s.backup.%s", dbPath, time.Now().Format("20060102-150405"))
	input, err := os.ReadFile(dbPath)
	if err != nil {
		return "", fmt.Errorf("failed to read database: %w", err)
	}
	if err := os.WriteFile(backupPath, input, 0600); err != nil {
		return "", fmt.Errorf("failed to create backup: %w", err)
	}
	return backupPath, nil
}
