// ABOUTME: Root cobra command with shared flags, logger setup and App lifecycle
// ABOUTME: Subcommands share the App opened in the persistent pre-run hook
package cli

import (
	"fmt"

	"github.com/harperreed/crmsync/config"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

const version = "0.2.0"

type rootOptions struct {
	dbPath string
	debug  bool

	level zap.AtomicLevel
	app   *App
}

// Execute runs the crmsync command line.
func Execute() error {
	return NewRootCommand().Execute()
}

func NewRootCommand() *cobra.Command {
	opts := &rootOptions{}

	root := &cobra.Command{
		Use:           "crmsync",
		Short:         "Deliver finished training sessions to Salesforce and HubSpot",
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: false,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return opts.open()
		},
		PersistentPostRunE: func(cmd *cobra.Command, args []string) error {
			if opts.app == nil {
				return nil
			}
			err := opts.app.Close()
			_ = opts.app.Logger.Sync()
			return err
		},
	}
	root.PersistentFlags().StringVar(&opts.dbPath, "db-path", "", "Database path (default: $XDG_DATA_HOME/crmsync/crmsync.db)")
	root.PersistentFlags().BoolVar(&opts.debug, "debug", false, "Log at debug level in a human readable format")

	root.AddCommand(
		statusCommand(opts),
		connectCommand(opts),
		disconnectCommand(opts),
		enableCommand(opts, true),
		enableCommand(opts, false),
		testCommand(opts),
		recordCommand(opts),
		syncCommand(opts),
		retryCommand(opts),
		logsCommand(opts),
		mappingsCommand(opts),
		serveCommand(opts),
		mcpCommand(opts),
		migrateCommand(opts),
	)
	return root
}

func (o *rootOptions) open() error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}
	if o.dbPath != "" {
		cfg.DBPath = o.dbPath
	}

	logger, err := o.newLogger()
	if err != nil {
		return fmt.Errorf("failed to create logger: %w", err)
	}

	app, err := NewApp(cfg, logger)
	if err != nil {
		return err
	}
	o.app = app
	return nil
}

// newLogger writes to stderr so stdout stays clean for command output and
// the MCP stdio transport. One-shot commands only log warnings; long-running
// ones raise the level with setVerbose.
func (o *rootOptions) newLogger() (*zap.Logger, error) {
	var cfg zap.Config
	if o.debug {
		cfg = zap.NewDevelopmentConfig()
	} else {
		cfg = zap.NewProductionConfig()
		cfg.Level = zap.NewAtomicLevelAt(zap.WarnLevel)
	}
	o.level = cfg.Level
	cfg.OutputPaths = []string{"stderr"}
	cfg.ErrorOutputPaths = []string{"stderr"}
	return cfg.Build()
}

func (o *rootOptions) setVerbose() {
	if !o.debug {
		o.level.SetLevel(zap.InfoLevel)
	}
}
