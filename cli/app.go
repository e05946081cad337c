// ABOUTME: Wires configuration, storage, token manager, CRM clients and the sync engine
// ABOUTME: Every subcommand shares one App built from the loaded Config
package cli

import (
	"database/sql"
	"fmt"
	"net/http"

	"github.com/harperreed/crmsync/config"
	"github.com/harperreed/crmsync/crm"
	"github.com/harperreed/crmsync/crmsync"
	"github.com/harperreed/crmsync/db"
	"github.com/harperreed/crmsync/mapping"
	"github.com/harperreed/crmsync/models"
	"github.com/harperreed/crmsync/oauthstate"
	"github.com/harperreed/crmsync/token"
	"go.uber.org/zap"
)

type App struct {
	Config *config.Config
	DB     *sql.DB
	Admin  *crmsync.Admin
	Logger *zap.Logger
}

// NewApp opens the database and builds the admin surface.
// Providers without OAuth credentials stay registered so their status and
// logs remain visible; connecting them fails with token.ErrUnknownProvider.
func NewApp(cfg *config.Config, logger *zap.Logger) (*App, error) {
	database, err := db.OpenDatabase(cfg.DBPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	httpClient := &http.Client{Timeout: cfg.RequestTimeout}

	providers := make(map[string]token.ProviderConfig)
	if cfg.Salesforce.Configured() {
		providers[models.ProviderSalesforce] = token.NewSalesforceConfig(cfg.Salesforce.ClientID, cfg.Salesforce.ClientSecret,
			cfg.CallbackURL(models.ProviderSalesforce), cfg.SalesforceLoginURL)
	}
	if cfg.HubSpot.Configured() {
		providers[models.ProviderHubSpot] = token.NewHubSpotConfig(cfg.HubSpot.ClientID, cfg.HubSpot.ClientSecret,
			cfg.CallbackURL(models.ProviderHubSpot), cfg.HubSpotAPIURL)
	}

	integrations := db.NewIntegrationsRepository(database)
	logs := db.NewSyncLogsRepository(database)
	sessions := db.NewSessionsRepository(database)

	tokens := token.NewManager(integrations, providers, token.WithHTTPClient(httpClient), token.WithLogger(logger))

	registry := crm.NewRegistry(
		crm.NewSalesforce(tokens, crm.ClientOptions{HTTPClient: httpClient, Logger: logger}),
		crm.NewHubSpot(tokens, crm.ClientOptions{HTTPClient: httpClient, Logger: logger, BaseURL: cfg.HubSpotAPIURL}),
	)
	mapper := mapping.NewEngine(integrations, db.NewMappingsRepository(database), registry, logger)

	engine := crmsync.NewEngine(crmsync.Deps{
		Integrations: integrations,
		SyncLogs:     logs,
		Sessions:     sessions,
		Mapper:       mapper,
		Registry:     registry,
		Logger:       logger,
	})

	return &App{
		Config: cfg,
		DB:     database,
		Logger: logger,
		Admin: &crmsync.Admin{
			Engine:       engine,
			Tokens:       tokens,
			Mappings:     mapper,
			Integrations: integrations,
			SyncLogs:     logs,
			Sessions:     sessions,
			Registry:     registry,
			Logger:       logger,

			ConnectBaseURL: cfg.BaseURL,
		},
	}, nil
}

// OpenStates opens the OAuth state store. Only the process serving the
// callback route does this; the store is locked by whoever holds it.
func (a *App) OpenStates() error {
	if a.Config.StateSecret == "" {
		return fmt.Errorf("%w: set CRMSYNC_STATE_SECRET", crmsync.ErrConnectUnavailable)
	}
	states, err := oauthstate.Open(a.Config.StateDir, []byte(a.Config.StateSecret), oauthstate.DefaultTTL, a.Logger)
	if err != nil {
		return fmt.Errorf("failed to open oauth state store: %w", err)
	}
	a.Admin.States = states
	return nil
}

func (a *App) Close() error {
	if a.Admin.States != nil {
		if err := a.Admin.States.Close(); err != nil {
			a.Logger.Warn("failed to close oauth state store", zap.Error(err))
		}
	}
	return a.DB.Close()
}
