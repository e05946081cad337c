// ABOUTME: Admin operations shared by the CLI, MCP tools and HTTP API
// ABOUTME: Connect, callback, toggle, disconnect, test, logs, retry and mapping edits
package crmsync

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/harperreed/crmsync/crm"
	"github.com/harperreed/crmsync/db"
	"github.com/harperreed/crmsync/mapping"
	"github.com/harperreed/crmsync/models"
	"github.com/harperreed/crmsync/oauthstate"
	"github.com/harperreed/crmsync/token"
	"go.uber.org/zap"
)

// ErrConnectUnavailable means this process can neither issue state tokens
// nor point at a server that can.
var ErrConnectUnavailable = errors.New("oauth connect is not configured")

// Admin bundles the engine with everything the admin surfaces need.
type Admin struct {
	Engine       *Engine
	Tokens       *token.Manager
	Mappings     *mapping.Engine
	States       *oauthstate.Issuer
	Integrations *db.IntegrationsRepository
	SyncLogs     *db.SyncLogsRepository
	Sessions     *db.SessionsRepository
	Registry     *crm.Registry
	Logger       *zap.Logger

	// ConnectBaseURL is the web server that owns the state store. Processes
	// without States hand out links to its connect route instead.
	ConnectBaseURL string
}

// LogQuery filters ListSyncLogs. Empty fields match everything.
type LogQuery struct {
	Provider  string
	Status    string
	SessionID string
	Limit     int
}

func (a *Admin) logger() *zap.Logger {
	if a.Logger == nil {
		return zap.NewNop()
	}
	return a.Logger
}

func (a *Admin) provider(code string) (crm.Provider, error) {
	p, ok := a.Registry.Get(code)
	if !ok {
		return nil, fmt.Errorf("%w: %s", db.ErrIntegrationNotFound, code)
	}
	return p, nil
}

// ListIntegrations returns every integration row.
func (a *Admin) ListIntegrations(ctx context.Context) ([]*models.Integration, error) {
	return a.Integrations.List(ctx)
}

// ConnectURL issues a state token and returns the provider consent URL.
func (a *Admin) ConnectURL(ctx context.Context, provider string) (string, error) {
	if _, err := a.provider(provider); err != nil {
		return "", err
	}
	if a.States == nil {
		if a.ConnectBaseURL == "" {
			return "", ErrConnectUnavailable
		}
		return strings.TrimRight(a.ConnectBaseURL, "/") + "/oauth/" + provider + "/connect", nil
	}
	state, err := a.States.Issue(provider)
	if err != nil {
		return "", err
	}
	return a.Tokens.AuthCodeURL(provider, state)
}

// CompleteConnect redeems the state and exchanges the code. provider is the
// one named in the callback path and must match the state.
func (a *Admin) CompleteConnect(ctx context.Context, provider, state, code string) (*token.TokenSet, error) {
	if a.States == nil {
		return nil, ErrConnectUnavailable
	}
	issuedFor, err := a.States.Consume(state)
	if err != nil {
		return nil, err
	}
	if issuedFor != provider {
		return nil, oauthstate.ErrInvalidState
	}
	return a.Tokens.ExchangeCode(ctx, provider, code)
}

// SetEnabled toggles whether the orchestrator uses an integration.
func (a *Admin) SetEnabled(ctx context.Context, provider string, enabled bool) error {
	if err := a.Integrations.SetEnabled(ctx, provider, enabled); err != nil {
		return err
	}
	a.logger().Info("integration toggled", zap.String("provider", provider), zap.Bool("enabled", enabled))
	return nil
}

// Disconnect clears the stored tokens of an integration.
func (a *Admin) Disconnect(ctx context.Context, provider string) error {
	return a.Tokens.Disconnect(ctx, provider)
}

// TestConnection probes the provider with the stored credentials.
func (a *Admin) TestConnection(ctx context.Context, provider string) (crm.ConnectionStatus, error) {
	p, err := a.provider(provider)
	if err != nil {
		return crm.ConnectionStatus{}, err
	}
	return p.TestConnection(ctx), nil
}

// ListSyncLogs returns recent attempts, newest first.
func (a *Admin) ListSyncLogs(ctx context.Context, q LogQuery) ([]*models.SyncLog, error) {
	filter := db.SyncLogFilter{Status: q.Status, SessionID: q.SessionID, Limit: q.Limit}
	if q.Provider != "" {
		integration, err := a.Integrations.GetByProvider(ctx, q.Provider)
		if err != nil {
			return nil, err
		}
		filter.IntegrationID = &integration.ID
	}
	return a.SyncLogs.List(ctx, filter)
}

// SyncSession delivers a session to every active integration now.
func (a *Admin) SyncSession(ctx context.Context, sessionID string) (map[string]Result, error) {
	return a.Engine.SyncSession(ctx, sessionID)
}

// Retry replays one sync log row.
func (a *Admin) Retry(ctx context.Context, syncLogID uuid.UUID) (Result, error) {
	return a.Engine.Retry(ctx, syncLogID)
}

// RecordSession stores a finished session so it can be synced.
func (a *Admin) RecordSession(ctx context.Context, s *models.SessionSummary) error {
	if err := a.Engine.validate.Struct(s); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidSession, err)
	}
	return a.Sessions.Save(ctx, s)
}

// CompleteSession records a finished session and then delivers it best
// effort. Only a failure to record is returned.
func (a *Admin) CompleteSession(ctx context.Context, s *models.SessionSummary) (map[string]Result, error) {
	if err := a.RecordSession(ctx, s); err != nil {
		return nil, err
	}
	return a.Engine.HandleSessionCompleted(ctx, s.SessionID), nil
}
