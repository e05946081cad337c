// ABOUTME: Test fixture wiring a full Admin over a temp database and stub CRM providers
// ABOUTME: Shared by the MCP handler and HTTP API tests
package crmsynctest

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/harperreed/crmsync/crm"
	"github.com/harperreed/crmsync/crmsync"
	"github.com/harperreed/crmsync/db"
	"github.com/harperreed/crmsync/mapping"
	"github.com/harperreed/crmsync/models"
	"github.com/harperreed/crmsync/oauthstate"
	"github.com/harperreed/crmsync/token"
	"github.com/stretchr/testify/require"
)

// Provider is an in-memory crm.Provider that hands out ids T1, T2 and so on.
type Provider struct {
	code       string
	objectType string

	mu      sync.Mutex
	creates int
	updates int
	err     error
}

func (p *Provider) Code() string       { return p.code }
func (p *Provider) ObjectType() string { return p.objectType }

func (p *Provider) CreateRecord(ctx context.Context, payload crm.Payload) (*crm.Response, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.err != nil {
		return nil, p.err
	}
	p.creates++
	id := fmt.Sprintf("T%d", p.creates)
	return &crm.Response{ExternalID: id, Body: fmt.Sprintf(`{"id":%q}`, id)}, nil
}

func (p *Provider) UpdateRecord(ctx context.Context, externalID string, payload crm.Payload) (*crm.Response, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.err != nil {
		return nil, p.err
	}
	p.updates++
	return &crm.Response{ExternalID: externalID, Body: fmt.Sprintf(`{"id":%q,"updated":true}`, externalID)}, nil
}

func (p *Provider) FindContactByEmail(ctx context.Context, email string) (string, error) {
	return "", nil
}

func (p *Provider) TestConnection(ctx context.Context) crm.ConnectionStatus {
	return crm.ConnectionStatus{OK: true, Detail: "connected to " + p.code}
}

// Fail makes every later call return err; nil restores success.
func (p *Provider) Fail(err error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.err = err
}

// Counts reports how many creates and updates succeeded.
func (p *Provider) Counts() (creates, updates int) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.creates, p.updates
}

type Fixture struct {
	Admin      *crmsync.Admin
	Salesforce *Provider
	HubSpot    *Provider
}

// New builds an Admin whose Salesforce OAuth endpoints point at a local
// token server, so connect flows complete without network access.
func New(t *testing.T) *Fixture {
	t.Helper()
	database, err := db.OpenDatabase(filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = database.Close() })

	tokenServer := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"access_token":"sf-access","refresh_token":"sf-refresh","expires_in":3600,"instance_url":"https://acme.my.salesforce.com"}`))
	}))
	t.Cleanup(tokenServer.Close)

	states, err := oauthstate.Open("", []byte("fixture-state-secret-0123456789"), 0, nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = states.Close() })

	integrations := db.NewIntegrationsRepository(database)
	logs := db.NewSyncLogsRepository(database)
	sessions := db.NewSessionsRepository(database)
	salesforce := &Provider{code: models.ProviderSalesforce, objectType: "Task"}
	hubspot := &Provider{code: models.ProviderHubSpot, objectType: "engagement"}
	registry := crm.NewRegistry(salesforce, hubspot)
	mapper := mapping.NewEngine(integrations, db.NewMappingsRepository(database), registry, nil)
	tokens := token.NewManager(integrations, map[string]token.ProviderConfig{
		models.ProviderSalesforce: token.NewSalesforceConfig("client", "secret", "http://localhost/oauth/salesforce/callback", tokenServer.URL),
	}, token.WithHTTPClient(tokenServer.Client()))

	engine := crmsync.NewEngine(crmsync.Deps{
		Integrations: integrations,
		SyncLogs:     logs,
		Sessions:     sessions,
		Mapper:       mapper,
		Registry:     registry,
	})

	return &Fixture{
		Admin: &crmsync.Admin{
			Engine:       engine,
			Tokens:       tokens,
			Mappings:     mapper,
			States:       states,
			Integrations: integrations,
			SyncLogs:     logs,
			Sessions:     sessions,
			Registry:     registry,
		},
		Salesforce: salesforce,
		HubSpot:    hubspot,
	}
}

// Activate stores a long-lived token and enables the provider.
func (f *Fixture) Activate(t *testing.T, provider string) {
	t.Helper()
	ctx := context.Background()
	require.NoError(t, f.Admin.Integrations.SaveTokens(ctx, provider, db.TokenUpdate{
		AccessToken:  "access",
		RefreshToken: "refresh",
		ExpiresAt:    time.Now().Add(time.Hour),
	}))
	require.NoError(t, f.Admin.SetEnabled(ctx, provider, true))
}

// Summary returns a valid finished session.
func Summary(sessionID string) *models.SessionSummary {
	started := time.Date(2026, 5, 11, 14, 0, 0, 0, time.UTC)
	ended := started.Add(15 * time.Minute)
	return &models.SessionSummary{
		SessionID:    sessionID,
		UserName:     "Riley Chen",
		UserEmail:    "riley@example.com",
		Outcome:      models.OutcomeNoSale,
		Score:        64,
		Grade:        "C",
		SalesMode:    models.SalesModeAISells,
		Duration:     900,
		MessageCount: 31,
		StartedAt:    started,
		EndedAt:      &ended,
	}
}

// RecordSession stores Summary(sessionID).
func (f *Fixture) RecordSession(t *testing.T, sessionID string) *models.SessionSummary {
	t.Helper()
	s := Summary(sessionID)
	require.NoError(t, f.Admin.RecordSession(context.Background(), s))
	return s
}
