// ABOUTME: Token store for CRM integrations
// ABOUTME: Persists per-provider OAuth state, connection flags and sync health
package db

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/harperreed/crmsync/models"
)

var ErrIntegrationNotFound = errors.New("integration not found")

type providerSeed struct {
	name        string
	description string
}

var providerSeeds = map[string]providerSeed{
	models.ProviderSalesforce: {
		name:        "Salesforce",
		description: "Log completed training sessions as Salesforce Tasks",
	},
	models.ProviderHubSpot: {
		name:        "HubSpot",
		description: "Log completed training sessions as HubSpot task engagements",
	},
}

// TokenUpdate carries the token fields written after a code exchange or refresh.
// An empty RefreshToken or ExternalAccountID leaves the stored value untouched.
type TokenUpdate struct {
	AccessToken       string
	RefreshToken      string
	ExpiresAt         time.Time
	ExternalAccountID string
}

// IntegrationsRepository provides access to the integrations table.
type IntegrationsRepository struct {
	db *sql.DB
}

// NewIntegrationsRepository creates a new integrations repository.
func NewIntegrationsRepository(db *sql.DB) *IntegrationsRepository {
	return &IntegrationsRepository{db: db}
}

// EnsureIntegrations creates the row for every known provider if it is missing.
func (r *IntegrationsRepository) EnsureIntegrations(ctx context.Context) error {
	now := time.Now().UTC()
	for _, provider := range models.Providers {
		seed := providerSeeds[provider]
		_, err := r.db.ExecContext(ctx, `
			INSERT OR IGNORE INTO integrations (id, provider, name, description, created_at, updated_at)
			VALUES (?, ?, ?, ?, ?, ?)
		`, uuid.New().String(), provider, seed.name, seed.description, now, now)
		if err != nil {
			return fmt.Errorf("failed to seed integration %s: %w", provider, err)
		}
	}
	return nil
}

const integrationColumns = `
	id, provider, name, description, is_enabled, is_connected, access_token, refresh_token,
	token_expires_at, external_account_id, last_sync_at, last_error, token_version, created_at, updated_at
`

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanIntegration(row rowScanner) (*models.Integration, error) {
	var integration models.Integration
	var id string
	var description, accessToken, refreshToken, externalAccountID, lastError sql.NullString
	var tokenExpiresAt, lastSyncAt sql.NullTime

	err := row.Scan(
		&id,
		&integration.Provider,
		&integration.Name,
		&description,
		&integration.IsEnabled,
		&integration.IsConnected,
		&accessToken,
		&refreshToken,
		&tokenExpiresAt,
		&externalAccountID,
		&lastSyncAt,
		&lastError,
		&integration.TokenVersion,
		&integration.CreatedAt,
		&integration.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	integration.ID, err = uuid.Parse(id)
	if err != nil {
		return nil, fmt.Errorf("invalid integration id %q: %w", id, err)
	}
	integration.Description = description.String
	integration.AccessToken = accessToken.String
	integration.RefreshToken = refreshToken.String
	integration.ExternalAccountID = externalAccountID.String
	if tokenExpiresAt.Valid {
		integration.TokenExpiresAt = &tokenExpiresAt.Time
	}
	if lastSyncAt.Valid {
		integration.LastSyncAt = &lastSyncAt.Time
	}
	if lastError.Valid {
		integration.LastError = &lastError.String
	}

	return &integration, nil
}

// GetByProvider retrieves the integration for a provider code.
func (r *IntegrationsRepository) GetByProvider(ctx context.Context, provider string) (*models.Integration, error) {
	row := r.db.QueryRowContext(ctx, `SELECT `+integrationColumns+` FROM integrations WHERE provider = ?`, provider)
	integration, err := scanIntegration(row)
	if err == sql.ErrNoRows {
		return nil, ErrIntegrationNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get integration: %w", err)
	}
	return integration, nil
}

// GetByID retrieves an integration by its ID.
func (r *IntegrationsRepository) GetByID(ctx context.Context, id uuid.UUID) (*models.Integration, error) {
	row := r.db.QueryRowContext(ctx, `SELECT `+integrationColumns+` FROM integrations WHERE id = ?`, id.String())
	integration, err := scanIntegration(row)
	if err == sql.ErrNoRows {
		return nil, ErrIntegrationNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get integration: %w", err)
	}
	return integration, nil
}

// List returns every integration ordered by provider.
func (r *IntegrationsRepository) List(ctx context.Context) ([]*models.Integration, error) {
	return r.query(ctx, `SELECT `+integrationColumns+` FROM integrations ORDER BY provider`)
}

// ListActive returns integrations that are both enabled and connected.
func (r *IntegrationsRepository) ListActive(ctx context.Context) ([]*models.Integration, error) {
	return r.query(ctx, `
		SELECT `+integrationColumns+` FROM integrations
		WHERE is_enabled = 1 AND is_connected = 1
		ORDER BY provider
	`)
}

func (r *IntegrationsRepository) query(ctx context.Context, query string, args ...interface{}) ([]*models.Integration, error) {
	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query integrations: %w", err)
	}
	defer func() { _ = rows.Close() }()

	integrations := make([]*models.Integration, 0)
	for rows.Next() {
		integration, err := scanIntegration(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan integration: %w", err)
		}
		integrations = append(integrations, integration)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating integrations: %w", err)
	}

	return integrations, nil
}

// SaveTokens stores a freshly exchanged token set and marks the provider connected.
func (r *IntegrationsRepository) SaveTokens(ctx context.Context, provider string, update TokenUpdate) error {
	now := time.Now().UTC()
	result, err := r.db.ExecContext(ctx, `
		UPDATE integrations SET
			access_token = ?,
			refresh_token = COALESCE(NULLIF(?, ''), refresh_token),
			token_expires_at = ?,
			external_account_id = COALESCE(NULLIF(?, ''), external_account_id),
			is_connected = 1,
			last_error = NULL,
			token_version = token_version + 1,
			updated_at = ?
		WHERE provider = ?
	`, update.AccessToken, update.RefreshToken, update.ExpiresAt.UTC(), update.ExternalAccountID, now, provider)
	if err != nil {
		return fmt.Errorf("failed to save tokens: %w", err)
	}
	return requireOneRow(result, ErrIntegrationNotFound)
}

// SwapRefreshedToken writes a refreshed token only if no other writer has
// touched the token since expectedVersion was read. It reports whether the
// write happened.
func (r *IntegrationsRepository) SwapRefreshedToken(ctx context.Context, provider string, expectedVersion int64, update TokenUpdate) (bool, error) {
	now := time.Now().UTC()
	result, err := r.db.ExecContext(ctx, `
		UPDATE integrations SET
			access_token = ?,
			refresh_token = COALESCE(NULLIF(?, ''), refresh_token),
			token_expires_at = ?,
			token_version = token_version + 1,
			updated_at = ?
		WHERE provider = ? AND token_version = ? AND is_connected = 1
	`, update.AccessToken, update.RefreshToken, update.ExpiresAt.UTC(), now, provider, expectedVersion)
	if err != nil {
		return false, fmt.Errorf("failed to swap refreshed token: %w", err)
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return false, err
	}
	return rows == 1, nil
}

// Disconnect clears every token and account field. A nil reason also clears
// last_error; it is safe to call on an already disconnected integration.
func (r *IntegrationsRepository) Disconnect(ctx context.Context, provider string, reason *string) error {
	var lastError sql.NullString
	if reason != nil {
		lastError = sql.NullString{String: *reason, Valid: true}
	}

	now := time.Now().UTC()
	result, err := r.db.ExecContext(ctx, `
		UPDATE integrations SET
			is_connected = 0,
			access_token = NULL,
			refresh_token = NULL,
			token_expires_at = NULL,
			external_account_id = NULL,
			last_error = ?,
			token_version = token_version + 1,
			updated_at = ?
		WHERE provider = ?
	`, lastError, now, provider)
	if err != nil {
		return fmt.Errorf("failed to disconnect integration: %w", err)
	}
	return requireOneRow(result, ErrIntegrationNotFound)
}

// SetEnabled toggles the admin opt-in flag.
func (r *IntegrationsRepository) SetEnabled(ctx context.Context, provider string, enabled bool) error {
	result, err := r.db.ExecContext(ctx, `
		UPDATE integrations SET is_enabled = ?, updated_at = ? WHERE provider = ?
	`, enabled, time.Now().UTC(), provider)
	if err != nil {
		return fmt.Errorf("failed to update integration: %w", err)
	}
	return requireOneRow(result, ErrIntegrationNotFound)
}

// RecordSyncSuccess stamps last_sync_at and clears last_error.
func (r *IntegrationsRepository) RecordSyncSuccess(ctx context.Context, id uuid.UUID, at time.Time) error {
	_, err := r.db.ExecContext(ctx, `
		UPDATE integrations SET last_sync_at = ?, last_error = NULL, updated_at = ? WHERE id = ?
	`, at.UTC(), time.Now().UTC(), id.String())
	if err != nil {
		return fmt.Errorf("failed to record sync success: %w", err)
	}
	return nil
}

// RecordSyncError stores the most recent sync failure message.
func (r *IntegrationsRepository) RecordSyncError(ctx context.Context, id uuid.UUID, message string) error {
	_, err := r.db.ExecContext(ctx, `
		UPDATE integrations SET last_error = ?, updated_at = ? WHERE id = ?
	`, message, time.Now().UTC(), id.String())
	if err != nil {
		return fmt.Errorf("failed to record sync error: %w", err)
	}
	return nil
}

func requireOneRow(result sql.Result, notFound error) error {
	rows, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if rows == 0 {
		return notFound
	}
	return nil
}
