// ABOUTME: Database operations for the sync_logs audit table
// ABOUTME: Records every delivery attempt, its terminal state and the remote record id
package db

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/harperreed/crmsync/models"
)

var ErrSyncLogNotFound = errors.New("sync log not found")

// SyncLogFilter narrows ListSyncLogs. Zero values match everything.
type SyncLogFilter struct {
	IntegrationID *uuid.UUID
	Status        string
	SessionID     string
	Limit         int
}

// SyncLogsRepository provides access to the sync_logs table.
type SyncLogsRepository struct {
	db *sql.DB
}

// NewSyncLogsRepository creates a new sync logs repository.
func NewSyncLogsRepository(db *sql.DB) *SyncLogsRepository {
	return &SyncLogsRepository{db: db}
}

const syncLogColumns = `
	id, integration_id, session_id, sync_type, object_type, status, external_id,
	request_payload, response_data, error_message, retry_count, created_at, updated_at
`

func scanSyncLog(row rowScanner) (*models.SyncLog, error) {
	var log models.SyncLog
	var id, integrationID string
	var externalID, requestPayload, responseData, errorMessage sql.NullString

	err := row.Scan(
		&id,
		&integrationID,
		&log.SessionID,
		&log.SyncType,
		&log.ObjectType,
		&log.Status,
		&externalID,
		&requestPayload,
		&responseData,
		&errorMessage,
		&log.RetryCount,
		&log.CreatedAt,
		&log.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	if log.ID, err = uuid.Parse(id); err != nil {
		return nil, fmt.Errorf("invalid sync log id %q: %w", id, err)
	}
	if log.IntegrationID, err = uuid.Parse(integrationID); err != nil {
		return nil, fmt.Errorf("invalid integration id %q: %w", integrationID, err)
	}
	log.RequestPayload = requestPayload.String
	if externalID.Valid {
		log.ExternalID = &externalID.String
	}
	if responseData.Valid {
		log.ResponseData = &responseData.String
	}
	if errorMessage.Valid {
		log.ErrorMessage = &errorMessage.String
	}

	return &log, nil
}

// Create inserts a new attempt in pending state.
func (r *SyncLogsRepository) Create(ctx context.Context, log *models.SyncLog) error {
	if log.ID == uuid.Nil {
		log.ID = uuid.New()
	}
	now := time.Now().UTC()
	log.Status = models.SyncStatusPending
	log.CreatedAt = now
	log.UpdatedAt = now

	_, err := r.db.ExecContext(ctx, `
		INSERT INTO sync_logs (id, integration_id, session_id, sync_type, object_type, status,
			request_payload, retry_count, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, 0, ?, ?)
	`, log.ID.String(), log.IntegrationID.String(), log.SessionID, log.SyncType, log.ObjectType,
		log.Status, log.RequestPayload, log.CreatedAt, log.UpdatedAt)
	if err != nil {
		return fmt.Errorf("failed to create sync log: %w", err)
	}
	return nil
}

// Get retrieves a sync log by ID.
func (r *SyncLogsRepository) Get(ctx context.Context, id uuid.UUID) (*models.SyncLog, error) {
	row := r.db.QueryRowContext(ctx, `SELECT `+syncLogColumns+` FROM sync_logs WHERE id = ?`, id.String())
	log, err := scanSyncLog(row)
	if err == sql.ErrNoRows {
		return nil, ErrSyncLogNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get sync log: %w", err)
	}
	return log, nil
}

// FindAuthoritative returns the most recent row for (integration, session)
// that carries a remote record id, or nil when the session was never
// delivered. A row only gains an external id by succeeding, and keeps it
// if a later update of the same record fails.
func (r *SyncLogsRepository) FindAuthoritative(ctx context.Context, integrationID uuid.UUID, sessionID string) (*models.SyncLog, error) {
	row := r.db.QueryRowContext(ctx, `
		SELECT `+syncLogColumns+` FROM sync_logs
		WHERE integration_id = ? AND session_id = ? AND external_id IS NOT NULL
		ORDER BY created_at DESC, rowid DESC
		LIMIT 1
	`, integrationID.String(), sessionID)
	log, err := scanSyncLog(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to find prior sync: %w", err)
	}
	return log, nil
}

// BeginAttempt resets an existing row to pending for a new delivery of the
// same session, replacing the stored request payload.
func (r *SyncLogsRepository) BeginAttempt(ctx context.Context, id uuid.UUID, syncType, payload string) error {
	result, err := r.db.ExecContext(ctx, `
		UPDATE sync_logs SET sync_type = ?, status = ?, request_payload = ?, error_message = NULL, updated_at = ?
		WHERE id = ?
	`, syncType, models.SyncStatusPending, payload, time.Now().UTC(), id.String())
	if err != nil {
		return fmt.Errorf("failed to begin sync attempt: %w", err)
	}
	return requireOneRow(result, ErrSyncLogNotFound)
}

// MarkRetrying bumps retry_count and moves the row to retrying.
func (r *SyncLogsRepository) MarkRetrying(ctx context.Context, id uuid.UUID) error {
	result, err := r.db.ExecContext(ctx, `
		UPDATE sync_logs SET sync_type = ?, status = ?, retry_count = retry_count + 1, updated_at = ?
		WHERE id = ? AND status != ?
	`, models.SyncTypeRetry, models.SyncStatusRetrying, time.Now().UTC(), id.String(), models.SyncStatusSuccess)
	if err != nil {
		return fmt.Errorf("failed to mark sync log retrying: %w", err)
	}
	return requireOneRow(result, ErrSyncLogNotFound)
}

// MarkSuccess moves the row to success with the remote id and response snapshot.
func (r *SyncLogsRepository) MarkSuccess(ctx context.Context, id uuid.UUID, externalID, response string) error {
	result, err := r.db.ExecContext(ctx, `
		UPDATE sync_logs SET status = ?, external_id = ?, response_data = ?, error_message = NULL, updated_at = ?
		WHERE id = ?
	`, models.SyncStatusSuccess, externalID, response, time.Now().UTC(), id.String())
	if err != nil {
		return fmt.Errorf("failed to mark sync log success: %w", err)
	}
	return requireOneRow(result, ErrSyncLogNotFound)
}

// MarkFailed moves the row to failed, keeping any previously known external id.
func (r *SyncLogsRepository) MarkFailed(ctx context.Context, id uuid.UUID, message string) error {
	result, err := r.db.ExecContext(ctx, `
		UPDATE sync_logs SET status = ?, error_message = ?, updated_at = ?
		WHERE id = ?
	`, models.SyncStatusFailed, message, time.Now().UTC(), id.String())
	if err != nil {
		return fmt.Errorf("failed to mark sync log failed: %w", err)
	}
	return requireOneRow(result, ErrSyncLogNotFound)
}

// List returns recent sync logs, newest first.
func (r *SyncLogsRepository) List(ctx context.Context, filter SyncLogFilter) ([]*models.SyncLog, error) {
	var conditions []string
	var args []interface{}

	if filter.IntegrationID != nil {
		conditions = append(conditions, "integration_id = ?")
		args = append(args, filter.IntegrationID.String())
	}
	if filter.Status != "" {
		conditions = append(conditions, "status = ?")
		args = append(args, filter.Status)
	}
	if filter.SessionID != "" {
		conditions = append(conditions, "session_id = ?")
		args = append(args, filter.SessionID)
	}

	query := `SELECT ` + syncLogColumns + ` FROM sync_logs`
	if len(conditions) > 0 {
		query += " WHERE " + strings.Join(conditions, " AND ")
	}
	query += " ORDER BY created_at DESC, rowid DESC"

	limit := filter.Limit
	if limit <= 0 {
		limit = 50
	}
	query += " LIMIT ?"
	args = append(args, limit)

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query sync logs: %w", err)
	}
	defer func() { _ = rows.Close() }()

	logs := make([]*models.SyncLog, 0)
	for rows.Next() {
		log, err := scanSyncLog(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan sync log: %w", err)
		}
		logs = append(logs, log)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating sync logs: %w", err)
	}

	return logs, nil
}
