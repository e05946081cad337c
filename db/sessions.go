// ABOUTME: Storage for canonical training session summaries
// ABOUTME: Written by the training subsystem, read when building CRM payloads
package db

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/harperreed/crmsync/models"
)

var ErrSessionNotFound = errors.New("session summary not found")

// SessionsRepository provides access to the session_summaries table.
type SessionsRepository struct {
	db *sql.DB
}

// NewSessionsRepository creates a new session summaries repository.
func NewSessionsRepository(db *sql.DB) *SessionsRepository {
	return &SessionsRepository{db: db}
}

// Save upserts a session summary keyed by session id.
func (r *SessionsRepository) Save(ctx context.Context, s *models.SessionSummary) error {
	var endedAt sql.NullTime
	if s.EndedAt != nil {
		endedAt = sql.NullTime{Time: s.EndedAt.UTC(), Valid: true}
	}

	_, err := r.db.ExecContext(ctx, `
		INSERT INTO session_summaries (session_id, user_name, user_email, outcome, score, grade,
			sales_mode, duration, message_count, started_at, ended_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(session_id) DO UPDATE SET
			user_name = excluded.user_name,
			user_email = excluded.user_email,
			outcome = excluded.outcome,
			score = excluded.score,
			grade = excluded.grade,
			sales_mode = excluded.sales_mode,
			duration = excluded.duration,
			message_count = excluded.message_count,
			started_at = excluded.started_at,
			ended_at = excluded.ended_at,
			updated_at = excluded.updated_at
	`, s.SessionID, s.UserName, nullString(s.UserEmail), s.Outcome, s.Score, s.Grade, s.SalesMode,
		s.Duration, s.MessageCount, s.StartedAt.UTC(), endedAt, time.Now().UTC())
	if err != nil {
		return fmt.Errorf("failed to save session summary: %w", err)
	}
	return nil
}

// GetSessionSummary loads a summary by session id.
func (r *SessionsRepository) GetSessionSummary(ctx context.Context, sessionID string) (*models.SessionSummary, error) {
	var s models.SessionSummary
	var userEmail sql.NullString
	var endedAt sql.NullTime

	err := r.db.QueryRowContext(ctx, `
		SELECT session_id, user_name, user_email, outcome, score, grade, sales_mode,
			duration, message_count, started_at, ended_at
		FROM session_summaries
		WHERE session_id = ?
	`, sessionID).Scan(
		&s.SessionID,
		&s.UserName,
		&userEmail,
		&s.Outcome,
		&s.Score,
		&s.Grade,
		&s.SalesMode,
		&s.Duration,
		&s.MessageCount,
		&s.StartedAt,
		&endedAt,
	)
	if err == sql.ErrNoRows {
		return nil, ErrSessionNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get session summary: %w", err)
	}

	s.UserEmail = userEmail.String
	if endedAt.Valid {
		s.EndedAt = &endedAt.Time
	}

	return &s, nil
}
