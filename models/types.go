// ABOUTME: Data models for CRM synchronization entities
// ABOUTME: Defines Integration, FieldMapping, SyncLog and the canonical SessionSummary
package models

import (
	"time"

	"github.com/google/uuid"
)

// Provider codes. One Integration row exists per code.
const (
	ProviderSalesforce = "salesforce"
	ProviderHubSpot    = "hubspot"
)

// Providers lists every provider the engine knows about, in display order.
var Providers = []string{ProviderSalesforce, ProviderHubSpot}

type Integration struct {
	ID                uuid.UUID  `json:"id"`
	Provider          string     `json:"provider"`
	Name              string     `json:"name"`
	Description       string     `json:"description,omitempty"`
	IsEnabled         bool       `json:"is_enabled"`
	IsConnected       bool       `json:"is_connected"`
	AccessToken       string     `json:"-"`
	RefreshToken      string     `json:"-"`
	TokenExpiresAt    *time.Time `json:"token_expires_at,omitempty"`
	ExternalAccountID string     `json:"external_account_id,omitempty"` // Salesforce instance URL or HubSpot portal id
	LastSyncAt        *time.Time `json:"last_sync_at,omitempty"`
	LastError         *string    `json:"last_error,omitempty"`
	TokenVersion      int64      `json:"-"` // bumped on every token write
	CreatedAt         time.Time  `json:"created_at"`
	UpdatedAt         time.Time  `json:"updated_at"`
}

// Transform type constants.
const (
	TransformNone   = "none"
	TransformMap    = "map"
	TransformFormat = "format"
)

type FieldMapping struct {
	ID              uuid.UUID `json:"id"`
	IntegrationID   uuid.UUID `json:"integration_id"`
	SourceField     string    `json:"source_field"`
	TargetObject    string    `json:"target_object"`
	TargetField     string    `json:"target_field"`
	TransformType   string    `json:"transform_type"`
	TransformConfig string    `json:"transform_config,omitempty"` // raw JSON
	IsEnabled       bool      `json:"is_enabled"`
	CreatedAt       time.Time `json:"created_at"`
	UpdatedAt       time.Time `json:"updated_at"`
}

// Sync type constants.
const (
	SyncTypeCreate = "create"
	SyncTypeUpdate = "update"
	SyncTypeRetry  = "retry"
)

// Sync status constants.
const (
	SyncStatusPending  = "pending"
	SyncStatusSuccess  = "success"
	SyncStatusFailed   = "failed"
	SyncStatusRetrying = "retrying"
)

type SyncLog struct {
	ID             uuid.UUID `json:"id"`
	IntegrationID  uuid.UUID `json:"integration_id"`
	SessionID      string    `json:"session_id"`
	SyncType       string    `json:"sync_type"`
	ObjectType     string    `json:"object_type"`
	Status         string    `json:"status"`
	ExternalID     *string   `json:"external_id,omitempty"`
	RequestPayload string    `json:"request_payload,omitempty"`
	ResponseData   *string   `json:"response_data,omitempty"`
	ErrorMessage   *string   `json:"error_message,omitempty"`
	RetryCount     int       `json:"retry_count"`
	CreatedAt      time.Time `json:"created_at"`
	UpdatedAt      time.Time `json:"updated_at"`
}

// Session outcome constants.
const (
	OutcomeSaleMade  = "sale_made"
	OutcomeNoSale    = "no_sale"
	OutcomeAbandoned = "abandoned"
)

// Sales mode constants.
const (
	SalesModeAISells   = "ai_sells"
	SalesModeUserSells = "user_sells"
)

// SessionSummary is the finished training session handed over by the
// training subsystem. Score and grade are computed upstream.
type SessionSummary struct {
	SessionID    string     `json:"session_id" validate:"required"`
	UserName     string     `json:"user_name" validate:"required"`
	UserEmail    string     `json:"user_email,omitempty" validate:"omitempty,email"`
	Outcome      string     `json:"outcome" validate:"required"`
	Score        float64    `json:"score" validate:"gte=0,lte=100"`
	Grade        string     `json:"grade" validate:"required,oneof=A B C D E F"`
	SalesMode    string     `json:"sales_mode" validate:"required,oneof=ai_sells user_sells"`
	Duration     int64      `json:"duration"` // seconds
	MessageCount int        `json:"message_count" validate:"gte=0"`
	StartedAt    time.Time  `json:"started_at" validate:"required"`
	EndedAt      *time.Time `json:"ended_at,omitempty"`
}

// Priority levels derived from a session score.
const (
	PriorityHigh   = "high"
	PriorityMedium = "medium"
	PriorityLow    = "low"
)

// Priority buckets the score: 80 and above is high, 60 and above medium.
func (s *SessionSummary) Priority() string {
	switch {
	case s.Score >= 80:
		return PriorityHigh
	case s.Score >= 60:
		return PriorityMedium
	default:
		return PriorityLow
	}
}

// Completed reports whether the session has an end timestamp.
func (s *SessionSummary) Completed() bool {
	return s.EndedAt != nil
}

// ActivityTime is the moment the CRM activity is dated at.
func (s *SessionSummary) ActivityTime() time.Time {
	if s.EndedAt != nil {
		return *s.EndedAt
	}
	return s.StartedAt
}

// SourceFields lists the field names mappings may read from a summary.
var SourceFields = []string{
	"sessionId", "userName", "userEmail", "outcome", "score", "grade",
	"salesMode", "duration", "messageCount", "startedAt", "endedAt",
}

// Fields exposes the summary as a field-name keyed record for mappings.
// Absent optional fields are left out rather than set to zero values.
func (s *SessionSummary) Fields() map[string]any {
	fields := map[string]any{
		"sessionId":    s.SessionID,
		"userName":     s.UserName,
		"outcome":      s.Outcome,
		"score":        s.Score,
		"grade":        s.Grade,
		"salesMode":    s.SalesMode,
		"duration":     s.Duration,
		"messageCount": s.MessageCount,
		"startedAt":    s.StartedAt,
	}
	if s.UserEmail != "" {
		fields["userEmail"] = s.UserEmail
	}
	if s.EndedAt != nil {
		fields["endedAt"] = *s.EndedAt
	}
	return fields
}
