// ABOUTME: Sync orchestrator that delivers finished sessions to every active CRM
// ABOUTME: Decides create versus update from the sync log and records every attempt
package crmsync

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/harperreed/crmsync/crm"
	"github.com/harperreed/crmsync/db"
	"github.com/harperreed/crmsync/mapping"
	"github.com/harperreed/crmsync/metrics"
	"github.com/harperreed/crmsync/models"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
	"gopkg.in/go-playground/validator.v9"
)

// ErrInvalidSession means the stored summary fails validation.
var ErrInvalidSession = errors.New("invalid session summary")

// SessionSource hands out finished session summaries.
type SessionSource interface {
	GetSessionSummary(ctx context.Context, sessionID string) (*models.SessionSummary, error)
}

// Result is the outcome of delivering one session to one provider.
type Result struct {
	Success    bool      `json:"success"`
	ExternalID string    `json:"external_id,omitempty"`
	Error      string    `json:"error,omitempty"`
	SyncLogID  uuid.UUID `json:"sync_log_id,omitempty"`
}

// Deps wires an Engine.
type Deps struct {
	Integrations *db.IntegrationsRepository
	SyncLogs     *db.SyncLogsRepository
	Sessions     SessionSource
	Mapper       *mapping.Engine
	Registry     *crm.Registry
	Logger       *zap.Logger
	// Now defaults to time.Now.
	Now func() time.Time
}

type Engine struct {
	integrations *db.IntegrationsRepository
	logs         *db.SyncLogsRepository
	sessions     SessionSource
	mapper       *mapping.Engine
	registry     *crm.Registry
	logger       *zap.Logger
	now          func() time.Time
	validate     *validator.Validate
	locks        *keyedMutex
}

func NewEngine(deps Deps) *Engine {
	logger := deps.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	now := deps.Now
	if now == nil {
		now = time.Now
	}
	return &Engine{
		integrations: deps.Integrations,
		logs:         deps.SyncLogs,
		sessions:     deps.Sessions,
		mapper:       deps.Mapper,
		registry:     deps.Registry,
		logger:       logger.Named("sync"),
		now:          now,
		validate:     validator.New(),
		locks:        newKeyedMutex(),
	}
}

func lockKey(integrationID uuid.UUID, sessionID string) string {
	return integrationID.String() + "/" + sessionID
}

// SyncSession delivers a session to every enabled and connected integration.
// Providers run concurrently and independently; per-provider failures are
// reported in the map, never as the error. With no active integrations the
// map is empty.
func (e *Engine) SyncSession(ctx context.Context, sessionID string) (map[string]Result, error) {
	active, err := e.integrations.ListActive(ctx)
	if err != nil {
		return nil, err
	}
	results := make(map[string]Result, len(active))
	if len(active) == 0 {
		return results, nil
	}

	summary, err := e.sessions.GetSessionSummary(ctx, sessionID)
	if err != nil {
		return nil, fmt.Errorf("failed to load session %s: %w", sessionID, err)
	}
	if err := e.validate.Struct(summary); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidSession, err)
	}

	var mu sync.Mutex
	var g errgroup.Group
	for _, integration := range active {
		integration := integration
		g.Go(func() error {
			result := e.syncProvider(ctx, integration, summary)
			mu.Lock()
			results[integration.Provider] = result
			mu.Unlock()
			return nil
		})
	}
	_ = g.Wait()

	return results, nil
}

func (e *Engine) syncProvider(ctx context.Context, integration *models.Integration, summary *models.SessionSummary) Result {
	provider, ok := e.registry.Get(integration.Provider)
	if !ok {
		return e.abort(ctx, integration, uuid.Nil, fmt.Errorf("no client registered for provider %s", integration.Provider))
	}

	unlock := e.locks.Lock(lockKey(integration.ID, summary.SessionID))
	defer unlock()

	fields, err := e.mapper.ApplyMappings(ctx, integration.Provider, summary)
	if err != nil {
		e.logger.Warn("could not load field mappings, sending core fields only",
			zap.String("provider", integration.Provider), zap.Error(err))
		fields = nil
	}
	payload := crm.BuildPayload(summary, fields)
	encoded, err := json.Marshal(payload)
	if err != nil {
		return e.abort(ctx, integration, uuid.Nil, fmt.Errorf("failed to encode payload: %w", err))
	}

	prior, err := e.logs.FindAuthoritative(ctx, integration.ID, summary.SessionID)
	if err != nil {
		return e.abort(ctx, integration, uuid.Nil, err)
	}

	if prior != nil {
		if err := e.logs.BeginAttempt(ctx, prior.ID, models.SyncTypeUpdate, string(encoded)); err != nil {
			return e.abort(ctx, integration, prior.ID, err)
		}
		return e.deliver(ctx, integration, provider, prior.ID, models.SyncTypeUpdate, *prior.ExternalID, payload)
	}

	row := &models.SyncLog{
		IntegrationID:  integration.ID,
		SessionID:      summary.SessionID,
		SyncType:       models.SyncTypeCreate,
		ObjectType:     provider.ObjectType(),
		RequestPayload: string(encoded),
	}
	if err := e.logs.Create(ctx, row); err != nil {
		return e.abort(ctx, integration, uuid.Nil, err)
	}
	return e.deliver(ctx, integration, provider, row.ID, models.SyncTypeCreate, "", payload)
}

// deliver calls the provider and persists the terminal outcome. An empty
// externalID creates a record; otherwise that record is updated.
func (e *Engine) deliver(ctx context.Context, integration *models.Integration, provider crm.Provider, logID uuid.UUID, syncType, externalID string, payload crm.Payload) Result {
	log := e.logger.With(
		zap.String("provider", integration.Provider),
		zap.String("session_id", payload.SessionID),
		zap.String("sync_log_id", logID.String()),
		zap.String("sync_type", syncType),
	)

	started := time.Now()
	resp, err := e.send(ctx, provider, externalID, payload, log)
	elapsed := time.Since(started).Seconds()

	if err != nil {
		metrics.SyncAttemptsCount.WithLabelValues(integration.Provider, syncType, models.SyncStatusFailed).Inc()
		metrics.SyncAttemptsDuration.WithLabelValues(integration.Provider, models.SyncStatusFailed).Observe(elapsed)
		return e.fail(ctx, integration, logID, err, log)
	}

	if err := e.logs.MarkSuccess(ctx, logID, resp.ExternalID, resp.Body); err != nil {
		log.Error("delivered but could not record success", zap.String("external_id", resp.ExternalID), zap.Error(err))
		return Result{ExternalID: resp.ExternalID, Error: err.Error(), SyncLogID: logID}
	}
	if err := e.integrations.RecordSyncSuccess(ctx, integration.ID, e.now()); err != nil {
		log.Warn("could not stamp last sync time", zap.Error(err))
	}

	metrics.SyncAttemptsCount.WithLabelValues(integration.Provider, syncType, models.SyncStatusSuccess).Inc()
	metrics.SyncAttemptsDuration.WithLabelValues(integration.Provider, models.SyncStatusSuccess).Observe(elapsed)
	log.Info("session delivered", zap.String("external_id", resp.ExternalID))
	return Result{Success: true, ExternalID: resp.ExternalID, SyncLogID: logID}
}

// send updates when a remote record is known. A record deleted on the CRM
// side answers 404 and is created afresh.
func (e *Engine) send(ctx context.Context, provider crm.Provider, externalID string, payload crm.Payload, log *zap.Logger) (*crm.Response, error) {
	if externalID == "" {
		return provider.CreateRecord(ctx, payload)
	}

	resp, err := provider.UpdateRecord(ctx, externalID, payload)
	var apiErr *crm.ProviderAPIError
	if errors.As(err, &apiErr) && apiErr.StatusCode == http.StatusNotFound {
		log.Warn("remote record is gone, creating a new one", zap.String("external_id", externalID))
		return provider.CreateRecord(ctx, payload)
	}
	return resp, err
}

// abort reports a failure before any provider call. last_error is always
// written; the sync log row only when one exists.
func (e *Engine) abort(ctx context.Context, integration *models.Integration, logID uuid.UUID, cause error) Result {
	log := e.logger.With(zap.String("provider", integration.Provider))
	if logID != uuid.Nil {
		return e.fail(ctx, integration, logID, cause, log)
	}
	if err := e.integrations.RecordSyncError(ctx, integration.ID, cause.Error()); err != nil {
		log.Warn("could not record integration error", zap.Error(err))
	}
	log.Error("session delivery aborted", zap.Error(cause))
	return Result{Error: cause.Error()}
}

func (e *Engine) fail(ctx context.Context, integration *models.Integration, logID uuid.UUID, cause error, log *zap.Logger) Result {
	message := cause.Error()
	if err := e.logs.MarkFailed(ctx, logID, message); err != nil {
		log.Error("could not record failed sync", zap.Error(err))
	}
	if err := e.integrations.RecordSyncError(ctx, integration.ID, message); err != nil {
		log.Warn("could not record integration error", zap.Error(err))
	}
	log.Warn("session delivery failed", zap.Error(cause))
	return Result{Error: message, SyncLogID: logID}
}

// Retry replays the stored payload of a sync log row. A row already in
// success answers with its remote id and makes no call. The error is
// reserved for an unknown row or storage failure.
func (e *Engine) Retry(ctx context.Context, syncLogID uuid.UUID) (Result, error) {
	row, err := e.logs.Get(ctx, syncLogID)
	if err != nil {
		return Result{}, err
	}
	if done, ok := succeeded(row); ok {
		return done, nil
	}

	integration, err := e.integrations.GetByID(ctx, row.IntegrationID)
	if err != nil {
		return Result{}, err
	}
	if !integration.IsEnabled {
		return Result{Error: fmt.Sprintf("%s integration is disabled", integration.Provider), SyncLogID: row.ID}, nil
	}
	provider, ok := e.registry.Get(integration.Provider)
	if !ok {
		return Result{Error: fmt.Sprintf("no client registered for provider %s", integration.Provider), SyncLogID: row.ID}, nil
	}

	unlock := e.locks.Lock(lockKey(integration.ID, row.SessionID))
	defer unlock()

	if err := e.logs.MarkRetrying(ctx, row.ID); err != nil {
		if !errors.Is(err, db.ErrSyncLogNotFound) {
			return Result{}, err
		}
		// Succeeded while we waited for the lock.
		latest, getErr := e.logs.Get(ctx, syncLogID)
		if getErr != nil {
			return Result{}, getErr
		}
		if done, ok := succeeded(latest); ok {
			return done, nil
		}
		return Result{}, err
	}

	log := e.logger.With(zap.String("provider", integration.Provider), zap.String("sync_log_id", row.ID.String()))

	var payload crm.Payload
	if err := json.Unmarshal([]byte(row.RequestPayload), &payload); err != nil {
		return e.fail(ctx, integration, row.ID, fmt.Errorf("stored payload is unreadable: %w", err), log), nil
	}

	externalID := ""
	if row.ExternalID != nil {
		externalID = *row.ExternalID
	}
	if externalID == "" {
		// A concurrent attempt may have created the record since this row failed.
		latest, err := e.logs.FindAuthoritative(ctx, integration.ID, row.SessionID)
		if err != nil {
			return Result{}, err
		}
		if latest != nil {
			externalID = *latest.ExternalID
		}
	}

	log.Info("retrying sync", zap.Int("retry_count", row.RetryCount+1), zap.Bool("update", externalID != ""))
	return e.deliver(ctx, integration, provider, row.ID, models.SyncTypeRetry, externalID, payload), nil
}

func succeeded(row *models.SyncLog) (Result, bool) {
	if row.Status != models.SyncStatusSuccess {
		return Result{}, false
	}
	result := Result{Success: true, SyncLogID: row.ID}
	if row.ExternalID != nil {
		result.ExternalID = *row.ExternalID
	}
	return result, true
}

// HandleSessionCompleted is the hook for the training flow. CRM delivery is
// best effort: failures are only logged, and the results are nil when the
// sync could not start at all.
func (e *Engine) HandleSessionCompleted(ctx context.Context, sessionID string) map[string]Result {
	results, err := e.SyncSession(ctx, sessionID)
	if err != nil {
		e.logger.Error("crm sync skipped", zap.String("session_id", sessionID), zap.Error(err))
		return nil
	}
	for provider, result := range results {
		if !result.Success {
			e.logger.Warn("crm sync failed", zap.String("session_id", sessionID), zap.String("provider", provider), zap.String("error", result.Error))
		}
	}
	return results
}
