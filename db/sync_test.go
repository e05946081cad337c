// ABOUTME: Tests for sync log persistence
// ABOUTME: Covers state transitions, authoritative lookup and filtered listing
package db

import (
	"context"
	"testing"

	"github.com/google/uuid"
	"github.com/harperreed/crmsync/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func setupSyncLogs(t *testing.T) (*SyncLogsRepository, *models.Integration, func()) {
	t.Helper()
	database := setupTestDB(t)
	integrations := NewIntegrationsRepository(database)
	require.NoError(t, integrations.EnsureIntegrations(context.Background()))
	integration, err := integrations.GetByProvider(context.Background(), models.ProviderSalesforce)
	require.NoError(t, err)
	return NewSyncLogsRepository(database), integration, func() { _ = database.Close() }
}

func TestSyncLogLifecycle(t *testing.T) {
	repo, integration, cleanup := setupSyncLogs(t)
	defer cleanup()
	ctx := context.Background()

	log := &models.SyncLog{
		IntegrationID:  integration.ID,
		SessionID:      "s1",
		SyncType:       models.SyncTypeCreate,
		ObjectType:     "Task",
		RequestPayload: `{"subject":"x"}`,
	}
	require.NoError(t, repo.Create(ctx, log))
	assert.NotEqual(t, uuid.Nil, log.ID)
	assert.Equal(t, models.SyncStatusPending, log.Status)

	require.NoError(t, repo.MarkFailed(ctx, log.ID, "timeout"))
	found, err := repo.Get(ctx, log.ID)
	require.NoError(t, err)
	assert.Equal(t, models.SyncStatusFailed, found.Status)
	require.NotNil(t, found.ErrorMessage)
	assert.Equal(t, "timeout", *found.ErrorMessage)
	assert.Nil(t, found.ExternalID)

	require.NoError(t, repo.MarkRetrying(ctx, log.ID))
	found, err = repo.Get(ctx, log.ID)
	require.NoError(t, err)
	assert.Equal(t, models.SyncStatusRetrying, found.Status)
	assert.Equal(t, models.SyncTypeRetry, found.SyncType)
	assert.Equal(t, 1, found.RetryCount)

	require.NoError(t, repo.MarkSuccess(ctx, log.ID, "T1", `{"id":"T1"}`))
	found, err = repo.Get(ctx, log.ID)
	require.NoError(t, err)
	assert.Equal(t, models.SyncStatusSuccess, found.Status)
	require.NotNil(t, found.ExternalID)
	assert.Equal(t, "T1", *found.ExternalID)
	assert.Nil(t, found.ErrorMessage)
	assert.Equal(t, `{"subject":"x"}`, found.RequestPayload)

	// Successful rows can't be moved back to retrying
	assert.ErrorIs(t, repo.MarkRetrying(ctx, log.ID), ErrSyncLogNotFound)
}

func TestFindAuthoritative(t *testing.T) {
	repo, integration, cleanup := setupSyncLogs(t)
	defer cleanup()
	ctx := context.Background()

	prior, err := repo.FindAuthoritative(ctx, integration.ID, "s1")
	require.NoError(t, err)
	assert.Nil(t, prior)

	failed := &models.SyncLog{IntegrationID: integration.ID, SessionID: "s1", SyncType: models.SyncTypeCreate, ObjectType: "Task"}
	require.NoError(t, repo.Create(ctx, failed))
	require.NoError(t, repo.MarkFailed(ctx, failed.ID, "nope"))

	prior, err = repo.FindAuthoritative(ctx, integration.ID, "s1")
	require.NoError(t, err)
	assert.Nil(t, prior, "failed rows without an external id are not authoritative")

	ok := &models.SyncLog{IntegrationID: integration.ID, SessionID: "s1", SyncType: models.SyncTypeCreate, ObjectType: "Task"}
	require.NoError(t, repo.Create(ctx, ok))
	require.NoError(t, repo.MarkSuccess(ctx, ok.ID, "T1", "{}"))

	prior, err = repo.FindAuthoritative(ctx, integration.ID, "s1")
	require.NoError(t, err)
	require.NotNil(t, prior)
	assert.Equal(t, ok.ID, prior.ID)

	// A failed update keeps the row authoritative
	require.NoError(t, repo.BeginAttempt(ctx, ok.ID, models.SyncTypeUpdate, "{}"))
	require.NoError(t, repo.MarkFailed(ctx, ok.ID, "502"))
	prior, err = repo.FindAuthoritative(ctx, integration.ID, "s1")
	require.NoError(t, err)
	require.NotNil(t, prior)
	assert.Equal(t, "T1", *prior.ExternalID)

	other, err := repo.FindAuthoritative(ctx, integration.ID, "s2")
	require.NoError(t, err)
	assert.Nil(t, other)
}

func TestListSyncLogsFilters(t *testing.T) {
	repo, integration, cleanup := setupSyncLogs(t)
	defer cleanup()
	ctx := context.Background()

	for _, session := range []string{"a", "b", "c"} {
		log := &models.SyncLog{IntegrationID: integration.ID, SessionID: session, SyncType: models.SyncTypeCreate, ObjectType: "Task"}
		require.NoError(t, repo.Create(ctx, log))
		if session == "b" {
			require.NoError(t, repo.MarkFailed(ctx, log.ID, "bad"))
		}
	}

	all, err := repo.List(ctx, SyncLogFilter{})
	require.NoError(t, err)
	assert.Len(t, all, 3)

	failed, err := repo.List(ctx, SyncLogFilter{Status: models.SyncStatusFailed})
	require.NoError(t, err)
	require.Len(t, failed, 1)
	assert.Equal(t, "b", failed[0].SessionID)

	bySession, err := repo.List(ctx, SyncLogFilter{SessionID: "c", IntegrationID: &integration.ID})
	require.NoError(t, err)
	require.Len(t, bySession, 1)

	limited, err := repo.List(ctx, SyncLogFilter{Limit: 2})
	require.NoError(t, err)
	assert.Len(t, limited, 2)

	other := uuid.New()
	none, err := repo.List(ctx, SyncLogFilter{IntegrationID: &other})
	require.NoError(t, err)
	assert.Empty(t, none)
}
