// ABOUTME: Shared fixtures for CRM client tests
// ABOUTME: Provides a static credential source and a sample session summary
package crm

import (
	"context"
	"testing"
	"time"

	"github.com/harperreed/crmsync/models"
)

type staticCredentials struct {
	creds Credentials
	err   error
}

func (s staticCredentials) Credentials(ctx context.Context, provider string) (Credentials, error) {
	return s.creds, s.err
}

func sampleSummary(t *testing.T) *models.SessionSummary {
	t.Helper()
	started := time.Date(2026, 3, 14, 9, 0, 0, 0, time.UTC)
	ended := started.Add(12*time.Minute + 5*time.Second)
	return &models.SessionSummary{
		SessionID:    "session-1",
		UserName:     "Pat Rivera",
		UserEmail:    "pat@example.com",
		Outcome:      models.OutcomeSaleMade,
		Score:        85,
		Grade:        "A",
		SalesMode:    models.SalesModeUserSells,
		Duration:     725,
		MessageCount: 18,
		StartedAt:    started,
		EndedAt:      &ended,
	}
}
