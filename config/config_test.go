// ABOUTME: Tests for configuration loading
// ABOUTME: Covers XDG defaults, environment overrides and validation failures
package config

import (
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/adrg/xdg"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultsUseXDG(t *testing.T) {
	cfg := Default()

	assert.True(t, strings.HasPrefix(cfg.DBPath, filepath.Join(xdg.DataHome, AppName)))
	assert.Equal(t, "crmsync.db", filepath.Base(cfg.DBPath))
	assert.Equal(t, 20*time.Second, cfg.RequestTimeout)
}

func TestLoadAppliesOverrides(t *testing.T) {
	t.Setenv("CRMSYNC_DB_PATH", "/tmp/crm/test.db")
	t.Setenv("CRMSYNC_BASE_URL", "https://crm.example.com/")
	t.Setenv("CRMSYNC_REQUEST_TIMEOUT", "15s")
	t.Setenv("CRMSYNC_STATE_SECRET", "a-long-enough-secret")
	t.Setenv("SALESFORCE_CLIENT_ID", "sf-id")
	t.Setenv("SALESFORCE_CLIENT_SECRET", "sf-secret")
	t.Setenv("HUBSPOT_CLIENT_ID", "hs-id")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "/tmp/crm/test.db", cfg.DBPath)
	assert.Equal(t, "https://crm.example.com", cfg.BaseURL)
	assert.Equal(t, 15*time.Second, cfg.RequestTimeout)
	assert.True(t, cfg.Salesforce.Configured())
	assert.False(t, cfg.HubSpot.Configured())
	assert.Equal(t, "https://crm.example.com/oauth/salesforce/callback", cfg.CallbackURL("salesforce"))
}

func TestLoadRejectsShortSecret(t *testing.T) {
	t.Setenv("CRMSYNC_STATE_SECRET", "short")

	_, err := Load()
	assert.Error(t, err)
}

func TestLoadRejectsBadBaseURL(t *testing.T) {
	t.Setenv("CRMSYNC_BASE_URL", "not a url")

	_, err := Load()
	assert.Error(t, err)
}
