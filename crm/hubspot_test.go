// ABOUTME: Tests for the HubSpot engagement client against an httptest server
// ABOUTME: Covers engagement shape, contact association, updates and connection probe
package crm

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type hubSpotRequest struct {
	Engagement struct {
		Active    bool   `json:"active"`
		Type      string `json:"type"`
		Timestamp int64  `json:"timestamp"`
	} `json:"engagement"`
	Associations struct {
		ContactIDs []int64 `json:"contactIds"`
	} `json:"associations"`
	Metadata map[string]any `json:"metadata"`
}

func TestHubSpotCreateRecord(t *testing.T) {
	var created hubSpotRequest
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "Bearer hs-token", r.Header.Get("Authorization"))
		switch r.URL.Path {
		case "/crm/v3/objects/contacts/search":
			var search map[string]any
			assert.NoError(t, json.NewDecoder(r.Body).Decode(&search))
			_, _ = w.Write([]byte(`{"total":1,"results":[{"id":"501"}]}`))
		case "/engagements/v1/engagements":
			assert.Equal(t, http.MethodPost, r.Method)
			assert.NoError(t, json.NewDecoder(r.Body).Decode(&created))
			_, _ = w.Write([]byte(`{"engagement":{"id":9001,"type":"TASK"}}`))
		default:
			t.Errorf("unexpected request %s %s", r.Method, r.URL.Path)
		}
	}))
	defer server.Close()

	client := NewHubSpot(staticCredentials{creds: Credentials{AccessToken: "hs-token", AccountID: "123"}}, ClientOptions{BaseURL: server.URL})
	summary := sampleSummary(t)
	payload := BuildPayload(summary, map[string]any{"hs_task_score": 85})

	resp, err := client.CreateRecord(context.Background(), payload)
	require.NoError(t, err)
	assert.Equal(t, "9001", resp.ExternalID)

	assert.True(t, created.Engagement.Active)
	assert.Equal(t, "TASK", created.Engagement.Type)
	assert.Equal(t, summary.EndedAt.UnixMilli(), created.Engagement.Timestamp)
	assert.Equal(t, []int64{501}, created.Associations.ContactIDs)
	assert.Equal(t, "COMPLETED", created.Metadata["status"])
	assert.Equal(t, "HIGH", created.Metadata["priority"])
	assert.Equal(t, payload.Subject, created.Metadata["subject"])
	assert.EqualValues(t, 85, created.Metadata["hs_task_score"])
}

func TestHubSpotCreateWithoutContact(t *testing.T) {
	var created hubSpotRequest
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/crm/v3/objects/contacts/search" {
			_, _ = w.Write([]byte(`{"total":0,"results":[]}`))
			return
		}
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&created))
		_, _ = w.Write([]byte(`{"engagement":{"id":42}}`))
	}))
	defer server.Close()

	client := NewHubSpot(staticCredentials{creds: Credentials{AccessToken: "hs-token"}}, ClientOptions{BaseURL: server.URL})
	summary := sampleSummary(t)
	summary.EndedAt = nil
	summary.Score = 40

	resp, err := client.CreateRecord(context.Background(), BuildPayload(summary, nil))
	require.NoError(t, err)
	assert.Equal(t, "42", resp.ExternalID)
	assert.Empty(t, created.Associations.ContactIDs)
	assert.Equal(t, "NOT_STARTED", created.Metadata["status"])
	assert.Equal(t, "LOW", created.Metadata["priority"])
}

func TestHubSpotUpdateRecord(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/crm/v3/objects/contacts/search" {
			_, _ = w.Write([]byte(`{"total":0,"results":[]}`))
			return
		}
		assert.Equal(t, http.MethodPatch, r.Method)
		assert.Equal(t, "/engagements/v1/engagements/9001", r.URL.Path)
		w.WriteHeader(http.StatusNoContent)
	}))
	defer server.Close()

	client := NewHubSpot(staticCredentials{creds: Credentials{AccessToken: "hs-token"}}, ClientOptions{BaseURL: server.URL})

	resp, err := client.UpdateRecord(context.Background(), "9001", BuildPayload(sampleSummary(t), nil))
	require.NoError(t, err)
	assert.Equal(t, "9001", resp.ExternalID)
}

func TestHubSpotUnauthorized(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
		_, _ = w.Write([]byte(`{"status":"error","category":"EXPIRED_AUTHENTICATION"}`))
	}))
	defer server.Close()

	client := NewHubSpot(staticCredentials{creds: Credentials{AccessToken: "hs-token"}}, ClientOptions{BaseURL: server.URL})

	status := client.TestConnection(context.Background())
	assert.False(t, status.OK)
	assert.Contains(t, status.Detail, "EXPIRED_AUTHENTICATION")

	_, err := client.CreateRecord(context.Background(), BuildPayload(sampleSummary(t), nil))
	var apiErr *ProviderAPIError
	require.True(t, errors.As(err, &apiErr))
	assert.Equal(t, http.StatusUnauthorized, apiErr.StatusCode)
}

func TestHubSpotTestConnection(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/crm/v3/objects/contacts", r.URL.Path)
		assert.Equal(t, "1", r.URL.Query().Get("limit"))
		_, _ = w.Write([]byte(`{"results":[]}`))
	}))
	defer server.Close()

	client := NewHubSpot(staticCredentials{creds: Credentials{AccessToken: "hs-token", AccountID: "123"}}, ClientOptions{BaseURL: server.URL})

	status := client.TestConnection(context.Background())
	assert.True(t, status.OK)
	assert.Equal(t, "Connected to portal 123", status.Detail)
}

func TestRegistry(t *testing.T) {
	creds := staticCredentials{}
	registry := NewRegistry(NewSalesforce(creds, ClientOptions{}), NewHubSpot(creds, ClientOptions{}))

	assert.Equal(t, []string{"hubspot", "salesforce"}, registry.Codes())
	p, ok := registry.Get("salesforce")
	require.True(t, ok)
	assert.Equal(t, "Task", p.ObjectType())
	_, ok = registry.Get("pipedrive")
	assert.False(t, ok)
}
