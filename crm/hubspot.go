// ABOUTME: HubSpot client that records sessions as TASK engagements
// ABOUTME: Uses the legacy Engagements API and CRM v3 contact search
package crm

import (
	"context"
	"fmt"
	"net/http"
	"strconv"
	"strings"

	"github.com/harperreed/crmsync/models"
	"go.uber.org/zap"
)

const (
	HubSpotBaseURL    = "https://api.hubapi.com"
	hubSpotObjectType = "engagement"
)

var hubSpotPriorities = map[string]string{
	models.PriorityHigh:   "HIGH",
	models.PriorityMedium: "MEDIUM",
	models.PriorityLow:    "LOW",
}

type HubSpot struct {
	api     apiClient
	baseURL string
}

// NewHubSpot creates a HubSpot client.
func NewHubSpot(creds CredentialSource, opts ClientOptions) *HubSpot {
	baseURL := strings.TrimRight(strings.TrimSpace(opts.BaseURL), "/")
	if baseURL == "" {
		baseURL = HubSpotBaseURL
	}
	return &HubSpot{
		api:     newAPIClient(models.ProviderHubSpot, creds, opts),
		baseURL: baseURL,
	}
}

func (h *HubSpot) Code() string       { return models.ProviderHubSpot }
func (h *HubSpot) ObjectType() string { return hubSpotObjectType }

type hubSpotEngagementResponse struct {
	Engagement struct {
		ID int64 `json:"id"`
	} `json:"engagement"`
}

// CreateRecord creates a TASK engagement and returns its id.
func (h *HubSpot) CreateRecord(ctx context.Context, payload Payload) (*Response, error) {
	creds, err := h.api.credentials(ctx)
	if err != nil {
		return nil, err
	}

	contactID := h.api.lookupContact(ctx, h.FindContactByEmail, payload.ContactEmail)

	var created hubSpotEngagementResponse
	raw, err := h.api.doJSON(ctx, creds.AccessToken, http.MethodPost, h.baseURL+"/engagements/v1/engagements", h.engagement(payload, contactID), &created)
	if err != nil {
		return nil, err
	}
	if created.Engagement.ID == 0 {
		return nil, fmt.Errorf("hubspot create returned no engagement id: %s", raw)
	}

	id := strconv.FormatInt(created.Engagement.ID, 10)
	h.api.logger.Info("created hubspot engagement", zap.String("engagement_id", id), zap.String("session_id", payload.SessionID))
	return &Response{ExternalID: id, Body: raw}, nil
}

// UpdateRecord patches an existing engagement.
func (h *HubSpot) UpdateRecord(ctx context.Context, externalID string, payload Payload) (*Response, error) {
	creds, err := h.api.credentials(ctx)
	if err != nil {
		return nil, err
	}

	contactID := h.api.lookupContact(ctx, h.FindContactByEmail, payload.ContactEmail)

	raw, err := h.api.doJSON(ctx, creds.AccessToken, http.MethodPatch, h.baseURL+"/engagements/v1/engagements/"+externalID, h.engagement(payload, contactID), nil)
	if err != nil {
		return nil, err
	}
	if raw == "" {
		raw = fmt.Sprintf(`{"id":%q,"updated":true}`, externalID)
	}

	h.api.logger.Info("updated hubspot engagement", zap.String("engagement_id", externalID), zap.String("session_id", payload.SessionID))
	return &Response{ExternalID: externalID, Body: raw}, nil
}

type hubSpotSearchResponse struct {
	Total   int `json:"total"`
	Results []struct {
		ID string `json:"id"`
	} `json:"results"`
}

// FindContactByEmail searches CRM v3 contacts by exact email.
func (h *HubSpot) FindContactByEmail(ctx context.Context, email string) (string, error) {
	creds, err := h.api.credentials(ctx)
	if err != nil {
		return "", err
	}

	search := map[string]any{
		"filterGroups": []any{
			map[string]any{
				"filters": []any{
					map[string]any{"propertyName": "email", "operator": "EQ", "value": email},
				},
			},
		},
		"properties": []string{"email"},
		"limit":      1,
	}

	var result hubSpotSearchResponse
	if _, err := h.api.doJSON(ctx, creds.AccessToken, http.MethodPost, h.baseURL+"/crm/v3/objects/contacts/search", search, &result); err != nil {
		return "", err
	}
	if len(result.Results) == 0 {
		return "", nil
	}
	return result.Results[0].ID, nil
}

// TestConnection lists a single contact.
func (h *HubSpot) TestConnection(ctx context.Context) ConnectionStatus {
	creds, err := h.api.credentials(ctx)
	if err != nil {
		return ConnectionStatus{OK: false, Detail: err.Error()}
	}
	if _, err := h.api.doJSON(ctx, creds.AccessToken, http.MethodGet, h.baseURL+"/crm/v3/objects/contacts?limit=1", nil, nil); err != nil {
		return ConnectionStatus{OK: false, Detail: err.Error()}
	}
	detail := "Connected"
	if creds.AccountID != "" {
		detail = "Connected to portal " + creds.AccountID
	}
	return ConnectionStatus{OK: true, Detail: detail}
}

func (h *HubSpot) engagement(payload Payload, contactID string) map[string]any {
	status := "NOT_STARTED"
	if payload.Completed {
		status = "COMPLETED"
	}
	priority, ok := hubSpotPriorities[payload.Priority]
	if !ok {
		priority = "MEDIUM"
	}

	metadata := map[string]any{
		"subject":  payload.Subject,
		"body":     payload.Body,
		"status":   status,
		"priority": priority,
		"taskType": "CALL",
	}
	mergeFields(metadata, payload.Fields)

	contactIDs := []int64{}
	if contactID != "" {
		if id, err := strconv.ParseInt(contactID, 10, 64); err == nil {
			contactIDs = append(contactIDs, id)
		}
	}

	return map[string]any{
		"engagement": map[string]any{
			"active":    true,
			"type":      "TASK",
			"timestamp": payload.ActivityAt.UnixMilli(),
		},
		"associations": map[string]any{
			"contactIds": contactIDs,
		},
		"metadata": metadata,
	}
}
