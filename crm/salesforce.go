// ABOUTME: Salesforce REST client that records sessions as Task sobjects
// ABOUTME: Looks up contacts with SOQL and associates tasks through WhoId
package crm

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strings"

	"github.com/harperreed/crmsync/models"
	"go.uber.org/zap"
)

const (
	SalesforceAPIVersion = "v59.0"
	salesforceObjectType = "Task"
)

var salesforcePriorities = map[string]string{
	models.PriorityHigh:   "High",
	models.PriorityMedium: "Normal",
	models.PriorityLow:    "Low",
}

type Salesforce struct {
	api        apiClient
	apiVersion string
}

// NewSalesforce creates a Salesforce client. The instance URL comes from the
// stored credentials on every call.
func NewSalesforce(creds CredentialSource, opts ClientOptions) *Salesforce {
	return &Salesforce{
		api:        newAPIClient(models.ProviderSalesforce, creds, opts),
		apiVersion: SalesforceAPIVersion,
	}
}

func (s *Salesforce) Code() string       { return models.ProviderSalesforce }
func (s *Salesforce) ObjectType() string { return salesforceObjectType }

func (s *Salesforce) endpoint(creds Credentials, path string) (string, error) {
	instance := strings.TrimRight(strings.TrimSpace(creds.AccountID), "/")
	if instance == "" {
		return "", &NotConnectedError{Provider: models.ProviderSalesforce, Reason: "missing instance url"}
	}
	return fmt.Sprintf("%s/services/data/%s%s", instance, s.apiVersion, path), nil
}

type salesforceCreateResponse struct {
	ID      string `json:"id"`
	Success bool   `json:"success"`
}

// CreateRecord inserts a Task and returns its id.
func (s *Salesforce) CreateRecord(ctx context.Context, payload Payload) (*Response, error) {
	creds, err := s.api.credentials(ctx)
	if err != nil {
		return nil, err
	}
	endpoint, err := s.endpoint(creds, "/sobjects/Task")
	if err != nil {
		return nil, err
	}

	whoID := s.api.lookupContact(ctx, s.FindContactByEmail, payload.ContactEmail)

	var created salesforceCreateResponse
	raw, err := s.api.doJSON(ctx, creds.AccessToken, http.MethodPost, endpoint, s.taskFields(payload, whoID), &created)
	if err != nil {
		return nil, err
	}
	if created.ID == "" {
		return nil, fmt.Errorf("salesforce create returned no task id: %s", raw)
	}

	s.api.logger.Info("created salesforce task", zap.String("task_id", created.ID), zap.String("session_id", payload.SessionID))
	return &Response{ExternalID: created.ID, Body: raw}, nil
}

// UpdateRecord patches an existing Task. Salesforce answers 204 with no body.
func (s *Salesforce) UpdateRecord(ctx context.Context, externalID string, payload Payload) (*Response, error) {
	creds, err := s.api.credentials(ctx)
	if err != nil {
		return nil, err
	}
	endpoint, err := s.endpoint(creds, "/sobjects/Task/"+url.PathEscape(externalID))
	if err != nil {
		return nil, err
	}

	whoID := s.api.lookupContact(ctx, s.FindContactByEmail, payload.ContactEmail)

	raw, err := s.api.doJSON(ctx, creds.AccessToken, http.MethodPatch, endpoint, s.taskFields(payload, whoID), nil)
	if err != nil {
		return nil, err
	}
	if raw == "" {
		raw = fmt.Sprintf(`{"id":%q,"updated":true}`, externalID)
	}

	s.api.logger.Info("updated salesforce task", zap.String("task_id", externalID), zap.String("session_id", payload.SessionID))
	return &Response{ExternalID: externalID, Body: raw}, nil
}

type salesforceQueryResponse struct {
	TotalSize int `json:"totalSize"`
	Records   []struct {
		ID string `json:"Id"`
	} `json:"records"`
}

// FindContactByEmail runs a SOQL query on Contact.Email.
func (s *Salesforce) FindContactByEmail(ctx context.Context, email string) (string, error) {
	creds, err := s.api.credentials(ctx)
	if err != nil {
		return "", err
	}
	soql := fmt.Sprintf("SELECT Id FROM Contact WHERE Email = '%s' LIMIT 1", escapeSOQL(email))
	endpoint, err := s.endpoint(creds, "/query?q="+url.QueryEscape(soql))
	if err != nil {
		return "", err
	}

	var result salesforceQueryResponse
	if _, err := s.api.doJSON(ctx, creds.AccessToken, http.MethodGet, endpoint, nil, &result); err != nil {
		return "", err
	}
	if len(result.Records) == 0 {
		return "", nil
	}
	return result.Records[0].ID, nil
}

// TestConnection reads the org limits, which any valid token may do.
func (s *Salesforce) TestConnection(ctx context.Context) ConnectionStatus {
	creds, err := s.api.credentials(ctx)
	if err != nil {
		return ConnectionStatus{OK: false, Detail: err.Error()}
	}
	endpoint, err := s.endpoint(creds, "/limits")
	if err != nil {
		return ConnectionStatus{OK: false, Detail: err.Error()}
	}
	if _, err := s.api.doJSON(ctx, creds.AccessToken, http.MethodGet, endpoint, nil, nil); err != nil {
		return ConnectionStatus{OK: false, Detail: err.Error()}
	}
	return ConnectionStatus{OK: true, Detail: "Connected to " + creds.AccountID}
}

func (s *Salesforce) taskFields(payload Payload, whoID string) map[string]any {
	status := "In Progress"
	if payload.Completed {
		status = "Completed"
	}
	priority, ok := salesforcePriorities[payload.Priority]
	if !ok {
		priority = "Normal"
	}

	fields := map[string]any{
		"Subject":      payload.Subject,
		"Description":  payload.Body,
		"Status":       status,
		"Priority":     priority,
		"ActivityDate": payload.ActivityAt.Format("2006-01-02"),
		"Type":         "Call",
	}
	if whoID != "" {
		fields["WhoId"] = whoID
	}
	mergeFields(fields, payload.Fields)
	return fields
}

func escapeSOQL(value string) string {
	value = strings.ReplaceAll(value, `\`, `\\`)
	return strings.ReplaceAll(value, `'`, `\'`)
}
