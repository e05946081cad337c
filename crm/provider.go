// ABOUTME: CRM provider capability interface and registry
// ABOUTME: Salesforce and HubSpot implement Provider; the orchestrator only sees this interface
package crm

import (
	"context"
	"sort"
	"sync"
)

// Credentials are what a provider client needs to call its API.
type Credentials struct {
	AccessToken string
	// AccountID is the Salesforce instance URL or the HubSpot portal id.
	AccountID string
}

// CredentialSource hands out a valid access token for a provider, or a
// *NotConnectedError when none is available.
type CredentialSource interface {
	Credentials(ctx context.Context, provider string) (Credentials, error)
}

// Response is the outcome of a create or update call.
type Response struct {
	ExternalID string
	// Body is the raw response snapshot stored on the sync log.
	Body string
}

// ConnectionStatus is the answer to a connectivity probe.
type ConnectionStatus struct {
	OK     bool   `json:"ok"`
	Detail string `json:"detail"`
}

// Provider is the capability every CRM client offers.
type Provider interface {
	Code() string
	// ObjectType names the remote record kind, e.g. "Task".
	ObjectType() string
	CreateRecord(ctx context.Context, payload Payload) (*Response, error)
	UpdateRecord(ctx context.Context, externalID string, payload Payload) (*Response, error)
	// FindContactByEmail returns "" when no contact matches.
	FindContactByEmail(ctx context.Context, email string) (string, error)
	TestConnection(ctx context.Context) ConnectionStatus
}

// Registry maps provider codes to clients. It is safe for concurrent use.
type Registry struct {
	mu        sync.RWMutex
	providers map[string]Provider
}

// NewRegistry creates a registry holding the given providers.
func NewRegistry(providers ...Provider) *Registry {
	r := &Registry{providers: make(map[string]Provider)}
	for _, p := range providers {
		r.Register(p)
	}
	return r
}

// Register adds or replaces a provider under its code.
func (r *Registry) Register(p Provider) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.providers[p.Code()] = p
}

// Get retrieves a provider by code.
func (r *Registry) Get(code string) (Provider, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	p, ok := r.providers[code]
	return p, ok
}

// Codes returns the registered provider codes, sorted.
func (r *Registry) Codes() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	codes := make([]string, 0, len(r.providers))
	for code := range r.providers {
		codes = append(codes, code)
	}
	sort.Strings(codes)
	return codes
}
