// ABOUTME: Applies admin-configured field mappings to a session summary
// ABOUTME: Also validates and persists mapping edits coming from admin surfaces
package mapping

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/harperreed/crmsync/crm"
	"github.com/harperreed/crmsync/db"
	"github.com/harperreed/crmsync/metrics"
	"github.com/harperreed/crmsync/models"
	"go.uber.org/zap"
	"gopkg.in/go-playground/validator.v9"
)

// ErrInvalidMapping wraps every validation failure from SaveMapping.
var ErrInvalidMapping = errors.New("invalid field mapping")

// Input is an admin edit. A nil ID creates a new mapping.
type Input struct {
	ID              *uuid.UUID `json:"id,omitempty"`
	Provider        string     `json:"provider" validate:"required"`
	SourceField     string     `json:"source_field" validate:"required"`
	TargetObject    string     `json:"target_object" validate:"required"`
	TargetField     string     `json:"target_field" validate:"required"`
	TransformType   string     `json:"transform_type,omitempty" validate:"omitempty,oneof=none map format"`
	TransformConfig string     `json:"transform_config,omitempty"`
	IsEnabled       bool       `json:"is_enabled"`
}

type Engine struct {
	integrations *db.IntegrationsRepository
	mappings     *db.MappingsRepository
	registry     *crm.Registry
	validate     *validator.Validate
	logger       *zap.Logger
}

// NewEngine creates a mapping engine. registry may be nil, in which case
// mappings are not filtered by target object.
func NewEngine(integrations *db.IntegrationsRepository, mappings *db.MappingsRepository, registry *crm.Registry, logger *zap.Logger) *Engine {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Engine{
		integrations: integrations,
		mappings:     mappings,
		registry:     registry,
		validate:     validator.New(),
		logger:       logger.Named("mapping"),
	}
}

// ApplyMappings returns the extra provider fields for a session. Missing
// source fields are skipped silently; a mapping whose transform fails is
// logged and skipped. When two mappings target the same field the older one
// wins. The error is reserved for storage failures.
func (e *Engine) ApplyMappings(ctx context.Context, provider string, summary *models.SessionSummary) (map[string]any, error) {
	integration, err := e.integrations.GetByProvider(ctx, provider)
	if err != nil {
		return nil, err
	}
	mappings, err := e.mappings.ListByIntegration(ctx, integration.ID, true)
	if err != nil {
		return nil, err
	}

	objectType := e.objectType(provider)
	source := summary.Fields()
	out := make(map[string]any)

	for _, m := range mappings {
		if !m.IsEnabled {
			continue
		}
		if objectType != "" && !strings.EqualFold(m.TargetObject, objectType) {
			e.logger.Debug("mapping targets another object, skipping",
				zap.String("mapping_id", m.ID.String()),
				zap.String("target_object", m.TargetObject),
			)
			continue
		}
		if _, taken := out[m.TargetField]; taken {
			continue
		}
		raw, ok := source[m.SourceField]
		if !ok {
			continue
		}

		value, err := applyOne(provider, m, raw)
		if err != nil {
			metrics.MappingTransformErrorsCount.WithLabelValues(provider).Inc()
			e.logger.Warn("skipping field mapping", zap.String("provider", provider), zap.Error(err))
			continue
		}
		out[m.TargetField] = value
	}

	return out, nil
}

func applyOne(provider string, m *models.FieldMapping, raw any) (any, error) {
	fail := func(err error) error {
		return &TransformError{
			MappingID:   m.ID,
			SourceField: m.SourceField,
			TargetField: m.TargetField,
			Kind:        m.TransformType,
			Err:         err,
		}
	}

	transform, err := ParseTransform(m.TransformType, m.TransformConfig)
	if err != nil {
		return nil, fail(err)
	}
	value, err := transform.Apply(provider, raw)
	if err != nil {
		return nil, fail(err)
	}
	return value, nil
}

func (e *Engine) objectType(provider string) string {
	if e.registry == nil {
		return ""
	}
	p, ok := e.registry.Get(provider)
	if !ok {
		return ""
	}
	return p.ObjectType()
}

// SaveMapping validates an edit and writes it.
func (e *Engine) SaveMapping(ctx context.Context, in Input) (*models.FieldMapping, error) {
	in.SourceField = strings.TrimSpace(in.SourceField)
	in.TargetObject = strings.TrimSpace(in.TargetObject)
	in.TargetField = strings.TrimSpace(in.TargetField)
	if in.TransformType == "" {
		in.TransformType = models.TransformNone
	}

	if err := e.validate.Struct(in); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidMapping, err)
	}
	if !isSourceField(in.SourceField) {
		return nil, fmt.Errorf("%w: unknown source field %q (expected one of %s)",
			ErrInvalidMapping, in.SourceField, strings.Join(models.SourceFields, ", "))
	}
	if _, err := ParseTransform(in.TransformType, in.TransformConfig); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidMapping, err)
	}
	if objectType := e.objectType(in.Provider); objectType != "" {
		if !strings.EqualFold(in.TargetObject, objectType) {
			return nil, fmt.Errorf("%w: %s records are written as %q, not %q",
				ErrInvalidMapping, in.Provider, objectType, in.TargetObject)
		}
		in.TargetObject = objectType
	}

	integration, err := e.integrations.GetByProvider(ctx, in.Provider)
	if err != nil {
		return nil, err
	}

	if in.ID == nil {
		m := &models.FieldMapping{
			IntegrationID:   integration.ID,
			SourceField:     in.SourceField,
			TargetObject:    in.TargetObject,
			TargetField:     in.TargetField,
			TransformType:   in.TransformType,
			TransformConfig: in.TransformConfig,
			IsEnabled:       in.IsEnabled,
		}
		if err := e.mappings.Create(ctx, m); err != nil {
			return nil, err
		}
		e.logger.Info("field mapping created", zap.String("provider", in.Provider), zap.String("target_field", m.TargetField))
		return m, nil
	}

	m, err := e.mappings.Get(ctx, *in.ID)
	if err != nil {
		return nil, err
	}
	if m.IntegrationID != integration.ID {
		return nil, fmt.Errorf("%w: mapping %s belongs to another integration", ErrInvalidMapping, m.ID)
	}
	m.SourceField = in.SourceField
	m.TargetObject = in.TargetObject
	m.TargetField = in.TargetField
	m.TransformType = in.TransformType
	m.TransformConfig = in.TransformConfig
	m.IsEnabled = in.IsEnabled
	if err := e.mappings.Update(ctx, m); err != nil {
		return nil, err
	}
	e.logger.Info("field mapping updated", zap.String("provider", in.Provider), zap.String("mapping_id", m.ID.String()))
	return m, nil
}

// ListMappings returns every mapping of a provider, enabled or not.
func (e *Engine) ListMappings(ctx context.Context, provider string) ([]*models.FieldMapping, error) {
	integration, err := e.integrations.GetByProvider(ctx, provider)
	if err != nil {
		return nil, err
	}
	return e.mappings.ListByIntegration(ctx, integration.ID, false)
}

// SetMappingEnabled toggles one mapping.
func (e *Engine) SetMappingEnabled(ctx context.Context, id uuid.UUID, enabled bool) error {
	return e.mappings.SetEnabled(ctx, id, enabled)
}

// DeleteMapping removes one mapping.
func (e *Engine) DeleteMapping(ctx context.Context, id uuid.UUID) error {
	return e.mappings.Delete(ctx, id)
}

func isSourceField(name string) bool {
	for _, f := range models.SourceFields {
		if f == name {
			return true
		}
	}
	return false
}
