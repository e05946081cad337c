// ABOUTME: Database operations for declarative field mappings
// ABOUTME: CRUD over field_mappings owned by an integration
package db

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/harperreed/crmsync/models"
)

var (
	ErrMappingNotFound  = errors.New("field mapping not found")
	ErrMappingDuplicate = errors.New("a mapping for this target field already exists")
)

// MappingsRepository provides access to the field_mappings table.
type MappingsRepository struct {
	db *sql.DB
}

// NewMappingsRepository creates a new mappings repository.
func NewMappingsRepository(db *sql.DB) *MappingsRepository {
	return &MappingsRepository{db: db}
}

const mappingColumns = `
	id, integration_id, source_field, target_object, target_field, transform_type,
	transform_config, is_enabled, created_at, updated_at
`

func scanMapping(row rowScanner) (*models.FieldMapping, error) {
	var mapping models.FieldMapping
	var id, integrationID string
	var transformConfig sql.NullString

	err := row.Scan(
		&id,
		&integrationID,
		&mapping.SourceField,
		&mapping.TargetObject,
		&mapping.TargetField,
		&mapping.TransformType,
		&transformConfig,
		&mapping.IsEnabled,
		&mapping.CreatedAt,
		&mapping.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	if mapping.ID, err = uuid.Parse(id); err != nil {
		return nil, fmt.Errorf("invalid mapping id %q: %w", id, err)
	}
	if mapping.IntegrationID, err = uuid.Parse(integrationID); err != nil {
		return nil, fmt.Errorf("invalid integration id %q: %w", integrationID, err)
	}
	mapping.TransformConfig = transformConfig.String

	return &mapping, nil
}

// Create inserts a mapping. The caller validates the transform first.
func (r *MappingsRepository) Create(ctx context.Context, mapping *models.FieldMapping) error {
	if mapping.ID == uuid.Nil {
		mapping.ID = uuid.New()
	}
	if mapping.TransformType == "" {
		mapping.TransformType = models.TransformNone
	}
	now := time.Now().UTC()
	mapping.CreatedAt = now
	mapping.UpdatedAt = now

	_, err := r.db.ExecContext(ctx, `
		INSERT INTO field_mappings (id, integration_id, source_field, target_object, target_field,
			transform_type, transform_config, is_enabled, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, mapping.ID.String(), mapping.IntegrationID.String(), mapping.SourceField, mapping.TargetObject,
		mapping.TargetField, mapping.TransformType, nullString(mapping.TransformConfig), mapping.IsEnabled,
		mapping.CreatedAt, mapping.UpdatedAt)
	if err != nil {
		if isUniqueViolation(err) {
			return ErrMappingDuplicate
		}
		return fmt.Errorf("failed to create field mapping: %w", err)
	}
	return nil
}

// Update rewrites every editable column of a mapping.
func (r *MappingsRepository) Update(ctx context.Context, mapping *models.FieldMapping) error {
	mapping.UpdatedAt = time.Now().UTC()

	result, err := r.db.ExecContext(ctx, `
		UPDATE field_mappings SET
			source_field = ?, target_object = ?, target_field = ?, transform_type = ?,
			transform_config = ?, is_enabled = ?, updated_at = ?
		WHERE id = ?
	`, mapping.SourceField, mapping.TargetObject, mapping.TargetField, mapping.TransformType,
		nullString(mapping.TransformConfig), mapping.IsEnabled, mapping.UpdatedAt, mapping.ID.String())
	if err != nil {
		if isUniqueViolation(err) {
			return ErrMappingDuplicate
		}
		return fmt.Errorf("failed to update field mapping: %w", err)
	}
	return requireOneRow(result, ErrMappingNotFound)
}

// SetEnabled toggles a single mapping.
func (r *MappingsRepository) SetEnabled(ctx context.Context, id uuid.UUID, enabled bool) error {
	result, err := r.db.ExecContext(ctx, `
		UPDATE field_mappings SET is_enabled = ?, updated_at = ? WHERE id = ?
	`, enabled, time.Now().UTC(), id.String())
	if err != nil {
		return fmt.Errorf("failed to toggle field mapping: %w", err)
	}
	return requireOneRow(result, ErrMappingNotFound)
}

// Delete removes a mapping.
func (r *MappingsRepository) Delete(ctx context.Context, id uuid.UUID) error {
	result, err := r.db.ExecContext(ctx, `DELETE FROM field_mappings WHERE id = ?`, id.String())
	if err != nil {
		return fmt.Errorf("failed to delete field mapping: %w", err)
	}
	return requireOneRow(result, ErrMappingNotFound)
}

// Get retrieves a mapping by ID.
func (r *MappingsRepository) Get(ctx context.Context, id uuid.UUID) (*models.FieldMapping, error) {
	row := r.db.QueryRowContext(ctx, `SELECT `+mappingColumns+` FROM field_mappings WHERE id = ?`, id.String())
	mapping, err := scanMapping(row)
	if err == sql.ErrNoRows {
		return nil, ErrMappingNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get field mapping: %w", err)
	}
	return mapping, nil
}

// ListByIntegration returns the mappings of an integration in creation order.
func (r *MappingsRepository) ListByIntegration(ctx context.Context, integrationID uuid.UUID, enabledOnly bool) ([]*models.FieldMapping, error) {
	query := `SELECT ` + mappingColumns + ` FROM field_mappings WHERE integration_id = ?`
	if enabledOnly {
		query += ` AND is_enabled = 1`
	}
	query += ` ORDER BY created_at, rowid`

	rows, err := r.db.QueryContext(ctx, query, integrationID.String())
	if err != nil {
		return nil, fmt.Errorf("failed to query field mappings: %w", err)
	}
	defer func() { _ = rows.Close() }()

	mappings := make([]*models.FieldMapping, 0)
	for rows.Next() {
		mapping, err := scanMapping(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan field mapping: %w", err)
		}
		mappings = append(mappings, mapping)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating field mappings: %w", err)
	}

	return mappings, nil
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}

func isUniqueViolation(err error) bool {
	return err != nil && strings.Contains(err.Error(), "UNIQUE constraint failed")
}
