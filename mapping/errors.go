// ABOUTME: Error type for a single mapping that could not be applied
// ABOUTME: The engine logs and skips these; they never fail a sync
package mapping

import (
	"fmt"

	"github.com/google/uuid"
)

// TransformError reports a mapping skipped during ApplyMappings.
type TransformError struct {
	MappingID   uuid.UUID
	SourceField string
	TargetField string
	Kind        string
	Err         error
}

func (e *TransformError) Error() string {
	return fmt.Sprintf("mapping %s (%s -> %s, %s) failed: %v", e.MappingID, e.SourceField, e.TargetField, e.Kind, e.Err)
}

func (e *TransformError) Unwrap() error { return e.Err }
