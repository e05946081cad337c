// ABOUTME: Closed set of field mapping transforms
// ABOUTME: Parses transform_type and transform_config into NoOp, LookupMap or DateFormat
package mapping

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/harperreed/crmsync/models"
)

// Date formats understood by DateFormat.
const (
	FormatEpochMillis = "epoch_millis"
	FormatISO8601     = "iso8601"
	FormatDate        = "date"
)

var (
	ErrUnknownTransform = errors.New("unknown transform type")
	ErrInvalidConfig    = errors.New("invalid transform config")
)

// Transform turns a raw session value into the value sent to a provider.
type Transform interface {
	Kind() string
	Apply(provider string, value any) (any, error)
}

// NoOp passes the raw value through.
type NoOp struct{}

func (NoOp) Kind() string { return models.TransformNone }

func (NoOp) Apply(_ string, value any) (any, error) { return value, nil }

// LookupMap replaces a value found in Table. Misses pass through unchanged.
type LookupMap struct {
	Table map[string]any
}

func (LookupMap) Kind() string { return models.TransformMap }

func (l LookupMap) Apply(_ string, value any) (any, error) {
	if mapped, ok := l.Table[lookupKey(value)]; ok {
		return mapped, nil
	}
	return value, nil
}

func lookupKey(value any) string {
	switch v := value.(type) {
	case string:
		return v
	case time.Time:
		return v.UTC().Format(time.RFC3339)
	default:
		return fmt.Sprint(v)
	}
}

// DateFormat renders a timestamp. An empty Format picks the provider default:
// epoch millis for HubSpot, ISO 8601 for everyone else.
type DateFormat struct {
	Format string `json:"format"`
}

func (DateFormat) Kind() string { return models.TransformFormat }

func (d DateFormat) Apply(provider string, value any) (any, error) {
	t, err := asTime(value)
	if err != nil {
		return nil, err
	}

	format := d.Format
	if format == "" {
		format = defaultDateFormat(provider)
	}

	switch format {
	case FormatEpochMillis:
		return t.UnixMilli(), nil
	case FormatISO8601:
		return t.UTC().Format(time.RFC3339), nil
	case FormatDate:
		return t.UTC().Format("2006-01-02"), nil
	default:
		return nil, fmt.Errorf("%w: unsupported date format %q", ErrInvalidConfig, format)
	}
}

func defaultDateFormat(provider string) string {
	if provider == models.ProviderHubSpot {
		return FormatEpochMillis
	}
	return FormatISO8601
}

func asTime(value any) (time.Time, error) {
	switch v := value.(type) {
	case time.Time:
		return v, nil
	case *time.Time:
		if v == nil {
			return time.Time{}, fmt.Errorf("value is a nil time")
		}
		return *v, nil
	case string:
		t, err := time.Parse(time.RFC3339, v)
		if err != nil {
			return time.Time{}, fmt.Errorf("value %q is not an RFC 3339 date: %w", v, err)
		}
		return t, nil
	default:
		return time.Time{}, fmt.Errorf("value of type %T is not a date", value)
	}
}

// ParseTransform builds the transform for a mapping row. Unknown kinds and
// malformed configs are rejected.
func ParseTransform(kind, config string) (Transform, error) {
	config = strings.TrimSpace(config)

	switch kind {
	case "", models.TransformNone:
		return NoOp{}, nil

	case models.TransformMap:
		if config == "" {
			return nil, fmt.Errorf("%w: map transform needs a lookup table", ErrInvalidConfig)
		}
		var table map[string]any
		if err := json.Unmarshal([]byte(config), &table); err != nil {
			return nil, fmt.Errorf("%w: map transform config must be a JSON object: %v", ErrInvalidConfig, err)
		}
		return LookupMap{Table: table}, nil

	case models.TransformFormat:
		var d DateFormat
		if config != "" {
			if err := json.Unmarshal([]byte(config), &d); err != nil {
				return nil, fmt.Errorf("%w: format transform config must be a JSON object: %v", ErrInvalidConfig, err)
			}
		}
		switch d.Format {
		case "", FormatEpochMillis, FormatISO8601, FormatDate:
			return d, nil
		default:
			return nil, fmt.Errorf("%w: unsupported date format %q", ErrInvalidConfig, d.Format)
		}

	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownTransform, kind)
	}
}
