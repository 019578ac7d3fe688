package twins

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"
)

var (
	// ErrNotFound indicates a missing twin.
	ErrNotFound = errors.New("twins: not found")
	// ErrEmptyTwinID is returned when a twin id is empty.
	ErrEmptyTwinID = errors.New("twins: empty twin id")
	// ErrEmptyModelID is returned when a twin has no model.
	ErrEmptyModelID = errors.New("twins: empty model id")
)

// Twin is a digital representation of equipment or a sensor.
type Twin struct {
	ID         string         `json:"id" yaml:"id"`
	Name       string         `json:"name,omitempty" yaml:"name,omitempty"`
	ModelID    string         `json:"modelId" yaml:"modelId"`
	TrendID    string         `json:"trendId,omitempty" yaml:"trendId,omitempty"`
	TimeZone   string         `json:"timeZone,omitempty" yaml:"timeZone,omitempty"`
	Properties map[string]any `json:"properties,omitempty" yaml:"properties,omitempty"`
}

// Validate checks twin invariants.
func (t Twin) Validate() error {
	if t.ID == "" {
		return ErrEmptyTwinID
	}
	if t.ModelID == "" {
		return fmt.Errorf("%w: twin %s", ErrEmptyModelID, t.ID)
	}
	return nil
}

// Location loads the twin time zone, falling back to fallback when unset or unknown.
func (t Twin) Location(fallback *time.Location) *time.Location {
	if fallback == nil {
		fallback = time.UTC
	}
	if t.TimeZone == "" {
		return fallback
	}
	loc, err := time.LoadLocation(t.TimeZone)
	if err != nil {
		return fallback
	}
	return loc
}

// Property returns a property by name, case-insensitively. Id, Name, ModelId,
// TrendId and TimeZone are always available.
func (t Twin) Property(name string) (any, bool) {
	switch strings.ToLower(name) {
	case "id":
		return t.ID, true
	case "name":
		if t.Name != "" {
			return t.Name, true
		}
	case "modelid":
		return t.ModelID, true
	case "trendid":
		return t.TrendID, t.TrendID != ""
	case "timezone":
		return t.TimeZone, t.TimeZone != ""
	}
	for k, v := range t.Properties {
		if strings.EqualFold(k, name) {
			return v, true
		}
	}
	return nil, false
}

// Directory looks up twins and their relationships.
type Directory interface {
	// Get returns the twin or ErrNotFound.
	Get(ctx context.Context, twinID string) (*Twin, error)
	// ListByModel returns twins of modelID or of a model extending it.
	ListByModel(ctx context.Context, modelID string) ([]Twin, error)
	// FindRelated returns twins of modelID within maxHops of twinID, nearest first.
	FindRelated(ctx context.Context, twinID, modelID string, maxHops int) ([]Twin, error)
	// ResolveCandidate returns twinID when it is an instance of modelID, or ErrNotFound.
	ResolveCandidate(ctx context.Context, modelID, twinID string) (*Twin, error)
	// Version changes whenever twins, models or relationships change.
	Version(ctx context.Context) (int64, error)
}
