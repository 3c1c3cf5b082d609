// internal/domain/model.go
package domain

import (
	"context"
	"fmt"
	"time"
)

// ModelStatus is the lifecycle state of a model on this node.
type ModelStatus string

const (
	ModelStatusLoaded    ModelStatus = "loaded"
	ModelStatusNotLoaded ModelStatus = "not_loaded"
)

// Model is the metadata tracked for a served model.
type Model struct {
	Name      string      `json:"name"`
	Version   string      `json:"version"`
	Status    ModelStatus `json:"status"`
	UpdatedAt time.Time   `json:"updated_at"`
}

// Validate checks if the model reference is usable.
func (m *Model) Validate() error {
	if m.Name == "" {
		return fmt.Errorf("%w: model name cannot be empty", ErrInvalidRequest)
	}
	if m.Version == "" {
		return fmt.Errorf("%w: model version cannot be empty", ErrInvalidRequest)
	}
	switch m.Status {
	case ModelStatusLoaded, ModelStatusNotLoaded:
	case "":
		m.Status = ModelStatusNotLoaded
	default:
		return fmt.Errorf("%w: invalid model status: %s", ErrInvalidRequest, m.Status)
	}
	return nil
}

// ModelRepository persists model metadata, one record per model name.
type ModelRepository interface {
	Save(ctx context.Context, model *Model) error
	Get(ctx context.Context, name string) (*Model, error)
	List(ctx context.Context) ([]*Model, error)
}
