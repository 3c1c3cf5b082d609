// internal/infra/memory/model_repository.go
package memory

import (
	"context"
	"sort"
	"sync"

	"athena/internal/domain"
)

// ModelRepository keeps model records in process memory. Used when the node
// runs without etcd.
type ModelRepository struct {
	mu     sync.RWMutex
	models map[string]domain.Model
}

var _ domain.ModelRepository = (*ModelRepository)(nil)

// NewModelRepository creates an empty repository.
func NewModelRepository() *ModelRepository {
	return &ModelRepository{models: make(map[string]domain.Model)}
}

// Save stores a copy of model, replacing any record with the same name.
func (r *ModelRepository) Save(_ context.Context, model *domain.Model) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.models[model.Name] = *model
	return nil
}

// Get returns a copy of the named model or domain.ErrModelNotFound.
func (r *ModelRepository) Get(_ context.Context, name string) (*domain.Model, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	m, ok := r.models[name]
	if !ok {
		return nil, domain.ErrModelNotFound
	}
	return &m, nil
}

// List returns all models sorted by name.
func (r *ModelRepository) List(_ context.Context) ([]*domain.Model, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]*domain.Model, 0, len(r.models))
	for _, m := range r.models {
		out = append(out, &m)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}
