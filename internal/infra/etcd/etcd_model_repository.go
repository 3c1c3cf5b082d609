// internal/infra/etcd/etcd_model_repository.go
package etcd

import (
	"context"
	"encoding/json"
	"fmt"
	"path"

	"athena/internal/domain"

	clientv3 "go.etcd.io/etcd/client/v3"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
)

const (
	ModelSaveDir = "/athena/models/"
)

type etcdModelRepository struct {
	client *clientv3.Client
	logger *zap.Logger
	tracer trace.Tracer
}

// NewEtcdModelRepository creates a new repository for models backed by etcd.
func NewEtcdModelRepository(client *clientv3.Client, logger *zap.Logger) domain.ModelRepository {
	return &etcdModelRepository{
		client: client,
		logger: logger.With(zap.String("component", "etcd-model-repo")),
		tracer: otel.Tracer("athena-etcd-repo"),
	}
}

// Save persists the model record to etcd.
func (r *etcdModelRepository) Save(ctx context.Context, model *domain.Model) error {
	ctx, span := r.tracer.Start(ctx, "repo.etcd.Save")
	defer span.End()

	modelJSON, err := json.Marshal(model)
	if err != nil {
		return fmt.Errorf("failed to marshal model to JSON: %w", err)
	}

	key := path.Join(ModelSaveDir, model.Name)
	span.SetAttributes(
		attribute.String("model.name", model.Name),
		attribute.String("etcd.key", key),
	)

	if _, err := r.client.Put(ctx, key, string(modelJSON)); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "failed to put model to etcd")
		return fmt.Errorf("failed to save model %s to etcd: %w", model.Name, err)
	}
	return nil
}

// Get retrieves a model from etcd.
func (r *etcdModelRepository) Get(ctx context.Context, name string) (*domain.Model, error) {
	ctx, span := r.tracer.Start(ctx, "repo.etcd.Get")
	defer span.End()
	span.SetAttributes(attribute.String("model.name", name))

	key := path.Join(ModelSaveDir, name)
	resp, err := r.client.Get(ctx, key)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "failed to get model from etcd")
		return nil, fmt.Errorf("failed to get model %s from etcd: %w", name, err)
	}

	if len(resp.Kvs) == 0 {
		return nil, domain.ErrModelNotFound
	}

	var model domain.Model
	if err := json.Unmarshal(resp.Kvs[0].Value, &model); err != nil {
		return nil, fmt.Errorf("failed to unmarshal model %s from JSON: %w", name, err)
	}
	return &model, nil
}

// List retrieves all models from etcd, in key order.
func (r *etcdModelRepository) List(ctx context.Context) ([]*domain.Model, error) {
	ctx, span := r.tracer.Start(ctx, "repo.etcd.List")
	defer span.End()

	resp, err := r.client.Get(ctx, ModelSaveDir, clientv3.WithPrefix(), clientv3.WithSort(clientv3.SortByKey, clientv3.SortAscend))
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "failed to list models from etcd")
		return nil, fmt.Errorf("failed to list models from etcd: %w", err)
	}
	span.SetAttributes(attribute.Int("etcd.kv_count", len(resp.Kvs)))

	models := make([]*domain.Model, 0, len(resp.Kvs))
	for _, kv := range resp.Kvs {
		var model domain.Model
		if err := json.Unmarshal(kv.Value, &model); err != nil {
			r.logger.Warn("failed to unmarshal model from etcd", zap.String("key", string(kv.Key)), zap.Error(err))
			continue
		}
		models = append(models, &model)
	}
	return models, nil
}
