// internal/usecase/model_service.go
package usecase

import (
	"context"
	"errors"
	"fmt"
	"time"

	"athena/internal/domain"
	"athena/internal/metrics"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
)

// ModelService tracks which models this node serves.
type ModelService struct {
	repo   domain.ModelRepository
	locker domain.Locker
	logger *zap.Logger
	tracer trace.Tracer
}

// NewModelService creates a new ModelService instance.
func NewModelService(repo domain.ModelRepository, locker domain.Locker, logger *zap.Logger) *ModelService {
	return &ModelService{
		repo:   repo,
		locker: locker,
		logger: logger.With(zap.String("component", "model-service")),
		tracer: otel.Tracer("athena-usecase"),
	}
}

// Load marks name:version as loaded.
func (s *ModelService) Load(ctx context.Context, name, version string) (*domain.Model, error) {
	ctx, span := s.tracer.Start(ctx, "service.LoadModel")
	defer span.End()
	span.SetAttributes(attribute.String("model.name", name), attribute.String("model.version", version))

	model, err := s.transition(ctx, name, version, domain.ModelStatusLoaded)
	s.record("load", err, span)
	return model, err
}

// Unload marks the model as not loaded. An empty version means the version
// currently recorded for the model.
func (s *ModelService) Unload(ctx context.Context, name, version string) (*domain.Model, error) {
	ctx, span := s.tracer.Start(ctx, "service.UnloadModel")
	defer span.End()
	span.SetAttributes(attribute.String("model.name", name), attribute.String("model.version", version))

	if version == "" && name != "" {
		current, err := s.repo.Get(ctx, name)
		if err != nil {
			s.record("unload", err, span)
			return nil, err
		}
		version = current.Version
	}

	model, err := s.transition(ctx, name, version, domain.ModelStatusNotLoaded)
	s.record("unload", err, span)
	return model, err
}

// Status returns the model's record. A model that was never loaded is
// reported as not_loaded rather than as an error.
func (s *ModelService) Status(ctx context.Context, name string) (*domain.Model, error) {
	ctx, span := s.tracer.Start(ctx, "service.GetModelStatus")
	defer span.End()
	span.SetAttributes(attribute.String("model.name", name))

	if name == "" {
		return nil, fmt.Errorf("%w: model name cannot be empty", domain.ErrInvalidRequest)
	}

	model, err := s.repo.Get(ctx, name)
	if errors.Is(err, domain.ErrModelNotFound) {
		return &domain.Model{Name: name, Status: domain.ModelStatusNotLoaded}, nil
	}
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "failed to get model from repository")
		return nil, err
	}
	return model, nil
}

// List returns every known model.
func (s *ModelService) List(ctx context.Context) ([]*domain.Model, error) {
	ctx, span := s.tracer.Start(ctx, "service.ListModels")
	defer span.End()

	models, err := s.repo.List(ctx)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "failed to list models from repository")
	}
	return models, err
}

func (s *ModelService) transition(ctx context.Context, name, version string, status domain.ModelStatus) (*domain.Model, error) {
	model := &domain.Model{
		Name:      name,
		Version:   version,
		Status:    status,
		UpdatedAt: time.Now().UTC(),
	}
	if err := model.Validate(); err != nil {
		return nil, err
	}

	lock, err := s.locker.Lock(ctx, "models/"+name)
	if err != nil {
		return nil, fmt.Errorf("lock model %s: %w", name, err)
	}
	defer func() {
		if err := lock.Unlock(context.WithoutCancel(ctx)); err != nil {
			s.logger.Warn("failed to release model lock", zap.String("model", name), zap.Error(err))
		}
	}()

	if err := s.repo.Save(ctx, model); err != nil {
		return nil, err
	}

	s.logger.Info("model state changed",
		zap.String("model", name),
		zap.String("version", version),
		zap.String("status", string(status)),
	)
	return model, nil
}

func (s *ModelService) record(op string, err error, span trace.Span) {
	status := "success"
	if err != nil {
		status = "failed"
		span.RecordError(err)
		span.SetStatus(codes.Error, "model "+op+" failed")
	}
	metrics.ModelOperationsTotal.WithLabelValues(op, status).Inc()
}
