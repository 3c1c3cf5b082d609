// internal/scheduler/cron_scheduler.go
package scheduler

import (
	"context"
	"fmt"
	"sync"

	"github.com/robfig/cron/v3"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
)

// Task is a periodic housekeeping function.
type Task func(ctx context.Context) error

// CronScheduler runs housekeeping tasks on cron schedules. Standard five
// field expressions and descriptors such as "@every 15s" are accepted.
type CronScheduler struct {
	cron   *cron.Cron
	mu     sync.Mutex
	tasks  map[string]cron.EntryID
	logger *zap.Logger
	tracer trace.Tracer
}

// NewCronScheduler creates a scheduler with no tasks.
func NewCronScheduler(logger *zap.Logger) *CronScheduler {
	return &CronScheduler{
		cron:   cron.New(),
		tasks:  make(map[string]cron.EntryID),
		logger: logger.With(zap.String("component", "cron-scheduler")),
		tracer: otel.Tracer("athena-scheduler"),
	}
}

// Start runs the scheduler until ctx is done, then waits for running tasks.
func (s *CronScheduler) Start(ctx context.Context) error {
	s.logger.Info("cron scheduler started")
	s.cron.Start()
	<-ctx.Done()
	s.logger.Info("cron scheduler stopping...")
	stopCtx := s.cron.Stop()
	<-stopCtx.Done()
	s.logger.Info("cron scheduler stopped")
	return ctx.Err()
}

// AddTask schedules task under name, replacing a task of the same name.
func (s *CronScheduler) AddTask(name, spec string, task Task) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if entryID, ok := s.tasks[name]; ok {
		s.cron.Remove(entryID)
	}

	wrapper := &cronTaskWrapper{
		name:   name,
		task:   task,
		logger: s.logger.With(zap.String("task", name)),
		tracer: s.tracer,
	}
	entryID, err := s.cron.AddJob(spec, wrapper)
	if err != nil {
		delete(s.tasks, name)
		return fmt.Errorf("failed to schedule task %s with %q: %w", name, spec, err)
	}

	s.tasks[name] = entryID
	s.logger.Info("added task to scheduler", zap.String("task", name), zap.String("schedule", spec))
	return nil
}

// RemoveTask unschedules the named task.
func (s *CronScheduler) RemoveTask(name string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if entryID, ok := s.tasks[name]; ok {
		s.cron.Remove(entryID)
		delete(s.tasks, name)
		s.logger.Info("removed task from scheduler", zap.String("task", name))
	}
}

// Tasks returns the names of the scheduled tasks.
func (s *CronScheduler) Tasks() []string {
	s.mu.Lock()
	defer s.mu.Unlock()

	names := make([]string, 0, len(s.tasks))
	for name := range s.tasks {
		names = append(names, name)
	}
	return names
}

type cronTaskWrapper struct {
	name   string
	task   Task
	logger *zap.Logger
	tracer trace.Tracer
}

// Run is called by the cron library.
func (w *cronTaskWrapper) Run() {
	ctx, span := w.tracer.Start(context.Background(), "scheduler.RunTask",
		trace.WithAttributes(attribute.String("task.name", w.name)))
	defer span.End()

	defer func() {
		if r := recover(); r != nil {
			err := fmt.Errorf("task panic: %v", r)
			w.logger.Error("housekeeping task panicked", zap.Error(err))
			span.RecordError(err)
			span.SetStatus(codes.Error, "task panicked")
		}
	}()

	if err := w.task(ctx); err != nil {
		w.logger.Error("housekeeping task failed", zap.Error(err))
		span.RecordError(err)
		span.SetStatus(codes.Error, "task failed")
	}
}
