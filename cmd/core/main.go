// cmd/core/main.go
package main

import (
	"context"
	"errors"
	"log"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	grpcapi "athena/internal/api/grpc"
	httpapi "athena/internal/api/http"
	"athena/internal/batcher"
	"athena/internal/config"
	"athena/internal/dispatch"
	"athena/internal/domain"
	"athena/internal/infra/etcd"
	httpinfra "athena/internal/infra/http"
	"athena/internal/infra/memory"
	"athena/internal/inference"
	"athena/internal/logging"
	"athena/internal/node"
	"athena/internal/scheduler"
	"athena/internal/tracing"
	"athena/internal/usecase"

	"github.com/google/uuid"
	"github.com/joho/godotenv"
	"go.opentelemetry.io/contrib/instrumentation/google.golang.org/grpc/otelgrpc"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
	"google.golang.org/grpc"
)

// failureLogSize is how many failed batches /v1/queue remembers.
const failureLogSize = 32

func main() {
	// .env is optional; real environment variables win.
	_ = godotenv.Load()

	// 1. Load configuration and build the logger
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}

	logger, err := logging.New(cfg.LogLevel, cfg.LogFormat)
	if err != nil {
		log.Fatalf("Failed to build logger: %v", err)
	}
	defer func() { _ = logger.Sync() }()

	nodeID := cfg.NodeID
	if nodeID == "" {
		nodeID = uuid.NewString()
	}
	logger = logger.With(zap.String("node_id", nodeID))

	// 2. Tracing
	tracerShutdown, err := tracing.InitTracer("athena-core", nodeID, os.Stderr, logger)
	if err != nil {
		logger.Fatal("failed to initialize tracer", zap.Error(err))
	}
	defer func() {
		if err := tracerShutdown(context.Background()); err != nil {
			logger.Error("failed to shutdown tracer", zap.Error(err))
		}
	}()

	// 3. Root context cancelled on SIGINT/SIGTERM
	rootCtx, cancel := context.WithCancel(context.Background())
	defer cancel()
	setupGracefulShutdown(cancel, logger)

	// 4. Model state: etcd when configured, process memory otherwise
	var (
		modelRepo domain.ModelRepository
		locker    domain.Locker
		registry  *node.Registry
	)
	if cfg.UseEtcd() {
		etcdClient, err := etcd.NewClient(cfg.EtcdEndpoints, cfg.EtcdTimeout)
		if err != nil {
			logger.Fatal("failed to create etcd client", zap.Error(err))
		}
		defer etcdClient.Close()
		logger.Info("connected to etcd", zap.Strings("endpoints", cfg.EtcdEndpoints))

		modelRepo = etcd.NewEtcdModelRepository(etcdClient, logger)
		locker = etcd.NewEtcdLocker(etcdClient)
		registry = node.NewRegistry(etcdClient, logger)
	} else {
		logger.Info("no etcd endpoints configured, keeping model state in memory")
		modelRepo = memory.NewModelRepository()
		locker = memory.NewLocker()
	}

	// 5. Batching pipeline
	queue, err := dispatch.NewQueue(dispatch.Options{
		Capacity: cfg.Queue.Capacity,
		Overflow: domain.OverflowPolicy(cfg.Queue.Overflow),
	}, logger)
	if err != nil {
		logger.Fatal("failed to create dispatch queue", zap.Error(err))
	}

	var executor domain.BatchExecutor
	switch cfg.Engine.Kind {
	case "http":
		executor = httpinfra.NewRemoteExecutor(cfg.Engine.URL, cfg.Engine.Timeout, logger)
	default:
		executor = inference.NewEngine(cfg.Engine.BaseLatency, cfg.Engine.PerItemLatency, logger)
	}

	batchCfg := batcher.Config{
		MaxBatchSize:   cfg.Batch.MaxSize,
		MaxWait:        cfg.Batch.MaxWait,
		HandlerTimeout: cfg.Batch.HandlerTimeout,
	}
	inferenceService := usecase.NewInferenceService(queue, executor, logger)
	failures := batcher.NewFailureLog(failureLogSize)
	batchScheduler, err := batcher.NewScheduler(batchCfg, queue, inferenceService, failures, logger)
	if err != nil {
		logger.Fatal("failed to create batch scheduler", zap.Error(err))
	}

	modelService := usecase.NewModelService(modelRepo, locker, logger)
	monitor := usecase.NewQueueMonitor(queue, batchScheduler, failures, inferenceService, batchCfg)

	// 6. Housekeeping
	housekeeping := scheduler.NewCronScheduler(logger)
	if err := housekeeping.AddTask("queue-depth", cfg.StatsSchedule, scheduler.SampleQueueDepth(monitor)); err != nil {
		logger.Fatal("failed to schedule queue depth sampling", zap.Error(err))
	}
	if err := housekeeping.AddTask("scheduler-stats", cfg.StatsSchedule, scheduler.LogSchedulerStats(monitor, logger)); err != nil {
		logger.Fatal("failed to schedule stats logging", zap.Error(err))
	}

	// 7. Front ends
	grpcServer := grpc.NewServer(
		grpc.StatsHandler(otelgrpc.NewServerHandler()),
	)
	grpcapi.RegisterInferenceServer(grpcServer, grpcapi.NewServer(inferenceService, modelService, monitor, logger))

	mux := http.NewServeMux()
	httpapi.NewHandler(inferenceService, modelService, monitor, logger).RegisterRoutes(mux)
	httpServer := &http.Server{
		Addr:              cfg.HttpListenAddr,
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
	}

	lis, err := net.Listen("tcp", cfg.GrpcListenAddr)
	if err != nil {
		logger.Fatal("failed to listen for gRPC", zap.Error(err))
	}

	// 8. Run
	if err := batchScheduler.Start(); err != nil {
		logger.Fatal("failed to start batch scheduler", zap.Error(err))
	}

	if registry != nil {
		regCtx, regCancel := context.WithTimeout(rootCtx, cfg.EtcdTimeout)
		err := registry.Register(regCtx, node.Info{
			ID:       nodeID,
			GrpcAddr: advertisedAddr(cfg.GrpcListenAddr),
			HttpAddr: advertisedAddr(cfg.HttpListenAddr),
		}, cfg.RegistryTTL)
		regCancel()
		if err != nil {
			logger.Fatal("failed to register node", zap.Error(err))
		}
	}

	g, gctx := errgroup.WithContext(rootCtx)
	g.Go(func() error {
		logger.Info("gRPC server listening", zap.String("addr", cfg.GrpcListenAddr))
		return grpcServer.Serve(lis)
	})
	g.Go(func() error {
		logger.Info("HTTP server listening", zap.String("addr", cfg.HttpListenAddr))
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		if err := housekeeping.Start(gctx); err != nil && !errors.Is(err, context.Canceled) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		shutdown(cfg.ShutdownTimeout, logger, grpcServer, httpServer, queue, batchScheduler, inferenceService, registry)
		return nil
	})

	if err := g.Wait(); err != nil {
		logger.Error("core node stopped with error", zap.Error(err))
	}
	logger.Info("core node shut down")
}

// shutdown stops intake first, then lets the worker finish its current batch,
// then answers whoever is still waiting.
func shutdown(timeout time.Duration, logger *zap.Logger, grpcServer *grpc.Server, httpServer *http.Server,
	queue *dispatch.Queue, batchScheduler *batcher.Scheduler, service *usecase.InferenceService, registry *node.Registry) {
	logger.Info("shutting down core node gracefully...")
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	if registry != nil {
		if err := registry.Deregister(ctx); err != nil {
			logger.Error("failed to deregister node", zap.Error(err))
		}
	}

	stopped := make(chan struct{})
	go func() {
		grpcServer.GracefulStop()
		close(stopped)
	}()
	if err := httpServer.Shutdown(ctx); err != nil {
		logger.Error("HTTP server shutdown failed", zap.Error(err))
	}
	select {
	case <-stopped:
	case <-ctx.Done():
		logger.Warn("gRPC graceful stop timed out, forcing")
		grpcServer.Stop()
	}

	queue.Close()
	batchScheduler.Stop()
	service.FailPending(domain.ErrQueueClosed)
}

// advertisedAddr turns a listen address such as ":50051" into one other
// hosts can dial.
func advertisedAddr(listen string) string {
	host, port, err := net.SplitHostPort(listen)
	if err != nil || (host != "" && host != "0.0.0.0" && host != "::") {
		return listen
	}
	hostname, err := os.Hostname()
	if err != nil {
		return listen
	}
	return net.JoinHostPort(hostname, port)
}

func setupGracefulShutdown(cancel context.CancelFunc, logger *zap.Logger) {
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		sig := <-sigChan
		logger.Info("received signal, initiating graceful shutdown", zap.String("signal", sig.String()))
		cancel()
	}()
}
