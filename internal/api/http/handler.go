// internal/api/http/handler.go
package http

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"athena/internal/domain"
	"athena/internal/metrics"
	"athena/internal/usecase"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
)

// Handler serves the core node's HTTP API.
type Handler struct {
	inference *usecase.InferenceService
	models    *usecase.ModelService
	monitor   *usecase.QueueMonitor
	logger    *zap.Logger
	validate  *validator.Validate
	tracer    trace.Tracer
}

// NewHandler creates a new Handler.
func NewHandler(inference *usecase.InferenceService, models *usecase.ModelService, monitor *usecase.QueueMonitor, logger *zap.Logger) *Handler {
	return &Handler{
		inference: inference,
		models:    models,
		monitor:   monitor,
		logger:    logger.With(zap.String("component", "http-handler")),
		validate:  validator.New(),
		tracer:    otel.Tracer("athena-api"),
	}
}

// A helper struct to capture the status code
type instrumentedResponseWriter struct {
	http.ResponseWriter
	statusCode int
}

func (w *instrumentedResponseWriter) WriteHeader(statusCode int) {
	w.statusCode = statusCode
	w.ResponseWriter.WriteHeader(statusCode)
}

// RegisterRoutes registers every route on mux.
func (h *Handler) RegisterRoutes(mux *http.ServeMux) {
	h.handle(mux, http.MethodPost, "/v1/infer", h.handleInfer)
	h.handle(mux, http.MethodGet, "/v1/queue", h.handleQueue)
	h.handle(mux, http.MethodPost, "/v1/models/load", h.handleLoadModel)
	h.handle(mux, http.MethodPost, "/v1/models/unload", h.handleUnloadModel)
	h.handle(mux, http.MethodGet, "/v1/models", h.handleListModels)
	h.handle(mux, http.MethodGet, "/v1/models/{name}", h.handleGetModel)
	h.handle(mux, http.MethodGet, "/healthz", h.handleHealth)
	mux.Handle("GET /metrics", promhttp.Handler())
}

// handle wraps fn with a span and the request counter. path is the route
// pattern, so the metric labels stay bounded.
func (h *Handler) handle(mux *http.ServeMux, method, path string, fn http.HandlerFunc) {
	mux.HandleFunc(method+" "+path, func(w http.ResponseWriter, r *http.Request) {
		ctx, span := h.tracer.Start(r.Context(), "HTTP "+method+" "+path, trace.WithAttributes(
			attribute.String("http.method", r.Method),
			attribute.String("http.target", r.URL.Path),
		))
		defer span.End()

		r = r.WithContext(ctx)

		iw := &instrumentedResponseWriter{ResponseWriter: w, statusCode: http.StatusOK}
		fn(iw, r)

		metrics.HttpRequestsTotal.WithLabelValues(path, r.Method, strconv.Itoa(iw.statusCode)).Inc()

		span.SetAttributes(attribute.Int("http.status_code", iw.statusCode))
		if iw.statusCode >= 500 {
			span.SetStatus(codes.Error, "Server Error")
		}
	})
}

func (h *Handler) handleInfer(w http.ResponseWriter, r *http.Request) {
	var body InferRequest
	if !h.decode(w, r, &body) {
		return
	}

	req := body.ToDomainRequest(uuid.NewString(), time.Now())
	trace.SpanFromContext(r.Context()).SetAttributes(attribute.String("request.id", req.ID))

	res, err := h.inference.Submit(r.Context(), req)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, NewInferResponse(res))
}

func (h *Handler) handleQueue(w http.ResponseWriter, _ *http.Request) {
	snap := h.monitor.Snapshot()
	resp := &QueueResponse{
		Depth:          snap.Depth,
		Pending:        snap.Pending,
		Running:        snap.Running,
		MaxBatchSize:   snap.MaxBatchSize,
		MaxWaitMs:      float64(snap.MaxWait) / float64(time.Millisecond),
		Batches:        snap.Stats.Batches,
		Requests:       snap.Stats.Requests,
		Failures:       snap.Stats.Failures,
		LastBatchSize:  snap.Stats.LastBatchSize,
		RecentFailures: make([]*FailureResponse, 0, len(snap.RecentFailures)),
	}
	for _, f := range snap.RecentFailures {
		resp.RecentFailures = append(resp.RecentFailures, &FailureResponse{
			BatchID:    f.BatchID,
			Size:       f.Size,
			RequestIDs: f.RequestIDs,
			Error:      f.Error,
			At:         f.At,
		})
	}
	writeJSON(w, http.StatusOK, resp)
}

func (h *Handler) handleLoadModel(w http.ResponseWriter, r *http.Request) {
	var body LoadModelRequest
	if !h.decode(w, r, &body) {
		return
	}
	model, err := h.models.Load(r.Context(), body.ModelName, body.Version)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, model)
}

func (h *Handler) handleUnloadModel(w http.ResponseWriter, r *http.Request) {
	var body UnloadModelRequest
	if !h.decode(w, r, &body) {
		return
	}
	model, err := h.models.Unload(r.Context(), body.ModelName, body.Version)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, model)
}

func (h *Handler) handleListModels(w http.ResponseWriter, r *http.Request) {
	models, err := h.models.List(r.Context())
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, models)
}

func (h *Handler) handleGetModel(w http.ResponseWriter, r *http.Request) {
	model, err := h.models.Status(r.Context(), r.PathValue("name"))
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, model)
}

func (h *Handler) handleHealth(w http.ResponseWriter, _ *http.Request) {
	if !h.monitor.Snapshot().Running {
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "scheduler stopped"})
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// decode reads and validates a JSON body, answering 400 itself on failure.
func (h *Handler) decode(w http.ResponseWriter, r *http.Request, dst any) bool {
	span := trace.SpanFromContext(r.Context())

	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		span.SetStatus(codes.Error, "Failed to decode request body")
		span.RecordError(err)
		writeJSON(w, http.StatusBadRequest, &ErrorResponse{Error: err.Error()})
		return false
	}

	if err := h.validate.Struct(dst); err != nil {
		span.SetStatus(codes.Error, "Validation failed")
		span.RecordError(err)
		resp := &ErrorResponse{Error: "Validation failed"}
		var validationErrors validator.ValidationErrors
		if errors.As(err, &validationErrors) {
			for _, fe := range validationErrors {
				resp.Details = append(resp.Details, "Field '"+fe.Field()+"' failed on the '"+fe.Tag()+"' tag.")
			}
		}
		writeJSON(w, http.StatusBadRequest, resp)
		return false
	}
	return true
}

func (h *Handler) writeError(w http.ResponseWriter, r *http.Request, err error) {
	code := statusCode(err)
	span := trace.SpanFromContext(r.Context())
	span.RecordError(err)

	if code >= 500 {
		h.logger.Error("request failed", zap.String("path", r.URL.Path), zap.Int("status", code), zap.Error(err))
	} else {
		h.logger.Warn("request rejected", zap.String("path", r.URL.Path), zap.Int("status", code), zap.Error(err))
	}
	writeJSON(w, code, &ErrorResponse{Error: err.Error()})
}

// statusCode maps domain errors onto HTTP status codes.
func statusCode(err error) int {
	var failure *domain.HandlerFailure
	switch {
	case errors.Is(err, domain.ErrInvalidRequest):
		return http.StatusBadRequest
	case errors.Is(err, domain.ErrDuplicateRequest), errors.Is(err, domain.ErrLockNotAcquired):
		return http.StatusConflict
	case errors.Is(err, domain.ErrQueueFull):
		return http.StatusTooManyRequests
	case errors.Is(err, domain.ErrQueueClosed):
		return http.StatusServiceUnavailable
	case errors.Is(err, domain.ErrModelNotFound):
		return http.StatusNotFound
	case errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout
	case errors.As(err, &failure), errors.Is(err, domain.ErrNoResult):
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}
