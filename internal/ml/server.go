package ml

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"cbc-screen/internal/panel"

	"github.com/gorilla/mux"
	"github.com/rs/zerolog/log"
)

// maxRequestBytes caps the JSON body of a prediction request.
const maxRequestBytes = 64 << 10

// HistoryRecorder persists completed screenings.
type HistoryRecorder interface {
	RecordScreening(ctx context.Context, source string, v panel.Vector, res Result, modelVersion string) (string, error)
}

// ServerConfig configures the JSON API.
type ServerConfig struct {
	Profile  string
	Defaults panel.Vector
	Timeout  time.Duration
	Recorder HistoryRecorder
	// OnHistoryError is called when the recorder fails; the prediction is
	// still returned.
	OnHistoryError func(error)
}

// ModelServer provides HTTP API for model predictions
type ModelServer struct {
	formatter *Formatter
	model     *Model
	config    ServerConfig
}

// PredictionRequest carries a panel either by name or in canonical order.
type PredictionRequest struct {
	Features  map[string]float64 `json:"features,omitempty"`
	Values    []float64          `json:"values,omitempty"`
	RequestID string             `json:"request_id,omitempty"`
}

// PredictionResponse represents the prediction result
type PredictionResponse struct {
	Label          string             `json:"label"`
	Class          int                `json:"class"`
	Probabilities  []LabelProbability `json:"probabilities"`
	ProbabilityMap map[string]float64 `json:"probability_map"`
	OutOfRange     []string           `json:"out_of_range,omitempty"`
	RequestID      string             `json:"request_id,omitempty"`
	ScreeningID    string             `json:"screening_id,omitempty"`
	ModelVersion   string             `json:"model_version"`
	Latency        float64            `json:"latency_ms"`
	Timestamp      time.Time          `json:"timestamp"`
}

// ErrorResponse is the body of every non-2xx API reply.
type ErrorResponse struct {
	Error     string `json:"error"`
	Kind      string `json:"kind"`
	RequestID string `json:"request_id,omitempty"`
}

// HealthStatus is served on /health.
type HealthStatus struct {
	Healthy         bool      `json:"healthy"`
	LastCheck       time.Time `json:"last_check"`
	ModelLoaded     bool      `json:"model_loaded"`
	ModelVersion    string    `json:"model_version"`
	AverageLatency  float64   `json:"average_latency_ms"`
	PredictionCount int64     `json:"prediction_count"`
	ErrorCount      int64     `json:"error_count"`
	ErrorRate       float64   `json:"error_rate"`
	CacheHits       int64     `json:"cache_hits"`
	UptimeSeconds   float64   `json:"uptime_seconds"`
}

// ModelInfo is served on /model/info.
type ModelInfo struct {
	Version       string         `json:"version"`
	TrainedAt     time.Time      `json:"trained_at"`
	Accuracy      float64        `json:"accuracy"`
	ValidationAcc float64        `json:"validation_accuracy"`
	TrainingRows  int            `json:"training_rows"`
	Description   string         `json:"description,omitempty"`
	Objective     string         `json:"objective"`
	Classes       int            `json:"classes"`
	Labels        map[int]string `json:"labels"`
	Features      []string       `json:"features"`
	LoadedAt      time.Time      `json:"loaded_at"`
	AgeSeconds    float64        `json:"age_seconds"`
}

// NewModelServer creates the JSON API handlers.
func NewModelServer(formatter *Formatter, model *Model, config ServerConfig) *ModelServer {
	if config.Timeout <= 0 {
		config.Timeout = 5 * time.Second
	}
	if config.Defaults == nil {
		config.Defaults = panel.Defaults()
	}
	return &ModelServer{
		formatter: formatter,
		model:     model,
		config:    config,
	}
}

// Register mounts the API routes on r.
func (ms *ModelServer) Register(r *mux.Router) {
	r.HandleFunc("/api/v1/predict", ms.handlePredict).Methods(http.MethodPost)
	r.HandleFunc("/api/v1/features", ms.handleFeatures).Methods(http.MethodGet)
	r.HandleFunc("/health", ms.handleHealth).Methods(http.MethodGet)
	r.HandleFunc("/model/info", ms.handleModelInfo).Methods(http.MethodGet)
}

// Handler returns a router serving only the API.
func (ms *ModelServer) Handler() http.Handler {
	r := mux.NewRouter()
	ms.Register(r)
	return r
}

func (ms *ModelServer) handlePredict(w http.ResponseWriter, r *http.Request) {
	start := time.Now()

	var req PredictionRequest
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxRequestBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, KindInvalidInput, fmt.Errorf("invalid request: %w", err), "")
		return
	}

	vec, err := req.vector()
	if err != nil {
		writeError(w, http.StatusBadRequest, KindInvalidInput, err, req.RequestID)
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), ms.config.Timeout)
	defer cancel()

	res, err := ms.formatter.Predict(ctx, vec)
	if err != nil {
		log.Error().Err(err).Str("request_id", req.RequestID).Msg("prediction failed")
		writeError(w, StatusFor(err), ErrorKind(err), err, req.RequestID)
		return
	}

	resp := PredictionResponse{
		Label:          res.Label,
		Class:          res.Class,
		Probabilities:  res.Probabilities,
		ProbabilityMap: res.ProbabilityMap(),
		OutOfRange:     vec.OutOfRange(),
		RequestID:      req.RequestID,
		ModelVersion:   ms.model.Metadata.Version,
		Timestamp:      time.Now(),
	}

	if ms.config.Recorder != nil {
		id, err := ms.config.Recorder.RecordScreening(ctx, ms.config.Profile, vec, res, ms.model.Metadata.Version)
		if err != nil {
			log.Warn().Err(err).Msg("failed to record screening")
			if ms.config.OnHistoryError != nil {
				ms.config.OnHistoryError(err)
			}
		}
		resp.ScreeningID = id
	}

	resp.Latency = float64(time.Since(start).Microseconds()) / 1000
	writeJSON(w, http.StatusOK, resp)
}

func (req PredictionRequest) vector() (panel.Vector, error) {
	switch {
	case req.Features != nil && req.Values != nil:
		return nil, fmt.Errorf("%w: give either features or values, not both", ErrInvalidInput)
	case req.Features != nil:
		v, err := panel.FromValues(req.Features)
		if err != nil {
			return nil, fmt.Errorf("%w: %w", ErrInvalidInput, err)
		}
		return v, nil
	case req.Values != nil:
		// length is left to the classifier to reject
		return panel.Vector(req.Values), nil
	default:
		return nil, fmt.Errorf("%w: features cannot be empty", ErrInvalidInput)
	}
}

func (ms *ModelServer) handleFeatures(w http.ResponseWriter, r *http.Request) {
	feats := panel.Features()
	for i := range feats {
		if i < len(ms.config.Defaults) {
			feats[i].Default = ms.config.Defaults[i]
		}
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"order":    panel.Names,
		"features": feats,
	})
}

func (ms *ModelServer) handleHealth(w http.ResponseWriter, r *http.Request) {
	health := ms.HealthStatus()

	status := http.StatusOK
	if !health.Healthy {
		status = http.StatusServiceUnavailable
	}
	writeJSON(w, status, health)
}

// HealthStatus reports the current model and counter state.
func (ms *ModelServer) HealthStatus() HealthStatus {
	stats := ms.formatter.Stats()
	loaded := ms.model != nil && ms.model.Booster != nil

	h := HealthStatus{
		Healthy:         loaded,
		LastCheck:       time.Now(),
		ModelLoaded:     loaded,
		AverageLatency:  float64(stats.AverageLatency().Microseconds()) / 1000,
		PredictionCount: stats.Predictions,
		ErrorCount:      stats.Errors,
		ErrorRate:       stats.ErrorRate(),
		CacheHits:       stats.CacheHits,
		UptimeSeconds:   time.Since(stats.Started).Seconds(),
	}
	if ms.model != nil {
		h.ModelVersion = ms.model.Metadata.Version
	}
	return h
}

func (ms *ModelServer) handleModelInfo(w http.ResponseWriter, r *http.Request) {
	md := ms.model.Metadata
	writeJSON(w, http.StatusOK, ModelInfo{
		Version:       md.Version,
		TrainedAt:     md.TrainedAt,
		Accuracy:      md.Accuracy,
		ValidationAcc: md.ValidationAcc,
		TrainingRows:  md.TrainingRows,
		Description:   md.Description,
		Objective:     ms.model.Objective(),
		Classes:       ms.model.NumClasses(),
		Labels:        ms.formatter.Labels().Map(),
		Features:      ms.model.FeatureNames(),
		LoadedAt:      ms.model.LoadedAt,
		AgeSeconds:    ms.model.Age().Seconds(),
	})
}

// StatusFor maps formatter errors onto HTTP status codes. The JSON API and
// the form report the same error classes through it.
func StatusFor(err error) int {
	switch {
	case errors.Is(err, ErrInvalidInput):
		return http.StatusBadRequest
	case errors.Is(err, ErrUnknownClass):
		return http.StatusUnprocessableEntity
	case errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout
	default:
		return http.StatusInternalServerError
	}
}

func writeError(w http.ResponseWriter, status int, kind string, err error, requestID string) {
	writeJSON(w, status, ErrorResponse{Error: err.Error(), Kind: kind, RequestID: requestID})
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Error().Err(err).Msg("failed to encode response")
	}
}
