package ml

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"cbc-screen/internal/panel"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeRecorder struct {
	calls   int
	lastSrc string
	lastVec panel.Vector
	err     error
}

func (r *fakeRecorder) RecordScreening(_ context.Context, source string, v panel.Vector, _ Result, _ string) (string, error) {
	r.calls++
	r.lastSrc = source
	r.lastVec = v
	if r.err != nil {
		return "", r.err
	}
	return "screening-1", nil
}

func newTestServer(t *testing.T, cfg ServerConfig) *httptest.Server {
	t.Helper()
	f := newTestFormatter(t)
	ms := NewModelServer(f, loadFixture(t), cfg)
	srv := httptest.NewServer(ms.Handler())
	t.Cleanup(srv.Close)
	return srv
}

func postPredict(t *testing.T, srv *httptest.Server, body string) (*http.Response, []byte) {
	t.Helper()
	resp, err := http.Post(srv.URL+"/api/v1/predict", "application/json", strings.NewReader(body))
	require.NoError(t, err)
	defer resp.Body.Close()
	var buf bytes.Buffer
	_, err = buf.ReadFrom(resp.Body)
	require.NoError(t, err)
	return resp, buf.Bytes()
}

func TestPredictByName(t *testing.T) {
	rec := &fakeRecorder{}
	srv := newTestServer(t, ServerConfig{Profile: "rb", Recorder: rec})

	body, err := json.Marshal(PredictionRequest{Features: panel.Defaults().Map(), RequestID: "req-1"})
	require.NoError(t, err)

	resp, raw := postPredict(t, srv, string(body))
	require.Equal(t, http.StatusOK, resp.StatusCode, string(raw))

	var out PredictionResponse
	require.NoError(t, json.Unmarshal(raw, &out))
	assert.Equal(t, "normal", out.Label)
	assert.InDelta(t, 0.354343694, out.ProbabilityMap["RB"], 1e-9)
	assert.Equal(t, "req-1", out.RequestID)
	assert.Equal(t, "screening-1", out.ScreeningID)
	assert.Equal(t, "rb-test-1", out.ModelVersion)
	assert.Empty(t, out.OutOfRange)

	assert.Equal(t, 1, rec.calls)
	assert.Equal(t, "rb", rec.lastSrc)
	assert.Equal(t, panel.Defaults(), rec.lastVec)
}

func TestPredictByValues(t *testing.T) {
	srv := newTestServer(t, ServerConfig{})

	v, err := panel.DefaultsWith(map[string]float64{"CRP": 20, "NEUT%": 80})
	require.NoError(t, err)
	body, err := json.Marshal(PredictionRequest{Values: v})
	require.NoError(t, err)

	resp, raw := postPredict(t, srv, string(body))
	require.Equal(t, http.StatusOK, resp.StatusCode, string(raw))

	var out PredictionResponse
	require.NoError(t, json.Unmarshal(raw, &out))
	assert.Equal(t, "RB", out.Label)
	assert.Equal(t, 1, out.Class)
	assert.Empty(t, out.ScreeningID)
}

func TestPredictRejectsBadRequests(t *testing.T) {
	srv := newTestServer(t, ServerConfig{})

	partial := panel.Defaults().Map()
	delete(partial, "CRP")
	partialBody, _ := json.Marshal(PredictionRequest{Features: partial})

	tests := []struct {
		name    string
		body    string
		status  int
		message string
	}{
		{"malformed", "{", http.StatusBadRequest, "invalid request"},
		{"unknown field", `{"panel": {}}`, http.StatusBadRequest, "unknown field"},
		{"empty", `{}`, http.StatusBadRequest, "features cannot be empty"},
		{"both", `{"features": {"WBC": 1}, "values": [1]}`, http.StatusBadRequest, "not both"},
		{"missing feature", string(partialBody), http.StatusBadRequest, "CRP"},
		{"wrong length", `{"values": [1, 2, 3]}`, http.StatusBadRequest, "model expects 24"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resp, raw := postPredict(t, srv, tt.body)
			assert.Equal(t, tt.status, resp.StatusCode)

			var e ErrorResponse
			require.NoError(t, json.Unmarshal(raw, &e))
			assert.Equal(t, KindInvalidInput, e.Kind)
			assert.Contains(t, e.Error, tt.message)
		})
	}
}

func TestPredictHistoryFailureIsNotFatal(t *testing.T) {
	var reported error
	rec := &fakeRecorder{err: errors.New("disk full")}
	srv := newTestServer(t, ServerConfig{
		Recorder:       rec,
		OnHistoryError: func(err error) { reported = err },
	})

	body, _ := json.Marshal(PredictionRequest{Values: panel.Defaults()})
	resp, raw := postPredict(t, srv, string(body))
	require.Equal(t, http.StatusOK, resp.StatusCode, string(raw))
	assert.EqualError(t, reported, "disk full")
}

func TestFeaturesEndpoint(t *testing.T) {
	defaults, err := panel.DefaultsWith(map[string]float64{"CRP": 1})
	require.NoError(t, err)
	srv := newTestServer(t, ServerConfig{Defaults: defaults})

	resp, err := http.Get(srv.URL + "/api/v1/features")
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var out struct {
		Order    []string        `json:"order"`
		Features []panel.Feature `json:"features"`
	}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&out))
	assert.Equal(t, panel.Names, out.Order)
	require.Len(t, out.Features, panel.Size)
	assert.Equal(t, 1.0, out.Features[panel.Size-1].Default)
}

func TestHealthAndModelInfo(t *testing.T) {
	srv := newTestServer(t, ServerConfig{})

	resp, err := http.Get(srv.URL + "/health")
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var h HealthStatus
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&h))
	assert.True(t, h.Healthy)
	assert.True(t, h.ModelLoaded)
	assert.Equal(t, "rb-test-1", h.ModelVersion)

	resp2, err := http.Get(srv.URL + "/model/info")
	require.NoError(t, err)
	defer resp2.Body.Close()
	require.Equal(t, http.StatusOK, resp2.StatusCode)

	var info ModelInfo
	require.NoError(t, json.NewDecoder(resp2.Body).Decode(&info))
	assert.Equal(t, ObjectiveBinaryLogistic, info.Objective)
	assert.Equal(t, 2, info.Classes)
	assert.Equal(t, map[int]string{0: "normal", 1: "RB"}, info.Labels)
	assert.Equal(t, panel.Names, info.Features)
	assert.Equal(t, 0.91, info.Accuracy)
}

func TestPredictMethodNotAllowed(t *testing.T) {
	srv := newTestServer(t, ServerConfig{})
	resp, err := http.Get(srv.URL + "/api/v1/predict")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusMethodNotAllowed, resp.StatusCode)
}

func TestStatusFor(t *testing.T) {
	assert.Equal(t, http.StatusBadRequest, StatusFor(ErrInvalidInput))
	assert.Equal(t, http.StatusUnprocessableEntity, StatusFor(ErrUnknownClass))
	assert.Equal(t, http.StatusGatewayTimeout, StatusFor(context.DeadlineExceeded))
	assert.Equal(t, http.StatusInternalServerError, StatusFor(ErrInvalidOutput))
}
