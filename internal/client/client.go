// Package client is a typed HTTP client for a running screening service.
package client

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"time"

	"cbc-screen/internal/ml"
	"cbc-screen/internal/panel"

	"github.com/go-resty/resty/v2"
)

type Client struct {
	base string
	rest *resty.Client
}

// APIError is a non-2xx reply from the service.
type APIError struct {
	Status    int
	Kind      string
	Message   string
	RequestID string
}

func (e *APIError) Error() string {
	if e.Kind != "" {
		return fmt.Sprintf("screener: %d %s: %s", e.Status, e.Kind, e.Message)
	}
	return fmt.Sprintf("screener: %d %s", e.Status, e.Message)
}

// FeaturesResponse is the body of /api/v1/features.
type FeaturesResponse struct {
	Order    []string        `json:"order"`
	Features []panel.Feature `json:"features"`
}

func New(base string, timeout time.Duration) *Client {
	r := resty.New()
	if timeout > 0 {
		r.SetTimeout(timeout)
	} else {
		r.SetTimeout(5 * time.Second) // default fallback
	}
	r.SetHeader("Accept", "application/json")
	return &Client{base: strings.TrimRight(base, "/"), rest: r}
}

// Predict screens one panel.
func (c *Client) Predict(ctx context.Context, req ml.PredictionRequest) (*ml.PredictionResponse, error) {
	out := &ml.PredictionResponse{}
	apiErr := &ml.ErrorResponse{}

	resp, err := c.rest.R().
		SetContext(ctx).
		SetBody(req).
		SetResult(out).
		SetError(apiErr).
		Post(c.base + "/api/v1/predict")
	if err != nil {
		return nil, fmt.Errorf("request failed: %w", err)
	}
	if resp.IsError() {
		return nil, newAPIError(resp, apiErr)
	}
	return out, nil
}

// Features fetches the canonical panel with the deployment's defaults.
func (c *Client) Features(ctx context.Context) (*FeaturesResponse, error) {
	out := &FeaturesResponse{}
	apiErr := &ml.ErrorResponse{}

	resp, err := c.rest.R().
		SetContext(ctx).
		SetResult(out).
		SetError(apiErr).
		Get(c.base + "/api/v1/features")
	if err != nil {
		return nil, fmt.Errorf("request failed: %w", err)
	}
	if resp.IsError() {
		return nil, newAPIError(resp, apiErr)
	}
	return out, nil
}

// Health returns the service health. An unhealthy service answers 503 with
// a health body, which is returned together with an error.
func (c *Client) Health(ctx context.Context) (*ml.HealthStatus, error) {
	out := &ml.HealthStatus{}

	resp, err := c.rest.R().
		SetContext(ctx).
		SetResult(out).
		SetError(out).
		Get(c.base + "/health")
	if err != nil {
		return nil, fmt.Errorf("request failed: %w", err)
	}
	if resp.StatusCode() == http.StatusServiceUnavailable {
		return out, &APIError{Status: resp.StatusCode(), Message: "service unhealthy"}
	}
	if resp.IsError() {
		return nil, &APIError{Status: resp.StatusCode(), Message: resp.String()}
	}
	return out, nil
}

// ModelInfo returns the loaded model's metadata and label table.
func (c *Client) ModelInfo(ctx context.Context) (*ml.ModelInfo, error) {
	out := &ml.ModelInfo{}
	apiErr := &ml.ErrorResponse{}

	resp, err := c.rest.R().
		SetContext(ctx).
		SetResult(out).
		SetError(apiErr).
		Get(c.base + "/model/info")
	if err != nil {
		return nil, fmt.Errorf("request failed: %w", err)
	}
	if resp.IsError() {
		return nil, newAPIError(resp, apiErr)
	}
	return out, nil
}

func newAPIError(resp *resty.Response, body *ml.ErrorResponse) *APIError {
	e := &APIError{
		Status:    resp.StatusCode(),
		Kind:      body.Kind,
		Message:   body.Error,
		RequestID: body.RequestID,
	}
	if e.Message == "" {
		e.Message = strings.TrimSpace(resp.String())
	}
	return e
}
