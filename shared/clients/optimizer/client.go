package optimizer

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"sync"
	"time"

	"cutfab-backend/shared/config"
	"cutfab-backend/shared/metricsx"
)

// Client calls the external cutting-layout optimization service. The core
// never depends on its internals; a failed optimization leaves the job in
// OPTIMIZING for a later retry.
type Client struct {
	baseURL  string
	retryMax int
	http     *http.Client
	breaker  *circuitBreaker
}

type OptimizeRequest struct {
	JobID          string         `json:"job_id"`
	MaterialTypeID string         `json:"material_type_id"`
	Thickness      float64        `json:"thickness"`
	Items          []OptimizeItem `json:"items"`
	Hints          map[string]any `json:"hints,omitempty"`
}

type OptimizeItem struct {
	OrderItemID string `json:"order_item_id"`
	Quantity    int    `json:"quantity"`
}

type OptimizeResponse struct {
	ScenarioCount int     `json:"scenario_count"`
	WastePercent  float64 `json:"waste_percent"`
}

func New(cfg config.Config) (*Client, error) {
	if cfg.OptimizerURL == "" {
		return nil, errors.New("OPTIMIZER_URL is required")
	}
	timeout := time.Duration(cfg.OptimizerTimeoutMS) * time.Millisecond
	return &Client{
		baseURL:  cfg.OptimizerURL,
		retryMax: cfg.OptimizerRetryMax,
		http:     &http.Client{Timeout: timeout},
		breaker:  newCircuitBreaker(5, 30*time.Second),
	}, nil
}

func (c *Client) Optimize(ctx context.Context, req OptimizeRequest) (OptimizeResponse, error) {
	if c == nil || c.http == nil {
		return OptimizeResponse{}, errors.New("optimizer client not initialized")
	}
	if c.breaker.open() {
		return OptimizeResponse{}, errors.New("optimizer circuit open")
	}
	body, err := json.Marshal(req)
	if err != nil {
		return OptimizeResponse{}, err
	}

	start := time.Now()
	var lastErr error
	for attempt := 0; attempt <= c.retryMax; attempt++ {
		httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/api/v1/optimize", bytes.NewReader(body))
		if err != nil {
			return OptimizeResponse{}, err
		}
		httpReq.Header.Set("Content-Type", "application/json")
		resp, err := c.http.Do(httpReq)
		if err != nil {
			lastErr = err
			c.breaker.fail()
			continue
		}
		out, err := decodeResponse(resp)
		if err != nil {
			lastErr = err
			c.breaker.fail()
			if !retryable(resp.StatusCode) {
				break
			}
			continue
		}
		c.breaker.success()
		metricsx.ObserveOptimizerLatency(time.Since(start))
		return out, nil
	}
	if lastErr == nil {
		lastErr = errors.New("optimizer request failed")
	}
	metricsx.IncOptimizerFailure()
	return OptimizeResponse{}, lastErr
}

func decodeResponse(resp *http.Response) (OptimizeResponse, error) {
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return OptimizeResponse{}, errors.New("optimizer status " + resp.Status)
	}
	var out OptimizeResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return OptimizeResponse{}, err
	}
	return out, nil
}

func retryable(statusCode int) bool {
	return statusCode >= 500
}

type circuitBreaker struct {
	mu            sync.Mutex
	failures      int
	openUntil     time.Time
	threshold     int
	resetDuration time.Duration
}

func newCircuitBreaker(threshold int, reset time.Duration) *circuitBreaker {
	return &circuitBreaker{threshold: threshold, resetDuration: reset}
}

func (b *circuitBreaker) open() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.openUntil.IsZero() {
		return false
	}
	if time.Now().After(b.openUntil) {
		b.openUntil = time.Time{}
		b.failures = 0
		return false
	}
	return true
}

func (b *circuitBreaker) fail() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.failures++
	if b.failures >= b.threshold {
		b.openUntil = time.Now().Add(b.resetDuration)
	}
}

func (b *circuitBreaker) success() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.failures = 0
	b.openUntil = time.Time{}
}
