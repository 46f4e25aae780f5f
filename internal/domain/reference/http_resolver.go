package reference

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/bytedance/sonic"
	"github.com/go-resty/resty/v2"
	"github.com/hashicorp/go-retryablehttp"
	"golang.org/x/time/rate"

	"github.com/GriffinCanCode/blocktree/backend/internal/infrastructure/monitoring"
	"github.com/GriffinCanCode/blocktree/backend/internal/infrastructure/resilience"
	"github.com/GriffinCanCode/blocktree/backend/internal/infrastructure/tracing"
	"github.com/GriffinCanCode/blocktree/backend/internal/shared/types"
)

// HTTPConfig configures a remote resolver
type HTTPConfig struct {
	BaseURL           string
	Timeout           time.Duration
	Retries           int
	MinWait           time.Duration
	MaxWait           time.Duration
	RequestsPerSecond float64
}

// DefaultHTTPConfig returns settings suitable for an internal service
func DefaultHTTPConfig(baseURL string) HTTPConfig {
	return HTTPConfig{
		BaseURL:           baseURL,
		Timeout:           5 * time.Second,
		Retries:           2,
		MinWait:           100 * time.Millisecond,
		MaxWait:           2 * time.Second,
		RequestsPerSecond: 50,
	}
}

// HTTPResolver resolves one entity type from a remote service.
//
// The service is called as POST {BaseURL}/batch with {"ids": [...]} and must
// answer {"items": [{"id": "...", ...}]}. A 404 means none of the ids exist.
type HTTPResolver struct {
	entityType types.EntityType
	client     *resty.Client
	limiter    *rate.Limiter
	breaker    *resilience.Breaker
}

// HTTPOption configures an HTTPResolver
type HTTPOption func(*HTTPResolver)

// WithBreakerMetrics publishes breaker state changes
func WithBreakerMetrics(metrics *monitoring.Metrics) HTTPOption {
	return func(h *HTTPResolver) {
		h.breaker = newBreaker(h.entityType, metrics)
	}
}

// WithHTTPClient replaces the underlying resty client, mainly for tests
func WithHTTPClient(client *resty.Client) HTTPOption {
	return func(h *HTTPResolver) {
		h.client = client
	}
}

type batchRequest struct {
	IDs []string `json:"ids"`
}

type batchResponse struct {
	Items []types.Entity `json:"items"`
}

// NewHTTPResolver creates a resolver for entityType backed by cfg.BaseURL
func NewHTTPResolver(entityType types.EntityType, cfg HTTPConfig, opts ...HTTPOption) *HTTPResolver {
	retryClient := retryablehttp.NewClient()
	retryClient.Logger = nil

	minWait, maxWait := cfg.MinWait, cfg.MaxWait
	client := resty.New().
		SetBaseURL(strings.TrimRight(cfg.BaseURL, "/")).
		SetTimeout(cfg.Timeout).
		SetRetryCount(cfg.Retries).
		SetRetryWaitTime(minWait).
		SetRetryMaxWaitTime(maxWait).
		SetRetryAfter(func(_ *resty.Client, r *resty.Response) (time.Duration, error) {
			if r == nil || r.Request == nil {
				return minWait, nil
			}
			return retryablehttp.DefaultBackoff(minWait, maxWait, r.Request.Attempt, r.RawResponse), nil
		}).
		AddRetryCondition(func(r *resty.Response, err error) bool {
			return err != nil || r.StatusCode() == http.StatusTooManyRequests || r.StatusCode() >= 500
		}).
		SetJSONMarshaler(sonic.Marshal).
		SetJSONUnmarshaler(sonic.Unmarshal).
		SetHeader("User-Agent", "blocktree-resolver/1.0").
		SetHeader("Accept", "application/json")
	client.SetTransport(retryClient.HTTPClient.Transport)

	limiter := rate.NewLimiter(rate.Inf, 0)
	if cfg.RequestsPerSecond > 0 {
		burst := int(cfg.RequestsPerSecond)
		if burst < 1 {
			burst = 1
		}
		limiter = rate.NewLimiter(rate.Limit(cfg.RequestsPerSecond), burst)
	}

	h := &HTTPResolver{
		entityType: entityType,
		client:     client,
		limiter:    limiter,
		breaker:    newBreaker(entityType, nil),
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

func newBreaker(entityType types.EntityType, metrics *monitoring.Metrics) *resilience.Breaker {
	return resilience.New("resolver-"+strings.ToLower(string(entityType)), resilience.Settings{
		MaxRequests: 3,
		Interval:    60 * time.Second,
		Timeout:     15 * time.Second,
		ReadyToTrip: func(counts resilience.Counts) bool {
			return counts.ConsecutiveFailures >= 5 ||
				(counts.Requests >= 20 && float64(counts.TotalFailures)/float64(counts.Requests) > 0.5)
		},
		OnStateChange: func(name string, _ resilience.State, to resilience.State) {
			metrics.SetBreakerState(name, int(to))
		},
	})
}

// EntityType returns the resolved entity type
func (h *HTTPResolver) EntityType() types.EntityType {
	return h.entityType
}

// Breaker exposes the circuit breaker state for health reporting
func (h *HTTPResolver) Breaker() *resilience.Breaker {
	return h.breaker
}

// Fetch requests every id in one call
func (h *HTTPResolver) Fetch(ctx context.Context, ids []string) (map[string]types.Entity, error) {
	if len(ids) == 0 {
		return map[string]types.Entity{}, nil
	}
	if err := h.limiter.Wait(ctx); err != nil {
		return nil, fmt.Errorf("rate limit error: %w", err)
	}

	return resilience.Call(ctx, h.breaker, func(ctx context.Context) (map[string]types.Entity, error) {
		headers := make(map[string]string, 2)
		tracing.InjectTraceContext(ctx, headers)

		var body batchResponse
		resp, err := h.client.R().
			SetContext(ctx).
			SetHeaders(headers).
			SetBody(batchRequest{IDs: ids}).
			SetResult(&body).
			Post("/batch")
		if err != nil {
			return nil, fmt.Errorf("fetch %s: %w", h.entityType, err)
		}

		switch {
		case resp.StatusCode() == http.StatusNotFound:
			return map[string]types.Entity{}, nil
		case resp.IsError():
			return nil, fmt.Errorf("fetch %s: unexpected status %d", h.entityType, resp.StatusCode())
		}

		wanted := make(map[string]bool, len(ids))
		for _, id := range ids {
			wanted[id] = true
		}
		out := make(map[string]types.Entity, len(body.Items))
		for _, item := range body.Items {
			id, _ := item["id"].(string)
			if wanted[id] {
				out[id] = item
			}
		}
		return out, nil
	})
}
