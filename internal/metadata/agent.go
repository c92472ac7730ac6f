package metadata

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"time"

	"github.com/echo-music/echo-server/internal/conf"
	"github.com/echo-music/echo-server/internal/errors"
	"github.com/echo-music/echo-server/internal/httpclient"
	"github.com/echo-music/echo-server/internal/observability/metrics"
)

// maxResponseBytes caps provider response bodies. Biographies and search
// results are small; anything bigger is a misbehaving endpoint.
const maxResponseBytes = 4 << 20

// AgentDeps carries the shared plumbing every agent needs.
type AgentDeps struct {
	HTTP    *httpclient.Client
	Limiter *RateLimiter
	Metrics *metrics.EnrichmentMetrics
}

// baseAgent implements the Agent identity surface plus rate-limited JSON
// fetching with retry. Concrete agents embed it.
type baseAgent struct {
	name       string
	priority   int
	settings   conf.AgentSettings
	deps       AgentDeps
	needsKey   bool
	maxRetries int
}

func newBaseAgent(name string, priority int, settings conf.AgentSettings, needsKey bool, deps AgentDeps) baseAgent {
	retries := settings.MaxRetries
	if retries <= 0 {
		retries = 3
	}
	if settings.RateLimit > 0 {
		deps.Limiter.Configure(name, settings.RateLimit)
	}
	return baseAgent{
		name:       name,
		priority:   priority,
		settings:   settings,
		deps:       deps,
		needsKey:   needsKey,
		maxRetries: retries,
	}
}

func (a *baseAgent) Name() string  { return a.name }
func (a *baseAgent) Priority() int { return a.priority }

// Enabled reports whether the agent may be called. Agents that require a
// credential are silently disabled when none is configured.
func (a *baseAgent) Enabled() bool {
	if !a.settings.Enabled {
		return false
	}
	if a.needsKey && a.settings.APIKey == "" {
		return false
	}
	return true
}

// fetchBody issues a rate-limited GET with retry for transient failures and
// returns the response body.
func (a *baseAgent) fetchBody(ctx context.Context, url string, header http.Header) ([]byte, error) {
	var lastErr error
	for attempt := 0; attempt < a.maxRetries; attempt++ {
		body, err := a.fetchOnce(ctx, url, header)
		if err == nil {
			return body, nil
		}
		lastErr = err

		var enhanced *errors.EnhancedError
		if errors.As(err, &enhanced) {
			// Credential and not-found failures do not heal on retry
			if enhanced.Category == errors.CategoryConfiguration ||
				enhanced.Category == errors.CategoryNotFound ||
				enhanced.Category == errors.CategoryValidation {
				return nil, err
			}
		}
		if ctx.Err() != nil {
			return nil, lastErr
		}

		delay := time.Duration(attempt+1) * 500 * time.Millisecond
		if attempt < a.maxRetries-1 {
			logger.Warn("provider request failed, retrying",
				"source", a.name,
				"attempt", attempt+1,
				"max_retries", a.maxRetries,
				"delay_ms", delay.Milliseconds(),
				"url", url,
				"error", err.Error())
			select {
			case <-time.After(delay):
			case <-ctx.Done():
				return nil, ctx.Err()
			}
		}
	}
	return nil, lastErr
}

func (a *baseAgent) fetchOnce(ctx context.Context, url string, header http.Header) ([]byte, error) {
	if err := a.deps.Limiter.WaitForSlot(ctx, a.name); err != nil {
		return nil, err
	}

	reqCtx := ctx
	if a.settings.Timeout > 0 {
		var cancel context.CancelFunc
		reqCtx, cancel = context.WithTimeout(ctx, a.settings.Timeout)
		defer cancel()
	}

	req, err := http.NewRequestWithContext(reqCtx, http.MethodGet, url, http.NoBody)
	if err != nil {
		return nil, errors.New(err).
			Component("metadata").
			Category(errors.CategoryValidation).
			Context("source", a.name).
			Context("url", url).
			Build()
	}
	for k, vals := range header {
		for _, v := range vals {
			req.Header.Add(k, v)
		}
	}

	start := time.Now()
	resp, err := a.deps.HTTP.Do(reqCtx, req)
	if err != nil {
		return nil, errors.New(err).
			Component("metadata").
			Category(errors.CategoryNetwork).
			Context("source", a.name).
			Context("url", url).
			Timing("provider-request", time.Since(start)).
			Build()
	}
	defer func() {
		if cerr := resp.Body.Close(); cerr != nil {
			logger.Debug("response body close failed", "source", a.name, "error", cerr)
		}
	}()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return nil, errors.New(err).
			Component("metadata").
			Category(errors.CategoryNetwork).
			Context("source", a.name).
			Context("url", url).
			Build()
	}

	if resp.StatusCode >= 400 {
		if resp.StatusCode == 401 || resp.StatusCode == 403 {
			logger.Error("provider authentication failed",
				"source", a.name,
				"status_code", resp.StatusCode,
				"url", url,
				"has_api_key", a.settings.APIKey != "")
		} else {
			logger.Warn("provider error response",
				"source", a.name,
				"status_code", resp.StatusCode,
				"url", url)
		}
		preview := string(body)
		if len(preview) > 500 {
			preview = preview[:500] + "..."
		}
		return nil, errors.Newf("%s returned status %d: %s", a.name, resp.StatusCode, preview).
			Category(statusCategory(resp.StatusCode)).
			Component("metadata").
			Context("source", a.name).
			Context("status_code", resp.StatusCode).
			Context("url", url).
			Build()
	}

	logger.Debug("provider request successful",
		"source", a.name,
		"url", url,
		"duration_ms", time.Since(start).Milliseconds(),
		"response_size", len(body))
	return body, nil
}

// fetchJSON fetches and unmarshals a JSON response into result.
func (a *baseAgent) fetchJSON(ctx context.Context, url string, header http.Header, result any) error {
	body, err := a.fetchBody(ctx, url, header)
	if err != nil {
		return err
	}
	if err := json.Unmarshal(body, result); err != nil {
		preview := string(body)
		if len(preview) > 500 {
			preview = preview[:500] + "..."
		}
		logger.Error("failed to parse provider response",
			"source", a.name,
			"url", url,
			"response_size", len(body),
			"response_preview", preview,
			"error", err)
		return errors.Newf("failed to parse %s response: %w", a.name, err).
			Category(errors.CategoryMetadataProvider).
			Component("metadata").
			Context("source", a.name).
			Context("url", url).
			Build()
	}
	return nil
}

// observe records one provider call outcome.
func (a *baseAgent) observe(capability Capability, start time.Time, err error) {
	if a.deps.Metrics != nil {
		a.deps.Metrics.RecordProviderCall(a.name, string(capability), time.Since(start).Seconds(), err)
	}
}

// statusCategory maps an HTTP status to the error category used for retry and
// reporting decisions.
func statusCategory(statusCode int) errors.ErrorCategory {
	switch statusCode {
	case 401, 403:
		return errors.CategoryConfiguration
	case 404:
		return errors.CategoryNotFound
	case 429:
		return errors.CategoryLimit
	default:
		return errors.CategoryNetwork
	}
}
