package imageanalysis

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"sync"
	"time"

	"github.com/CristianoSantos3266/MarchaBrasil-main-sub001/internal/observability"

	"github.com/sony/gobreaker"
	"go.uber.org/zap"
)

// ExternalAnalyzer calls an image classification service over HTTP.
type ExternalAnalyzer struct {
	baseURL    string
	httpClient *http.Client
	breaker    *gobreaker.CircuitBreaker
	cache      map[string]*cachedResult
	cacheMu    sync.RWMutex
	cacheTTL   time.Duration
	logger     *zap.Logger
	metrics    observability.MetricsRegistry
}

// cachedResult wraps an analysis with caching metadata.
type cachedResult struct {
	Result    Result
	Timestamp time.Time
	TTL       time.Duration
}

func (c *cachedResult) isExpired() bool {
	return time.Since(c.Timestamp) > c.TTL
}

// BreakerSettings controls when the circuit opens.
type BreakerSettings struct {
	MaxFailures uint32        // Consecutive failures before opening
	OpenTimeout time.Duration // How long the circuit stays open
}

// NewExternalAnalyzer creates a client for the service at baseURL.
func NewExternalAnalyzer(baseURL string, timeout, cacheTTL time.Duration, bs BreakerSettings, logger *zap.Logger, metrics observability.MetricsRegistry) *ExternalAnalyzer {
	if bs.MaxFailures == 0 {
		bs.MaxFailures = 5
	}
	if bs.OpenTimeout <= 0 {
		bs.OpenTimeout = 30 * time.Second
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	if metrics == nil {
		metrics = observability.NewNoOpRegistry()
	}
	a := &ExternalAnalyzer{
		baseURL:    baseURL,
		httpClient: &http.Client{Timeout: timeout},
		cache:      make(map[string]*cachedResult),
		cacheTTL:   cacheTTL,
		logger:     logger,
		metrics:    metrics,
	}
	a.breaker = gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        "image-analyzer",
		MaxRequests: 1,
		Timeout:     bs.OpenTimeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= bs.MaxFailures
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			logger.Warn("image analyzer circuit state changed",
				zap.String("breaker", name),
				zap.String("from", from.String()),
				zap.String("to", to.String()))
		},
	})
	return a
}

func cacheKey(img Image) string {
	sum := sha256.Sum256(img.Data)
	return hex.EncodeToString(sum[:])
}

// Analyze implements Analyzer. Identical image bytes are answered from the
// cache. Failures are returned to the caller; the analyzer never guesses.
func (a *ExternalAnalyzer) Analyze(ctx context.Context, img Image) (Result, error) {
	key := cacheKey(img)
	a.cacheMu.RLock()
	cached, exists := a.cache[key]
	a.cacheMu.RUnlock()

	if exists && !cached.isExpired() {
		a.metrics.IncrementImageAnalyses("cache_hit")
		return cached.Result, nil
	}

	out, err := a.breaker.Execute(func() (interface{}, error) {
		return a.callService(ctx, img)
	})
	if err != nil {
		a.logger.Warn("image analysis failed", zap.String("image", img.Name), zap.Error(err))
		return Result{}, fmt.Errorf("breaker (%s): %w", a.breaker.Name(), err)
	}
	res := out.(Result)

	a.cacheMu.Lock()
	a.cache[key] = &cachedResult{Result: res, Timestamp: time.Now(), TTL: a.cacheTTL}
	a.cacheMu.Unlock()

	return res, nil
}

// callService makes the actual HTTP call to the analysis service.
func (a *ExternalAnalyzer) callService(ctx context.Context, img Image) (Result, error) {
	start := time.Now()
	outcome := "success"
	defer func() {
		a.metrics.RecordImageAnalysisLatency(time.Since(start))
		a.metrics.IncrementImageAnalyses(outcome)
	}()

	reqBody, err := json.Marshal(img)
	if err != nil {
		outcome = "failure"
		return Result{}, fmt.Errorf("marshal request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, a.baseURL+"/analyze", bytes.NewReader(reqBody))
	if err != nil {
		outcome = "failure"
		return Result{}, fmt.Errorf("create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := a.httpClient.Do(httpReq)
	if err != nil {
		outcome = "failure"
		return Result{}, fmt.Errorf("http request: %w", err)
	}
	defer func() {
		if err := resp.Body.Close(); err != nil {
			a.logger.Warn("failed to close response body", zap.Error(err))
		}
	}()

	if resp.StatusCode != http.StatusOK {
		outcome = "failure"
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		return Result{}, fmt.Errorf("http %d: %s", resp.StatusCode, string(body))
	}

	var res Result
	if err := json.NewDecoder(resp.Body).Decode(&res); err != nil {
		outcome = "failure"
		return Result{}, fmt.Errorf("decode response: %w", err)
	}
	return res, nil
}

// HealthCheck checks if the analysis service is available.
func (a *ExternalAnalyzer) HealthCheck(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, a.baseURL+"/health", nil)
	if err != nil {
		return fmt.Errorf("create health check request: %w", err)
	}

	resp, err := a.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("health check request: %w", err)
	}
	defer func() {
		if err := resp.Body.Close(); err != nil {
			a.logger.Warn("failed to close response body", zap.Error(err))
		}
	}()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("health check failed with status %d", resp.StatusCode)
	}
	return nil
}

// CacheStats returns statistics about the cache.
func (a *ExternalAnalyzer) CacheStats() map[string]int {
	a.cacheMu.RLock()
	defer a.cacheMu.RUnlock()

	expired := 0
	for _, cached := range a.cache {
		if cached.isExpired() {
			expired++
		}
	}
	return map[string]int{
		"total_entries":   len(a.cache),
		"expired_entries": expired,
		"active_entries":  len(a.cache) - expired,
	}
}

// CleanupExpiredCache removes expired entries from the cache.
func (a *ExternalAnalyzer) CleanupExpiredCache() {
	a.cacheMu.Lock()
	defer a.cacheMu.Unlock()

	for key, cached := range a.cache {
		if cached.isExpired() {
			delete(a.cache, key)
		}
	}
}

// StartCacheCleanup periodically removes expired cache entries until ctx is done.
func (a *ExternalAnalyzer) StartCacheCleanup(ctx context.Context, interval time.Duration) {
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				a.CleanupExpiredCache()
			}
		}
	}()
}
