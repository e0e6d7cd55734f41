package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "pricecompare"

// Service provides Prometheus metrics for the price comparison service
type Service struct {
	// HTTP
	requestsTotal   *prometheus.CounterVec
	requestDuration *prometheus.HistogramVec

	// PA-API client
	apiAttemptsTotal   *prometheus.CounterVec
	apiAttemptDuration *prometheus.HistogramVec
	apiRetriesTotal    *prometheus.CounterVec
	apiBackoffSeconds  prometheus.Counter
	apiGateWait        prometheus.Histogram
	searchesTotal      *prometheus.CounterVec

	// Refresh
	refreshRunsTotal      *prometheus.CounterVec
	productsSavedTotal    *prometheus.CounterVec
	secondaryMatchesTotal *prometheus.CounterVec

	// Dependencies
	dbQueryDuration     *prometheus.HistogramVec
	circuitBreakerState *prometheus.GaugeVec
	cacheHitsTotal      *prometheus.CounterVec
	cacheMissesTotal    *prometheus.CounterVec
}

// NewService registers every collector with reg. Passing a fresh
// prometheus.NewRegistry() keeps tests isolated from the default registry.
func NewService(reg prometheus.Registerer) *Service {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	factory := promauto.With(reg)

	return &Service{
		requestsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "http_requests_total",
				Help:      "Total number of HTTP requests by endpoint and status",
			},
			[]string{"endpoint", "status"},
		),
		requestDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "http_request_duration_seconds",
				Help:      "HTTP request processing time in seconds",
				Buckets:   prometheus.DefBuckets,
			},
			[]string{"endpoint", "status"},
		),
		apiAttemptsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "paapi_attempts_total",
				Help:      "Signed PA-API dispatch attempts by outcome",
			},
			[]string{"operation", "outcome"},
		),
		apiAttemptDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "paapi_attempt_duration_seconds",
				Help:      "Duration of a single signed PA-API attempt",
				Buckets:   []float64{0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10},
			},
			[]string{"operation", "outcome"},
		),
		apiRetriesTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "paapi_retries_total",
				Help:      "PA-API retries scheduled by triggering outcome",
			},
			[]string{"outcome"},
		),
		apiBackoffSeconds: factory.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "paapi_backoff_seconds_total",
				Help:      "Total time spent sleeping between PA-API retries",
			},
		),
		apiGateWait: factory.NewHistogram(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "paapi_rate_limit_wait_seconds",
				Help:      "Time spent waiting on the dispatch rate limiter",
				Buckets:   []float64{0.001, 0.01, 0.1, 0.25, 0.5, 1, 2, 5},
			},
		),
		searchesTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "paapi_searches_total",
				Help:      "Logical page searches by result",
			},
			[]string{"result"},
		),
		refreshRunsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "refresh_runs_total",
				Help:      "Category refresh runs by category and result",
			},
			[]string{"category", "result"},
		),
		productsSavedTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "products_saved_total",
				Help:      "Products upserted by category",
			},
			[]string{"category"},
		),
		secondaryMatchesTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "secondary_matches_total",
				Help:      "Secondary marketplace lookups by result",
			},
			[]string{"result"},
		),
		dbQueryDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "db_query_duration_seconds",
				Help:      "Database query duration in seconds",
				Buckets:   prometheus.DefBuckets,
			},
			[]string{"query"},
		),
		circuitBreakerState: factory.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "circuit_breaker_state",
				Help:      "Circuit breaker state (0=closed, 1=open, 2=half-open)",
			},
			[]string{"dependency"},
		),
		cacheHitsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "cache_hits_total",
				Help:      "Cache hits by cache type",
			},
			[]string{"cache"},
		),
		cacheMissesTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "cache_misses_total",
				Help:      "Cache misses by cache type",
			},
			[]string{"cache"},
		),
	}
}

// RecordRequest records an HTTP request
func (s *Service) RecordRequest(endpoint, status string) {
	s.requestsTotal.WithLabelValues(endpoint, status).Inc()
}

// RecordRequestDuration records HTTP request duration
func (s *Service) RecordRequestDuration(endpoint, status string, duration time.Duration) {
	s.requestDuration.WithLabelValues(endpoint, status).Observe(duration.Seconds())
}

// RecordAttempt records one signed dispatch and its classified outcome
func (s *Service) RecordAttempt(operation, outcome string, duration time.Duration) {
	s.apiAttemptsTotal.WithLabelValues(operation, outcome).Inc()
	s.apiAttemptDuration.WithLabelValues(operation, outcome).Observe(duration.Seconds())
}

// RecordRetry records a scheduled retry and its backoff
func (s *Service) RecordRetry(outcome string, backoff time.Duration) {
	s.apiRetriesTotal.WithLabelValues(outcome).Inc()
	s.apiBackoffSeconds.Add(backoff.Seconds())
}

func (s *Service) RecordGateWait(duration time.Duration) {
	s.apiGateWait.Observe(duration.Seconds())
}

// RecordSearch records a page search result ("success", "error", "cached")
func (s *Service) RecordSearch(result string) {
	s.searchesTotal.WithLabelValues(result).Inc()
}

func (s *Service) RecordRefresh(category, result string) {
	s.refreshRunsTotal.WithLabelValues(category, result).Inc()
}

func (s *Service) RecordProductsSaved(category string, count int) {
	s.productsSavedTotal.WithLabelValues(category).Add(float64(count))
}

func (s *Service) RecordSecondaryMatch(result string) {
	s.secondaryMatchesTotal.WithLabelValues(result).Inc()
}

// RecordDBQueryDuration records database query duration
func (s *Service) RecordDBQueryDuration(query string, duration time.Duration) {
	s.dbQueryDuration.WithLabelValues(query).Observe(duration.Seconds())
}

// SetCircuitBreakerState sets circuit breaker state
func (s *Service) SetCircuitBreakerState(dependency string, state int) {
	s.circuitBreakerState.WithLabelValues(dependency).Set(float64(state))
}

// RecordCacheHit records a cache hit
func (s *Service) RecordCacheHit(cache string) {
	s.cacheHitsTotal.WithLabelValues(cache).Inc()
}

// RecordCacheMiss records a cache miss
func (s *Service) RecordCacheMiss(cache string) {
	s.cacheMissesTotal.WithLabelValues(cache).Inc()
}
