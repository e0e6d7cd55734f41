// Package paapi is a signed-request client for the Product Advertising API 5
// SearchItems operation.
package paapi

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/xsamir/ProductCompare/internal/config"
	"github.com/xsamir/ProductCompare/internal/models"
	"github.com/xsamir/ProductCompare/internal/services/cache"
	"github.com/xsamir/ProductCompare/internal/services/ratelimit"
	"github.com/xsamir/ProductCompare/internal/services/tracing"
	"github.com/xsamir/ProductCompare/internal/sigv4"
	"github.com/xsamir/ProductCompare/pkg/errors"

	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"
)

// PagePolicy decides what SearchPages does when one page fails.
type PagePolicy int

const (
	// ContinueOnPageError records the failure and moves on to the next page.
	ContinueOnPageError PagePolicy = iota
	// AbortOnPageError returns the first page failure.
	AbortOnPageError
)

// PageError is a failed page within a multi-page search.
type PageError struct {
	Page int
	Err  error
}

func (e PageError) Error() string {
	return fmt.Sprintf("page %d: %v", e.Page, e.Err)
}

func (e PageError) Unwrap() error {
	return e.Err
}

// PagedResult collects listings from every page that succeeded.
type PagedResult struct {
	Listings []models.Listing
	Errors   []PageError
	Pages    int
}

// MetricsRecorder receives attempt, retry, gate and search outcomes
type MetricsRecorder interface {
	RecordAttempt(operation, outcome string, duration time.Duration)
	RecordRetry(outcome string, backoff time.Duration)
	RecordGateWait(duration time.Duration)
	RecordSearch(result string)
}

// SearchCache stores decoded search results keyed by request payload
type SearchCache interface {
	Get(ctx context.Context, key string, dest interface{}) (bool, error)
	Set(ctx context.Context, key string, value interface{}) error
}

// Option configures a Client
type Option func(*Client)

func WithRetryPolicy(p RetryPolicy) Option {
	return func(c *Client) { c.retry = p }
}

func WithMetrics(m MetricsRecorder) Option {
	return func(c *Client) { c.metrics = m }
}

func WithTracing(t *tracing.Service) Option {
	return func(c *Client) { c.tracer = t }
}

// WithCache caches parsed pages keyed by the signed payload bytes.
func WithCache(sc SearchCache, prefix string) Option {
	return func(c *Client) {
		c.cache = sc
		c.cachePrefix = prefix
	}
}

// WithClock overrides the time source used for x-amz-date.
func WithClock(now func() time.Time) Option {
	return func(c *Client) { c.now = now }
}

// Client issues signed SearchItems requests. It is safe for concurrent use;
// every call shares the same rate limit gate.
type Client struct {
	creds      Credentials
	signer     sigv4.Signer
	cfg        config.PAAPIConfig
	dispatcher Dispatcher
	gate       ratelimit.Gate
	retry      RetryPolicy

	cache       SearchCache
	cachePrefix string
	metrics     MetricsRecorder
	tracer      *tracing.Service
	now         func() time.Time
	logger      *zap.Logger
}

func NewClient(cfg config.PAAPIConfig, dispatcher Dispatcher, gate ratelimit.Gate, logger *zap.Logger, opts ...Option) (*Client, error) {
	if err := cfg.Validate(); err != nil {
		return nil, errors.WrapDomainError(err, errors.CodeValidation, "invalid PA-API configuration", err.Error())
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	c := &Client{
		creds: Credentials{
			AccessKey:  cfg.AccessKey,
			SecretKey:  cfg.SecretKey,
			PartnerTag: cfg.PartnerTag,
		},
		signer: sigv4.Signer{
			AccessKey: cfg.AccessKey,
			SecretKey: cfg.SecretKey,
			Region:    cfg.Region,
			Service:   cfg.Service,
		},
		cfg:        cfg,
		dispatcher: dispatcher,
		gate:       gate,
		retry: RetryPolicy{
			MaxRetries:  cfg.MaxRetries,
			BackoffUnit: cfg.BackoffUnit,
			Logger:      logger,
		},
		now:    time.Now,
		logger: logger,
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.metrics != nil && c.retry.OnRetry == nil {
		c.retry.OnRetry = func(o Outcome, _ int, backoff time.Duration) {
			c.metrics.RecordRetry(o.String(), backoff)
		}
	}
	return c, nil
}

// Search fetches one page of listings for keywords. page is 1-based and
// pageSize is between 1 and MaxPageSize.
func (c *Client) Search(ctx context.Context, keywords string, page, pageSize int) ([]models.Listing, error) {
	keywords = strings.TrimSpace(keywords)
	if keywords == "" {
		return nil, errors.NewDomainError(errors.CodeValidation, "invalid search", "keywords are required")
	}
	if page < 1 {
		return nil, errors.NewDomainError(errors.CodeValidation, "invalid search", fmt.Sprintf("page must be >= 1, got %d", page))
	}
	if pageSize < 1 || pageSize > MaxPageSize {
		return nil, errors.NewDomainError(errors.CodeValidation, "invalid search",
			fmt.Sprintf("page size must be between 1 and %d, got %d", MaxPageSize, pageSize))
	}

	body, err := json.Marshal(c.newPayload(keywords, page, pageSize))
	if err != nil {
		return nil, errors.WrapDomainError(err, errors.CodeInternal, "failed to encode search payload", "")
	}

	var cacheKey string
	if c.cache != nil {
		cacheKey = cache.PayloadKey(c.cachePrefix, body)
		var cached []models.Listing
		found, err := c.cache.Get(ctx, cacheKey, &cached)
		if err != nil {
			c.logger.Warn("search cache unavailable", zap.Error(err))
		} else if found {
			c.recordSearch("cached")
			return cached, nil
		}
	}

	ctx, end := c.startSpan(ctx, keywords, page, pageSize)

	raw, err := c.retry.Execute(ctx, c.timedGate(), func(ctx context.Context, attempt int) Result {
		return c.attempt(ctx, body, attempt)
	})
	if err != nil {
		end(err)
		c.recordSearch("error")
		return nil, err
	}

	listings, err := parseSearchResponse(raw, c.logger)
	end(err)
	if err != nil {
		c.recordSearch("error")
		return nil, err
	}
	c.recordSearch("success")

	if c.cache != nil {
		if err := c.cache.Set(ctx, cacheKey, listings); err != nil {
			c.logger.Warn("failed to cache search page", zap.Error(err))
		}
	}

	c.logger.Info("search page fetched",
		zap.String("keywords", keywords),
		zap.Int("page", page),
		zap.Int("items", len(listings)),
	)
	return listings, nil
}

// SearchPages runs one independent signed search per page, 1..pages.
func (c *Client) SearchPages(ctx context.Context, keywords string, pages, pageSize int, policy PagePolicy) (*PagedResult, error) {
	if pages < 1 {
		return nil, errors.NewDomainError(errors.CodeValidation, "invalid search", fmt.Sprintf("pages must be >= 1, got %d", pages))
	}

	result := &PagedResult{Listings: []models.Listing{}}
	for page := 1; page <= pages; page++ {
		listings, err := c.Search(ctx, keywords, page, pageSize)
		result.Pages++
		if err != nil {
			if policy == AbortOnPageError || ctx.Err() != nil || errors.HasCode(err, errors.CodeValidation) {
				return result, PageError{Page: page, Err: err}
			}
			c.logger.Warn("page failed, continuing",
				zap.String("keywords", keywords),
				zap.Int("page", page),
				zap.Error(err),
			)
			result.Errors = append(result.Errors, PageError{Page: page, Err: err})
			continue
		}
		result.Listings = append(result.Listings, listings...)
	}
	return result, nil
}

func (c *Client) newPayload(keywords string, page, pageSize int) SearchItemsPayload {
	resources := make([]string, len(searchResources))
	copy(resources, searchResources)
	return SearchItemsPayload{
		PartnerTag:            c.creds.PartnerTag,
		PartnerType:           partnerType,
		Operation:             operation,
		Keywords:              keywords,
		SearchIndex:           c.cfg.SearchIndex,
		ItemCount:             pageSize,
		ItemPage:              page,
		Resources:             resources,
		Availability:          availability,
		CurrencyOfPreference:  c.cfg.Currency,
		LanguagesOfPreference: []string{c.cfg.Language},
		Marketplace:           c.cfg.Marketplace,
	}
}

// attempt signs body with a timestamp taken now and dispatches it. The same
// timestamp feeds x-amz-date, the canonical request and the credential scope.
func (c *Client) attempt(ctx context.Context, body []byte, attempt int) Result {
	timestamp := sigv4.FormatAmzDate(c.now())
	headers := map[string]string{
		"content-encoding": contentEncoding,
		"content-type":     contentType,
		"host":             c.cfg.Host,
		"x-amz-date":       timestamp,
		"x-amz-target":     searchItemsTarget,
	}

	cr := sigv4.BuildCanonicalRequest("POST", searchItemsPath, headers, body)
	sig := c.signer.Sign(cr, timestamp)

	sent := make(map[string]string, len(headers)+1)
	for k, v := range headers {
		sent[k] = v
	}
	sent["Authorization"] = sig.Authorization

	start := time.Now()
	res := c.dispatcher.Dispatch(ctx, &SignedRequest{
		Method:  "POST",
		URL:     c.cfg.Scheme + "://" + c.cfg.Host + searchItemsPath,
		Host:    c.cfg.Host,
		Path:    searchItemsPath,
		Headers: sent,
		Body:    body,
		Attempt: attempt,
	})
	if c.metrics != nil {
		c.metrics.RecordAttempt(operation, res.Outcome.String(), time.Since(start))
	}
	return res
}

func (c *Client) startSpan(ctx context.Context, keywords string, page, pageSize int) (context.Context, func(error)) {
	if c.tracer == nil {
		return ctx, func(error) {}
	}
	ctx, span := c.tracer.StartClientSpan(ctx, "paapi.SearchItems",
		attribute.String("paapi.keywords", keywords),
		attribute.Int("paapi.page", page),
		attribute.Int("paapi.page_size", pageSize),
		attribute.String("paapi.host", c.cfg.Host),
	)
	return ctx, func(err error) {
		tracing.RecordError(span, err)
		span.End()
	}
}

func (c *Client) timedGate() ratelimit.Gate {
	if c.metrics == nil {
		return c.gate
	}
	return timedGate{gate: c.gate, metrics: c.metrics}
}

func (c *Client) recordSearch(result string) {
	if c.metrics != nil {
		c.metrics.RecordSearch(result)
	}
}

type timedGate struct {
	gate    ratelimit.Gate
	metrics MetricsRecorder
}

func (g timedGate) Acquire(ctx context.Context) error {
	start := time.Now()
	err := g.gate.Acquire(ctx)
	g.metrics.RecordGateWait(time.Since(start))
	return err
}
