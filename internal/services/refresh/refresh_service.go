package refresh

import (
	"context"
	"fmt"
	"strconv"
	"sync/atomic"
	"time"

	"github.com/xsamir/ProductCompare/internal/clients/paapi"
	"github.com/xsamir/ProductCompare/internal/config"
	"github.com/xsamir/ProductCompare/internal/models"
	"github.com/xsamir/ProductCompare/internal/services/tracing"
	"github.com/xsamir/ProductCompare/pkg/errors"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/singleflight"
)

const (
	defaultMatchConcurrency = 4
	defaultRunTimeout       = 2 * time.Minute
)

// Searcher runs the paged catalogue search
type Searcher interface {
	SearchPages(ctx context.Context, keywords string, pages, pageSize int, policy paapi.PagePolicy) (*paapi.PagedResult, error)
}

// ProductStore persists refreshed listings
type ProductStore interface {
	UpsertAmazonProduct(ctx context.Context, listing models.Listing) error
	UpdateSecondaryMatch(ctx context.Context, amazonID string, match models.SecondaryMatch) error
}

// Matcher looks up a listing on the secondary marketplace. A nil match with
// a nil error means nothing comparable was found.
type Matcher interface {
	FindMatch(ctx context.Context, title string) (*models.SecondaryMatch, error)
}

type MetricsRecorder interface {
	RecordRefresh(category, result string)
	RecordProductsSaved(category string, count int)
	RecordSecondaryMatch(result string)
}

// Result summarises one category refresh
type Result struct {
	CategoryID int
	Keywords   string
	Pages      int
	Found      int
	Saved      int
	Matched    int
	PageErrors []paapi.PageError
	Duration   time.Duration
}

// Success is true when at least one listing was stored.
func (r *Result) Success() bool {
	return r != nil && r.Saved > 0
}

// Service refreshes the stored catalogue for a category
type Service struct {
	searcher Searcher
	store    ProductStore
	matcher  Matcher
	metrics  MetricsRecorder
	tracer   *tracing.Service
	cfg      config.RefreshConfig
	logger   *zap.Logger

	matchConcurrency int
	runTimeout       time.Duration
	group            singleflight.Group
}

type Option func(*Service)

// WithMatcher enables secondary marketplace lookups for every saved listing.
func WithMatcher(m Matcher) Option {
	return func(s *Service) { s.matcher = m }
}

func WithMetrics(m MetricsRecorder) Option {
	return func(s *Service) { s.metrics = m }
}

func WithTracing(t *tracing.Service) Option {
	return func(s *Service) { s.tracer = t }
}

// WithRunTimeout bounds a shared refresh run.
func WithRunTimeout(d time.Duration) Option {
	return func(s *Service) {
		if d > 0 {
			s.runTimeout = d
		}
	}
}

func WithMatchConcurrency(n int) Option {
	return func(s *Service) {
		if n > 0 {
			s.matchConcurrency = n
		}
	}
}

// NewService creates a new refresh service
func NewService(searcher Searcher, store ProductStore, cfg config.RefreshConfig, logger *zap.Logger, opts ...Option) *Service {
	if logger == nil {
		logger = zap.NewNop()
	}
	s := &Service{
		searcher:         searcher,
		store:            store,
		cfg:              cfg,
		logger:           logger,
		matchConcurrency: defaultMatchConcurrency,
		runTimeout:       defaultRunTimeout,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Refresh searches the category's keywords and stores every listing found.
// Concurrent calls for the same category share one run. The run is detached
// from the caller's cancellation and bounded by the run timeout; a caller
// whose ctx ends stops waiting while the run carries on for the others.
func (s *Service) Refresh(ctx context.Context, categoryID int) (*Result, error) {
	ch := s.group.DoChan(strconv.Itoa(categoryID), func() (interface{}, error) {
		runCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), s.runTimeout)
		defer cancel()
		return s.refresh(runCtx, categoryID)
	})

	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case r := <-ch:
		if r.Shared {
			s.logger.Debug("joined in-flight refresh", zap.Int("category_id", categoryID))
		}
		res, _ := r.Val.(*Result)
		return res, r.Err
	}
}

func (s *Service) refresh(ctx context.Context, categoryID int) (result *Result, err error) {
	start := time.Now()
	label := strconv.Itoa(categoryID)
	keywords := models.CategoryKeywords(categoryID)

	if s.tracer != nil {
		var span trace.Span
		ctx, span = s.tracer.StartSpan(ctx, "refresh.category", trace.WithAttributes(
			attribute.Int("category.id", categoryID),
			attribute.String("search.keywords", keywords),
		))
		defer func() {
			if err != nil {
				tracing.RecordError(span, err)
			}
			span.End()
		}()
	}

	policy := paapi.ContinueOnPageError
	if !s.cfg.ContinueOnPageError {
		policy = paapi.AbortOnPageError
	}

	result = &Result{CategoryID: categoryID, Keywords: keywords}
	defer func() {
		result.Duration = time.Since(start)
		s.recordOutcome(label, result, err)
	}()

	paged, err := s.searcher.SearchPages(ctx, keywords, s.cfg.Pages, s.cfg.PageSize, policy)
	if paged != nil {
		result.Pages = paged.Pages
		result.PageErrors = paged.Errors
	}
	if err != nil {
		s.logger.Error("catalogue search failed",
			zap.Int("category_id", categoryID),
			zap.String("keywords", keywords),
			zap.Error(err),
		)
		return result, err
	}

	result.Found = len(paged.Listings)
	saved := make([]models.Listing, 0, len(paged.Listings))
	for _, listing := range paged.Listings {
		listing.Category = categoryID
		if err := s.store.UpsertAmazonProduct(ctx, listing); err != nil {
			s.logger.Warn("failed to save listing",
				zap.String("asin", listing.ID),
				zap.Error(err),
			)
			continue
		}
		saved = append(saved, listing)
	}
	result.Saved = len(saved)
	result.Matched = s.matchAll(ctx, saved)

	s.logger.Info("category refreshed",
		zap.Int("category_id", categoryID),
		zap.Int("pages", result.Pages),
		zap.Int("found", result.Found),
		zap.Int("saved", result.Saved),
		zap.Int("matched", result.Matched),
		zap.Int("page_errors", len(result.PageErrors)),
	)

	if result.Saved == 0 {
		return result, nothingSaved(result)
	}
	return result, nil
}

// matchAll looks up secondary matches with bounded concurrency. Lookup and
// storage failures only cost the comparison, never the refresh.
func (s *Service) matchAll(ctx context.Context, listings []models.Listing) int {
	if s.matcher == nil || len(listings) == 0 {
		return 0
	}

	var matched atomic.Int32
	g := new(errgroup.Group)
	g.SetLimit(s.matchConcurrency)
	for _, listing := range listings {
		listing := listing
		g.Go(func() error {
			match, err := s.matcher.FindMatch(ctx, listing.Title)
			switch {
			case err != nil:
				s.logger.Warn("secondary lookup failed", zap.String("asin", listing.ID), zap.Error(err))
				s.recordMatch("error")
				return nil
			case match == nil:
				s.recordMatch("none")
				return nil
			}

			if err := s.store.UpdateSecondaryMatch(ctx, listing.ID, *match); err != nil {
				s.logger.Warn("failed to save secondary match", zap.String("asin", listing.ID), zap.Error(err))
				s.recordMatch("error")
				return nil
			}
			matched.Add(1)
			s.recordMatch("matched")
			return nil
		})
	}
	_ = g.Wait()
	return int(matched.Load())
}

func nothingSaved(result *Result) error {
	details := fmt.Sprintf("category %d: %d listings found, none saved", result.CategoryID, result.Found)
	if len(result.PageErrors) > 0 {
		return errors.WrapDomainError(result.PageErrors[0], errors.CodeUnavailable, "failed to refresh products", details)
	}
	return errors.NewDomainError(errors.CodeUnavailable, "failed to refresh products", details)
}

func (s *Service) recordOutcome(label string, result *Result, err error) {
	if s.metrics == nil {
		return
	}
	outcome := "success"
	switch {
	case err != nil:
		outcome = "failure"
	case len(result.PageErrors) > 0:
		outcome = "partial"
	}
	s.metrics.RecordRefresh(label, outcome)
	s.metrics.RecordProductsSaved(label, result.Saved)
}

func (s *Service) recordMatch(result string) {
	if s.metrics != nil {
		s.metrics.RecordSecondaryMatch(result)
	}
}
