package refresh

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/xsamir/ProductCompare/internal/clients/paapi"
	"github.com/xsamir/ProductCompare/internal/config"
	"github.com/xsamir/ProductCompare/internal/models"
	"github.com/xsamir/ProductCompare/internal/services/tracing"
	domainErrors "github.com/xsamir/ProductCompare/pkg/errors"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
	"go.uber.org/zap"
)

type MockSearcher struct {
	mock.Mock
}

func (m *MockSearcher) SearchPages(ctx context.Context, keywords string, pages, pageSize int, policy paapi.PagePolicy) (*paapi.PagedResult, error) {
	args := m.Called(ctx, keywords, pages, pageSize, policy)
	res, _ := args.Get(0).(*paapi.PagedResult)
	return res, args.Error(1)
}

type MockStore struct {
	mock.Mock
}

func (m *MockStore) UpsertAmazonProduct(ctx context.Context, listing models.Listing) error {
	args := m.Called(ctx, listing)
	return args.Error(0)
}

func (m *MockStore) UpdateSecondaryMatch(ctx context.Context, amazonID string, match models.SecondaryMatch) error {
	args := m.Called(ctx, amazonID, match)
	return args.Error(0)
}

type MockMatcher struct {
	mock.Mock
}

func (m *MockMatcher) FindMatch(ctx context.Context, title string) (*models.SecondaryMatch, error) {
	args := m.Called(ctx, title)
	match, _ := args.Get(0).(*models.SecondaryMatch)
	return match, args.Error(1)
}

type recordingMetrics struct {
	mu      sync.Mutex
	refresh []string
	saved   map[string]int
	matches []string
}

func (r *recordingMetrics) RecordRefresh(category, result string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.refresh = append(r.refresh, category+":"+result)
}

func (r *recordingMetrics) RecordProductsSaved(category string, count int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.saved == nil {
		r.saved = map[string]int{}
	}
	r.saved[category] += count
}

func (r *recordingMetrics) RecordSecondaryMatch(result string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.matches = append(r.matches, result)
}

func testRefreshConfig() config.RefreshConfig {
	return config.RefreshConfig{
		Interval:            time.Hour,
		Pages:               2,
		PageSize:            5,
		ContinueOnPageError: true,
		SessionCookie:       "pc_session",
	}
}

func listing(id, title string) models.Listing {
	return models.Listing{ID: id, Title: title, Price: decimal.RequireFromString("19.99")}
}

func TestRefreshService_Refresh_SavesListingsWithCategory(t *testing.T) {
	searcher := new(MockSearcher)
	store := new(MockStore)
	metrics := &recordingMetrics{}

	searcher.On("SearchPages", mock.Anything, "home kitchen appliances", 2, 5, paapi.ContinueOnPageError).
		Return(&paapi.PagedResult{
			Listings: []models.Listing{listing("B01", "Kettle"), listing("B02", "Toaster")},
			Pages:    2,
		}, nil)
	store.On("UpsertAmazonProduct", mock.Anything, mock.MatchedBy(func(l models.Listing) bool {
		return l.Category == models.CategoryHomeKitchen
	})).Return(nil).Twice()

	service := NewService(searcher, store, testRefreshConfig(), zap.NewNop(), WithMetrics(metrics))

	result, err := service.Refresh(context.Background(), models.CategoryHomeKitchen)

	require.NoError(t, err)
	assert.True(t, result.Success())
	assert.Equal(t, 2, result.Found)
	assert.Equal(t, 2, result.Saved)
	assert.Equal(t, 0, result.Matched)
	assert.Equal(t, "home kitchen appliances", result.Keywords)
	assert.Equal(t, []string{"2:success"}, metrics.refresh)
	assert.Equal(t, 2, metrics.saved["2"])
	searcher.AssertExpectations(t)
	store.AssertExpectations(t)
}

func TestRefreshService_Refresh_UnknownCategoryUsesGeneral(t *testing.T) {
	searcher := new(MockSearcher)
	store := new(MockStore)

	searcher.On("SearchPages", mock.Anything, "general", 2, 5, paapi.ContinueOnPageError).
		Return(&paapi.PagedResult{Listings: []models.Listing{listing("B01", "Thing")}, Pages: 2}, nil)
	store.On("UpsertAmazonProduct", mock.Anything, mock.Anything).Return(nil)

	service := NewService(searcher, store, testRefreshConfig(), zap.NewNop())

	result, err := service.Refresh(context.Background(), 42)

	require.NoError(t, err)
	assert.Equal(t, 1, result.Saved)
	assert.Equal(t, 42, store.Calls[0].Arguments.Get(1).(models.Listing).Category)
}

func TestRefreshService_Refresh_PartialPagesStillSucceed(t *testing.T) {
	searcher := new(MockSearcher)
	store := new(MockStore)
	metrics := &recordingMetrics{}

	pageErr := paapi.PageError{Page: 2, Err: domainErrors.NewRateLimitError([]byte("throttled"))}
	searcher.On("SearchPages", mock.Anything, mock.Anything, 2, 5, paapi.ContinueOnPageError).
		Return(&paapi.PagedResult{
			Listings: []models.Listing{listing("B01", "Laptop")},
			Errors:   []paapi.PageError{pageErr},
			Pages:    2,
		}, nil)
	store.On("UpsertAmazonProduct", mock.Anything, mock.Anything).Return(nil)

	service := NewService(searcher, store, testRefreshConfig(), zap.NewNop(), WithMetrics(metrics))

	result, err := service.Refresh(context.Background(), models.CategoryElectronics)

	require.NoError(t, err)
	assert.True(t, result.Success())
	assert.Len(t, result.PageErrors, 1)
	assert.Equal(t, []string{"1:partial"}, metrics.refresh)
}

func TestRefreshService_Refresh_NothingSavedFails(t *testing.T) {
	searcher := new(MockSearcher)
	store := new(MockStore)
	metrics := &recordingMetrics{}

	cause := domainErrors.NewTransientNetworkError(503, []byte("down"), nil)
	searcher.On("SearchPages", mock.Anything, mock.Anything, mock.Anything, mock.Anything, mock.Anything).
		Return(&paapi.PagedResult{
			Listings: []models.Listing{},
			Errors:   []paapi.PageError{{Page: 1, Err: cause}, {Page: 2, Err: cause}},
			Pages:    2,
		}, nil)

	service := NewService(searcher, store, testRefreshConfig(), zap.NewNop(), WithMetrics(metrics))

	result, err := service.Refresh(context.Background(), models.CategoryFashion)

	require.Error(t, err)
	assert.False(t, result.Success())
	assert.True(t, domainErrors.HasCode(err, domainErrors.CodeUnavailable))
	assert.ErrorIs(t, err, cause)
	assert.Equal(t, []string{"3:failure"}, metrics.refresh)
	store.AssertNotCalled(t, "UpsertAmazonProduct", mock.Anything, mock.Anything)
}

func TestRefreshService_Refresh_StoreFailuresSkipListing(t *testing.T) {
	searcher := new(MockSearcher)
	store := new(MockStore)

	searcher.On("SearchPages", mock.Anything, mock.Anything, mock.Anything, mock.Anything, mock.Anything).
		Return(&paapi.PagedResult{Listings: []models.Listing{listing("B01", "A"), listing("B02", "B")}, Pages: 2}, nil)
	store.On("UpsertAmazonProduct", mock.Anything, mock.MatchedBy(func(l models.Listing) bool { return l.ID == "B01" })).
		Return(errors.New("disk full"))
	store.On("UpsertAmazonProduct", mock.Anything, mock.MatchedBy(func(l models.Listing) bool { return l.ID == "B02" })).
		Return(nil)

	service := NewService(searcher, store, testRefreshConfig(), zap.NewNop())

	result, err := service.Refresh(context.Background(), models.CategoryElectronics)

	require.NoError(t, err)
	assert.Equal(t, 2, result.Found)
	assert.Equal(t, 1, result.Saved)
}

func TestRefreshService_Refresh_AbortPolicyFromConfig(t *testing.T) {
	searcher := new(MockSearcher)
	store := new(MockStore)

	cfg := testRefreshConfig()
	cfg.ContinueOnPageError = false

	abortErr := paapi.PageError{Page: 1, Err: domainErrors.NewAuthenticationError(403, []byte("denied"))}
	searcher.On("SearchPages", mock.Anything, mock.Anything, 2, 5, paapi.AbortOnPageError).
		Return(&paapi.PagedResult{Listings: []models.Listing{}, Pages: 1}, abortErr)

	service := NewService(searcher, store, cfg, zap.NewNop())

	result, err := service.Refresh(context.Background(), models.CategoryElectronics)

	require.Error(t, err)
	assert.True(t, domainErrors.HasCode(err, domainErrors.CodeAuthentication))
	assert.Equal(t, 1, result.Pages)
	searcher.AssertExpectations(t)
}

func TestRefreshService_Refresh_SecondaryMatches(t *testing.T) {
	searcher := new(MockSearcher)
	store := new(MockStore)
	matcher := new(MockMatcher)
	metrics := &recordingMetrics{}

	searcher.On("SearchPages", mock.Anything, mock.Anything, mock.Anything, mock.Anything, mock.Anything).
		Return(&paapi.PagedResult{
			Listings: []models.Listing{listing("B01", "Laptop Stand"), listing("B02", "Obscure"), listing("B03", "Broken")},
			Pages:    2,
		}, nil)
	store.On("UpsertAmazonProduct", mock.Anything, mock.Anything).Return(nil)

	stand := &models.SecondaryMatch{ID: "1005001", Price: decimal.RequireFromString("9.99"), Title: "Laptop Stand"}
	matcher.On("FindMatch", mock.Anything, "Laptop Stand").Return(stand, nil)
	matcher.On("FindMatch", mock.Anything, "Obscure").Return(nil, nil)
	matcher.On("FindMatch", mock.Anything, "Broken").Return(nil, errors.New("circuit breaker is open"))
	store.On("UpdateSecondaryMatch", mock.Anything, "B01", *stand).Return(nil)

	service := NewService(searcher, store, testRefreshConfig(), zap.NewNop(),
		WithMatcher(matcher),
		WithMetrics(metrics),
		WithMatchConcurrency(2),
	)

	result, err := service.Refresh(context.Background(), models.CategoryElectronics)

	require.NoError(t, err)
	assert.Equal(t, 3, result.Saved)
	assert.Equal(t, 1, result.Matched)
	assert.ElementsMatch(t, []string{"matched", "none", "error"}, metrics.matches)
	matcher.AssertExpectations(t)
	store.AssertNumberOfCalls(t, "UpdateSecondaryMatch", 1)
}

func TestRefreshService_Refresh_SharesInFlightRun(t *testing.T) {
	searcher := new(MockSearcher)
	store := new(MockStore)

	release := make(chan time.Time)
	searcher.On("SearchPages", mock.Anything, mock.Anything, mock.Anything, mock.Anything, mock.Anything).
		WaitUntil(release).
		Return(&paapi.PagedResult{Listings: []models.Listing{listing("B01", "A")}, Pages: 2}, nil).
		Once()
	store.On("UpsertAmazonProduct", mock.Anything, mock.Anything).Return(nil)

	service := NewService(searcher, store, testRefreshConfig(), zap.NewNop())

	const callers = 3
	var wg sync.WaitGroup
	results := make([]*Result, callers)
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			res, err := service.Refresh(context.Background(), models.CategoryElectronics)
			assert.NoError(t, err)
			results[i] = res
		}(i)
	}

	// let every caller reach the singleflight group before the search returns
	time.Sleep(50 * time.Millisecond)
	close(release)
	wg.Wait()

	searcher.AssertNumberOfCalls(t, "SearchPages", 1)
	for _, res := range results {
		assert.Equal(t, 1, res.Saved)
	}
}

func TestRefreshService_Refresh_SurvivesFirstCallerCancel(t *testing.T) {
	searcher := new(MockSearcher)
	store := new(MockStore)

	release := make(chan time.Time)
	searcher.On("SearchPages", mock.Anything, mock.Anything, mock.Anything, mock.Anything, mock.Anything).
		WaitUntil(release).
		Run(func(args mock.Arguments) {
			runCtx := args.Get(0).(context.Context)
			assert.NoError(t, runCtx.Err())
			_, hasDeadline := runCtx.Deadline()
			assert.True(t, hasDeadline)
		}).
		Return(&paapi.PagedResult{Listings: []models.Listing{listing("B01", "A")}, Pages: 2}, nil).
		Once()
	store.On("UpsertAmazonProduct", mock.Anything, mock.Anything).Return(nil)

	service := NewService(searcher, store, testRefreshConfig(), zap.NewNop(), WithRunTimeout(time.Minute))

	firstCtx, cancel := context.WithCancel(context.Background())
	firstErr := make(chan error, 1)
	go func() {
		_, err := service.Refresh(firstCtx, models.CategoryElectronics)
		firstErr <- err
	}()
	time.Sleep(20 * time.Millisecond)

	type outcome struct {
		res *Result
		err error
	}
	second := make(chan outcome, 1)
	go func() {
		res, err := service.Refresh(context.Background(), models.CategoryElectronics)
		second <- outcome{res, err}
	}()
	time.Sleep(20 * time.Millisecond)

	cancel()
	assert.ErrorIs(t, <-firstErr, context.Canceled)

	close(release)
	got := <-second
	require.NoError(t, got.err)
	assert.Equal(t, 1, got.res.Saved)
	searcher.AssertNumberOfCalls(t, "SearchPages", 1)
}

func TestRefreshService_Refresh_RecordsSpan(t *testing.T) {
	recorder := tracetest.NewSpanRecorder()
	tp := sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(recorder))
	defer func() { _ = tp.Shutdown(context.Background()) }()

	searcher := new(MockSearcher)
	store := new(MockStore)
	searcher.On("SearchPages", mock.Anything, mock.Anything, mock.Anything, mock.Anything, mock.Anything).
		Return(&paapi.PagedResult{Listings: []models.Listing{}, Pages: 2}, nil)

	service := NewService(searcher, store, testRefreshConfig(), zap.NewNop(),
		WithTracing(tracing.NewServiceWithProvider(tp, "test")),
	)

	_, err := service.Refresh(context.Background(), models.CategoryElectronics)
	require.Error(t, err)

	spans := recorder.Ended()
	require.Len(t, spans, 1)
	assert.Equal(t, "refresh.category", spans[0].Name())
	assert.NotEmpty(t, spans[0].Events())
}
