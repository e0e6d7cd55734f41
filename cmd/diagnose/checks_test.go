package main

import (
	"bytes"
	"context"
	"errors"
	"testing"
	"time"

	"github.com/xsamir/ProductCompare/internal/config"
	"github.com/xsamir/ProductCompare/internal/models"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
)

type MockStore struct {
	mock.Mock
}

func (m *MockStore) Ping(ctx context.Context) error {
	return m.Called(ctx).Error(0)
}

func (m *MockStore) TableExists(ctx context.Context) (bool, error) {
	args := m.Called(ctx)
	return args.Bool(0), args.Error(1)
}

func (m *MockStore) UpsertAmazonProduct(ctx context.Context, listing models.Listing) error {
	return m.Called(ctx, listing).Error(0)
}

func (m *MockStore) ListByCategory(ctx context.Context, categoryID int) ([]models.Product, error) {
	args := m.Called(ctx, categoryID)
	products, _ := args.Get(0).([]models.Product)
	return products, args.Error(1)
}

type MockSearcher struct {
	mock.Mock
}

func (m *MockSearcher) Search(ctx context.Context, keywords string, page, pageSize int) ([]models.Listing, error) {
	args := m.Called(ctx, keywords, page, pageSize)
	listings, _ := args.Get(0).([]models.Listing)
	return listings, args.Error(1)
}

func newChecker(store productStore, search searcher, out *bytes.Buffer) *checker {
	return &checker{
		out:    out,
		store:  store,
		search: search,
		paapi: config.PAAPIConfig{
			AccessKey:  "AKIAEXAMPLEKEY",
			SecretKey:  "super-secret",
			PartnerTag: "mytag-20",
		},
		keywords: "laptop",
		now:      func() time.Time { return time.Date(2024, 1, 15, 10, 30, 0, 0, time.UTC) },
	}
}

func TestChecker_AllPass(t *testing.T) {
	store := new(MockStore)
	search := new(MockSearcher)
	var out bytes.Buffer

	store.On("Ping", mock.Anything).Return(nil)
	store.On("TableExists", mock.Anything).Return(true, nil)
	search.On("Search", mock.Anything, "laptop", 1, 1).Return([]models.Listing{{
		ID:    "B0TEST1234",
		Title: "Test Laptop",
		Price: decimal.RequireFromString("99.9"),
	}}, nil)

	failed := newChecker(store, search, &out).run(context.Background(), false)

	assert.Equal(t, 0, failed)
	report := out.String()
	assert.Contains(t, report, "✓ Database connection successful")
	assert.Contains(t, report, "✓ Products table exists")
	assert.Contains(t, report, "Access Key: AKIAE...")
	assert.NotContains(t, report, "AKIAEXAMPLEKEY")
	assert.NotContains(t, report, "super-secret")
	assert.Contains(t, report, "Secret Key: Present")
	assert.Contains(t, report, "Partner Tag: mytag-20")
	assert.Contains(t, report, "✓ Found 1 items")
	assert.Contains(t, report, "Price: 99.90")
	assert.Contains(t, report, "all checks passed")
	store.AssertNotCalled(t, "UpsertAmazonProduct", mock.Anything, mock.Anything)
}

func TestChecker_MissingTableAndCredentials(t *testing.T) {
	store := new(MockStore)
	search := new(MockSearcher)
	var out bytes.Buffer

	store.On("Ping", mock.Anything).Return(nil)
	store.On("TableExists", mock.Anything).Return(false, nil)
	search.On("Search", mock.Anything, mock.Anything, 1, 1).Return([]models.Listing{}, nil)

	c := newChecker(store, search, &out)
	c.paapi.SecretKey = ""

	failed := c.run(context.Background(), false)

	assert.Equal(t, 3, failed)
	assert.Contains(t, out.String(), "✗ Products table does not exist!")
	assert.Contains(t, out.String(), "Secret Key: ✗ NOT SET")
	assert.Contains(t, out.String(), "✗ No items in response")
}

func TestChecker_DatabaseDownAndSearchFails(t *testing.T) {
	store := new(MockStore)
	search := new(MockSearcher)
	var out bytes.Buffer

	store.On("Ping", mock.Anything).Return(errors.New("connection refused"))
	search.On("Search", mock.Anything, mock.Anything, 1, 1).Return(nil, errors.New("[70002] authentication failed"))

	failed := newChecker(store, search, &out).run(context.Background(), false)

	assert.Equal(t, 2, failed)
	assert.Contains(t, out.String(), "✗ Database connection failed: connection refused")
	assert.Contains(t, out.String(), "✗ API Request failed:")
	store.AssertNotCalled(t, "TableExists", mock.Anything)
}

// memoryStore keeps upserted listings so the read-back check can find them.
type memoryStore struct {
	saved  []models.Listing
	hidden bool
}

func (m *memoryStore) Ping(context.Context) error                { return nil }
func (m *memoryStore) TableExists(context.Context) (bool, error) { return true, nil }

func (m *memoryStore) UpsertAmazonProduct(_ context.Context, l models.Listing) error {
	m.saved = append(m.saved, l)
	return nil
}

func (m *memoryStore) ListByCategory(_ context.Context, categoryID int) ([]models.Product, error) {
	if m.hidden {
		return []models.Product{}, nil
	}
	var out []models.Product
	for _, l := range m.saved {
		if l.Category == categoryID {
			out = append(out, models.Product{AmazonID: l.ID, CategoryID: l.Category})
		}
	}
	return out, nil
}

func TestChecker_WriteTest(t *testing.T) {
	search := new(MockSearcher)
	search.On("Search", mock.Anything, mock.Anything, 1, 1).Return([]models.Listing{{ID: "B01"}}, nil)

	t.Run("verified", func(t *testing.T) {
		store := &memoryStore{}
		var out bytes.Buffer

		failed := newChecker(store, search, &out).run(context.Background(), true)

		assert.Equal(t, 0, failed)
		assert.Contains(t, out.String(), "✓ Test product saved successfully")
		assert.Contains(t, out.String(), "✓ Test product verified in database")
		if assert.Len(t, store.saved, 1) {
			assert.Regexp(t, `^B0TEST`, store.saved[0].ID)
			assert.Equal(t, "Test Product 2024-01-15 10:30:00", store.saved[0].Title)
		}
	})

	t.Run("not read back", func(t *testing.T) {
		store := &memoryStore{hidden: true}
		var out bytes.Buffer

		failed := newChecker(store, search, &out).run(context.Background(), true)

		assert.Equal(t, 1, failed)
		assert.Contains(t, out.String(), "✗ Could not verify test product in database")
	})
}

func TestMaskKey(t *testing.T) {
	assert.Equal(t, "AKIAE...", maskKey("AKIAEXAMPLE"))
	assert.Equal(t, "A...", maskKey("AKI"))
	assert.Equal(t, "✗ NOT SET", maskKey(""))
}
