package web

import (
	"context"
	"time"

	"github.com/xsamir/ProductCompare/internal/models"
	"github.com/xsamir/ProductCompare/internal/services/refresh"
)

// Refresher updates the stored catalogue for a category
type Refresher interface {
	Refresh(ctx context.Context, categoryID int) (*refresh.Result, error)
}

// ProductLister reads stored comparisons
type ProductLister interface {
	ListByCategory(ctx context.Context, categoryID int) ([]models.Product, error)
}

// RefreshThrottle tracks per-session refresh timing
type RefreshThrottle interface {
	Due(ctx context.Context, sessionID string) (bool, error)
	MarkRefreshed(ctx context.Context, sessionID string) error
	LastRefresh(ctx context.Context, sessionID string) (time.Time, bool, error)
}

// Pinger checks a backing store is reachable
type Pinger interface {
	Ping(ctx context.Context) error
}
