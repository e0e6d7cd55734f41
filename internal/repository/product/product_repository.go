package product

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/xsamir/ProductCompare/internal/models"
	"github.com/xsamir/ProductCompare/pkg/errors"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

const queryTimeout = 2 * time.Second

// DBClient interface for database operations
type DBClient interface {
	ExecContext(ctx context.Context, query string, args ...interface{}) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...interface{}) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...interface{}) *sql.Row
	PingContext(ctx context.Context) error
}

type QueryRecorder interface {
	RecordDBQueryDuration(query string, duration time.Duration)
}

// Repository stores comparison rows in the products table
type Repository struct {
	db      DBClient
	metrics QueryRecorder
	logger  *zap.Logger
}

func NewRepository(db DBClient, metrics QueryRecorder, logger *zap.Logger) *Repository {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Repository{
		db:      db,
		metrics: metrics,
		logger:  logger,
	}
}

// UpsertAmazonProduct inserts a listing or refreshes its price, title, image
// and url when the ASIN is already stored. Category is set on insert only.
func (r *Repository) UpsertAmazonProduct(ctx context.Context, listing models.Listing) error {
	if listing.ID == "" {
		return errors.NewDomainError(errors.CodeValidation, "invalid product", "missing ASIN")
	}

	ctx, cancel := context.WithTimeout(ctx, queryTimeout)
	defer cancel()
	defer r.observe("upsert_product", time.Now())

	query := `INSERT INTO products (
		amazon_product_id, amazon_price, amazon_title,
		amazon_image, amazon_url, category_id
	) VALUES ($1, $2, $3, $4, $5, $6)
	ON CONFLICT (amazon_product_id) DO UPDATE SET
		amazon_price = EXCLUDED.amazon_price,
		amazon_title = EXCLUDED.amazon_title,
		amazon_image = EXCLUDED.amazon_image,
		amazon_url = EXCLUDED.amazon_url,
		updated_at = CURRENT_TIMESTAMP`

	_, err := r.db.ExecContext(ctx, query,
		listing.ID,
		listing.Price,
		listing.Title,
		listing.ImageURL,
		listing.DetailURL,
		listing.Category,
	)
	if err != nil {
		r.logger.Error("failed to upsert product", zap.Error(err), zap.String("asin", listing.ID))
		return errors.WrapDomainError(err, errors.CodeInternal, "product storage failed", "database error")
	}

	r.logger.Debug("product upserted",
		zap.String("asin", listing.ID),
		zap.Int("category_id", listing.Category),
	)
	return nil
}

// UpdateSecondaryMatch attaches the secondary marketplace match to a stored
// product.
func (r *Repository) UpdateSecondaryMatch(ctx context.Context, amazonID string, match models.SecondaryMatch) error {
	ctx, cancel := context.WithTimeout(ctx, queryTimeout)
	defer cancel()
	defer r.observe("update_secondary", time.Now())

	query := `UPDATE products SET
		aliexpress_product_id = $1,
		aliexpress_price = $2,
		aliexpress_title = $3,
		aliexpress_image = $4,
		aliexpress_url = $5,
		updated_at = CURRENT_TIMESTAMP
	WHERE amazon_product_id = $6`

	res, err := r.db.ExecContext(ctx, query,
		match.ID,
		match.Price,
		match.Title,
		match.ImageURL,
		match.DetailURL,
		amazonID,
	)
	if err != nil {
		r.logger.Error("failed to update secondary match", zap.Error(err), zap.String("asin", amazonID))
		return errors.WrapDomainError(err, errors.CodeInternal, "product storage failed", "database error")
	}

	affected, err := res.RowsAffected()
	if err == nil && affected == 0 {
		return errors.NewDomainError(errors.CodeNotFound, "product not found", fmt.Sprintf("asin %s not found", amazonID))
	}
	return nil
}

// ListByCategory returns stored products for a category, most recently
// updated first.
func (r *Repository) ListByCategory(ctx context.Context, categoryID int) ([]models.Product, error) {
	ctx, cancel := context.WithTimeout(ctx, queryTimeout)
	defer cancel()
	defer r.observe("list_by_category", time.Now())

	query := `SELECT
		amazon_product_id, amazon_price, amazon_title, amazon_image, amazon_url, category_id,
		aliexpress_product_id, aliexpress_price, aliexpress_title, aliexpress_image, aliexpress_url,
		updated_at
	FROM products
	WHERE category_id = $1
	ORDER BY updated_at DESC, amazon_product_id`

	rows, err := r.db.QueryContext(ctx, query, categoryID)
	if err != nil {
		r.logger.Error("failed to list products", zap.Error(err), zap.Int("category_id", categoryID))
		return nil, errors.WrapDomainError(err, errors.CodeUnavailable, "product store unavailable", "database error")
	}
	defer rows.Close()

	products := []models.Product{}
	for rows.Next() {
		var (
			p        models.Product
			title    sql.NullString
			image    sql.NullString
			url      sql.NullString
			secID    sql.NullString
			secPrice decimal.NullDecimal
			secTitle sql.NullString
			secImage sql.NullString
			secURL   sql.NullString
		)
		if err := rows.Scan(
			&p.AmazonID, &p.AmazonPrice, &title, &image, &url, &p.CategoryID,
			&secID, &secPrice, &secTitle, &secImage, &secURL,
			&p.UpdatedAt,
		); err != nil {
			return nil, errors.WrapDomainError(err, errors.CodeInternal, "product row decode failed", "scan error")
		}
		p.AmazonTitle = title.String
		p.AmazonImage = image.String
		p.AmazonURL = url.String

		if secID.Valid && secID.String != "" {
			p.Secondary = &models.SecondaryMatch{
				ID:        secID.String,
				Price:     secPrice.Decimal,
				Title:     secTitle.String,
				ImageURL:  secImage.String,
				DetailURL: secURL.String,
			}
		}
		products = append(products, p)
	}
	if err := rows.Err(); err != nil {
		return nil, errors.WrapDomainError(err, errors.CodeUnavailable, "product store unavailable", "row iteration error")
	}
	return products, nil
}

func (r *Repository) Ping(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, queryTimeout)
	defer cancel()
	return r.db.PingContext(ctx)
}

// TableExists reports whether the products table is present.
func (r *Repository) TableExists(ctx context.Context) (bool, error) {
	ctx, cancel := context.WithTimeout(ctx, queryTimeout)
	defer cancel()

	var exists bool
	if err := r.db.QueryRowContext(ctx, `SELECT to_regclass('public.products') IS NOT NULL`).Scan(&exists); err != nil {
		return false, errors.WrapDomainError(err, errors.CodeUnavailable, "product store unavailable", "database error")
	}
	return exists, nil
}

func (r *Repository) observe(query string, start time.Time) {
	if r.metrics != nil {
		r.metrics.RecordDBQueryDuration(query, time.Since(start))
	}
}
