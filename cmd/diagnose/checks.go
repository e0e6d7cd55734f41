package main

import (
	"context"
	"fmt"
	"io"
	"time"

	"github.com/xsamir/ProductCompare/internal/config"
	"github.com/xsamir/ProductCompare/internal/models"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

const (
	passMark = "✓"
	failMark = "✗"
)

type productStore interface {
	Ping(ctx context.Context) error
	TableExists(ctx context.Context) (bool, error)
	UpsertAmazonProduct(ctx context.Context, listing models.Listing) error
	ListByCategory(ctx context.Context, categoryID int) ([]models.Product, error)
}

type searcher interface {
	Search(ctx context.Context, keywords string, page, pageSize int) ([]models.Listing, error)
}

// checker runs the installation checks and prints a human-readable report.
type checker struct {
	out      io.Writer
	store    productStore
	search   searcher
	paapi    config.PAAPIConfig
	keywords string
	now      func() time.Time
}

// run executes every check and returns the number that failed.
func (c *checker) run(ctx context.Context, writeTest bool) int {
	fmt.Fprintln(c.out, "Testing PA-API Integration")
	fmt.Fprintln(c.out, "------------------------")

	failed := 0
	failed += c.checkDatabase(ctx)
	failed += c.checkCredentials()
	failed += c.checkSearch(ctx)
	if writeTest {
		failed += c.checkInsert(ctx)
	}

	fmt.Fprintln(c.out)
	if failed == 0 {
		fmt.Fprintf(c.out, "%s all checks passed\n", passMark)
	} else {
		fmt.Fprintf(c.out, "%s %d check(s) failed\n", failMark, failed)
	}
	return failed
}

func (c *checker) checkDatabase(ctx context.Context) int {
	fmt.Fprintln(c.out, "\n1. Testing Database Connection...")
	if c.store == nil {
		fmt.Fprintf(c.out, "%s Database connection failed!\n", failMark)
		return 1
	}
	if err := c.store.Ping(ctx); err != nil {
		fmt.Fprintf(c.out, "%s Database connection failed: %v\n", failMark, err)
		return 1
	}
	fmt.Fprintf(c.out, "%s Database connection successful\n", passMark)

	exists, err := c.store.TableExists(ctx)
	switch {
	case err != nil:
		fmt.Fprintf(c.out, "%s Could not check products table: %v\n", failMark, err)
		return 1
	case !exists:
		fmt.Fprintf(c.out, "%s Products table does not exist!\n", failMark)
		return 1
	}
	fmt.Fprintf(c.out, "%s Products table exists\n", passMark)
	return 0
}

func (c *checker) checkCredentials() int {
	fmt.Fprintln(c.out, "\n2. Testing PA-API Credentials...")
	failed := 0

	fmt.Fprintf(c.out, "Access Key: %s\n", maskKey(c.paapi.AccessKey))
	if c.paapi.AccessKey == "" {
		failed = 1
	}
	if c.paapi.SecretKey != "" {
		fmt.Fprintln(c.out, "Secret Key: Present")
	} else {
		fmt.Fprintf(c.out, "Secret Key: %s NOT SET\n", failMark)
		failed = 1
	}
	if c.paapi.PartnerTag != "" {
		fmt.Fprintf(c.out, "Partner Tag: %s\n", c.paapi.PartnerTag)
	} else {
		fmt.Fprintf(c.out, "Partner Tag: %s NOT SET\n", failMark)
		failed = 1
	}
	return failed
}

func (c *checker) checkSearch(ctx context.Context) int {
	fmt.Fprintln(c.out, "\n3. Making Test API Request...")
	if c.search == nil {
		fmt.Fprintf(c.out, "%s API Request skipped: client not configured\n", failMark)
		return 1
	}

	fmt.Fprintln(c.out, "Sending request...")
	listings, err := c.search.Search(ctx, c.keywords, 1, 1)
	if err != nil {
		fmt.Fprintf(c.out, "%s API Request failed:\n%v\n", failMark, err)
		return 1
	}

	fmt.Fprintln(c.out, "Response received!")
	if len(listings) == 0 {
		fmt.Fprintf(c.out, "%s No items in response\n", failMark)
		return 1
	}
	fmt.Fprintf(c.out, "%s Found %d items\n", passMark, len(listings))

	first := listings[0]
	fmt.Fprintln(c.out, "\nFirst item details:")
	fmt.Fprintf(c.out, "  ASIN:  %s\n", first.ID)
	fmt.Fprintf(c.out, "  Title: %s\n", first.Title)
	fmt.Fprintf(c.out, "  Price: %s\n", first.Price.StringFixed(2))
	fmt.Fprintf(c.out, "  Image: %s\n", first.ImageURL)
	fmt.Fprintf(c.out, "  URL:   %s\n", first.DetailURL)
	return 0
}

func (c *checker) checkInsert(ctx context.Context) int {
	fmt.Fprintln(c.out, "\n4. Testing Database Insert...")
	if c.store == nil {
		fmt.Fprintf(c.out, "%s Database test skipped: no connection\n", failMark)
		return 1
	}

	test := models.Listing{
		ID:        "B0TEST" + uuid.New().String()[:4],
		Price:     decimal.RequireFromString("99.99"),
		Title:     "Test Product " + c.now().Format("2006-01-02 15:04:05"),
		ImageURL:  "https://example.com/test.jpg",
		DetailURL: "https://amazon.com/test",
		Category:  models.CategoryElectronics,
	}
	if err := c.store.UpsertAmazonProduct(ctx, test); err != nil {
		fmt.Fprintf(c.out, "%s Failed to save test product: %v\n", failMark, err)
		return 1
	}
	fmt.Fprintf(c.out, "%s Test product saved successfully\n", passMark)

	stored, err := c.store.ListByCategory(ctx, test.Category)
	if err != nil {
		fmt.Fprintf(c.out, "%s Database test failed:\n%v\n", failMark, err)
		return 1
	}
	for _, p := range stored {
		if p.AmazonID == test.ID {
			fmt.Fprintf(c.out, "%s Test product verified in database\n", passMark)
			return 0
		}
	}
	fmt.Fprintf(c.out, "%s Could not verify test product in database\n", failMark)
	return 1
}

// maskKey shows the first five characters of a credential.
func maskKey(key string) string {
	if key == "" {
		return failMark + " NOT SET"
	}
	if len(key) <= 5 {
		return key[:1] + "..."
	}
	return key[:5] + "..."
}
