// Package aliexpress looks up the closest secondary-marketplace listing for a
// product title.
package aliexpress

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"regexp"
	"strings"

	"github.com/xsamir/ProductCompare/internal/config"
	"github.com/xsamir/ProductCompare/internal/models"
	"github.com/xsamir/ProductCompare/internal/services/circuitbreaker"

	"github.com/go-resty/resty/v2"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

const searchPath = "/v2/products/search"

var (
	trailingQualifier = regexp.MustCompile(`(?i)\b(?:by|from|with)\b.*$`)
	nonWord           = regexp.MustCompile(`[^\w\s]`)
	whitespaceRun     = regexp.MustCompile(`\s+`)
)

// CleanTitle reduces a listing title to search keywords: the "by/from/with ..."
// tail is dropped, punctuation becomes spaces and whitespace is collapsed.
func CleanTitle(title string) string {
	title = trailingQualifier.ReplaceAllString(title, "")
	title = nonWord.ReplaceAllString(title, " ")
	return strings.TrimSpace(whitespaceRun.ReplaceAllString(title, " "))
}

type searchResponse struct {
	Items []searchItem `json:"items"`
}

type searchItem struct {
	ProductID  flexibleID      `json:"product_id"`
	Price      decimal.Decimal `json:"price"`
	Title      string          `json:"title"`
	ImageURL   string          `json:"image_url"`
	ProductURL string          `json:"product_url"`
}

// flexibleID accepts both quoted and bare numeric ids.
type flexibleID string

func (f *flexibleID) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if bytes.Equal(data, []byte("null")) {
		*f = ""
		return nil
	}
	if len(data) > 0 && data[0] == '"' {
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		*f = flexibleID(s)
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(data, &n); err != nil {
		return err
	}
	*f = flexibleID(n.String())
	return nil
}

type Client struct {
	http    *resty.Client
	apiKey  string
	breaker *circuitbreaker.CircuitBreaker
	logger  *zap.Logger
}

func NewClient(cfg config.AliExpressConfig, breaker *circuitbreaker.CircuitBreaker, logger *zap.Logger) *Client {
	if logger == nil {
		logger = zap.NewNop()
	}
	if breaker == nil {
		breaker = circuitbreaker.NewCircuitBreaker("aliexpress", circuitbreaker.DefaultConfig(), nil)
	}
	httpClient := resty.New().
		SetBaseURL(strings.TrimRight(cfg.BaseURL, "/")).
		SetTimeout(cfg.Timeout).
		SetHeader("Accept", "application/json").
		SetHeader("User-Agent", "PriceCompare/1.0")

	return &Client{
		http:    httpClient,
		apiKey:  cfg.APIKey,
		breaker: breaker,
		logger:  logger,
	}
}

// FindMatch searches by the cleaned title and returns the first hit as the
// best match, or nil when nothing was found.
func (c *Client) FindMatch(ctx context.Context, title string) (*models.SecondaryMatch, error) {
	keywords := CleanTitle(title)
	if keywords == "" {
		return nil, nil
	}

	return circuitbreaker.Do(ctx, c.breaker, func(ctx context.Context) (*models.SecondaryMatch, error) {
		return c.search(ctx, keywords)
	})
}

func (c *Client) search(ctx context.Context, keywords string) (*models.SecondaryMatch, error) {
	var result searchResponse
	resp, err := c.http.R().
		SetContext(ctx).
		SetQueryParam("keywords", keywords).
		SetQueryParam("api_key", c.apiKey).
		SetResult(&result).
		Get(searchPath)
	if err != nil {
		return nil, fmt.Errorf("aliexpress search request failed: %w", err)
	}
	if resp.IsError() {
		return nil, fmt.Errorf("aliexpress search error (status %d): %s", resp.StatusCode(), resp.String())
	}

	if len(result.Items) == 0 {
		c.logger.Debug("no aliexpress match", zap.String("keywords", keywords))
		return nil, nil
	}

	best := result.Items[0]
	if best.ProductID == "" {
		return nil, nil
	}
	return &models.SecondaryMatch{
		ID:        string(best.ProductID),
		Price:     best.Price,
		Title:     best.Title,
		ImageURL:  best.ImageURL,
		DetailURL: best.ProductURL,
	}, nil
}
