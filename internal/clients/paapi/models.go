package paapi

import (
	"encoding/json"
	"strings"

	"github.com/xsamir/ProductCompare/internal/models"
	"github.com/xsamir/ProductCompare/pkg/errors"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

const (
	searchItemsPath   = "/paapi5/searchitems"
	searchItemsTarget = "com.amazon.paapi5.v1.ProductAdvertisingAPIv1.SearchItems"
	contentEncoding   = "amz-1.0"
	contentType       = "application/json; charset=utf-8"

	partnerType  = "Associates"
	operation    = "SearchItems"
	availability = "Available"

	MaxPageSize = 10
)

var searchResources = []string{
	"Images.Primary.Large",
	"ItemInfo.Title",
	"Offers.Listings.Price",
	"DetailPageURL",
}

// Credentials identify the PA-API account. They are copied into the client
// at construction and never change afterwards.
type Credentials struct {
	AccessKey  string
	SecretKey  string
	PartnerTag string
}

// SearchItemsPayload is the SearchItems request body. Field order is the
// serialization order, so identical searches hash identically.
type SearchItemsPayload struct {
	PartnerTag            string   `json:"PartnerTag"`
	PartnerType           string   `json:"PartnerType"`
	Operation             string   `json:"Operation"`
	Keywords              string   `json:"Keywords"`
	SearchIndex           string   `json:"SearchIndex"`
	ItemCount             int      `json:"ItemCount"`
	ItemPage              int      `json:"ItemPage,omitempty"`
	Resources             []string `json:"Resources"`
	Availability          string   `json:"Availability"`
	CurrencyOfPreference  string   `json:"CurrencyOfPreference"`
	LanguagesOfPreference []string `json:"LanguagesOfPreference"`
	Marketplace           string   `json:"Marketplace"`
}

type searchItemsResponse struct {
	SearchResult *searchResult `json:"SearchResult"`
	Errors       []apiError    `json:"Errors"`
}

type searchResult struct {
	TotalResultCount int    `json:"TotalResultCount"`
	Items            []item `json:"Items"`
}

type apiError struct {
	Code    string `json:"Code"`
	Message string `json:"Message"`
}

type item struct {
	ASIN          string `json:"ASIN"`
	DetailPageURL string `json:"DetailPageURL"`
	Images        struct {
		Primary struct {
			Large struct {
				URL string `json:"URL"`
			} `json:"Large"`
		} `json:"Primary"`
	} `json:"Images"`
	ItemInfo struct {
		Title struct {
			DisplayValue string `json:"DisplayValue"`
		} `json:"Title"`
	} `json:"ItemInfo"`
	Offers struct {
		Listings []struct {
			Price struct {
				Amount   decimal.Decimal `json:"Amount"`
				Currency string          `json:"Currency"`
			} `json:"Price"`
		} `json:"Listings"`
	} `json:"Offers"`
}

func (it item) listing() models.Listing {
	l := models.Listing{
		ID:        it.ASIN,
		Title:     it.ItemInfo.Title.DisplayValue,
		ImageURL:  it.Images.Primary.Large.URL,
		DetailURL: it.DetailPageURL,
	}
	if len(it.Offers.Listings) > 0 {
		l.Price = it.Offers.Listings[0].Price.Amount
	}
	return l
}

// parseSearchResponse decodes a SearchItems body. A well-formed body without
// SearchResult yields no listings; items lacking an ASIN are dropped.
func parseSearchResponse(body []byte, logger *zap.Logger) ([]models.Listing, error) {
	var resp searchItemsResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, errors.NewMalformedResponseError(body, err)
	}

	if len(resp.Errors) > 0 {
		codes := make([]string, 0, len(resp.Errors))
		for _, e := range resp.Errors {
			codes = append(codes, e.Code)
		}
		logger.Warn("search response carried errors", zap.String("codes", strings.Join(codes, ",")))
	}

	if resp.SearchResult == nil {
		return []models.Listing{}, nil
	}

	listings := make([]models.Listing, 0, len(resp.SearchResult.Items))
	for i, it := range resp.SearchResult.Items {
		if it.ASIN == "" {
			logger.Warn("skipping search item without ASIN", zap.Int("index", i))
			continue
		}
		listings = append(listings, it.listing())
	}
	return listings, nil
}
