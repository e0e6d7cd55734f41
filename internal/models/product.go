package models

import (
	"time"

	"github.com/shopspring/decimal"
)

const (
	CategoryElectronics = 1
	CategoryHomeKitchen = 2
	CategoryFashion     = 3

	DefaultCategory = CategoryElectronics
)

// Category is a browsable product group and the search keywords used to
// populate it.
type Category struct {
	ID       int
	Name     string
	Keywords string
}

var categories = []Category{
	{ID: CategoryElectronics, Name: "Electronics", Keywords: "electronics computers"},
	{ID: CategoryHomeKitchen, Name: "Home & Kitchen", Keywords: "home kitchen appliances"},
	{ID: CategoryFashion, Name: "Fashion", Keywords: "fashion clothing accessories"},
}

// Categories returns the selectable categories in display order.
func Categories() []Category {
	out := make([]Category, len(categories))
	copy(out, categories)
	return out
}

// CategoryKeywords maps a category id to its search keywords. Unknown ids
// fall back to "general".
func CategoryKeywords(id int) string {
	for _, c := range categories {
		if c.ID == id {
			return c.Keywords
		}
	}
	return "general"
}

// Listing is one product returned by a search.
type Listing struct {
	ID        string          `json:"id"`
	Price     decimal.Decimal `json:"price"`
	Title     string          `json:"title"`
	ImageURL  string          `json:"image_url"`
	DetailURL string          `json:"detail_url"`
	Category  int             `json:"category"`
}

// SecondaryMatch is the best matching listing from the secondary marketplace.
type SecondaryMatch struct {
	ID        string          `json:"id"`
	Price     decimal.Decimal `json:"price"`
	Title     string          `json:"title"`
	ImageURL  string          `json:"image_url"`
	DetailURL string          `json:"detail_url"`
}

// Product is a stored comparison row.
type Product struct {
	AmazonID    string
	AmazonPrice decimal.Decimal
	AmazonTitle string
	AmazonImage string
	AmazonURL   string
	CategoryID  int

	Secondary *SecondaryMatch

	UpdatedAt time.Time
}

func (p Product) HasSecondary() bool {
	return p.Secondary != nil && p.Secondary.ID != ""
}
