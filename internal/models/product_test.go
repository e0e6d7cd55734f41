package models

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestCategoryKeywords(t *testing.T) {
	tests := []struct {
		id       int
		expected string
	}{
		{CategoryElectronics, "electronics computers"},
		{CategoryHomeKitchen, "home kitchen appliances"},
		{CategoryFashion, "fashion clothing accessories"},
		{0, "general"},
		{42, "general"},
	}

	for _, tt := range tests {
		assert.Equal(t, tt.expected, CategoryKeywords(tt.id))
	}
}

func TestCategories_ReturnsCopy(t *testing.T) {
	list := Categories()
	list[0].Name = "changed"

	assert.Equal(t, "Electronics", Categories()[0].Name)
	assert.Len(t, Categories(), 3)
}

func TestProduct_HasSecondary(t *testing.T) {
	assert.False(t, (&Product{}).HasSecondary())
	assert.False(t, (&Product{Secondary: &SecondaryMatch{}}).HasSecondary())
	assert.True(t, (&Product{Secondary: &SecondaryMatch{ID: "100500"}}).HasSecondary())
}
