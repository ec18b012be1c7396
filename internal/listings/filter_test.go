package listings

import (
	"testing"

	"tradepost/internal/models"
)

var sample = []models.Listing{
	{ID: "a", SellerID: "s1", Title: "Pallet jack", Description: "manual jack", Category: "warehouse",
		PriceCents: 32900, Stock: 40, Status: models.ListingStatusActive, CreatedAt: 100, UpdatedAt: 400},
	{ID: "b", SellerID: "s1", Title: "Stretch film", Description: "machine grade", Category: "packaging",
		PriceCents: 189900, Stock: 2, Status: models.ListingStatusActive, CreatedAt: 200, UpdatedAt: 300},
	{ID: "c", SellerID: "s2", Title: "Shelving unit", Description: "boltless steel", Category: "warehouse",
		PriceCents: 8900, Stock: 150, Status: models.ListingStatusPaused, CreatedAt: 300, UpdatedAt: 200},
}

func ids(items []models.Listing) []string {
	out := make([]string, len(items))
	for i, l := range items {
		out[i] = l.ID
	}
	return out
}

func equalIDs(a []models.Listing, want ...string) bool {
	got := ids(a)
	if len(got) != len(want) {
		return false
	}
	for i := range got {
		if got[i] != want[i] {
			return false
		}
	}
	return true
}

func applyQuery(q Query) []models.Listing {
	match := q.Predicate()
	var out []models.Listing
	for _, l := range sample {
		if match(l) {
			out = append(out, l)
		}
	}
	return out
}

func TestQueryPredicate(t *testing.T) {
	tests := []struct {
		name string
		q    Query
		want []string
	}{
		{"no conditions", Query{}, []string{"a", "b", "c"}},
		{"seller", Query{SellerID: "s1"}, []string{"a", "b"}},
		{"status", Query{Status: models.ListingStatusPaused}, []string{"c"}},
		{"category", Query{Category: "warehouse"}, []string{"a", "c"}},
		{"min price", Query{MinPriceCents: 30000}, []string{"a", "b"}},
		{"max price", Query{MaxPriceCents: 40000}, []string{"a", "c"}},
		{"combined", Query{SellerID: "s1", Category: "warehouse", MaxPriceCents: 50000}, []string{"a"}},
		{"no match", Query{SellerID: "s2", Category: "packaging"}, nil},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := applyQuery(tt.q)
			if !equalIDs(got, tt.want...) {
				t.Errorf("got %v, want %v", ids(got), tt.want)
			}
		})
	}
}

func TestPostFilters(t *testing.T) {
	tests := []struct {
		name string
		f    PostFilters
		want []string
	}{
		{"default sort is updated ascending", PostFilters{}, []string{"c", "b", "a"}},
		{"search title", PostFilters{Search: "pallet"}, []string{"a"}},
		{"search description", PostFilters{Search: "STEEL"}, []string{"c"}},
		{"min stock", PostFilters{MinStock: 40}, []string{"c", "a"}},
		{"sort by price", PostFilters{SortBy: "price"}, []string{"c", "a", "b"}},
		{"sort by created descending", PostFilters{SortBy: "created", Descending: true}, []string{"c", "b", "a"}},
		{"limit", PostFilters{SortBy: "price", Limit: 2}, []string{"c", "a"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := tt.f.Apply(sample)
			if !equalIDs(got, tt.want...) {
				t.Errorf("got %v, want %v", ids(got), tt.want)
			}
		})
	}
}

func TestPostFiltersDoesNotMutateInput(t *testing.T) {
	before := ids(sample)
	_ = PostFilters{SortBy: "price", Descending: true}.Apply(sample)
	after := ids(sample)
	for i := range before {
		if before[i] != after[i] {
			t.Fatalf("input slice reordered: %v -> %v", before, after)
		}
	}
}
