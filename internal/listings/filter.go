// Package listings implements the seller-listing query builder: a set of
// conditional match predicates applied during the storage scan, plus
// in-memory post-filters applied to the fetched slice.
package listings

import (
	"sort"
	"strings"

	"tradepost/internal/models"
)

// Query holds the scan-time conditions. Zero values mean "no condition".
type Query struct {
	SellerID      string
	Status        models.ListingStatus
	Category      string
	MinPriceCents int64
	MaxPriceCents int64
}

// Predicate assembles the match function for the set conditions. All set
// conditions must hold (AND semantics).
func (q Query) Predicate() func(models.Listing) bool {
	var conds []func(models.Listing) bool

	if q.SellerID != "" {
		conds = append(conds, func(l models.Listing) bool { return l.SellerID == q.SellerID })
	}
	if q.Status != "" {
		conds = append(conds, func(l models.Listing) bool { return l.Status == q.Status })
	}
	if q.Category != "" {
		conds = append(conds, func(l models.Listing) bool { return l.Category == q.Category })
	}
	if q.MinPriceCents > 0 {
		conds = append(conds, func(l models.Listing) bool { return l.PriceCents >= q.MinPriceCents })
	}
	if q.MaxPriceCents > 0 {
		conds = append(conds, func(l models.Listing) bool { return l.PriceCents <= q.MaxPriceCents })
	}

	return func(l models.Listing) bool {
		for _, cond := range conds {
			if !cond(l) {
				return false
			}
		}
		return true
	}
}

// PostFilters are applied in memory after the scan: free-text search, a
// minimum stock floor, sorting and a result cap.
type PostFilters struct {
	Search     string
	MinStock   int
	SortBy     string // "price", "created" or "updated" (default "updated")
	Descending bool
	Limit      int
}

// Apply runs the post-filters over the fetched listings and returns the
// filtered slice. The input slice is not modified.
func (f PostFilters) Apply(items []models.Listing) []models.Listing {
	result := make([]models.Listing, 0, len(items))
	search := strings.ToLower(strings.TrimSpace(f.Search))

	for _, l := range items {
		if f.MinStock > 0 && l.Stock < f.MinStock {
			continue
		}
		if search != "" &&
			!strings.Contains(strings.ToLower(l.Title), search) &&
			!strings.Contains(strings.ToLower(l.Description), search) {
			continue
		}
		result = append(result, l)
	}

	less := func(i, j int) bool { return result[i].UpdatedAt < result[j].UpdatedAt }
	switch f.SortBy {
	case "price":
		less = func(i, j int) bool { return result[i].PriceCents < result[j].PriceCents }
	case "created":
		less = func(i, j int) bool { return result[i].CreatedAt < result[j].CreatedAt }
	}
	if f.Descending {
		inner := less
		less = func(i, j int) bool { return inner(j, i) }
	}
	sort.SliceStable(result, less)

	if f.Limit > 0 && len(result) > f.Limit {
		result = result[:f.Limit]
	}
	return result
}
