package storage

import (
	"fmt"

	"tradepost/internal/models"

	"go.etcd.io/bbolt"
)

func listingFromDB(dbListing DBListing) models.Listing {
	return models.Listing{
		ID:          dbListing.ID,
		SellerID:    dbListing.SellerID,
		Title:       dbListing.Title,
		Description: dbListing.Description,
		Category:    dbListing.Category,
		PriceCents:  dbListing.PriceCents,
		Currency:    dbListing.Currency,
		Stock:       dbListing.Stock,
		Status:      models.ListingStatus(dbListing.Status),
		CreatedAt:   dbListing.CreatedAt,
		UpdatedAt:   dbListing.UpdatedAt,
	}
}

// UpsertListing saves a listing to the database.
func (s *BboltStorage) UpsertListing(listing models.Listing) error {
	return s.db.Update(func(tx *bbolt.Tx) error {
		b := tx.Bucket(bucketListings)
		dbListing := DBListing{
			ID:          listing.ID,
			SellerID:    listing.SellerID,
			Title:       listing.Title,
			Description: listing.Description,
			Category:    listing.Category,
			PriceCents:  listing.PriceCents,
			Currency:    listing.Currency,
			Stock:       listing.Stock,
			Status:      string(listing.Status),
			CreatedAt:   listing.CreatedAt,
			UpdatedAt:   listing.UpdatedAt,
		}
		data, err := dbListing.MarshalBinary()
		if err != nil {
			return fmt.Errorf("failed to marshal listing: %w", err)
		}
		return b.Put(dbListing.Key(), data)
	})
}

// GetListing returns the listing with the given ID.
func (s *BboltStorage) GetListing(id string) (models.Listing, error) {
	var listing models.Listing
	err := s.db.View(func(tx *bbolt.Tx) error {
		data := tx.Bucket(bucketListings).Get([]byte(id))
		if data == nil {
			return models.ErrNotFound
		}
		var dbListing DBListing
		if err := dbListing.UnmarshalBinary(data); err != nil {
			return err
		}
		listing = listingFromDB(dbListing)
		return nil
	})
	return listing, err
}

// ListListingsWhere returns all listings matching the predicate. A nil
// predicate matches everything. The predicate runs during the bucket scan so
// non-matching rows are never decoded into the result slice.
func (s *BboltStorage) ListListingsWhere(match func(models.Listing) bool) ([]models.Listing, error) {
	var listings []models.Listing
	err := s.db.View(func(tx *bbolt.Tx) error {
		b := tx.Bucket(bucketListings)
		return b.ForEach(func(k, v []byte) error {
			var dbListing DBListing
			if err := dbListing.UnmarshalBinary(v); err != nil {
				return err
			}
			listing := listingFromDB(dbListing)
			if match == nil || match(listing) {
				listings = append(listings, listing)
			}
			return nil
		})
	})
	return listings, err
}
