package storage

import (
	"errors"
	"fmt"
	"time"

	"tradepost/internal/models"

	"go.etcd.io/bbolt"
)

var (
	ErrListingUnavailable = errors.New("listing is not available for ordering")
	ErrInsufficientStock  = errors.New("insufficient stock")
	ErrInvalidTransition  = errors.New("invalid order status transition")
)

// orderTransitions enumerates the allowed status changes.
var orderTransitions = map[models.OrderStatus][]models.OrderStatus{
	models.OrderStatusPending:   {models.OrderStatusConfirmed, models.OrderStatusCancelled},
	models.OrderStatusConfirmed: {models.OrderStatusShipped, models.OrderStatusCancelled},
	models.OrderStatusShipped:   {models.OrderStatusCompleted},
}

func transitionAllowed(from, to models.OrderStatus) bool {
	for _, next := range orderTransitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

func orderFromDB(dbOrder DBOrder) models.Order {
	return models.Order{
		ID:             dbOrder.ID,
		ListingID:      dbOrder.ListingID,
		BuyerID:        dbOrder.BuyerID,
		SellerID:       dbOrder.SellerID,
		Quantity:       dbOrder.Quantity,
		UnitPriceCents: dbOrder.UnitPriceCents,
		Currency:       dbOrder.Currency,
		Status:         models.OrderStatus(dbOrder.Status),
		CreatedAt:      dbOrder.CreatedAt,
		UpdatedAt:      dbOrder.UpdatedAt,
	}
}

func putOrder(tx *bbolt.Tx, order models.Order) error {
	dbOrder := DBOrder{
		ID:             order.ID,
		ListingID:      order.ListingID,
		BuyerID:        order.BuyerID,
		SellerID:       order.SellerID,
		Quantity:       order.Quantity,
		UnitPriceCents: order.UnitPriceCents,
		Currency:       order.Currency,
		Status:         string(order.Status),
		CreatedAt:      order.CreatedAt,
		UpdatedAt:      order.UpdatedAt,
	}
	data, err := dbOrder.MarshalBinary()
	if err != nil {
		return fmt.Errorf("failed to marshal order: %w", err)
	}
	return tx.Bucket(bucketOrders).Put(dbOrder.Key(), data)
}

// CreateOrder validates the listing is active and has enough stock, decrements
// the stock, and writes the order row. All three happen in one transaction so
// concurrent orders for the same listing cannot oversell it.
func (s *BboltStorage) CreateOrder(order models.Order) (models.Order, error) {
	err := s.db.Update(func(tx *bbolt.Tx) error {
		listingData := tx.Bucket(bucketListings).Get([]byte(order.ListingID))
		if listingData == nil {
			return models.ErrNotFound
		}
		var dbListing DBListing
		if err := dbListing.UnmarshalBinary(listingData); err != nil {
			return err
		}

		if models.ListingStatus(dbListing.Status) != models.ListingStatusActive {
			return ErrListingUnavailable
		}
		if order.Quantity <= 0 || dbListing.Stock < order.Quantity {
			return ErrInsufficientStock
		}

		dbListing.Stock -= order.Quantity
		dbListing.UpdatedAt = order.CreatedAt
		listingUpdated, err := dbListing.MarshalBinary()
		if err != nil {
			return err
		}
		if err := tx.Bucket(bucketListings).Put(dbListing.Key(), listingUpdated); err != nil {
			return err
		}

		order.SellerID = dbListing.SellerID
		order.UnitPriceCents = dbListing.PriceCents
		order.Currency = dbListing.Currency
		order.Status = models.OrderStatusPending
		return putOrder(tx, order)
	})
	if err != nil {
		return models.Order{}, err
	}
	return order, nil
}

// GetOrder returns the order with the given ID.
func (s *BboltStorage) GetOrder(id string) (models.Order, error) {
	var order models.Order
	err := s.db.View(func(tx *bbolt.Tx) error {
		data := tx.Bucket(bucketOrders).Get([]byte(id))
		if data == nil {
			return models.ErrNotFound
		}
		var dbOrder DBOrder
		if err := dbOrder.UnmarshalBinary(data); err != nil {
			return err
		}
		order = orderFromDB(dbOrder)
		return nil
	})
	return order, err
}

// UpdateOrderStatus applies a status transition after checking it against the
// transition table.
func (s *BboltStorage) UpdateOrderStatus(id string, status models.OrderStatus) (models.Order, error) {
	var order models.Order
	err := s.db.Update(func(tx *bbolt.Tx) error {
		data := tx.Bucket(bucketOrders).Get([]byte(id))
		if data == nil {
			return models.ErrNotFound
		}
		var dbOrder DBOrder
		if err := dbOrder.UnmarshalBinary(data); err != nil {
			return err
		}

		if !transitionAllowed(models.OrderStatus(dbOrder.Status), status) {
			return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, dbOrder.Status, status)
		}

		dbOrder.Status = string(status)
		dbOrder.UpdatedAt = time.Now().Unix()
		updated, err := dbOrder.MarshalBinary()
		if err != nil {
			return err
		}
		if err := tx.Bucket(bucketOrders).Put(dbOrder.Key(), updated); err != nil {
			return err
		}
		order = orderFromDB(dbOrder)
		return nil
	})
	return order, err
}

// ListOrdersByUser returns orders where the user is the buyer or the seller.
func (s *BboltStorage) ListOrdersByUser(userID string) ([]models.Order, error) {
	var orders []models.Order
	err := s.db.View(func(tx *bbolt.Tx) error {
		b := tx.Bucket(bucketOrders)
		return b.ForEach(func(k, v []byte) error {
			var dbOrder DBOrder
			if err := dbOrder.UnmarshalBinary(v); err != nil {
				return err
			}
			if dbOrder.BuyerID == userID || dbOrder.SellerID == userID {
				orders = append(orders, orderFromDB(dbOrder))
			}
			return nil
		})
	})
	return orders, err
}
