package storage

import (
	"sort"
	"time"

	"go.etcd.io/bbolt"
)

// Stats is the admin analytics summary.
type Stats struct {
	Users          int            `json:"users"`
	Listings       int            `json:"listings"`
	Orders         int            `json:"orders"`
	Conversations  int            `json:"conversations"`
	Messages       int            `json:"messages"`
	MessagesPerDay []DayCount     `json:"messagesPerDay"`
	TopSellers     []SellerVolume `json:"topSellers"`
}

type DayCount struct {
	Day   string `json:"day"` // YYYY-MM-DD (UTC)
	Count int    `json:"count"`
}

type SellerVolume struct {
	SellerID string `json:"sellerId"`
	Orders   int    `json:"orders"`
}

// GetStats scans the database and assembles the analytics summary served by
// the admin dashboard. Scan-based on purpose: the dataset is small and the
// endpoint is admin-only.
func (s *BboltStorage) GetStats(days, topN int) (Stats, error) {
	stats := Stats{}
	perDay := make(map[string]int)
	perSeller := make(map[string]int)
	cutoff := time.Now().UTC().AddDate(0, 0, -days).Unix()

	err := s.db.View(func(tx *bbolt.Tx) error {
		stats.Users = tx.Bucket(bucketUsers).Stats().KeyN
		stats.Listings = tx.Bucket(bucketListings).Stats().KeyN
		stats.Conversations = tx.Bucket(bucketConversations).Stats().KeyN

		if err := tx.Bucket(bucketOrders).ForEach(func(k, v []byte) error {
			var dbOrder DBOrder
			if err := dbOrder.UnmarshalBinary(v); err != nil {
				return err
			}
			stats.Orders++
			perSeller[dbOrder.SellerID]++
			return nil
		}); err != nil {
			return err
		}

		// Messages bucket holds one sub-bucket per conversation.
		return tx.Bucket(bucketMessages).ForEachBucket(func(name []byte) error {
			convBucket := tx.Bucket(bucketMessages).Bucket(name)
			return convBucket.ForEach(func(k, v []byte) error {
				var dbMsg DBMessage
				if err := dbMsg.UnmarshalBinary(v); err != nil {
					return err
				}
				stats.Messages++
				if dbMsg.CreatedAt >= cutoff {
					day := time.Unix(dbMsg.CreatedAt, 0).UTC().Format("2006-01-02")
					perDay[day]++
				}
				return nil
			})
		})
	})
	if err != nil {
		return Stats{}, err
	}

	for day, count := range perDay {
		stats.MessagesPerDay = append(stats.MessagesPerDay, DayCount{Day: day, Count: count})
	}
	sort.Slice(stats.MessagesPerDay, func(i, j int) bool {
		return stats.MessagesPerDay[i].Day < stats.MessagesPerDay[j].Day
	})

	for sellerID, count := range perSeller {
		stats.TopSellers = append(stats.TopSellers, SellerVolume{SellerID: sellerID, Orders: count})
	}
	sort.Slice(stats.TopSellers, func(i, j int) bool {
		if stats.TopSellers[i].Orders != stats.TopSellers[j].Orders {
			return stats.TopSellers[i].Orders > stats.TopSellers[j].Orders
		}
		return stats.TopSellers[i].SellerID < stats.TopSellers[j].SellerID
	})
	if topN > 0 && len(stats.TopSellers) > topN {
		stats.TopSellers = stats.TopSellers[:topN]
	}

	return stats, nil
}
