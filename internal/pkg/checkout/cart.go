package checkout

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/DennisKoslow/ProxyDesk/internal/pkg/cache"
)

const cartTTL = 7 * 24 * time.Hour

// CartStore holds the buyer's cart between browse and checkout. The cart is
// only cleared after the checkout unit of work commits, so a failed checkout
// leaves it intact for a retry.
type CartStore interface {
	Get(userID uint) ([]CartLine, error)
	Save(userID uint, lines []CartLine) error
	Clear(userID uint) error
}

type redisCartStore struct{}

// NewCartStore creates the redis-backed cart store.
func NewCartStore() CartStore {
	return &redisCartStore{}
}

func cartKey(userID uint) string {
	return fmt.Sprintf("cart:%d", userID)
}

func (s *redisCartStore) Get(userID uint) ([]CartLine, error) {
	raw, err := cache.Get(cartKey(userID))
	if cache.IsNotFound(err) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	var lines []CartLine
	if err := json.Unmarshal([]byte(raw), &lines); err != nil {
		return nil, err
	}
	return lines, nil
}

func (s *redisCartStore) Save(userID uint, lines []CartLine) error {
	raw, err := json.Marshal(lines)
	if err != nil {
		return err
	}
	return cache.Set(cartKey(userID), string(raw), cartTTL)
}

func (s *redisCartStore) Clear(userID uint) error {
	return cache.Delete(cartKey(userID))
}
