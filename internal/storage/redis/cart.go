// Package redis stores carts in Redis, one JSON document per owner.
package redis

import (
	"context"
	"encoding/json"
	"time"

	"github.com/go-faster/errors"
	goredis "github.com/redis/go-redis/v9"

	"github.com/xenking/kart-storefront/internal/domain/cart"
)

const (
	cartKeyPrefix     = "kart:cart:"
	defaultMaxRetries = 3
)

var _ cart.Store = (*CartStore)(nil)

// CartStore implements cart.Store. Every Update is an optimistic
// compare-and-swap: the key is WATCHed, the cart mutated in memory and
// written back in MULTI/EXEC. A concurrent write aborts EXEC and the update
// is retried.
type CartStore struct {
	client     goredis.UniversalClient
	ttl        time.Duration
	maxRetries int
}

// CartStoreOption configures a CartStore.
type CartStoreOption func(*CartStore)

// WithMaxRetries sets how many times a conflicting update is retried before
// cart.ErrConcurrentUpdate is returned.
func WithMaxRetries(n int) CartStoreOption {
	return func(s *CartStore) { s.maxRetries = n }
}

// NewCartStore returns a CartStore. A zero ttl keeps carts forever;
// otherwise every write refreshes the expiry.
func NewCartStore(client goredis.UniversalClient, ttl time.Duration, opts ...CartStoreOption) *CartStore {
	s := &CartStore{client: client, ttl: ttl, maxRetries: defaultMaxRetries}
	for _, opt := range opts {
		opt(s)
	}
	if s.maxRetries < 1 {
		s.maxRetries = 1
	}
	return s
}

func cartKey(ownerID string) string {
	return cartKeyPrefix + ownerID
}

// Get returns the owner's cart or cart.ErrNotFound.
func (s *CartStore) Get(ctx context.Context, ownerID string) (*cart.Cart, error) {
	data, err := s.client.Get(ctx, cartKey(ownerID)).Bytes()
	if err != nil {
		if errors.Is(err, goredis.Nil) {
			return nil, cart.ErrNotFound
		}
		return nil, errors.Wrap(err, "get cart")
	}
	return decodeCart(data)
}

// Update applies fn to the owner's cart, creating it with newCart when
// absent. An error from fn aborts the update and is returned unchanged.
func (s *CartStore) Update(ctx context.Context, ownerID string, newCart func() *cart.Cart, fn func(*cart.Cart) error) (*cart.Cart, error) {
	key := cartKey(ownerID)
	for range s.maxRetries {
		var updated *cart.Cart
		err := s.client.Watch(ctx, func(tx *goredis.Tx) error {
			c, err := s.load(ctx, tx, key, newCart)
			if err != nil {
				return err
			}
			if err := fn(c); err != nil {
				return err
			}
			data, err := json.Marshal(c)
			if err != nil {
				return errors.Wrap(err, "encode cart")
			}
			_, err = tx.TxPipelined(ctx, func(pipe goredis.Pipeliner) error {
				pipe.Set(ctx, key, data, s.ttl)
				return nil
			})
			if err != nil {
				return err
			}
			updated = c
			return nil
		}, key)
		switch {
		case err == nil:
			return updated, nil
		case errors.Is(err, goredis.TxFailedErr):
			continue
		default:
			return nil, err
		}
	}
	return nil, cart.ErrConcurrentUpdate
}

func (s *CartStore) load(ctx context.Context, tx *goredis.Tx, key string, newCart func() *cart.Cart) (*cart.Cart, error) {
	data, err := tx.Get(ctx, key).Bytes()
	switch {
	case errors.Is(err, goredis.Nil):
		return newCart(), nil
	case err != nil:
		return nil, errors.Wrap(err, "get cart")
	}
	return decodeCart(data)
}

func decodeCart(data []byte) (*cart.Cart, error) {
	var c cart.Cart
	if err := json.Unmarshal(data, &c); err != nil {
		return nil, errors.Wrap(err, "decode cart")
	}
	return &c, nil
}
