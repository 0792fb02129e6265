package redis

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/go-faster/errors"
	goredis "github.com/redis/go-redis/v9"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/xenking/kart-storefront/internal/domain/cart"
	"github.com/xenking/kart-storefront/internal/domain/menu"
)

func newTestClient(t *testing.T) (*miniredis.Miniredis, *goredis.Client) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := goredis.NewClient(&goredis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return mr, client
}

func emptyCart(owner string) func() *cart.Cart {
	return func() *cart.Cart { return &cart.Cart{ID: "cart-" + owner, OwnerID: owner} }
}

func addLine(qty int) func(*cart.Cart) error {
	return func(c *cart.Cart) error {
		c.Lines = append(c.Lines, cart.Line{
			ID:       "l1",
			Variant:  cart.Variant{Name: "regular", Price: decimal.RequireFromString("2.50")},
			Quantity: qty,
		})
		c.Recalculate()
		return nil
	}
}

func TestCartStore_GetMissing(t *testing.T) {
	_, client := newTestClient(t)
	s := NewCartStore(client, 0)

	_, err := s.Get(context.Background(), "u1")
	require.ErrorIs(t, err, cart.ErrNotFound)
}

func TestCartStore_UpdateCreatesAndPersists(t *testing.T) {
	mr, client := newTestClient(t)
	s := NewCartStore(client, time.Hour)
	ctx := context.Background()

	c, err := s.Update(ctx, "u1", emptyCart("u1"), addLine(2))
	require.NoError(t, err)
	assert.Equal(t, "cart-u1", c.ID)
	assert.True(t, decimal.RequireFromString("5.00").Equal(c.TotalAmount))

	got, err := s.Get(ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, "cart-u1", got.ID)
	require.Len(t, got.Lines, 1)
	assert.True(t, decimal.RequireFromString("2.50").Equal(got.Lines[0].Variant.Price))
	assert.Equal(t, time.Hour, mr.TTL(cartKey("u1")))

	mr.FastForward(2 * time.Hour)
	_, err = s.Get(ctx, "u1")
	require.ErrorIs(t, err, cart.ErrNotFound)
}

func TestCartStore_NoTTLKeepsCart(t *testing.T) {
	mr, client := newTestClient(t)
	s := NewCartStore(client, 0)
	ctx := context.Background()

	_, err := s.Update(ctx, "u1", emptyCart("u1"), addLine(1))
	require.NoError(t, err)
	assert.Zero(t, mr.TTL(cartKey("u1")))

	mr.FastForward(365 * 24 * time.Hour)
	got, err := s.Get(ctx, "u1")
	require.NoError(t, err)
	require.Len(t, got.Lines, 1)
}

func TestCartStore_FailedMutationWritesNothing(t *testing.T) {
	mr, client := newTestClient(t)
	s := NewCartStore(client, 0)
	boom := errors.New("boom")

	_, err := s.Update(context.Background(), "u1", emptyCart("u1"), func(*cart.Cart) error { return boom })

	require.ErrorIs(t, err, boom)
	assert.False(t, mr.Exists(cartKey("u1")))
}

func TestCartStore_ConcurrentUpdatesAreNotLost(t *testing.T) {
	_, client := newTestClient(t)
	s := NewCartStore(client, 0, WithMaxRetries(100))
	ctx := context.Background()
	_, err := s.Update(ctx, "u1", emptyCart("u1"), addLine(1))
	require.NoError(t, err)

	const workers = 10
	var (
		wg sync.WaitGroup
		mu sync.Mutex
		ok int
	)
	for range workers {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := s.Update(ctx, "u1", emptyCart("u1"), func(c *cart.Cart) error {
				c.Lines[0].Quantity++
				c.Recalculate()
				return nil
			})
			if err == nil {
				mu.Lock()
				ok++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	got, err := s.Get(ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, 1+ok, got.Lines[0].Quantity, "every acknowledged update is applied exactly once")
}

type staticMenu map[string]*menu.Item

func (m staticMenu) GetByID(_ context.Context, id string) (*menu.Item, error) {
	item, ok := m[id]
	if !ok {
		return nil, menu.ErrNotFound
	}
	return item, nil
}

func TestCartStore_WithAggregator(t *testing.T) {
	_, client := newTestClient(t)
	agg := cart.NewAggregator(NewCartStore(client, 0), staticMenu{
		"burger": {
			ID:       "burger",
			Name:     "Burger",
			Variants: []menu.Variant{{Name: "regular", Price: decimal.RequireFromString("10.00")}},
			AddOns:   []menu.AddOn{{Name: "cheese", Price: decimal.RequireFromString("2.00")}},
		},
	})
	ctx := context.Background()

	c, err := agg.AddItem(ctx, "u1", cart.AddItemRequest{
		MenuItemID:  "burger",
		VariantName: "regular",
		Quantity:    2,
		AddOns:      []cart.AddOnChoice{{Name: "cheese", Quantity: 1}},
	})
	require.NoError(t, err)
	assert.True(t, decimal.RequireFromString("24.00").Equal(c.TotalAmount))

	snap, err := agg.Snapshot(ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, c.ID, snap.ID)
	assert.True(t, decimal.RequireFromString("24.00").Equal(snap.TotalAmount))

	cleared, err := agg.Clear(ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, c.ID, cleared.ID)
	assert.True(t, cleared.IsEmpty())
}

func TestNewClient(t *testing.T) {
	mr := miniredis.RunT(t)

	client, err := NewClient(context.Background(), "redis://"+mr.Addr()+"/0")
	require.NoError(t, err)
	require.NoError(t, client.Close())

	_, err = NewClient(context.Background(), "http://not-redis")
	require.ErrorContains(t, err, "parsing redis url")
}
