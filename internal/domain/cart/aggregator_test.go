package cart

import (
	"context"
	"encoding/json"
	"strconv"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/xenking/kart-storefront/internal/domain/apperr"
	"github.com/xenking/kart-storefront/internal/domain/menu"
)

// --- Mock implementations ---

type memStore struct {
	carts  map[string][]byte
	writes int
}

func newMemStore() *memStore {
	return &memStore{carts: make(map[string][]byte)}
}

func (m *memStore) Get(_ context.Context, ownerID string) (*Cart, error) {
	raw, ok := m.carts[ownerID]
	if !ok {
		return nil, ErrNotFound
	}
	var c Cart
	if err := json.Unmarshal(raw, &c); err != nil {
		return nil, err
	}
	return &c, nil
}

func (m *memStore) Update(ctx context.Context, ownerID string, newCart func() *Cart, fn func(*Cart) error) (*Cart, error) {
	c, err := m.Get(ctx, ownerID)
	if err != nil {
		c = newCart()
	}
	if err := fn(c); err != nil {
		return nil, err
	}
	raw, err := json.Marshal(c)
	if err != nil {
		return nil, err
	}
	m.carts[ownerID] = raw
	m.writes++
	return c, nil
}

type mockMenu struct {
	items map[string]*menu.Item
}

func (m *mockMenu) GetByID(_ context.Context, id string) (*menu.Item, error) {
	it, ok := m.items[id]
	if !ok {
		return nil, menu.ErrNotFound
	}
	return it, nil
}

// --- Helpers ---

func dec(s string) decimal.Decimal { return decimal.RequireFromString(s) }

func newCatalog() *mockMenu {
	return &mockMenu{items: map[string]*menu.Item{
		"burger": {
			ID:   "burger",
			Name: "Burger",
			Variants: []menu.Variant{
				{Name: "regular", Price: dec("10.00")},
				{Name: "double", Price: dec("14.50")},
			},
			AddOns: []menu.AddOn{
				{Name: "cheese", Price: dec("2.00")},
				{Name: "bacon", Price: dec("3.25")},
			},
		},
		"fries": {
			ID:       "fries",
			Name:     "Fries",
			Variants: []menu.Variant{{Name: "small", Price: dec("3.00")}},
		},
	}}
}

func newTestAggregator(store *memStore, catalog *mockMenu) *Aggregator {
	a := NewAggregator(store, catalog)
	a.now = func() time.Time { return time.Date(2025, 6, 15, 12, 0, 0, 0, time.UTC) }
	n := 0
	a.newID = func() string {
		n++
		return "id-" + strconv.Itoa(n)
	}
	return a
}

// --- Tests ---

func TestAddItem_LineTotal(t *testing.T) {
	a := newTestAggregator(newMemStore(), newCatalog())

	c, err := a.AddItem(context.Background(), "u1", AddItemRequest{
		MenuItemID:  "burger",
		VariantName: "regular",
		Quantity:    2,
		AddOns:      []AddOnChoice{{Name: "cheese", Quantity: 1}},
	})

	require.NoError(t, err)
	require.Len(t, c.Lines, 1)
	assert.True(t, dec("24.00").Equal(c.Lines[0].Total()), "got %s", c.Lines[0].Total())
	assert.True(t, dec("24.00").Equal(c.TotalAmount))
	assert.Equal(t, "Burger", c.Lines[0].Name)
}

func TestAddItem_MergesIdenticalLine(t *testing.T) {
	a := newTestAggregator(newMemStore(), newCatalog())
	ctx := context.Background()

	_, err := a.AddItem(ctx, "u1", AddItemRequest{
		MenuItemID: "burger", VariantName: "regular", Quantity: 1,
		AddOns: []AddOnChoice{{Name: "cheese", Quantity: 1}},
	})
	require.NoError(t, err)

	c, err := a.AddItem(ctx, "u1", AddItemRequest{
		MenuItemID: "burger", VariantName: "regular", Quantity: 2,
		AddOns: []AddOnChoice{{Name: "cheese", Quantity: 1}, {Name: "bacon", Quantity: 1}},
	})
	require.NoError(t, err)

	require.Len(t, c.Lines, 1)
	line := c.Lines[0]
	assert.Equal(t, 3, line.Quantity)
	require.Len(t, line.AddOns, 2)
	assert.Equal(t, "cheese", line.AddOns[0].Name)
	assert.Equal(t, 2, line.AddOns[0].Quantity)
	assert.Equal(t, "bacon", line.AddOns[1].Name)
	assert.Equal(t, 1, line.AddOns[1].Quantity)
	// (10.00 + 2*2.00 + 3.25) * 3
	assert.True(t, dec("51.75").Equal(c.TotalAmount), "got %s", c.TotalAmount)
}

func TestAddItem_DifferentVariantIsSeparateLine(t *testing.T) {
	a := newTestAggregator(newMemStore(), newCatalog())
	ctx := context.Background()

	_, err := a.AddItem(ctx, "u1", AddItemRequest{MenuItemID: "burger", VariantName: "regular", Quantity: 1})
	require.NoError(t, err)
	c, err := a.AddItem(ctx, "u1", AddItemRequest{MenuItemID: "burger", VariantName: "double", Quantity: 1})
	require.NoError(t, err)

	assert.Len(t, c.Lines, 2)
	assert.True(t, dec("24.50").Equal(c.TotalAmount))
}

func TestAddItem_NotFound(t *testing.T) {
	tests := []struct {
		name string
		req  AddItemRequest
	}{
		{name: "unknown item", req: AddItemRequest{MenuItemID: "pizza", VariantName: "regular", Quantity: 1}},
		{name: "unknown variant", req: AddItemRequest{MenuItemID: "burger", VariantName: "triple", Quantity: 1}},
		{name: "unknown add-on", req: AddItemRequest{
			MenuItemID: "burger", VariantName: "regular", Quantity: 1,
			AddOns: []AddOnChoice{{Name: "cheese", Quantity: 1}, {Name: "truffle", Quantity: 1}},
		}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			store := newMemStore()
			a := newTestAggregator(store, newCatalog())

			_, err := a.AddItem(context.Background(), "u1", tt.req)

			require.Error(t, err)
			assert.Equal(t, apperr.KindNotFound, apperr.KindOf(err))
			assert.Zero(t, store.writes, "nothing must be written on failure")
		})
	}
}

func TestAddItem_InvalidQuantity(t *testing.T) {
	a := newTestAggregator(newMemStore(), newCatalog())

	_, err := a.AddItem(context.Background(), "u1", AddItemRequest{MenuItemID: "burger", VariantName: "regular"})
	require.ErrorIs(t, err, ErrInvalidQuantity)

	_, err = a.AddItem(context.Background(), "u1", AddItemRequest{
		MenuItemID: "burger", VariantName: "regular", Quantity: 1,
		AddOns: []AddOnChoice{{Name: "cheese", Quantity: 0}},
	})
	require.ErrorIs(t, err, ErrInvalidQuantity)
}

func TestUpdateQuantity(t *testing.T) {
	a := newTestAggregator(newMemStore(), newCatalog())
	ctx := context.Background()

	c, err := a.AddItem(ctx, "u1", AddItemRequest{MenuItemID: "fries", VariantName: "small", Quantity: 1})
	require.NoError(t, err)
	lineID := c.Lines[0].ID

	c, err = a.UpdateQuantity(ctx, "u1", lineID, 4)
	require.NoError(t, err)
	assert.True(t, dec("12.00").Equal(c.TotalAmount))

	c, err = a.UpdateQuantity(ctx, "u1", lineID, 0)
	require.NoError(t, err, "non-positive quantity removes instead of failing")
	assert.True(t, c.IsEmpty())
	assert.True(t, decimal.Zero.Equal(c.TotalAmount))

	_, err = a.UpdateQuantity(ctx, "u1", "missing", 2)
	require.ErrorIs(t, err, ErrLineNotFound)
}

func TestRemoveAndClear(t *testing.T) {
	a := newTestAggregator(newMemStore(), newCatalog())
	ctx := context.Background()

	_, err := a.AddItem(ctx, "u1", AddItemRequest{MenuItemID: "fries", VariantName: "small", Quantity: 1})
	require.NoError(t, err)
	c, err := a.AddItem(ctx, "u1", AddItemRequest{MenuItemID: "burger", VariantName: "regular", Quantity: 1})
	require.NoError(t, err)
	cartID := c.ID

	c, err = a.RemoveItem(ctx, "u1", c.Lines[0].ID)
	require.NoError(t, err)
	require.Len(t, c.Lines, 1)
	assert.Equal(t, "burger", c.Lines[0].MenuItemID)

	c, err = a.Clear(ctx, "u1")
	require.NoError(t, err)
	assert.True(t, c.IsEmpty())
	assert.Equal(t, cartID, c.ID, "clearing keeps the cart")
}

func TestGetOrCreate(t *testing.T) {
	store := newMemStore()
	a := newTestAggregator(store, newCatalog())
	ctx := context.Background()

	c1, err := a.GetOrCreate(ctx, "u1")
	require.NoError(t, err)
	c2, err := a.GetOrCreate(ctx, "u1")
	require.NoError(t, err)

	assert.Equal(t, c1.ID, c2.ID)
	assert.Equal(t, 1, store.writes)
}

func TestTotal_IndependentOfInsertionOrder(t *testing.T) {
	reqs := []AddItemRequest{
		{MenuItemID: "burger", VariantName: "regular", Quantity: 2, AddOns: []AddOnChoice{{Name: "bacon", Quantity: 2}}},
		{MenuItemID: "fries", VariantName: "small", Quantity: 3},
		{MenuItemID: "burger", VariantName: "double", Quantity: 1, AddOns: []AddOnChoice{{Name: "cheese", Quantity: 1}}},
	}
	ctx := context.Background()

	forward := newTestAggregator(newMemStore(), newCatalog())
	var c1 *Cart
	for _, r := range reqs {
		var err error
		c1, err = forward.AddItem(ctx, "u1", r)
		require.NoError(t, err)
	}

	backward := newTestAggregator(newMemStore(), newCatalog())
	var c2 *Cart
	for i := len(reqs) - 1; i >= 0; i-- {
		var err error
		c2, err = backward.AddItem(ctx, "u1", reqs[i])
		require.NoError(t, err)
	}

	assert.True(t, c1.TotalAmount.Equal(c2.TotalAmount), "%s != %s", c1.TotalAmount, c2.TotalAmount)
}

func TestSnapshot_IsDeepCopy(t *testing.T) {
	a := newTestAggregator(newMemStore(), newCatalog())
	ctx := context.Background()

	_, err := a.AddItem(ctx, "u1", AddItemRequest{
		MenuItemID: "burger", VariantName: "regular", Quantity: 1,
		AddOns: []AddOnChoice{{Name: "cheese", Quantity: 1}},
	})
	require.NoError(t, err)

	snap, err := a.Snapshot(ctx, "u1")
	require.NoError(t, err)
	clone := snap.Clone()
	clone.Lines[0].AddOns[0].Quantity = 99

	assert.Equal(t, 1, snap.Lines[0].AddOns[0].Quantity)

	_, err = a.Snapshot(ctx, "nobody")
	require.ErrorIs(t, err, ErrNotFound)
}
