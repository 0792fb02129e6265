// Package cart owns the mutable pre-order basket.
package cart

import (
	"context"
	"time"

	"github.com/shopspring/decimal"

	"github.com/xenking/kart-storefront/internal/domain/apperr"
)

var (
	// ErrNotFound is returned when the owner has no cart or the cart id does
	// not match the owner's cart.
	ErrNotFound = apperr.New(apperr.KindNotFound, "cart not found")
	// ErrLineNotFound is returned when a line id is not present in the cart.
	ErrLineNotFound = apperr.New(apperr.KindNotFound, "cart item not found")
	// ErrEmpty is returned when an order is attempted from a cart without lines.
	ErrEmpty = apperr.New(apperr.KindValidation, "cart is empty")
	// ErrInvalidQuantity is returned when a line or add-on quantity is not positive.
	ErrInvalidQuantity = apperr.New(apperr.KindValidation, "quantity must be greater than 0")
	// ErrConcurrentUpdate is returned when the store could not apply a
	// mutation because the cart kept changing underneath it.
	ErrConcurrentUpdate = apperr.New(apperr.KindConflict, "cart was modified concurrently, retry")
)

// Cart is the basket of a single owner. TotalAmount is derived and is
// recomputed by every mutation.
type Cart struct {
	ID          string          `json:"id"`
	OwnerID     string          `json:"owner_id"`
	Lines       []Line          `json:"lines"`
	TotalAmount decimal.Decimal `json:"total_amount"`
	UpdatedAt   time.Time       `json:"updated_at"`
}

// Line is one cart entry. Names and prices are snapshots of the catalog at the
// time the line was added.
type Line struct {
	ID         string  `json:"id"`
	MenuItemID string  `json:"menu_item_id"`
	Name       string  `json:"name"`
	Variant    Variant `json:"variant"`
	AddOns     []AddOn `json:"add_ons,omitempty"`
	Quantity   int     `json:"quantity"`
}

// Variant is the chosen variant snapshot.
type Variant struct {
	Name  string          `json:"name"`
	Price decimal.Decimal `json:"price"`
}

// AddOn is a chosen add-on snapshot with its per-line quantity.
type AddOn struct {
	Name     string          `json:"name"`
	Price    decimal.Decimal `json:"price"`
	Quantity int             `json:"quantity"`
}

// UnitPrice is the variant price plus every add-on price times its quantity.
func (l Line) UnitPrice() decimal.Decimal {
	unit := l.Variant.Price
	for _, a := range l.AddOns {
		unit = unit.Add(a.Price.Mul(decimal.NewFromInt(int64(a.Quantity))))
	}
	return unit
}

// Total is UnitPrice multiplied by the line quantity.
func (l Line) Total() decimal.Decimal {
	return l.UnitPrice().Mul(decimal.NewFromInt(int64(l.Quantity)))
}

// Subtotal sums the totals of the given lines.
func Subtotal(lines []Line) decimal.Decimal {
	sum := decimal.Zero
	for _, l := range lines {
		sum = sum.Add(l.Total())
	}
	return sum
}

// Recalculate refreshes TotalAmount from the lines.
func (c *Cart) Recalculate() {
	c.TotalAmount = Subtotal(c.Lines).Round(2)
}

// IsEmpty reports whether the cart has no lines.
func (c *Cart) IsEmpty() bool {
	return len(c.Lines) == 0
}

// Reset empties the cart but keeps its identity.
func (c *Cart) Reset() {
	c.Lines = nil
	c.Recalculate()
}

// Clone returns a deep copy, safe to hand to pricing and order snapshotting.
func (c *Cart) Clone() *Cart {
	out := *c
	out.Lines = make([]Line, len(c.Lines))
	for i, l := range c.Lines {
		l.AddOns = append([]AddOn(nil), l.AddOns...)
		out.Lines[i] = l
	}
	return &out
}

func (c *Cart) lineIndex(id string) int {
	for i, l := range c.Lines {
		if l.ID == id {
			return i
		}
	}
	return -1
}

// Store persists carts. Update must apply fn to the current cart (creating an
// empty cart through newCart when none exists) and write the result
// atomically; when fn returns an error nothing is written.
type Store interface {
	Get(ctx context.Context, ownerID string) (*Cart, error)
	Update(ctx context.Context, ownerID string, newCart func() *Cart, fn func(*Cart) error) (*Cart, error)
}
