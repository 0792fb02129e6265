// Package order holds the immutable record of a purchase and the state
// machine that governs its status.
package order

import (
	"context"
	"time"

	"github.com/shopspring/decimal"

	"github.com/xenking/kart-storefront/internal/domain/address"
	"github.com/xenking/kart-storefront/internal/domain/apperr"
	"github.com/xenking/kart-storefront/internal/domain/cart"
	"github.com/xenking/kart-storefront/internal/domain/payment"
	"github.com/xenking/kart-storefront/internal/domain/pricing"
)

var (
	// ErrNotFound is returned when no order exists for an id.
	ErrNotFound = apperr.New(apperr.KindNotFound, "order not found")
	// ErrClosed is returned when a payment confirmation arrives for an order
	// that was cancelled.
	ErrClosed = apperr.New(apperr.KindConflict, "order is closed")
)

// Item is a priced line copied from the cart when the order was placed.
// Later catalog changes never reach it.
type Item struct {
	MenuItemID string          `json:"menuItemId"`
	Name       string          `json:"name"`
	Variant    string          `json:"variant"`
	UnitPrice  decimal.Decimal `json:"unitPrice"`
	AddOns     []AddOn         `json:"addOns,omitempty"`
	Quantity   int             `json:"quantity"`
	LineTotal  decimal.Decimal `json:"lineTotal"`
}

// AddOn is an add-on copied from a cart line.
type AddOn struct {
	Name     string          `json:"name"`
	Price    decimal.Decimal `json:"price"`
	Quantity int             `json:"quantity"`
}

// ItemsFromLines snapshots cart lines into order items.
func ItemsFromLines(lines []cart.Line) []Item {
	items := make([]Item, len(lines))
	for i, l := range lines {
		it := Item{
			MenuItemID: l.MenuItemID,
			Name:       l.Name,
			Variant:    l.Variant.Name,
			UnitPrice:  l.Variant.Price,
			Quantity:   l.Quantity,
			LineTotal:  l.Total().Round(2),
		}
		for _, ao := range l.AddOns {
			it.AddOns = append(it.AddOns, AddOn{Name: ao.Name, Price: ao.Price, Quantity: ao.Quantity})
		}
		items[i] = it
	}
	return items
}

// Order is a placed purchase. Total = Subtotal - Discount.
type Order struct {
	ID                 string
	OwnerID            string
	Items              []Item
	Status             Status
	Subtotal           decimal.Decimal
	Discount           decimal.Decimal
	Total              decimal.Decimal
	DiscountKind       pricing.Kind
	PromoCode          string
	PaymentMethod      payment.Method
	Address            address.Address
	Payment            payment.Record
	CancellationReason string
	// DiscountConflict marks a paid order whose gift card had already been
	// consumed elsewhere when the payment was confirmed.
	DiscountConflict bool
	CreatedAt        time.Time
	UpdatedAt        time.Time
}

// UsesGiftCard reports whether the order's discount consumes a gift card.
func (o *Order) UsesGiftCard() bool {
	return o.DiscountKind == pricing.KindGiftCard && o.PromoCode != ""
}

// Transition is a conditional status change. It applies only while the
// stored status still equals From.
type Transition struct {
	OrderID            string
	From               Status
	To                 Status
	CancellationReason string
	// Payment replaces the stored payment record when set.
	Payment *payment.Record
	At      time.Time
}

// Filter narrows List. An empty OwnerID lists every order.
type Filter struct {
	OwnerID string
	Limit   int
}

// Repository persists orders.
type Repository interface {
	Create(ctx context.Context, o *Order) error
	GetByID(ctx context.Context, id string) (*Order, error)
	List(ctx context.Context, f Filter) ([]Order, error)
	SetPaymentSession(ctx context.Context, id, sessionID string) error
	// Transition applies t and reports whether a row changed. Losing a race
	// is (false, nil).
	Transition(ctx context.Context, t Transition) (bool, error)
	MarkDiscountConflict(ctx context.Context, id string) error
}
