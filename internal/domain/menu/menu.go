// Package menu holds the read-only catalog view consumed by the cart.
package menu

import (
	"context"

	"github.com/shopspring/decimal"

	"github.com/xenking/kart-storefront/internal/domain/apperr"
)

// ErrNotFound is returned when a requested menu item does not exist.
var ErrNotFound = apperr.New(apperr.KindNotFound, "menu item not found")

// Item is a catalog entry with its purchasable variants and optional add-ons.
type Item struct {
	ID       string
	Name     string
	Category string
	Variants []Variant
	AddOns   []AddOn
}

// Variant is a sized/priced form of an item, e.g. "small" or "large".
type Variant struct {
	Name  string
	Price decimal.Decimal
}

// AddOn is an optional extra that can be attached to a cart line.
type AddOn struct {
	Name  string
	Price decimal.Decimal
}

// Variant returns the variant with the given name.
func (i *Item) Variant(name string) (Variant, bool) {
	for _, v := range i.Variants {
		if v.Name == name {
			return v, true
		}
	}
	return Variant{}, false
}

// AddOn returns the add-on with the given name.
func (i *Item) AddOn(name string) (AddOn, bool) {
	for _, a := range i.AddOns {
		if a.Name == name {
			return a, true
		}
	}
	return AddOn{}, false
}

// Repository defines read operations for the menu catalog.
type Repository interface {
	GetByID(ctx context.Context, id string) (*Item, error)
}
