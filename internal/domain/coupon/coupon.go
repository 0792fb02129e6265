// Package coupon models percentage promotion codes and their validity rules.
package coupon

import (
	"context"
	"time"

	"github.com/shopspring/decimal"

	"github.com/xenking/kart-storefront/internal/domain/apperr"
)

var (
	// ErrNotFound is returned when no coupon exists for a code.
	ErrNotFound = apperr.New(apperr.KindNotFound, "coupon not found")
	// ErrInactive is returned when the coupon has been switched off.
	ErrInactive = apperr.New(apperr.KindConflict, "coupon is not active")
	// ErrNotYetValid is returned before the coupon's validity window opens.
	ErrNotYetValid = apperr.New(apperr.KindConflict, "coupon is not valid yet")
	// ErrExpired is returned after the coupon's validity window closed.
	ErrExpired = apperr.New(apperr.KindConflict, "coupon expired")
)

var hundred = decimal.NewFromInt(100)

// Coupon is a percentage discount with an absolute cap, a minimum order value
// and a validity window. Coupons are managed by the admin backoffice; this
// service only reads them.
type Coupon struct {
	Code               string
	DiscountPercentage decimal.Decimal
	UpperLimit         decimal.Decimal
	MinimumOrderValue  decimal.Decimal
	ValidFrom          time.Time
	ValidTo            time.Time
	Active             bool
}

// BelowMinimumError indicates the order subtotal does not reach the coupon's
// minimum order value.
type BelowMinimumError struct {
	Minimum  decimal.Decimal
	Subtotal decimal.Decimal
}

func (e *BelowMinimumError) Error() string {
	return "order value " + e.Subtotal.StringFixed(2) + " is below the coupon minimum of " + e.Minimum.StringFixed(2)
}

// ErrorKind implements apperr.Kinded.
func (e *BelowMinimumError) ErrorKind() apperr.Kind { return apperr.KindConflict }

// Check reports why the coupon cannot be applied to an order of the given
// subtotal at time now, or nil when it applies. The window is inclusive.
func (c *Coupon) Check(subtotal decimal.Decimal, now time.Time) error {
	switch {
	case !c.Active:
		return ErrInactive
	case now.Before(c.ValidFrom):
		return ErrNotYetValid
	case now.After(c.ValidTo):
		return ErrExpired
	case subtotal.LessThan(c.MinimumOrderValue):
		return &BelowMinimumError{Minimum: c.MinimumOrderValue, Subtotal: subtotal}
	}
	return nil
}

// Discount computes min(subtotal * pct / 100, upperLimit), rounded to cents.
// It does not check validity.
func (c *Coupon) Discount(subtotal decimal.Decimal) decimal.Decimal {
	amount := subtotal.Mul(c.DiscountPercentage).Div(hundred)
	if amount.GreaterThan(c.UpperLimit) {
		amount = c.UpperLimit
	}
	if amount.IsNegative() {
		amount = decimal.Zero
	}
	return amount.Round(2)
}

// Repository provides read access to coupons.
type Repository interface {
	FindByCode(ctx context.Context, code string) (*Coupon, error)
}
