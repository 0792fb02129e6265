package pricing

import (
	"context"
	"time"

	"github.com/go-faster/errors"
	"github.com/shopspring/decimal"

	"github.com/xenking/kart-storefront/internal/domain/cart"
	"github.com/xenking/kart-storefront/internal/domain/coupon"
	"github.com/xenking/kart-storefront/internal/domain/giftcard"
)

// GiftCardFinder is the read side of the gift card ledger.
type GiftCardFinder interface {
	FindByCode(ctx context.Context, code string) (*giftcard.GiftCard, error)
}

// Resolver looks promo codes up and prices carts with Quote. It only reads.
type Resolver struct {
	coupons   coupon.Repository
	giftCards GiftCardFinder
	now       func() time.Time
}

// NewResolver creates a Resolver.
func NewResolver(coupons coupon.Repository, giftCards GiftCardFinder) *Resolver {
	return &Resolver{coupons: coupons, giftCards: giftCards, now: time.Now}
}

// Resolve prices the given cart lines with an optional code.
func (r *Resolver) Resolve(ctx context.Context, lines []cart.Line, code string) (Result, error) {
	return r.Preview(ctx, cart.Subtotal(lines), code)
}

// Preview prices a bare subtotal with an optional code.
func (r *Resolver) Preview(ctx context.Context, subtotal decimal.Decimal, code string) (Result, error) {
	now := r.now()
	promo, err := r.Lookup(ctx, code, subtotal, now)
	if err != nil {
		return Result{}, err
	}
	return QuoteSubtotal(subtotal, promo, now), nil
}

// Lookup fetches what a code refers to. The gift card ledger is only
// consulted when no applicable coupon exists for the code.
func (r *Resolver) Lookup(ctx context.Context, code string, subtotal decimal.Decimal, now time.Time) (Promotion, error) {
	code = giftcard.NormalizeCode(code)
	promo := Promotion{Code: code}
	if code == "" {
		return promo, nil
	}

	c, err := r.coupons.FindByCode(ctx, code)
	switch {
	case err == nil:
		promo.Coupon = c
		if c.Check(subtotal.Round(2), now) == nil {
			return promo, nil
		}
	case !errors.Is(err, coupon.ErrNotFound):
		return Promotion{}, errors.Wrap(err, "find coupon")
	}

	g, err := r.giftCards.FindByCode(ctx, code)
	switch {
	case err == nil:
		promo.GiftCard = g
	case !errors.Is(err, giftcard.ErrNotFound):
		return Promotion{}, errors.Wrap(err, "find gift card")
	}
	return promo, nil
}
