// Package pricing resolves the single authoritative discount for an order.
//
// Coupons and gift cards are mutually exclusive: a code is first tried as a
// coupon and only then as a gift card. Nothing here mutates coupon or gift
// card state; redemption is the caller's job once a Result is accepted.
package pricing

import (
	"time"

	"github.com/shopspring/decimal"

	"github.com/xenking/kart-storefront/internal/domain/apperr"
	"github.com/xenking/kart-storefront/internal/domain/cart"
	"github.com/xenking/kart-storefront/internal/domain/coupon"
	"github.com/xenking/kart-storefront/internal/domain/giftcard"
)

// ErrUnknownCode is the rejection when a code matches neither a coupon nor a
// gift card.
var ErrUnknownCode = apperr.New(apperr.KindNotFound, "discount code not found")

// Kind identifies which mechanism produced the discount.
type Kind string

const (
	KindNone     Kind = "none"
	KindCoupon   Kind = "coupon"
	KindGiftCard Kind = "gift_card"
)

// Promotion is the looked-up state behind a promo code. Either pointer may
// be nil when no record exists for the code.
type Promotion struct {
	Code     string
	Coupon   *coupon.Coupon
	GiftCard *giftcard.GiftCard
}

// Result is the priced outcome. Total == Subtotal - Discount and
// 0 <= Discount <= Subtotal always hold.
type Result struct {
	Subtotal decimal.Decimal
	Discount decimal.Decimal
	Total    decimal.Decimal
	Kind     Kind
	Code     string
	// Rejection explains why a supplied code produced no discount.
	Rejection error
}

// Quote prices cart lines with an optional promotion.
func Quote(lines []cart.Line, promo Promotion, now time.Time) Result {
	return QuoteSubtotal(cart.Subtotal(lines), promo, now)
}

// QuoteSubtotal prices a bare subtotal, used by discount previews.
func QuoteSubtotal(subtotal decimal.Decimal, promo Promotion, now time.Time) Result {
	subtotal = subtotal.Round(2)
	res := Result{
		Subtotal: subtotal,
		Discount: decimal.Zero,
		Kind:     KindNone,
	}

	if promo.Code != "" {
		var couponErr, giftErr error
		if promo.Coupon != nil {
			couponErr = promo.Coupon.Check(subtotal, now)
			if couponErr == nil {
				res.Discount = promo.Coupon.Discount(subtotal)
				res.Kind = KindCoupon
			}
		}
		if res.Kind == KindNone && promo.GiftCard != nil {
			giftErr = promo.GiftCard.Usable(now)
			if giftErr == nil {
				res.Discount = promo.GiftCard.Amount
				res.Kind = KindGiftCard
			}
		}

		switch {
		case res.Kind != KindNone:
			res.Code = promo.Code
		case couponErr != nil:
			res.Rejection = couponErr
		case giftErr != nil:
			res.Rejection = giftErr
		default:
			res.Rejection = ErrUnknownCode
		}
	}

	if res.Discount.GreaterThan(subtotal) {
		res.Discount = subtotal
	}
	if res.Discount.IsNegative() {
		res.Discount = decimal.Zero
	}
	res.Discount = res.Discount.Round(2)
	res.Total = subtotal.Sub(res.Discount)
	return res
}
