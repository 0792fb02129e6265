package checkout

import (
	"context"

	"github.com/go-faster/errors"
	"github.com/shopspring/decimal"

	"github.com/xenking/kart-storefront/internal/domain/apperr"
	"github.com/xenking/kart-storefront/internal/domain/coupon"
	"github.com/xenking/kart-storefront/internal/domain/giftcard"
	"github.com/xenking/kart-storefront/internal/domain/pricing"
)

var (
	// ErrCodeRequired is returned when a discount request has no code.
	ErrCodeRequired = apperr.New(apperr.KindValidation, "code is required")
	// ErrInvalidCartValue is returned for a negative cart value.
	ErrInvalidCartValue = apperr.New(apperr.KindValidation, "cartValue must not be negative")
)

// Discount describes what a promo code refers to. Exactly one of Coupon and
// GiftCard is set.
type Discount struct {
	Kind     pricing.Kind
	Coupon   *coupon.Coupon
	GiftCard *giftcard.GiftCard
}

// LookupDiscount returns the coupon, or failing that the gift card, behind
// code. Coupons take precedence as they do at checkout.
func (s *Service) LookupDiscount(ctx context.Context, code string) (*Discount, error) {
	code = giftcard.NormalizeCode(code)
	if code == "" {
		return nil, ErrCodeRequired
	}
	promo, err := s.Pricer.Lookup(ctx, code, decimal.Zero, s.now())
	if err != nil {
		return nil, errors.Wrap(err, "lookup discount")
	}
	switch {
	case promo.Coupon != nil:
		return &Discount{Kind: pricing.KindCoupon, Coupon: promo.Coupon}, nil
	case promo.GiftCard != nil:
		return &Discount{Kind: pricing.KindGiftCard, GiftCard: promo.GiftCard}, nil
	default:
		return nil, pricing.ErrUnknownCode
	}
}

// PreviewDiscount prices cartValue with code without consuming anything.
// A code that does not apply yields a Result with Rejection set.
func (s *Service) PreviewDiscount(ctx context.Context, code string, cartValue decimal.Decimal) (pricing.Result, error) {
	if giftcard.NormalizeCode(code) == "" {
		return pricing.Result{}, ErrCodeRequired
	}
	if cartValue.IsNegative() {
		return pricing.Result{}, ErrInvalidCartValue
	}
	res, err := s.Pricer.Preview(ctx, cartValue, code)
	if err != nil {
		return pricing.Result{}, errors.Wrap(err, "preview discount")
	}
	return res, nil
}
