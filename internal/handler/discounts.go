package handler

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-faster/jx"
	"github.com/shopspring/decimal"

	"github.com/xenking/kart-storefront/internal/domain/apperr"
	"github.com/xenking/kart-storefront/internal/domain/coupon"
	"github.com/xenking/kart-storefront/internal/domain/giftcard"
	"github.com/xenking/kart-storefront/internal/domain/pricing"
)

// LookupDiscount handles GET /discount/{code}.
func (h *Handler) LookupDiscount(w http.ResponseWriter, r *http.Request) {
	d, err := h.checkout.LookupDiscount(r.Context(), chi.URLParam(r, "code"))
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, func(e *jx.Encoder) {
		e.Obj(func(e *jx.Encoder) {
			strField(e, "kind", string(d.Kind))
			switch {
			case d.Coupon != nil:
				e.Field("coupon", func(e *jx.Encoder) { encodeCoupon(e, d.Coupon) })
			case d.GiftCard != nil:
				e.Field("giftCard", func(e *jx.Encoder) { encodeGiftCardPublic(e, d.GiftCard) })
			}
		})
	})
}

// ApplyDiscount handles POST /discount/apply. It previews the discount for
// a cart value without consuming anything. A code that exists but does not
// apply answers 422 with the reason.
func (h *Handler) ApplyDiscount(w http.ResponseWriter, r *http.Request) {
	data, err := readBody(r)
	if err != nil {
		writeError(w, r, err)
		return
	}
	var (
		code      string
		cartValue decimal.Decimal
	)
	if err := decodeObject(data, fields{
		"code":      str(&code),
		"cartValue": money(&cartValue),
	}); err != nil {
		writeError(w, r, err)
		return
	}

	res, err := h.checkout.PreviewDiscount(r.Context(), code, cartValue)
	if err != nil {
		writeError(w, r, err)
		return
	}
	if res.Rejection != nil {
		writeProblem(w, http.StatusUnprocessableEntity, string(apperr.KindOf(res.Rejection)), apperr.Message(res.Rejection))
		return
	}
	writeJSON(w, http.StatusOK, func(e *jx.Encoder) { encodeQuote(e, res) })
}

func encodeQuote(e *jx.Encoder, res pricing.Result) {
	e.Obj(func(e *jx.Encoder) {
		strField(e, "kind", string(res.Kind))
		strField(e, "code", res.Code)
		moneyField(e, "subtotal", res.Subtotal)
		moneyField(e, "discount", res.Discount)
		moneyField(e, "total", res.Total)
	})
}

func encodeCoupon(e *jx.Encoder, c *coupon.Coupon) {
	e.Obj(func(e *jx.Encoder) {
		strField(e, "code", c.Code)
		e.Field("discountPercentage", func(e *jx.Encoder) { e.Raw([]byte(c.DiscountPercentage.String())) })
		moneyField(e, "upperLimit", c.UpperLimit)
		moneyField(e, "minimumOrderValue", c.MinimumOrderValue)
		e.Field("validFrom", func(e *jx.Encoder) { encodeTime(e, c.ValidFrom) })
		e.Field("validTo", func(e *jx.Encoder) { encodeTime(e, c.ValidTo) })
		e.Field("active", func(e *jx.Encoder) { e.Bool(c.Active) })
	})
}

// encodeGiftCardPublic omits purchaser, recipient and payment details.
func encodeGiftCardPublic(e *jx.Encoder, g *giftcard.GiftCard) {
	e.Obj(func(e *jx.Encoder) {
		strField(e, "code", g.Code)
		moneyField(e, "amount", g.Amount)
		strField(e, "status", string(g.Status))
		e.Field("isRedeemed", func(e *jx.Encoder) { e.Bool(g.IsRedeemed) })
		if g.ExpiresAt != nil {
			e.Field("expiresAt", func(e *jx.Encoder) { encodeTime(e, *g.ExpiresAt) })
		}
	})
}
