package handler

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-faster/jx"

	"github.com/xenking/kart-storefront/internal/domain/auth"
	"github.com/xenking/kart-storefront/internal/domain/checkout"
	"github.com/xenking/kart-storefront/internal/domain/giftcard"
)

// PurchaseGiftCard handles POST /giftcard.
func (h *Handler) PurchaseGiftCard(w http.ResponseWriter, r *http.Request) {
	data, err := readBody(r)
	if err != nil {
		writeError(w, r, err)
		return
	}
	var in checkout.PurchaseGiftCardInput
	if err := decodeObject(data, fields{
		"amount": money(&in.Amount),
		"recipient": object(fields{
			"name":  optStr(&in.Recipient.Name),
			"email": str(&in.Recipient.Email),
			"phone": optStr(&in.Recipient.Phone),
		}),
		"message": optStr(&in.Message),
	}); err != nil {
		writeError(w, r, err)
		return
	}

	p, err := h.checkout.PurchaseGiftCard(r.Context(), auth.FromContext(r.Context()), in)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, func(e *jx.Encoder) {
		e.Obj(func(e *jx.Encoder) {
			e.Field("giftCard", func(e *jx.Encoder) { encodeGiftCard(e, p.GiftCard) })
			strField(e, "sessionId", p.SessionID)
			strField(e, "approvalUrl", p.ApprovalURL)
		})
	})
}

// VerifyGiftCard handles POST /giftcard/verify.
func (h *Handler) VerifyGiftCard(w http.ResponseWriter, r *http.Request) {
	data, err := readBody(r)
	if err != nil {
		writeError(w, r, err)
		return
	}
	var in checkout.VerifyGiftCardInput
	if err := decodeObject(data, fields{
		"code":       str(&in.Code),
		"payerToken": str(&in.PayerToken),
		"sessionId":  str(&in.SessionID),
	}); err != nil {
		writeError(w, r, err)
		return
	}

	g, err := h.checkout.VerifyGiftCardPayment(r.Context(), in)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, func(e *jx.Encoder) { encodeGiftCardPublic(e, g) })
}

// RedeemGiftCard handles PATCH /giftcard/redeem/{code}. The optional body
// {"orderId": "..."} attributes the redemption to an order.
func (h *Handler) RedeemGiftCard(w http.ResponseWriter, r *http.Request) {
	data, err := readBody(r)
	if err != nil {
		writeError(w, r, err)
		return
	}
	var orderID string
	if len(data) > 0 {
		if err := decodeObject(data, fields{"orderId": optStr(&orderID)}); err != nil {
			writeError(w, r, err)
			return
		}
	}

	g, err := h.checkout.RedeemGiftCard(r.Context(), auth.FromContext(r.Context()), chi.URLParam(r, "code"), orderID)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, func(e *jx.Encoder) { encodeGiftCardPublic(e, g) })
}

func encodeGiftCard(e *jx.Encoder, g *giftcard.GiftCard) {
	e.Obj(func(e *jx.Encoder) {
		strField(e, "code", g.Code)
		moneyField(e, "amount", g.Amount)
		strField(e, "status", string(g.Status))
		e.Field("recipient", func(e *jx.Encoder) {
			e.Obj(func(e *jx.Encoder) {
				if g.Recipient.Name != "" {
					strField(e, "name", g.Recipient.Name)
				}
				strField(e, "email", g.Recipient.Email)
				if g.Recipient.Phone != "" {
					strField(e, "phone", g.Recipient.Phone)
				}
			})
		})
		if g.Message != "" {
			strField(e, "message", g.Message)
		}
		strField(e, "purchaserId", g.PurchaserID)
		if g.ExpiresAt != nil {
			e.Field("expiresAt", func(e *jx.Encoder) { encodeTime(e, *g.ExpiresAt) })
		}
		e.Field("createdAt", func(e *jx.Encoder) { encodeTime(e, g.CreatedAt) })
	})
}
