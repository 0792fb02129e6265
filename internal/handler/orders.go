package handler

import (
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/go-faster/jx"

	"github.com/xenking/kart-storefront/internal/domain/apperr"
	"github.com/xenking/kart-storefront/internal/domain/auth"
	"github.com/xenking/kart-storefront/internal/domain/checkout"
	"github.com/xenking/kart-storefront/internal/domain/order"
	"github.com/xenking/kart-storefront/internal/domain/payment"
)

var errInvalidLimit = apperr.New(apperr.KindValidation, "limit must be a positive integer")

// CreateOrder handles POST /orders.
func (h *Handler) CreateOrder(w http.ResponseWriter, r *http.Request) {
	data, err := readBody(r)
	if err != nil {
		writeError(w, r, err)
		return
	}
	var (
		in     checkout.CreateOrderInput
		method string
	)
	if err := decodeObject(data, fields{
		"addressId":     str(&in.AddressID),
		"promoCode":     optStr(&in.PromoCode),
		"cartId":        str(&in.CartID),
		"paymentMethod": str(&method),
	}); err != nil {
		writeError(w, r, err)
		return
	}
	in.PaymentMethod = payment.Method(method)

	p, err := h.checkout.CreateOrder(r.Context(), auth.FromContext(r.Context()), in)
	if err != nil {
		writeError(w, r, err)
		return
	}
	if p.SessionID == "" {
		writeJSON(w, http.StatusCreated, func(e *jx.Encoder) { encodeOrder(e, p.Order) })
		return
	}
	writeJSON(w, http.StatusCreated, func(e *jx.Encoder) {
		e.Obj(func(e *jx.Encoder) {
			e.Field("order", func(e *jx.Encoder) { encodeOrder(e, p.Order) })
			strField(e, "sessionId", p.SessionID)
			strField(e, "approvalUrl", p.ApprovalURL)
		})
	})
}

// VerifyPayment handles POST /orders/verify, the payer's return from the
// provider.
func (h *Handler) VerifyPayment(w http.ResponseWriter, r *http.Request) {
	data, err := readBody(r)
	if err != nil {
		writeError(w, r, err)
		return
	}
	var in checkout.VerifyInput
	if err := decodeObject(data, fields{
		"orderId":    str(&in.OrderID),
		"payerToken": str(&in.PayerToken),
		"sessionId":  str(&in.SessionID),
	}); err != nil {
		writeError(w, r, err)
		return
	}

	o, err := h.checkout.VerifyPayment(r.Context(), in)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, func(e *jx.Encoder) { encodeOrder(e, o) })
}

// UpdateOrderStatus handles PUT /orders/status.
func (h *Handler) UpdateOrderStatus(w http.ResponseWriter, r *http.Request) {
	data, err := readBody(r)
	if err != nil {
		writeError(w, r, err)
		return
	}
	var (
		in     checkout.UpdateStatusInput
		status string
	)
	if err := decodeObject(data, fields{
		"orderId":            str(&in.OrderID),
		"status":             str(&status),
		"cancellationReason": optStr(&in.CancellationReason),
	}); err != nil {
		writeError(w, r, err)
		return
	}
	in.Status = order.Status(status)

	o, err := h.checkout.UpdateStatus(r.Context(), auth.FromContext(r.Context()), in)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, func(e *jx.Encoder) { encodeOrder(e, o) })
}

// GetOrder handles GET /orders/{id}.
func (h *Handler) GetOrder(w http.ResponseWriter, r *http.Request) {
	o, err := h.checkout.GetOrder(r.Context(), auth.FromContext(r.Context()), chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, func(e *jx.Encoder) { encodeOrder(e, o) })
}

// ListOrders handles GET /orders?limit=N.
func (h *Handler) ListOrders(w http.ResponseWriter, r *http.Request) {
	limit := 0
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 {
			writeError(w, r, errInvalidLimit)
			return
		}
		limit = n
	}

	orders, err := h.checkout.ListOrders(r.Context(), auth.FromContext(r.Context()), limit)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, func(e *jx.Encoder) {
		e.Arr(func(e *jx.Encoder) {
			for i := range orders {
				encodeOrder(e, &orders[i])
			}
		})
	})
}

func encodeOrder(e *jx.Encoder, o *order.Order) {
	e.Obj(func(e *jx.Encoder) {
		strField(e, "id", o.ID)
		strField(e, "ownerId", o.OwnerID)
		strField(e, "status", string(o.Status))
		e.Field("items", func(e *jx.Encoder) {
			e.Arr(func(e *jx.Encoder) {
				for _, it := range o.Items {
					encodeItem(e, it)
				}
			})
		})
		moneyField(e, "subtotal", o.Subtotal)
		moneyField(e, "discount", o.Discount)
		moneyField(e, "total", o.Total)
		strField(e, "discountKind", string(o.DiscountKind))
		if o.PromoCode != "" {
			strField(e, "promoCode", o.PromoCode)
		}
		strField(e, "paymentMethod", string(o.PaymentMethod))
		e.Field("address", func(e *jx.Encoder) {
			e.Obj(func(e *jx.Encoder) {
				strField(e, "id", o.Address.ID)
				strField(e, "name", o.Address.Name)
				strField(e, "phone", o.Address.Phone)
				strField(e, "line1", o.Address.Line1)
				if o.Address.Line2 != "" {
					strField(e, "line2", o.Address.Line2)
				}
				strField(e, "city", o.Address.City)
				strField(e, "postalCode", o.Address.PostalCode)
			})
		})
		if o.Payment.SessionID != "" {
			e.Field("payment", func(e *jx.Encoder) { encodePayment(e, o.Payment) })
		}
		if o.CancellationReason != "" {
			strField(e, "cancellationReason", o.CancellationReason)
		}
		if o.DiscountConflict {
			e.Field("discountConflict", func(e *jx.Encoder) { e.Bool(true) })
		}
		e.Field("createdAt", func(e *jx.Encoder) { encodeTime(e, o.CreatedAt) })
		e.Field("updatedAt", func(e *jx.Encoder) { encodeTime(e, o.UpdatedAt) })
	})
}

func encodeItem(e *jx.Encoder, it order.Item) {
	e.Obj(func(e *jx.Encoder) {
		strField(e, "menuItemId", it.MenuItemID)
		strField(e, "name", it.Name)
		strField(e, "variant", it.Variant)
		moneyField(e, "unitPrice", it.UnitPrice)
		if len(it.AddOns) > 0 {
			e.Field("addOns", func(e *jx.Encoder) {
				e.Arr(func(e *jx.Encoder) {
					for _, a := range it.AddOns {
						e.Obj(func(e *jx.Encoder) {
							strField(e, "name", a.Name)
							moneyField(e, "price", a.Price)
							e.Field("quantity", func(e *jx.Encoder) { e.Int(a.Quantity) })
						})
					}
				})
			})
		}
		e.Field("quantity", func(e *jx.Encoder) { e.Int(it.Quantity) })
		moneyField(e, "lineTotal", it.LineTotal)
	})
}

func encodePayment(e *jx.Encoder, p payment.Record) {
	e.Obj(func(e *jx.Encoder) {
		strField(e, "sessionId", p.SessionID)
		if p.PaymentID != "" {
			strField(e, "paymentId", p.PaymentID)
		}
		if p.State != "" {
			strField(e, "state", p.State)
		}
		if p.Currency != "" {
			moneyField(e, "amount", p.Amount)
			strField(e, "currency", p.Currency)
		}
	})
}
