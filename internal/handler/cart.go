package handler

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-faster/jx"

	"github.com/xenking/kart-storefront/internal/domain/auth"
	"github.com/xenking/kart-storefront/internal/domain/cart"
)

// GetCart handles GET /cart.
func (h *Handler) GetCart(w http.ResponseWriter, r *http.Request) {
	c, err := h.carts.GetOrCreate(r.Context(), auth.FromContext(r.Context()).UserID)
	h.respondCart(w, r, c, err)
}

// ClearCart handles DELETE /cart.
func (h *Handler) ClearCart(w http.ResponseWriter, r *http.Request) {
	c, err := h.carts.Clear(r.Context(), auth.FromContext(r.Context()).UserID)
	h.respondCart(w, r, c, err)
}

// AddCartItem handles POST /cart/items.
func (h *Handler) AddCartItem(w http.ResponseWriter, r *http.Request) {
	data, err := readBody(r)
	if err != nil {
		writeError(w, r, err)
		return
	}
	var req cart.AddItemRequest
	if err := decodeObject(data, fields{
		"menuItemId": str(&req.MenuItemID),
		"variant":    str(&req.VariantName),
		"quantity":   integer(&req.Quantity),
		"addOns": array(func(d *jx.Decoder) error {
			var ao cart.AddOnChoice
			if err := object(fields{
				"name":     str(&ao.Name),
				"quantity": integer(&ao.Quantity),
			})(d); err != nil {
				return err
			}
			req.AddOns = append(req.AddOns, ao)
			return nil
		}),
	}); err != nil {
		writeError(w, r, err)
		return
	}

	c, err := h.carts.AddItem(r.Context(), auth.FromContext(r.Context()).UserID, req)
	h.respondCart(w, r, c, err)
}

// UpdateCartItem handles PATCH /cart/items/{lineId}.
func (h *Handler) UpdateCartItem(w http.ResponseWriter, r *http.Request) {
	data, err := readBody(r)
	if err != nil {
		writeError(w, r, err)
		return
	}
	var quantity int
	if err := decodeObject(data, fields{"quantity": integer(&quantity)}); err != nil {
		writeError(w, r, err)
		return
	}

	c, err := h.carts.UpdateQuantity(r.Context(), auth.FromContext(r.Context()).UserID, chi.URLParam(r, "lineId"), quantity)
	h.respondCart(w, r, c, err)
}

// RemoveCartItem handles DELETE /cart/items/{lineId}.
func (h *Handler) RemoveCartItem(w http.ResponseWriter, r *http.Request) {
	c, err := h.carts.RemoveItem(r.Context(), auth.FromContext(r.Context()).UserID, chi.URLParam(r, "lineId"))
	h.respondCart(w, r, c, err)
}

func (h *Handler) respondCart(w http.ResponseWriter, r *http.Request, c *cart.Cart, err error) {
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, func(e *jx.Encoder) { encodeCart(e, c) })
}

func encodeCart(e *jx.Encoder, c *cart.Cart) {
	e.Obj(func(e *jx.Encoder) {
		strField(e, "id", c.ID)
		e.Field("lines", func(e *jx.Encoder) {
			e.Arr(func(e *jx.Encoder) {
				for _, l := range c.Lines {
					e.Obj(func(e *jx.Encoder) {
						strField(e, "id", l.ID)
						strField(e, "menuItemId", l.MenuItemID)
						strField(e, "name", l.Name)
						e.Field("variant", func(e *jx.Encoder) {
							e.Obj(func(e *jx.Encoder) {
								strField(e, "name", l.Variant.Name)
								moneyField(e, "price", l.Variant.Price)
							})
						})
						e.Field("addOns", func(e *jx.Encoder) {
							e.Arr(func(e *jx.Encoder) {
								for _, a := range l.AddOns {
									e.Obj(func(e *jx.Encoder) {
										strField(e, "name", a.Name)
										moneyField(e, "price", a.Price)
										e.Field("quantity", func(e *jx.Encoder) { e.Int(a.Quantity) })
									})
								}
							})
						})
						e.Field("quantity", func(e *jx.Encoder) { e.Int(l.Quantity) })
						moneyField(e, "lineTotal", l.Total())
					})
				}
			})
		})
		moneyField(e, "totalAmount", c.TotalAmount)
		e.Field("updatedAt", func(e *jx.Encoder) { encodeTime(e, c.UpdatedAt) })
	})
}
