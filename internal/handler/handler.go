// Package handler is the HTTP surface of the storefront: a chi router with
// strict JSON request decoding and categorised error responses.
package handler

import (
	"context"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/shopspring/decimal"

	"github.com/xenking/kart-storefront/internal/domain/auth"
	"github.com/xenking/kart-storefront/internal/domain/cart"
	"github.com/xenking/kart-storefront/internal/domain/checkout"
	"github.com/xenking/kart-storefront/internal/domain/giftcard"
	"github.com/xenking/kart-storefront/internal/domain/order"
	"github.com/xenking/kart-storefront/internal/domain/pricing"
)

// Checkout is the orchestrator as seen by the HTTP layer.
type Checkout interface {
	CreateOrder(ctx context.Context, actor auth.Actor, in checkout.CreateOrderInput) (*checkout.Placement, error)
	VerifyPayment(ctx context.Context, in checkout.VerifyInput) (*order.Order, error)
	UpdateStatus(ctx context.Context, actor auth.Actor, in checkout.UpdateStatusInput) (*order.Order, error)
	GetOrder(ctx context.Context, actor auth.Actor, id string) (*order.Order, error)
	ListOrders(ctx context.Context, actor auth.Actor, limit int) ([]order.Order, error)

	LookupDiscount(ctx context.Context, code string) (*checkout.Discount, error)
	PreviewDiscount(ctx context.Context, code string, cartValue decimal.Decimal) (pricing.Result, error)

	PurchaseGiftCard(ctx context.Context, actor auth.Actor, in checkout.PurchaseGiftCardInput) (*checkout.GiftCardPurchase, error)
	VerifyGiftCardPayment(ctx context.Context, in checkout.VerifyGiftCardInput) (*giftcard.GiftCard, error)
	RedeemGiftCard(ctx context.Context, actor auth.Actor, code, orderID string) (*giftcard.GiftCard, error)
}

// Carts is the cart aggregator as seen by the HTTP layer.
type Carts interface {
	GetOrCreate(ctx context.Context, ownerID string) (*cart.Cart, error)
	AddItem(ctx context.Context, ownerID string, req cart.AddItemRequest) (*cart.Cart, error)
	UpdateQuantity(ctx context.Context, ownerID, lineID string, quantity int) (*cart.Cart, error)
	RemoveItem(ctx context.Context, ownerID, lineID string) (*cart.Cart, error)
	Clear(ctx context.Context, ownerID string) (*cart.Cart, error)
}

var (
	_ Checkout = (*checkout.Service)(nil)
	_ Carts    = (*cart.Aggregator)(nil)
)

// Handler serves the /api routes.
type Handler struct {
	checkout Checkout
	carts    Carts
	auth     *Authenticator
}

// NewHandler constructs a Handler with the required domain dependencies.
func NewHandler(co Checkout, carts Carts, authn *Authenticator) *Handler {
	return &Handler{checkout: co, carts: carts, auth: authn}
}

// Routes returns the API router. Payment callbacks and discount lookups are
// public; everything else needs a bearer token.
func (h *Handler) Routes() chi.Router {
	r := chi.NewRouter()
	r.Use(h.auth.Middleware)
	r.NotFound(func(w http.ResponseWriter, _ *http.Request) {
		writeProblem(w, http.StatusNotFound, "not_found", "route not found")
	})
	r.MethodNotAllowed(func(w http.ResponseWriter, _ *http.Request) {
		writeProblem(w, http.StatusMethodNotAllowed, "method_not_allowed", "method not allowed")
	})

	r.Post("/orders/verify", h.VerifyPayment)
	r.Get("/discount/{code}", h.LookupDiscount)
	r.Post("/discount/apply", h.ApplyDiscount)
	r.Post("/giftcard/verify", h.VerifyGiftCard)

	r.Group(func(r chi.Router) {
		r.Use(requireActor)

		r.Post("/orders", h.CreateOrder)
		r.Put("/orders/status", h.UpdateOrderStatus)
		r.Get("/orders", h.ListOrders)
		r.Get("/orders/{id}", h.GetOrder)

		r.Post("/giftcard", h.PurchaseGiftCard)
		r.Patch("/giftcard/redeem/{code}", h.RedeemGiftCard)

		r.Get("/cart", h.GetCart)
		r.Delete("/cart", h.ClearCart)
		r.Post("/cart/items", h.AddCartItem)
		r.Patch("/cart/items/{lineId}", h.UpdateCartItem)
		r.Delete("/cart/items/{lineId}", h.RemoveCartItem)
	})
	return r
}
