package checkout

import (
	"context"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"github.com/xenking/kart-storefront/internal/domain/address"
	"github.com/xenking/kart-storefront/internal/domain/cart"
	"github.com/xenking/kart-storefront/internal/domain/coupon"
	"github.com/xenking/kart-storefront/internal/domain/giftcard"
	"github.com/xenking/kart-storefront/internal/domain/notify"
	"github.com/xenking/kart-storefront/internal/domain/order"
	"github.com/xenking/kart-storefront/internal/domain/payment"
	"github.com/xenking/kart-storefront/internal/domain/pricing"
)

// memDB backs the order and gift card fakes. InTx snapshots both maps and
// restores them when fn fails.
type memDB struct {
	mu     sync.Mutex
	txMu   sync.Mutex
	orders map[string]order.Order
	cards  map[string]giftcard.GiftCard

	redeemCalls int
}

func newMemDB() *memDB {
	return &memDB{orders: map[string]order.Order{}, cards: map[string]giftcard.GiftCard{}}
}

func (db *memDB) InTx(ctx context.Context, fn func(ctx context.Context) error) error {
	db.txMu.Lock()
	defer db.txMu.Unlock()

	db.mu.Lock()
	orders := make(map[string]order.Order, len(db.orders))
	for k, v := range db.orders {
		orders[k] = v
	}
	cards := make(map[string]giftcard.GiftCard, len(db.cards))
	for k, v := range db.cards {
		cards[k] = v
	}
	db.mu.Unlock()

	if err := fn(ctx); err != nil {
		db.mu.Lock()
		db.orders, db.cards = orders, cards
		db.mu.Unlock()
		return err
	}
	return nil
}

type memOrders struct{ db *memDB }

var _ order.Repository = memOrders{}

func (r memOrders) Create(_ context.Context, o *order.Order) error {
	r.db.mu.Lock()
	defer r.db.mu.Unlock()
	r.db.orders[o.ID] = *o
	return nil
}

func (r memOrders) GetByID(_ context.Context, id string) (*order.Order, error) {
	r.db.mu.Lock()
	defer r.db.mu.Unlock()
	o, ok := r.db.orders[id]
	if !ok {
		return nil, order.ErrNotFound
	}
	return &o, nil
}

func (r memOrders) List(_ context.Context, f order.Filter) ([]order.Order, error) {
	r.db.mu.Lock()
	defer r.db.mu.Unlock()
	var out []order.Order
	for _, o := range r.db.orders {
		if f.OwnerID == "" || o.OwnerID == f.OwnerID {
			out = append(out, o)
		}
	}
	return out, nil
}

func (r memOrders) SetPaymentSession(_ context.Context, id, sessionID string) error {
	r.db.mu.Lock()
	defer r.db.mu.Unlock()
	o, ok := r.db.orders[id]
	if !ok {
		return order.ErrNotFound
	}
	o.Payment.SessionID = sessionID
	r.db.orders[id] = o
	return nil
}

func (r memOrders) Transition(_ context.Context, t order.Transition) (bool, error) {
	r.db.mu.Lock()
	defer r.db.mu.Unlock()
	o, ok := r.db.orders[t.OrderID]
	if !ok || o.Status != t.From {
		return false, nil
	}
	o.Status = t.To
	if t.CancellationReason != "" {
		o.CancellationReason = t.CancellationReason
	}
	if t.Payment != nil {
		o.Payment = *t.Payment
	}
	o.UpdatedAt = t.At
	r.db.orders[t.OrderID] = o
	return true, nil
}

func (r memOrders) MarkDiscountConflict(_ context.Context, id string) error {
	r.db.mu.Lock()
	defer r.db.mu.Unlock()
	o := r.db.orders[id]
	o.DiscountConflict = true
	r.db.orders[id] = o
	return nil
}

type memGiftCards struct{ db *memDB }

var _ giftcard.Repository = memGiftCards{}

func (r memGiftCards) Create(_ context.Context, card *giftcard.GiftCard) error {
	r.db.mu.Lock()
	defer r.db.mu.Unlock()
	r.db.cards[card.Code] = *card
	return nil
}

func (r memGiftCards) FindByCode(_ context.Context, code string) (*giftcard.GiftCard, error) {
	r.db.mu.Lock()
	defer r.db.mu.Unlock()
	g, ok := r.db.cards[code]
	if !ok {
		return nil, giftcard.ErrNotFound
	}
	return &g, nil
}

func (r memGiftCards) SetPaymentSession(_ context.Context, code, sessionID string) error {
	r.db.mu.Lock()
	defer r.db.mu.Unlock()
	g := r.db.cards[code]
	g.Payment.SessionID = sessionID
	r.db.cards[code] = g
	return nil
}

func (r memGiftCards) MarkIssued(_ context.Context, code string, rec payment.Record, at time.Time) (bool, error) {
	r.db.mu.Lock()
	defer r.db.mu.Unlock()
	g, ok := r.db.cards[code]
	if !ok || g.Status != giftcard.StatusDraft {
		return false, nil
	}
	g.Status = giftcard.StatusIssued
	g.Payment = rec
	g.UpdatedAt = at
	r.db.cards[code] = g
	return true, nil
}

func (r memGiftCards) Redeem(_ context.Context, code, orderID string, at time.Time) error {
	r.db.mu.Lock()
	defer r.db.mu.Unlock()
	r.db.redeemCalls++
	g, ok := r.db.cards[code]
	if !ok {
		return giftcard.ErrNotFound
	}
	if err := g.Usable(at); err != nil {
		return err
	}
	g.IsRedeemed = true
	g.Status = giftcard.StatusRedeemed
	g.RedeemedBy = orderID
	r.db.cards[code] = g
	return nil
}

type fakeCarts struct {
	mu     sync.Mutex
	carts  map[string]*cart.Cart
	clears int
}

func (f *fakeCarts) Snapshot(_ context.Context, ownerID string) (*cart.Cart, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	c, ok := f.carts[ownerID]
	if !ok {
		return nil, cart.ErrNotFound
	}
	return c.Clone(), nil
}

func (f *fakeCarts) Clear(_ context.Context, ownerID string) (*cart.Cart, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.clears++
	c := f.carts[ownerID]
	c.Reset()
	return c.Clone(), nil
}

type fakeAddresses struct{}

func (fakeAddresses) Get(_ context.Context, ownerID, id string) (*address.Address, error) {
	if id != "addr-1" {
		return nil, address.ErrNotFound
	}
	return &address.Address{ID: id, OwnerID: ownerID, Name: "Ada", Phone: "+100", Line1: "1 Main St", City: "Springfield"}, nil
}

// fakePricer resolves codes against in-memory coupons and the gift card
// fake, mirroring pricing.Resolver.
type fakePricer struct {
	coupons map[string]*coupon.Coupon
	cards   memGiftCards
	now     time.Time
}

func (p *fakePricer) Lookup(ctx context.Context, code string, subtotal decimal.Decimal, now time.Time) (pricing.Promotion, error) {
	code = giftcard.NormalizeCode(code)
	promo := pricing.Promotion{Code: code}
	if code == "" {
		return promo, nil
	}
	if c, ok := p.coupons[code]; ok {
		promo.Coupon = c
		if c.Check(subtotal, now) == nil {
			return promo, nil
		}
	}
	if g, err := p.cards.FindByCode(ctx, code); err == nil {
		promo.GiftCard = g
	}
	return promo, nil
}

func (p *fakePricer) Resolve(ctx context.Context, lines []cart.Line, code string) (pricing.Result, error) {
	return p.Preview(ctx, cart.Subtotal(lines), code)
}

func (p *fakePricer) Preview(ctx context.Context, subtotal decimal.Decimal, code string) (pricing.Result, error) {
	promo, err := p.Lookup(ctx, code, subtotal, p.now)
	if err != nil {
		return pricing.Result{}, err
	}
	return pricing.QuoteSubtotal(subtotal, promo, p.now), nil
}

type fakeGateway struct {
	mu           sync.Mutex
	createErr    error
	verifyErr    error
	verification payment.Verification
	verifyDelay  time.Duration
	sessions     int
	verifies     int
}

func (g *fakeGateway) CreateSession(_ context.Context, req payment.SessionRequest) (payment.Session, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.createErr != nil {
		return payment.Session{}, g.createErr
	}
	g.sessions++
	return payment.Session{ID: "PAY-" + req.Reference, ApprovalURL: "https://pay.example/approve/" + req.Reference}, nil
}

func (g *fakeGateway) VerifySession(ctx context.Context, _, _ string) (payment.Verification, error) {
	g.mu.Lock()
	g.verifies++
	delay, v, err := g.verifyDelay, g.verification, g.verifyErr
	g.mu.Unlock()
	if delay > 0 {
		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	return v, err
}

func (g *fakeGateway) verifyCount() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.verifies
}

type recordingNotifier struct {
	mu   sync.Mutex
	sent []notify.Message
}

func (n *recordingNotifier) Send(_ context.Context, msg notify.Message) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.sent = append(n.sent, msg)
	return nil
}

func (n *recordingNotifier) templates() []string {
	n.mu.Lock()
	defer n.mu.Unlock()
	out := make([]string, len(n.sent))
	for i, m := range n.sent {
		out[i] = m.Template
	}
	return out
}
