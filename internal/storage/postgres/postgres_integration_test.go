//go:build integration

package postgres

import (
	"context"
	"fmt"
	"log"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/go-faster/errors"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"

	"github.com/xenking/kart-storefront/internal/domain/address"
	"github.com/xenking/kart-storefront/internal/domain/coupon"
	"github.com/xenking/kart-storefront/internal/domain/giftcard"
	"github.com/xenking/kart-storefront/internal/domain/menu"
	"github.com/xenking/kart-storefront/internal/domain/order"
	"github.com/xenking/kart-storefront/internal/domain/payment"
	"github.com/xenking/kart-storefront/internal/domain/pricing"
)

var testPool *pgxpool.Pool

func TestMain(m *testing.M) {
	os.Exit(testMain(m))
}

func testMain(m *testing.M) int {
	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Minute)
	defer cancel()

	ctr, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: testcontainers.ContainerRequest{
			Image:        "postgres:16-alpine",
			ExposedPorts: []string{"5432/tcp"},
			Env: map[string]string{
				"POSTGRES_USER":     "kart",
				"POSTGRES_PASSWORD": "kart",
				"POSTGRES_DB":       "kart",
			},
			WaitingFor: wait.ForLog("database system is ready to accept connections").
				WithOccurrence(2).
				WithStartupTimeout(time.Minute),
		},
		Started: true,
	})
	if err != nil {
		log.Fatalf("start postgres: %v", err)
	}
	defer func() { _ = ctr.Terminate(context.Background()) }()

	host, err := ctr.Host(ctx)
	if err != nil {
		log.Fatalf("host: %v", err)
	}
	port, err := ctr.MappedPort(ctx, "5432/tcp")
	if err != nil {
		log.Fatalf("mapped port: %v", err)
	}

	dsn := fmt.Sprintf("postgres://kart:kart@%s:%s/kart?sslmode=disable", host, port.Port())
	testPool, err = NewPool(ctx, dsn)
	if err != nil {
		log.Fatalf("pool: %v", err)
	}
	defer testPool.Close()

	if err := RunMigrations(ctx, testPool); err != nil {
		log.Fatalf("migrations: %v", err)
	}
	return m.Run()
}

func dec(s string) decimal.Decimal { return decimal.RequireFromString(s) }

func TestMenuRepository_GetByID(t *testing.T) {
	ctx := context.Background()
	_, err := testPool.Exec(ctx, `
		INSERT INTO menu_items (id, name, category) VALUES ('burger', 'Burger', 'mains');
		INSERT INTO menu_variants (item_id, name, price, position) VALUES
			('burger', 'regular', 10.00, 0), ('burger', 'large', 12.50, 1);
		INSERT INTO menu_add_ons (item_id, name, price) VALUES ('burger', 'cheese', 1.25);
	`)
	require.NoError(t, err)

	repo := NewMenuRepository(testPool)
	item, err := repo.GetByID(ctx, "burger")
	require.NoError(t, err)
	assert.Equal(t, "Burger", item.Name)
	require.Len(t, item.Variants, 2)
	assert.Equal(t, "regular", item.Variants[0].Name)
	assert.True(t, dec("12.50").Equal(item.Variants[1].Price))
	require.Len(t, item.AddOns, 1)

	_, err = repo.GetByID(ctx, "missing")
	require.ErrorIs(t, err, menu.ErrNotFound)
}

func TestCouponRepository_FindByCode(t *testing.T) {
	ctx := context.Background()
	_, err := testPool.Exec(ctx, `INSERT INTO coupons
		(code, discount_percentage, upper_limit, minimum_order_value, valid_from, valid_to, active)
		VALUES ('SUMMER10', 10, 5.00, 20.00, now() - interval '1 day', now() + interval '1 day', TRUE)`)
	require.NoError(t, err)

	repo := NewCouponRepository(testPool)
	c, err := repo.FindByCode(ctx, "summer10")
	require.NoError(t, err)
	assert.Equal(t, "SUMMER10", c.Code)
	assert.True(t, dec("10").Equal(c.DiscountPercentage))
	assert.True(t, dec("20.00").Equal(c.MinimumOrderValue))
	assert.True(t, c.Active)

	_, err = repo.FindByCode(ctx, "NOPE")
	require.ErrorIs(t, err, coupon.ErrNotFound)
}

func TestAddressRepository_ScopedToOwner(t *testing.T) {
	ctx := context.Background()
	_, err := testPool.Exec(ctx, `INSERT INTO addresses (id, owner_id, name, phone, line1, city, postal_code)
		VALUES ('addr-int-1', 'owner-1', 'Ada', '+100', '1 Main St', 'Springfield', '12345')`)
	require.NoError(t, err)

	repo := NewAddressRepository(testPool)
	a, err := repo.Get(ctx, "owner-1", "addr-int-1")
	require.NoError(t, err)
	assert.Equal(t, "Springfield", a.City)

	_, err = repo.Get(ctx, "owner-2", "addr-int-1")
	require.ErrorIs(t, err, address.ErrNotFound)
}

func newOrder(id string) *order.Order {
	now := time.Now().UTC().Truncate(time.Microsecond)
	return &order.Order{
		ID:      id,
		OwnerID: "owner-1",
		Items: []order.Item{{
			MenuItemID: "burger", Name: "Burger", Variant: "regular",
			UnitPrice: dec("10.00"), Quantity: 2, LineTotal: dec("20.00"),
		}},
		Status:        order.StatusAwaitingPayment,
		Subtotal:      dec("20.00"),
		Discount:      dec("5.00"),
		Total:         dec("15.00"),
		DiscountKind:  pricing.KindGiftCard,
		PromoCode:     "GC-INT",
		PaymentMethod: payment.MethodOnline,
		Address:       address.Address{ID: "addr-1", Name: "Ada", City: "Springfield"},
		CreatedAt:     now,
		UpdatedAt:     now,
	}
}

func TestOrderRepository_Lifecycle(t *testing.T) {
	ctx := context.Background()
	repo := NewOrderRepository(testPool)
	o := newOrder("order-int-1")
	require.NoError(t, repo.Create(ctx, o))
	require.NoError(t, repo.SetPaymentSession(ctx, o.ID, "PAY-1"))

	got, err := repo.GetByID(ctx, o.ID)
	require.NoError(t, err)
	assert.Equal(t, order.StatusAwaitingPayment, got.Status)
	assert.Equal(t, "PAY-1", got.Payment.SessionID)
	assert.True(t, dec("15.00").Equal(got.Total))
	assert.Equal(t, pricing.KindGiftCard, got.DiscountKind)
	assert.Equal(t, "Springfield", got.Address.City)
	require.Len(t, got.Items, 1)
	assert.True(t, dec("10.00").Equal(got.Items[0].UnitPrice))

	rec := payment.Record{SessionID: "PAY-1", PaymentID: "PAYID", PayerID: "P", Amount: dec("15.00"), Currency: "USD", State: "approved"}
	ok, err := repo.Transition(ctx, order.Transition{
		OrderID: o.ID, From: order.StatusAwaitingPayment, To: order.StatusPending, Payment: &rec, At: time.Now(),
	})
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = repo.Transition(ctx, order.Transition{
		OrderID: o.ID, From: order.StatusAwaitingPayment, To: order.StatusPaymentFailed, At: time.Now(),
	})
	require.NoError(t, err)
	assert.False(t, ok, "stale from-status does not match")

	require.NoError(t, repo.MarkDiscountConflict(ctx, o.ID))
	got, err = repo.GetByID(ctx, o.ID)
	require.NoError(t, err)
	assert.Equal(t, order.StatusPending, got.Status)
	assert.Equal(t, "PAYID", got.Payment.PaymentID)
	assert.True(t, got.DiscountConflict)

	list, err := repo.List(ctx, order.Filter{OwnerID: "owner-1"})
	require.NoError(t, err)
	assert.NotEmpty(t, list)

	_, err = repo.GetByID(ctx, "missing")
	require.ErrorIs(t, err, order.ErrNotFound)
}

func createCard(t *testing.T, repo *GiftCardRepository, code string) {
	t.Helper()
	ctx := context.Background()
	require.NoError(t, repo.Create(ctx, &giftcard.GiftCard{
		Code:      code,
		Amount:    dec("20.00"),
		Recipient: giftcard.Recipient{Email: "r@example.com"},
		Status:    giftcard.StatusDraft,
		CreatedAt: time.Now(),
	}))
	require.NoError(t, repo.SetPaymentSession(ctx, code, "PAY-"+code))
	ok, err := repo.MarkIssued(ctx, code, payment.Record{SessionID: "PAY-" + code, Amount: dec("20.00"), Currency: "USD"}, time.Now())
	require.NoError(t, err)
	require.True(t, ok)
}

func TestGiftCardRepository_RedeemOnce(t *testing.T) {
	repo := NewGiftCardRepository(testPool)
	createCard(t, repo, "GC-RACE")

	var (
		wg        sync.WaitGroup
		mu        sync.Mutex
		successes int
		conflicts int
	)
	for i := range 16 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			err := repo.Redeem(context.Background(), "GC-RACE", fmt.Sprintf("order-%d", i), time.Now())
			mu.Lock()
			defer mu.Unlock()
			switch {
			case err == nil:
				successes++
			case errors.Is(err, giftcard.ErrAlreadyRedeemed):
				conflicts++
			default:
				t.Errorf("unexpected error: %v", err)
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, 1, successes)
	assert.Equal(t, 15, conflicts)

	card, err := repo.FindByCode(context.Background(), "GC-RACE")
	require.NoError(t, err)
	assert.True(t, card.IsRedeemed)
	assert.Equal(t, giftcard.StatusRedeemed, card.Status)
	assert.NotEmpty(t, card.RedeemedBy)
}

func TestGiftCardRepository_RedeemReasons(t *testing.T) {
	ctx := context.Background()
	repo := NewGiftCardRepository(testPool)

	require.NoError(t, repo.Create(ctx, &giftcard.GiftCard{
		Code: "GC-DRAFT", Amount: dec("5.00"), Status: giftcard.StatusDraft, CreatedAt: time.Now(),
	}))
	require.ErrorIs(t, repo.Redeem(ctx, "GC-DRAFT", "", time.Now()), giftcard.ErrNotIssued)

	past := time.Now().Add(-time.Hour)
	require.NoError(t, repo.Create(ctx, &giftcard.GiftCard{
		Code: "GC-OLD", Amount: dec("5.00"), Status: giftcard.StatusDraft, ExpiresAt: &past, CreatedAt: time.Now(),
	}))
	_, err := repo.MarkIssued(ctx, "GC-OLD", payment.Record{}, time.Now())
	require.NoError(t, err)
	require.ErrorIs(t, repo.Redeem(ctx, "GC-OLD", "", time.Now()), giftcard.ErrExpired)

	require.ErrorIs(t, repo.Redeem(ctx, "GC-MISSING", "", time.Now()), giftcard.ErrNotFound)
}

func TestTransactor_RollsBack(t *testing.T) {
	ctx := context.Background()
	tx := NewTransactor(testPool)
	orders := NewOrderRepository(testPool)
	cards := NewGiftCardRepository(testPool)
	createCard(t, cards, "GC-TX")
	require.NoError(t, cards.Redeem(ctx, "GC-TX", "first", time.Now()))

	o := newOrder("order-int-rollback")
	err := tx.InTx(ctx, func(ctx context.Context) error {
		if err := orders.Create(ctx, o); err != nil {
			return err
		}
		return cards.Redeem(ctx, "GC-TX", o.ID, time.Now())
	})
	require.ErrorIs(t, err, giftcard.ErrAlreadyRedeemed)

	_, err = orders.GetByID(ctx, o.ID)
	require.ErrorIs(t, err, order.ErrNotFound)
}
