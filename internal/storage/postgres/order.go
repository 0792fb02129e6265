package postgres

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/go-faster/errors"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/xenking/kart-storefront/internal/domain/order"
	"github.com/xenking/kart-storefront/internal/domain/payment"
	"github.com/xenking/kart-storefront/internal/domain/pricing"
)

const (
	orderColumns = `id, owner_id, items, status, subtotal, discount, total, discount_kind,
	promo_code, payment_method, address, payment_session, payment_id, payer_id,
	payment_amount, payment_currency, payment_state, cancellation_reason,
	discount_conflict, created_at, updated_at`

	createOrderSQL = `INSERT INTO orders (id, owner_id, items, status, subtotal, discount, total,
	discount_kind, promo_code, payment_method, address, created_at, updated_at)
	VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $12)`

	getOrderSQL = `SELECT ` + orderColumns + ` FROM orders WHERE id = $1`

	listOrdersSQL = `SELECT ` + orderColumns + ` FROM orders
	WHERE ($1::text = '' OR owner_id = $1) ORDER BY created_at DESC, id LIMIT $2`

	setOrderSessionSQL = `UPDATE orders SET payment_session = $2, updated_at = now() WHERE id = $1`

	transitionOrderSQL = `UPDATE orders SET status = $3,
	cancellation_reason = CASE WHEN $4::text = '' THEN cancellation_reason ELSE $4 END,
	updated_at = $5
	WHERE id = $1 AND status = $2`

	transitionOrderPaymentSQL = `UPDATE orders SET status = $3,
	cancellation_reason = CASE WHEN $4::text = '' THEN cancellation_reason ELSE $4 END,
	updated_at = $5,
	payment_session = $6, payment_id = $7, payer_id = $8, payment_amount = $9,
	payment_currency = $10, payment_state = $11
	WHERE id = $1 AND status = $2`

	markDiscountConflictSQL = `UPDATE orders SET discount_conflict = TRUE, updated_at = now() WHERE id = $1`

	defaultListLimit = 100
)

var _ order.Repository = (*OrderRepository)(nil)

// OrderRepository implements order.Repository backed by PostgreSQL.
type OrderRepository struct {
	pool *pgxpool.Pool
}

// NewOrderRepository returns an OrderRepository that uses the given pool.
func NewOrderRepository(pool *pgxpool.Pool) *OrderRepository {
	return &OrderRepository{pool: pool}
}

// Create persists a new order. Items and the address snapshot are stored as
// JSONB and never updated afterwards.
func (r *OrderRepository) Create(ctx context.Context, o *order.Order) error {
	itemsJSON, err := json.Marshal(o.Items)
	if err != nil {
		return fmt.Errorf("marshaling order items: %w", err)
	}
	addrJSON, err := json.Marshal(o.Address)
	if err != nil {
		return fmt.Errorf("marshaling order address: %w", err)
	}

	_, err = conn(ctx, r.pool).Exec(ctx, createOrderSQL,
		o.ID, o.OwnerID, itemsJSON, string(o.Status), o.Subtotal, o.Discount, o.Total,
		string(o.DiscountKind), o.PromoCode, string(o.PaymentMethod), addrJSON, o.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("creating order %q: %w", o.ID, err)
	}
	return nil
}

// GetByID returns the order with the given id.
func (r *OrderRepository) GetByID(ctx context.Context, id string) (*order.Order, error) {
	rows, err := conn(ctx, r.pool).Query(ctx, getOrderSQL, id)
	if err != nil {
		return nil, fmt.Errorf("getting order %q: %w", id, err)
	}
	o, err := pgx.CollectExactlyOneRow(rows, scanOrder)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, order.ErrNotFound
		}
		return nil, fmt.Errorf("getting order %q: %w", id, err)
	}
	return &o, nil
}

// List returns orders newest first.
func (r *OrderRepository) List(ctx context.Context, f order.Filter) ([]order.Order, error) {
	limit := f.Limit
	if limit <= 0 {
		limit = defaultListLimit
	}
	rows, err := conn(ctx, r.pool).Query(ctx, listOrdersSQL, f.OwnerID, limit)
	if err != nil {
		return nil, fmt.Errorf("listing orders: %w", err)
	}
	orders, err := pgx.CollectRows(rows, scanOrder)
	if err != nil {
		return nil, fmt.Errorf("listing orders: %w", err)
	}
	return orders, nil
}

// SetPaymentSession stores the provider session opened for the order.
func (r *OrderRepository) SetPaymentSession(ctx context.Context, id, sessionID string) error {
	tag, err := conn(ctx, r.pool).Exec(ctx, setOrderSessionSQL, id, sessionID)
	if err != nil {
		return fmt.Errorf("setting payment session of %q: %w", id, err)
	}
	if tag.RowsAffected() == 0 {
		return order.ErrNotFound
	}
	return nil
}

// Transition applies a conditional status change.
func (r *OrderRepository) Transition(ctx context.Context, t order.Transition) (bool, error) {
	args := []any{t.OrderID, string(t.From), string(t.To), t.CancellationReason, t.At}
	sql := transitionOrderSQL
	if p := t.Payment; p != nil {
		sql = transitionOrderPaymentSQL
		args = append(args, p.SessionID, p.PaymentID, p.PayerID, p.Amount, p.Currency, p.State)
	}
	tag, err := conn(ctx, r.pool).Exec(ctx, sql, args...)
	if err != nil {
		return false, fmt.Errorf("moving order %q to %s: %w", t.OrderID, t.To, err)
	}
	return tag.RowsAffected() == 1, nil
}

// MarkDiscountConflict flags a paid order whose gift card could not be
// consumed.
func (r *OrderRepository) MarkDiscountConflict(ctx context.Context, id string) error {
	if _, err := conn(ctx, r.pool).Exec(ctx, markDiscountConflictSQL, id); err != nil {
		return fmt.Errorf("marking discount conflict on %q: %w", id, err)
	}
	return nil
}

func scanOrder(row pgx.CollectableRow) (order.Order, error) {
	var (
		o                    order.Order
		itemsJSON, addrJSON  []byte
		status, kind, method string
		pay                  payment.Record
	)
	err := row.Scan(
		&o.ID, &o.OwnerID, &itemsJSON, &status, &o.Subtotal, &o.Discount, &o.Total, &kind,
		&o.PromoCode, &method, &addrJSON, &pay.SessionID, &pay.PaymentID, &pay.PayerID,
		&pay.Amount, &pay.Currency, &pay.State, &o.CancellationReason,
		&o.DiscountConflict, &o.CreatedAt, &o.UpdatedAt,
	)
	if err != nil {
		return o, err
	}
	if err := json.Unmarshal(itemsJSON, &o.Items); err != nil {
		return o, fmt.Errorf("unmarshaling order items: %w", err)
	}
	if err := json.Unmarshal(addrJSON, &o.Address); err != nil {
		return o, fmt.Errorf("unmarshaling order address: %w", err)
	}
	o.Status = order.Status(status)
	o.DiscountKind = pricing.Kind(kind)
	o.PaymentMethod = payment.Method(method)
	o.Payment = pay
	return o, nil
}
