package postgres

import (
	"context"
	"fmt"

	"github.com/go-faster/errors"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/xenking/kart-storefront/internal/domain/coupon"
)

const getCouponByCodeSQL = `SELECT code, discount_percentage, upper_limit, minimum_order_value,
	valid_from, valid_to, active
	FROM coupons WHERE UPPER(code) = UPPER($1)`

var _ coupon.Repository = (*CouponRepository)(nil)

// CouponRepository implements coupon.Repository backed by PostgreSQL.
type CouponRepository struct {
	pool *pgxpool.Pool
}

// NewCouponRepository returns a CouponRepository that uses the given pool.
func NewCouponRepository(pool *pgxpool.Pool) *CouponRepository {
	return &CouponRepository{pool: pool}
}

// FindByCode looks up a coupon by its code (case-insensitive). Inactive and
// out-of-window coupons are returned too; coupon.Coupon.Check decides.
func (r *CouponRepository) FindByCode(ctx context.Context, code string) (*coupon.Coupon, error) {
	rows, err := conn(ctx, r.pool).Query(ctx, getCouponByCodeSQL, code)
	if err != nil {
		return nil, fmt.Errorf("finding coupon by code %q: %w", code, err)
	}

	c, err := pgx.CollectExactlyOneRow(rows, scanCoupon)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, coupon.ErrNotFound
		}
		return nil, fmt.Errorf("finding coupon by code %q: %w", code, err)
	}
	return &c, nil
}

func scanCoupon(row pgx.CollectableRow) (coupon.Coupon, error) {
	var c coupon.Coupon
	err := row.Scan(
		&c.Code, &c.DiscountPercentage, &c.UpperLimit, &c.MinimumOrderValue,
		&c.ValidFrom, &c.ValidTo, &c.Active,
	)
	return c, err
}
