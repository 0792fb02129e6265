package postgres

import (
	"context"
	"fmt"

	"github.com/go-faster/errors"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/xenking/kart-storefront/internal/domain/menu"
)

const (
	getMenuItemSQL     = `SELECT id, name, category FROM menu_items WHERE id = $1`
	listMenuVariantSQL = `SELECT name, price FROM menu_variants WHERE item_id = $1 ORDER BY position, name`
	listMenuAddOnSQL   = `SELECT name, price FROM menu_add_ons WHERE item_id = $1 ORDER BY position, name`
)

var _ menu.Repository = (*MenuRepository)(nil)

// MenuRepository implements menu.Repository backed by PostgreSQL.
type MenuRepository struct {
	pool *pgxpool.Pool
}

// NewMenuRepository returns a MenuRepository that uses the given pool.
func NewMenuRepository(pool *pgxpool.Pool) *MenuRepository {
	return &MenuRepository{pool: pool}
}

// GetByID returns a menu item with its variants and add-ons.
func (r *MenuRepository) GetByID(ctx context.Context, id string) (*menu.Item, error) {
	q := conn(ctx, r.pool)

	var item menu.Item
	err := q.QueryRow(ctx, getMenuItemSQL, id).Scan(&item.ID, &item.Name, &item.Category)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, menu.ErrNotFound
		}
		return nil, fmt.Errorf("getting menu item %q: %w", id, err)
	}

	rows, err := q.Query(ctx, listMenuVariantSQL, id)
	if err != nil {
		return nil, fmt.Errorf("listing variants of %q: %w", id, err)
	}
	item.Variants, err = pgx.CollectRows(rows, func(row pgx.CollectableRow) (menu.Variant, error) {
		var v menu.Variant
		err := row.Scan(&v.Name, &v.Price)
		return v, err
	})
	if err != nil {
		return nil, fmt.Errorf("scanning variants of %q: %w", id, err)
	}

	rows, err = q.Query(ctx, listMenuAddOnSQL, id)
	if err != nil {
		return nil, fmt.Errorf("listing add-ons of %q: %w", id, err)
	}
	item.AddOns, err = pgx.CollectRows(rows, func(row pgx.CollectableRow) (menu.AddOn, error) {
		var a menu.AddOn
		err := row.Scan(&a.Name, &a.Price)
		return a, err
	})
	if err != nil {
		return nil, fmt.Errorf("scanning add-ons of %q: %w", id, err)
	}

	return &item, nil
}
