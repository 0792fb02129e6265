package postgres

import (
	"context"
	"fmt"

	"github.com/go-faster/errors"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/xenking/kart-storefront/internal/domain/address"
)

const getAddressSQL = `SELECT id, owner_id, name, phone, line1, line2, city, postal_code
	FROM addresses WHERE id = $1 AND owner_id = $2`

var _ address.Reader = (*AddressRepository)(nil)

// AddressRepository implements address.Reader backed by PostgreSQL.
type AddressRepository struct {
	pool *pgxpool.Pool
}

// NewAddressRepository returns an AddressRepository that uses the given pool.
func NewAddressRepository(pool *pgxpool.Pool) *AddressRepository {
	return &AddressRepository{pool: pool}
}

// Get returns the owner's address. Addresses of other owners are reported
// as address.ErrNotFound.
func (r *AddressRepository) Get(ctx context.Context, ownerID, id string) (*address.Address, error) {
	var a address.Address
	err := conn(ctx, r.pool).QueryRow(ctx, getAddressSQL, id, ownerID).Scan(
		&a.ID, &a.OwnerID, &a.Name, &a.Phone, &a.Line1, &a.Line2, &a.City, &a.PostalCode,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, address.ErrNotFound
		}
		return nil, fmt.Errorf("getting address %q: %w", id, err)
	}
	return &a, nil
}
