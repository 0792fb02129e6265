// Package address is the read side of the customer address book.
package address

import (
	"context"

	"github.com/xenking/kart-storefront/internal/domain/apperr"
)

// ErrNotFound is returned when the address does not exist or belongs to
// another owner.
var ErrNotFound = apperr.New(apperr.KindNotFound, "address not found")

// Address is a delivery address. Orders keep a copy taken at placement time.
type Address struct {
	ID         string `json:"id"`
	OwnerID    string `json:"ownerId"`
	Name       string `json:"name"`
	Phone      string `json:"phone"`
	Line1      string `json:"line1"`
	Line2      string `json:"line2,omitempty"`
	City       string `json:"city"`
	PostalCode string `json:"postalCode"`
}

// Reader looks up addresses scoped to their owner.
type Reader interface {
	Get(ctx context.Context, ownerID, id string) (*Address, error)
}
