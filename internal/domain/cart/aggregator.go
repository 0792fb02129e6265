package cart

import (
	"context"
	"time"

	"github.com/go-faster/errors"
	"github.com/google/uuid"

	"github.com/xenking/kart-storefront/internal/domain/apperr"
	"github.com/xenking/kart-storefront/internal/domain/menu"
)

// AddOnChoice is a requested add-on by catalog name.
type AddOnChoice struct {
	Name     string
	Quantity int
}

// AddItemRequest holds the input for adding an item to a cart.
type AddItemRequest struct {
	MenuItemID  string
	VariantName string
	Quantity    int
	AddOns      []AddOnChoice
}

// VariantNotFoundError indicates the chosen variant is not offered by the item.
type VariantNotFoundError struct {
	MenuItemID string
	Variant    string
}

func (e *VariantNotFoundError) Error() string {
	return "variant " + e.Variant + " not found for menu item " + e.MenuItemID
}

// ErrorKind implements apperr.Kinded.
func (e *VariantNotFoundError) ErrorKind() apperr.Kind { return apperr.KindNotFound }

// AddOnNotFoundError indicates the chosen add-on is not offered by the item.
type AddOnNotFoundError struct {
	MenuItemID string
	AddOn      string
}

func (e *AddOnNotFoundError) Error() string {
	return "add-on " + e.AddOn + " not found for menu item " + e.MenuItemID
}

// ErrorKind implements apperr.Kinded.
func (e *AddOnNotFoundError) ErrorKind() apperr.Kind { return apperr.KindNotFound }

// Aggregator implements cart mutations on top of a Store and the menu catalog.
type Aggregator struct {
	store Store
	menu  menu.Repository
	now   func() time.Time
	newID func() string
}

// NewAggregator creates an Aggregator.
func NewAggregator(store Store, catalog menu.Repository) *Aggregator {
	return &Aggregator{
		store: store,
		menu:  catalog,
		now:   time.Now,
		newID: uuid.NewString,
	}
}

func (a *Aggregator) emptyCart(ownerID string) func() *Cart {
	return func() *Cart {
		return &Cart{ID: a.newID(), OwnerID: ownerID, UpdatedAt: a.now()}
	}
}

// GetOrCreate returns the owner's cart, creating an empty one on first use.
func (a *Aggregator) GetOrCreate(ctx context.Context, ownerID string) (*Cart, error) {
	c, err := a.store.Get(ctx, ownerID)
	if err == nil {
		return c, nil
	}
	if !errors.Is(err, ErrNotFound) {
		return nil, errors.Wrap(err, "get cart")
	}
	c, err = a.store.Update(ctx, ownerID, a.emptyCart(ownerID), func(*Cart) error { return nil })
	if err != nil {
		return nil, errors.Wrap(err, "create cart")
	}
	return c, nil
}

// AddItem resolves the variant and add-ons against the catalog, snapshots
// their prices and adds the line. A line with the same menu item and variant
// is merged: line and add-on quantities are summed.
func (a *Aggregator) AddItem(ctx context.Context, ownerID string, req AddItemRequest) (*Cart, error) {
	if req.Quantity <= 0 {
		return nil, ErrInvalidQuantity
	}
	for _, ch := range req.AddOns {
		if ch.Quantity <= 0 {
			return nil, ErrInvalidQuantity
		}
	}

	item, err := a.menu.GetByID(ctx, req.MenuItemID)
	if err != nil {
		return nil, errors.Wrapf(err, "get menu item %s", req.MenuItemID)
	}

	variant, ok := item.Variant(req.VariantName)
	if !ok {
		return nil, &VariantNotFoundError{MenuItemID: item.ID, Variant: req.VariantName}
	}

	addOns := make([]AddOn, 0, len(req.AddOns))
	for _, ch := range req.AddOns {
		ao, ok := item.AddOn(ch.Name)
		if !ok {
			return nil, &AddOnNotFoundError{MenuItemID: item.ID, AddOn: ch.Name}
		}
		addOns = mergeAddOns(addOns, AddOn{Name: ao.Name, Price: ao.Price, Quantity: ch.Quantity})
	}

	line := Line{
		MenuItemID: item.ID,
		Name:       item.Name,
		Variant:    Variant{Name: variant.Name, Price: variant.Price},
		AddOns:     addOns,
		Quantity:   req.Quantity,
	}

	return a.mutate(ctx, ownerID, func(c *Cart) error {
		for i := range c.Lines {
			l := &c.Lines[i]
			if l.MenuItemID != line.MenuItemID || l.Variant.Name != line.Variant.Name {
				continue
			}
			l.Quantity += line.Quantity
			for _, ao := range line.AddOns {
				l.AddOns = mergeAddOns(l.AddOns, ao)
			}
			return nil
		}
		line.ID = a.newID()
		c.Lines = append(c.Lines, line)
		return nil
	})
}

// UpdateQuantity sets the quantity of a line. A non-positive quantity removes it.
func (a *Aggregator) UpdateQuantity(ctx context.Context, ownerID, lineID string, quantity int) (*Cart, error) {
	if quantity <= 0 {
		return a.RemoveItem(ctx, ownerID, lineID)
	}
	return a.mutate(ctx, ownerID, func(c *Cart) error {
		i := c.lineIndex(lineID)
		if i < 0 {
			return ErrLineNotFound
		}
		c.Lines[i].Quantity = quantity
		return nil
	})
}

// RemoveItem deletes a line from the cart.
func (a *Aggregator) RemoveItem(ctx context.Context, ownerID, lineID string) (*Cart, error) {
	return a.mutate(ctx, ownerID, func(c *Cart) error {
		i := c.lineIndex(lineID)
		if i < 0 {
			return ErrLineNotFound
		}
		c.Lines = append(c.Lines[:i], c.Lines[i+1:]...)
		return nil
	})
}

// Clear empties the owner's cart. The cart itself is kept.
func (a *Aggregator) Clear(ctx context.Context, ownerID string) (*Cart, error) {
	return a.mutate(ctx, ownerID, func(c *Cart) error {
		c.Reset()
		return nil
	})
}

// Snapshot returns a deep copy of the owner's cart. It does not create one.
func (a *Aggregator) Snapshot(ctx context.Context, ownerID string) (*Cart, error) {
	c, err := a.store.Get(ctx, ownerID)
	if err != nil {
		return nil, err
	}
	return c.Clone(), nil
}

func (a *Aggregator) mutate(ctx context.Context, ownerID string, fn func(*Cart) error) (*Cart, error) {
	c, err := a.store.Update(ctx, ownerID, a.emptyCart(ownerID), func(c *Cart) error {
		if err := fn(c); err != nil {
			return err
		}
		c.Recalculate()
		c.UpdatedAt = a.now()
		return nil
	})
	if err != nil {
		return nil, errors.Wrap(err, "update cart")
	}
	return c, nil
}

func mergeAddOns(list []AddOn, ao AddOn) []AddOn {
	for i := range list {
		if list[i].Name == ao.Name {
			list[i].Quantity += ao.Quantity
			return list
		}
	}
	return append(list, ao)
}
