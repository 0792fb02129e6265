// Package giftcard implements the ledger of one-time-use monetary credits.
//
// A card is created as a draft when purchased, becomes issued once its
// payment is confirmed and is redeemed exactly once when an order consumes it.
// The flip to redeemed is a conditional update in the Repository; callers
// never read-then-write it.
package giftcard

import (
	"context"
	"time"

	"github.com/shopspring/decimal"

	"github.com/xenking/kart-storefront/internal/domain/apperr"
	"github.com/xenking/kart-storefront/internal/domain/payment"
)

var (
	// ErrNotFound is returned when no gift card exists for a code.
	ErrNotFound = apperr.New(apperr.KindNotFound, "gift card not found")
	// ErrAlreadyRedeemed is returned when the card was consumed before.
	ErrAlreadyRedeemed = apperr.New(apperr.KindConflict, "gift card already redeemed")
	// ErrNotIssued is returned when the card's purchase was never paid.
	ErrNotIssued = apperr.New(apperr.KindConflict, "gift card is not issued")
	// ErrExpired is returned when the card passed its expiry date.
	ErrExpired = apperr.New(apperr.KindConflict, "gift card expired")
	// ErrInvalidAmount is returned when a purchase amount is not positive.
	ErrInvalidAmount = apperr.New(apperr.KindValidation, "gift card amount must be greater than 0")
	// ErrRecipientRequired is returned when a purchase has no recipient contact.
	ErrRecipientRequired = apperr.New(apperr.KindValidation, "gift card recipient email is required")
)

// Status is the lifecycle state of a card.
type Status string

const (
	StatusDraft    Status = "draft"
	StatusIssued   Status = "issued"
	StatusRedeemed Status = "redeemed"
	StatusExpired  Status = "expired"
)

// Recipient is who receives the card.
type Recipient struct {
	Name  string
	Email string
	Phone string
}

// GiftCard is a fixed-value credit.
type GiftCard struct {
	Code        string
	Amount      decimal.Decimal
	Recipient   Recipient
	Message     string
	PurchaserID string
	IsRedeemed  bool
	Status      Status
	RedeemedBy  string
	ExpiresAt   *time.Time
	Payment     payment.Record
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

// Usable reports why the card cannot be applied as a discount at time now,
// or nil when it can.
func (g *GiftCard) Usable(now time.Time) error {
	switch {
	case g.IsRedeemed || g.Status == StatusRedeemed:
		return ErrAlreadyRedeemed
	case g.Status == StatusExpired || (g.ExpiresAt != nil && now.After(*g.ExpiresAt)):
		return ErrExpired
	case g.Status != StatusIssued:
		return ErrNotIssued
	}
	return nil
}

// Repository persists gift cards.
type Repository interface {
	Create(ctx context.Context, card *GiftCard) error
	FindByCode(ctx context.Context, code string) (*GiftCard, error)
	SetPaymentSession(ctx context.Context, code, sessionID string) error
	// MarkIssued moves a draft card to issued and records the payment. It
	// reports false when the card was not in draft (already issued by an
	// earlier confirmation).
	MarkIssued(ctx context.Context, code string, rec payment.Record, at time.Time) (bool, error)
	// Redeem flips is_redeemed from false to true for an issued, unexpired
	// card in a single conditional update. It returns ErrAlreadyRedeemed,
	// ErrNotIssued, ErrExpired or ErrNotFound when nothing changed.
	Redeem(ctx context.Context, code, orderID string, at time.Time) error
}
