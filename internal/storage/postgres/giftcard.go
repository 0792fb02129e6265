package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/go-faster/errors"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/xenking/kart-storefront/internal/domain/giftcard"
	"github.com/xenking/kart-storefront/internal/domain/payment"
)

const (
	giftCardColumns = `code, amount, recipient_name, recipient_email, recipient_phone, message,
	purchaser_id, is_redeemed, status, COALESCE(redeemed_by, ''), expires_at,
	payment_session, payment_id, payer_id, payment_amount, payment_currency, payment_state,
	created_at, updated_at`

	createGiftCardSQL = `INSERT INTO gift_cards (code, amount, recipient_name, recipient_email,
	recipient_phone, message, purchaser_id, status, expires_at, created_at, updated_at)
	VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $10)`

	getGiftCardSQL = `SELECT ` + giftCardColumns + ` FROM gift_cards WHERE code = $1`

	setGiftCardSessionSQL = `UPDATE gift_cards SET payment_session = $2, updated_at = now()
	WHERE code = $1`

	issueGiftCardSQL = `UPDATE gift_cards SET status = 'issued',
	payment_session = $2, payment_id = $3, payer_id = $4, payment_amount = $5,
	payment_currency = $6, payment_state = $7, updated_at = $8
	WHERE code = $1 AND status = 'draft'`

	// The only statement that flips is_redeemed. Concurrent callers race
	// on the row lock and all but one match zero rows.
	redeemGiftCardSQL = `UPDATE gift_cards SET is_redeemed = TRUE, status = 'redeemed',
	redeemed_by = NULLIF($2::text, ''), updated_at = $3
	WHERE code = $1 AND is_redeemed = FALSE AND status = 'issued'
	AND (expires_at IS NULL OR expires_at > $3)`
)

var _ giftcard.Repository = (*GiftCardRepository)(nil)

// GiftCardRepository implements giftcard.Repository backed by PostgreSQL.
type GiftCardRepository struct {
	pool *pgxpool.Pool
}

// NewGiftCardRepository returns a GiftCardRepository that uses the given pool.
func NewGiftCardRepository(pool *pgxpool.Pool) *GiftCardRepository {
	return &GiftCardRepository{pool: pool}
}

// Create inserts a new card.
func (r *GiftCardRepository) Create(ctx context.Context, g *giftcard.GiftCard) error {
	_, err := conn(ctx, r.pool).Exec(ctx, createGiftCardSQL,
		g.Code, g.Amount, g.Recipient.Name, g.Recipient.Email, g.Recipient.Phone,
		g.Message, g.PurchaserID, string(g.Status), g.ExpiresAt, g.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("creating gift card: %w", err)
	}
	return nil
}

// FindByCode returns the card with the given code.
func (r *GiftCardRepository) FindByCode(ctx context.Context, code string) (*giftcard.GiftCard, error) {
	rows, err := conn(ctx, r.pool).Query(ctx, getGiftCardSQL, code)
	if err != nil {
		return nil, fmt.Errorf("finding gift card: %w", err)
	}
	g, err := pgx.CollectExactlyOneRow(rows, scanGiftCard)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, giftcard.ErrNotFound
		}
		return nil, fmt.Errorf("finding gift card: %w", err)
	}
	return &g, nil
}

// SetPaymentSession stores the provider session opened for the purchase.
func (r *GiftCardRepository) SetPaymentSession(ctx context.Context, code, sessionID string) error {
	tag, err := conn(ctx, r.pool).Exec(ctx, setGiftCardSessionSQL, code, sessionID)
	if err != nil {
		return fmt.Errorf("setting gift card session: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return giftcard.ErrNotFound
	}
	return nil
}

// MarkIssued moves a draft card to issued.
func (r *GiftCardRepository) MarkIssued(ctx context.Context, code string, rec payment.Record, at time.Time) (bool, error) {
	tag, err := conn(ctx, r.pool).Exec(ctx, issueGiftCardSQL,
		code, rec.SessionID, rec.PaymentID, rec.PayerID, rec.Amount, rec.Currency, rec.State, at,
	)
	if err != nil {
		return false, fmt.Errorf("issuing gift card: %w", err)
	}
	return tag.RowsAffected() == 1, nil
}

// Redeem consumes the card. When no row matches, the card is re-read to
// report why.
func (r *GiftCardRepository) Redeem(ctx context.Context, code, orderID string, at time.Time) error {
	tag, err := conn(ctx, r.pool).Exec(ctx, redeemGiftCardSQL, code, orderID, at)
	if err != nil {
		return fmt.Errorf("redeeming gift card: %w", err)
	}
	if tag.RowsAffected() == 1 {
		return nil
	}

	g, err := r.FindByCode(ctx, code)
	if err != nil {
		return err
	}
	if err := g.Usable(at); err != nil {
		return err
	}
	return giftcard.ErrAlreadyRedeemed
}

func scanGiftCard(row pgx.CollectableRow) (giftcard.GiftCard, error) {
	var (
		g      giftcard.GiftCard
		status string
	)
	err := row.Scan(
		&g.Code, &g.Amount, &g.Recipient.Name, &g.Recipient.Email, &g.Recipient.Phone, &g.Message,
		&g.PurchaserID, &g.IsRedeemed, &status, &g.RedeemedBy, &g.ExpiresAt,
		&g.Payment.SessionID, &g.Payment.PaymentID, &g.Payment.PayerID, &g.Payment.Amount,
		&g.Payment.Currency, &g.Payment.State,
		&g.CreatedAt, &g.UpdatedAt,
	)
	g.Status = giftcard.Status(status)
	return g, err
}
