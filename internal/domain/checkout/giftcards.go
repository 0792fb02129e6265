package checkout

import (
	"context"
	"encoding/base64"
	"strings"

	"github.com/go-faster/errors"
	"github.com/go-faster/sdk/zctx"
	"github.com/shopspring/decimal"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/xenking/kart-storefront/internal/domain/auth"
	"github.com/xenking/kart-storefront/internal/domain/giftcard"
	"github.com/xenking/kart-storefront/internal/domain/notify"
	"github.com/xenking/kart-storefront/internal/domain/order"
	"github.com/xenking/kart-storefront/internal/domain/payment"
)

// PurchaseGiftCardInput is a request to buy a gift card for someone.
type PurchaseGiftCardInput struct {
	Amount    decimal.Decimal
	Recipient giftcard.Recipient
	Message   string
}

// GiftCardPurchase is a draft card awaiting payment approval.
type GiftCardPurchase struct {
	GiftCard    *giftcard.GiftCard
	SessionID   string
	ApprovalURL string
}

// PurchaseGiftCard creates a draft card and opens a payment session for it.
// The card stays draft until VerifyGiftCardPayment confirms the payment.
func (s *Service) PurchaseGiftCard(ctx context.Context, actor auth.Actor, in PurchaseGiftCardInput) (_ *GiftCardPurchase, rerr error) {
	ctx, span := s.tracer.Start(ctx, "checkout.PurchaseGiftCard")
	defer func() { endSpan(span, rerr) }()

	if actor.IsGuest() {
		return nil, ErrSignInRequired
	}
	if !in.Amount.IsPositive() {
		return nil, giftcard.ErrInvalidAmount
	}
	if strings.TrimSpace(in.Recipient.Email) == "" {
		return nil, giftcard.ErrRecipientRequired
	}

	code, err := s.newCode()
	if err != nil {
		return nil, errors.Wrap(err, "generate code")
	}
	now := s.now()
	card := &giftcard.GiftCard{
		Code:        code,
		Amount:      in.Amount.Round(2),
		Recipient:   in.Recipient,
		Message:     in.Message,
		PurchaserID: actor.UserID,
		Status:      giftcard.StatusDraft,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	if s.cfg.GiftCardValidity > 0 {
		exp := now.Add(s.cfg.GiftCardValidity)
		card.ExpiresAt = &exp
	}
	span.SetAttributes(attribute.String("giftcard.code", code))

	if err := s.GiftCards.Create(ctx, card); err != nil {
		return nil, errors.Wrap(err, "create gift card")
	}

	sess, err := s.Gateway.CreateSession(ctx, payment.SessionRequest{
		Amount:      card.Amount,
		Currency:    s.cfg.Currency,
		Reference:   card.Code,
		Description: "Gift card",
		ReturnURL:   s.cfg.ReturnURL,
		CancelURL:   s.cfg.CancelURL,
	})
	if err != nil {
		return nil, errors.Wrap(err, "open payment session")
	}
	if err := s.GiftCards.SetPaymentSession(ctx, card.Code, sess.ID); err != nil {
		return nil, errors.Wrap(err, "store payment session")
	}
	card.Payment.SessionID = sess.ID
	return &GiftCardPurchase{GiftCard: card, SessionID: sess.ID, ApprovalURL: sess.ApprovalURL}, nil
}

// VerifyGiftCardInput is a payment confirmation for a gift card purchase.
type VerifyGiftCardInput struct {
	Code       string
	PayerToken string
	SessionID  string
}

// VerifyGiftCardPayment issues a draft card once its payment is captured
// and sends the recipient the code. Repeated confirmations return the
// issued card. A declined payment leaves the card in draft.
func (s *Service) VerifyGiftCardPayment(ctx context.Context, in VerifyGiftCardInput) (_ *giftcard.GiftCard, rerr error) {
	ctx, span := s.tracer.Start(ctx, "checkout.VerifyGiftCardPayment",
		trace.WithAttributes(attribute.String("giftcard.code", in.Code)),
	)
	defer func() { endSpan(span, rerr) }()

	code := giftcard.NormalizeCode(in.Code)
	if code == "" || in.PayerToken == "" || in.SessionID == "" {
		return nil, ErrVerificationIncomplete
	}

	v, err, _ := s.verify.Do("giftcard\x00"+code+"\x00"+in.SessionID, func() (any, error) {
		return s.verifyGiftCard(ctx, code, in)
	})
	if err != nil {
		return nil, err
	}
	return v.(*giftcard.GiftCard), nil
}

func (s *Service) verifyGiftCard(ctx context.Context, code string, in VerifyGiftCardInput) (*giftcard.GiftCard, error) {
	card, err := s.GiftCards.FindByCode(ctx, code)
	if err != nil {
		return nil, errors.Wrap(err, "find gift card")
	}
	if card.Payment.SessionID == "" || card.Payment.SessionID != in.SessionID {
		return nil, payment.ErrSessionMismatch
	}
	switch card.Status {
	case giftcard.StatusIssued, giftcard.StatusRedeemed:
		return card, nil
	case giftcard.StatusExpired:
		return nil, giftcard.ErrExpired
	}

	v, err := s.Gateway.VerifySession(ctx, in.SessionID, in.PayerToken)
	if err != nil {
		return nil, errors.Wrap(err, "verify payment session")
	}
	approved, ok := v.(payment.Approved)
	if !ok {
		zctx.From(ctx).Info("Gift card payment declined", zap.String("code", code))
		return nil, payment.ErrPaymentFailed
	}
	if !approved.Amount.Round(2).Equal(card.Amount) || !strings.EqualFold(approved.Currency, s.cfg.Currency) {
		zctx.From(ctx).Error("Captured amount does not match gift card",
			zap.String("code", code),
			zap.Stringer("expected", card.Amount),
			zap.Stringer("captured", approved.Amount),
		)
		return nil, payment.ErrPaymentFailed
	}

	now := s.now()
	rec := recordOf(in.SessionID, approved)
	issued, err := s.GiftCards.MarkIssued(ctx, code, rec, now)
	if err != nil {
		return nil, errors.Wrap(err, "issue gift card")
	}
	if !issued {
		card, err := s.GiftCards.FindByCode(ctx, code)
		if err != nil {
			return nil, errors.Wrap(err, "reload gift card")
		}
		return card, nil
	}

	card.Status = giftcard.StatusIssued
	card.Payment = rec
	card.UpdatedAt = now
	zctx.From(ctx).Info("Gift card issued", zap.String("code", code), zap.Stringer("amount", card.Amount))
	s.send(ctx, s.giftCardMessage(ctx, card))
	return card, nil
}

func (s *Service) giftCardMessage(ctx context.Context, card *giftcard.GiftCard) notify.Message {
	msgCtx := map[string]any{
		"code":          card.Code,
		"amount":        card.Amount.StringFixed(2),
		"recipientName": card.Recipient.Name,
		"message":       card.Message,
		"purchaserId":   card.PurchaserID,
	}
	if card.ExpiresAt != nil {
		msgCtx["expiresAt"] = card.ExpiresAt.UTC().Format("2006-01-02")
	}
	png, err := giftcard.QRCode(card.Code, s.cfg.QRSize)
	if err != nil {
		zctx.From(ctx).Warn("Gift card QR not rendered", zap.Error(err))
	} else {
		msgCtx["qrPng"] = base64.StdEncoding.EncodeToString(png)
	}
	return notify.Message{
		Recipient: card.Recipient.Email,
		Template:  notify.TemplateGiftCardIssued,
		Context:   msgCtx,
	}
}

// RedeemGiftCard consumes a card outside the checkout flow, optionally
// attributing it to an order the actor can see.
func (s *Service) RedeemGiftCard(ctx context.Context, actor auth.Actor, code, orderID string) (_ *giftcard.GiftCard, rerr error) {
	ctx, span := s.tracer.Start(ctx, "checkout.RedeemGiftCard")
	defer func() { endSpan(span, rerr) }()

	if actor.IsGuest() {
		return nil, ErrSignInRequired
	}
	code = giftcard.NormalizeCode(code)
	if code == "" {
		return nil, giftcard.ErrNotFound
	}
	if orderID != "" {
		o, err := s.Orders.GetByID(ctx, orderID)
		if err != nil {
			return nil, errors.Wrap(err, "get order")
		}
		if !order.CanView(actor, o) {
			return nil, order.ErrNotFound
		}
	}

	if err := s.GiftCards.Redeem(ctx, code, orderID, s.now()); err != nil {
		return nil, errors.Wrap(err, "redeem gift card")
	}
	card, err := s.GiftCards.FindByCode(ctx, code)
	if err != nil {
		return nil, errors.Wrap(err, "reload gift card")
	}
	zctx.From(ctx).Info("Gift card redeemed", zap.String("code", code), zap.String("order_id", orderID))
	return card, nil
}
