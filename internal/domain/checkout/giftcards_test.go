package checkout

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/xenking/kart-storefront/internal/domain/apperr"
	"github.com/xenking/kart-storefront/internal/domain/auth"
	"github.com/xenking/kart-storefront/internal/domain/giftcard"
	"github.com/xenking/kart-storefront/internal/domain/notify"
	"github.com/xenking/kart-storefront/internal/domain/payment"
	"github.com/xenking/kart-storefront/internal/domain/pricing"
)

func purchase(t *testing.T, f *fixture) *GiftCardPurchase {
	t.Helper()
	f.svc.newCode = func() (string, error) { return "GC-TEST-CODE-0001", nil }
	p, err := f.svc.PurchaseGiftCard(context.Background(), customer, PurchaseGiftCardInput{
		Amount:    dec("25.00"),
		Recipient: giftcard.Recipient{Name: "Grace", Email: "grace@example.com"},
		Message:   "Happy birthday",
	})
	require.NoError(t, err)
	return p
}

func TestPurchaseGiftCard(t *testing.T) {
	f := newFixture(t)

	p := purchase(t, f)

	assert.Equal(t, giftcard.StatusDraft, p.GiftCard.Status)
	assert.Equal(t, "PAY-GC-TEST-CODE-0001", p.SessionID)
	assert.NotEmpty(t, p.ApprovalURL)
	require.NotNil(t, p.GiftCard.ExpiresAt)
	assert.True(t, p.GiftCard.ExpiresAt.After(testNow))

	stored := f.storedCard("GC-TEST-CODE-0001")
	assert.Equal(t, giftcard.StatusDraft, stored.Status)
	assert.Equal(t, customer.UserID, stored.PurchaserID)
	assert.Equal(t, p.SessionID, stored.Payment.SessionID)
}

func TestPurchaseGiftCard_Validation(t *testing.T) {
	f := newFixture(t)

	_, err := f.svc.PurchaseGiftCard(context.Background(), customer, PurchaseGiftCardInput{
		Amount:    dec("0"),
		Recipient: giftcard.Recipient{Email: "a@b.c"},
	})
	require.ErrorIs(t, err, giftcard.ErrInvalidAmount)

	_, err = f.svc.PurchaseGiftCard(context.Background(), customer, PurchaseGiftCardInput{Amount: dec("10")})
	require.ErrorIs(t, err, giftcard.ErrRecipientRequired)

	_, err = f.svc.PurchaseGiftCard(context.Background(), auth.Actor{}, PurchaseGiftCardInput{Amount: dec("10")})
	require.ErrorIs(t, err, ErrSignInRequired)
}

func TestVerifyGiftCardPayment(t *testing.T) {
	f := newFixture(t)
	p := purchase(t, f)
	f.gateway.verification = payment.Approved{PaymentID: "PAYID-9", Amount: dec("25.00"), Currency: "usd", State: "approved"}
	in := VerifyGiftCardInput{Code: "gc-test-code-0001", PayerToken: "PAYER", SessionID: p.SessionID}

	card, err := f.svc.VerifyGiftCardPayment(context.Background(), in)
	require.NoError(t, err)
	assert.Equal(t, giftcard.StatusIssued, card.Status)
	assert.Equal(t, "PAYID-9", card.Payment.PaymentID)
	assert.Equal(t, giftcard.StatusIssued, f.storedCard("GC-TEST-CODE-0001").Status)

	again, err := f.svc.VerifyGiftCardPayment(context.Background(), in)
	require.NoError(t, err)
	assert.Equal(t, giftcard.StatusIssued, again.Status)
	assert.Equal(t, 1, f.gateway.verifyCount())

	f.notifier.mu.Lock()
	defer f.notifier.mu.Unlock()
	require.Len(t, f.notifier.sent, 1)
	msg := f.notifier.sent[0]
	assert.Equal(t, notify.TemplateGiftCardIssued, msg.Template)
	assert.Equal(t, "grace@example.com", msg.Recipient)
	assert.Equal(t, "GC-TEST-CODE-0001", msg.Context["code"])
	assert.Equal(t, "25.00", msg.Context["amount"])
	assert.NotEmpty(t, msg.Context["qrPng"])
}

func TestVerifyGiftCardPayment_DeclinedStaysDraft(t *testing.T) {
	f := newFixture(t)
	p := purchase(t, f)
	f.gateway.verification = payment.Declined{State: "failed"}

	_, err := f.svc.VerifyGiftCardPayment(context.Background(), VerifyGiftCardInput{
		Code:       "GC-TEST-CODE-0001",
		PayerToken: "PAYER",
		SessionID:  p.SessionID,
	})

	require.ErrorIs(t, err, payment.ErrPaymentFailed)
	assert.Equal(t, giftcard.StatusDraft, f.storedCard("GC-TEST-CODE-0001").Status)
	assert.Empty(t, f.notifier.templates())
}

func TestRedeemGiftCard(t *testing.T) {
	f := newFixture(t)
	f.issueCard("GC-AAAA-BBBB-CCCC", "20.00")

	card, err := f.svc.RedeemGiftCard(context.Background(), customer, "gc-aaaa-bbbb-cccc", "")
	require.NoError(t, err)
	assert.True(t, card.IsRedeemed)

	_, err = f.svc.RedeemGiftCard(context.Background(), customer, "GC-AAAA-BBBB-CCCC", "")
	require.ErrorIs(t, err, giftcard.ErrAlreadyRedeemed)
	assert.Equal(t, apperr.KindConflict, apperr.KindOf(err))

	_, err = f.svc.RedeemGiftCard(context.Background(), customer, "GC-NOPE", "")
	require.ErrorIs(t, err, giftcard.ErrNotFound)
}

func TestRedeemGiftCard_ForeignOrder(t *testing.T) {
	f := newFixture(t)
	o := placeCOD(t, f)
	f.issueCard("GC-AAAA-BBBB-CCCC", "20.00")

	_, err := f.svc.RedeemGiftCard(context.Background(), stranger, "GC-AAAA-BBBB-CCCC", o.ID)

	require.Error(t, err)
	assert.False(t, f.storedCard("GC-AAAA-BBBB-CCCC").IsRedeemed)
}

func TestLookupDiscount(t *testing.T) {
	f := newFixture(t)
	f.issueCard("GC-AAAA-BBBB-CCCC", "20.00")

	d, err := f.svc.LookupDiscount(context.Background(), "save10")
	require.NoError(t, err)
	assert.Equal(t, pricing.KindCoupon, d.Kind)
	require.NotNil(t, d.Coupon)
	assert.Equal(t, "SAVE10", d.Coupon.Code)

	d, err = f.svc.LookupDiscount(context.Background(), "GC-AAAA-BBBB-CCCC")
	require.NoError(t, err)
	assert.Equal(t, pricing.KindGiftCard, d.Kind)
	require.NotNil(t, d.GiftCard)

	_, err = f.svc.LookupDiscount(context.Background(), "NOPE")
	require.ErrorIs(t, err, pricing.ErrUnknownCode)

	_, err = f.svc.LookupDiscount(context.Background(), " ")
	require.ErrorIs(t, err, ErrCodeRequired)
}

func TestPreviewDiscount(t *testing.T) {
	f := newFixture(t)

	res, err := f.svc.PreviewDiscount(context.Background(), "SAVE10", dec("100.00"))
	require.NoError(t, err)
	assert.True(t, dec("5.00").Equal(res.Discount))
	assert.True(t, dec("95.00").Equal(res.Total))
	assert.NoError(t, res.Rejection)

	res, err = f.svc.PreviewDiscount(context.Background(), "NOPE", dec("100.00"))
	require.NoError(t, err)
	assert.ErrorIs(t, res.Rejection, pricing.ErrUnknownCode)
	assert.True(t, dec("100.00").Equal(res.Total))

	_, err = f.svc.PreviewDiscount(context.Background(), "SAVE10", dec("-1"))
	require.ErrorIs(t, err, ErrInvalidCartValue)
}
