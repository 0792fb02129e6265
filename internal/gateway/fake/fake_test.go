package fake

import (
	"context"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/xenking/kart-storefront/internal/domain/payment"
)

func TestGateway(t *testing.T) {
	ctx := context.Background()
	g := New("http://localhost/pay")

	s, err := g.CreateSession(ctx, payment.SessionRequest{Amount: decimal.NewFromInt(12), Currency: "USD"})
	require.NoError(t, err)
	assert.Equal(t, "http://localhost/pay?paymentId="+s.ID, s.ApprovalURL)

	v, err := g.VerifySession(ctx, s.ID, "payer-1")
	require.NoError(t, err)
	approved := v.(payment.Approved)
	assert.True(t, approved.Amount.Equal(decimal.NewFromInt(12)))
	assert.Equal(t, "USD", approved.Currency)

	v, err = g.VerifySession(ctx, s.ID, TokenDecline)
	require.NoError(t, err)
	assert.IsType(t, payment.Declined{}, v)

	v, err = g.VerifySession(ctx, "FAKE-404", "payer-1")
	require.NoError(t, err)
	assert.IsType(t, payment.Declined{}, v)

	_, err = g.VerifySession(ctx, s.ID, TokenError)
	require.Error(t, err)
}
