// Package payment defines the port to the external payment provider.
//
// The provider is reached through Gateway only. Verification outcomes are a
// closed sum type (Approved or Declined); an error return always means the
// provider could not be asked, never that the payment was refused.
package payment

import (
	"context"

	"github.com/shopspring/decimal"

	"github.com/xenking/kart-storefront/internal/domain/apperr"
)

var (
	// ErrGatewayTimeout is returned when the provider did not answer within
	// the configured deadline.
	ErrGatewayTimeout = apperr.New(apperr.KindTimeout, "payment provider timed out")
	// ErrGatewayUnavailable is returned when the provider call failed.
	ErrGatewayUnavailable = apperr.New(apperr.KindUpstream, "payment provider unavailable")
	// ErrPaymentFailed is returned when a payment was not captured.
	ErrPaymentFailed = apperr.New(apperr.KindPaymentFailed, "payment failed")
	// ErrSessionMismatch is returned when a confirmation names a session
	// other than the one opened for the payment.
	ErrSessionMismatch = apperr.New(apperr.KindValidation, "payment session does not match")
)

// Method is how the customer settles an order.
type Method string

const (
	MethodCashOnDelivery Method = "cod"
	MethodPayOnPickup    Method = "pod"
	MethodOnline         Method = "online"
)

// Valid reports whether m is a known payment method.
func (m Method) Valid() bool {
	switch m {
	case MethodCashOnDelivery, MethodPayOnPickup, MethodOnline:
		return true
	}
	return false
}

// Offline reports whether the method is settled outside the provider.
func (m Method) Offline() bool {
	return m == MethodCashOnDelivery || m == MethodPayOnPickup
}

// SessionRequest describes a payment to be approved by the payer.
type SessionRequest struct {
	Amount      decimal.Decimal
	Currency    string
	Reference   string
	Description string
	ReturnURL   string
	CancelURL   string
}

// Session is an opened provider session awaiting payer approval.
type Session struct {
	ID          string
	ApprovalURL string
}

// Verification is the outcome of executing an approved session.
type Verification interface {
	isVerification()
}

// Approved means the provider captured the payment.
type Approved struct {
	PaymentID string
	PayerID   string
	Amount    decimal.Decimal
	Currency  string
	State     string
}

// Declined means the provider refused or could not complete the payment.
type Declined struct {
	State  string
	Reason string
}

func (Approved) isVerification() {}
func (Declined) isVerification() {}

// Gateway is the provider adapter.
type Gateway interface {
	CreateSession(ctx context.Context, req SessionRequest) (Session, error)
	VerifySession(ctx context.Context, sessionID, payerToken string) (Verification, error)
}

// Record is the reconciliation data stored alongside orders and gift cards.
type Record struct {
	SessionID string
	PaymentID string
	PayerID   string
	Amount    decimal.Decimal
	Currency  string
	State     string
}
