// Package fake is an in-process payment.Gateway for local runs and
// end-to-end tests. The payer token chooses the outcome:
//
//	"decline" -> Declined
//	"error"   -> provider error
//	anything else -> Approved for the session amount
package fake

import (
	"context"
	"strconv"
	"sync"

	"github.com/go-faster/errors"

	"github.com/xenking/kart-storefront/internal/domain/payment"
)

const (
	TokenDecline = "decline"
	TokenError   = "error"
)

// Gateway remembers opened sessions so Approved reports the real amount.
type Gateway struct {
	approvalBase string

	mu       sync.Mutex
	seq      int
	sessions map[string]payment.SessionRequest
}

var _ payment.Gateway = (*Gateway)(nil)

// New creates a Gateway whose approval links point at approvalBase.
func New(approvalBase string) *Gateway {
	return &Gateway{approvalBase: approvalBase, sessions: make(map[string]payment.SessionRequest)}
}

func (g *Gateway) CreateSession(_ context.Context, r payment.SessionRequest) (payment.Session, error) {
	g.mu.Lock()
	defer g.mu.Unlock()

	g.seq++
	id := "FAKE-" + strconv.Itoa(g.seq)
	g.sessions[id] = r
	return payment.Session{ID: id, ApprovalURL: g.approvalBase + "?paymentId=" + id}, nil
}

func (g *Gateway) VerifySession(ctx context.Context, sessionID, payerToken string) (payment.Verification, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	g.mu.Lock()
	r, ok := g.sessions[sessionID]
	g.mu.Unlock()

	switch {
	case payerToken == TokenError:
		return nil, errors.New("fake provider error")
	case !ok:
		return payment.Declined{State: "failed", Reason: "unknown session"}, nil
	case payerToken == TokenDecline:
		return payment.Declined{State: "failed", Reason: "INSTRUMENT_DECLINED"}, nil
	}
	return payment.Approved{
		PaymentID: sessionID,
		PayerID:   payerToken,
		Amount:    r.Amount,
		Currency:  r.Currency,
		State:     "approved",
	}, nil
}
