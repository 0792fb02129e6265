package payment

import (
	"context"
	"time"

	"github.com/go-faster/errors"

	"github.com/xenking/kart-storefront/internal/domain/apperr"
)

type timeoutGateway struct {
	next    Gateway
	timeout time.Duration
}

// WithTimeout bounds every provider call by d. A call that runs past the
// deadline fails with ErrGatewayTimeout; any other failure is reported as
// ErrGatewayUnavailable with the cause attached.
func WithTimeout(next Gateway, d time.Duration) Gateway {
	return &timeoutGateway{next: next, timeout: d}
}

func (g *timeoutGateway) CreateSession(ctx context.Context, req SessionRequest) (Session, error) {
	ctx, cancel := context.WithTimeout(ctx, g.timeout)
	defer cancel()

	s, err := g.next.CreateSession(ctx, req)
	if err != nil {
		return Session{}, classify(ctx, err, "create session")
	}
	return s, nil
}

func (g *timeoutGateway) VerifySession(ctx context.Context, sessionID, payerToken string) (Verification, error) {
	ctx, cancel := context.WithTimeout(ctx, g.timeout)
	defer cancel()

	v, err := g.next.VerifySession(ctx, sessionID, payerToken)
	if err != nil {
		return nil, classify(ctx, err, "verify session")
	}
	return v, nil
}

func classify(ctx context.Context, err error, op string) error {
	if errors.Is(err, ErrGatewayTimeout) || errors.Is(err, ErrGatewayUnavailable) {
		return err
	}
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(ctx.Err(), context.DeadlineExceeded) {
		return errors.Wrap(ErrGatewayTimeout, op)
	}
	if errors.Is(err, context.Canceled) && errors.Is(ctx.Err(), context.Canceled) {
		// Caller went away; the provider did not fail.
		return errors.Wrap(err, op)
	}
	return &UnavailableError{Op: op, Cause: err}
}

// UnavailableError carries the provider failure cause while presenting the
// generic unavailable message to clients.
type UnavailableError struct {
	Op    string
	Cause error
}

func (e *UnavailableError) Error() string { return ErrGatewayUnavailable.Message }

// ErrorKind implements apperr.Kinded.
func (e *UnavailableError) ErrorKind() apperr.Kind { return apperr.KindUpstream }

// Is matches ErrGatewayUnavailable.
func (e *UnavailableError) Is(target error) bool { return target == ErrGatewayUnavailable }

func (e *UnavailableError) Unwrap() error { return e.Cause }
