package checkout

import (
	"context"
	"strings"

	"github.com/go-faster/errors"
	"github.com/go-faster/sdk/zctx"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/xenking/kart-storefront/internal/domain/apperr"
	"github.com/xenking/kart-storefront/internal/domain/auth"
	"github.com/xenking/kart-storefront/internal/domain/cart"
	"github.com/xenking/kart-storefront/internal/domain/notify"
	"github.com/xenking/kart-storefront/internal/domain/order"
	"github.com/xenking/kart-storefront/internal/domain/payment"
)

// Input validation errors.
var (
	ErrAddressRequired        = apperr.New(apperr.KindValidation, "addressId is required")
	ErrCartRequired           = apperr.New(apperr.KindValidation, "cartId is required")
	ErrInvalidPaymentMethod   = apperr.New(apperr.KindValidation, "paymentMethod must be one of cod, pod, online")
	ErrVerificationIncomplete = apperr.New(apperr.KindValidation, "orderId, payerToken and sessionId are required")
	ErrNothingToPay           = apperr.New(apperr.KindValidation, "order total is zero, choose an offline payment method")
	// ErrSignInRequired is returned when a guest calls an operation bound to
	// a customer account.
	ErrSignInRequired = apperr.New(apperr.KindForbidden, "sign in required")
)

// CreateOrderInput is a request to place an order from the actor's cart.
type CreateOrderInput struct {
	AddressID     string
	PromoCode     string
	CartID        string
	PaymentMethod payment.Method
}

func (in CreateOrderInput) validate() error {
	switch {
	case in.AddressID == "":
		return ErrAddressRequired
	case in.CartID == "":
		return ErrCartRequired
	case !in.PaymentMethod.Valid():
		return ErrInvalidPaymentMethod
	}
	return nil
}

// Placement is the result of CreateOrder. SessionID and ApprovalURL are set
// for online payments only.
type Placement struct {
	Order       *order.Order
	SessionID   string
	ApprovalURL string
}

// CreateOrder prices the actor's cart and persists it as an order.
//
// Offline orders are final on return: the gift card, if any, is redeemed in
// the same transaction and the cart is cleared. Online orders wait for
// VerifyPayment; the cart stays untouched until then.
func (s *Service) CreateOrder(ctx context.Context, actor auth.Actor, in CreateOrderInput) (_ *Placement, rerr error) {
	ctx, span := s.tracer.Start(ctx, "checkout.CreateOrder",
		trace.WithAttributes(attribute.String("payment.method", string(in.PaymentMethod))),
	)
	defer func() { endSpan(span, rerr) }()

	if actor.IsGuest() {
		return nil, ErrSignInRequired
	}
	if err := in.validate(); err != nil {
		return nil, err
	}

	c, err := s.Carts.Snapshot(ctx, actor.UserID)
	if err != nil {
		return nil, errors.Wrap(err, "load cart")
	}
	if c.ID != in.CartID {
		return nil, cart.ErrNotFound
	}
	if c.IsEmpty() {
		return nil, cart.ErrEmpty
	}

	addr, err := s.Addresses.Get(ctx, actor.UserID, in.AddressID)
	if err != nil {
		return nil, errors.Wrap(err, "load address")
	}

	quote, err := s.Pricer.Resolve(ctx, c.Lines, in.PromoCode)
	if err != nil {
		return nil, errors.Wrap(err, "resolve price")
	}
	if quote.Rejection != nil {
		return nil, quote.Rejection
	}
	if !in.PaymentMethod.Offline() && !quote.Total.IsPositive() {
		return nil, ErrNothingToPay
	}

	now := s.now()
	o := &order.Order{
		ID:            s.newID(),
		OwnerID:       actor.UserID,
		Items:         order.ItemsFromLines(c.Lines),
		Status:        order.InitialStatus(in.PaymentMethod),
		Subtotal:      quote.Subtotal,
		Discount:      quote.Discount,
		Total:         quote.Total,
		DiscountKind:  quote.Kind,
		PromoCode:     quote.Code,
		PaymentMethod: in.PaymentMethod,
		Address:       *addr,
		CreatedAt:     now,
		UpdatedAt:     now,
	}
	span.SetAttributes(attribute.String("order.id", o.ID))

	if in.PaymentMethod.Offline() {
		return s.placeOffline(ctx, o)
	}
	return s.placeOnline(ctx, o)
}

func (s *Service) placeOffline(ctx context.Context, o *order.Order) (*Placement, error) {
	if err := s.Tx.InTx(ctx, func(ctx context.Context) error {
		if err := s.Orders.Create(ctx, o); err != nil {
			return errors.Wrap(err, "create order")
		}
		if o.UsesGiftCard() {
			if err := s.GiftCards.Redeem(ctx, o.PromoCode, o.ID, o.CreatedAt); err != nil {
				return errors.Wrap(err, "redeem gift card")
			}
		}
		return nil
	}); err != nil {
		return nil, err
	}

	s.metrics.ordersCreated.Add(ctx, 1, metric.WithAttributes(attribute.String("method", string(o.PaymentMethod))))
	zctx.From(ctx).Info("Order placed",
		zap.String("order_id", o.ID),
		zap.String("method", string(o.PaymentMethod)),
		zap.Stringer("total", o.Total),
	)
	s.finalize(ctx, o)
	return &Placement{Order: o}, nil
}

func (s *Service) placeOnline(ctx context.Context, o *order.Order) (*Placement, error) {
	if err := s.Orders.Create(ctx, o); err != nil {
		return nil, errors.Wrap(err, "create order")
	}
	s.metrics.ordersCreated.Add(ctx, 1, metric.WithAttributes(attribute.String("method", string(o.PaymentMethod))))

	sess, err := s.Gateway.CreateSession(ctx, payment.SessionRequest{
		Amount:      o.Total,
		Currency:    s.cfg.Currency,
		Reference:   o.ID,
		Description: "Order " + o.ID,
		ReturnURL:   s.cfg.ReturnURL,
		CancelURL:   s.cfg.CancelURL,
	})
	if err != nil {
		zctx.From(ctx).Warn("Payment session not opened, failing order",
			zap.String("order_id", o.ID),
			zap.Error(err),
		)
		s.failPayment(ctx, o, payment.Record{State: "session_failed"})
		return nil, errors.Wrap(err, "open payment session")
	}

	if err := s.Orders.SetPaymentSession(ctx, o.ID, sess.ID); err != nil {
		s.failPayment(ctx, o, payment.Record{SessionID: sess.ID, State: "session_unrecorded"})
		return nil, errors.Wrap(err, "store payment session")
	}
	o.Payment.SessionID = sess.ID
	return &Placement{Order: o, SessionID: sess.ID, ApprovalURL: sess.ApprovalURL}, nil
}

// finalize clears the owner's cart and announces the order. Both are best
// effort.
func (s *Service) finalize(ctx context.Context, o *order.Order) {
	if _, err := s.Carts.Clear(ctx, o.OwnerID); err != nil {
		zctx.From(ctx).Warn("Cart not cleared after order",
			zap.String("order_id", o.ID),
			zap.Error(err),
		)
	}
	s.send(ctx, orderMessage(o, notify.TemplateOrderPlaced))
}

// failPayment moves an awaiting order to payment_failed. It runs detached
// from ctx cancellation so a dropped client cannot leave the order ambiguous.
func (s *Service) failPayment(ctx context.Context, o *order.Order, rec payment.Record) {
	ctx = context.WithoutCancel(ctx)
	if rec.SessionID == "" {
		rec.SessionID = o.Payment.SessionID
	}
	ok, err := s.Orders.Transition(ctx, order.Transition{
		OrderID: o.ID,
		From:    order.StatusAwaitingPayment,
		To:      order.StatusPaymentFailed,
		Payment: &rec,
		At:      s.now(),
	})
	if err != nil {
		zctx.From(ctx).Error("Mark payment failed",
			zap.String("order_id", o.ID),
			zap.Error(err),
		)
		return
	}
	if ok {
		o.Status = order.StatusPaymentFailed
		o.Payment = rec
	}
}

// VerifyInput is a payment confirmation callback.
type VerifyInput struct {
	OrderID    string
	PayerToken string
	SessionID  string
}

// VerifyPayment reconciles an online order with the provider. It is
// idempotent: confirmations after the first successful one return the
// stored order without side effects, and a failed payment keeps failing.
func (s *Service) VerifyPayment(ctx context.Context, in VerifyInput) (_ *order.Order, rerr error) {
	ctx, span := s.tracer.Start(ctx, "checkout.VerifyPayment",
		trace.WithAttributes(attribute.String("order.id", in.OrderID)),
	)
	defer func() { endSpan(span, rerr) }()

	if in.OrderID == "" || in.PayerToken == "" || in.SessionID == "" {
		return nil, ErrVerificationIncomplete
	}

	// The provider may already have captured the money, so a callback runs to
	// completion even when its caller goes away. The gateway keeps its own
	// deadline.
	detached := context.WithoutCancel(ctx)
	key := strings.Join([]string{in.OrderID, in.SessionID, in.PayerToken}, "\x00")
	v, err, shared := s.verify.Do(key, func() (any, error) {
		return s.verifyPayment(detached, in)
	})
	if shared {
		span.SetAttributes(attribute.Bool("verify.shared", true))
	}
	if err != nil {
		return nil, err
	}
	return v.(*order.Order), nil
}

func (s *Service) verifyPayment(ctx context.Context, in VerifyInput) (*order.Order, error) {
	o, err := s.Orders.GetByID(ctx, in.OrderID)
	if err != nil {
		return nil, errors.Wrap(err, "get order")
	}
	if o.Payment.SessionID == "" || o.Payment.SessionID != in.SessionID {
		return nil, payment.ErrSessionMismatch
	}
	if o.Status != order.StatusAwaitingPayment {
		s.countVerification(ctx, "replayed")
		return settled(o)
	}

	v, err := s.Gateway.VerifySession(ctx, in.SessionID, in.PayerToken)
	if errors.Is(err, context.Canceled) {
		// Nothing is known about the payment yet; the order stays awaiting.
		s.countVerification(ctx, "aborted")
		return nil, errors.Wrap(err, "verify payment session")
	}
	if err != nil {
		s.countVerification(ctx, "error")
		s.failPayment(ctx, o, payment.Record{State: "verify_failed"})
		return nil, errors.Wrap(err, "verify payment session")
	}

	switch v := v.(type) {
	case payment.Declined:
		s.countVerification(ctx, "declined")
		zctx.From(ctx).Info("Payment declined",
			zap.String("order_id", o.ID),
			zap.String("state", v.State),
			zap.String("reason", v.Reason),
		)
		s.failPayment(ctx, o, payment.Record{State: v.State})
		return s.reload(ctx, o.ID)
	case payment.Approved:
		if !v.Amount.Round(2).Equal(o.Total) || !strings.EqualFold(v.Currency, s.cfg.Currency) {
			s.countVerification(ctx, "mismatch")
			zctx.From(ctx).Error("Captured amount does not match order",
				zap.String("order_id", o.ID),
				zap.Stringer("expected", o.Total),
				zap.Stringer("captured", v.Amount),
				zap.String("currency", v.Currency),
			)
			s.failPayment(ctx, o, recordOf(in.SessionID, v))
			return s.reload(ctx, o.ID)
		}
		return s.confirm(ctx, o, recordOf(in.SessionID, v))
	default:
		return nil, errors.Errorf("unexpected verification %T", v)
	}
}

// confirm moves the order to pending and consumes its gift card in one
// transaction.
func (s *Service) confirm(ctx context.Context, o *order.Order, rec payment.Record) (*order.Order, error) {
	var (
		won      bool
		conflict error
		now      = s.now()
	)
	if err := s.Tx.InTx(ctx, func(ctx context.Context) error {
		won, conflict = false, nil
		ok, err := s.Orders.Transition(ctx, order.Transition{
			OrderID: o.ID,
			From:    order.StatusAwaitingPayment,
			To:      order.StatusPending,
			Payment: &rec,
			At:      now,
		})
		if err != nil {
			return errors.Wrap(err, "confirm order")
		}
		if !ok {
			return nil
		}
		won = true
		if !o.UsesGiftCard() {
			return nil
		}
		if err := s.GiftCards.Redeem(ctx, o.PromoCode, o.ID, now); err != nil {
			if apperr.KindOf(err) == apperr.KindInternal {
				return errors.Wrap(err, "redeem gift card")
			}
			// Payment is already captured for the discounted total.
			conflict = err
			if err := s.Orders.MarkDiscountConflict(ctx, o.ID); err != nil {
				return errors.Wrap(err, "mark discount conflict")
			}
		}
		return nil
	}); err != nil {
		zctx.From(ctx).Error("Payment captured but order not confirmed",
			zap.String("order_id", o.ID),
			zap.String("payment_id", rec.PaymentID),
			zap.Error(err),
		)
		return nil, err
	}
	if !won {
		s.countVerification(ctx, "raced")
		return s.reload(ctx, o.ID)
	}
	s.countVerification(ctx, "approved")

	o.Status = order.StatusPending
	o.Payment = rec
	o.UpdatedAt = now
	if conflict != nil {
		o.DiscountConflict = true
		s.metrics.giftCardConflicts.Add(ctx, 1)
		zctx.From(ctx).Error("Gift card already consumed for paid order",
			zap.String("order_id", o.ID),
			zap.String("code", o.PromoCode),
			zap.Error(conflict),
		)
	}
	s.finalize(ctx, o)
	return o, nil
}

func (s *Service) reload(ctx context.Context, id string) (*order.Order, error) {
	o, err := s.Orders.GetByID(ctx, id)
	if err != nil {
		return nil, errors.Wrap(err, "reload order")
	}
	return settled(o)
}

// settled maps a stored order to the outcome a confirmation callback sees.
func settled(o *order.Order) (*order.Order, error) {
	switch o.Status {
	case order.StatusPaymentFailed:
		return nil, payment.ErrPaymentFailed
	case order.StatusCancelled:
		return nil, order.ErrClosed
	case order.StatusAwaitingPayment:
		return nil, errors.Errorf("order %s still awaiting payment", o.ID)
	default:
		return o, nil
	}
}

// UpdateStatusInput is an actor-driven status change.
type UpdateStatusInput struct {
	OrderID            string
	Status             order.Status
	CancellationReason string
}

// UpdateStatus applies an actor-driven transition and notifies the owner.
func (s *Service) UpdateStatus(ctx context.Context, actor auth.Actor, in UpdateStatusInput) (_ *order.Order, rerr error) {
	ctx, span := s.tracer.Start(ctx, "checkout.UpdateStatus",
		trace.WithAttributes(
			attribute.String("order.id", in.OrderID),
			attribute.String("order.status", string(in.Status)),
		),
	)
	defer func() { endSpan(span, rerr) }()

	o, err := s.Orders.GetByID(ctx, in.OrderID)
	if err != nil {
		return nil, errors.Wrap(err, "get order")
	}
	if err := order.Authorize(actor, o, in.Status); err != nil {
		return nil, err
	}

	now := s.now()
	t := order.Transition{OrderID: o.ID, From: o.Status, To: in.Status, At: now}
	if in.Status == order.StatusCancelled {
		t.CancellationReason = in.CancellationReason
	}
	ok, err := s.Orders.Transition(ctx, t)
	if err != nil {
		return nil, errors.Wrap(err, "update status")
	}
	if !ok {
		cur, err := s.Orders.GetByID(ctx, o.ID)
		if err != nil {
			return nil, errors.Wrap(err, "reload order")
		}
		return nil, &order.InvalidTransitionError{From: cur.Status, To: in.Status}
	}

	o.Status = in.Status
	o.CancellationReason = t.CancellationReason
	o.UpdatedAt = now
	zctx.From(ctx).Info("Order status changed",
		zap.String("order_id", o.ID),
		zap.String("status", string(o.Status)),
		zap.String("actor", actor.UserID),
	)

	switch o.Status {
	case order.StatusAccepted:
		s.send(ctx, orderMessage(o, notify.TemplateOrderAccepted))
	case order.StatusCancelled:
		s.send(ctx, orderMessage(o, notify.TemplateOrderCancelled))
	}
	return o, nil
}

// GetOrder returns an order visible to actor. Orders of other customers
// are reported as not found.
func (s *Service) GetOrder(ctx context.Context, actor auth.Actor, id string) (*order.Order, error) {
	o, err := s.Orders.GetByID(ctx, id)
	if err != nil {
		return nil, errors.Wrap(err, "get order")
	}
	if !order.CanView(actor, o) {
		return nil, order.ErrNotFound
	}
	return o, nil
}

// ListOrders returns the actor's orders, or every order for admins.
func (s *Service) ListOrders(ctx context.Context, actor auth.Actor, limit int) ([]order.Order, error) {
	if actor.IsGuest() {
		return nil, ErrSignInRequired
	}
	f := order.Filter{OwnerID: actor.UserID, Limit: limit}
	if actor.IsAdmin() {
		f.OwnerID = ""
	}
	orders, err := s.Orders.List(ctx, f)
	if err != nil {
		return nil, errors.Wrap(err, "list orders")
	}
	return orders, nil
}

func recordOf(sessionID string, v payment.Approved) payment.Record {
	return payment.Record{
		SessionID: sessionID,
		PaymentID: v.PaymentID,
		PayerID:   v.PayerID,
		Amount:    v.Amount,
		Currency:  v.Currency,
		State:     v.State,
	}
}

func orderMessage(o *order.Order, template string) notify.Message {
	return notify.Message{
		Recipient: o.OwnerID,
		Template:  template,
		Context: map[string]any{
			"orderId":            o.ID,
			"status":             string(o.Status),
			"total":              o.Total.StringFixed(2),
			"paymentMethod":      string(o.PaymentMethod),
			"cancellationReason": o.CancellationReason,
		},
	}
}

func endSpan(span trace.Span, err error) {
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	span.End()
}
