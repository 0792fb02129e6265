// Package checkout orchestrates turning a cart into an order, reconciling
// online payments and running the gift card purchase flow.
//
// Every cross-aggregate write that must be atomic (order status plus gift
// card redemption) runs inside Transactor.InTx. Cart clearing and
// notifications happen after commit and never undo a placed order.
package checkout

import (
	"context"
	"time"

	"github.com/go-faster/errors"
	"github.com/go-faster/sdk/zctx"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	metricnoop "go.opentelemetry.io/otel/metric/noop"
	"go.opentelemetry.io/otel/trace"
	tracenoop "go.opentelemetry.io/otel/trace/noop"
	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"

	"github.com/xenking/kart-storefront/internal/domain/address"
	"github.com/xenking/kart-storefront/internal/domain/cart"
	"github.com/xenking/kart-storefront/internal/domain/giftcard"
	"github.com/xenking/kart-storefront/internal/domain/notify"
	"github.com/xenking/kart-storefront/internal/domain/order"
	"github.com/xenking/kart-storefront/internal/domain/payment"
	"github.com/xenking/kart-storefront/internal/domain/pricing"
)

// Transactor runs fn in a single database transaction. Repositories called
// with the ctx passed to fn join that transaction.
type Transactor interface {
	InTx(ctx context.Context, fn func(ctx context.Context) error) error
}

// Carts is the part of the cart aggregator the orchestrator needs.
type Carts interface {
	Snapshot(ctx context.Context, ownerID string) (*cart.Cart, error)
	Clear(ctx context.Context, ownerID string) (*cart.Cart, error)
}

// Pricer resolves promo codes without mutating anything.
type Pricer interface {
	Resolve(ctx context.Context, lines []cart.Line, code string) (pricing.Result, error)
	Preview(ctx context.Context, subtotal decimal.Decimal, code string) (pricing.Result, error)
	Lookup(ctx context.Context, code string, subtotal decimal.Decimal, now time.Time) (pricing.Promotion, error)
}

// Config holds orchestrator settings.
type Config struct {
	Currency  string
	ReturnURL string
	CancelURL string
	// GiftCardValidity is how long a purchased card stays usable. Zero means
	// cards never expire.
	GiftCardValidity time.Duration
	// QRSize is the edge length in pixels of the gift card QR image.
	QRSize int
}

// Deps are the collaborators of a Service.
type Deps struct {
	Tx        Transactor
	Carts     Carts
	Pricer    Pricer
	Orders    order.Repository
	GiftCards giftcard.Repository
	Addresses address.Reader
	Gateway   payment.Gateway
	Notifier  notify.Dispatcher
}

type options struct {
	tracerProvider trace.TracerProvider
	meterProvider  metric.MeterProvider
}

// Option configures a Service.
type Option func(*options)

// WithTracerProvider sets the tracer provider used for operation spans.
func WithTracerProvider(tp trace.TracerProvider) Option {
	return func(o *options) { o.tracerProvider = tp }
}

// WithMeterProvider sets the meter provider used for checkout metrics.
func WithMeterProvider(mp metric.MeterProvider) Option {
	return func(o *options) { o.meterProvider = mp }
}

type metrics struct {
	ordersCreated     metric.Int64Counter
	verifications     metric.Int64Counter
	giftCardConflicts metric.Int64Counter
}

// Service is the order/payment orchestrator.
type Service struct {
	cfg Config
	Deps

	now     func() time.Time
	newID   func() string
	newCode func() (string, error)

	verify  singleflight.Group
	tracer  trace.Tracer
	metrics metrics
}

// NewService creates a Service.
func NewService(cfg Config, deps Deps, opts ...Option) (*Service, error) {
	o := options{
		tracerProvider: tracenoop.NewTracerProvider(),
		meterProvider:  metricnoop.NewMeterProvider(),
	}
	for _, opt := range opts {
		opt(&o)
	}
	if cfg.Currency == "" {
		cfg.Currency = "USD"
	}
	if cfg.QRSize <= 0 {
		cfg.QRSize = 256
	}
	if deps.Notifier == nil {
		deps.Notifier = notify.Discard{}
	}

	const scope = "github.com/xenking/kart-storefront/internal/domain/checkout"
	meter := o.meterProvider.Meter(scope)
	var (
		m   metrics
		err error
	)
	if m.ordersCreated, err = meter.Int64Counter("kart.orders.created",
		metric.WithDescription("Orders placed, by payment method"),
	); err != nil {
		return nil, errors.Wrap(err, "orders created counter")
	}
	if m.verifications, err = meter.Int64Counter("kart.payments.verifications",
		metric.WithDescription("Payment confirmations, by outcome"),
	); err != nil {
		return nil, errors.Wrap(err, "verifications counter")
	}
	if m.giftCardConflicts, err = meter.Int64Counter("kart.giftcards.conflicts",
		metric.WithDescription("Paid orders whose gift card was already consumed"),
	); err != nil {
		return nil, errors.Wrap(err, "gift card conflicts counter")
	}

	return &Service{
		cfg:     cfg,
		Deps:    deps,
		now:     time.Now,
		newID:   uuid.NewString,
		newCode: giftcard.NewCode,
		tracer:  o.tracerProvider.Tracer(scope),
		metrics: m,
	}, nil
}

func (s *Service) countVerification(ctx context.Context, outcome string) {
	s.metrics.verifications.Add(ctx, 1, metric.WithAttributes(attribute.String("outcome", outcome)))
}

// send publishes a notification. Failures are logged; a placed order or an
// issued card is never rolled back because a message could not be queued.
func (s *Service) send(ctx context.Context, msg notify.Message) {
	if msg.Recipient == "" {
		return
	}
	if err := s.Notifier.Send(ctx, msg); err != nil {
		zctx.From(ctx).Warn("Notification not sent",
			zap.String("template", msg.Template),
			zap.Error(err),
		)
	}
}
