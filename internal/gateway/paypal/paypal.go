// Package paypal implements payment.Gateway against the PayPal REST
// payments API (create payment, payer approval, execute).
package paypal

import (
	"bytes"
	"context"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/go-faster/errors"
	"github.com/go-faster/jx"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"go.opentelemetry.io/otel/trace"

	"github.com/xenking/kart-storefront/internal/domain/payment"
)

// Config holds API credentials.
type Config struct {
	BaseURL  string
	ClientID string
	Secret   string
}

// Option configures a Client.
type Option func(*Client)

// WithHTTPClient replaces the HTTP client.
func WithHTTPClient(c *http.Client) Option {
	return func(cl *Client) { cl.http = c }
}

// WithTracerProvider instruments outgoing requests.
func WithTracerProvider(tp trace.TracerProvider) Option {
	return func(cl *Client) {
		cl.http = &http.Client{
			Transport: otelhttp.NewTransport(http.DefaultTransport, otelhttp.WithTracerProvider(tp)),
		}
	}
}

// Client is a payment.Gateway. It is safe for concurrent use.
type Client struct {
	cfg  Config
	http *http.Client
	now  func() time.Time

	mu        sync.Mutex
	token     string
	expiresAt time.Time
}

var _ payment.Gateway = (*Client)(nil)

// New creates a Client.
func New(cfg Config, opts ...Option) *Client {
	c := &Client{
		cfg:  cfg,
		http: &http.Client{Transport: otelhttp.NewTransport(http.DefaultTransport)},
		now:  time.Now,
	}
	c.cfg.BaseURL = strings.TrimRight(c.cfg.BaseURL, "/")
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// APIError is a non-2xx answer from the API.
type APIError struct {
	Status  int
	Name    string
	Message string
}

func (e *APIError) Error() string {
	return "paypal: " + http.StatusText(e.Status) + ": " + e.Name + ": " + e.Message
}

// accessToken returns a cached OAuth2 client-credentials token, refreshing
// it shortly before expiry.
func (c *Client) accessToken(ctx context.Context) (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.token != "" && c.now().Before(c.expiresAt) {
		return c.token, nil
	}

	form := url.Values{"grant_type": {"client_credentials"}}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.cfg.BaseURL+"/v1/oauth2/token", strings.NewReader(form.Encode()))
	if err != nil {
		return "", errors.Wrap(err, "build token request")
	}
	req.SetBasicAuth(c.cfg.ClientID, c.cfg.Secret)
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.Header.Set("Accept", "application/json")

	body, err := c.do(req)
	if err != nil {
		return "", errors.Wrap(err, "token")
	}

	var (
		token     string
		expiresIn int
	)
	if err := jx.DecodeBytes(body).Obj(func(d *jx.Decoder, key string) error {
		switch key {
		case "access_token":
			v, err := d.Str()
			token = v
			return err
		case "expires_in":
			v, err := d.Int()
			expiresIn = v
			return err
		default:
			return d.Skip()
		}
	}); err != nil {
		return "", errors.Wrap(err, "decode token")
	}
	if token == "" {
		return "", errors.New("empty access token")
	}

	c.token = token
	c.expiresAt = c.now().Add(time.Duration(expiresIn)*time.Second - time.Minute)
	return token, nil
}

// CreateSession creates a payment and returns its approval link.
func (c *Client) CreateSession(ctx context.Context, r payment.SessionRequest) (payment.Session, error) {
	var e jx.Encoder
	e.Obj(func(e *jx.Encoder) {
		e.Field("intent", func(e *jx.Encoder) { e.Str("sale") })
		e.Field("payer", func(e *jx.Encoder) {
			e.Obj(func(e *jx.Encoder) {
				e.Field("payment_method", func(e *jx.Encoder) { e.Str("paypal") })
			})
		})
		e.Field("transactions", func(e *jx.Encoder) {
			e.Arr(func(e *jx.Encoder) {
				e.Obj(func(e *jx.Encoder) {
					e.Field("amount", func(e *jx.Encoder) {
						e.Obj(func(e *jx.Encoder) {
							e.Field("total", func(e *jx.Encoder) { e.Str(r.Amount.StringFixed(2)) })
							e.Field("currency", func(e *jx.Encoder) { e.Str(r.Currency) })
						})
					})
					e.Field("description", func(e *jx.Encoder) { e.Str(r.Description) })
					e.Field("custom", func(e *jx.Encoder) { e.Str(r.Reference) })
				})
			})
		})
		e.Field("redirect_urls", func(e *jx.Encoder) {
			e.Obj(func(e *jx.Encoder) {
				e.Field("return_url", func(e *jx.Encoder) { e.Str(r.ReturnURL) })
				e.Field("cancel_url", func(e *jx.Encoder) { e.Str(r.CancelURL) })
			})
		})
	})

	body, err := c.call(ctx, "/v1/payments/payment", e.Bytes())
	if err != nil {
		return payment.Session{}, errors.Wrap(err, "create payment")
	}

	p, err := decodePayment(body)
	if err != nil {
		return payment.Session{}, err
	}
	if p.ID == "" || p.ApprovalURL == "" {
		return payment.Session{}, errors.New("payment response without id or approval link")
	}
	return payment.Session{ID: p.ID, ApprovalURL: p.ApprovalURL}, nil
}

// VerifySession executes the approved payment. Client errors reported by
// the API (declined instrument, payer not approved, already done) are a
// Declined outcome; transport and server errors are returned as errors.
func (c *Client) VerifySession(ctx context.Context, sessionID, payerToken string) (payment.Verification, error) {
	var e jx.Encoder
	e.Obj(func(e *jx.Encoder) {
		e.Field("payer_id", func(e *jx.Encoder) { e.Str(payerToken) })
	})

	body, err := c.call(ctx, "/v1/payments/payment/"+url.PathEscape(sessionID)+"/execute", e.Bytes())
	if err != nil {
		var apiErr *APIError
		if errors.As(err, &apiErr) && apiErr.Status >= 400 && apiErr.Status < 500 && apiErr.Status != http.StatusUnauthorized {
			return payment.Declined{State: "failed", Reason: apiErr.Name}, nil
		}
		return nil, errors.Wrap(err, "execute payment")
	}

	p, err := decodePayment(body)
	if err != nil {
		return nil, err
	}
	if p.State != "approved" || p.SaleState != "completed" {
		return payment.Declined{State: p.State, Reason: "sale " + p.SaleState}, nil
	}
	return payment.Approved{
		PaymentID: p.ID,
		PayerID:   p.PayerID,
		Amount:    p.Amount,
		Currency:  p.Currency,
		State:     p.State,
	}, nil
}

func (c *Client) call(ctx context.Context, path string, payload []byte) ([]byte, error) {
	token, err := c.accessToken(ctx)
	if err != nil {
		return nil, err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.cfg.BaseURL+path, bytes.NewReader(payload))
	if err != nil {
		return nil, errors.Wrap(err, "build request")
	}
	req.Header.Set("Authorization", "Bearer "+token)
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
	return c.do(req)
}

func (c *Client) do(req *http.Request) ([]byte, error) {
	resp, err := c.http.Do(req)
	if err != nil {
		return nil, err
	}
	defer func() { _ = resp.Body.Close() }()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return nil, errors.Wrap(err, "read body")
	}
	if resp.StatusCode/100 != 2 {
		return nil, decodeAPIError(resp.StatusCode, body)
	}
	return body, nil
}
