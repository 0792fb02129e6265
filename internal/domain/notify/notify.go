// Package notify describes outbound transactional messages. Delivery is
// handled by a separate service; this side only publishes requests.
package notify

import "context"

// Template names understood by the delivery service.
const (
	TemplateOrderPlaced    = "order_placed"
	TemplateOrderAccepted  = "order_accepted"
	TemplateOrderCancelled = "order_cancelled"
	TemplateGiftCardIssued = "giftcard_issued"
)

// Message is a request to send one templated message.
type Message struct {
	Recipient string
	Template  string
	Context   map[string]any
}

// Dispatcher publishes messages. Implementations must not block on delivery.
type Dispatcher interface {
	Send(ctx context.Context, msg Message) error
}

// Discard drops every message. It is used when no broker is configured.
type Discard struct{}

var _ Dispatcher = Discard{}

func (Discard) Send(context.Context, Message) error { return nil }
