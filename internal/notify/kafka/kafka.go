// Package kafka publishes notification requests to a Kafka topic consumed
// by the delivery service.
package kafka

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/go-faster/errors"
	"github.com/go-faster/jx"
	"github.com/segmentio/kafka-go"

	"github.com/xenking/kart-storefront/internal/domain/notify"
)

// Writer is the subset of *kafka.Writer used by Publisher.
type Writer interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// NewWriter creates an asynchronous writer for topic. Send returns once the
// message is queued; delivery errors are reported to onError.
func NewWriter(brokers []string, topic string, onError func(error)) *kafka.Writer {
	return &kafka.Writer{
		Addr:                   kafka.TCP(brokers...),
		Topic:                  topic,
		Balancer:               &kafka.Hash{},
		BatchTimeout:           50 * time.Millisecond,
		RequiredAcks:           kafka.RequireOne,
		Async:                  true,
		AllowAutoTopicCreation: true,
		Completion: func(_ []kafka.Message, err error) {
			if err != nil && onError != nil {
				onError(err)
			}
		},
	}
}

// Publisher is a notify.Dispatcher backed by Kafka. Messages are keyed by
// recipient so one recipient's messages stay ordered.
type Publisher struct {
	w   Writer
	now func() time.Time
}

var _ notify.Dispatcher = (*Publisher)(nil)

func NewPublisher(w Writer) *Publisher {
	return &Publisher{w: w, now: time.Now}
}

func (p *Publisher) Send(ctx context.Context, msg notify.Message) error {
	if msg.Template == "" {
		return errors.New("template is required")
	}
	if err := p.w.WriteMessages(ctx, kafka.Message{
		Key:   []byte(msg.Recipient),
		Value: encodeMessage(msg),
		Time:  p.now(),
		Headers: []kafka.Header{
			{Key: "template", Value: []byte(msg.Template)},
		},
	}); err != nil {
		return errors.Wrap(err, "write message")
	}
	return nil
}

// Close flushes pending messages.
func (p *Publisher) Close() error {
	return p.w.Close()
}

func encodeMessage(msg notify.Message) []byte {
	keys := make([]string, 0, len(msg.Context))
	for k := range msg.Context {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var e jx.Encoder
	e.Obj(func(e *jx.Encoder) {
		e.Field("recipient", func(e *jx.Encoder) { e.Str(msg.Recipient) })
		e.Field("template", func(e *jx.Encoder) { e.Str(msg.Template) })
		e.Field("context", func(e *jx.Encoder) {
			e.Obj(func(e *jx.Encoder) {
				for _, k := range keys {
					v := msg.Context[k]
					e.Field(k, func(e *jx.Encoder) { encodeValue(e, v) })
				}
			})
		})
	})
	return e.Bytes()
}

func encodeValue(e *jx.Encoder, v any) {
	switch v := v.(type) {
	case nil:
		e.Null()
	case string:
		e.Str(v)
	case bool:
		e.Bool(v)
	case int:
		e.Int(v)
	case int64:
		e.Int64(v)
	case float64:
		e.Float64(v)
	case fmt.Stringer:
		e.Str(v.String())
	default:
		e.Str(fmt.Sprint(v))
	}
}
