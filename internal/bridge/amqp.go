// Package bridge relays broadcast events between processes over RabbitMQ so
// subscribers connected to another process still receive them. Delivery is
// best-effort: a broker outage never fails a local publish.
package bridge

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"time"

	"github.com/gofrs/uuid/v5"
	"github.com/rabbitmq/amqp091-go"
	"go.uber.org/zap"

	"github.com/avolkov/wirechat/internal/event"
)

// Envelope wraps one broadcast event for the wire. Origin identifies the
// publishing process so it can skip its own deliveries on consume.
type Envelope struct {
	Origin           string         `json:"origin"`
	ConversationID   string         `json:"conversation_id"`
	ExcludePrincipal string         `json:"exclude_principal,omitempty"`
	Event            event.Outbound `json:"event"`
}

// LocalDeliverer hands relayed events to this process's subscribers.
// Satisfied by (*hub.Hub).DeliverLocal.
type LocalDeliverer interface {
	DeliverLocal(conversationID, excludePrincipal uuid.UUID, ev event.Outbound)
}

// DialOptions controls the retrying broker connection.
type DialOptions struct {
	URL           string
	Exchange      string
	RetryAttempts int
	Delay         time.Duration
}

const (
	maxDialDelay   = 60 * time.Second
	publishTimeout = 5 * time.Second
)

// AMQP is the broker-backed relay.
type AMQP struct {
	conn     *amqp091.Connection
	pubCh    *amqp091.Channel
	exchange string
	origin   string
	log      *zap.Logger
}

// Dial connects with exponential backoff, declares the topic exchange and
// returns the relay. It respects context cancellation for shutdown.
func Dial(ctx context.Context, opts DialOptions, log *zap.Logger) (*AMQP, error) {
	if opts.RetryAttempts <= 0 {
		opts.RetryAttempts = 5
	}
	if opts.Delay <= 0 {
		opts.Delay = time.Second
	}

	var conn *amqp091.Connection
	var lastErr error
	for i := 1; i <= opts.RetryAttempts; i++ {
		c, err := amqp091.Dial(opts.URL)
		if err == nil {
			conn = c
			break
		}
		lastErr = err

		sleep := opts.Delay * time.Duration(math.Pow(2, float64(i-1)))
		if sleep > maxDialDelay {
			sleep = maxDialDelay
		}
		log.Warn("amqp dial failed",
			zap.Int("attempt", i),
			zap.Duration("sleep", sleep),
			zap.Error(err),
		)
		timer := time.NewTimer(sleep)
		select {
		case <-ctx.Done():
			timer.Stop()
			return nil, fmt.Errorf("dial cancelled: %w", ctx.Err())
		case <-timer.C:
		}
	}
	if conn == nil {
		return nil, fmt.Errorf("amqp connect after %d attempts: %w", opts.RetryAttempts, lastErr)
	}

	ch, err := conn.Channel()
	if err != nil {
		_ = conn.Close()
		return nil, err
	}
	if err := ch.ExchangeDeclare(opts.Exchange, "topic", true, false, false, false, nil); err != nil {
		_ = conn.Close()
		return nil, err
	}

	origin, err := uuid.NewV4()
	if err != nil {
		_ = conn.Close()
		return nil, err
	}
	return &AMQP{
		conn:     conn,
		pubCh:    ch,
		exchange: opts.Exchange,
		origin:   origin.String(),
		log:      log,
	}, nil
}

// Publish forwards one broadcast to the exchange with a per-conversation
// routing key. Errors are logged, never returned: the hub's contract is
// best-effort relay.
func (b *AMQP) Publish(conversationID, excludePrincipal uuid.UUID, ev event.Outbound) {
	env := Envelope{
		Origin:         b.origin,
		ConversationID: conversationID.String(),
		Event:          ev,
	}
	if excludePrincipal != uuid.Nil {
		env.ExcludePrincipal = excludePrincipal.String()
	}
	body, err := json.Marshal(env)
	if err != nil {
		b.log.Warn("relay marshal failed", zap.Error(err))
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), publishTimeout)
	defer cancel()
	err = b.pubCh.PublishWithContext(ctx, b.exchange, "conv."+env.ConversationID, false, false, amqp091.Publishing{
		ContentType: "application/json",
		Timestamp:   time.Now(),
		Body:        body,
	})
	if err != nil {
		b.log.Warn("relay publish failed",
			zap.String("conversation", env.ConversationID),
			zap.Error(err),
		)
	}
}

// Consume binds an exclusive anonymous queue to all conversation events and
// re-delivers foreign envelopes locally until the context is cancelled.
func (b *AMQP) Consume(ctx context.Context, local LocalDeliverer) error {
	ch, err := b.conn.Channel()
	if err != nil {
		return err
	}
	defer ch.Close()

	q, err := ch.QueueDeclare("", false, true, true, false, nil)
	if err != nil {
		return err
	}
	if err := ch.QueueBind(q.Name, "conv.#", b.exchange, false, nil); err != nil {
		return err
	}
	deliveries, err := ch.Consume(q.Name, "", true, true, false, false, nil)
	if err != nil {
		return err
	}

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case d, ok := <-deliveries:
			if !ok {
				return errors.New("amqp delivery channel closed")
			}
			b.handleDelivery(d, local)
		}
	}
}

func (b *AMQP) handleDelivery(d amqp091.Delivery, local LocalDeliverer) {
	var env Envelope
	if err := json.Unmarshal(d.Body, &env); err != nil {
		b.log.Warn("relay decode failed", zap.Error(err))
		return
	}
	if env.Origin == b.origin {
		// our own broadcast coming back around
		return
	}
	convID, err := uuid.FromString(env.ConversationID)
	if err != nil {
		b.log.Warn("relay bad conversation id", zap.String("raw", env.ConversationID))
		return
	}
	exclude := uuid.Nil
	if env.ExcludePrincipal != "" {
		if p, perr := uuid.FromString(env.ExcludePrincipal); perr == nil {
			exclude = p
		}
	}
	local.DeliverLocal(convID, exclude, env.Event)
}

// Close tears down the broker connection.
func (b *AMQP) Close() error {
	return b.conn.Close()
}
