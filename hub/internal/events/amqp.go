package events

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"sync"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
)

// maxDialDelay caps the exponential backoff between broker dial attempts.
const maxDialDelay = 60 * time.Second

// AMQPOptions configures the broker publisher.
type AMQPOptions struct {
	URL           string
	Exchange      string
	Producer      string // stamped into every envelope's meta
	RetryAttempts int
	RetryDelay    time.Duration
	Logger        *slog.Logger
}

// envelope is the broker message body.
type envelope struct {
	Meta envelopeMeta `json:"meta"`
	Data Event        `json:"data"`
}

type envelopeMeta struct {
	ID       string    `json:"id"`
	Type     string    `json:"type"`
	Producer string    `json:"producer,omitempty"`
	Time     time.Time `json:"time"`
}

// AMQPPublisher publishes events to a topic exchange, routed by event type.
// Publishes wait for the broker's confirm.
type AMQPPublisher struct {
	conn     *amqp.Connection
	exchange string
	producer string
	logger   *slog.Logger

	mu sync.Mutex
	ch *amqp.Channel
}

// NewAMQPPublisher dials the broker (with retry), declares the exchange and
// puts the publishing channel in confirm mode.
func NewAMQPPublisher(ctx context.Context, opts AMQPOptions) (*AMQPPublisher, error) {
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	conn, err := DialWithRetry(ctx, opts)
	if err != nil {
		return nil, err
	}
	ch, err := conn.Channel()
	if err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("open channel: %w", err)
	}
	if err := ch.ExchangeDeclare(opts.Exchange, "topic", true, false, false, false, nil); err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("declare exchange %s: %w", opts.Exchange, err)
	}
	if err := ch.Confirm(false); err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("enable confirms: %w", err)
	}
	return &AMQPPublisher{
		conn:     conn,
		exchange: opts.Exchange,
		producer: opts.Producer,
		logger:   opts.Logger.With("component", "events.amqp"),
		ch:       ch,
	}, nil
}

// Publish sends ev with routing key ev.Type and waits for the confirm.
func (p *AMQPPublisher) Publish(ctx context.Context, ev Event) error {
	body, err := json.Marshal(envelope{
		Meta: envelopeMeta{ID: ev.ID, Type: ev.Type, Producer: p.producer, Time: ev.Time},
		Data: ev,
	})
	if err != nil {
		return fmt.Errorf("marshal event: %w", err)
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	if p.ch == nil || p.ch.IsClosed() {
		ch, err := p.conn.Channel()
		if err != nil {
			return fmt.Errorf("reopen channel: %w", err)
		}
		if err := ch.Confirm(false); err != nil {
			_ = ch.Close()
			return fmt.Errorf("enable confirms: %w", err)
		}
		p.ch = ch
	}

	dc, err := p.ch.PublishWithDeferredConfirmWithContext(ctx, p.exchange, ev.Type, false, false,
		amqp.Publishing{
			ContentType:   "application/json",
			DeliveryMode:  amqp.Persistent,
			MessageId:     ev.ID,
			CorrelationId: ev.UserID,
			Timestamp:     ev.Time,
			Body:          body,
		})
	if err != nil {
		return fmt.Errorf("publish %s: %w", ev.Type, err)
	}
	acked, err := dc.WaitContext(ctx)
	if err != nil {
		return fmt.Errorf("confirm %s: %w", ev.Type, err)
	}
	if !acked {
		return fmt.Errorf("publish %s: broker nacked", ev.Type)
	}
	p.logger.Debug("published", "key", ev.Type, "exchange", p.exchange)
	return nil
}

// Close closes the channel and the connection.
func (p *AMQPPublisher) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.ch != nil {
		_ = p.ch.Close()
	}
	return p.conn.Close()
}

// DialWithRetry connects to the broker with exponential backoff, giving up
// after opts.RetryAttempts or when ctx is cancelled.
func DialWithRetry(ctx context.Context, opts AMQPOptions) (*amqp.Connection, error) {
	attempts := opts.RetryAttempts
	if attempts < 1 {
		attempts = 1
	}
	var lastErr error
	for i := 1; i <= attempts; i++ {
		conn, err := amqp.Dial(opts.URL)
		if err == nil {
			if i > 1 {
				opts.Logger.Info("broker connected", "attempt", i)
			}
			return conn, nil
		}
		lastErr = err
		if i == attempts {
			break
		}

		sleep := backoff(opts.RetryDelay, i)
		opts.Logger.Warn("broker dial failed", "attempt", i, "sleep", sleep, "error", err)

		timer := time.NewTimer(sleep)
		select {
		case <-ctx.Done():
			timer.Stop()
			return nil, errors.Join(errors.New("dial cancelled"), ctx.Err())
		case <-timer.C:
		}
	}
	return nil, fmt.Errorf("connect to broker after %d attempts: %w", attempts, lastErr)
}

// backoff returns base * 2^(attempt-1), capped at maxDialDelay.
func backoff(base time.Duration, attempt int) time.Duration {
	if base <= 0 {
		return 0
	}
	d := time.Duration(float64(base) * math.Pow(2, float64(attempt-1)))
	if d > maxDialDelay || d < 0 {
		return maxDialDelay
	}
	return d
}
