package events

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"sync"
	"time"

	"github.com/rabbitmq/amqp091-go"
	"go.uber.org/zap"

	"github.com/capitalize-ai/listing-chat/pkg/logger"
)

// MaxDialDelay caps the backoff between dial attempts.
const MaxDialDelay = 60 * time.Second

// DialOptions configures DialWithRetry.
type DialOptions struct {
	URL           string
	RetryAttempts int
	Delay         time.Duration
	Logger        *logger.Logger
}

// DialWithRetry connects to RabbitMQ with exponential backoff. It gives up
// when ctx is cancelled.
func DialWithRetry(ctx context.Context, opts DialOptions) (*amqp091.Connection, error) {
	if opts.RetryAttempts <= 0 {
		opts.RetryAttempts = 1
	}
	var lastErr error

	for i := 1; i <= opts.RetryAttempts; i++ {
		conn, err := amqp091.Dial(opts.URL)
		if err == nil {
			if i > 1 {
				opts.Logger.Info("rabbit connected", zap.Int("attempt", i))
			}
			return conn, nil
		}
		lastErr = err
		if i == opts.RetryAttempts {
			break
		}

		sleep := opts.Delay * time.Duration(math.Pow(2, float64(i-1)))
		if sleep > MaxDialDelay {
			sleep = MaxDialDelay
		}
		opts.Logger.Warn("rabbit dial failed",
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

	return nil, fmt.Errorf("connect to rabbitmq after %d attempts: %w", opts.RetryAttempts, lastErr)
}

var (
	// ErrNacked is returned when the broker refuses a publish.
	ErrNacked = errors.New("publish nacked by broker")

	// ErrChannelClosed is returned when the confirm channel went away before
	// the broker confirmed a publish.
	ErrChannelClosed = errors.New("amqp channel closed")
)

// publishChannel is the part of *amqp091.Channel the publisher uses.
type publishChannel interface {
	PublishWithContext(ctx context.Context, exchange, key string, mandatory, immediate bool, msg amqp091.Publishing) error
	Close() error
}

// AMQPPublisher publishes envelopes to a durable topic exchange on a single
// confirm-mode channel. Publishes are serialized and each waits for the
// broker confirmation.
type AMQPPublisher struct {
	conn     *amqp091.Connection
	exchange string
	logger   *logger.Logger

	mu       sync.Mutex
	ch       publishChannel
	confirms <-chan amqp091.Confirmation
}

// NewAMQPPublisher dials url and declares exchange.
func NewAMQPPublisher(ctx context.Context, url, exchange string, log *logger.Logger) (*AMQPPublisher, error) {
	conn, err := DialWithRetry(ctx, DialOptions{
		URL:           url,
		RetryAttempts: 5,
		Delay:         time.Second,
		Logger:        log,
	})
	if err != nil {
		return nil, err
	}

	ch, err := conn.Channel()
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("open channel: %w", err)
	}
	defer ch.Close()

	if err := ch.ExchangeDeclare(exchange, "topic", true, false, false, false, nil); err != nil {
		conn.Close()
		return nil, fmt.Errorf("declare exchange %s: %w", exchange, err)
	}

	p := &AMQPPublisher{
		conn:     conn,
		exchange: exchange,
		logger:   log,
	}
	if err := p.openChannel(); err != nil {
		conn.Close()
		return nil, err
	}
	return p, nil
}

// openChannel opens the confirm-mode channel. Callers hold mu, except during
// construction.
func (p *AMQPPublisher) openChannel() error {
	if p.conn == nil || p.conn.IsClosed() {
		return ErrChannelClosed
	}
	ch, err := p.conn.Channel()
	if err != nil {
		return fmt.Errorf("open channel: %w", err)
	}
	if err := ch.Confirm(false); err != nil {
		ch.Close()
		return fmt.Errorf("enable confirms: %w", err)
	}
	p.ch = ch
	p.confirms = ch.NotifyPublish(make(chan amqp091.Confirmation, 1))
	return nil
}

// resetChannel drops the channel so the next publish opens a fresh one. A
// confirmation left pending would otherwise be matched to the wrong publish.
func (p *AMQPPublisher) resetChannel() {
	if p.ch != nil {
		_ = p.ch.Close()
	}
	p.ch = nil
	p.confirms = nil
}

// Publish implements Publisher.
func (p *AMQPPublisher) Publish(ctx context.Context, key string, env Envelope) error {
	body, err := json.Marshal(env)
	if err != nil {
		return fmt.Errorf("marshal envelope: %w", err)
	}

	pub := amqp091.Publishing{
		ContentType:  "application/json",
		DeliveryMode: amqp091.Persistent,
		MessageId:    env.Meta.ID,
		Timestamp:    env.Meta.Time,
		Type:         env.Meta.Type,
		Body:         body,
	}
	if env.Meta.CorrelationID != nil {
		pub.CorrelationId = *env.Meta.CorrelationID
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	if p.ch == nil {
		if err := p.openChannel(); err != nil {
			return fmt.Errorf("publish %s: %w", key, err)
		}
	}

	if err := p.ch.PublishWithContext(ctx, p.exchange, key, false, false, pub); err != nil {
		p.resetChannel()
		return fmt.Errorf("publish %s: %w", key, err)
	}

	select {
	case confirm, ok := <-p.confirms:
		if !ok {
			p.resetChannel()
			return fmt.Errorf("publish %s: %w", key, ErrChannelClosed)
		}
		if !confirm.Ack {
			return fmt.Errorf("publish %s: %w", key, ErrNacked)
		}
	case <-ctx.Done():
		p.resetChannel()
		return fmt.Errorf("await confirm for %s: %w", key, ctx.Err())
	}

	p.logger.Debug("event published", zap.String("key", key), zap.String("exchange", p.exchange))
	return nil
}

// Close implements Publisher.
func (p *AMQPPublisher) Close() error {
	p.mu.Lock()
	p.resetChannel()
	p.mu.Unlock()
	if p.conn == nil {
		return nil
	}
	return p.conn.Close()
}
