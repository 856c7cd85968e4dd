package messaging

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"

	amqp "github.com/rabbitmq/amqp091-go"

	"github.com/oksasatya/user-directory/internal/domain/entity"
	"github.com/oksasatya/user-directory/internal/domain/repository"
)

const HeaderOperation = "operation"

// publishChannel is the part of *amqp.Channel the publisher uses.
type publishChannel interface {
	PublishWithContext(ctx context.Context, exchange, key string, mandatory, immediate bool, msg amqp.Publishing) error
	IsClosed() bool
	Close() error
}

// openFunc dials the broker and returns a channel with the exchange declared,
// plus a func that closes both.
type openFunc func() (publishChannel, func(), error)

// RabbitPublisher publishes user events to a durable topic exchange.
// The routing key is the event key (the user's email). A closed channel or
// connection is redialed on the next publish.
type RabbitPublisher struct {
	mu       sync.Mutex
	open     openFunc
	ch       publishChannel
	closeFn  func()
	Exchange string
}

func NewRabbitPublisher(url, exchange string) (*RabbitPublisher, error) {
	p := &RabbitPublisher{open: dialPublisher(url, exchange), Exchange: exchange}
	if err := p.reopen(); err != nil {
		return nil, err
	}
	return p, nil
}

func dialPublisher(url, exchange string) openFunc {
	return func() (publishChannel, func(), error) {
		conn, err := amqp.Dial(url)
		if err != nil {
			return nil, nil, fmt.Errorf("dial rabbitmq: %w", err)
		}
		ch, err := conn.Channel()
		if err != nil {
			_ = conn.Close()
			return nil, nil, fmt.Errorf("open channel: %w", err)
		}
		if err := declareExchange(ch, exchange); err != nil {
			_ = ch.Close()
			_ = conn.Close()
			return nil, nil, err
		}
		return ch, func() {
			_ = ch.Close()
			_ = conn.Close()
		}, nil
	}
}

// reopen replaces the current channel. Callers hold p.mu, except the constructor.
func (p *RabbitPublisher) reopen() error {
	if p.closeFn != nil {
		p.closeFn()
		p.closeFn = nil
	}
	p.ch = nil
	ch, closeFn, err := p.open()
	if err != nil {
		return err
	}
	p.ch, p.closeFn = ch, closeFn
	return nil
}

func declareExchange(ch *amqp.Channel, exchange string) error {
	err := ch.ExchangeDeclare(
		exchange,
		amqp.ExchangeTopic,
		true,  // durable
		false, // autoDelete
		false, // internal
		false, // noWait
		nil,
	)
	if err != nil {
		return fmt.Errorf("declare exchange %s: %w", exchange, err)
	}
	return nil
}

func (p *RabbitPublisher) Close() {
	if p == nil {
		return
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closeFn != nil {
		p.closeFn()
		p.closeFn = nil
	}
	p.ch = nil
}

// Publish writes one persistent JSON message. There are no publisher confirms,
// so it returns once the frame is handed to the connection. A publish that
// fails on a closed channel is retried once on a fresh connection.
func (p *RabbitPublisher) Publish(ctx context.Context, routingKey string, ev entity.UserEvent) error {
	body, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("marshal user event: %w", err)
	}
	msg := amqp.Publishing{
		ContentType:  "application/json",
		DeliveryMode: amqp.Persistent,
		MessageId:    ev.ID,
		Timestamp:    ev.OccurredAt,
		Headers:      amqp.Table{HeaderOperation: string(ev.Operation)},
		Body:         body,
	}
	// amqp channels are not safe for concurrent publishing
	p.mu.Lock()
	defer p.mu.Unlock()
	for attempt := 0; ; attempt++ {
		if p.ch == nil || p.ch.IsClosed() {
			if err := p.reopen(); err != nil {
				return fmt.Errorf("publish user event %s: %w", ev.ID, err)
			}
		}
		err = p.ch.PublishWithContext(ctx, p.Exchange, routingKey, false, false, msg)
		if err == nil {
			return nil
		}
		if attempt > 0 || !errors.Is(err, amqp.ErrClosed) {
			return fmt.Errorf("publish user event %s: %w", ev.ID, err)
		}
		p.ch = nil
	}
}

// RabbitConsumer reads user events from a durable queue bound to the events exchange.
type RabbitConsumer struct {
	conn     *amqp.Connection
	ch       *amqp.Channel
	Queue    string
	Prefetch int
}

// NewRabbitConsumer declares queue and binds it to exchange with bindingKey
// ("#" receives every user event).
func NewRabbitConsumer(url, exchange, queue, bindingKey string, prefetch int) (*RabbitConsumer, error) {
	conn, err := amqp.Dial(url)
	if err != nil {
		return nil, fmt.Errorf("dial rabbitmq: %w", err)
	}
	ch, err := conn.Channel()
	if err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("open channel: %w", err)
	}
	fail := func(err error) (*RabbitConsumer, error) {
		_ = ch.Close()
		_ = conn.Close()
		return nil, err
	}
	if err := declareExchange(ch, exchange); err != nil {
		return fail(err)
	}
	if _, err := ch.QueueDeclare(queue, true, false, false, false, nil); err != nil {
		return fail(fmt.Errorf("declare queue %s: %w", queue, err))
	}
	if err := ch.QueueBind(queue, bindingKey, exchange, false, nil); err != nil {
		return fail(fmt.Errorf("bind queue %s: %w", queue, err))
	}
	if prefetch <= 0 {
		prefetch = 10
	}
	if err := ch.Qos(prefetch, 0, false); err != nil {
		return fail(fmt.Errorf("set qos: %w", err))
	}
	return &RabbitConsumer{conn: conn, ch: ch, Queue: queue, Prefetch: prefetch}, nil
}

func (c *RabbitConsumer) Close() {
	if c == nil {
		return
	}
	if c.ch != nil {
		_ = c.ch.Close()
	}
	if c.conn != nil {
		_ = c.conn.Close()
	}
}

// Consume delivers decoded events to handle until ctx is done or the channel
// closes. A nil result acks; Drop errors are rejected without requeue; anything
// else is requeued.
func (c *RabbitConsumer) Consume(ctx context.Context, handle Handler) error {
	msgs, err := c.ch.Consume(c.Queue, "", false, false, false, false, nil)
	if err != nil {
		return fmt.Errorf("consume %s: %w", c.Queue, err)
	}
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case d, ok := <-msgs:
			if !ok {
				return ErrChannelClosed
			}
			var ev entity.UserEvent
			if err := json.Unmarshal(d.Body, &ev); err != nil {
				_ = d.Nack(false, false)
				continue
			}
			if ev.ID == "" {
				ev.ID = d.MessageId
			}
			switch err := handle(ctx, ev); {
			case err == nil:
				_ = d.Ack(false)
			case IsDrop(err):
				_ = d.Nack(false, false)
			default:
				_ = d.Nack(false, true)
			}
		}
	}
}

var _ repository.EventPublisher = (*RabbitPublisher)(nil)
