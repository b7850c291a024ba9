// Package broker wraps the AMQP connection and channel pair used by both the
// beacon and the watchtower. A Conn is owned by exactly one role instance;
// reconnecting replaces the whole handle instead of mutating shared state.
package broker

import (
	"context"
	"fmt"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"

	"github.com/fuomag9/server-uptime/internal/config"
)

// Exchange is the durable direct exchange all heartbeats flow through.
// Messages are routed by a routing key equal to the queue name.
const Exchange = "SERVER-UPTIME"

const dialTimeout = 30 * time.Second

// Conn bundles an AMQP connection with its single channel.
type Conn struct {
	conn    *amqp.Connection
	ch      *amqp.Channel
	returns <-chan amqp.Return
}

// Dial connects to the broker. If the broker blocks the connection (resource
// alarm) for longer than cfg.ConnectionTimeout, the connection is dropped so
// the next use redials a healthy one.
func Dial(cfg config.RabbitConfig) (*Conn, error) {
	conn, err := amqp.DialConfig(cfg.URL(), amqp.Config{
		Heartbeat: 10 * time.Second,
		Dial:      amqp.DefaultDial(dialTimeout),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to connect to broker: %w", err)
	}

	ch, err := conn.Channel()
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("failed to open channel: %w", err)
	}

	c := &Conn{conn: conn, ch: ch}
	go c.watchBlocked(cfg.ConnectionTimeout)
	return c, nil
}

// DeclareOwner declares the exchange, the queue and the binding, creating
// them when absent. All declarations are idempotent; the producer runs this
// on every (re)connect.
func (c *Conn) DeclareOwner(queue string) error {
	if err := c.ch.ExchangeDeclare(Exchange, "direct", true, false, false, false, nil); err != nil {
		return fmt.Errorf("failed to declare exchange: %w", err)
	}
	if _, err := c.ch.QueueDeclare(queue, true, false, false, false, nil); err != nil {
		return fmt.Errorf("failed to declare queue %q: %w", queue, err)
	}
	if err := c.ch.QueueBind(queue, queue, Exchange, false, nil); err != nil {
		return fmt.Errorf("failed to bind queue %q: %w", queue, err)
	}
	return nil
}

// DeclarePassive verifies that the exchange and queue already exist, failing
// when they do not. The consumer never creates topology it does not own.
func (c *Conn) DeclarePassive(queue string) error {
	if err := c.ch.ExchangeDeclarePassive(Exchange, "direct", true, false, false, false, nil); err != nil {
		return fmt.Errorf("exchange %q missing: %w", Exchange, err)
	}
	if _, err := c.ch.QueueDeclarePassive(queue, true, false, false, false, nil); err != nil {
		return fmt.Errorf("queue %q missing: %w", queue, err)
	}
	if err := c.ch.QueueBind(queue, queue, Exchange, false, nil); err != nil {
		return fmt.Errorf("failed to bind queue %q: %w", queue, err)
	}
	return nil
}

// EnableConfirms puts the channel into confirm mode and starts listening for
// returned (unroutable) messages. Must be called before Publish.
func (c *Conn) EnableConfirms() error {
	if err := c.ch.Confirm(false); err != nil {
		return fmt.Errorf("failed to enable publisher confirms: %w", err)
	}
	c.returns = c.ch.NotifyReturn(make(chan amqp.Return, 1))
	return nil
}

// Publish sends body to the exchange with persistent delivery and the
// mandatory flag set, then waits for the broker's confirm. An unroutable
// message is returned by the broker before its confirm, so the returns
// channel is checked after the confirm arrives.
func (c *Conn) Publish(ctx context.Context, routingKey string, body []byte) error {
	dc, err := c.ch.PublishWithDeferredConfirmWithContext(ctx, Exchange, routingKey, true, false, amqp.Publishing{
		ContentType:  "application/json",
		DeliveryMode: amqp.Persistent,
		Timestamp:    time.Now(),
		Body:         body,
	})
	if err != nil {
		return fmt.Errorf("publish failed: %w", err)
	}

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-dc.Done():
	}

	select {
	case ret := <-c.returns:
		return fmt.Errorf("message unroutable: %s (code %d)", ret.ReplyText, ret.ReplyCode)
	default:
	}

	if !dc.Acked() {
		return fmt.Errorf("broker rejected publish (delivery tag %d)", dc.DeliveryTag)
	}
	return nil
}

// Consume starts delivering messages from queue with manual acknowledgement
// and at most one unacknowledged message in flight.
func (c *Conn) Consume(queue string) (<-chan amqp.Delivery, error) {
	if err := c.ch.Qos(1, 0, false); err != nil {
		return nil, fmt.Errorf("failed to set qos: %w", err)
	}
	deliveries, err := c.ch.Consume(queue, "", false, false, false, false, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to start consuming from %q: %w", queue, err)
	}
	return deliveries, nil
}

// IsClosed reports whether the connection or channel has been shut down.
func (c *Conn) IsClosed() bool {
	return c.conn.IsClosed() || c.ch.IsClosed()
}

// Close shuts down the channel and connection.
func (c *Conn) Close() error {
	c.ch.Close()
	return c.conn.Close()
}

// watchBlocked closes the connection when the broker keeps it blocked for
// longer than timeout. The owner notices via IsClosed and redials.
func (c *Conn) watchBlocked(timeout time.Duration) {
	if timeout <= 0 {
		return
	}
	blockings := c.conn.NotifyBlocked(make(chan amqp.Blocking, 1))

	timer := time.NewTimer(timeout)
	if !timer.Stop() {
		<-timer.C
	}
	defer timer.Stop()

	for {
		select {
		case b, ok := <-blockings:
			if !ok {
				return
			}
			if b.Active {
				timer.Reset(timeout)
			} else if !timer.Stop() {
				select {
				case <-timer.C:
				default:
				}
			}
		case <-timer.C:
			c.conn.Close()
			return
		}
	}
}
