// Package beacon implements the heartbeat producer that runs on each
// monitored server: one durable, confirmed publish per tick, reconnecting
// transparently when the broker connection drops.
package beacon

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/fuomag9/server-uptime/internal/broker"
	"github.com/fuomag9/server-uptime/internal/config"
)

const publishTimeout = 5 * time.Second

// publisher is the subset of broker.Conn the beacon uses. It exists so tests
// can run the tick loop against a fake.
type publisher interface {
	IsClosed() bool
	Publish(ctx context.Context, routingKey string, body []byte) error
	Close() error
}

// Beacon emits one heartbeat per interval until its context is cancelled.
type Beacon struct {
	queue      string
	serverName string
	interval   time.Duration
	log        *zap.Logger

	dial func() (publisher, error)
	conn publisher
}

// New creates a beacon for queue. serverName defaults to the queue name when
// empty, matching the CLI contract.
func New(cfg *config.Config, queue, serverName string, log *zap.Logger) *Beacon {
	if serverName == "" {
		serverName = queue
	}
	return &Beacon{
		queue:      queue,
		serverName: serverName,
		interval:   cfg.HeartbeatInterval,
		log:        log,
		dial: func() (publisher, error) {
			return dialProducer(cfg.Rabbit, queue)
		},
	}
}

// dialProducer connects and sets up the topology the producer owns: durable
// exchange, durable queue, binding, publisher confirms.
func dialProducer(cfg config.RabbitConfig, queue string) (publisher, error) {
	conn, err := broker.Dial(cfg)
	if err != nil {
		return nil, err
	}
	if err := conn.DeclareOwner(queue); err != nil {
		conn.Close()
		return nil, err
	}
	if err := conn.EnableConfirms(); err != nil {
		conn.Close()
		return nil, err
	}
	return conn, nil
}

// Run drives the tick loop. A tick whose publish fails is skipped: that
// second simply does not count as uptime. The loop only exits on context
// cancellation, after closing the connection.
func (b *Beacon) Run(ctx context.Context) error {
	defer b.closeConn()

	b.log.Info("beacon starting",
		zap.String("queue", b.queue),
		zap.String("server_name", b.serverName),
		zap.Duration("interval", b.interval))

	ticker := time.NewTicker(b.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			b.log.Info("beacon stopping")
			return ctx.Err()
		case <-ticker.C:
			if err := b.sendPing(ctx); err != nil {
				b.log.Warn("heartbeat tick skipped", zap.Error(err))
			}
		}
	}
}

// sendPing ensures a live connection and publishes one heartbeat.
func (b *Beacon) sendPing(ctx context.Context) error {
	if err := b.ensureConnected(); err != nil {
		return err
	}

	body, err := broker.EncodeHeartbeat(1, b.serverName)
	if err != nil {
		return err
	}

	// Bound the confirm wait so a wedged broker cannot stall the tick loop.
	pubCtx, cancel := context.WithTimeout(ctx, publishTimeout)
	defer cancel()

	if err := b.conn.Publish(pubCtx, b.queue, body); err != nil {
		return err
	}

	b.log.Info("heartbeat sent", zap.String("server_name", b.serverName))
	return nil
}

// ensureConnected redials and redeclares when the current handle is closed.
// The stale handle is replaced, never reused.
func (b *Beacon) ensureConnected() error {
	if b.conn != nil && !b.conn.IsClosed() {
		return nil
	}
	if b.conn != nil {
		b.conn.Close()
		b.conn = nil
		b.log.Warn("broker connection lost, reconnecting")
	}

	conn, err := b.dial()
	if err != nil {
		return err
	}
	b.conn = conn
	b.log.Info("connected to broker", zap.String("queue", b.queue))
	return nil
}

func (b *Beacon) closeConn() {
	if b.conn != nil {
		b.conn.Close()
		b.conn = nil
	}
}
