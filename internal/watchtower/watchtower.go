// Package watchtower implements the aggregator: it consumes heartbeat
// events from the broker and folds each one into the matching server's daily
// uptime record, acknowledging only after the write committed.
package watchtower

import (
	"context"
	"errors"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
	"go.uber.org/zap"

	"github.com/fuomag9/server-uptime/internal/broker"
	"github.com/fuomag9/server-uptime/internal/config"
	"github.com/fuomag9/server-uptime/internal/models"
)

const (
	initialBackoff = time.Second
	maxBackoff     = 30 * time.Second
)

var errDeliveriesClosed = errors.New("delivery channel closed by broker")

// folder is the store surface the watchtower folds into.
type folder interface {
	FoldHeartbeat(ctx context.Context, name string, count int64, now time.Time) (models.Uptime, error)
}

// consumer is one live broker session. Closing it releases the connection;
// the delivery channel closing signals a broker-side disconnect.
type consumer interface {
	Consume(queue string) (<-chan amqp.Delivery, error)
	Close() error
}

// WatchTower consumes a queue and aggregates heartbeats into the store.
type WatchTower struct {
	queue string
	store folder
	loc   *time.Location
	log   *zap.Logger

	dial func() (consumer, error)
	now  func() time.Time
}

// New creates a watchtower for queue backed by st.
func New(cfg *config.Config, queue string, st folder, log *zap.Logger) *WatchTower {
	return &WatchTower{
		queue: queue,
		store: st,
		loc:   cfg.Location,
		log:   log,
		dial: func() (consumer, error) {
			return dialConsumer(cfg.Rabbit, queue)
		},
		now: time.Now,
	}
}

// dialConsumer connects and verifies, without creating, the topology the
// consumer reads from.
func dialConsumer(cfg config.RabbitConfig, queue string) (consumer, error) {
	conn, err := broker.Dial(cfg)
	if err != nil {
		return nil, err
	}
	if err := conn.DeclarePassive(queue); err != nil {
		conn.Close()
		return nil, err
	}
	return conn, nil
}

// Run consumes until the context is cancelled. A broker-side disconnect is
// recovered with a capped exponential backoff; unacknowledged messages are
// redelivered by the broker after reconnect.
func (w *WatchTower) Run(ctx context.Context) error {
	backoff := initialBackoff

	for {
		connected, err := w.consumeOnce(ctx)
		if ctx.Err() != nil {
			w.log.Info("watchtower stopping")
			return ctx.Err()
		}
		if connected {
			backoff = initialBackoff
		}

		w.log.Warn("consume loop ended, reconnecting",
			zap.Error(err),
			zap.Duration("retry_in", backoff))

		select {
		case <-ctx.Done():
			w.log.Info("watchtower stopping")
			return ctx.Err()
		case <-time.After(backoff):
		}

		backoff *= 2
		if backoff > maxBackoff {
			backoff = maxBackoff
		}
	}
}

// consumeOnce runs one broker session until it fails or the context ends.
// The returned bool reports whether the session got as far as consuming,
// which resets the reconnect backoff.
func (w *WatchTower) consumeOnce(ctx context.Context) (bool, error) {
	conn, err := w.dial()
	if err != nil {
		return false, err
	}
	defer conn.Close()

	deliveries, err := conn.Consume(w.queue)
	if err != nil {
		return false, err
	}

	w.log.Info("waiting for heartbeats", zap.String("queue", w.queue))

	for {
		select {
		case <-ctx.Done():
			return true, ctx.Err()
		case d, ok := <-deliveries:
			if !ok {
				return true, errDeliveriesClosed
			}
			w.handle(ctx, d)
		}
	}
}

// handle processes one delivery: decode, fold, then ack. Malformed bodies
// are rejected without requeue so a poison message cannot loop forever; a
// failed fold is nacked with requeue and retried via broker redelivery.
func (w *WatchTower) handle(ctx context.Context, d amqp.Delivery) {
	hb, err := broker.DecodeHeartbeat(d.Body)
	if err != nil {
		w.log.Warn("dropping malformed heartbeat", zap.Error(err))
		if rejectErr := d.Reject(false); rejectErr != nil {
			w.log.Error("failed to reject message", zap.Error(rejectErr))
		}
		return
	}

	w.log.Info("received uptime", zap.String("server_name", hb.ServerName))

	rec, err := w.store.FoldHeartbeat(ctx, hb.ServerName, hb.Count, w.now().In(w.loc))
	if err != nil {
		w.log.Error("failed to update uptime, message will be redelivered",
			zap.String("server_name", hb.ServerName),
			zap.Error(err))
		if nackErr := d.Nack(false, true); nackErr != nil {
			w.log.Error("failed to nack message", zap.Error(nackErr))
		}
		return
	}

	// The write is committed; only now is the message acknowledged. A crash
	// between commit and ack means one redelivered (double-counted)
	// heartbeat, which this design accepts as an at-least-once tradeoff.
	if err := d.Ack(false); err != nil {
		w.log.Error("failed to ack message", zap.Error(err))
		return
	}

	w.log.Info("done updating uptime",
		zap.String("server_name", hb.ServerName),
		zap.Int64("uptime", rec.Uptime),
		zap.Float64("uptime_percentage", rec.UptimePercentage))
}
