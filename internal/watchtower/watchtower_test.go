package watchtower

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
	"go.uber.org/zap"

	"github.com/fuomag9/server-uptime/internal/models"
)

type fakeStore struct {
	mu    sync.Mutex
	fail  bool
	folds []string
	count map[string]int64
}

func newFakeStore() *fakeStore {
	return &fakeStore{count: make(map[string]int64)}
}

func (f *fakeStore) FoldHeartbeat(ctx context.Context, name string, count int64, now time.Time) (models.Uptime, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.fail {
		return models.Uptime{}, errors.New("store unavailable")
	}
	f.folds = append(f.folds, name)
	f.count[name] += count
	return models.Uptime{Uptime: f.count[name], UptimePercentage: 100}, nil
}

func (f *fakeStore) total(name string) int64 {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.count[name]
}

// fakeAcker records the acknowledgement outcome of a single delivery.
type fakeAcker struct {
	mu      sync.Mutex
	acked   bool
	nacked  bool
	requeue bool
}

func (f *fakeAcker) Ack(tag uint64, multiple bool) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.acked = true
	return nil
}

func (f *fakeAcker) Nack(tag uint64, multiple bool, requeue bool) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.nacked = true
	f.requeue = requeue
	return nil
}

func (f *fakeAcker) Reject(tag uint64, requeue bool) error {
	return f.Nack(tag, false, requeue)
}

type fakeConsumer struct {
	deliveries chan amqp.Delivery
	closed     bool
}

func (f *fakeConsumer) Consume(queue string) (<-chan amqp.Delivery, error) {
	return f.deliveries, nil
}

func (f *fakeConsumer) Close() error {
	f.closed = true
	return nil
}

func delivery(acker *fakeAcker, body string) amqp.Delivery {
	return amqp.Delivery{Acknowledger: acker, Body: []byte(body)}
}

func newTestTower(st folder, dial func() (consumer, error)) *WatchTower {
	return &WatchTower{
		queue: "test_uptime_queue",
		store: st,
		loc:   time.UTC,
		log:   zap.NewNop(),
		dial:  dial,
		now:   func() time.Time { return time.Date(2024, 1, 1, 0, 0, 20, 0, time.UTC) },
	}
}

func TestHandleFoldsAndAcks(t *testing.T) {
	st := newFakeStore()
	w := newTestTower(st, nil)
	acker := &fakeAcker{}

	w.handle(context.Background(), delivery(acker, `{"count":1,"server_name":"web-1"}`))

	if st.total("WEB-1") != 1 {
		t.Errorf("fold total = %d, want 1", st.total("WEB-1"))
	}
	if !acker.acked {
		t.Error("message not acked after successful fold")
	}
	if acker.nacked {
		t.Error("message unexpectedly nacked")
	}
}

func TestHandleRejectsMalformedWithoutRequeue(t *testing.T) {
	tests := []struct {
		name string
		body string
	}{
		{"invalid json", `{"count":`},
		{"wrong schema", `{"foo":"bar"}`},
		{"zero count", `{"count":0,"server_name":"web-1"}`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			st := newFakeStore()
			w := newTestTower(st, nil)
			acker := &fakeAcker{}

			w.handle(context.Background(), delivery(acker, tt.body))

			if len(st.folds) != 0 {
				t.Error("malformed message reached the store")
			}
			if acker.acked {
				t.Error("malformed message was acked")
			}
			if !acker.nacked {
				t.Fatal("malformed message was not rejected")
			}
			if acker.requeue {
				t.Error("malformed message requeued, would redeliver forever")
			}
		})
	}
}

func TestHandleNacksWithRequeueOnStoreFailure(t *testing.T) {
	st := newFakeStore()
	st.fail = true
	w := newTestTower(st, nil)
	acker := &fakeAcker{}

	w.handle(context.Background(), delivery(acker, `{"count":1,"server_name":"web-1"}`))

	if acker.acked {
		t.Error("message acked despite failed fold")
	}
	if !acker.nacked || !acker.requeue {
		t.Error("failed fold must nack with requeue so the broker retries")
	}
}

func TestRunReconnectsAfterBrokerDisconnect(t *testing.T) {
	st := newFakeStore()

	first := &fakeConsumer{deliveries: make(chan amqp.Delivery, 1)}
	second := &fakeConsumer{deliveries: make(chan amqp.Delivery, 1)}

	ackerOne := &fakeAcker{}
	ackerTwo := &fakeAcker{}
	first.deliveries <- delivery(ackerOne, `{"count":1,"server_name":"web-1"}`)
	second.deliveries <- delivery(ackerTwo, `{"count":1,"server_name":"web-1"}`)

	var mu sync.Mutex
	dials := 0
	w := newTestTower(st, func() (consumer, error) {
		mu.Lock()
		defer mu.Unlock()
		dials++
		switch dials {
		case 1:
			return first, nil
		default:
			return second, nil
		}
	})

	ctx, cancel := context.WithCancel(context.Background())

	go func() {
		// Simulate the broker dropping the first session once its message
		// is processed, then stop the tower after the second fold.
		for st.total("WEB-1") < 1 {
			time.Sleep(time.Millisecond)
		}
		close(first.deliveries)
		for st.total("WEB-1") < 2 {
			time.Sleep(time.Millisecond)
		}
		cancel()
	}()

	err := w.Run(ctx)
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("Run() = %v, want context.Canceled", err)
	}

	// Each heartbeat folded exactly once, and both sessions were closed.
	if got := st.total("WEB-1"); got != 2 {
		t.Errorf("fold total = %d, want 2", got)
	}
	if !ackerOne.acked || !ackerTwo.acked {
		t.Error("heartbeats not acked across reconnect")
	}
	if !first.closed || !second.closed {
		t.Error("broker sessions not released")
	}
}
