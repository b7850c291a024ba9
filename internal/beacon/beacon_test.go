package beacon

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"go.uber.org/zap"
)

type fakePublisher struct {
	mu        sync.Mutex
	closed    bool
	failNext  bool
	published [][]byte
}

func (f *fakePublisher) IsClosed() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.closed
}

func (f *fakePublisher) Publish(ctx context.Context, routingKey string, body []byte) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failNext {
		f.failNext = false
		return errors.New("publish failed")
	}
	f.published = append(f.published, body)
	return nil
}

func (f *fakePublisher) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closed = true
	return nil
}

func (f *fakePublisher) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.published)
}

func newTestBeacon(dial func() (publisher, error)) *Beacon {
	return &Beacon{
		queue:      "test_uptime_queue",
		serverName: "web-1",
		interval:   5 * time.Millisecond,
		log:        zap.NewNop(),
		dial:       dial,
	}
}

func TestRunPublishesHeartbeats(t *testing.T) {
	pub := &fakePublisher{}
	b := newTestBeacon(func() (publisher, error) { return pub, nil })

	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()

	if err := b.Run(ctx); !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("Run() = %v, want deadline exceeded", err)
	}

	if pub.count() == 0 {
		t.Error("no heartbeats published")
	}
	if !pub.IsClosed() {
		t.Error("connection not closed on shutdown")
	}
}

func TestFailedPublishSkipsTickOnly(t *testing.T) {
	pub := &fakePublisher{failNext: true}
	b := newTestBeacon(func() (publisher, error) { return pub, nil })

	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()

	b.Run(ctx)

	// The failed tick is lost, later ticks still go out.
	if pub.count() == 0 {
		t.Error("loop did not recover after a failed publish")
	}
}

func TestReconnectReplacesClosedHandle(t *testing.T) {
	first := &fakePublisher{closed: true}
	second := &fakePublisher{}
	dials := 0
	b := newTestBeacon(func() (publisher, error) {
		dials++
		if dials == 1 {
			return first, nil
		}
		return second, nil
	})

	// First tick dials the (already dead) first handle, detects it closed
	// on the next tick and replaces it.
	if err := b.ensureConnected(); err != nil {
		t.Fatal(err)
	}
	if err := b.sendPing(context.Background()); err != nil {
		t.Fatalf("sendPing() after reconnect error = %v", err)
	}

	if dials != 2 {
		t.Errorf("dialed %d times, want 2", dials)
	}
	if second.count() != 1 {
		t.Errorf("heartbeat went to the wrong handle: second saw %d", second.count())
	}
}

func TestFailedReconnectDoesNotCrashLoop(t *testing.T) {
	dials := 0
	pub := &fakePublisher{}
	b := newTestBeacon(func() (publisher, error) {
		dials++
		if dials < 3 {
			return nil, errors.New("broker unreachable")
		}
		return pub, nil
	})

	ctx, cancel := context.WithTimeout(context.Background(), 150*time.Millisecond)
	defer cancel()

	b.Run(ctx)

	if dials < 3 {
		t.Fatalf("dialed %d times, want at least 3", dials)
	}
	if pub.count() == 0 {
		t.Error("no heartbeats after reconnect succeeded")
	}
}

func TestHeartbeatBodyUppercasesName(t *testing.T) {
	pub := &fakePublisher{}
	b := newTestBeacon(func() (publisher, error) { return pub, nil })

	if err := b.sendPing(context.Background()); err != nil {
		t.Fatal(err)
	}
	want := `{"count":1,"server_name":"WEB-1"}`
	if got := string(pub.published[0]); got != want {
		t.Errorf("published body = %s, want %s", got, want)
	}
}
