package stream

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"

	"github.com/rangebridge/kiosk/internal/endpoint"
	"github.com/rangebridge/kiosk/internal/event"
)

// fakeConn is a scriptable stream connection. Frames pushed with push are
// returned from ReadMessage; fail ends the connection.
type fakeConn struct {
	frames chan []byte
	closed chan struct{}
	once   sync.Once
}

func newFakeConn() *fakeConn {
	return &fakeConn{
		frames: make(chan []byte, 64),
		closed: make(chan struct{}),
	}
}

func (c *fakeConn) push(frame string) {
	c.frames <- []byte(frame)
}

func (c *fakeConn) fail() {
	c.once.Do(func() { close(c.closed) })
}

func (c *fakeConn) ReadMessage() ([]byte, error) {
	select {
	case f := <-c.frames:
		return f, nil
	case <-c.closed:
		// Drain any frame that was pushed before the failure.
		select {
		case f := <-c.frames:
			return f, nil
		default:
		}
		return nil, errors.New("connection lost")
	}
}

func (c *fakeConn) Close() error {
	c.fail()
	return nil
}

// fakeDialer delegates to a per-test dial function and signals each attempt.
type fakeDialer struct {
	dial     func(ctx context.Context, url string) (Conn, error)
	attempts chan struct{}
}

func newFakeDialer(dial func(ctx context.Context, url string) (Conn, error)) *fakeDialer {
	return &fakeDialer{dial: dial, attempts: make(chan struct{}, 64)}
}

func (d *fakeDialer) DialContext(ctx context.Context, url string) (Conn, error) {
	d.attempts <- struct{}{}
	return d.dial(ctx, url)
}

func (d *fakeDialer) waitAttempt(t *testing.T) {
	t.Helper()
	select {
	case <-d.attempts:
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for a dial attempt")
	}
}

func (d *fakeDialer) assertNoAttempt(t *testing.T) {
	t.Helper()
	select {
	case <-d.attempts:
		t.Fatal("unexpected dial attempt")
	case <-time.After(20 * time.Millisecond):
	}
}

func testResolver() *endpoint.Resolver {
	return endpoint.NewResolver(endpoint.DefaultConfig(), func() (string, error) {
		return "localhost", nil
	})
}

func testConfig() Config {
	cfg := DefaultConfig()
	cfg.BackoffBase = 500 * time.Millisecond
	cfg.BackoffMultiplier = 2
	cfg.BackoffCeiling = 2 * time.Second
	cfg.StableOpen = 10 * time.Second
	return cfg
}

func shotFrame(n int) string {
	return fmt.Sprintf(`{"eventType":"shot_fired","timestamp":"2026-08-30T14:00:00Z","data":{"currentShot":%d}}`, n)
}

func collect(buf *[]event.Event, mu *sync.Mutex) MessageFunc {
	return func(ev event.Event) {
		mu.Lock()
		*buf = append(*buf, ev)
		mu.Unlock()
	}
}

func waitFor(t *testing.T, cond func() bool, msg string) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(2 * time.Millisecond)
	}
	t.Fatal(msg)
}

func TestBackoffDelaysNonDecreasingUpToCeiling(t *testing.T) {
	clock := clockwork.NewFakeClock()
	dialer := newFakeDialer(func(ctx context.Context, url string) (Conn, error) {
		return nil, errors.New("connection refused")
	})
	m := NewManager(testResolver(), testConfig(), dialer, clock, nil)
	defer m.Close()

	sub := m.Subscribe("live", func(event.Event) {})
	defer sub.Close()

	dialer.waitAttempt(t)

	// Expected schedule: base 500ms doubling to the 2s ceiling, then flat.
	delays := []time.Duration{
		500 * time.Millisecond,
		1 * time.Second,
		2 * time.Second,
		2 * time.Second,
		2 * time.Second,
	}
	for i, delay := range delays {
		clock.BlockUntil(1)

		// One tick short of the full delay must not trigger a dial.
		clock.Advance(delay - time.Millisecond)
		dialer.assertNoAttempt(t)

		clock.Advance(time.Millisecond)
		dialer.waitAttempt(t)

		wantAttempt := i + 2
		waitFor(t, func() bool {
			state := m.State("live")
			return state.Status == StatusReconnecting && state.Attempt == wantAttempt
		}, "attempt counter should track consecutive failures")
	}
}

func TestHungDialTimesOutIntoBackoff(t *testing.T) {
	clock := clockwork.NewFakeClock()

	// The dialer never answers: it parks until the dial context expires.
	dialer := newFakeDialer(func(ctx context.Context, url string) (Conn, error) {
		<-ctx.Done()
		return nil, ctx.Err()
	})

	cfg := testConfig()
	cfg.DialTimeout = 50 * time.Millisecond
	m := NewManager(testResolver(), cfg, dialer, clock, nil)
	defer m.Close()

	sub := m.Subscribe("live", func(event.Event) {})
	defer sub.Close()

	dialer.waitAttempt(t)

	// The hung dial must expire on its own and count as failure one.
	waitFor(t, func() bool {
		state := m.State("live")
		return state.Status == StatusReconnecting && state.Attempt == 1
	}, "timed-out dial should enter the backoff path")

	// And the backoff schedule proceeds from the base delay as usual.
	clock.BlockUntil(1)
	clock.Advance(500 * time.Millisecond)
	dialer.waitAttempt(t)
}

func TestBackoffResetsAfterStableOpen(t *testing.T) {
	clock := clockwork.NewFakeClock()

	var mu sync.Mutex
	var conn *fakeConn
	failFirst := true
	dialer := newFakeDialer(func(ctx context.Context, url string) (Conn, error) {
		mu.Lock()
		defer mu.Unlock()
		if failFirst {
			failFirst = false
			return nil, errors.New("connection refused")
		}
		conn = newFakeConn()
		return conn, nil
	})

	m := NewManager(testResolver(), testConfig(), dialer, clock, nil)
	defer m.Close()
	sub := m.Subscribe("live", func(event.Event) {})
	defer sub.Close()

	// First dial fails, consuming the 500ms base delay.
	dialer.waitAttempt(t)
	clock.BlockUntil(1)
	clock.Advance(500 * time.Millisecond)

	// Second dial succeeds.
	dialer.waitAttempt(t)
	waitFor(t, func() bool { return m.State("live").Status == StatusOpen }, "connection never opened")

	// Stay open past the stable-open window, then drop the connection.
	clock.Advance(11 * time.Second)
	mu.Lock()
	c := conn
	mu.Unlock()
	c.fail()

	// The schedule must be back at the base delay, not the next step.
	clock.BlockUntil(1)
	clock.Advance(499 * time.Millisecond)
	dialer.assertNoAttempt(t)
	clock.Advance(time.Millisecond)
	dialer.waitAttempt(t)
}

func TestBackoffKeepsGrowingAfterShortOpen(t *testing.T) {
	clock := clockwork.NewFakeClock()

	var mu sync.Mutex
	var conn *fakeConn
	failFirst := true
	dialer := newFakeDialer(func(ctx context.Context, url string) (Conn, error) {
		mu.Lock()
		defer mu.Unlock()
		if failFirst {
			failFirst = false
			return nil, errors.New("connection refused")
		}
		conn = newFakeConn()
		return conn, nil
	})

	m := NewManager(testResolver(), testConfig(), dialer, clock, nil)
	defer m.Close()
	sub := m.Subscribe("live", func(event.Event) {})
	defer sub.Close()

	dialer.waitAttempt(t)
	clock.BlockUntil(1)
	clock.Advance(500 * time.Millisecond)

	dialer.waitAttempt(t)
	waitFor(t, func() bool { return m.State("live").Status == StatusOpen }, "connection never opened")

	// Drop immediately: the open period was not stable, so the next delay
	// continues the schedule at 1s.
	mu.Lock()
	c := conn
	mu.Unlock()
	c.fail()

	clock.BlockUntil(1)
	clock.Advance(999 * time.Millisecond)
	dialer.assertNoAttempt(t)
	clock.Advance(time.Millisecond)
	dialer.waitAttempt(t)
}

func TestFanOutSharesOneConnection(t *testing.T) {
	var mu sync.Mutex
	var conn *fakeConn
	dials := 0
	dialer := newFakeDialer(func(ctx context.Context, url string) (Conn, error) {
		mu.Lock()
		defer mu.Unlock()
		dials++
		conn = newFakeConn()
		return conn, nil
	})

	m := NewManager(testResolver(), testConfig(), dialer, clockwork.NewFakeClock(), nil)
	defer m.Close()

	var gotA, gotB []event.Event
	subA := m.Subscribe("live", collect(&gotA, &mu))
	subB := m.Subscribe("live", collect(&gotB, &mu))
	defer subB.Close()

	dialer.waitAttempt(t)
	dialer.assertNoAttempt(t)
	waitFor(t, func() bool { return m.State("live").Status == StatusOpen }, "connection never opened")
	mu.Lock()
	if dials != 1 {
		mu.Unlock()
		t.Fatalf("two subscribers opened %d connections, want 1", dials)
	}
	c := conn
	mu.Unlock()

	for i := 1; i <= 3; i++ {
		c.push(shotFrame(i))
	}
	waitFor(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(gotA) == 3 && len(gotB) == 3
	}, "both subscribers should see all three events")

	mu.Lock()
	for i := range gotA {
		if gotA[i].Type != gotB[i].Type || string(gotA[i].Data) != string(gotB[i].Data) {
			mu.Unlock()
			t.Fatalf("subscribers diverged at event %d", i)
		}
	}
	mu.Unlock()

	// Closing one listener must not interrupt the other.
	subA.Close()
	c.push(shotFrame(4))
	c.push(shotFrame(5))
	waitFor(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(gotB) == 5
	}, "surviving subscriber should keep receiving")

	mu.Lock()
	defer mu.Unlock()
	if len(gotA) != 3 {
		t.Fatalf("closed subscriber received %d events, want 3", len(gotA))
	}
	if m.State("live").Status != StatusOpen {
		t.Fatalf("connection status = %v, want open", m.State("live").Status)
	}
}

func TestLastCloseTearsDownConnection(t *testing.T) {
	var mu sync.Mutex
	var conn *fakeConn
	dialer := newFakeDialer(func(ctx context.Context, url string) (Conn, error) {
		mu.Lock()
		defer mu.Unlock()
		conn = newFakeConn()
		return conn, nil
	})

	m := NewManager(testResolver(), testConfig(), dialer, clockwork.NewFakeClock(), nil)
	defer m.Close()

	sub := m.Subscribe("live", func(event.Event) {})
	dialer.waitAttempt(t)
	waitFor(t, func() bool { return m.State("live").Status == StatusOpen }, "connection never opened")

	sub.Close()
	sub.Close() // idempotent

	mu.Lock()
	c := conn
	mu.Unlock()
	select {
	case <-c.closed:
	case <-time.After(2 * time.Second):
		t.Fatal("underlying connection was not closed after last unsubscribe")
	}
	if got := m.State("live").Status; got != StatusClosed {
		t.Fatalf("State() = %v after teardown, want closed", got)
	}
	dialer.assertNoAttempt(t)
}

func TestCloseDuringConnectDeliversNothing(t *testing.T) {
	release := make(chan struct{})
	var mu sync.Mutex
	var conn *fakeConn
	dialer := newFakeDialer(func(ctx context.Context, url string) (Conn, error) {
		select {
		case <-release:
			mu.Lock()
			defer mu.Unlock()
			conn = newFakeConn()
			return conn, nil
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	})

	m := NewManager(testResolver(), testConfig(), dialer, clockwork.NewFakeClock(), nil)
	defer m.Close()

	delivered := make(chan event.Event, 8)
	sub := m.Subscribe("live", func(ev event.Event) { delivered <- ev })
	dialer.waitAttempt(t)

	// Close while the dial is still in flight, then let it finish.
	sub.Close()
	close(release)

	waitFor(t, func() bool { return m.State("live").Status == StatusClosed }, "channel should end closed")
	select {
	case ev := <-delivered:
		t.Fatalf("closed subscription received event %v", ev.Type)
	case <-time.After(50 * time.Millisecond):
	}
}

func TestMalformedFrameIsDroppedNotFatal(t *testing.T) {
	var mu sync.Mutex
	var conn *fakeConn
	dialer := newFakeDialer(func(ctx context.Context, url string) (Conn, error) {
		mu.Lock()
		defer mu.Unlock()
		conn = newFakeConn()
		return conn, nil
	})

	m := NewManager(testResolver(), testConfig(), dialer, clockwork.NewFakeClock(), nil)
	defer m.Close()

	var got []event.Event
	sub := m.Subscribe("live", collect(&got, &mu))
	defer sub.Close()

	dialer.waitAttempt(t)
	waitFor(t, func() bool { return m.State("live").Status == StatusOpen }, "connection never opened")
	mu.Lock()
	c := conn
	mu.Unlock()

	c.push(`{"eventType": "shot_fired", "data":`)
	c.push(`not json at all`)
	c.push(shotFrame(1))

	waitFor(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(got) == 1
	}, "valid frame after garbage should still be delivered")

	if m.State("live").Status != StatusOpen {
		t.Fatalf("decode failure must not kill the connection, status = %v", m.State("live").Status)
	}
}

func TestEventsDeliveredInArrivalOrder(t *testing.T) {
	var mu sync.Mutex
	var conn *fakeConn
	dialer := newFakeDialer(func(ctx context.Context, url string) (Conn, error) {
		mu.Lock()
		defer mu.Unlock()
		conn = newFakeConn()
		return conn, nil
	})

	m := NewManager(testResolver(), testConfig(), dialer, clockwork.NewFakeClock(), nil)
	defer m.Close()

	var got []event.Event
	sub := m.Subscribe("live", collect(&got, &mu))
	defer sub.Close()

	dialer.waitAttempt(t)
	waitFor(t, func() bool { return m.State("live").Status == StatusOpen }, "connection never opened")
	mu.Lock()
	c := conn
	mu.Unlock()

	const total = 50
	for i := 1; i <= total; i++ {
		c.push(shotFrame(i))
	}
	waitFor(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(got) == total
	}, "all frames should be delivered")

	mu.Lock()
	defer mu.Unlock()
	for i, ev := range got {
		want := fmt.Sprintf(`{"currentShot":%d}`, i+1)
		if string(ev.Data) != want {
			t.Fatalf("event %d out of order: data = %s, want %s", i, ev.Data, want)
		}
	}
}
