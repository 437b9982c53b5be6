package stream

import (
	"context"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog/log"

	"github.com/rangebridge/kiosk/internal/endpoint"
	"github.com/rangebridge/kiosk/internal/event"
)

// Config holds connection and reconnect tuning for the manager.
type Config struct {
	DialTimeout       time.Duration `yaml:"dial_timeout"`
	BackoffBase       time.Duration `yaml:"backoff_base"`
	BackoffCeiling    time.Duration `yaml:"backoff_ceiling"`
	BackoffMultiplier float64       `yaml:"backoff_multiplier"`

	// StableOpen is how long a connection must stay open before the
	// backoff schedule resets to its base delay.
	StableOpen time.Duration `yaml:"stable_open"`
}

// DefaultConfig returns the reconnect tuning used on the kiosk.
func DefaultConfig() Config {
	return Config{
		DialTimeout:       10 * time.Second,
		BackoffBase:       500 * time.Millisecond,
		BackoffCeiling:    30 * time.Second,
		BackoffMultiplier: 2,
		StableOpen:        30 * time.Second,
	}
}

// MessageFunc receives decoded events in arrival order.
type MessageFunc func(event.Event)

// Manager owns one persistent stream connection per logical channel and fans
// incoming events out to every attached listener. N panels watching the same
// channel share a single socket.
type Manager struct {
	resolver *endpoint.Resolver
	config   Config
	dialer   Dialer
	clock    clockwork.Clock
	metrics  *Metrics

	mu       sync.Mutex
	channels map[string]*channelStream

	rootCtx context.Context
	cancel  context.CancelFunc
}

// channelStream is the shared per-channel connection. All fields are guarded
// by the manager's mutex.
type channelStream struct {
	name      string
	listeners map[uuid.UUID]MessageFunc
	state     ConnectionState
	conn      Conn
	cancel    context.CancelFunc
}

// NewManager creates a connection manager. A nil dialer uses the production
// websocket dialer, a nil clock the real clock, and nil metrics unregistered
// collectors.
func NewManager(resolver *endpoint.Resolver, config Config, dialer Dialer, clock clockwork.Clock, metrics *Metrics) *Manager {
	if dialer == nil {
		dialer = NewWebSocketDialer()
	}
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	if metrics == nil {
		metrics = NewMetrics(nil)
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Manager{
		resolver: resolver,
		config:   config,
		dialer:   dialer,
		clock:    clock,
		metrics:  metrics,
		channels: make(map[string]*channelStream),
		rootCtx:  ctx,
		cancel:   cancel,
	}
}

// Subscription is one listener's handle on a channel. Closing it detaches
// the listener; closing the last listener of a channel tears the underlying
// connection down.
type Subscription struct {
	ID      uuid.UUID
	channel string
	manager *Manager
	once    sync.Once
}

// Channel returns the channel this subscription is attached to.
func (s *Subscription) Channel() string {
	return s.channel
}

// Close detaches the listener. It is safe to call more than once and safe to
// call while a connect attempt is in flight.
func (s *Subscription) Close() {
	s.once.Do(func() {
		s.manager.unsubscribe(s.channel, s.ID)
	})
}

// Subscribe attaches fn to the named channel, opening the channel's
// connection if this is its first listener.
func (m *Manager) Subscribe(channel string, fn MessageFunc) *Subscription {
	m.mu.Lock()
	defer m.mu.Unlock()

	cs, ok := m.channels[channel]
	if !ok {
		ctx, cancel := context.WithCancel(m.rootCtx)
		cs = &channelStream{
			name:      channel,
			listeners: make(map[uuid.UUID]MessageFunc),
			state:     ConnectionState{Status: StatusConnecting},
			cancel:    cancel,
		}
		m.channels[channel] = cs
		go m.run(ctx, cs)
	}

	sub := &Subscription{
		ID:      uuid.New(),
		channel: channel,
		manager: m,
	}
	cs.listeners[sub.ID] = fn
	m.metrics.Listeners.WithLabelValues(channel).Set(float64(len(cs.listeners)))

	log.Debug().
		Str("channel", channel).
		Str("subscription_id", sub.ID.String()).
		Int("listeners", len(cs.listeners)).
		Msg("listener attached")

	return sub
}

// unsubscribe detaches one listener and tears the channel down when it was
// the last one.
func (m *Manager) unsubscribe(channel string, id uuid.UUID) {
	m.mu.Lock()
	defer m.mu.Unlock()

	cs, ok := m.channels[channel]
	if !ok {
		return
	}
	if _, ok := cs.listeners[id]; !ok {
		return
	}
	delete(cs.listeners, id)
	m.metrics.Listeners.WithLabelValues(channel).Set(float64(len(cs.listeners)))

	log.Debug().
		Str("channel", channel).
		Str("subscription_id", id.String()).
		Int("listeners", len(cs.listeners)).
		Msg("listener detached")

	if len(cs.listeners) == 0 {
		cs.cancel()
		if cs.conn != nil {
			cs.conn.Close()
		}
		delete(m.channels, channel)
		log.Info().Str("channel", channel).Msg("last listener gone, closing channel connection")
	}
}

// State returns the read-only connection projection for a channel. A channel
// with no listeners reports closed.
func (m *Manager) State(channel string) ConnectionState {
	m.mu.Lock()
	defer m.mu.Unlock()

	if cs, ok := m.channels[channel]; ok {
		return cs.state
	}
	return ConnectionState{Status: StatusClosed}
}

// Stats returns a snapshot of the manager's channels for the status endpoint.
func (m *Manager) Stats() map[string]interface{} {
	m.mu.Lock()
	defer m.mu.Unlock()

	totalListeners := 0
	channels := make(map[string]interface{}, len(m.channels))
	for name, cs := range m.channels {
		totalListeners += len(cs.listeners)
		channels[name] = map[string]interface{}{
			"listeners": len(cs.listeners),
			"status":    cs.state.Status.String(),
			"attempt":   cs.state.Attempt,
		}
	}

	return map[string]interface{}{
		"total_listeners": totalListeners,
		"active_channels": len(m.channels),
		"channels":        channels,
	}
}

// Close tears down every channel connection and stops all run loops.
func (m *Manager) Close() {
	m.cancel()

	m.mu.Lock()
	defer m.mu.Unlock()
	for name, cs := range m.channels {
		if cs.conn != nil {
			cs.conn.Close()
		}
		delete(m.channels, name)
	}
}

func (m *Manager) setState(cs *channelStream, status Status, attempt int) {
	m.mu.Lock()
	cs.state = ConnectionState{Status: status, Attempt: attempt}
	m.mu.Unlock()
}

func (m *Manager) setConn(cs *channelStream, conn Conn) {
	m.mu.Lock()
	cs.conn = conn
	m.mu.Unlock()
}

// run is the per-channel connection loop. It is the only goroutine that
// touches the channel's socket, so events are delivered strictly in the
// order frames arrive.
func (m *Manager) run(ctx context.Context, cs *channelStream) {
	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = m.config.BackoffBase
	bo.MaxInterval = m.config.BackoffCeiling
	bo.Multiplier = m.config.BackoffMultiplier
	// No jitter: reconnect delays must be reproducible on the kiosk and in
	// tests, and a single client gains nothing from randomization.
	bo.RandomizationFactor = 0
	// Retry for the life of the channel.
	bo.MaxElapsedTime = 0
	bo.Reset()

	url := m.resolver.WebSocketURL(cs.name)
	attempt := 0

	for {
		m.setState(cs, StatusConnecting, attempt)
		m.metrics.ConnectAttempts.WithLabelValues(cs.name).Inc()

		// A dial that neither opens nor errors within DialTimeout is a
		// failure like any other. Unlike the backoff and stable-open
		// delays this deadline runs on wall time, not the injected clock:
		// a fake-clock waiter that exists only for the duration of a dial
		// would make the backoff timers ambiguous to drive in tests.
		dialCtx, cancelDial := context.WithTimeout(ctx, m.config.DialTimeout)
		conn, err := m.dialer.DialContext(dialCtx, url)
		cancelDial()

		if err != nil {
			if ctx.Err() != nil {
				m.setState(cs, StatusClosed, 0)
				return
			}
			attempt++
			log.Warn().
				Err(err).
				Str("channel", cs.name).
				Int("attempt", attempt).
				Msg("stream connect failed")
			if !m.waitBackoff(ctx, cs, bo, attempt) {
				return
			}
			continue
		}

		// The last listener may have unsubscribed while the dial was in
		// flight; the connection must not be used in that case.
		if ctx.Err() != nil {
			conn.Close()
			m.setState(cs, StatusClosed, 0)
			return
		}

		m.setConn(cs, conn)
		attempt = 0
		m.setState(cs, StatusOpen, 0)
		openedAt := m.clock.Now()
		log.Info().Str("channel", cs.name).Str("url", url).Msg("stream connected")

		m.readLoop(ctx, cs, conn)

		m.setConn(cs, nil)
		conn.Close()

		if ctx.Err() != nil {
			m.setState(cs, StatusClosed, 0)
			return
		}

		if m.clock.Since(openedAt) >= m.config.StableOpen {
			bo.Reset()
		}
		attempt++
		log.Warn().Str("channel", cs.name).Msg("stream connection lost")
		if !m.waitBackoff(ctx, cs, bo, attempt) {
			return
		}
	}
}

// waitBackoff parks the run loop for the next backoff delay. It returns
// false when the channel was torn down while waiting.
func (m *Manager) waitBackoff(ctx context.Context, cs *channelStream, bo *backoff.ExponentialBackOff, attempt int) bool {
	m.setState(cs, StatusReconnecting, attempt)
	m.metrics.Reconnects.WithLabelValues(cs.name).Inc()

	delay := bo.NextBackOff()
	log.Debug().
		Str("channel", cs.name).
		Int("attempt", attempt).
		Dur("delay", delay).
		Msg("scheduling reconnect")

	select {
	case <-m.clock.After(delay):
		return true
	case <-ctx.Done():
		m.setState(cs, StatusClosed, 0)
		return false
	}
}

// readLoop pumps frames off one connection until it dies. Malformed frames
// are dropped and counted, never propagated.
func (m *Manager) readLoop(ctx context.Context, cs *channelStream, conn Conn) {
	for {
		raw, err := conn.ReadMessage()
		if err != nil {
			if ctx.Err() == nil {
				log.Warn().Err(err).Str("channel", cs.name).Msg("stream read failed")
			}
			return
		}

		ev, err := event.Decode(raw)
		if err != nil {
			m.metrics.DecodeFailures.WithLabelValues(cs.name).Inc()
			log.Warn().Err(err).Str("channel", cs.name).Msg("dropping undecodable frame")
			continue
		}

		m.metrics.Events.WithLabelValues(cs.name).Inc()
		m.deliver(cs, ev)
	}
}

// deliver fans one event out to the channel's listeners. Liveness is
// re-checked per listener at delivery time, so a subscription closed while
// the frame was in flight never sees it.
func (m *Manager) deliver(cs *channelStream, ev event.Event) {
	m.mu.Lock()
	ids := make([]uuid.UUID, 0, len(cs.listeners))
	fns := make([]MessageFunc, 0, len(cs.listeners))
	for id, fn := range cs.listeners {
		ids = append(ids, id)
		fns = append(fns, fn)
	}
	m.mu.Unlock()

	for i, id := range ids {
		m.mu.Lock()
		_, alive := cs.listeners[id]
		m.mu.Unlock()
		if !alive {
			continue
		}
		fns[i](ev)
	}
}
