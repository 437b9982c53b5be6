// Package watch is the interface display panels use to follow a stream
// channel. A Store folds the channel's events through the timer reducer and
// fans the resulting snapshots out to any number of watchers, so every panel
// renders from the same state and no panel owns its own socket or event log.
package watch

import (
	"sync"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/rangebridge/kiosk/internal/event"
	"github.com/rangebridge/kiosk/internal/stream"
	"github.com/rangebridge/kiosk/internal/timer"
)

// Snapshot is the consistent pair a panel renders: the timer state plus the
// connection status of the channel it came from.
type Snapshot struct {
	Timer timer.State
	Conn  stream.ConnectionState
}

// Store derives per-channel timer state from a stream manager and hands it
// to watchers.
type Store struct {
	manager *stream.Manager
	rules   timer.Rules

	mu       sync.Mutex
	channels map[string]*channelWatch
}

// channelWatch is the shared reducer state for one channel. Guarded by the
// store's mutex; events reach apply in stream-delivery order because the
// manager delivers them from a single per-channel goroutine.
type channelWatch struct {
	name     string
	sub      *stream.Subscription
	state    timer.State
	watchers map[uuid.UUID]*Watcher
}

// NewStore creates a Store over the given manager and phase rules.
func NewStore(manager *stream.Manager, rules timer.Rules) *Store {
	return &Store{
		manager:  manager,
		rules:    rules,
		channels: make(map[string]*channelWatch),
	}
}

// Watcher is one consumer's handle on a channel's state.
type Watcher struct {
	id        uuid.UUID
	channel   string
	store     *Store
	snapshots chan Snapshot
	once      sync.Once
}

// Watch attaches a new watcher to the named channel. The first watcher for a
// channel subscribes the store to the stream; later watchers share that
// subscription and its reducer state.
func (s *Store) Watch(channel string) *Watcher {
	s.mu.Lock()
	defer s.mu.Unlock()

	cw, ok := s.channels[channel]
	if !ok {
		cw = &channelWatch{
			name:     channel,
			state:    timer.NewState(),
			watchers: make(map[uuid.UUID]*Watcher),
		}
		cw.sub = s.manager.Subscribe(channel, func(ev event.Event) {
			s.apply(cw, ev)
		})
		s.channels[channel] = cw
		log.Debug().Str("channel", channel).Msg("started reducing channel")
	}

	w := &Watcher{
		id:        uuid.New(),
		channel:   channel,
		store:     s,
		snapshots: make(chan Snapshot, 1),
	}
	cw.watchers[w.id] = w
	return w
}

// apply folds one event into the channel state and notifies every watcher.
// Runs on the manager's delivery goroutine, one event at a time per channel.
func (s *Store) apply(cw *channelWatch, ev event.Event) {
	s.mu.Lock()
	defer s.mu.Unlock()

	// The channel may have been torn down while this event was in flight.
	if s.channels[cw.name] != cw {
		return
	}

	cw.state = s.rules.Reduce(cw.state, ev)
	snap := Snapshot{
		Timer: cw.state,
		Conn:  s.manager.State(cw.name),
	}

	for _, w := range cw.watchers {
		w.push(snap)
	}
}

// push hands a snapshot to the watcher, latest-wins: a slow consumer may
// skip intermediate snapshots but never observes an older one after a newer
// one. Only the channel's delivery goroutine sends, so the drain-then-send
// cannot race another sender.
func (w *Watcher) push(snap Snapshot) {
	select {
	case w.snapshots <- snap:
		return
	default:
	}
	select {
	case <-w.snapshots:
	default:
	}
	select {
	case w.snapshots <- snap:
	default:
	}
}

// Snapshots delivers state updates, newest available first. The channel is
// closed when the watcher is.
func (w *Watcher) Snapshots() <-chan Snapshot {
	return w.snapshots
}

// State returns the current snapshot. All watchers of a channel see the
// identical snapshot at any fixed point in time.
func (w *Watcher) State() Snapshot {
	w.store.mu.Lock()
	defer w.store.mu.Unlock()

	cw, ok := w.store.channels[w.channel]
	if !ok {
		return Snapshot{
			Timer: timer.NewState(),
			Conn:  w.store.manager.State(w.channel),
		}
	}
	return Snapshot{
		Timer: cw.state,
		Conn:  w.store.manager.State(w.channel),
	}
}

// Close detaches the watcher. Safe to call multiple times; other watchers of
// the channel are unaffected. The last watcher closing discards the channel
// state and the stream subscription.
func (w *Watcher) Close() {
	w.once.Do(func() {
		w.store.unwatch(w)
	})
}

func (s *Store) unwatch(w *Watcher) {
	s.mu.Lock()
	defer s.mu.Unlock()

	cw, ok := s.channels[w.channel]
	if !ok || cw.watchers[w.id] != w {
		return
	}
	delete(cw.watchers, w.id)
	close(w.snapshots)

	if len(cw.watchers) == 0 {
		cw.sub.Close()
		delete(s.channels, w.channel)
		log.Debug().Str("channel", w.channel).Msg("last watcher gone, discarding channel state")
	}
}
