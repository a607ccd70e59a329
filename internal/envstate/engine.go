package envstate

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/bryanchriswhite/envbridge/internal/logger"
	"github.com/bryanchriswhite/envbridge/internal/window"
	"github.com/hashicorp/go-multierror"
)

const (
	// DefaultTickInterval is the pointer sampling period
	DefaultTickInterval = 100 * time.Millisecond

	eventQueueSize      = 256
	subscriberQueueSize = 16
)

// Sender delivers serialized snapshots to the consumer
type Sender interface {
	SendState(payload string) error
}

// RefreshSource delivers inbound refresh requests. An empty key list means all.
type RefreshSource interface {
	OnRefreshRequested(cb func(keys []string)) (unsubscribe func(), err error)
}

// Options configures an Engine
type Options struct {
	TickInterval time.Duration
	Clock        clock.Clock
}

// loop is the state of one Enable..Disable run
type loop struct {
	events  chan func()
	done    chan struct{}
	stopped chan struct{}
	ticker  *clock.Ticker
}

// post queues fn on the engine loop. It reports false once the loop stopped.
func (l *loop) post(fn func()) bool {
	select {
	case <-l.done:
		return false
	default:
	}
	select {
	case l.events <- fn:
		return true
	case <-l.done:
		return false
	}
}

// Engine tracks window state and publishes snapshots of it. All state is
// touched from a single goroutine started by Enable.
type Engine struct {
	backend window.Backend
	sender  Sender
	refresh RefreshSource
	opts    Options

	tracker  *Tracker
	registry *Registry
	sampler  *Sampler

	mu                 sync.Mutex
	run                atomic.Pointer[loop]
	focusSub           window.Subscription
	pointerSub         window.Subscription
	unsubscribeRefresh func()

	subMu       sync.RWMutex
	subscribers map[chan []byte]struct{}
}

// New creates an engine. refresh may be nil when no inbound requests are wired.
func New(backend window.Backend, sender Sender, refresh RefreshSource, opts Options) *Engine {
	if opts.TickInterval == 0 {
		opts.TickInterval = DefaultTickInterval
	}
	if opts.Clock == nil {
		opts.Clock = clock.New()
	}

	e := &Engine{
		backend:     backend,
		sender:      sender,
		refresh:     refresh,
		opts:        opts,
		subscribers: make(map[chan []byte]struct{}),
	}
	e.tracker = NewTracker(backend, e.notifyProperty)
	e.registry = NewRegistry(e.tracker, backend)
	e.sampler = NewSampler(e.tracker.ResolvePointer, func(w window.Window) {
		e.publishLogged(e.tracker.OnPointerResolved(w))
	})
	return e
}

// Keys returns every publishable attribute in registry order
func (e *Engine) Keys() []string {
	return e.registry.Keys()
}

// Enabled reports whether the engine loop is running
func (e *Engine) Enabled() bool {
	return e.run.Load() != nil
}

// Enable subscribes to the backend and bus, bootstraps state, publishes a
// full snapshot and starts the loop. On failure everything registered so
// far is released.
func (e *Engine) Enable() (err error) {
	log := logger.WithComponent("engine")

	e.mu.Lock()
	defer e.mu.Unlock()

	if e.run.Load() != nil {
		return ErrAlreadyEnabled
	}

	l := &loop{
		events:  make(chan func(), eventQueueSize),
		done:    make(chan struct{}),
		stopped: make(chan struct{}),
	}
	// Callbacks may fire before the loop starts; they queue on l.events
	e.run.Store(l)

	defer func() {
		if err == nil {
			return
		}
		e.run.Store(nil)
		close(l.done)
		if rerr := e.release(); rerr != nil {
			log.Warn().Err(rerr).Msg("Rollback after failed enable was incomplete")
		}
	}()

	if e.refresh != nil {
		unsubscribe, err := e.refresh.OnRefreshRequested(func(keys []string) {
			l.post(func() { e.handleRefresh(keys) })
		})
		if err != nil {
			return fmt.Errorf("failed to subscribe to refresh requests: %w", err)
		}
		e.unsubscribeRefresh = unsubscribe
	}

	e.focusSub, err = e.backend.OnFocusChanged(func() {
		l.post(func() { e.publishLogged(e.tracker.OnFocusChanged()) })
	})
	if err != nil {
		return fmt.Errorf("failed to subscribe to focus changes: %w", err)
	}

	e.pointerSub, err = e.backend.OnPointerMoved(e.sampler.MarkMoved)
	if err != nil {
		return fmt.Errorf("failed to subscribe to pointer motion: %w", err)
	}

	if e.opts.TickInterval <= 0 {
		return fmt.Errorf("failed to create ticker: invalid interval %s", e.opts.TickInterval)
	}
	l.ticker = e.opts.Clock.Ticker(e.opts.TickInterval)

	// Bootstrap both roles, then publish everything once
	e.tracker.OnFocusChanged()
	e.tracker.OnPointerResolved(e.tracker.ResolvePointer())
	e.publishLogged(nil)

	go e.loop(l)

	log.Info().
		Str("backend", e.backend.Name()).
		Dur("tick_interval", e.opts.TickInterval).
		Int("attributes", len(e.registry.Keys())).
		Msg("Engine enabled")
	return nil
}

// Disable stops the loop and releases every subscription. It is a no-op on
// a stopped engine.
func (e *Engine) Disable() error {
	e.mu.Lock()
	defer e.mu.Unlock()

	l := e.run.Swap(nil)
	if l == nil {
		return nil
	}

	close(l.done)
	<-l.stopped

	err := e.release()
	if l.ticker != nil {
		l.ticker.Stop()
	}

	logger.WithComponent("engine").Info().Msg("Engine disabled")
	return err
}

// release drops refresh, host and per-window subscriptions
func (e *Engine) release() error {
	var result error

	if e.unsubscribeRefresh != nil {
		e.unsubscribeRefresh()
		e.unsubscribeRefresh = nil
	}

	for _, sub := range []window.Subscription{e.focusSub, e.pointerSub} {
		if !sub.Valid() {
			continue
		}
		if err := e.backend.Unsubscribe(sub); err != nil {
			result = multierror.Append(result, fmt.Errorf("failed to unsubscribe host notification: %w", err))
		}
	}
	e.focusSub = window.Subscription{}
	e.pointerSub = window.Subscription{}

	if err := e.tracker.Reset(); err != nil {
		result = multierror.Append(result, err)
	}
	return result
}

func (e *Engine) loop(l *loop) {
	defer close(l.stopped)

	for {
		select {
		case <-l.done:
			return
		default:
		}

		select {
		case <-l.done:
			return
		case fn := <-l.events:
			fn()
		case <-l.ticker.C:
			e.sampler.OnTick()
		}
	}
}

// notifyProperty is called by backend goroutines when a hovered window property changes
func (e *Engine) notifyProperty(keys []string) {
	if l := e.run.Load(); l != nil {
		l.post(func() { e.publishLogged(keys) })
	}
}

// handleRefresh serves an inbound bus request
func (e *Engine) handleRefresh(keys []string) {
	if err := e.registry.Validate(keys); err != nil {
		logger.WithComponent("engine").Warn().
			Err(err).
			Strs("keys", keys).
			Msg("Rejecting refresh request")
		return
	}
	e.publishLogged(keys)
}

// publishLogged publishes keys, logging unknown keys at error level
func (e *Engine) publishLogged(keys []string) {
	if err := e.publish(keys); err != nil {
		logger.WithComponent("engine").Error().
			Err(err).
			Strs("keys", keys).
			Msg("Publish failed")
	}
}

// build reads keys from live state, dropping destroyed windows first. Loop only.
func (e *Engine) build(keys []string) (*Snapshot, error) {
	e.tracker.Prune()
	return e.registry.Build(keys)
}

// publish builds, serializes and sends a snapshot. Loop only.
func (e *Engine) publish(keys []string) error {
	log := logger.WithComponent("engine")

	snap, err := e.build(keys)
	if err != nil {
		return err
	}
	payload, err := json.Marshal(snap)
	if err != nil {
		return fmt.Errorf("failed to serialize snapshot: %w", err)
	}

	log.Debug().
		Strs("keys", snap.Keys()).
		Msg("Publishing")

	if err := e.sender.SendState(string(payload)); err != nil {
		log.Debug().Err(err).Msg("Bus delivery failed")
	}
	e.broadcast(payload)
	return nil
}

// Publish queues a publish of keys, or of everything when keys is empty
func (e *Engine) Publish(keys []string) error {
	if err := e.registry.Validate(keys); err != nil {
		return err
	}
	l := e.run.Load()
	if l == nil || !l.post(func() { e.publishLogged(keys) }) {
		return ErrNotEnabled
	}
	return nil
}

// Snapshot builds a snapshot on the loop without publishing it
func (e *Engine) Snapshot(ctx context.Context, keys []string) (*Snapshot, error) {
	if err := e.registry.Validate(keys); err != nil {
		return nil, err
	}

	l := e.run.Load()
	if l == nil {
		return nil, ErrNotEnabled
	}

	type result struct {
		snap *Snapshot
		err  error
	}
	ch := make(chan result, 1)
	if !l.post(func() {
		snap, err := e.build(keys)
		ch <- result{snap, err}
	}) {
		return nil, ErrNotEnabled
	}

	select {
	case r := <-ch:
		return r.snap, r.err
	case <-l.stopped:
		return nil, ErrNotEnabled
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Subscribe returns a channel receiving every published payload
func (e *Engine) Subscribe() chan []byte {
	e.subMu.Lock()
	defer e.subMu.Unlock()

	ch := make(chan []byte, subscriberQueueSize)
	e.subscribers[ch] = struct{}{}
	return ch
}

// Unsubscribe removes and closes a channel returned by Subscribe
func (e *Engine) Unsubscribe(ch chan []byte) {
	e.subMu.Lock()
	defer e.subMu.Unlock()

	if _, ok := e.subscribers[ch]; ok {
		delete(e.subscribers, ch)
		close(ch)
	}
}

// broadcast hands payload to subscribers without blocking the loop
func (e *Engine) broadcast(payload []byte) {
	e.subMu.RLock()
	defer e.subMu.RUnlock()

	for ch := range e.subscribers {
		select {
		case ch <- payload:
		default:
			logger.WithComponent("engine").Debug().Msg("Subscriber queue full, dropping snapshot")
		}
	}
}
