package bus

import (
	"fmt"
	"sync"

	"github.com/bryanchriswhite/envbridge/internal/logger"
	"github.com/godbus/dbus/v5"
	"github.com/hashicorp/go-multierror"
)

const (
	// RequestSignal asks for a publish of the listed keys (all when empty)
	RequestSignal = "environmentStateRequested"
	// StateMethod receives the JSON payload
	StateMethod = "environmentState"
)

// Config names the consumer's service, object path and interface
type Config struct {
	Service   string
	Path      string
	Interface string
}

// Responder carries refresh requests in and snapshot payloads out over the
// session bus
type Responder struct {
	conn *dbus.Conn
	cfg  Config

	mu       sync.Mutex
	nextID   uint64
	handlers map[uint64]func(keys []string)
	signals  chan *dbus.Signal
	stopChan chan struct{}
	closed   bool
}

// Connect opens the session bus and starts listening for refresh requests
func Connect(cfg Config) (*Responder, error) {
	conn, err := dbus.ConnectSessionBus()
	if err != nil {
		return nil, fmt.Errorf("failed to connect to session bus: %w", err)
	}

	r := newResponder(conn, cfg)
	if err := r.start(); err != nil {
		conn.Close()
		return nil, err
	}
	return r, nil
}

func newResponder(conn *dbus.Conn, cfg Config) *Responder {
	return &Responder{
		conn:     conn,
		cfg:      cfg,
		handlers: make(map[uint64]func(keys []string)),
		stopChan: make(chan struct{}),
	}
}

func (r *Responder) matchOptions() []dbus.MatchOption {
	return []dbus.MatchOption{
		dbus.WithMatchInterface(r.cfg.Interface),
		dbus.WithMatchMember(RequestSignal),
		dbus.WithMatchObjectPath(dbus.ObjectPath(r.cfg.Path)),
	}
}

func (r *Responder) start() error {
	log := logger.WithComponent("bus")

	if err := r.conn.AddMatchSignal(r.matchOptions()...); err != nil {
		return fmt.Errorf("failed to add match for %s.%s: %w", r.cfg.Interface, RequestSignal, err)
	}

	r.signals = make(chan *dbus.Signal, 16)
	r.conn.Signal(r.signals)
	go r.watch()

	log.Info().
		Str("service", r.cfg.Service).
		Str("path", r.cfg.Path).
		Str("interface", r.cfg.Interface).
		Msg("Listening for environment state requests")
	return nil
}

func (r *Responder) watch() {
	for {
		select {
		case <-r.stopChan:
			return
		case sig, ok := <-r.signals:
			if !ok {
				return
			}
			if sig == nil {
				continue
			}
			r.dispatch(sig)
		}
	}
}

// dispatch hands a matching signal to every registered handler
func (r *Responder) dispatch(sig *dbus.Signal) {
	log := logger.WithComponent("bus")

	if sig.Name != r.cfg.Interface+"."+RequestSignal || sig.Path != dbus.ObjectPath(r.cfg.Path) {
		return
	}

	keys, err := parseKeys(sig.Body)
	if err != nil {
		log.Warn().
			Err(err).
			Str("sender", sig.Sender).
			Msg("Ignoring malformed state request")
		return
	}

	log.Debug().
		Strs("keys", keys).
		Str("sender", sig.Sender).
		Msg("State requested")

	r.mu.Lock()
	handlers := make([]func([]string), 0, len(r.handlers))
	for _, h := range r.handlers {
		handlers = append(handlers, h)
	}
	r.mu.Unlock()

	for _, h := range handlers {
		h(keys)
	}
}

// parseKeys reads the optional "as" argument. No argument or an empty
// array means all keys.
func parseKeys(body []interface{}) ([]string, error) {
	if len(body) == 0 {
		return nil, nil
	}

	switch v := body[0].(type) {
	case []string:
		if len(v) == 0 {
			return nil, nil
		}
		return v, nil
	case []interface{}:
		keys := make([]string, 0, len(v))
		for _, item := range v {
			s, ok := item.(string)
			if !ok {
				return nil, fmt.Errorf("key list contains %T", item)
			}
			keys = append(keys, s)
		}
		if len(keys) == 0 {
			return nil, nil
		}
		return keys, nil
	default:
		return nil, fmt.Errorf("expected a string array, got %T", body[0])
	}
}

// OnRefreshRequested registers cb for inbound requests
func (r *Responder) OnRefreshRequested(cb func(keys []string)) (func(), error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.closed {
		return nil, fmt.Errorf("responder closed")
	}
	r.nextID++
	id := r.nextID
	r.handlers[id] = cb

	return func() {
		r.mu.Lock()
		defer r.mu.Unlock()
		delete(r.handlers, id)
	}, nil
}

// SendState calls the consumer's state method without waiting for a reply
func (r *Responder) SendState(payload string) error {
	call := r.conn.Object(r.cfg.Service, dbus.ObjectPath(r.cfg.Path)).
		Go(r.cfg.Interface+"."+StateMethod, dbus.FlagNoReplyExpected, nil, payload)
	if call.Err != nil {
		return fmt.Errorf("failed to send %s: %w", StateMethod, call.Err)
	}
	return nil
}

// Close stops listening and closes the connection
func (r *Responder) Close() error {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return nil
	}
	r.closed = true
	r.handlers = make(map[uint64]func(keys []string))
	r.mu.Unlock()

	close(r.stopChan)

	var result error
	if r.signals != nil {
		r.conn.RemoveSignal(r.signals)
		if err := r.conn.RemoveMatchSignal(r.matchOptions()...); err != nil {
			result = multierror.Append(result, err)
		}
	}
	if err := r.conn.Close(); err != nil {
		result = multierror.Append(result, err)
	}
	return result
}
