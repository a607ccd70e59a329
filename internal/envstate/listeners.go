package envstate

import (
	"fmt"
	"sort"

	"github.com/bryanchriswhite/envbridge/internal/window"
	"github.com/hashicorp/go-multierror"
)

// Subscriber is the subset of window.Backend that manages property subscriptions
type Subscriber interface {
	Subscribe(w window.Window, event window.PropertyEvent, cb func()) (window.Subscription, error)
	Unsubscribe(sub window.Subscription) error
}

// ListenerSet owns the per-window property subscriptions of tracked windows.
// It holds at most one subscription per window and event. Not safe for
// concurrent use; the engine loop is its only user.
type ListenerSet struct {
	backend Subscriber
	subs    map[window.WindowID]map[window.PropertyEvent]window.Subscription
}

// NewListenerSet creates an empty set
func NewListenerSet(backend Subscriber) *ListenerSet {
	return &ListenerSet{
		backend: backend,
		subs:    make(map[window.WindowID]map[window.PropertyEvent]window.Subscription),
	}
}

// Subscribe registers cb for event on w unless that pair is already held
func (l *ListenerSet) Subscribe(w window.Window, event window.PropertyEvent, cb func()) error {
	id := w.ID()
	if _, ok := l.subs[id][event]; ok {
		return nil
	}

	sub, err := l.backend.Subscribe(w, event, cb)
	if err != nil {
		return fmt.Errorf("subscribe %s on %s: %w", event, id, err)
	}

	events, ok := l.subs[id]
	if !ok {
		events = make(map[window.PropertyEvent]window.Subscription)
		l.subs[id] = events
	}
	events[event] = sub
	return nil
}

// Release drops every subscription held for id. Unknown ids are a no-op.
func (l *ListenerSet) Release(id window.WindowID) error {
	events, ok := l.subs[id]
	if !ok {
		return nil
	}
	delete(l.subs, id)

	var result error
	for event, sub := range events {
		if err := l.backend.Unsubscribe(sub); err != nil {
			result = multierror.Append(result, fmt.Errorf("unsubscribe %s on %s: %w", event, id, err))
		}
	}
	return result
}

// ReleaseAll drops every subscription in the set
func (l *ListenerSet) ReleaseAll() error {
	var result error
	for _, id := range l.Windows() {
		if err := l.Release(id); err != nil {
			result = multierror.Append(result, err)
		}
	}
	return result
}

// Windows returns the ids that hold subscriptions, sorted
func (l *ListenerSet) Windows() []window.WindowID {
	ids := make([]window.WindowID, 0, len(l.subs))
	for id := range l.subs {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids
}

// Events returns the events subscribed for id, sorted
func (l *ListenerSet) Events(id window.WindowID) []window.PropertyEvent {
	events := make([]window.PropertyEvent, 0, len(l.subs[id]))
	for event := range l.subs[id] {
		events = append(events, event)
	}
	sort.Slice(events, func(i, j int) bool { return events[i] < events[j] })
	return events
}

// Len returns the total number of subscriptions held
func (l *ListenerSet) Len() int {
	n := 0
	for _, events := range l.subs {
		n += len(events)
	}
	return n
}
