// Package eventlog keeps the grouped, append-only record of pipeline steps
// that the log viewer renders.
package eventlog

import "sync"

// Event is one step inside a group. Cancel is set only on events raised while
// a cancelable reader operation is outstanding.
type Event struct {
	Name        string            `json:"name"`
	Description string            `json:"description"`
	Metadata    map[string]string `json:"metadata,omitempty"`
	Cancel      func()            `json:"-"`
}

func (e Event) Cancelable() bool {
	return e.Cancel != nil
}

type Group struct {
	Name   string  `json:"name"`
	Events []Event `json:"events"`
}

// Log is an ordered map from group name to events. Appending to an existing
// group concatenates; groups keep their first-seen order.
type Log struct {
	mu     sync.RWMutex
	order  []string
	groups map[string][]Event
}

func New() *Log {
	return &Log{groups: make(map[string][]Event)}
}

func (l *Log) Append(group string, events ...Event) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if _, ok := l.groups[group]; !ok {
		l.order = append(l.order, group)
	}
	l.groups[group] = append(l.groups[group], events...)
}

func (l *Log) Clear() {
	l.mu.Lock()
	defer l.mu.Unlock()

	l.order = nil
	l.groups = make(map[string][]Event)
}

// DetachCancel removes the cancel hooks from a group's events, once the
// operation they interrupt is no longer outstanding.
func (l *Log) DetachCancel(group string) {
	l.mu.Lock()
	defer l.mu.Unlock()

	for i := range l.groups[group] {
		l.groups[group][i].Cancel = nil
	}
}

// Group returns a copy of the named group.
func (l *Log) Group(name string) (Group, bool) {
	l.mu.RLock()
	defer l.mu.RUnlock()

	events, ok := l.groups[name]
	if !ok {
		return Group{}, false
	}
	return Group{Name: name, Events: copyEvents(events)}, true
}

// Snapshot returns every group in order. The result is safe to keep.
func (l *Log) Snapshot() []Group {
	l.mu.RLock()
	defer l.mu.RUnlock()

	out := make([]Group, 0, len(l.order))
	for _, name := range l.order {
		out = append(out, Group{Name: name, Events: copyEvents(l.groups[name])})
	}
	return out
}

func (l *Log) Names() []string {
	l.mu.RLock()
	defer l.mu.RUnlock()

	return append([]string(nil), l.order...)
}

func copyEvents(events []Event) []Event {
	out := make([]Event, len(events))
	for i, e := range events {
		if e.Metadata != nil {
			md := make(map[string]string, len(e.Metadata))
			for k, v := range e.Metadata {
				md[k] = v
			}
			e.Metadata = md
		}
		out[i] = e
	}
	return out
}
