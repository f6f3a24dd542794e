package main

import (
	"fmt"
	"sort"
	"time"

	"go.uber.org/zap"
)

// EventKind tells what happened in the registry.
type EventKind int

const (
	EventBookAdded EventKind = iota + 1
	EventBookUpdated
	EventBookRemoved
	EventStateChanged
	EventProcessingChanged
	EventSyncStarted
	EventSyncFinished
	EventRegistryReset
	EventAccountChanged
)

var eventKindNames = map[EventKind]string{
	EventBookAdded:         "book.added",
	EventBookUpdated:       "book.updated",
	EventBookRemoved:       "book.removed",
	EventStateChanged:      "book.state",
	EventProcessingChanged: "book.processing",
	EventSyncStarted:       "sync.started",
	EventSyncFinished:      "sync.finished",
	EventRegistryReset:     "registry.reset",
	EventAccountChanged:    "registry.account",
}

func (k EventKind) String() string {
	if name, ok := eventKindNames[k]; ok {
		return name
	}
	return fmt.Sprintf("event(%d)", int(k))
}

func (k EventKind) MarshalText() ([]byte, error) {
	return []byte(k.String()), nil
}

func (k *EventKind) UnmarshalText(text []byte) error {
	for kind, name := range eventKindNames {
		if name == string(text) {
			*k = kind
			return nil
		}
	}
	return fmt.Errorf("unknown event kind %q", string(text))
}

// Event is delivered to observers once the registry lock is released.
// Record holds the state of the book as of the event, which for a removal
// is the last state observers will ever see.
type Event struct {
	Kind       EventKind `json:"kind"`
	Account    string    `json:"account"`
	BookID     string    `json:"bookId,omitempty"`
	State      BookState `json:"state,omitempty"`
	Processing bool      `json:"processing,omitempty"`
	SyncID     string    `json:"syncId,omitempty"`
	Error      string    `json:"error,omitempty"`
	Record     *Record   `json:"record,omitempty"`
	Time       time.Time `json:"time"`
}

// Observer receives registry events. It runs on the goroutine that caused
// the event and may call back into the registry.
type Observer func(Event)

// Subscribe registers an observer and returns the function removing it.
func (r *BookRegistry) Subscribe(o Observer) func() {
	r.obsMu.Lock()
	defer r.obsMu.Unlock()
	r.nextObserver++
	id := r.nextObserver
	r.observers[id] = o
	return func() {
		r.obsMu.Lock()
		delete(r.observers, id)
		r.obsMu.Unlock()
	}
}

// notify must be called without holding r.mu.
func (r *BookRegistry) notify(events ...Event) {
	if len(events) == 0 {
		return
	}
	r.obsMu.RLock()
	observers := make([]Observer, 0, len(r.observers))
	ids := make([]uint64, 0, len(r.observers))
	for id := range r.observers {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	for _, id := range ids {
		observers = append(observers, r.observers[id])
	}
	r.obsMu.RUnlock()

	for _, e := range events {
		for _, o := range observers {
			r.deliver(o, e)
		}
	}
}

func (r *BookRegistry) deliver(o Observer, e Event) {
	defer func() {
		if rec := recover(); rec != nil {
			r.logger.Error("registry: observer panicked", zap.Stringer("event", e.Kind), zap.Any("error", rec))
		}
	}()
	o(e)
}

func (r *BookRegistry) event(kind EventKind, account string, record *Record) Event {
	e := Event{Kind: kind, Account: account, Time: r.clock.Now()}
	if record != nil {
		rec := *record
		e.BookID = rec.ID()
		e.State = rec.State()
		e.Record = &rec
	}
	return e
}
