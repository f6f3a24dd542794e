package main

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"
)

type Consumer interface {
	Consume(ctx context.Context, qids ...string) error
}

// EventsTally counts the registry events seen by the consumer.
type EventsTally struct {
	mu       sync.RWMutex
	counts   map[string]uint64
	lastSync *Event
}

func NewEventsTally() *EventsTally {
	return &EventsTally{counts: make(map[string]uint64)}
}

func (t *EventsTally) add(e Event) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.counts[e.Kind.String()]++
	if e.Kind == EventSyncFinished {
		last := e
		t.lastSync = &last
	}
}

// Snapshot returns a copy of the counters and the last finished sync.
func (t *EventsTally) Snapshot() (map[string]uint64, *Event) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	counts := make(map[string]uint64, len(t.counts))
	for k, v := range t.counts {
		counts[k] = v
	}
	var last *Event
	if t.lastSync != nil {
		e := *t.lastSync
		e.Record = nil
		last = &e
	}
	return counts, last
}

type eventsConsumer struct {
	logger *zap.Logger
	queue  Queuer
	tally  *EventsTally
}

func NewEventsConsumer(logger *zap.Logger, q Queuer, tally *EventsTally) Consumer {
	return &eventsConsumer{logger, q, tally}
}

func (ec *eventsConsumer) Consume(ctx context.Context, qids ...string) error {
	var e Event
	var err error
	var qid string
	for {
		qid, e, err = ec.queue.Pop(ctx, qids...)
		if err != nil && ctx.Err() != nil {
			ec.logger.Info("consumer: queue pop call: context is done: exit", zap.String("reason", ctx.Err().Error()))
			return nil
		}

		if err != nil {
			ec.logger.Error("consumer: error on queue pop call", zap.Error(err))
			continue
		}

		switch qid {
		case BookEventsQueue:
			ec.logger.Info("consumer: book event",
				zap.Stringer("event", e.Kind),
				zap.String("account", e.Account),
				zap.String("book.id", e.BookID),
				zap.Stringer("book.state", e.State),
			)
		case SyncEventsQueue:
			ec.logger.Info("consumer: registry event",
				zap.Stringer("event", e.Kind),
				zap.String("account", e.Account),
				zap.String("sync.id", e.SyncID),
				zap.String("error", e.Error),
			)
		default:
			ec.logger.Warn("consumer: received event on unknown queue id", zap.String("qid", qid), zap.Stringer("event", e.Kind))
			continue
		}
		ec.tally.add(e)
	}
}

// NewEventsPublisher returns a registry observer pushing every event onto
// its queue. Push failures are logged and dropped.
func NewEventsPublisher(logger *zap.Logger, q Queuer, timeout time.Duration) Observer {
	return func(e Event) {
		ctx, cancel := context.WithTimeout(context.Background(), timeout)
		defer cancel()
		qid := QueueFor(e.Kind)
		if err := q.Push(ctx, qid, e); err != nil {
			logger.Error("publisher: failed to push event to queue", zap.String("qid", qid), zap.Stringer("event", e.Kind), zap.Error(err))
		}
	}
}
