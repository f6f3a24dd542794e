package main

import (
	"context"
	"encoding/json"
	"time"

	"github.com/redis/go-redis/v9"
)

// Predefined queue ids.
const (
	BookEventsQueue = "registry:events:books"
	SyncEventsQueue = "registry:events:sync"
)

// Ensure *redisQueue implements Queuer.
var _ Queuer = (*redisQueue)(nil)

// Queuer describes a queue of registry events.
type Queuer interface {
	Push(ctx context.Context, qid string, e Event) error
	Pop(ctx context.Context, qids ...string) (string, Event, error)
}

// redisQueue represents a queue which implements the Queuer interface.
type redisQueue struct {
	client *redis.Client
}

func NewRedisQueue(client *redis.Client) Queuer {
	return &redisQueue{client: client}
}

// QueueFor returns the queue carrying events of kind.
func QueueFor(kind EventKind) string {
	switch kind {
	case EventSyncStarted, EventSyncFinished, EventRegistryReset, EventAccountChanged:
		return SyncEventsQueue
	default:
		return BookEventsQueue
	}
}

// Push enqueues an event onto the queue identified by qid.
func (q *redisQueue) Push(ctx context.Context, qid string, e Event) error {
	eventBytes, err := json.Marshal(e)
	if err != nil {
		return err
	}
	return q.client.RPush(ctx, qid, eventBytes).Err()
}

// Pop returns the first dequeued event from the list of queue ids.
func (q *redisQueue) Pop(ctx context.Context, qids ...string) (string, Event, error) {
	var e Event
	var qid string
	infos, err := q.client.BLPop(ctx, 0*time.Second, qids...).Result()
	if err != nil {
		return qid, e, err
	}

	if err = json.Unmarshal([]byte(infos[1]), &e); err != nil {
		return qid, e, err
	}
	qid = infos[0]
	return qid, e, nil
}
