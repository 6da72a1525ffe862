package queue

import (
	"context"
	"time"

	"github.com/redis/go-redis/v9"
)

// Message is a sync trigger. Type is "sync" for reconciliation kicks; Owner
// scopes the trigger to one teacher's records.
type Message struct {
	Type  string
	Owner string
}

// Queue carries sync triggers from the scan path to the sync worker.
type Queue interface {
	Publish(ctx context.Context, msg Message) error
	Consume(ctx context.Context) (<-chan Message, error)
}

// InMemory is a channel-backed queue, the default for a single-process agent.
type InMemory struct {
	ch chan Message
}

// NewInMemory creates a bounded in-memory queue.
func NewInMemory(size int) *InMemory {
	return &InMemory{ch: make(chan Message, size)}
}

// Publish enqueues a trigger without blocking. When the buffer is full the
// trigger is dropped: a pending trigger already guarantees a sweep will run.
func (q *InMemory) Publish(_ context.Context, msg Message) error {
	select {
	case q.ch <- msg:
	default:
	}
	return nil
}

// Consume returns a channel for the sync worker.
func (q *InMemory) Consume(ctx context.Context) (<-chan Message, error) {
	out := make(chan Message)
	go func() {
		defer close(out)
		for {
			select {
			case msg := <-q.ch:
				out <- msg
			case <-ctx.Done():
				return
			}
		}
	}()
	return out, nil
}

// RedisQueue is a Redis list-backed queue for deployments where several agent
// processes share one sync worker.
type RedisQueue struct {
	client *redis.Client
	key    string
}

// NewRedisQueue builds a queue using LPUSH/BRPOP semantics.
func NewRedisQueue(client *redis.Client, key string) *RedisQueue {
	if key == "" {
		key = "classtrack:sync"
	}
	return &RedisQueue{client: client, key: key}
}

// Publish enqueues a trigger.
func (q *RedisQueue) Publish(ctx context.Context, msg Message) error {
	return q.client.LPush(ctx, q.key, msg.Type+"|"+msg.Owner).Err()
}

// Consume streams triggers using BRPOP.
func (q *RedisQueue) Consume(ctx context.Context) (<-chan Message, error) {
	out := make(chan Message)
	go func() {
		defer close(out)
		for {
			res, err := q.client.BRPop(ctx, 5*time.Second, q.key).Result()
			if err != nil {
				if err == redis.Nil {
					continue
				}
				if ctx.Err() != nil {
					return
				}
				continue
			}
			if len(res) == 2 {
				out <- parseMessage(res[1])
			}
		}
	}()
	return out, nil
}

func parseMessage(s string) Message {
	for i, r := range s {
		if r == '|' {
			return Message{Type: s[:i], Owner: s[i+1:]}
		}
	}
	return Message{Type: s}
}
