package dispatch

import (
	"context"
	"encoding/json"
	"log"
	"time"

	"github.com/google/uuid"
)

// ResultEvent announces the aggregate outcome of one cross-post call to
// downstream consumers (feed builders, notifiers).
type ResultEvent struct {
	EventID string          `json:"event_id"`
	UserID  string          `json:"user_id"`
	PostID  string          `json:"post_id"`
	Results []PublishResult `json:"results"`
	At      time.Time       `json:"at"`
}

// Sink receives drained events; the Kafka writer satisfies it in production.
type Sink interface {
	Write(ctx context.Context, key string, value []byte) error
}

// EventQueue decouples fan-out completion from event delivery with a bounded
// channel. When the queue is full the oldest event is dropped so producers
// never block on a slow sink.
type EventQueue struct {
	ch chan ResultEvent
}

func NewEventQueue(size int) *EventQueue {
	return &EventQueue{ch: make(chan ResultEvent, size)}
}

func (q *EventQueue) Publish(ev ResultEvent) {
	if ev.EventID == "" {
		ev.EventID = uuid.NewString()
	}
	for {
		select {
		case q.ch <- ev:
			return
		default:
		}
		select {
		case <-q.ch:
			eventsDropped.Inc()
		default:
		}
	}
}

// Run drains the queue into the sink until ctx is done.
func (q *EventQueue) Run(ctx context.Context, sink Sink) {
	for {
		select {
		case <-ctx.Done():
			return
		case ev := <-q.ch:
			b, err := json.Marshal(ev)
			if err != nil {
				log.Printf("events: marshal %s: %v", ev.EventID, err)
				continue
			}
			if err := sink.Write(ctx, ev.UserID, b); err != nil {
				log.Printf("events: write %s: %v", ev.EventID, err)
			}
		}
	}
}

// Len reports the number of queued events.
func (q *EventQueue) Len() int { return len(q.ch) }
