package events

import (
	"context"
	"sync/atomic"
	"time"

	"github.com/alitto/pond/v2"
	"github.com/puzpuzpuz/xsync/v3"
	"go.uber.org/zap"

	gredis "github.com/vortex-dex/gaugex/pkg/redis"
)

// Appender persists events to the durable event log. Implemented by the
// store package.
type Appender interface {
	AppendEvent(ev Event) error
}

// Hub fans events out to in-process subscribers. Subscribers with a full
// channel are skipped rather than blocked; the durable log in the store is
// the source of truth, the hub is only a live feed.
type Hub struct {
	subs   *xsync.MapOf[uint64, chan Event]
	nextID atomic.Uint64
	pool   pond.Pool
	log    Appender
	redis  *gredis.Client
	logger *zap.Logger
}

// NewHub creates a hub. log and redis may be nil; a nil redis disables the
// external bridge, a nil log disables durable history.
func NewHub(log Appender, redis *gredis.Client, logger *zap.Logger) *Hub {
	return &Hub{
		subs:   xsync.NewMapOf[uint64, chan Event](),
		pool:   pond.NewPool(4, pond.WithQueueSize(1024)),
		log:    log,
		redis:  redis,
		logger: logger,
	}
}

// Publish appends the event to the durable log, then fans it out. Log
// failures are surfaced in the logs only; the originating state change has
// already committed and must not be rolled back by an indexing failure.
func (h *Hub) Publish(ev Event) {
	if h.log != nil {
		if err := h.log.AppendEvent(ev); err != nil {
			h.logger.Error("Failed to append event to log",
				zap.String("kind", ev.Kind),
				zap.String("user", ev.User),
				zap.Error(err))
		}
	}

	h.pool.Submit(func() {
		h.subs.Range(func(_ uint64, ch chan Event) bool {
			select {
			case ch <- ev:
			default:
				// slow subscriber, drop
			}
			return true
		})

		if h.redis != nil {
			ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
			defer cancel()
			h.redis.Publish(ctx, gredis.EventChannel, ev.JSON())
		}
	})
}

// Subscribe registers a live-feed subscriber and returns its id and
// channel. The channel is buffered; events are dropped if the subscriber
// falls behind.
func (h *Hub) Subscribe() (uint64, <-chan Event) {
	id := h.nextID.Add(1)
	ch := make(chan Event, 256)
	h.subs.Store(id, ch)
	return id, ch
}

// Unsubscribe removes a subscriber. The channel is not closed; the reader
// stops receiving and the channel becomes garbage once the reader returns.
func (h *Hub) Unsubscribe(id uint64) {
	h.subs.Delete(id)
}

// Close drains the fan-out pool.
func (h *Hub) Close() {
	h.pool.StopAndWait()
}
