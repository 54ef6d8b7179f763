package ipc

import (
	"context"
	"errors"
	"log/slog"
	"sync"

	"github.com/google/uuid"

	"github.com/kalambet/prefd/internal/persistent"
)

const subscriberBuffer = 64

// Gauge receives the current subscriber count.
type Gauge interface {
	Set(float64)
}

// Hub delivers notifications to in-process subscribers. Broadcast never
// blocks: a subscriber whose buffer is full is dropped and must reconnect and
// resync.
type Hub struct {
	logger *slog.Logger
	gauge  Gauge

	mu   sync.Mutex
	subs map[string]chan persistent.Notification
}

// NewHub creates a Hub. gauge may be nil.
func NewHub(logger *slog.Logger, gauge Gauge) *Hub {
	if logger == nil {
		logger = slog.Default()
	}
	return &Hub{
		logger: logger,
		gauge:  gauge,
		subs:   make(map[string]chan persistent.Notification),
	}
}

// Subscribe registers a subscriber until ctx is done or the subscriber is
// dropped, at which point the channel is closed.
func (h *Hub) Subscribe(ctx context.Context) (string, <-chan persistent.Notification) {
	id := uuid.New().String()
	ch := make(chan persistent.Notification, subscriberBuffer)

	h.mu.Lock()
	h.subs[id] = ch
	h.updateGaugeLocked()
	h.mu.Unlock()

	go func() {
		<-ctx.Done()
		h.remove(id)
	}()
	return id, ch
}

// Broadcast implements persistent.Broadcaster.
func (h *Hub) Broadcast(_ context.Context, n persistent.Notification) error {
	h.mu.Lock()
	defer h.mu.Unlock()

	var dropped int
	for id, ch := range h.subs {
		select {
		case ch <- n:
		default:
			h.logger.Warn("dropping slow subscriber", "subscriber", id, "store", n.Store)
			close(ch)
			delete(h.subs, id)
			dropped++
		}
	}
	if dropped > 0 {
		h.updateGaugeLocked()
		return errors.New("dropped slow subscribers")
	}
	return nil
}

// Len returns the number of subscribers.
func (h *Hub) Len() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.subs)
}

func (h *Hub) remove(id string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if ch, ok := h.subs[id]; ok {
		close(ch)
		delete(h.subs, id)
		h.updateGaugeLocked()
	}
}

func (h *Hub) updateGaugeLocked() {
	if h.gauge != nil {
		h.gauge.Set(float64(len(h.subs)))
	}
}

// Multi broadcasts to every broadcaster and joins their errors.
type Multi []persistent.Broadcaster

func (m Multi) Broadcast(ctx context.Context, n persistent.Notification) error {
	var errs []error
	for _, b := range m {
		if err := b.Broadcast(ctx, n); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
