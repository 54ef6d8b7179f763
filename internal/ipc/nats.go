package ipc

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"

	"github.com/nats-io/nats.go"

	"github.com/kalambet/prefd/internal/persistent"
)

const subjectPrefix = "prefd.persistent."

// Subject returns the NATS subject carrying broadcasts for store.
func Subject(store string) string {
	return subjectPrefix + store + ".updated"
}

// NATS publishes and receives broadcasts over a NATS connection.
type NATS struct {
	conn   *nats.Conn
	logger *slog.Logger
}

// DialNATS connects to the broker at url.
func DialNATS(url string, logger *slog.Logger) (*NATS, error) {
	if logger == nil {
		logger = slog.Default()
	}
	conn, err := nats.Connect(url, nats.Name("prefd"))
	if err != nil {
		return nil, fmt.Errorf("failed to connect to NATS: %w", err)
	}
	logger.Info("NATS connected for store broadcasts", "url", url)
	return &NATS{conn: conn, logger: logger}, nil
}

// Broadcast implements persistent.Broadcaster.
func (b *NATS) Broadcast(_ context.Context, n persistent.Notification) error {
	data, err := json.Marshal(n)
	if err != nil {
		return fmt.Errorf("failed to marshal notification: %w", err)
	}
	if err := b.conn.Publish(Subject(n.Store), data); err != nil {
		return fmt.Errorf("failed to publish notification: %w", err)
	}
	return nil
}

// Subscribe delivers broadcasts for every store to fn until ctx is done.
func (b *NATS) Subscribe(ctx context.Context, fn func(persistent.Notification)) error {
	return b.Follow(ctx, nil, fn)
}

// Follow is Subscribe with recovery: resync runs once the subscription is in
// place and again after every reconnect to the broker, on the goroutine that
// delivers to fn. A failed resync is logged and retried on the next
// reconnect.
func (b *NATS) Follow(ctx context.Context, resync func(context.Context) error, fn func(persistent.Notification)) error {
	ch := make(chan *nats.Msg, subscriberBuffer)
	sub, err := b.conn.ChanSubscribe(subjectPrefix+"*.updated", ch)
	if err != nil {
		return fmt.Errorf("failed to subscribe: %w", err)
	}
	defer sub.Unsubscribe()

	reconnected := make(chan struct{}, 1)
	if resync != nil {
		b.conn.SetReconnectHandler(func(*nats.Conn) {
			select {
			case reconnected <- struct{}{}:
			default:
			}
		})
		defer b.conn.SetReconnectHandler(nil)
		if err := b.conn.Flush(); err != nil {
			return fmt.Errorf("failed to subscribe: %w", err)
		}
		if err := resync(ctx); err != nil {
			return fmt.Errorf("resync: %w", err)
		}
	}

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-reconnected:
			if err := resync(ctx); err != nil {
				b.logger.Warn("resync after NATS reconnect failed", "error", err)
			}
		case msg := <-ch:
			n, err := decodeMsg(msg.Subject, msg.Data)
			if err != nil {
				b.logger.Warn("ignoring malformed store broadcast", "subject", msg.Subject, "error", err)
				continue
			}
			fn(n)
		}
	}
}

// Close drains the connection.
func (b *NATS) Close() error {
	return b.conn.Drain()
}

func decodeMsg(subject string, data []byte) (persistent.Notification, error) {
	var n persistent.Notification
	if err := json.Unmarshal(data, &n); err != nil {
		return n, err
	}
	store := strings.TrimSuffix(strings.TrimPrefix(subject, subjectPrefix), ".updated")
	if n.Store != store {
		return n, fmt.Errorf("notification for %q on subject of %q", n.Store, store)
	}
	return n, nil
}
