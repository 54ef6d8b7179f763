package persistent

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"
)

const originPrimary = "primary"

// PrimaryStore is the store as seen by the primary process. It is the only
// implementation that writes the store file.
type PrimaryStore struct {
	base
	fs      FileStore
	bus     Broadcaster
	journal Journal
	logger  *slog.Logger
}

func (s *PrimaryStore) Set(ctx context.Context, key string, value any) error {
	v, err := s.prepare(key, value)
	if err != nil {
		return err
	}
	return s.set(ctx, key, v, originPrimary)
}

func (s *PrimaryStore) Update(ctx context.Context, key string, fn func(any) any) error {
	return s.Set(ctx, key, fn(s.Get(key)))
}

// set commits a prepared value. The lock is held across broadcast and
// persistence so notifications go out in commit order.
func (s *PrimaryStore) set(ctx context.Context, key string, v any, origin string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.unchangedLocked(key, v) {
		s.obs.Skipped(s.desc.Name)
		return nil
	}
	s.props[key] = v

	raw, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("%w: %s.%s: %w", ErrInvalidValue, s.desc.Name, key, err)
	}

	n := Notification{Store: s.desc.Name, Key: key, Value: string(raw)}
	berr := s.bus.Broadcast(ctx, n)
	s.obs.Broadcasted(s.desc.Name, berr)
	if berr != nil {
		s.logger.Warn("broadcasting store update failed", "store", s.desc.Name, "key", key, "error", berr)
	}

	perr := s.persistLocked()
	if perr == nil && s.journal != nil {
		c := Change{Store: s.desc.Name, Key: key, Value: string(raw), Origin: origin, CreatedAt: time.Now().UTC()}
		if err := s.journal.Record(ctx, c); err != nil {
			s.logger.Warn("recording store change failed", "store", s.desc.Name, "key", key, "error", err)
		}
	}
	return perr
}

func (s *PrimaryStore) persistLocked() error {
	data, err := encodeProps(s.props)
	if err == nil {
		err = s.fs.Write(s.path, data)
	}
	s.obs.Persisted(s.desc.Name, err)
	if err != nil {
		return fmt.Errorf("%w %s to %s: %w", ErrPersistence, s.desc.Name, s.path, err)
	}
	return nil
}
