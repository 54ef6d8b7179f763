package persistent

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
)

var errNoCaller = errors.New("no connection to the primary process")

// SecondaryStore mirrors a store owned by the primary. Writes are applied
// locally right away and then forwarded to the primary.
type SecondaryStore struct {
	base
	caller Caller
	origin string

	// callMu keeps this process's remote updates in call order.
	callMu sync.Mutex
}

func (s *SecondaryStore) Set(ctx context.Context, key string, value any) error {
	v, err := s.prepare(key, value)
	if err != nil {
		return err
	}

	s.callMu.Lock()
	defer s.callMu.Unlock()

	s.mu.Lock()
	if s.unchangedLocked(key, v) {
		s.mu.Unlock()
		s.obs.Skipped(s.desc.Name)
		return nil
	}
	s.props[key] = v
	s.mu.Unlock()

	raw, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("%w: %s.%s: %w", ErrInvalidValue, s.desc.Name, key, err)
	}
	if s.caller == nil {
		err = errNoCaller
	} else {
		err = s.caller.Update(ctx, UpdateRequest{Store: s.desc.Name, Key: key, Value: raw, Origin: s.origin})
	}
	s.obs.RemoteCalled(s.desc.Name, err)
	if err != nil {
		return fmt.Errorf("%w %s %s.%s: %w", ErrRemoteCall, UpdateCall, s.desc.Name, key, err)
	}

	s.markLive()
	return nil
}

func (s *SecondaryStore) Update(ctx context.Context, key string, fn func(any) any) error {
	return s.Set(ctx, key, fn(s.Get(key)))
}

// Apply applies a broadcast value. It reports whether the mirror changed;
// echoes of this process's own writes are absorbed without effect.
func (s *SecondaryStore) Apply(key, serialized string) (bool, error) {
	v, err := decodeValue([]byte(serialized))
	if err != nil {
		return false, fmt.Errorf("%w: %s.%s: %w", ErrInvalidValue, s.desc.Name, key, err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.state = StateLive
	if s.unchangedLocked(key, v) {
		return false, nil
	}
	s.props[key] = v
	return true, nil
}

// replace swaps the mirror for an authoritative snapshot.
func (s *SecondaryStore) replace(p Props) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.props = p.clone()
	s.state = StateLive
}
