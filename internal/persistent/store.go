package persistent

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
)

// State is the lifecycle state of a store within one process.
type State int

const (
	StateRegistered State = iota
	StateReconciled
	StateMirrored
	StateLive
)

func (s State) String() string {
	switch s {
	case StateReconciled:
		return "reconciled"
	case StateMirrored:
		return "mirrored"
	case StateLive:
		return "live"
	default:
		return "registered"
	}
}

// Store is one named property store.
type Store interface {
	Name() string
	Path() string
	State() State
	// Get returns the current value of key, or nil if the key is absent.
	Get(key string) any
	// Set stores value under key. Setting an equal value is a no-op.
	Set(ctx context.Context, key string, value any) error
	// Update is Set(key, fn(Get(key))). It is not atomic across processes.
	Update(ctx context.Context, key string, fn func(any) any) error
	// Data returns a deep copy of all properties.
	Data() Props
}

// base holds the state shared by both store roles.
type base struct {
	desc Descriptor
	path string
	obs  Observer

	mu    sync.RWMutex
	props Props
	state State
}

func (b *base) Name() string { return b.desc.Name }

func (b *base) Path() string { return b.path }

func (b *base) State() State {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.state
}

func (b *base) Get(key string) any {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return cloneValue(b.props[key])
}

func (b *base) Data() Props {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.props.clone()
}

func (b *base) markLive() {
	b.mu.Lock()
	b.state = StateLive
	b.mu.Unlock()
}

// prepare normalises and validates a value for key.
func (b *base) prepare(key string, value any) (any, error) {
	v, err := normalize(value)
	if err != nil {
		return nil, fmt.Errorf("%w: %s.%s: %w", ErrInvalidValue, b.desc.Name, key, err)
	}
	if err := b.desc.check(key, v); err != nil {
		return nil, err
	}
	return v, nil
}

// unchangedLocked reports whether key already holds v. Callers hold mu.
func (b *base) unchangedLocked(key string, v any) bool {
	cur, ok := b.props[key]
	return ok && equal(cur, v)
}

func encodeProps(p Props) ([]byte, error) {
	return json.MarshalIndent(p, "", "  ")
}

// Value decodes the value of key into T.
func Value[T any](s Store, key string) (T, error) {
	var out T
	b, err := json.Marshal(s.Get(key))
	if err != nil {
		return out, err
	}
	if err := json.Unmarshal(b, &out); err != nil {
		return out, fmt.Errorf("decoding %s.%s: %w", s.Name(), key, err)
	}
	return out, nil
}

// Decode decodes the whole store into T, typically a struct with json tags.
func Decode[T any](s Store) (T, error) {
	var out T
	b, err := json.Marshal(s.Data())
	if err != nil {
		return out, err
	}
	if err := json.Unmarshal(b, &out); err != nil {
		return out, fmt.Errorf("decoding %s: %w", s.Name(), err)
	}
	return out, nil
}
