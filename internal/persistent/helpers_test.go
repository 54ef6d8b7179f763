package persistent

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io/fs"
	"log/slog"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/require"
)

// memFS is an in-memory FileStore that counts writes.
type memFS struct {
	mu        sync.Mutex
	files     map[string][]byte
	writes    int
	failWrite error
	failMkdir error
}

func newMemFS() *memFS {
	return &memFS{files: make(map[string][]byte)}
}

func (m *memFS) Exists(path string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.files[path]
	return ok, nil
}

func (m *memFS) Read(path string) ([]byte, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	b, ok := m.files[path]
	if !ok {
		return nil, fs.ErrNotExist
	}
	return append([]byte(nil), b...), nil
}

func (m *memFS) Write(path string, data []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.failWrite != nil {
		return m.failWrite
	}
	m.writes++
	m.files[path] = append([]byte(nil), data...)
	return nil
}

func (m *memFS) MkdirAll(string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.failMkdir
}

func (m *memFS) put(path, content string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.files[path] = []byte(content)
}

func (m *memFS) writeCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.writes
}

func (m *memFS) decode(t *testing.T, path string) map[string]any {
	t.Helper()
	b, err := m.Read(path)
	require.NoError(t, err)
	var out map[string]any
	require.NoError(t, json.Unmarshal(b, &out))
	return out
}

// recorder is a Broadcaster that keeps every notification.
type recorder struct {
	mu   sync.Mutex
	sent []Notification
	err  error
}

func (r *recorder) Broadcast(_ context.Context, n Notification) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.sent = append(r.sent, n)
	return r.err
}

func (r *recorder) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.sent)
}

// loopback connects secondary registries to a primary in the same process.
// Broadcasts reach every secondary synchronously, in commit order.
type loopback struct {
	primary     *Registry
	secondaries []*Registry
	calls       atomic.Int64
	fail        error
}

func (l *loopback) Broadcast(_ context.Context, n Notification) error {
	for _, s := range l.secondaries {
		if err := s.Dispatch(n); err != nil {
			return err
		}
	}
	return nil
}

func (l *loopback) Update(ctx context.Context, req UpdateRequest) error {
	l.calls.Add(1)
	if l.fail != nil {
		return l.fail
	}
	return l.primary.HandleUpdate(ctx, req)
}

func (l *loopback) Snapshot(_ context.Context, name string) (Props, error) {
	s, ok := l.primary.Lookup(name)
	if !ok {
		return nil, errors.New("no such store")
	}
	return s.Data(), nil
}

func testDescriptor() Descriptor {
	return Descriptor{
		Name: "settings",
		Keys: []Key{
			{Name: "a", Kind: KindInt, Default: 0},
			{Name: "b", Kind: KindInt, Default: 2},
		},
	}
}

func bufferLogger() (*slog.Logger, *bytes.Buffer) {
	var buf bytes.Buffer
	return slog.New(slog.NewTextHandler(&buf, &slog.HandlerOptions{Level: slog.LevelDebug})), &buf
}

// newPrimary registers d on a primary backed by mfs and runs Init.
func newPrimary(t *testing.T, mfs *memFS, bus Broadcaster, d Descriptor) *Registry {
	t.Helper()
	logger, _ := bufferLogger()
	r := NewRegistry(RolePrimary, WithFileStore(mfs), WithBroadcaster(bus), WithLogger(logger))
	_, err := r.Register(d)
	require.NoError(t, err)
	require.NoError(t, r.Init(context.Background(), "/data"))
	return r
}
