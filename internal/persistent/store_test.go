package persistent

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPrimarySetPersistsAndBroadcasts(t *testing.T) {
	mfs := newMemFS()
	bus := &recorder{}
	r := newPrimary(t, mfs, bus, testDescriptor())
	s, _ := r.Lookup("settings")

	require.NoError(t, s.Set(context.Background(), "a", 42))

	assert.Equal(t, 42.0, s.Get("a"))
	assert.Equal(t, map[string]any{"a": 42.0, "b": 2.0}, mfs.decode(t, "/data/settings.json"))
	require.Equal(t, 1, bus.count())
	n := bus.sent[0]
	assert.Equal(t, Notification{Store: "settings", Key: "a", Value: "42"}, n)
	assert.Equal(t, "persistent-settings-updated", n.Topic())
}

func TestSetEqualValueIsNoop(t *testing.T) {
	mfs := newMemFS()
	bus := &recorder{}
	r := newPrimary(t, mfs, bus, testDescriptor())
	s, _ := r.Lookup("settings")
	writes := mfs.writeCount()

	require.NoError(t, s.Set(context.Background(), "b", 2))
	require.NoError(t, s.Set(context.Background(), "b", 2.0))

	assert.Equal(t, writes, mfs.writeCount())
	assert.Equal(t, 0, bus.count())
}

func TestSetEqualValueOnSecondaryMakesNoCall(t *testing.T) {
	link := &loopback{}
	secondary := NewRegistry(RoleSecondary, WithCaller(link))
	secondary.MustRegister(testDescriptor())
	link.primary = newPrimary(t, newMemFS(), link, testDescriptor())
	link.secondaries = []*Registry{secondary}
	require.NoError(t, secondary.Sync(context.Background()))

	s, _ := secondary.Lookup("settings")
	require.NoError(t, s.Set(context.Background(), "b", 2))
	assert.Equal(t, int64(0), link.calls.Load())
}

func TestSetRejectsUndeclaredKeysAndWrongKinds(t *testing.T) {
	bus := &recorder{}
	r := newPrimary(t, newMemFS(), bus, testDescriptor())
	s, _ := r.Lookup("settings")
	ctx := context.Background()

	assert.ErrorIs(t, s.Set(ctx, "nope", 1), ErrUnknownKey)
	assert.ErrorIs(t, s.Set(ctx, "a", "one"), ErrInvalidValue)
	assert.ErrorIs(t, s.Set(ctx, "a", 1.5), ErrInvalidValue)
	assert.ErrorIs(t, s.Set(ctx, "a", func() {}), ErrInvalidValue)
	assert.Equal(t, 0.0, s.Get("a"))
	assert.Equal(t, 0, bus.count())
}

func TestPersistenceFailureKeepsMemoryValue(t *testing.T) {
	mfs := newMemFS()
	bus := &recorder{}
	r := newPrimary(t, mfs, bus, testDescriptor())
	s, _ := r.Lookup("settings")

	mfs.failWrite = errors.New("disk full")
	err := s.Set(context.Background(), "a", 9)

	require.ErrorIs(t, err, ErrPersistence)
	assert.Contains(t, err.Error(), "disk full")
	assert.Equal(t, 9.0, s.Get("a"))
	assert.Equal(t, 1, bus.count())
}

func TestBroadcastFailureStillPersists(t *testing.T) {
	mfs := newMemFS()
	bus := &recorder{err: errors.New("no listeners")}
	r := newPrimary(t, mfs, bus, testDescriptor())
	s, _ := r.Lookup("settings")

	require.NoError(t, s.Set(context.Background(), "a", 1))
	assert.Equal(t, 1.0, mfs.decode(t, "/data/settings.json")["a"])
}

func TestUpdate(t *testing.T) {
	r := newPrimary(t, newMemFS(), &recorder{}, testDescriptor())
	s, _ := r.Lookup("settings")

	inc := func(v any) any { return v.(float64) + 1 }
	require.NoError(t, s.Update(context.Background(), "b", inc))
	require.NoError(t, s.Update(context.Background(), "b", inc))
	assert.Equal(t, 4.0, s.Get("b"))
}

func TestDataIsIndependentCopy(t *testing.T) {
	d := Descriptor{Name: "session", Keys: []Key{
		{Name: "recent", Kind: KindList, Default: []string{"a"}},
		{Name: "bounds", Kind: KindObject, Default: map[string]int{"w": 10}},
	}}
	r := newPrimary(t, newMemFS(), &recorder{}, d)
	s, _ := r.Lookup("session")

	snap := s.Data()
	snap["recent"].([]any)[0] = "mutated"
	snap["bounds"].(map[string]any)["w"] = 99.0
	delete(snap, "recent")

	got := s.Get("bounds").(map[string]any)
	got["w"] = 1.0

	assert.Equal(t, []any{"a"}, s.Get("recent"))
	assert.Equal(t, map[string]any{"w": 10.0}, s.Get("bounds"))
}

func TestTypedAccess(t *testing.T) {
	r := newPrimary(t, newMemFS(), &recorder{}, testDescriptor())
	s, _ := r.Lookup("settings")
	require.NoError(t, s.Set(context.Background(), "a", 12))

	a, err := Value[int](s, "a")
	require.NoError(t, err)
	assert.Equal(t, 12, a)

	_, err = Value[string](s, "a")
	assert.Error(t, err)

	type settings struct {
		A int `json:"a"`
		B int `json:"b"`
	}
	got, err := Decode[settings](s)
	require.NoError(t, err)
	assert.Equal(t, settings{A: 12, B: 2}, got)
}

func TestNilValueAllowed(t *testing.T) {
	r := newPrimary(t, newMemFS(), &recorder{}, testDescriptor())
	s, _ := r.Lookup("settings")
	require.NoError(t, s.Set(context.Background(), "a", nil))
	assert.Nil(t, s.Get("a"))
	assert.Contains(t, s.Data(), "a")
}
