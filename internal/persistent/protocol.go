package persistent

import (
	"context"
	"encoding/json"
	"time"
)

// UpdateCall is the name of the secondary-to-primary update call.
const UpdateCall = "update-persistent"

// UpdatedTopic returns the broadcast name announcing changes to store name.
func UpdatedTopic(name string) string {
	return "persistent-" + name + "-updated"
}

// UpdateRequest is the payload of the update-persistent call.
type UpdateRequest struct {
	Store  string          `json:"store"`
	Key    string          `json:"key"`
	Value  json.RawMessage `json:"value"`
	Origin string          `json:"origin,omitempty"`
}

// Notification announces one committed change. Value holds the serialized
// JSON of the new value.
type Notification struct {
	Store string `json:"store"`
	Key   string `json:"key"`
	Value string `json:"value"`
}

// Topic returns the broadcast name for the notification's store.
func (n Notification) Topic() string { return UpdatedTopic(n.Store) }

// FileStore is the durable storage behind the primary's stores.
type FileStore interface {
	Exists(path string) (bool, error)
	Read(path string) ([]byte, error)
	Write(path string, data []byte) error
	MkdirAll(dir string) error
}

// Broadcaster pushes notifications from the primary to every secondary.
type Broadcaster interface {
	Broadcast(ctx context.Context, n Notification) error
}

// Caller issues calls from a secondary process to the primary.
type Caller interface {
	Update(ctx context.Context, req UpdateRequest) error
	Snapshot(ctx context.Context, store string) (Props, error)
}

// Change is a committed write as recorded by a Journal.
type Change struct {
	Store     string
	Key       string
	Value     string
	Origin    string
	CreatedAt time.Time
}

// Journal records committed writes on the primary.
type Journal interface {
	Record(ctx context.Context, c Change) error
}

// Observer receives counts of the store's side effects.
type Observer interface {
	Persisted(store string, err error)
	Broadcasted(store string, err error)
	RemoteCalled(store string, err error)
	Skipped(store string)
	Reconciled(store, outcome string)
}

type nopObserver struct{}

func (nopObserver) Persisted(string, error)    {}
func (nopObserver) Broadcasted(string, error)  {}
func (nopObserver) RemoteCalled(string, error) {}
func (nopObserver) Skipped(string)             {}
func (nopObserver) Reconciled(string, string)  {}
