package persistent

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"path/filepath"
	"sync"

	"github.com/kalambet/prefd/internal/persistent/fsstore"
)

// Role is the part a process plays in sharing the stores.
type Role int

const (
	RolePrimary Role = iota
	RoleSecondary
)

func (r Role) String() string {
	if r == RolePrimary {
		return "primary"
	}
	return "secondary"
}

// Handle identifies a registered store. It is returned by Register and used
// with Registry.Store for lookups that must succeed.
type Handle struct {
	name string
}

// Name returns the registered store name.
func (h Handle) Name() string { return h.name }

// Registry holds the store descriptors of one process and the stores built
// from them. Descriptors are registered before Init; stores are built by Init
// on the primary and lazily on secondaries.
type Registry struct {
	role    Role
	fs      FileStore
	bus     Broadcaster
	caller  Caller
	journal Journal
	obs     Observer
	logger  *slog.Logger
	origin  string

	// initMu serializes Init so a retry after a failed start sees a
	// consistent registry.
	initMu sync.Mutex

	mu          sync.RWMutex
	baseDir     string
	order       []string
	descs       map[string]Descriptor
	stores      map[string]Store
	initialized bool
}

// Option configures a Registry.
type Option func(*Registry)

// WithFileStore sets the durable storage used by the primary.
func WithFileStore(fs FileStore) Option { return func(r *Registry) { r.fs = fs } }

// WithBroadcaster sets how the primary announces committed changes.
func WithBroadcaster(b Broadcaster) Option { return func(r *Registry) { r.bus = b } }

// WithCaller sets the channel a secondary uses to reach the primary.
func WithCaller(c Caller) Option { return func(r *Registry) { r.caller = c } }

// WithJournal records every committed change on the primary.
func WithJournal(j Journal) Option { return func(r *Registry) { r.journal = j } }

// WithObserver receives side-effect counts, e.g. for metrics.
func WithObserver(o Observer) Option { return func(r *Registry) { r.obs = o } }

// WithLogger sets the logger. The default is slog.Default().
func WithLogger(l *slog.Logger) Option { return func(r *Registry) { r.logger = l } }

// WithBaseDir sets the directory store paths are derived from. Init sets it
// on the primary; secondaries may set it to report paths.
func WithBaseDir(dir string) Option { return func(r *Registry) { r.baseDir = dir } }

// WithOrigin names this process in update requests it sends.
func WithOrigin(origin string) Option { return func(r *Registry) { r.origin = origin } }

// NewRegistry creates an empty registry for a process with the given role.
func NewRegistry(role Role, opts ...Option) *Registry {
	r := &Registry{
		role:   role,
		descs:  make(map[string]Descriptor),
		stores: make(map[string]Store),
	}
	for _, opt := range opts {
		opt(r)
	}
	if r.fs == nil {
		r.fs = fsstore.New()
	}
	if r.bus == nil {
		r.bus = nopBroadcaster{}
	}
	if r.obs == nil {
		r.obs = nopObserver{}
	}
	if r.logger == nil {
		r.logger = slog.Default()
	}
	if r.origin == "" {
		r.origin = role.String()
	}
	return r
}

// Role returns the role the registry was created with.
func (r *Registry) Role() Role { return r.role }

// Register adds a store descriptor. Names are unique; registering a name twice
// returns ErrDuplicateRegistration. Register fails once Init has run.
func (r *Registry) Register(d Descriptor) (Handle, error) {
	if d.Name == "" {
		return Handle{}, errors.New("store name is required")
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if r.initialized {
		return Handle{}, fmt.Errorf("registering %s: %w", d.Name, ErrRegistryClosed)
	}
	if _, ok := r.descs[d.Name]; ok {
		return Handle{}, fmt.Errorf("%w: %s", ErrDuplicateRegistration, d.Name)
	}
	r.descs[d.Name] = d
	r.order = append(r.order, d.Name)
	return Handle{name: d.Name}, nil
}

// MustRegister is like Register but panics on error.
func (r *Registry) MustRegister(d Descriptor) Handle {
	h, err := r.Register(d)
	if err != nil {
		panic(err)
	}
	return h
}

// Names returns the registered store names in registration order.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return append([]string(nil), r.order...)
}

// Init loads every registered store from baseDir, creating missing files and
// merging existing ones with their defaults. It runs on the primary only.
// A second call after a successful one is a no-op. If the store directory
// cannot be created Init fails without loading anything and may be retried.
// A store that fails to load is left out and its error is returned joined
// with the others; the remaining stores are usable.
func (r *Registry) Init(ctx context.Context, baseDir string) error {
	if r.role != RolePrimary {
		return ErrNotPrimary
	}

	r.initMu.Lock()
	defer r.initMu.Unlock()

	r.mu.Lock()
	if r.initialized {
		r.mu.Unlock()
		r.logger.Debug("store registry already initialized", "base_dir", r.baseDir)
		return nil
	}
	r.initialized = true
	r.baseDir = baseDir
	descs := make([]Descriptor, len(r.order))
	for i, name := range r.order {
		descs[i] = r.descs[name]
	}
	r.mu.Unlock()

	if err := r.fs.MkdirAll(baseDir); err != nil {
		r.mu.Lock()
		r.initialized = false
		r.mu.Unlock()
		return fmt.Errorf("creating store directory: %w", err)
	}

	// Defaults are computed concurrently; each store keeps its own error.
	defaults := make([]Props, len(descs))
	errs := make([]error, len(descs))
	var wg sync.WaitGroup
	for i, d := range descs {
		wg.Go(func() {
			defaults[i], errs[i] = d.defaultProps(ctx)
		})
	}
	wg.Wait()

	var failed []error
	for i, d := range descs {
		if errs[i] != nil {
			r.obs.Reconciled(d.Name, "failed")
			failed = append(failed, errs[i])
			continue
		}
		s, err := r.load(d, defaults[i])
		if err != nil {
			r.obs.Reconciled(d.Name, "failed")
			failed = append(failed, fmt.Errorf("loading store %s: %w", d.Name, err))
			continue
		}
		r.mu.Lock()
		r.stores[d.Name] = s
		r.mu.Unlock()
		s.markLive()
	}

	if len(failed) > 0 {
		r.logger.Error("some stores failed to initialize", "failed", len(failed), "total", len(descs))
	}
	return errors.Join(failed...)
}

func (r *Registry) load(d Descriptor, defaults Props) (*PrimaryStore, error) {
	path := r.pathFor(d.Name)

	exists, err := r.fs.Exists(path)
	if err != nil {
		return nil, err
	}
	var raw []byte
	if exists {
		if raw, err = r.fs.Read(path); err != nil {
			return nil, err
		}
	}

	rec := reconcile(raw, exists, defaults)
	outcome := "unchanged"
	switch {
	case rec.corrupt != nil:
		outcome = "corrupt"
		r.logger.Warn("store file is not a JSON object, restoring defaults",
			"store", d.Name, "path", path, "error", rec.corrupt)
	case !exists:
		outcome = "created"
	case rec.write:
		outcome = "merged"
	}

	s := &PrimaryStore{
		base: base{
			desc:  d,
			path:  path,
			obs:   r.obs,
			props: rec.props,
			state: StateReconciled,
		},
		fs:      r.fs,
		bus:     r.bus,
		journal: r.journal,
		logger:  r.logger,
	}
	if rec.write {
		s.mu.Lock()
		err := s.persistLocked()
		s.mu.Unlock()
		if err != nil {
			return nil, err
		}
	}
	r.obs.Reconciled(d.Name, outcome)
	r.logger.Debug("store reconciled", "store", d.Name, "path", path, "outcome", outcome)
	return s, nil
}

func (r *Registry) pathFor(name string) string {
	if r.baseDir == "" {
		return name + FileExt
	}
	return filepath.Join(r.baseDir, name+FileExt)
}

// Lookup returns the store registered under name. On a secondary the first
// lookup of a registered name builds an empty mirror. It returns false for
// names that were never registered, and on the primary for stores Init did
// not load.
func (r *Registry) Lookup(name string) (Store, bool) {
	r.mu.RLock()
	s, ok := r.stores[name]
	r.mu.RUnlock()
	if ok || r.role == RolePrimary {
		return s, ok
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if s, ok := r.stores[name]; ok {
		return s, true
	}
	d, ok := r.descs[name]
	if !ok {
		return nil, false
	}
	ss := &SecondaryStore{
		base: base{
			desc:  d,
			path:  r.pathFor(name),
			obs:   r.obs,
			props: make(Props),
			state: StateMirrored,
		},
		caller: r.caller,
		origin: r.origin,
	}
	r.stores[name] = ss
	return ss, true
}

// Store returns the store for h. The store must exist: a miss means Init was
// not run or failed for it, and Store panics.
func (r *Registry) Store(h Handle) Store {
	s, ok := r.Lookup(h.name)
	if !ok {
		panic(fmt.Sprintf("persistent: store %q is not initialized", h.name))
	}
	return s
}

// Descriptor returns the descriptor registered under name.
func (r *Registry) Descriptor(name string) (Descriptor, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	d, ok := r.descs[name]
	return d, ok
}

// HandleUpdate serves the update-persistent call on the primary. It returns
// once the value is persisted and broadcast.
func (r *Registry) HandleUpdate(ctx context.Context, req UpdateRequest) error {
	if r.role != RolePrimary {
		return ErrNotPrimary
	}
	s, ok := r.Lookup(req.Store)
	if !ok {
		return fmt.Errorf("%w: %s", ErrNotFound, req.Store)
	}
	ps := s.(*PrimaryStore)

	v, err := decodeValue(req.Value)
	if err != nil {
		return fmt.Errorf("%w: %s.%s: %w", ErrInvalidValue, req.Store, req.Key, err)
	}
	if err := ps.desc.check(req.Key, v); err != nil {
		return err
	}
	origin := req.Origin
	if origin == "" {
		origin = RoleSecondary.String()
	}
	return ps.set(ctx, req.Key, v, origin)
}

// Dispatch applies a broadcast on a secondary.
func (r *Registry) Dispatch(n Notification) error {
	if r.role != RoleSecondary {
		return ErrNotSecondary
	}
	s, ok := r.Lookup(n.Store)
	if !ok {
		return fmt.Errorf("%w: %s", ErrNotFound, n.Store)
	}
	changed, err := s.(*SecondaryStore).Apply(n.Key, n.Value)
	if err != nil {
		return err
	}
	if changed {
		r.logger.Debug("applied store update", "store", n.Store, "key", n.Key)
	}
	return nil
}

// Sync replaces each secondary mirror with a snapshot from the primary.
// Stores whose snapshot fails keep their current mirror.
func (r *Registry) Sync(ctx context.Context) error {
	if r.role != RoleSecondary {
		return ErrNotSecondary
	}
	if r.caller == nil {
		return fmt.Errorf("%w: %w", ErrRemoteCall, errNoCaller)
	}
	var failed []error
	for _, name := range r.Names() {
		props, err := r.caller.Snapshot(ctx, name)
		if err != nil {
			failed = append(failed, fmt.Errorf("%w: snapshot %s: %w", ErrRemoteCall, name, err))
			continue
		}
		s, _ := r.Lookup(name)
		normalized, err := normalize(props)
		if err != nil {
			failed = append(failed, fmt.Errorf("%w: snapshot %s: %w", ErrInvalidValue, name, err))
			continue
		}
		m, _ := normalized.(map[string]any)
		s.(*SecondaryStore).replace(Props(m))
	}
	return errors.Join(failed...)
}

type nopBroadcaster struct{}

func (nopBroadcaster) Broadcast(context.Context, Notification) error { return nil }
