// Package apptracker is a client-side telemetry SDK. Events tracked through a
// Tracker are enriched with identity and session context, persisted to an
// embedded SQLite queue, and delivered to a collector in batches, surviving
// process restarts and network outages.
//
// A Tracker is an explicit handle: construct one with New, bring it online
// with Initialize, and pass it to every call site. Track and Identify are
// legal at any point in the lifecycle; calls made before Initialize completes
// are buffered in memory and drained into the durable queue once the tracker
// is ready.
package apptracker

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/apptracker/apptracker-go/internal/bootstrap"
	"github.com/apptracker/apptracker-go/internal/event"
	"github.com/apptracker/apptracker-go/internal/identity"
	"github.com/apptracker/apptracker-go/internal/property"
	"github.com/apptracker/apptracker-go/internal/queue"
	"github.com/apptracker/apptracker-go/internal/storage/sqlite"
	"github.com/apptracker/apptracker-go/internal/transport"
)

// ErrAlreadyInitialized is returned by Initialize when the tracker is already
// initialized or an initialization is in progress. Calling Initialize twice
// is a programmer error, not a retried condition.
var ErrAlreadyInitialized = errors.New("tracker is already initialized")

// ErrBootstrapFailed wraps failures to resolve a delivery credential during
// Initialize. The tracker stays uninitialized; buffered events are retained
// and Initialize may be retried.
var ErrBootstrapFailed = errors.New("tracker bootstrap failed")

// Properties carries arbitrary event properties. Values are converted into a
// closed set of JSON shapes; unsupported value types are dropped with a
// warning rather than failing the Track call.
type Properties map[string]any

type lifecycleState int

const (
	stateUninitialized lifecycleState = iota
	stateBootstrapping
	stateReady
	stateStopped
)

// Tracker is the SDK handle. Use New to create one; the zero value is not
// usable.
type Tracker struct {
	cfg    Config
	logger *slog.Logger

	// mu guards the lifecycle state and the pre-bootstrap pending buffer.
	// The Bootstrapping→Ready transition drains the buffer while holding mu,
	// so buffered events and newly tracked events keep their arrival order.
	mu               sync.Mutex
	state            lifecycleState
	pendingEvents    []event.Event
	pendingUserID    string
	hasPendingUserID bool
	pendingAnonID    string
	hasPendingAnonID bool

	store    *sqlite.Adapter
	identity *identity.Manager
	queue    *queue.Queue
}

// New validates the configuration and returns an uninitialized tracker.
// No network or storage access happens here.
func New(cfg Config) (*Tracker, error) {
	cfg = cfg.withDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	return &Tracker{cfg: cfg, logger: cfg.Logger}, nil
}

// Initialize opens the durable store, resolves the delivery credential
// against the collector, applies any pending identity values, drains the
// pre-bootstrap event buffer, and starts the periodic flush loop.
//
// On failure the tracker stays uninitialized: buffered events are retained
// and Initialize may be called again. Initializing an already-initialized
// tracker returns ErrAlreadyInitialized.
func (t *Tracker) Initialize(ctx context.Context) error {
	t.mu.Lock()
	if t.state != stateUninitialized {
		t.mu.Unlock()
		return ErrAlreadyInitialized
	}
	t.state = stateBootstrapping
	t.mu.Unlock()

	store, idm, q, err := t.buildPipeline(ctx)
	if err != nil {
		t.mu.Lock()
		t.state = stateUninitialized
		t.mu.Unlock()
		return err
	}

	t.mu.Lock()
	t.store = store
	t.identity = idm
	t.queue = q

	// Pending identity values apply before the buffer drains so the drained
	// events are enriched with them.
	if t.hasPendingAnonID {
		if err := idm.SetAnonymousID(ctx, t.pendingAnonID); err != nil {
			t.logger.Warn("[Tracker] Failed to apply pending anonymous id", "error", err)
		}
		t.hasPendingAnonID = false
	}
	if t.hasPendingUserID {
		if err := idm.SetUserID(ctx, t.pendingUserID); err != nil {
			t.logger.Warn("[Tracker] Failed to apply pending user id", "error", err)
		}
		t.hasPendingUserID = false
	}

	drained := len(t.pendingEvents)
	for i := range t.pendingEvents {
		if err := q.Enqueue(ctx, &t.pendingEvents[i]); err != nil {
			t.logger.Warn("[Tracker] Failed to enqueue buffered event",
				"event_name", t.pendingEvents[i].Name,
				"error", err,
			)
		}
	}
	t.pendingEvents = nil
	t.state = stateReady
	t.mu.Unlock()

	q.Start()

	t.logger.Info("[Tracker] Initialized",
		"buffered_events_drained", drained,
		"batch_size", t.cfg.BatchSize,
		"flush_interval", t.cfg.FlushInterval,
	)
	return nil
}

// buildPipeline opens storage and resolves the credential. It mutates no
// tracker state; on error everything it opened is closed again.
func (t *Tracker) buildPipeline(ctx context.Context) (*sqlite.Adapter, *identity.Manager, *queue.Queue, error) {
	store, err := sqlite.Open(t.cfg.DatabasePath)
	if err != nil {
		return nil, nil, nil, fmt.Errorf("failed to open local store: %w", err)
	}

	client, err := transport.NewClient(t.cfg.BaseURL)
	if err != nil {
		store.Close()
		return nil, nil, nil, fmt.Errorf("invalid collector URL: %w", err)
	}

	resolver := bootstrap.NewResolver(client, store)
	projectKey, err := resolver.Resolve(ctx, t.cfg.ProjectName, t.cfg.ProjectKey)
	if err != nil {
		store.Close()
		return nil, nil, nil, fmt.Errorf("%w: %v", ErrBootstrapFailed, err)
	}

	idm := identity.NewManager(store)
	q := queue.New(store, idm, client, projectKey, t.cfg.BatchSize, t.cfg.FlushInterval)
	return store, idm, q, nil
}

// Track records an event. It never blocks on the network and never fails
// visibly: before the tracker is ready the raw event is buffered in memory,
// afterwards it is enriched and persisted; internal errors are logged and the
// event is retried or dropped according to the delivery contract.
func (t *Tracker) Track(eventName string, props Properties) {
	ev := event.New(eventName, t.convertProperties(eventName, props))
	if err := ev.Validate(); err != nil {
		t.logger.Warn("[Tracker] Dropping invalid event", "event_name", eventName, "error", err)
		return
	}

	t.mu.Lock()
	if t.state != stateReady && t.state != stateStopped {
		t.pendingEvents = append(t.pendingEvents, ev)
		pending := len(t.pendingEvents)
		t.mu.Unlock()
		t.logger.Debug("[Tracker] Event buffered until initialization completes",
			"event_name", eventName,
			"buffered", pending,
		)
		return
	}
	q := t.queue
	t.mu.Unlock()

	if err := q.Enqueue(context.Background(), &ev); err != nil {
		t.logger.Warn("[Tracker] Failed to enqueue event", "event_name", eventName, "error", err)
	}
}

// Identify associates subsequent events with a user id. Before the tracker is
// ready the value is remembered (last write wins) and applied right after
// bootstrap completes.
func (t *Tracker) Identify(userID string) {
	t.mu.Lock()
	if t.state != stateReady && t.state != stateStopped {
		t.pendingUserID = userID
		t.hasPendingUserID = true
		t.mu.Unlock()
		return
	}
	idm := t.identity
	t.mu.Unlock()

	if err := idm.SetUserID(context.Background(), userID); err != nil {
		t.logger.Warn("[Tracker] Failed to persist user id", "error", err)
	}
}

// SetAnonymousID overrides the generated anonymous id. Before the tracker is
// ready the value is remembered (last write wins) and applied right after
// bootstrap completes.
func (t *Tracker) SetAnonymousID(anonymousID string) {
	t.mu.Lock()
	if t.state != stateReady && t.state != stateStopped {
		t.pendingAnonID = anonymousID
		t.hasPendingAnonID = true
		t.mu.Unlock()
		return
	}
	idm := t.identity
	t.mu.Unlock()

	if err := idm.SetAnonymousID(context.Background(), anonymousID); err != nil {
		t.logger.Warn("[Tracker] Failed to persist anonymous id", "error", err)
	}
}

// UserID returns the current user id, or "" when no user has been
// identified. Before the tracker is ready it returns the pending value.
func (t *Tracker) UserID(ctx context.Context) (string, error) {
	t.mu.Lock()
	if t.state != stateReady && t.state != stateStopped {
		userID := t.pendingUserID
		t.mu.Unlock()
		return userID, nil
	}
	idm := t.identity
	t.mu.Unlock()

	return idm.UserID(ctx)
}

// Flush attempts to deliver pending events immediately. Before the tracker is
// ready it is a no-op: buffered events are delivered after initialization.
func (t *Tracker) Flush(ctx context.Context) error {
	t.mu.Lock()
	if t.state != stateReady && t.state != stateStopped {
		t.mu.Unlock()
		t.logger.Debug("[Tracker] Flush before initialization is a no-op")
		return nil
	}
	q := t.queue
	t.mu.Unlock()

	return q.Flush(ctx)
}

// PendingCount returns the number of undelivered events: the durable row
// count once the tracker is ready, else the in-memory buffer size.
func (t *Tracker) PendingCount(ctx context.Context) (int, error) {
	t.mu.Lock()
	if t.state != stateReady && t.state != stateStopped {
		n := len(t.pendingEvents)
		t.mu.Unlock()
		return n, nil
	}
	q := t.queue
	t.mu.Unlock()

	return q.PendingCount(ctx)
}

// IsInitialized reports whether Initialize has completed successfully.
func (t *Tracker) IsInitialized() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.state == stateReady || t.state == stateStopped
}

// Stop cancels the periodic flush loop. A flush already in flight completes,
// and Track/Flush keep working afterwards — they are just no longer
// scheduled. No events are lost by calling Stop.
func (t *Tracker) Stop() {
	t.mu.Lock()
	if t.state != stateReady {
		t.mu.Unlock()
		return
	}
	t.state = stateStopped
	q := t.queue
	t.mu.Unlock()

	q.Stop()
}

// Close stops the tracker and releases the durable store. Undelivered events
// stay on disk and are picked up by the next initialized tracker using the
// same database path.
func (t *Tracker) Close() error {
	t.Stop()

	t.mu.Lock()
	store := t.store
	t.store = nil
	t.mu.Unlock()

	if store != nil {
		return store.Close()
	}
	return nil
}

// Config returns the tracker's configuration.
func (t *Tracker) Config() Config {
	return t.cfg
}

// convertProperties maps caller-supplied values into the closed property
// type, dropping individual unsupported values with a warning.
func (t *Tracker) convertProperties(eventName string, props Properties) property.Map {
	if len(props) == 0 {
		return nil
	}
	m := make(property.Map, len(props))
	for k, v := range props {
		pv, err := property.FromAny(v)
		if err != nil {
			t.logger.Warn("[Tracker] Dropping unsupported property",
				"event_name", eventName,
				"property", k,
				"error", err,
			)
			continue
		}
		m[k] = pv
	}
	if len(m) == 0 {
		return nil
	}
	return m
}

// ProjectExists reports whether the collector at baseURL recognizes the
// project key. Usable before any tracker exists.
func ProjectExists(ctx context.Context, baseURL, projectKey string) (bool, error) {
	client, err := transport.NewClient(baseURL)
	if err != nil {
		return false, err
	}
	resp, err := client.GetProjects(ctx, projectKey)
	if err != nil {
		return false, err
	}
	return len(resp.Projects) > 0, nil
}

// CreateProject registers a new project with the collector at baseURL and
// returns its issued project key. Usable before any tracker exists.
func CreateProject(ctx context.Context, baseURL, projectName string) (string, error) {
	client, err := transport.NewClient(baseURL)
	if err != nil {
		return "", err
	}
	project, err := client.CreateProject(ctx, projectName)
	if err != nil {
		return "", err
	}
	return project.ProjectKey, nil
}
