// Package identity manages the anonymous id, session id, and user id that
// enrich every tracked event. All state is persisted through the key/value
// store so it survives process restarts.
package identity

import (
	"context"
	"fmt"
	"strconv"
	"sync"
	"time"

	"github.com/apptracker/apptracker-go/internal/storage"
	"github.com/google/uuid"
)

// Persistent key/value keys.
const (
	keyAnonymousID  = "anonymous_id"
	keySessionID    = "session_id"
	keyLastActivity = "last_activity"
	keyUserID       = "user_id"
)

// SessionTimeout is the idle time after which a new session id is minted.
const SessionTimeout = 30 * time.Minute

// Manager holds identity and session state. Reads of SessionID are the single
// place session rotation happens; Touch is the single place the idle clock is
// extended. Safe for concurrent use.
type Manager struct {
	kv  storage.KeyValueStore
	now func() time.Time

	mu     sync.Mutex
	userID string // in-memory override, set via SetUserID
}

// Option customizes a Manager.
type Option func(*Manager)

// WithClock overrides the time source. Used by session rotation tests.
func WithClock(now func() time.Time) Option {
	return func(m *Manager) { m.now = now }
}

// NewManager creates an identity manager backed by kv.
func NewManager(kv storage.KeyValueStore, opts ...Option) *Manager {
	m := &Manager{kv: kv, now: time.Now}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// AnonymousID returns the stable per-install anonymous id, lazily minting and
// persisting "anon-<uuid>" on first access.
func (m *Manager) AnonymousID(ctx context.Context) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	stored, ok, err := m.kv.Get(ctx, keyAnonymousID)
	if err != nil {
		return "", fmt.Errorf("failed to read anonymous id: %w", err)
	}
	if ok && stored != "" {
		return stored, nil
	}

	id := "anon-" + uuid.NewString()
	if err := m.kv.Set(ctx, keyAnonymousID, id); err != nil {
		return "", fmt.Errorf("failed to persist anonymous id: %w", err)
	}
	return id, nil
}

// SetAnonymousID replaces the persisted anonymous id.
func (m *Manager) SetAnonymousID(ctx context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if err := m.kv.Set(ctx, keyAnonymousID, id); err != nil {
		return fmt.Errorf("failed to persist anonymous id: %w", err)
	}
	return nil
}

// SessionID returns the current session id, rotating it when the idle time
// since the last activity exceeds SessionTimeout. This is deliberately a
// read with a side effect: rotation happens here and nowhere else.
func (m *Manager) SessionID(ctx context.Context) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := m.now()

	stored, ok, err := m.kv.Get(ctx, keySessionID)
	if err != nil {
		return "", fmt.Errorf("failed to read session id: %w", err)
	}
	if ok && stored != "" {
		last, err := m.lastActivity(ctx)
		if err != nil {
			return "", err
		}
		if now.Sub(last) < SessionTimeout {
			return stored, nil
		}
	}

	id := "session-" + uuid.NewString()
	if err := m.kv.Set(ctx, keySessionID, id); err != nil {
		return "", fmt.Errorf("failed to persist session id: %w", err)
	}
	if err := m.setLastActivity(ctx, now); err != nil {
		return "", err
	}
	return id, nil
}

// Touch records activity now, extending the current session independent of
// whether SessionID was just read.
func (m *Manager) Touch(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.setLastActivity(ctx, m.now())
}

// SetUserID persists the user id and overrides future reads.
func (m *Manager) SetUserID(ctx context.Context, userID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.userID = userID
	if err := m.kv.Set(ctx, keyUserID, userID); err != nil {
		return fmt.Errorf("failed to persist user id: %w", err)
	}
	return nil
}

// UserID returns the in-memory user id if set, else the persisted value.
// Returns "" when no user has been identified.
func (m *Manager) UserID(ctx context.Context) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.userID != "" {
		return m.userID, nil
	}
	stored, _, err := m.kv.Get(ctx, keyUserID)
	if err != nil {
		return "", fmt.Errorf("failed to read user id: %w", err)
	}
	return stored, nil
}

// lastActivity reads the persisted activity timestamp; callers hold m.mu.
// A missing or corrupt value reads as the zero time, which forces rotation.
func (m *Manager) lastActivity(ctx context.Context) (time.Time, error) {
	stored, ok, err := m.kv.Get(ctx, keyLastActivity)
	if err != nil {
		return time.Time{}, fmt.Errorf("failed to read last activity: %w", err)
	}
	if !ok {
		return time.Time{}, nil
	}
	millis, err := strconv.ParseInt(stored, 10, 64)
	if err != nil {
		return time.Time{}, nil
	}
	return time.UnixMilli(millis), nil
}

func (m *Manager) setLastActivity(ctx context.Context, t time.Time) error {
	if err := m.kv.Set(ctx, keyLastActivity, strconv.FormatInt(t.UnixMilli(), 10)); err != nil {
		return fmt.Errorf("failed to persist last activity: %w", err)
	}
	return nil
}
