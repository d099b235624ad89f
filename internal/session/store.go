// Package session owns persisted conversation and batch-session state. It
// is the only source of truth for which conversation is active for a user;
// callers serialize per-user access through UserLocks.
package session

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/MikeSquared-Agency/envoy/internal/batch"
	"github.com/MikeSquared-Agency/envoy/internal/conversation"
)

// ErrNoActive is returned by GetActive when the user has no non-terminal
// conversation. Reported to the user as guidance, never as a fault.
var ErrNoActive = errors.New("session: no active conversation")

// ErrNotFound is returned by Get for an unknown conversation id.
var ErrNotFound = errors.New("session: conversation not found")

// Store persists conversations and batch sessions. Save is last-write-wins
// per conversation id with monotonically advancing last_activity; the engine
// serializes per-user access so overlapping saves never interleave.
type Store interface {
	Create(ctx context.Context, c *conversation.Conversation) error
	Get(ctx context.Context, id uuid.UUID) (*conversation.Conversation, error)
	GetActive(ctx context.Context, userID string) (*conversation.Conversation, error)
	Save(ctx context.Context, c *conversation.Conversation) error
	ClearActive(ctx context.Context, userID string) error

	// ScanStale returns active conversations idle since before the cutoff,
	// oldest first. Used only by the timeout watchdog.
	ScanStale(ctx context.Context, idleBefore time.Time, limit int) ([]*conversation.Conversation, error)

	// PurgeExpired removes active conversations idle past the expiry window
	// and terminal ones past the grace window. Returns rows removed.
	PurgeExpired(ctx context.Context, activeBefore, terminalBefore time.Time) (int, error)

	SaveBatch(ctx context.Context, s *batch.Session) error
	GetBatch(ctx context.Context, userID string) (*batch.Session, error)
	DeleteBatch(ctx context.Context, userID string) error
}

// UserLocks serializes conversation turns per user key. The map grows with
// the user population and is never shrunk; entries are two words each.
type UserLocks struct {
	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

func NewUserLocks() *UserLocks {
	return &UserLocks{locks: make(map[string]*sync.Mutex)}
}

func (l *UserLocks) get(userID string) *sync.Mutex {
	l.mu.Lock()
	defer l.mu.Unlock()
	m, ok := l.locks[userID]
	if !ok {
		m = &sync.Mutex{}
		l.locks[userID] = m
	}
	return m
}

// Lock blocks until the user's turn lock is held.
func (l *UserLocks) Lock(userID string) {
	l.get(userID).Lock()
}

// TryLock acquires the user's lock only if it is free. The watchdog uses
// this to skip conversations mid-turn instead of forcing a conflicting
// state change.
func (l *UserLocks) TryLock(userID string) bool {
	return l.get(userID).TryLock()
}

func (l *UserLocks) Unlock(userID string) {
	l.get(userID).Unlock()
}
