package session

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/MikeSquared-Agency/envoy/internal/batch"
	"github.com/MikeSquared-Agency/envoy/internal/conversation"
)

// Memory is an in-process Store used by tests and Postgres-less local runs.
// All reads and writes copy, so callers never share conversation pointers
// with the store.
type Memory struct {
	mu      sync.Mutex
	convs   map[uuid.UUID]*conversation.Conversation
	batches map[string]*batch.Session
}

func NewMemory() *Memory {
	return &Memory{
		convs:   make(map[uuid.UUID]*conversation.Conversation),
		batches: make(map[string]*batch.Session),
	}
}

func cloneConv(c *conversation.Conversation) *conversation.Conversation {
	data, _ := json.Marshal(c)
	var out conversation.Conversation
	_ = json.Unmarshal(data, &out)
	return &out
}

func cloneBatch(s *batch.Session) *batch.Session {
	data, _ := json.Marshal(s)
	var out batch.Session
	_ = json.Unmarshal(data, &out)
	return &out
}

func (m *Memory) Create(ctx context.Context, c *conversation.Conversation) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, exists := m.convs[c.ID]; exists {
		return fmt.Errorf("conversation %s already exists", c.ID)
	}
	m.convs[c.ID] = cloneConv(c)
	return nil
}

func (m *Memory) Get(ctx context.Context, id uuid.UUID) (*conversation.Conversation, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	c, ok := m.convs[id]
	if !ok {
		return nil, ErrNotFound
	}
	return cloneConv(c), nil
}

func (m *Memory) GetActive(ctx context.Context, userID string) (*conversation.Conversation, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var latest *conversation.Conversation
	for _, c := range m.convs {
		if c.UserID != userID || !c.Stage.Active() {
			continue
		}
		if latest == nil || c.LastActivity.After(latest.LastActivity) {
			latest = c
		}
	}
	if latest == nil {
		return nil, ErrNoActive
	}
	return cloneConv(latest), nil
}

func (m *Memory) Save(ctx context.Context, c *conversation.Conversation) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	saved := cloneConv(c)
	if prev, ok := m.convs[c.ID]; ok && prev.LastActivity.After(saved.LastActivity) {
		saved.LastActivity = prev.LastActivity
	}
	m.convs[c.ID] = saved
	return nil
}

func (m *Memory) ClearActive(ctx context.Context, userID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, c := range m.convs {
		if c.UserID == userID && c.Stage.Active() {
			c.Stage = conversation.StageAbandoned
		}
	}
	return nil
}

func (m *Memory) ScanStale(ctx context.Context, idleBefore time.Time, limit int) ([]*conversation.Conversation, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*conversation.Conversation
	for _, c := range m.convs {
		if c.Stage.Active() && c.LastActivity.Before(idleBefore) {
			out = append(out, cloneConv(c))
		}
	}
	// Oldest first, stable for the sweep.
	for i := 0; i < len(out); i++ {
		for j := i + 1; j < len(out); j++ {
			if out[j].LastActivity.Before(out[i].LastActivity) {
				out[i], out[j] = out[j], out[i]
			}
		}
	}
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (m *Memory) PurgeExpired(ctx context.Context, activeBefore, terminalBefore time.Time) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := 0
	for id, c := range m.convs {
		switch {
		case c.Stage.Active() && c.LastActivity.Before(activeBefore):
			delete(m.convs, id)
			n++
		case c.Stage.Terminal() && c.LastActivity.Before(terminalBefore):
			delete(m.convs, id)
			n++
		}
	}
	for userID, s := range m.batches {
		if s.LastActivity.Before(activeBefore) {
			delete(m.batches, userID)
			n++
		}
	}
	return n, nil
}

func (m *Memory) SaveBatch(ctx context.Context, s *batch.Session) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.batches[s.UserID] = cloneBatch(s)
	return nil
}

func (m *Memory) GetBatch(ctx context.Context, userID string) (*batch.Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.batches[userID]
	if !ok {
		return nil, nil
	}
	return cloneBatch(s), nil
}

func (m *Memory) DeleteBatch(ctx context.Context, userID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.batches, userID)
	return nil
}
