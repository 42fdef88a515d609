// Package presence tracks which users are currently connected.
package presence

import (
	"context"
	"sync"

	"github.com/google/uuid"
)

// Tracker answers whether a user can be reached right now.
type Tracker interface {
	IsReachable(ctx context.Context, user uuid.UUID) (bool, error)
	// OnlineStaff lists connected users that joined as staff.
	OnlineStaff(ctx context.Context) ([]uuid.UUID, error)
	SetOnline(ctx context.Context, user uuid.UUID, staff bool) error
	SetOffline(ctx context.Context, user uuid.UUID) error
}

// MemoryTracker keeps presence for a single process.
type MemoryTracker struct {
	mu     sync.RWMutex
	online map[uuid.UUID]bool
}

// NewMemoryTracker returns an empty tracker.
func NewMemoryTracker() *MemoryTracker {
	return &MemoryTracker{online: make(map[uuid.UUID]bool)}
}

func (m *MemoryTracker) IsReachable(_ context.Context, user uuid.UUID) (bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	_, ok := m.online[user]
	return ok, nil
}

func (m *MemoryTracker) OnlineStaff(_ context.Context) ([]uuid.UUID, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	staff := make([]uuid.UUID, 0, len(m.online))
	for id, isStaff := range m.online {
		if isStaff {
			staff = append(staff, id)
		}
	}
	return staff, nil
}

func (m *MemoryTracker) SetOnline(_ context.Context, user uuid.UUID, staff bool) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.online[user] = staff
	return nil
}

func (m *MemoryTracker) SetOffline(_ context.Context, user uuid.UUID) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.online, user)
	return nil
}
