package service

import (
	"context"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/hgschmie/broccolai-tickets/internal/cache"
	"github.com/hgschmie/broccolai-tickets/internal/events"
	"github.com/hgschmie/broccolai-tickets/internal/lock"
	"github.com/hgschmie/broccolai-tickets/internal/persistence"
	"github.com/hgschmie/broccolai-tickets/internal/repository"
)

type recorder struct {
	mu     sync.Mutex
	events []events.LifecycleEvent
}

func (r *recorder) handle(_ context.Context, ev events.LifecycleEvent) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, ev)
	return nil
}

func (r *recorder) kinds() []events.Kind {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]events.Kind, len(r.events))
	for i, ev := range r.events {
		out[i] = ev.Kind
	}
	return out
}

type harness struct {
	db       *persistence.SQLite
	tickets  repository.TicketRepository
	cache    *cache.TicketCache
	locks    *lock.KeyedMutex
	modify   *ModificationService
	read     *TicketService
	recorded *recorder
}

func openTestDB(t *testing.T) *persistence.SQLite {
	t.Helper()
	db, err := persistence.OpenSQLite(context.Background(), filepath.Join(t.TempDir(), "tickets.db"), nil)
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	t.Cleanup(db.Close)
	return db
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	db := openTestDB(t)
	return newHarnessOn(t, db, repository.NewSQLiteTicketRepository(db.DB))
}

// newHarnessOn builds services with their own cache and lock table over tickets, the
// way a second process sharing the database would.
func newHarnessOn(t *testing.T, db *persistence.SQLite, tickets repository.TicketRepository) *harness {
	t.Helper()
	ticketCache, err := cache.New(tickets, 16, nil)
	if err != nil {
		t.Fatalf("cache: %v", err)
	}
	rec := &recorder{}
	dispatcher := events.NewInMemoryDispatcher(nil, nil)
	for _, kind := range events.AllKinds {
		dispatcher.Subscribe(kind, rec.handle)
	}
	locks := lock.NewKeyedMutex()
	return &harness{
		db:      db,
		tickets: tickets,
		cache:   ticketCache,
		locks:   locks,
		modify: NewModificationService(ModificationDependencies{
			TicketRepo:     tickets,
			Cache:          ticketCache,
			Locks:          locks,
			Dispatcher:     dispatcher,
			StorageTimeout: 5 * time.Second,
			LockTimeout:    5 * time.Second,
		}),
		read: NewTicketService(TicketDependencies{
			TicketRepo:     tickets,
			Cache:          ticketCache,
			StorageTimeout: 5 * time.Second,
		}),
		recorded: rec,
	}
}
