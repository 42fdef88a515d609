// Package cache keeps ticket snapshots in memory in front of the ticket repository.
package cache

import (
	"context"
	"errors"
	"fmt"
	"hash/maphash"
	"strconv"
	"sync"

	"github.com/google/uuid"
	lru "github.com/hashicorp/golang-lru/v2"
	"golang.org/x/sync/singleflight"

	"github.com/hgschmie/broccolai-tickets/internal/domain"
	"github.com/hgschmie/broccolai-tickets/internal/observability"
	apperrors "github.com/hgschmie/broccolai-tickets/pkg/util/errorutil"
)

const shardCount = 32

// Loader is the part of the ticket repository the cache reads through to.
type Loader interface {
	LoadMany(ctx context.Context, ids []int64) (map[int64]domain.Ticket, error)
	QueryByOwner(ctx context.Context, owner uuid.UUID, statuses []domain.Status) (map[int64]domain.Ticket, error)
}

type ticketShard struct {
	mu    sync.RWMutex
	items map[int64]domain.Ticket
}

// ownerEntry holds candidate ticket ids for one owner. loaded is set once the owner's
// active tickets have been read from storage; until then ids only holds tickets that
// passed through Put.
type ownerEntry struct {
	loaded bool
	ids    map[int64]struct{}
}

type ownerShard struct {
	mu     sync.RWMutex
	owners map[uuid.UUID]*ownerEntry
}

// TicketCache serves ticket reads from memory and falls back to the Loader on a miss.
//
// OPEN and CLAIMED tickets stay resident in sharded maps. CLOSED tickets move to a
// bounded LRU and are reloaded on demand once evicted. All changes to one ticket id
// happen under that id's shard lock, and a snapshot only replaces one with an equal
// or lower version, so a slow read-through can never overwrite a newer write.
type TicketCache struct {
	loader  Loader
	seed    maphash.Seed
	tickets [shardCount]ticketShard
	owners  [shardCount]ownerShard
	closed  *lru.Cache[int64, domain.Ticket]
	flight  singleflight.Group
	metrics *observability.Metrics
}

// New builds a cache holding at most closedCapacity CLOSED tickets.
func New(loader Loader, closedCapacity int, metrics *observability.Metrics) (*TicketCache, error) {
	if loader == nil {
		return nil, errors.New("cache: loader is nil")
	}
	closed, err := lru.New[int64, domain.Ticket](closedCapacity)
	if err != nil {
		return nil, fmt.Errorf("cache: closed ticket lru: %w", err)
	}
	c := &TicketCache{
		loader:  loader,
		seed:    maphash.MakeSeed(),
		closed:  closed,
		metrics: metrics,
	}
	for i := range c.tickets {
		c.tickets[i].items = make(map[int64]domain.Ticket)
		c.owners[i].owners = make(map[uuid.UUID]*ownerEntry)
	}
	return c, nil
}

// Get returns the ticket, loading it on a miss. Unknown ids yield TicketNotFound.
func (c *TicketCache) Get(ctx context.Context, id int64) (domain.Ticket, error) {
	if ticket, ok := c.lookup(id); ok {
		c.metrics.RecordCacheLookup(observability.CacheHit)
		return ticket.Clone(), nil
	}
	c.metrics.RecordCacheLookup(observability.CacheMiss)

	v, err, _ := c.flight.Do("id:"+strconv.FormatInt(id, 10), func() (any, error) {
		tickets, err := c.loader.LoadMany(ctx, []int64{id})
		if err != nil {
			return nil, err
		}
		ticket, ok := tickets[id]
		if !ok {
			return nil, apperrors.NewTicketNotFound(id)
		}
		return c.offer(ticket), nil
	})
	if err != nil {
		return domain.Ticket{}, err
	}
	return v.(domain.Ticket).Clone(), nil
}

// Reload bypasses the cached copy, reads the ticket from storage and caches the result.
func (c *TicketCache) Reload(ctx context.Context, id int64) (domain.Ticket, error) {
	tickets, err := c.loader.LoadMany(ctx, []int64{id})
	if err != nil {
		return domain.Ticket{}, err
	}
	ticket, ok := tickets[id]
	if !ok {
		c.Invalidate(id)
		return domain.Ticket{}, apperrors.NewTicketNotFound(id)
	}
	return c.offer(ticket).Clone(), nil
}

// GetMany returns the known tickets among ids, loading all misses in one round-trip.
func (c *TicketCache) GetMany(ctx context.Context, ids []int64) (map[int64]domain.Ticket, error) {
	result := make(map[int64]domain.Ticket, len(ids))
	var missing []int64
	for _, id := range ids {
		if ticket, ok := c.lookup(id); ok {
			c.metrics.RecordCacheLookup(observability.CacheHit)
			result[id] = ticket.Clone()
			continue
		}
		c.metrics.RecordCacheLookup(observability.CacheMiss)
		missing = append(missing, id)
	}
	if len(missing) == 0 {
		return result, nil
	}

	loaded, err := c.loader.LoadMany(ctx, missing)
	if err != nil {
		return nil, err
	}
	for id, ticket := range loaded {
		result[id] = c.offer(ticket).Clone()
	}
	return result, nil
}

// ByOwner returns the owner's tickets in any of statuses. Queries limited to active
// statuses are answered from the owner index; anything involving CLOSED goes to storage.
func (c *TicketCache) ByOwner(ctx context.Context, owner uuid.UUID, statuses []domain.Status) (map[int64]domain.Ticket, error) {
	result := make(map[int64]domain.Ticket)
	if len(statuses) == 0 {
		return result, nil
	}
	wanted := make(map[domain.Status]bool, len(statuses))
	activeOnly := true
	for _, status := range statuses {
		wanted[status] = true
		activeOnly = activeOnly && status.Active()
	}

	if !activeOnly {
		tickets, err := c.loader.QueryByOwner(ctx, owner, statuses)
		if err != nil {
			return nil, err
		}
		for _, ticket := range tickets {
			current := c.offer(ticket)
			if wanted[current.Status] {
				result[current.ID] = current.Clone()
			}
		}
		return result, nil
	}

	if err := c.ensureOwnerLoaded(ctx, owner); err != nil {
		return nil, err
	}
	ids := c.ownerIDs(owner)
	if len(ids) == 0 {
		return result, nil
	}
	tickets, err := c.GetMany(ctx, ids)
	if err != nil {
		return nil, err
	}
	for id, ticket := range tickets {
		if wanted[ticket.Status] && ticket.Owner == owner {
			result[id] = ticket
		}
	}
	return result, nil
}

// Put stores a committed snapshot. It is ignored if a newer version is already cached.
func (c *TicketCache) Put(ticket domain.Ticket) {
	c.offer(ticket.Clone())
}

// Invalidate drops the cached copy so the next read goes to storage.
func (c *TicketCache) Invalidate(id int64) {
	shard := c.ticketShard(id)
	shard.mu.Lock()
	defer shard.mu.Unlock()
	delete(shard.items, id)
	c.closed.Remove(id)
}

// Len reports the number of cached tickets.
func (c *TicketCache) Len() int {
	n := c.closed.Len()
	for i := range c.tickets {
		c.tickets[i].mu.RLock()
		n += len(c.tickets[i].items)
		c.tickets[i].mu.RUnlock()
	}
	return n
}

func (c *TicketCache) lookup(id int64) (domain.Ticket, bool) {
	shard := c.ticketShard(id)
	shard.mu.RLock()
	ticket, ok := shard.items[id]
	shard.mu.RUnlock()
	if ok {
		return ticket, true
	}
	return c.closed.Get(id)
}

// offer stores ticket unless a newer version is cached, and returns whichever
// snapshot the cache holds afterwards.
func (c *TicketCache) offer(ticket domain.Ticket) domain.Ticket {
	shard := c.ticketShard(ticket.ID)
	shard.mu.Lock()
	defer shard.mu.Unlock()

	current, ok := shard.items[ticket.ID]
	if !ok {
		current, ok = c.closed.Peek(ticket.ID)
	}
	if ok && current.Version() > ticket.Version() {
		return current
	}

	if ticket.Status.Active() {
		shard.items[ticket.ID] = ticket
		c.closed.Remove(ticket.ID)
	} else {
		delete(shard.items, ticket.ID)
		c.closed.Add(ticket.ID, ticket)
	}
	c.index(ticket)
	return ticket
}

func (c *TicketCache) index(ticket domain.Ticket) {
	shard := c.ownerShard(ticket.Owner)
	shard.mu.Lock()
	defer shard.mu.Unlock()

	entry, ok := shard.owners[ticket.Owner]
	if !ok {
		if !ticket.Status.Active() {
			return
		}
		entry = &ownerEntry{ids: make(map[int64]struct{})}
		shard.owners[ticket.Owner] = entry
	}
	if ticket.Status.Active() {
		entry.ids[ticket.ID] = struct{}{}
	} else {
		delete(entry.ids, ticket.ID)
	}
}

func (c *TicketCache) ensureOwnerLoaded(ctx context.Context, owner uuid.UUID) error {
	shard := c.ownerShard(owner)
	shard.mu.RLock()
	entry, ok := shard.owners[owner]
	loaded := ok && entry.loaded
	shard.mu.RUnlock()
	if loaded {
		return nil
	}

	_, err, _ := c.flight.Do("owner:"+owner.String(), func() (any, error) {
		tickets, err := c.loader.QueryByOwner(ctx, owner, domain.ActiveStatuses)
		if err != nil {
			return nil, err
		}
		for _, ticket := range tickets {
			c.offer(ticket)
		}

		shard.mu.Lock()
		defer shard.mu.Unlock()
		entry, ok := shard.owners[owner]
		if !ok {
			entry = &ownerEntry{ids: make(map[int64]struct{})}
			shard.owners[owner] = entry
		}
		entry.loaded = true
		return nil, nil
	})
	return err
}

func (c *TicketCache) ownerIDs(owner uuid.UUID) []int64 {
	shard := c.ownerShard(owner)
	shard.mu.RLock()
	defer shard.mu.RUnlock()
	entry, ok := shard.owners[owner]
	if !ok {
		return nil
	}
	ids := make([]int64, 0, len(entry.ids))
	for id := range entry.ids {
		ids = append(ids, id)
	}
	return ids
}

func (c *TicketCache) ticketShard(id int64) *ticketShard {
	return &c.tickets[uint64(id)%shardCount]
}

func (c *TicketCache) ownerShard(owner uuid.UUID) *ownerShard {
	return &c.owners[maphash.Bytes(c.seed, owner[:])%shardCount]
}
