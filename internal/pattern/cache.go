package pattern

import (
	"context"
	"sync"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"
)

// CachedStore fronts a Store with a short-lived LRU for reads. Every write
// through the CachedStore evicts the affected pattern, so the wrapped store
// stays the single source of truth.
//
// Each pattern id carries a write generation. A read only populates the
// cache when no write to that id landed while it was in flight.
type CachedStore struct {
	Store
	cache *expirable.LRU[string, *Pattern]

	mu  sync.Mutex
	gen map[string]uint64
}

// NewCachedStore wraps store with an LRU of size entries expiring after ttl.
func NewCachedStore(store Store, size int, ttl time.Duration) *CachedStore {
	return &CachedStore{
		Store: store,
		cache: expirable.NewLRU[string, *Pattern](size, nil, ttl),
		gen:   make(map[string]uint64),
	}
}

func (c *CachedStore) generation(id string) uint64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.gen[id]
}

// fill caches p unless id was written after gen was taken.
func (c *CachedStore) fill(id string, gen uint64, p *Pattern) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.gen[id] == gen {
		c.cache.Add(id, p.Clone())
	}
}

// bump records a write to id and evicts it.
func (c *CachedStore) bump(id string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.gen[id]++
	c.cache.Remove(id)
}

func (c *CachedStore) Get(ctx context.Context, signature string) (*Pattern, error) {
	id := IDFor(signature)
	if p, ok := c.cache.Get(id); ok && p.Signature == signature {
		return p.Clone(), nil
	}
	gen := c.generation(id)
	p, err := c.Store.Get(ctx, signature)
	if err != nil {
		return nil, err
	}
	c.fill(id, gen, p)
	return p, nil
}

func (c *CachedStore) GetByID(ctx context.Context, id string) (*Pattern, error) {
	if p, ok := c.cache.Get(id); ok {
		return p.Clone(), nil
	}
	gen := c.generation(id)
	p, err := c.Store.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	c.fill(id, gen, p)
	return p, nil
}

func (c *CachedStore) UpsertBySignature(ctx context.Context, signature string, seenAt time.Time) (*Pattern, error) {
	defer c.bump(IDFor(signature))
	return c.Store.UpsertBySignature(ctx, signature, seenAt)
}

func (c *CachedStore) IncrementOutcome(ctx context.Context, id string, outcome Outcome) (*Pattern, error) {
	defer c.bump(id)
	return c.Store.IncrementOutcome(ctx, id, outcome)
}

func (c *CachedStore) AttachRemediation(ctx context.Context, id string, d Descriptor) (*Pattern, error) {
	defer c.bump(id)
	return c.Store.AttachRemediation(ctx, id, d)
}

func (c *CachedStore) ClaimApplication(ctx context.Context, id string, now time.Time, cooldown time.Duration) (bool, error) {
	defer c.bump(id)
	return c.Store.ClaimApplication(ctx, id, now, cooldown)
}

// Len returns the number of cached patterns.
func (c *CachedStore) Len() int {
	return c.cache.Len()
}
