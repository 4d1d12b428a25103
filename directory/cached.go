package directory

import (
	"context"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"

	"github.com/Wizard254-ux/gabbage-web-sub000/bags"
)

// =============================================================================
// CACHED DIRECTORY
// =============================================================================

// Cached remembers successful lookups for a while. Misses and errors are
// not cached, and searches always go to the wrapped directory.
type Cached struct {
	next  bags.Directory
	cache *expirable.LRU[partyKey, bags.Party]
}

var _ bags.Directory = (*Cached)(nil)

func NewCached(next bags.Directory, size int, ttl time.Duration) *Cached {
	return &Cached{
		next:  next,
		cache: expirable.NewLRU[partyKey, bags.Party](size, nil, ttl),
	}
}

func (c *Cached) Driver(ctx context.Context, org bags.OrganizationID, id bags.DriverID) (bags.Party, error) {
	key := partyKey{org: org, kind: bags.KindDriver, id: string(id)}
	if p, ok := c.cache.Get(key); ok {
		return p, nil
	}
	p, err := c.next.Driver(ctx, org, id)
	if err != nil {
		return bags.Party{}, err
	}
	c.cache.Add(key, p)
	return p, nil
}

func (c *Cached) Client(ctx context.Context, org bags.OrganizationID, id bags.ClientID) (bags.Party, error) {
	key := partyKey{org: org, kind: bags.KindClient, id: string(id)}
	if p, ok := c.cache.Get(key); ok {
		return p, nil
	}
	p, err := c.next.Client(ctx, org, id)
	if err != nil {
		return bags.Party{}, err
	}
	c.cache.Add(key, p)
	return p, nil
}

func (c *Cached) Search(ctx context.Context, org bags.OrganizationID, kind bags.PartyKind, query string) ([]bags.Party, error) {
	parties, err := c.next.Search(ctx, org, kind, query)
	if err != nil {
		return nil, err
	}
	for _, p := range parties {
		c.cache.Add(partyKey{org: org, kind: kind, id: p.ID}, p)
	}
	return parties, nil
}

// Len is the number of cached parties.
func (c *Cached) Len() int { return c.cache.Len() }
