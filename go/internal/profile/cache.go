package profile

import (
	"context"
	"sync"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/mcdev12/quizlive/go/internal/models"
)

// Lookup fetches profiles in bulk.
type Lookup interface {
	GetProfiles(ctx context.Context, ids []uuid.UUID) (map[uuid.UUID]models.Profile, error)
}

// Cache memoizes profiles for the lifetime of one room view and only
// fetches ids it has not seen.
type Cache struct {
	lookup Lookup

	mu       sync.Mutex
	profiles map[uuid.UUID]models.Profile
	missing  map[uuid.UUID]bool
}

func NewCache(lookup Lookup) *Cache {
	return &Cache{
		lookup:   lookup,
		profiles: make(map[uuid.UUID]models.Profile),
		missing:  make(map[uuid.UUID]bool),
	}
}

// Resolve returns the cached profile of every id it can find. A lookup failure is
// logged and the ids stay eligible for the next call.
func (c *Cache) Resolve(ctx context.Context, ids []uuid.UUID) map[uuid.UUID]models.Profile {
	c.mu.Lock()
	var unseen []uuid.UUID
	seen := make(map[uuid.UUID]bool, len(ids))
	for _, id := range ids {
		if seen[id] {
			continue
		}
		seen[id] = true
		if _, ok := c.profiles[id]; ok || c.missing[id] {
			continue
		}
		unseen = append(unseen, id)
	}
	c.mu.Unlock()

	if len(unseen) > 0 {
		fetched, err := c.lookup.GetProfiles(ctx, unseen)
		if err != nil {
			log.Warn().Err(err).Int("ids", len(unseen)).Msg("profile lookup failed")
		} else {
			c.mu.Lock()
			for _, id := range unseen {
				if p, ok := fetched[id]; ok {
					c.profiles[id] = p
				} else {
					c.missing[id] = true
				}
			}
			c.mu.Unlock()
		}
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	out := make(map[uuid.UUID]models.Profile, len(seen))
	for id := range seen {
		if p, ok := c.profiles[id]; ok {
			out[id] = p
		}
	}
	return out
}

// Get returns a cached profile without fetching.
func (c *Cache) Get(id uuid.UUID) (models.Profile, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	p, ok := c.profiles[id]
	return p, ok
}
