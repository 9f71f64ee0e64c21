package cache

import (
	"context"
	"sync"
)

// MemoryDedup is the fallback used when Redis is not configured. Entries
// are evicted FIFO once maxEntries is reached, which keeps memory bounded
// at the cost of re-admitting very old duplicates.
type MemoryDedup struct {
	mu         sync.Mutex
	seen       map[string]struct{}
	order      []string
	maxEntries int
}

func NewMemoryDedup(maxEntries int) *MemoryDedup {
	if maxEntries <= 0 {
		maxEntries = 10000
	}
	return &MemoryDedup{
		seen:       make(map[string]struct{}),
		maxEntries: maxEntries,
	}
}

func (c *MemoryDedup) Seen(_ context.Context, accountID, chatID, messageID string) (bool, error) {
	key := dedupKey(accountID, chatID, messageID)

	c.mu.Lock()
	defer c.mu.Unlock()

	if _, ok := c.seen[key]; ok {
		return true, nil
	}

	c.seen[key] = struct{}{}
	c.order = append(c.order, key)
	if len(c.order) > c.maxEntries {
		oldest := c.order[0]
		c.order = c.order[1:]
		delete(c.seen, oldest)
	}
	return false, nil
}

func (c *MemoryDedup) Forget(_ context.Context, accountID string) error {
	prefix := "seen:" + accountID + ":"

	c.mu.Lock()
	defer c.mu.Unlock()

	kept := c.order[:0]
	for _, key := range c.order {
		if len(key) >= len(prefix) && key[:len(prefix)] == prefix {
			delete(c.seen, key)
			continue
		}
		kept = append(kept, key)
	}
	c.order = kept
	return nil
}
