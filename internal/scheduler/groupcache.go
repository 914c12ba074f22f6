package scheduler

import (
	"context"
	"sync"

	"alertbot/internal/transport"
)

// Cache maps group display names to chat handles for one instance.
// Entries are populated lazily from chat enumeration and evicted when a
// send reports the destination gone, so the next resolution re-enumerates
// instead of reusing a stale handle.
type Cache struct {
	mu     sync.Mutex
	client transport.Client
	byName map[string]string
}

func NewCache(client transport.Client) *Cache {
	return &Cache{client: client, byName: map[string]string{}}
}

// Resolve returns the chat handle for a group name. A miss after a full
// enumeration is not an error: (_, false, nil) means "no such group right
// now", which leaves the caller free to retry on a later pass.
func (c *Cache) Resolve(ctx context.Context, name string) (string, bool, error) {
	c.mu.Lock()
	id, ok := c.byName[name]
	c.mu.Unlock()
	if ok {
		return id, true, nil
	}

	// Enumeration is expensive (O(total chats), possibly seconds), so it
	// runs outside the lock; a concurrent Resolve doing the same work is
	// harmless, last write wins.
	chats, err := c.client.Chats(ctx)
	if err != nil {
		return "", false, err
	}
	for _, ch := range chats {
		if ch.IsGroup && ch.Name == name {
			c.mu.Lock()
			c.byName[name] = ch.ID
			c.mu.Unlock()
			return ch.ID, true, nil
		}
	}
	return "", false, nil
}

func (c *Cache) Evict(name string) {
	c.mu.Lock()
	delete(c.byName, name)
	c.mu.Unlock()
}

func (c *Cache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.byName)
}
