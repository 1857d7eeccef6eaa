package rbac

import "sync"

const cacheMaxSize = 1000

type cacheKey struct {
	role     string
	resource string
	action   string
}

// denialCache is a {role,resource,action} -> bool cache bounded to a
// fixed size, evicting the oldest-inserted entry on overflow. It must
// never be consulted for a Check that carries a context, since the same
// triple can evaluate differently depending on conditions.
type denialCache struct {
	mu      sync.Mutex
	values  map[cacheKey]bool
	order   []cacheKey
}

func newDenialCache() *denialCache {
	return &denialCache{values: make(map[cacheKey]bool)}
}

func (c *denialCache) get(k cacheKey) (bool, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	v, ok := c.values[k]
	return v, ok
}

func (c *denialCache) put(k cacheKey, granted bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, exists := c.values[k]; !exists {
		if len(c.order) >= cacheMaxSize {
			oldest := c.order[0]
			c.order = c.order[1:]
			delete(c.values, oldest)
		}
		c.order = append(c.order, k)
	}
	c.values[k] = granted
}

func (c *denialCache) clear() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.values = make(map[cacheKey]bool)
	c.order = nil
}
