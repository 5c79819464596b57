package cache

import (
	"sync"
	"time"

	"github.com/pkg/errors"
)

// Cache is a weight-bounded LRU cache with optional per-entry expiry. It
// backs the short-TTL read-only caches (lookup table contents, token account
// metadata) shared across requests.
type Cache interface {
	GetWeight() int
	GetBudget() int
	Insert(key string, value interface{}, weight int) error
	InsertWithTTL(key string, value interface{}, weight int, ttl time.Duration) error
	Retrieve(key string) (interface{}, bool)
	Clear()
}

// cacheNode represents a node in the doubly-linked list, storing each
// cache item along with its key, value, and weight.
type cacheNode struct {
	next      *cacheNode
	prev      *cacheNode
	key       string
	value     interface{}
	weight    int
	expiresAt time.Time
}

func (n *cacheNode) expired() bool {
	return !n.expiresAt.IsZero() && time.Now().After(n.expiresAt)
}

type cache struct {
	head   *cacheNode
	tail   *cacheNode
	lookup map[string]*cacheNode
	weight int
	budget int
	mutex  sync.Mutex
}

// NewCache initializes and returns a new cache with a given weight budget.
func NewCache(budget int) Cache {
	return &cache{
		lookup: make(map[string]*cacheNode),
		budget: budget,
	}
}

// GetWeight returns the current total weight of items in the cache.
func (c *cache) GetWeight() int {
	c.mutex.Lock()
	defer c.mutex.Unlock()
	return c.weight
}

// GetBudget returns the weight budget of the cache.
func (c *cache) GetBudget() int {
	return c.budget
}

// Insert adds a new item to the cache without an expiry.
func (c *cache) Insert(key string, value interface{}, weight int) error {
	return c.InsertWithTTL(key, value, weight, 0)
}

// InsertWithTTL adds a new item to the cache that expires after ttl. A zero
// ttl means the item never expires. If the key already exists and has not
// expired, an error is returned. The cache evicts the least recently used
// items as necessary to stay within its weight budget.
func (c *cache) InsertWithTTL(key string, value interface{}, weight int, ttl time.Duration) error {
	c.mutex.Lock()
	defer c.mutex.Unlock()

	if existing, found := c.lookup[key]; found {
		if !existing.expired() {
			return errors.New("key already exists in cache")
		}
		c.remove(existing)
	}

	node := &cacheNode{
		key:    key,
		value:  value,
		weight: weight,
		next:   c.head,
	}
	if ttl > 0 {
		node.expiresAt = time.Now().Add(ttl)
	}

	if c.head != nil {
		c.head.prev = node
	}
	c.head = node
	if c.tail == nil {
		c.tail = node
	}

	c.lookup[key] = node
	c.weight += weight

	for c.weight > c.budget && c.tail != nil {
		c.remove(c.tail)
	}

	return nil
}

// Retrieve fetches an item from the cache by its key, if it exists and has
// not expired. The retrieved item is moved to the front of the list to mark
// it as recently used.
func (c *cache) Retrieve(key string) (interface{}, bool) {
	c.mutex.Lock()
	defer c.mutex.Unlock()

	node, found := c.lookup[key]
	if !found {
		return nil, false
	}

	if node.expired() {
		c.remove(node)
		return nil, false
	}

	if node != c.head {
		if node.next != nil {
			node.next.prev = node.prev
		}
		if node.prev != nil {
			node.prev.next = node.next
		}
		if node == c.tail {
			c.tail = node.prev
		}

		node.next = c.head
		node.prev = nil
		if c.head != nil {
			c.head.prev = node
		}
		c.head = node
	}

	return node.value, true
}

// Clear removes all items from the cache, resetting it to an empty state.
func (c *cache) Clear() {
	c.mutex.Lock()
	defer c.mutex.Unlock()

	c.head = nil
	c.tail = nil
	c.lookup = make(map[string]*cacheNode)
	c.weight = 0
}

// remove unlinks the node and updates weight. Caller must hold the mutex.
func (c *cache) remove(node *cacheNode) {
	if node.prev != nil {
		node.prev.next = node.next
	} else {
		c.head = node.next
	}
	if node.next != nil {
		node.next.prev = node.prev
	} else {
		c.tail = node.prev
	}

	c.weight -= node.weight
	delete(c.lookup, node.key)
}
