package cache

import (
	"container/list"
	"sync"
)

// LruCache remembers recently confirmed keys. It stores no values: a hit
// only means the key was inserted and has not been evicted since.
// A nil cache or one with CapacityCount <= 0 stores nothing.
type LruCache struct {
	CapacityCount int
	evictionList  *list.List
	itemsMap      map[string]*list.Element
	mutex         sync.Mutex
}

func NewLruCache(capacity int) *LruCache {
	return &LruCache{
		CapacityCount: capacity,
		evictionList:  list.New(),
		itemsMap:      make(map[string]*list.Element),
	}
}

func (c *LruCache) enabled() bool {
	return c != nil && c.CapacityCount > 0
}

func (c *LruCache) Contains(key string) bool {
	if !c.enabled() {
		return false
	}
	c.mutex.Lock()
	defer c.mutex.Unlock()

	if element, exists := c.itemsMap[key]; exists {
		c.evictionList.MoveToFront(element)
		return true
	}
	return false
}

func (c *LruCache) Insert(key string) {
	if !c.enabled() {
		return
	}
	c.mutex.Lock()
	defer c.mutex.Unlock()

	if element, exists := c.itemsMap[key]; exists {
		c.evictionList.MoveToFront(element)
		return
	}

	c.itemsMap[key] = c.evictionList.PushFront(key)

	for c.evictionList.Len() > c.CapacityCount {
		oldestElement := c.evictionList.Back()
		c.evictionList.Remove(oldestElement)
		delete(c.itemsMap, oldestElement.Value.(string))
	}
}

func (c *LruCache) Len() int {
	if c == nil {
		return 0
	}
	c.mutex.Lock()
	defer c.mutex.Unlock()
	return c.evictionList.Len()
}
