package ldclient

import (
	"container/list"
)

// A simple fixed-capacity cache of string keys, used by the event processor to avoid
// generating redundant index events for recently seen users.
type lruCache struct {
	values   map[string]*list.Element
	lruList  *list.List
	capacity int
}

func newLruCache(capacity int) lruCache {
	return lruCache{
		values:   make(map[string]*list.Element),
		lruList:  list.New(),
		capacity: capacity,
	}
}

func (c *lruCache) clear() {
	c.values = make(map[string]*list.Element)
	c.lruList.Init()
}

// Stores a value in the cache, evicting the least recently used value if necessary.
// Returns true (and marks the value as recently used) if the value was already present,
// or false if it was newly added.
func (c *lruCache) add(value string) bool {
	if c.capacity == 0 {
		return false
	}
	if e, ok := c.values[value]; ok {
		c.lruList.MoveToFront(e)
		return true
	}
	for len(c.values) >= c.capacity {
		oldest := c.lruList.Back()
		c.lruList.Remove(oldest)
		delete(c.values, oldest.Value.(string))
	}
	e := c.lruList.PushFront(value)
	c.values[value] = e
	return false
}
