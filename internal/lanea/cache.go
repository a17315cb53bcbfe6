// Copyright (c) 2023-2025 RapidaAI
// Author: Prashant Srivastav <prashant@rapida.ai>
//
// Licensed under GPL-2.0 with Rapida Additional Terms.
// See LICENSE.md or contact sales@rapida.ai for commercial usage.

package lanea

import "container/list"

// phraseCache is a small fixed-capacity LRU keyed by lowercased phrase text
//.
// The whole whitelist is preloaded at construction and is small (a handful
// of acknowledgement phrases), so this never evicts in practice; the LRU
// discipline is kept anyway so a future larger whitelist degrades
// gracefully instead of growing unbounded.
type phraseCache struct {
	capacity int
	ll       *list.List
	items    map[string]*list.Element
}

type cacheEntry struct {
	key string
	pcm []byte
}

func newPhraseCache(capacity int) *phraseCache {
	return &phraseCache{
		capacity: capacity,
		ll:       list.New(),
		items:    make(map[string]*list.Element),
	}
}

func (c *phraseCache) put(key string, pcm []byte) {
	if el, ok := c.items[key]; ok {
		c.ll.MoveToFront(el)
		el.Value.(*cacheEntry).pcm = pcm
		return
	}
	el := c.ll.PushFront(&cacheEntry{key: key, pcm: pcm})
	c.items[key] = el
	if c.capacity > 0 && c.ll.Len() > c.capacity {
		oldest := c.ll.Back()
		if oldest != nil {
			c.ll.Remove(oldest)
			delete(c.items, oldest.Value.(*cacheEntry).key)
		}
	}
}

func (c *phraseCache) get(key string) ([]byte, bool) {
	el, ok := c.items[key]
	if !ok {
		return nil, false
	}
	c.ll.MoveToFront(el)
	return el.Value.(*cacheEntry).pcm, true
}

func (c *phraseCache) len() int {
	return c.ll.Len()
}
