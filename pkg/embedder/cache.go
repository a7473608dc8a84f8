package embedder

import (
	"container/list"
	"context"
	"sync"
)

// CachingEmbedder wraps another embedder with a bounded LRU cache keyed on
// the exact input text. Slot discovery embeds the same canonical labels on
// nearly every turn, so hit rates are high in practice.
type CachingEmbedder struct {
	inner    Embedder
	capacity int

	mu    sync.Mutex
	order *list.List
	items map[string]*list.Element
}

type cacheEntry struct {
	key    string
	vector []float32
}

func NewCachingEmbedder(inner Embedder, capacity int) *CachingEmbedder {
	return &CachingEmbedder{
		inner:    inner,
		capacity: capacity,
		order:    list.New(),
		items:    make(map[string]*list.Element, capacity),
	}
}

func (c *CachingEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	c.mu.Lock()
	if elem, ok := c.items[text]; ok {
		c.order.MoveToFront(elem)
		vector := elem.Value.(*cacheEntry).vector
		c.mu.Unlock()
		return vector, nil
	}
	c.mu.Unlock()

	vector, err := c.inner.Embed(ctx, text)
	if err != nil {
		return nil, err
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if elem, ok := c.items[text]; ok {
		c.order.MoveToFront(elem)
		return elem.Value.(*cacheEntry).vector, nil
	}
	c.items[text] = c.order.PushFront(&cacheEntry{key: text, vector: vector})
	for c.order.Len() > c.capacity {
		oldest := c.order.Back()
		c.order.Remove(oldest)
		delete(c.items, oldest.Value.(*cacheEntry).key)
	}
	return vector, nil
}

func (c *CachingEmbedder) GetDimension() int {
	return c.inner.GetDimension()
}

func (c *CachingEmbedder) GetModelName() string {
	return c.inner.GetModelName()
}

func (c *CachingEmbedder) Close() error {
	return c.inner.Close()
}

// Len reports the current cache size.
func (c *CachingEmbedder) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.order.Len()
}

var _ Embedder = (*CachingEmbedder)(nil)
