package catalog

import (
	"context"
	"sync"
)

// InMemoryClient serves snapshots from a map. Err, when set, is returned by
// every call. It is used by tests and local runs without a catalog service.
type InMemoryClient struct {
	mu          sync.Mutex
	products    map[int64]Product
	Err         error
	FetchCalls  int
	ExistsCalls int
}

func NewInMemoryClient(products ...Product) *InMemoryClient {
	c := &InMemoryClient{products: make(map[int64]Product, len(products))}
	for _, p := range products {
		c.products[p.ID] = p
	}
	return c
}

func (c *InMemoryClient) Put(p Product) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.products[p.ID] = p
}

func (c *InMemoryClient) ProductExistsWithSize(_ context.Context, productID, sizeID int64) (bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.ExistsCalls++
	if c.Err != nil {
		return false, c.Err
	}
	p, ok := c.products[productID]
	return ok && p.HasSize(sizeID), nil
}

func (c *InMemoryClient) FetchProductsByIDs(_ context.Context, ids []int64) (map[int64]Product, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.FetchCalls++
	if c.Err != nil {
		return nil, c.Err
	}
	out := make(map[int64]Product, len(ids))
	for _, id := range ids {
		if p, ok := c.products[id]; ok {
			out[id] = p
		}
	}
	return out, nil
}
