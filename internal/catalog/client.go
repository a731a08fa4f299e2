package catalog

import "context"

// Client is the order service's view of the catalog service.
type Client interface {
	// ProductExistsWithSize reports false when the catalog answers 404 or 400.
	ProductExistsWithSize(ctx context.Context, productID, sizeID int64) (bool, error)
	// FetchProductsByIDs returns the snapshots it found, keyed by product id.
	// Unknown ids are simply absent from the map.
	FetchProductsByIDs(ctx context.Context, ids []int64) (map[int64]Product, error)
}
