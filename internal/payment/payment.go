package payment

import (
	"context"

	"marketplace-be/internal/catalog"
)

// LineItem is one requested order line handed to the gateway. Prices are
// taken from the catalog snapshot, never from the client.
type LineItem struct {
	ProductID int64
	SizeID    int64
	Quantity  int64
}

// Gateway translates provider failures into apperror kinds:
// ServiceUnavailable for recoverable problems, Internal for everything else.
type Gateway interface {
	CreateCheckoutSession(
		ctx context.Context,
		correlationToken string,
		snapshots map[int64]catalog.Product,
		items []LineItem,
	) (string, error)
	Refund(ctx context.Context, intentID string) error
}
