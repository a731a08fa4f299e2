package order

import "context"

// StatusNotifier is told about committed status transitions. Failures are
// logged by the caller and never undo the transition.
type StatusNotifier interface {
	OrderStatusChanged(ctx context.Context, change StatusChange) error
}

type NopNotifier struct{}

func (NopNotifier) OrderStatusChanged(context.Context, StatusChange) error { return nil }
