package webhook

import (
	"context"

	"marketplace-be/internal/apperror"
	"marketplace-be/internal/order"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

const (
	EventPaymentSucceeded = "payment_intent.succeeded"
	EventPaymentCanceled  = "payment_intent.canceled"
)

// PaymentEvent is the part of a provider event the handlers act on.
type PaymentEvent struct {
	ID        string
	Type      string
	PaymentID string
	IntentID  string
}

type EventHandler interface {
	EventTypes() []string
	Handle(ctx context.Context, event PaymentEvent) error
}

// OrderReconciler applies payment outcomes to orders. order.Service
// satisfies it.
type OrderReconciler interface {
	ApplyPaymentSucceeded(ctx context.Context, paymentID, intentID string) (*order.Order, error)
	ApplyPaymentCanceled(ctx context.Context, paymentID, intentID string) (*order.Order, error)
}

// Dispatcher routes events by type. The table is fixed once built.
type Dispatcher struct {
	handlers map[string]EventHandler
	tracer   trace.Tracer
}

func NewDispatcher(handlers ...EventHandler) *Dispatcher {
	d := &Dispatcher{
		handlers: make(map[string]EventHandler),
		tracer:   otel.Tracer("payment-webhook"),
	}
	for _, h := range handlers {
		for _, t := range h.EventTypes() {
			d.handlers[t] = h
		}
	}
	return d
}

func (d *Dispatcher) Supports(eventType string) bool {
	_, ok := d.handlers[eventType]
	return ok
}

func (d *Dispatcher) Dispatch(ctx context.Context, event PaymentEvent) error {
	h, ok := d.handlers[event.Type]
	if !ok {
		return unsupported(event.Type)
	}

	ctx, span := d.tracer.Start(ctx, "webhook.Dispatch", trace.WithAttributes(
		attribute.String("event_id", event.ID),
		attribute.String("event_type", event.Type),
		attribute.String("payment_id", event.PaymentID),
	))
	defer span.End()

	if err := h.Handle(ctx, event); err != nil {
		span.RecordError(err)
		return err
	}
	return nil
}

func unsupported(eventType string) error {
	return apperror.Internal("unsupported event type: "+eventType, nil)
}

type SuccessHandler struct {
	orders OrderReconciler
}

func NewSuccessHandler(orders OrderReconciler) *SuccessHandler {
	return &SuccessHandler{orders: orders}
}

func (h *SuccessHandler) EventTypes() []string {
	return []string{EventPaymentSucceeded}
}

func (h *SuccessHandler) Handle(ctx context.Context, event PaymentEvent) error {
	_, err := h.orders.ApplyPaymentSucceeded(ctx, event.PaymentID, event.IntentID)
	return err
}

type CancelHandler struct {
	orders OrderReconciler
}

func NewCancelHandler(orders OrderReconciler) *CancelHandler {
	return &CancelHandler{orders: orders}
}

func (h *CancelHandler) EventTypes() []string {
	return []string{EventPaymentCanceled}
}

func (h *CancelHandler) Handle(ctx context.Context, event PaymentEvent) error {
	_, err := h.orders.ApplyPaymentCanceled(ctx, event.PaymentID, event.IntentID)
	return err
}
