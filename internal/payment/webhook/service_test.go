package webhook

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"testing"
	"time"

	"marketplace-be/internal/apperror"
	"marketplace-be/internal/order"
	"marketplace-be/internal/payment"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"github.com/stripe/stripe-go/v78/webhook"
)

const testSecret = "whsec_test"

// MockDeliveryRepository is a mock implementation of payment.Repository
type MockDeliveryRepository struct {
	mock.Mock
}

func (m *MockDeliveryRepository) RecordWebhook(ctx context.Context, provider, eventID, eventType string, payload json.RawMessage) (int64, bool, error) {
	args := m.Called(ctx, provider, eventID, eventType, payload)
	return args.Get(0).(int64), args.Bool(1), args.Error(2)
}

func (m *MockDeliveryRepository) MarkWebhookProcessed(ctx context.Context, id int64) error {
	return m.Called(ctx, id).Error(0)
}

func (m *MockDeliveryRepository) MarkWebhookFailed(ctx context.Context, id int64, reason string) error {
	return m.Called(ctx, id, reason).Error(0)
}

// MockReconciler is a mock implementation of OrderReconciler
type MockReconciler struct {
	mock.Mock
}

func (m *MockReconciler) ApplyPaymentSucceeded(ctx context.Context, paymentID, intentID string) (*order.Order, error) {
	args := m.Called(ctx, paymentID, intentID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*order.Order), args.Error(1)
}

func (m *MockReconciler) ApplyPaymentCanceled(ctx context.Context, paymentID, intentID string) (*order.Order, error) {
	args := m.Called(ctx, paymentID, intentID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*order.Order), args.Error(1)
}

func eventPayload(eventID, eventType, intentJSON string) []byte {
	return []byte(fmt.Sprintf(`{
		"id": %q,
		"object": "event",
		"api_version": "2020-08-27",
		"type": %q,
		"data": {"object": %s}
	}`, eventID, eventType, intentJSON))
}

func sign(payload []byte) string {
	return webhook.GenerateTestSignedPayload(&webhook.UnsignedPayload{
		Payload:   payload,
		Secret:    testSecret,
		Timestamp: time.Now(),
	}).Header
}

func newTestService() (*Service, *MockDeliveryRepository, *MockReconciler) {
	deliveries := new(MockDeliveryRepository)
	orders := new(MockReconciler)
	dispatcher := NewDispatcher(NewSuccessHandler(orders), NewCancelHandler(orders))
	return NewService(NewStripeVerifier(testSecret), deliveries, dispatcher), deliveries, orders
}

func TestService_HandlePaymentWebhook(t *testing.T) {
	ctx := context.Background()
	succeeded := eventPayload("evt_1", EventPaymentSucceeded,
		`{"id": "pi_1", "object": "payment_intent", "description": "tok-1"}`)

	t.Run("Succeeded", func(t *testing.T) {
		svc, deliveries, orders := newTestService()
		deliveries.On("RecordWebhook", mock.Anything, payment.ProviderStripe, "evt_1", EventPaymentSucceeded, json.RawMessage(succeeded)).
			Return(int64(3), false, nil)
		orders.On("ApplyPaymentSucceeded", mock.Anything, "tok-1", "pi_1").
			Return(&order.Order{Status: order.StatusPaidFor}, nil)
		deliveries.On("MarkWebhookProcessed", mock.Anything, int64(3)).Return(nil)

		err := svc.HandlePaymentWebhook(ctx, sign(succeeded), succeeded)

		require.NoError(t, err)
		deliveries.AssertExpectations(t)
		orders.AssertExpectations(t)
	})

	t.Run("Canceled", func(t *testing.T) {
		canceled := eventPayload("evt_2", EventPaymentCanceled,
			`{"id": "pi_2", "object": "payment_intent", "description": "tok-2"}`)
		svc, deliveries, orders := newTestService()
		deliveries.On("RecordWebhook", mock.Anything, payment.ProviderStripe, "evt_2", EventPaymentCanceled, mock.Anything).
			Return(int64(4), false, nil)
		orders.On("ApplyPaymentCanceled", mock.Anything, "tok-2", "pi_2").
			Return(&order.Order{Status: order.StatusCanceled}, nil)
		deliveries.On("MarkWebhookProcessed", mock.Anything, int64(4)).Return(nil)

		require.NoError(t, svc.HandlePaymentWebhook(ctx, sign(canceled), canceled))
		orders.AssertExpectations(t)
	})

	t.Run("TokenFromMetadata", func(t *testing.T) {
		payload := eventPayload("evt_5", EventPaymentSucceeded,
			`{"id": "pi_5", "object": "payment_intent", "metadata": {"payment_id": "tok-5"}}`)
		svc, deliveries, orders := newTestService()
		deliveries.On("RecordWebhook", mock.Anything, mock.Anything, mock.Anything, mock.Anything, mock.Anything).
			Return(int64(5), false, nil)
		orders.On("ApplyPaymentSucceeded", mock.Anything, "tok-5", "pi_5").Return(&order.Order{}, nil)
		deliveries.On("MarkWebhookProcessed", mock.Anything, int64(5)).Return(nil)

		require.NoError(t, svc.HandlePaymentWebhook(ctx, sign(payload), payload))
	})

	t.Run("InvalidSignature", func(t *testing.T) {
		svc, deliveries, _ := newTestService()

		err := svc.HandlePaymentWebhook(ctx, "t=1,v1=deadbeef", succeeded)

		assert.True(t, apperror.Is(err, apperror.KindBadRequest))
		assert.Equal(t, "invalid signature", apperror.PublicMessage(err))
		deliveries.AssertNotCalled(t, "RecordWebhook", mock.Anything, mock.Anything, mock.Anything, mock.Anything, mock.Anything)
	})

	t.Run("MissingData", func(t *testing.T) {
		payload := []byte(`{"id": "evt_6", "object": "event", "type": "payment_intent.succeeded"}`)
		svc, deliveries, _ := newTestService()

		err := svc.HandlePaymentWebhook(ctx, sign(payload), payload)

		assert.True(t, apperror.Is(err, apperror.KindBadRequest))
		deliveries.AssertNotCalled(t, "RecordWebhook", mock.Anything, mock.Anything, mock.Anything, mock.Anything, mock.Anything)
	})

	t.Run("AlreadyProcessed", func(t *testing.T) {
		svc, deliveries, orders := newTestService()
		deliveries.On("RecordWebhook", mock.Anything, mock.Anything, "evt_1", mock.Anything, mock.Anything).
			Return(int64(3), true, nil)

		require.NoError(t, svc.HandlePaymentWebhook(ctx, sign(succeeded), succeeded))
		orders.AssertNotCalled(t, "ApplyPaymentSucceeded", mock.Anything, mock.Anything, mock.Anything)
	})

	t.Run("UnsupportedType", func(t *testing.T) {
		payload := eventPayload("evt_7", "charge.refunded", `{"id": "ch_1", "object": "charge"}`)
		svc, deliveries, _ := newTestService()
		deliveries.On("RecordWebhook", mock.Anything, mock.Anything, "evt_7", "charge.refunded", mock.Anything).
			Return(int64(7), false, nil)
		deliveries.On("MarkWebhookFailed", mock.Anything, int64(7), "unsupported event type: charge.refunded").Return(nil)

		err := svc.HandlePaymentWebhook(ctx, sign(payload), payload)

		assert.True(t, apperror.Is(err, apperror.KindInternal))
		assert.Equal(t, "unsupported event type: charge.refunded", apperror.PublicMessage(err))
		deliveries.AssertExpectations(t)
	})

	t.Run("MissingToken", func(t *testing.T) {
		payload := eventPayload("evt_8", EventPaymentSucceeded, `{"id": "pi_8", "object": "payment_intent"}`)
		svc, deliveries, orders := newTestService()
		deliveries.On("RecordWebhook", mock.Anything, mock.Anything, mock.Anything, mock.Anything, mock.Anything).
			Return(int64(8), false, nil)
		deliveries.On("MarkWebhookFailed", mock.Anything, int64(8), mock.Anything).Return(nil)

		err := svc.HandlePaymentWebhook(ctx, sign(payload), payload)

		assert.True(t, apperror.Is(err, apperror.KindInternal))
		orders.AssertNotCalled(t, "ApplyPaymentSucceeded", mock.Anything, mock.Anything, mock.Anything)
	})

	t.Run("RefundFailureMarksDeliveryFailed", func(t *testing.T) {
		svc, deliveries, orders := newTestService()
		deliveries.On("RecordWebhook", mock.Anything, mock.Anything, mock.Anything, mock.Anything, mock.Anything).
			Return(int64(3), false, nil)
		orders.On("ApplyPaymentSucceeded", mock.Anything, "tok-1", "pi_1").
			Return(nil, apperror.Unavailable("payment provider unavailable", errors.New("timeout")))
		deliveries.On("MarkWebhookFailed", mock.Anything, int64(3), mock.Anything).Return(nil)

		err := svc.HandlePaymentWebhook(ctx, sign(succeeded), succeeded)

		assert.True(t, apperror.Is(err, apperror.KindServiceUnavailable))
		deliveries.AssertNotCalled(t, "MarkWebhookProcessed", mock.Anything, mock.Anything)
	})

	t.Run("RecordFails", func(t *testing.T) {
		svc, deliveries, orders := newTestService()
		deliveries.On("RecordWebhook", mock.Anything, mock.Anything, mock.Anything, mock.Anything, mock.Anything).
			Return(int64(0), false, errors.New("db down"))

		err := svc.HandlePaymentWebhook(ctx, sign(succeeded), succeeded)

		assert.True(t, apperror.Is(err, apperror.KindInternal))
		orders.AssertNotCalled(t, "ApplyPaymentSucceeded", mock.Anything, mock.Anything, mock.Anything)
	})
}

func TestDispatcher(t *testing.T) {
	orders := new(MockReconciler)
	d := NewDispatcher(NewSuccessHandler(orders), NewCancelHandler(orders))

	assert.True(t, d.Supports(EventPaymentSucceeded))
	assert.True(t, d.Supports(EventPaymentCanceled))
	assert.False(t, d.Supports("payment_intent.created"))

	err := d.Dispatch(context.Background(), PaymentEvent{Type: "payment_intent.created"})
	assert.True(t, apperror.Is(err, apperror.KindInternal))
}
