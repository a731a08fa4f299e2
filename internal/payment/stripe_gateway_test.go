package payment

import (
	"context"
	"errors"
	"net/http"
	"testing"

	"marketplace-be/internal/apperror"
	"marketplace-be/internal/catalog"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/stripe/stripe-go/v78"
)

type fakeSessions struct {
	params *stripe.CheckoutSessionParams
	calls  int
	err    error
}

func (f *fakeSessions) New(params *stripe.CheckoutSessionParams) (*stripe.CheckoutSession, error) {
	f.calls++
	f.params = params
	if f.err != nil {
		return nil, f.err
	}
	return &stripe.CheckoutSession{ID: "cs_test_1", URL: "https://checkout.stripe.com/c/pay/cs_test_1"}, nil
}

type fakeRefunds struct {
	params *stripe.RefundParams
	calls  int
	err    error
}

func (f *fakeRefunds) New(params *stripe.RefundParams) (*stripe.Refund, error) {
	f.calls++
	f.params = params
	if f.err != nil {
		return nil, f.err
	}
	return &stripe.Refund{ID: "re_1"}, nil
}

func testConfig() StripeConfig {
	return StripeConfig{
		SuccessURL: "https://shop.example/success",
		CancelURL:  "https://shop.example/cancel",
		Currency:   "USD",
	}
}

func TestNewStripeGateway_RequiresKey(t *testing.T) {
	gw, err := NewStripeGateway(StripeConfig{APIKey: "  "})
	assert.Error(t, err)
	assert.Nil(t, gw)
}

func TestStripeGateway_CreateCheckoutSession(t *testing.T) {
	snapshots := map[int64]catalog.Product{
		10: {
			ID:          10,
			Name:        "Sneaker",
			Description: "white",
			Price:       decimal.RequireFromString("99.99"),
			Photos:      []catalog.Photo{{ID: 1, URL: "https://img/1.png"}},
		},
	}
	items := []LineItem{{ProductID: 10, SizeID: 110, Quantity: 2}}

	t.Run("Success", func(t *testing.T) {
		sessions := &fakeSessions{}
		gw := newStripeGateway(testConfig(), sessions, &fakeRefunds{})

		url, err := gw.CreateCheckoutSession(context.Background(), "token-1", snapshots, items)
		require.NoError(t, err)
		assert.Equal(t, "https://checkout.stripe.com/c/pay/cs_test_1", url)

		p := sessions.params
		require.NotNil(t, p)
		assert.Equal(t, "payment", *p.Mode)
		assert.Equal(t, "token-1", *p.ClientReferenceID)
		assert.Equal(t, "token-1", *p.PaymentIntentData.Description)
		assert.Equal(t, "checkout-token-1", *p.IdempotencyKey)
		require.Len(t, p.LineItems, 1)

		line := p.LineItems[0]
		assert.Equal(t, int64(2), *line.Quantity)
		assert.Equal(t, int64(9999), *line.PriceData.UnitAmount)
		assert.Equal(t, "usd", *line.PriceData.Currency)
		assert.Equal(t, "Sneaker", *line.PriceData.ProductData.Name)
		assert.Equal(t, "https://img/1.png", *line.PriceData.ProductData.Images[0])
	})

	t.Run("MissingSnapshot", func(t *testing.T) {
		sessions := &fakeSessions{}
		gw := newStripeGateway(testConfig(), sessions, &fakeRefunds{})

		_, err := gw.CreateCheckoutSession(context.Background(), "token-2", snapshots, []LineItem{{ProductID: 99, Quantity: 1}})
		assert.Equal(t, apperror.KindInternal, apperror.KindOf(err))
		assert.Zero(t, sessions.calls)
	})

	t.Run("CardError", func(t *testing.T) {
		sessions := &fakeSessions{err: &stripe.Error{Type: stripe.ErrorTypeCard, HTTPStatusCode: http.StatusPaymentRequired}}
		gw := newStripeGateway(testConfig(), sessions, &fakeRefunds{})

		_, err := gw.CreateCheckoutSession(context.Background(), "token-3", snapshots, items)
		assert.Equal(t, apperror.KindServiceUnavailable, apperror.KindOf(err))
	})

	t.Run("InvalidRequest", func(t *testing.T) {
		sessions := &fakeSessions{err: &stripe.Error{Type: stripe.ErrorTypeInvalidRequest, HTTPStatusCode: http.StatusBadRequest}}
		gw := newStripeGateway(testConfig(), sessions, &fakeRefunds{})

		_, err := gw.CreateCheckoutSession(context.Background(), "token-4", snapshots, items)
		assert.Equal(t, apperror.KindInternal, apperror.KindOf(err))
	})
}

func TestStripeGateway_Refund(t *testing.T) {
	t.Run("Success", func(t *testing.T) {
		refunds := &fakeRefunds{}
		gw := newStripeGateway(testConfig(), &fakeSessions{}, refunds)

		require.NoError(t, gw.Refund(context.Background(), "pi_123"))
		assert.Equal(t, "pi_123", *refunds.params.PaymentIntent)
		assert.Equal(t, "refund-pi_123", *refunds.params.IdempotencyKey)
	})

	t.Run("EmptyIntent", func(t *testing.T) {
		refunds := &fakeRefunds{}
		gw := newStripeGateway(testConfig(), &fakeSessions{}, refunds)

		err := gw.Refund(context.Background(), "")
		assert.Equal(t, apperror.KindInternal, apperror.KindOf(err))
		assert.Zero(t, refunds.calls)
	})

	t.Run("RateLimited", func(t *testing.T) {
		refunds := &fakeRefunds{err: &stripe.Error{Type: stripe.ErrorTypeInvalidRequest, HTTPStatusCode: http.StatusTooManyRequests}}
		gw := newStripeGateway(testConfig(), &fakeSessions{}, refunds)

		err := gw.Refund(context.Background(), "pi_123")
		assert.Equal(t, apperror.KindServiceUnavailable, apperror.KindOf(err))
	})
}

func TestTranslateError(t *testing.T) {
	assert.Equal(t, apperror.KindServiceUnavailable,
		apperror.KindOf(translateError("op", errors.New("dial tcp: connection refused"))))
	assert.Equal(t, apperror.KindServiceUnavailable,
		apperror.KindOf(translateError("op", &stripe.Error{Type: stripe.ErrorTypeAPI, HTTPStatusCode: 500})))
	assert.Equal(t, apperror.KindInternal,
		apperror.KindOf(translateError("op", &stripe.Error{Type: stripe.ErrorTypeIdempotency, HTTPStatusCode: 400})))
}
