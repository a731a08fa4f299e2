package payment

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"marketplace-be/internal/apperror"
	"marketplace-be/internal/catalog"
	"marketplace-be/internal/logger"

	"github.com/stripe/stripe-go/v78"
	"github.com/stripe/stripe-go/v78/client"
	"go.uber.org/zap"
)

type sessionAPI interface {
	New(params *stripe.CheckoutSessionParams) (*stripe.CheckoutSession, error)
}

type refundAPI interface {
	New(params *stripe.RefundParams) (*stripe.Refund, error)
}

type StripeConfig struct {
	APIKey     string
	SuccessURL string
	CancelURL  string
	Currency   string
	// Timeout bounds every Stripe round trip; retries are disabled.
	Timeout time.Duration
}

// StripeGateway owns its API client; nothing is set on the stripe package globals.
type StripeGateway struct {
	sessions   sessionAPI
	refunds    refundAPI
	successURL string
	cancelURL  string
	currency   string
}

func NewStripeGateway(cfg StripeConfig) (*StripeGateway, error) {
	apiKey := strings.TrimSpace(cfg.APIKey)
	if apiKey == "" {
		return nil, errors.New("stripe: api key is required")
	}

	backends := stripe.NewBackendsWithConfig(&stripe.BackendConfig{
		HTTPClient:        &http.Client{Timeout: cfg.Timeout},
		MaxNetworkRetries: stripe.Int64(0),
		LeveledLogger:     logger.L().Named("stripe").Sugar(),
	})
	sc := client.New(apiKey, backends)

	return newStripeGateway(cfg, sc.CheckoutSessions, sc.Refunds), nil
}

func newStripeGateway(cfg StripeConfig, sessions sessionAPI, refunds refundAPI) *StripeGateway {
	currency := strings.ToLower(strings.TrimSpace(cfg.Currency))
	if currency == "" {
		currency = string(stripe.CurrencyUSD)
	}
	return &StripeGateway{
		sessions:   sessions,
		refunds:    refunds,
		successURL: cfg.SuccessURL,
		cancelURL:  cfg.CancelURL,
		currency:   currency,
	}
}

func (g *StripeGateway) CreateCheckoutSession(
	ctx context.Context,
	correlationToken string,
	snapshots map[int64]catalog.Product,
	items []LineItem,
) (string, error) {
	log := logger.FromCtx(ctx).With(
		zap.String("layer", "payment"),
		zap.String("method", "CreateCheckoutSession"),
		zap.String("payment_id", correlationToken),
		zap.Int("item_count", len(items)),
	)

	lineItems := make([]*stripe.CheckoutSessionLineItemParams, 0, len(items))
	for _, item := range items {
		product, ok := snapshots[item.ProductID]
		if !ok {
			return "", apperror.Internal("missing product snapshot", fmt.Errorf("product %d", item.ProductID))
		}

		productData := &stripe.CheckoutSessionLineItemPriceDataProductDataParams{
			Name: stripe.String(product.Name),
			Metadata: map[string]string{
				"product_id": fmt.Sprint(item.ProductID),
				"size_id":    fmt.Sprint(item.SizeID),
			},
		}
		if product.Description != "" {
			productData.Description = stripe.String(product.Description)
		}
		if urls := product.PhotoURLs(); len(urls) > 0 {
			productData.Images = stripe.StringSlice(urls)
		}

		lineItems = append(lineItems, &stripe.CheckoutSessionLineItemParams{
			Quantity: stripe.Int64(item.Quantity),
			PriceData: &stripe.CheckoutSessionLineItemPriceDataParams{
				Currency:    stripe.String(g.currency),
				UnitAmount:  stripe.Int64(ToMinorUnits(product.Price)),
				ProductData: productData,
			},
		})
	}

	params := &stripe.CheckoutSessionParams{
		Mode:              stripe.String(string(stripe.CheckoutSessionModePayment)),
		SuccessURL:        stripe.String(g.successURL),
		CancelURL:         stripe.String(g.cancelURL),
		ClientReferenceID: stripe.String(correlationToken),
		LineItems:         lineItems,
		PaymentIntentData: &stripe.CheckoutSessionPaymentIntentDataParams{
			Description: stripe.String(correlationToken),
			Metadata:    map[string]string{"payment_id": correlationToken},
		},
	}
	params.Context = ctx
	params.SetIdempotencyKey("checkout-" + correlationToken)
	params.AddMetadata("payment_id", correlationToken)

	session, err := g.sessions.New(params)
	if err != nil {
		log.Error("stripe checkout session failed", zap.Error(err))
		return "", translateError("create checkout session", err)
	}

	log.Info("stripe checkout session created", zap.String("session_id", session.ID))
	return session.URL, nil
}

func (g *StripeGateway) Refund(ctx context.Context, intentID string) error {
	log := logger.FromCtx(ctx).With(
		zap.String("layer", "payment"),
		zap.String("method", "Refund"),
		zap.String("payment_intent_id", intentID),
	)

	if strings.TrimSpace(intentID) == "" {
		return apperror.Internal("refund requires a payment intent id", nil)
	}

	params := &stripe.RefundParams{
		PaymentIntent: stripe.String(intentID),
		Reason:        stripe.String(string(stripe.RefundReasonRequestedByCustomer)),
	}
	params.Context = ctx
	params.SetIdempotencyKey("refund-" + intentID)

	refund, err := g.refunds.New(params)
	if err != nil {
		log.Error("stripe refund failed", zap.Error(err))
		return translateError("refund payment intent", err)
	}

	log.Info("stripe refund issued", zap.String("refund_id", refund.ID))
	return nil
}

// translateError keeps card problems, throttling, provider outages and
// network failures retryable; request/contract errors alarm as internal.
func translateError(op string, err error) error {
	var stripeErr *stripe.Error
	if errors.As(err, &stripeErr) {
		switch {
		case stripeErr.Type == stripe.ErrorTypeCard,
			stripeErr.Type == stripe.ErrorTypeAPI,
			stripeErr.HTTPStatusCode == http.StatusTooManyRequests,
			stripeErr.HTTPStatusCode >= http.StatusInternalServerError:
			return apperror.Unavailable("payment provider is unavailable", fmt.Errorf("stripe: %s: %w", op, err))
		default:
			return apperror.Internal("payment provider rejected the request", fmt.Errorf("stripe: %s: %w", op, err))
		}
	}
	return apperror.Unavailable("payment provider is unreachable", fmt.Errorf("stripe: %s: %w", op, err))
}
