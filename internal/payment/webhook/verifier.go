package webhook

import (
	"time"

	"github.com/stripe/stripe-go/v78"
	"github.com/stripe/stripe-go/v78/webhook"
)

// Verifier checks the provider signature and decodes the event envelope.
type Verifier interface {
	Verify(payload []byte, signature string) (stripe.Event, error)
}

type StripeVerifier struct {
	secret    string
	tolerance time.Duration
}

func NewStripeVerifier(secret string) *StripeVerifier {
	return &StripeVerifier{secret: secret, tolerance: webhook.DefaultTolerance}
}

func (v *StripeVerifier) Verify(payload []byte, signature string) (stripe.Event, error) {
	return webhook.ConstructEventWithOptions(payload, signature, v.secret, webhook.ConstructEventOptions{
		Tolerance:                v.tolerance,
		IgnoreAPIVersionMismatch: true,
	})
}
