package payment

import (
	"context"
	"fmt"

	"github.com/stripe/stripe-go/v74"
	"github.com/stripe/stripe-go/v74/paymentintent"

	"ms-boxoffice/internal/apperror"
	"ms-boxoffice/internal/logger"
)

// InitStripe sets the API key for the stripe-go package globals.
func InitStripe(secretKey string) {
	stripe.Key = secretKey
}

type StripeProvider struct {
	Logger *logger.Logger
}

func NewStripeProvider(log *logger.Logger) *StripeProvider {
	return &StripeProvider{Logger: log}
}

func (s *StripeProvider) CreateIntent(ctx context.Context, p IntentParams) (*Intent, error) {
	params := &stripe.PaymentIntentParams{
		Amount:   stripe.Int64(p.AmountMinor),
		Currency: stripe.String(p.Currency),
		AutomaticPaymentMethods: &stripe.PaymentIntentAutomaticPaymentMethodsParams{
			Enabled: stripe.Bool(true),
		},
	}
	params.Context = ctx
	if p.CustomerEmail != "" {
		params.ReceiptEmail = stripe.String(p.CustomerEmail)
	}
	// The webhook reconciler finds the order through this metadata.
	params.AddMetadata("order_id", p.OrderID)

	intent, err := paymentintent.New(params)
	if err != nil {
		return nil, apperror.Wrap(apperror.System, "payment_intent", "payment provider error", err)
	}

	s.Logger.Info("PAYMENT", fmt.Sprintf("created intent %s for order %s (%d %s)", intent.ID, p.OrderID, p.AmountMinor, p.Currency))
	return &Intent{ID: intent.ID, ClientSecret: intent.ClientSecret}, nil
}

var _ Provider = (*StripeProvider)(nil)
