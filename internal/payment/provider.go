// Package payment wraps payment-intent creation behind a small port so
// checkout can be tested without the provider.
package payment

import "context"

type IntentParams struct {
	OrderID string
	// AmountMinor is always computed server-side from seat prices; a
	// client-supplied amount is never accepted.
	AmountMinor   int64
	Currency      string
	CustomerEmail string
}

type Intent struct {
	ID           string
	ClientSecret string
}

type Provider interface {
	CreateIntent(ctx context.Context, p IntentParams) (*Intent, error)
}
