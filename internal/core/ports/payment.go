package ports

import (
	"SelamBot/internal/core/domain"
	"context"
)

// PaymentRequest is what we send to the mobile-money provider.
type PaymentRequest struct {
	PayerPhone  string
	Amount      int64
	Currency    string
	Reference   string
	CallbackURL string
}

// PaymentProviderPort defines the mobile-money capability: request a
// payment, poll a status. Confirmation arrives out-of-band via callback.
type PaymentProviderPort interface {
	// RequestPayment asks the provider to charge the payer. accepted=false
	// with nil error means the provider refused the request outright.
	RequestPayment(ctx context.Context, req PaymentRequest) (accepted bool, err error)

	// CheckStatus is the polling fallback for a known reference.
	CheckStatus(ctx context.Context, reference string) (domain.PaymentStatus, error)
}
