package domain

import "errors"

var (
	// ErrInvalidPlan is returned when a payment is requested for a plan
	// type outside the known set.
	ErrInvalidPlan = errors.New("invalid plan type")

	// ErrMissingPayerPhone is returned when no phone number can be
	// resolved to charge for a payment.
	ErrMissingPayerPhone = errors.New("no payer phone number on record")

	// ErrPaymentInitiationFailed is returned when the provider rejects or
	// fails the payment request. No pending session is left behind.
	ErrPaymentInitiationFailed = errors.New("payment initiation failed")

	// ErrUnknownReference is returned when a callback names a reference
	// that matches no pending payment session.
	ErrUnknownReference = errors.New("no pending payment matches reference")

	// ErrPhoneInUse is returned when another identity already claimed the
	// phone number (unique phone_hash index; first write wins).
	ErrPhoneInUse = errors.New("phone number already registered")

	// ErrStorageConflict is returned when an optimistic-concurrency check
	// fails; the caller should retry from a fresh read.
	ErrStorageConflict = errors.New("concurrent modification detected")
)
