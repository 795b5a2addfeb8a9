package domain

import (
	"time"

	"github.com/google/uuid"
)

// Stage is a custom type for our state machine ENUM
type Stage string

const (
	StageInitial                 Stage = "initial"
	StageAwaitingPhone           Stage = "awaiting_phone"
	StageTrial                   Stage = "trial"
	StageAwaitingPhoneForPayment Stage = "awaiting_phone_for_payment"
	StageAwaitingPayment         Stage = "awaiting_payment"
	StageSubscriptionActive      Stage = "subscription_active"
	StageSubscriptionExpired     Stage = "subscription_expired"
	StagePaymentFailed           Stage = "payment_failed"
)

// PlanType identifies one of the purchasable subscription plans.
type PlanType string

const (
	PlanWeekly  PlanType = "weekly"
	PlanMonthly PlanType = "monthly"
)

// PaymentStatus is the status reported by the mobile-money provider.
type PaymentStatus string

const (
	PaymentSuccessful PaymentStatus = "SUCCESSFUL"
	PaymentFailed     PaymentStatus = "FAILED"
	PaymentPending    PaymentStatus = "PENDING"
)

// PaymentSession is the transient record of an in-flight payment request.
// A user has at most one; it is cleared by exactly one of: successful
// callback, failed callback, user cancellation, or the timeout sweep.
type PaymentSession struct {
	PlanType  PlanType
	Amount    int64 // smallest currency unit
	Reference string
	StartedAt time.Time
	Status    PaymentStatus
}

// User represents one Telegram identity and everything the state machine
// needs to decide what happens to their next message.
type User struct {
	ID         uuid.UUID
	TelegramID int64
	Stage      Stage

	PhoneNumber        *string // Encrypted at rest; trial identity
	PaymentPhoneNumber *string // Encrypted at rest; may differ from trial phone

	ConsentGivenAt *time.Time

	HasUsedTrial           bool // Permanent. Never reset.
	TrialMessagesUsedToday int
	TrialResetDate         time.Time

	DailyMessageCount   int
	DailyCountResetDate time.Time

	SelectedPlanType *PlanType
	PendingPayment   *PaymentSession

	Subscription Subscription

	// Version supports optimistic concurrency on the users row.
	Version int64

	CreatedAt time.Time
	UpdatedAt time.Time
}

// ValidPlan reports whether p names a known plan.
func ValidPlan(p PlanType) bool {
	return p == PlanWeekly || p == PlanMonthly
}
