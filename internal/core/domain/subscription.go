package domain

import "time"

// SubscriptionStatus is a custom type for our subscription ENUM
type SubscriptionStatus string

const (
	SubscriptionNone      SubscriptionStatus = "none"
	SubscriptionPending   SubscriptionStatus = "pending"
	SubscriptionActive    SubscriptionStatus = "active"
	SubscriptionExpired   SubscriptionStatus = "expired"
	SubscriptionCancelled SubscriptionStatus = "cancelled"
)

// Subscription is embedded 1:1 on the User record. Its status and expiry
// are written only by ActivateSubscription and ExpireSubscription, so the
// record and the user's stage can never drift apart.
type Subscription struct {
	PlanType   PlanType
	Amount     int64
	StartDate  time.Time
	ExpiryDate time.Time
	Status     SubscriptionStatus
}

// IsActive reports whether the subscription grants access at the given time.
func (s Subscription) IsActive(now time.Time) bool {
	return s.Status == SubscriptionActive && s.ExpiryDate.After(now)
}

// ActivateSubscription turns on a paid plan and moves the user to the
// subscription_active stage in one step.
func (u *User) ActivateSubscription(plan PlanType, amount int64, durationDays int, now time.Time) {
	u.Subscription = Subscription{
		PlanType:   plan,
		Amount:     amount,
		StartDate:  now,
		ExpiryDate: now.AddDate(0, 0, durationDays),
		Status:     SubscriptionActive,
	}
	u.Stage = StageSubscriptionActive
}

// ExpireSubscription marks the subscription expired and moves the user to
// the subscription_expired stage in one step. Safe to call repeatedly.
func (u *User) ExpireSubscription() {
	u.Subscription.Status = SubscriptionExpired
	u.Stage = StageSubscriptionExpired
}
