package domain

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestNextStage_LegalTransitions(t *testing.T) {
	tests := []struct {
		name string
		from Stage
		on   Event
		want Stage
	}{
		{"consent", StageInitial, EventConsentAccepted, StageAwaitingPhone},
		{"fresh phone", StageAwaitingPhone, EventTrialPhoneAccepted, StageTrial},
		{"used phone", StageAwaitingPhone, EventTrialPhoneRejected, StageAwaitingPhoneForPayment},
		{"plan from trial", StageTrial, EventPlanSelected, StageAwaitingPhoneForPayment},
		{"plan after expiry", StageSubscriptionExpired, EventPlanSelected, StageAwaitingPhoneForPayment},
		{"plan after failure", StagePaymentFailed, EventPlanSelected, StageAwaitingPhoneForPayment},
		{"payment phone", StageAwaitingPhoneForPayment, EventPaymentPhoneAccepted, StageAwaitingPayment},
		{"callback success", StageAwaitingPayment, EventPaymentSucceeded, StageSubscriptionActive},
		{"callback failure", StageAwaitingPayment, EventPaymentFailed, StagePaymentFailed},
		{"cancel", StageAwaitingPayment, EventPaymentCancelled, StageRecovery},
		{"timeout", StageAwaitingPayment, EventPaymentTimeout, StageRecovery},
		{"trial quota out", StageTrial, EventTrialQuotaExhausted, StageAwaitingPhoneForPayment},
		{"expiry detected", StageSubscriptionActive, EventSubscriptionExpired, StageSubscriptionExpired},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			next, ok := NextStage(tc.from, tc.on)
			assert.True(t, ok)
			assert.Equal(t, tc.want, next)
		})
	}
}

func TestApplyTransition_IllegalPairIsNoOp(t *testing.T) {
	user := &User{Stage: StageTrial}

	// A payment callback arriving while the user is in trial must not
	// move the stage.
	assert.False(t, user.ApplyTransition(EventPaymentSucceeded))
	assert.Equal(t, StageTrial, user.Stage)

	assert.False(t, user.ApplyTransition(EventConsentAccepted))
	assert.Equal(t, StageTrial, user.Stage)
}

func TestApplyTransition_ResolvesRecoveryStage(t *testing.T) {
	// Trial user cancels an in-flight payment: back to trial.
	user := &User{Stage: StageAwaitingPayment}
	assert.True(t, user.ApplyTransition(EventPaymentCancelled))
	assert.Equal(t, StageTrial, user.Stage)

	// Lapsed subscriber times out: back to the expired prompt.
	lapsed := &User{
		Stage:        StageAwaitingPayment,
		Subscription: Subscription{Status: SubscriptionExpired},
	}
	assert.True(t, lapsed.ApplyTransition(EventPaymentTimeout))
	assert.Equal(t, StageSubscriptionExpired, lapsed.Stage)
}

func TestSubscription_IsActive(t *testing.T) {
	now := time.Now()

	active := Subscription{Status: SubscriptionActive, ExpiryDate: now.Add(time.Hour)}
	assert.True(t, active.IsActive(now))

	past := Subscription{Status: SubscriptionActive, ExpiryDate: now.Add(-time.Second)}
	assert.False(t, past.IsActive(now))

	expired := Subscription{Status: SubscriptionExpired, ExpiryDate: now.Add(time.Hour)}
	assert.False(t, expired.IsActive(now))
}

func TestActivateSubscription_SetsRecordAndStageTogether(t *testing.T) {
	now := time.Now()
	user := &User{Stage: StageAwaitingPayment}

	user.ActivateSubscription(PlanWeekly, 10000, 7, now)

	assert.Equal(t, StageSubscriptionActive, user.Stage)
	assert.Equal(t, SubscriptionActive, user.Subscription.Status)
	assert.Equal(t, PlanWeekly, user.Subscription.PlanType)
	assert.True(t, user.Subscription.ExpiryDate.Equal(now.AddDate(0, 0, 7)))
}

func TestExpireSubscription_SetsRecordAndStageTogether(t *testing.T) {
	user := &User{
		Stage:        StageSubscriptionActive,
		Subscription: Subscription{Status: SubscriptionActive},
	}

	user.ExpireSubscription()
	assert.Equal(t, StageSubscriptionExpired, user.Stage)
	assert.Equal(t, SubscriptionExpired, user.Subscription.Status)

	// Idempotent: a second expire changes nothing.
	user.ExpireSubscription()
	assert.Equal(t, StageSubscriptionExpired, user.Stage)
}
