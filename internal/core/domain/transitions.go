package domain

// Event is a custom type for the inputs the state machine reacts to.
type Event string

const (
	EventConsentAccepted      Event = "consent_accepted"
	EventTrialPhoneAccepted   Event = "trial_phone_accepted"
	EventTrialPhoneRejected   Event = "trial_phone_rejected" // phone already used for a trial
	EventPlanSelected         Event = "plan_selected"
	EventPaymentPhoneAccepted Event = "payment_phone_accepted"
	EventPaymentCancelled     Event = "payment_cancelled"
	EventPaymentSucceeded     Event = "payment_succeeded"
	EventPaymentFailed        Event = "payment_failed"
	EventPaymentTimeout       Event = "payment_timeout"
	EventTrialQuotaExhausted  Event = "trial_quota_exhausted"
	EventSubscriptionExpired  Event = "subscription_expired"
)

// StageRecovery is a sentinel target: the real stage depends on whether the
// user had an expired subscription before entering the payment flow. It is
// resolved by RecoveryStage and never stored on a user.
const StageRecovery Stage = "recovery"

type transitionKey struct {
	From Stage
	On   Event
}

// transitions is the single source of truth for which (stage, event) pairs
// are legal and where they lead. Anything absent here is a no-op.
var transitions = map[transitionKey]Stage{
	{StageInitial, EventConsentAccepted}: StageAwaitingPhone,

	{StageAwaitingPhone, EventTrialPhoneAccepted}: StageTrial,
	{StageAwaitingPhone, EventTrialPhoneRejected}: StageAwaitingPhoneForPayment,

	{StageTrial, EventPlanSelected}:                StageAwaitingPhoneForPayment,
	{StageSubscriptionExpired, EventPlanSelected}:  StageAwaitingPhoneForPayment,
	{StagePaymentFailed, EventPlanSelected}:        StageAwaitingPhoneForPayment,
	{StageAwaitingPhoneForPayment, EventPlanSelected}: StageAwaitingPhoneForPayment,

	{StageAwaitingPhoneForPayment, EventPaymentPhoneAccepted}: StageAwaitingPayment,

	{StageAwaitingPayment, EventPaymentCancelled}: StageRecovery,
	{StageAwaitingPayment, EventPaymentSucceeded}: StageSubscriptionActive,
	{StageAwaitingPayment, EventPaymentFailed}:    StagePaymentFailed,
	{StageAwaitingPayment, EventPaymentTimeout}:   StageRecovery,

	{StageTrial, EventTrialQuotaExhausted}: StageAwaitingPhoneForPayment,

	{StageSubscriptionActive, EventSubscriptionExpired}: StageSubscriptionExpired,
}

// NextStage looks up the transition table. ok is false for illegal pairs.
func NextStage(from Stage, on Event) (next Stage, ok bool) {
	next, ok = transitions[transitionKey{From: from, On: on}]
	return next, ok
}

// RecoveryStage is where a user lands when an in-flight payment is
// cancelled or times out: back to the expired-subscription prompt if they
// were a lapsed subscriber, otherwise back to trial.
func (u *User) RecoveryStage() Stage {
	if u.Subscription.Status == SubscriptionExpired {
		return StageSubscriptionExpired
	}
	return StageTrial
}

// ApplyTransition advances the user's stage if the (stage, event) pair is
// legal, resolving the recovery sentinel. It returns false, leaving the
// user untouched, for illegal pairs.
func (u *User) ApplyTransition(on Event) bool {
	next, ok := NextStage(u.Stage, on)
	if !ok {
		return false
	}
	if next == StageRecovery {
		next = u.RecoveryStage()
	}
	u.Stage = next
	return true
}
