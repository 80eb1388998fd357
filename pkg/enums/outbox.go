package enums

import "slices"

// OutboxAggregateType names the entity an outbox event belongs to.
type OutboxAggregateType string

const (
	AggregateOrder        OutboxAggregateType = "order"
	AggregatePayment      OutboxAggregateType = "payment"
	AggregateSubscription OutboxAggregateType = "subscription"
)

var validAggregateTypes = []OutboxAggregateType{
	AggregateOrder,
	AggregatePayment,
	AggregateSubscription,
}

// IsValid reports whether the value is a known aggregate type.
func (a OutboxAggregateType) IsValid() bool {
	return slices.Contains(validAggregateTypes, a)
}

// OutboxEventType names a domain event fanned out to notification consumers.
type OutboxEventType string

const (
	EventOrderCreated            OutboxEventType = "order_created"
	EventOrderStatusChanged      OutboxEventType = "order_status_changed"
	EventPaymentCompleted        OutboxEventType = "payment_completed"
	EventPaymentFailed           OutboxEventType = "payment_failed"
	EventSubscriptionCreated     OutboxEventType = "subscription_created"
	EventSubscriptionActivated   OutboxEventType = "subscription_activated"
	EventSubscriptionPlanChanged OutboxEventType = "subscription_plan_changed"
	EventSubscriptionCancelled   OutboxEventType = "subscription_cancelled"
	EventSubscriptionRenewed     OutboxEventType = "subscription_renewed"
	EventSubscriptionExpired     OutboxEventType = "subscription_expired"
)

var validOutboxEventTypes = []OutboxEventType{
	EventOrderCreated,
	EventOrderStatusChanged,
	EventPaymentCompleted,
	EventPaymentFailed,
	EventSubscriptionCreated,
	EventSubscriptionActivated,
	EventSubscriptionPlanChanged,
	EventSubscriptionCancelled,
	EventSubscriptionRenewed,
	EventSubscriptionExpired,
}

// IsValid reports whether the value is a known event type.
func (e OutboxEventType) IsValid() bool {
	return slices.Contains(validOutboxEventTypes, e)
}
