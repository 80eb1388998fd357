// Package registry maps outbox event types to the topic they are published on
// and the payload type consumers decode.
package registry

import (
	"bytes"
	"encoding/json"
	"fmt"
	"slices"
	"strings"

	"github.com/google/uuid"

	"github.com/angelmondragon/tradehub-backend/pkg/config"
	"github.com/angelmondragon/tradehub-backend/pkg/db/models"
	"github.com/angelmondragon/tradehub-backend/pkg/enums"
	"github.com/angelmondragon/tradehub-backend/pkg/outbox"
	"github.com/angelmondragon/tradehub-backend/pkg/outbox/payloads"
)

// EventDescriptor links an event type to its aggregate, topic and payload.
type EventDescriptor struct {
	EventType     enums.OutboxEventType
	AggregateType enums.OutboxAggregateType
	Topic         string
	newPayload    func() any
}

// ResolvedEvent is a decoded outbox row ready to publish.
type ResolvedEvent struct {
	Descriptor EventDescriptor
	Envelope   outbox.PayloadEnvelope
	Payload    any
}

// UnroutableError means the row can never be published as stored. Retrying
// will not help.
type UnroutableError struct {
	EventType enums.OutboxEventType
	Reason    string
	Err       error
}

func (e *UnroutableError) Error() string {
	msg := fmt.Sprintf("unroutable %s event: %s", e.EventType, e.Reason)
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *UnroutableError) Unwrap() error { return e.Err }

func unroutable(eventType enums.OutboxEventType, reason string, err error) error {
	return &UnroutableError{EventType: eventType, Reason: reason, Err: err}
}

type payloadKind struct {
	aggregate  enums.OutboxAggregateType
	newPayload func() any
	events     []enums.OutboxEventType
}

var catalog = []payloadKind{
	{
		aggregate:  enums.AggregateOrder,
		newPayload: func() any { return &payloads.OrderCreatedEvent{} },
		events:     []enums.OutboxEventType{enums.EventOrderCreated},
	},
	{
		aggregate:  enums.AggregateOrder,
		newPayload: func() any { return &payloads.OrderStatusChangedEvent{} },
		events:     []enums.OutboxEventType{enums.EventOrderStatusChanged},
	},
	{
		aggregate:  enums.AggregatePayment,
		newPayload: func() any { return &payloads.PaymentStatusEvent{} },
		events:     []enums.OutboxEventType{enums.EventPaymentCompleted, enums.EventPaymentFailed},
	},
	{
		aggregate:  enums.AggregateSubscription,
		newPayload: func() any { return &payloads.SubscriptionEvent{} },
		events: []enums.OutboxEventType{
			enums.EventSubscriptionCreated,
			enums.EventSubscriptionActivated,
			enums.EventSubscriptionPlanChanged,
			enums.EventSubscriptionCancelled,
			enums.EventSubscriptionRenewed,
			enums.EventSubscriptionExpired,
		},
	},
}

// EventRegistry resolves outbox rows against the catalog of known events.
type EventRegistry struct {
	entries map[enums.OutboxEventType]EventDescriptor
}

// NewEventRegistry routes each aggregate to its configured topic, or to the
// notification topic when none is set.
func NewEventRegistry(cfg config.PubSubConfig) (*EventRegistry, error) {
	fallback := strings.TrimSpace(cfg.NotificationTopic)
	if fallback == "" {
		return nil, fmt.Errorf("notification topic is required")
	}
	topics := map[enums.OutboxAggregateType]string{
		enums.AggregateOrder:        cfg.OrderTopic,
		enums.AggregatePayment:      cfg.PaymentTopic,
		enums.AggregateSubscription: cfg.SubscriptionTopic,
	}

	reg := &EventRegistry{entries: map[enums.OutboxEventType]EventDescriptor{}}
	for _, kind := range catalog {
		topic := strings.TrimSpace(topics[kind.aggregate])
		if topic == "" {
			topic = fallback
		}
		for _, eventType := range kind.events {
			reg.entries[eventType] = EventDescriptor{
				EventType:     eventType,
				AggregateType: kind.aggregate,
				Topic:         topic,
				newPayload:    kind.newPayload,
			}
		}
	}
	return reg, nil
}

// Topics lists the distinct topics in sorted order.
func (r *EventRegistry) Topics() []string {
	var topics []string
	for _, desc := range r.entries {
		if !slices.Contains(topics, desc.Topic) {
			topics = append(topics, desc.Topic)
		}
	}
	slices.Sort(topics)
	return topics
}

// Describe returns the descriptor for an event type.
func (r *EventRegistry) Describe(eventType enums.OutboxEventType) (EventDescriptor, bool) {
	desc, ok := r.entries[eventType]
	return desc, ok
}

// Resolve checks the row against its descriptor and decodes the payload.
// Every failure is an *UnroutableError.
func (r *EventRegistry) Resolve(event models.OutboxEvent) (*ResolvedEvent, error) {
	desc, ok := r.entries[event.EventType]
	switch {
	case !ok:
		return nil, unroutable(event.EventType, "event type not registered", nil)
	case desc.AggregateType != event.AggregateType:
		return nil, unroutable(event.EventType, fmt.Sprintf("aggregate %s, expected %s", event.AggregateType, desc.AggregateType), nil)
	case event.AggregateID == uuid.Nil:
		return nil, unroutable(event.EventType, "aggregate id missing", nil)
	}

	var envelope outbox.PayloadEnvelope
	if err := json.Unmarshal(event.Payload, &envelope); err != nil {
		return nil, unroutable(event.EventType, "envelope is not valid json", err)
	}
	if envelope.Version < 1 || envelope.Version > outbox.EnvelopeVersion {
		return nil, unroutable(event.EventType, fmt.Sprintf("envelope version %d not supported", envelope.Version), nil)
	}
	data := bytes.TrimSpace(envelope.Data)
	if len(data) == 0 || bytes.Equal(data, []byte("null")) {
		return nil, unroutable(event.EventType, "payload missing", nil)
	}

	payload := desc.newPayload()
	if err := json.Unmarshal(data, payload); err != nil {
		return nil, unroutable(event.EventType, "payload does not match schema", err)
	}
	return &ResolvedEvent{Descriptor: desc, Envelope: envelope, Payload: payload}, nil
}
