package delivery

import (
	"time"

	"github.com/itechsmart/sentinel/internal/domain/shared"
)

// Event types published by the delivery pipeline
const (
	EventTypeMessageSubmitted    = "MessageSubmitted"
	EventTypeMessageDelivered    = "MessageDelivered"
	EventTypeDeliveryFailed      = "DeliveryAttemptFailed"
	EventTypeMessageDeadLettered = "MessageDeadLettered"
	EventTypeMessageQuarantined  = "MessageQuarantined"
)

// MessageSubmittedEvent is published when a message enters the retry queue
type MessageSubmittedEvent struct {
	shared.BaseDomainEvent
	MessageType       string `json:"message_type"`
	SourceSystem      string `json:"source_system"`
	DestinationSystem string `json:"destination_system"`
	Priority          int    `json:"priority"`
}

// NewMessageSubmittedEvent creates a MessageSubmittedEvent
func NewMessageSubmittedEvent(m *Message) *MessageSubmittedEvent {
	return &MessageSubmittedEvent{
		BaseDomainEvent:   shared.NewBaseDomainEvent(EventTypeMessageSubmitted, AggregateTypeMessage, m.ID),
		MessageType:       m.MessageType,
		SourceSystem:      m.SourceSystem,
		DestinationSystem: m.DestinationSystem,
		Priority:          m.Priority,
	}
}

// MessageDeliveredEvent is published after a positive acknowledgment
type MessageDeliveredEvent struct {
	shared.BaseDomainEvent
	DestinationSystem string        `json:"destination_system"`
	RetryCount        int           `json:"retry_count"`
	DeliveryTime      time.Duration `json:"delivery_time"`
	AttemptDuration   time.Duration `json:"attempt_duration"`
}

// NewMessageDeliveredEvent creates a MessageDeliveredEvent
func NewMessageDeliveredEvent(m *Message, attemptDuration time.Duration) *MessageDeliveredEvent {
	return &MessageDeliveredEvent{
		BaseDomainEvent:   shared.NewBaseDomainEvent(EventTypeMessageDelivered, AggregateTypeMessage, m.ID),
		DestinationSystem: m.DestinationSystem,
		RetryCount:        m.RetryCount,
		DeliveryTime:      m.DeliveryDuration(),
		AttemptDuration:   attemptDuration,
	}
}

// DeliveryFailedEvent is published for every failed attempt that will be retried
type DeliveryFailedEvent struct {
	shared.BaseDomainEvent
	DestinationSystem string     `json:"destination_system"`
	RetryCount        int        `json:"retry_count"`
	Error             string     `json:"error"`
	NextRetryAt       *time.Time `json:"next_retry_at,omitempty"`
}

// NewDeliveryFailedEvent creates a DeliveryFailedEvent
func NewDeliveryFailedEvent(m *Message) *DeliveryFailedEvent {
	return &DeliveryFailedEvent{
		BaseDomainEvent:   shared.NewBaseDomainEvent(EventTypeDeliveryFailed, AggregateTypeMessage, m.ID),
		DestinationSystem: m.DestinationSystem,
		RetryCount:        m.RetryCount,
		Error:             m.LastError,
		NextRetryAt:       m.NextRetryAt,
	}
}

// MessageDeadLetteredEvent is published when a message gives up on delivery.
// It carries the content so handlers can archive it.
type MessageDeadLetteredEvent struct {
	shared.BaseDomainEvent
	MessageType       string `json:"message_type"`
	SourceSystem      string `json:"source_system"`
	DestinationSystem string `json:"destination_system"`
	RetryCount        int    `json:"retry_count"`
	Error             string `json:"error"`
	Content           string `json:"content"`
}

// NewMessageDeadLetteredEvent creates a MessageDeadLetteredEvent
func NewMessageDeadLetteredEvent(m *Message) *MessageDeadLetteredEvent {
	return &MessageDeadLetteredEvent{
		BaseDomainEvent:   shared.NewBaseDomainEvent(EventTypeMessageDeadLettered, AggregateTypeMessage, m.ID),
		MessageType:       m.MessageType,
		SourceSystem:      m.SourceSystem,
		DestinationSystem: m.DestinationSystem,
		RetryCount:        m.RetryCount,
		Error:             m.LastError,
		Content:           m.Content,
	}
}

// MessageQuarantinedEvent is published when a message is parked for manual review
type MessageQuarantinedEvent struct {
	shared.BaseDomainEvent
	DestinationSystem string `json:"destination_system"`
	Reason            string `json:"reason"`
}

// NewMessageQuarantinedEvent creates a MessageQuarantinedEvent
func NewMessageQuarantinedEvent(m *Message) *MessageQuarantinedEvent {
	return &MessageQuarantinedEvent{
		BaseDomainEvent:   shared.NewBaseDomainEvent(EventTypeMessageQuarantined, AggregateTypeMessage, m.ID),
		DestinationSystem: m.DestinationSystem,
		Reason:            m.LastError,
	}
}
