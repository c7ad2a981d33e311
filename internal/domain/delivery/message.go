package delivery

import (
	"crypto/md5"
	"encoding/hex"
	"fmt"
	"strings"
	"time"

	"github.com/itechsmart/sentinel/internal/domain/shared"
)

const (
	// AggregateTypeMessage is the aggregate type used in delivery events
	AggregateTypeMessage = "HL7Message"

	MinPriority     = 1
	MaxPriority     = 10
	DefaultPriority = 5
)

// Message is an HL7 v2 message travelling from a source system to a destination system
type Message struct {
	ID                string
	MessageType       string
	ControlID         string
	Content           string
	SourceSystem      string
	DestinationSystem string
	Priority          int
	Status            Status
	RetryCount        int
	MaxRetries        int
	LastError         string
	NextRetryAt       *time.Time
	DeliveredAt       *time.Time
	CreatedAt         time.Time
	UpdatedAt         time.Time
}

// NewMessage creates a pending message. Type and control ID are taken from
// the MSH segment when the caller leaves them empty; a message whose header
// cannot be parsed is still created and reported through headerErr so the
// caller can quarantine it.
func NewMessage(id, content, source, destination string, priority, maxRetries int) (msg *Message, headerErr error) {
	now := time.Now()
	msg = &Message{
		ID:                strings.TrimSpace(id),
		Content:           content,
		SourceSystem:      source,
		DestinationSystem: destination,
		Priority:          ClampPriority(priority),
		Status:            StatusPending,
		MaxRetries:        maxRetries,
		CreatedAt:         now,
		UpdatedAt:         now,
	}

	header, err := ParseHeader(content)
	if err == nil {
		msg.MessageType = header.MessageType
		msg.ControlID = header.ControlID
		if msg.SourceSystem == "" {
			msg.SourceSystem = header.SendingApplication
		}
	}

	if msg.ID == "" {
		msg.ID = GenerateMessageID(content, now)
	}

	return msg, err
}

// GenerateMessageID builds an ID of the form HL7-{YYYYmmddHHMMSS}-{md5(content)[:8]}
func GenerateMessageID(content string, at time.Time) string {
	sum := md5.Sum([]byte(content))
	return fmt.Sprintf("HL7-%s-%s", at.Format("20060102150405"), hex.EncodeToString(sum[:])[:8])
}

// ClampPriority keeps priority inside 1..10, mapping zero to the default
func ClampPriority(priority int) int {
	switch {
	case priority == 0:
		return DefaultPriority
	case priority < MinPriority:
		return MinPriority
	case priority > MaxPriority:
		return MaxPriority
	}
	return priority
}

// IsReady reports whether the processor may attempt the message at now
func (m *Message) IsReady(now time.Time) bool {
	if !m.Status.InRetryQueue() {
		return false
	}
	return m.NextRetryAt == nil || !m.NextRetryAt.After(now)
}

// MarkProcessing claims the message for a delivery attempt
func (m *Message) MarkProcessing() error {
	if !m.Status.InRetryQueue() {
		return shared.NewDomainError("INVALID_STATE", fmt.Sprintf("cannot process message in %s status", m.Status))
	}
	m.Status = StatusProcessing
	m.UpdatedAt = time.Now()
	return nil
}

// MarkDelivered records a successful delivery
func (m *Message) MarkDelivered() {
	now := time.Now()
	m.Status = StatusDelivered
	m.DeliveredAt = &now
	m.NextRetryAt = nil
	m.LastError = ""
	m.UpdatedAt = now
}

// MarkFailed records a failed attempt and either schedules a retry or moves
// the message to the dead letter queue. Returns true when dead-lettered.
func (m *Message) MarkFailed(errText string, policy RetryPolicy) (deadLettered bool) {
	now := time.Now()
	m.RetryCount++
	m.LastError = errText
	m.UpdatedAt = now

	if !policy.ShouldRetry(m.RetryCount, m.MaxRetries, errText) {
		m.Status = StatusDeadLetter
		m.NextRetryAt = nil
		return true
	}

	next := now.Add(policy.Delay(m.RetryCount))
	m.Status = StatusRetrying
	m.NextRetryAt = &next
	return false
}

// Quarantine parks a message that is waiting in the retry queue
func (m *Message) Quarantine(reason string) error {
	if !m.Status.InRetryQueue() {
		return shared.NewDomainError("INVALID_STATE", fmt.Sprintf("cannot quarantine message in %s status", m.Status))
	}
	m.forceQuarantine(reason)
	return nil
}

// QuarantineMalformed parks a freshly submitted message whose content is not valid HL7
func (m *Message) QuarantineMalformed(cause error) {
	m.forceQuarantine(fmt.Sprintf("%s: %v", ErrorInvalidMessage, cause))
}

func (m *Message) forceQuarantine(reason string) {
	m.Status = StatusQuarantined
	m.LastError = reason
	m.NextRetryAt = nil
	m.UpdatedAt = time.Now()
}

// ResetFromDeadLetter puts a dead-lettered message back into the retry queue
func (m *Message) ResetFromDeadLetter() error {
	if m.Status != StatusDeadLetter {
		return shared.NewDomainError("INVALID_STATE", fmt.Sprintf("message is not in dead letter queue (status %s)", m.Status))
	}
	m.RetryCount = 0
	m.Status = StatusPending
	m.NextRetryAt = nil
	m.UpdatedAt = time.Now()
	return nil
}

// ReleaseStale returns a message abandoned in processing (for example after a
// crash) to the retry queue so it is attempted again.
func (m *Message) ReleaseStale() {
	now := time.Now()
	m.Status = StatusRetrying
	m.NextRetryAt = &now
	m.UpdatedAt = now
}

// DeliveryDuration is the time from creation to delivery
func (m *Message) DeliveryDuration() time.Duration {
	if m.DeliveredAt == nil {
		return 0
	}
	return m.DeliveredAt.Sub(m.CreatedAt)
}
