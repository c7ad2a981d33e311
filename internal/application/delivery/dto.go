package delivery

import (
	"time"

	"github.com/google/uuid"
	"github.com/itechsmart/sentinel/internal/domain/delivery"
)

// SubmitMessageRequest represents a request to enqueue an HL7 message
type SubmitMessageRequest struct {
	ID                string `json:"message_id" binding:"omitempty,max=64"`
	Content           string `json:"content" binding:"required"`
	SourceSystem      string `json:"source_system" binding:"max=100"`
	DestinationSystem string `json:"destination_system" binding:"required,max=100"`
	Priority          int    `json:"priority" binding:"omitempty,min=1,max=10"`
	MaxRetries        int    `json:"max_retries" binding:"omitempty,min=0,max=100"`
}

// SubmitResult is the outcome of a submission
type SubmitResult struct {
	MessageID string `json:"message_id"`
	Status    string `json:"status"`
	// Duplicate is set when the source already submitted this control ID
	Duplicate bool `json:"duplicate"`
}

// QuarantineRequest represents a request to park a queued message
type QuarantineRequest struct {
	Reason string `json:"reason" binding:"required,max=500"`
}

// MessageResponse represents a message in queue listings
type MessageResponse struct {
	ID                string     `json:"message_id"`
	MessageType       string     `json:"message_type"`
	ControlID         string     `json:"control_id"`
	SourceSystem      string     `json:"source_system"`
	DestinationSystem string     `json:"destination_system"`
	Priority          int        `json:"priority"`
	Status            string     `json:"status"`
	RetryCount        int        `json:"retry_count"`
	MaxRetries        int        `json:"max_retries"`
	LastError         string     `json:"last_error,omitempty"`
	NextRetryAt       *time.Time `json:"next_retry_at"`
	DeliveredAt       *time.Time `json:"delivered_at"`
	CreatedAt         time.Time  `json:"created_at"`
	UpdatedAt         time.Time  `json:"updated_at"`
}

// MessageDetailResponse is a message with its HL7 content
type MessageDetailResponse struct {
	MessageResponse
	Content string `json:"content"`
}

// MessageStatusResponse is the delivery state of a single message
type MessageStatusResponse struct {
	ID          string     `json:"message_id"`
	Status      string     `json:"status"`
	RetryCount  int        `json:"retry_count"`
	LastError   string     `json:"last_error,omitempty"`
	NextRetryAt *time.Time `json:"next_retry_at"`
	DeliveredAt *time.Time `json:"delivered_at"`
}

// AttemptResponse is one entry of a message's retry history
type AttemptResponse struct {
	ID           uuid.UUID `json:"id"`
	Number       int       `json:"attempt_number"`
	Destination  string    `json:"destination_system"`
	Success      bool      `json:"success"`
	DeadLettered bool      `json:"dead_lettered"`
	AckCode      string    `json:"ack_code,omitempty"`
	Error        string    `json:"error,omitempty"`
	DurationMs   int64     `json:"duration_ms"`
	AttemptedAt  time.Time `json:"attempted_at"`
}

// ToMessageResponse converts a domain message
func ToMessageResponse(m *delivery.Message) MessageResponse {
	return MessageResponse{
		ID:                m.ID,
		MessageType:       m.MessageType,
		ControlID:         m.ControlID,
		SourceSystem:      m.SourceSystem,
		DestinationSystem: m.DestinationSystem,
		Priority:          m.Priority,
		Status:            m.Status.String(),
		RetryCount:        m.RetryCount,
		MaxRetries:        m.MaxRetries,
		LastError:         m.LastError,
		NextRetryAt:       m.NextRetryAt,
		DeliveredAt:       m.DeliveredAt,
		CreatedAt:         m.CreatedAt,
		UpdatedAt:         m.UpdatedAt,
	}
}

// ToMessageDetailResponse converts a domain message including its content
func ToMessageDetailResponse(m *delivery.Message) MessageDetailResponse {
	return MessageDetailResponse{MessageResponse: ToMessageResponse(m), Content: m.Content}
}

// ToMessageResponses converts a slice of domain messages
func ToMessageResponses(msgs []*delivery.Message) []MessageResponse {
	out := make([]MessageResponse, len(msgs))
	for i, m := range msgs {
		out[i] = ToMessageResponse(m)
	}
	return out
}

func toAttemptResponse(a *delivery.Attempt) AttemptResponse {
	return AttemptResponse{
		ID:           a.ID,
		Number:       a.Number,
		Destination:  a.Destination,
		Success:      a.Success,
		DeadLettered: a.DeadLettered,
		AckCode:      a.AckCode,
		Error:        a.Error,
		DurationMs:   a.Duration.Milliseconds(),
		AttemptedAt:  a.AttemptedAt,
	}
}
