package models

import (
	"time"

	"github.com/google/uuid"
	"github.com/itechsmart/sentinel/internal/domain/delivery"
)

// MessageModel is the persistence model for an HL7 message in the retry queue
type MessageModel struct {
	ID                string          `gorm:"type:varchar(64);primaryKey"`
	MessageType       string          `gorm:"type:varchar(32)"`
	ControlID         string          `gorm:"type:varchar(64);index:idx_hl7_messages_source_control"`
	Content           string          `gorm:"type:text;not null"`
	SourceSystem      string          `gorm:"type:varchar(100);index:idx_hl7_messages_source_control"`
	DestinationSystem string          `gorm:"type:varchar(100);not null"`
	Priority          int             `gorm:"not null;default:5"`
	Status            delivery.Status `gorm:"type:varchar(20);not null;index:idx_hl7_messages_ready"`
	RetryCount        int             `gorm:"not null;default:0"`
	MaxRetries        int             `gorm:"not null;default:3"`
	LastError         string          `gorm:"type:text"`
	NextRetryAt       *time.Time      `gorm:"index:idx_hl7_messages_ready"`
	DeliveredAt       *time.Time
	CreatedAt         time.Time `gorm:"not null"`
	UpdatedAt         time.Time `gorm:"not null"`
}

// TableName returns the table name for GORM
func (MessageModel) TableName() string {
	return "hl7_messages"
}

// ToDomain converts the model to a domain message
func (m *MessageModel) ToDomain() *delivery.Message {
	return &delivery.Message{
		ID:                m.ID,
		MessageType:       m.MessageType,
		ControlID:         m.ControlID,
		Content:           m.Content,
		SourceSystem:      m.SourceSystem,
		DestinationSystem: m.DestinationSystem,
		Priority:          m.Priority,
		Status:            m.Status,
		RetryCount:        m.RetryCount,
		MaxRetries:        m.MaxRetries,
		LastError:         m.LastError,
		NextRetryAt:       m.NextRetryAt,
		DeliveredAt:       m.DeliveredAt,
		CreatedAt:         m.CreatedAt,
		UpdatedAt:         m.UpdatedAt,
	}
}

// MessageModelFromDomain converts a domain message to its model
func MessageModelFromDomain(msg *delivery.Message) *MessageModel {
	return &MessageModel{
		ID:                msg.ID,
		MessageType:       msg.MessageType,
		ControlID:         msg.ControlID,
		Content:           msg.Content,
		SourceSystem:      msg.SourceSystem,
		DestinationSystem: msg.DestinationSystem,
		Priority:          msg.Priority,
		Status:            msg.Status,
		RetryCount:        msg.RetryCount,
		MaxRetries:        msg.MaxRetries,
		LastError:         msg.LastError,
		NextRetryAt:       msg.NextRetryAt,
		DeliveredAt:       msg.DeliveredAt,
		CreatedAt:         msg.CreatedAt,
		UpdatedAt:         msg.UpdatedAt,
	}
}

// AttemptModel is one row of a message's delivery history
type AttemptModel struct {
	ID           uuid.UUID `gorm:"type:uuid;primaryKey"`
	MessageID    string    `gorm:"type:varchar(64);not null;index"`
	Number       int       `gorm:"not null"`
	Destination  string    `gorm:"type:varchar(100);not null"`
	Success      bool      `gorm:"not null"`
	DeadLettered bool      `gorm:"not null;default:false"`
	AckCode      string    `gorm:"type:varchar(4)"`
	Error        string    `gorm:"type:text"`
	DurationMs   int64     `gorm:"not null;default:0"`
	AttemptedAt  time.Time `gorm:"not null"`
}

// TableName returns the table name for GORM
func (AttemptModel) TableName() string {
	return "hl7_delivery_attempts"
}

// ToDomain converts the model to a domain attempt
func (m *AttemptModel) ToDomain() *delivery.Attempt {
	return &delivery.Attempt{
		ID:           m.ID,
		MessageID:    m.MessageID,
		Number:       m.Number,
		Destination:  m.Destination,
		Success:      m.Success,
		DeadLettered: m.DeadLettered,
		AckCode:      m.AckCode,
		Error:        m.Error,
		Duration:     time.Duration(m.DurationMs) * time.Millisecond,
		AttemptedAt:  m.AttemptedAt,
	}
}

// AttemptModelFromDomain converts a domain attempt to its model
func AttemptModelFromDomain(a *delivery.Attempt) *AttemptModel {
	return &AttemptModel{
		ID:           a.ID,
		MessageID:    a.MessageID,
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
