package delivery

import (
	"time"

	"github.com/google/uuid"
)

// Attempt is one delivery try of a message, kept as retry history
type Attempt struct {
	ID          uuid.UUID
	MessageID   string
	Number      int
	Destination string
	Success     bool
	AckCode     string
	Error       string
	Duration    time.Duration
	AttemptedAt time.Time

	// DeadLettered marks the attempt that moved the message to the dead letter queue
	DeadLettered bool
}

// NewAttempt records the outcome of delivering msg; number is 1-based.
// It must be called after the message has been marked with the outcome.
func NewAttempt(msg *Message, number int, ack *Ack, errText string, duration time.Duration) *Attempt {
	a := &Attempt{
		ID:           uuid.New(),
		MessageID:    msg.ID,
		Number:       number,
		Destination:  msg.DestinationSystem,
		Success:      errText == "",
		Error:        errText,
		Duration:     duration,
		AttemptedAt:  time.Now(),
		DeadLettered: errText != "" && msg.Status == StatusDeadLetter,
	}
	if ack != nil {
		a.AckCode = string(ack.Code)
	}
	return a
}
