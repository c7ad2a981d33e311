package delivery

import (
	"errors"
	"regexp"
	"testing"
	"time"

	"github.com/itechsmart/sentinel/internal/domain/shared"
	"github.com/itechsmart/sentinel/internal/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewMessage(t *testing.T) {
	fixture := testutil.NewHL7Fixture(42)

	t.Run("fills type and control ID from MSH", func(t *testing.T) {
		content := fixture.ADT(testutil.ADTOptions{ControlID: "CTRL-1", TriggerEvent: "A04"})
		msg, err := NewMessage("", content, "", "LAB", 0, 3)
		require.NoError(t, err)

		assert.Equal(t, "ADT^A04", msg.MessageType)
		assert.Equal(t, "CTRL-1", msg.ControlID)
		assert.Equal(t, "EPIC", msg.SourceSystem)
		assert.Equal(t, DefaultPriority, msg.Priority)
		assert.Equal(t, StatusPending, msg.Status)
		assert.Regexp(t, regexp.MustCompile(`^HL7-\d{14}-[0-9a-f]{8}$`), msg.ID)
	})

	t.Run("keeps caller supplied ID and source", func(t *testing.T) {
		content := fixture.ADT(testutil.ADTOptions{})
		msg, err := NewMessage("custom-1", content, "ADT_FEED", "LAB", 9, 3)
		require.NoError(t, err)
		assert.Equal(t, "custom-1", msg.ID)
		assert.Equal(t, "ADT_FEED", msg.SourceSystem)
		assert.Equal(t, 9, msg.Priority)
	})

	t.Run("reports malformed content", func(t *testing.T) {
		msg, err := NewMessage("", "not an hl7 message", "SRC", "LAB", 5, 3)
		require.Error(t, err)
		assert.True(t, errors.Is(err, ErrMalformedMessage))
		require.NotNil(t, msg)
		assert.NotEmpty(t, msg.ID)
	})
}

func TestGenerateMessageID(t *testing.T) {
	at := time.Date(2024, 3, 5, 14, 7, 9, 0, time.UTC)
	// md5("hello") = 5d41402abc4b2a76b9719d911017c592
	assert.Equal(t, "HL7-20240305140709-5d41402a", GenerateMessageID("hello", at))
}

func TestClampPriority(t *testing.T) {
	assert.Equal(t, 5, ClampPriority(0))
	assert.Equal(t, 1, ClampPriority(-3))
	assert.Equal(t, 10, ClampPriority(42))
	assert.Equal(t, 7, ClampPriority(7))
}

func newTestMessage() *Message {
	now := time.Now()
	return &Message{
		ID:                "HL7-TEST",
		Content:           "MSH|^~\\&|A|B|C|D|20240101||ADT^A01|1|P|2.5",
		DestinationSystem: "LAB",
		Priority:          5,
		Status:            StatusPending,
		MaxRetries:        3,
		CreatedAt:         now.Add(-time.Minute),
		UpdatedAt:         now.Add(-time.Minute),
	}
}

func TestMessage_MarkFailed(t *testing.T) {
	policy := DefaultRetryPolicy()

	t.Run("schedules retry with backoff", func(t *testing.T) {
		msg := newTestMessage()
		require.NoError(t, msg.MarkProcessing())

		dead := msg.MarkFailed("connection_timeout: i/o timeout", policy)

		assert.False(t, dead)
		assert.Equal(t, StatusRetrying, msg.Status)
		assert.Equal(t, 1, msg.RetryCount)
		require.NotNil(t, msg.NextRetryAt)
		assert.WithinDuration(t, time.Now().Add(60*time.Second), *msg.NextRetryAt, 2*time.Second)
	})

	t.Run("moves to dead letter after max retries", func(t *testing.T) {
		msg := newTestMessage()
		for i := 0; i < 2; i++ {
			msg.Status = StatusRetrying
			require.NoError(t, msg.MarkProcessing())
			assert.False(t, msg.MarkFailed("network_error", policy))
		}
		msg.Status = StatusRetrying
		require.NoError(t, msg.MarkProcessing())
		assert.True(t, msg.MarkFailed("network_error", policy))
		assert.Equal(t, StatusDeadLetter, msg.Status)
		assert.Equal(t, 3, msg.RetryCount)
		assert.Nil(t, msg.NextRetryAt)
	})

	t.Run("dead-letters immediately on permanent error", func(t *testing.T) {
		msg := newTestMessage()
		require.NoError(t, msg.MarkProcessing())
		assert.True(t, msg.MarkFailed("invalid_message: receiver rejected message (AR)", policy))
		assert.Equal(t, StatusDeadLetter, msg.Status)
		assert.Equal(t, 1, msg.RetryCount)
	})
}

func TestMessage_MarkDelivered(t *testing.T) {
	msg := newTestMessage()
	msg.LastError = "previous failure"
	require.NoError(t, msg.MarkProcessing())

	msg.MarkDelivered()

	assert.Equal(t, StatusDelivered, msg.Status)
	require.NotNil(t, msg.DeliveredAt)
	assert.Empty(t, msg.LastError)
	assert.True(t, msg.DeliveryDuration() >= time.Minute)
}

func TestMessage_MarkProcessing(t *testing.T) {
	for _, status := range []Status{StatusDelivered, StatusDeadLetter, StatusQuarantined, StatusProcessing} {
		t.Run(string(status), func(t *testing.T) {
			msg := newTestMessage()
			msg.Status = status
			err := msg.MarkProcessing()
			assert.True(t, errors.Is(err, shared.ErrInvalidState))
		})
	}
}

func TestMessage_Quarantine(t *testing.T) {
	t.Run("quarantines messages in the retry queue", func(t *testing.T) {
		for _, status := range []Status{StatusPending, StatusRetrying} {
			msg := newTestMessage()
			msg.Status = status
			require.NoError(t, msg.Quarantine("suspicious PID segment"))
			assert.Equal(t, StatusQuarantined, msg.Status)
			assert.Equal(t, "suspicious PID segment", msg.LastError)
		}
	})

	t.Run("refuses messages outside the retry queue", func(t *testing.T) {
		msg := newTestMessage()
		msg.Status = StatusDeadLetter
		assert.Error(t, msg.Quarantine("x"))
		assert.Equal(t, StatusDeadLetter, msg.Status)
	})

	t.Run("malformed quarantine reason is classified", func(t *testing.T) {
		msg := newTestMessage()
		msg.QuarantineMalformed(errors.New("first segment is not MSH"))
		assert.Equal(t, StatusQuarantined, msg.Status)
		assert.Contains(t, msg.LastError, ErrorInvalidMessage)
	})
}

func TestMessage_ResetFromDeadLetter(t *testing.T) {
	msg := newTestMessage()
	msg.Status = StatusDeadLetter
	msg.RetryCount = 3
	next := time.Now()
	msg.NextRetryAt = &next

	require.NoError(t, msg.ResetFromDeadLetter())
	assert.Equal(t, StatusPending, msg.Status)
	assert.Equal(t, 0, msg.RetryCount)
	assert.Nil(t, msg.NextRetryAt)

	assert.Error(t, msg.ResetFromDeadLetter())
}

func TestMessage_IsReady(t *testing.T) {
	now := time.Now()
	msg := newTestMessage()
	assert.True(t, msg.IsReady(now))

	later := now.Add(time.Minute)
	msg.Status = StatusRetrying
	msg.NextRetryAt = &later
	assert.False(t, msg.IsReady(now))
	assert.True(t, msg.IsReady(later))

	msg.Status = StatusDelivered
	assert.False(t, msg.IsReady(later))
}
