package delivery

import (
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/itechsmart/sentinel/internal/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const sampleADT = "MSH|^~\\&|EPIC|MAIN_HOSPITAL|LAB|LAB_FACILITY|20240115083000||ADT^A01^ADT_A01|MSG00001|P|2.5||||||UNICODE UTF-8\r" +
	"EVN|A01|20240115083000\r" +
	"PID|1||12345^^^MAIN_HOSPITAL^MR||DOE^JANE||19800101|F\r"

func TestParseHeader(t *testing.T) {
	h, err := ParseHeader(sampleADT)
	require.NoError(t, err)

	assert.Equal(t, "|", h.FieldSeparator)
	assert.Equal(t, `^~\&`, h.EncodingCharacters)
	assert.Equal(t, "EPIC", h.SendingApplication)
	assert.Equal(t, "MAIN_HOSPITAL", h.SendingFacility)
	assert.Equal(t, "LAB", h.ReceivingApplication)
	assert.Equal(t, "LAB_FACILITY", h.ReceivingFacility)
	assert.Equal(t, time.Date(2024, 1, 15, 8, 30, 0, 0, time.UTC), h.Timestamp)
	assert.Equal(t, "ADT^A01^ADT_A01", h.MessageType)
	assert.Equal(t, "ADT", h.MessageCode)
	assert.Equal(t, "A01", h.TriggerEvent)
	assert.Equal(t, "MSG00001", h.ControlID)
	assert.Equal(t, "P", h.ProcessingID)
	assert.Equal(t, "2.5", h.Version)
	assert.Equal(t, "UNICODE UTF-8", h.CharacterSet)
}

func TestParseHeader_SegmentTerminators(t *testing.T) {
	for name, sep := range map[string]string{"lf": "\n", "crlf": "\r\n"} {
		t.Run(name, func(t *testing.T) {
			content := strings.ReplaceAll(sampleADT, "\r", sep)
			h, err := ParseHeader(content)
			require.NoError(t, err)
			assert.Equal(t, "MSG00001", h.ControlID)
		})
	}
}

func TestParseHeader_Malformed(t *testing.T) {
	tests := map[string]string{
		"empty":             "",
		"no MSH":            "PID|1||12345\r",
		"too few fields":    "MSH|^~\\&|EPIC|HOSP\r",
		"empty type":        "MSH|^~\\&|EPIC|HOSP|LAB|FAC|20240101|||MSG1|P|2.5\r",
		"empty control ID":  "MSH|^~\\&|EPIC|HOSP|LAB|FAC|20240101||ADT^A01||P|2.5\r",
		"whitespace only":   " \r\n ",
		"truncated header":  "MSH|",
	}
	for name, content := range tests {
		t.Run(name, func(t *testing.T) {
			_, err := ParseHeader(content)
			require.Error(t, err)
			assert.True(t, errors.Is(err, ErrMalformedMessage))
		})
	}
}

func TestParseTimestamp(t *testing.T) {
	assert.Equal(t, time.Date(2024, 1, 15, 0, 0, 0, 0, time.UTC), ParseTimestamp("20240115"))
	assert.Equal(t, time.Date(2024, 1, 15, 8, 30, 0, 0, time.UTC), ParseTimestamp("202401150830"))
	withZone := ParseTimestamp("20240115083000-0500")
	assert.Equal(t, time.Date(2024, 1, 15, 13, 30, 0, 0, time.UTC), withZone.UTC())
	assert.True(t, ParseTimestamp("yesterday").IsZero())
}

func TestParseAck(t *testing.T) {
	t.Run("accept", func(t *testing.T) {
		ack, err := ParseAck(testutil.ACK("MSG00001", "AA", "Message accepted"))
		require.NoError(t, err)
		assert.True(t, ack.Accepted())
		assert.Equal(t, "MSG00001", ack.ControlID)
		assert.Equal(t, "Message accepted", ack.Text)
		assert.Empty(t, ack.Err())
	})

	t.Run("application error is retryable", func(t *testing.T) {
		ack, err := ParseAck(testutil.ACK("MSG00001", "AE", "Database busy"))
		require.NoError(t, err)
		assert.False(t, ack.Accepted())
		assert.False(t, ack.Rejected())
		assert.False(t, DefaultRetryPolicy().IsDeadLetterError(ack.Err()))
		assert.Contains(t, ack.Err(), ErrorTemporaryFailure)
	})

	t.Run("reject dead-letters", func(t *testing.T) {
		ack, err := ParseAck(testutil.ACK("MSG00001", "CR", "Unknown patient"))
		require.NoError(t, err)
		assert.True(t, ack.Rejected())
		assert.True(t, DefaultRetryPolicy().IsDeadLetterError(ack.Err()))
	})

	t.Run("missing MSA", func(t *testing.T) {
		_, err := ParseAck(sampleADT)
		assert.True(t, errors.Is(err, ErrMalformedMessage))
	})

	t.Run("unknown code", func(t *testing.T) {
		_, err := ParseAck(testutil.ACK("MSG00001", "ZZ", ""))
		assert.Error(t, err)
	})
}

func TestBuildAck(t *testing.T) {
	h, err := ParseHeader(sampleADT)
	require.NoError(t, err)

	now := time.Date(2024, 1, 15, 8, 31, 0, 0, time.UTC)
	raw := BuildAck(h, AckAccept, "ok|done", now)

	segments := SplitSegments(raw)
	require.Len(t, segments, 2)
	assert.Equal(t, "MSH|^~\\&|LAB|LAB_FACILITY|EPIC|MAIN_HOSPITAL|20240115083100||ACK^A01|ACKMSG00001|P|2.5", segments[0])
	assert.Equal(t, "MSA|AA|MSG00001|ok\\F\\done", segments[1])

	ack, err := ParseAck(raw)
	require.NoError(t, err)
	assert.True(t, ack.Accepted())
	assert.Equal(t, "MSG00001", ack.ControlID)
}
