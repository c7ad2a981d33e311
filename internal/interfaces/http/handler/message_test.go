package handler

import (
	"context"
	"errors"
	"net/http"
	"testing"
	"time"

	appdelivery "github.com/itechsmart/sentinel/internal/application/delivery"
	"github.com/itechsmart/sentinel/internal/domain/delivery"
	"github.com/itechsmart/sentinel/internal/infrastructure/storage"
	"github.com/itechsmart/sentinel/internal/interfaces/http/dto"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeArchive struct {
	ts  time.Time
	err error
}

func (f *fakeArchive) DownloadURL(_ context.Context, id string, ts time.Time, expiresIn time.Duration) (string, time.Time, error) {
	f.ts = ts
	if f.err != nil {
		return "", time.Time{}, f.err
	}
	return "https://s3.example.org/" + id + "?sig", ts.Add(expiresIn), nil
}

func messageRouter(h *MessageHandler) http.Handler {
	r := newEngine()
	r.POST("/messages", h.Submit)
	r.GET("/messages/:id", h.Get)
	r.GET("/messages/:id/attempts", h.Attempts)
	r.POST("/messages/:id/quarantine", h.Quarantine)
	r.GET("/queues/retry", h.RetryQueue)
	r.GET("/queues/dead-letter", h.DeadLetterQueue)
	r.GET("/queues/quarantine", h.QuarantineQueue)
	r.POST("/queues/dead-letter/retry-all", h.RetryAllDeadLetters)
	r.POST("/queues/dead-letter/:id/retry", h.RetryDeadLetter)
	r.GET("/queues/dead-letter/:id/archive-url", h.ArchiveURL)
	r.GET("/statistics", h.Statistics)
	return r
}

func TestMessageHandler_Submit(t *testing.T) {
	svc := newFakeDelivery()
	r := messageRouter(NewMessageHandler(svc))

	t.Run("created", func(t *testing.T) {
		w := doJSON(t, r, "POST", "/messages", map[string]any{
			"content":            "MSH|^~\\&|EPIC|H|LAB|L|20260101||ADT^A01|C1|P|2.5\r",
			"destination_system": "lab",
			"priority":           8,
		})
		require.Equal(t, http.StatusCreated, w.Code, w.Body.String())

		var result appdelivery.SubmitResult
		resp := decode(t, w, &result)
		assert.True(t, resp.Success)
		assert.Equal(t, "HL7-new", result.MessageID)
		require.Len(t, svc.submitted, 1)
		assert.Equal(t, 8, svc.submitted[0].Priority)
	})

	t.Run("duplicate answers 200", func(t *testing.T) {
		svc.duplicate = true
		defer func() { svc.duplicate = false }()

		w := doJSON(t, r, "POST", "/messages", map[string]any{"content": "MSH|x", "destination_system": "lab"})
		require.Equal(t, http.StatusOK, w.Code)
		var result appdelivery.SubmitResult
		decode(t, w, &result)
		assert.True(t, result.Duplicate)
		assert.Equal(t, "duplicate", result.Status)
	})

	t.Run("validation", func(t *testing.T) {
		w := doJSON(t, r, "POST", "/messages", map[string]any{"content": "MSH|x", "priority": 42})
		require.Equal(t, http.StatusBadRequest, w.Code)

		resp := decode(t, w, nil)
		assert.Equal(t, dto.ErrCodeValidation, resp.Error.Code)
		assert.NotEmpty(t, resp.Error.RequestID)
		assert.Contains(t, w.Body.String(), "destination_system")
		assert.Contains(t, w.Body.String(), "priority")
	})

	t.Run("service failure hides the cause", func(t *testing.T) {
		svc.err = errors.New("pq: connection reset")
		defer func() { svc.err = nil }()

		w := doJSON(t, r, "POST", "/messages", map[string]any{"content": "MSH|x", "destination_system": "lab"})
		require.Equal(t, http.StatusInternalServerError, w.Code)
		assert.NotContains(t, w.Body.String(), "pq:")
	})
}

func TestMessageHandler_GetAndAttempts(t *testing.T) {
	msg := newTestMessage(t, delivery.StatusRetrying)
	r := messageRouter(NewMessageHandler(newFakeDelivery(msg)))

	w := doJSON(t, r, "GET", "/messages/"+msg.ID, nil)
	require.Equal(t, http.StatusOK, w.Code)
	var detail appdelivery.MessageDetailResponse
	decode(t, w, &detail)
	assert.Equal(t, msg.ID, detail.ID)
	assert.Equal(t, "CTRL1", detail.ControlID)
	assert.Equal(t, msg.Content, detail.Content)

	w = doJSON(t, r, "GET", "/messages/"+msg.ID+"/attempts", nil)
	require.Equal(t, http.StatusOK, w.Code)
	var attempts []appdelivery.AttemptResponse
	resp := decode(t, w, &attempts)
	assert.Len(t, attempts, 2)
	assert.Equal(t, int64(2), resp.Meta.Total)

	w = doJSON(t, r, "GET", "/messages/missing", nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
	assert.Equal(t, dto.ErrCodeNotFound, decode(t, w, nil).Error.Code)
}

func TestMessageHandler_Quarantine(t *testing.T) {
	retrying := newTestMessage(t, delivery.StatusRetrying)
	r := messageRouter(NewMessageHandler(newFakeDelivery(retrying)))

	w := doJSON(t, r, "POST", "/messages/"+retrying.ID+"/quarantine", map[string]string{})
	assert.Equal(t, http.StatusBadRequest, w.Code, "reason is required")

	w = doJSON(t, r, "POST", "/messages/"+retrying.ID+"/quarantine", map[string]string{"reason": "bad PID"})
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, delivery.StatusQuarantined, retrying.Status)

	// already quarantined is no longer in the retry queue
	w = doJSON(t, r, "POST", "/messages/"+retrying.ID+"/quarantine", map[string]string{"reason": "again"})
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestMessageHandler_Queues(t *testing.T) {
	pending := newTestMessage(t, delivery.StatusPending)
	dead := newTestMessage(t, delivery.StatusDeadLetter)
	dead.ID = "HL7-dead"
	svc := newFakeDelivery(pending, dead)
	svc.stats = delivery.Statistics{RetryQueueSize: 12, DeadLetterQueueSize: 1}
	r := messageRouter(NewMessageHandler(svc))

	t.Run("default limit", func(t *testing.T) {
		w := doJSON(t, r, "GET", "/queues/retry", nil)
		require.Equal(t, http.StatusOK, w.Code)
		var msgs []appdelivery.MessageResponse
		resp := decode(t, w, &msgs)
		assert.Len(t, msgs, 1)
		assert.Equal(t, appdelivery.DefaultQueueLimit, svc.lastLimit)
		assert.Equal(t, &dto.Meta{Total: 12, Count: 1, Limit: appdelivery.DefaultQueueLimit}, resp.Meta)
	})

	t.Run("explicit limit", func(t *testing.T) {
		w := doJSON(t, r, "GET", "/queues/dead-letter?limit=5", nil)
		require.Equal(t, http.StatusOK, w.Code)
		assert.Equal(t, 5, svc.lastLimit)
		assert.Equal(t, int64(1), decode(t, w, nil).Meta.Total)
	})

	t.Run("limit out of range", func(t *testing.T) {
		for _, q := range []string{"0", "1001", "ten"} {
			w := doJSON(t, r, "GET", "/queues/quarantine?limit="+q, nil)
			assert.Equal(t, http.StatusBadRequest, w.Code, q)
			assert.Equal(t, dto.ErrCodeInvalidInput, decode(t, w, nil).Error.Code)
		}
	})
}

func TestMessageHandler_RetryDeadLetters(t *testing.T) {
	dead := newTestMessage(t, delivery.StatusDeadLetter)
	dead.RetryCount = 3
	r := messageRouter(NewMessageHandler(newFakeDelivery(dead)))

	w := doJSON(t, r, "POST", "/queues/dead-letter/"+dead.ID+"/retry", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, delivery.StatusPending, dead.Status)
	assert.Zero(t, dead.RetryCount)

	w = doJSON(t, r, "POST", "/queues/dead-letter/"+dead.ID+"/retry", nil)
	assert.Equal(t, http.StatusUnprocessableEntity, w.Code)
	assert.Equal(t, dto.ErrCodeInvalidState, decode(t, w, nil).Error.Code)

	dead.Status = delivery.StatusDeadLetter
	w = doJSON(t, r, "POST", "/queues/dead-letter/retry-all", nil)
	require.Equal(t, http.StatusOK, w.Code)
	var body map[string]int
	decode(t, w, &body)
	assert.Equal(t, 1, body["requeued"])
}

func TestMessageHandler_ArchiveURL(t *testing.T) {
	dead := newTestMessage(t, delivery.StatusDeadLetter)
	pending := newTestMessage(t, delivery.StatusPending)
	pending.ID = "HL7-pending"
	svc := newFakeDelivery(dead, pending)

	t.Run("archive disabled", func(t *testing.T) {
		r := messageRouter(NewMessageHandler(svc))
		w := doJSON(t, r, "GET", "/queues/dead-letter/"+dead.ID+"/archive-url", nil)
		assert.Equal(t, http.StatusServiceUnavailable, w.Code)
	})

	archive := &fakeArchive{}
	r := messageRouter(NewMessageHandler(svc, WithArchive(archive, 10*time.Minute)))

	t.Run("presigned", func(t *testing.T) {
		w := doJSON(t, r, "GET", "/queues/dead-letter/"+dead.ID+"/archive-url", nil)
		require.Equal(t, http.StatusOK, w.Code)
		var body ArchiveURLResponse
		decode(t, w, &body)
		assert.Contains(t, body.URL, dead.ID)
		assert.True(t, archive.ts.Equal(dead.UpdatedAt))
		assert.WithinDuration(t, dead.UpdatedAt.Add(10*time.Minute), body.ExpiresAt, time.Second)
	})

	t.Run("not dead-lettered", func(t *testing.T) {
		w := doJSON(t, r, "GET", "/queues/dead-letter/"+pending.ID+"/archive-url", nil)
		assert.Equal(t, http.StatusUnprocessableEntity, w.Code)
	})

	t.Run("not archived", func(t *testing.T) {
		archive.err = storage.ErrNotArchived
		defer func() { archive.err = nil }()
		w := doJSON(t, r, "GET", "/queues/dead-letter/"+dead.ID+"/archive-url", nil)
		assert.Equal(t, http.StatusNotFound, w.Code)
	})
}

func TestMessageHandler_Statistics(t *testing.T) {
	svc := newFakeDelivery()
	svc.stats = delivery.Statistics{TotalMessages: 10, Delivered: 8, AverageRetryCount: 0.5}
	r := messageRouter(NewMessageHandler(svc))

	w := doJSON(t, r, "GET", "/statistics", nil)
	require.Equal(t, http.StatusOK, w.Code)
	var stats delivery.Statistics
	decode(t, w, &stats)
	assert.Equal(t, svc.stats, stats)
}
