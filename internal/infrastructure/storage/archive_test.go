package storage

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/itechsmart/sentinel/internal/domain/delivery"
	"github.com/itechsmart/sentinel/internal/domain/shared"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

type storedObject struct {
	body        []byte
	contentType string
	metadata    map[string]string
}

type memoryStore struct {
	mu      sync.Mutex
	objects map[string]storedObject
	putErr  error
}

func newMemoryStore() *memoryStore {
	return &memoryStore{objects: make(map[string]storedObject)}
}

func (m *memoryStore) Put(_ context.Context, key string, body []byte, contentType string, metadata map[string]string) error {
	if m.putErr != nil {
		return m.putErr
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.objects[key] = storedObject{body: body, contentType: contentType, metadata: metadata}
	return nil
}

func (m *memoryStore) Exists(_ context.Context, key string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.objects[key]
	return ok, nil
}

func (m *memoryStore) PresignGet(_ context.Context, key string, expiresIn time.Duration) (string, time.Time, error) {
	return "https://archive.test/" + key, time.Now().Add(expiresIn), nil
}

func deadLetteredEvent(t *testing.T) *delivery.MessageDeadLetteredEvent {
	t.Helper()
	msg, err := delivery.NewMessage("", "MSH|^~\\&|EPIC|HOSP|LAB|LABF|20261017120000||ADT^A01|C1|P|2.5\r", "", "lab", 0, 3)
	require.NoError(t, err)
	msg.LastError = "application_reject: unknown patient"
	msg.RetryCount = 3
	return delivery.NewMessageDeadLetteredEvent(msg)
}

func TestDeadLetterArchive_Key(t *testing.T) {
	a := NewDeadLetterArchive(newMemoryStore(), "", nil)
	ts := time.Date(2026, 3, 7, 23, 30, 0, 0, time.FixedZone("EST", -5*3600))
	assert.Equal(t, "dead-letter/2026/03/08/m1.hl7", a.Key("m1", ts))

	prefixed := NewDeadLetterArchive(newMemoryStore(), "prod", nil)
	assert.Equal(t, "prod/dead-letter/2026/03/08/m1.hl7", prefixed.Key("m1", ts))
}

func TestDeadLetterArchive_Handle(t *testing.T) {
	store := newMemoryStore()
	a := NewDeadLetterArchive(store, "", zaptest.NewLogger(t))
	event := deadLetteredEvent(t)

	require.NoError(t, a.Handle(context.Background(), event))

	obj, ok := store.objects[a.Key(event.AggregateID(), event.OccurredAt())]
	require.True(t, ok)
	assert.Equal(t, event.Content, string(obj.body))
	assert.Equal(t, hl7ContentType, obj.contentType)
	assert.Equal(t, "3", obj.metadata["retry-count"])
	assert.Equal(t, "lab", obj.metadata["destination-system"])
	assert.Equal(t, "application_reject: unknown patient", obj.metadata["last-error"])
	assert.Equal(t, []string{delivery.EventTypeMessageDeadLettered}, a.EventTypes())
}

func TestDeadLetterArchive_HandleIgnoresOtherEvents(t *testing.T) {
	store := newMemoryStore()
	a := NewDeadLetterArchive(store, "", nil)
	other := shared.NewBaseDomainEvent("Other", delivery.AggregateTypeMessage, "x")

	require.NoError(t, a.Handle(context.Background(), &other))
	assert.Empty(t, store.objects)
}

func TestDeadLetterArchive_HandleStoreError(t *testing.T) {
	store := newMemoryStore()
	store.putErr = errors.New("bucket unavailable")
	a := NewDeadLetterArchive(store, "", nil)

	err := a.Handle(context.Background(), deadLetteredEvent(t))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "bucket unavailable")
}

func TestDeadLetterArchive_DownloadURL(t *testing.T) {
	store := newMemoryStore()
	a := NewDeadLetterArchive(store, "", nil)
	archivedAt := time.Date(2026, 10, 16, 23, 59, 0, 0, time.UTC)
	require.NoError(t, store.Put(context.Background(), a.Key("m1", archivedAt), []byte("x"), hl7ContentType, nil))

	t.Run("same day", func(t *testing.T) {
		u, _, err := a.DownloadURL(context.Background(), "m1", archivedAt, time.Minute)
		require.NoError(t, err)
		assert.Equal(t, "https://archive.test/dead-letter/2026/10/16/m1.hl7", u)
	})

	t.Run("next day lookup", func(t *testing.T) {
		u, _, err := a.DownloadURL(context.Background(), "m1", archivedAt.Add(2*time.Minute), time.Minute)
		require.NoError(t, err)
		assert.Contains(t, u, "2026/10/16")
	})

	t.Run("missing", func(t *testing.T) {
		_, _, err := a.DownloadURL(context.Background(), "m2", archivedAt, time.Minute)
		assert.ErrorIs(t, err, ErrNotArchived)
	})
}
